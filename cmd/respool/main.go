// respool is a resource pool daemon.
//
// It keeps a bounded pool of expensive resources (TCP connections, I2P
// streams or MySQL connections) warm, validated and ready for checkout,
// and serves pool metrics in Prometheus exposition format.
//
// Usage:
//
//	respool [flags]
//	respool check [flags]
//
// Flags:
//
//	-config string
//	    Path to configuration file (default "~/.respool/config.toml")
//	-backend string
//	    Backend kind: tcp, i2p or sql (overrides config)
//	-address string
//	    Backend address or DSN (overrides config)
//	-v
//	    Enable verbose logging
//	-version
//	    Print version and exit
//
// See https://github.com/go-i2p/respool for more information.
package main

import (
	"context"
	"database/sql/driver"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-i2p/respool/lib/config"
	"github.com/go-i2p/respool/lib/factory"
	"github.com/go-i2p/respool/lib/metrics"
	"github.com/go-i2p/respool/lib/pool"
	"github.com/go-i2p/respool/lib/scheduler"
	"github.com/go-i2p/respool/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	defaultConfigPath := filepath.Join(homeDir, ".respool", "config.toml")

	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	backend := flag.String("backend", "", "Backend kind: tcp, i2p or sql (overrides config)")
	address := flag.String("address", "", "Backend address or DSN (overrides config)")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	showVersion := flag.Bool("version", false, "Print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "respool - Resource Pool Daemon\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  respool [flags]          Run the pool daemon\n")
		fmt.Fprintf(os.Stderr, "  respool check [flags]    Check out one resource and exit\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("respool version %s\n", version.Full())
		return 0
	}

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return 1
	}
	applyFlagOverrides(cfg, *backend, *address)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		return 1
	}

	args := flag.Args()
	if len(args) > 0 && args[0] == "check" {
		return handleCheck(cfg, logger)
	}

	return runDaemon(cfg, logger)
}

// applyFlagOverrides applies command-line overrides on top of the loaded
// configuration.
func applyFlagOverrides(cfg *config.Config, backend, address string) {
	if backend != "" {
		cfg.Backend.Kind = backend
	}
	if address == "" {
		return
	}
	switch cfg.Backend.Kind {
	case config.BackendTCP:
		cfg.Backend.TCP.Address = address
	case config.BackendI2P:
		cfg.Backend.I2P.Destination = address
	case config.BackendSQL:
		cfg.Backend.SQL.DSN = address
	}
}

// poolRunner abstracts over the concrete resource type so the daemon
// loop does not care which backend is pooled.
type poolRunner interface {
	Stats() pool.Stats
	Close() error
}

// checker additionally performs one checkout/release round trip.
type checker interface {
	poolRunner
	check(ctx context.Context) error
}

type typedPool[T any] struct {
	p *pool.Pool[T]
}

func (tp typedPool[T]) Stats() pool.Stats { return tp.p.Stats() }
func (tp typedPool[T]) Close() error      { return tp.p.Close() }

func (tp typedPool[T]) check(ctx context.Context) error {
	h, err := tp.p.Checkout(ctx)
	if err != nil {
		return err
	}
	return h.Release()
}

// buildPool constructs the pool for the configured backend.
func buildPool(cfg *config.Config) (checker, func() error, error) {
	poolCfg := cfg.PoolConfig()
	noop := func() error { return nil }

	switch cfg.Backend.Kind {
	case config.BackendTCP:
		f, err := factory.NewTCP(cfg.TCPFactoryConfig())
		if err != nil {
			return nil, nil, err
		}
		p, err := pool.New[net.Conn](f, poolCfg)
		if err != nil {
			return nil, nil, err
		}
		return typedPool[net.Conn]{p: p}, noop, nil

	case config.BackendI2P:
		f, err := factory.NewI2P(cfg.I2PFactoryConfig())
		if err != nil {
			return nil, nil, err
		}
		p, err := pool.New[net.Conn](f, poolCfg)
		if err != nil {
			return nil, nil, err
		}
		return typedPool[net.Conn]{p: p}, f.Close, nil

	case config.BackendSQL:
		f, err := factory.NewSQL(cfg.SQLFactoryConfig())
		if err != nil {
			return nil, nil, err
		}
		p, err := pool.New[driver.Conn](f, poolCfg)
		if err != nil {
			return nil, nil, err
		}
		return typedPool[driver.Conn]{p: p}, noop, nil
	}

	return nil, nil, fmt.Errorf("unknown backend kind %q", cfg.Backend.Kind)
}

// runDaemon keeps the pool warm until SIGINT/SIGTERM and serves metrics.
func runDaemon(cfg *config.Config, logger *slog.Logger) int {
	p, closeFactory, err := buildPool(cfg)
	if err != nil {
		logger.Error("failed to build pool", "error", err)
		return 1
	}
	defer closeFactory()
	defer p.Close()

	metrics.RecordStartTime()

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		logger.Info("metrics available", "addr", fmt.Sprintf("http://%s/metrics", cfg.Metrics.Listen))
	}

	// Publish gauge snapshots alongside the pool's own reaping cadence.
	statsTask := scheduler.Default().Every(10*time.Second, func() {
		pool.UpdateMetrics(p.Stats())
	})
	defer statsTask.Cancel()

	logger.Info("respool started",
		"backend", cfg.Backend.Kind,
		"min_size", cfg.Pool.MinSize,
		"max_size", cfg.Pool.MaxSize,
		"version", version.Full())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received signal, shutting down", "signal", sig)

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics shutdown error", "error", err)
		}
	}

	if err := p.Close(); err != nil {
		logger.Error("pool close error", "error", err)
		return 1
	}

	logger.Info("respool stopped")
	return 0
}

// handleCheck performs a single checkout/release round trip, which makes
// it usable as a health probe from scripts.
func handleCheck(cfg *config.Config, logger *slog.Logger) int {
	p, closeFactory, err := buildPool(cfg)
	if err != nil {
		logger.Error("failed to build pool", "error", err)
		return 1
	}
	defer closeFactory()
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	if err := p.check(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "check failed: %v\n", err)
		return 1
	}

	s := p.Stats()
	fmt.Printf("backend:   %s\n", cfg.Backend.Kind)
	fmt.Printf("latency:   %s\n", time.Since(start).Round(time.Millisecond))
	fmt.Printf("free:      %d\n", s.NumFree)
	fmt.Printf("created:   %d\n", s.Created)
	return 0
}
