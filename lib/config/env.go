package config

import (
	"os"
	"strconv"
	"time"
)

// applyEnvOverrides overlays RESPOOL_* environment variables on top of
// the loaded configuration. Unparseable values are ignored and the
// existing value is kept.
func applyEnvOverrides(cfg *Config) {
	envInt(&cfg.Pool.MinSize, "RESPOOL_MIN_SIZE")
	envInt(&cfg.Pool.MaxSize, "RESPOOL_MAX_SIZE")
	envSeconds(&cfg.Pool.IdleTimeout, "RESPOOL_IDLE_TIMEOUT")
	envSeconds(&cfg.Pool.ValidationInterval, "RESPOOL_VALIDATION_INTERVAL")
	envSeconds(&cfg.Pool.CheckoutTimeout, "RESPOOL_CHECKOUT_TIMEOUT")
	envInt(&cfg.Pool.CheckoutRetries, "RESPOOL_CHECKOUT_RETRIES")
	envSeconds(&cfg.Pool.ReapInterval, "RESPOOL_REAP_INTERVAL")

	envString(&cfg.Backend.Kind, "RESPOOL_BACKEND")
	envString(&cfg.Backend.TCP.Address, "RESPOOL_TCP_ADDRESS")
	envString(&cfg.Backend.I2P.Name, "RESPOOL_I2P_NAME")
	envString(&cfg.Backend.I2P.SAMAddress, "RESPOOL_SAM_ADDRESS")
	envString(&cfg.Backend.I2P.Destination, "RESPOOL_I2P_DESTINATION")
	envString(&cfg.Backend.SQL.DSN, "RESPOOL_SQL_DSN")
	envString(&cfg.Backend.SQL.ProbeQuery, "RESPOOL_SQL_PROBE_QUERY")

	envBool(&cfg.Metrics.Enabled, "RESPOOL_METRICS_ENABLED")
	envString(&cfg.Metrics.Listen, "RESPOOL_METRICS_LISTEN")
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// envSeconds reads a duration expressed as a whole number of seconds.
func envSeconds(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Second
		}
	}
}
