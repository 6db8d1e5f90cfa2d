package factory

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/go-i2p/i2pkeys"
	"github.com/go-i2p/onramp"
	apperrors "github.com/go-i2p/respool/lib/errors"
)

// DefaultSAMAddress is the default I2P SAM bridge address
const DefaultSAMAddress = "127.0.0.1:7656"

// I2PConfig configures an I2PFactory.
type I2PConfig struct {
	// Name is the tunnel name registered with the SAM bridge.
	Name string
	// SAMAddress is the SAM bridge address. Empty means
	// DefaultSAMAddress.
	SAMAddress string
	// Destination is the remote I2P destination to dial, in base32 or
	// base64 form.
	Destination string
	// Options are SAM session options (tunnel length, quantity and so
	// on). Nil means onramp.OPT_DEFAULTS.
	Options []string
	// ProbeTimeout bounds the validation read. Zero means
	// DefaultProbeTimeout.
	ProbeTimeout time.Duration
}

// I2PFactory creates pooled streaming connections to one I2P destination.
// The underlying Garlic session is shared by every connection and opened
// lazily on the first Create, so constructing the factory never touches
// the network.
type I2PFactory struct {
	cfg  I2PConfig
	dest i2pkeys.I2PAddr

	mu     sync.Mutex
	garlic *onramp.Garlic
}

// NewI2P returns a factory dialing the configured destination. The
// destination address is parsed eagerly so a typo fails at construction
// rather than on the first checkout.
func NewI2P(cfg I2PConfig) (*I2PFactory, error) {
	if cfg.Destination == "" {
		return nil, apperrors.Wrap(apperrors.CodeConfiguration, "i2p factory requires a destination", apperrors.ErrConfiguration)
	}
	dest, err := i2pkeys.NewI2PAddrFromString(cfg.Destination)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfiguration, "i2p factory destination", err)
	}
	if cfg.Name == "" {
		cfg.Name = "respool"
	}
	if cfg.SAMAddress == "" {
		cfg.SAMAddress = DefaultSAMAddress
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	return &I2PFactory{cfg: cfg, dest: dest}, nil
}

// session returns the shared Garlic session, opening it on first use.
func (f *I2PFactory) session() (*onramp.Garlic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.garlic != nil {
		return f.garlic, nil
	}

	options := f.cfg.Options
	if len(options) == 0 {
		options = onramp.OPT_DEFAULTS
	}
	garlic, err := onramp.NewGarlic(f.cfg.Name, f.cfg.SAMAddress, options)
	if err != nil {
		return nil, err
	}
	f.garlic = garlic
	log.WithField("name", f.cfg.Name).WithField("sam", f.cfg.SAMAddress).Debug("opened garlic session")
	return garlic, nil
}

func (f *I2PFactory) Create(ctx context.Context) (net.Conn, error) {
	garlic, err := f.session()
	if err != nil {
		return nil, err
	}
	conn, err := garlic.DialContext(ctx, "tcp", f.cfg.Destination)
	if err != nil {
		return nil, err
	}
	log.WithField("dest", f.dest.Base32()).Debug("dialed i2p resource")
	return conn, nil
}

func (f *I2PFactory) Activate(conn net.Conn) error {
	return conn.SetDeadline(time.Time{})
}

func (f *I2PFactory) Passivate(conn net.Conn) error {
	return nil
}

func (f *I2PFactory) BuildProbe() (any, error) {
	return f.cfg.ProbeTimeout, nil
}

// Validate uses the same deadline-bounded read as the TCP factory. I2P
// streams surface tunnel teardown as a read error.
func (f *I2PFactory) Validate(conn net.Conn, probe any) error {
	timeout, ok := probe.(time.Duration)
	if !ok {
		timeout = DefaultProbeTimeout
	}
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	var buf [1]byte
	_, err := conn.Read(buf[:])
	if err == nil {
		return conn.SetReadDeadline(time.Time{})
	}
	if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
		return conn.SetReadDeadline(time.Time{})
	}
	return err
}

func (f *I2PFactory) Destroy(conn net.Conn) error {
	return conn.Close()
}

// Close tears down the shared Garlic session. Call it after the pool
// using this factory is closed.
func (f *I2PFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.garlic == nil {
		return nil
	}
	err := f.garlic.Close()
	f.garlic = nil
	return err
}

// Destination returns the parsed remote destination.
func (f *I2PFactory) Destination() i2pkeys.I2PAddr {
	return f.dest
}
