package factory

import (
	"context"
	"net"
	"time"

	apperrors "github.com/go-i2p/respool/lib/errors"
)

const (
	// DefaultDialTimeout bounds connection establishment.
	DefaultDialTimeout = 10 * time.Second
	// DefaultProbeTimeout bounds the liveness read during validation.
	DefaultProbeTimeout = 50 * time.Millisecond
)

// TCPConfig configures a TCPFactory.
type TCPConfig struct {
	// Address is the host:port to dial.
	Address string
	// DialTimeout bounds Create. Zero means DefaultDialTimeout.
	DialTimeout time.Duration
	// ProbeTimeout bounds the validation read. Zero means
	// DefaultProbeTimeout.
	ProbeTimeout time.Duration
}

// TCPFactory creates pooled TCP connections to a fixed address.
// Validation performs a short deadline-bounded read: a timeout means the
// peer is still there, anything else means the connection is dead.
type TCPFactory struct {
	cfg TCPConfig
}

// NewTCP returns a factory dialing the given address.
func NewTCP(cfg TCPConfig) (*TCPFactory, error) {
	if cfg.Address == "" {
		return nil, apperrors.Wrap(apperrors.CodeConfiguration, "tcp factory requires an address", apperrors.ErrConfiguration)
	}
	if _, _, err := net.SplitHostPort(cfg.Address); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfiguration, "tcp factory address", err)
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	return &TCPFactory{cfg: cfg}, nil
}

func (f *TCPFactory) Create(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: f.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", f.cfg.Address)
	if err != nil {
		return nil, err
	}
	log.WithField("remote", conn.RemoteAddr().String()).Debug("dialed tcp resource")
	return conn, nil
}

// Activate clears any deadline left over from validation.
func (f *TCPFactory) Activate(conn net.Conn) error {
	return conn.SetDeadline(time.Time{})
}

func (f *TCPFactory) Passivate(conn net.Conn) error {
	return nil
}

// BuildProbe returns the read deadline used by Validate.
func (f *TCPFactory) BuildProbe() (any, error) {
	return f.cfg.ProbeTimeout, nil
}

// Validate attempts a one-byte read with a short deadline. A healthy idle
// connection times out; a closed or reset one errors immediately.
func (f *TCPFactory) Validate(conn net.Conn, probe any) error {
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
		// Unexpected unsolicited data; the connection is at least alive.
		return conn.SetReadDeadline(time.Time{})
	}
	if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
		return conn.SetReadDeadline(time.Time{})
	}
	return err
}

func (f *TCPFactory) Destroy(conn net.Conn) error {
	return conn.Close()
}
