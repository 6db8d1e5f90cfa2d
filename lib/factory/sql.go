package factory

import (
	"context"
	"database/sql/driver"
	"time"

	apperrors "github.com/go-i2p/respool/lib/errors"
	"github.com/go-sql-driver/mysql"
)

// DefaultProbeQuery is the liveness query used when none is configured.
const DefaultProbeQuery = "SELECT 1"

// SQLConfig configures a SQLFactory.
type SQLConfig struct {
	// DSN is the MySQL data source name, e.g.
	// "user:pass@tcp(127.0.0.1:3306)/db".
	DSN string
	// ProbeQuery is the validation statement. Empty means
	// DefaultProbeQuery.
	ProbeQuery string
	// ProbeTimeout bounds validation. Zero means one second.
	ProbeTimeout time.Duration
}

// SQLFactory creates pooled MySQL driver connections. It manages raw
// driver.Conn values rather than going through database/sql, which keeps
// sizing, validation and eviction under the pool's control instead of
// the stdlib pool's.
type SQLFactory struct {
	cfg       SQLConfig
	connector driver.Connector
}

// NewSQL returns a factory for the given DSN. The DSN is parsed eagerly
// so malformed configuration fails at construction.
func NewSQL(cfg SQLConfig) (*SQLFactory, error) {
	if cfg.DSN == "" {
		return nil, apperrors.Wrap(apperrors.CodeConfiguration, "sql factory requires a dsn", apperrors.ErrConfiguration)
	}
	dsnCfg, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfiguration, "sql factory dsn", err)
	}
	connector, err := mysql.NewConnector(dsnCfg)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfiguration, "sql factory connector", err)
	}
	if cfg.ProbeQuery == "" {
		cfg.ProbeQuery = DefaultProbeQuery
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = time.Second
	}
	return &SQLFactory{cfg: cfg, connector: connector}, nil
}

func (f *SQLFactory) Create(ctx context.Context) (driver.Conn, error) {
	conn, err := f.connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	log.Debug("opened mysql resource")
	return conn, nil
}

func (f *SQLFactory) Activate(conn driver.Conn) error {
	return nil
}

// Passivate resets per-session state so the next lease starts clean.
func (f *SQLFactory) Passivate(conn driver.Conn) error {
	if sr, ok := conn.(driver.SessionResetter); ok {
		return sr.ResetSession(context.Background())
	}
	return nil
}

// BuildProbe returns the configured liveness query.
func (f *SQLFactory) BuildProbe() (any, error) {
	return f.cfg.ProbeQuery, nil
}

// Validate pings the server, then runs the probe query when the driver
// supports direct queries.
func (f *SQLFactory) Validate(conn driver.Conn, probe any) error {
	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.ProbeTimeout)
	defer cancel()

	if p, ok := conn.(driver.Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return err
		}
	}

	query, ok := probe.(string)
	if !ok || query == "" {
		return nil
	}
	if q, ok := conn.(driver.QueryerContext); ok {
		rows, err := q.QueryContext(ctx, query, nil)
		if err != nil {
			return err
		}
		return rows.Close()
	}
	return nil
}

func (f *SQLFactory) Destroy(conn driver.Conn) error {
	return conn.Close()
}
