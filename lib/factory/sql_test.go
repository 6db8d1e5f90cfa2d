package factory

import (
	"errors"
	"testing"
	"time"

	apperrors "github.com/go-i2p/respool/lib/errors"
)

func TestNewSQLValidatesConfig(t *testing.T) {
	if _, err := NewSQL(SQLConfig{}); !errors.Is(err, apperrors.ErrConfiguration) {
		t.Errorf("NewSQL({}) error = %v, want ErrConfiguration", err)
	}
	if _, err := NewSQL(SQLConfig{DSN: "this is not a dsn"}); err == nil {
		t.Error("NewSQL should reject a malformed DSN")
	}
}

func TestSQLProbeDefaults(t *testing.T) {
	f, err := NewSQL(SQLConfig{DSN: "user:pass@tcp(127.0.0.1:3306)/testdb"})
	if err != nil {
		t.Fatalf("NewSQL: %v", err)
	}

	probe, err := f.BuildProbe()
	if err != nil {
		t.Fatalf("BuildProbe: %v", err)
	}
	if probe != DefaultProbeQuery {
		t.Errorf("probe = %v, want %q", probe, DefaultProbeQuery)
	}
	if f.cfg.ProbeTimeout != time.Second {
		t.Errorf("ProbeTimeout = %v, want 1s", f.cfg.ProbeTimeout)
	}
}

func TestSQLProbeOverride(t *testing.T) {
	f, err := NewSQL(SQLConfig{
		DSN:        "user:pass@tcp(127.0.0.1:3306)/testdb",
		ProbeQuery: "SELECT version()",
	})
	if err != nil {
		t.Fatalf("NewSQL: %v", err)
	}
	probe, _ := f.BuildProbe()
	if probe != "SELECT version()" {
		t.Errorf("probe = %v, want the configured query", probe)
	}
}
