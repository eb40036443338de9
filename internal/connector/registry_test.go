package connector

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"github.com/jmoiron/sqlx"
)

// mockConnector is a Connector without a database.
type mockConnector struct {
	fakeDialect
	connected    bool
	disconnected bool
	cfg          ConnectionConfig
}

func newMock() Connector {
	return &mockConnector{fakeDialect: fakeDialect{name: "mock", maxParams: 100}}
}

func (m *mockConnector) Connect(cfg ConnectionConfig) error {
	if cfg.DSN == "fail" {
		return fmt.Errorf("mock connect failure")
	}
	m.connected = true
	m.cfg = cfg
	return nil
}

func (m *mockConnector) Disconnect() error {
	m.disconnected = true
	m.connected = false
	return nil
}

func (m *mockConnector) Ping(_ context.Context) error { return nil }
func (m *mockConnector) DB() *sqlx.DB                 { return nil }
func (m *mockConnector) SchemaName() string           { return m.cfg.SchemaName }

func TestConnectAndGet(t *testing.T) {
	r := NewRegistry()
	r.RegisterDriver("mock", newMock)

	if err := r.Connect("warehouse", ConnectionConfig{Driver: "mock", DSN: "test-dsn"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn, err := r.Get("warehouse")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	mc := conn.(*mockConnector)
	if !mc.connected || mc.cfg.DSN != "test-dsn" {
		t.Errorf("unexpected connector state: %+v", mc)
	}
}

func TestConnectErrors(t *testing.T) {
	r := NewRegistry()
	r.RegisterDriver("mock", newMock)

	if err := r.Connect("a", ConnectionConfig{Driver: "unknown"}); err == nil {
		t.Error("expected error for unsupported driver")
	}
	if err := r.Connect("a", ConnectionConfig{Driver: "mock", DSN: "fail"}); err == nil {
		t.Error("expected error for connection failure")
	}
	if len(r.Connected()) != 0 {
		t.Errorf("failed connects must not register: %v", r.Connected())
	}
}

func TestConnectReplacesExisting(t *testing.T) {
	r := NewRegistry()
	var first *mockConnector
	r.RegisterDriver("mock", func() Connector {
		c := newMock().(*mockConnector)
		if first == nil {
			first = c
		}
		return c
	})

	r.Connect("src", ConnectionConfig{Driver: "mock", DSN: "dsn1"})
	r.Connect("src", ConnectionConfig{Driver: "mock", DSN: "dsn2"})

	if !first.disconnected {
		t.Error("first connector should be disconnected on replacement")
	}
	conn, _ := r.Get("src")
	if got := conn.(*mockConnector).cfg.DSN; got != "dsn2" {
		t.Errorf("DSN after replacement = %s, want dsn2", got)
	}
}

func TestDisconnectAndCloseAll(t *testing.T) {
	r := NewRegistry()
	r.RegisterDriver("mock", newMock)

	r.Connect("beta", ConnectionConfig{Driver: "mock", DSN: "dsn"})
	r.Connect("alpha", ConnectionConfig{Driver: "mock", DSN: "dsn"})
	if got := r.Connected(); !reflect.DeepEqual(got, []string{"alpha", "beta"}) {
		t.Errorf("Connected() = %v", got)
	}

	if err := r.Disconnect("alpha"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if _, err := r.Get("alpha"); err == nil {
		t.Error("expected error after disconnect")
	}
	if err := r.Disconnect("alpha"); err == nil {
		t.Error("expected error disconnecting twice")
	}

	r.CloseAll()
	if len(r.Connected()) != 0 {
		t.Error("expected no connections after CloseAll")
	}
}

func TestDialectLookup(t *testing.T) {
	r := NewRegistry()
	r.RegisterDriver("mock", newMock)

	if !r.HasDriver("mock") || r.HasDriver("db2") {
		t.Error("HasDriver mismatch")
	}
	d, err := r.Dialect("mock")
	if err != nil {
		t.Fatalf("Dialect: %v", err)
	}
	if d.DriverName() != "mock" {
		t.Errorf("DriverName = %s", d.DriverName())
	}
	if _, err := r.Dialect("db2"); err == nil {
		t.Error("expected error for unknown driver")
	}
}
