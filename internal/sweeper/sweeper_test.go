package sweeper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/grebion/tables/internal/model"
)

type mockSettings struct {
	mu   sync.Mutex
	data map[string]string
}

func newMockSettings() *mockSettings {
	return &mockSettings{data: make(map[string]string)}
}

func (m *mockSettings) GetSetting(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", fmt.Errorf("not found")
	}
	return v, nil
}

func (m *mockSettings) SetSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

type mockTables struct {
	mu        sync.Mutex
	orphans   []model.Table
	failIDs   map[int64]bool
	deleted   []int64
	olderThan time.Time
}

func (m *mockTables) ListOrphanTables(_ context.Context, olderThan time.Time) ([]model.Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.olderThan = olderThan
	return m.orphans, nil
}

func (m *mockTables) DeleteTable(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failIDs[id] {
		return fmt.Errorf("boom")
	}
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockTables) deletedIDs() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.deleted...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunOnce(t *testing.T) {
	tables := &mockTables{
		orphans: []model.Table{{ID: 1}, {ID: 2}, {ID: 3}},
		failIDs: map[int64]bool{2: true},
	}
	settings := newMockSettings()
	s := New(tables, settings, time.Minute, 2*time.Hour, quietLogger())
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	n, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d tables, want 2", n)
	}
	if got := tables.deletedIDs(); len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Errorf("deleted ids = %v, want [1 3]", got)
	}
	if want := fixed.Add(-2 * time.Hour); !tables.olderThan.Equal(want) {
		t.Errorf("olderThan = %v, want %v", tables.olderThan, want)
	}

	last, err := LastRun(context.Background(), settings)
	if err != nil {
		t.Fatalf("LastRun: %v", err)
	}
	if !last.Equal(fixed) {
		t.Errorf("last run = %v, want %v", last, fixed)
	}
}

func TestRunOnceCanceled(t *testing.T) {
	tables := &mockTables{orphans: []model.Table{{ID: 1}}}
	s := New(tables, nil, 0, 0, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.RunOnce(ctx); err == nil {
		t.Fatal("expected error for canceled context")
	}
	if len(tables.deletedIDs()) != 0 {
		t.Error("nothing should be deleted after cancellation")
	}
}

func TestNewDefaults(t *testing.T) {
	s := New(&mockTables{}, nil, 0, -time.Second, nil)
	if s.interval != DefaultInterval {
		t.Errorf("interval = %v, want %v", s.interval, DefaultInterval)
	}
	if s.orphanAge != DefaultOrphanAge {
		t.Errorf("orphanAge = %v, want %v", s.orphanAge, DefaultOrphanAge)
	}
}

func TestNewDisabledByEnv(t *testing.T) {
	t.Setenv("TABLES_SWEEPER", "off")
	if s := New(&mockTables{}, nil, 0, 0, nil); s != nil {
		t.Fatal("expected nil sweeper when disabled")
	}
}

func TestNilSweeperIsSafe(t *testing.T) {
	var s *Sweeper
	s.Start()
	s.Shutdown()
}

func TestStartRunsImmediately(t *testing.T) {
	tables := &mockTables{orphans: []model.Table{{ID: 9}}}
	settings := newMockSettings()
	s := New(tables, settings, time.Hour, time.Hour, quietLogger())

	s.Start()
	deadline := time.Now().Add(2 * time.Second)
	for len(tables.deletedIDs()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	s.Shutdown()

	if got := tables.deletedIDs(); len(got) == 0 || got[0] != 9 {
		t.Errorf("deleted ids = %v, want [9]", got)
	}
}

func TestLastRunNeverRan(t *testing.T) {
	last, err := LastRun(context.Background(), newMockSettings())
	if err != nil {
		t.Fatalf("LastRun: %v", err)
	}
	if !last.IsZero() {
		t.Errorf("expected zero time, got %v", last)
	}
}

func TestLastRunInvalidValue(t *testing.T) {
	settings := newMockSettings()
	settings.data[LastRunKey] = "yesterday"
	if _, err := LastRun(context.Background(), settings); err == nil {
		t.Fatal("expected parse error")
	}
}
