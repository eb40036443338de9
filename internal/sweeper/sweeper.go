// Package sweeper periodically removes draft tables that were saved ahead
// of an owning entity which never got saved. Such tables keep owner_id 0 and
// the draft flag; tables created directly are never swept.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/grebion/tables/internal/model"
)

// LastRunKey is the settings key holding the time of the last sweep.
const LastRunKey = "sweeper_last_run"

const (
	DefaultInterval  = time.Hour
	DefaultOrphanAge = 24 * time.Hour
)

// Tables is what the sweeper needs from the table service.
type Tables interface {
	ListOrphanTables(ctx context.Context, olderThan time.Time) ([]model.Table, error)
	DeleteTable(ctx context.Context, id int64) error
}

// SettingsStore is the interface the sweeper needs from the config store.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Sweeper runs the orphan cleanup on a ticker.
type Sweeper struct {
	tables    Tables
	settings  SettingsStore
	interval  time.Duration
	orphanAge time.Duration
	logger    *slog.Logger
	now       func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Sweeper. Zero durations fall back to the defaults. Returns
// nil when TABLES_SWEEPER is set to 0, false or off.
func New(tables Tables, settings SettingsStore, interval, orphanAge time.Duration, logger *slog.Logger) *Sweeper {
	if envVal := os.Getenv("TABLES_SWEEPER"); envVal == "0" || envVal == "false" || envVal == "off" {
		return nil
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if orphanAge <= 0 {
		orphanAge = DefaultOrphanAge
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		tables:    tables,
		settings:  settings,
		interval:  interval,
		orphanAge: orphanAge,
		logger:    logger,
		now:       time.Now,
	}
}

// Start begins the background loop. The first sweep runs immediately.
// Non-blocking.
func (s *Sweeper) Start() {
	if s == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.sweep(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.sweep(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown stops the loop and waits for a running sweep to finish.
func (s *Sweeper) Shutdown() {
	if s == nil {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.RunOnce(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("sweep failed", "error", err, "deleted", n)
		}
		return
	}
	if n > 0 {
		s.logger.Info("removed orphan tables", "count", n)
	}
}

// RunOnce deletes every orphan table older than the configured age and
// records the run time. It returns how many tables were deleted; a failed
// delete is logged and the sweep moves on to the next table.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	now := s.now().UTC()
	orphans, err := s.tables.ListOrphanTables(ctx, now.Add(-s.orphanAge))
	if err != nil {
		return 0, fmt.Errorf("list orphan tables: %w", err)
	}

	deleted := 0
	for _, t := range orphans {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if err := s.tables.DeleteTable(ctx, t.ID); err != nil {
			s.logger.Warn("delete orphan table", "table_id", t.ID, "error", err)
			continue
		}
		deleted++
	}

	if s.settings != nil {
		if err := s.settings.SetSetting(ctx, LastRunKey, now.Format(time.RFC3339)); err != nil {
			return deleted, fmt.Errorf("record last run: %w", err)
		}
	}
	return deleted, nil
}

// LastRun reads the time of the last completed sweep. The zero time is
// returned when no sweep has run yet.
func LastRun(ctx context.Context, settings SettingsStore) (time.Time, error) {
	val, err := settings.GetSetting(ctx, LastRunKey)
	if err != nil || val == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", LastRunKey, err)
	}
	return t, nil
}
