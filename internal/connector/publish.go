package connector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/grebion/tables/internal/model"
	"github.com/grebion/tables/internal/tabular"
)

// ErrTargetExists is returned when the target table exists and the publish
// was not asked to replace it.
var ErrTargetExists = errors.New("publish target already exists")

// PublishOptions controls Publish.
type PublishOptions struct {
	Replace   bool // drop an existing target first
	BatchSize int  // rows per INSERT; 0 picks the dialect maximum
}

// PublishResult reports a finished publish.
type PublishResult struct {
	Target   string `json:"target"`
	Driver   string `json:"driver"`
	Rows     int    `json:"rows"`
	Batches  int    `json:"batches"`
	Replaced bool   `json:"replaced"`
	TookMs   int64  `json:"took_ms"`
}

// Publish creates target in the connected database and copies rows into it
// inside one transaction. MySQL, Oracle and Snowflake commit DDL
// implicitly, so there a failed insert can leave an empty target behind.
func Publish(ctx context.Context, conn Connector, target string, cols []model.SchemaColumn, rows []model.Row, opts PublishOptions) (*PublishResult, error) {
	start := time.Now()

	t, err := ParseTarget(target, conn.SchemaName())
	if err != nil {
		return nil, err
	}
	for _, c := range cols {
		if !tabular.ValidCode(c.Code) {
			return nil, fmt.Errorf("%w: column code %q", ErrInvalidTarget, c.Code)
		}
	}
	db := conn.DB()
	if db == nil {
		return nil, fmt.Errorf("source is not connected")
	}

	// Check outside the transaction: a failed statement aborts a
	// PostgreSQL transaction.
	exists := false
	if rs, err := db.QueryContext(ctx, BuildExistsQuery(conn, t)); err == nil {
		rs.Close()
		exists = true
	}
	if exists && !opts.Replace {
		return nil, fmt.Errorf("%w: %s", ErrTargetExists, t)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin publish: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if exists {
		if _, err := tx.ExecContext(ctx, BuildDropTable(conn, t)); err != nil {
			return nil, fmt.Errorf("drop %s: %w", t, err)
		}
	}
	if _, err := tx.ExecContext(ctx, BuildCreateTable(conn, t, cols)); err != nil {
		return nil, fmt.Errorf("create %s: %w", t, err)
	}

	res := &PublishResult{Target: t.String(), Driver: conn.DriverName(), Replaced: exists}
	size := BatchSize(conn, len(cols), opts.BatchSize)
	for from := 0; from < len(rows); from += size {
		to := from + size
		if to > len(rows) {
			to = len(rows)
		}
		stmt, args, err := BuildInsert(conn, t, cols, rows[from:to])
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return nil, fmt.Errorf("insert rows %d-%d into %s: %w", from+1, to, t, err)
		}
		res.Batches++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit publish: %w", err)
	}
	res.Rows = len(rows)
	res.TookMs = time.Since(start).Milliseconds()
	return res, nil
}
