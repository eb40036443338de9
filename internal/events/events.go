// Package events publishes change notifications for schemas, tables and
// rows so other systems can react to edits.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Type names a kind of change.
type Type string

const (
	SchemaSaved    Type = "schema.saved"
	SchemaDeleted  Type = "schema.deleted"
	TableCreated   Type = "table.created"
	TableUpdated   Type = "table.updated"
	TableDeleted   Type = "table.deleted"
	RowsChanged    Type = "rows.changed"
	TableImported  Type = "table.imported"
	TablePublished Type = "table.published"
)

// Event is one change notification.
type Event struct {
	Type     Type                   `json:"type"`
	TableID  int64                  `json:"table_id,omitempty"`
	RowID    int64                  `json:"row_id,omitempty"`
	SchemaID int64                  `json:"schema_id,omitempty"`
	At       time.Time              `json:"at"`
	Meta     map[string]interface{} `json:"meta,omitempty"`
}

// Publisher delivers events. Publishing never fails the operation that
// caused the event; implementations log delivery problems instead.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

func stamp(e *Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
}

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(context.Context, Event) {}

// Log writes events to a structured logger.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a publisher that logs at info level.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) Publish(ctx context.Context, e Event) {
	stamp(&e)
	attrs := []any{"type", string(e.Type)}
	if e.TableID != 0 {
		attrs = append(attrs, "table_id", e.TableID)
	}
	if e.RowID != 0 {
		attrs = append(attrs, "row_id", e.RowID)
	}
	if e.SchemaID != 0 {
		attrs = append(attrs, "schema_id", e.SchemaID)
	}
	for k, v := range e.Meta {
		attrs = append(attrs, k, v)
	}
	l.logger.InfoContext(ctx, "event", attrs...)
}

// Redis publishes events as JSON on a Redis pub/sub channel.
type Redis struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewRedis creates a publisher sending to channel.
func NewRedis(client *redis.Client, channel string, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, channel: channel, logger: logger}
}

func (r *Redis) Publish(ctx context.Context, e Event) {
	stamp(&e)
	payload, err := json.Marshal(e)
	if err != nil {
		r.logger.Warn("event encode failed", "type", e.Type, "error", err)
		return
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.logger.Warn("event publish failed", "type", e.Type, "channel", r.channel, "error", err)
	}
}
