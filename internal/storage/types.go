package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": jsonl audit + json snapshots next to Path
//   - "sqlite": SQLite database file (modernc, no cgo)
//   - "memory": process-local, for tests and dry runs
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records one alert delivery or operator action.
type AuditEntry struct {
	At            time.Time `json:"at"`
	ActorID       int64     `json:"actor_id,omitempty"`
	ActorUsername string    `json:"actor_username,omitempty"`
	ChatID        int64     `json:"chat_id,omitempty"`
	ThreadID      int       `json:"thread_id,omitempty"`
	Action        string    `json:"action"`
	Detail        string    `json:"detail,omitempty"`
	OK            bool      `json:"ok"`
	Error         string    `json:"err,omitempty"`
}

// Grant is a chat's answer to the notification permission request.
type Grant struct {
	ChatID    int64     `json:"chat_id"`
	ThreadID  int       `json:"thread_id,omitempty"`
	Granted   bool      `json:"granted"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the persistence API used by the notifier and commands.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error)

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	PutGrant(ctx context.Context, g Grant) error
	DeleteGrant(ctx context.Context, chatID int64, threadID int) error
	Grants(ctx context.Context) ([]Grant, error)

	Close() error
}

type grantKey struct {
	chat   int64
	thread int
}
