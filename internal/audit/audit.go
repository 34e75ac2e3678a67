package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-chi/chi/middleware"

	"github.com/dydact/scrive-aci-sub002/internal"
	"github.com/dydact/scrive-aci-sub002/internal/core/ids"
)

type Result string

const (
	ResultGranted Result = "granted"
	ResultDenied  Result = "denied"
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
)

// Entry is one append-only audit record.
type Entry struct {
	EntryID   string
	ActorID   int64
	Action    string
	Resource  string
	Result    Result
	Detail    map[string]any
	RequestID string
	CreatedAt time.Time
}

// Recorder is the sink every component writes decisions and transitions to.
// Record never fails the caller; write errors are logged.
type Recorder interface {
	Record(ctx context.Context, entry Entry)
}

type Repository interface {
	Insert(ctx context.Context, entry *Entry) error
}

type Log struct {
	repo   Repository
	logger *slog.Logger
}

func NewLog(repo Repository, logger *slog.Logger) *Log {
	return &Log{repo: repo, logger: logger}
}

func (l *Log) Record(ctx context.Context, entry Entry) {
	stamp(ctx, &entry)

	if err := l.repo.Insert(ctx, &entry); err != nil {
		l.logger.Error("failed to write audit entry",
			"error", err,
			"entry_id", entry.EntryID,
			"actor_id", entry.ActorID,
			"action", entry.Action,
			"resource", entry.Resource,
			"result", entry.Result)
	}
}

func stamp(ctx context.Context, entry *Entry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.EntryID == "" {
		entry.EntryID = ids.NewAt(entry.CreatedAt)
	}
	if entry.RequestID == "" {
		entry.RequestID = middleware.GetReqID(ctx)
	}
	if entry.RequestID == "" {
		if actor, ok := internal.ActorFromContext(ctx); ok {
			entry.RequestID = actor.RequestID
		}
	}
}

// Memory keeps entries in process. Tests and the seed command use it when
// no audit table is available.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Record(ctx context.Context, entry Entry) {
	stamp(ctx, &entry)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
}

func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Find returns the entries recorded for action.
func (m *Memory) Find(action string) []Entry {
	var out []Entry
	for _, e := range m.Entries() {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}
