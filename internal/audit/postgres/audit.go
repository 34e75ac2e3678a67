package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dydact/scrive-aci-sub002/internal/audit"
)

const insertEntry = `INSERT INTO audit_log (entry_id, actor_id, action, resource, result, detail, request_id, created_at)
VALUES (:entry_id, :actor_id, :action, :resource, :result, :detail, :request_id, :created_at)`

type entryRow struct {
	EntryID   string    `db:"entry_id"`
	ActorID   int64     `db:"actor_id"`
	Action    string    `db:"action"`
	Resource  string    `db:"resource"`
	Result    string    `db:"result"`
	Detail    string    `db:"detail"`
	RequestID string    `db:"request_id"`
	CreatedAt time.Time `db:"created_at"`
}

// AuditRepository writes on its own pooled connection, outside any business
// transaction, so decisions survive a rollback.
type AuditRepository struct {
	db *sqlx.DB
}

func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Insert(ctx context.Context, entry *audit.Entry) error {
	detail := "{}"
	if len(entry.Detail) > 0 {
		b, err := json.Marshal(entry.Detail)
		if err != nil {
			return fmt.Errorf("marshal audit detail: %w", err)
		}
		detail = string(b)
	}

	row := entryRow{
		EntryID:   entry.EntryID,
		ActorID:   entry.ActorID,
		Action:    entry.Action,
		Resource:  entry.Resource,
		Result:    string(entry.Result),
		Detail:    detail,
		RequestID: entry.RequestID,
		CreatedAt: entry.CreatedAt,
	}

	if _, err := r.db.NamedExecContext(ctx, insertEntry, row); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}
