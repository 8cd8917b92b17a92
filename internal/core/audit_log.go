package core

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog is the append-only record of state transitions shown on the admin
// audit screen.
type AuditLog interface {
	Append(ctx context.Context, entry AuditEntry) error
	Count(ctx context.Context, entityType, entityID string) (int, error)
}

type auditLog struct {
	pool *pgxpool.Pool
}

func NewAuditLog(pool *pgxpool.Pool) AuditLog {
	return &auditLog{pool: pool}
}

func (a *auditLog) Append(ctx context.Context, entry AuditEntry) error {
	oldValues, err := marshalAuditValues(entry.OldValues)
	if err != nil {
		return fmt.Errorf("failed to encode old values: %w", err)
	}
	newValues, err := marshalAuditValues(entry.NewValues)
	if err != nil {
		return fmt.Errorf("failed to encode new values: %w", err)
	}

	_, err = a.pool.Exec(ctx, `
		INSERT INTO audit_logs (action, entity_type, entity_id, old_values, new_values)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.Action, entry.EntityType, entry.EntityID, oldValues, newValues)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (a *auditLog) Count(ctx context.Context, entityType, entityID string) (int, error) {
	var n int
	err := a.pool.QueryRow(ctx,
		"SELECT count(*) FROM audit_logs WHERE entity_type = $1 AND entity_id = $2",
		entityType, entityID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit entries: %w", err)
	}
	return n, nil
}

func marshalAuditValues(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
