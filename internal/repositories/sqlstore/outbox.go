package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	domain "github.com/naiaprojects/naia-sub001/internal/domain"
)

const outboxColumns = `id, dedupe_key, effect, aggregate_kind, aggregate_id, payload, status, attempts,
	next_attempt_at, lease_until, last_error, created_at, updated_at, delivered_at`

type outboxRepository struct{ s *Store }

// Enqueue relies on the dedupe_key unique index; duplicates are skipped, not errors.
func (r outboxRepository) Enqueue(ctx context.Context, tasks []domain.OutboxTask) (int, error) {
	stored := 0
	for _, t := range tasks {
		payload, err := encodeJSON(t.Payload)
		if err != nil {
			return stored, fmt.Errorf("outbox.enqueue: encode payload: %w", err)
		}
		status := t.Status
		if status == "" {
			status = domain.OutboxStatusPending
		}
		res, err := r.s.conn(ctx).ExecContext(ctx, `INSERT INTO outbox_tasks (`+outboxColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT DO NOTHING`,
			domain.OutboxTaskID(t.DedupeKey), t.DedupeKey, string(t.Effect), t.AggregateKind, t.AggregateID, payload,
			string(status), t.Attempts, t.NextAttemptAt.UTC(), nullTime(t.LeaseUntil), t.LastError,
			t.CreatedAt.UTC(), t.UpdatedAt.UTC(), nullTime(t.DeliveredAt))
		if err != nil {
			return stored, wrapError("outbox.enqueue", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			stored++
		}
	}
	return stored, nil
}

// ClaimDue moves next_attempt_at of each claimed row to the lease end so other
// dispatchers skip it until the lease lapses.
func (r outboxRepository) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]domain.OutboxTask, error) {
	now = now.UTC()
	leaseUntil := now.Add(lease)
	var claimed []domain.OutboxTask

	err := r.s.RunInTx(ctx, func(ctx context.Context) error {
		claimed = claimed[:0]
		rows, err := r.s.conn(ctx).QueryContext(ctx, `SELECT `+outboxColumns+` FROM outbox_tasks
			WHERE status = $1 AND next_attempt_at <= $2 ORDER BY next_attempt_at LIMIT $3`+r.s.dialect.LockSuffix,
			string(domain.OutboxStatusPending), now, normaliseLimit(limit))
		if err != nil {
			return wrapError("outbox.claim", err)
		}
		var due []domain.OutboxTask
		for rows.Next() {
			task, err := scanOutbox(rows)
			if err != nil {
				_ = rows.Close()
				return wrapError("outbox.claim", err)
			}
			due = append(due, task)
		}
		if err := rows.Close(); err != nil {
			return wrapError("outbox.claim", err)
		}
		if err := rows.Err(); err != nil {
			return wrapError("outbox.claim", err)
		}

		for _, task := range due {
			if _, err := r.s.conn(ctx).ExecContext(ctx, `UPDATE outbox_tasks
				SET lease_until = $1, next_attempt_at = $2, updated_at = $3 WHERE id = $4`,
				leaseUntil, leaseUntil, now, task.ID); err != nil {
				return wrapError("outbox.claim", err)
			}
			task.LeaseUntil = &leaseUntil
			claimed = append(claimed, task)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r outboxRepository) MarkDelivered(ctx context.Context, taskID string, deliveredAt time.Time) error {
	deliveredAt = deliveredAt.UTC()
	res, err := r.s.conn(ctx).ExecContext(ctx, `UPDATE outbox_tasks
		SET status = $1, delivered_at = $2, lease_until = NULL, last_error = '', updated_at = $3 WHERE id = $4`,
		string(domain.OutboxStatusDelivered), deliveredAt, deliveredAt, taskID)
	if err != nil {
		return wrapError("outbox.mark_delivered", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("outbox.mark_delivered", taskID)
	}
	return nil
}

func (r outboxRepository) Reschedule(ctx context.Context, taskID string, attempts int, nextAttempt time.Time, lastError string, now time.Time) error {
	status := domain.OutboxStatusPending
	next := nextAttempt.UTC()
	if nextAttempt.IsZero() {
		status = domain.OutboxStatusDead
		next = now.UTC()
	}
	res, err := r.s.conn(ctx).ExecContext(ctx, `UPDATE outbox_tasks
		SET status = $1, attempts = $2, next_attempt_at = $3, last_error = $4, lease_until = NULL, updated_at = $5
		WHERE id = $6`,
		string(status), attempts, next, lastError, now.UTC(), taskID)
	if err != nil {
		return wrapError("outbox.reschedule", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("outbox.reschedule", taskID)
	}
	return nil
}

func scanOutbox(row scanner) (domain.OutboxTask, error) {
	var (
		t                     domain.OutboxTask
		effect, status        string
		payload               sql.NullString
		leaseUntil, delivered sql.NullTime
	)
	err := row.Scan(&t.ID, &t.DedupeKey, &effect, &t.AggregateKind, &t.AggregateID, &payload, &status, &t.Attempts,
		&t.NextAttemptAt, &leaseUntil, &t.LastError, &t.CreatedAt, &t.UpdatedAt, &delivered)
	if err != nil {
		return domain.OutboxTask{}, err
	}
	if t.Payload, err = decodeJSON[map[string]any](payload.String); err != nil {
		return domain.OutboxTask{}, fmt.Errorf("decode payload: %w", err)
	}
	t.Effect = domain.OutboxEffect(effect)
	t.Status = domain.OutboxStatus(status)
	t.LeaseUntil = timePtr(leaseUntil)
	t.DeliveredAt = timePtr(delivered)
	t.NextAttemptAt = t.NextAttemptAt.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}
