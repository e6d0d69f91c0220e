package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/naiaprojects/naia-sub001/internal/domain"
	pfirestore "github.com/naiaprojects/naia-sub001/internal/platform/firestore"
)

const outboxCollection = "outbox"

type outboxDocument struct {
	DedupeKey     string         `firestore:"dedupeKey"`
	Effect        string         `firestore:"effect"`
	AggregateKind string         `firestore:"aggregateKind"`
	AggregateID   string         `firestore:"aggregateId"`
	Payload       map[string]any `firestore:"payload,omitempty"`
	Status        string         `firestore:"status"`
	Attempts      int            `firestore:"attempts"`
	NextAttemptAt time.Time      `firestore:"nextAttemptAt"`
	LeaseUntil    *time.Time     `firestore:"leaseUntil,omitempty"`
	LastError     string         `firestore:"lastError,omitempty"`
	CreatedAt     time.Time      `firestore:"createdAt"`
	UpdatedAt     time.Time      `firestore:"updatedAt"`
	DeliveredAt   *time.Time     `firestore:"deliveredAt,omitempty"`
}

// OutboxRepository keys tasks by domain.OutboxTaskID(dedupeKey) so the document create is
// the uniqueness check.
type OutboxRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[outboxDocument]
}

func NewOutboxRepository(provider *pfirestore.Provider) (*OutboxRepository, error) {
	if provider == nil {
		return nil, errors.New("outbox repository requires firestore provider")
	}
	return &OutboxRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[outboxDocument](provider, outboxCollection),
	}, nil
}

// Enqueue outside a transaction skips tasks that already exist. Inside a transaction the
// creates are buffered, so a duplicate aborts the commit with a conflict instead.
func (r *OutboxRepository) Enqueue(ctx context.Context, tasks []domain.OutboxTask) (int, error) {
	_, inTx := pfirestore.TransactionFromContext(ctx)
	stored := 0
	for _, task := range tasks {
		id := domain.OutboxTaskID(task.DedupeKey)
		err := r.base.Create(ctx, id, outboxToDocument(task))
		switch {
		case err == nil:
			stored++
		case !inTx && pfirestore.IsAlreadyExists(err):
		default:
			return stored, err
		}
	}
	return stored, nil
}

// ClaimDue pushes nextAttemptAt of each claimed task to the end of its lease so concurrent
// dispatchers skip it until the lease lapses.
func (r *OutboxRepository) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]domain.OutboxTask, error) {
	now = now.UTC()
	leaseUntil := now.Add(lease)
	var claimed []domain.OutboxTask

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		claimed = claimed[:0]
		docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
			q = q.Where("status", "==", string(domain.OutboxStatusPending)).
				Where("nextAttemptAt", "<=", now).
				OrderBy("nextAttemptAt", firestore.Asc)
			if limit > 0 {
				q = q.Limit(limit)
			}
			return q
		})
		if err != nil {
			return err
		}
		for _, doc := range docs {
			if err := r.base.Update(ctx, doc.ID, []firestore.Update{
				{Path: "leaseUntil", Value: leaseUntil},
				{Path: "nextAttemptAt", Value: leaseUntil},
				{Path: "updatedAt", Value: now},
			}); err != nil {
				return err
			}
			task := outboxFromDocument(doc.ID, doc.Data)
			task.LeaseUntil = &leaseUntil
			claimed = append(claimed, task)
		}
		return nil
	})
	if err != nil {
		return nil, pfirestore.WrapError("outbox.claim", err)
	}
	return claimed, nil
}

func (r *OutboxRepository) MarkDelivered(ctx context.Context, taskID string, deliveredAt time.Time) error {
	deliveredAt = deliveredAt.UTC()
	return r.base.Update(ctx, taskID, []firestore.Update{
		{Path: "status", Value: string(domain.OutboxStatusDelivered)},
		{Path: "deliveredAt", Value: deliveredAt},
		{Path: "leaseUntil", Value: firestore.Delete},
		{Path: "lastError", Value: firestore.Delete},
		{Path: "updatedAt", Value: deliveredAt},
	})
}

func (r *OutboxRepository) Reschedule(ctx context.Context, taskID string, attempts int, nextAttempt time.Time, lastError string, now time.Time) error {
	updates := []firestore.Update{
		{Path: "attempts", Value: attempts},
		{Path: "lastError", Value: lastError},
		{Path: "leaseUntil", Value: firestore.Delete},
		{Path: "updatedAt", Value: now.UTC()},
	}
	if nextAttempt.IsZero() {
		updates = append(updates, firestore.Update{Path: "status", Value: string(domain.OutboxStatusDead)})
	} else {
		updates = append(updates, firestore.Update{Path: "nextAttemptAt", Value: nextAttempt.UTC()})
	}
	return r.base.Update(ctx, taskID, updates)
}

func outboxToDocument(t domain.OutboxTask) outboxDocument {
	status := t.Status
	if status == "" {
		status = domain.OutboxStatusPending
	}
	return outboxDocument{
		DedupeKey:     t.DedupeKey,
		Effect:        string(t.Effect),
		AggregateKind: t.AggregateKind,
		AggregateID:   t.AggregateID,
		Payload:       t.Payload,
		Status:        string(status),
		Attempts:      t.Attempts,
		NextAttemptAt: t.NextAttemptAt.UTC(),
		LeaseUntil:    utcPtr(t.LeaseUntil),
		LastError:     t.LastError,
		CreatedAt:     t.CreatedAt.UTC(),
		UpdatedAt:     t.UpdatedAt.UTC(),
		DeliveredAt:   utcPtr(t.DeliveredAt),
	}
}

func outboxFromDocument(id string, d outboxDocument) domain.OutboxTask {
	return domain.OutboxTask{
		ID:            id,
		DedupeKey:     d.DedupeKey,
		Effect:        domain.OutboxEffect(d.Effect),
		AggregateKind: d.AggregateKind,
		AggregateID:   d.AggregateID,
		Payload:       d.Payload,
		Status:        domain.OutboxStatus(d.Status),
		Attempts:      d.Attempts,
		NextAttemptAt: d.NextAttemptAt.UTC(),
		LeaseUntil:    utcPtr(d.LeaseUntil),
		LastError:     d.LastError,
		CreatedAt:     d.CreatedAt.UTC(),
		UpdatedAt:     d.UpdatedAt.UTC(),
		DeliveredAt:   utcPtr(d.DeliveredAt),
	}
}
