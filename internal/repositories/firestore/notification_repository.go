package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"

	domain "github.com/naiaprojects/naia-sub001/internal/domain"
	pfirestore "github.com/naiaprojects/naia-sub001/internal/platform/firestore"
	"github.com/naiaprojects/naia-sub001/internal/platform/pagination"
	"github.com/naiaprojects/naia-sub001/internal/repositories"
)

const notificationsCollection = "notifications"

type notificationDocument struct {
	Title     string     `firestore:"title"`
	Message   string     `firestore:"message"`
	Type      string     `firestore:"type"`
	Reference string     `firestore:"reference,omitempty"`
	IsRead    bool       `firestore:"isRead"`
	CreatedAt time.Time  `firestore:"createdAt"`
	ReadAt    *time.Time `firestore:"readAt,omitempty"`
}

// NotificationRepository stores the operator inbox.
type NotificationRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[notificationDocument]
}

func NewNotificationRepository(provider *pfirestore.Provider) (*NotificationRepository, error) {
	if provider == nil {
		return nil, errors.New("notification repository requires firestore provider")
	}
	return &NotificationRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[notificationDocument](provider, notificationsCollection),
	}, nil
}

func (r *NotificationRepository) Insert(ctx context.Context, n domain.Notification) error {
	return r.base.Create(ctx, n.ID, notificationDocument{
		Title:     n.Title,
		Message:   n.Message,
		Type:      string(n.Type),
		Reference: n.Reference,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt.UTC(),
		ReadAt:    utcPtr(n.ReadAt),
	})
}

// List pages newest first. The page token encodes the createdAt/ID of the last entry.
func (r *NotificationRepository) List(ctx context.Context, filter repositories.NotificationListFilter) (domain.CursorPage[domain.Notification], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Notification]{}, repositories.NewError("notifications.list", repositories.ErrorKindUnknown, err)
	}
	size := filter.Pagination.PageSize
	if size <= 0 {
		size = pagination.DefaultPageSize
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.UnreadOnly {
			q = q.Where("isRead", "==", false)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if !cursor.IsZero() {
			q = q.StartAfter(cursor.CreatedAt, cursor.ID)
		}
		return q.Limit(size + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Notification]{}, err
	}

	page := domain.CursorPage[domain.Notification]{Items: make([]domain.Notification, 0, min(len(docs), size))}
	for i, doc := range docs {
		if i == size {
			last := page.Items[len(page.Items)-1]
			page.NextPageToken = pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
			break
		}
		page.Items = append(page.Items, notificationFromDocument(doc.ID, doc.Data))
	}
	return page, nil
}

func (r *NotificationRepository) Counts(ctx context.Context) (domain.NotificationCounts, error) {
	coll, err := r.base.Collection(ctx)
	if err != nil {
		return domain.NotificationCounts{}, err
	}
	total, err := countQuery(ctx, coll.Query)
	if err != nil {
		return domain.NotificationCounts{}, pfirestore.WrapError("notifications.counts", err)
	}
	unread, err := countQuery(ctx, coll.Where("isRead", "==", false))
	if err != nil {
		return domain.NotificationCounts{}, pfirestore.WrapError("notifications.counts", err)
	}
	return domain.NotificationCounts{Total: total, Unread: unread, Read: total - unread}, nil
}

func countQuery(ctx context.Context, q firestore.Query) (int, error) {
	result, err := q.NewAggregationQuery().WithCount("n").Get(ctx)
	if err != nil {
		return 0, err
	}
	value, ok := result["n"].(*firestorepb.Value)
	if !ok {
		return 0, fmt.Errorf("unexpected aggregation result %T", result["n"])
	}
	return int(value.GetIntegerValue()), nil
}

func (r *NotificationRepository) MarkRead(ctx context.Context, notificationID string, readAt time.Time) (domain.Notification, error) {
	var updated domain.Notification
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		doc, err := r.base.Get(ctx, notificationID)
		if err != nil {
			return err
		}
		if !doc.Data.IsRead {
			at := readAt.UTC()
			doc.Data.IsRead = true
			doc.Data.ReadAt = &at
			if err := r.base.Update(ctx, notificationID, []firestore.Update{
				{Path: "isRead", Value: true},
				{Path: "readAt", Value: at},
			}); err != nil {
				return err
			}
		}
		updated = notificationFromDocument(doc.ID, doc.Data)
		return nil
	})
	if err != nil {
		return domain.Notification{}, pfirestore.WrapError("notifications.mark_read", err)
	}
	return updated, nil
}

// MarkAllRead flips every unread notification using a BulkWriter.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, readAt time.Time) (int, error) {
	coll, err := r.base.Collection(ctx)
	if err != nil {
		return 0, err
	}
	refs, err := coll.Where("isRead", "==", false).Select().Documents(ctx).GetAll()
	if err != nil {
		return 0, pfirestore.WrapError("notifications.mark_all_read", err)
	}
	if len(refs) == 0 {
		return 0, nil
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	writer := client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(refs))
	updates := []firestore.Update{{Path: "isRead", Value: true}, {Path: "readAt", Value: readAt.UTC()}}
	for _, snap := range refs {
		job, err := writer.Update(snap.Ref, updates)
		if err != nil {
			writer.End()
			return 0, pfirestore.WrapError("notifications.mark_all_read", err)
		}
		jobs = append(jobs, job)
	}
	writer.End()

	updated := 0
	for _, job := range jobs {
		if _, err := job.Results(); err == nil {
			updated++
		} else if !pfirestore.IsNotFound(err) {
			return updated, pfirestore.WrapError("notifications.mark_all_read", err)
		}
	}
	return updated, nil
}

func (r *NotificationRepository) Delete(ctx context.Context, notificationID string) error {
	return r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		if _, err := r.base.Get(ctx, notificationID); err != nil {
			return err
		}
		return r.base.Delete(ctx, notificationID)
	})
}

func notificationFromDocument(id string, d notificationDocument) domain.Notification {
	return domain.Notification{
		ID:        id,
		Title:     d.Title,
		Message:   d.Message,
		Type:      domain.NotificationType(d.Type),
		Reference: d.Reference,
		IsRead:    d.IsRead,
		CreatedAt: d.CreatedAt.UTC(),
		ReadAt:    utcPtr(d.ReadAt),
	}
}
