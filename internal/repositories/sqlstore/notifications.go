package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	domain "github.com/naiaprojects/naia-sub001/internal/domain"
	"github.com/naiaprojects/naia-sub001/internal/platform/pagination"
	"github.com/naiaprojects/naia-sub001/internal/repositories"
)

const notificationColumns = `id, title, message, type, reference, is_read, created_at, read_at`

type notificationRepository struct{ s *Store }

func (r notificationRepository) Insert(ctx context.Context, n domain.Notification) error {
	_, err := r.s.conn(ctx).ExecContext(ctx, `INSERT INTO notifications (`+notificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		n.ID, n.Title, n.Message, string(n.Type), n.Reference, n.IsRead, n.CreatedAt.UTC(), nullTime(n.ReadAt))
	return wrapError("notifications.insert", err)
}

// List pages newest first using a (created_at, id) keyset.
func (r notificationRepository) List(ctx context.Context, filter repositories.NotificationListFilter) (domain.CursorPage[domain.Notification], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Notification]{}, repositories.NewError("notifications.list", repositories.ErrorKindUnknown, err)
	}
	size := filter.Pagination.PageSize
	if size <= 0 {
		size = pagination.DefaultPageSize
	}

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.UnreadOnly {
		where = append(where, "is_read = "+arg(false))
	}
	if !cursor.IsZero() {
		at := cursor.CreatedAt.UTC()
		where = append(where, fmt.Sprintf("(created_at < %s OR (created_at = %s AND id < %s))", arg(at), arg(at), arg(cursor.ID)))
	}
	query := `SELECT ` + notificationColumns + ` FROM notifications`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT " + arg(size+1)

	rows, err := r.s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return domain.CursorPage[domain.Notification]{}, wrapError("notifications.list", err)
	}
	defer func() { _ = rows.Close() }()

	page := domain.CursorPage[domain.Notification]{Items: []domain.Notification{}}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return domain.CursorPage[domain.Notification]{}, wrapError("notifications.list", err)
		}
		if len(page.Items) == size {
			last := page.Items[size-1]
			page.NextPageToken = pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
			break
		}
		page.Items = append(page.Items, n)
	}
	if err := rows.Err(); err != nil {
		return domain.CursorPage[domain.Notification]{}, wrapError("notifications.list", err)
	}
	return page, nil
}

func (r notificationRepository) Counts(ctx context.Context) (domain.NotificationCounts, error) {
	var counts domain.NotificationCounts
	err := r.s.conn(ctx).QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(CASE WHEN is_read = $1 THEN 0 ELSE 1 END), 0)
		FROM notifications`, true).Scan(&counts.Total, &counts.Unread)
	if err != nil {
		return domain.NotificationCounts{}, wrapError("notifications.counts", err)
	}
	counts.Read = counts.Total - counts.Unread
	return counts, nil
}

func (r notificationRepository) MarkRead(ctx context.Context, notificationID string, readAt time.Time) (domain.Notification, error) {
	var updated domain.Notification
	err := r.s.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := r.s.conn(ctx).ExecContext(ctx, `UPDATE notifications SET is_read = $1, read_at = $2
			WHERE id = $3 AND is_read = $4`, true, readAt.UTC(), notificationID, false); err != nil {
			return wrapError("notifications.mark_read", err)
		}
		row := r.s.conn(ctx).QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, notificationID)
		n, err := scanNotification(row)
		if err != nil {
			return wrapError("notifications.mark_read", err)
		}
		updated = n
		return nil
	})
	return updated, err
}

func (r notificationRepository) MarkAllRead(ctx context.Context, readAt time.Time) (int, error) {
	res, err := r.s.conn(ctx).ExecContext(ctx, `UPDATE notifications SET is_read = $1, read_at = $2 WHERE is_read = $3`,
		true, readAt.UTC(), false)
	if err != nil {
		return 0, wrapError("notifications.mark_all_read", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r notificationRepository) Delete(ctx context.Context, notificationID string) error {
	res, err := r.s.conn(ctx).ExecContext(ctx, `DELETE FROM notifications WHERE id = $1`, notificationID)
	if err != nil {
		return wrapError("notifications.delete", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("notifications.delete", notificationID)
	}
	return nil
}

func scanNotification(row scanner) (domain.Notification, error) {
	var (
		n      domain.Notification
		kind   string
		readAt sql.NullTime
	)
	if err := row.Scan(&n.ID, &n.Title, &n.Message, &kind, &n.Reference, &n.IsRead, &n.CreatedAt, &readAt); err != nil {
		return domain.Notification{}, err
	}
	n.Type = domain.NotificationType(kind)
	n.CreatedAt = n.CreatedAt.UTC()
	n.ReadAt = timePtr(readAt)
	return n, nil
}
