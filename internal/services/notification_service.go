package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/naiaprojects/naia-sub001/internal/domain"
	"github.com/naiaprojects/naia-sub001/internal/platform/pagination"
	"github.com/naiaprojects/naia-sub001/internal/repositories"
)

var (
	// ErrNotificationInvalidInput signals an empty identifier or bad page token.
	ErrNotificationInvalidInput = errors.New("notification: invalid input")
	// ErrNotificationNotFound indicates the notification does not exist.
	ErrNotificationNotFound = errors.New("notification: not found")
)

// NotificationServiceDeps bundles collaborators for the operator inbox.
type NotificationServiceDeps struct {
	Notifications repositories.NotificationRepository
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type notificationService struct {
	repo   repositories.NotificationRepository
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

func NewNotificationService(deps NotificationServiceDeps) (NotificationService, error) {
	if deps.Notifications == nil {
		return nil, errors.New("notification service: repository is required")
	}
	return &notificationService{
		repo:   deps.Notifications,
		clock:  ensureClock(deps.Clock),
		logger: ensureLogger(deps.Logger),
	}, nil
}

func (s *notificationService) List(ctx context.Context, filter NotificationFilter) (domain.CursorPage[Notification], error) {
	size := filter.Pagination.PageSize
	switch {
	case size <= 0:
		size = pagination.DefaultPageSize
	case size > pagination.DefaultMaxPageSize:
		size = pagination.DefaultMaxPageSize
	}
	token := strings.TrimSpace(filter.Pagination.PageToken)
	if _, err := pagination.DecodeToken(token); err != nil {
		return domain.CursorPage[Notification]{}, fmt.Errorf("%w: %v", ErrNotificationInvalidInput, err)
	}
	return s.repo.List(ctx, repositories.NotificationListFilter{
		UnreadOnly: filter.UnreadOnly,
		Pagination: domain.Pagination{PageSize: size, PageToken: token},
	})
}

func (s *notificationService) Counts(ctx context.Context) (NotificationCounts, error) {
	return s.repo.Counts(ctx)
}

// MarkRead is idempotent; an already read notification keeps its original read time.
func (s *notificationService) MarkRead(ctx context.Context, notificationID string) (Notification, error) {
	id := strings.TrimSpace(notificationID)
	if id == "" {
		return Notification{}, fmt.Errorf("%w: notification id is required", ErrNotificationInvalidInput)
	}
	n, err := s.repo.MarkRead(ctx, id, s.clock())
	if err != nil {
		return Notification{}, s.mapError(err)
	}
	return n, nil
}

func (s *notificationService) MarkAllRead(ctx context.Context) (int, error) {
	updated, err := s.repo.MarkAllRead(ctx, s.clock())
	if err != nil {
		return 0, err
	}
	s.logger(ctx, "notifications.read_all", map[string]any{"updated": updated})
	return updated, nil
}

func (s *notificationService) Delete(ctx context.Context, notificationID string) error {
	id := strings.TrimSpace(notificationID)
	if id == "" {
		return fmt.Errorf("%w: notification id is required", ErrNotificationInvalidInput)
	}
	return s.mapError(s.repo.Delete(ctx, id))
}

func (s *notificationService) mapError(err error) error {
	if err != nil && isRepoNotFound(err) {
		return fmt.Errorf("%w: %v", ErrNotificationNotFound, err)
	}
	return err
}
