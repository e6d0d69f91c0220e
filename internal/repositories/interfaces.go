package repositories

import (
	"context"
	"time"

	domain "github.com/naiaprojects/naia-sub001/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Purchases() PurchaseRepository
	Catalog() CatalogRepository
	BankAccounts() BankAccountRepository
	Notifications() NotificationRepository
	Articles() ArticleRepository
	Outbox() OutboxRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
// Repositories invoked with the context passed to fn participate in the same transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists service orders keyed by invoice number.
type OrderRepository interface {
	// Insert must fail with a conflict RepositoryError when the invoice number already exists.
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByInvoice(ctx context.Context, invoiceNumber string) (domain.Order, error)
	ListPendingBefore(ctx context.Context, deadline time.Time, limit int) ([]domain.Order, error)
}

// PurchaseRepository persists store purchases keyed by invoice number.
type PurchaseRepository interface {
	// Insert must fail with a conflict RepositoryError when the invoice number already exists.
	Insert(ctx context.Context, purchase domain.StorePurchase) error
	Update(ctx context.Context, purchase domain.StorePurchase) error
	FindByInvoice(ctx context.Context, invoiceNumber string) (domain.StorePurchase, error)
	ListPendingBefore(ctx context.Context, deadline time.Time, limit int) ([]domain.StorePurchase, error)
}

// CatalogRepository exposes the authoritative package and item catalog.
type CatalogRepository interface {
	// FindPackage resolves by identifier first, then by slug.
	FindPackage(ctx context.Context, idOrSlug string) (domain.CatalogPackage, error)
	// FindItem resolves by identifier first, then by slug.
	FindItem(ctx context.Context, idOrSlug string) (domain.CatalogItem, error)
	UpsertPackage(ctx context.Context, pkg domain.CatalogPackage) error
	UpsertItem(ctx context.Context, item domain.CatalogItem) error
}

// BankAccountRepository exposes settlement accounts.
type BankAccountRepository interface {
	ListActive(ctx context.Context) ([]domain.BankAccount, error)
	Upsert(ctx context.Context, account domain.BankAccount) error
}

// NotificationRepository persists the operator inbox.
type NotificationRepository interface {
	// Insert must fail with a conflict RepositoryError when the identifier already exists.
	Insert(ctx context.Context, notification domain.Notification) error
	List(ctx context.Context, filter NotificationListFilter) (domain.CursorPage[domain.Notification], error)
	Counts(ctx context.Context) (domain.NotificationCounts, error)
	MarkRead(ctx context.Context, notificationID string, readAt time.Time) (domain.Notification, error)
	MarkAllRead(ctx context.Context, readAt time.Time) (int, error)
	Delete(ctx context.Context, notificationID string) error
}

// ArticleRepository persists publishable content.
type ArticleRepository interface {
	FindByID(ctx context.Context, articleID string) (domain.Article, error)
	Save(ctx context.Context, article domain.Article) error
}

// OutboxRepository stores side-effect tasks written alongside their records.
type OutboxRepository interface {
	// Enqueue stores tasks, skipping any whose dedupe key already exists. It returns the
	// number of tasks that were newly stored.
	Enqueue(ctx context.Context, tasks []domain.OutboxTask) (int, error)
	// ClaimDue leases up to limit pending tasks whose next attempt is due.
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]domain.OutboxTask, error)
	MarkDelivered(ctx context.Context, taskID string, deliveredAt time.Time) error
	// Reschedule records a failed attempt. A zero nextAttempt marks the task dead.
	Reschedule(ctx context.Context, taskID string, attempts int, nextAttempt time.Time, lastError string, now time.Time) error
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	// Next increments counterID by one and returns the new value. When limit is positive and
	// the increment would exceed it, the counter is left untouched and a CounterError with
	// CounterErrorExhausted is returned.
	Next(ctx context.Context, counterID string, limit int64) (int64, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

// NotificationListFilter narrows inbox listings.
type NotificationListFilter struct {
	UnreadOnly bool
	Pagination domain.Pagination
}
