package services

import (
	"context"
	"time"

	domain "github.com/naiaprojects/naia-sub001/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Order              = domain.Order
	OrderStatus        = domain.OrderStatus
	StorePurchase      = domain.StorePurchase
	PurchaseStatus     = domain.PurchaseStatus
	CustomerSnapshot   = domain.CustomerSnapshot
	CatalogPackage     = domain.CatalogPackage
	CatalogItem        = domain.CatalogItem
	BankAccount        = domain.BankAccount
	Notification       = domain.Notification
	NotificationCounts = domain.NotificationCounts
	Article            = domain.Article
	OutboxTask         = domain.OutboxTask
	PaymentMethod      = domain.PaymentMethod
	SystemHealthReport = domain.SystemHealthReport
)

// CounterService issues bounded sequence numbers.
type CounterService interface {
	Next(ctx context.Context, counterID string, limit int64) (int64, error)
}

// InvoiceService mints invoice numbers shared by orders and store purchases.
type InvoiceService interface {
	Next(ctx context.Context, now time.Time) (string, error)
}

// CatalogService resolves authoritative package and item data, including prices.
type CatalogService interface {
	GetPackage(ctx context.Context, idOrSlug string) (CatalogPackage, error)
	GetItem(ctx context.Context, idOrSlug string) (CatalogItem, error)
}

// BankAccountService exposes settlement accounts shown to buyers.
type BankAccountService interface {
	ListActive(ctx context.Context) ([]BankAccount, error)
}

// OrderService captures service package orders and drives their status lifecycle.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (OrderReceipt, error)
	GetOrder(ctx context.Context, invoiceNumber string) (OrderReceipt, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusCommand) (Order, error)
	// NotifyAdmin enqueues the creation notification for an order. It is deduplicated with
	// the notification enqueued when the order was created.
	NotifyAdmin(ctx context.Context, cmd NotifyAdminCommand) error
}

// PurchaseService captures digital item purchases and their manual verification.
type PurchaseService interface {
	CreatePurchase(ctx context.Context, cmd CreatePurchaseCommand) (PurchaseReceipt, error)
	GetPurchase(ctx context.Context, invoiceNumber string) (PurchaseView, error)
	Verify(ctx context.Context, cmd PurchaseDecisionCommand) (StorePurchase, error)
	Reject(ctx context.Context, cmd PurchaseDecisionCommand) (StorePurchase, error)
}

// NotificationService manages the operator inbox.
type NotificationService interface {
	List(ctx context.Context, filter NotificationFilter) (domain.CursorPage[Notification], error)
	Counts(ctx context.Context) (NotificationCounts, error)
	MarkRead(ctx context.Context, notificationID string) (Notification, error)
	MarkAllRead(ctx context.Context) (int, error)
	Delete(ctx context.Context, notificationID string) error
}

// ContentService saves publishable content and fans out publish side effects.
type ContentService interface {
	SaveArticle(ctx context.Context, cmd SaveArticleCommand) (Article, error)
	RequestTelegramPost(ctx context.Context, cmd TelegramPostCommand) (bool, error)
	RequestRevalidate(ctx context.Context, cmd RevalidateCommand) error
}

// OutboxDispatcher delivers persisted side effects.
type OutboxDispatcher interface {
	DispatchDue(ctx context.Context) (DispatchResult, error)
	// Kick wakes the background loop so freshly enqueued tasks go out without waiting a tick.
	Kick()
	Run(ctx context.Context, interval time.Duration)
}

// ExpiryService expires pending records whose payment window elapsed.
type ExpiryService interface {
	Sweep(ctx context.Context) (SweepResult, error)
}

// SystemService exposes runtime diagnostics.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// OutboxKicker is notified after tasks are committed.
type OutboxKicker interface {
	Kick()
}

// CreateOrderCommand is the buyer's checkout submission. Price and amounts are always
// recomputed from the catalog; AmountHint only guards against a stale client view.
type CreateOrderCommand struct {
	PackageRef    string
	Customer      CustomerSnapshot
	PaymentMethod PaymentMethod
	AmountHint    *int64
	PaymentDate   *time.Time
	Briefing      map[string]any
}

// OrderReceipt is what the buyer sees after checkout or on lookup.
type OrderReceipt struct {
	Order        Order
	Countdown    Countdown
	WhatsAppLink string
}

// OrderStatusCommand is an administrator status change.
type OrderStatusCommand struct {
	InvoiceNumber string
	TargetStatus  OrderStatus
	ActorID       string
}

// NotifyAdminCommand carries the optional payment confirmation sent by the buyer.
type NotifyAdminCommand struct {
	InvoiceNumber string
	PaymentMethod PaymentMethod
	Amount        *int64
	PaymentData   map[string]any
}

// CreatePurchaseCommand is a store checkout for a single digital item.
type CreatePurchaseCommand struct {
	ItemRef    string
	Customer   CustomerSnapshot
	AmountHint *int64
}

// PurchaseReceipt is returned after a store checkout.
type PurchaseReceipt struct {
	Purchase     StorePurchase
	Item         CatalogItem
	Countdown    Countdown
	WhatsAppLink string
}

// PurchaseView joins a purchase with its catalog item.
type PurchaseView struct {
	Purchase  StorePurchase
	Item      CatalogItem
	Countdown Countdown
}

// PurchaseDecisionCommand verifies or rejects a purchase.
type PurchaseDecisionCommand struct {
	InvoiceNumber string
	ActorID       string
	Reason        string
}

// NotificationFilter narrows inbox listings.
type NotificationFilter struct {
	UnreadOnly bool
	Pagination Pagination
}

// SaveArticleCommand upserts an article.
type SaveArticleCommand struct {
	ID           string
	Slug         string
	Title        string
	Excerpt      string
	Body         string
	CategoryName string
	Status       domain.ArticleStatus
	ActorID      string
}

// TelegramPostCommand asks for an article announcement. PublishedAt ties the request to
// a specific publish transition.
type TelegramPostCommand struct {
	ArticleID    string
	Title        string
	Slug         string
	Excerpt      string
	CategoryName string
	PublishedAt  *time.Time
}

// RevalidateCommand requests cache invalidation. Empty Paths means every cached page.
type RevalidateCommand struct {
	Paths []string
}

// DispatchResult summarises one dispatcher pass.
type DispatchResult struct {
	Claimed     int
	Delivered   int
	Rescheduled int
	Dead        int
}

// SweepResult summarises one expiry pass.
type SweepResult struct {
	ExpiredOrders    int
	ExpiredPurchases int
}
