package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage wraps a page of results with the token for the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// PaymentMethod identifies how the buyer intends to settle the invoice.
type PaymentMethod string

const (
	// PaymentMethodFull settles the whole price in a single transfer.
	PaymentMethodFull PaymentMethod = "full"
	// PaymentMethodDownPayment settles half of the price now and the remainder later.
	PaymentMethodDownPayment PaymentMethod = "dp"
)

// OrderStatus enumerates lifecycle states for service orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order awaits a bank transfer.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid indicates an administrator confirmed the transfer.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusCompleted indicates the service has been delivered.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled indicates the order was cancelled by an administrator.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusExpired indicates the payment window elapsed without a confirmed transfer.
	OrderStatusExpired OrderStatus = "expired"
)

// PurchaseStatus enumerates payment states for digital store purchases.
type PurchaseStatus string

const (
	PurchaseStatusPending  PurchaseStatus = "pending"
	PurchaseStatusVerified PurchaseStatus = "verified"
	PurchaseStatusRejected PurchaseStatus = "rejected"
	PurchaseStatusExpired  PurchaseStatus = "expired"
)

// CustomerSnapshot captures buyer contact details at the time of purchase.
type CustomerSnapshot struct {
	Name  string
	Email string
	Phone string
}

// PackageSnapshot freezes the purchased package so later catalog edits do not alter the order.
type PackageSnapshot struct {
	ID    string
	Name  string
	Price int64
}

// Order is a service package purchase settled by manual bank transfer.
type Order struct {
	ID              string
	InvoiceNumber   string
	Customer        CustomerSnapshot
	Package         PackageSnapshot
	Briefing        map[string]any
	PaymentMethod   PaymentMethod
	AmountDue       int64
	AmountDueLater  int64
	Status          OrderStatus
	PaymentDate     *time.Time
	Deadline        time.Time
	StatusChangedAt *time.Time
	StatusChangedBy string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// StorePurchase is a digital item purchase awaiting manual payment verification.
type StorePurchase struct {
	ID             string
	InvoiceNumber  string
	ItemID         string
	Customer       CustomerSnapshot
	Amount         int64
	PaymentStatus  PurchaseStatus
	Deadline       time.Time
	VerifiedAt     *time.Time
	VerifiedBy     string
	RejectedReason string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PriceType distinguishes free downloads from paid catalog items.
type PriceType string

const (
	PriceTypeFreebies PriceType = "freebies"
	PriceTypePaid     PriceType = "paid"
)

// CatalogPackage is a purchasable service package.
type CatalogPackage struct {
	ID       string
	Slug     string
	Name     string
	Price    int64
	Features []string
	Active   bool
}

// CatalogItem is a digital good sold in the store.
type CatalogItem struct {
	ID           string
	Slug         string
	Name         string
	PriceType    PriceType
	Price        int64
	CategoryName string
	AssetObject  string
	Active       bool
}

// BankAccount is a settlement account shown to buyers for manual transfers.
type BankAccount struct {
	ID            string
	BankName      string
	AccountNumber string
	AccountHolder string
	IsActive      bool
	Position      int
}

// NotificationType classifies operator inbox entries.
type NotificationType string

const (
	NotificationTypeInfo    NotificationType = "info"
	NotificationTypeSuccess NotificationType = "success"
	NotificationTypeWarning NotificationType = "warning"
	NotificationTypeError   NotificationType = "error"
)

// Notification is an operator inbox entry.
type Notification struct {
	ID        string
	Title     string
	Message   string
	Type      NotificationType
	Reference string
	IsRead    bool
	CreatedAt time.Time
	ReadAt    *time.Time
}

// NotificationCounts summarises the operator inbox.
type NotificationCounts struct {
	Total  int
	Unread int
	Read   int
}

// ArticleStatus enumerates publication states for articles.
type ArticleStatus string

const (
	ArticleStatusDraft     ArticleStatus = "draft"
	ArticleStatusPublished ArticleStatus = "published"
)

// Article is publishable CMS content whose first publication is announced to Telegram.
type Article struct {
	ID           string
	Slug         string
	Title        string
	Excerpt      string
	Body         string
	CategoryName string
	Status       ArticleStatus
	PublishedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OutboxEffect names a side effect delivered by the outbox dispatcher.
type OutboxEffect string

const (
	OutboxEffectAdminNotification OutboxEffect = "admin_notification"
	OutboxEffectRevalidate        OutboxEffect = "revalidate"
	OutboxEffectTelegramPost      OutboxEffect = "telegram_post"
	OutboxEffectPurchaseDelivery  OutboxEffect = "purchase_delivery"
)

// OutboxStatus enumerates delivery states for outbox tasks.
type OutboxStatus string

const (
	// OutboxStatusPending tasks are waiting for (re)delivery.
	OutboxStatusPending OutboxStatus = "pending"
	// OutboxStatusDelivered tasks completed successfully.
	OutboxStatusDelivered OutboxStatus = "delivered"
	// OutboxStatusDead tasks exhausted their retry budget and need operator attention.
	OutboxStatusDead OutboxStatus = "dead"
)

// OutboxTask is a side effect persisted alongside the record that caused it.
type OutboxTask struct {
	ID            string
	DedupeKey     string
	Effect        OutboxEffect
	AggregateKind string
	AggregateID   string
	Payload       map[string]any
	Status        OutboxStatus
	Attempts      int
	NextAttemptAt time.Time
	LeaseUntil    *time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeliveredAt   *time.Time
}

// OutboxDedupeKey builds the de-duplication key of an effect for a record.
func OutboxDedupeKey(aggregateKind, aggregateID string, effect OutboxEffect, discriminator ...string) string {
	key := aggregateKind + ":" + aggregateID + ":" + string(effect)
	for _, part := range discriminator {
		if part == "" {
			continue
		}
		key += ":" + part
	}
	return key
}

// OutboxTaskID derives the stable task identifier from its dedupe key so that every backend
// rejects a second task for the same effect.
func OutboxTaskID(dedupeKey string) string {
	sum := sha256.Sum256([]byte(dedupeKey))
	return hex.EncodeToString(sum[:16])
}

const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// SystemHealthReport summarises dependency checks for readiness probes.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// SystemHealthCheck captures the outcome of a single dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}
