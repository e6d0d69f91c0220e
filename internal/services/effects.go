package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	domain "github.com/naiaprojects/naia-sub001/internal/domain"
	"github.com/naiaprojects/naia-sub001/internal/platform/storage"
	"github.com/naiaprojects/naia-sub001/internal/repositories"
)

// NotificationEffect stores admin notifications. The notification takes the task ID, so a
// redelivered task finds its notification already present.
type NotificationEffect struct {
	Notifications repositories.NotificationRepository
	Clock         func() time.Time
}

func (e NotificationEffect) HandleOutboxTask(ctx context.Context, task OutboxTask) error {
	if e.Notifications == nil {
		return errors.New("notification effect: repository is required")
	}
	title := payloadString(task.Payload, "title")
	if title == "" {
		return Permanent(fmt.Errorf("notification effect: task %s has no title", task.ID))
	}
	kind := domain.NotificationType(payloadString(task.Payload, "type"))
	switch kind {
	case domain.NotificationTypeInfo, domain.NotificationTypeSuccess, domain.NotificationTypeWarning, domain.NotificationTypeError:
	default:
		kind = domain.NotificationTypeInfo
	}
	err := e.Notifications.Insert(ctx, Notification{
		ID:        task.ID,
		Title:     title,
		Message:   payloadString(task.Payload, "message"),
		Type:      kind,
		Reference: payloadString(task.Payload, "reference"),
		CreatedAt: ensureClock(e.Clock)(),
	})
	if err != nil && !isRepoConflict(err) {
		return err
	}
	return nil
}

// RevalidateEffect purges cached renders for the paths named in the task.
type RevalidateEffect struct {
	Revalidator *Revalidator
}

func (e RevalidateEffect) HandleOutboxTask(ctx context.Context, task OutboxTask) error {
	if e.Revalidator == nil {
		return errors.New("revalidate effect: revalidator is required")
	}
	return e.Revalidator.Revalidate(ctx, payloadStrings(task.Payload, "paths"))
}

// TelegramEffect announces a published article.
type TelegramEffect struct {
	Poster TelegramPoster
}

func (e TelegramEffect) HandleOutboxTask(ctx context.Context, task OutboxTask) error {
	if e.Poster == nil {
		return errors.New("telegram effect: poster is required")
	}
	post := TelegramArticle{
		ArticleID:    payloadString(task.Payload, "articleId"),
		Title:        payloadString(task.Payload, "title"),
		Slug:         payloadString(task.Payload, "slug"),
		Excerpt:      payloadString(task.Payload, "excerpt"),
		CategoryName: payloadString(task.Payload, "categoryName"),
	}
	if post.Title == "" || post.Slug == "" {
		return Permanent(fmt.Errorf("telegram effect: task %s lacks title or slug", task.ID))
	}
	if publishedAt, ok := payloadTime(task.Payload, "publishedAt"); ok {
		post.PublishedAt = publishedAt
	}
	return e.Poster.PostArticle(ctx, post)
}

// PurchaseDeliveryEvent is published once a purchase is verified so the mailer can send the
// download link.
type PurchaseDeliveryEvent struct {
	EventID       string    `json:"eventId"`
	PurchaseID    string    `json:"purchaseId"`
	InvoiceNumber string    `json:"invoiceNumber"`
	ItemID        string    `json:"itemId"`
	ItemName      string    `json:"itemName"`
	CustomerName  string    `json:"customerName"`
	CustomerEmail string    `json:"customerEmail"`
	DownloadURL   string    `json:"downloadUrl"`
	ExpiresAt     time.Time `json:"expiresAt"`
	VerifiedAt    time.Time `json:"verifiedAt"`
}

// DeliveryPublisher hands purchase deliveries to the messaging layer.
type DeliveryPublisher interface {
	PublishPurchaseDelivery(ctx context.Context, event PurchaseDeliveryEvent) (string, error)
}

// DownloadSigner issues time limited download URLs.
type DownloadSigner interface {
	SignDownload(ctx context.Context, object, fileName string, ttl time.Duration) (storage.DownloadURL, error)
}

// PurchaseDeliveryEffect signs the item asset and publishes the delivery event. The event ID
// is the task ID so subscribers can drop redeliveries.
type PurchaseDeliveryEffect struct {
	Purchases repositories.PurchaseRepository
	Catalog   repositories.CatalogRepository
	Signer    DownloadSigner
	Publisher DeliveryPublisher
	URLTTL    time.Duration
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

func (e PurchaseDeliveryEffect) HandleOutboxTask(ctx context.Context, task OutboxTask) error {
	if e.Purchases == nil || e.Catalog == nil || e.Signer == nil || e.Publisher == nil {
		return errors.New("purchase delivery effect: not configured")
	}
	invoice := payloadString(task.Payload, "invoiceNumber")
	purchase, err := e.Purchases.FindByInvoice(ctx, invoice)
	if err != nil {
		if isRepoNotFound(err) {
			return Permanent(fmt.Errorf("purchase delivery: purchase %s: %w", invoice, err))
		}
		return err
	}
	if purchase.PaymentStatus != domain.PurchaseStatusVerified {
		return Permanent(fmt.Errorf("purchase delivery: purchase %s is %s", invoice, purchase.PaymentStatus))
	}
	item, err := e.Catalog.FindItem(ctx, purchase.ItemID)
	if err != nil {
		if isRepoNotFound(err) {
			return Permanent(fmt.Errorf("purchase delivery: item %s: %w", purchase.ItemID, err))
		}
		return err
	}
	object, err := storage.ItemAssetPath(item.ID, item.AssetObject)
	if err != nil {
		return Permanent(fmt.Errorf("purchase delivery: item %s asset: %w", item.ID, err))
	}
	ttl := e.URLTTL
	if ttl <= 0 {
		ttl = DefaultPaymentWindow
	}
	download, err := e.Signer.SignDownload(ctx, object, path.Base(object), ttl)
	if err != nil {
		return fmt.Errorf("purchase delivery: sign %s: %w", object, err)
	}

	event := PurchaseDeliveryEvent{
		EventID:       task.ID,
		PurchaseID:    purchase.ID,
		InvoiceNumber: purchase.InvoiceNumber,
		ItemID:        item.ID,
		ItemName:      item.Name,
		CustomerName:  purchase.Customer.Name,
		CustomerEmail: purchase.Customer.Email,
		DownloadURL:   download.URL,
		ExpiresAt:     download.ExpiresAt,
	}
	if purchase.VerifiedAt != nil {
		event.VerifiedAt = *purchase.VerifiedAt
	}
	messageID, err := e.Publisher.PublishPurchaseDelivery(ctx, event)
	if err != nil {
		return err
	}
	ensureLogger(e.Logger)(ctx, "purchase.delivery.published", map[string]any{
		"invoiceNumber": purchase.InvoiceNumber,
		"messageId":     messageID,
		"object":        strings.TrimSpace(object),
		"customerEmail": purchase.Customer.Email,
	})
	return nil
}
