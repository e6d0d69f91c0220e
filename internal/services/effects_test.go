package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/naiaprojects/naia-sub001/internal/domain"
	"github.com/naiaprojects/naia-sub001/internal/platform/storage"
)

type fakeSigner struct {
	objects []string
	err     error
}

func (f *fakeSigner) SignDownload(_ context.Context, object, fileName string, ttl time.Duration) (storage.DownloadURL, error) {
	if f.err != nil {
		return storage.DownloadURL{}, f.err
	}
	f.objects = append(f.objects, object)
	return storage.DownloadURL{URL: "https://storage.example/" + object + "?sig=1&name=" + fileName, ExpiresAt: orderTestNow.Add(ttl)}, nil
}

type capturePublisher struct {
	events []PurchaseDeliveryEvent
	err    error
}

func (c *capturePublisher) PublishPurchaseDelivery(_ context.Context, event PurchaseDeliveryEvent) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	c.events = append(c.events, event)
	return "msg-1", nil
}

func newDeliveryFixture(purchase domain.StorePurchase, item domain.CatalogItem) (PurchaseDeliveryEffect, *fakeSigner, *capturePublisher) {
	signer := &fakeSigner{}
	publisher := &capturePublisher{}
	catalog := &stubCatalogRepo{findItemFn: func(_ context.Context, key string) (domain.CatalogItem, error) {
		if key != item.ID {
			return domain.CatalogItem{}, notFoundErr("catalog.item")
		}
		return item, nil
	}}
	effect := PurchaseDeliveryEffect{
		Purchases: newMemoryPurchases(purchase),
		Catalog:   catalog,
		Signer:    signer,
		Publisher: publisher,
		URLTTL:    48 * time.Hour,
	}
	return effect, signer, publisher
}

func verifiedPurchase() domain.StorePurchase {
	p := pendingPurchase()
	p.PaymentStatus = domain.PurchaseStatusVerified
	p.VerifiedAt = valuePtr(orderTestNow.Add(time.Hour))
	return p
}

func presetItem() domain.CatalogItem {
	return domain.CatalogItem{ID: "item_preset", Name: "Preset Pack", PriceType: domain.PriceTypePaid, Price: 150_000, AssetObject: "preset-pack.zip", Active: true}
}

func deliveryTask(p domain.StorePurchase) OutboxTask {
	return newOutboxTask(purchaseAggregateKind, p.ID, domain.OutboxEffectPurchaseDelivery, map[string]any{
		"invoiceNumber": p.InvoiceNumber,
		"purchaseId":    p.ID,
		"itemId":        p.ItemID,
	}, orderTestNow)
}

func TestPurchaseDeliveryEffectPublishes(t *testing.T) {
	purchase := verifiedPurchase()
	effect, signer, publisher := newDeliveryFixture(purchase, presetItem())
	task := deliveryTask(purchase)

	if err := effect.HandleOutboxTask(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(signer.objects) != 1 || signer.objects[0] != "items/item_preset/assets/preset-pack.zip" {
		t.Fatalf("unexpected signed objects %v", signer.objects)
	}
	if len(publisher.events) != 1 {
		t.Fatalf("expected one event, got %d", len(publisher.events))
	}
	event := publisher.events[0]
	if event.EventID != task.ID || event.InvoiceNumber != purchase.InvoiceNumber || event.CustomerEmail != "budi@example.com" {
		t.Fatalf("unexpected event %+v", event)
	}
	if !event.ExpiresAt.Equal(orderTestNow.Add(48*time.Hour)) || !event.VerifiedAt.Equal(*purchase.VerifiedAt) {
		t.Fatalf("unexpected event times %+v", event)
	}
}

func TestPurchaseDeliveryEffectFailures(t *testing.T) {
	t.Run("not verified is permanent", func(t *testing.T) {
		effect, _, publisher := newDeliveryFixture(pendingPurchase(), presetItem())
		err := effect.HandleOutboxTask(context.Background(), deliveryTask(pendingPurchase()))
		if !IsPermanent(err) || len(publisher.events) != 0 {
			t.Fatalf("expected permanent error without publishing, got %v", err)
		}
	})
	t.Run("missing asset is permanent", func(t *testing.T) {
		item := presetItem()
		item.AssetObject = ""
		effect, _, _ := newDeliveryFixture(verifiedPurchase(), item)
		if err := effect.HandleOutboxTask(context.Background(), deliveryTask(verifiedPurchase())); !IsPermanent(err) {
			t.Fatalf("expected permanent error, got %v", err)
		}
	})
	t.Run("publish failure is retried", func(t *testing.T) {
		effect, _, publisher := newDeliveryFixture(verifiedPurchase(), presetItem())
		publisher.err = errors.New("pubsub unavailable")
		err := effect.HandleOutboxTask(context.Background(), deliveryTask(verifiedPurchase()))
		if err == nil || IsPermanent(err) {
			t.Fatalf("expected a retryable error, got %v", err)
		}
	})
	t.Run("signing failure is retried", func(t *testing.T) {
		effect, signer, _ := newDeliveryFixture(verifiedPurchase(), presetItem())
		signer.err = errors.New("iam unavailable")
		err := effect.HandleOutboxTask(context.Background(), deliveryTask(verifiedPurchase()))
		if err == nil || IsPermanent(err) {
			t.Fatalf("expected a retryable error, got %v", err)
		}
	})
}

type capturePoster struct {
	posts []TelegramArticle
}

func (c *capturePoster) PostArticle(_ context.Context, article TelegramArticle) error {
	c.posts = append(c.posts, article)
	return nil
}

func TestTelegramEffectDecodesPayload(t *testing.T) {
	poster := &capturePoster{}
	publishedAt := orderTestNow.Add(-time.Hour)
	task := telegramPostTask(TelegramPostCommand{ArticleID: "art_1", Title: "Hello", Slug: "hello", PublishedAt: &publishedAt}, orderTestNow)

	if err := (TelegramEffect{Poster: poster}).HandleOutboxTask(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(poster.posts) != 1 || poster.posts[0].Slug != "hello" || !poster.posts[0].PublishedAt.Equal(publishedAt) {
		t.Fatalf("unexpected posts %+v", poster.posts)
	}

	task.Payload = map[string]any{"articleId": "art_1"}
	if err := (TelegramEffect{Poster: poster}).HandleOutboxTask(context.Background(), task); !IsPermanent(err) {
		t.Fatalf("expected permanent error for incomplete payload, got %v", err)
	}
}
