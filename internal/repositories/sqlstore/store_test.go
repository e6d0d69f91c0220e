package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/naiaprojects/naia-sub001/internal/domain"
	"github.com/naiaprojects/naia-sub001/internal/repositories"
)

var baseTime = time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)

func openSQLite(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.Context(), "sqlite", filepath.Join(t.TempDir(), "naia.db"))
	require.NoError(t, err)
	store.now = func() time.Time { return baseTime }
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return store
}

func sampleOrder(invoice string) domain.Order {
	return domain.Order{
		ID:             "ord-" + invoice,
		InvoiceNumber:  invoice,
		Customer:       domain.CustomerSnapshot{Name: "Sari", Email: "sari@example.com", Phone: "628123"},
		Package:        domain.PackageSnapshot{ID: "pkg-1", Name: "Landing Page", Price: 1_500_000},
		Briefing:       map[string]any{"brand": "Kopi Senja"},
		PaymentMethod:  domain.PaymentMethodDownPayment,
		AmountDue:      750_000,
		AmountDueLater: 750_000,
		Status:         domain.OrderStatusPending,
		Deadline:       baseTime.Add(72 * time.Hour),
		CreatedAt:      baseTime,
		UpdatedAt:      baseTime,
	}
}

func TestOrdersRoundTripAndConflict(t *testing.T) {
	store := openSQLite(t)
	ctx := t.Context()
	orders := store.Orders()

	require.NoError(t, orders.Insert(ctx, sampleOrder("INV-20250301-001")))
	err := orders.Insert(ctx, sampleOrder("INV-20250301-001"))
	require.Error(t, err)
	assert.True(t, repositories.IsConflict(err), "expected conflict, got %v", err)

	got, err := orders.FindByInvoice(ctx, "INV-20250301-001")
	require.NoError(t, err)
	assert.Equal(t, "Kopi Senja", got.Briefing["brand"])
	assert.Equal(t, int64(750_000), got.AmountDueLater)
	assert.True(t, got.Deadline.Equal(baseTime.Add(72*time.Hour)))
	assert.Nil(t, got.PaymentDate)

	paid := baseTime.Add(time.Hour)
	got.Status = domain.OrderStatusPaid
	got.PaymentDate = &paid
	got.StatusChangedAt = &paid
	got.StatusChangedBy = "staff-1"
	got.UpdatedAt = paid
	require.NoError(t, orders.Update(ctx, got))

	reloaded, err := orders.FindByInvoice(ctx, "INV-20250301-001")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, reloaded.Status)
	require.NotNil(t, reloaded.PaymentDate)
	assert.True(t, reloaded.PaymentDate.Equal(paid))

	_, err = orders.FindByInvoice(ctx, "INV-20250301-999")
	assert.True(t, repositories.IsNotFound(err))
	assert.True(t, repositories.IsNotFound(orders.Update(ctx, sampleOrder("INV-20250301-999"))))
}

func TestOrdersListPendingBefore(t *testing.T) {
	store := openSQLite(t)
	ctx := t.Context()

	early := sampleOrder("INV-20250301-001")
	late := sampleOrder("INV-20250301-002")
	late.Deadline = baseTime.Add(96 * time.Hour)
	paid := sampleOrder("INV-20250301-003")
	paid.Status = domain.OrderStatusPaid
	for _, o := range []domain.Order{early, late, paid} {
		require.NoError(t, store.Orders().Insert(ctx, o))
	}

	due, err := store.Orders().ListPendingBefore(ctx, baseTime.Add(80*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "INV-20250301-001", due[0].InvoiceNumber)
}

func TestPurchasesRoundTrip(t *testing.T) {
	store := openSQLite(t)
	ctx := t.Context()
	purchase := domain.StorePurchase{
		ID:            "pur-1",
		InvoiceNumber: "INV-20250301-004",
		ItemID:        "item-1",
		Customer:      domain.CustomerSnapshot{Name: "Budi", Email: "budi@example.com"},
		Amount:        99_000,
		PaymentStatus: domain.PurchaseStatusPending,
		Deadline:      baseTime.Add(72 * time.Hour),
		CreatedAt:     baseTime,
		UpdatedAt:     baseTime,
	}
	require.NoError(t, store.Purchases().Insert(ctx, purchase))

	verifiedAt := baseTime.Add(2 * time.Hour)
	purchase.PaymentStatus = domain.PurchaseStatusVerified
	purchase.VerifiedAt = &verifiedAt
	purchase.VerifiedBy = "staff-2"
	purchase.UpdatedAt = verifiedAt
	require.NoError(t, store.Purchases().Update(ctx, purchase))

	got, err := store.Purchases().FindByInvoice(ctx, purchase.InvoiceNumber)
	require.NoError(t, err)
	assert.Equal(t, domain.PurchaseStatusVerified, got.PaymentStatus)
	assert.Equal(t, "staff-2", got.VerifiedBy)

	pending, err := store.Purchases().ListPendingBefore(ctx, baseTime.Add(100*time.Hour), 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCatalogFindByIDOrSlug(t *testing.T) {
	store := openSQLite(t)
	ctx := t.Context()

	require.NoError(t, store.Catalog().UpsertPackage(ctx, domain.CatalogPackage{
		ID: "pkg-1", Slug: "landing-page", Name: "Landing Page", Price: 1_500_000, Features: []string{"1 page"}, Active: true,
	}))
	require.NoError(t, store.Catalog().UpsertItem(ctx, domain.CatalogItem{
		ID: "item-1", Slug: "ui-kit", Name: "UI Kit", PriceType: domain.PriceTypePaid, Price: 99_000, Active: true,
	}))

	pkg, err := store.Catalog().FindPackage(ctx, "landing-page")
	require.NoError(t, err)
	assert.Equal(t, "pkg-1", pkg.ID)
	assert.Equal(t, []string{"1 page"}, pkg.Features)

	item, err := store.Catalog().FindItem(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PriceTypePaid, item.PriceType)

	_, err = store.Catalog().FindItem(ctx, "missing")
	assert.True(t, repositories.IsNotFound(err))
}

func TestBankAccountsListActiveOrdered(t *testing.T) {
	store := openSQLite(t)
	ctx := t.Context()
	accounts := []domain.BankAccount{
		{ID: "b2", BankName: "BNI", AccountNumber: "222", AccountHolder: "Naia", IsActive: true, Position: 2},
		{ID: "b1", BankName: "BCA", AccountNumber: "111", AccountHolder: "Naia", IsActive: true, Position: 1},
		{ID: "b3", BankName: "BRI", AccountNumber: "333", AccountHolder: "Naia", IsActive: false, Position: 0},
	}
	for _, a := range accounts {
		require.NoError(t, store.BankAccounts().Upsert(ctx, a))
	}
	active, err := store.BankAccounts().ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "b1", active[0].ID)
	assert.Equal(t, "b2", active[1].ID)
}

func TestNotificationsLifecycle(t *testing.T) {
	store := openSQLite(t)
	ctx := t.Context()
	repo := store.Notifications()

	for i, id := range []string{"n1", "n2", "n3"} {
		require.NoError(t, repo.Insert(ctx, domain.Notification{
			ID: id, Title: "Order baru", Message: "INV", Type: domain.NotificationTypeInfo,
			CreatedAt: baseTime.Add(time.Duration(i) * time.Minute),
		}))
	}
	assert.True(t, repositories.IsConflict(repo.Insert(ctx, domain.Notification{ID: "n1", CreatedAt: baseTime})))

	first, err := repo.List(ctx, repositories.NotificationListFilter{Pagination: domain.Pagination{PageSize: 2}})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	assert.Equal(t, "n3", first.Items[0].ID)
	assert.NotEmpty(t, first.NextPageToken)

	second, err := repo.List(ctx, repositories.NotificationListFilter{Pagination: domain.Pagination{PageSize: 2, PageToken: first.NextPageToken}})
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.Equal(t, "n1", second.Items[0].ID)
	assert.Empty(t, second.NextPageToken)

	read, err := repo.MarkRead(ctx, "n2", baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, read.IsRead)
	require.NotNil(t, read.ReadAt)

	counts, err := repo.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationCounts{Total: 3, Unread: 2, Read: 1}, counts)

	unread, err := repo.List(ctx, repositories.NotificationListFilter{UnreadOnly: true})
	require.NoError(t, err)
	assert.Len(t, unread.Items, 2)

	updated, err := repo.MarkAllRead(ctx, baseTime.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, updated)

	require.NoError(t, repo.Delete(ctx, "n1"))
	assert.True(t, repositories.IsNotFound(repo.Delete(ctx, "n1")))
	_, err = repo.MarkRead(ctx, "n1", baseTime)
	assert.True(t, repositories.IsNotFound(err))
}

func TestArticlesSaveUpserts(t *testing.T) {
	store := openSQLite(t)
	ctx := t.Context()
	article := domain.Article{ID: "a1", Slug: "halo", Title: "Halo", Status: domain.ArticleStatusDraft, CreatedAt: baseTime, UpdatedAt: baseTime}
	require.NoError(t, store.Articles().Save(ctx, article))

	published := baseTime.Add(time.Hour)
	article.Status = domain.ArticleStatusPublished
	article.PublishedAt = &published
	require.NoError(t, store.Articles().Save(ctx, article))

	got, err := store.Articles().FindByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.ArticleStatusPublished, got.Status)
	require.NotNil(t, got.PublishedAt)
	assert.True(t, got.PublishedAt.Equal(published))
}

func TestOutboxEnqueueClaimDeliver(t *testing.T) {
	store := openSQLite(t)
	ctx := t.Context()
	outbox := store.Outbox()

	key := domain.OutboxDedupeKey("order", "ord-1", domain.OutboxEffectAdminNotification)
	task := domain.OutboxTask{
		DedupeKey: key, Effect: domain.OutboxEffectAdminNotification, AggregateKind: "order", AggregateID: "ord-1",
		Payload: map[string]any{"invoiceNumber": "INV-20250301-001"}, NextAttemptAt: baseTime, CreatedAt: baseTime, UpdatedAt: baseTime,
	}
	stored, err := outbox.Enqueue(ctx, []domain.OutboxTask{task, task})
	require.NoError(t, err)
	assert.Equal(t, 1, stored)

	claimed, err := outbox.ClaimDue(ctx, baseTime, 2*time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, domain.OutboxTaskID(key), claimed[0].ID)
	assert.Equal(t, "INV-20250301-001", claimed[0].Payload["invoiceNumber"])

	again, err := outbox.ClaimDue(ctx, baseTime.Add(time.Minute), 2*time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, again, "leased task must not be claimed twice")

	require.NoError(t, outbox.Reschedule(ctx, claimed[0].ID, 1, baseTime.Add(5*time.Minute), "boom", baseTime))
	retried, err := outbox.ClaimDue(ctx, baseTime.Add(5*time.Minute), 2*time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, retried, 1)
	assert.Equal(t, 1, retried[0].Attempts)
	assert.Equal(t, "boom", retried[0].LastError)

	require.NoError(t, outbox.MarkDelivered(ctx, claimed[0].ID, baseTime.Add(6*time.Minute)))
	none, err := outbox.ClaimDue(ctx, baseTime.Add(time.Hour), 2*time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.True(t, repositories.IsNotFound(outbox.MarkDelivered(ctx, "missing", baseTime)))
}

func TestOutboxRescheduleZeroMarksDead(t *testing.T) {
	store := openSQLite(t)
	ctx := t.Context()
	key := domain.OutboxDedupeKey("purchase", "pur-1", domain.OutboxEffectPurchaseDelivery)
	_, err := store.Outbox().Enqueue(ctx, []domain.OutboxTask{{
		DedupeKey: key, Effect: domain.OutboxEffectPurchaseDelivery, AggregateKind: "purchase", AggregateID: "pur-1",
		NextAttemptAt: baseTime, CreatedAt: baseTime, UpdatedAt: baseTime,
	}})
	require.NoError(t, err)

	require.NoError(t, store.Outbox().Reschedule(ctx, domain.OutboxTaskID(key), 8, time.Time{}, "gave up", baseTime))
	claimed, err := store.Outbox().ClaimDue(ctx, baseTime.Add(24*time.Hour), time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestCounterNextRespectsLimit(t *testing.T) {
	store := openSQLite(t)
	ctx := t.Context()

	for want := int64(1); want <= 3; want++ {
		got, err := store.Counters().Next(ctx, "invoice-20250301", 3)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := store.Counters().Next(ctx, "invoice-20250301", 3)
	var counterErr *repositories.CounterError
	require.True(t, errors.As(err, &counterErr), "expected counter error, got %v", err)
	assert.Equal(t, repositories.CounterErrorExhausted, counterErr.Code)

	other, err := store.Counters().Next(ctx, "invoice-20250302", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), other)

	_, err = store.Counters().Next(ctx, " ", 3)
	require.True(t, errors.As(err, &counterErr))
	assert.Equal(t, repositories.CounterErrorInvalidInput, counterErr.Code)
}

func TestRunInTxRollsBack(t *testing.T) {
	store := openSQLite(t)
	ctx := t.Context()
	boom := errors.New("boom")

	err := store.RunInTx(ctx, func(ctx context.Context) error {
		require.NoError(t, store.Orders().Insert(ctx, sampleOrder("INV-20250301-010")))
		return store.RunInTx(ctx, func(context.Context) error { return boom })
	})
	require.ErrorIs(t, err, boom)

	_, err = store.Orders().FindByInvoice(ctx, "INV-20250301-010")
	assert.True(t, repositories.IsNotFound(err))
}
