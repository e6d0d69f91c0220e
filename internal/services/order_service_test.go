package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/naiaprojects/naia-sub001/internal/domain"
)

var orderTestNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

type orderFixture struct {
	svc     OrderService
	orders  *memoryOrders
	outbox  *memoryOutbox
	kicker  *countingKicker
	unit    *stubUnitOfWork
	logger  *captureLogger
	catalog *stubCatalogService
}

func newOrderFixture(t *testing.T, seed ...domain.Order) *orderFixture {
	t.Helper()
	f := &orderFixture{
		orders: newMemoryOrders(seed...),
		outbox: newMemoryOutbox(),
		kicker: &countingKicker{},
		unit:   &stubUnitOfWork{},
		logger: &captureLogger{},
		catalog: &stubCatalogService{packages: map[string]domain.CatalogPackage{
			"landing-page": {ID: "pkg_landing", Slug: "landing-page", Name: "Landing Page", Price: 1_000_000, Active: true},
		}},
	}
	invoices := newTestInvoiceService(t, newSequenceCounters(), time.UTC)
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:      f.orders,
		Outbox:      f.outbox,
		UnitOfWork:  f.unit,
		Catalog:     f.catalog,
		Invoices:    invoices,
		Handoff:     newTestHandoff(t),
		Kicker:      f.kicker,
		Clock:       fixedClock(orderTestNow),
		IDGenerator: func() string { return "01TEST" },
		Logger:      f.logger.log,
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	f.svc = svc
	return f
}

func validOrderCommand() CreateOrderCommand {
	return CreateOrderCommand{
		PackageRef:    "landing-page",
		Customer:      CustomerSnapshot{Name: "  Sari   Dewi ", Email: "Sari@Example.com", Phone: "0812-3456-7890"},
		PaymentMethod: domain.PaymentMethodDownPayment,
		Briefing:      map[string]any{"brand": "Kopi Senja"},
	}
}

func TestOrderServiceCreateOrderDownPayment(t *testing.T) {
	f := newOrderFixture(t)
	receipt, err := f.svc.CreateOrder(context.Background(), validOrderCommand())
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	order := receipt.Order
	if order.InvoiceNumber != "INV-20250314-001" {
		t.Fatalf("unexpected invoice %s", order.InvoiceNumber)
	}
	if order.ID != "ord_01TEST" {
		t.Fatalf("unexpected id %s", order.ID)
	}
	if order.AmountDue != 500_000 || order.AmountDueLater != 500_000 {
		t.Fatalf("unexpected amounts %d/%d", order.AmountDue, order.AmountDueLater)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending, got %s", order.Status)
	}
	if order.Customer.Name != "Sari Dewi" || order.Customer.Email != "sari@example.com" {
		t.Fatalf("customer not normalised: %+v", order.Customer)
	}
	if !order.Deadline.Equal(orderTestNow.Add(72 * time.Hour)) {
		t.Fatalf("unexpected deadline %s", order.Deadline)
	}
	if receipt.Countdown.String() != "3d 0h 0m 0s" {
		t.Fatalf("unexpected countdown %s", receipt.Countdown)
	}
	if !strings.HasPrefix(receipt.WhatsAppLink, "https://wa.me/6281234567890?text=") {
		t.Fatalf("unexpected link %s", receipt.WhatsAppLink)
	}

	if _, err := f.orders.FindByInvoice(context.Background(), order.InvoiceNumber); err != nil {
		t.Fatalf("order not stored: %v", err)
	}
	tasks := f.outbox.all()
	if len(tasks) != 1 || tasks[0].Effect != domain.OutboxEffectAdminNotification {
		t.Fatalf("expected one admin notification task, got %+v", tasks)
	}
	if tasks[0].DedupeKey != "order:INV-20250314-001:admin_notification" {
		t.Fatalf("unexpected dedupe key %s", tasks[0].DedupeKey)
	}
	if f.unit.calls != 1 || f.kicker.kicks != 1 {
		t.Fatalf("expected one unit of work and one kick, got %d/%d", f.unit.calls, f.kicker.kicks)
	}
	if !f.logger.has(orderEventCreated) {
		t.Fatal("expected order.created log")
	}
}

func TestOrderServiceCreateOrderAmountHint(t *testing.T) {
	f := newOrderFixture(t)
	cmd := validOrderCommand()

	cmd.AmountHint = valuePtr(int64(500_000))
	if _, err := f.svc.CreateOrder(context.Background(), cmd); err != nil {
		t.Fatalf("matching due-now hint should pass: %v", err)
	}

	cmd.AmountHint = valuePtr(int64(1_000_000))
	if _, err := f.svc.CreateOrder(context.Background(), cmd); err != nil {
		t.Fatalf("full price hint should pass: %v", err)
	}

	cmd.AmountHint = valuePtr(int64(1))
	_, err := f.svc.CreateOrder(context.Background(), cmd)
	var mismatch *AmountMismatchError
	if !errors.As(err, &mismatch) || !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected amount mismatch, got %v", err)
	}
	if mismatch.Expected != 500_000 || mismatch.Submitted != 1 {
		t.Fatalf("unexpected mismatch %+v", mismatch)
	}
}

func TestOrderServiceCreateOrderValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateOrderCommand)
		want   error
	}{
		{name: "missing name", mutate: func(c *CreateOrderCommand) { c.Customer.Name = " " }, want: ErrOrderInvalidInput},
		{name: "bad email", mutate: func(c *CreateOrderCommand) { c.Customer.Email = "not-an-email" }, want: ErrOrderInvalidInput},
		{name: "missing phone", mutate: func(c *CreateOrderCommand) { c.Customer.Phone = "" }, want: ErrOrderInvalidInput},
		{name: "short phone", mutate: func(c *CreateOrderCommand) { c.Customer.Phone = "0812" }, want: ErrOrderInvalidInput},
		{name: "letters in phone", mutate: func(c *CreateOrderCommand) { c.Customer.Phone = "0812abc45678" }, want: ErrOrderInvalidInput},
		{name: "unknown method", mutate: func(c *CreateOrderCommand) { c.PaymentMethod = "cod" }, want: ErrOrderInvalidInput},
		{name: "missing package", mutate: func(c *CreateOrderCommand) { c.PackageRef = "" }, want: ErrOrderInvalidInput},
		{name: "unknown package", mutate: func(c *CreateOrderCommand) { c.PackageRef = "nope" }, want: ErrCatalogPackageNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newOrderFixture(t)
			cmd := validOrderCommand()
			tc.mutate(&cmd)
			if _, err := f.svc.CreateOrder(context.Background(), cmd); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if len(f.outbox.all()) != 0 || f.unit.calls != 0 {
				t.Fatal("validation failures must not touch the datastore")
			}
		})
	}
}

func TestOrderServiceCreateOrderRetriesInvoiceCollision(t *testing.T) {
	taken := domain.Order{InvoiceNumber: "INV-20250314-001", Status: domain.OrderStatusPending}
	f := newOrderFixture(t, taken)

	receipt, err := f.svc.CreateOrder(context.Background(), validOrderCommand())
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if receipt.Order.InvoiceNumber != "INV-20250314-002" {
		t.Fatalf("expected the next invoice after a collision, got %s", receipt.Order.InvoiceNumber)
	}
	if len(f.outbox.all()) != 1 {
		t.Fatalf("expected only the committed attempt to enqueue, got %d tasks", len(f.outbox.all()))
	}
	if !f.logger.has("order_invoice_collision") {
		t.Fatal("expected collision log")
	}
}

func TestOrderServiceCreateOrderRollsBackOnOutboxFailure(t *testing.T) {
	f := newOrderFixture(t)
	f.outbox.enqueueErr = errors.New("outbox down")
	if _, err := f.svc.CreateOrder(context.Background(), validOrderCommand()); err == nil {
		t.Fatal("expected error when the outbox write fails")
	}
	if f.kicker.kicks != 0 {
		t.Fatal("dispatcher must not be kicked for a failed unit of work")
	}
}

func pendingOrder() domain.Order {
	return domain.Order{
		ID:            "ord_1",
		InvoiceNumber: "INV-20250314-001",
		Customer:      domain.CustomerSnapshot{Name: "Sari"},
		Package:       domain.PackageSnapshot{ID: "pkg_landing", Name: "Landing Page", Price: 1_000_000},
		PaymentMethod: domain.PaymentMethodFull,
		AmountDue:     1_000_000,
		Status:        domain.OrderStatusPending,
		Deadline:      orderTestNow.Add(72 * time.Hour),
		CreatedAt:     orderTestNow,
	}
}

func TestOrderServiceTransitionStatus(t *testing.T) {
	f := newOrderFixture(t, pendingOrder())
	ctx := context.Background()

	paid, err := f.svc.TransitionStatus(ctx, OrderStatusCommand{InvoiceNumber: "INV-20250314-001", TargetStatus: "PAID", ActorID: "admin-1"})
	if err != nil {
		t.Fatalf("transition to paid: %v", err)
	}
	if paid.Status != domain.OrderStatusPaid || paid.StatusChangedBy != "admin-1" || paid.StatusChangedAt == nil {
		t.Fatalf("unexpected order %+v", paid)
	}

	again, err := f.svc.TransitionStatus(ctx, OrderStatusCommand{InvoiceNumber: "INV-20250314-001", TargetStatus: domain.OrderStatusPaid})
	if err != nil || again.Status != domain.OrderStatusPaid {
		t.Fatalf("same-state transition should be a no-op, got %v", err)
	}
	if n := len(f.outbox.all()); n != 1 {
		t.Fatalf("expected one status notification, got %d", n)
	}

	if _, err := f.svc.TransitionStatus(ctx, OrderStatusCommand{InvoiceNumber: "INV-20250314-001", TargetStatus: domain.OrderStatusPending}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}

	done, err := f.svc.TransitionStatus(ctx, OrderStatusCommand{InvoiceNumber: "INV-20250314-001", TargetStatus: domain.OrderStatusCompleted})
	if err != nil || done.Status != domain.OrderStatusCompleted {
		t.Fatalf("transition to completed: %v", err)
	}
	if _, err := f.svc.TransitionStatus(ctx, OrderStatusCommand{InvoiceNumber: "INV-20250314-001", TargetStatus: domain.OrderStatusCancelled}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("completed is terminal, got %v", err)
	}

	keys := map[string]bool{}
	for _, task := range f.outbox.all() {
		keys[task.DedupeKey] = true
	}
	if !keys["order:INV-20250314-001:admin_notification:paid"] || !keys["order:INV-20250314-001:admin_notification:completed"] {
		t.Fatalf("unexpected status notification keys %v", keys)
	}
}

func TestOrderServiceTransitionStatusErrors(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	if _, err := f.svc.TransitionStatus(ctx, OrderStatusCommand{InvoiceNumber: "INV-20250314-009", TargetStatus: domain.OrderStatusPaid}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.svc.TransitionStatus(ctx, OrderStatusCommand{InvoiceNumber: "bogus", TargetStatus: domain.OrderStatusPaid}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input for malformed invoice, got %v", err)
	}
	if _, err := f.svc.TransitionStatus(ctx, OrderStatusCommand{InvoiceNumber: "INV-20250314-001", TargetStatus: "shipped"}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input for unknown status, got %v", err)
	}
}

func TestOrderServiceNotifyAdminDeduplicatesWithCreation(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	receipt, err := f.svc.CreateOrder(ctx, validOrderCommand())
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	kicks := f.kicker.kicks

	for i := 0; i < 3; i++ {
		if err := f.svc.NotifyAdmin(ctx, NotifyAdminCommand{InvoiceNumber: receipt.Order.InvoiceNumber, Amount: valuePtr(int64(500_000))}); err != nil {
			t.Fatalf("notify admin: %v", err)
		}
	}
	if n := len(f.outbox.byEffect(domain.OutboxEffectAdminNotification)); n != 1 {
		t.Fatalf("expected a single admin notification, got %d", n)
	}
	if f.kicker.kicks != kicks {
		t.Fatal("deduplicated notify must not kick the dispatcher")
	}

	err = f.svc.NotifyAdmin(ctx, NotifyAdminCommand{InvoiceNumber: receipt.Order.InvoiceNumber, Amount: valuePtr(int64(42))})
	if !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected amount mismatch, got %v", err)
	}
}

func TestOrderServiceGetOrder(t *testing.T) {
	f := newOrderFixture(t, pendingOrder())
	receipt, err := f.svc.GetOrder(context.Background(), " INV-20250314-001 ")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if receipt.Countdown.Days != 3 || receipt.WhatsAppLink == "" {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if _, err := f.svc.GetOrder(context.Background(), "INV-20250314-404"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
