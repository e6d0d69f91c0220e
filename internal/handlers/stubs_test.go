package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	domain "github.com/naiaprojects/naia-sub001/internal/domain"
	"github.com/naiaprojects/naia-sub001/internal/services"
)

var errStubNotImplemented = errors.New("not implemented")

type stubOrderService struct {
	createFn     func(context.Context, services.CreateOrderCommand) (services.OrderReceipt, error)
	getFn        func(context.Context, string) (services.OrderReceipt, error)
	transitionFn func(context.Context, services.OrderStatusCommand) (services.Order, error)
	notifyFn     func(context.Context, services.NotifyAdminCommand) error
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.OrderReceipt, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.OrderReceipt{}, errStubNotImplemented
}

func (s *stubOrderService) GetOrder(ctx context.Context, invoice string) (services.OrderReceipt, error) {
	if s.getFn != nil {
		return s.getFn(ctx, invoice)
	}
	return services.OrderReceipt{}, errStubNotImplemented
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.OrderStatusCommand) (services.Order, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, cmd)
	}
	return services.Order{}, errStubNotImplemented
}

func (s *stubOrderService) NotifyAdmin(ctx context.Context, cmd services.NotifyAdminCommand) error {
	if s.notifyFn != nil {
		return s.notifyFn(ctx, cmd)
	}
	return errStubNotImplemented
}

type stubPurchaseService struct {
	createFn func(context.Context, services.CreatePurchaseCommand) (services.PurchaseReceipt, error)
	getFn    func(context.Context, string) (services.PurchaseView, error)
	verifyFn func(context.Context, services.PurchaseDecisionCommand) (services.StorePurchase, error)
	rejectFn func(context.Context, services.PurchaseDecisionCommand) (services.StorePurchase, error)
}

func (s *stubPurchaseService) CreatePurchase(ctx context.Context, cmd services.CreatePurchaseCommand) (services.PurchaseReceipt, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.PurchaseReceipt{}, errStubNotImplemented
}

func (s *stubPurchaseService) GetPurchase(ctx context.Context, invoice string) (services.PurchaseView, error) {
	if s.getFn != nil {
		return s.getFn(ctx, invoice)
	}
	return services.PurchaseView{}, errStubNotImplemented
}

func (s *stubPurchaseService) Verify(ctx context.Context, cmd services.PurchaseDecisionCommand) (services.StorePurchase, error) {
	if s.verifyFn != nil {
		return s.verifyFn(ctx, cmd)
	}
	return services.StorePurchase{}, errStubNotImplemented
}

func (s *stubPurchaseService) Reject(ctx context.Context, cmd services.PurchaseDecisionCommand) (services.StorePurchase, error) {
	if s.rejectFn != nil {
		return s.rejectFn(ctx, cmd)
	}
	return services.StorePurchase{}, errStubNotImplemented
}

type stubBankAccountService struct {
	accounts []services.BankAccount
	err      error
}

func (s *stubBankAccountService) ListActive(context.Context) ([]services.BankAccount, error) {
	return s.accounts, s.err
}

type stubNotificationService struct {
	listFn    func(context.Context, services.NotificationFilter) (domain.CursorPage[services.Notification], error)
	counts    services.NotificationCounts
	markFn    func(context.Context, string) (services.Notification, error)
	markedAll int
	deleteFn  func(context.Context, string) error
}

func (s *stubNotificationService) List(ctx context.Context, filter services.NotificationFilter) (domain.CursorPage[services.Notification], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Notification]{}, nil
}

func (s *stubNotificationService) Counts(context.Context) (services.NotificationCounts, error) {
	return s.counts, nil
}

func (s *stubNotificationService) MarkRead(ctx context.Context, id string) (services.Notification, error) {
	if s.markFn != nil {
		return s.markFn(ctx, id)
	}
	return services.Notification{}, errStubNotImplemented
}

func (s *stubNotificationService) MarkAllRead(context.Context) (int, error) {
	return s.markedAll, nil
}

func (s *stubNotificationService) Delete(ctx context.Context, id string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, id)
	}
	return errStubNotImplemented
}

type stubContentService struct {
	saveFn       func(context.Context, services.SaveArticleCommand) (services.Article, error)
	telegramFn   func(context.Context, services.TelegramPostCommand) (bool, error)
	revalidateFn func(context.Context, services.RevalidateCommand) error
}

func (s *stubContentService) SaveArticle(ctx context.Context, cmd services.SaveArticleCommand) (services.Article, error) {
	if s.saveFn != nil {
		return s.saveFn(ctx, cmd)
	}
	return services.Article{}, errStubNotImplemented
}

func (s *stubContentService) RequestTelegramPost(ctx context.Context, cmd services.TelegramPostCommand) (bool, error) {
	if s.telegramFn != nil {
		return s.telegramFn(ctx, cmd)
	}
	return false, errStubNotImplemented
}

func (s *stubContentService) RequestRevalidate(ctx context.Context, cmd services.RevalidateCommand) error {
	if s.revalidateFn != nil {
		return s.revalidateFn(ctx, cmd)
	}
	return errStubNotImplemented
}

// stubTokenVerifier accepts "staff-token" and "buyer-token".
type stubTokenVerifier struct{}

func (stubTokenVerifier) VerifyIDToken(_ context.Context, token string) (*firebaseauth.Token, error) {
	switch token {
	case "staff-token":
		return &firebaseauth.Token{UID: "staff_1", Claims: map[string]any{"role": "admin", "email": "ops@naia.example"}}, nil
	case "buyer-token":
		return &firebaseauth.Token{UID: "buyer_1", Claims: map[string]any{}}, nil
	}
	return nil, errors.New("invalid token")
}

var handlerTestNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func sampleReceipt() services.OrderReceipt {
	order := services.Order{
		ID:             "ord_1",
		InvoiceNumber:  "INV-20250314-001",
		Customer:       services.CustomerSnapshot{Name: "Sinta", Email: "sinta@example.com", Phone: "+6281234567890"},
		Package:        domain.PackageSnapshot{ID: "pkg_landing", Name: "Landing Page", Price: 1_000_000},
		PaymentMethod:  domain.PaymentMethodDownPayment,
		AmountDue:      500_000,
		AmountDueLater: 500_000,
		Status:         domain.OrderStatusPending,
		Deadline:       handlerTestNow.Add(72 * time.Hour),
		CreatedAt:      handlerTestNow,
	}
	return services.OrderReceipt{
		Order:        order,
		Countdown:    services.Remaining(order.Deadline, handlerTestNow),
		WhatsAppLink: "https://wa.me/6281234567890?text=hello",
	}
}

func newJSONRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}
