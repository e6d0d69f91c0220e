package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/naiaprojects/naia-sub001/internal/domain"
	"github.com/naiaprojects/naia-sub001/internal/services"
)

const createOrderBody = `{
	"invoiceNumber": "INV-CLIENT-IGNORED",
	"status": "paid",
	"package": {"id": "pkg_landing"},
	"customer": {"name": "Sinta", "email": "sinta@example.com", "phone": "0812-3456-7890"},
	"amount": 500000,
	"paymentMethod": "DP",
	"paymentDate": "2025-03-14",
	"briefingData": {"brand": "Kopi Senja"}
}`

func TestOrderHandlersCreateOrder(t *testing.T) {
	var captured services.CreateOrderCommand
	svc := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.OrderReceipt, error) {
			captured = cmd
			return sampleReceipt(), nil
		},
	}
	router := NewRouter(WithPublicRoutes(NewOrderHandlers(svc).Routes))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newJSONRequest(http.MethodPost, "/api/orders", createOrderBody))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.PackageRef != "pkg_landing" || captured.PaymentMethod != domain.PaymentMethodDownPayment {
		t.Fatalf("unexpected command %+v", captured)
	}
	if captured.AmountHint == nil || *captured.AmountHint != 500_000 {
		t.Fatalf("amount hint not forwarded: %+v", captured.AmountHint)
	}
	if captured.PaymentDate == nil || !captured.PaymentDate.Equal(time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("payment date not parsed: %v", captured.PaymentDate)
	}
	if captured.Briefing["brand"] != "Kopi Senja" {
		t.Fatalf("briefing not forwarded: %+v", captured.Briefing)
	}

	var body orderPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.InvoiceNumber != "INV-20250314-001" || body.AmountDue != 500_000 || body.AmountDueLater != 500_000 {
		t.Fatalf("unexpected payload %+v", body)
	}
	if body.Countdown.Days != 3 || body.Countdown.Hours != 0 || body.Countdown.Expired {
		t.Fatalf("unexpected countdown %+v", body.Countdown)
	}
	if !strings.HasPrefix(body.WhatsAppLink, "https://wa.me/") {
		t.Fatalf("unexpected whatsapp link %q", body.WhatsAppLink)
	}
	if rr.Header().Get("Location") != "/api/orders/INV-20250314-001" {
		t.Fatalf("unexpected location %q", rr.Header().Get("Location"))
	}
}

func TestOrderHandlersCreateOrderErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		body   string
		status int
		code   string
	}{
		{name: "amount mismatch", err: &services.AmountMismatchError{Submitted: 400_000, Expected: 500_000}, body: createOrderBody, status: http.StatusConflict, code: "amount_mismatch"},
		{name: "invalid input", err: fmt.Errorf("%w: email is invalid", services.ErrOrderInvalidInput), body: createOrderBody, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "unknown package", err: services.ErrCatalogPackageNotFound, body: createOrderBody, status: http.StatusNotFound, code: "package_not_found"},
		{name: "invoice exhausted", err: services.ErrInvoiceExhausted, body: createOrderBody, status: http.StatusServiceUnavailable, code: "invoice_exhausted"},
		{name: "malformed json", body: `{"package":`, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "bad payment date", body: `{"package":{"id":"p"},"paymentDate":"yesterday"}`, status: http.StatusBadRequest, code: "invalid_request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubOrderService{
				createFn: func(context.Context, services.CreateOrderCommand) (services.OrderReceipt, error) {
					return services.OrderReceipt{}, tc.err
				},
			}
			router := NewRouter(WithPublicRoutes(NewOrderHandlers(svc).Routes))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, newJSONRequest(http.MethodPost, "/api/orders", tc.body))

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["error"] != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, body["error"])
			}
			if tc.code == "amount_mismatch" && body["expected_amount"] != float64(500_000) {
				t.Fatalf("expected amount detail, got %v", body)
			}
		})
	}
}

func TestOrderHandlersRateLimitsCheckout(t *testing.T) {
	svc := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.OrderReceipt, error) {
			return sampleReceipt(), nil
		},
	}
	router := NewRouter(WithPublicRoutes(NewOrderHandlers(svc, WithOrderRateLimit(1, 1)).Routes))

	first := httptest.NewRecorder()
	router.ServeHTTP(first, newJSONRequest(http.MethodPost, "/api/orders", createOrderBody))
	second := httptest.NewRecorder()
	router.ServeHTTP(second, newJSONRequest(http.MethodPost, "/api/orders", createOrderBody))

	if first.Code != http.StatusCreated || second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 201 then 429, got %d then %d", first.Code, second.Code)
	}
}

func TestOrderHandlersGetOrderNotFound(t *testing.T) {
	svc := &stubOrderService{
		getFn: func(_ context.Context, invoice string) (services.OrderReceipt, error) {
			if invoice != "INV-20250314-404" {
				t.Errorf("unexpected invoice %s", invoice)
			}
			return services.OrderReceipt{}, services.ErrOrderNotFound
		},
	}
	router := NewRouter(WithPublicRoutes(NewOrderHandlers(svc).Routes))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/orders/INV-20250314-404", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestOrderHandlersNotifyAdmin(t *testing.T) {
	var captured services.NotifyAdminCommand
	svc := &stubOrderService{
		notifyFn: func(_ context.Context, cmd services.NotifyAdminCommand) error {
			captured = cmd
			return nil
		},
	}
	router := NewRouter(WithPublicRoutes(NewOrderHandlers(svc).Routes))
	body := `{"invoiceNumber":"INV-20250314-001","paymentMethod":"full","amount":1000000,"paymentData":{"bank":"BCA"},"briefingData":{}}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newJSONRequest(http.MethodPost, "/api/notify", body))

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.InvoiceNumber != "INV-20250314-001" || captured.PaymentMethod != domain.PaymentMethodFull {
		t.Fatalf("unexpected command %+v", captured)
	}
	if captured.Amount == nil || *captured.Amount != 1_000_000 || captured.PaymentData["bank"] != "BCA" {
		t.Fatalf("unexpected payment data %+v", captured)
	}
}

func TestOrderHandlersCountdownStream(t *testing.T) {
	receipt := sampleReceipt()
	receipt.Order.Deadline = handlerTestNow.Add(2 * time.Second)
	svc := &stubOrderService{
		getFn: func(context.Context, string) (services.OrderReceipt, error) { return receipt, nil },
	}
	var ticks atomic.Int64
	clock := func() time.Time {
		return handlerTestNow.Add(time.Duration(ticks.Add(1)-1) * time.Second)
	}
	h := NewOrderHandlers(svc, WithOrderClock(clock), WithCountdownInterval(time.Millisecond))
	router := NewRouter(WithPublicRoutes(h.Routes))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/orders/INV-20250314-001/countdown", nil))

	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	var events []countdownEvent
	for _, line := range strings.Split(rr.Body.String(), "\n") {
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var event countdownEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		events = append(events, event)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d: %s", len(events), rr.Body.String())
	}
	if events[0].Seconds != 2 || events[1].Seconds != 1 || !events[2].Expired {
		t.Fatalf("unexpected events %+v", events)
	}
	if events[0].Status != string(domain.OrderStatusPending) {
		t.Fatalf("unexpected status %q", events[0].Status)
	}
}

func TestOrderHandlersCountdownStreamSettledOrder(t *testing.T) {
	receipt := sampleReceipt()
	receipt.Order.Status = domain.OrderStatusPaid
	svc := &stubOrderService{
		getFn: func(context.Context, string) (services.OrderReceipt, error) { return receipt, nil },
	}
	h := NewOrderHandlers(svc, WithOrderClock(func() time.Time { return handlerTestNow }))
	router := NewRouter(WithPublicRoutes(h.Routes))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/orders/INV-20250314-001/countdown", nil))
	if got := strings.Count(rr.Body.String(), "event: countdown"); got != 1 {
		t.Fatalf("expected a single event, got %d", got)
	}
	if !strings.Contains(rr.Body.String(), `"status":"paid"`) {
		t.Fatalf("expected paid status in stream: %s", rr.Body.String())
	}
}
