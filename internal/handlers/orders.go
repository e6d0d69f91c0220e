package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/naiaprojects/naia-sub001/internal/domain"
	"github.com/naiaprojects/naia-sub001/internal/platform/httpx"
	"github.com/naiaprojects/naia-sub001/internal/services"
)

const defaultCountdownInterval = time.Second

// OrderHandlers exposes checkout, order lookup and the payment confirmation hook to buyers.
type OrderHandlers struct {
	orders   services.OrderService
	limiter  rateLimiter
	clock    func() time.Time
	interval time.Duration
}

// OrderOption customises OrderHandlers.
type OrderOption func(*OrderHandlers)

// WithOrderRateLimit limits checkout submissions per client address.
func WithOrderRateLimit(perMinute, burst int) OrderOption {
	return func(h *OrderHandlers) {
		h.limiter = newClientRateLimiter(perMinute, burst, h.clock)
	}
}

// WithOrderClock overrides the clock used for countdown streams.
func WithOrderClock(clock func() time.Time) OrderOption {
	return func(h *OrderHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithCountdownInterval overrides the tick of the countdown stream.
func WithCountdownInterval(interval time.Duration) OrderOption {
	return func(h *OrderHandlers) {
		if interval > 0 {
			h.interval = interval
		}
	}
}

func NewOrderHandlers(orders services.OrderService, opts ...OrderOption) *OrderHandlers {
	h := &OrderHandlers{orders: orders, clock: time.Now, interval: defaultCountdownInterval}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the buyer order endpoints relative to the API root.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.With(rateLimitMiddleware(h.limiter)).Post("/orders", h.createOrder)
	r.Get("/orders/{invoice}", h.getOrder)
	r.Get("/orders/{invoice}/countdown", h.streamCountdown)
	r.Post("/notify", h.notifyAdmin)
}

type createOrderRequest struct {
	// InvoiceNumber and Status are accepted for compatibility and ignored.
	InvoiceNumber string `json:"invoiceNumber"`
	Status        string `json:"status"`

	Package       orderPackageRequest  `json:"package"`
	Customer      orderCustomerPayload `json:"customer"`
	Amount        *int64               `json:"amount"`
	PaymentMethod string               `json:"paymentMethod"`
	PaymentDate   string               `json:"paymentDate"`
	BriefingData  map[string]any       `json:"briefingData"`
}

type orderPackageRequest struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
}

type orderCustomerPayload struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type orderPackagePayload struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

type orderPayload struct {
	InvoiceNumber  string               `json:"invoiceNumber"`
	Status         string               `json:"status"`
	Package        orderPackagePayload  `json:"package"`
	Customer       orderCustomerPayload `json:"customer"`
	PaymentMethod  string               `json:"paymentMethod"`
	AmountDue      int64                `json:"amountDue"`
	AmountDueLater int64                `json:"amountDueLater"`
	PaymentDate    string               `json:"paymentDate,omitempty"`
	Deadline       string               `json:"deadline"`
	CreatedAt      string               `json:"createdAt"`
	Countdown      services.Countdown   `json:"countdown"`
	WhatsAppLink   string               `json:"whatsappLink,omitempty"`
}

func buildOrderPayload(receipt services.OrderReceipt) orderPayload {
	order := receipt.Order
	return orderPayload{
		InvoiceNumber: order.InvoiceNumber,
		Status:        string(order.Status),
		Package: orderPackagePayload{
			ID:    order.Package.ID,
			Name:  order.Package.Name,
			Price: order.Package.Price,
		},
		Customer: orderCustomerPayload{
			Name:  order.Customer.Name,
			Email: order.Customer.Email,
			Phone: order.Customer.Phone,
		},
		PaymentMethod:  string(order.PaymentMethod),
		AmountDue:      order.AmountDue,
		AmountDueLater: order.AmountDueLater,
		PaymentDate:    formatTimePtr(order.PaymentDate),
		Deadline:       formatTime(order.Deadline),
		CreatedAt:      formatTime(order.CreatedAt),
		Countdown:      receipt.Countdown,
		WhatsAppLink:   receipt.WhatsAppLink,
	}
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	var req createOrderRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}

	cmd := services.CreateOrderCommand{
		PackageRef: firstNonEmpty(req.Package.ID, req.Package.Slug),
		Customer: services.CustomerSnapshot{
			Name:  req.Customer.Name,
			Email: req.Customer.Email,
			Phone: req.Customer.Phone,
		},
		PaymentMethod: domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
		AmountHint:    req.Amount,
		Briefing:      req.BriefingData,
	}
	if raw := strings.TrimSpace(req.PaymentDate); raw != "" {
		ts, err := parseClientTime(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "paymentDate must be an RFC3339 timestamp or YYYY-MM-DD date", http.StatusBadRequest))
			return
		}
		cmd.PaymentDate = &ts
	}

	receipt, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/api/orders/"+receipt.Order.InvoiceNumber)
	writeJSONResponse(w, http.StatusCreated, buildOrderPayload(receipt))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	receipt, err := h.orders.GetOrder(ctx, chi.URLParam(r, "invoice"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(receipt))
}

type countdownEvent struct {
	services.Countdown
	Status string `json:"status"`
}

// streamCountdown emits one server-sent event per interval until the deadline passes or the
// client disconnects. Orders that already left pending get a single event.
func (h *OrderHandlers) streamCountdown(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("streaming_unsupported", "streaming is not supported", http.StatusInternalServerError))
		return
	}
	receipt, err := h.orders.GetOrder(ctx, chi.URLParam(r, "invoice"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, "retry: 3000\n\n")

	status := string(receipt.Order.Status)
	send := func(countdown services.Countdown) error {
		data, err := json.Marshal(countdownEvent{Countdown: countdown, Status: status})
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: countdown\ndata: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if receipt.Order.Status != domain.OrderStatusPending {
		_ = send(services.Remaining(receipt.Order.Deadline, h.clock()))
		return
	}
	for countdown := range services.WatchCountdown(ctx, receipt.Order.Deadline, h.clock, h.interval) {
		if err := send(countdown); err != nil {
			return
		}
	}
}

type notifyRequest struct {
	InvoiceNumber string         `json:"invoiceNumber"`
	PaymentMethod string         `json:"paymentMethod"`
	Amount        *int64         `json:"amount"`
	PaymentData   map[string]any `json:"paymentData"`
	// BriefingData is stored with the order at checkout; it is accepted here and ignored.
	BriefingData map[string]any `json:"briefingData"`
}

func (h *OrderHandlers) notifyAdmin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	var req notifyRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}
	err := h.orders.NotifyAdmin(ctx, services.NotifyAdminCommand{
		InvoiceNumber: req.InvoiceNumber,
		PaymentMethod: domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
		Amount:        req.Amount,
		PaymentData:   req.PaymentData,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusAccepted, map[string]any{
		"status":        "queued",
		"invoiceNumber": strings.TrimSpace(req.InvoiceNumber),
	})
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
