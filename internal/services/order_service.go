package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/naiaprojects/naia-sub001/internal/domain"
	"github.com/naiaprojects/naia-sub001/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"

	orderIDPrefix         = "ord_"
	orderAggregateKind    = "order"
	maxInvoiceAttempts    = 5
	maxBriefingFieldCount = 50
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates an invoice number could not be reserved after retries.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrAmountMismatch indicates the client computed a different amount than the server.
	ErrAmountMismatch = errors.New("order: amount mismatch")
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending: {domain.OrderStatusPaid, domain.OrderStatusCancelled, domain.OrderStatusExpired},
	domain.OrderStatusPaid:    {domain.OrderStatusCompleted, domain.OrderStatusCancelled},
}

// AmountMismatchError carries both amounts so the handler can show the buyer the right total.
type AmountMismatchError struct {
	Submitted int64
	Expected  int64
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("%v: submitted %d, expected %d", ErrAmountMismatch, e.Submitted, e.Expected)
}

func (e *AmountMismatchError) Unwrap() error { return ErrAmountMismatch }

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Outbox      repositories.OutboxRepository
	UnitOfWork  repositories.UnitOfWork
	Catalog     CatalogService
	Invoices    InvoiceService
	Deadlines   DeadlinePolicy
	Handoff     *HandoffLinkBuilder
	Kicker      OutboxKicker
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	outbox     repositories.OutboxRepository
	unitOfWork repositories.UnitOfWork
	catalog    CatalogService
	invoices   InvoiceService
	deadlines  DeadlinePolicy
	handoff    *HandoffLinkBuilder
	kicker     OutboxKicker
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("order service: order repository is required")
	case deps.Outbox == nil:
		return nil, errors.New("order service: outbox repository is required")
	case deps.Catalog == nil:
		return nil, errors.New("order service: catalog service is required")
	case deps.Invoices == nil:
		return nil, errors.New("order service: invoice service is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	return &orderService{
		orders:     deps.Orders,
		outbox:     deps.Outbox,
		unitOfWork: unit,
		catalog:    deps.Catalog,
		invoices:   deps.Invoices,
		deadlines:  deps.Deadlines,
		handoff:    deps.Handoff,
		kicker:     deps.Kicker,
		clock:      ensureClock(deps.Clock),
		newID:      idGen,
		logger:     ensureLogger(deps.Logger),
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (OrderReceipt, error) {
	customer, err := normalizeCustomer(cmd.Customer)
	if err != nil {
		return OrderReceipt{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	method := domain.PaymentMethod(strings.ToLower(strings.TrimSpace(string(cmd.PaymentMethod))))
	if method != domain.PaymentMethodFull && method != domain.PaymentMethodDownPayment {
		return OrderReceipt{}, fmt.Errorf("%w: payment method must be full or dp", ErrOrderInvalidInput)
	}
	if len(cmd.Briefing) > maxBriefingFieldCount {
		return OrderReceipt{}, fmt.Errorf("%w: briefing has too many fields", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.PackageRef) == "" {
		return OrderReceipt{}, fmt.Errorf("%w: package is required", ErrOrderInvalidInput)
	}

	pkg, err := s.catalog.GetPackage(ctx, cmd.PackageRef)
	if err != nil {
		return OrderReceipt{}, err
	}
	plan, err := CalculatePaymentPlan(pkg.Price, method)
	if err != nil {
		return OrderReceipt{}, err
	}
	if cmd.AmountHint != nil && *cmd.AmountHint != plan.DueNow && *cmd.AmountHint != pkg.Price {
		return OrderReceipt{}, &AmountMismatchError{Submitted: *cmd.AmountHint, Expected: plan.DueNow}
	}

	now := s.clock()
	order := Order{
		ID:             ensureOrderID(s.newID()),
		Customer:       customer,
		Package:        domain.PackageSnapshot{ID: pkg.ID, Name: pkg.Name, Price: pkg.Price},
		Briefing:       maps.Clone(cmd.Briefing),
		PaymentMethod:  method,
		AmountDue:      plan.DueNow,
		AmountDueLater: plan.DueLater,
		Status:         domain.OrderStatusPending,
		Deadline:       s.deadlines.Deadline(now),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if cmd.PaymentDate != nil && !cmd.PaymentDate.IsZero() {
		order.PaymentDate = valuePtr(cmd.PaymentDate.UTC())
	}

	if err := s.insertWithFreshInvoice(ctx, &order, now); err != nil {
		return OrderReceipt{}, err
	}
	s.kick()

	s.logger(ctx, orderEventCreated, map[string]any{
		"invoiceNumber": order.InvoiceNumber,
		"orderId":       order.ID,
		"packageId":     order.Package.ID,
		"paymentMethod": string(order.PaymentMethod),
		"amountDue":     order.AmountDue,
	})
	return s.receipt(order, now), nil
}

// insertWithFreshInvoice mints an invoice and stores the order with its creation effects.
// A duplicate invoice rolls the unit back and is retried with the next number.
func (s *orderService) insertWithFreshInvoice(ctx context.Context, order *Order, now time.Time) error {
	for attempt := 1; attempt <= maxInvoiceAttempts; attempt++ {
		invoice, err := s.invoices.Next(ctx, now)
		if err != nil {
			return err
		}
		order.InvoiceNumber = invoice

		err = s.unitOfWork.RunInTx(ctx, func(ctx context.Context) error {
			if err := s.orders.Insert(ctx, *order); err != nil {
				return err
			}
			_, err := s.outbox.Enqueue(ctx, []domain.OutboxTask{orderCreatedNotification(*order, now)})
			return err
		})
		if err == nil {
			return nil
		}
		if !isRepoConflict(err) {
			return err
		}
		s.logger(ctx, "order_invoice_collision", map[string]any{"invoiceNumber": invoice, "attempt": attempt})
	}
	return fmt.Errorf("%w: no free invoice number after %d attempts", ErrOrderConflict, maxInvoiceAttempts)
}

func (s *orderService) GetOrder(ctx context.Context, invoiceNumber string) (OrderReceipt, error) {
	order, err := s.find(ctx, invoiceNumber)
	if err != nil {
		return OrderReceipt{}, err
	}
	return s.receipt(order, s.clock()), nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusCommand) (Order, error) {
	target := domain.OrderStatus(strings.ToLower(strings.TrimSpace(string(cmd.TargetStatus))))
	if !isKnownOrderStatus(target) {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.TargetStatus)
	}
	if _, err := s.find(ctx, cmd.InvoiceNumber); err != nil {
		return Order{}, err
	}

	var (
		updated  Order
		previous domain.OrderStatus
		changed  bool
	)
	now := s.clock()
	err := s.unitOfWork.RunInTx(ctx, func(ctx context.Context) error {
		current, err := s.orders.FindByInvoice(ctx, strings.TrimSpace(cmd.InvoiceNumber))
		if err != nil {
			return err
		}
		previous = current.Status
		if current.Status == target {
			updated = current
			return nil
		}
		if !canTransitionOrder(current.Status, target) {
			return fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, current.Status, target)
		}
		current.Status = target
		current.StatusChangedAt = valuePtr(now)
		current.StatusChangedBy = strings.TrimSpace(cmd.ActorID)
		current.UpdatedAt = now
		if err := s.orders.Update(ctx, current); err != nil {
			return err
		}
		if _, err := s.outbox.Enqueue(ctx, []domain.OutboxTask{orderStatusNotification(current, previous, now)}); err != nil {
			return err
		}
		updated, changed = current, true
		return nil
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if changed {
		s.kick()
		s.logger(ctx, orderEventStatusChanged, map[string]any{
			"invoiceNumber":  updated.InvoiceNumber,
			"previousStatus": string(previous),
			"currentStatus":  string(updated.Status),
			"actorId":        updated.StatusChangedBy,
		})
	}
	return updated, nil
}

func (s *orderService) NotifyAdmin(ctx context.Context, cmd NotifyAdminCommand) error {
	order, err := s.find(ctx, cmd.InvoiceNumber)
	if err != nil {
		return err
	}
	if cmd.Amount != nil && *cmd.Amount != order.AmountDue && *cmd.Amount != order.Package.Price {
		return &AmountMismatchError{Submitted: *cmd.Amount, Expected: order.AmountDue}
	}
	stored, err := s.outbox.Enqueue(ctx, []domain.OutboxTask{orderCreatedNotification(order, s.clock())})
	if err != nil {
		return err
	}
	if stored > 0 {
		s.kick()
	}
	s.logger(ctx, "order.notify.requested", map[string]any{"invoiceNumber": order.InvoiceNumber, "enqueued": stored > 0})
	return nil
}

func (s *orderService) find(ctx context.Context, invoiceNumber string) (Order, error) {
	invoiceNumber = strings.TrimSpace(invoiceNumber)
	if !ValidInvoiceNumber(invoiceNumber) {
		return Order{}, fmt.Errorf("%w: invoice number %q is malformed", ErrOrderInvalidInput, invoiceNumber)
	}
	order, err := s.orders.FindByInvoice(ctx, invoiceNumber)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) receipt(order Order, now time.Time) OrderReceipt {
	receipt := OrderReceipt{Order: order, Countdown: Remaining(order.Deadline, now)}
	if s.handoff != nil {
		receipt.WhatsAppLink = s.handoff.OrderLink(order)
	}
	return receipt
}

func (s *orderService) mapRepositoryError(err error) error {
	switch {
	case err == nil:
		return nil
	case isRepoNotFound(err):
		return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
	case isRepoConflict(err):
		return fmt.Errorf("%w: %v", ErrOrderConflict, err)
	}
	return err
}

func (s *orderService) kick() {
	if s.kicker != nil {
		s.kicker.Kick()
	}
}

func orderCreatedNotification(order Order, now time.Time) domain.OutboxTask {
	return newOutboxTask(orderAggregateKind, order.InvoiceNumber, domain.OutboxEffectAdminNotification, map[string]any{
		"title":     "Pesanan baru " + order.InvoiceNumber,
		"message":   fmt.Sprintf("%s memesan %s (%s), tagihan %d", order.Customer.Name, order.Package.Name, order.PaymentMethod, order.AmountDue),
		"type":      string(domain.NotificationTypeInfo),
		"reference": order.InvoiceNumber,
	}, now)
}

func orderStatusNotification(order Order, previous domain.OrderStatus, now time.Time) domain.OutboxTask {
	kind := domain.NotificationTypeInfo
	switch order.Status {
	case domain.OrderStatusPaid, domain.OrderStatusCompleted:
		kind = domain.NotificationTypeSuccess
	case domain.OrderStatusExpired, domain.OrderStatusCancelled:
		kind = domain.NotificationTypeWarning
	}
	return newOutboxTask(orderAggregateKind, order.InvoiceNumber, domain.OutboxEffectAdminNotification, map[string]any{
		"title":     fmt.Sprintf("Pesanan %s %s", order.InvoiceNumber, order.Status),
		"message":   fmt.Sprintf("Status berubah dari %s ke %s", previous, order.Status),
		"type":      string(kind),
		"reference": order.InvoiceNumber,
	}, now, string(order.Status))
}

func canTransitionOrder(current, target domain.OrderStatus) bool {
	return slices.Contains(orderStateTransitions[current], target)
}

func isKnownOrderStatus(status domain.OrderStatus) bool {
	switch status {
	case domain.OrderStatusPending, domain.OrderStatusPaid, domain.OrderStatusCompleted,
		domain.OrderStatusCancelled, domain.OrderStatusExpired:
		return true
	}
	return false
}

func ensureOrderID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		id = ulid.Make().String()
	}
	if strings.HasPrefix(id, orderIDPrefix) {
		return id
	}
	return orderIDPrefix + id
}
