package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/naiaprojects/naia-sub001/internal/domain"
	"github.com/naiaprojects/naia-sub001/internal/repositories"
)

const (
	purchaseEventCreated  = "purchase.created"
	purchaseEventVerified = "purchase.verified"
	purchaseEventRejected = "purchase.rejected"

	purchaseIDPrefix      = "pur_"
	purchaseAggregateKind = "purchase"
	maxRejectReasonLength = 500
)

var (
	// ErrPurchaseInvalidInput signals the caller provided invalid data.
	ErrPurchaseInvalidInput = errors.New("purchase: invalid input")
	// ErrPurchaseNotFound indicates the purchase could not be located.
	ErrPurchaseNotFound = errors.New("purchase: not found")
	// ErrPurchaseInvalidState indicates the purchase already reached a different terminal state.
	ErrPurchaseInvalidState = errors.New("purchase: invalid status transition")
	// ErrPurchaseConflict indicates an invoice number could not be reserved after retries.
	ErrPurchaseConflict = errors.New("purchase: conflict")
	// ErrItemNotPurchasable indicates a free item was submitted to the paid checkout.
	ErrItemNotPurchasable = errors.New("purchase: item is not purchasable")
)

// PurchaseServiceDeps bundles collaborators required to construct the purchase service.
type PurchaseServiceDeps struct {
	Purchases   repositories.PurchaseRepository
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

type purchaseService struct {
	purchases  repositories.PurchaseRepository
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

// NewPurchaseService wires dependencies into a concrete PurchaseService implementation.
func NewPurchaseService(deps PurchaseServiceDeps) (PurchaseService, error) {
	switch {
	case deps.Purchases == nil:
		return nil, errors.New("purchase service: purchase repository is required")
	case deps.Outbox == nil:
		return nil, errors.New("purchase service: outbox repository is required")
	case deps.Catalog == nil:
		return nil, errors.New("purchase service: catalog service is required")
	case deps.Invoices == nil:
		return nil, errors.New("purchase service: invoice service is required")
	}
	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	return &purchaseService{
		purchases:  deps.Purchases,
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

func (s *purchaseService) CreatePurchase(ctx context.Context, cmd CreatePurchaseCommand) (PurchaseReceipt, error) {
	customer, err := normalizeCustomer(cmd.Customer)
	if err != nil {
		return PurchaseReceipt{}, fmt.Errorf("%w: %v", ErrPurchaseInvalidInput, err)
	}
	if strings.TrimSpace(cmd.ItemRef) == "" {
		return PurchaseReceipt{}, fmt.Errorf("%w: item_id is required", ErrPurchaseInvalidInput)
	}
	item, err := s.catalog.GetItem(ctx, cmd.ItemRef)
	if err != nil {
		return PurchaseReceipt{}, err
	}
	if item.PriceType != domain.PriceTypePaid || item.Price <= 0 {
		return PurchaseReceipt{}, fmt.Errorf("%w: %s", ErrItemNotPurchasable, item.ID)
	}
	if cmd.AmountHint != nil && *cmd.AmountHint != item.Price {
		return PurchaseReceipt{}, &AmountMismatchError{Submitted: *cmd.AmountHint, Expected: item.Price}
	}

	now := s.clock()
	purchase := StorePurchase{
		ID:            ensurePurchaseID(s.newID()),
		ItemID:        item.ID,
		Customer:      customer,
		Amount:        item.Price,
		PaymentStatus: domain.PurchaseStatusPending,
		Deadline:      s.deadlines.Deadline(now),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	inserted := false
	for attempt := 1; attempt <= maxInvoiceAttempts && !inserted; attempt++ {
		invoice, err := s.invoices.Next(ctx, now)
		if err != nil {
			return PurchaseReceipt{}, err
		}
		purchase.InvoiceNumber = invoice
		err = s.unitOfWork.RunInTx(ctx, func(ctx context.Context) error {
			if err := s.purchases.Insert(ctx, purchase); err != nil {
				return err
			}
			_, err := s.outbox.Enqueue(ctx, []domain.OutboxTask{purchaseCreatedNotification(purchase, item, now)})
			return err
		})
		switch {
		case err == nil:
			inserted = true
		case isRepoConflict(err):
			s.logger(ctx, "purchase_invoice_collision", map[string]any{"invoiceNumber": invoice, "attempt": attempt})
		default:
			return PurchaseReceipt{}, err
		}
	}
	if !inserted {
		return PurchaseReceipt{}, fmt.Errorf("%w: no free invoice number after %d attempts", ErrPurchaseConflict, maxInvoiceAttempts)
	}
	s.kick()

	s.logger(ctx, purchaseEventCreated, map[string]any{
		"invoiceNumber": purchase.InvoiceNumber,
		"purchaseId":    purchase.ID,
		"itemId":        item.ID,
		"amount":        purchase.Amount,
	})
	receipt := PurchaseReceipt{Purchase: purchase, Item: item, Countdown: Remaining(purchase.Deadline, now)}
	if s.handoff != nil {
		receipt.WhatsAppLink = s.handoff.PurchaseLink(purchase, item)
	}
	return receipt, nil
}

// GetPurchase joins the purchase with its item. An item removed from the catalog still
// yields the purchase with only the item ID filled in.
func (s *purchaseService) GetPurchase(ctx context.Context, invoiceNumber string) (PurchaseView, error) {
	purchase, err := s.find(ctx, invoiceNumber)
	if err != nil {
		return PurchaseView{}, err
	}
	view := PurchaseView{Purchase: purchase, Item: CatalogItem{ID: purchase.ItemID}}
	if purchase.PaymentStatus == domain.PurchaseStatusPending {
		view.Countdown = Remaining(purchase.Deadline, s.clock())
	} else {
		view.Countdown = Countdown{Expired: true}
	}
	item, err := s.catalog.GetItem(ctx, purchase.ItemID)
	switch {
	case err == nil:
		view.Item = item
	case errors.Is(err, ErrCatalogItemNotFound):
	default:
		return PurchaseView{}, err
	}
	return view, nil
}

func (s *purchaseService) Verify(ctx context.Context, cmd PurchaseDecisionCommand) (StorePurchase, error) {
	return s.decide(ctx, cmd, domain.PurchaseStatusVerified)
}

func (s *purchaseService) Reject(ctx context.Context, cmd PurchaseDecisionCommand) (StorePurchase, error) {
	if len([]rune(strings.TrimSpace(cmd.Reason))) > maxRejectReasonLength {
		return StorePurchase{}, fmt.Errorf("%w: reason must be at most %d characters", ErrPurchaseInvalidInput, maxRejectReasonLength)
	}
	return s.decide(ctx, cmd, domain.PurchaseStatusRejected)
}

// decide moves a pending purchase to target. Repeating the decision already taken returns
// the stored record and enqueues nothing.
func (s *purchaseService) decide(ctx context.Context, cmd PurchaseDecisionCommand, target domain.PurchaseStatus) (StorePurchase, error) {
	if _, err := s.find(ctx, cmd.InvoiceNumber); err != nil {
		return StorePurchase{}, err
	}

	var (
		updated StorePurchase
		changed bool
	)
	now := s.clock()
	err := s.unitOfWork.RunInTx(ctx, func(ctx context.Context) error {
		current, err := s.purchases.FindByInvoice(ctx, strings.TrimSpace(cmd.InvoiceNumber))
		if err != nil {
			return err
		}
		if current.PaymentStatus == target {
			updated = current
			return nil
		}
		// An expired purchase can still be decided: the transfer may have arrived late.
		if current.PaymentStatus != domain.PurchaseStatusPending && current.PaymentStatus != domain.PurchaseStatusExpired {
			return fmt.Errorf("%w: %s -> %s", ErrPurchaseInvalidState, current.PaymentStatus, target)
		}

		current.PaymentStatus = target
		current.UpdatedAt = now
		var tasks []domain.OutboxTask
		switch target {
		case domain.PurchaseStatusVerified:
			current.VerifiedAt = valuePtr(now)
			current.VerifiedBy = strings.TrimSpace(cmd.ActorID)
			tasks = append(tasks, newOutboxTask(purchaseAggregateKind, current.ID, domain.OutboxEffectPurchaseDelivery, map[string]any{
				"invoiceNumber": current.InvoiceNumber,
				"purchaseId":    current.ID,
				"itemId":        current.ItemID,
			}, now))
		case domain.PurchaseStatusRejected:
			current.RejectedReason = strings.TrimSpace(cmd.Reason)
			current.VerifiedBy = strings.TrimSpace(cmd.ActorID)
		}
		if err := s.purchases.Update(ctx, current); err != nil {
			return err
		}
		if len(tasks) > 0 {
			if _, err := s.outbox.Enqueue(ctx, tasks); err != nil {
				return err
			}
		}
		updated, changed = current, true
		return nil
	})
	if err != nil {
		return StorePurchase{}, s.mapRepositoryError(err)
	}
	if changed {
		s.kick()
		event := purchaseEventVerified
		if target == domain.PurchaseStatusRejected {
			event = purchaseEventRejected
		}
		s.logger(ctx, event, map[string]any{
			"invoiceNumber": updated.InvoiceNumber,
			"purchaseId":    updated.ID,
			"actorId":       strings.TrimSpace(cmd.ActorID),
		})
	}
	return updated, nil
}

func (s *purchaseService) find(ctx context.Context, invoiceNumber string) (StorePurchase, error) {
	invoiceNumber = strings.TrimSpace(invoiceNumber)
	if !ValidInvoiceNumber(invoiceNumber) {
		return StorePurchase{}, fmt.Errorf("%w: invoice number %q is malformed", ErrPurchaseInvalidInput, invoiceNumber)
	}
	purchase, err := s.purchases.FindByInvoice(ctx, invoiceNumber)
	if err != nil {
		return StorePurchase{}, s.mapRepositoryError(err)
	}
	return purchase, nil
}

func (s *purchaseService) mapRepositoryError(err error) error {
	switch {
	case err == nil:
		return nil
	case isRepoNotFound(err):
		return fmt.Errorf("%w: %v", ErrPurchaseNotFound, err)
	case isRepoConflict(err):
		return fmt.Errorf("%w: %v", ErrPurchaseConflict, err)
	}
	return err
}

func (s *purchaseService) kick() {
	if s.kicker != nil {
		s.kicker.Kick()
	}
}

func purchaseCreatedNotification(purchase StorePurchase, item CatalogItem, now time.Time) domain.OutboxTask {
	return newOutboxTask(purchaseAggregateKind, purchase.ID, domain.OutboxEffectAdminNotification, map[string]any{
		"title":     "Pembelian baru " + purchase.InvoiceNumber,
		"message":   fmt.Sprintf("%s membeli %s seharga %d", purchase.Customer.Name, item.Name, purchase.Amount),
		"type":      string(domain.NotificationTypeInfo),
		"reference": purchase.InvoiceNumber,
	}, now)
}

func ensurePurchaseID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		id = ulid.Make().String()
	}
	if strings.HasPrefix(id, purchaseIDPrefix) {
		return id
	}
	return purchaseIDPrefix + id
}
