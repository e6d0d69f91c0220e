package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/naiaprojects/naia-sub001/internal/domain"
	"github.com/naiaprojects/naia-sub001/internal/repositories"
)

const (
	defaultSweepBatch = 100
	systemActorID     = "system:expiry"
)

// ExpiryServiceDeps bundles collaborators for the expiry sweep.
type ExpiryServiceDeps struct {
	Orders     repositories.OrderRepository
	Purchases  repositories.PurchaseRepository
	Outbox     repositories.OutboxRepository
	UnitOfWork repositories.UnitOfWork
	Kicker     OutboxKicker
	BatchSize  int
	// ExpirePurchases opts store purchases into the sweep. Orders always expire.
	ExpirePurchases bool
	Clock           func() time.Time
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type expiryService struct {
	orders          repositories.OrderRepository
	purchases       repositories.PurchaseRepository
	outbox          repositories.OutboxRepository
	unitOfWork      repositories.UnitOfWork
	kicker          OutboxKicker
	batch           int
	expirePurchases bool
	clock           func() time.Time
	logger          func(context.Context, string, map[string]any)
}

func NewExpiryService(deps ExpiryServiceDeps) (ExpiryService, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("expiry service: order repository is required")
	case deps.Purchases == nil:
		return nil, errors.New("expiry service: purchase repository is required")
	case deps.Outbox == nil:
		return nil, errors.New("expiry service: outbox repository is required")
	}
	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	batch := deps.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &expiryService{
		orders:          deps.Orders,
		purchases:       deps.Purchases,
		outbox:          deps.Outbox,
		unitOfWork:      unit,
		kicker:          deps.Kicker,
		batch:           batch,
		expirePurchases: deps.ExpirePurchases,
		clock:           ensureClock(deps.Clock),
		logger:          ensureLogger(deps.Logger),
	}, nil
}

// Sweep expires pending orders whose deadline has passed, and pending purchases too when
// enabled. Each record is re-read inside its own unit of work, so a record paid or verified
// concurrently is left alone.
func (s *expiryService) Sweep(ctx context.Context) (SweepResult, error) {
	now := s.clock()
	var (
		result SweepResult
		errs   []error
	)

	orders, err := s.orders.ListPendingBefore(ctx, now, s.batch)
	if err != nil {
		return result, fmt.Errorf("expiry: list orders: %w", err)
	}
	for _, order := range orders {
		expired, err := s.expireOrder(ctx, order.InvoiceNumber, now)
		if err != nil {
			s.logger(ctx, "order_expire_failed", map[string]any{"invoiceNumber": order.InvoiceNumber, "error": err})
			errs = append(errs, err)
			continue
		}
		if expired {
			result.ExpiredOrders++
		}
	}

	var purchases []domain.StorePurchase
	if s.expirePurchases {
		purchases, err = s.purchases.ListPendingBefore(ctx, now, s.batch)
		if err != nil {
			errs = append(errs, fmt.Errorf("expiry: list purchases: %w", err))
		}
	}
	for _, purchase := range purchases {
		expired, err := s.expirePurchase(ctx, purchase.InvoiceNumber, now)
		if err != nil {
			s.logger(ctx, "purchase_expire_failed", map[string]any{"invoiceNumber": purchase.InvoiceNumber, "error": err})
			errs = append(errs, err)
			continue
		}
		if expired {
			result.ExpiredPurchases++
		}
	}

	if result.ExpiredOrders+result.ExpiredPurchases > 0 {
		if s.kicker != nil {
			s.kicker.Kick()
		}
		s.logger(ctx, "expiry.swept", map[string]any{
			"expiredOrders":    result.ExpiredOrders,
			"expiredPurchases": result.ExpiredPurchases,
		})
	}
	return result, errors.Join(errs...)
}

func (s *expiryService) expireOrder(ctx context.Context, invoice string, now time.Time) (bool, error) {
	expired := false
	err := s.unitOfWork.RunInTx(ctx, func(ctx context.Context) error {
		current, err := s.orders.FindByInvoice(ctx, invoice)
		if err != nil {
			return err
		}
		if current.Status != domain.OrderStatusPending || current.Deadline.After(now) {
			return nil
		}
		current.Status = domain.OrderStatusExpired
		current.StatusChangedAt = valuePtr(now)
		current.StatusChangedBy = systemActorID
		current.UpdatedAt = now
		if err := s.orders.Update(ctx, current); err != nil {
			return err
		}
		if _, err := s.outbox.Enqueue(ctx, []domain.OutboxTask{orderStatusNotification(current, domain.OrderStatusPending, now)}); err != nil {
			return err
		}
		expired = true
		return nil
	})
	return expired, err
}

func (s *expiryService) expirePurchase(ctx context.Context, invoice string, now time.Time) (bool, error) {
	expired := false
	err := s.unitOfWork.RunInTx(ctx, func(ctx context.Context) error {
		current, err := s.purchases.FindByInvoice(ctx, invoice)
		if err != nil {
			return err
		}
		if current.PaymentStatus != domain.PurchaseStatusPending || current.Deadline.After(now) {
			return nil
		}
		current.PaymentStatus = domain.PurchaseStatusExpired
		current.UpdatedAt = now
		if err := s.purchases.Update(ctx, current); err != nil {
			return err
		}
		task := newOutboxTask(purchaseAggregateKind, current.ID, domain.OutboxEffectAdminNotification, map[string]any{
			"title":     "Pembelian " + current.InvoiceNumber + " kedaluwarsa",
			"message":   "Batas waktu pembayaran terlewati tanpa verifikasi",
			"type":      string(domain.NotificationTypeWarning),
			"reference": current.InvoiceNumber,
		}, now, string(domain.PurchaseStatusExpired))
		if _, err := s.outbox.Enqueue(ctx, []domain.OutboxTask{task}); err != nil {
			return err
		}
		expired = true
		return nil
	})
	return expired, err
}
