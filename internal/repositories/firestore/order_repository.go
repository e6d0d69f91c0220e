package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/naiaprojects/naia-sub001/internal/domain"
	pfirestore "github.com/naiaprojects/naia-sub001/internal/platform/firestore"
)

const ordersCollection = "orders"

type customerDocument struct {
	Name  string `firestore:"name"`
	Email string `firestore:"email"`
	Phone string `firestore:"phone"`
}

type orderDocument struct {
	ID              string           `firestore:"id"`
	Customer        customerDocument `firestore:"customer"`
	PackageID       string           `firestore:"packageId"`
	PackageName     string           `firestore:"packageName"`
	PackagePrice    int64            `firestore:"packagePrice"`
	Briefing        map[string]any   `firestore:"briefing,omitempty"`
	PaymentMethod   string           `firestore:"paymentMethod"`
	AmountDue       int64            `firestore:"amountDue"`
	AmountDueLater  int64            `firestore:"amountDueLater"`
	Status          string           `firestore:"status"`
	PaymentDate     *time.Time       `firestore:"paymentDate,omitempty"`
	Deadline        time.Time        `firestore:"deadline"`
	StatusChangedAt *time.Time       `firestore:"statusChangedAt,omitempty"`
	StatusChangedBy string           `firestore:"statusChangedBy,omitempty"`
	CreatedAt       time.Time        `firestore:"createdAt"`
	UpdatedAt       time.Time        `firestore:"updatedAt"`
}

// OrderRepository stores orders under their invoice number so a duplicate invoice fails
// the create.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
}

func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{base: pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection)}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	return r.base.Create(ctx, strings.TrimSpace(order.InvoiceNumber), orderToDocument(order))
}

func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	return r.base.Set(ctx, strings.TrimSpace(order.InvoiceNumber), orderToDocument(order))
}

func (r *OrderRepository) FindByInvoice(ctx context.Context, invoiceNumber string) (domain.Order, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(invoiceNumber))
	if err != nil {
		return domain.Order{}, err
	}
	return orderFromDocument(doc.ID, doc.Data), nil
}

func (r *OrderRepository) ListPendingBefore(ctx context.Context, deadline time.Time, limit int) ([]domain.Order, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("status", "==", string(domain.OrderStatusPending)).
			Where("deadline", "<=", deadline.UTC()).
			OrderBy("deadline", firestore.Asc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, orderFromDocument(doc.ID, doc.Data))
	}
	return orders, nil
}

func orderToDocument(o domain.Order) orderDocument {
	return orderDocument{
		ID:              o.ID,
		Customer:        customerToDocument(o.Customer),
		PackageID:       o.Package.ID,
		PackageName:     o.Package.Name,
		PackagePrice:    o.Package.Price,
		Briefing:        o.Briefing,
		PaymentMethod:   string(o.PaymentMethod),
		AmountDue:       o.AmountDue,
		AmountDueLater:  o.AmountDueLater,
		Status:          string(o.Status),
		PaymentDate:     utcPtr(o.PaymentDate),
		Deadline:        o.Deadline.UTC(),
		StatusChangedAt: utcPtr(o.StatusChangedAt),
		StatusChangedBy: o.StatusChangedBy,
		CreatedAt:       o.CreatedAt.UTC(),
		UpdatedAt:       o.UpdatedAt.UTC(),
	}
}

func orderFromDocument(invoice string, d orderDocument) domain.Order {
	return domain.Order{
		ID:              d.ID,
		InvoiceNumber:   invoice,
		Customer:        customerFromDocument(d.Customer),
		Package:         domain.PackageSnapshot{ID: d.PackageID, Name: d.PackageName, Price: d.PackagePrice},
		Briefing:        d.Briefing,
		PaymentMethod:   domain.PaymentMethod(d.PaymentMethod),
		AmountDue:       d.AmountDue,
		AmountDueLater:  d.AmountDueLater,
		Status:          domain.OrderStatus(d.Status),
		PaymentDate:     utcPtr(d.PaymentDate),
		Deadline:        d.Deadline.UTC(),
		StatusChangedAt: utcPtr(d.StatusChangedAt),
		StatusChangedBy: d.StatusChangedBy,
		CreatedAt:       d.CreatedAt.UTC(),
		UpdatedAt:       d.UpdatedAt.UTC(),
	}
}

func customerToDocument(c domain.CustomerSnapshot) customerDocument {
	return customerDocument{Name: c.Name, Email: c.Email, Phone: c.Phone}
}

func customerFromDocument(c customerDocument) domain.CustomerSnapshot {
	return domain.CustomerSnapshot{Name: c.Name, Email: c.Email, Phone: c.Phone}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.UTC()
	return &v
}
