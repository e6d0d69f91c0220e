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

const purchasesCollection = "storePurchases"

type purchaseDocument struct {
	ID             string           `firestore:"id"`
	ItemID         string           `firestore:"itemId"`
	Customer       customerDocument `firestore:"customer"`
	Amount         int64            `firestore:"amount"`
	PaymentStatus  string           `firestore:"paymentStatus"`
	Deadline       time.Time        `firestore:"deadline"`
	VerifiedAt     *time.Time       `firestore:"verifiedAt,omitempty"`
	VerifiedBy     string           `firestore:"verifiedBy,omitempty"`
	RejectedReason string           `firestore:"rejectedReason,omitempty"`
	CreatedAt      time.Time        `firestore:"createdAt"`
	UpdatedAt      time.Time        `firestore:"updatedAt"`
}

// PurchaseRepository stores store purchases under their invoice number.
type PurchaseRepository struct {
	base *pfirestore.BaseRepository[purchaseDocument]
}

func NewPurchaseRepository(provider *pfirestore.Provider) (*PurchaseRepository, error) {
	if provider == nil {
		return nil, errors.New("purchase repository requires firestore provider")
	}
	return &PurchaseRepository{base: pfirestore.NewBaseRepository[purchaseDocument](provider, purchasesCollection)}, nil
}

func (r *PurchaseRepository) Insert(ctx context.Context, purchase domain.StorePurchase) error {
	return r.base.Create(ctx, strings.TrimSpace(purchase.InvoiceNumber), purchaseToDocument(purchase))
}

func (r *PurchaseRepository) Update(ctx context.Context, purchase domain.StorePurchase) error {
	return r.base.Set(ctx, strings.TrimSpace(purchase.InvoiceNumber), purchaseToDocument(purchase))
}

func (r *PurchaseRepository) FindByInvoice(ctx context.Context, invoiceNumber string) (domain.StorePurchase, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(invoiceNumber))
	if err != nil {
		return domain.StorePurchase{}, err
	}
	return purchaseFromDocument(doc.ID, doc.Data), nil
}

func (r *PurchaseRepository) ListPendingBefore(ctx context.Context, deadline time.Time, limit int) ([]domain.StorePurchase, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("paymentStatus", "==", string(domain.PurchaseStatusPending)).
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
	purchases := make([]domain.StorePurchase, 0, len(docs))
	for _, doc := range docs {
		purchases = append(purchases, purchaseFromDocument(doc.ID, doc.Data))
	}
	return purchases, nil
}

func purchaseToDocument(p domain.StorePurchase) purchaseDocument {
	return purchaseDocument{
		ID:             p.ID,
		ItemID:         p.ItemID,
		Customer:       customerToDocument(p.Customer),
		Amount:         p.Amount,
		PaymentStatus:  string(p.PaymentStatus),
		Deadline:       p.Deadline.UTC(),
		VerifiedAt:     utcPtr(p.VerifiedAt),
		VerifiedBy:     p.VerifiedBy,
		RejectedReason: p.RejectedReason,
		CreatedAt:      p.CreatedAt.UTC(),
		UpdatedAt:      p.UpdatedAt.UTC(),
	}
}

func purchaseFromDocument(invoice string, d purchaseDocument) domain.StorePurchase {
	return domain.StorePurchase{
		ID:             d.ID,
		InvoiceNumber:  invoice,
		ItemID:         d.ItemID,
		Customer:       customerFromDocument(d.Customer),
		Amount:         d.Amount,
		PaymentStatus:  domain.PurchaseStatus(d.PaymentStatus),
		Deadline:       d.Deadline.UTC(),
		VerifiedAt:     utcPtr(d.VerifiedAt),
		VerifiedBy:     d.VerifiedBy,
		RejectedReason: d.RejectedReason,
		CreatedAt:      d.CreatedAt.UTC(),
		UpdatedAt:      d.UpdatedAt.UTC(),
	}
}
