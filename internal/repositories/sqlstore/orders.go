package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	domain "github.com/naiaprojects/naia-sub001/internal/domain"
)

const orderColumns = `invoice_number, id, customer_name, customer_email, customer_phone, package_id, package_name,
	package_price, briefing, payment_method, amount_due, amount_due_later, status, payment_date, deadline,
	status_changed_at, status_changed_by, created_at, updated_at`

type orderRepository struct{ s *Store }

func (r orderRepository) Insert(ctx context.Context, o domain.Order) error {
	briefing, err := encodeJSON(o.Briefing)
	if err != nil {
		return fmt.Errorf("orders.insert: encode briefing: %w", err)
	}
	_, err = r.s.conn(ctx).ExecContext(ctx, `INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		strings.TrimSpace(o.InvoiceNumber), o.ID, o.Customer.Name, o.Customer.Email, o.Customer.Phone,
		o.Package.ID, o.Package.Name, o.Package.Price, briefing, string(o.PaymentMethod),
		o.AmountDue, o.AmountDueLater, string(o.Status), nullTime(o.PaymentDate), o.Deadline.UTC(),
		nullTime(o.StatusChangedAt), o.StatusChangedBy, o.CreatedAt.UTC(), o.UpdatedAt.UTC())
	return wrapError("orders.insert", err)
}

// Update rewrites the mutable lifecycle columns.
func (r orderRepository) Update(ctx context.Context, o domain.Order) error {
	res, err := r.s.conn(ctx).ExecContext(ctx, `UPDATE orders
		SET status = $1, payment_date = $2, status_changed_at = $3, status_changed_by = $4, updated_at = $5
		WHERE invoice_number = $6`,
		string(o.Status), nullTime(o.PaymentDate), nullTime(o.StatusChangedAt), o.StatusChangedBy,
		o.UpdatedAt.UTC(), strings.TrimSpace(o.InvoiceNumber))
	if err != nil {
		return wrapError("orders.update", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("orders.update", o.InvoiceNumber)
	}
	return nil
}

func (r orderRepository) FindByInvoice(ctx context.Context, invoiceNumber string) (domain.Order, error) {
	row := r.s.conn(ctx).QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE invoice_number = $1`+r.s.rowLock(ctx),
		strings.TrimSpace(invoiceNumber))
	order, err := scanOrder(row)
	if err != nil {
		return domain.Order{}, wrapError("orders.find", err)
	}
	return order, nil
}

func (r orderRepository) ListPendingBefore(ctx context.Context, deadline time.Time, limit int) ([]domain.Order, error) {
	rows, err := r.s.conn(ctx).QueryContext(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE status = $1 AND deadline <= $2 ORDER BY deadline LIMIT $3`,
		string(domain.OrderStatusPending), deadline.UTC(), normaliseLimit(limit))
	if err != nil {
		return nil, wrapError("orders.list_pending", err)
	}
	defer func() { _ = rows.Close() }()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, wrapError("orders.list_pending", err)
		}
		orders = append(orders, order)
	}
	return orders, wrapError("orders.list_pending", rows.Err())
}

func scanOrder(row scanner) (domain.Order, error) {
	var (
		o                          domain.Order
		briefing                   sql.NullString
		method, status             string
		paymentDate, statusChanged sql.NullTime
	)
	err := row.Scan(&o.InvoiceNumber, &o.ID, &o.Customer.Name, &o.Customer.Email, &o.Customer.Phone,
		&o.Package.ID, &o.Package.Name, &o.Package.Price, &briefing, &method, &o.AmountDue, &o.AmountDueLater,
		&status, &paymentDate, &o.Deadline, &statusChanged, &o.StatusChangedBy, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return domain.Order{}, err
	}
	if o.Briefing, err = decodeJSON[map[string]any](briefing.String); err != nil {
		return domain.Order{}, fmt.Errorf("decode briefing: %w", err)
	}
	o.PaymentMethod = domain.PaymentMethod(method)
	o.Status = domain.OrderStatus(status)
	o.PaymentDate = timePtr(paymentDate)
	o.StatusChangedAt = timePtr(statusChanged)
	o.Deadline = o.Deadline.UTC()
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return o, nil
}

const purchaseColumns = `invoice_number, id, item_id, customer_name, customer_email, customer_phone, amount,
	payment_status, deadline, verified_at, verified_by, rejected_reason, created_at, updated_at`

type purchaseRepository struct{ s *Store }

func (r purchaseRepository) Insert(ctx context.Context, p domain.StorePurchase) error {
	_, err := r.s.conn(ctx).ExecContext(ctx, `INSERT INTO store_purchases (`+purchaseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		strings.TrimSpace(p.InvoiceNumber), p.ID, p.ItemID, p.Customer.Name, p.Customer.Email, p.Customer.Phone,
		p.Amount, string(p.PaymentStatus), p.Deadline.UTC(), nullTime(p.VerifiedAt), p.VerifiedBy,
		p.RejectedReason, p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	return wrapError("store_purchases.insert", err)
}

func (r purchaseRepository) Update(ctx context.Context, p domain.StorePurchase) error {
	res, err := r.s.conn(ctx).ExecContext(ctx, `UPDATE store_purchases
		SET payment_status = $1, verified_at = $2, verified_by = $3, rejected_reason = $4, updated_at = $5
		WHERE invoice_number = $6`,
		string(p.PaymentStatus), nullTime(p.VerifiedAt), p.VerifiedBy, p.RejectedReason, p.UpdatedAt.UTC(),
		strings.TrimSpace(p.InvoiceNumber))
	if err != nil {
		return wrapError("store_purchases.update", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("store_purchases.update", p.InvoiceNumber)
	}
	return nil
}

func (r purchaseRepository) FindByInvoice(ctx context.Context, invoiceNumber string) (domain.StorePurchase, error) {
	row := r.s.conn(ctx).QueryRowContext(ctx, `SELECT `+purchaseColumns+` FROM store_purchases WHERE invoice_number = $1`+r.s.rowLock(ctx),
		strings.TrimSpace(invoiceNumber))
	p, err := scanPurchase(row)
	if err != nil {
		return domain.StorePurchase{}, wrapError("store_purchases.find", err)
	}
	return p, nil
}

func (r purchaseRepository) ListPendingBefore(ctx context.Context, deadline time.Time, limit int) ([]domain.StorePurchase, error) {
	rows, err := r.s.conn(ctx).QueryContext(ctx, `SELECT `+purchaseColumns+` FROM store_purchases
		WHERE payment_status = $1 AND deadline <= $2 ORDER BY deadline LIMIT $3`,
		string(domain.PurchaseStatusPending), deadline.UTC(), normaliseLimit(limit))
	if err != nil {
		return nil, wrapError("store_purchases.list_pending", err)
	}
	defer func() { _ = rows.Close() }()

	var purchases []domain.StorePurchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, wrapError("store_purchases.list_pending", err)
		}
		purchases = append(purchases, p)
	}
	return purchases, wrapError("store_purchases.list_pending", rows.Err())
}

func scanPurchase(row scanner) (domain.StorePurchase, error) {
	var (
		p        domain.StorePurchase
		status   string
		verified sql.NullTime
	)
	err := row.Scan(&p.InvoiceNumber, &p.ID, &p.ItemID, &p.Customer.Name, &p.Customer.Email, &p.Customer.Phone,
		&p.Amount, &status, &p.Deadline, &verified, &p.VerifiedBy, &p.RejectedReason, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.StorePurchase{}, err
	}
	p.PaymentStatus = domain.PurchaseStatus(status)
	p.VerifiedAt = timePtr(verified)
	p.Deadline = p.Deadline.UTC()
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func normaliseLimit(limit int) int {
	if limit <= 0 {
		return 500
	}
	return limit
}
