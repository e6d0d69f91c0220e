package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	domain "github.com/naiaprojects/naia-sub001/internal/domain"
)

type catalogRepository struct{ s *Store }

func (r catalogRepository) FindPackage(ctx context.Context, idOrSlug string) (domain.CatalogPackage, error) {
	key := strings.TrimSpace(idOrSlug)
	rows, err := r.s.conn(ctx).QueryContext(ctx, `SELECT id, slug, name, price, features, active
		FROM catalog_packages WHERE id = $1 OR slug = $2`, key, key)
	if err != nil {
		return domain.CatalogPackage{}, wrapError("catalog.find_package", err)
	}
	defer func() { _ = rows.Close() }()

	var found []domain.CatalogPackage
	for rows.Next() {
		var (
			pkg      domain.CatalogPackage
			features sql.NullString
		)
		if err := rows.Scan(&pkg.ID, &pkg.Slug, &pkg.Name, &pkg.Price, &features, &pkg.Active); err != nil {
			return domain.CatalogPackage{}, wrapError("catalog.find_package", err)
		}
		if pkg.Features, err = decodeJSON[[]string](features.String); err != nil {
			return domain.CatalogPackage{}, fmt.Errorf("catalog.find_package: decode features: %w", err)
		}
		found = append(found, pkg)
	}
	if err := rows.Err(); err != nil {
		return domain.CatalogPackage{}, wrapError("catalog.find_package", err)
	}
	return preferID(found, key, func(p domain.CatalogPackage) string { return p.ID }, "catalog.find_package")
}

func (r catalogRepository) FindItem(ctx context.Context, idOrSlug string) (domain.CatalogItem, error) {
	key := strings.TrimSpace(idOrSlug)
	rows, err := r.s.conn(ctx).QueryContext(ctx, `SELECT id, slug, name, price_type, price, category_name, asset_object, active
		FROM catalog_items WHERE id = $1 OR slug = $2`, key, key)
	if err != nil {
		return domain.CatalogItem{}, wrapError("catalog.find_item", err)
	}
	defer func() { _ = rows.Close() }()

	var found []domain.CatalogItem
	for rows.Next() {
		var (
			item      domain.CatalogItem
			priceType string
		)
		if err := rows.Scan(&item.ID, &item.Slug, &item.Name, &priceType, &item.Price, &item.CategoryName, &item.AssetObject, &item.Active); err != nil {
			return domain.CatalogItem{}, wrapError("catalog.find_item", err)
		}
		item.PriceType = domain.PriceType(priceType)
		found = append(found, item)
	}
	if err := rows.Err(); err != nil {
		return domain.CatalogItem{}, wrapError("catalog.find_item", err)
	}
	return preferID(found, key, func(i domain.CatalogItem) string { return i.ID }, "catalog.find_item")
}

// preferID picks the row whose ID matches key over one matched by slug.
func preferID[T any](rows []T, key string, id func(T) string, op string) (T, error) {
	var zero T
	if len(rows) == 0 {
		return zero, notFound(op, key)
	}
	for _, row := range rows {
		if id(row) == key {
			return row, nil
		}
	}
	return rows[0], nil
}

func (r catalogRepository) UpsertPackage(ctx context.Context, pkg domain.CatalogPackage) error {
	features, err := encodeJSON(pkg.Features)
	if err != nil {
		return fmt.Errorf("catalog.upsert_package: %w", err)
	}
	_, err = r.s.conn(ctx).ExecContext(ctx, `INSERT INTO catalog_packages (id, slug, name, price, features, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET slug = excluded.slug, name = excluded.name, price = excluded.price,
			features = excluded.features, active = excluded.active`,
		pkg.ID, pkg.Slug, pkg.Name, pkg.Price, features, pkg.Active)
	return wrapError("catalog.upsert_package", err)
}

func (r catalogRepository) UpsertItem(ctx context.Context, item domain.CatalogItem) error {
	_, err := r.s.conn(ctx).ExecContext(ctx, `INSERT INTO catalog_items (id, slug, name, price_type, price, category_name, asset_object, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET slug = excluded.slug, name = excluded.name, price_type = excluded.price_type,
			price = excluded.price, category_name = excluded.category_name, asset_object = excluded.asset_object,
			active = excluded.active`,
		item.ID, item.Slug, item.Name, string(item.PriceType), item.Price, item.CategoryName, item.AssetObject, item.Active)
	return wrapError("catalog.upsert_item", err)
}

type bankAccountRepository struct{ s *Store }

func (r bankAccountRepository) ListActive(ctx context.Context) ([]domain.BankAccount, error) {
	rows, err := r.s.conn(ctx).QueryContext(ctx, `SELECT id, bank_name, account_number, account_holder, is_active, position
		FROM bank_accounts WHERE is_active = $1 ORDER BY position, id`, true)
	if err != nil {
		return nil, wrapError("bank_accounts.list_active", err)
	}
	defer func() { _ = rows.Close() }()

	accounts := []domain.BankAccount{}
	for rows.Next() {
		var a domain.BankAccount
		if err := rows.Scan(&a.ID, &a.BankName, &a.AccountNumber, &a.AccountHolder, &a.IsActive, &a.Position); err != nil {
			return nil, wrapError("bank_accounts.list_active", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, wrapError("bank_accounts.list_active", rows.Err())
}

func (r bankAccountRepository) Upsert(ctx context.Context, a domain.BankAccount) error {
	if strings.TrimSpace(a.ID) == "" {
		return wrapError("bank_accounts.upsert", errors.New("id is required"))
	}
	_, err := r.s.conn(ctx).ExecContext(ctx, `INSERT INTO bank_accounts (id, bank_name, account_number, account_holder, is_active, position)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET bank_name = excluded.bank_name, account_number = excluded.account_number,
			account_holder = excluded.account_holder, is_active = excluded.is_active, position = excluded.position`,
		a.ID, a.BankName, a.AccountNumber, a.AccountHolder, a.IsActive, a.Position)
	return wrapError("bank_accounts.upsert", err)
}
