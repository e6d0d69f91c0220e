package sqlstore

import (
	"context"
	"fmt"
	"strings"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		invoice_number TEXT PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		customer_name TEXT NOT NULL,
		customer_email TEXT NOT NULL,
		customer_phone TEXT NOT NULL,
		package_id TEXT NOT NULL,
		package_name TEXT NOT NULL,
		package_price BIGINT NOT NULL,
		briefing {json},
		payment_method TEXT NOT NULL,
		amount_due BIGINT NOT NULL,
		amount_due_later BIGINT NOT NULL,
		status TEXT NOT NULL,
		payment_date {ts},
		deadline {ts} NOT NULL,
		status_changed_at {ts},
		status_changed_by TEXT NOT NULL DEFAULT '',
		created_at {ts} NOT NULL,
		updated_at {ts} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS orders_status_deadline ON orders (status, deadline)`,
	`CREATE TABLE IF NOT EXISTS store_purchases (
		invoice_number TEXT PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		item_id TEXT NOT NULL,
		customer_name TEXT NOT NULL,
		customer_email TEXT NOT NULL,
		customer_phone TEXT NOT NULL,
		amount BIGINT NOT NULL,
		payment_status TEXT NOT NULL,
		deadline {ts} NOT NULL,
		verified_at {ts},
		verified_by TEXT NOT NULL DEFAULT '',
		rejected_reason TEXT NOT NULL DEFAULT '',
		created_at {ts} NOT NULL,
		updated_at {ts} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS store_purchases_status_deadline ON store_purchases (payment_status, deadline)`,
	`CREATE TABLE IF NOT EXISTS catalog_packages (
		id TEXT PRIMARY KEY,
		slug TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		price BIGINT NOT NULL,
		features {json},
		active BOOLEAN NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS catalog_items (
		id TEXT PRIMARY KEY,
		slug TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		price_type TEXT NOT NULL,
		price BIGINT NOT NULL,
		category_name TEXT NOT NULL DEFAULT '',
		asset_object TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS bank_accounts (
		id TEXT PRIMARY KEY,
		bank_name TEXT NOT NULL,
		account_number TEXT NOT NULL,
		account_holder TEXT NOT NULL,
		is_active BOOLEAN NOT NULL,
		position INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		type TEXT NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		is_read BOOLEAN NOT NULL,
		created_at {ts} NOT NULL,
		read_at {ts}
	)`,
	`CREATE INDEX IF NOT EXISTS notifications_created ON notifications (created_at, id)`,
	`CREATE TABLE IF NOT EXISTS articles (
		id TEXT PRIMARY KEY,
		slug TEXT NOT NULL,
		title TEXT NOT NULL,
		excerpt TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		category_name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		published_at {ts},
		created_at {ts} NOT NULL,
		updated_at {ts} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_tasks (
		id TEXT PRIMARY KEY,
		dedupe_key TEXT NOT NULL UNIQUE,
		effect TEXT NOT NULL,
		aggregate_kind TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload {json},
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		next_attempt_at {ts} NOT NULL,
		lease_until {ts},
		last_error TEXT NOT NULL DEFAULT '',
		created_at {ts} NOT NULL,
		updated_at {ts} NOT NULL,
		delivered_at {ts}
	)`,
	`CREATE INDEX IF NOT EXISTS outbox_tasks_due ON outbox_tasks (status, next_attempt_at)`,
	`CREATE TABLE IF NOT EXISTS counters (
		id TEXT PRIMARY KEY,
		value BIGINT NOT NULL,
		updated_at {ts} NOT NULL
	)`,
}

// Migrate creates missing tables and indexes. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	replacer := strings.NewReplacer("{ts}", s.dialect.TimestampType, "{json}", s.dialect.JSONType)
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, replacer.Replace(stmt)); err != nil {
			return fmt.Errorf("sqlstore: migrate: %w", err)
		}
	}
	return nil
}
