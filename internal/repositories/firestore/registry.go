// Package firestore implements the repositories on Cloud Firestore.
package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/naiaprojects/naia-sub001/internal/platform/firestore"
	"github.com/naiaprojects/naia-sub001/internal/repositories"
)

// Registry wires every Firestore repository to one provider. RunInTx carries the
// transaction in the context so repository calls made inside fn join it.
type Registry struct {
	provider      *pfirestore.Provider
	health        repositories.HealthRepository
	orders        *OrderRepository
	purchases     *PurchaseRepository
	catalog       *CatalogRepository
	bankAccounts  *BankAccountRepository
	notifications *NotificationRepository
	articles      *ArticleRepository
	outbox        *OutboxRepository
	counters      *CounterRepository
}

var _ repositories.Registry = (*Registry)(nil)

func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	reg := &Registry{provider: provider, health: health}
	var err error
	if reg.orders, err = NewOrderRepository(provider); err != nil {
		return nil, err
	}
	if reg.purchases, err = NewPurchaseRepository(provider); err != nil {
		return nil, err
	}
	if reg.catalog, err = NewCatalogRepository(provider); err != nil {
		return nil, err
	}
	if reg.bankAccounts, err = NewBankAccountRepository(provider); err != nil {
		return nil, err
	}
	if reg.notifications, err = NewNotificationRepository(provider); err != nil {
		return nil, err
	}
	if reg.articles, err = NewArticleRepository(provider); err != nil {
		return nil, err
	}
	if reg.outbox, err = NewOutboxRepository(provider); err != nil {
		return nil, err
	}
	if reg.counters, err = NewCounterRepository(provider); err != nil {
		return nil, err
	}
	return reg, nil
}

func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		return fn(ctx)
	})
}

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

func (r *Registry) Orders() repositories.OrderRepository               { return r.orders }
func (r *Registry) Purchases() repositories.PurchaseRepository         { return r.purchases }
func (r *Registry) Catalog() repositories.CatalogRepository            { return r.catalog }
func (r *Registry) BankAccounts() repositories.BankAccountRepository   { return r.bankAccounts }
func (r *Registry) Notifications() repositories.NotificationRepository { return r.notifications }
func (r *Registry) Articles() repositories.ArticleRepository           { return r.articles }
func (r *Registry) Outbox() repositories.OutboxRepository              { return r.outbox }
func (r *Registry) Counters() repositories.CounterRepository           { return r.counters }
func (r *Registry) Health() repositories.HealthRepository              { return r.health }
