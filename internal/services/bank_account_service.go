package services

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/naiaprojects/naia-sub001/internal/platform/cache"
	"github.com/naiaprojects/naia-sub001/internal/repositories"
)

const bankAccountsCacheKey = "bank-accounts:active"

// BankAccountServiceDeps bundles collaborators for the settlement account reader.
type BankAccountServiceDeps struct {
	Accounts repositories.BankAccountRepository
	Cache    cache.Cache
	CacheTTL time.Duration
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type bankAccountService struct {
	accounts repositories.BankAccountRepository
	cache    cache.Cache
	ttl      time.Duration
	logger   func(context.Context, string, map[string]any)
}

func NewBankAccountService(deps BankAccountServiceDeps) (BankAccountService, error) {
	if deps.Accounts == nil {
		return nil, errors.New("bank account service: repository is required")
	}
	ttl := deps.CacheTTL
	if ttl <= 0 {
		ttl = defaultCatalogCacheTTL
	}
	return &bankAccountService{accounts: deps.Accounts, cache: deps.Cache, ttl: ttl, logger: ensureLogger(deps.Logger)}, nil
}

// ListActive returns active accounts ordered by position.
func (s *bankAccountService) ListActive(ctx context.Context) ([]BankAccount, error) {
	accounts, err := cache.ReadThrough(ctx, s.cache, bankAccountsCacheKey, s.ttl,
		func(ctx context.Context, op, key string, err error) {
			s.logger(ctx, "bank_accounts_cache_failed", map[string]any{"op": op, "key": key, "error": err})
		},
		func(ctx context.Context) ([]BankAccount, error) {
			return s.accounts.ListActive(ctx)
		})
	if err != nil {
		return nil, err
	}
	active := make([]BankAccount, 0, len(accounts))
	for _, account := range accounts {
		if account.IsActive {
			active = append(active, account)
		}
	}
	slices.SortStableFunc(active, func(a, b BankAccount) int { return a.Position - b.Position })
	return active, nil
}
