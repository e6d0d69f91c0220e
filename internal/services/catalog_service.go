package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/naiaprojects/naia-sub001/internal/platform/cache"
	"github.com/naiaprojects/naia-sub001/internal/repositories"
)

const (
	catalogCachePrefix     = "catalog:"
	defaultCatalogCacheTTL = 10 * time.Minute
)

var (
	// ErrCatalogInvalidInput indicates an empty lookup key.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrCatalogPackageNotFound indicates the package does not exist or is inactive.
	ErrCatalogPackageNotFound = errors.New("catalog: package not found")
	// ErrCatalogItemNotFound indicates the item does not exist or is inactive.
	ErrCatalogItemNotFound = errors.New("catalog: item not found")
)

// CatalogServiceDeps bundles collaborators for the catalog reader.
type CatalogServiceDeps struct {
	Catalog  repositories.CatalogRepository
	Cache    cache.Cache
	CacheTTL time.Duration
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	catalog repositories.CatalogRepository
	cache   cache.Cache
	ttl     time.Duration
	logger  func(context.Context, string, map[string]any)
}

// NewCatalogService constructs the catalog reader. A nil cache reads the repository directly.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Catalog == nil {
		return nil, errors.New("catalog service: catalog repository is required")
	}
	ttl := deps.CacheTTL
	if ttl <= 0 {
		ttl = defaultCatalogCacheTTL
	}
	return &catalogService{
		catalog: deps.Catalog,
		cache:   deps.Cache,
		ttl:     ttl,
		logger:  ensureLogger(deps.Logger),
	}, nil
}

func (s *catalogService) GetPackage(ctx context.Context, idOrSlug string) (CatalogPackage, error) {
	key := strings.TrimSpace(idOrSlug)
	if key == "" {
		return CatalogPackage{}, fmt.Errorf("%w: package is required", ErrCatalogInvalidInput)
	}
	pkg, err := cache.ReadThrough(ctx, s.cache, catalogCachePrefix+"package:"+key, s.ttl, s.cacheError,
		func(ctx context.Context) (CatalogPackage, error) {
			return s.catalog.FindPackage(ctx, key)
		})
	if err != nil {
		if isRepoNotFound(err) {
			return CatalogPackage{}, fmt.Errorf("%w: %s", ErrCatalogPackageNotFound, key)
		}
		return CatalogPackage{}, err
	}
	if !pkg.Active {
		return CatalogPackage{}, fmt.Errorf("%w: %s is inactive", ErrCatalogPackageNotFound, key)
	}
	return pkg, nil
}

func (s *catalogService) GetItem(ctx context.Context, idOrSlug string) (CatalogItem, error) {
	key := strings.TrimSpace(idOrSlug)
	if key == "" {
		return CatalogItem{}, fmt.Errorf("%w: item is required", ErrCatalogInvalidInput)
	}
	item, err := cache.ReadThrough(ctx, s.cache, catalogCachePrefix+"item:"+key, s.ttl, s.cacheError,
		func(ctx context.Context) (CatalogItem, error) {
			return s.catalog.FindItem(ctx, key)
		})
	if err != nil {
		if isRepoNotFound(err) {
			return CatalogItem{}, fmt.Errorf("%w: %s", ErrCatalogItemNotFound, key)
		}
		return CatalogItem{}, err
	}
	if !item.Active {
		return CatalogItem{}, fmt.Errorf("%w: %s is inactive", ErrCatalogItemNotFound, key)
	}
	return item, nil
}

func (s *catalogService) cacheError(ctx context.Context, op, key string, err error) {
	s.logger(ctx, "catalog_cache_failed", map[string]any{"op": op, "key": key, "error": err})
}
