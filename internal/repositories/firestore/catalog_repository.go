package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/naiaprojects/naia-sub001/internal/domain"
	pfirestore "github.com/naiaprojects/naia-sub001/internal/platform/firestore"
)

const (
	packagesCollection = "catalogPackages"
	itemsCollection    = "catalogItems"
)

type packageDocument struct {
	Slug     string   `firestore:"slug"`
	Name     string   `firestore:"name"`
	Price    int64    `firestore:"price"`
	Features []string `firestore:"features,omitempty"`
	Active   bool     `firestore:"active"`
}

type itemDocument struct {
	Slug         string `firestore:"slug"`
	Name         string `firestore:"name"`
	PriceType    string `firestore:"priceType"`
	Price        int64  `firestore:"price"`
	CategoryName string `firestore:"categoryName,omitempty"`
	AssetObject  string `firestore:"assetObject,omitempty"`
	Active       bool   `firestore:"active"`
}

// CatalogRepository reads packages and items, resolving by document ID then slug.
type CatalogRepository struct {
	packages *pfirestore.BaseRepository[packageDocument]
	items    *pfirestore.BaseRepository[itemDocument]
}

func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{
		packages: pfirestore.NewBaseRepository[packageDocument](provider, packagesCollection),
		items:    pfirestore.NewBaseRepository[itemDocument](provider, itemsCollection),
	}, nil
}

func (r *CatalogRepository) FindPackage(ctx context.Context, idOrSlug string) (domain.CatalogPackage, error) {
	doc, err := findByIDOrSlug(ctx, r.packages, idOrSlug)
	if err != nil {
		return domain.CatalogPackage{}, err
	}
	return domain.CatalogPackage{
		ID:       doc.ID,
		Slug:     doc.Data.Slug,
		Name:     doc.Data.Name,
		Price:    doc.Data.Price,
		Features: doc.Data.Features,
		Active:   doc.Data.Active,
	}, nil
}

func (r *CatalogRepository) FindItem(ctx context.Context, idOrSlug string) (domain.CatalogItem, error) {
	doc, err := findByIDOrSlug(ctx, r.items, idOrSlug)
	if err != nil {
		return domain.CatalogItem{}, err
	}
	return domain.CatalogItem{
		ID:           doc.ID,
		Slug:         doc.Data.Slug,
		Name:         doc.Data.Name,
		PriceType:    domain.PriceType(doc.Data.PriceType),
		Price:        doc.Data.Price,
		CategoryName: doc.Data.CategoryName,
		AssetObject:  doc.Data.AssetObject,
		Active:       doc.Data.Active,
	}, nil
}

func (r *CatalogRepository) UpsertPackage(ctx context.Context, pkg domain.CatalogPackage) error {
	return r.packages.Set(ctx, pkg.ID, packageDocument{
		Slug:     pkg.Slug,
		Name:     pkg.Name,
		Price:    pkg.Price,
		Features: pkg.Features,
		Active:   pkg.Active,
	})
}

func (r *CatalogRepository) UpsertItem(ctx context.Context, item domain.CatalogItem) error {
	return r.items.Set(ctx, item.ID, itemDocument{
		Slug:         item.Slug,
		Name:         item.Name,
		PriceType:    string(item.PriceType),
		Price:        item.Price,
		CategoryName: item.CategoryName,
		AssetObject:  item.AssetObject,
		Active:       item.Active,
	})
}

func findByIDOrSlug[T any](ctx context.Context, base *pfirestore.BaseRepository[T], idOrSlug string) (pfirestore.Document[T], error) {
	key := strings.TrimSpace(idOrSlug)
	if key == "" {
		return pfirestore.Document[T]{}, pfirestore.WrapError("catalog.find", status.Error(codes.InvalidArgument, "identifier is required"))
	}
	if !strings.Contains(key, "/") {
		doc, err := base.Get(ctx, key)
		if err == nil {
			return doc, nil
		}
		if !pfirestore.IsNotFound(err) {
			return pfirestore.Document[T]{}, err
		}
	}
	docs, err := base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("slug", "==", key).Limit(1)
	})
	if err != nil {
		return pfirestore.Document[T]{}, err
	}
	if len(docs) == 0 {
		return pfirestore.Document[T]{}, pfirestore.WrapError("catalog.find", status.Error(codes.NotFound, fmt.Sprintf("%s not found", key)))
	}
	return docs[0], nil
}
