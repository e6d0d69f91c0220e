package firestore

import (
	"context"
	"errors"
	"time"

	domain "github.com/naiaprojects/naia-sub001/internal/domain"
	pfirestore "github.com/naiaprojects/naia-sub001/internal/platform/firestore"
)

const articlesCollection = "articles"

type articleDocument struct {
	Slug         string     `firestore:"slug"`
	Title        string     `firestore:"title"`
	Excerpt      string     `firestore:"excerpt,omitempty"`
	Body         string     `firestore:"body,omitempty"`
	CategoryName string     `firestore:"categoryName,omitempty"`
	Status       string     `firestore:"status"`
	PublishedAt  *time.Time `firestore:"publishedAt,omitempty"`
	CreatedAt    time.Time  `firestore:"createdAt"`
	UpdatedAt    time.Time  `firestore:"updatedAt"`
}

type ArticleRepository struct {
	base *pfirestore.BaseRepository[articleDocument]
}

func NewArticleRepository(provider *pfirestore.Provider) (*ArticleRepository, error) {
	if provider == nil {
		return nil, errors.New("article repository requires firestore provider")
	}
	return &ArticleRepository{base: pfirestore.NewBaseRepository[articleDocument](provider, articlesCollection)}, nil
}

func (r *ArticleRepository) FindByID(ctx context.Context, articleID string) (domain.Article, error) {
	doc, err := r.base.Get(ctx, articleID)
	if err != nil {
		return domain.Article{}, err
	}
	d := doc.Data
	return domain.Article{
		ID:           doc.ID,
		Slug:         d.Slug,
		Title:        d.Title,
		Excerpt:      d.Excerpt,
		Body:         d.Body,
		CategoryName: d.CategoryName,
		Status:       domain.ArticleStatus(d.Status),
		PublishedAt:  utcPtr(d.PublishedAt),
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}, nil
}

func (r *ArticleRepository) Save(ctx context.Context, article domain.Article) error {
	return r.base.Set(ctx, article.ID, articleDocument{
		Slug:         article.Slug,
		Title:        article.Title,
		Excerpt:      article.Excerpt,
		Body:         article.Body,
		CategoryName: article.CategoryName,
		Status:       string(article.Status),
		PublishedAt:  utcPtr(article.PublishedAt),
		CreatedAt:    article.CreatedAt.UTC(),
		UpdatedAt:    article.UpdatedAt.UTC(),
	})
}
