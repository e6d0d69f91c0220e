package sqlstore

import (
	"context"
	"database/sql"

	domain "github.com/naiaprojects/naia-sub001/internal/domain"
)

type articleRepository struct{ s *Store }

func (r articleRepository) FindByID(ctx context.Context, articleID string) (domain.Article, error) {
	var (
		a         domain.Article
		status    string
		published sql.NullTime
	)
	err := r.s.conn(ctx).QueryRowContext(ctx, `SELECT id, slug, title, excerpt, body, category_name, status,
		published_at, created_at, updated_at FROM articles WHERE id = $1`+r.s.rowLock(ctx), articleID).
		Scan(&a.ID, &a.Slug, &a.Title, &a.Excerpt, &a.Body, &a.CategoryName, &status, &published, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return domain.Article{}, wrapError("articles.find", err)
	}
	a.Status = domain.ArticleStatus(status)
	a.PublishedAt = timePtr(published)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}

func (r articleRepository) Save(ctx context.Context, a domain.Article) error {
	_, err := r.s.conn(ctx).ExecContext(ctx, `INSERT INTO articles (id, slug, title, excerpt, body, category_name, status,
		published_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET slug = excluded.slug, title = excluded.title, excerpt = excluded.excerpt,
			body = excluded.body, category_name = excluded.category_name, status = excluded.status,
			published_at = excluded.published_at, updated_at = excluded.updated_at`,
		a.ID, a.Slug, a.Title, a.Excerpt, a.Body, a.CategoryName, string(a.Status), nullTime(a.PublishedAt),
		a.CreatedAt.UTC(), a.UpdatedAt.UTC())
	return wrapError("articles.save", err)
}
