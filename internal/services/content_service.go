package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/naiaprojects/naia-sub001/internal/domain"
	"github.com/naiaprojects/naia-sub001/internal/repositories"
)

const (
	articleAggregateKind    = "article"
	revalidateAggregateKind = "site"
	maxArticleTitleLength   = 200
	maxArticleExcerptLength = 1000
	articleEventSaved       = "article.saved"
	articleEventPublished   = "article.published"
	blogIndexPath           = "/blog"
)

var (
	// ErrContentInvalidInput signals the caller provided invalid data.
	ErrContentInvalidInput = errors.New("content: invalid input")
	// ErrContentNotFound indicates the article could not be located.
	ErrContentNotFound = errors.New("content: not found")
	// ErrContentNotPublished rejects announcements for drafts.
	ErrContentNotPublished = errors.New("content: article not published")

	slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
)

// ContentServiceDeps bundles collaborators required to construct the content service.
type ContentServiceDeps struct {
	Articles    repositories.ArticleRepository
	Outbox      repositories.OutboxRepository
	UnitOfWork  repositories.UnitOfWork
	Kicker      OutboxKicker
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type contentService struct {
	articles   repositories.ArticleRepository
	outbox     repositories.OutboxRepository
	unitOfWork repositories.UnitOfWork
	kicker     OutboxKicker
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewContentService wires the article store and outbox into a ContentService.
func NewContentService(deps ContentServiceDeps) (ContentService, error) {
	if deps.Articles == nil {
		return nil, errors.New("content service: article repository is required")
	}
	if deps.Outbox == nil {
		return nil, errors.New("content service: outbox repository is required")
	}
	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	return &contentService{
		articles:   deps.Articles,
		outbox:     deps.Outbox,
		unitOfWork: unit,
		kicker:     deps.Kicker,
		clock:      ensureClock(deps.Clock),
		newID:      idGen,
		logger:     ensureLogger(deps.Logger),
	}, nil
}

// SaveArticle upserts an article. Only a transition from not published to published
// enqueues the Telegram announcement; every save enqueues a revalidation.
func (s *contentService) SaveArticle(ctx context.Context, cmd SaveArticleCommand) (Article, error) {
	article, err := normalizeArticle(cmd)
	if err != nil {
		return Article{}, err
	}

	var (
		saved     Article
		published bool
	)
	now := s.clock()
	err = s.unitOfWork.RunInTx(ctx, func(ctx context.Context) error {
		existing, err := s.articles.FindByID(ctx, article.ID)
		exists := err == nil
		if err != nil && !isRepoNotFound(err) {
			return err
		}

		next := article
		next.CreatedAt = now
		next.UpdatedAt = now
		wasPublished := false
		if exists {
			next.CreatedAt = existing.CreatedAt
			wasPublished = existing.Status == domain.ArticleStatusPublished
		}
		switch {
		case next.Status != domain.ArticleStatusPublished:
			next.PublishedAt = nil
		case wasPublished && existing.PublishedAt != nil:
			next.PublishedAt = existing.PublishedAt
		default:
			next.PublishedAt = valuePtr(now)
		}
		if err := s.articles.Save(ctx, next); err != nil {
			return err
		}

		paths := []string{blogIndexPath, articlePath(next.Slug)}
		if exists && existing.Slug != next.Slug {
			paths = append(paths, articlePath(existing.Slug))
		}
		tasks := []domain.OutboxTask{
			newOutboxTask(articleAggregateKind, next.ID, domain.OutboxEffectRevalidate, map[string]any{"paths": paths},
				now, strconv.FormatInt(now.UnixNano(), 10)),
		}
		if next.Status == domain.ArticleStatusPublished && !wasPublished {
			tasks = append(tasks, telegramPostTask(TelegramPostCommand{
				ArticleID:    next.ID,
				Title:        next.Title,
				Slug:         next.Slug,
				Excerpt:      next.Excerpt,
				CategoryName: next.CategoryName,
				PublishedAt:  next.PublishedAt,
			}, now))
			published = true
		}
		if _, err := s.outbox.Enqueue(ctx, tasks); err != nil {
			return err
		}
		saved = next
		return nil
	})
	if err != nil {
		return Article{}, err
	}
	s.kick()

	event := articleEventSaved
	if published {
		event = articleEventPublished
	}
	s.logger(ctx, event, map[string]any{
		"articleId": saved.ID,
		"slug":      saved.Slug,
		"status":    string(saved.Status),
		"actorId":   strings.TrimSpace(cmd.ActorID),
	})
	return saved, nil
}

// RequestTelegramPost enqueues the announcement for the stored article's current publish
// transition. It reports whether a new task was stored; repeated requests for the same
// transition store nothing. Request fields only fill display text the article lacks.
func (s *contentService) RequestTelegramPost(ctx context.Context, cmd TelegramPostCommand) (bool, error) {
	cmd.ArticleID = strings.TrimSpace(cmd.ArticleID)
	if cmd.ArticleID == "" {
		return false, fmt.Errorf("%w: article id is required", ErrContentInvalidInput)
	}

	article, err := s.articles.FindByID(ctx, cmd.ArticleID)
	if err != nil {
		if isRepoNotFound(err) {
			return false, fmt.Errorf("%w: article %s", ErrContentNotFound, cmd.ArticleID)
		}
		return false, err
	}
	if article.Status != domain.ArticleStatusPublished || article.PublishedAt == nil {
		return false, fmt.Errorf("%w: article %s", ErrContentNotPublished, cmd.ArticleID)
	}
	cmd = fillTelegramPost(cmd, article)
	if !slugPattern.MatchString(cmd.Slug) {
		return false, fmt.Errorf("%w: slug %q is invalid", ErrContentInvalidInput, cmd.Slug)
	}

	stored, err := s.outbox.Enqueue(ctx, []domain.OutboxTask{telegramPostTask(cmd, s.clock())})
	if err != nil {
		return false, err
	}
	if stored > 0 {
		s.kick()
	}
	s.logger(ctx, "article.telegram.requested", map[string]any{"articleId": cmd.ArticleID, "enqueued": stored > 0})
	return stored > 0, nil
}

func (s *contentService) RequestRevalidate(ctx context.Context, cmd RevalidateCommand) error {
	now := s.clock()
	paths := normalizePaths(cmd.Paths)
	task := newOutboxTask(revalidateAggregateKind, s.newID(), domain.OutboxEffectRevalidate, map[string]any{"paths": paths}, now)
	if _, err := s.outbox.Enqueue(ctx, []domain.OutboxTask{task}); err != nil {
		return err
	}
	s.kick()
	s.logger(ctx, "revalidate.requested", map[string]any{"paths": paths})
	return nil
}

func (s *contentService) kick() {
	if s.kicker != nil {
		s.kicker.Kick()
	}
}

func telegramPostTask(cmd TelegramPostCommand, now time.Time) domain.OutboxTask {
	publishedAt := now
	if cmd.PublishedAt != nil {
		publishedAt = cmd.PublishedAt.UTC()
	}
	return newOutboxTask(articleAggregateKind, cmd.ArticleID, domain.OutboxEffectTelegramPost, map[string]any{
		"articleId":    cmd.ArticleID,
		"title":        cmd.Title,
		"slug":         cmd.Slug,
		"excerpt":      strings.TrimSpace(cmd.Excerpt),
		"categoryName": strings.TrimSpace(cmd.CategoryName),
		"publishedAt":  publishedAt.Format(time.RFC3339Nano),
	}, now, strconv.FormatInt(publishedAt.UnixNano(), 10))
}

func fillTelegramPost(cmd TelegramPostCommand, article Article) TelegramPostCommand {
	return TelegramPostCommand{
		ArticleID:    article.ID,
		Title:        chooseFirstNonEmpty(article.Title, strings.TrimSpace(cmd.Title)),
		Slug:         article.Slug,
		Excerpt:      chooseFirstNonEmpty(article.Excerpt, strings.TrimSpace(cmd.Excerpt)),
		CategoryName: chooseFirstNonEmpty(article.CategoryName, strings.TrimSpace(cmd.CategoryName)),
		PublishedAt:  article.PublishedAt,
	}
}

func normalizeArticle(cmd SaveArticleCommand) (Article, error) {
	article := Article{
		ID:           strings.TrimSpace(cmd.ID),
		Slug:         strings.ToLower(strings.TrimSpace(cmd.Slug)),
		Title:        strings.TrimSpace(cmd.Title),
		Excerpt:      strings.TrimSpace(cmd.Excerpt),
		Body:         cmd.Body,
		CategoryName: strings.TrimSpace(cmd.CategoryName),
		Status:       domain.ArticleStatus(strings.ToLower(strings.TrimSpace(string(cmd.Status)))),
	}
	if article.Status == "" {
		article.Status = domain.ArticleStatusDraft
	}
	switch {
	case article.ID == "":
		return Article{}, fmt.Errorf("%w: article id is required", ErrContentInvalidInput)
	case article.Title == "":
		return Article{}, fmt.Errorf("%w: title is required", ErrContentInvalidInput)
	case len([]rune(article.Title)) > maxArticleTitleLength:
		return Article{}, fmt.Errorf("%w: title must be at most %d characters", ErrContentInvalidInput, maxArticleTitleLength)
	case len([]rune(article.Excerpt)) > maxArticleExcerptLength:
		return Article{}, fmt.Errorf("%w: excerpt must be at most %d characters", ErrContentInvalidInput, maxArticleExcerptLength)
	case !slugPattern.MatchString(article.Slug):
		return Article{}, fmt.Errorf("%w: slug %q is invalid", ErrContentInvalidInput, article.Slug)
	case article.Status != domain.ArticleStatusDraft && article.Status != domain.ArticleStatusPublished:
		return Article{}, fmt.Errorf("%w: status must be draft or published", ErrContentInvalidInput)
	}
	return article, nil
}

func articlePath(slug string) string {
	return blogIndexPath + "/" + slug
}
