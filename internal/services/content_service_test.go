package services

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	domain "github.com/naiaprojects/naia-sub001/internal/domain"
)

func newContentFixture(t *testing.T, clock *mutableClock) (ContentService, *memoryArticles, *memoryOutbox, *countingKicker) {
	t.Helper()
	articles := newMemoryArticles()
	outbox := newMemoryOutbox()
	kicker := &countingKicker{}
	ids := 0
	svc, err := NewContentService(ContentServiceDeps{
		Articles:   articles,
		Outbox:     outbox,
		UnitOfWork: &stubUnitOfWork{},
		Kicker:     kicker,
		Clock:      clock.Now,
		IDGenerator: func() string {
			ids++
			return "rev" + strings.Repeat("x", ids)
		},
	})
	if err != nil {
		t.Fatalf("new content service: %v", err)
	}
	return svc, articles, outbox, kicker
}

func articleCommand(status domain.ArticleStatus) SaveArticleCommand {
	return SaveArticleCommand{
		ID:           "art_1",
		Slug:         "tips-branding",
		Title:        "Tips Branding",
		Excerpt:      "Lima **tips** untuk UMKM",
		Body:         "# Tips",
		CategoryName: "Branding",
		Status:       status,
		ActorID:      "admin-1",
	}
}

func TestContentServicePublishEnqueuesTelegramOnce(t *testing.T) {
	clock := &mutableClock{now: orderTestNow}
	svc, articles, outbox, kicker := newContentFixture(t, clock)
	ctx := context.Background()

	draft, err := svc.SaveArticle(ctx, articleCommand(domain.ArticleStatusDraft))
	if err != nil {
		t.Fatalf("save draft: %v", err)
	}
	if draft.PublishedAt != nil {
		t.Fatal("drafts have no publish time")
	}
	if n := len(outbox.byEffect(domain.OutboxEffectTelegramPost)); n != 0 {
		t.Fatalf("drafts must not post, got %d tasks", n)
	}

	clock.Advance(time.Minute)
	published, err := svc.SaveArticle(ctx, articleCommand(domain.ArticleStatusPublished))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if published.PublishedAt == nil || !published.PublishedAt.Equal(clock.Now()) {
		t.Fatalf("unexpected publish time %v", published.PublishedAt)
	}
	if !published.CreatedAt.Equal(orderTestNow) {
		t.Fatalf("created time must be preserved, got %s", published.CreatedAt)
	}

	clock.Advance(time.Minute)
	edited := articleCommand(domain.ArticleStatusPublished)
	edited.Title = "Tips Branding 2025"
	if _, err := svc.SaveArticle(ctx, edited); err != nil {
		t.Fatalf("edit published: %v", err)
	}

	posts := outbox.byEffect(domain.OutboxEffectTelegramPost)
	if len(posts) != 1 {
		t.Fatalf("expected exactly one telegram task, got %d", len(posts))
	}
	wantKey := "article:art_1:telegram_post:" + strconv.FormatInt(published.PublishedAt.UnixNano(), 10)
	if posts[0].DedupeKey != wantKey {
		t.Fatalf("unexpected key %s, want %s", posts[0].DedupeKey, wantKey)
	}
	if got := articles.articles["art_1"]; got.Title != "Tips Branding 2025" || !got.PublishedAt.Equal(*published.PublishedAt) {
		t.Fatalf("edit must keep the original publish time: %+v", got)
	}
	if n := len(outbox.byEffect(domain.OutboxEffectRevalidate)); n != 3 {
		t.Fatalf("expected a revalidation per save, got %d", n)
	}
	if kicker.kicks != 3 {
		t.Fatalf("expected a kick per save, got %d", kicker.kicks)
	}

	stored, err := svc.RequestTelegramPost(ctx, TelegramPostCommand{ArticleID: "art_1"})
	if err != nil {
		t.Fatalf("request post: %v", err)
	}
	if stored {
		t.Fatal("a manual request for the same publish must be deduplicated")
	}
	if n := len(outbox.byEffect(domain.OutboxEffectTelegramPost)); n != 1 {
		t.Fatalf("expected still one telegram task, got %d", n)
	}
}

func TestContentServiceRepublishPostsAgain(t *testing.T) {
	clock := &mutableClock{now: orderTestNow}
	svc, _, outbox, _ := newContentFixture(t, clock)
	ctx := context.Background()

	for _, status := range []domain.ArticleStatus{domain.ArticleStatusPublished, domain.ArticleStatusDraft, domain.ArticleStatusPublished} {
		if _, err := svc.SaveArticle(ctx, articleCommand(status)); err != nil {
			t.Fatalf("save %s: %v", status, err)
		}
		clock.Advance(time.Hour)
	}
	if n := len(outbox.byEffect(domain.OutboxEffectTelegramPost)); n != 2 {
		t.Fatalf("expected one post per publish transition, got %d", n)
	}
}

func TestContentServiceRevalidatePathsIncludeOldSlug(t *testing.T) {
	clock := &mutableClock{now: orderTestNow}
	svc, _, outbox, _ := newContentFixture(t, clock)
	ctx := context.Background()
	if _, err := svc.SaveArticle(ctx, articleCommand(domain.ArticleStatusDraft)); err != nil {
		t.Fatalf("save: %v", err)
	}
	clock.Advance(time.Second)
	renamed := articleCommand(domain.ArticleStatusDraft)
	renamed.Slug = "tips-branding-umkm"
	if _, err := svc.SaveArticle(ctx, renamed); err != nil {
		t.Fatalf("rename: %v", err)
	}
	tasks := outbox.byEffect(domain.OutboxEffectRevalidate)
	paths := payloadStrings(tasks[len(tasks)-1].Payload, "paths")
	want := []string{"/blog", "/blog/tips-branding-umkm", "/blog/tips-branding"}
	if strings.Join(paths, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected paths %v", paths)
	}
}

func TestContentServiceValidation(t *testing.T) {
	svc, _, _, _ := newContentFixture(t, &mutableClock{now: orderTestNow})
	cases := []func(*SaveArticleCommand){
		func(c *SaveArticleCommand) { c.ID = "" },
		func(c *SaveArticleCommand) { c.Title = "" },
		func(c *SaveArticleCommand) { c.Slug = "Not A Slug" },
		func(c *SaveArticleCommand) { c.Status = "archived" },
		func(c *SaveArticleCommand) { c.Title = strings.Repeat("t", maxArticleTitleLength+1) },
	}
	for i, mutate := range cases {
		cmd := articleCommand(domain.ArticleStatusDraft)
		mutate(&cmd)
		if _, err := svc.SaveArticle(context.Background(), cmd); !errors.Is(err, ErrContentInvalidInput) {
			t.Errorf("case %d: expected invalid input, got %v", i, err)
		}
	}
}

func TestContentServiceRepublishWithinOneSecondPostsAgain(t *testing.T) {
	clock := &mutableClock{now: orderTestNow}
	svc, _, outbox, _ := newContentFixture(t, clock)
	ctx := context.Background()

	for _, status := range []domain.ArticleStatus{domain.ArticleStatusPublished, domain.ArticleStatusDraft, domain.ArticleStatusPublished} {
		if _, err := svc.SaveArticle(ctx, articleCommand(status)); err != nil {
			t.Fatalf("save %s: %v", status, err)
		}
		clock.Advance(200 * time.Millisecond)
	}
	posts := outbox.byEffect(domain.OutboxEffectTelegramPost)
	if len(posts) != 2 {
		t.Fatalf("expected one post per publish transition, got %d", len(posts))
	}
	if posts[0].DedupeKey == posts[1].DedupeKey {
		t.Fatalf("transitions in the same second must not share key %s", posts[0].DedupeKey)
	}
}

func TestContentServiceRequestTelegramPost(t *testing.T) {
	clock := &mutableClock{now: orderTestNow}
	svc, articles, outbox, _ := newContentFixture(t, clock)
	ctx := context.Background()

	publishedAt := orderTestNow.Add(-time.Hour)
	articles.articles["art_1"] = domain.Article{
		ID:          "art_1",
		Slug:        "tips-branding",
		Title:       "Tips Branding",
		Status:      domain.ArticleStatusPublished,
		PublishedAt: &publishedAt,
	}

	later := clock.Now().Add(time.Hour)
	cmd := TelegramPostCommand{ArticleID: "art_1", Title: "Other title", Slug: "other-slug", PublishedAt: &later}
	stored, err := svc.RequestTelegramPost(ctx, cmd)
	if err != nil || !stored {
		t.Fatalf("first request should enqueue: %v %v", stored, err)
	}
	posts := outbox.byEffect(domain.OutboxEffectTelegramPost)
	if len(posts) != 1 {
		t.Fatalf("expected one task, got %d", len(posts))
	}
	if got := payloadString(posts[0].Payload, "slug"); got != "tips-branding" {
		t.Fatalf("stored slug must win, got %q", got)
	}
	if got := payloadString(posts[0].Payload, "title"); got != "Tips Branding" {
		t.Fatalf("stored title must win, got %q", got)
	}
	if got := payloadString(posts[0].Payload, "excerpt"); got != "" {
		t.Fatalf("unexpected excerpt %q", got)
	}
	if got := payloadString(posts[0].Payload, "publishedAt"); got != publishedAt.Format(time.RFC3339Nano) {
		t.Fatalf("stored publish time must win, got %q", got)
	}

	for _, offset := range []time.Duration{time.Hour, 2 * time.Hour} {
		ts := orderTestNow.Add(offset)
		stored, err = svc.RequestTelegramPost(ctx, TelegramPostCommand{ArticleID: "art_1", PublishedAt: &ts})
		if err != nil || stored {
			t.Fatalf("a different client publish time must not post again: %v %v", stored, err)
		}
	}
	if n := len(outbox.byEffect(domain.OutboxEffectTelegramPost)); n != 1 {
		t.Fatalf("expected still one task, got %d", n)
	}

	draft := articleCommand(domain.ArticleStatusDraft)
	draft.ID = "art_2"
	draft.Slug = "draft-post"
	if _, err := svc.SaveArticle(ctx, draft); err != nil {
		t.Fatalf("save draft: %v", err)
	}
	ts := orderTestNow
	if _, err := svc.RequestTelegramPost(ctx, TelegramPostCommand{ArticleID: "art_2", Title: "Draft", Slug: "draft-post", PublishedAt: &ts}); !errors.Is(err, ErrContentNotPublished) {
		t.Fatalf("expected not published for a draft, got %v", err)
	}
	if _, err := svc.RequestTelegramPost(ctx, TelegramPostCommand{ArticleID: "art_9", Title: "Hello", Slug: "hello", PublishedAt: &ts}); !errors.Is(err, ErrContentNotFound) {
		t.Fatalf("expected not found for unknown article, got %v", err)
	}
	if n := len(outbox.byEffect(domain.OutboxEffectTelegramPost)); n != 1 {
		t.Fatalf("drafts and unknown articles must not enqueue, got %d", n)
	}
	if _, ok := articles.articles["art_9"]; ok {
		t.Fatal("requests must not create articles")
	}
	if _, err := svc.RequestTelegramPost(ctx, TelegramPostCommand{}); !errors.Is(err, ErrContentInvalidInput) {
		t.Fatalf("expected invalid input without id, got %v", err)
	}
}

func TestContentServiceRequestRevalidate(t *testing.T) {
	svc, _, outbox, kicker := newContentFixture(t, &mutableClock{now: orderTestNow})
	if err := svc.RequestRevalidate(context.Background(), RevalidateCommand{Paths: []string{"store", "/store", " "}}); err != nil {
		t.Fatalf("request revalidate: %v", err)
	}
	tasks := outbox.byEffect(domain.OutboxEffectRevalidate)
	if len(tasks) != 1 || kicker.kicks != 1 {
		t.Fatalf("expected one task and kick, got %d/%d", len(tasks), kicker.kicks)
	}
	if paths := payloadStrings(tasks[0].Payload, "paths"); len(paths) != 1 || paths[0] != "/store" {
		t.Fatalf("unexpected paths %v", paths)
	}
}
