package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/naiaprojects/naia-sub001/internal/platform/cache"
)

const (
	defaultRevalidateAttempts = 4
	defaultRevalidateDelay    = 500 * time.Millisecond
	revalidateSecretHeader    = "X-Revalidate-Secret"
)

// RevalidatorConfig configures cache purging and the downstream revalidation webhook.
type RevalidatorConfig struct {
	Cache       cache.Cache
	WebhookURL  string
	Secret      string
	MaxAttempts int
	BaseDelay   time.Duration
	HTTPClient  *http.Client
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

// Revalidator drops cached catalog data and asks the frontend to rebuild the given paths.
type Revalidator struct {
	cache       cache.Cache
	url         string
	secret      string
	maxAttempts int
	baseDelay   time.Duration
	client      *http.Client
	logger      func(context.Context, string, map[string]any)
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewRevalidator(cfg RevalidatorConfig) *Revalidator {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultRevalidateAttempts
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Revalidator{
		cache:       cfg.Cache,
		url:         strings.TrimSpace(cfg.WebhookURL),
		secret:      cfg.Secret,
		maxAttempts: attempts,
		baseDelay:   orDuration(cfg.BaseDelay, defaultRevalidateDelay),
		client:      client,
		logger:      ensureLogger(cfg.Logger),
		sleep:       sleepContext,
	}
}

// Revalidate purges the cache and calls the webhook, retrying with exponential backoff.
// The cache purge happens even if the webhook keeps failing.
func (r *Revalidator) Revalidate(ctx context.Context, paths []string) error {
	paths = normalizePaths(paths)
	if r.cache != nil {
		removed, err := r.cache.DeletePrefix(ctx, "")
		if err != nil {
			r.logger(ctx, "revalidate_cache_failed", map[string]any{"error": err})
		} else {
			r.logger(ctx, "revalidate.cache_purged", map[string]any{"removed": removed})
		}
	}
	if r.url == "" {
		return nil
	}

	var lastErr error
	delay := r.baseDelay
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if lastErr = r.call(ctx, paths); lastErr == nil {
			r.logger(ctx, "revalidate.webhook_called", map[string]any{"paths": paths, "attempt": attempt})
			return nil
		}
		if IsPermanent(lastErr) || attempt == r.maxAttempts {
			break
		}
		if err := r.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
		delay *= 2
	}
	r.logger(ctx, "revalidate_failed", map[string]any{"paths": paths, "error": lastErr})
	return lastErr
}

func (r *Revalidator) call(ctx context.Context, paths []string) error {
	body, err := json.Marshal(map[string]any{"paths": paths})
	if err != nil {
		return Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return Permanent(fmt.Errorf("revalidate: build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if r.secret != "" {
		req.Header.Set(revalidateSecretHeader, r.secret)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("revalidate: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return Permanent(fmt.Errorf("revalidate: webhook rejected credentials: status %d", resp.StatusCode))
	default:
		return fmt.Errorf("revalidate: webhook returned status %d", resp.StatusCode)
	}
}

// normalizePaths trims, deduplicates and roots paths. An empty result means everything.
func normalizePaths(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
