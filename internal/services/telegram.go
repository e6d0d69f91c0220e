package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"golang.org/x/time/rate"
)

const (
	defaultTelegramBaseURL  = "https://api.telegram.org"
	defaultTelegramPerMin   = 20
	maxTelegramMessageRunes = 4096
)

// TelegramArticle is the announcement payload for a published article.
type TelegramArticle struct {
	ArticleID    string
	Title        string
	Slug         string
	Excerpt      string
	CategoryName string
	PublishedAt  time.Time
}

// TelegramPoster announces articles to the configured channel.
type TelegramPoster interface {
	PostArticle(ctx context.Context, article TelegramArticle) error
}

// TelegramConfig configures the Bot API client.
type TelegramConfig struct {
	BotToken      string
	ChatID        string
	BaseURL       string
	PublicSiteURL string
	RatePerMinute int
	HTTPClient    *http.Client
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

// TelegramClient posts HTML messages through the Bot API sendMessage method.
type TelegramClient struct {
	token   string
	chatID  string
	baseURL string
	siteURL string
	client  *http.Client
	limiter *rate.Limiter
	policy  *bluemonday.Policy
	md      goldmark.Markdown
	logger  func(context.Context, string, map[string]any)
}

var _ TelegramPoster = (*TelegramClient)(nil)

func NewTelegramClient(cfg TelegramConfig) *TelegramClient {
	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = defaultTelegramPerMin
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultTelegramBaseURL
	}
	return &TelegramClient{
		token:   strings.TrimSpace(cfg.BotToken),
		chatID:  strings.TrimSpace(cfg.ChatID),
		baseURL: baseURL,
		siteURL: strings.TrimRight(strings.TrimSpace(cfg.PublicSiteURL), "/"),
		client:  client,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
		policy:  newTelegramHTMLPolicy(),
		md:      goldmark.New(),
		logger:  ensureLogger(cfg.Logger),
	}
}

// newTelegramHTMLPolicy allows only the tags the Bot API accepts with parse_mode HTML.
func newTelegramHTMLPolicy() *bluemonday.Policy {
	policy := bluemonday.NewPolicy()
	policy.AllowElements("b", "strong", "i", "em", "u", "ins", "s", "strike", "del", "code", "pre", "blockquote")
	policy.AllowAttrs("href").OnElements("a")
	policy.AllowStandardURLs()
	policy.AllowURLSchemes("http", "https")
	return policy
}

// Enabled reports whether a bot token and chat are configured.
func (c *TelegramClient) Enabled() bool {
	return c != nil && c.token != "" && c.chatID != ""
}

func (c *TelegramClient) PostArticle(ctx context.Context, article TelegramArticle) error {
	if !c.Enabled() {
		c.logger(ctx, "telegram.post_skipped", map[string]any{"articleId": article.ArticleID, "reason": "not configured"})
		return nil
	}
	text, err := c.RenderMessage(article)
	if err != nil {
		return Permanent(err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := c.sendMessage(ctx, text); err != nil {
		return err
	}
	c.logger(ctx, "telegram.posted", map[string]any{"articleId": article.ArticleID, "slug": article.Slug})
	return nil
}

// RenderMessage builds the HTML announcement. The excerpt is treated as markdown.
func (c *TelegramClient) RenderMessage(article TelegramArticle) (string, error) {
	var b strings.Builder
	b.WriteString("<b>")
	b.WriteString(html.EscapeString(strings.TrimSpace(article.Title)))
	b.WriteString("</b>")

	if excerpt := strings.TrimSpace(article.Excerpt); excerpt != "" {
		var rendered bytes.Buffer
		if err := c.md.Convert([]byte(excerpt), &rendered); err != nil {
			return "", fmt.Errorf("telegram: render excerpt: %w", err)
		}
		// Telegram has no paragraph tag, so paragraphs become blank lines before sanitising.
		body := strings.ReplaceAll(rendered.String(), "</p>", "\n\n")
		body = strings.TrimSpace(c.policy.Sanitize(body))
		if body != "" {
			b.WriteString("\n\n")
			b.WriteString(body)
		}
	}
	if category := strings.TrimSpace(article.CategoryName); category != "" {
		b.WriteString("\n\n#")
		b.WriteString(html.EscapeString(strings.ReplaceAll(category, " ", "")))
	}
	if link := c.articleURL(article.Slug); link != "" {
		b.WriteString("\n\n<a href=\"")
		b.WriteString(html.EscapeString(link))
		b.WriteString("\">Baca selengkapnya</a>")
	}

	text := b.String()
	if runes := []rune(text); len(runes) > maxTelegramMessageRunes {
		return "", fmt.Errorf("telegram: message for %s exceeds %d characters", article.Slug, maxTelegramMessageRunes)
	}
	return text, nil
}

func (c *TelegramClient) articleURL(slug string) string {
	slug = strings.Trim(strings.TrimSpace(slug), "/")
	if slug == "" || c.siteURL == "" {
		return ""
	}
	return c.siteURL + "/blog/" + slug
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

func (c *TelegramClient) sendMessage(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]any{
		"chat_id":    c.chatID,
		"text":       text,
		"parse_mode": "HTML",
	})
	if err != nil {
		return Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/bot"+c.token+"/sendMessage", bytes.NewReader(body))
	if err != nil {
		return Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// The request URL embeds the token; never surface it.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return fmt.Errorf("telegram: send message: %w", err)
	}
	defer resp.Body.Close()

	var decoded telegramResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(raw, &decoded)
	if resp.StatusCode == http.StatusOK && decoded.OK {
		return nil
	}
	err = fmt.Errorf("telegram: send message: status %d: %s", resp.StatusCode, strings.TrimSpace(decoded.Description))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return err
	case resp.StatusCode >= 400:
		return Permanent(err)
	}
	return err
}
