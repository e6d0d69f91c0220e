package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	domain "github.com/naiaprojects/naia-sub001/internal/domain"
	"github.com/naiaprojects/naia-sub001/internal/platform/cache"
	"github.com/naiaprojects/naia-sub001/internal/platform/config"
	"github.com/naiaprojects/naia-sub001/internal/platform/observability"
	"github.com/naiaprojects/naia-sub001/internal/repositories"
	"github.com/naiaprojects/naia-sub001/internal/services"
)

// Services bundles the service-layer contracts that handlers and workers rely upon.
type Services struct {
	Catalog       services.CatalogService
	BankAccounts  services.BankAccountService
	Invoices      services.InvoiceService
	Orders        services.OrderService
	Purchases     services.PurchaseService
	Notifications services.NotificationService
	Content       services.ContentService
	Dispatcher    services.OutboxDispatcher
	Expiry        services.ExpiryService
	System        services.SystemService

	Telegram    *services.TelegramClient
	Revalidator *services.Revalidator
}

// Infrastructure carries the optional runtime adapters built by the entrypoint. Nil fields
// fall back to in-process defaults or leave the matching effect unconfigured.
type Infrastructure struct {
	Cache      cache.Cache
	Delivery   services.DeliveryPublisher
	Signer     services.DownloadSigner
	HTTPClient *http.Client
	Meter      metric.Meter
	Logger     *zap.Logger
	Clock      func() time.Time
	Build      services.BuildInfo
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, infra Infrastructure) (Services, error) {
	var svc Services

	logger := infra.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	events := func(name string) func(context.Context, string, map[string]any) {
		return observability.NewEventLogger(logger.Named(name))
	}
	clock := infra.Clock
	if clock == nil {
		clock = time.Now
	}
	pageCache := infra.Cache
	if pageCache == nil {
		pageCache = cache.NewMemory()
	}
	httpClient := infra.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Catalog:  reg.Catalog(),
		Cache:    pageCache,
		CacheTTL: cfg.Redis.CacheTTL,
		Logger:   events("catalog"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	bankSvc, err := services.NewBankAccountService(services.BankAccountServiceDeps{
		Accounts: reg.BankAccounts(),
		Cache:    pageCache,
		CacheTTL: cfg.Redis.CacheTTL,
		Logger:   events("bank_accounts"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build bank account service: %w", err)
	}
	svc.BankAccounts = bankSvc

	counterSvc, err := services.NewCounterService(services.CounterServiceDeps{Repository: reg.Counters()})
	if err != nil {
		return Services{}, fmt.Errorf("build counter service: %w", err)
	}
	invoiceSvc, err := services.NewInvoiceService(services.InvoiceServiceDeps{
		Counters: counterSvc,
		Location: cfg.Lifecycle.Location(),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build invoice service: %w", err)
	}
	svc.Invoices = invoiceSvc

	svc.Telegram = services.NewTelegramClient(services.TelegramConfig{
		BotToken:      cfg.Telegram.BotToken,
		ChatID:        cfg.Telegram.ChatID,
		BaseURL:       cfg.Telegram.APIBaseURL,
		PublicSiteURL: cfg.Handoff.PublicBaseURL,
		RatePerMinute: cfg.Telegram.RatePerMinute,
		HTTPClient:    httpClient,
		Logger:        events("telegram"),
	})
	svc.Revalidator = services.NewRevalidator(services.RevalidatorConfig{
		Cache:       pageCache,
		WebhookURL:  cfg.Revalidate.URL,
		Secret:      cfg.Revalidate.Secret,
		MaxAttempts: cfg.Revalidate.MaxAttempts,
		HTTPClient:  httpClient,
		Logger:      events("revalidate"),
	})

	handlers := map[domain.OutboxEffect]services.OutboxHandler{
		domain.OutboxEffectAdminNotification: services.NotificationEffect{Notifications: reg.Notifications(), Clock: clock},
		domain.OutboxEffectRevalidate:        services.RevalidateEffect{Revalidator: svc.Revalidator},
		domain.OutboxEffectTelegramPost:      services.TelegramEffect{Poster: svc.Telegram},
	}
	if infra.Signer != nil && infra.Delivery != nil {
		handlers[domain.OutboxEffectPurchaseDelivery] = services.PurchaseDeliveryEffect{
			Purchases: reg.Purchases(),
			Catalog:   reg.Catalog(),
			Signer:    infra.Signer,
			Publisher: infra.Delivery,
			URLTTL:    cfg.Storage.DownloadURLTTL,
			Logger:    events("delivery"),
		}
	} else {
		logger.Warn("di: purchase delivery not configured; verified purchases will dead-letter their delivery task")
	}

	dispatcher, err := services.NewOutboxDispatcher(services.OutboxDispatcherDeps{
		Outbox:      reg.Outbox(),
		Handlers:    handlers,
		BatchSize:   cfg.Workers.OutboxBatchSize,
		MaxAttempts: cfg.Workers.OutboxMaxAttempts,
		Meter:       infra.Meter,
		Clock:       clock,
		Logger:      events("outbox"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build outbox dispatcher: %w", err)
	}
	svc.Dispatcher = dispatcher

	var handoff *services.HandoffLinkBuilder
	if cfg.Handoff.WhatsAppNumber != "" {
		handoff, err = services.NewHandoffLinkBuilder(services.HandoffConfig{
			BusinessNumber: cfg.Handoff.WhatsAppNumber,
			CountryCode:    cfg.Handoff.DefaultCountryCode,
			SiteName:       cfg.Handoff.SiteName,
			Locale:         cfg.Handoff.CurrencyLocale,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build handoff links: %w", err)
		}
	}
	deadlines := services.DeadlinePolicy{Window: cfg.Lifecycle.PaymentWindow}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders(),
		Outbox:     reg.Outbox(),
		UnitOfWork: reg,
		Catalog:    catalogSvc,
		Invoices:   invoiceSvc,
		Deadlines:  deadlines,
		Handoff:    handoff,
		Kicker:     dispatcher,
		Clock:      clock,
		Logger:     events("orders"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	purchaseSvc, err := services.NewPurchaseService(services.PurchaseServiceDeps{
		Purchases:  reg.Purchases(),
		Outbox:     reg.Outbox(),
		UnitOfWork: reg,
		Catalog:    catalogSvc,
		Invoices:   invoiceSvc,
		Deadlines:  deadlines,
		Handoff:    handoff,
		Kicker:     dispatcher,
		Clock:      clock,
		Logger:     events("purchases"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build purchase service: %w", err)
	}
	svc.Purchases = purchaseSvc

	notificationSvc, err := services.NewNotificationService(services.NotificationServiceDeps{
		Notifications: reg.Notifications(),
		Clock:         clock,
		Logger:        events("notifications"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build notification service: %w", err)
	}
	svc.Notifications = notificationSvc

	contentSvc, err := services.NewContentService(services.ContentServiceDeps{
		Articles:   reg.Articles(),
		Outbox:     reg.Outbox(),
		UnitOfWork: reg,
		Kicker:     dispatcher,
		Clock:      clock,
		Logger:     events("content"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build content service: %w", err)
	}
	svc.Content = contentSvc

	expirySvc, err := services.NewExpiryService(services.ExpiryServiceDeps{
		Orders:          reg.Orders(),
		Purchases:       reg.Purchases(),
		Outbox:          reg.Outbox(),
		UnitOfWork:      reg,
		Kicker:          dispatcher,
		ExpirePurchases: cfg.Lifecycle.ExpirePurchases,
		Clock:           clock,
		Logger:          events("expiry"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build expiry service: %w", err)
	}
	svc.Expiry = expirySvc

	if healthRepo := reg.Health(); healthRepo != nil {
		build := infra.Build
		if build.StartedAt.IsZero() {
			build.StartedAt = clock().UTC()
		}
		if build.Environment == "" {
			build.Environment = cfg.Security.Environment
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build:            build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
