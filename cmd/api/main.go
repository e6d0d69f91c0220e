package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/naiaprojects/naia-sub001/internal/di"
	"github.com/naiaprojects/naia-sub001/internal/handlers"
	"github.com/naiaprojects/naia-sub001/internal/platform/auth"
	"github.com/naiaprojects/naia-sub001/internal/platform/cache"
	"github.com/naiaprojects/naia-sub001/internal/platform/config"
	pfirestore "github.com/naiaprojects/naia-sub001/internal/platform/firestore"
	"github.com/naiaprojects/naia-sub001/internal/platform/idempotency"
	"github.com/naiaprojects/naia-sub001/internal/platform/jobs"
	"github.com/naiaprojects/naia-sub001/internal/platform/observability"
	"github.com/naiaprojects/naia-sub001/internal/platform/secrets"
	platformstorage "github.com/naiaprojects/naia-sub001/internal/platform/storage"
	"github.com/naiaprojects/naia-sub001/internal/repositories"
	firestoreRepo "github.com/naiaprojects/naia-sub001/internal/repositories/firestore"
	"github.com/naiaprojects/naia-sub001/internal/repositories/sqlstore"
	"github.com/naiaprojects/naia-sub001/internal/services"
)

const (
	checkoutRatePerMinute = 10
	checkoutRateBurst     = 3
	shutdownTimeout       = 10 * time.Second
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)
	clientOpts := googleClientOptions(cfg)

	var (
		checks            []repositories.DependencyCheck
		sqlStore          *sqlstore.Store
		firestoreProvider *pfirestore.Provider
	)
	switch cfg.Store.Driver {
	case config.StoreDriverFirestore:
		firestoreProvider = pfirestore.NewProvider(cfg.Firestore, pfirestore.WithClientOptions(clientOpts...))
		checks = append(checks, repositories.DependencyCheck{Name: "firestore", Check: firestoreProvider.Ping})
	default:
		sqlStore, err = sqlstore.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
		if err != nil {
			logger.Fatal("failed to open sql store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
		}
		checks = append(checks, repositories.DependencyCheck{Name: cfg.Store.Driver, Check: sqlStore.Ping})
	}

	var (
		pageCache        cache.Cache = cache.NewMemory()
		idempotencyStore idempotency.Store
		memoryStore      *idempotency.MemoryStore
	)
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
		redisCache, err := cache.NewRedis(redisClient)
		if err != nil {
			logger.Fatal("failed to initialise redis cache", zap.Error(err))
		}
		pageCache = redisCache
		idempotencyStore = idempotency.NewRedisStore(redisClient)
		checks = append(checks, repositories.DependencyCheck{
			Name:     "redis",
			Optional: true,
			Check:    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	} else {
		memoryStore = idempotency.NewMemoryStore()
		idempotencyStore = memoryStore
		logger.Info("redis not configured; using in-process cache and idempotency store")
	}

	var signedURLClient *platformstorage.Client
	if bucket := strings.TrimSpace(cfg.Storage.AssetsBucket); bucket != "" && strings.TrimSpace(cfg.Storage.SignerKeyFile) != "" {
		signer, err := platformstorage.LoadServiceAccountSigner(cfg.Storage.SignerKeyFile)
		if err != nil {
			logger.Fatal("failed to load storage signer key", zap.Error(err))
		}
		signedURLClient, err = platformstorage.NewClient(signer, bucket)
		if err != nil {
			logger.Fatal("failed to initialise signed url client", zap.Error(err))
		}

		storageClient, err := cloudstorage.NewClient(ctx, clientOpts...)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		}()
		checks = append(checks, repositories.DependencyCheck{
			Name:     "storage",
			Optional: true,
			Check: func(ctx context.Context) error {
				_, err := storageClient.Bucket(bucket).Attrs(ctx)
				return err
			},
		})
	} else {
		logger.Warn("storage signer not configured; purchase deliveries are disabled")
	}

	var deliveryPublisher services.DeliveryPublisher
	if topicName := strings.TrimSpace(cfg.PubSub.DeliveryTopic); topicName != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID, clientOpts...)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		topic := pubsubClient.Topic(topicName)
		defer func() {
			topic.Stop()
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		publisher, err := jobs.NewPubSubDeliveryPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise delivery publisher", zap.Error(err))
		}
		deliveryPublisher = publisher
	}

	healthRepo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		logger.Fatal("failed to initialise health checks", zap.Error(err))
	}

	var registry repositories.Registry
	if sqlStore != nil {
		registry = sqlStore.WithHealth(healthRepo)
	} else {
		registry, err = firestoreRepo.NewRegistry(firestoreProvider, healthRepo)
		if err != nil {
			logger.Fatal("failed to initialise firestore registry", zap.Error(err))
		}
	}

	infra := di.Infrastructure{
		Cache:  pageCache,
		Meter:  otel.GetMeterProvider().Meter("github.com/naiaprojects/naia-sub001"),
		Logger: logger,
		Clock:  time.Now,
		Build:  buildInfo,
	}
	if signedURLClient != nil {
		infra.Signer = signedURLClient
	}
	if deliveryPublisher != nil {
		infra.Delivery = deliveryPublisher
	}
	container, err := di.NewContainer(ctx, cfg, registry, infra)
	if err != nil {
		logger.Fatal("failed to build service container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()
	svc := container.Services

	if seedPath := strings.TrimSpace(cfg.SeedFile); seedPath != "" {
		if err := applySeed(ctx, logger.Named("seed"), registry, seedPath); err != nil {
			logger.Fatal("failed to apply seed file", zap.String("path", seedPath), zap.Error(err))
		}
	}

	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(idempotency.LogFunc(observability.NewEventLogger(logger.Named("idempotency")))),
	)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerCtx = observability.WithLogger(workerCtx, logger.Named("worker"))
	var workers sync.WaitGroup

	workers.Add(1)
	go func() {
		defer workers.Done()
		svc.Dispatcher.Run(workerCtx, cfg.Workers.OutboxInterval)
	}()

	workers.Add(1)
	go func() {
		defer workers.Done()
		runExpirySweeps(workerCtx, logger.Named("expiry"), svc.Expiry, cfg.Workers.SweepInterval)
	}()

	if memoryStore != nil && cfg.Idempotency.CleanupInterval > 0 {
		workers.Add(1)
		go func() {
			defer workers.Done()
			ticker := time.NewTicker(cfg.Idempotency.CleanupInterval)
			defer ticker.Stop()
			cleanupLogger := logger.Named("idempotency")
			for {
				select {
				case <-ticker.C:
					if removed := memoryStore.Sweep(time.Now().UTC()); removed > 0 {
						cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
					}
				case <-workerCtx.Done():
					return
				}
			}
		}()
	}

	var authenticator *auth.Authenticator
	if strings.TrimSpace(cfg.Firebase.ProjectID) != "" {
		firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
		if err != nil {
			logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
		}
		authenticator = auth.NewAuthenticator(firebaseVerifier)
	} else {
		logger.Warn("auth: firebase project not configured; admin routes are disabled")
	}
	oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg)

	orderHandlers := handlers.NewOrderHandlers(svc.Orders,
		handlers.WithOrderRateLimit(checkoutRatePerMinute, checkoutRateBurst),
	)
	storeHandlers := handlers.NewStoreHandlers(svc.Purchases, svc.BankAccounts,
		handlers.WithStoreRateLimit(checkoutRatePerMinute, checkoutRateBurst),
	)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	var opts []handlers.Option
	opts = append(opts, handlers.WithMiddlewares(middlewares...))
	opts = append(opts, handlers.WithHealthHandlers(healthHandlers))
	opts = append(opts, handlers.WithPublicMiddlewares(idempotencyMiddleware))
	opts = append(opts, handlers.WithPublicRoutes(orderHandlers.Routes, storeHandlers.Routes))

	if authenticator != nil {
		adminHandlers := handlers.NewAdminHandlers(handlers.AdminDeps{
			Authenticator: authenticator,
			Roles:         cfg.Security.AdminRoles,
			Orders:        svc.Orders,
			Purchases:     svc.Purchases,
			Notifications: svc.Notifications,
			Content:       svc.Content,
		})
		opts = append(opts, handlers.WithPublicRoutes(adminHandlers.PublishingRoutes))
		opts = append(opts, handlers.WithAdminMiddlewares(idempotencyMiddleware))
		opts = append(opts, handlers.WithAdminRoutes(adminHandlers.Routes))
	}

	internalHandlers := handlers.NewInternalHandlers(svc.Dispatcher, svc.Expiry)
	switch {
	case oidcMiddleware != nil:
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware))
		opts = append(opts, handlers.WithInternalRoutes(internalHandlers.Routes))
	case cfg.Security.Environment == "local":
		logger.Warn("auth: OIDC not configured; internal routes are unauthenticated in local environment")
		opts = append(opts, handlers.WithInternalRoutes(internalHandlers.Routes))
	default:
		logger.Warn("auth: OIDC not configured; internal routes are disabled")
	}

	router := handlers.NewRouter(opts...)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("naia api listening",
			zap.String("store", cfg.Store.Driver),
			zap.String("version", buildInfo.Version),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	workerCancel()
	workers.Wait()
}

func applySeed(ctx context.Context, logger *zap.Logger, registry repositories.Registry, path string) error {
	data, err := services.LoadSeedFile(path)
	if err != nil {
		return err
	}
	result, err := services.ApplySeed(ctx, registry.Catalog(), registry.BankAccounts(), data)
	if err != nil {
		return err
	}
	logger.Info("seed applied",
		zap.String("path", path),
		zap.Int("packages", result.Packages),
		zap.Int("items", result.Items),
		zap.Int("bankAccounts", result.BankAccounts),
	)
	return nil
}

func runExpirySweeps(ctx context.Context, logger *zap.Logger, expiry services.ExpiryService, interval time.Duration) {
	if expiry == nil {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		result, err := expiry.Sweep(ctx)
		if err != nil && ctx.Err() == nil {
			logger.Error("expiry sweep failed", zap.Error(err))
			continue
		}
		if result.ExpiredOrders > 0 || result.ExpiredPurchases > 0 {
			logger.Info("expiry sweep completed",
				zap.Int("orders", result.ExpiredOrders),
				zap.Int("purchases", result.ExpiredPurchases),
			)
		}
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: cfg.Security.Environment,
		StartedAt:   started,
	}
}

func googleClientOptions(cfg config.Config) []option.ClientOption {
	if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" {
		return []option.ClientOption{option.WithCredentialsFile(file)}
	}
	return nil
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		if cfg.Security.Environment == "local" {
			return nil
		}
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	issuers := cfg.Security.OIDC.Issuers
	if len(issuers) == 0 {
		logger.Warn("auth: OIDC issuers not configured; internal routes will reject requests")
	}

	jwks := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL)
	validator := auth.NewOIDCValidator(jwks, auth.WithOIDCLogger(auth.LogFunc(observability.NewEventLogger(logger))))
	return validator.RequireOIDC(audience, issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets that must resolve to a value for the configured
// integrations to work.
func requiredSecretNames(env map[string]string) []string {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	var required []string
	if strings.EqualFold(lookup("API_STORE_DRIVER"), config.StoreDriverPostgres) {
		required = append(required, "Store.DSN")
	}
	if lookup("API_TELEGRAM_BOT_TOKEN") != "" {
		required = append(required, "Telegram.BotToken")
	}
	if lookup("API_REVALIDATE_URL") != "" {
		required = append(required, "Revalidate.Secret")
	}
	if lookup("API_REDIS_PASSWORD") != "" {
		required = append(required, "Redis.Password")
	}
	return uniqueStrings(required)
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}
