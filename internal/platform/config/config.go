package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultStoreDriver         = StoreDriverFirestore
	defaultCacheTTL            = 10 * time.Minute
	defaultSecurityEnvironment = "local"
	defaultOIDCJWKSURL         = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer      = "https://accounts.google.com"
	defaultAdminRoles          = "admin,staff"
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultIdempotencyInterval = time.Hour
	defaultPaymentWindow       = 72 * time.Hour
	defaultInvoiceTimezone     = "Asia/Jakarta"
	defaultCountryCode         = "62"
	defaultCurrencyLocale      = "id"
	defaultSiteName            = "Naia"
	defaultOutboxInterval      = 5 * time.Second
	defaultOutboxBatch         = 25
	defaultOutboxMaxAttempts   = 8
	defaultSweepInterval       = time.Minute
	defaultTelegramAPIBase     = "https://api.telegram.org"
	defaultTelegramPerMinute   = 20
	defaultDeliveryURLTTL      = 72 * time.Hour
	defaultRevalidateAttempts  = 4
)

// Store drivers supported by the repository registry.
const (
	StoreDriverFirestore = "firestore"
	StoreDriverPostgres  = "postgres"
	StoreDriverSQLite    = "sqlite"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Store       StoreConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Redis       RedisConfig
	PubSub      PubSubConfig
	Storage     StorageConfig
	Telegram    TelegramConfig
	Revalidate  RevalidateConfig
	Handoff     HandoffConfig
	Lifecycle   LifecycleConfig
	Workers     WorkerConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
	SeedFile    string
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string
	DSN    string
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// RedisConfig configures the shared cache. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	CacheTTL time.Duration
}

// PubSubConfig names the topic receiving purchase delivery events. An empty topic disables publishing.
type PubSubConfig struct {
	ProjectID     string
	DeliveryTopic string
}

// StorageConfig locates digital goods and the key used to sign download URLs.
type StorageConfig struct {
	AssetsBucket   string
	SignerKeyFile  string
	DownloadURLTTL time.Duration
}

// TelegramConfig configures the auto-post channel.
type TelegramConfig struct {
	BotToken      string
	ChatID        string
	APIBaseURL    string
	RatePerMinute int
}

// RevalidateConfig configures the downstream cache revalidation webhook.
type RevalidateConfig struct {
	URL         string
	Secret      string
	MaxAttempts int
}

// HandoffConfig configures the customer messaging deep link.
type HandoffConfig struct {
	WhatsAppNumber     string
	DefaultCountryCode string
	SiteName           string
	PublicBaseURL      string
	CurrencyLocale     string
}

// LifecycleConfig controls payment windows and invoice numbering.
type LifecycleConfig struct {
	PaymentWindow   time.Duration
	InvoiceTimezone string
	// ExpirePurchases lets the sweep move overdue store purchases to expired. Off by
	// default: purchases stay pending until staff verify or reject them.
	ExpirePurchases bool
}

// WorkerConfig controls background loops.
type WorkerConfig struct {
	OutboxInterval    time.Duration
	OutboxBatchSize   int
	OutboxMaxAttempts int
	SweepInterval     time.Duration
}

// SecurityConfig groups authentication settings.
type SecurityConfig struct {
	Environment string
	AdminRoles  []string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification for scheduler calls.
type OIDCConfig struct {
	JWKSURL  string
	Audience string
	Issuers  []string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header          string
	TTL             time.Duration
	CleanupInterval time.Duration
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets resolved to empty values.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// Names returns the config field names of the missing secrets.
func (e *MissingSecretsError) Names() []string {
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

// RedactedNames returns hashed identifiers safe to log.
func (e *MissingSecretsError) RedactedNames() []string {
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		sum := sha256.Sum256([]byte(name))
		out = append(out, hex.EncodeToString(sum[:8]))
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts...)
	lookup, err := options.lookup()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(stringWithDefault(lookup, "API_STORE_DRIVER", defaultStoreDriver)),
			DSN:    stringWithDefault(lookup, "API_DATABASE_DSN", ""),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Redis: RedisConfig{
			Addr:     stringWithDefault(lookup, "API_REDIS_ADDR", ""),
			Password: stringWithDefault(lookup, "API_REDIS_PASSWORD", ""),
			DB:       intWithDefault(lookup, "API_REDIS_DB", 0),
			CacheTTL: durationWithDefault(lookup, "API_CACHE_TTL", defaultCacheTTL),
		},
		PubSub: PubSubConfig{
			ProjectID:     stringWithDefault(lookup, "API_PUBSUB_PROJECT_ID", ""),
			DeliveryTopic: stringWithDefault(lookup, "API_PUBSUB_DELIVERY_TOPIC", ""),
		},
		Storage: StorageConfig{
			AssetsBucket:   stringWithDefault(lookup, "API_STORAGE_ASSETS_BUCKET", ""),
			SignerKeyFile:  stringWithDefault(lookup, "API_STORAGE_SIGNER_KEY_FILE", ""),
			DownloadURLTTL: durationWithDefault(lookup, "API_STORAGE_DOWNLOAD_URL_TTL", defaultDeliveryURLTTL),
		},
		Telegram: TelegramConfig{
			BotToken:      stringWithDefault(lookup, "API_TELEGRAM_BOT_TOKEN", ""),
			ChatID:        stringWithDefault(lookup, "API_TELEGRAM_CHAT_ID", ""),
			APIBaseURL:    stringWithDefault(lookup, "API_TELEGRAM_API_BASE_URL", defaultTelegramAPIBase),
			RatePerMinute: intWithDefault(lookup, "API_TELEGRAM_RATE_PER_MINUTE", defaultTelegramPerMinute),
		},
		Revalidate: RevalidateConfig{
			URL:         stringWithDefault(lookup, "API_REVALIDATE_URL", ""),
			Secret:      stringWithDefault(lookup, "API_REVALIDATE_SECRET", ""),
			MaxAttempts: intWithDefault(lookup, "API_REVALIDATE_MAX_ATTEMPTS", defaultRevalidateAttempts),
		},
		Handoff: HandoffConfig{
			WhatsAppNumber:     stringWithDefault(lookup, "API_WHATSAPP_NUMBER", ""),
			DefaultCountryCode: stringWithDefault(lookup, "API_DEFAULT_COUNTRY_CODE", defaultCountryCode),
			SiteName:           stringWithDefault(lookup, "API_SITE_NAME", defaultSiteName),
			PublicBaseURL:      strings.TrimRight(stringWithDefault(lookup, "API_PUBLIC_BASE_URL", ""), "/"),
			CurrencyLocale:     stringWithDefault(lookup, "API_CURRENCY_LOCALE", defaultCurrencyLocale),
		},
		Lifecycle: LifecycleConfig{
			PaymentWindow:   durationWithDefault(lookup, "API_PAYMENT_WINDOW", defaultPaymentWindow),
			InvoiceTimezone: stringWithDefault(lookup, "API_INVOICE_TIMEZONE", defaultInvoiceTimezone),
			ExpirePurchases: boolWithDefault(lookup, "API_EXPIRE_STORE_PURCHASES", false),
		},
		Workers: WorkerConfig{
			OutboxInterval:    durationWithDefault(lookup, "API_OUTBOX_INTERVAL", defaultOutboxInterval),
			OutboxBatchSize:   intWithDefault(lookup, "API_OUTBOX_BATCH", defaultOutboxBatch),
			OutboxMaxAttempts: intWithDefault(lookup, "API_OUTBOX_MAX_ATTEMPTS", defaultOutboxMaxAttempts),
			SweepInterval:     durationWithDefault(lookup, "API_EXPIRY_SWEEP_INTERVAL", defaultSweepInterval),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			AdminRoles:  csvWithDefault(lookup, "API_SECURITY_ADMIN_ROLES", defaultAdminRoles),
			OIDC: OIDCConfig{
				JWKSURL:  stringWithDefault(lookup, "API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience: stringWithDefault(lookup, "API_SECURITY_OIDC_AUDIENCE", ""),
				Issuers:  csvWithDefault(lookup, "API_SECURITY_OIDC_ISSUERS", defaultSecurityIssuer),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:          stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:             durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval: durationWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
		},
		SeedFile: stringWithDefault(lookup, "API_SEED_FILE", ""),
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Store.DSN", &cfg.Store.DSN},
		{"Redis.Password", &cfg.Redis.Password},
		{"Telegram.BotToken", &cfg.Telegram.BotToken},
		{"Revalidate.Secret", &cfg.Revalidate.Secret},
		{"Storage.SignerKey", &cfg.Storage.SignerKeyFile},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

// Location returns the invoice time zone, falling back to UTC when it cannot be loaded.
func (c LifecycleConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.InvoiceTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func validateConfig(cfg Config) error {
	var invalid []string

	if cfg.Server.Port == "" {
		invalid = append(invalid, "Server.Port")
	}
	switch cfg.Store.Driver {
	case StoreDriverFirestore:
		if cfg.Firestore.ProjectID == "" {
			invalid = append(invalid, "Firestore.ProjectID")
		}
	case StoreDriverPostgres, StoreDriverSQLite:
		if strings.TrimSpace(cfg.Store.DSN) == "" {
			invalid = append(invalid, "Store.DSN")
		}
	default:
		invalid = append(invalid, "Store.Driver")
	}
	if cfg.Lifecycle.PaymentWindow <= 0 {
		invalid = append(invalid, "Lifecycle.PaymentWindow")
	}
	if _, err := time.LoadLocation(cfg.Lifecycle.InvoiceTimezone); err != nil {
		invalid = append(invalid, "Lifecycle.InvoiceTimezone")
	}
	if cfg.Workers.OutboxInterval <= 0 {
		invalid = append(invalid, "Workers.OutboxInterval")
	}
	if cfg.Workers.OutboxBatchSize <= 0 {
		invalid = append(invalid, "Workers.OutboxBatchSize")
	}
	if cfg.Workers.OutboxMaxAttempts <= 0 {
		invalid = append(invalid, "Workers.OutboxMaxAttempts")
	}
	if cfg.Workers.SweepInterval <= 0 {
		invalid = append(invalid, "Workers.SweepInterval")
	}
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID == "" {
		invalid = append(invalid, "Telegram.ChatID")
	}
	if cfg.Telegram.RatePerMinute <= 0 {
		invalid = append(invalid, "Telegram.RatePerMinute")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		invalid = append(invalid, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		invalid = append(invalid, "Idempotency.TTL")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var missing []string
	seen := make(map[string]struct{})
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		if resolved[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{names: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}
