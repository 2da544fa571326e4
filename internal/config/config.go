package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/noah-isme/toko-kassa/internal/payment"
)

// IntegrationMode selects how checkout hands the buyer to the payment provider.
type IntegrationMode string

const (
	ModeOff            IntegrationMode = "off"
	ModeGateway        IntegrationMode = "gateway"
	ModeWallet         IntegrationMode = "wallet"
	ModeDirectTransfer IntegrationMode = "direct_transfer"
)

// ParseMode resolves PAYMENT_MODE. An empty value means off.
func ParseMode(value string) (IntegrationMode, error) {
	switch m := IntegrationMode(strings.ToLower(strings.TrimSpace(value))); m {
	case "":
		return ModeOff, nil
	case ModeOff, ModeGateway, ModeWallet, ModeDirectTransfer:
		return m, nil
	default:
		return "", fmt.Errorf("unknown PAYMENT_MODE %q", value)
	}
}

const taxRatePrefix = "TAX_RATE_"

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string
	AutoMigrate        bool

	SecurityHSTSEnabled           bool
	SecurityHSTSMaxAge            int
	SecurityHSTSIncludeSubdomains bool

	Mode     IntegrationMode
	TestMode bool

	GatewayBaseURL        string
	GatewayShopID         string
	GatewaySecretKey      string
	GatewayTimeout        time.Duration
	GatewaySelection      bool
	BreakerMinRequests    int
	BreakerFailureRatio   float64
	BreakerOpenFor        time.Duration
	RetryMaxAttempts      int
	RetryDelay            time.Duration
	CaptureLockEnabled    bool
	CaptureLockTTL        time.Duration
	WebhookReplayTTL      time.Duration
	WebhookMaxBodyBytes   int64
	WebhookRateLimit      string
	IdempotencyTTL        time.Duration
	ReturnURLBase         string
	ReturnTokenSecret     string
	ReturnTokenTTL        time.Duration
	PageSuccessURL        string
	PageAwaitingURL       string
	PageMethodURL         string
	PageFailedURL         string
	WalletAccount         string
	WalletSecret          string
	TransferFormID        string
	TransferNarrative     string
	SendReceipt           bool
	TaxRates              payment.TaxRateMap
	DefaultTaxRate        int
	TaxSystemCode         int
	CMSName               string
	ModuleVersion         string
	KafkaBrokers          []string
	ReconcileDelay        time.Duration
	ReconcileUnique       time.Duration
	ReconcileMaxRetry     int
	ReconcileRetryBase    time.Duration
	ReconcileRetryMax     time.Duration
	SweepSchedule         string
	SweepMinAge           time.Duration
	SweepBatch            int
	WorkerConcurrency     int
	ShutdownTimeout       time.Duration
	ObsLogFormat          string
	ObsLogLevel           string
	ObsServiceName        string
	ObsMetricsNamespace   string
	ObsMetricsBuckets     string
	ObsTracingEnabled     bool
	ObsTracingEndpoint    string
	ObsTracingSampleRatio float64
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	mode, err := ParseMode(k.String("PAYMENT_MODE"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		AutoMigrate:        parseBool(valueOrDefault(k.String("DB_AUTO_MIGRATE"), "true")),

		SecurityHSTSEnabled:           parseBool(k.String("SECURITY_HSTS_ENABLED")),
		SecurityHSTSMaxAge:            parseInt(k.String("SECURITY_HSTS_MAX_AGE"), 31536000),
		SecurityHSTSIncludeSubdomains: parseBool(k.String("SECURITY_HSTS_INCLUDE_SUBDOMAINS")),

		Mode:     mode,
		TestMode: parseBool(k.String("PAYMENT_TEST_MODE")),

		GatewayBaseURL:      strings.TrimSpace(k.String("GATEWAY_BASE_URL")),
		GatewayShopID:       strings.TrimSpace(k.String("GATEWAY_SHOP_ID")),
		GatewaySecretKey:    strings.TrimSpace(k.String("GATEWAY_SECRET_KEY")),
		GatewayTimeout:      parseDuration(k.String("GATEWAY_TIMEOUT"), "10s"),
		GatewaySelection:    parseBool(k.String("GATEWAY_METHOD_SELECTION")),
		BreakerMinRequests:  parseInt(k.String("GATEWAY_BREAKER_MIN_REQUESTS"), 10),
		BreakerFailureRatio: parseFloat(k.String("GATEWAY_BREAKER_FAILURE_RATIO"), 0.5),
		BreakerOpenFor:      parseDuration(k.String("GATEWAY_BREAKER_OPEN_FOR"), "30s"),
		RetryMaxAttempts:    parseInt(k.String("GATEWAY_RETRY_ATTEMPTS"), payment.DefaultRetryPolicy().MaxAttempts),
		RetryDelay:          parseDuration(k.String("GATEWAY_RETRY_DELAY"), payment.DefaultRetryPolicy().Delay.String()),
		CaptureLockEnabled:  parseBool(k.String("CAPTURE_LOCK_ENABLED")),
		CaptureLockTTL:      parseDuration(k.String("CAPTURE_LOCK_TTL"), "30s"),
		WebhookReplayTTL:    parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "72h"),
		WebhookMaxBodyBytes: int64(parseInt(k.String("WEBHOOK_MAX_BODY_BYTES"), 1<<20)),
		WebhookRateLimit:    valueOrDefault(k.String("WEBHOOK_RATE_LIMIT"), "300-M"),
		IdempotencyTTL:      parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		ReturnURLBase:       strings.TrimRight(strings.TrimSpace(k.String("RETURN_URL_BASE")), "/"),
		ReturnTokenSecret:   k.String("RETURN_TOKEN_SECRET"),
		ReturnTokenTTL:      parseDuration(k.String("RETURN_TOKEN_TTL"), "24h"),
		PageSuccessURL:      strings.TrimSpace(k.String("PAGE_SUCCESS_URL")),
		PageAwaitingURL:     strings.TrimSpace(k.String("PAGE_AWAITING_URL")),
		PageMethodURL:       strings.TrimSpace(k.String("PAGE_METHOD_URL")),
		PageFailedURL:       strings.TrimSpace(k.String("PAGE_FAILED_URL")),
		WalletAccount:       strings.TrimSpace(k.String("WALLET_ACCOUNT")),
		WalletSecret:        k.String("WALLET_SECRET"),
		TransferFormID:      strings.TrimSpace(k.String("TRANSFER_FORM_ID")),
		TransferNarrative:   k.String("TRANSFER_NARRATIVE"),
		SendReceipt:         parseBool(k.String("RECEIPT_ENABLED")),
		TaxRates:            parseTaxRates(k),
		DefaultTaxRate:      parseInt(k.String("DEFAULT_TAX_ID"), 1),
		TaxSystemCode:       parseInt(k.String("TAX_SYSTEM_CODE"), 0),
		CMSName:             valueOrDefault(k.String("CMS_NAME"), "toko-kassa"),
		ModuleVersion:       strings.TrimSpace(k.String("MODULE_VERSION")),
		KafkaBrokers:        splitAndTrim(k.String("KAFKA_BROKERS")),
		ReconcileDelay:      parseDuration(k.String("RECONCILE_DELAY"), "15s"),
		ReconcileUnique:     parseDuration(k.String("RECONCILE_UNIQUE_TTL"), "5m"),
		ReconcileMaxRetry:   parseInt(k.String("RECONCILE_MAX_RETRY"), 12),
		ReconcileRetryBase:  parseDuration(k.String("RECONCILE_RETRY_BASE"), "10s"),
		ReconcileRetryMax:   parseDuration(k.String("RECONCILE_RETRY_MAX"), "10m"),
		SweepSchedule:       valueOrDefault(k.String("RECONCILE_SWEEP_SCHEDULE"), "@every 5m"),
		SweepMinAge:         parseDuration(k.String("RECONCILE_SWEEP_MIN_AGE"), "15m"),
		SweepBatch:          parseInt(k.String("RECONCILE_SWEEP_BATCH"), 100),
		WorkerConcurrency:   parseInt(k.String("WORKER_CONCURRENCY"), 10),
		ShutdownTimeout:     parseDuration(k.String("SHUTDOWN_TIMEOUT"), "15s"),

		ObsLogFormat:          valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		ObsLogLevel:           valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		ObsServiceName:        valueOrDefault(k.String("OBS_SERVICE_NAME"), "toko-kassa"),
		ObsMetricsNamespace:   valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "kassa"),
		ObsMetricsBuckets:     strings.TrimSpace(k.String("OBS_METRICS_BUCKETS_MS")),
		ObsTracingEnabled:     parseBool(k.String("OBS_TRACING_ENABLED")),
		ObsTracingEndpoint:    strings.TrimSpace(k.String("OBS_TRACING_ENDPOINT")),
		ObsTracingSampleRatio: parseFloat(k.String("OBS_TRACING_SAMPLE_RATIO"), 1),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if err := cfg.validateMode(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validateMode() error {
	switch c.Mode {
	case ModeGateway:
		if c.GatewayShopID == "" || c.GatewaySecretKey == "" {
			return errors.New("GATEWAY_SHOP_ID and GATEWAY_SECRET_KEY are required in gateway mode")
		}
		if c.ReturnURLBase == "" {
			return errors.New("RETURN_URL_BASE is required in gateway mode")
		}
		if strings.TrimSpace(c.ReturnTokenSecret) == "" {
			return errors.New("RETURN_TOKEN_SECRET is required in gateway mode")
		}
	case ModeWallet:
		if c.WalletAccount == "" {
			return errors.New("WALLET_ACCOUNT is required in wallet mode")
		}
		if strings.TrimSpace(c.WalletSecret) == "" {
			return errors.New("WALLET_SECRET is required in wallet mode")
		}
	case ModeDirectTransfer:
		if c.TransferFormID == "" {
			return errors.New("TRANSFER_FORM_ID is required in direct_transfer mode")
		}
	}
	return nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// RetryPolicy returns the gateway retry policy.
func (c *Config) RetryPolicy() payment.RetryPolicy {
	return payment.RetryPolicy{MaxAttempts: c.RetryMaxAttempts, Delay: c.RetryDelay}
}

// parseTaxRates collects TAX_RATE_<localId>=<vat code> entries.
func parseTaxRates(k *koanf.Koanf) payment.TaxRateMap {
	rates := payment.TaxRateMap{}
	for _, key := range k.Keys() {
		if !strings.HasPrefix(key, taxRatePrefix) {
			continue
		}
		id := strings.TrimSpace(strings.TrimPrefix(key, taxRatePrefix))
		code := parseInt(k.String(key), 0)
		if id == "" || code <= 0 {
			continue
		}
		rates[id] = code
	}
	return rates
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return v
}

func parseFloat(value string, fallback float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return v
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
