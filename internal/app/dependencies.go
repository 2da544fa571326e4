package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"

	"github.com/noah-isme/toko-kassa/internal/auth"
	"github.com/noah-isme/toko-kassa/internal/checkout"
	"github.com/noah-isme/toko-kassa/internal/common"
	"github.com/noah-isme/toko-kassa/internal/config"
	"github.com/noah-isme/toko-kassa/internal/events"
	"github.com/noah-isme/toko-kassa/internal/gateway"
	"github.com/noah-isme/toko-kassa/internal/health"
	"github.com/noah-isme/toko-kassa/internal/lock"
	"github.com/noah-isme/toko-kassa/internal/notification"
	"github.com/noah-isme/toko-kassa/internal/obs"
	"github.com/noah-isme/toko-kassa/internal/payment"
	"github.com/noah-isme/toko-kassa/internal/queue"
	"github.com/noah-isme/toko-kassa/internal/ratelimit"
	"github.com/noah-isme/toko-kassa/internal/resilience"
	"github.com/noah-isme/toko-kassa/internal/security"
	"github.com/noah-isme/toko-kassa/internal/store"
)

// Dependencies holds the services shared by the API and the worker.
type Dependencies struct {
	Config   *config.Config
	Logger   zerolog.Logger
	DB       *pgxpool.Pool
	Redis    *redis.Client
	Registry *prometheus.Registry

	Store      *store.PaymentStore
	Gateway    *gateway.Client
	Payments   *payment.Service
	Reconciler *payment.Reconciler
	Events     *events.Bus
	Kafka      *events.KafkaSink
	TaskClient *asynq.Client
	Scheduler  *queue.Scheduler

	HTTPMetrics    *obs.HTTPMetrics
	WebhookLimiter *limiter.Limiter
	Checkout       *checkout.Handler
	Notifications  *notification.Handler
	Health         health.Handler
}

// New wires the payment engine onto an open database pool and Redis client.
// Close releases what New opened.
func New(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool, rdb *redis.Client) (*Dependencies, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	d := &Dependencies{Config: cfg, Logger: logger, DB: pool, Redis: rdb}
	d.registerMetrics()

	d.Store = store.New(pool)

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis uri for tasks: %w", err)
	}
	d.TaskClient = asynq.NewClient(redisOpt)
	d.Scheduler = &queue.Scheduler{
		Client:   d.TaskClient,
		Delay:    cfg.ReconcileDelay,
		Unique:   cfg.ReconcileUnique,
		MaxRetry: cfg.ReconcileMaxRetry,
		Logger:   logger.With().Str("component", "scheduler").Logger(),
	}

	d.Events = &events.Bus{}
	if len(cfg.KafkaBrokers) > 0 {
		d.Kafka = events.NewKafkaSink(cfg.KafkaBrokers, logger)
		d.Events.Sinks = append(d.Events.Sinks, d.Kafka)
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Strs("topics", events.DefaultTopics()).Msg("kafka event sink enabled")
	} else {
		d.Events.Sinks = append(d.Events.Sinks, events.LogSink{Logger: logger.With().Str("component", "events").Logger()})
	}

	executor := payment.NewExecutor(cfg.RetryPolicy(), logger.With().Str("component", "executor").Logger())
	capture := &payment.CapturePolicy{Executor: executor, Logger: logger}
	if cfg.Mode == config.ModeGateway {
		d.Gateway = gateway.NewClient(gateway.Config{
			BaseURL:   cfg.GatewayBaseURL,
			ShopID:    cfg.GatewayShopID,
			SecretKey: cfg.GatewaySecretKey,
			Timeout:   cfg.GatewayTimeout,
			Breaker: resilience.BreakerConfig{
				MinRequests:  cfg.BreakerMinRequests,
				FailureRatio: cfg.BreakerFailureRatio,
				OpenFor:      cfg.BreakerOpenFor,
			},
		}, logger.With().Str("component", "gateway").Logger())
		capture.Gateway = d.Gateway
		d.Payments = &payment.Service{
			Builder: payment.NewRequestBuilder(payment.BuilderConfig{
				SendReceipt:    cfg.SendReceipt,
				TaxRates:       cfg.TaxRates,
				DefaultTaxRate: cfg.DefaultTaxRate,
				TaxSystemCode:  cfg.TaxSystemCode,
				CMSName:        cfg.CMSName,
				ModuleVersion:  cfg.ModuleVersion,
			}),
			Executor: executor,
			Gateway:  d.Gateway,
			Store:    d.Store,
			Logger:   logger.With().Str("component", "payments").Logger(),
		}
	}

	d.Reconciler = &payment.Reconciler{
		Store:     d.Store,
		Capture:   capture,
		Events:    d.Events,
		Scheduler: d.Scheduler,
		Logger:    logger.With().Str("component", "reconciler").Logger(),
	}
	if cfg.CaptureLockEnabled && rdb != nil {
		d.Reconciler.Guard = lock.Locker{R: rdb, Prefix: "lock:"}
		d.Reconciler.GuardTTL = cfg.CaptureLockTTL
	}

	if err := d.buildHTTP(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Dependencies) registerMetrics() {
	ns := d.Config.ObsMetricsNamespace
	d.Registry = prometheus.NewRegistry()
	d.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	obs.MustRegisterDomainMetrics(ns, d.Registry)
	resilience.MustRegisterMetrics(ns, d.Registry)
	queue.MustRegisterMetrics(ns, d.Registry)
	d.HTTPMetrics = obs.NewHTTPMetrics(ns, obs.ParseBucketsCSV(d.Config.ObsMetricsBuckets), d.Registry)
}

func (d *Dependencies) buildHTTP() error {
	cfg := d.Config
	svc := &checkout.Service{
		Mode:             cfg.Mode,
		Poller:           d.Reconciler,
		ReturnURLBase:    cfg.ReturnURLBase,
		GatewaySelection: cfg.GatewaySelection,
		Wallet:           checkout.WalletConfig{Account: cfg.WalletAccount, TestMode: cfg.TestMode, ShopName: cfg.CMSName},
		Transfer:         checkout.TransferConfig{FormID: cfg.TransferFormID, Narrative: cfg.TransferNarrative, CMSName: cfg.CMSName},
		Pages: checkout.Pages{
			Success:  cfg.PageSuccessURL,
			Awaiting: cfg.PageAwaitingURL,
			Method:   cfg.PageMethodURL,
			Failed:   cfg.PageFailedURL,
		},
		Logger: d.Logger.With().Str("component", "checkout").Logger(),
	}
	if d.Payments != nil {
		svc.Payments = d.Payments
	}
	if cfg.ReturnTokenSecret != "" {
		tokens, err := auth.NewReturnTokens(cfg.ReturnTokenSecret, cfg.ObsServiceName, cfg.ReturnTokenTTL, 0)
		if err != nil {
			return fmt.Errorf("return tokens: %w", err)
		}
		svc.Tokens = tokens
	}
	d.Checkout = &checkout.Handler{Svc: svc, Validate: validator.New()}

	d.Notifications = &notification.Handler{
		Reconciler: d.Reconciler,
		Legacy:     notification.LegacyVerifier{Secret: cfg.WalletSecret},
		ReplayTTL:  cfg.WebhookReplayTTL,
		MaxBody:    cfg.WebhookMaxBodyBytes,
		Logger:     d.Logger.With().Str("component", "notifications").Logger(),
	}

	probes := []health.Probe{}
	if d.DB != nil {
		probes = append(probes, health.Probe{Name: "database", Check: d.DB.Ping})
	}
	if d.Redis != nil {
		d.Notifications.Replay = notification.RedisReplay{R: d.Redis, Prefix: "replay:"}
		lim, err := ratelimit.New(d.Redis, cfg.WebhookRateLimit, "ratelimit:webhook:")
		if err != nil {
			return err
		}
		d.WebhookLimiter = lim
		probes = append(probes, health.Probe{Name: "redis", Timeout: 300 * time.Millisecond, Check: func(ctx context.Context) error {
			return d.Redis.Ping(ctx).Err()
		}})
	}
	d.Health = health.Handler{Probes: probes}
	return nil
}

// RouterConfig collects what NewRouter needs from the wired dependencies.
func (d *Dependencies) RouterConfig() (RouterConfig, error) {
	if d.Checkout == nil || d.Notifications == nil {
		return RouterConfig{}, errors.New("app: http handlers not built")
	}
	rc := RouterConfig{
		Logger:           d.Logger,
		Metrics:          d.HTTPMetrics,
		Gatherer:         d.Registry,
		Tracing:          d.Config.ObsTracingEnabled,
		CORSOrigins:      d.Config.CORSAllowedOrigins,
		Headers: security.Headers{
			EnableHSTS:            d.Config.SecurityHSTSEnabled,
			HSTSMaxAge:            d.Config.SecurityHSTSMaxAge,
			HSTSIncludeSubdomains: d.Config.SecurityHSTSIncludeSubdomains,
		},
		Checkout:         d.Checkout,
		Notifications:    d.Notifications,
		Health:           d.Health,
		WebhookBodyLimit: d.Config.WebhookMaxBodyBytes,
		WebhookLimiter:   d.WebhookLimiter,
	}
	if d.Redis != nil {
		rc.Idem = common.Idem{R: d.Redis, TTL: d.Config.IdempotencyTTL}
	}
	return rc, nil
}

// WorkerReconciler returns a reconciler for background tasks. It schedules
// nothing itself since an unfinished task is retried by the queue.
func (d *Dependencies) WorkerReconciler() *payment.Reconciler {
	rec := *d.Reconciler
	rec.Scheduler = nil
	return &rec
}

// Close releases the task client and the Kafka writer.
func (d *Dependencies) Close() {
	if d.TaskClient != nil {
		if err := d.TaskClient.Close(); err != nil {
			d.Logger.Error().Err(err).Msg("close task client")
		}
	}
	if d.Kafka != nil {
		if err := d.Kafka.Close(); err != nil {
			d.Logger.Error().Err(err).Msg("close kafka writer")
		}
	}
}
