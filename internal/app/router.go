package app

import (
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"

	"github.com/noah-isme/toko-kassa/internal/checkout"
	"github.com/noah-isme/toko-kassa/internal/common"
	"github.com/noah-isme/toko-kassa/internal/health"
	"github.com/noah-isme/toko-kassa/internal/notification"
	"github.com/noah-isme/toko-kassa/internal/obs"
	"github.com/noah-isme/toko-kassa/internal/ratelimit"
	"github.com/noah-isme/toko-kassa/internal/security"
)

// RouterConfig is everything the HTTP surface is built from.
type RouterConfig struct {
	Logger      zerolog.Logger
	Metrics     *obs.HTTPMetrics
	Gatherer    prometheus.Gatherer
	Tracing     bool
	CORSOrigins []string
	Headers     security.Headers

	Idem             common.Idem
	WebhookBodyLimit int64
	WebhookLimiter   *limiter.Limiter

	Checkout      *checkout.Handler
	Notifications *notification.Handler
	Health        health.Handler
}

// NewRouter mounts the payment API, webhooks, health and metrics endpoints.
func NewRouter(rc RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RequestTags)
	if rc.Tracing {
		r.Use(obs.TracingMiddleware)
	}
	if rc.Metrics != nil {
		r.Use(obs.HTTPObs{Metrics: rc.Metrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: rc.Logger}.Middleware)
	r.Use(rc.Headers.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(rc.CORSOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Idempotency-Key"},
		ExposedHeaders: []string{"Idempotent-Replayed"},
		MaxAge:         300,
	}))

	if rc.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(rc.Gatherer, promhttp.HandlerOpts{}))
	}
	r.Get("/health/live", rc.Health.Live)
	r.Get("/health/ready", rc.Health.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		if rc.Checkout != nil {
			v.Route("/payments", func(p chi.Router) {
				p.With(rc.Idem.Middleware).Post("/", rc.Checkout.Create)
				p.Get("/return", rc.Checkout.Return)
			})
		}
		if rc.Notifications != nil {
			v.Route("/webhooks", func(wh chi.Router) {
				wh.Use(ratelimit.Handler{
					Limiter: rc.WebhookLimiter,
					OnError: func(err error) { rc.Logger.Warn().Err(err).Msg("webhook rate limiter unavailable") },
				}.Middleware)
				wh.Use(security.BodyLimit{
					Max: rc.WebhookBodyLimit,
					OnReject: func(r *http.Request, status int) {
						protocol := path.Base(r.URL.Path)
						obs.Inc(obs.PaymentNotificationTotal, protocol, "rejected")
						rc.Logger.Warn().Str("protocol", protocol).Int("status", status).Msg("notification body rejected")
					},
				}.Middleware)
				wh.Post("/gateway", rc.Notifications.Gateway)
				wh.Post("/wallet", rc.Notifications.Wallet)
			})
		}
	})
	return r
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
