package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/toko-kassa/internal/obs"
	"github.com/noah-isme/toko-kassa/internal/payment"
	"github.com/noah-isme/toko-kassa/internal/resilience"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://payment.yandex.net/api/v3"

const (
	headerIdempotenceKey = "Idempotence-Key"
	userAgent            = "toko-kassa/1.0"
	maxErrorBody         = 64 << 10
)

// Client talks to the gateway REST API. It is safe for concurrent use and holds
// no state beyond its configuration.
type Client struct {
	BaseURL   string
	ShopID    string
	SecretKey string
	HTTP      resilience.HTTPClient
	Logger    zerolog.Logger
}

// Config holds what NewClient needs to build a production client.
type Config struct {
	BaseURL   string
	ShopID    string
	SecretKey string
	Timeout   time.Duration
	Breaker   resilience.BreakerConfig
}

// NewClient returns a client with an instrumented transport and a circuit breaker.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if cfg.Breaker.Target == "" {
		cfg.Breaker.Target = "payment_gateway"
	}
	return &Client{
		BaseURL:   cfg.BaseURL,
		ShopID:    cfg.ShopID,
		SecretKey: cfg.SecretKey,
		HTTP: resilience.HTTPClient{
			Client:  &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
			Breaker: resilience.NewBreaker(cfg.Breaker, logger),
			Timeout: timeout,
		},
		Logger: logger,
	}
}

var _ payment.GatewayClient = (*Client)(nil)

// CreatePayment submits a creation request. A 202 answer yields a nil payment.
func (c *Client) CreatePayment(ctx context.Context, req payment.CreatePaymentRequest, idempotencyKey string) (*payment.Payment, error) {
	return c.do(ctx, "create", http.MethodPost, "/payments", idempotencyKey, req)
}

// CapturePayment captures an authorised payment for the given amount.
func (c *Client) CapturePayment(ctx context.Context, req payment.CaptureRequest, paymentID, idempotencyKey string) (*payment.Payment, error) {
	if strings.TrimSpace(paymentID) == "" {
		return nil, errors.New("gateway: payment id is required")
	}
	return c.do(ctx, "capture", http.MethodPost, "/payments/"+url.PathEscape(paymentID)+"/capture", idempotencyKey, req)
}

// GetPaymentInfo reads the current payment state. An unknown id yields a nil payment.
func (c *Client) GetPaymentInfo(ctx context.Context, paymentID string) (*payment.Payment, error) {
	if strings.TrimSpace(paymentID) == "" {
		return nil, errors.New("gateway: payment id is required")
	}
	return c.do(ctx, "get", http.MethodGet, "/payments/"+url.PathEscape(paymentID), "", nil)
}

func (c *Client) do(ctx context.Context, op, method, path, key string, body any) (*payment.Payment, error) {
	ctx, span := obs.Tracer("gateway").Start(ctx, "gateway."+op)
	defer span.End()
	span.SetAttributes(attribute.String("gateway.operation", op))

	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("gateway %s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), reader)
	if err != nil {
		return nil, fmt.Errorf("gateway %s: build request: %w", op, err)
	}
	req.SetBasicAuth(c.ShopID, c.SecretKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set(headerIdempotenceKey, key)
	}

	start := time.Now()
	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		c.observe(op, "error", start)
		span.RecordError(err)
		return nil, &TransportError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	c.observe(op, strconv.Itoa(resp.StatusCode), start)
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	switch {
	case resp.StatusCode == http.StatusOK:
		var p payment.Payment
		if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
			return nil, &TransportError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode payment: %w", err)}
		}
		return &p, nil
	case resp.StatusCode == http.StatusAccepted:
		// processing; the caller retries with the same key
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, nil
	case resp.StatusCode == http.StatusNotFound && method == http.MethodGet:
		return nil, nil
	case resp.StatusCode >= http.StatusInternalServerError:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil, &TransportError{Op: op, Status: resp.StatusCode}
	default:
		apiErr := &APIError{Op: op, Status: resp.StatusCode}
		if data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)); err == nil && len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		apiErr.Op, apiErr.Status = op, resp.StatusCode
		c.Logger.Warn().Str("operation", op).Int("status", resp.StatusCode).Str("code", apiErr.Code).Msg("gateway_rejected_request")
		return nil, apiErr
	}
}

func (c *Client) endpoint(path string) string {
	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return base + path
}

func (c *Client) observe(op, status string, start time.Time) {
	if obs.GatewayCallLatency == nil {
		return
	}
	obs.GatewayCallLatency.WithLabelValues(op, status).Observe(obs.DurationMillis(time.Since(start)))
}
