package gateway_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-kassa/internal/gateway"
	"github.com/noah-isme/toko-kassa/internal/payment"
	"github.com/noah-isme/toko-kassa/internal/resilience"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *gateway.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &gateway.Client{
		BaseURL:   srv.URL,
		ShopID:    "shop-1",
		SecretKey: "secret",
		HTTP:      resilience.HTTPClient{Client: srv.Client(), Timeout: time.Second},
		Logger:    zerolog.Nop(),
	}
}

func TestCreatePaymentSendsAuthKeyAndBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/payments", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "shop-1", user)
		require.Equal(t, "secret", pass)
		require.Equal(t, "key-1", r.Header.Get("Idempotence-Key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, false, body["capture"])
		amount := body["amount"].(map[string]any)
		require.Equal(t, "10.00", amount["value"])
		require.Equal(t, "RUB", amount["currency"])
		require.Equal(t, "42", body["metadata"].(map[string]any)["order_id"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"pay-1","status":"pending","paid":false,"amount":{"value":"10.00","currency":"RUB"},
			"confirmation":{"type":"redirect","confirmation_url":"https://gw/confirm"},"metadata":{"order_id":"42"}}`)
	})

	req := payment.CreatePaymentRequest{
		Amount:       payment.Amount{Value: decimal.NewFromInt(10), Currency: "RUB"},
		Confirmation: payment.Confirmation{Type: payment.ConfirmationRedirect, ReturnURL: "https://shop/return"},
		Metadata:     map[string]string{payment.MetadataOrderID: "42"},
	}
	p, err := client.CreatePayment(context.Background(), req, "key-1")
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Equal(t, "pay-1", p.ID)
	require.Equal(t, payment.StatusPending, p.Status)
	require.Equal(t, "42", p.OrderID())
	require.Equal(t, "https://gw/confirm", p.RedirectURL())
	require.True(t, decimal.NewFromInt(10).Equal(p.Amount.Value))
}

func TestResponseMapping(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		nilResult bool
		retryable *bool
	}{
		{name: "accepted", status: http.StatusAccepted, body: `{"type":"processing"}`, nilResult: true},
		{name: "server error", status: http.StatusInternalServerError, body: `{}`, retryable: boolPtr(true)},
		{name: "bad request", status: http.StatusBadRequest, body: `{"type":"error","code":"invalid_request","description":"bad amount"}`, retryable: boolPtr(false)},
		{name: "too many requests", status: http.StatusTooManyRequests, body: `{"type":"error","code":"too_many_requests"}`, retryable: boolPtr(true)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			})
			p, err := client.CapturePayment(context.Background(), payment.CaptureRequest{}, "pay-1", "k")
			require.Nil(t, p)
			if tc.nilResult {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Equal(t, *tc.retryable, payment.Retryable(err))
		})
	}
}

func TestAPIErrorCarriesGatewayCode(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"type":"error","code":"invalid_credentials","description":"shop not found"}`)
	})
	_, err := client.CreatePayment(context.Background(), payment.CreatePaymentRequest{}, "k")
	var apiErr *gateway.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusUnauthorized, apiErr.Status)
	require.Equal(t, "invalid_credentials", apiErr.Code)
	require.Contains(t, apiErr.Error(), "shop not found")
}

func TestGetPaymentInfoUnknownIsNil(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/payments/missing", r.URL.Path)
		require.Empty(t, r.Header.Get("Idempotence-Key"))
		w.WriteHeader(http.StatusNotFound)
	})
	p, err := client.GetPaymentInfo(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, p)
}

func TestTransportFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()
	client := &gateway.Client{BaseURL: srv.URL, HTTP: resilience.HTTPClient{Client: http.DefaultClient, Timeout: time.Second}, Logger: zerolog.Nop()}

	_, err := client.GetPaymentInfo(context.Background(), "pay-1")
	var terr *gateway.TransportError
	require.ErrorAs(t, err, &terr)
	require.True(t, payment.Retryable(err))
}

func TestExecutorRetriesWithSameKeyAgainstGateway(t *testing.T) {
	var (
		mu   sync.Mutex
		keys []string
	)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("Idempotence-Key"))
		n := len(keys)
		mu.Unlock()
		switch n {
		case 1:
			w.WriteHeader(http.StatusBadGateway)
		case 2:
			w.WriteHeader(http.StatusAccepted)
		default:
			_, _ = io.WriteString(w, `{"id":"pay-1","status":"succeeded","paid":true,"amount":{"value":"10.00","currency":"RUB"}}`)
		}
	})

	exec := payment.NewExecutor(payment.DefaultRetryPolicy(), zerolog.Nop())
	var delays []time.Duration
	exec.Sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	p, err := exec.Do(context.Background(), payment.OperationCapture, func(ctx context.Context, key string) (*payment.Payment, error) {
		return client.CapturePayment(ctx, payment.CaptureRequest{}, "pay-1", key)
	})
	require.NoError(t, err)
	require.Equal(t, payment.StatusSucceeded, p.Status)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, keys, 3)
	require.NotEmpty(t, keys[0])
	require.Equal(t, keys[0], keys[1])
	require.Equal(t, keys[0], keys[2])
	require.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, delays)
}

func boolPtr(v bool) *bool { return &v }
