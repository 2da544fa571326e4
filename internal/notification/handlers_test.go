package notification_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-kassa/internal/notification"
	"github.com/noah-isme/toko-kassa/internal/payment"
)

type stubGateway struct {
	mu       sync.Mutex
	payments map[string]*payment.Payment
	// captureStatus is the status returned by capture.
	captureStatus payment.Status
	captures      int
}

func (g *stubGateway) CreatePayment(context.Context, payment.CreatePaymentRequest, string) (*payment.Payment, error) {
	return nil, nil
}

func (g *stubGateway) CapturePayment(_ context.Context, _ payment.CaptureRequest, id, _ string) (*payment.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.captures++
	p, ok := g.payments[id]
	if !ok {
		return nil, nil
	}
	p.Status = g.captureStatus
	cp := *p
	return &cp, nil
}

func (g *stubGateway) GetPaymentInfo(_ context.Context, id string) (*payment.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.payments[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

type memStore struct {
	mu    sync.Mutex
	saved map[string]payment.Payment
}

func (s *memStore) GetPaymentIDForOrder(_ context.Context, orderID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.saved[orderID]
	if !ok {
		return "", payment.ErrNoPayment
	}
	return p.ID, nil
}

func (s *memStore) SavePayment(_ context.Context, orderID string, p payment.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved == nil {
		s.saved = map[string]payment.Payment{}
	}
	s.saved[orderID] = p
	return nil
}

type fixture struct {
	handler *notification.Handler
	gateway *stubGateway
	store   *memStore
}

func newFixture(t *testing.T, captureStatus payment.Status) fixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	gw := &stubGateway{
		payments: map[string]*payment.Payment{
			"pay-1": {ID: "pay-1", Status: payment.StatusWaitingForCapture, Paid: true, Metadata: map[string]string{"order_id": "42"}},
		},
		captureStatus: captureStatus,
	}
	store := &memStore{}
	exec := payment.NewExecutor(payment.RetryPolicy{MaxAttempts: 1}, zerolog.Nop())
	rec := &payment.Reconciler{
		Store:   store,
		Capture: &payment.CapturePolicy{Gateway: gw, Executor: exec, Logger: zerolog.Nop()},
		Logger:  zerolog.Nop(),
	}
	h := &notification.Handler{
		Reconciler: rec,
		Legacy:     notification.LegacyVerifier{Secret: "S"},
		Replay:     notification.RedisReplay{R: client},
		ReplayTTL:  time.Minute,
		Logger:     zerolog.Nop(),
	}
	return fixture{handler: h, gateway: gw, store: store}
}

func postJSON(h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/gateway", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h(rr, req)
	return rr
}

func TestGatewayWebhookRejectsBadBodies(t *testing.T) {
	f := newFixture(t, payment.StatusSucceeded)
	for name, body := range map[string]string{
		"empty":         "",
		"malformed":     "{not json",
		"missing order": `{"event":"payment.waiting_for_capture","object":{"id":"pay-1","status":"waiting_for_capture"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			rr := postJSON(f.handler.Gateway, body)
			require.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
	require.Zero(t, f.gateway.captures)
	require.Empty(t, f.store.saved)
}

func TestGatewayWebhookUnknownPaymentIs404(t *testing.T) {
	f := newFixture(t, payment.StatusSucceeded)
	body := strings.Replace(waitingBody, `"pay-1"`, `"pay-unknown"`, 1)
	rr := postJSON(f.handler.Gateway, body)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Zero(t, f.gateway.captures)
	require.Empty(t, f.store.saved)
}

func TestGatewayWebhookForOtherOrderIs404(t *testing.T) {
	f := newFixture(t, payment.StatusSucceeded)
	f.gateway.payments["pay-2"] = &payment.Payment{ID: "pay-2", Status: payment.StatusSucceeded, Paid: true, Metadata: map[string]string{"order_id": "7"}}

	for _, id := range []string{"pay-1", "pay-2"} {
		body := strings.Replace(waitingBody, `"pay-1"`, `"`+id+`"`, 1)
		body = strings.Replace(body, `"order_id":"42"`, `"order_id":"99"`, 1)
		rr := postJSON(f.handler.Gateway, body)
		require.Equal(t, http.StatusNotFound, rr.Code, id)
	}
	require.Zero(t, f.gateway.captures)
	require.Empty(t, f.store.saved)

	// the rightful order still settles afterwards
	rr := postJSON(f.handler.Gateway, waitingBody)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, payment.StatusSucceeded, f.store.saved["42"].Status)
}

func TestGatewayWebhookNotSucceededIs401(t *testing.T) {
	f := newFixture(t, payment.StatusPending)
	rr := postJSON(f.handler.Gateway, waitingBody)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, 1, f.gateway.captures)
	require.Empty(t, f.store.saved)
}

func TestGatewayWebhookCapturesAndSaves(t *testing.T) {
	f := newFixture(t, payment.StatusSucceeded)
	rr := postJSON(f.handler.Gateway, waitingBody)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, true, resp["success"])
	require.Equal(t, "succeeded", resp["payment_status"])
	require.Equal(t, 1, f.gateway.captures)
	require.Equal(t, payment.StatusSucceeded, f.store.saved["42"].Status)

	// redelivery is acknowledged without touching the gateway again
	rr = postJSON(f.handler.Gateway, waitingBody)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 1, f.gateway.captures)
}

func TestGatewayWebhookRetriesAfterFailure(t *testing.T) {
	f := newFixture(t, payment.StatusPending)
	rr := postJSON(f.handler.Gateway, waitingBody)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	// the failed delivery left no replay marker, so the retry is processed
	f.gateway.mu.Lock()
	f.gateway.payments["pay-1"].Status = payment.StatusWaitingForCapture
	f.gateway.captureStatus = payment.StatusSucceeded
	f.gateway.mu.Unlock()
	rr = postJSON(f.handler.Gateway, waitingBody)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 2, f.gateway.captures)
}

func walletForm(hash string) url.Values {
	return url.Values{
		"notification_type": {"p2p-incoming"},
		"operation_id":      {"1"},
		"amount":            {"10.00"},
		"currency":          {"RUB"},
		"datetime":          {"2024-01-01T00:00:00Z"},
		"sender":            {"41001"},
		"codepro":           {"false"},
		"label":             {"order-42"},
		"sha1_hash":         {hash},
	}
}

func postForm(h http.HandlerFunc, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/wallet", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	h(rr, req)
	return rr
}

func TestWalletNotification(t *testing.T) {
	f := newFixture(t, payment.StatusSucceeded)

	rr := postForm(f.handler.Wallet, walletForm("0000000000000000000000000000000000000000"))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Empty(t, f.store.saved)

	rr = postForm(f.handler.Wallet, url.Values{"operation_id": {"1"}})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = postForm(f.handler.Wallet, walletForm(knownHash))
	require.Equal(t, http.StatusOK, rr.Code)
	saved := f.store.saved["order-42"]
	require.Equal(t, "1", saved.ID)
	require.Equal(t, payment.StatusSucceeded, saved.Status)

	rr = postForm(f.handler.Wallet, walletForm(knownHash))
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestWalletNotificationWithoutLabel(t *testing.T) {
	f := newFixture(t, payment.StatusSucceeded)

	forged := walletForm("0000000000000000000000000000000000000000")
	forged.Del("label")
	rr := postForm(f.handler.Wallet, forged)
	require.Equal(t, http.StatusUnauthorized, rr.Code, "signature is checked before completeness")

	signed := walletForm(unlabelledHash)
	signed.Del("label")
	rr = postForm(f.handler.Wallet, signed)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "INCOMPLETE_NOTIFICATION")
	require.Empty(t, f.store.saved)
}
