package payment_test

import (
	"context"
	"sync"
	"time"

	"github.com/noah-isme/toko-kassa/internal/payment"
)

type gatewayResult struct {
	p   *payment.Payment
	err error
}

// fakeGateway keeps authoritative payment state. Scripted results, when
// present, are returned before falling back to the stored state.
type fakeGateway struct {
	mu       sync.Mutex
	payments map[string]*payment.Payment

	createScript  []gatewayResult
	captureScript []gatewayResult
	captureDelay  time.Duration

	createKeys   []string
	captureKeys  []string
	captureReqs  []payment.CaptureRequest
	createReqs   []payment.CreatePaymentRequest
	getCalls     int
	captureCalls int
}

func newFakeGateway(ps ...payment.Payment) *fakeGateway {
	g := &fakeGateway{payments: map[string]*payment.Payment{}}
	for i := range ps {
		p := ps[i]
		g.payments[p.ID] = &p
	}
	return g
}

func (g *fakeGateway) CreatePayment(_ context.Context, req payment.CreatePaymentRequest, key string) (*payment.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createKeys = append(g.createKeys, key)
	g.createReqs = append(g.createReqs, req)
	if len(g.createScript) > 0 {
		r := g.createScript[0]
		g.createScript = g.createScript[1:]
		if r.p != nil {
			cp := *r.p
			g.payments[cp.ID] = &cp
		}
		return r.p, r.err
	}
	p := &payment.Payment{
		ID:       "pay-new",
		Status:   payment.StatusPending,
		Amount:   req.Amount,
		Metadata: req.Metadata,
		Confirmation: &payment.Confirmation{
			Type:            req.Confirmation.Type,
			ConfirmationURL: "https://gateway.test/confirm/pay-new",
		},
	}
	cp := *p
	g.payments[p.ID] = &cp
	return p, nil
}

func (g *fakeGateway) CapturePayment(_ context.Context, req payment.CaptureRequest, id, key string) (*payment.Payment, error) {
	if g.captureDelay > 0 {
		time.Sleep(g.captureDelay)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.captureCalls++
	g.captureKeys = append(g.captureKeys, key)
	g.captureReqs = append(g.captureReqs, req)
	if len(g.captureScript) > 0 {
		r := g.captureScript[0]
		g.captureScript = g.captureScript[1:]
		return r.p, r.err
	}
	p, ok := g.payments[id]
	if !ok {
		return nil, nil
	}
	if p.Status == payment.StatusWaitingForCapture {
		p.Status = payment.StatusSucceeded
	}
	cp := *p
	return &cp, nil
}

func (g *fakeGateway) GetPaymentInfo(_ context.Context, id string) (*payment.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.getCalls++
	p, ok := g.payments[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (g *fakeGateway) captures() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.captureCalls
}

type fakeStore struct {
	mu    sync.Mutex
	ids   map[string]string
	saved map[string][]payment.Payment
	err   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{ids: map[string]string{}, saved: map[string][]payment.Payment{}}
}

func (s *fakeStore) GetPaymentIDForOrder(_ context.Context, orderID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.ids[orderID]
	if !ok {
		return "", payment.ErrNoPayment
	}
	return id, nil
}

func (s *fakeStore) SavePayment(_ context.Context, orderID string, p payment.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.ids[orderID] = p.ID
	s.saved[orderID] = append(s.saved[orderID], p)
	return nil
}

func (s *fakeStore) saves(orderID string) []payment.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]payment.Payment(nil), s.saved[orderID]...)
}

type fakeEvents struct {
	mu     sync.Mutex
	events []payment.SucceededEvent
}

func (e *fakeEvents) PaymentSucceeded(_ context.Context, evt payment.SucceededEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
	return nil
}

func (e *fakeEvents) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.events)
}

type fakeScheduler struct {
	mu     sync.Mutex
	orders []string
}

func (s *fakeScheduler) ScheduleReconcile(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, orderID)
	return nil
}

type permanentErr struct{}

func (permanentErr) Error() string   { return "rejected" }
func (permanentErr) Retryable() bool { return false }

// recordSleeps swaps the executor's wait for a recorder.
func recordSleeps(exec *payment.Executor) *[]time.Duration {
	var mu sync.Mutex
	delays := &[]time.Duration{}
	exec.Sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		*delays = append(*delays, d)
		mu.Unlock()
		return ctx.Err()
	}
	return delays
}
