package tenure

import (
	"context"
	mathrand "math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"esusu.org/internal/ids"
	"esusu.org/internal/payments"
)

// testClock is a mutable time source shared with the service under test.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(t time.Time) *testClock { return &testClock{t: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeGateway scripts gateway behavior per user.
type fakeGateway struct {
	mu       sync.Mutex
	declined map[string]bool
	delay    time.Duration
	calls    []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{declined: make(map[string]bool)}
}

func (g *fakeGateway) decline(userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.declined[userID] = true
}

func (g *fakeGateway) chargeCalls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

func (g *fakeGateway) Charge(ctx context.Context, userID string, amount int64) (payments.Alert, error) {
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return payments.Alert{}, ctx.Err()
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, userID)
	if g.declined[userID] {
		return payments.NewChargeAlert(userID, amount, payments.Failure), nil
	}
	return payments.NewChargeAlert(userID, amount, payments.Success), nil
}

func (g *fakeGateway) Credit(ctx context.Context, userID string, amount int64) (payments.Alert, error) {
	return payments.NewCreditAlert(userID, amount, payments.Success), nil
}

var testEpoch = time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc     *Service
	store   *InMemory
	gateway *fakeGateway
	clock   *testClock
}

func newFixture(t *testing.T, opts ...ServiceOption) *fixture {
	t.Helper()
	codec, err := ids.NewCodec("tenure-test", 11)
	if err != nil {
		t.Fatal(err)
	}
	store := NewInMemory()
	gateway := newFakeGateway()
	clock := newTestClock(testEpoch)
	base := []ServiceOption{
		WithClock(clock.Now),
		WithRand(mathrand.New(mathrand.NewSource(1))),
	}
	svc := NewService(store, codec, gateway, append(base, opts...)...)
	return &fixture{svc: svc, store: store, gateway: gateway, clock: clock}
}

func (f *fixture) mustGroup(t *testing.T, name string) Group {
	t.Helper()
	g, err := f.svc.CreateGroup(context.Background(), name, uuid.NewString())
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func (f *fixture) mustFutureTenure(t *testing.T, g Group, amount int64) FutureTenure {
	t.Helper()
	ft, err := f.svc.CreateFutureTenure(context.Background(), g.HashID, amount, nil)
	if err != nil {
		t.Fatal(err)
	}
	return ft
}

func (f *fixture) mustWatch(t *testing.T, g Group, userID string) Watch {
	t.Helper()
	w, err := f.svc.WatchGroup(context.Background(), g.HashID, userID)
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func (f *fixture) mustOptIn(t *testing.T, w Watch) {
	t.Helper()
	if _, err := f.svc.SetOptIn(context.Background(), w.ID, true); err != nil {
		t.Fatal(err)
	}
}
