package node

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/congo-pay/pkp-relay/internal/apperr"
	"github.com/congo-pay/pkp-relay/internal/ledger"
	"github.com/congo-pay/pkp-relay/internal/logging"
)

type fakeClient struct {
	network  string
	failures int32
	gate     chan struct{}
	entered  chan struct{}

	connects atomic.Int32
	ready    atomic.Bool
	once     sync.Once
}

func (f *fakeClient) Network() string { return f.network }
func (f *fakeClient) Ready() bool { return f.ready.Load() }
func (f *fakeClient) LatestBlockhash() string { return "0xfeed" }

func (f *fakeClient) Connect(ctx context.Context) error {
	n := f.connects.Add(1)
	if f.entered != nil {
		f.once.Do(func() { close(f.entered) })
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if n <= f.failures {
		return errors.New("temporary connection error")
	}
	f.ready.Store(true)
	return nil
}

type countingFactory struct {
	calls  atomic.Int32
	client *fakeClient
}

func (c *countingFactory) build(network string) (Client, error) {
	c.calls.Add(1)
	c.client.network = network
	return c.client, nil
}

func fastConfig(attempts int) PoolConfig {
	return PoolConfig{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, ConnectTimeout: 5 * time.Second}
}

func TestPoolConcurrentGetConnectsOnce(t *testing.T) {
	fc := &fakeClient{gate: make(chan struct{}), entered: make(chan struct{})}
	factory := &countingFactory{client: fc}
	pool := NewPool([]string{"datil"}, factory.build, fastConfig(3), logging.Discard())

	const callers = 10
	clients := make([]Client, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			clients[i], errs[i] = pool.Get(context.Background(), "datil")
		}(i)
	}

	<-fc.entered
	if s := pool.State("datil"); s != StateConnecting {
		t.Fatalf("expected connecting, got %s", s)
	}
	time.Sleep(20 * time.Millisecond)
	close(fc.gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if clients[i] != clients[0] {
			t.Fatalf("caller %d received a different handle", i)
		}
	}
	if n := fc.connects.Load(); n != 1 {
		t.Fatalf("expected one connect, got %d", n)
	}
	if n := factory.calls.Load(); n != 1 {
		t.Fatalf("expected one client construction, got %d", n)
	}
	if s := pool.State("datil"); s != StateConnected {
		t.Fatalf("expected connected, got %s", s)
	}

	again, err := pool.Get(context.Background(), "datil")
	if err != nil || again != clients[0] {
		t.Fatalf("expected cached handle, got %v %v", again, err)
	}
	if n := fc.connects.Load(); n != 1 {
		t.Fatalf("expected connected handle to be reused, got %d connects", n)
	}
}

func TestPoolUnsupportedNetwork(t *testing.T) {
	factory := &countingFactory{client: &fakeClient{}}
	pool := NewPool([]string{"datil"}, factory.build, fastConfig(3), logging.Discard())

	if _, err := pool.Get(context.Background(), "cayenne"); !errors.Is(err, apperr.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if factory.calls.Load() != 0 {
		t.Fatalf("factory should not be called for unsupported networks")
	}
}

func TestPoolRetriesTransientErrors(t *testing.T) {
	fc := &fakeClient{failures: 2}
	pool := NewPool([]string{"datil-test"}, (&countingFactory{client: fc}).build, fastConfig(5), logging.Discard())

	c, err := pool.Get(context.Background(), "datil-test")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !c.Ready() {
		t.Fatalf("expected ready client")
	}
	if n := fc.connects.Load(); n != 3 {
		t.Fatalf("expected 3 attempts, got %d", n)
	}
}

func TestPoolSurfacesExhaustedRetries(t *testing.T) {
	fc := &fakeClient{failures: 100}
	factory := &countingFactory{client: fc}
	pool := NewPool([]string{"datil"}, factory.build, fastConfig(3), logging.Discard())

	_, err := pool.Get(context.Background(), "datil")
	if !errors.Is(err, apperr.ErrConnection) {
		t.Fatalf("expected connection error, got %v", err)
	}
	if n := fc.connects.Load(); n != 3 {
		t.Fatalf("expected 3 attempts, got %d", n)
	}
	if s := pool.State("datil"); s != StateUninitialized {
		t.Fatalf("expected uninitialized after failure, got %s", s)
	}

	if _, err := pool.Get(context.Background(), "datil"); !errors.Is(err, apperr.ErrConnection) {
		t.Fatalf("expected connection error, got %v", err)
	}
	if n := factory.calls.Load(); n != 1 {
		t.Fatalf("expected the handle to be reused across attempts, got %d constructions", n)
	}
}

func TestPoolCallerDeadlineDoesNotAbortConnect(t *testing.T) {
	fc := &fakeClient{gate: make(chan struct{}), entered: make(chan struct{})}
	pool := NewPool([]string{"datil"}, (&countingFactory{client: fc}).build, fastConfig(3), logging.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := pool.Get(ctx, "datil")
	if !errors.Is(err, apperr.ErrConnection) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected connection error wrapping deadline, got %v", err)
	}

	close(fc.gate)
	c, err := pool.Get(context.Background(), "datil")
	if err != nil {
		t.Fatalf("get after release: %v", err)
	}
	if !c.Ready() {
		t.Fatalf("expected ready client")
	}
	if n := fc.connects.Load(); n != 1 {
		t.Fatalf("expected the in-flight attempt to complete, got %d connects", n)
	}
}

func TestPoolStates(t *testing.T) {
	pool := NewPool([]string{"datil", "datil-test"}, (&countingFactory{client: &fakeClient{}}).build, fastConfig(1), logging.Discard())
	if _, err := pool.Get(context.Background(), "datil"); err != nil {
		t.Fatalf("get: %v", err)
	}
	states := pool.States()
	if states["datil"] != StateConnected || states["datil-test"] != StateUninitialized {
		t.Fatalf("unexpected states %v", states)
	}
	if got := pool.Networks(); len(got) != 2 || got[0] != "datil" {
		t.Fatalf("unexpected networks %v", got)
	}
}

func TestHandshakeClientAdoptsMajorityBlockhash(t *testing.T) {
	handler := func(hash string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != handshakePath || r.Method != http.MethodPost {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"serverPublicKey":"00","networkPublicKey":"00","latestBlockhash":"` + hash + `"}`))
		}
	}
	a := httptest.NewServer(handler("0xaaa"))
	defer a.Close()
	b := httptest.NewServer(handler("0xaaa"))
	defer b.Close()
	c := httptest.NewServer(handler("0xbbb"))
	defer c.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer down.Close()

	client := NewHandshakeClient("datil", []string{a.URL, b.URL, c.URL, down.URL}, 3, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !client.Ready() || client.LatestBlockhash() != "0xaaa" {
		t.Fatalf("expected majority hash 0xaaa, got ready=%v hash=%s", client.Ready(), client.LatestBlockhash())
	}

	strict := NewHandshakeClient("datil", []string{a.URL, down.URL}, 2, nil)
	if err := strict.Connect(context.Background()); err == nil {
		t.Fatalf("expected too few handshakes to fail")
	}
	if strict.Ready() {
		t.Fatalf("failed client must not be ready")
	}
}

func TestLedgerClientUsesLatestHeaderHash(t *testing.T) {
	client := NewLedgerClient("datil", ledger.NewInMemory(ledger.InMemoryConfig{}))
	if client.Ready() {
		t.Fatalf("expected client to start disconnected")
	}
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !client.Ready() || len(client.LatestBlockhash()) != 66 {
		t.Fatalf("unexpected blockhash %q", client.LatestBlockhash())
	}
}
