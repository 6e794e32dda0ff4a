package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"github.com/congo-pay/pkp-relay/internal/apperr"
)

// PoolConfig bounds the connect retry loop.
type PoolConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	ConnectTimeout  time.Duration
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 100 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 5 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = time.Minute
	}
	return c
}

// Pool owns at most one client per supported network. The first Get for a
// network connects it; concurrent callers wait on that same attempt. Once a
// client is connected it is kept for the life of the pool.
type Pool struct {
	factory   Factory
	supported map[string]struct{}
	cfg       PoolConfig
	logger    *slog.Logger

	mu      sync.Mutex
	clients map[string]Client
	states  map[string]State

	connects singleflight.Group
}

// NewPool creates a pool for networks. Clients are built lazily by factory.
func NewPool(networks []string, factory Factory, cfg PoolConfig, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	supported := make(map[string]struct{}, len(networks))
	for _, n := range networks {
		supported[n] = struct{}{}
	}
	return &Pool{
		factory:   factory,
		supported: supported,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		clients:   make(map[string]Client),
		states:    make(map[string]State),
	}
}

// Get returns the connected client for network. It fails with a
// ConfigurationError for unknown networks and a ConnectionError when the
// connect attempt is exhausted or ctx ends first. Cancelling ctx does not
// abort an attempt other callers may be waiting on.
func (p *Pool) Get(ctx context.Context, network string) (Client, error) {
	if _, ok := p.supported[network]; !ok {
		return nil, apperr.Configuration("unsupported network %q", network)
	}
	if c, ok := p.connected(network); ok {
		return c, nil
	}

	ch := p.connects.DoChan(network, func() (any, error) {
		return p.connect(network)
	})
	select {
	case <-ctx.Done():
		return nil, apperr.New(apperr.KindConnection, "wait for "+network+" client", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Client), nil
	}
}

// State reports the lifecycle state of network.
func (p *Pool) State(network string) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.states[network]
}

// States reports every supported network's state.
func (p *Pool) States() map[string]State {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]State, len(p.supported))
	for n := range p.supported {
		out[n] = p.states[n]
	}
	return out
}

// Networks lists the supported networks in sorted order.
func (p *Pool) Networks() []string {
	out := make([]string, 0, len(p.supported))
	for n := range p.supported {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (p *Pool) connected(network string) (Client, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.states[network] != StateConnected {
		return nil, false
	}
	return p.clients[network], true
}

// connect runs inside the single-flight group, so only one goroutine per
// network is ever here.
func (p *Pool) connect(network string) (Client, error) {
	p.mu.Lock()
	if p.states[network] == StateConnected {
		c := p.clients[network]
		p.mu.Unlock()
		return c, nil
	}
	client, ok := p.clients[network]
	p.states[network] = StateConnecting
	p.mu.Unlock()

	if !ok {
		var err error
		client, err = p.factory(network)
		if err != nil {
			p.setState(network, StateUninitialized)
			if apperr.KindOf(err) != "" {
				return nil, err
			}
			return nil, apperr.New(apperr.KindConfiguration, "build "+network+" client", err)
		}
		p.mu.Lock()
		p.clients[network] = client
		p.mu.Unlock()
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ConnectTimeout)
	defer cancel()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.cfg.InitialInterval
	exp.MaxInterval = p.cfg.MaxInterval
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.cfg.MaxAttempts-1)), ctx)

	attempts := 0
	start := time.Now()
	err := backoff.RetryNotify(func() error {
		attempts++
		return client.Connect(ctx)
	}, policy, func(err error, wait time.Duration) {
		p.logger.Warn("node connect failed, retrying",
			slog.String("network", network),
			slog.Int("attempt", attempts),
			slog.Duration("backoff", wait),
			slog.Any("error", err),
		)
	})
	if err != nil {
		p.setState(network, StateUninitialized)
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w (%v)", err, ctxErr)
		}
		return nil, apperr.New(apperr.KindConnection, fmt.Sprintf("connect %s after %d attempts", network, attempts), err)
	}

	p.setState(network, StateConnected)
	p.logger.Info("node client connected",
		slog.String("network", network),
		slog.Int("attempts", attempts),
		slog.Duration("elapsed", time.Since(start)),
		slog.String("latest_blockhash", client.LatestBlockhash()),
	)
	return client, nil
}

func (p *Pool) setState(network string, s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states[network] = s
}
