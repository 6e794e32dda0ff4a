package node

import (
	"context"
	"fmt"
	"sync"

	"github.com/congo-pay/pkp-relay/internal/ledger"
)

// LedgerClient is used when no node URLs are configured for a network. It
// connects by reading the latest ledger header and uses its hash as the
// session block hash.
type LedgerClient struct {
	network string
	backend ledger.Backend

	mu        sync.RWMutex
	ready     bool
	blockhash string
}

// NewLedgerClient builds a ledger-backed client for network.
func NewLedgerClient(network string, backend ledger.Backend) *LedgerClient {
	return &LedgerClient{network: network, backend: backend}
}

func (c *LedgerClient) Network() string { return c.network }

func (c *LedgerClient) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

func (c *LedgerClient) LatestBlockhash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blockhash
}

func (c *LedgerClient) Connect(ctx context.Context) error {
	header, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: latest header: %w", c.network, err)
	}
	c.mu.Lock()
	c.ready = true
	c.blockhash = header.Hash().Hex()
	c.mu.Unlock()
	return nil
}
