// Package node keeps one connected threshold-network client per network.
package node

import "context"

// State is the lifecycle of a pooled client.
type State int

const (
	StateUninitialized State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "uninitialized"
	}
}

// Client is a connection to one network of signing nodes.
type Client interface {
	Network() string
	// Connect establishes the session. It may be called again after a failure.
	Connect(ctx context.Context) error
	Ready() bool
	// LatestBlockhash is the ledger block hash observed at connect time and
	// serves as the nonce of signed session messages.
	LatestBlockhash() string
}

// Factory builds the client for network. It is called at most once per
// network for the life of a Pool.
type Factory func(network string) (Client, error)
