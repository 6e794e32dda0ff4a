package ledger

import (
	"context"
	"errors"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// ErrTransferLogNotFound occurs when a confirmed receipt carries no ERC-721
	// Transfer event to recover the minted token identifier from.
	ErrTransferLogNotFound = errors.New("transfer event not found")

	// ErrTransactionReverted indicates the transaction was included but its
	// receipt status is not successful.
	ErrTransactionReverted = errors.New("transaction reverted")
)

const defaultPollInterval = time.Second

// Backend defines the ledger RPC surface used by the relay. *ethclient.Client
// satisfies it; InMemory is the simulated implementation.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// WaitMined polls for the receipt of hash until it is available or ctx ends.
// Included transactions with a failed status are returned together with
// ErrTransactionReverted.
func WaitMined(ctx context.Context, b Backend, hash common.Hash, interval time.Duration) (*types.Receipt, error) {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		receipt, err := b.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, ErrTransactionReverted
			}
			return receipt, nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
