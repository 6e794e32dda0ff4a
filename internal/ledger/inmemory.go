package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	selMintCost  = selector("mintCost()")
	selGetPubkey = selector("getPubkey(uint256)")
	selMintNext  = selector("mintNextAndAddAuthMethods(uint256,uint256[],bytes[],bytes[],uint256[][],bool,bool)")

	uint256Args = mustArguments("uint256")
	bytesArgs   = mustArguments("bytes")

	// permittedAuthMethodAddedTopic is emitted next to Transfer by the helper;
	// the simulation keeps it so receipts carry more than one log.
	permittedAuthMethodAddedTopic = crypto.Keccak256Hash([]byte("PermittedAuthMethodAdded(uint256,uint256,bytes,bytes)"))
)

// InMemoryConfig describes the simulated deployment.
type InMemoryConfig struct {
	ChainID     *big.Int
	NFT         common.Address
	Helper      common.Address
	MintCost    *big.Int
	GasEstimate uint64
	GasPrice    *big.Int
}

// InMemory is a concurrency-safe simulated ledger exposing the PKP NFT and
// helper contracts. It backs unit tests and development runs without RPC.
type InMemory struct {
	mu  sync.Mutex
	cfg InMemoryConfig

	block     uint64
	nonces    map[common.Address]uint64
	pubkeys   map[string][]byte
	receipts  map[common.Hash]*types.Receipt
	submitted []*types.Transaction

	estimateErr     error
	dropTransferLog bool
	revertMints     bool
	estimateCalls   int
}

// NewInMemory creates a simulated ledger. Zero values in cfg get defaults.
func NewInMemory(cfg InMemoryConfig) *InMemory {
	if cfg.ChainID == nil {
		cfg.ChainID = big.NewInt(175188)
	}
	if cfg.MintCost == nil {
		cfg.MintCost = big.NewInt(1)
	}
	if cfg.GasEstimate == 0 {
		cfg.GasEstimate = 3_579_800
	}
	if cfg.GasPrice == nil {
		cfg.GasPrice = big.NewInt(1_000_000_000)
	}
	return &InMemory{
		cfg:      cfg,
		block:    1,
		nonces:   make(map[common.Address]uint64),
		pubkeys:  make(map[string][]byte),
		receipts: make(map[common.Hash]*types.Receipt),
	}
}

func (l *InMemory) ChainID(_ context.Context) (*big.Int, error) {
	return new(big.Int).Set(l.cfg.ChainID), nil
}

func (l *InMemory) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if msg.To == nil || *msg.To != l.cfg.NFT || len(msg.Data) < 4 {
		return nil, errors.New("execution reverted")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case bytes.Equal(msg.Data[:4], selMintCost):
		return uint256Args.Pack(l.cfg.MintCost)
	case bytes.Equal(msg.Data[:4], selGetPubkey):
		values, err := uint256Args.Unpack(msg.Data[4:])
		if err != nil {
			return nil, fmt.Errorf("decode token id: %w", err)
		}
		tokenID := values[0].(*big.Int)
		pub, ok := l.pubkeys[tokenID.Text(16)]
		if !ok {
			pub = []byte{}
		}
		return bytesArgs.Pack(pub)
	default:
		return nil, errors.New("execution reverted: unknown selector")
	}
}

func (l *InMemory) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.estimateCalls++

	if l.estimateErr != nil {
		return 0, l.estimateErr
	}
	if msg.To != nil && *msg.To == l.cfg.Helper {
		if msg.Value == nil || msg.Value.Cmp(l.cfg.MintCost) < 0 {
			return 0, errors.New("execution reverted: PKPHelper: msg.value must equal mint cost")
		}
	}
	return l.cfg.GasEstimate, nil
}

func (l *InMemory) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nonces[account], nil
}

func (l *InMemory) SuggestGasPrice(_ context.Context) (*big.Int, error) {
	return new(big.Int).Set(l.cfg.GasPrice), nil
}

func (l *InMemory) HeaderByNumber(_ context.Context, _ *big.Int) (*types.Header, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &types.Header{
		Number: new(big.Int).SetUint64(l.block),
		Time:   uint64(time.Now().Unix()),
		Extra:  []byte("in-memory"),
	}, nil
}

func (l *InMemory) SendTransaction(_ context.Context, tx *types.Transaction) error {
	from, err := types.Sender(types.LatestSignerForChainID(l.cfg.ChainID), tx)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if want := l.nonces[from]; tx.Nonce() != want {
		return fmt.Errorf("invalid nonce: have %d want %d", tx.Nonce(), want)
	}
	l.nonces[from]++
	l.block++
	l.submitted = append(l.submitted, tx)

	receipt := &types.Receipt{
		Type:        tx.Type(),
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      tx.Hash(),
		GasUsed:     l.cfg.GasEstimate,
		BlockNumber: new(big.Int).SetUint64(l.block),
	}

	isMint := tx.To() != nil && *tx.To() == l.cfg.Helper && len(tx.Data()) >= 4 && bytes.Equal(tx.Data()[:4], selMintNext)
	switch {
	case !isMint:
	case l.revertMints, tx.Value().Cmp(l.cfg.MintCost) < 0:
		receipt.Status = types.ReceiptStatusFailed
	case tx.Gas() < l.cfg.GasEstimate:
		receipt.Status = types.ReceiptStatusFailed
		receipt.GasUsed = tx.Gas()
	default:
		logs, err := l.mint(from, tx)
		if err != nil {
			return err
		}
		receipt.Logs = logs
	}

	l.receipts[tx.Hash()] = receipt
	return nil
}

// mint creates a fresh keypair whose token id is keccak256 of the public key.
func (l *InMemory) mint(owner common.Address, tx *types.Transaction) ([]*types.Log, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	pub := crypto.FromECDSAPub(&key.PublicKey)
	tokenID := new(big.Int).SetBytes(crypto.Keccak256(pub))
	l.pubkeys[tokenID.Text(16)] = pub

	tokenTopic := common.BigToHash(tokenID)
	permitted := &types.Log{
		Address:     l.cfg.Helper,
		Topics:      []common.Hash{permittedAuthMethodAddedTopic, tokenTopic},
		TxHash:      tx.Hash(),
		BlockNumber: l.block,
	}
	if l.dropTransferLog {
		return []*types.Log{permitted}, nil
	}
	transfer := &types.Log{
		Address: l.cfg.NFT,
		Topics: []common.Hash{
			TransferTopic,
			common.Hash{},
			common.BytesToHash(l.cfg.Helper.Bytes()),
			tokenTopic,
		},
		TxHash:      tx.Hash(),
		BlockNumber: l.block,
	}
	handoff := &types.Log{
		Address: l.cfg.NFT,
		Topics: []common.Hash{
			TransferTopic,
			common.BytesToHash(l.cfg.Helper.Bytes()),
			common.BytesToHash(owner.Bytes()),
			tokenTopic,
		},
		TxHash:      tx.Hash(),
		BlockNumber: l.block,
		Index:       2,
	}
	permitted.Index = 1
	return []*types.Log{transfer, permitted, handoff}, nil
}

func (l *InMemory) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	receipt, ok := l.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func selector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

func mustArguments(typ string) abi.Arguments {
	t, err := abi.NewType(typ, "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: t}}
}
