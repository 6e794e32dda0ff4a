package contracts

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/congo-pay/pkp-relay/internal/apperr"
	"github.com/congo-pay/pkp-relay/internal/ledger"
)

// Handle is a contract bound to the ledger backend and the process signer.
type Handle struct {
	Network string
	Role    Role
	Address common.Address
	ChainID *big.Int
	ABI     abi.ABI

	backend ledger.Backend
	signer  *ledger.Signer
}

// Pack encodes calldata for method.
func (h *Handle) Pack(method string, args ...any) ([]byte, error) {
	return h.ABI.Pack(method, args...)
}

// Call performs a read-only invocation of method and returns its decoded outputs.
func (h *Handle) Call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := h.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s.%s: %w", h.Role, method, err)
	}
	to := h.Address
	out, err := h.backend.CallContract(ctx, ethereum.CallMsg{From: h.signer.Address(), To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s.%s: %w", h.Role, method, err)
	}
	values, err := h.ABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s.%s: %w", h.Role, method, err)
	}
	return values, nil
}

// Backend returns the ledger backend the handle is bound to.
func (h *Handle) Backend() ledger.Backend {
	return h.backend
}

// Signer returns the process signer the handle is bound to.
func (h *Handle) Signer() *ledger.Signer {
	return h.signer
}

type handleKey struct {
	network string
	role    Role
}

// Registry resolves contract handles per (network, role) and memoizes them.
type Registry struct {
	dataset Dataset
	abis    map[Role]abi.ABI
	backend ledger.Backend
	signer  *ledger.Signer

	mu      sync.Mutex
	handles map[handleKey]*Handle
}

// NewRegistry parses the shipped ABIs and binds every handle it later creates
// to backend and signer.
func NewRegistry(dataset Dataset, backend ledger.Backend, signer *ledger.Signer) (*Registry, error) {
	if backend == nil {
		return nil, fmt.Errorf("ledger backend is required")
	}
	if signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	abis := make(map[Role]abi.ABI, len(Roles))
	for _, role := range Roles {
		parsed, err := LoadABI(role)
		if err != nil {
			return nil, err
		}
		abis[role] = parsed
	}
	return &Registry{
		dataset: dataset,
		abis:    abis,
		backend: backend,
		signer:  signer,
		handles: make(map[handleKey]*Handle),
	}, nil
}

// Resolve returns the handle for role on network, constructing it on first use.
// Unknown networks, roles or malformed addresses yield a ConfigurationError.
func (r *Registry) Resolve(network string, role Role) (*Handle, error) {
	key := handleKey{network: network, role: role}

	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[key]; ok {
		return h, nil
	}

	entry, ok := r.dataset.Networks[network]
	if !ok {
		return nil, apperr.Configuration("unsupported network %q", network)
	}
	parsed, ok := r.abis[role]
	if !ok {
		return nil, apperr.Configuration("unknown contract role %q", role)
	}
	addr, ok := entry.Contracts[string(role)]
	if !ok || !common.IsHexAddress(addr) {
		return nil, apperr.Configuration("no valid %s address registered for network %q", role, network)
	}

	h := &Handle{
		Network: network,
		Role:    role,
		Address: common.HexToAddress(addr),
		ChainID: big.NewInt(entry.ChainID),
		ABI:     parsed,
		backend: r.backend,
		signer:  r.signer,
	}
	r.handles[key] = h
	return h, nil
}

// Supports reports whether network is present in the dataset.
func (r *Registry) Supports(network string) bool {
	_, ok := r.dataset.Networks[network]
	return ok
}

// Networks lists the supported networks.
func (r *Registry) Networks() []string {
	return r.dataset.Names()
}
