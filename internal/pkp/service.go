package pkp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/singleflight"

	"github.com/congo-pay/pkp-relay/internal/apperr"
	"github.com/congo-pay/pkp-relay/internal/auth"
	"github.com/congo-pay/pkp-relay/internal/contracts"
	"github.com/congo-pay/pkp-relay/internal/identity"
	"github.com/congo-pay/pkp-relay/internal/ledger"
	"github.com/congo-pay/pkp-relay/internal/notification"
)

const (
	defaultMintTimeout  = 3 * time.Minute
	defaultPollInterval = time.Second
)

// Options tunes a Service.
type Options struct {
	MintTimeout       time.Duration
	PollInterval      time.Duration
	RequireSignedAuth bool
}

// Service mints PKPs through the helper contract and decodes the result.
type Service struct {
	registry *contracts.Registry
	gas      *GasPolicy
	notifier notification.Notifier
	logger   *slog.Logger
	opts     Options

	inflight singleflight.Group
}

// NewService constructs a mint service.
func NewService(registry *contracts.Registry, gas *GasPolicy, notifier notification.Notifier, logger *slog.Logger, opts Options) *Service {
	if gas == nil {
		gas = NewGasPolicy(200, 0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MintTimeout <= 0 {
		opts.MintTimeout = defaultMintTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	return &Service{registry: registry, gas: gas, notifier: notifier, logger: logger, opts: opts}
}

// Mint binds a fresh PKP to method on network. Concurrent calls for the same
// (network, auth method id, request) share one on-ledger mint. Once submitted, a mint
// runs to completion even if ctx is cancelled; the caller just stops waiting.
func (s *Service) Mint(ctx context.Context, network string, method identity.AuthMethod, overrides Overrides) (Record, error) {
	if s.opts.RequireSignedAuth {
		if err := auth.VerifyAuthMethod(method); err != nil {
			return Record{}, err
		}
	}
	data, err := identity.RelayData(method)
	if err != nil {
		return Record{}, err
	}
	if err := ValidateOverrides(overrides); err != nil {
		return Record{}, err
	}
	req, err := NewRequestBuilder(data).WithOverrides(overrides).Build()
	if err != nil {
		return Record{}, err
	}
	if !s.registry.Supports(network) {
		return Record{}, apperr.Configuration("unsupported network %q", network)
	}

	key := network + "|" + data.AuthMethodID + "|" + req.digest()
	ch := s.inflight.DoChan(key, func() (any, error) {
		mintCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.MintTimeout)
		defer cancel()
		return s.mint(mintCtx, network, data.AuthMethodID, req)
	})

	select {
	case <-ctx.Done():
		return Record{}, apperr.New(apperr.KindConnection, "wait for mint", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return Record{}, res.Err
		}
		if res.Shared {
			s.logger.InfoContext(ctx, "mint shared with concurrent request",
				slog.String("network", network),
				slog.String("auth_method_id", data.AuthMethodID),
			)
		}
		return res.Val.(Record), nil
	}
}

func (s *Service) mint(ctx context.Context, network, authMethodID string, req MintRequest) (Record, error) {
	log := s.logger.With(slog.String("network", network), slog.String("auth_method_id", authMethodID))

	nft, err := s.registry.Resolve(network, contracts.RoleRegistry)
	if err != nil {
		return Record{}, err
	}
	helper, err := s.registry.Resolve(network, contracts.RoleHelper)
	if err != nil {
		return Record{}, err
	}

	cost, err := s.mintCost(ctx, nft)
	if err != nil {
		return Record{}, err
	}
	log.DebugContext(ctx, "mint cost read", slog.String("cost", cost.String()))

	calldata, err := helper.Pack(mintMethod, req.args()...)
	if err != nil {
		return Record{}, apperr.New(apperr.KindValidation, "encode mint call", err)
	}

	signer := helper.Signer()
	backend := helper.Backend()
	to := helper.Address

	var tx *types.Transaction
	err = signer.Serialize(func() error {
		estimate, err := backend.EstimateGas(ctx, ethereum.CallMsg{
			From:  signer.Address(),
			To:    &to,
			Value: cost,
			Data:  calldata,
		})
		if err != nil {
			log.WarnContext(ctx, "gas estimation failed",
				slog.Uint64("fallback_baseline", s.gas.Baseline(network)),
				slog.Any("error", err),
			)
			return apperr.New(apperr.KindGasEstimation, "estimate mint gas", err)
		}
		s.gas.Observe(network, estimate)
		limit := s.gas.Limit(estimate)
		log.DebugContext(ctx, "gas estimated", slog.Uint64("estimate", estimate), slog.Uint64("limit", limit))

		tx, err = signer.Send(ctx, backend, ledger.Call{To: to, Data: calldata, Value: cost, GasLimit: limit})
		if err != nil {
			return apperr.New(apperr.KindChainWrite, "submit mint transaction", err)
		}
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	log.InfoContext(ctx, "mint submitted", slog.String("tx_hash", tx.Hash().Hex()), slog.Uint64("gas_limit", tx.Gas()))

	receipt, err := ledger.WaitMined(ctx, backend, tx.Hash(), s.opts.PollInterval)
	if err != nil {
		msg := "wait for mint confirmation"
		if errors.Is(err, ledger.ErrTransactionReverted) {
			msg = "mint transaction reverted"
		}
		return Record{}, apperr.New(apperr.KindChainWrite, fmt.Sprintf("%s (tx %s)", msg, tx.Hash().Hex()), err)
	}

	tokenID, err := ledger.TransferTokenID(receipt, nft.Address)
	if err != nil {
		log.ErrorContext(ctx, "minted token id missing from receipt", slog.String("tx_hash", tx.Hash().Hex()))
		return Record{}, apperr.New(apperr.KindLogParse, fmt.Sprintf("decode mint receipt (tx %s)", tx.Hash().Hex()), err)
	}

	pub, err := s.publicKey(ctx, nft, tokenID)
	if err != nil {
		return Record{}, err
	}
	addr, err := ledger.DeriveAddress(pub)
	if err != nil {
		return Record{}, apperr.New(apperr.KindChainRead, "derive pkp address", err)
	}

	rec := Record{
		TokenID:    "0x" + tokenID.Text(16),
		PublicKey:  pub,
		EthAddress: addr.Hex(),
	}
	log.InfoContext(ctx, "pkp minted", slog.String("token_id", rec.TokenID), slog.String("eth_address", rec.EthAddress))

	if s.notifier != nil {
		_ = s.notifier.Send(ctx, notification.Message{
			Kind:        notification.KindPKPMinted,
			Network:     network,
			Destination: authMethodID,
			Body:        fmt.Sprintf("PKP %s minted at %s", rec.TokenID, rec.EthAddress),
		})
	}
	return rec, nil
}

func (s *Service) mintCost(ctx context.Context, nft *contracts.Handle) (*big.Int, error) {
	out, err := nft.Call(ctx, "mintCost")
	if err != nil {
		return nil, apperr.New(apperr.KindChainRead, "read mint cost", err)
	}
	cost, ok := first[*big.Int](out)
	if !ok {
		return nil, apperr.New(apperr.KindChainRead, "unexpected mintCost result", nil)
	}
	return cost, nil
}

func (s *Service) publicKey(ctx context.Context, nft *contracts.Handle, tokenID *big.Int) (string, error) {
	out, err := nft.Call(ctx, "getPubkey", tokenID)
	if err != nil {
		return "", apperr.New(apperr.KindChainRead, "read pkp public key", err)
	}
	pub, ok := first[[]byte](out)
	if !ok || len(pub) == 0 {
		return "", apperr.New(apperr.KindChainRead, fmt.Sprintf("no public key for token 0x%s", tokenID.Text(16)), nil)
	}
	return hexutil.Encode(pub), nil
}

func first[T any](values []any) (T, bool) {
	var zero T
	if len(values) == 0 {
		return zero, false
	}
	v, ok := values[0].(T)
	return v, ok
}
