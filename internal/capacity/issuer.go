// Package capacity signs delegations that let callers draw on the relay's
// capacity allowance.
package capacity

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/congo-pay/pkp-relay/internal/apperr"
	"github.com/congo-pay/pkp-relay/internal/auth"
	"github.com/congo-pay/pkp-relay/internal/ledger"
	"github.com/congo-pay/pkp-relay/internal/node"
	"github.com/congo-pay/pkp-relay/internal/notification"
)

const (
	delegationDomain = "localhost"
	delegationURI    = "lit:capability:delegation"
	delegationChain  = 1

	defaultUses = 1
	defaultTTL  = 2 * time.Minute
)

// ClientSource hands out connected node clients.
type ClientSource interface {
	Get(ctx context.Context, network string) (node.Client, error)
}

// IssueInput describes one delegation. Zero Uses and TTL take the issuer defaults.
type IssueInput struct {
	Network     string
	AllowanceID string
	Delegatees  []string
	Uses        int
	TTL         time.Duration
}

// Authorization is a signed delegation together with the values it encodes.
type Authorization struct {
	AuthSig     auth.AuthSig
	AllowanceID string
	Delegatees  []string
	Uses        int
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// IssuerConfig holds the defaults applied to IssueInput.
type IssuerConfig struct {
	Uses int
	TTL  time.Duration
}

// Issuer signs capacity delegations with the process signer.
type Issuer struct {
	clients    ClientSource
	signer     *ledger.Signer
	allowances AllowanceSource
	notifier   notification.Notifier
	logger     *slog.Logger
	cfg        IssuerConfig
	now        func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewIssuer constructs an issuer.
func NewIssuer(clients ClientSource, signer *ledger.Signer, allowances AllowanceSource, notifier notification.Notifier, logger *slog.Logger, cfg IssuerConfig) *Issuer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Uses <= 0 {
		cfg.Uses = defaultUses
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	return &Issuer{
		clients:    clients,
		signer:     signer,
		allowances: allowances,
		notifier:   notifier,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// Issue signs a delegation of the allowance to in.Delegatees. It needs a
// connected client for in.Network and waits for the allowance's rate limiter
// for as long as ctx allows.
func (i *Issuer) Issue(ctx context.Context, in IssueInput) (Authorization, error) {
	if len(in.Delegatees) == 0 {
		return Authorization{}, apperr.Validation("at least one delegatee is required")
	}
	delegatees := make([]string, 0, len(in.Delegatees))
	delegateTo := make([]string, 0, len(in.Delegatees))
	seen := make(map[string]struct{}, len(in.Delegatees))
	for _, d := range in.Delegatees {
		hex, ok := delegateeHex(d)
		if !ok {
			return Authorization{}, apperr.Validation("delegatee %q is not a 0x-prefixed hex address", d)
		}
		if _, dup := seen[hex]; dup {
			continue
		}
		seen[hex] = struct{}{}
		delegatees = append(delegatees, d)
		delegateTo = append(delegateTo, hex)
	}
	uses := in.Uses
	if uses == 0 {
		uses = i.cfg.Uses
	}
	if uses < 0 {
		return Authorization{}, apperr.Validation("uses must be positive, got %d", uses)
	}
	ttl := in.TTL
	if ttl == 0 {
		ttl = i.cfg.TTL
	}
	if ttl < time.Second {
		return Authorization{}, apperr.Validation("delegation ttl must be at least 1s, got %s", ttl)
	}

	allowance, err := i.allowances.Allowance(ctx, in.Network, in.AllowanceID)
	if err != nil {
		return Authorization{}, err
	}
	if allowance.Expired(i.now()) {
		i.logger.WarnContext(ctx, "delegating an expired capacity allowance",
			slog.String("allowance_id", allowance.ID),
			slog.Time("expires_at", allowance.ExpiresAt),
		)
	}

	client, err := i.clients.Get(ctx, in.Network)
	if err != nil {
		return Authorization{}, err
	}

	if err := i.limiter(allowance).Wait(ctx); err != nil {
		return Authorization{}, apperr.New(apperr.KindRateLimited, "capacity allowance "+allowance.ID+" saturated", err)
	}

	issuedAt := i.now().UTC().Truncate(time.Millisecond)
	expiresAt := issuedAt.Add(ttl)

	rc := newCapacityRecap(allowance.ID, strconv.Itoa(uses), delegateTo)
	urn, err := rc.URN()
	if err != nil {
		return Authorization{}, fmt.Errorf("encode recap: %w", err)
	}

	msg, err := delegation{
		Address:   i.signer.Address().Hex(),
		Nonce:     client.LatestBlockhash(),
		Statement: rc.Statement(),
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
		Resources: []string{urn},
	}.message()
	if err != nil {
		return Authorization{}, fmt.Errorf("build delegation message: %w", err)
	}
	sig, err := auth.Sign(i.signer, msg.String())
	if err != nil {
		return Authorization{}, fmt.Errorf("sign delegation: %w", err)
	}

	authz := Authorization{
		AuthSig:     sig,
		AllowanceID: allowance.ID,
		Delegatees:  delegatees,
		Uses:        uses,
		IssuedAt:    issuedAt,
		ExpiresAt:   expiresAt,
	}
	i.logger.InfoContext(ctx, "capacity delegation issued",
		slog.String("network", in.Network),
		slog.String("allowance_id", allowance.ID),
		slog.Int("delegatees", len(delegatees)),
		slog.Int("uses", uses),
		slog.Time("expires_at", expiresAt),
	)
	if i.notifier != nil {
		_ = i.notifier.Send(ctx, notification.Message{
			Kind:        notification.KindCapacityDelegated,
			Network:     in.Network,
			Destination: delegatees[0],
			Body:        fmt.Sprintf("allowance %s delegated for %d use(s) until %s", allowance.ID, uses, expiresAt.Format(time.RFC3339)),
		})
	}
	return authz, nil
}

// delegateeHex returns d as lower-case hex without the 0x prefix. Any non-empty
// hex string is accepted, not only 20-byte addresses.
func delegateeHex(d string) (string, bool) {
	if len(d) < 3 || (d[:2] != "0x" && d[:2] != "0X") {
		return "", false
	}
	hex := d[2:]
	for _, c := range hex {
		if !isHexDigit(c) {
			return "", false
		}
	}
	return strings.ToLower(hex), true
}

func isHexDigit(c rune) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func (i *Issuer) limiter(a Allowance) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()
	if l, ok := i.limiters[a.ID]; ok {
		return l
	}
	limit := rate.Inf
	burst := 1
	if a.RatePerSecond > 0 {
		limit = rate.Limit(a.RatePerSecond)
		burst = a.RatePerSecond
	}
	l := rate.NewLimiter(limit, burst)
	i.limiters[a.ID] = l
	return l
}
