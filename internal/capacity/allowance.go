package capacity

import (
	"context"
	"time"

	"github.com/congo-pay/pkp-relay/internal/apperr"
)

// Allowance is a pre-purchased, rate limited capacity grant.
type Allowance struct {
	ID            string
	RatePerSecond int
	ExpiresAt     time.Time
}

// Expired reports whether the allowance has lapsed at t.
func (a Allowance) Expired(t time.Time) bool {
	return !a.ExpiresAt.IsZero() && !t.Before(a.ExpiresAt)
}

// AllowanceSource resolves the allowance a delegation draws from. An empty id
// selects the source's default.
type AllowanceSource interface {
	Allowance(ctx context.Context, network, id string) (Allowance, error)
}

// StaticAllowance serves a fixed set of allowances, the first being the default.
type StaticAllowance struct {
	allowances []Allowance
}

// NewStaticAllowance builds a source from allowances. The first is the default.
func NewStaticAllowance(allowances ...Allowance) *StaticAllowance {
	return &StaticAllowance{allowances: allowances}
}

func (s *StaticAllowance) Allowance(_ context.Context, _ string, id string) (Allowance, error) {
	if len(s.allowances) == 0 {
		return Allowance{}, apperr.Configuration("no capacity allowance configured")
	}
	if id == "" {
		return s.allowances[0], nil
	}
	for _, a := range s.allowances {
		if a.ID == id {
			return a, nil
		}
	}
	return Allowance{}, apperr.Validation("unknown capacity allowance %q", id)
}
