package pkp

import (
	"math"
	"math/big"
	"sync"
)

// GasPolicy turns estimates into submitted gas limits and remembers the last
// successful estimate per network.
type GasPolicy struct {
	percent         *big.Int
	defaultBaseline uint64

	mu       sync.Mutex
	baseline map[string]uint64
}

// NewGasPolicy applies percent/100 to every estimate. Non-positive percent
// falls back to 200.
func NewGasPolicy(percent int64, baseDefault uint64) *GasPolicy {
	if percent <= 0 {
		percent = 200
	}
	return &GasPolicy{
		percent:         big.NewInt(percent),
		defaultBaseline: baseDefault,
		baseline:        make(map[string]uint64),
	}
}

// Limit returns floor(estimate * percent / 100), saturating at MaxUint64.
func (p *GasPolicy) Limit(estimate uint64) uint64 {
	v := new(big.Int).SetUint64(estimate)
	v.Mul(v, p.percent)
	v.Quo(v, big.NewInt(100))
	if !v.IsUint64() {
		return math.MaxUint64
	}
	return v.Uint64()
}

// Observe records a successful estimate as the network's fallback baseline.
func (p *GasPolicy) Observe(network string, estimate uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.baseline[network] = estimate
}

// Baseline returns the last observed estimate for network or the configured default.
func (p *GasPolicy) Baseline(network string) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.baseline[network]; ok {
		return v
	}
	return p.defaultBaseline
}
