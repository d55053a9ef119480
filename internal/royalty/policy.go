// Package royalty maps a transaction value to the royalty tier, in basis
// points, passed along with each cascade.
package royalty

import (
	"fmt"
	"math/big"
)

// TierName identifies a royalty tier.
type TierName string

const (
	TierDefault TierName = "default"
	TierLarge   TierName = "large"
)

// MaxBps is 100%.
const MaxBps = 10_000

// Tier is the selected royalty.
type Tier struct {
	Name TierName
	Bps  uint64
}

// Policy picks the large tier for values strictly above Threshold and the
// default tier otherwise. With tiering disabled every value gets the default.
type Policy struct {
	enabled    bool
	threshold  *big.Int
	defaultBps uint64
	largeBps   uint64
}

// NewPolicy validates the tier configuration.
func NewPolicy(enabled bool, threshold *big.Int, defaultBps, largeBps uint64) (Policy, error) {
	if defaultBps > MaxBps || largeBps > MaxBps {
		return Policy{}, fmt.Errorf("royalty: bps must be <= %d (default=%d large=%d)", MaxBps, defaultBps, largeBps)
	}
	if threshold == nil {
		threshold = new(big.Int)
	}
	if threshold.Sign() < 0 {
		return Policy{}, fmt.Errorf("royalty: negative threshold %s", threshold)
	}
	return Policy{
		enabled:    enabled,
		threshold:  new(big.Int).Set(threshold),
		defaultBps: defaultBps,
		largeBps:   largeBps,
	}, nil
}

// TierFor returns the tier for value. A nil value is zero.
func (p Policy) TierFor(value *big.Int) Tier {
	if p.enabled && value != nil && value.Cmp(p.threshold) > 0 {
		return Tier{Name: TierLarge, Bps: p.largeBps}
	}
	return Tier{Name: TierDefault, Bps: p.defaultBps}
}

// Threshold returns a copy of the tier threshold in wei.
func (p Policy) Threshold() *big.Int {
	return new(big.Int).Set(p.threshold)
}
