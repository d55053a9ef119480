// Package filter decides whether a pending transaction is a candidate for a
// cascade: it must target one of the two watched pools, carry calldata with a
// known function selector, and move at least the configured minimum value.
package filter

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/cascadebot/internal/domain"
)

// SelectorLen is the length of a function selector in bytes.
const SelectorLen = 4

// Reason explains why a transaction was rejected. The zero value means the
// transaction was accepted.
type Reason string

const (
	Accepted              Reason = ""
	ReasonMissingTo       Reason = "missing_to"
	ReasonEmptyInput      Reason = "empty_input"
	ReasonBelowMinValue   Reason = "below_min_value"
	ReasonUnknownPool     Reason = "unknown_pool"
	ReasonUnknownSelector Reason = "unknown_selector"
)

// Rules is the immutable filter configuration.
type Rules struct {
	pools     [2]common.Address
	minValue  *big.Int
	selectors map[string]struct{}
}

// NewRules validates and normalises the filter configuration. Selectors are
// 8 hex characters, with or without a 0x prefix, in any case.
func NewRules(pool1, pool2 common.Address, minValue *big.Int, selectors []string) (Rules, error) {
	if minValue == nil {
		minValue = new(big.Int)
	}
	if minValue.Sign() < 0 {
		return Rules{}, fmt.Errorf("filter: negative minimum value %s", minValue)
	}
	set := make(map[string]struct{}, len(selectors))
	for _, s := range selectors {
		norm, err := NormalizeSelector(s)
		if err != nil {
			return Rules{}, err
		}
		set[norm] = struct{}{}
	}
	if len(set) == 0 {
		return Rules{}, fmt.Errorf("filter: at least one selector is required")
	}
	return Rules{
		pools:     [2]common.Address{pool1, pool2},
		minValue:  new(big.Int).Set(minValue),
		selectors: set,
	}, nil
}

// NormalizeSelector returns the lowercase, unprefixed hex form of a selector.
func NormalizeSelector(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "0x")
	if len(s) != SelectorLen*2 {
		return "", fmt.Errorf("filter: selector %q must be %d hex characters", s, SelectorLen*2)
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("filter: selector %q is not hex: %w", s, err)
	}
	return s, nil
}

// Check evaluates the rules in order and returns the first failing reason,
// or Accepted. It never panics, whatever the shape of tx.
func (r Rules) Check(tx domain.PendingTx) Reason {
	if tx.To == nil {
		return ReasonMissingTo
	}
	if len(tx.Input) == 0 {
		return ReasonEmptyInput
	}
	if tx.ValueOrZero().Cmp(r.minValue) < 0 {
		return ReasonBelowMinValue
	}
	if !r.IsPool(*tx.To) {
		return ReasonUnknownPool
	}
	if !r.matchSelector(tx.Input) {
		return ReasonUnknownSelector
	}
	return Accepted
}

// Accept reports whether tx passes every rule.
func (r Rules) Accept(tx domain.PendingTx) bool {
	return r.Check(tx) == Accepted
}

// IsPool reports whether addr is one of the two watched pools.
func (r Rules) IsPool(addr common.Address) bool {
	return addr == r.pools[0] || addr == r.pools[1]
}

// Pools returns the watched pool addresses in configuration order.
func (r Rules) Pools() [2]common.Address {
	return r.pools
}

// MinValue returns a copy of the minimum value in wei.
func (r Rules) MinValue() *big.Int {
	return new(big.Int).Set(r.minValue)
}

// matchSelector compares the first four calldata bytes against the selector
// set. Shorter calldata cannot match.
func (r Rules) matchSelector(input []byte) bool {
	if len(input) < SelectorLen {
		return false
	}
	_, ok := r.selectors[hex.EncodeToString(input[:SelectorLen])]
	return ok
}
