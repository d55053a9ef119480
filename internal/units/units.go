// Package units converts between wei and the human-readable ether and gwei
// decimal strings used in configuration and signal text.
package units

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	EtherDecimals = 18
	GweiDecimals  = 9
)

// FormatEther renders wei as an ether amount with exactly 18 fractional
// digits, e.g. 10 ether -> "10.000000000000000000". A nil value is zero.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		wei = new(big.Int)
	}
	return decimal.NewFromBigInt(wei, -EtherDecimals).StringFixed(EtherDecimals)
}

// ParseEther converts a decimal ether string ("5", "0.1") to wei.
func ParseEther(s string) (*big.Int, error) {
	return parseUnits(s, EtherDecimals)
}

// ParseGwei converts a decimal gwei string ("0.1") to wei.
func ParseGwei(s string) (*big.Int, error) {
	return parseUnits(s, GweiDecimals)
}

// ParseWei parses a base-10 integer wei amount.
func ParseWei(s string) (*big.Int, error) {
	return parseUnits(s, 0)
}

func parseUnits(s string, decimals int32) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("units: empty amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("units: parse %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("units: negative amount %q", s)
	}
	scaled := d.Shift(decimals)
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("units: %q has more than %d fractional digits", s, decimals)
	}
	return scaled.BigInt(), nil
}
