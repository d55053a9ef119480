// Package signal builds the canonical signal text for a qualifying
// transaction and derives its Keccak-256 hash.
//
// Layout, pipe-separated, fixed order:
//
//	pool2|to|value_ether|input_prefix|tx_hash|from[|gas|gas_price|max_fee|max_priority_fee]
//
// The bracketed fields are only present in the extended field set.
package signal

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/cascadebot/internal/domain"
	"github.com/alanyoungcy/cascadebot/internal/units"
)

// PrefixLen is the number of calldata hex characters carried in a signal.
const PrefixLen = 20

const sep = "|"

// FieldSet selects which transaction identity fields form the signal.
type FieldSet string

const (
	// FieldsCore includes the transaction hash and sender.
	FieldsCore FieldSet = "core"
	// FieldsExtended additionally includes gas limit and fee parameters.
	FieldsExtended FieldSet = "extended"
)

// ParseFieldSet validates a configured field set name.
func ParseFieldSet(s string) (FieldSet, error) {
	switch FieldSet(strings.ToLower(strings.TrimSpace(s))) {
	case FieldsCore, "":
		return FieldsCore, nil
	case FieldsExtended:
		return FieldsExtended, nil
	default:
		return "", fmt.Errorf("signal: unknown field set %q (valid: core, extended)", s)
	}
}

// Codec is immutable and safe for concurrent use.
type Codec struct {
	pool2  string
	fields FieldSet
}

// NewCodec creates a Codec that stamps every signal with the second pool
// address.
func NewCodec(pool2 common.Address, fields FieldSet) *Codec {
	if fields == "" {
		fields = FieldsCore
	}
	return &Codec{pool2: FormatAddress(pool2), fields: fields}
}

// Fields returns the configured field set.
func (c *Codec) Fields() FieldSet {
	return c.fields
}

// Text returns the canonical signal string for tx.
func (c *Codec) Text(tx domain.PendingTx) string {
	var to common.Address
	if tx.To != nil {
		to = *tx.To
	}
	var from common.Address
	if tx.From != nil {
		from = *tx.From
	}

	parts := []string{
		c.pool2,
		FormatAddress(to),
		units.FormatEther(tx.Value),
		InputPrefix(tx.Input),
		strings.ToLower(tx.Hash.Hex()),
		FormatAddress(from),
	}
	if c.fields == FieldsExtended {
		parts = append(parts,
			strconv.FormatUint(tx.Gas, 10),
			formatInt(tx.GasPrice),
			formatInt(tx.MaxFeePerGas),
			formatInt(tx.MaxPriorityFeePerGas),
		)
	}
	return strings.Join(parts, sep)
}

// Build returns the signal text together with its hash.
func (c *Codec) Build(tx domain.PendingTx) domain.Signal {
	text := c.Text(tx)
	return domain.Signal{Text: text, Hash: Hash(text)}
}

// Hash is Keccak-256 over the UTF-8 bytes of text.
func Hash(text string) common.Hash {
	return ethcrypto.Keccak256Hash([]byte(text))
}

// FormatAddress renders addr as 0x followed by 40 lowercase hex characters.
func FormatAddress(addr common.Address) string {
	return "0x" + hex.EncodeToString(addr.Bytes())
}

// InputPrefix returns the first PrefixLen hex characters of input. Calldata
// shorter than that contributes all of its hex, unpadded, so distinct short
// payloads never collide.
func InputPrefix(input []byte) string {
	n := PrefixLen / 2
	if len(input) < n {
		n = len(input)
	}
	return hex.EncodeToString(input[:n])
}

func formatInt(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
