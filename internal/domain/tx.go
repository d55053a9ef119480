// Package domain holds the core value types and collaborator interfaces shared
// by the watcher, the dispatcher and the infrastructure adapters.
package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PendingTx is a read-only snapshot of a transaction proposed to the network.
// Optional fields are nil when the provider did not report them.
type PendingTx struct {
	Hash                 common.Hash
	To                   *common.Address
	From                 *common.Address
	Input                []byte
	Value                *big.Int
	Gas                  uint64
	GasPrice             *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// ValueOrZero returns the transaction value, treating a missing value as zero.
func (tx PendingTx) ValueOrZero() *big.Int {
	if tx.Value == nil {
		return new(big.Int)
	}
	return tx.Value
}
