package chain

import (
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/cascadebot/internal/domain"
)

// FromTransaction snapshots tx. From is left nil when the sender cannot be
// recovered with signer. Legacy and access-list transactions carry GasPrice;
// later types carry the fee caps instead.
func FromTransaction(tx *types.Transaction, signer types.Signer) domain.PendingTx {
	p := domain.PendingTx{
		Hash:  tx.Hash(),
		To:    tx.To(),
		Input: tx.Data(),
		Value: tx.Value(),
		Gas:   tx.Gas(),
	}
	if from, err := types.Sender(signer, tx); err == nil {
		p.From = &from
	}

	switch tx.Type() {
	case types.LegacyTxType, types.AccessListTxType:
		p.GasPrice = tx.GasPrice()
	default:
		p.MaxFeePerGas = tx.GasFeeCap()
		p.MaxPriorityFeePerGas = tx.GasTipCap()
	}
	return p
}
