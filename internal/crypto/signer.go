package crypto

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TxSigner signs transactions for a single wallet on a single chain.
type TxSigner struct {
	key    *ecdsa.PrivateKey
	from   common.Address
	signer types.Signer
}

// NewTxSigner binds key to chainID using the latest signer rules, so legacy,
// access-list and dynamic-fee transactions are all accepted.
func NewTxSigner(key *ecdsa.PrivateKey, chainID *big.Int) *TxSigner {
	return &TxSigner{
		key:    key,
		from:   Address(key),
		signer: types.LatestSignerForChainID(chainID),
	}
}

// From is the signing account.
func (s *TxSigner) From() common.Address { return s.from }

// Signer exposes the underlying chain signer for sender recovery.
func (s *TxSigner) Signer() types.Signer { return s.signer }

// Sign returns a signed copy of tx.
func (s *TxSigner) Sign(tx *types.Transaction) (*types.Transaction, error) {
	return types.SignTx(tx, s.signer, s.key)
}
