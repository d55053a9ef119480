package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Subscription is a live stream of notifications. Err delivers at most one
// value when the stream terminates.
type Subscription interface {
	Unsubscribe()
	Err() <-chan error
}

// PendingSource streams hashes of transactions entering the pending pool.
type PendingSource interface {
	Subscribe(ctx context.Context, ch chan<- common.Hash) (Subscription, error)
}

// TxLookup resolves a transaction hash to its full content. It returns
// ErrNotFound when the transaction is no longer known to the node.
type TxLookup interface {
	PendingTx(ctx context.Context, hash common.Hash) (PendingTx, error)
}

// Submission is a handle to a submitted contract call.
type Submission interface {
	TxHash() common.Hash
	// Wait blocks until the call is confirmed or fails.
	Wait(ctx context.Context) error
}

// ContractInvoker submits state-changing calls to the notification contract.
type ContractInvoker interface {
	Invoke(ctx context.Context, method string, gasPrice *big.Int, args ...any) (Submission, error)
}
