package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SeenSet records signal hashes. InsertIfAbsent reports true exactly once per
// hash, no matter how many callers race on it.
type SeenSet interface {
	InsertIfAbsent(ctx context.Context, hash common.Hash) (bool, error)
}

// SignalBus provides pub/sub for dispatch events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// EventLog keeps a bounded, ordered history of recent dispatch events.
type EventLog interface {
	Append(ctx context.Context, payload []byte) error
	Recent(ctx context.Context, n int) ([][]byte, error)
}

// LockManager provides distributed locks so that periodic jobs run on one
// instance at a time.
type LockManager interface {
	// Acquire returns an unlock function, or ErrLockHeld.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
