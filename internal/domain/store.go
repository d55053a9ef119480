package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// SignalUpdate describes a status transition of a ledger row.
type SignalUpdate struct {
	Status    SignalStatus
	CascadeTx *common.Hash
	ClaimTx   *common.Hash
	Error     string
}

// SignalStore persists the signal ledger.
type SignalStore interface {
	Insert(ctx context.Context, rec SignalRecord) error
	Update(ctx context.Context, hash common.Hash, upd SignalUpdate) error
	Get(ctx context.Context, hash common.Hash) (SignalRecord, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]SignalRecord, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]SignalRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
