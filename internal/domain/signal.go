package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Signal is the canonical identity of a qualifying transaction. Hash is the
// Keccak-256 digest of Text and is the only value used for deduplication.
type Signal struct {
	Text string
	Hash common.Hash
}

// EventKind names a step of the dispatch sequence.
type EventKind string

const (
	EventSignalNovel    EventKind = "signal_novel"
	EventCascadeEmitted EventKind = "cascade_emitted"
	EventYieldClaimed   EventKind = "yield_claimed"
	EventCallFailed     EventKind = "call_failed"
)

// DispatchEvent is emitted by the dispatcher for every novel signal and every
// contract call it makes on behalf of that signal.
type DispatchEvent struct {
	ID         string         `json:"id"`
	Kind       EventKind      `json:"kind"`
	SignalHash common.Hash    `json:"signal_hash"`
	Signal     string         `json:"signal"`
	TxHash     common.Hash    `json:"tx_hash"`
	Pool       common.Address `json:"pool"`
	RoyaltyBps uint64         `json:"royalty_bps"`
	Method     string         `json:"method,omitempty"`
	CallTx     *common.Hash   `json:"call_tx,omitempty"`
	Error      string         `json:"error,omitempty"`
	At         time.Time      `json:"at"`
}

// SignalStatus is the ledger status of a dispatched signal.
type SignalStatus string

const (
	SignalStatusNovel    SignalStatus = "novel"
	SignalStatusCascaded SignalStatus = "cascaded"
	SignalStatusClaimed  SignalStatus = "claimed"
	SignalStatusFailed   SignalStatus = "failed"
)

// SignalRecord is a persisted ledger row for one novel signal.
type SignalRecord struct {
	Hash       common.Hash    `json:"hash"`
	Signal     string         `json:"signal"`
	TxHash     common.Hash    `json:"tx_hash"`
	Pool       common.Address `json:"pool"`
	RoyaltyBps uint64         `json:"royalty_bps"`
	Status     SignalStatus   `json:"status"`
	CascadeTx  *common.Hash   `json:"cascade_tx,omitempty"`
	ClaimTx    *common.Hash   `json:"claim_tx,omitempty"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}
