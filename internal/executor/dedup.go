package executor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/cascadebot/internal/domain"
)

// MemorySeenSet is the process-lifetime set of signal hashes. Entries are
// never evicted. It is safe for concurrent use.
type MemorySeenSet struct {
	mu   sync.Mutex
	seen map[common.Hash]struct{}
}

// NewMemorySeenSet creates an empty set.
func NewMemorySeenSet() *MemorySeenSet {
	return &MemorySeenSet{seen: make(map[common.Hash]struct{})}
}

// Insert records hash and reports true if it was not already present.
func (s *MemorySeenSet) Insert(hash common.Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[hash]; ok {
		return false
	}
	s.seen[hash] = struct{}{}
	return true
}

// InsertIfAbsent implements domain.SeenSet. It never fails.
func (s *MemorySeenSet) InsertIfAbsent(_ context.Context, hash common.Hash) (bool, error) {
	return s.Insert(hash), nil
}

// Len returns the number of recorded hashes.
func (s *MemorySeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// LayeredSeenSet consults the in-process set first and then a shared backend
// (Redis) so that restarts and sibling instances see the same signals. A
// hash is novel only if both layers report it as new. When the shared layer
// errors the hash is treated as seen: a signal is never dispatched unless its
// uniqueness is established.
type LayeredSeenSet struct {
	local  *MemorySeenSet
	shared domain.SeenSet
	logger *slog.Logger
}

// NewLayeredSeenSet stacks local in front of shared.
func NewLayeredSeenSet(local *MemorySeenSet, shared domain.SeenSet, logger *slog.Logger) *LayeredSeenSet {
	return &LayeredSeenSet{
		local:  local,
		shared: shared,
		logger: logger.With(slog.String("component", "seen_set")),
	}
}

// InsertIfAbsent implements domain.SeenSet.
func (s *LayeredSeenSet) InsertIfAbsent(ctx context.Context, hash common.Hash) (bool, error) {
	if !s.local.Insert(hash) {
		return false, nil
	}
	novel, err := s.shared.InsertIfAbsent(ctx, hash)
	if err != nil {
		s.logger.WarnContext(ctx, "shared seen-set unavailable, treating signal as seen",
			slog.String("signal_hash", hash.Hex()),
			slog.String("error", err.Error()),
		)
		return false, err
	}
	return novel, nil
}

var (
	_ domain.SeenSet = (*MemorySeenSet)(nil)
	_ domain.SeenSet = (*LayeredSeenSet)(nil)
)
