package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/cascadebot/internal/domain"
)

// DefaultSeenPrefix namespaces seen-set keys.
const DefaultSeenPrefix = "cascadebot:seen:"

// SeenSet records signal hashes as individual keys written with SETNX, so
// exactly one caller across every process sharing the Redis database sees a
// given hash as new. Keys never expire.
type SeenSet struct {
	rdb    *redis.Client
	prefix string
}

// NewSeenSet creates a SeenSet. An empty prefix uses DefaultSeenPrefix.
func NewSeenSet(c *Client, prefix string) *SeenSet {
	if prefix == "" {
		prefix = DefaultSeenPrefix
	}
	return &SeenSet{rdb: c.Underlying(), prefix: prefix}
}

func (s *SeenSet) key(hash common.Hash) string {
	return s.prefix + hash.Hex()
}

// InsertIfAbsent implements domain.SeenSet. The stored value is the unix
// time of first sight.
func (s *SeenSet) InsertIfAbsent(ctx context.Context, hash common.Hash) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, s.key(hash), strconv.FormatInt(time.Now().Unix(), 10), 0).Result()
	if err != nil {
		return false, fmt.Errorf("redis: seen %s: %w", hash.Hex(), err)
	}
	return ok, nil
}

// Contains reports whether hash has been recorded.
func (s *SeenSet) Contains(ctx context.Context, hash common.Hash) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.key(hash)).Result()
	if err != nil {
		return false, fmt.Errorf("redis: exists %s: %w", hash.Hex(), err)
	}
	return n > 0, nil
}

var _ domain.SeenSet = (*SeenSet)(nil)
