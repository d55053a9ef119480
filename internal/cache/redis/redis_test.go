package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cascadebot/internal/domain"
)

// These tests talk to a real server and are skipped unless
// CASCADEBOT_TEST_REDIS_ADDR is set.
func testClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("CASCADEBOT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CASCADEBOT_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := New(ctx, ClientConfig{Addr: addr, PoolSize: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testPrefix() string {
	return "cascadebot:test:" + uuid.New().String() + ":"
}

func TestSeenSetInsertIfAbsent(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	a := NewSeenSet(c, testPrefix())
	b := NewSeenSet(c, a.prefix)
	h := common.HexToHash("0xabc")

	ok, err := a.InsertIfAbsent(ctx, h)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.InsertIfAbsent(ctx, h)
	require.NoError(t, err)
	assert.False(t, ok, "a second instance sees the same set")

	seen, err := b.Contains(ctx, h)
	require.NoError(t, err)
	assert.True(t, seen)

	t.Cleanup(func() { c.Underlying().Del(context.Background(), a.key(h)) })
}

func TestEventLogRecent(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	stream := testPrefix() + "events"
	l := NewEventLog(c, stream)
	t.Cleanup(func() { c.Underlying().Del(context.Background(), stream) })

	for _, p := range []string{"one", "two", "three"} {
		require.NoError(t, l.Append(ctx, []byte(p)))
	}
	got, err := l.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("two"), []byte("three")}, got)
}

func TestSignalBusRoundTrip(t *testing.T) {
	c := testClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	channel := testPrefix() + "bus"
	bus := NewSignalBus(c)

	ch, err := bus.Subscribe(ctx, channel)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, channel, []byte(`{"kind":"signal_novel"}`)))

	select {
	case msg := <-ch:
		assert.JSONEq(t, `{"kind":"signal_novel"}`, string(msg))
	case <-ctx.Done():
		t.Fatal("no message received")
	}
}

func TestLockManager(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	lm := NewLockManager(c, testPrefix())

	unlock, err := lm.Acquire(ctx, "archive", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "archive", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()
	again, err := lm.Acquire(ctx, "archive", time.Minute)
	require.NoError(t, err)
	again()
}

func TestHasPattern(t *testing.T) {
	assert.False(t, hasPattern("cascadebot:events"))
	assert.True(t, hasPattern("cascadebot:*"))
	assert.True(t, hasPattern("cascadebot:event?"))
}
