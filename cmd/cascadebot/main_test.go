package main

import (
	"bytes"
	"context"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cascadebot/internal/config"
	"github.com/alanyoungcy/cascadebot/internal/crypto"
	"github.com/alanyoungcy/cascadebot/internal/domain"
	"github.com/alanyoungcy/cascadebot/internal/signal"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestSignalHash(t *testing.T) {
	out, err := execute(t, "", "signal-hash", "abc")
	require.NoError(t, err)
	assert.Equal(t, signal.Hash("abc").Hex()+"\n", out)
}

func TestEncryptKey_RoundTrip(t *testing.T) {
	const hexKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	t.Setenv(envPrivateKey, "")
	t.Setenv(envKeyPassword, "pw")
	path := filepath.Join(t.TempDir(), "key.json")

	_, err := execute(t, hexKey+"\n", "encrypt-key", "--out", path)
	require.NoError(t, err)

	sealed, err := os.ReadFile(path)
	require.NoError(t, err)
	key, err := crypto.DecryptKey(sealed, "pw")
	require.NoError(t, err)
	want, err := crypto.ParsePrivateKey(hexKey)
	require.NoError(t, err)
	assert.Equal(t, crypto.Address(want), crypto.Address(key))
}

func TestEncryptKey_RequiresPassword(t *testing.T) {
	t.Setenv(envPrivateKey, "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	t.Setenv(envKeyPassword, "")
	_, err := execute(t, "", "encrypt-key", "--out", filepath.Join(t.TempDir(), "k.json"))
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	assert.True(t, newLogger("debug").Enabled(t.Context(), -4))
	assert.False(t, newLogger("warn").Enabled(t.Context(), 0))
	assert.False(t, newLogger("bogus").Enabled(t.Context(), -4))
}

func TestDescribeSignal(t *testing.T) {
	cfg := config.Defaults()
	cfg.Watch.Pool1 = "0x00000000000000000000000000000000000000a1"
	cfg.Watch.Pool2 = "0x00000000000000000000000000000000000000a2"
	cfg.Contract.Address = "0x00000000000000000000000000000000000000cc"

	pool := common.HexToAddress(cfg.Watch.Pool1)
	sixEth := new(big.Int).Mul(big.NewInt(6), big.NewInt(1e18))
	tx := domain.PendingTx{
		Hash:  common.HexToHash("0x01"),
		To:    &pool,
		Input: common.FromHex("0xa9059cbb0000000000000000"),
		Value: sixEth,
	}

	ctx := context.Background()
	var out bytes.Buffer
	require.NoError(t, describeSignal(ctx, &out, &cfg, tx, nil))
	assert.Contains(t, out.String(), "filter:  accepted")
	assert.Contains(t, out.String(), "royalty: large (7 bps)")
	assert.Contains(t, out.String(), "6.000000000000000000")
	assert.Contains(t, out.String(), "seen:    unknown")

	codec, err := cfg.Codec()
	require.NoError(t, err)
	seen := fakeSeen{codec.Build(tx).Hash: true}
	out.Reset()
	require.NoError(t, describeSignal(ctx, &out, &cfg, tx, seen))
	assert.Contains(t, out.String(), "seen:    yes")

	out.Reset()
	require.NoError(t, describeSignal(ctx, &out, &cfg, tx, fakeSeen{}))
	assert.Contains(t, out.String(), "seen:    no")

	tx.Value = big.NewInt(1)
	out.Reset()
	require.NoError(t, describeSignal(ctx, &out, &cfg, tx, seen))
	assert.Contains(t, out.String(), "rejected (below_min_value)")
	assert.NotContains(t, out.String(), "signal:")
}

func TestIsTxHash(t *testing.T) {
	hash := common.HexToHash("0xabc").Hex()
	assert.True(t, isTxHash(hash))
	assert.True(t, isTxHash("0X"+strings.ToUpper(hash[2:])))
	assert.False(t, isTxHash("0x1234"))
	assert.False(t, isTxHash(hash[2:]))
	assert.False(t, isTxHash("0x"+strings.Repeat("g", 64)))
}

type fakeSeen map[common.Hash]bool

func (f fakeSeen) Contains(_ context.Context, hash common.Hash) (bool, error) {
	return f[hash], nil
}

type fakeBucket []domain.BlobInfo

func (b fakeBucket) Exists(context.Context, string) (bool, error) { return false, nil }

func (b fakeBucket) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for _, info := range b {
		if strings.HasPrefix(info.Path, prefix) {
			out = append(out, info)
		}
	}
	return out, nil
}

func TestPrintArchives(t *testing.T) {
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	bucket := fakeBucket{
		{Path: "signals/2026/05/b.jsonl.gz", Size: 20, LastModified: at},
		{Path: "signals/2026/04/a.jsonl.gz", Size: 10, LastModified: at},
	}

	var out bytes.Buffer
	require.NoError(t, printArchives(context.Background(), &out, bucket, 2026, 0))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "signals/2026/04/a.jsonl.gz\t10\t2026-05-01T00:00:00Z"))
	assert.Equal(t, "2 objects, 30 bytes", lines[2])

	out.Reset()
	require.NoError(t, printArchives(context.Background(), &out, bucket, 2026, 5))
	assert.Contains(t, out.String(), "1 objects, 20 bytes")
}

func TestBareInvocationRuns(t *testing.T) {
	require.NotNil(t, rootCmd.RunE)
	_, err := execute(t, "", "--config", filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err, "a bare invocation loads the config like run does")
}
