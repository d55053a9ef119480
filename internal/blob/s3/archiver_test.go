package s3blob

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cascadebot/internal/domain"
)

type memWriter struct {
	objects map[string][]byte
	order   []string
	putErr  error
}

func newMemWriter() *memWriter {
	return &memWriter{objects: make(map[string][]byte)}
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if w.putErr != nil {
		return w.putErr
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.objects[path] = b
	w.order = append(w.order, path)
	return nil
}

func (w *memWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return w.Put(ctx, path, data, contentTypeGzip)
}

func (w *memWriter) Exists(_ context.Context, path string) (bool, error) {
	_, ok := w.objects[path]
	return ok, nil
}

func (w *memWriter) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for k, v := range w.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, domain.BlobInfo{Path: k, Size: int64(len(v))})
		}
	}
	return out, nil
}

// blindChecker reports every object as missing.
type blindChecker struct{ memWriter }

func (blindChecker) Exists(context.Context, string) (bool, error) { return false, nil }

type memSource struct {
	recs      []domain.SignalRecord
	listCalls int
}

func (s *memSource) ListBefore(_ context.Context, before time.Time, limit int) ([]domain.SignalRecord, error) {
	s.listCalls++
	var out []domain.SignalRecord
	for _, r := range s.recs {
		if r.CreatedAt.Before(before) {
			out = append(out, r)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memSource) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	kept := s.recs[:0]
	var n int64
	for _, r := range s.recs {
		if r.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.recs = kept
	return n, nil
}

func seedSource(base time.Time, stamps ...time.Duration) *memSource {
	src := &memSource{}
	for i, d := range stamps {
		var h common.Hash
		h[31] = byte(i + 1)
		src.recs = append(src.recs, domain.SignalRecord{
			Hash:      h,
			Signal:    "sig",
			Status:    domain.SignalStatusClaimed,
			CreatedAt: base.Add(d),
		})
	}
	sort.Slice(src.recs, func(i, j int) bool { return src.recs[i].CreatedAt.Before(src.recs[j].CreatedAt) })
	return src
}

func decodeObject(t *testing.T, b []byte) []domain.SignalRecord {
	t.Helper()
	zr, err := gzip.NewReader(bytes.NewReader(b))
	require.NoError(t, err)
	defer zr.Close()

	var out []domain.SignalRecord
	sc := bufio.NewScanner(zr)
	for sc.Scan() {
		var rec domain.SignalRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		out = append(out, rec)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestArchiveSignals_MovesRowsBeforeCutoff(t *testing.T) {
	base := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	src := seedSource(base, 0, time.Hour, 2*time.Hour, 48*time.Hour)
	w := newMemWriter()
	a := NewSignalArchiver(w, w, src, 10, slog.Default())

	n, err := a.ArchiveSignals(context.Background(), base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	require.Len(t, w.order, 1)
	key := w.order[0]
	assert.True(t, strings.HasPrefix(key, "signals/2026/03/"), key)
	assert.True(t, strings.HasSuffix(key, ".jsonl.gz"), key)

	got := decodeObject(t, w.objects[key])
	require.Len(t, got, 3)
	assert.Equal(t, byte(1), got[0].Hash[31])
	assert.Equal(t, domain.SignalStatusClaimed, got[0].Status)

	require.Len(t, src.recs, 1)
	assert.Equal(t, base.Add(48*time.Hour), src.recs[0].CreatedAt)
}

func TestListArchives(t *testing.T) {
	w := newMemWriter()
	ctx := context.Background()
	for _, month := range []time.Month{time.April, time.March} {
		src := seedSource(time.Date(2026, month, 2, 0, 0, 0, 0, time.UTC), 0)
		a := NewSignalArchiver(w, w, src, 10, slog.Default())
		_, err := a.ArchiveSignals(ctx, time.Date(2026, month, 3, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
	}
	w.objects["other/2026/03/x.json"] = []byte("{}")

	all, err := ListArchives(ctx, w, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, strings.HasPrefix(all[0].Path, "signals/2026/03/"), all[0].Path)
	assert.True(t, strings.HasPrefix(all[1].Path, "signals/2026/04/"), all[1].Path)

	march, err := ListArchives(ctx, w, 2026, 3)
	require.NoError(t, err)
	require.Len(t, march, 1)
	assert.Positive(t, march[0].Size)

	none, err := ListArchives(ctx, w, 2025, 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = ListArchives(ctx, w, 2026, 13)
	require.Error(t, err)
}

func TestArchivePath(t *testing.T) {
	assert.Equal(t, "signals/", ArchivePath(0, 7))
	assert.Equal(t, "signals/2026/", ArchivePath(2026, 0))
	assert.Equal(t, "signals/2026/05/", ArchivePath(2026, 5))
}

func TestArchiveSignals_Batches(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var stamps []time.Duration
	for i := 0; i < 7; i++ {
		stamps = append(stamps, time.Duration(i)*time.Minute)
	}
	src := seedSource(base, stamps...)
	w := newMemWriter()
	a := NewSignalArchiver(w, w, src, 3, slog.Default())

	n, err := a.ArchiveSignals(context.Background(), base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.Empty(t, src.recs)

	var rows int
	for _, k := range w.order {
		rows += len(decodeObject(t, w.objects[k]))
	}
	assert.Equal(t, 7, rows)
	assert.GreaterOrEqual(t, len(w.order), 3)
}

func TestArchiveSignals_SharedTimestampNotLost(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// Four rows share a timestamp and straddle the first page boundary.
	src := seedSource(base, 0, time.Minute, time.Minute, time.Minute, time.Minute, 2*time.Minute)
	w := newMemWriter()
	a := NewSignalArchiver(w, w, src, 2, slog.Default())

	n, err := a.ArchiveSignals(context.Background(), base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)

	seen := make(map[common.Hash]int)
	for _, k := range w.order {
		for _, r := range decodeObject(t, w.objects[k]) {
			seen[r.Hash]++
		}
	}
	assert.Len(t, seen, 6)
	for h, c := range seen {
		assert.Equal(t, 1, c, "row %s archived %d times", h.Hex(), c)
	}
}

func TestArchiveSignals_Empty(t *testing.T) {
	w := newMemWriter()
	a := NewSignalArchiver(w, w, &memSource{}, 10, slog.Default())

	n, err := a.ArchiveSignals(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.order)
}

func TestArchiveSignals_UploadFailureKeepsRows(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	src := seedSource(base, 0, time.Minute)
	w := newMemWriter()
	w.putErr = errors.New("bucket gone")
	a := NewSignalArchiver(w, w, src, 10, slog.Default())

	_, err := a.ArchiveSignals(context.Background(), base.Add(time.Hour))
	require.Error(t, err)
	assert.Len(t, src.recs, 2)
}

func TestArchiveSignals_MissingObjectKeepsRows(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	src := seedSource(base, 0)
	w := newMemWriter()
	a := NewSignalArchiver(w, &blindChecker{}, src, 10, slog.Default())

	_, err := a.ArchiveSignals(context.Background(), base.Add(time.Hour))
	require.ErrorIs(t, err, ErrArchiveMissing)
	assert.Len(t, src.recs, 1)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("https://minio:9000", false))
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("s3.example.com", true))
	assert.Equal(t, "http://localhost:9000", normaliseEndpoint("localhost:9000", false))
}
