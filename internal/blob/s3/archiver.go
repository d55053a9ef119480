package s3blob

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/cascadebot/internal/domain"
)

const (
	// DefaultBatchSize bounds the rows held in memory per uploaded object.
	DefaultBatchSize = 5000

	// multipartThreshold is the compressed size above which uploads switch
	// to the multipart manager.
	multipartThreshold = 16 * 1024 * 1024

	contentTypeGzip = "application/gzip"

	// ArchivePrefix is the key prefix of every archived ledger object.
	ArchivePrefix = "signals/"
)

// ErrArchiveMissing is returned when an uploaded object cannot be found
// before its rows are deleted.
var ErrArchiveMissing = errors.New("s3blob: archived object not found after upload")

// SignalSource is the part of the signal ledger the archiver reads and
// prunes.
type SignalSource interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.SignalRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// SignalArchiver implements domain.Archiver. Each batch of ledger rows is
// written as one gzip JSONL object under signals/<yyyy>/<mm>/ and only then
// removed from the ledger.
type SignalArchiver struct {
	writer    domain.BlobWriter
	checker   domain.BlobReader
	source    SignalSource
	batchSize int
	logger    *slog.Logger
	newKey    func(time.Time) string
}

var _ domain.Archiver = (*SignalArchiver)(nil)

// NewSignalArchiver creates a SignalArchiver. checker may be nil, in which
// case uploads are not re-checked before rows are deleted.
func NewSignalArchiver(writer domain.BlobWriter, checker domain.BlobReader, source SignalSource, batchSize int, logger *slog.Logger) *SignalArchiver {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &SignalArchiver{
		writer:    writer,
		checker:   checker,
		source:    source,
		batchSize: batchSize,
		logger:    logger,
		newKey:    signalKey,
	}
}

// ArchivePath returns the listing prefix for archived objects. A zero year
// selects every archive and a zero month the whole year.
func ArchivePath(year, month int) string {
	switch {
	case year == 0:
		return ArchivePrefix
	case month == 0:
		return fmt.Sprintf("%s%04d/", ArchivePrefix, year)
	default:
		return fmt.Sprintf("%s%04d/%02d/", ArchivePrefix, year, month)
	}
}

// ListArchives returns the archived objects under ArchivePath(year, month)
// ordered by key, which is chronological down to the month.
func ListArchives(ctx context.Context, r domain.BlobReader, year, month int) ([]domain.BlobInfo, error) {
	if month < 0 || month > 12 {
		return nil, fmt.Errorf("s3blob: month %d out of range", month)
	}
	infos, err := r.List(ctx, ArchivePath(year, month))
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return infos, nil
}

// signalKey returns signals/<yyyy>/<mm>/<uuid>.jsonl.gz for t.
func signalKey(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s%04d/%02d/%s.jsonl.gz", ArchivePrefix, t.Year(), int(t.Month()), uuid.NewString())
}

// ArchiveSignals moves every ledger row created before the cutoff to object
// storage and returns the number of rows removed from the ledger.
func (a *SignalArchiver) ArchiveSignals(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for {
		recs, cutoff, last, err := a.nextBatch(ctx, before)
		if err != nil {
			return total, err
		}
		if len(recs) == 0 {
			return total, nil
		}

		key := a.newKey(recs[0].CreatedAt)
		if err := a.upload(ctx, key, recs); err != nil {
			return total, err
		}

		deleted, err := a.source.DeleteBefore(ctx, cutoff)
		if err != nil {
			return total, fmt.Errorf("s3blob: prune archived signals: %w", err)
		}
		total += deleted
		a.logger.Info("signals archived",
			slog.String("key", key),
			slog.Int("rows", len(recs)),
			slog.Int64("deleted", deleted),
		)

		if last {
			return total, nil
		}
	}
}

// nextBatch returns the oldest rows before the cutoff together with the
// timestamp below which every returned row lies. Rows sharing the newest
// timestamp of a full page are held back so the delete never removes a row
// that was not uploaded. last reports that no rows remain after this batch.
func (a *SignalArchiver) nextBatch(ctx context.Context, before time.Time) ([]domain.SignalRecord, time.Time, bool, error) {
	limit := a.batchSize
	for {
		recs, err := a.source.ListBefore(ctx, before, limit)
		if err != nil {
			return nil, time.Time{}, false, fmt.Errorf("s3blob: list signals before %s: %w", before.Format(time.RFC3339), err)
		}
		if len(recs) < limit {
			return recs, before, true, nil
		}

		edge := recs[len(recs)-1].CreatedAt
		n := len(recs)
		for n > 0 && !recs[n-1].CreatedAt.Before(edge) {
			n--
		}
		if n > 0 {
			return recs[:n], edge, false, nil
		}
		// A whole page shares one timestamp.
		limit *= 2
	}
}

func (a *SignalArchiver) upload(ctx context.Context, key string, recs []domain.SignalRecord) error {
	body, err := encodeJSONL(recs)
	if err != nil {
		return fmt.Errorf("s3blob: encode %s: %w", key, err)
	}

	if body.Len() > multipartThreshold {
		err = a.writer.PutMultipart(ctx, key, body, minPartSize)
	} else {
		err = a.writer.Put(ctx, key, body, contentTypeGzip)
	}
	if err != nil {
		return err
	}

	if a.checker == nil {
		return nil
	}
	ok, err := a.checker.Exists(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrArchiveMissing, key)
	}
	return nil
}

// encodeJSONL writes one JSON object per line through a gzip stream.
func encodeJSONL(recs []domain.SignalRecord) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	enc := json.NewEncoder(zw)
	for i := range recs {
		if err := enc.Encode(&recs[i]); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}
