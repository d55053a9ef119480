package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/cascadebot/internal/domain"
)

// SignalStore implements domain.SignalStore using PostgreSQL.
type SignalStore struct {
	pool *pgxpool.Pool
}

// NewSignalStore creates a new SignalStore backed by the given connection pool.
func NewSignalStore(pool *pgxpool.Pool) *SignalStore {
	return &SignalStore{pool: pool}
}

const signalSelectCols = `hash, signal, tx_hash, pool, royalty_bps, status,
	cascade_tx, claim_tx, error, created_at, updated_at`

// Insert records a novel signal. Re-inserting an existing hash is a no-op,
// so a restart that replays a signal never clobbers its recorded outcome.
func (s *SignalStore) Insert(ctx context.Context, rec domain.SignalRecord) error {
	const query = `
		INSERT INTO signals (hash, signal, tx_hash, pool, royalty_bps, status, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (hash) DO NOTHING`

	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	status := rec.Status
	if status == "" {
		status = domain.SignalStatusNovel
	}
	_, err := s.pool.Exec(ctx, query,
		rec.Hash.Hex(), rec.Signal, rec.TxHash.Hex(), rec.Pool.Hex(),
		int64(rec.RoyaltyBps), string(status), rec.Error, created,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert signal %s: %w", rec.Hash.Hex(), err)
	}
	return nil
}

// Update moves a signal to a new status. Call hashes that are nil in upd
// leave the stored value unchanged.
func (s *SignalStore) Update(ctx context.Context, hash common.Hash, upd domain.SignalUpdate) error {
	const query = `
		UPDATE signals
		SET status = $2,
		    cascade_tx = COALESCE($3, cascade_tx),
		    claim_tx = COALESCE($4, claim_tx),
		    error = $5,
		    updated_at = NOW()
		WHERE hash = $1`

	tag, err := s.pool.Exec(ctx, query,
		hash.Hex(), string(upd.Status), hexOrNil(upd.CascadeTx), hexOrNil(upd.ClaimTx), upd.Error,
	)
	if err != nil {
		return fmt.Errorf("postgres: update signal %s: %w", hash.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update signal %s: %w", hash.Hex(), domain.ErrNotFound)
	}
	return nil
}

// Get returns a single ledger row.
func (s *SignalStore) Get(ctx context.Context, hash common.Hash) (domain.SignalRecord, error) {
	query := `SELECT ` + signalSelectCols + ` FROM signals WHERE hash = $1`
	rows, err := s.pool.Query(ctx, query, hash.Hex())
	if err != nil {
		return domain.SignalRecord{}, fmt.Errorf("postgres: get signal %s: %w", hash.Hex(), err)
	}
	recs, err := scanSignalRows(rows)
	if err != nil {
		return domain.SignalRecord{}, fmt.Errorf("postgres: get signal %s: %w", hash.Hex(), err)
	}
	if len(recs) == 0 {
		return domain.SignalRecord{}, domain.ErrNotFound
	}
	return recs[0], nil
}

// ListRecent returns rows newest first.
func (s *SignalStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.SignalRecord, error) {
	query := `SELECT ` + signalSelectCols + ` FROM signals WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list signals: %w", err)
	}
	recs, err := scanSignalRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list signals: %w", err)
	}
	return recs, nil
}

// ListBefore returns up to limit rows created before the cutoff, oldest
// first.
func (s *SignalStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.SignalRecord, error) {
	query := `SELECT ` + signalSelectCols + ` FROM signals WHERE created_at < $1 ORDER BY created_at ASC LIMIT $2`
	rows, err := s.pool.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list signals before %s: %w", before.Format(time.RFC3339), err)
	}
	recs, err := scanSignalRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list signals before: %w", err)
	}
	return recs, nil
}

// DeleteBefore removes rows created before the cutoff.
func (s *SignalStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM signals WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete signals before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func scanSignalRows(rows pgx.Rows) ([]domain.SignalRecord, error) {
	defer rows.Close()

	var recs []domain.SignalRecord
	for rows.Next() {
		var (
			r                  domain.SignalRecord
			hash, txHash, pool string
			status             string
			bps                int64
			cascadeTx, claimTx *string
		)
		if err := rows.Scan(
			&hash, &r.Signal, &txHash, &pool, &bps, &status,
			&cascadeTx, &claimTx, &r.Error, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, err
		}
		r.Hash = common.HexToHash(hash)
		r.TxHash = common.HexToHash(txHash)
		r.Pool = common.HexToAddress(pool)
		r.RoyaltyBps = uint64(bps)
		r.Status = domain.SignalStatus(status)
		r.CascadeTx = hashOrNil(cascadeTx)
		r.ClaimTx = hashOrNil(claimTx)
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func hexOrNil(h *common.Hash) *string {
	if h == nil {
		return nil
	}
	s := h.Hex()
	return &s
}

func hashOrNil(s *string) *common.Hash {
	if s == nil || *s == "" {
		return nil
	}
	h := common.HexToHash(*s)
	return &h
}

var _ domain.SignalStore = (*SignalStore)(nil)
