package adjustments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shelfline/shelfline/internal/platform/db"
)

// Repository owns every write to adjustment records and inventory snapshots.
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, logger *slog.Logger) *Repository {
	return &Repository{pool: pool, logger: logger}
}

const recordColumns = `id, item_ref, quantity_delta, reason, affected_field, status, response_message, created_at`

// Append inserts a PENDING record and applies the delta to the snapshot in
// one transaction. The snapshot update is a single conflict-upsert with the
// clamp computed in SQL; the ON CONFLICT arbitration takes the row lock, so
// concurrent submissions for the same item queue up and both apply.
func (r *Repository) Append(ctx context.Context, in SubmitInput) (Record, error) {
	var rec Record
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO adjustment_records (item_ref, quantity_delta, reason, affected_field, status, created_at)
			VALUES ($1, $2, $3, $4, $5, NOW())
			RETURNING `+recordColumns,
			in.ItemRef, in.QuantityDelta, in.Reason, string(in.AffectedField), string(StatusPending),
		).Scan(&rec.ID, &rec.ItemRef, &rec.QuantityDelta, &rec.Reason, &rec.AffectedField, &rec.Status, nullText{&rec.ResponseMessage}, &rec.CreatedAt)
		if err != nil {
			return fmt.Errorf("adjustments: insert record: %w", classify(err))
		}
		return r.upsertSnapshot(ctx, tx, in.ItemRef, in.AffectedField, in.QuantityDelta)
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (r *Repository) upsertSnapshot(ctx context.Context, tx pgx.Tx, itemRef string, field AffectedField, delta int64) error {
	column, err := quantityColumn(field)
	if err != nil {
		return err
	}

	initial := map[AffectedField]int64{}
	if delta > 0 {
		initial[field] = delta
	}

	query := fmt.Sprintf(`
		INSERT INTO inventory_snapshots (item_ref, location, shelf_lt1_qty, shelf_gt1_qty, top_floor_total, status, created_at, updated_at)
		VALUES ($1, '', $2, $3, $4, 'active', NOW(), NOW())
		ON CONFLICT (item_ref) DO UPDATE
		SET %s = GREATEST(0, inventory_snapshots.%s + $5), updated_at = NOW()`, column, column)

	_, err = tx.Exec(ctx, query,
		itemRef,
		initial[FieldShelfLT1Qty],
		initial[FieldShelfGT1Qty],
		initial[FieldTopFloorTotal],
		delta,
	)
	if err != nil {
		return fmt.Errorf("adjustments: upsert snapshot: %w", classify(err))
	}
	return nil
}

// ListPending returns every record that has not reached SUCCESS, oldest
// first so sync processing stays FIFO-fair.
func (r *Repository) ListPending(ctx context.Context) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM adjustment_records
		WHERE status <> $1
		ORDER BY created_at ASC, id ASC`, string(StatusSuccess))
	if err != nil {
		return nil, fmt.Errorf("adjustments: list pending: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// MarkOutcome transitions a record's status and response message. A record
// already at SUCCESS is left untouched: the attempt is logged as a warning
// and swallowed, which protects against double-processing races.
func (r *Repository) MarkOutcome(ctx context.Context, id int64, status Status, message string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE adjustment_records
		SET status = $2, response_message = $3
		WHERE id = $1 AND status <> $4`,
		id, string(status), message, string(StatusSuccess))
	if err != nil {
		return fmt.Errorf("adjustments: mark outcome: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var current string
	err = r.pool.QueryRow(ctx, `SELECT status FROM adjustment_records WHERE id = $1`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrRecordNotFound
		}
		return fmt.Errorf("adjustments: mark outcome: %w", err)
	}
	if r.logger != nil {
		r.logger.Warn("refused outcome overwrite of terminal record",
			slog.Int64("record_id", id),
			slog.String("current_status", current),
			slog.String("attempted_status", string(status)))
	}
	return nil
}

// ListRecent returns the newest records, optionally filtered by item.
func (r *Repository) ListRecent(ctx context.Context, itemRef string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		rows pgx.Rows
		err  error
	)
	if itemRef != "" {
		rows, err = r.pool.Query(ctx, `
			SELECT `+recordColumns+`
			FROM adjustment_records
			WHERE item_ref = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2`, itemRef, limit)
	} else {
		rows, err = r.pool.Query(ctx, `
			SELECT `+recordColumns+`
			FROM adjustment_records
			ORDER BY created_at DESC, id DESC
			LIMIT $1`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("adjustments: list recent: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Summary aggregates counts and moved quantities per status over a date range.
func (r *Repository) Summary(ctx context.Context, start, end time.Time) (Summary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status,
			COUNT(*),
			COALESCE(SUM(CASE WHEN quantity_delta > 0 THEN quantity_delta ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN quantity_delta < 0 THEN -quantity_delta ELSE 0 END), 0)
		FROM adjustment_records
		WHERE created_at::date BETWEEN $1 AND $2
		GROUP BY status`, start, end)
	if err != nil {
		return Summary{}, fmt.Errorf("adjustments: summary: %w", err)
	}
	defer rows.Close()

	summary := Summary{StatusBreakdown: map[string]SummaryBucket{}, Start: start, End: end}
	for rows.Next() {
		var status string
		var bucket SummaryBucket
		if err := rows.Scan(&status, &bucket.Count, &bucket.TotalIn, &bucket.TotalOut); err != nil {
			return Summary{}, fmt.Errorf("adjustments: summary scan: %w", err)
		}
		summary.StatusBreakdown[status] = bucket
		summary.TotalAdjustments += bucket.Count
	}
	return summary, rows.Err()
}

// GetSnapshot fetches the materialized view row for one item.
func (r *Repository) GetSnapshot(ctx context.Context, itemRef string) (Snapshot, error) {
	var snap Snapshot
	var location, status pgtype.Text
	err := r.pool.QueryRow(ctx, `
		SELECT item_ref, location, shelf_lt1_qty, shelf_gt1_qty, top_floor_total, status, created_at, updated_at
		FROM inventory_snapshots
		WHERE item_ref = $1`, itemRef).
		Scan(&snap.ItemRef, &location, &snap.ShelfLT1Qty, &snap.ShelfGT1Qty, &snap.TopFloorTotal, &status, &snap.CreatedAt, &snap.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snapshot{}, ErrRecordNotFound
		}
		return Snapshot{}, fmt.Errorf("adjustments: get snapshot: %w", err)
	}
	snap.Location = location.String
	snap.Status = status.String
	return snap, nil
}

// MarkCorrupted flags still-pending records whose item_ref carries scanner
// garbage (tabs, newlines, whitespace runs, implausible length) as ERROR so
// they stop clogging the sync queue. Returns the number of records touched.
func (r *Repository) MarkCorrupted(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE adjustment_records
		SET status = $1,
			response_message = 'Corrupted identifier data - contains invalid characters'
		WHERE status <> $2
		AND (
			item_ref LIKE E'%\t%' OR
			item_ref LIKE E'%\n%' OR
			item_ref LIKE E'%\r%' OR
			LENGTH(item_ref) > 50 OR
			item_ref ~ '[[:space:]]{2,}'
		)`, string(StatusError), string(StatusSuccess))
	if err != nil {
		return 0, fmt.Errorf("adjustments: mark corrupted: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanRecords(rows pgx.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.ItemRef, &rec.QuantityDelta, &rec.Reason, &rec.AffectedField, &rec.Status, nullText{&rec.ResponseMessage}, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("adjustments: scan record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func quantityColumn(field AffectedField) (string, error) {
	// The column name is interpolated into SQL; only members of the closed
	// enum pass.
	switch field {
	case FieldShelfLT1Qty, FieldShelfGT1Qty, FieldTopFloorTotal:
		return string(field), nil
	}
	return "", ErrUnknownField
}

// ErrLocalStore marks transaction and constraint failures from the store.
var ErrLocalStore = errors.New("adjustments: local store failure")

// classify folds Postgres integrity violations and transaction rollbacks
// (serialization failures, deadlocks) into ErrLocalStore so callers surface
// them as store failures, not generic errors.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "23", "40":
			return fmt.Errorf("%w: %s", ErrLocalStore, pgErr.Message)
		}
	}
	return err
}

// nullText scans nullable text into a plain string.
type nullText struct {
	dest *string
}

func (n nullText) ScanText(v pgtype.Text) error {
	if v.Valid {
		*n.dest = v.String
	} else {
		*n.dest = ""
	}
	return nil
}
