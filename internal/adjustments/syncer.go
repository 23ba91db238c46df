package adjustments

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/shelfline/shelfline/internal/ledger"
)

// LedgerPort abstracts the remote inventory client for the coordinator.
type LedgerPort interface {
	GetItemStock(ctx context.Context, itemRef string) (ledger.ItemStock, error)
	CreateAdjustment(ctx context.Context, req ledger.AdjustmentRequest) error
}

// Lease guards a sync run against overlapping instances across processes.
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// MetricsPort records sync observability counters.
type MetricsPort interface {
	ObserveSyncRecord(outcome string)
	ObserveSyncRun()
}

// Syncer drains unsynced records and reconciles them against the remote
// ledger, strictly sequentially: ordering and rate-limit respect are worth
// more than throughput at scanner-driven volumes.
type Syncer struct {
	repo    RepositoryPort
	remote  LedgerPort
	lease   Lease
	metrics MetricsPort
	logger  *slog.Logger
	group   singleflight.Group
	now     func() time.Time
}

// NewSyncer constructs a Syncer. lease and metrics may be nil.
func NewSyncer(repo RepositoryPort, remote LedgerPort, lease Lease, metrics MetricsPort, logger *slog.Logger) *Syncer {
	return &Syncer{repo: repo, remote: remote, lease: lease, metrics: metrics, logger: logger, now: time.Now}
}

// Sync processes every pending record once. Concurrent in-process callers
// collapse onto a single run and share its result; across processes the
// lease refuses overlap with ErrSyncInProgress.
func (s *Syncer) Sync(ctx context.Context) (SyncResult, error) {
	v, err, _ := s.group.Do("sync", func() (any, error) {
		return s.run(ctx)
	})
	if err != nil {
		return SyncResult{}, err
	}
	return v.(SyncResult), nil
}

func (s *Syncer) run(ctx context.Context) (SyncResult, error) {
	if s.lease != nil {
		ok, err := s.lease.Acquire(ctx)
		if err != nil {
			return SyncResult{}, fmt.Errorf("adjustments: acquire sync lease: %w", err)
		}
		if !ok {
			return SyncResult{}, ErrSyncInProgress
		}
		defer func() {
			if err := s.lease.Release(context.WithoutCancel(ctx)); err != nil && s.logger != nil {
				s.logger.Warn("release sync lease", slog.Any("error", err))
			}
		}()
	}

	result := SyncResult{RunID: uuid.NewString()}

	pending, err := s.repo.ListPending(ctx)
	if err != nil {
		return SyncResult{}, err
	}

	for _, rec := range pending {
		if ctx.Err() != nil {
			break
		}
		if s.process(ctx, rec) {
			result.SuccessCount++
			s.observe("success")
		} else {
			result.ErrorCount++
			s.observe("error")
		}
	}

	result.Message = fmt.Sprintf("sync completed: %d successful, %d failed", result.SuccessCount, result.ErrorCount)
	if s.metrics != nil {
		s.metrics.ObserveSyncRun()
	}
	if s.logger != nil {
		s.logger.Info("sync run finished",
			slog.String("run_id", result.RunID),
			slog.Int("success", result.SuccessCount),
			slog.Int("errors", result.ErrorCount))
	}
	return result, nil
}

// process reconciles one record and records its outcome. A failure never
// aborts the batch; it is marked on the record and the run moves on.
func (s *Syncer) process(ctx context.Context, rec Record) bool {
	stock, err := s.remote.GetItemStock(ctx, rec.ItemRef)
	if err != nil {
		s.mark(ctx, rec.ID, StatusError, fmt.Sprintf("fetching item failed: %v", err))
		return false
	}

	// The record's delta already expresses the intended physical change;
	// this is a relative adjustment, never a resync to an absolute level.
	target := stock.AvailableStock + float64(rec.QuantityDelta)

	err = s.remote.CreateAdjustment(ctx, ledger.AdjustmentRequest{
		Date:             s.now().Format("2006-01-02"),
		Reason:           rec.Reason,
		ItemID:           rec.ItemRef,
		QuantityAdjusted: rec.QuantityDelta,
	})
	if err != nil {
		s.mark(ctx, rec.ID, StatusError, fmt.Sprintf("adjustment failed: %v", err))
		return false
	}

	s.mark(ctx, rec.ID, StatusSuccess, fmt.Sprintf("adjusted by %d; resulting remote stock %s", rec.QuantityDelta, formatStock(target)))
	return true
}

func (s *Syncer) mark(ctx context.Context, id int64, status Status, message string) {
	if err := s.repo.MarkOutcome(ctx, id, status, message); err != nil && s.logger != nil {
		// The remote call may have succeeded while this update failed; the
		// record stays pending and the next run resends the delta. Known
		// at-least-once gap.
		s.logger.Error("mark outcome failed",
			slog.Int64("record_id", id),
			slog.String("status", string(status)),
			slog.Any("error", err))
	}
}

func (s *Syncer) observe(outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveSyncRecord(outcome)
	}
}

func formatStock(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.2f", v)
}
