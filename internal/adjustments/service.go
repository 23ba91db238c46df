package adjustments

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RepositoryPort abstracts the store for the service and the sync coordinator.
type RepositoryPort interface {
	Append(ctx context.Context, in SubmitInput) (Record, error)
	ListPending(ctx context.Context) ([]Record, error)
	MarkOutcome(ctx context.Context, id int64, status Status, message string) error
	ListRecent(ctx context.Context, itemRef string, limit int) ([]Record, error)
	Summary(ctx context.Context, start, end time.Time) (Summary, error)
	GetSnapshot(ctx context.Context, itemRef string) (Snapshot, error)
	MarkCorrupted(ctx context.Context) (int64, error)
}

// Service handles adjustment submission and the reconciliation read surface.
type Service struct {
	repo       RepositoryPort
	logger     *slog.Logger
	itemPrefix string
}

// NewService builds a Service. itemPrefix is the deployment's identifier
// namespace used by the sanitizer.
func NewService(repo RepositoryPort, logger *slog.Logger, itemPrefix string) *Service {
	return &Service{repo: repo, logger: logger, itemPrefix: itemPrefix}
}

// Submit records one stock change: sanitize the identifier, validate the
// input and append record + snapshot delta in one unit. The snapshot update
// happens now, synchronously, regardless of whether the remote sync ever
// runs — it is the real-time local truth for what sits on the shelf.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (Record, Snapshot, error) {
	itemRef, err := SanitizeItemRef(in.ItemRef, s.itemPrefix)
	if err != nil {
		return Record{}, Snapshot{}, err
	}
	in.ItemRef = itemRef
	if err := in.Validate(); err != nil {
		return Record{}, Snapshot{}, err
	}

	rec, err := s.repo.Append(ctx, in)
	if err != nil {
		return Record{}, Snapshot{}, err
	}
	if s.logger != nil {
		s.logger.Info("adjustment recorded",
			slog.Int64("record_id", rec.ID),
			slog.String("item_ref", rec.ItemRef),
			slog.String("field", string(rec.AffectedField)),
			slog.Int64("delta", rec.QuantityDelta))
	}

	snap, err := s.repo.GetSnapshot(ctx, rec.ItemRef)
	if err != nil {
		// The write committed; a failed read-back only degrades the response.
		if s.logger != nil {
			s.logger.Warn("snapshot read-back failed", slog.String("item_ref", rec.ItemRef), slog.Any("error", err))
		}
		return rec, Snapshot{ItemRef: rec.ItemRef}, nil
	}
	return rec, snap, nil
}

// Pending lists every record awaiting sync, oldest first.
func (s *Service) Pending(ctx context.Context) ([]Record, error) {
	return s.repo.ListPending(ctx)
}

// Recent lists the newest records with an optional item filter.
func (s *Service) Recent(ctx context.Context, itemRef string, limit int) ([]Record, error) {
	return s.repo.ListRecent(ctx, itemRef, limit)
}

// History lists the adjustment trail for one item.
func (s *Service) History(ctx context.Context, itemRef string, limit int) ([]Record, error) {
	if itemRef == "" {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidIdentifier)
	}
	if limit <= 0 {
		limit = 20
	}
	return s.repo.ListRecent(ctx, itemRef, limit)
}

// SummaryRange aggregates adjustments over a date range, defaulting to the
// last 30 days when unset.
func (s *Service) SummaryRange(ctx context.Context, start, end time.Time) (Summary, error) {
	if start.IsZero() || end.IsZero() {
		end = time.Now()
		start = end.AddDate(0, 0, -30)
	}
	return s.repo.Summary(ctx, start, end)
}

// Status assembles the sync queue overview: pending count plus recent
// success/failure statistics.
func (s *Service) Status(ctx context.Context) (SyncStatus, error) {
	pending, err := s.repo.ListPending(ctx)
	if err != nil {
		return SyncStatus{}, err
	}
	recent, err := s.repo.ListRecent(ctx, "", 100)
	if err != nil {
		return SyncStatus{}, err
	}

	status := SyncStatus{PendingCount: len(pending), TotalRecent: len(recent)}
	for _, rec := range recent {
		switch rec.Status {
		case StatusSuccess:
			status.RecentSuccessful++
		case StatusError:
			status.RecentFailed++
		}
	}
	if len(pending) > 10 {
		pending = pending[:10]
	}
	status.PendingItems = pending
	status.Message = fmt.Sprintf("%d adjustments awaiting sync, %d recent successes, %d recent failures",
		status.PendingCount, status.RecentSuccessful, status.RecentFailed)
	return status, nil
}

// CleanCorrupted marks pending records with garbled identifiers as ERROR.
func (s *Service) CleanCorrupted(ctx context.Context) (int64, error) {
	count, err := s.repo.MarkCorrupted(ctx)
	if err != nil {
		return 0, err
	}
	if s.logger != nil && count > 0 {
		s.logger.Info("marked corrupted adjustments as failed", slog.Int64("count", count))
	}
	return count, nil
}

// SnapshotFor exposes the materialized view row for one item.
func (s *Service) SnapshotFor(ctx context.Context, itemRef string) (Snapshot, error) {
	return s.repo.GetSnapshot(ctx, itemRef)
}
