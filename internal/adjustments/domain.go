// Package adjustments implements the inventory adjustment synchronization
// engine: local append-only adjustment records, an immediately-updated
// snapshot of where stock physically sits, and asynchronous reconciliation
// against the remote ledger.
package adjustments

import (
	"errors"
	"strings"
	"time"
)

// Status enumerates the sync lifecycle of an adjustment record.
// SUCCESS is terminal; ERROR records re-enter the pending set and are
// retried on the next sync run.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusError   Status = "ERROR"
)

// AffectedField enumerates the snapshot quantity buckets an adjustment can
// target. The set is closed; unknown values are rejected at the boundary.
type AffectedField string

const (
	FieldShelfLT1Qty   AffectedField = "shelf_lt1_qty"
	FieldShelfGT1Qty   AffectedField = "shelf_gt1_qty"
	FieldTopFloorTotal AffectedField = "top_floor_total"
)

// AffectedFields lists every valid field value.
func AffectedFields() []AffectedField {
	return []AffectedField{FieldShelfLT1Qty, FieldShelfGT1Qty, FieldTopFloorTotal}
}

// Valid reports whether the field belongs to the closed set.
func (f AffectedField) Valid() bool {
	switch f {
	case FieldShelfLT1Qty, FieldShelfGT1Qty, FieldTopFloorTotal:
		return true
	}
	return false
}

// Record is one submitted stock change. QuantityDelta is never mutated after
// creation; corrections are new records.
type Record struct {
	ID              int64         `json:"id"`
	ItemRef         string        `json:"item_ref"`
	QuantityDelta   int64         `json:"quantity_delta"`
	Reason          string        `json:"reason"`
	AffectedField   AffectedField `json:"affected_field"`
	Status          Status        `json:"status"`
	ResponseMessage string        `json:"response_message,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

// Snapshot is the local materialized view for one item: a cache of where
// stock physically sits, not authoritative for total stock.
type Snapshot struct {
	ItemRef       string    `json:"item_ref"`
	Location      string    `json:"location"`
	ShelfLT1Qty   int64     `json:"shelf_lt1_qty"`
	ShelfGT1Qty   int64     `json:"shelf_gt1_qty"`
	TopFloorTotal int64     `json:"top_floor_total"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SubmitInput captures one adjustment submission. ItemRef holds the raw scan
// input before sanitization.
type SubmitInput struct {
	ItemRef       string
	QuantityDelta int64
	Reason        string
	AffectedField AffectedField
}

// Validate ensures correctness before any write happens.
func (in SubmitInput) Validate() error {
	if in.QuantityDelta == 0 {
		return ErrZeroQuantity
	}
	if strings.TrimSpace(in.Reason) == "" {
		return ErrReasonRequired
	}
	if !in.AffectedField.Valid() {
		return ErrUnknownField
	}
	return nil
}

// SyncResult summarises one sync run.
type SyncResult struct {
	RunID        string `json:"run_id"`
	SuccessCount int    `json:"success_count"`
	ErrorCount   int    `json:"error_count"`
	Message      string `json:"message"`
}

// SummaryBucket aggregates record counts and moved quantities per status.
type SummaryBucket struct {
	Count    int64 `json:"count"`
	TotalIn  int64 `json:"total_in"`
	TotalOut int64 `json:"total_out"`
}

// Summary aggregates adjustments over a date range.
type Summary struct {
	TotalAdjustments int64                    `json:"total_adjustments"`
	StatusBreakdown  map[string]SummaryBucket `json:"status_breakdown"`
	Start            time.Time                `json:"start"`
	End              time.Time                `json:"end"`
}

// SyncStatus is the observability overview of the pending queue.
type SyncStatus struct {
	PendingCount     int      `json:"pending_count"`
	RecentSuccessful int      `json:"recent_successful"`
	RecentFailed     int      `json:"recent_failed"`
	TotalRecent      int      `json:"total_recent"`
	PendingItems     []Record `json:"pending_items"`
	Message          string   `json:"message"`
}

var (
	// ErrInvalidIdentifier indicates the raw scan input contained no valid
	// remote item identifier.
	ErrInvalidIdentifier = errors.New("adjustments: invalid item identifier")
	// ErrZeroQuantity indicates a zero delta, which expresses no change.
	ErrZeroQuantity = errors.New("adjustments: quantity delta cannot be zero")
	// ErrReasonRequired indicates a missing reason.
	ErrReasonRequired = errors.New("adjustments: reason required")
	// ErrUnknownField indicates a field outside the closed set.
	ErrUnknownField = errors.New("adjustments: unknown affected field")
	// ErrRecordNotFound indicates a missing adjustment record.
	ErrRecordNotFound = errors.New("adjustments: record not found")
	// ErrSyncInProgress indicates an overlapping sync run was refused.
	ErrSyncInProgress = errors.New("adjustments: sync already in progress")
)
