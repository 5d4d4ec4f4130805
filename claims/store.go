/*
store.go - Persistence interfaces for cases and calculations

PURPOSE:
  Defines the boundary between the claims components and the relational
  store. Every call takes a context so an abandoned request cancels its
  in-flight query.

KEY INTERFACES:
  CaseReader:       case, worker, employment, dependant lookups
  AttachmentReader: attachment labels for document completeness
  QueueReader:      region-scoped listing rows
  CalculationStore: calculation record, worker summary, dependant shares
  TxStore:          atomic primary write of a submission
  WorkflowStore:    stage changes and review-queue entries
  LockStore:        conditional acquire / release / expiry of case locks

NOT-FOUND CONTRACT:
  Single-row getters return (nil, nil) when the row does not exist.
  Callers decide whether absence is an error (the locator maps a missing
  case to generic.ErrCaseNotFound, a missing employment to a zero wage).

IMPLEMENTATIONS:
  - store/sqlstore: SQLite and PostgreSQL
  - store/memory:   In-memory for tests, with failure injection

SEE ALSO:
  - locator.go, documents.go, queue.go: Readers
  - submission/writer.go: Writers
*/
package claims

import (
	"context"
	"time"

	"github.com/warp/claims-engine/generic"
)

// =============================================================================
// READ SIDE
// =============================================================================

type CaseReader interface {
	GetCase(ctx context.Context, irn generic.IRN) (*Case, error)
	GetWorker(ctx context.Context, id generic.WorkerID) (*Worker, error)
	GetEmployment(ctx context.Context, irn generic.IRN) (*Employment, error)
	ListDependants(ctx context.Context, irn generic.IRN) ([]Dependant, error)
}

type AttachmentReader interface {
	ListAttachments(ctx context.Context, irn generic.IRN) ([]Attachment, error)
}

// QueueRow is one listing row: a case joined with its worker's name.
type QueueRow struct {
	IRN          generic.IRN          `json:"irn"`
	DisplayIRN   string               `json:"display_irn"`
	FirstName    string               `json:"first_name"`
	LastName     string               `json:"last_name"`
	IncidentType generic.IncidentType `json:"incident_type"`
	IncidentDate generic.TimePoint    `json:"incident_date"`
	ClaimType    string               `json:"claim_type"`
	Stage        Stage                `json:"stage"`
	LockedBy     generic.StaffID      `json:"locked_by,omitempty"`
}

type QueueReader interface {
	// ListQueue returns the region's cases in the given stages, newest
	// incident first. An empty stage list means every stage.
	ListQueue(ctx context.Context, region generic.Region, stages []Stage) ([]QueueRow, error)
}

type StaffReader interface {
	GetStaff(ctx context.Context, id generic.StaffID) (*Staff, error)
}

type HearingReader interface {
	// ListHearings returns scheduled hearings in [from, to] ordered by date.
	ListHearings(ctx context.Context, region generic.Region, from, to generic.TimePoint) ([]Hearing, error)
}

// =============================================================================
// CALCULATION STORE
// =============================================================================

// CalculationStore persists the primary write of a submission.
type CalculationStore interface {
	GetCalculation(ctx context.Context, irn generic.IRN) (*CalculationRecord, error)

	// UpsertCalculation inserts or replaces the record keyed by IRN.
	// Returns created=true when no record existed.
	UpsertCalculation(ctx context.Context, rec CalculationRecord) (created bool, err error)

	UpsertWorkerSummary(ctx context.Context, s WorkerSummary) error
	UpsertDependantCompensation(ctx context.Context, d DependantCompensation) error

	GetWorkerSummary(ctx context.Context, irn generic.IRN) (*WorkerSummary, error)
	ListDependantCompensation(ctx context.Context, irn generic.IRN) ([]DependantCompensation, error)

	// GuardLock fails with *generic.LockConflictError when a lock newer
	// than staleBefore is held by someone other than staff. Inside WithTx
	// the case row stays claimed until commit.
	GuardLock(ctx context.Context, irn generic.IRN, staff generic.StaffID, staleBefore time.Time) error
}

// TxStore runs the primary write atomically.
type TxStore interface {
	CalculationStore

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(CalculationStore) error) error
}

// =============================================================================
// WORKFLOW / LOCKS
// =============================================================================

type WorkflowStore interface {
	SetStage(ctx context.Context, irn generic.IRN, stage Stage) error

	// EnqueueReview inserts the entry unless one with the same idempotency
	// key exists. Returns inserted=false for a duplicate.
	EnqueueReview(ctx context.Context, entry ReviewEntry) (inserted bool, err error)

	ListReviewEntries(ctx context.Context, irn generic.IRN) ([]ReviewEntry, error)
}

type LockStore interface {
	// AcquireLock sets locked_by when the case is unlocked, already held by
	// staff, or the holder's lock is older than staleBefore. Otherwise it
	// returns a *generic.LockConflictError.
	AcquireLock(ctx context.Context, irn generic.IRN, staff generic.StaffID, now, staleBefore time.Time) error

	// ReleaseLock clears the lock only if staff holds it.
	ReleaseLock(ctx context.Context, irn generic.IRN, staff generic.StaffID) (released bool, err error)

	// ExpireLocks clears every lock taken before staleBefore.
	ExpireLocks(ctx context.Context, staleBefore time.Time) (int, error)
}

// =============================================================================
// SEEDING
// =============================================================================

// Writer loads case data. Used by demo scenarios and tests; production
// cases arrive through the intake system.
type Writer interface {
	SaveStaff(ctx context.Context, s Staff) error
	SaveCase(ctx context.Context, c Case) error
	SaveWorker(ctx context.Context, w Worker) error
	SaveEmployment(ctx context.Context, e Employment) error
	SaveDependant(ctx context.Context, d Dependant) error
	SaveAttachment(ctx context.Context, a Attachment) error
	SaveHearing(ctx context.Context, h Hearing) error
	Reset(ctx context.Context) error
}

// Store is everything the service needs from persistence.
type Store interface {
	CaseReader
	AttachmentReader
	QueueReader
	StaffReader
	HearingReader
	TxStore
	WorkflowStore
	LockStore
	Writer
}
