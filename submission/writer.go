/*
Package submission persists a calculation and drives the case workflow.

PURPOSE:
  Submit validates an officer's calculation, writes it and moves the case
  on to manager review. Preview runs the same calculation without writing.

FLOW:
  1. Locate the case file and check its lock
  2. Validate (incident/claim type, criteria, percentages, documents,
     findings and recommendations), reporting every failure at once
  3. Primary write, one transaction:
       calculation record (upsert keyed by IRN)
       death cases: worker summary + one record per dependant
  4. Secondary steps, each retried and independent:
       a. stage -> CalculationComplete
       b. review entry (idempotent) then stage -> PendingManagerReview
       c. release the submitter's lock

  A primary failure fails the submission. A secondary failure is logged,
  counted and returned as a warning; the saved calculation stands.

SEE ALSO:
  - compensation/engine.go: The arithmetic
  - resilience/executor.go: Retry and circuit breaker for secondary steps
  - api/handlers.go: HTTP surface
*/
package submission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/warp/claims-engine/claims"
	"github.com/warp/claims-engine/compensation"
	"github.com/warp/claims-engine/generic"
	"github.com/warp/claims-engine/reference"
	"github.com/warp/claims-engine/resilience"
)

const (
	MessageCreated = "Calculation saved successfully"
	MessageUpdated = "Calculation updated successfully"
)

// Secondary step names, used as resilience operations and metric labels.
const (
	StepCompleteStage = "set_stage_complete"
	StepEnqueueReview = "enqueue_review"
	StepReviewStage   = "set_stage_review"
	StepReleaseLock   = "release_lock"
)

// Outcome labels for submission metrics.
const (
	OutcomeCreated      = "created"
	OutcomeUpdated      = "updated"
	OutcomeInvalid      = "invalid"
	OutcomeLockConflict = "lock_conflict"
	OutcomeNotFound     = "not_found"
	OutcomeError        = "error"
)

// Recorder receives submission metrics. *metrics.Metrics satisfies it.
type Recorder interface {
	RecordSubmission(incidentType, outcome string)
	RecordSecondaryFailure(step string)
}

// Result is returned for an accepted submission.
type Result struct {
	Success      bool                      `json:"success"`
	Created      bool                      `json:"created"`
	Message      string                    `json:"message"`
	Warnings     []string                  `json:"warnings"`
	SubmissionID string                    `json:"submission_id"`
	Record       *claims.CalculationRecord `json:"record"`
	Calculation  *compensation.Result      `json:"calculation"`
}

// =============================================================================
// WRITER
// =============================================================================

type Options struct {
	Executor *resilience.Executor
	Metrics  Recorder
	Logger   *logrus.Logger
	LockTTL  time.Duration
	Now      func() time.Time
}

type Writer struct {
	store     claims.Store
	reference *reference.Holder
	locator   *claims.Locator
	docs      *claims.DocumentChecker
	executor  *resilience.Executor
	metrics   Recorder
	logger    *logrus.Logger
	lockTTL   time.Duration
	now       func() time.Time
}

func NewWriter(store claims.Store, ref *reference.Holder, opts Options) *Writer {
	w := &Writer{
		store:     store,
		reference: ref,
		locator:   claims.NewLocator(store),
		docs:      claims.NewDocumentChecker(store),
		executor:  opts.Executor,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		lockTTL:   opts.LockTTL,
		now:       opts.Now,
	}
	if w.logger == nil {
		w.logger = logrus.StandardLogger()
	}
	if w.executor == nil {
		w.executor = resilience.NewExecutor(resilience.DefaultConfig(), w.logger, nil)
	}
	if w.now == nil {
		w.now = time.Now
	}
	return w
}

// Preview calculates without validating submission fields or writing.
func (w *Writer) Preview(ctx context.Context, req Request) (*compensation.Result, error) {
	file, err := w.locator.Locate(ctx, req.IRN)
	if err != nil {
		return nil, err
	}
	return w.engine().Calculate(file, req.CalculationInput(file))
}

// Submit validates, writes and advances the case. Validation failures are
// a *generic.ValidationError, a foreign lock is a *generic.LockConflictError.
func (w *Writer) Submit(ctx context.Context, req Request) (*Result, error) {
	file, err := w.locator.Locate(ctx, req.IRN)
	if err != nil {
		w.record("", outcomeFor(err))
		return nil, err
	}
	incident := req.incidentType(file)

	if file.Case.LockHeldByOther(req.StaffID, w.now(), w.lockTTL) {
		w.record(incident, OutcomeLockConflict)
		return nil, &generic.LockConflictError{IRN: file.Case.IRN, HeldBy: file.Case.LockedBy}
	}

	docs, err := w.docs.CheckFor(ctx, file, incident)
	if err != nil {
		w.record(incident, OutcomeError)
		return nil, err
	}

	ref := w.reference.Get()
	verr := validate(req, file, docs, ref)
	calc, err := compensation.FromReference(ref).Calculate(file, req.CalculationInput(file))
	if err != nil {
		var engineErr *generic.ValidationError
		if !errors.As(err, &engineErr) {
			w.record(incident, OutcomeError)
			return nil, err
		}
		merge(verr, engineErr)
	}
	if err := verr.OrNil(); err != nil {
		w.record(incident, OutcomeInvalid)
		return nil, err
	}

	submissionID := req.SubmissionID
	if submissionID == "" {
		submissionID = uuid.NewString()
	}

	rec, created, err := w.writePrimary(ctx, req, file, calc)
	if generic.IsConflict(err) {
		// Locked by another officer after the case was read.
		w.record(incident, OutcomeLockConflict)
		return nil, err
	}
	if err != nil {
		w.record(incident, OutcomeError)
		w.logger.WithFields(logrus.Fields{
			"irn":           req.IRN,
			"staff_id":      req.StaffID,
			"submission_id": submissionID,
		}).WithError(err).Error("calculation write failed")
		return nil, err
	}

	// The calculation is committed; a client disconnect must not cut the
	// workflow steps short.
	warnings := w.runSecondary(context.WithoutCancel(ctx), req, rec, submissionID)

	result := &Result{
		Success:      true,
		Created:      created,
		Message:      MessageUpdated,
		Warnings:     warnings,
		SubmissionID: submissionID,
		Record:       rec,
		Calculation:  calc,
	}
	outcome := OutcomeUpdated
	if created {
		result.Message = MessageCreated
		outcome = OutcomeCreated
	}
	w.record(incident, outcome)

	w.logger.WithFields(logrus.Fields{
		"irn":           req.IRN,
		"staff_id":      req.StaffID,
		"submission_id": submissionID,
		"created":       created,
		"final_amount":  calc.FinalAmount.StringFixed(2),
		"warnings":      len(warnings),
	}).Info("calculation submitted")
	return result, nil
}

// staleBefore is the lock age cut-off. Without a TTL no lock goes stale.
func (w *Writer) staleBefore(now time.Time) time.Time {
	if w.lockTTL <= 0 {
		return time.Time{}
	}
	return now.Add(-w.lockTTL)
}

func (w *Writer) engine() *compensation.Engine {
	return compensation.FromReference(w.reference.Get())
}

func (w *Writer) record(incident generic.IncidentType, outcome string) {
	if w.metrics != nil {
		w.metrics.RecordSubmission(string(incident), outcome)
	}
}

func outcomeFor(err error) string {
	switch {
	case generic.IsNotFound(err):
		return OutcomeNotFound
	case generic.IsConflict(err):
		return OutcomeLockConflict
	case generic.IsClientError(err):
		return OutcomeInvalid
	default:
		return OutcomeError
	}
}

// =============================================================================
// PRIMARY WRITE
// =============================================================================

func (w *Writer) writePrimary(ctx context.Context, req Request, file *claims.File, calc *compensation.Result) (*claims.CalculationRecord, bool, error) {
	now := w.now().UTC()
	rec := buildRecord(req, file, calc, now)
	var created bool

	err := w.store.WithTx(ctx, func(tx claims.CalculationStore) error {
		if err := tx.GuardLock(ctx, rec.IRN, req.StaffID, w.staleBefore(now)); err != nil {
			return err
		}

		existing, err := tx.GetCalculation(ctx, rec.IRN)
		if err != nil {
			return fmt.Errorf("failed to look up calculation: %w", err)
		}
		if existing != nil {
			rec.ID = existing.ID
			rec.CreatedAt = existing.CreatedAt
		}

		created, err = tx.UpsertCalculation(ctx, rec)
		if err != nil {
			return fmt.Errorf("failed to save calculation: %w", err)
		}

		if calc.Death == nil || len(file.Dependants) == 0 {
			return nil
		}

		if err := tx.UpsertWorkerSummary(ctx, claims.WorkerSummary{
			IRN:              rec.IRN,
			WorkerID:         file.Case.WorkerID,
			AnnualEarnings:   calc.Death.AnnualEarnings,
			CalculatedAmount: calc.Death.CalculatedAmount,
			FinalAmount:      calc.FinalAmount,
			SpouseShare:      calc.Death.Apportionment.SpouseShare,
			ChildCount:       calc.Death.Apportionment.ChildCount,
			UpdatedAt:        now,
		}); err != nil {
			return fmt.Errorf("failed to save worker summary: %w", err)
		}

		for _, d := range calc.Death.Dependants {
			if err := tx.UpsertDependantCompensation(ctx, claims.DependantCompensation{
				IRN:                rec.IRN,
				DependantID:        d.DependantID,
				DegreeOfDependence: d.DegreeOfDependence,
				Compensation:       d.Compensation,
				ApportionedPercent: d.ApportionedPercent,
				ApportionedAmount:  d.ApportionedAmount,
				WeeksUntil16:       d.WeeksUntil16,
				WeeklyBenefit:      d.WeeklyBenefit,
				UpdatedAt:          now,
			}); err != nil {
				return fmt.Errorf("failed to save compensation for dependant %s: %w", d.DependantID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &rec, created, nil
}

func buildRecord(req Request, file *claims.File, calc *compensation.Result, now time.Time) claims.CalculationRecord {
	rec := claims.CalculationRecord{
		ID:               uuid.NewString(),
		IRN:              file.Case.IRN,
		IncidentType:     calc.IncidentType,
		ClaimType:        req.claimType(file),
		Criteria:         []claims.CriterionLine{},
		BaseCompensation: calc.BaseCompensation,
		MedicalExpenses:  calc.MedicalExpenses,
		MiscExpenses:     calc.MiscExpenses,
		Deductions:       calc.Deductions,
		FinalAmount:      calc.FinalAmount,
		Findings:         req.Findings,
		Recommendations:  req.Recommendations,
		CalculatedBy:     req.StaffID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	for _, e := range calc.CheckedCriteria() {
		rec.Criteria = append(rec.Criteria, claims.CriterionLine{
			Key:              e.Key,
			Description:      e.Description,
			Factor:           e.Factor,
			DoctorPercentage: e.DoctorPercentage,
			Trace:            e.Trace,
			Amount:           e.Compensation,
		})
	}
	if s := calc.Selected; s != nil {
		rec.SelectedCriterion = s.Key
		rec.Factor = s.Factor
		rec.DoctorPercentage = s.DoctorPercentage
	}
	return rec
}

// =============================================================================
// SECONDARY STEPS
// =============================================================================

func (w *Writer) runSecondary(ctx context.Context, req Request, rec *claims.CalculationRecord, submissionID string) []string {
	warnings := []string{}
	irn := rec.IRN

	if err := w.step(ctx, StepCompleteStage, req, func(ctx context.Context) error {
		return w.store.SetStage(ctx, irn, claims.StageCalculationComplete)
	}); err != nil {
		warnings = append(warnings, fmt.Sprintf("case stage was not updated: %v", err))
	}

	entry := claims.ReviewEntry{
		ID:             uuid.NewString(),
		IRN:            irn,
		IncidentType:   rec.IncidentType,
		SubmittedBy:    req.StaffID,
		SubmittedAt:    rec.UpdatedAt,
		Status:         claims.ReviewPendingManager,
		IdempotencyKey: string(irn) + ":" + submissionID,
	}
	enqueueErr := w.step(ctx, StepEnqueueReview, req, func(ctx context.Context) error {
		_, err := w.store.EnqueueReview(ctx, entry)
		return err
	})
	if enqueueErr != nil {
		warnings = append(warnings, fmt.Sprintf("case was not queued for manager review: %v", enqueueErr))
	} else if err := w.step(ctx, StepReviewStage, req, func(ctx context.Context) error {
		return w.store.SetStage(ctx, irn, claims.StagePendingManagerReview)
	}); err != nil {
		warnings = append(warnings, fmt.Sprintf("case was not moved to manager review: %v", err))
	}

	if err := w.step(ctx, StepReleaseLock, req, func(ctx context.Context) error {
		_, err := w.store.ReleaseLock(ctx, irn, req.StaffID)
		return err
	}); err != nil {
		warnings = append(warnings, fmt.Sprintf("case lock was not released: %v", err))
	}

	return warnings
}

func (w *Writer) step(ctx context.Context, name string, req Request, fn func(context.Context) error) error {
	err := w.executor.Execute(ctx, name, fn, nil)
	if err == nil {
		return nil
	}
	if w.metrics != nil {
		w.metrics.RecordSecondaryFailure(name)
	}
	w.logger.WithFields(logrus.Fields{
		"step":         name,
		"irn":          req.IRN,
		"staff_id":     req.StaffID,
		"circuit_open": resilience.IsCircuitOpen(err),
	}).WithError(err).Warn("submission step failed")
	return err
}
