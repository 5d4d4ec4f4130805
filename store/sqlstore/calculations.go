package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/warp/claims-engine/claims"
	"github.com/warp/claims-engine/generic"
)

// =============================================================================
// CALCULATION STORE
// =============================================================================

func (s *Store) GetCalculation(ctx context.Context, irn generic.IRN) (*claims.CalculationRecord, error) {
	defer s.readLock()()
	return getCalculation(ctx, s.conn(), irn)
}

func (s *Store) UpsertCalculation(ctx context.Context, rec claims.CalculationRecord) (bool, error) {
	defer s.writeLock()()
	return upsertCalculation(ctx, s.conn(), rec)
}

func (s *Store) UpsertWorkerSummary(ctx context.Context, sum claims.WorkerSummary) error {
	defer s.writeLock()()
	return upsertWorkerSummary(ctx, s.conn(), sum)
}

func (s *Store) UpsertDependantCompensation(ctx context.Context, d claims.DependantCompensation) error {
	defer s.writeLock()()
	return upsertDependantCompensation(ctx, s.conn(), d)
}

func (s *Store) GetWorkerSummary(ctx context.Context, irn generic.IRN) (*claims.WorkerSummary, error) {
	defer s.readLock()()
	return getWorkerSummary(ctx, s.conn(), irn)
}

func (s *Store) ListDependantCompensation(ctx context.Context, irn generic.IRN) ([]claims.DependantCompensation, error) {
	defer s.readLock()()
	return listDependantCompensation(ctx, s.conn(), irn)
}

func getCalculation(ctx context.Context, c conn, irn generic.IRN) (*claims.CalculationRecord, error) {
	var (
		rec                                          claims.CalculationRecord
		incidentType, criteriaJSON                   string
		selected                                     sql.NullString
		factor, pct, base, medical, misc, ded, final string
		createdAt, updatedAt                         string
	)
	err := c.queryRow(ctx, `
		SELECT id, irn, incident_type, claim_type, criteria_json, selected_criterion, factor,
		       doctor_percentage, base_compensation, medical_expenses, misc_expenses, deductions,
		       final_amount, findings, recommendations, calculated_by, created_at, updated_at
		FROM calculations WHERE irn = ?
	`, irn).Scan(&rec.ID, &rec.IRN, &incidentType, &rec.ClaimType, &criteriaJSON, &selected, &factor,
		&pct, &base, &medical, &misc, &ded,
		&final, &rec.Findings, &rec.Recommendations, &rec.CalculatedBy, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get calculation: %w", err)
	}

	rec.IncidentType = generic.IncidentType(incidentType)
	rec.SelectedCriterion = selected.String
	rec.Factor = parseDecimal(factor)
	rec.DoctorPercentage = parseDecimal(pct)
	rec.BaseCompensation = parseDecimal(base)
	rec.MedicalExpenses = parseDecimal(medical)
	rec.MiscExpenses = parseDecimal(misc)
	rec.Deductions = parseDecimal(ded)
	rec.FinalAmount = parseDecimal(final)
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	rec.Criteria = []claims.CriterionLine{}
	if criteriaJSON != "" {
		if err := json.Unmarshal([]byte(criteriaJSON), &rec.Criteria); err != nil {
			return nil, fmt.Errorf("failed to decode calculation criteria: %w", err)
		}
	}
	return &rec, nil
}

// upsertCalculation keeps the original id and created_at on conflict.
func upsertCalculation(ctx context.Context, c conn, rec claims.CalculationRecord) (bool, error) {
	var exists int
	err := c.queryRow(ctx, `SELECT COUNT(*) FROM calculations WHERE irn = ?`, rec.IRN).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to look up calculation: %w", err)
	}

	criteria := rec.Criteria
	if criteria == nil {
		criteria = []claims.CriterionLine{}
	}
	criteriaJSON, err := json.Marshal(criteria)
	if err != nil {
		return false, fmt.Errorf("failed to encode criteria: %w", err)
	}

	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}

	_, err = c.exec(ctx, `
		INSERT INTO calculations (
			irn, id, incident_type, claim_type, criteria_json, selected_criterion, factor,
			doctor_percentage, base_compensation, medical_expenses, misc_expenses, deductions,
			final_amount, findings, recommendations, calculated_by, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (irn) DO UPDATE SET
			incident_type = excluded.incident_type,
			claim_type = excluded.claim_type,
			criteria_json = excluded.criteria_json,
			selected_criterion = excluded.selected_criterion,
			factor = excluded.factor,
			doctor_percentage = excluded.doctor_percentage,
			base_compensation = excluded.base_compensation,
			medical_expenses = excluded.medical_expenses,
			misc_expenses = excluded.misc_expenses,
			deductions = excluded.deductions,
			final_amount = excluded.final_amount,
			findings = excluded.findings,
			recommendations = excluded.recommendations,
			calculated_by = excluded.calculated_by,
			updated_at = excluded.updated_at
	`, rec.IRN, rec.ID, string(rec.IncidentType), rec.ClaimType, string(criteriaJSON),
		nullString(rec.SelectedCriterion), rec.Factor.String(),
		rec.DoctorPercentage.String(), rec.BaseCompensation.String(), rec.MedicalExpenses.String(),
		rec.MiscExpenses.String(), rec.Deductions.String(),
		rec.FinalAmount.String(), rec.Findings, rec.Recommendations, rec.CalculatedBy,
		formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt))
	if err != nil {
		return false, fmt.Errorf("failed to upsert calculation: %w", err)
	}
	return exists == 0, nil
}

func upsertWorkerSummary(ctx context.Context, c conn, sum claims.WorkerSummary) error {
	if sum.UpdatedAt.IsZero() {
		sum.UpdatedAt = time.Now()
	}
	_, err := c.exec(ctx, `
		INSERT INTO worker_compensation (irn, worker_id, annual_earnings, calculated_amount, final_amount,
		                                 spouse_share, child_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (irn) DO UPDATE SET
			worker_id = excluded.worker_id,
			annual_earnings = excluded.annual_earnings,
			calculated_amount = excluded.calculated_amount,
			final_amount = excluded.final_amount,
			spouse_share = excluded.spouse_share,
			child_count = excluded.child_count,
			updated_at = excluded.updated_at
	`, sum.IRN, sum.WorkerID, sum.AnnualEarnings.String(), sum.CalculatedAmount.String(), sum.FinalAmount.String(),
		sum.SpouseShare.String(), sum.ChildCount, formatTime(sum.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert worker summary: %w", err)
	}
	return nil
}

func upsertDependantCompensation(ctx context.Context, c conn, d claims.DependantCompensation) error {
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = time.Now()
	}
	_, err := c.exec(ctx, `
		INSERT INTO dependant_compensation (irn, dependant_id, degree_of_dependence, compensation,
		                                    apportioned_percent, apportioned_amount, weeks_until_16,
		                                    weekly_benefit, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (irn, dependant_id) DO UPDATE SET
			degree_of_dependence = excluded.degree_of_dependence,
			compensation = excluded.compensation,
			apportioned_percent = excluded.apportioned_percent,
			apportioned_amount = excluded.apportioned_amount,
			weeks_until_16 = excluded.weeks_until_16,
			weekly_benefit = excluded.weekly_benefit,
			updated_at = excluded.updated_at
	`, d.IRN, d.DependantID, d.DegreeOfDependence.String(), d.Compensation.String(),
		d.ApportionedPercent.String(), d.ApportionedAmount.String(), d.WeeksUntil16.String(),
		d.WeeklyBenefit.String(), formatTime(d.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert dependant compensation: %w", err)
	}
	return nil
}

func getWorkerSummary(ctx context.Context, c conn, irn generic.IRN) (*claims.WorkerSummary, error) {
	var (
		sum                                   claims.WorkerSummary
		annual, calculated, final, spouse, at string
	)
	err := c.queryRow(ctx, `
		SELECT irn, worker_id, annual_earnings, calculated_amount, final_amount, spouse_share, child_count, updated_at
		FROM worker_compensation WHERE irn = ?
	`, irn).Scan(&sum.IRN, &sum.WorkerID, &annual, &calculated, &final, &spouse, &sum.ChildCount, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get worker summary: %w", err)
	}
	sum.AnnualEarnings = parseDecimal(annual)
	sum.CalculatedAmount = parseDecimal(calculated)
	sum.FinalAmount = parseDecimal(final)
	sum.SpouseShare = parseDecimal(spouse)
	sum.UpdatedAt = parseTime(at)
	return &sum, nil
}

func listDependantCompensation(ctx context.Context, c conn, irn generic.IRN) ([]claims.DependantCompensation, error) {
	rows, err := c.query(ctx, `
		SELECT irn, dependant_id, degree_of_dependence, compensation, apportioned_percent,
		       apportioned_amount, weeks_until_16, weekly_benefit, updated_at
		FROM dependant_compensation WHERE irn = ?
		ORDER BY dependant_id
	`, irn)
	if err != nil {
		return nil, fmt.Errorf("failed to list dependant compensation: %w", err)
	}
	defer rows.Close()

	result := []claims.DependantCompensation{}
	for rows.Next() {
		var (
			d                                             claims.DependantCompensation
			degree, comp, pct, amount, weeks, benefit, at string
		)
		if err := rows.Scan(&d.IRN, &d.DependantID, &degree, &comp, &pct, &amount, &weeks, &benefit, &at); err != nil {
			return nil, fmt.Errorf("failed to scan dependant compensation: %w", err)
		}
		d.DegreeOfDependence = parseDecimal(degree)
		d.Compensation = parseDecimal(comp)
		d.ApportionedPercent = parseDecimal(pct)
		d.ApportionedAmount = parseDecimal(amount)
		d.WeeksUntil16 = parseDecimal(weeks)
		d.WeeklyBenefit = parseDecimal(benefit)
		d.UpdatedAt = parseTime(at)
		result = append(result, d)
	}
	return result, rows.Err()
}

// =============================================================================
// WORKFLOW
// =============================================================================

func (s *Store) SetStage(ctx context.Context, irn generic.IRN, stage claims.Stage) error {
	defer s.writeLock()()

	res, err := s.conn().exec(ctx, `UPDATE cases SET stage = ? WHERE irn = ?`, string(stage), irn)
	if err != nil {
		return fmt.Errorf("failed to set stage: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("case %s: %w", irn, generic.ErrCaseNotFound)
	}
	return nil
}

func (s *Store) EnqueueReview(ctx context.Context, entry claims.ReviewEntry) (bool, error) {
	defer s.writeLock()()

	res, err := s.conn().exec(ctx, `
		INSERT INTO review_queue (id, irn, incident_type, submitted_by, submitted_at, status, idempotency_key)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, entry.ID, entry.IRN, string(entry.IncidentType), entry.SubmittedBy, formatTime(entry.SubmittedAt),
		entry.Status, entry.IdempotencyKey)
	if err != nil {
		return false, fmt.Errorf("failed to enqueue review: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to enqueue review: %w", err)
	}
	return n > 0, nil
}

func (s *Store) ListReviewEntries(ctx context.Context, irn generic.IRN) ([]claims.ReviewEntry, error) {
	defer s.readLock()()

	rows, err := s.conn().query(ctx, `
		SELECT id, irn, incident_type, submitted_by, submitted_at, status, idempotency_key
		FROM review_queue WHERE irn = ?
		ORDER BY submitted_at, id
	`, irn)
	if err != nil {
		return nil, fmt.Errorf("failed to list review entries: %w", err)
	}
	defer rows.Close()

	result := []claims.ReviewEntry{}
	for rows.Next() {
		var (
			e                claims.ReviewEntry
			incidentType, at string
		)
		if err := rows.Scan(&e.ID, &e.IRN, &incidentType, &e.SubmittedBy, &at, &e.Status, &e.IdempotencyKey); err != nil {
			return nil, fmt.Errorf("failed to scan review entry: %w", err)
		}
		e.IncidentType = generic.IncidentType(incidentType)
		e.SubmittedAt = parseTime(at)
		result = append(result, e)
	}
	return result, rows.Err()
}

// =============================================================================
// LOCKS
// =============================================================================

func (s *Store) AcquireLock(ctx context.Context, irn generic.IRN, staff generic.StaffID, now, staleBefore time.Time) error {
	defer s.writeLock()()

	c := s.conn()
	res, err := c.exec(ctx, `
		UPDATE cases SET locked_by = ?, locked_at = ?
		WHERE irn = ?
		  AND (locked_by IS NULL OR locked_by = ? OR locked_at IS NULL OR locked_at < ?)
	`, staff, formatTime(now), irn, staff, formatTime(staleBefore))
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if n > 0 {
		return nil
	}

	var holder sql.NullString
	err = c.queryRow(ctx, `SELECT locked_by FROM cases WHERE irn = ?`, irn).Scan(&holder)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("case %s: %w", irn, generic.ErrCaseNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read lock holder: %w", err)
	}
	return &generic.LockConflictError{IRN: irn, HeldBy: generic.StaffID(holder.String)}
}

func (s *Store) GuardLock(ctx context.Context, irn generic.IRN, staff generic.StaffID, staleBefore time.Time) error {
	defer s.writeLock()()
	return guardLock(ctx, s.conn(), irn, staff, staleBefore)
}

// guardLock touches the case row only when staff may write it, so on
// PostgreSQL a concurrent AcquireLock waits for the caller's commit.
func guardLock(ctx context.Context, c conn, irn generic.IRN, staff generic.StaffID, staleBefore time.Time) error {
	res, err := c.exec(ctx, `
		UPDATE cases SET locked_by = locked_by
		WHERE irn = ?
		  AND (locked_by IS NULL OR locked_by = ? OR locked_at IS NULL OR locked_at < ?)
	`, irn, staff, formatTime(staleBefore))
	if err != nil {
		return fmt.Errorf("failed to check lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check lock: %w", err)
	}
	if n > 0 {
		return nil
	}

	var holder sql.NullString
	err = c.queryRow(ctx, `SELECT locked_by FROM cases WHERE irn = ?`, irn).Scan(&holder)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("case %s: %w", irn, generic.ErrCaseNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read lock holder: %w", err)
	}
	return &generic.LockConflictError{IRN: irn, HeldBy: generic.StaffID(holder.String)}
}

func (s *Store) ReleaseLock(ctx context.Context, irn generic.IRN, staff generic.StaffID) (bool, error) {
	defer s.writeLock()()

	res, err := s.conn().exec(ctx, `
		UPDATE cases SET locked_by = NULL, locked_at = NULL
		WHERE irn = ? AND locked_by = ?
	`, irn, staff)
	if err != nil {
		return false, fmt.Errorf("failed to release lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to release lock: %w", err)
	}
	return n > 0, nil
}

func (s *Store) ExpireLocks(ctx context.Context, staleBefore time.Time) (int, error) {
	defer s.writeLock()()

	res, err := s.conn().exec(ctx, `
		UPDATE cases SET locked_by = NULL, locked_at = NULL
		WHERE locked_by IS NOT NULL AND locked_at < ?
	`, formatTime(staleBefore))
	if err != nil {
		return 0, fmt.Errorf("failed to expire locks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to expire locks: %w", err)
	}
	return int(n), nil
}
