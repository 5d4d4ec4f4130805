package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/warp/claims-engine/claims"
	"github.com/warp/claims-engine/generic"
)

// =============================================================================
// CASE FILE READERS
// =============================================================================

const caseColumns = `irn, display_irn, worker_id, region, incident_type, incident_date,
	incident_description, incident_location, claim_type, stage, locked_by, locked_at, created_at`

func scanCase(row interface{ Scan(...any) error }) (*claims.Case, error) {
	var (
		c                              claims.Case
		incidentType, stage, createdAt string
		incidentDate                   sql.NullString
		lockedBy, lockedAt             sql.NullString
	)
	err := row.Scan(&c.IRN, &c.DisplayIRN, &c.WorkerID, &c.Region, &incidentType, &incidentDate,
		&c.Incident.Description, &c.Incident.Location, &c.ClaimType, &stage, &lockedBy, &lockedAt, &createdAt)
	if err != nil {
		return nil, err
	}
	c.Incident.Type = generic.IncidentType(incidentType)
	c.Incident.Date = parseDate(incidentDate)
	c.Stage = claims.Stage(stage)
	c.LockedBy = generic.StaffID(lockedBy.String)
	if lockedAt.Valid && lockedAt.String != "" {
		t := parseTime(lockedAt.String)
		c.LockedAt = &t
	}
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}

// GetCase returns nil, nil when the IRN is unknown.
func (s *Store) GetCase(ctx context.Context, irn generic.IRN) (*claims.Case, error) {
	defer s.readLock()()

	row := s.conn().queryRow(ctx, `SELECT `+caseColumns+` FROM cases WHERE irn = ?`, irn)
	c, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get case: %w", err)
	}
	return c, nil
}

func (s *Store) GetWorker(ctx context.Context, id generic.WorkerID) (*claims.Worker, error) {
	defer s.readLock()()

	var (
		w                      claims.Worker
		dob                    sql.NullString
		spFirst, spLast, spDOB sql.NullString
	)
	err := s.conn().queryRow(ctx, `
		SELECT id, first_name, last_name, date_of_birth, gender, marital_status, handedness,
		       spouse_first_name, spouse_last_name, spouse_date_of_birth
		FROM workers WHERE id = ?
	`, id).Scan(&w.ID, &w.FirstName, &w.LastName, &dob, &w.Gender, &w.MaritalStatus, &w.Handedness,
		&spFirst, &spLast, &spDOB)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get worker: %w", err)
	}
	w.DateOfBirth = parseDate(dob)
	if spFirst.Valid || spLast.Valid {
		w.Spouse = &claims.Spouse{
			FirstName:   spFirst.String,
			LastName:    spLast.String,
			DateOfBirth: parseDate(spDOB),
		}
	}
	return &w, nil
}

func (s *Store) GetEmployment(ctx context.Context, irn generic.IRN) (*claims.Employment, error) {
	defer s.readLock()()

	var (
		e      claims.Employment
		weekly string
	)
	err := s.conn().queryRow(ctx, `
		SELECT irn, worker_id, employer_name, organization_type, occupation, weekly_wage
		FROM employment WHERE irn = ?
	`, irn).Scan(&e.IRN, &e.WorkerID, &e.EmployerName, &e.OrganizationType, &e.Occupation, &weekly)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get employment: %w", err)
	}
	e.WeeklyWage = parseDecimal(weekly)
	return &e, nil
}

func (s *Store) ListDependants(ctx context.Context, irn generic.IRN) ([]claims.Dependant, error) {
	defer s.readLock()()

	rows, err := s.conn().query(ctx, `
		SELECT id, irn, worker_id, first_name, last_name, dependant_type, date_of_birth, degree_of_dependence
		FROM dependants WHERE irn = ?
		ORDER BY id
	`, irn)
	if err != nil {
		return nil, fmt.Errorf("failed to list dependants: %w", err)
	}
	defer rows.Close()

	result := []claims.Dependant{}
	for rows.Next() {
		var (
			d       claims.Dependant
			depType string
			dob     sql.NullString
			degree  string
		)
		if err := rows.Scan(&d.ID, &d.IRN, &d.WorkerID, &d.FirstName, &d.LastName, &depType, &dob, &degree); err != nil {
			return nil, fmt.Errorf("failed to scan dependant: %w", err)
		}
		d.Type = claims.DependantType(depType)
		d.DateOfBirth = parseDate(dob)
		d.DegreeOfDependence = parseDecimal(degree)
		result = append(result, d)
	}
	return result, rows.Err()
}

func (s *Store) ListAttachments(ctx context.Context, irn generic.IRN) ([]claims.Attachment, error) {
	defer s.readLock()()

	rows, err := s.conn().query(ctx, `
		SELECT id, irn, attachment_type, file_name, uploaded_at
		FROM attachments WHERE irn = ?
		ORDER BY uploaded_at, id
	`, irn)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	defer rows.Close()

	result := []claims.Attachment{}
	for rows.Next() {
		var (
			a          claims.Attachment
			uploadedAt string
		)
		if err := rows.Scan(&a.ID, &a.IRN, &a.Type, &a.FileName, &uploadedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		a.UploadedAt = parseTime(uploadedAt)
		result = append(result, a)
	}
	return result, rows.Err()
}

func (s *Store) GetStaff(ctx context.Context, id generic.StaffID) (*claims.Staff, error) {
	defer s.readLock()()

	var st claims.Staff
	err := s.conn().queryRow(ctx, `SELECT id, name, region FROM staff WHERE id = ?`, id).
		Scan(&st.ID, &st.Name, &st.Region)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get staff: %w", err)
	}
	return &st, nil
}

// =============================================================================
// LISTINGS
// =============================================================================

func (s *Store) ListQueue(ctx context.Context, region generic.Region, stages []claims.Stage) ([]claims.QueueRow, error) {
	defer s.readLock()()

	query := `
		SELECT c.irn, c.display_irn, COALESCE(w.first_name, ''), COALESCE(w.last_name, ''),
		       c.incident_type, c.incident_date, c.claim_type, c.stage, c.locked_by
		FROM cases c
		LEFT JOIN workers w ON w.id = c.worker_id
		WHERE c.region = ?`
	args := []any{region}
	if len(stages) > 0 {
		query += ` AND c.stage IN (` + inPlaceholders(len(stages)) + `)`
		for _, st := range stages {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY c.incident_date DESC, c.irn`

	rows, err := s.conn().query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	defer rows.Close()

	result := []claims.QueueRow{}
	for rows.Next() {
		var (
			r                   claims.QueueRow
			incidentType, stage string
			incidentDate        sql.NullString
			lockedBy            sql.NullString
		)
		if err := rows.Scan(&r.IRN, &r.DisplayIRN, &r.FirstName, &r.LastName,
			&incidentType, &incidentDate, &r.ClaimType, &stage, &lockedBy); err != nil {
			return nil, fmt.Errorf("failed to scan queue row: %w", err)
		}
		r.IncidentType = generic.IncidentType(incidentType)
		r.IncidentDate = parseDate(incidentDate)
		r.Stage = claims.Stage(stage)
		r.LockedBy = generic.StaffID(lockedBy.String)
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *Store) ListHearings(ctx context.Context, region generic.Region, from, to generic.TimePoint) ([]claims.Hearing, error) {
	defer s.readLock()()

	rows, err := s.conn().query(ctx, `
		SELECT id, irn, display_irn, worker_name, region, hearing_date, venue, hearing_type, status
		FROM hearings
		WHERE region = ? AND status = ? AND hearing_date >= ? AND hearing_date <= ?
		ORDER BY hearing_date, display_irn
	`, region, claims.HearingScheduled, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list hearings: %w", err)
	}
	defer rows.Close()

	result := []claims.Hearing{}
	for rows.Next() {
		var (
			h    claims.Hearing
			date string
		)
		if err := rows.Scan(&h.ID, &h.IRN, &h.DisplayIRN, &h.WorkerName, &h.Region,
			&date, &h.Venue, &h.Type, &h.Status); err != nil {
			return nil, fmt.Errorf("failed to scan hearing: %w", err)
		}
		h.Date = parseDate(sql.NullString{String: date, Valid: true})
		result = append(result, h)
	}
	return result, rows.Err()
}

// =============================================================================
// SEEDING (claims.Writer)
// =============================================================================

func (s *Store) SaveStaff(ctx context.Context, st claims.Staff) error {
	defer s.writeLock()()

	_, err := s.conn().exec(ctx, `
		INSERT INTO staff (id, name, region) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, region = excluded.region
	`, st.ID, st.Name, st.Region)
	if err != nil {
		return fmt.Errorf("failed to save staff: %w", err)
	}
	return nil
}

func (s *Store) SaveCase(ctx context.Context, c claims.Case) error {
	defer s.writeLock()()

	if c.Stage == "" {
		c.Stage = claims.StageNoCalculation
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	var lockedAt sql.NullString
	if c.LockedAt != nil {
		lockedAt = nullString(formatTime(*c.LockedAt))
	}

	_, err := s.conn().exec(ctx, `
		INSERT INTO cases (`+caseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (irn) DO UPDATE SET
			display_irn = excluded.display_irn,
			worker_id = excluded.worker_id,
			region = excluded.region,
			incident_type = excluded.incident_type,
			incident_date = excluded.incident_date,
			incident_description = excluded.incident_description,
			incident_location = excluded.incident_location,
			claim_type = excluded.claim_type,
			stage = excluded.stage,
			locked_by = excluded.locked_by,
			locked_at = excluded.locked_at
	`, c.IRN, c.DisplayIRN, c.WorkerID, c.Region, string(c.Incident.Type), nullDate(c.Incident.Date),
		c.Incident.Description, c.Incident.Location, c.ClaimType, string(c.Stage),
		nullString(string(c.LockedBy)), lockedAt, formatTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save case: %w", err)
	}
	return nil
}

func (s *Store) SaveWorker(ctx context.Context, w claims.Worker) error {
	defer s.writeLock()()

	var spFirst, spLast, spDOB sql.NullString
	if w.Spouse != nil {
		spFirst = sql.NullString{String: w.Spouse.FirstName, Valid: true}
		spLast = sql.NullString{String: w.Spouse.LastName, Valid: true}
		spDOB = nullDate(w.Spouse.DateOfBirth)
	}

	_, err := s.conn().exec(ctx, `
		INSERT INTO workers (id, first_name, last_name, date_of_birth, gender, marital_status, handedness,
		                     spouse_first_name, spouse_last_name, spouse_date_of_birth)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			date_of_birth = excluded.date_of_birth,
			gender = excluded.gender,
			marital_status = excluded.marital_status,
			handedness = excluded.handedness,
			spouse_first_name = excluded.spouse_first_name,
			spouse_last_name = excluded.spouse_last_name,
			spouse_date_of_birth = excluded.spouse_date_of_birth
	`, w.ID, w.FirstName, w.LastName, nullDate(w.DateOfBirth), w.Gender, w.MaritalStatus, w.Handedness,
		spFirst, spLast, spDOB)
	if err != nil {
		return fmt.Errorf("failed to save worker: %w", err)
	}
	return nil
}

func (s *Store) SaveEmployment(ctx context.Context, e claims.Employment) error {
	defer s.writeLock()()

	_, err := s.conn().exec(ctx, `
		INSERT INTO employment (irn, worker_id, employer_name, organization_type, occupation, weekly_wage)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (irn) DO UPDATE SET
			worker_id = excluded.worker_id,
			employer_name = excluded.employer_name,
			organization_type = excluded.organization_type,
			occupation = excluded.occupation,
			weekly_wage = excluded.weekly_wage
	`, e.IRN, e.WorkerID, e.EmployerName, e.OrganizationType, e.Occupation, e.WeeklyWage.String())
	if err != nil {
		return fmt.Errorf("failed to save employment: %w", err)
	}
	return nil
}

func (s *Store) SaveDependant(ctx context.Context, d claims.Dependant) error {
	defer s.writeLock()()

	_, err := s.conn().exec(ctx, `
		INSERT INTO dependants (irn, id, worker_id, first_name, last_name, dependant_type, date_of_birth, degree_of_dependence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (irn, id) DO UPDATE SET
			worker_id = excluded.worker_id,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			dependant_type = excluded.dependant_type,
			date_of_birth = excluded.date_of_birth,
			degree_of_dependence = excluded.degree_of_dependence
	`, d.IRN, d.ID, d.WorkerID, d.FirstName, d.LastName, string(d.Type), nullDate(d.DateOfBirth),
		d.DegreeOfDependence.String())
	if err != nil {
		return fmt.Errorf("failed to save dependant: %w", err)
	}
	return nil
}

func (s *Store) SaveAttachment(ctx context.Context, a claims.Attachment) error {
	defer s.writeLock()()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.UploadedAt.IsZero() {
		a.UploadedAt = time.Now()
	}
	_, err := s.conn().exec(ctx, `
		INSERT INTO attachments (id, irn, attachment_type, file_name, uploaded_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			attachment_type = excluded.attachment_type,
			file_name = excluded.file_name
	`, a.ID, a.IRN, a.Type, a.FileName, formatTime(a.UploadedAt))
	if err != nil {
		return fmt.Errorf("failed to save attachment: %w", err)
	}
	return nil
}

func (s *Store) SaveHearing(ctx context.Context, h claims.Hearing) error {
	defer s.writeLock()()

	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.Status == "" {
		h.Status = claims.HearingScheduled
	}
	_, err := s.conn().exec(ctx, `
		INSERT INTO hearings (id, irn, display_irn, worker_name, region, hearing_date, venue, hearing_type, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			hearing_date = excluded.hearing_date,
			venue = excluded.venue,
			hearing_type = excluded.hearing_type,
			status = excluded.status
	`, h.ID, h.IRN, h.DisplayIRN, h.WorkerName, h.Region, h.Date.String(), h.Venue, h.Type, h.Status)
	if err != nil {
		return fmt.Errorf("failed to save hearing: %w", err)
	}
	return nil
}

// caseTables are cleared by Reset; reference tables are kept.
var caseTables = []string{
	"review_queue", "dependant_compensation", "worker_compensation", "calculations",
	"hearings", "attachments", "dependants", "employment", "cases", "workers", "staff",
}

// Reset deletes all case data in one transaction. Reference tables survive.
func (s *Store) Reset(ctx context.Context) error {
	defer s.writeLock()()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range caseTables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}
