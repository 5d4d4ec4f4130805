/*
Package claims models workers'-compensation cases and the read-side
components that operate on them.

PURPOSE:
  A Case is one claim, identified by its IRN. It owns exactly one Worker
  and one Employment, zero or more Dependants, and at most one
  CalculationRecord. This package locates cases, derives their document
  completeness and lists them in region-scoped queues. Computing and
  persisting compensation lives in compensation/ and submission/.

KEY CONCEPTS:
  - Stage: NoCalculation -> CalculationComplete -> PendingManagerReview
  - File: a Case loaded together with its worker, employment and dependants
  - Lock: advisory ownership of a case by one claims officer, acquired and
    released with conditional updates

SEE ALSO:
  - store.go: Persistence interfaces
  - locator.go: Claim Locator
  - documents.go: Document Completeness Checker
  - queue.go: Listing and search
*/
package claims

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/claims-engine/generic"
)

// =============================================================================
// STAGE
// =============================================================================

type Stage string

const (
	StageNoCalculation        Stage = "NoCalculation"
	StageCalculationComplete  Stage = "CalculationComplete"
	StagePendingManagerReview Stage = "PendingManagerReview"
)

// =============================================================================
// CASE
// =============================================================================

type Incident struct {
	Type        generic.IncidentType `json:"type"`
	Date        generic.TimePoint    `json:"date"`
	Description string               `json:"description"`
	Location    string               `json:"location"`
}

type Case struct {
	IRN        generic.IRN      `json:"irn"`
	DisplayIRN string           `json:"display_irn"`
	WorkerID   generic.WorkerID `json:"worker_id"`
	Region     generic.Region   `json:"region"`
	Incident   Incident         `json:"incident"`
	ClaimType  string           `json:"claim_type"`
	Stage      Stage            `json:"stage"`
	LockedBy   generic.StaffID  `json:"locked_by,omitempty"`
	LockedAt   *time.Time       `json:"locked_at,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// LockHeldByOther reports whether someone other than staff holds a live
// lock at now.
func (c *Case) LockHeldByOther(staff generic.StaffID, now time.Time, ttl time.Duration) bool {
	if c.LockedBy == "" || c.LockedBy == staff {
		return false
	}
	if c.LockedAt != nil && ttl > 0 && now.Sub(*c.LockedAt) >= ttl {
		return false
	}
	return true
}

// =============================================================================
// WORKER / EMPLOYMENT / DEPENDANTS
// =============================================================================

type Spouse struct {
	FirstName   string            `json:"first_name"`
	LastName    string            `json:"last_name"`
	DateOfBirth generic.TimePoint `json:"date_of_birth"`
}

type Worker struct {
	ID            generic.WorkerID  `json:"id"`
	FirstName     string            `json:"first_name"`
	LastName      string            `json:"last_name"`
	DateOfBirth   generic.TimePoint `json:"date_of_birth"`
	Gender        string            `json:"gender"`
	MaritalStatus string            `json:"marital_status"`
	Handedness    string            `json:"handedness"`
	Spouse        *Spouse           `json:"spouse,omitempty"`
}

func (w Worker) FullName() string {
	return strings.TrimSpace(w.FirstName + " " + w.LastName)
}

type Employment struct {
	IRN              generic.IRN      `json:"irn"`
	WorkerID         generic.WorkerID `json:"worker_id"`
	EmployerName     string           `json:"employer_name"`
	OrganizationType string           `json:"organization_type"`
	Occupation       string           `json:"occupation"`
	WeeklyWage       decimal.Decimal  `json:"weekly_wage"`
}

type DependantType string

const (
	DependantSpouse DependantType = "Spouse"
	DependantChild  DependantType = "Child"
	DependantOther  DependantType = "Other"
)

type Dependant struct {
	ID                 string            `json:"id"`
	WorkerID           generic.WorkerID  `json:"worker_id"`
	IRN                generic.IRN       `json:"irn"`
	FirstName          string            `json:"first_name"`
	LastName           string            `json:"last_name"`
	Type               DependantType     `json:"type"`
	DateOfBirth        generic.TimePoint `json:"date_of_birth"`
	DegreeOfDependence decimal.Decimal   `json:"degree_of_dependence"`
}

func (d Dependant) FullName() string {
	return strings.TrimSpace(d.FirstName + " " + d.LastName)
}

// File is a Case together with the records the calculation needs.
// Employment is nil when no employment row exists.
type File struct {
	Case       Case        `json:"case"`
	Worker     Worker      `json:"worker"`
	Employment *Employment `json:"employment,omitempty"`
	Dependants []Dependant `json:"dependants"`
}

// HasSpouse reports whether a spouse exists either as a dependant or in the
// worker's spouse details.
func (f *File) HasSpouse() bool {
	if f.Worker.Spouse != nil {
		return true
	}
	for _, d := range f.Dependants {
		if d.Type == DependantSpouse {
			return true
		}
	}
	return false
}

// OrganizationType returns the employer organization type, or "".
func (f *File) OrganizationType() string {
	if f.Employment == nil {
		return ""
	}
	return f.Employment.OrganizationType
}

// =============================================================================
// ATTACHMENTS / STAFF / HEARINGS
// =============================================================================

type Attachment struct {
	ID         string      `json:"id"`
	IRN        generic.IRN `json:"irn"`
	Type       string      `json:"type"`
	FileName   string      `json:"file_name"`
	UploadedAt time.Time   `json:"uploaded_at"`
}

// Staff is the signed-in claims officer.
type Staff struct {
	ID     generic.StaffID `json:"id"`
	Name   string          `json:"name"`
	Region generic.Region  `json:"region"`
}

type Hearing struct {
	ID         string            `json:"id"`
	IRN        generic.IRN       `json:"irn"`
	DisplayIRN string            `json:"display_irn"`
	WorkerName string            `json:"worker_name"`
	Region     generic.Region    `json:"region"`
	Date       generic.TimePoint `json:"date"`
	Venue      string            `json:"venue"`
	Type       string            `json:"type"`
	Status     string            `json:"status"`
}

const HearingScheduled = "Scheduled"

// =============================================================================
// CALCULATION RECORDS
// =============================================================================

// CriterionLine is one checked criterion as persisted.
type CriterionLine struct {
	Key              string          `json:"key"`
	Description      string          `json:"description"`
	Factor           decimal.Decimal `json:"factor"`
	DoctorPercentage decimal.Decimal `json:"doctor_percentage"`
	Trace            string          `json:"trace"`
	Amount           decimal.Decimal `json:"amount"`
}

// CalculationRecord is the single persisted calculation of a case.
type CalculationRecord struct {
	ID                string               `json:"id"`
	IRN               generic.IRN          `json:"irn"`
	IncidentType      generic.IncidentType `json:"incident_type"`
	ClaimType         string               `json:"claim_type"`
	Criteria          []CriterionLine      `json:"criteria"`
	SelectedCriterion string               `json:"selected_criterion,omitempty"`
	Factor            decimal.Decimal      `json:"factor"`
	DoctorPercentage  decimal.Decimal      `json:"doctor_percentage"`
	BaseCompensation  decimal.Decimal      `json:"base_compensation"`
	MedicalExpenses   decimal.Decimal      `json:"medical_expenses"`
	MiscExpenses      decimal.Decimal      `json:"misc_expenses"`
	Deductions        decimal.Decimal      `json:"deductions"`
	FinalAmount       decimal.Decimal      `json:"final_amount"`
	Findings          string               `json:"findings"`
	Recommendations   string               `json:"recommendations"`
	CalculatedBy      generic.StaffID      `json:"calculated_by"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
}

// WorkerSummary is the per-worker roll-up of a death case.
type WorkerSummary struct {
	IRN              generic.IRN      `json:"irn"`
	WorkerID         generic.WorkerID `json:"worker_id"`
	AnnualEarnings   decimal.Decimal  `json:"annual_earnings"`
	CalculatedAmount decimal.Decimal  `json:"calculated_amount"`
	FinalAmount      decimal.Decimal  `json:"final_amount"`
	SpouseShare      decimal.Decimal  `json:"spouse_share"`
	ChildCount       int              `json:"child_count"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// DependantCompensation is one dependant's share of a death case.
type DependantCompensation struct {
	IRN                generic.IRN     `json:"irn"`
	DependantID        string          `json:"dependant_id"`
	DegreeOfDependence decimal.Decimal `json:"degree_of_dependence"`
	Compensation       decimal.Decimal `json:"compensation"`
	ApportionedPercent decimal.Decimal `json:"apportioned_percent"`
	ApportionedAmount  decimal.Decimal `json:"apportioned_amount"`
	WeeksUntil16       decimal.Decimal `json:"weeks_until_16"`
	WeeklyBenefit      decimal.Decimal `json:"weekly_benefit"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

const ReviewPendingManager = "PendingManagerReview"

// ReviewEntry is a downstream manager-review queue item.
type ReviewEntry struct {
	ID             string               `json:"id"`
	IRN            generic.IRN          `json:"irn"`
	IncidentType   generic.IncidentType `json:"incident_type"`
	SubmittedBy    generic.StaffID      `json:"submitted_by"`
	SubmittedAt    time.Time            `json:"submitted_at"`
	Status         string               `json:"status"`
	IdempotencyKey string               `json:"idempotency_key"`
}
