/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Domain records
  (claims.File, claims.CalculationRecord, compensation.Result) are
  embedded where their JSON shape is already the contract; request bodies
  are separate so the wire format can evolve without touching the engine.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Reference:   ReferenceDTO
  Cases:       CaseDTO, LockDTO
  Calculation: CalculationRequest, CalculationDTO
  Scenarios:   ScenarioDTO, LoadScenarioRequest
  Errors:      ErrorResponse

VALIDATION:
  Validation is done in handlers and the submission writer, not in DTOs.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - submission/validate.go: Request validation
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/claims-engine/claims"
	"github.com/warp/claims-engine/compensation"
	"github.com/warp/claims-engine/factory"
	"github.com/warp/claims-engine/generic"
	"github.com/warp/claims-engine/submission"
)

// =============================================================================
// REFERENCE
// =============================================================================

// ReferenceDTO is the active reference snapshot.
type ReferenceDTO struct {
	factory.ReferenceJSON
	LoadedAt string `json:"loaded_at"`
}

// =============================================================================
// CASES
// =============================================================================

// CaseDTO is a case file with its document status and stored calculation.
type CaseDTO struct {
	claims.File
	Documents   claims.DocumentStatus     `json:"documents"`
	Calculation *claims.CalculationRecord `json:"calculation,omitempty"`
}

// LockDTO reports lock ownership after an acquire or release.
type LockDTO struct {
	IRN      generic.IRN     `json:"irn"`
	LockedBy generic.StaffID `json:"locked_by,omitempty"`
	LockedAt string          `json:"locked_at,omitempty"`
	Released bool            `json:"released,omitempty"`
}

// =============================================================================
// CALCULATION
// =============================================================================

// CalculationRequest is the body of preview and submit.
type CalculationRequest struct {
	IncidentType    string                          `json:"incident_type"`
	ClaimType       string                          `json:"claim_type"`
	Criteria        []compensation.CriterionInput   `json:"criteria"`
	Selected        *compensation.SelectedCriterion `json:"selected_criterion,omitempty"`
	MedicalExpenses decimal.Decimal                 `json:"medical_expenses"`
	MiscExpenses    decimal.Decimal                 `json:"misc_expenses"`
	Deductions      decimal.Decimal                 `json:"deductions"`
	Findings        string                          `json:"findings"`
	Recommendations string                          `json:"recommendations"`
	SubmissionID    string                          `json:"submission_id"`
}

// toSubmission maps the body onto a writer request. An empty incident type
// falls back to the case's own.
func (r CalculationRequest) toSubmission(irn generic.IRN, staff generic.StaffID) (submission.Request, error) {
	var incident generic.IncidentType
	if r.IncidentType != "" {
		parsed, err := generic.ParseIncidentType(r.IncidentType)
		if err != nil {
			return submission.Request{}, err
		}
		incident = parsed
	}
	return submission.Request{
		IRN:             irn,
		StaffID:         staff,
		IncidentType:    incident,
		ClaimType:       r.ClaimType,
		Criteria:        r.Criteria,
		Selected:        r.Selected,
		MedicalExpenses: r.MedicalExpenses,
		MiscExpenses:    r.MiscExpenses,
		Deductions:      r.Deductions,
		Findings:        r.Findings,
		Recommendations: r.Recommendations,
		SubmissionID:    r.SubmissionID,
	}, nil
}

// CalculationDTO is the stored calculation of a case.
type CalculationDTO struct {
	Record     *claims.CalculationRecord      `json:"record"`
	Summary    *claims.WorkerSummary          `json:"summary,omitempty"`
	Dependants []claims.DependantCompensation `json:"dependants"`
	Review     []claims.ReviewEntry           `json:"review"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	StaffID     string `json:"staff_id"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the error body of every non-2xx response.
type ErrorResponse struct {
	Error            string               `json:"error"`
	Details          string               `json:"details,omitempty"`
	Fields           []generic.FieldError `json:"fields,omitempty"`
	MissingDocuments []string             `json:"missing_documents,omitempty"`
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
