package submission

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/claims-engine/claims"
	"github.com/warp/claims-engine/compensation"
	"github.com/warp/claims-engine/generic"
	"github.com/warp/claims-engine/reference"
)

// =============================================================================
// REQUEST
// =============================================================================

// Request is one officer's submission for a case.
type Request struct {
	IRN             generic.IRN
	StaffID         generic.StaffID
	IncidentType    generic.IncidentType // defaults to the case's incident type
	ClaimType       string               // defaults to the case's claim type
	Criteria        []compensation.CriterionInput
	Selected        *compensation.SelectedCriterion
	MedicalExpenses decimal.Decimal
	MiscExpenses    decimal.Decimal
	Deductions      decimal.Decimal
	Findings        string
	Recommendations string

	// SubmissionID makes the review enqueue idempotent across client
	// retries. Generated when empty.
	SubmissionID string
}

func (r Request) incidentType(file *claims.File) generic.IncidentType {
	if r.IncidentType != "" {
		return r.IncidentType
	}
	return file.Case.Incident.Type
}

func (r Request) claimType(file *claims.File) string {
	if ct := strings.TrimSpace(r.ClaimType); ct != "" {
		return ct
	}
	return file.Case.ClaimType
}

// CalculationInput converts the request into engine input.
func (r Request) CalculationInput(file *claims.File) compensation.Input {
	return compensation.Input{
		IncidentType:    r.incidentType(file),
		Criteria:        r.Criteria,
		Selected:        r.Selected,
		MedicalExpenses: r.MedicalExpenses,
		MiscExpenses:    r.MiscExpenses,
		Deductions:      r.Deductions,
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// validate records every request-level failure. Percentage ranges are
// checked by the engine and merged by the caller.
func validate(req Request, file *claims.File, docs claims.DocumentStatus, ref *reference.Data) *generic.ValidationError {
	verr := &generic.ValidationError{}

	incident := req.incidentType(file)
	if !incident.Valid() {
		verr.Add("incident_type", "select an incident type")
	}

	claimType := req.claimType(file)
	switch {
	case claimType == "":
		verr.Add("claim_type", "select a claim type")
	case ref != nil && len(ref.ClaimTypes) > 0:
		if _, ok := ref.ClaimType(claimType); !ok {
			verr.Add("claim_type", "unknown claim type "+claimType)
		}
	}

	if incident == generic.IncidentInjury && !hasCriterion(req) {
		verr.Add("criteria", "select at least one injury criterion")
	}

	if strings.TrimSpace(req.Findings) == "" {
		verr.Add("findings", "findings are required")
	}
	if strings.TrimSpace(req.Recommendations) == "" {
		verr.Add("recommendations", "recommendations are required")
	}

	if !docs.Complete() {
		verr.MissingDocuments = append(verr.MissingDocuments, docs.Missing...)
	}
	return verr
}

func hasCriterion(req Request) bool {
	if req.Selected != nil && strings.TrimSpace(req.Selected.Key) != "" {
		return true
	}
	for _, c := range req.Criteria {
		if c.Checked || c.DoctorPercentage.IsPositive() {
			return true
		}
	}
	return false
}

// merge appends the engine's field errors for fields validate did not
// already report.
func merge(dst, src *generic.ValidationError) {
	reported := make(map[string]bool, len(dst.Fields))
	for _, f := range dst.Fields {
		reported[f.Field] = true
	}
	for _, f := range src.Fields {
		if !reported[f.Field] {
			dst.Fields = append(dst.Fields, f)
		}
	}
}
