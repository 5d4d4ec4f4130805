package compensation

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/claims-engine/claims"
	"github.com/warp/claims-engine/generic"
	"github.com/warp/claims-engine/reference"
)

// =============================================================================
// INPUT / RESULT
// =============================================================================

// CriterionInput is the officer's entry for one checklist row.
type CriterionInput struct {
	Key              string          `json:"key"`
	Checked          bool            `json:"checked"`
	DoctorPercentage decimal.Decimal `json:"doctor_percentage"`
}

// SelectedCriterion chooses the single-criterion path.
type SelectedCriterion struct {
	Key              string          `json:"key"`
	DoctorPercentage decimal.Decimal `json:"doctor_percentage"`
}

// Input is the calculation state of one case.
type Input struct {
	IncidentType    generic.IncidentType
	Criteria        []CriterionInput
	Selected        *SelectedCriterion
	MedicalExpenses decimal.Decimal
	MiscExpenses    decimal.Decimal
	Deductions      decimal.Decimal
}

// SelectedResult is the outcome of the single-criterion path.
type SelectedResult struct {
	Key              string          `json:"key"`
	Description      string          `json:"description"`
	Factor           decimal.Decimal `json:"factor"`
	DoctorPercentage decimal.Decimal `json:"doctor_percentage"`
	Amount           decimal.Decimal `json:"amount"`
}

// DependantResult is one dependant's line of a death calculation.
type DependantResult struct {
	DependantID        string               `json:"dependant_id"`
	Name               string               `json:"name"`
	Type               claims.DependantType `json:"type"`
	Age                int                  `json:"age"`
	DegreeOfDependence decimal.Decimal      `json:"degree_of_dependence"`
	Compensation       decimal.Decimal      `json:"compensation"`
	ApportionedPercent decimal.Decimal      `json:"apportioned_percent"`
	ApportionedAmount  decimal.Decimal      `json:"apportioned_amount"`
	WeeksUntil16       decimal.Decimal      `json:"weeks_until_16"`
	WeeklyBenefit      decimal.Decimal      `json:"weekly_benefit"`
}

// DeathResult is the death-branch breakdown.
type DeathResult struct {
	WeeklyWage       decimal.Decimal   `json:"weekly_wage"`
	AnnualEarnings   decimal.Decimal   `json:"annual_earnings"`
	CalculatedAmount decimal.Decimal   `json:"calculated_amount"`
	HasSpouse        bool              `json:"has_spouse"`
	Apportionment    Apportionment     `json:"apportionment"`
	Dependants       []DependantResult `json:"dependants"`
}

// Result is the full breakdown of a calculation.
type Result struct {
	IncidentType     generic.IncidentType `json:"incident_type"`
	Checklist        []ChecklistEntry     `json:"checklist,omitempty"`
	Selected         *SelectedResult      `json:"selected,omitempty"`
	Death            *DeathResult         `json:"death,omitempty"`
	BaseCompensation decimal.Decimal      `json:"base_compensation"`
	MedicalExpenses  decimal.Decimal      `json:"medical_expenses"`
	MiscExpenses     decimal.Decimal      `json:"misc_expenses"`
	Deductions       decimal.Decimal      `json:"deductions"`
	FinalAmount      decimal.Decimal      `json:"final_amount"`
}

// CheckedCriteria returns the checklist rows that count toward the total.
func (r *Result) CheckedCriteria() []ChecklistEntry {
	var out []ChecklistEntry
	for _, e := range r.Checklist {
		if e.Checked {
			out = append(out, e)
		}
	}
	return out
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine computes compensation from explicit reference data. It holds no
// mutable state and performs no I/O.
type Engine struct {
	params   reference.Parameters
	criteria []reference.Criterion
}

func NewEngine(params reference.Parameters, criteria []reference.Criterion) *Engine {
	return &Engine{params: params, criteria: criteria}
}

// FromReference builds an engine over a reference snapshot.
func FromReference(data *reference.Data) *Engine {
	return NewEngine(data.Parameters, data.Criteria)
}

// Calculate runs the branch for the incident type and applies the common
// tail. Every input problem is collected into one *generic.ValidationError.
// Absent employment data yields zero for the affected component.
func (e *Engine) Calculate(file *claims.File, in Input) (*Result, error) {
	verr := &generic.ValidationError{}

	incident := in.IncidentType
	if incident == "" {
		incident = file.Case.Incident.Type
	}
	if !incident.Valid() {
		verr.Add("incident_type", "incident type must be Injury or Death")
	}

	for _, f := range []struct {
		name  string
		value decimal.Decimal
	}{
		{"medical_expenses", in.MedicalExpenses},
		{"misc_expenses", in.MiscExpenses},
		{"deductions", in.Deductions},
	} {
		if err := generic.ValidateNonNegative(f.name, f.value); err != nil {
			verr.AddErr(err)
		}
	}

	result := &Result{
		IncidentType:    incident,
		MedicalExpenses: in.MedicalExpenses,
		MiscExpenses:    in.MiscExpenses,
		Deductions:      in.Deductions,
	}

	switch incident {
	case generic.IncidentInjury:
		e.injury(file, in, result, verr)
	case generic.IncidentDeath:
		e.death(file, result, verr)
	}

	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	result.FinalAmount = FinalAmount(result.BaseCompensation,
		in.MedicalExpenses, in.MiscExpenses, in.Deductions)

	if result.Death != nil {
		for i := range result.Death.Dependants {
			d := &result.Death.Dependants[i]
			d.Compensation = DependantShare(result.FinalAmount, d.DegreeOfDependence)
		}
	}
	return result, nil
}

func (e *Engine) weeklyWage(file *claims.File) decimal.Decimal {
	if file.Employment == nil {
		return decimal.Zero
	}
	return file.Employment.WeeklyWage
}

func (e *Engine) injury(file *claims.File, in Input, result *Result, verr *generic.ValidationError) {
	if in.Selected != nil && strings.TrimSpace(in.Selected.Key) != "" {
		e.singleCriterion(file, *in.Selected, result, verr)
		return
	}

	cl := NewChecklist(e.params.BaseAnnualWage, e.criteria)
	for _, ci := range in.Criteria {
		if err := cl.SetChecked(ci.Key, ci.Checked); err != nil {
			verr.AddErr(err)
			continue
		}
		if !ci.Checked && !ci.DoctorPercentage.IsPositive() {
			continue
		}
		if err := cl.SetPercentage(ci.Key, ci.DoctorPercentage); err != nil {
			verr.AddErr(err)
		}
	}
	result.Checklist = cl.Entries()
	result.BaseCompensation = cl.Total()
}

func (e *Engine) singleCriterion(file *claims.File, sel SelectedCriterion, result *Result, verr *generic.ValidationError) {
	var crit *reference.Criterion
	for i := range e.criteria {
		if e.criteria[i].Key == sel.Key {
			crit = &e.criteria[i]
			break
		}
	}
	if crit == nil {
		verr.Add("selected_criterion", "unknown injury criterion "+sel.Key)
		return
	}
	if err := generic.ValidatePercentage("doctor_percentage", sel.DoctorPercentage); err != nil {
		verr.AddErr(err)
		return
	}

	amount := SingleCriterionAmount(e.weeklyWage(file), crit.Factor, sel.DoctorPercentage)
	result.Selected = &SelectedResult{
		Key:              crit.Key,
		Description:      crit.Description,
		Factor:           crit.Factor,
		DoctorPercentage: sel.DoctorPercentage,
		Amount:           amount,
	}
	result.BaseCompensation = amount
}

func (e *Engine) death(file *claims.File, result *Result, verr *generic.ValidationError) {
	weekly := e.weeklyWage(file)
	annual := weekly.Mul(generic.WeeksInYear)
	calculated := DeathAmount(annual, e.params.MinCompensationAmountDeath, e.params.MaxCompensationAmountDeath)

	childCount := 0
	for _, d := range file.Dependants {
		if d.Type == claims.DependantChild {
			childCount++
		}
	}
	hasSpouse := file.HasSpouse()
	split := Apportion(calculated, hasSpouse, childCount)

	incidentDate := file.Case.Incident.Date
	deps := make([]DependantResult, 0, len(file.Dependants))
	for _, d := range file.Dependants {
		if err := generic.ValidatePercentage("degree_of_dependence["+d.ID+"]", d.DegreeOfDependence); err != nil {
			verr.AddErr(err)
			continue
		}
		dr := DependantResult{
			DependantID:        d.ID,
			Name:               d.FullName(),
			Type:               d.Type,
			DegreeOfDependence: d.DegreeOfDependence,
			ApportionedPercent: decimal.Zero,
			ApportionedAmount:  decimal.Zero,
			WeeksUntil16:       decimal.Zero,
			WeeklyBenefit:      decimal.Zero,
		}
		if !d.DateOfBirth.IsZero() && !incidentDate.IsZero() {
			dr.Age = generic.AgeAt(d.DateOfBirth, incidentDate)
		}
		switch d.Type {
		case claims.DependantSpouse:
			dr.ApportionedPercent = split.SpousePercent
			dr.ApportionedAmount = split.SpouseShare
		case claims.DependantChild:
			dr.ApportionedPercent = split.ChildPercent
			dr.ApportionedAmount = split.ChildShare
			if !incidentDate.IsZero() {
				dr.WeeksUntil16, dr.WeeklyBenefit = ChildWeeklyBenefit(d.DateOfBirth, incidentDate, e.params.WeeklyBenefitPerChild)
			}
		}
		deps = append(deps, dr)
	}

	result.Death = &DeathResult{
		WeeklyWage:       weekly,
		AnnualEarnings:   annual,
		CalculatedAmount: calculated,
		HasSpouse:        hasSpouse,
		Apportionment:    split,
		Dependants:       deps,
	}
	result.BaseCompensation = calculated
}
