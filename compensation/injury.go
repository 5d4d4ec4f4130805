/*
injury.go - Injury compensation formulas and the checklist

PURPOSE:
  Two formulas compute injury compensation, and they round differently:

  1. Checklist (per criterion, ceiling):
       ceil((baseAnnualWage * 8 * p * f) / 100 / 100)
     with a retained trace string "((3125*8*40*5)/100)/100".

  2. Single criterion (restore / percentage control, half-away-from-zero):
       round((weeklyWage * 52 * 8 * f * p) / 10000)

  Both are kept as separate functions. Do not unify them without a
  decision on which rounding rule is authoritative.

CHECKLIST RULES:
  - Unchecked: doctor percentage 0, trace "--", compensation 0
  - Setting p > 0 checks the entry
  - Setting p = 0 leaves the checked flag alone (compensation becomes 0)
  - Unchecking zeroes percentage, trace and compensation
  - Total = sum over checked entries

SEE ALSO:
  - death.go: Death branch
  - engine.go: Branch selection and the common tail
*/
package compensation

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/claims-engine/generic"
	"github.com/warp/claims-engine/reference"
)

// NoTrace is the trace shown for unchecked entries.
const NoTrace = "--"

var eight = decimal.NewFromInt(8)

// =============================================================================
// FORMULAS
// =============================================================================

// EntryCompensation is the checklist formula. The amount is rounded up to
// a whole currency unit.
func EntryCompensation(baseAnnualWage, doctorPercentage, factor decimal.Decimal) (decimal.Decimal, string) {
	amount := baseAnnualWage.Mul(eight).Mul(doctorPercentage).Mul(factor).
		Div(generic.Hundred).Div(generic.Hundred).Ceil()
	trace := fmt.Sprintf("((%s*8*%s*%s)/100)/100",
		baseAnnualWage.String(), doctorPercentage.String(), factor.String())
	return amount, trace
}

// SingleCriterionAmount is the selected-criterion formula, rounded half
// away from zero to a whole currency unit.
func SingleCriterionAmount(weeklyWage, factor, doctorPercentage decimal.Decimal) decimal.Decimal {
	annual := weeklyWage.Mul(generic.WeeksInYear)
	return annual.Mul(eight).Mul(factor).Mul(doctorPercentage).Div(generic.TenThousand).Round(0)
}

// =============================================================================
// CHECKLIST
// =============================================================================

// ChecklistEntry is one criterion row with its computed compensation.
type ChecklistEntry struct {
	Key              string          `json:"key"`
	Description      string          `json:"description"`
	Factor           decimal.Decimal `json:"factor"`
	Checked          bool            `json:"checked"`
	DoctorPercentage decimal.Decimal `json:"doctor_percentage"`
	Trace            string          `json:"trace"`
	Compensation     decimal.Decimal `json:"compensation"`
}

// Checklist holds every injury criterion and recomputes an entry whenever
// its percentage or checked flag changes.
type Checklist struct {
	baseAnnualWage decimal.Decimal
	entries        []ChecklistEntry
	index          map[string]int
}

func NewChecklist(baseAnnualWage decimal.Decimal, criteria []reference.Criterion) *Checklist {
	cl := &Checklist{
		baseAnnualWage: baseAnnualWage,
		entries:        make([]ChecklistEntry, len(criteria)),
		index:          make(map[string]int, len(criteria)),
	}
	for i, c := range criteria {
		cl.entries[i] = ChecklistEntry{
			Key:         c.Key,
			Description: c.Description,
			Factor:      c.Factor,
			Trace:       NoTrace,
		}
		cl.index[c.Key] = i
	}
	return cl
}

func (cl *Checklist) lookup(key string) (*ChecklistEntry, error) {
	i, ok := cl.index[key]
	if !ok {
		return nil, &generic.FieldError{Field: "criteria", Message: fmt.Sprintf("unknown injury criterion %q", key)}
	}
	return &cl.entries[i], nil
}

// SetPercentage sets the doctor percentage. A positive value checks the
// entry. Out-of-range values are rejected and leave the entry unchanged.
func (cl *Checklist) SetPercentage(key string, p decimal.Decimal) error {
	e, err := cl.lookup(key)
	if err != nil {
		return err
	}
	if err := generic.ValidatePercentage("doctor_percentage["+key+"]", p); err != nil {
		return err
	}
	e.DoctorPercentage = p
	if p.IsPositive() {
		e.Checked = true
	}
	cl.recompute(e)
	return nil
}

// SetChecked toggles an entry. Unchecking resets it.
func (cl *Checklist) SetChecked(key string, checked bool) error {
	e, err := cl.lookup(key)
	if err != nil {
		return err
	}
	e.Checked = checked
	cl.recompute(e)
	return nil
}

func (cl *Checklist) recompute(e *ChecklistEntry) {
	if !e.Checked {
		e.DoctorPercentage = decimal.Zero
		e.Trace = NoTrace
		e.Compensation = decimal.Zero
		return
	}
	e.Compensation, e.Trace = EntryCompensation(cl.baseAnnualWage, e.DoctorPercentage, e.Factor)
}

// Entries returns a copy of every row, checked or not.
func (cl *Checklist) Entries() []ChecklistEntry {
	return append([]ChecklistEntry{}, cl.entries...)
}

// Checked returns the checked rows.
func (cl *Checklist) Checked() []ChecklistEntry {
	var out []ChecklistEntry
	for _, e := range cl.entries {
		if e.Checked {
			out = append(out, e)
		}
	}
	return out
}

// Total sums the compensation of checked rows.
func (cl *Checklist) Total() decimal.Decimal {
	total := decimal.Zero
	for _, e := range cl.entries {
		if e.Checked {
			total = total.Add(e.Compensation)
		}
	}
	return total
}
