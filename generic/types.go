/*
Package generic provides the domain-agnostic building blocks of the claims engine.

PURPOSE:
  Identifiers, money and percentage helpers, date arithmetic and the error
  taxonomy shared by every domain package. Nothing in here knows what an
  injury criterion or a dependant is; the claims, compensation and submission
  packages build on these primitives.

KEY CONCEPTS IN THIS FILE (types.go):
  - IRN / DisplayIRN: claim reference numbers (internal and human-facing)
  - StaffID / Region: identity context of the signed-in claims officer
  - IncidentType: Injury or Death, drives the calculation branch
  - Money helpers: rounding and flooring on decimal.Decimal
  - Percentage validation: [0, 100] range check shared by doctor
    percentages and degree of dependence

DESIGN PRINCIPLES:
  1. Precision: all money is decimal.Decimal, never float64
  2. Type Safety: distinct identifier types so an IRN cannot be passed as a StaffID
  3. Reject early: out-of-range percentages are errors, never silently clamped

SEE ALSO:
  - errors.go: Sentinel and structured errors
  - time.go: Date arithmetic (age, days until a birthday)
*/
package generic

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type IRN string
type WorkerID string
type StaffID string
type Region string

func (i IRN) String() string { return string(i) }

// =============================================================================
// INCIDENT TYPE
// =============================================================================

type IncidentType string

const (
	IncidentInjury IncidentType = "Injury"
	IncidentDeath  IncidentType = "Death"
)

func (t IncidentType) Valid() bool {
	return t == IncidentInjury || t == IncidentDeath
}

// ParseIncidentType accepts the canonical names case-insensitively.
func ParseIncidentType(s string) (IncidentType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "injury":
		return IncidentInjury, nil
	case "death":
		return IncidentDeath, nil
	case "":
		return "", &FieldError{Field: "incident_type", Message: "incident type is required"}
	default:
		return "", &FieldError{Field: "incident_type", Message: fmt.Sprintf("unknown incident type %q", s)}
	}
}

// =============================================================================
// MONEY
// =============================================================================

var (
	Hundred     = decimal.NewFromInt(100)
	TenThousand = decimal.NewFromInt(10000)
	WeeksInYear = decimal.NewFromInt(52)
)

// RoundMoney rounds to whole cents.
func RoundMoney(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

// FloorZero returns d, or zero when d is negative.
func FloorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// ParseDecimal parses an optional decimal field. Empty input is zero.
func ParseDecimal(field, s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &FieldError{Field: field, Message: fmt.Sprintf("invalid number %q", s)}
	}
	return d, nil
}

// =============================================================================
// PERCENTAGE
// =============================================================================

// ValidatePercentage rejects values outside [0, 100].
func ValidatePercentage(field string, p decimal.Decimal) error {
	if p.IsNegative() || p.GreaterThan(Hundred) {
		return &FieldError{
			Field:   field,
			Message: fmt.Sprintf("must be between 0 and 100, got %s", p.String()),
		}
	}
	return nil
}

// PercentOf returns amount * p / 100 without rounding.
func PercentOf(amount, p decimal.Decimal) decimal.Decimal {
	return amount.Mul(p).Div(Hundred)
}

// ValidateNonNegative rejects negative money inputs such as expenses.
func ValidateNonNegative(field string, d decimal.Decimal) error {
	if d.IsNegative() {
		return &FieldError{Field: field, Message: "must not be negative"}
	}
	return nil
}
