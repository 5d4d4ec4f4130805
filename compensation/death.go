package compensation

import (
	"github.com/shopspring/decimal"
	"github.com/warp/claims-engine/generic"
)

// =============================================================================
// DEATH BRANCH
// =============================================================================

var (
	fifty         = decimal.NewFromInt(50)
	seven         = decimal.NewFromInt(7)
	childAgeLimit = 16
)

// DeathAmount applies the death threshold. Earnings exactly at the
// minimum take the maximum award.
func DeathAmount(annualEarnings, minAmount, maxAmount decimal.Decimal) decimal.Decimal {
	if annualEarnings.LessThan(minAmount) {
		return annualEarnings.Mul(eight)
	}
	return maxAmount
}

// ChildPercent is each child's share in percent: round(50 / childCount).
// The same rule applies with or without a spouse.
func ChildPercent(childCount int) decimal.Decimal {
	if childCount <= 0 {
		return decimal.Zero
	}
	return fifty.Div(decimal.NewFromInt(int64(childCount))).Round(0)
}

// Apportionment is the split of the calculated death amount.
type Apportionment struct {
	SpousePercent decimal.Decimal `json:"spouse_percent"`
	SpouseShare   decimal.Decimal `json:"spouse_share"`
	ChildPercent  decimal.Decimal `json:"child_percent"`
	ChildShare    decimal.Decimal `json:"child_share"`
	ChildCount    int             `json:"child_count"`
}

// Apportion splits amount between a spouse (50% when one exists) and the
// children. Shares are rounded to cents and need not sum to amount.
func Apportion(amount decimal.Decimal, hasSpouse bool, childCount int) Apportionment {
	a := Apportionment{
		SpousePercent: decimal.Zero,
		SpouseShare:   decimal.Zero,
		ChildPercent:  ChildPercent(childCount),
		ChildCount:    childCount,
	}
	if hasSpouse {
		a.SpousePercent = fifty
		a.SpouseShare = generic.RoundMoney(generic.PercentOf(amount, fifty))
	}
	a.ChildShare = generic.RoundMoney(generic.PercentOf(amount, a.ChildPercent))
	return a
}

// ChildWeeklyBenefit returns the weeks until the child turns 16 (3 dp) and
// the benefit over that period (2 dp). Children aged 16 or more at the
// incident date get zero.
func ChildWeeklyBenefit(dateOfBirth, incidentDate generic.TimePoint, perWeek decimal.Decimal) (weeks, benefit decimal.Decimal) {
	if dateOfBirth.IsZero() || generic.AgeAt(dateOfBirth, incidentDate) >= childAgeLimit {
		return decimal.Zero, decimal.Zero
	}
	days := generic.DaysUntilAge(dateOfBirth, incidentDate, childAgeLimit)
	weeks = decimal.NewFromInt(int64(days)).Div(seven).Round(3)
	benefit = generic.RoundMoney(perWeek.Mul(weeks))
	return weeks, benefit
}

// DependantShare is final * degree / 100, rounded to cents.
func DependantShare(final, degree decimal.Decimal) decimal.Decimal {
	return generic.RoundMoney(generic.PercentOf(final, degree))
}

// FinalAmount is the common tail of both branches, floored at zero.
func FinalAmount(base, medical, misc, deductions decimal.Decimal) decimal.Decimal {
	return generic.FloorZero(base.Add(medical).Add(misc).Sub(deductions))
}
