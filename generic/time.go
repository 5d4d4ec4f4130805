package generic

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// TIME POINT - Calendar date (claims work at day granularity)
// =============================================================================

const DateLayout = "2006-01-02"

type TimePoint struct {
	Time time.Time
}

// Constructors
func NewTimePoint(year int, month time.Month, day int) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func FromTime(t time.Time) TimePoint {
	return NewTimePoint(t.Year(), t.Month(), t.Day())
}

func Today() TimePoint {
	return FromTime(time.Now())
}

// ParseDate accepts YYYY-MM-DD or RFC3339 and drops the time of day.
func ParseDate(s string) (TimePoint, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return FromTime(t), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return TimePoint{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD)", s)
	}
	return FromTime(t), nil
}

// Comparison
func (tp TimePoint) Before(other TimePoint) bool        { return tp.normalize().Before(other.normalize()) }
func (tp TimePoint) Equal(other TimePoint) bool         { return tp.normalize().Equal(other.normalize()) }
func (tp TimePoint) After(other TimePoint) bool         { return tp.normalize().After(other.normalize()) }
func (tp TimePoint) BeforeOrEqual(other TimePoint) bool { return tp.Before(other) || tp.Equal(other) }

func (tp TimePoint) normalize() time.Time {
	return time.Date(tp.Time.Year(), tp.Time.Month(), tp.Time.Day(), 0, 0, 0, 0, time.UTC)
}

// Arithmetic
func (tp TimePoint) AddDays(n int) TimePoint  { return TimePoint{Time: tp.Time.AddDate(0, 0, n)} }
func (tp TimePoint) AddYears(n int) TimePoint { return TimePoint{Time: tp.Time.AddDate(n, 0, 0)} }

// Properties
func (tp TimePoint) Year() int         { return tp.Time.Year() }
func (tp TimePoint) Month() time.Month { return tp.Time.Month() }
func (tp TimePoint) Day() int          { return tp.Time.Day() }
func (tp TimePoint) IsZero() bool      { return tp.Time.IsZero() }

func (tp TimePoint) String() string {
	if tp.IsZero() {
		return ""
	}
	return tp.Time.Format(DateLayout)
}

// MarshalJSON writes the date as "YYYY-MM-DD", or null when unset.
func (tp TimePoint) MarshalJSON() ([]byte, error) {
	if tp.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.Quote(tp.String())), nil
}

func (tp *TimePoint) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" || s == `""` {
		*tp = TimePoint{}
		return nil
	}
	unq, err := strconv.Unquote(s)
	if err != nil {
		return fmt.Errorf("invalid date %s", s)
	}
	parsed, err := ParseDate(unq)
	if err != nil {
		return err
	}
	*tp = parsed
	return nil
}

// =============================================================================
// DATE ARITHMETIC
// =============================================================================

// DaysBetween returns the signed number of days from -> to, rounded to the
// nearest whole day.
func DaysBetween(from, to TimePoint) int {
	hours := to.normalize().Sub(from.normalize()).Hours()
	return int(math.Round(hours / 24))
}

// AgeAt returns whole years between birth and ref. The year difference is
// reduced by one when ref falls before the birthday within its year.
func AgeAt(birth, ref TimePoint) int {
	years := ref.Year() - birth.Year()
	if ref.Month() < birth.Month() ||
		(ref.Month() == birth.Month() && ref.Day() < birth.Day()) {
		years--
	}
	return years
}

// DaysUntilAge returns the days from ref until the given birthday, never
// negative.
func DaysUntilAge(birth, ref TimePoint, age int) int {
	days := DaysBetween(ref, birth.AddYears(age))
	if days < 0 {
		return 0
	}
	return days
}
