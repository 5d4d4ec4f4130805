/*
Package reference loads the lookup tables the calculation engine depends on.

PURPOSE:
  Injury criteria, claim types and system parameters are read from the
  store once at startup (and again on an explicit reload) into an
  immutable Data value. The engine receives Parameters as an explicit
  argument; nothing reads reference data from package state.

REQUIRED PARAMETERS:
  MinCompensationAmountDeath  death threshold on annual earnings
  MaxCompensationAmountDeath  death award at or above the threshold
  WeeklyBenefitPerChild       per-week benefit for children under 16
  BaseAnnualWage              base of the injury checklist formula

  BaseCompensationAmount and WeeklyBenefitRate are optional and default
  to zero. A missing required key fails the load with a
  generic.MissingParameterError.

USAGE:
  data, err := reference.Load(ctx, store)
  holder := reference.NewHolder(data)
  engine := compensation.NewEngine(holder.Get().Parameters)

SEE ALSO:
  - factory/reference.go: JSON import of the same tables
  - compensation/engine.go: Consumer of Parameters
*/
package reference

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/claims-engine/generic"
)

// Parameter keys as stored in the system_parameters table.
const (
	KeyBaseCompensationAmount     = "BaseCompensationAmount"
	KeyMinCompensationAmountDeath = "MinCompensationAmountDeath"
	KeyMaxCompensationAmountDeath = "MaxCompensationAmountDeath"
	KeyWeeklyBenefitPerChild      = "WeeklyBenefitPerChild"
	KeyBaseAnnualWage             = "BaseAnnualWage"
	KeyWeeklyBenefitRate          = "WeeklyBenefitRate"
)

var requiredKeys = []string{
	KeyMinCompensationAmountDeath,
	KeyMaxCompensationAmountDeath,
	KeyWeeklyBenefitPerChild,
	KeyBaseAnnualWage,
}

// =============================================================================
// TYPES
// =============================================================================

// Criterion is one row of the injury checklist.
type Criterion struct {
	Key         string          `json:"key"`
	Description string          `json:"description"`
	Factor      decimal.Decimal `json:"factor"`
}

// ClaimType is a lookup of claim classifications.
type ClaimType struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Parameters are the typed system parameters plus the raw table.
type Parameters struct {
	BaseCompensationAmount     decimal.Decimal
	MinCompensationAmountDeath decimal.Decimal
	MaxCompensationAmountDeath decimal.Decimal
	WeeklyBenefitPerChild      decimal.Decimal
	BaseAnnualWage             decimal.Decimal
	WeeklyBenefitRate          decimal.Decimal
	Raw                        map[string]string
}

// Data is one consistent snapshot of the reference tables.
type Data struct {
	Criteria   []Criterion
	ClaimTypes []ClaimType
	Parameters Parameters
	LoadedAt   time.Time
}

// Criterion looks up a criterion by key.
func (d *Data) Criterion(key string) (Criterion, bool) {
	for _, c := range d.Criteria {
		if c.Key == key {
			return c, true
		}
	}
	return Criterion{}, false
}

// ClaimType looks up a claim type by code.
func (d *Data) ClaimType(code string) (ClaimType, bool) {
	for _, ct := range d.ClaimTypes {
		if strings.EqualFold(ct.Code, code) {
			return ct, true
		}
	}
	return ClaimType{}, false
}

// =============================================================================
// LOADING
// =============================================================================

// Source is the read side of the reference tables.
type Source interface {
	ListCriteria(ctx context.Context) ([]Criterion, error)
	ListClaimTypes(ctx context.Context) ([]ClaimType, error)
	ListParameters(ctx context.Context) (map[string]string, error)
}

// Store adds the admin import to Source.
type Store interface {
	Source

	// ReplaceReference swaps all reference tables for data in one transaction.
	ReplaceReference(ctx context.Context, data *Data) error
}

// Load reads all reference tables. Store failures are returned wrapped;
// a missing required parameter is a MissingParameterError.
func Load(ctx context.Context, src Source) (*Data, error) {
	criteria, err := src.ListCriteria(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load injury criteria: %w", err)
	}
	claimTypes, err := src.ListClaimTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load claim types: %w", err)
	}
	raw, err := src.ListParameters(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load system parameters: %w", err)
	}

	params, err := ParseParameters(raw)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(criteria, func(i, j int) bool { return criteria[i].Key < criteria[j].Key })

	return &Data{
		Criteria:   criteria,
		ClaimTypes: claimTypes,
		Parameters: params,
		LoadedAt:   time.Now().UTC(),
	}, nil
}

// ParseParameters converts the raw key/value table into typed Parameters.
func ParseParameters(raw map[string]string) (Parameters, error) {
	for _, k := range requiredKeys {
		if strings.TrimSpace(raw[k]) == "" {
			return Parameters{}, &generic.MissingParameterError{Key: k}
		}
	}

	p := Parameters{Raw: make(map[string]string, len(raw))}
	for k, v := range raw {
		p.Raw[k] = v
	}

	fields := []struct {
		key string
		dst *decimal.Decimal
	}{
		{KeyBaseCompensationAmount, &p.BaseCompensationAmount},
		{KeyMinCompensationAmountDeath, &p.MinCompensationAmountDeath},
		{KeyMaxCompensationAmountDeath, &p.MaxCompensationAmountDeath},
		{KeyWeeklyBenefitPerChild, &p.WeeklyBenefitPerChild},
		{KeyBaseAnnualWage, &p.BaseAnnualWage},
		{KeyWeeklyBenefitRate, &p.WeeklyBenefitRate},
	}
	for _, f := range fields {
		d, err := generic.ParseDecimal(f.key, raw[f.key])
		if err != nil {
			return Parameters{}, fmt.Errorf("%w: %v", generic.ErrReferenceData, err)
		}
		*f.dst = d
	}
	return p, nil
}

// =============================================================================
// HOLDER - swap-on-reload
// =============================================================================

// Holder keeps the current Data and swaps it atomically on reload.
type Holder struct {
	mu   sync.RWMutex
	data *Data
}

func NewHolder(data *Data) *Holder {
	return &Holder{data: data}
}

// Get returns the current snapshot. Callers must not mutate it.
func (h *Holder) Get() *Data {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.data
}

func (h *Holder) Set(data *Data) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.data = data
}

// Reload re-reads the tables and swaps them in on success. The previous
// snapshot stays active when loading fails.
func (h *Holder) Reload(ctx context.Context, src Source) (*Data, error) {
	data, err := Load(ctx, src)
	if err != nil {
		return nil, err
	}
	h.Set(data)
	return data, nil
}
