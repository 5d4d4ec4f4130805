/*
Package factory provides JSON to Go reference-data conversion.

PURPOSE:
  Converts a JSON reference document into reference.Data. Administrators
  maintain injury criteria, claim types and system parameters as one JSON
  document; the import endpoint runs it through this factory and writes
  the result to the store.

JSON SCHEMA:
  {
    "criteria": [
      {"key": "arm-loss", "description": "Loss of arm", "factor": 5}
    ],
    "claim_types": [
      {"code": "WC-INJ", "name": "Workplace injury"}
    ],
    "parameters": {
      "BaseAnnualWage": 3125,
      "MinCompensationAmountDeath": "50000",
      "MaxCompensationAmountDeath": 400000,
      "WeeklyBenefitPerChild": 25.5
    }
  }

  Parameter values may be JSON numbers or strings. Numbers are decoded
  without going through float64 so factors keep their exact digits.

KEY FEATURES:
  - Rejects duplicate criterion keys and claim codes
  - Rejects negative factors
  - Applies the same required-parameter check as reference.Load

USAGE:
  f := factory.NewReferenceFactory()
  data, err := f.ParseReference(body)
  err = store.ReplaceReference(ctx, data)

SEE ALSO:
  - reference/reference.go: Target types and required keys
  - api/handlers.go: ImportReference endpoint
*/
package factory

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/warp/claims-engine/generic"
	"github.com/warp/claims-engine/reference"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ReferenceJSON is the JSON representation of the reference tables.
type ReferenceJSON struct {
	Criteria   []CriterionJSON `json:"criteria"`
	ClaimTypes []ClaimTypeJSON `json:"claim_types"`
	Parameters map[string]any  `json:"parameters"`
}

// CriterionJSON represents one injury checklist criterion.
type CriterionJSON struct {
	Key         string      `json:"key"`
	Description string      `json:"description"`
	Factor      json.Number `json:"factor"`
}

type ClaimTypeJSON struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// =============================================================================
// REFERENCE FACTORY
// =============================================================================

// ReferenceFactory converts JSON reference documents to reference.Data.
type ReferenceFactory struct{}

// NewReferenceFactory creates a new reference factory.
func NewReferenceFactory() *ReferenceFactory {
	return &ReferenceFactory{}
}

// ParseReference parses a JSON document into reference.Data.
func (f *ReferenceFactory) ParseReference(body []byte) (*reference.Data, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var rj ReferenceJSON
	if err := dec.Decode(&rj); err != nil {
		return nil, fmt.Errorf("%w: failed to parse reference JSON: %v", generic.ErrValidation, err)
	}
	return f.FromJSON(rj)
}

// FromJSON converts ReferenceJSON to reference.Data.
func (f *ReferenceFactory) FromJSON(rj ReferenceJSON) (*reference.Data, error) {
	verr := &generic.ValidationError{}

	seen := make(map[string]bool)
	criteria := make([]reference.Criterion, 0, len(rj.Criteria))
	for i, cj := range rj.Criteria {
		field := fmt.Sprintf("criteria[%d]", i)
		key := strings.TrimSpace(cj.Key)
		if key == "" {
			verr.Add(field+".key", "key is required")
			continue
		}
		if seen[key] {
			verr.Add(field+".key", fmt.Sprintf("duplicate criterion %q", key))
			continue
		}
		seen[key] = true

		factor, err := generic.ParseDecimal(field+".factor", cj.Factor.String())
		if err != nil {
			verr.AddErr(err)
			continue
		}
		if err := generic.ValidateNonNegative(field+".factor", factor); err != nil {
			verr.AddErr(err)
			continue
		}
		criteria = append(criteria, reference.Criterion{
			Key:         key,
			Description: strings.TrimSpace(cj.Description),
			Factor:      factor,
		})
	}

	codes := make(map[string]bool)
	claimTypes := make([]reference.ClaimType, 0, len(rj.ClaimTypes))
	for i, ct := range rj.ClaimTypes {
		code := strings.TrimSpace(ct.Code)
		if code == "" || codes[strings.ToUpper(code)] {
			verr.Add(fmt.Sprintf("claim_types[%d].code", i), "code is required and must be unique")
			continue
		}
		codes[strings.ToUpper(code)] = true
		claimTypes = append(claimTypes, reference.ClaimType{Code: code, Name: ct.Name})
	}

	raw := make(map[string]string, len(rj.Parameters))
	for k, v := range rj.Parameters {
		s, err := parameterString(v)
		if err != nil {
			verr.Add("parameters."+k, err.Error())
			continue
		}
		raw[k] = s
	}

	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	params, err := reference.ParseParameters(raw)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(criteria, func(i, j int) bool { return criteria[i].Key < criteria[j].Key })

	return &reference.Data{
		Criteria:   criteria,
		ClaimTypes: claimTypes,
		Parameters: params,
		LoadedAt:   time.Now().UTC(),
	}, nil
}

// ToJSON converts reference.Data back to its JSON document.
func (f *ReferenceFactory) ToJSON(data *reference.Data) ReferenceJSON {
	rj := ReferenceJSON{
		Criteria:   make([]CriterionJSON, 0, len(data.Criteria)),
		ClaimTypes: make([]ClaimTypeJSON, 0, len(data.ClaimTypes)),
		Parameters: make(map[string]any, len(data.Parameters.Raw)),
	}
	for _, c := range data.Criteria {
		rj.Criteria = append(rj.Criteria, CriterionJSON{
			Key:         c.Key,
			Description: c.Description,
			Factor:      json.Number(c.Factor.String()),
		})
	}
	for _, ct := range data.ClaimTypes {
		rj.ClaimTypes = append(rj.ClaimTypes, ClaimTypeJSON{Code: ct.Code, Name: ct.Name})
	}
	for k, v := range data.Parameters.Raw {
		rj.Parameters[k] = v
	}
	return rj
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parameterString(v any) (string, error) {
	switch val := v.(type) {
	case json.Number:
		return val.String(), nil
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return "", nil
		}
		if _, err := decimal.NewFromString(s); err != nil {
			return "", fmt.Errorf("invalid number %q", s)
		}
		return s, nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("unsupported value %v", v)
	}
}
