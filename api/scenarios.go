/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	claims data for demos and integration tests. Each scenario creates
	officers, workers, cases, employment records, dependants, attachments
	and hearings that exercise specific parts of the workflow.

AVAILABLE SCENARIOS:

	injury-queue:     Twelve Central injury cases, mixed document status
	death-claim:      Death case with spouse, two children and a parent
	hearing-backlog:  Sixty hearings next month, past the report warning

HOW SCENARIOS WORK:
 1. Reset case data (reference tables survive)
 2. Make sure the default reference tables exist
 3. Create officers for the Central and Northern regions
 4. Create workers, cases, employment and dependants
 5. Attach documents and schedule hearings

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "injury-queue"}

	Then send X-Staff-ID: officer-central on every other /api call.

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Endpoints the scenarios feed
  - factory/reference.go: Reference JSON format
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/claims-engine/claims"
	"github.com/warp/claims-engine/factory"
	"github.com/warp/claims-engine/generic"
	"github.com/warp/claims-engine/reference"
)

// Demo officers.
const (
	OfficerCentral  = "officer-central"
	OfficerNorthern = "officer-northern"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "injury-queue",
		Name:        "Injury Queue",
		Description: "Twelve Central injury cases across two queue pages, some missing documents",
		StaffID:     OfficerCentral,
	},
	{
		ID:          "death-claim",
		Name:        "Death Claim",
		Description: "Fatal incident with spouse, two children under 16 and a dependent parent",
		StaffID:     OfficerCentral,
	},
	{
		ID:          "hearing-backlog",
		Name:        "Hearing Backlog",
		Description: "Sixty tribunal hearings next month; the schedule report shows its warning banner",
		StaffID:     OfficerCentral,
	},
}

// defaultReference is the reference document seeded into an empty store.
const defaultReference = `{
  "criteria": [
    {"key": "arm-above-elbow", "description": "Loss of arm above the elbow", "factor": 5},
    {"key": "arm-below-elbow", "description": "Loss of arm below the elbow", "factor": 4.5},
    {"key": "hand", "description": "Loss of hand", "factor": 4},
    {"key": "thumb", "description": "Loss of thumb", "factor": 1.5},
    {"key": "index-finger", "description": "Loss of index finger", "factor": 0.75},
    {"key": "leg-above-knee", "description": "Loss of leg above the knee", "factor": 4.5},
    {"key": "foot", "description": "Loss of foot", "factor": 3.5},
    {"key": "eye", "description": "Total loss of sight of one eye", "factor": 2.5},
    {"key": "hearing-both", "description": "Total loss of hearing, both ears", "factor": 3}
  ],
  "claim_types": [
    {"code": "WC-INJ", "name": "Workplace injury"},
    {"code": "WC-DTH", "name": "Workplace fatality"},
    {"code": "WC-OCC", "name": "Occupational disease"}
  ],
  "parameters": {
    "BaseCompensationAmount": 0,
    "BaseAnnualWage": 3125,
    "MinCompensationAmountDeath": 50000,
    "MaxCompensationAmountDeath": 400000,
    "WeeklyBenefitPerChild": 25.50,
    "WeeklyBenefitRate": 0
  }
}`

// SeedReference writes the default reference tables and returns the
// loaded snapshot.
func SeedReference(ctx context.Context, store reference.Store) (*reference.Data, error) {
	data, err := factory.NewReferenceFactory().ParseReference([]byte(defaultReference))
	if err != nil {
		return nil, fmt.Errorf("failed to parse default reference: %w", err)
	}
	if err := store.ReplaceReference(ctx, data); err != nil {
		return nil, fmt.Errorf("failed to seed reference: %w", err)
	}
	return reference.Load(ctx, store)
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"scenarios": scenarios,
		"current":   current,
	})
}

// LoadScenario loads a predefined scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if !knownScenario(req.ScenarioID) {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q does not exist", req.ScenarioID))
		return
	}

	if err := h.LoadScenarioByID(r.Context(), req.ScenarioID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all case data. Reference tables survive.
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	h.Logger.Info("database reset")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// LoadScenarioByID resets case data and loads the named scenario.
func (h *Handler) LoadScenarioByID(ctx context.Context, id string) error {
	var load func(context.Context) error
	switch id {
	case "injury-queue":
		load = h.loadInjuryQueueScenario
	case "death-claim":
		load = h.loadDeathClaimScenario
	case "hearing-backlog":
		load = h.loadHearingBacklogScenario
	default:
		return fmt.Errorf("%w: unknown scenario %q", generic.ErrNotFound, id)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset database: %w", err)
	}
	h.currentScenario = ""

	if err := h.ensureReference(ctx); err != nil {
		return err
	}
	if err := h.seedOfficers(ctx); err != nil {
		return err
	}
	if err := load(ctx); err != nil {
		return fmt.Errorf("failed to load scenario %s: %w", id, err)
	}

	h.currentScenario = id
	h.Logger.WithField("scenario", id).Info("scenario loaded")
	return nil
}

func knownScenario(id string) bool {
	for _, s := range scenarios {
		if s.ID == id {
			return true
		}
	}
	return false
}

// ensureReference seeds the default tables when the store has none.
func (h *Handler) ensureReference(ctx context.Context) error {
	if _, err := reference.Load(ctx, h.Store); err == nil {
		return nil
	}
	data, err := SeedReference(ctx, h.Store)
	if err != nil {
		return err
	}
	h.Reference.Set(data)
	return nil
}

func (h *Handler) seedOfficers(ctx context.Context) error {
	for _, s := range []claims.Staff{
		{ID: OfficerCentral, Name: "Grace Wani", Region: "Central"},
		{ID: OfficerNorthern, Name: "Tomas Iru", Region: "Northern"},
	} {
		if err := h.Store.SaveStaff(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// demoCase bundles the records of one seeded case.
type demoCase struct {
	irn        string
	first      string
	last       string
	region     generic.Region
	incident   generic.IncidentType
	date       generic.TimePoint
	claimType  string
	orgType    string
	weeklyWage string
	documents  []string
	dependants []claims.Dependant
	spouse     *claims.Spouse
}

func (h *Handler) saveDemoCase(ctx context.Context, dc demoCase) error {
	worker := generic.WorkerID("W-" + dc.irn)
	irn := generic.IRN(dc.irn)

	if err := h.Store.SaveWorker(ctx, claims.Worker{
		ID:            worker,
		FirstName:     dc.first,
		LastName:      dc.last,
		DateOfBirth:   generic.NewTimePoint(1982, time.June, 14),
		Gender:        "M",
		MaritalStatus: maritalStatus(dc.spouse),
		Handedness:    "Right",
		Spouse:        dc.spouse,
	}); err != nil {
		return err
	}
	if err := h.Store.SaveCase(ctx, claims.Case{
		IRN:        irn,
		DisplayIRN: "CRN-" + dc.irn,
		WorkerID:   worker,
		Region:     dc.region,
		Incident: claims.Incident{
			Type:        dc.incident,
			Date:        dc.date,
			Description: fmt.Sprintf("%s incident reported by employer", dc.incident),
			Location:    "Main works yard",
		},
		ClaimType: dc.claimType,
		Stage:     claims.StageNoCalculation,
	}); err != nil {
		return err
	}
	if err := h.Store.SaveEmployment(ctx, claims.Employment{
		IRN:              irn,
		WorkerID:         worker,
		EmployerName:     employerFor(dc.orgType),
		OrganizationType: dc.orgType,
		Occupation:       "Plant operator",
		WeeklyWage:       decimal.RequireFromString(dc.weeklyWage),
	}); err != nil {
		return err
	}
	for _, d := range dc.dependants {
		d.IRN = irn
		d.WorkerID = worker
		if err := h.Store.SaveDependant(ctx, d); err != nil {
			return err
		}
	}
	for _, label := range dc.documents {
		if err := h.Store.SaveAttachment(ctx, claims.Attachment{
			IRN:        irn,
			Type:       label,
			FileName:   fmt.Sprintf("%s-%s.pdf", dc.irn, slug(label)),
			UploadedAt: dc.date.Time.AddDate(0, 0, 14),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadInjuryQueueScenario(ctx context.Context) error {
	names := [][2]string{
		{"Maria", "Kila"}, {"John", "Pato"}, {"Ruth", "Aisi"}, {"Peter", "Kaupa"},
		{"Anna", "Wari"}, {"Samuel", "Tau"}, {"Joyce", "Mek"}, {"David", "Lowa"},
		{"Helen", "Siune"}, {"Michael", "Yawi"}, {"Grace", "Nema"}, {"Paul", "Kora"},
	}
	complete := []string{claims.DocSupervisorStatement, claims.DocFinalMedicalReport}

	for i, n := range names {
		dc := demoCase{
			irn:        fmt.Sprintf("24%03d", i+1),
			first:      n[0],
			last:       n[1],
			region:     "Central",
			incident:   generic.IncidentInjury,
			date:       generic.NewTimePoint(2024, time.Month(1+i%12), 3+i),
			claimType:  "WC-INJ",
			orgType:    "Private",
			weeklyWage: fmt.Sprintf("%d", 400+25*i),
			documents:  complete,
		}
		switch i {
		case 2:
			// Medical report still outstanding.
			dc.documents = []string{claims.DocSupervisorStatement}
		case 5:
			// State employer without the payslip.
			dc.orgType = claims.OrgTypeState
		}
		if err := h.saveDemoCase(ctx, dc); err != nil {
			return err
		}
	}

	// Other region, never visible to the Central officer.
	return h.saveDemoCase(ctx, demoCase{
		irn: "24901", first: "Lucy", last: "Opa", region: "Northern",
		incident: generic.IncidentInjury, date: generic.NewTimePoint(2024, time.March, 2),
		claimType: "WC-INJ", orgType: "Private", weeklyWage: "380",
		documents: complete,
	})
}

func (h *Handler) loadDeathClaimScenario(ctx context.Context) error {
	incident := generic.NewTimePoint(2024, time.February, 20)
	return h.saveDemoCase(ctx, demoCase{
		irn:        "24500",
		first:      "Joseph",
		last:       "Karo",
		region:     "Central",
		incident:   generic.IncidentDeath,
		date:       incident,
		claimType:  "WC-DTH",
		orgType:    claims.OrgTypeState,
		weeklyWage: "600",
		documents: []string{
			claims.DocSupervisorStatement, claims.DocDeathCertificate, claims.DocPayslip,
		},
		dependants: []claims.Dependant{
			{ID: "D1", FirstName: "Agnes", LastName: "Karo", Type: claims.DependantSpouse,
				DateOfBirth: generic.NewTimePoint(1985, time.April, 2), DegreeOfDependence: decimal.NewFromInt(50)},
			{ID: "D2", FirstName: "Ben", LastName: "Karo", Type: claims.DependantChild,
				DateOfBirth: generic.NewTimePoint(2014, time.August, 30), DegreeOfDependence: decimal.NewFromInt(20)},
			{ID: "D3", FirstName: "Clara", LastName: "Karo", Type: claims.DependantChild,
				DateOfBirth: generic.NewTimePoint(2018, time.January, 9), DegreeOfDependence: decimal.NewFromInt(20)},
			{ID: "D4", FirstName: "Martha", LastName: "Karo", Type: claims.DependantOther,
				DateOfBirth: generic.NewTimePoint(1950, time.May, 5), DegreeOfDependence: decimal.NewFromInt(10)},
		},
	})
}

func (h *Handler) loadHearingBacklogScenario(ctx context.Context) error {
	if err := h.saveDemoCase(ctx, demoCase{
		irn: "24700", first: "Esther", last: "Bani", region: "Central",
		incident: generic.IncidentInjury, date: generic.NewTimePoint(2024, time.May, 11),
		claimType: "WC-INJ", orgType: "Private", weeklyWage: "450",
		documents: []string{claims.DocSupervisorStatement, claims.DocFinalMedicalReport},
	}); err != nil {
		return err
	}

	now := generic.FromTime(h.now())
	first := generic.NewTimePoint(now.Time.Year(), now.Time.Month(), 1).Time.AddDate(0, 1, 0)
	venues := []string{"Tribunal Room A", "Tribunal Room B", "District Court Annex"}
	types := []string{"Initial", "Review", "Appeal"}

	for i := 0; i < 60; i++ {
		irn := fmt.Sprintf("24%03d", 700+i)
		if err := h.Store.SaveHearing(ctx, claims.Hearing{
			IRN:        generic.IRN(irn),
			DisplayIRN: "CRN-" + irn,
			WorkerName: fmt.Sprintf("Claimant %02d", i+1),
			Region:     "Central",
			Date:       generic.FromTime(first.AddDate(0, 0, i%28)),
			Venue:      venues[i%len(venues)],
			Type:       types[i%len(types)],
			Status:     claims.HearingScheduled,
		}); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func maritalStatus(s *claims.Spouse) string {
	if s != nil {
		return "Married"
	}
	return "Single"
}

func employerFor(orgType string) string {
	if orgType == claims.OrgTypeState {
		return "Department of Works"
	}
	return "Highlands Logistics Ltd"
}

func slug(label string) string {
	out := make([]rune, 0, len(label))
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out = append(out, r)
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		default:
			if len(out) > 0 && out[len(out)-1] != '-' {
				out = append(out, '-')
			}
		}
	}
	return string(out)
}
