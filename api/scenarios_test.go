/*
scenarios_test.go - Tests for demo scenarios

PURPOSE:
	Tests that each scenario sets up the expected state:
	- Officers exist for both regions
	- Cases, dependants and documents match the description
	- Loading again replaces the previous scenario
	- Reference tables are seeded when the store has none

These tests double as integration tests of the memory store.
*/
package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/claims-engine/claims"
	"github.com/warp/claims-engine/generic"
	"github.com/warp/claims-engine/reference"
	"github.com/warp/claims-engine/store/memory"
)

func TestScenario_InjuryQueue(t *testing.T) {
	// GIVEN: An empty store
	// WHEN: Loading the injury queue scenario
	// THEN: Twelve Central cases and one Northern case exist
	s := newTestServer(t)
	s.load(t, "injury-queue")
	ctx := context.Background()

	staff, err := s.store.GetStaff(ctx, OfficerCentral)
	require.NoError(t, err)
	require.NotNil(t, staff)
	assert.Equal(t, generic.Region("Central"), staff.Region)

	rows, err := s.store.ListQueue(ctx, "Central", nil)
	require.NoError(t, err)
	assert.Len(t, rows, 12)

	rows, err = s.store.ListQueue(ctx, "Northern", nil)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestScenario_DeathClaim(t *testing.T) {
	s := newTestServer(t)
	s.load(t, "death-claim")

	file, err := claims.NewLocator(s.store).Locate(context.Background(), "24500")
	require.NoError(t, err)
	assert.Equal(t, generic.IncidentDeath, file.Case.Incident.Type)
	assert.Len(t, file.Dependants, 4)
	assert.True(t, file.HasSpouse())

	status, err := claims.NewDocumentChecker(s.store).Check(context.Background(), file)
	require.NoError(t, err)
	assert.True(t, status.Complete(), "missing %v", status.Missing)
}

func TestScenario_HearingBacklog(t *testing.T) {
	s := newTestServer(t)
	s.load(t, "hearing-backlog")

	hearings, err := s.store.ListHearings(context.Background(), "Central",
		generic.NewTimePoint(2024, time.June, 1), generic.NewTimePoint(2024, time.June, 30))
	require.NoError(t, err)
	assert.Len(t, hearings, 60)
}

func TestScenario_ReloadReplacesPreviousData(t *testing.T) {
	s := newTestServer(t)
	s.load(t, "injury-queue")
	s.load(t, "death-claim")

	rows, err := s.store.ListQueue(context.Background(), "Central", nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, generic.IRN("24500"), rows[0].IRN)
}

func TestScenario_SeedsReferenceWhenMissing(t *testing.T) {
	store := memory.New()
	h := NewHandler(store, reference.NewHolder(&reference.Data{}), Options{})

	require.NoError(t, h.LoadScenarioByID(context.Background(), "injury-queue"))
	assert.Len(t, h.Reference.Get().Criteria, 9)
	assert.Equal(t, "3125", h.Reference.Get().Parameters.BaseAnnualWage.String())
}

func TestScenario_Endpoints(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/scenarios", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Scenarios []ScenarioDTO `json:"scenarios"`
		Current   string        `json:"current"`
	}](t, rec)
	assert.Len(t, list.Scenarios, 3)
	assert.Empty(t, list.Current)

	rec = s.do(t, http.MethodPost, "/api/scenarios/load", "", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/scenarios/load", "", LoadScenarioRequest{ScenarioID: "death-claim"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/scenarios", "", nil)
	assert.Equal(t, "death-claim", decode[struct {
		Current string `json:"current"`
	}](t, rec).Current)

	rec = s.do(t, http.MethodPost, "/api/scenarios/reset", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Staff went with the reset.
	rec = s.do(t, http.MethodGet, "/api/queues/all", OfficerCentral, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestScenario_EndpointsNotMountedByDefault(t *testing.T) {
	// GIVEN: A router built without the scenarios option
	// WHEN: An anonymous caller tries to list, load or reset
	// THEN: 404 every time and the officer's data survives
	s := newTestServer(t)
	s.load(t, "injury-queue")
	router := NewRouter(s.handler, RouterOptions{})

	for _, c := range []struct{ method, path string }{
		{http.MethodGet, "/api/scenarios"},
		{http.MethodPost, "/api/scenarios/load"},
		{http.MethodPost, "/api/scenarios/reset"},
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(c.method, c.path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, c.path)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/queues/all", nil)
	req.Header.Set(StaffHeader, OfficerCentral)
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "payslip-at-time-of-accident", slug("Payslip at time of accident"))
	assert.Equal(t, "death-certificate", slug("Death Certificate"))
}
