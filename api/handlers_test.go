/*
handlers_test.go - HTTP tests for the API handlers

Tests run the full chi router over the in-memory store:
- Session identity and region scoping
- Queue listing, case view, document status
- Lock acquire / release / conflict
- Preview and submission, including error mapping
- Hearing report downloads
- Reference import and reload
*/
package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/claims-engine/claims"
	"github.com/warp/claims-engine/generic"
	"github.com/warp/claims-engine/metrics"
	"github.com/warp/claims-engine/reference"
	"github.com/warp/claims-engine/resilience"
	"github.com/warp/claims-engine/store/memory"
	"github.com/xuri/excelize/v2"
)

var fixedNow = time.Date(2024, time.May, 15, 9, 30, 0, 0, time.UTC)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	store   *memory.Memory
	handler *Handler
	router  http.Handler
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T, opts ...func(*Options)) *testServer {
	t.Helper()
	ctx := context.Background()

	store := memory.New()
	data, err := SeedReference(ctx, store)
	require.NoError(t, err)

	logger, _ := test.NewNullLogger()
	m := metrics.New()
	o := Options{
		Logger:  logger,
		Metrics: m,
		Executor: resilience.NewExecutor(resilience.Config{
			RetryMaxAttempts:    2,
			RetryInitialBackoff: time.Millisecond,
			RetryMaxBackoff:     time.Millisecond,
		}, logger, m),
		LockTTL:  30 * time.Minute,
		PageSize: 10,
		Now:      func() time.Time { return fixedNow },
	}
	for _, fn := range opts {
		fn(&o)
	}

	h := NewHandler(store, reference.NewHolder(data), o)
	return &testServer{
		store:   store,
		handler: h,
		router: NewRouter(h, RouterOptions{
			AllowedOrigins: []string{"http://localhost:5173"},
			Scenarios:      true,
		}),
		metrics: m,
	}
}

func (s *testServer) load(t *testing.T, scenario string) {
	t.Helper()
	require.NoError(t, s.handler.LoadScenarioByID(context.Background(), scenario))
}

func (s *testServer) do(t *testing.T, method, path, staff string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if staff != "" {
		req.Header.Set(StaffHeader, staff)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func injuryBody() map[string]any {
	return map[string]any{
		"criteria": []map[string]any{
			{"key": "arm-above-elbow", "checked": true, "doctor_percentage": 40},
		},
		"medical_expenses": 100,
		"misc_expenses":    50,
		"deductions":       20,
		"findings":         "Amputation above the left elbow",
		"recommendations":  "Approve lump sum",
		"submission_id":    "sub-1",
	}
}

// =============================================================================
// SESSION
// =============================================================================

func TestSession_RequiresKnownStaff(t *testing.T) {
	s := newTestServer(t)
	s.load(t, "injury-queue")

	rec := s.do(t, http.MethodGet, "/api/queues/all", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/queues/all", "ghost", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unknown staff member", decode[ErrorResponse](t, rec).Error)
}

func TestSession_StoreFailureIs500(t *testing.T) {
	s := newTestServer(t)
	s.load(t, "injury-queue")
	s.store.FailNext("GetStaff", 1, assert.AnError)

	rec := s.do(t, http.MethodGet, "/api/queues/all", OfficerCentral, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

// =============================================================================
// QUEUES
// =============================================================================

func TestListQueue_RegionScopedAndPaginated(t *testing.T) {
	// GIVEN: Twelve Central injury cases and one Northern case
	// WHEN: Listing the registered queue as the Central officer
	// THEN: Two pages of Central cases; the Northern case never appears
	s := newTestServer(t)
	s.load(t, "injury-queue")

	rec := s.do(t, http.MethodGet, "/api/queues/registered", OfficerCentral, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page := decode[claims.Page](t, rec)
	assert.Equal(t, 12, page.TotalItems)
	assert.Equal(t, 2, page.TotalPages)
	assert.Len(t, page.Items, 10)

	rec = s.do(t, http.MethodGet, "/api/queues/registered?page=2", OfficerCentral, nil)
	page = decode[claims.Page](t, rec)
	assert.Len(t, page.Items, 2)

	rec = s.do(t, http.MethodGet, "/api/queues/all?last_name=KAUPA", OfficerCentral, nil)
	page = decode[claims.Page](t, rec)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Peter", page.Items[0].FirstName)

	rec = s.do(t, http.MethodGet, "/api/queues/all", OfficerNorthern, nil)
	page = decode[claims.Page](t, rec)
	require.Len(t, page.Items, 1)
	assert.Equal(t, generic.IRN("24901"), page.Items[0].IRN)
}

func TestListQueue_BadInput(t *testing.T) {
	s := newTestServer(t)
	s.load(t, "injury-queue")

	rec := s.do(t, http.MethodGet, "/api/queues/archive", OfficerCentral, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "queue", decode[ErrorResponse](t, rec).Fields[0].Field)

	rec = s.do(t, http.MethodGet, "/api/queues/all?page=zero", OfficerCentral, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListQueue_HugePageIsEmpty(t *testing.T) {
	s := newTestServer(t)
	s.load(t, "injury-queue")

	rec := s.do(t, http.MethodGet, "/api/queues/all?page=9223372036854775807", OfficerCentral, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page := decode[claims.Page](t, rec)
	assert.Empty(t, page.Items)
	assert.Equal(t, 12, page.TotalItems)
}

// =============================================================================
// CASES
// =============================================================================

func TestGetCase(t *testing.T) {
	s := newTestServer(t)
	s.load(t, "injury-queue")

	rec := s.do(t, http.MethodGet, "/api/cases/24003", OfficerCentral, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	dto := decode[CaseDTO](t, rec)
	assert.Equal(t, "Ruth Aisi", dto.Worker.FullName())
	assert.Equal(t, []string{claims.DocFinalMedicalReport}, dto.Documents.Missing)
	assert.Nil(t, dto.Calculation)
}

func TestGetCase_NotFound(t *testing.T) {
	s := newTestServer(t)
	s.load(t, "injury-queue")

	rec := s.do(t, http.MethodGet, "/api/cases/99999", OfficerCentral, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "No claim found", decode[ErrorResponse](t, rec).Error)
}

func TestGetCase_CancelledRequestWritesNothing(t *testing.T) {
	s := newTestServer(t)
	s.load(t, "injury-queue")

	// GIVEN: the client disconnects while the case is loading
	s.store.FailNext("GetCase", 1, context.Canceled)

	// WHEN: the case is requested
	rec := s.do(t, http.MethodGet, "/api/cases/24001", OfficerCentral, nil)

	// THEN: the handler discards the response
	assert.Empty(t, rec.Body.String())
}

func TestGetDocuments_StateEmployerNeedsPayslip(t *testing.T) {
	s := newTestServer(t)
	s.load(t, "injury-queue")

	rec := s.do(t, http.MethodGet, "/api/cases/24006/documents", OfficerCentral, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[claims.DocumentStatus](t, rec)
	assert.Equal(t, []string{claims.DocPayslip}, status.Missing)
}

func TestGetDocuments_DataSourceFailureVerbatim(t *testing.T) {
	s := newTestServer(t)
	s.load(t, "injury-queue")
	s.store.FailNext("ListAttachments", 1, assertErr("relation \"attachments\" does not exist"))

	rec := s.do(t, http.MethodGet, "/api/cases/24001/documents", OfficerCentral, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Details, `relation "attachments" does not exist`)
}

// =============================================================================
// LOCKS
// =============================================================================

func TestLock_AcquireConflictRelease(t *testing.T) {
	s := newTestServer(t)
	s.load(t, "injury-queue")
	require.NoError(t, s.store.SaveStaff(context.Background(), claims.Staff{ID: "officer-b", Region: "Central"}))

	rec := s.do(t, http.MethodPost, "/api/cases/24001/lock", OfficerCentral, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, generic.StaffID(OfficerCentral), decode[LockDTO](t, rec).LockedBy)

	rec = s.do(t, http.MethodPost, "/api/cases/24001/lock", "officer-b", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/cases/24001/lock", "officer-b", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[LockDTO](t, rec).Released)

	rec = s.do(t, http.MethodDelete, "/api/cases/24001/lock", OfficerCentral, nil)
	assert.True(t, decode[LockDTO](t, rec).Released)

	rec = s.do(t, http.MethodPost, "/api/cases/24001/lock", "officer-b", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLock_UnknownCase(t *testing.T) {
	s := newTestServer(t)
	s.load(t, "injury-queue")

	rec := s.do(t, http.MethodPost, "/api/cases/00000/lock", OfficerCentral, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// CALCULATION
// =============================================================================

func TestSubmitCalculation_Injury(t *testing.T) {
	// GIVEN: A complete injury case
	// WHEN: Submitting arm-above-elbow at 40%
	// THEN: ((3125*8*40*5)/100)/100 = 500; 500 + 100 + 50 - 20 = 630
	s := newTestServer(t)
	s.load(t, "injury-queue")

	rec := s.do(t, http.MethodPost, "/api/cases/24001/calculation", OfficerCentral, injuryBody())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result struct {
		Success  bool     `json:"success"`
		Created  bool     `json:"created"`
		Warnings []string `json:"warnings"`
		Record   struct {
			FinalAmount  string `json:"final_amount"`
			CalculatedBy string `json:"calculated_by"`
		} `json:"record"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.True(t, result.Created)
	assert.Empty(t, result.Warnings)
	assert.Equal(t, "630", result.Record.FinalAmount)
	assert.Equal(t, OfficerCentral, result.Record.CalculatedBy)

	rec = s.do(t, http.MethodGet, "/api/cases/24001/calculation", OfficerCentral, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	calc := decode[CalculationDTO](t, rec)
	assert.Equal(t, "630", calc.Record.FinalAmount.String())
	assert.Len(t, calc.Review, 1)

	rec = s.do(t, http.MethodGet, "/api/queues/review", OfficerCentral, nil)
	assert.Equal(t, 1, decode[claims.Page](t, rec).TotalItems)
}

func TestSubmitCalculation_MissingDocuments(t *testing.T) {
	s := newTestServer(t)
	s.load(t, "injury-queue")

	rec := s.do(t, http.MethodPost, "/api/cases/24003/calculation", OfficerCentral, injuryBody())
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, []string{claims.DocFinalMedicalReport}, resp.MissingDocuments)

	rec = s.do(t, http.MethodGet, "/api/cases/24003/calculation", OfficerCentral, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitCalculation_FieldErrors(t *testing.T) {
	s := newTestServer(t)
	s.load(t, "injury-queue")

	body := injuryBody()
	body["findings"] = ""
	body["deductions"] = -5

	rec := s.do(t, http.MethodPost, "/api/cases/24001/calculation", OfficerCentral, body)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	fields := map[string]bool{}
	for _, f := range decode[ErrorResponse](t, rec).Fields {
		fields[f.Field] = true
	}
	assert.True(t, fields["findings"])
	assert.True(t, fields["deductions"])
}

func TestSubmitCalculation_BadBody(t *testing.T) {
	s := newTestServer(t)
	s.load(t, "injury-queue")

	rec := s.do(t, http.MethodPost, "/api/cases/24001/calculation", OfficerCentral, "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body := injuryBody()
	body["incident_type"] = "Illness"
	rec = s.do(t, http.MethodPost, "/api/cases/24001/calculation", OfficerCentral, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "incident_type", decode[ErrorResponse](t, rec).Fields[0].Field)
}

func TestSubmitCalculation_LockedByAnotherOfficer(t *testing.T) {
	s := newTestServer(t)
	s.load(t, "injury-queue")
	require.NoError(t, s.store.SaveStaff(context.Background(), claims.Staff{ID: "officer-b", Region: "Central"}))

	rec := s.do(t, http.MethodPost, "/api/cases/24001/lock", "officer-b", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/cases/24001/calculation", OfficerCentral, injuryBody())
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSubmitCalculation_SecondaryFailureIsWarning(t *testing.T) {
	s := newTestServer(t)
	s.load(t, "injury-queue")
	s.store.FailNext("EnqueueReview", 5, assertErr("queue table unavailable"))

	rec := s.do(t, http.MethodPost, "/api/cases/24001/calculation", OfficerCentral, injuryBody())
	require.Equal(t, http.StatusOK, rec.Code)

	var result struct {
		Success  bool     `json:"success"`
		Warnings []string `json:"warnings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.Warnings)
}

func TestSubmitCalculation_RateLimited(t *testing.T) {
	s := newTestServer(t, func(o *Options) {
		o.SubmitRate = 0.001
		o.SubmitBurst = 1
	})
	s.load(t, "injury-queue")

	rec := s.do(t, http.MethodPost, "/api/cases/24001/calculation", OfficerCentral, injuryBody())
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/cases/24002/calculation", OfficerCentral, injuryBody())
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// Preview is not limited.
	rec = s.do(t, http.MethodPost, "/api/cases/24002/calculation/preview", OfficerCentral, injuryBody())
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPreviewCalculation_Death(t *testing.T) {
	// GIVEN: Weekly wage 600, annual 31200, below the 50000 threshold
	// WHEN: Previewing the death case
	// THEN: 31200 * 8 = 249600; spouse 50%, each of two children 25%
	s := newTestServer(t)
	s.load(t, "death-claim")

	rec := s.do(t, http.MethodPost, "/api/cases/24500/calculation/preview", OfficerCentral, map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result struct {
		FinalAmount string `json:"final_amount"`
		Death       struct {
			Apportionment struct {
				SpouseShare string `json:"spouse_share"`
				ChildShare  string `json:"child_share"`
			} `json:"apportionment"`
			Dependants []struct {
				DependantID  string `json:"dependant_id"`
				Compensation string `json:"compensation"`
			} `json:"dependants"`
		} `json:"death"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "249600", result.FinalAmount)
	assert.Equal(t, "124800", result.Death.Apportionment.SpouseShare)
	assert.Equal(t, "62400", result.Death.Apportionment.ChildShare)
	require.Len(t, result.Death.Dependants, 4)
	assert.Equal(t, "124800", result.Death.Dependants[0].Compensation)

	rec = s.do(t, http.MethodGet, "/api/cases/24500/calculation", OfficerCentral, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "preview writes nothing")
}

// =============================================================================
// REPORTS
// =============================================================================

func TestHearingReport_XLSX(t *testing.T) {
	s := newTestServer(t)
	s.load(t, "hearing-backlog")

	rec := s.do(t, http.MethodGet, "/api/reports/hearings?from=2024-06-01&to=2024-06-30&format=xlsx", OfficerCentral, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "spreadsheetml")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "hearings-central-2024-06-01-2024-06-30.xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	banner, err := f.GetCellValue("Hearings", "A6")
	require.NoError(t, err)
	assert.Contains(t, banner, "60 hearings")
}

func TestHearingReport_PDFDefault(t *testing.T) {
	s := newTestServer(t)
	s.load(t, "hearing-backlog")

	rec := s.do(t, http.MethodGet, "/api/reports/hearings?from=2024-06-01&to=2024-06-30", OfficerCentral, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "%PDF-"))
}

func TestHearingReport_BadParameters(t *testing.T) {
	s := newTestServer(t)
	s.load(t, "hearing-backlog")

	for _, query := range []string{
		"to=2024-06-30",
		"from=2024-06-01&to=June",
		"from=2024-06-30&to=2024-06-01",
		"from=2024-06-01&to=2024-06-30&format=docx",
	} {
		rec := s.do(t, http.MethodGet, "/api/reports/hearings?"+query, OfficerCentral, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

// =============================================================================
// REFERENCE
// =============================================================================

func TestReference_GetImportReload(t *testing.T) {
	s := newTestServer(t)
	s.load(t, "injury-queue")

	rec := s.do(t, http.MethodGet, "/api/reference", OfficerCentral, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[ReferenceDTO](t, rec).Criteria, 9)

	doc := `{
		"criteria": [{"key": "eye", "description": "Loss of eye", "factor": 2.5}],
		"claim_types": [{"code": "WC-INJ", "name": "Workplace injury"}],
		"parameters": {"BaseAnnualWage": 4000, "MinCompensationAmountDeath": 50000,
		               "MaxCompensationAmountDeath": 400000, "WeeklyBenefitPerChild": 30}
	}`
	rec = s.do(t, http.MethodPost, "/api/reference/import", OfficerCentral, doc)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, s.handler.Reference.Get().Criteria, 1)
	assert.Equal(t, "4000", s.handler.Reference.Get().Parameters.BaseAnnualWage.String())

	rec = s.do(t, http.MethodPost, "/api/reference/reload", OfficerCentral, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[ReferenceDTO](t, rec).Criteria, 1)
}

func TestReference_ImportRejectsIncompleteDocument(t *testing.T) {
	s := newTestServer(t)
	s.load(t, "injury-queue")

	rec := s.do(t, http.MethodPost, "/api/reference/import", OfficerCentral,
		`{"criteria": [], "claim_types": [], "parameters": {"BaseAnnualWage": 1}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, s.handler.Reference.Get().Criteria, 9, "previous snapshot stays active")
}

func TestReference_ReloadFailureKeepsSnapshot(t *testing.T) {
	s := newTestServer(t)
	s.load(t, "injury-queue")
	s.store.FailNext("ListCriteria", 1, assertErr("connection refused"))

	rec := s.do(t, http.MethodPost, "/api/reference/reload", OfficerCentral, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Len(t, s.handler.Reference.Get().Criteria, 9)
}

// =============================================================================
// HEALTH / METRICS
// =============================================================================

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	s.load(t, "injury-queue")

	rec := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	s.do(t, http.MethodGet, "/api/cases/24001", OfficerCentral, nil)

	rec = s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `claims_http_requests_total{method="GET",route="/api/cases/{irn}",status="200"} 1`)
}

func TestAccessLog_IncludesRequestID(t *testing.T) {
	logger, hook := test.NewNullLogger()
	s := newTestServer(t, func(o *Options) { o.Logger = logger })

	s.do(t, http.MethodGet, "/healthz", "", nil)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "http_request", entry.Message)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.NotEmpty(t, entry.Data["request_id"])
	assert.Equal(t, 200, entry.Data["status"])
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
