/*
handlers.go - HTTP API handlers for the claims engine

PURPOSE:
  Exposes the claims components over a REST API. Handles HTTP
  request/response and JSON serialization, and delegates to the locator,
  document checker, queue service, submission writer and report generator.

ENDPOINTS:
  Reference:
    GET    /api/reference                        Active reference snapshot
    POST   /api/reference/import                 Replace tables from JSON
    POST   /api/reference/reload                 Re-read tables from the store

  Queues:
    GET    /api/queues/{queue}?irn=&first_name=&last_name=&page=

  Cases:
    GET    /api/cases/{irn}                      Case file + documents + calculation
    GET    /api/cases/{irn}/documents            Document completeness
    POST   /api/cases/{irn}/lock                 Acquire the edit lock
    DELETE /api/cases/{irn}/lock                 Release the edit lock

  Calculation:
    GET    /api/cases/{irn}/calculation          Stored calculation
    POST   /api/cases/{irn}/calculation/preview  Calculate without writing
    POST   /api/cases/{irn}/calculation          Submit

  Reports:
    GET    /api/reports/hearings?from=&to=&format=pdf|xlsx

REQUEST FLOW:
  1. Session middleware attaches the officer (region comes from there)
  2. Parse path, query and body
  3. Call the component with r.Context(); a client disconnect cancels
     the in-flight query
  4. Serialize response
  5. Map errors

ERROR HANDLING:
  - 400: Validation errors with per-field messages and missing documents
  - 401: Missing or unknown staff identity
  - 404: "No claim found"
  - 409: Case locked by another officer
  - 429: Submission rate limit
  - 500: Data-source failures, message verbatim in details

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"github.com/warp/claims-engine/claims"
	"github.com/warp/claims-engine/factory"
	"github.com/warp/claims-engine/generic"
	"github.com/warp/claims-engine/metrics"
	"github.com/warp/claims-engine/reference"
	"github.com/warp/claims-engine/report"
	"github.com/warp/claims-engine/resilience"
	"github.com/warp/claims-engine/submission"
)

const maxBodyBytes = 1 << 20

// DefaultLockTTL applies when Options.LockTTL is unset.
const DefaultLockTTL = 30 * time.Minute

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is everything the API needs from persistence.
type Store interface {
	claims.Store
	reference.Store
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Options configure a Handler. Zero values fall back to defaults.
type Options struct {
	Logger      *logrus.Logger
	Metrics     *metrics.Metrics
	Executor    *resilience.Executor
	LockTTL     time.Duration
	PageSize    int
	SubmitRate  float64
	SubmitBurst int
	Now         func() time.Time
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     Store
	Reference *reference.Holder
	Factory   *factory.ReferenceFactory
	Writer    *submission.Writer
	Queues    *claims.QueueService
	Locator   *claims.Locator
	Documents *claims.DocumentChecker
	Reports   *report.Generator
	Metrics   *metrics.Metrics
	Logger    *logrus.Logger

	lockTTL time.Duration
	limiter *staffLimiter
	now     func() time.Time

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler. holder must already contain a
// reference snapshot.
func NewHandler(store Store, holder *reference.Holder, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = DefaultLockTTL
	}

	var recorder submission.Recorder
	if opts.Metrics != nil {
		recorder = opts.Metrics
	}

	return &Handler{
		Store:     store,
		Reference: holder,
		Factory:   factory.NewReferenceFactory(),
		Writer: submission.NewWriter(store, holder, submission.Options{
			Executor: opts.Executor,
			Metrics:  recorder,
			Logger:   opts.Logger,
			LockTTL:  opts.LockTTL,
			Now:      opts.Now,
		}),
		Queues:    claims.NewQueueService(store, opts.PageSize),
		Locator:   claims.NewLocator(store),
		Documents: claims.NewDocumentChecker(store),
		Reports:   report.NewGenerator(store),
		Metrics:   opts.Metrics,
		Logger:    opts.Logger,
		lockTTL:   opts.LockTTL,
		limiter:   newStaffLimiter(opts.SubmitRate, opts.SubmitBurst),
		now:       opts.Now,
	}
}

// =============================================================================
// HEALTH
// =============================================================================

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// REFERENCE HANDLERS
// =============================================================================

// GetReference returns the active reference snapshot.
// GET /api/reference
func (h *Handler) GetReference(w http.ResponseWriter, r *http.Request) {
	data := h.Reference.Get()
	writeJSON(w, http.StatusOK, ReferenceDTO{
		ReferenceJSON: h.Factory.ToJSON(data),
		LoadedAt:      formatTimestamp(data.LoadedAt),
	})
}

// ImportReference replaces every reference table with the posted document
// and swaps the new snapshot in.
// POST /api/reference/import
func (h *Handler) ImportReference(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	data, err := h.Factory.ParseReference(body)
	if err != nil {
		if errors.Is(err, generic.ErrReferenceData) {
			// An incomplete document is the caller's mistake.
			err = fmt.Errorf("%w: %w", generic.ErrValidation, err)
		}
		h.writeDomainError(w, r, err)
		return
	}
	if err := h.Store.ReplaceReference(r.Context(), data); err != nil {
		h.recordReload("error")
		h.writeDomainError(w, r, err)
		return
	}
	h.reloadReference(w, r)
}

// ReloadReference re-reads the tables. The previous snapshot stays active
// when the load fails.
// POST /api/reference/reload
func (h *Handler) ReloadReference(w http.ResponseWriter, r *http.Request) {
	h.reloadReference(w, r)
}

func (h *Handler) reloadReference(w http.ResponseWriter, r *http.Request) {
	data, err := h.Reference.Reload(r.Context(), h.Store)
	if err != nil {
		h.recordReload("error")
		h.writeDomainError(w, r, err)
		return
	}
	h.recordReload("ok")
	h.Logger.WithFields(logrus.Fields{
		"criteria":    len(data.Criteria),
		"claim_types": len(data.ClaimTypes),
	}).Info("reference data reloaded")

	writeJSON(w, http.StatusOK, ReferenceDTO{
		ReferenceJSON: h.Factory.ToJSON(data),
		LoadedAt:      formatTimestamp(data.LoadedAt),
	})
}

func (h *Handler) recordReload(status string) {
	if h.Metrics != nil {
		h.Metrics.RecordReferenceReload(status)
	}
}

// =============================================================================
// QUEUE HANDLERS
// =============================================================================

// ListQueue returns one page of a region-scoped queue.
// GET /api/queues/{queue}?irn=&first_name=&last_name=&page=
func (h *Handler) ListQueue(w http.ResponseWriter, r *http.Request) {
	staff := staffFrom(r.Context())
	q := r.URL.Query()

	page := 1
	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid page", fmt.Errorf("page must be a positive integer, got %q", raw))
			return
		}
		page = n
	}

	filter := claims.Filter{
		IRN:       q.Get("irn"),
		FirstName: q.Get("first_name"),
		LastName:  q.Get("last_name"),
	}

	result, err := h.Queues.List(r.Context(), staff.Region, claims.QueueName(chi.URLParam(r, "queue")), filter, page)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// CASE HANDLERS
// =============================================================================

// GetCase returns the case file with its document status and calculation.
// GET /api/cases/{irn}
func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	file, err := h.Locator.Locate(ctx, irnParam(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	docs, err := h.Documents.Check(ctx, file)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	calc, err := h.Store.GetCalculation(ctx, file.Case.IRN)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CaseDTO{File: *file, Documents: docs, Calculation: calc})
}

// GetDocuments returns required, available and missing document labels.
// GET /api/cases/{irn}/documents
func (h *Handler) GetDocuments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	file, err := h.Locator.Locate(ctx, irnParam(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	docs, err := h.Documents.Check(ctx, file)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

// AcquireLock takes the edit lock for the signed-in officer. A lock older
// than the TTL is taken over.
// POST /api/cases/{irn}/lock
func (h *Handler) AcquireLock(w http.ResponseWriter, r *http.Request) {
	staff := staffFrom(r.Context())
	irn := irnParam(r)
	now := h.now().UTC()

	if err := h.Store.AcquireLock(r.Context(), irn, staff.ID, now, now.Add(-h.lockTTL)); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LockDTO{IRN: irn, LockedBy: staff.ID, LockedAt: formatTimestamp(now)})
}

// ReleaseLock clears the lock only when the officer holds it.
// DELETE /api/cases/{irn}/lock
func (h *Handler) ReleaseLock(w http.ResponseWriter, r *http.Request) {
	staff := staffFrom(r.Context())
	irn := irnParam(r)

	released, err := h.Store.ReleaseLock(r.Context(), irn, staff.ID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LockDTO{IRN: irn, Released: released})
}

// =============================================================================
// CALCULATION HANDLERS
// =============================================================================

// GetCalculation returns the stored calculation and its death breakdown.
// GET /api/cases/{irn}/calculation
func (h *Handler) GetCalculation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	irn := irnParam(r)

	c, err := h.Store.GetCase(ctx, irn)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if c == nil {
		h.writeDomainError(w, r, fmt.Errorf("%w: %s", generic.ErrCaseNotFound, irn))
		return
	}

	rec, err := h.Store.GetCalculation(ctx, irn)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "No calculation found", nil)
		return
	}

	dto := CalculationDTO{Record: rec}
	if dto.Summary, err = h.Store.GetWorkerSummary(ctx, irn); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if dto.Dependants, err = h.Store.ListDependantCompensation(ctx, irn); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if dto.Review, err = h.Store.ListReviewEntries(ctx, irn); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if dto.Dependants == nil {
		dto.Dependants = []claims.DependantCompensation{}
	}
	if dto.Review == nil {
		dto.Review = []claims.ReviewEntry{}
	}
	writeJSON(w, http.StatusOK, dto)
}

// PreviewCalculation runs the engine without writing anything.
// POST /api/cases/{irn}/calculation/preview
func (h *Handler) PreviewCalculation(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCalculation(w, r)
	if !ok {
		return
	}
	result, err := h.Writer.Preview(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// SubmitCalculation validates, writes and advances the case. Best-effort
// step failures come back as warnings on a 200.
// POST /api/cases/{irn}/calculation
func (h *Handler) SubmitCalculation(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCalculation(w, r)
	if !ok {
		return
	}
	result, err := h.Writer.Submit(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) decodeCalculation(w http.ResponseWriter, r *http.Request) (submission.Request, bool) {
	var body CalculationRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return submission.Request{}, false
	}
	req, err := body.toSubmission(irnParam(r), staffFrom(r.Context()).ID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return submission.Request{}, false
	}
	return req, true
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// HearingReport renders the region's hearing schedule as a download.
// GET /api/reports/hearings?from=YYYY-MM-DD&to=YYYY-MM-DD&format=pdf|xlsx
func (h *Handler) HearingReport(w http.ResponseWriter, r *http.Request) {
	staff := staffFrom(r.Context())
	q := r.URL.Query()

	format, err := report.ParseFormat(q.Get("format"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	from, err := parseDateParam("from", q.Get("from"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	to, err := parseDateParam("to", q.Get("to"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	schedule, err := h.Reports.Schedule(r.Context(), staff.Region, from, to)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := report.Render(&buf, schedule, format); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to render report", err)
		return
	}
	if h.Metrics != nil {
		h.Metrics.RecordReport(string(format))
	}

	filename := fmt.Sprintf("hearings-%s-%s-%s.%s",
		strings.ReplaceAll(strings.ToLower(string(staff.Region)), " ", "-"), from, to, format)
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func parseDateParam(field, raw string) (generic.TimePoint, error) {
	if strings.TrimSpace(raw) == "" {
		return generic.TimePoint{}, &generic.FieldError{Field: field, Message: "date is required (YYYY-MM-DD)"}
	}
	tp, err := generic.ParseDate(raw)
	if err != nil {
		return generic.TimePoint{}, &generic.FieldError{Field: field, Message: fmt.Sprintf("invalid date %q (use YYYY-MM-DD)", raw)}
	}
	return tp, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func irnParam(r *http.Request) generic.IRN {
	return generic.IRN(strings.TrimSpace(chi.URLParam(r, "irn")))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("failed to decode JSON: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps component errors to HTTP status codes. Data-source
// failures keep their message verbatim in details.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *generic.ValidationError
		ferr *generic.FieldError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:            "Validation failed",
			Details:          verr.Error(),
			Fields:           verr.Fields,
			MissingDocuments: verr.MissingDocuments,
		})
	case errors.As(err, &ferr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Validation failed",
			Details: ferr.Error(),
			Fields:  []generic.FieldError{*ferr},
		})
	case generic.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Validation failed", err)
	case generic.IsNotFound(err):
		writeError(w, http.StatusNotFound, "No claim found", err)
	case generic.IsConflict(err):
		writeError(w, http.StatusConflict, "Case is locked by another officer", err)
	case errors.Is(err, generic.ErrReferenceData):
		h.Logger.WithError(err).Error("reference data incomplete")
		writeError(w, http.StatusInternalServerError, "Reference data incomplete", err)
	case errors.Is(err, context.Canceled):
		// The client went away; nobody reads the response.
		h.Logger.WithField("path", r.URL.Path).Debug("request cancelled")
	default:
		h.Logger.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		writeError(w, http.StatusInternalServerError, "Data source error", err)
	}
}
