// Package memory provides an in-memory claims.Store for tests and local dev.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/claims-engine/claims"
	"github.com/warp/claims-engine/generic"
	"github.com/warp/claims-engine/reference"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	staff       map[generic.StaffID]claims.Staff
	cases       map[generic.IRN]claims.Case
	workers     map[generic.WorkerID]claims.Worker
	employment  map[generic.IRN]claims.Employment
	dependants  map[generic.IRN][]claims.Dependant
	attachments map[generic.IRN][]claims.Attachment
	hearings    []claims.Hearing

	calculations map[generic.IRN]claims.CalculationRecord
	summaries    map[generic.IRN]claims.WorkerSummary
	depComp      map[generic.IRN]map[string]claims.DependantCompensation
	reviews      []claims.ReviewEntry

	criteria   []reference.Criterion
	claimTypes []reference.ClaimType
	params     map[string]string

	failures map[string]*failure
	calls    map[string]int
}

type failure struct {
	remaining int // < 0 fails forever
	err       error
}

func New() *Memory {
	m := &Memory{}
	m.resetLocked()
	return m
}

func (m *Memory) resetLocked() {
	m.staff = make(map[generic.StaffID]claims.Staff)
	m.cases = make(map[generic.IRN]claims.Case)
	m.workers = make(map[generic.WorkerID]claims.Worker)
	m.employment = make(map[generic.IRN]claims.Employment)
	m.dependants = make(map[generic.IRN][]claims.Dependant)
	m.attachments = make(map[generic.IRN][]claims.Attachment)
	m.hearings = nil
	m.calculations = make(map[generic.IRN]claims.CalculationRecord)
	m.summaries = make(map[generic.IRN]claims.WorkerSummary)
	m.depComp = make(map[generic.IRN]map[string]claims.DependantCompensation)
	m.reviews = nil
	m.criteria = nil
	m.claimTypes = nil
	m.params = make(map[string]string)
	m.failures = make(map[string]*failure)
	m.calls = make(map[string]int)
}

// =============================================================================
// FAILURE INJECTION
// =============================================================================

// FailNext makes the next n calls of op return err. n < 0 fails every call.
// op is the method name, e.g. "SetStage".
func (m *Memory) FailNext(op string, n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = &failure{remaining: n, err: err}
}

// Calls returns how many times op was invoked.
func (m *Memory) Calls(op string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[op]
}

// hit records a call and returns the injected failure, if any. Caller holds mu.
func (m *Memory) hit(op string) error {
	m.calls[op]++
	f, ok := m.failures[op]
	if !ok || f.remaining == 0 {
		return nil
	}
	if f.remaining > 0 {
		f.remaining--
	}
	return f.err
}

// =============================================================================
// SEEDING (claims.Writer)
// =============================================================================

func (m *Memory) SaveStaff(_ context.Context, s claims.Staff) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staff[s.ID] = s
	return nil
}

func (m *Memory) SaveCase(_ context.Context, c claims.Case) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.Stage == "" {
		c.Stage = claims.StageNoCalculation
	}
	m.cases[c.IRN] = c
	return nil
}

func (m *Memory) SaveWorker(_ context.Context, w claims.Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers[w.ID] = w
	return nil
}

func (m *Memory) SaveEmployment(_ context.Context, e claims.Employment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employment[e.IRN] = e
	return nil
}

func (m *Memory) SaveDependant(_ context.Context, d claims.Dependant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	deps := m.dependants[d.IRN]
	for i := range deps {
		if deps[i].ID == d.ID {
			deps[i] = d
			return nil
		}
	}
	m.dependants[d.IRN] = append(deps, d)
	return nil
}

func (m *Memory) SaveAttachment(_ context.Context, a claims.Attachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attachments[a.IRN] = append(m.attachments[a.IRN], a)
	return nil
}

func (m *Memory) SaveHearing(_ context.Context, h claims.Hearing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hearings = append(m.hearings, h)
	return nil
}

// Reset clears case data and injected failures. Reference tables survive.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	criteria, types, params := m.criteria, m.claimTypes, m.params
	m.resetLocked()
	m.criteria, m.claimTypes, m.params = criteria, types, params
	return nil
}

// =============================================================================
// READERS
// =============================================================================

func (m *Memory) GetCase(_ context.Context, irn generic.IRN) (*claims.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("GetCase"); err != nil {
		return nil, err
	}
	c, ok := m.cases[irn]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *Memory) GetWorker(_ context.Context, id generic.WorkerID) (*claims.Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("GetWorker"); err != nil {
		return nil, err
	}
	w, ok := m.workers[id]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (m *Memory) GetEmployment(_ context.Context, irn generic.IRN) (*claims.Employment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("GetEmployment"); err != nil {
		return nil, err
	}
	e, ok := m.employment[irn]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *Memory) ListDependants(_ context.Context, irn generic.IRN) ([]claims.Dependant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("ListDependants"); err != nil {
		return nil, err
	}
	return append([]claims.Dependant{}, m.dependants[irn]...), nil
}

func (m *Memory) ListAttachments(_ context.Context, irn generic.IRN) ([]claims.Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("ListAttachments"); err != nil {
		return nil, err
	}
	return append([]claims.Attachment{}, m.attachments[irn]...), nil
}

func (m *Memory) GetStaff(_ context.Context, id generic.StaffID) (*claims.Staff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("GetStaff"); err != nil {
		return nil, err
	}
	s, ok := m.staff[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *Memory) ListQueue(_ context.Context, region generic.Region, stages []claims.Stage) ([]claims.QueueRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("ListQueue"); err != nil {
		return nil, err
	}

	want := make(map[claims.Stage]bool, len(stages))
	for _, s := range stages {
		want[s] = true
	}

	var rows []claims.QueueRow
	for _, c := range m.cases {
		if c.Region != region || (len(want) > 0 && !want[c.Stage]) {
			continue
		}
		w := m.workers[c.WorkerID]
		rows = append(rows, claims.QueueRow{
			IRN:          c.IRN,
			DisplayIRN:   c.DisplayIRN,
			FirstName:    w.FirstName,
			LastName:     w.LastName,
			IncidentType: c.Incident.Type,
			IncidentDate: c.Incident.Date,
			ClaimType:    c.ClaimType,
			Stage:        c.Stage,
			LockedBy:     c.LockedBy,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].IncidentDate.Equal(rows[j].IncidentDate) {
			return rows[i].IncidentDate.After(rows[j].IncidentDate)
		}
		return rows[i].IRN < rows[j].IRN
	})
	return rows, nil
}

func (m *Memory) ListHearings(_ context.Context, region generic.Region, from, to generic.TimePoint) ([]claims.Hearing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("ListHearings"); err != nil {
		return nil, err
	}
	var result []claims.Hearing
	for _, h := range m.hearings {
		if h.Region != region || h.Status != claims.HearingScheduled {
			continue
		}
		if from.BeforeOrEqual(h.Date) && h.Date.BeforeOrEqual(to) {
			result = append(result, h)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Date.Before(result[j].Date) })
	return result, nil
}

// =============================================================================
// CALCULATION STORE
// =============================================================================

func (m *Memory) GetCalculation(_ context.Context, irn generic.IRN) (*claims.CalculationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.calculations[irn]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *Memory) UpsertCalculation(_ context.Context, rec claims.CalculationRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertCalculationLocked(rec)
}

func (m *Memory) upsertCalculationLocked(rec claims.CalculationRecord) (bool, error) {
	if err := m.hit("UpsertCalculation"); err != nil {
		return false, err
	}
	now := time.Now().UTC()
	existing, ok := m.calculations[rec.IRN]
	if ok {
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
	} else if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	m.calculations[rec.IRN] = rec
	return !ok, nil
}

func (m *Memory) UpsertWorkerSummary(_ context.Context, s claims.WorkerSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertWorkerSummaryLocked(s)
}

func (m *Memory) upsertWorkerSummaryLocked(s claims.WorkerSummary) error {
	if err := m.hit("UpsertWorkerSummary"); err != nil {
		return err
	}
	s.UpdatedAt = time.Now().UTC()
	m.summaries[s.IRN] = s
	return nil
}

func (m *Memory) UpsertDependantCompensation(_ context.Context, d claims.DependantCompensation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertDependantCompensationLocked(d)
}

func (m *Memory) upsertDependantCompensationLocked(d claims.DependantCompensation) error {
	if err := m.hit("UpsertDependantCompensation"); err != nil {
		return err
	}
	if m.depComp[d.IRN] == nil {
		m.depComp[d.IRN] = make(map[string]claims.DependantCompensation)
	}
	d.UpdatedAt = time.Now().UTC()
	m.depComp[d.IRN][d.DependantID] = d
	return nil
}

func (m *Memory) GetWorkerSummary(_ context.Context, irn generic.IRN) (*claims.WorkerSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.summaries[irn]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *Memory) ListDependantCompensation(_ context.Context, irn generic.IRN) ([]claims.DependantCompensation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []claims.DependantCompensation
	for _, d := range m.depComp[irn] {
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].DependantID < result[j].DependantID })
	return result, nil
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

// WithTx executes fn within a transaction.
// Simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(claims.CalculationStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	calculations map[generic.IRN]claims.CalculationRecord
	summaries    map[generic.IRN]claims.WorkerSummary
	depComp      map[generic.IRN]map[string]claims.DependantCompensation
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		calculations: make(map[generic.IRN]claims.CalculationRecord, len(m.calculations)),
		summaries:    make(map[generic.IRN]claims.WorkerSummary, len(m.summaries)),
		depComp:      make(map[generic.IRN]map[string]claims.DependantCompensation, len(m.depComp)),
	}
	for k, v := range m.calculations {
		s.calculations[k] = v
	}
	for k, v := range m.summaries {
		s.summaries[k] = v
	}
	for k, v := range m.depComp {
		inner := make(map[string]claims.DependantCompensation, len(v))
		for dk, dv := range v {
			inner[dk] = dv
		}
		s.depComp[k] = inner
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.calculations = s.calculations
	m.summaries = s.summaries
	m.depComp = s.depComp
}

type txView struct {
	parent *Memory
}

func (tv *txView) GetCalculation(_ context.Context, irn generic.IRN) (*claims.CalculationRecord, error) {
	rec, ok := tv.parent.calculations[irn]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (tv *txView) GuardLock(_ context.Context, irn generic.IRN, staff generic.StaffID, staleBefore time.Time) error {
	return tv.parent.guardLockLocked(irn, staff, staleBefore)
}

func (tv *txView) UpsertCalculation(_ context.Context, rec claims.CalculationRecord) (bool, error) {
	return tv.parent.upsertCalculationLocked(rec)
}

func (tv *txView) UpsertWorkerSummary(_ context.Context, s claims.WorkerSummary) error {
	return tv.parent.upsertWorkerSummaryLocked(s)
}

func (tv *txView) UpsertDependantCompensation(_ context.Context, d claims.DependantCompensation) error {
	return tv.parent.upsertDependantCompensationLocked(d)
}

func (tv *txView) GetWorkerSummary(_ context.Context, irn generic.IRN) (*claims.WorkerSummary, error) {
	s, ok := tv.parent.summaries[irn]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (tv *txView) ListDependantCompensation(_ context.Context, irn generic.IRN) ([]claims.DependantCompensation, error) {
	var result []claims.DependantCompensation
	for _, d := range tv.parent.depComp[irn] {
		result = append(result, d)
	}
	return result, nil
}

// =============================================================================
// WORKFLOW
// =============================================================================

func (m *Memory) SetStage(_ context.Context, irn generic.IRN, stage claims.Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("SetStage"); err != nil {
		return err
	}
	c, ok := m.cases[irn]
	if !ok {
		return generic.ErrCaseNotFound
	}
	c.Stage = stage
	m.cases[irn] = c
	return nil
}

func (m *Memory) EnqueueReview(_ context.Context, entry claims.ReviewEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("EnqueueReview"); err != nil {
		return false, err
	}
	for _, r := range m.reviews {
		if r.IdempotencyKey == entry.IdempotencyKey {
			return false, nil
		}
	}
	m.reviews = append(m.reviews, entry)
	return true, nil
}

func (m *Memory) ListReviewEntries(_ context.Context, irn generic.IRN) ([]claims.ReviewEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []claims.ReviewEntry
	for _, r := range m.reviews {
		if r.IRN == irn {
			result = append(result, r)
		}
	}
	return result, nil
}

// =============================================================================
// LOCKS
// =============================================================================

func (m *Memory) AcquireLock(_ context.Context, irn generic.IRN, staff generic.StaffID, now, staleBefore time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("AcquireLock"); err != nil {
		return err
	}
	c, ok := m.cases[irn]
	if !ok {
		return generic.ErrCaseNotFound
	}
	free := c.LockedBy == "" || c.LockedBy == staff ||
		(c.LockedAt != nil && c.LockedAt.Before(staleBefore))
	if !free {
		return &generic.LockConflictError{IRN: irn, HeldBy: c.LockedBy}
	}
	at := now.UTC()
	c.LockedBy = staff
	c.LockedAt = &at
	m.cases[irn] = c
	return nil
}

func (m *Memory) GuardLock(_ context.Context, irn generic.IRN, staff generic.StaffID, staleBefore time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.guardLockLocked(irn, staff, staleBefore)
}

func (m *Memory) guardLockLocked(irn generic.IRN, staff generic.StaffID, staleBefore time.Time) error {
	if err := m.hit("GuardLock"); err != nil {
		return err
	}
	c, ok := m.cases[irn]
	if !ok {
		return generic.ErrCaseNotFound
	}
	if c.LockedBy == "" || c.LockedBy == staff || c.LockedAt == nil || c.LockedAt.Before(staleBefore) {
		return nil
	}
	return &generic.LockConflictError{IRN: irn, HeldBy: c.LockedBy}
}

func (m *Memory) ReleaseLock(_ context.Context, irn generic.IRN, staff generic.StaffID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("ReleaseLock"); err != nil {
		return false, err
	}
	c, ok := m.cases[irn]
	if !ok || c.LockedBy != staff {
		return false, nil
	}
	c.LockedBy = ""
	c.LockedAt = nil
	m.cases[irn] = c
	return true, nil
}

func (m *Memory) ExpireLocks(_ context.Context, staleBefore time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for irn, c := range m.cases {
		if c.LockedBy != "" && c.LockedAt != nil && c.LockedAt.Before(staleBefore) {
			c.LockedBy = ""
			c.LockedAt = nil
			m.cases[irn] = c
			n++
		}
	}
	return n, nil
}

// =============================================================================
// REFERENCE TABLES (reference.Store)
// =============================================================================

func (m *Memory) ListCriteria(_ context.Context) ([]reference.Criterion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("ListCriteria"); err != nil {
		return nil, err
	}
	return append([]reference.Criterion{}, m.criteria...), nil
}

func (m *Memory) ListClaimTypes(_ context.Context) ([]reference.ClaimType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]reference.ClaimType{}, m.claimTypes...), nil
}

func (m *Memory) ListParameters(_ context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.params))
	for k, v := range m.params {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) ReplaceReference(_ context.Context, data *reference.Data) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.criteria = append([]reference.Criterion{}, data.Criteria...)
	m.claimTypes = append([]reference.ClaimType{}, data.ClaimTypes...)
	m.params = make(map[string]string, len(data.Parameters.Raw))
	for k, v := range data.Parameters.Raw {
		m.params[k] = v
	}
	return nil
}

var (
	_ claims.Store    = (*Memory)(nil)
	_ reference.Store = (*Memory)(nil)
)
