package sqlstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/claims-engine/claims"
	"github.com/warp/claims-engine/compensation"
	"github.com/warp/claims-engine/generic"
	"github.com/warp/claims-engine/reference"
	"github.com/warp/claims-engine/store/sqlstore"
	"github.com/warp/claims-engine/submission"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	logger, _ := test.NewNullLogger()
	store, err := sqlstore.OpenSQLite(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedCase(t *testing.T, store *sqlstore.Store, irn generic.IRN, region generic.Region, first, last string, incidentDate generic.TimePoint) {
	t.Helper()
	ctx := context.Background()
	worker := generic.WorkerID("w-" + irn)

	require.NoError(t, store.SaveWorker(ctx, claims.Worker{
		ID: worker, FirstName: first, LastName: last,
		DateOfBirth: generic.NewTimePoint(1980, time.March, 3),
	}))
	require.NoError(t, store.SaveCase(ctx, claims.Case{
		IRN: irn, DisplayIRN: "CRN-" + string(irn), WorkerID: worker, Region: region, ClaimType: "WC",
		Incident: claims.Incident{Type: generic.IncidentInjury, Date: incidentDate, Location: "Wharf 3"},
	}))
	require.NoError(t, store.SaveEmployment(ctx, claims.Employment{
		IRN: irn, WorkerID: worker, EmployerName: "Port Authority", OrganizationType: "State", WeeklyWage: d("512.50"),
	}))
}

// =============================================================================
// CASE FILE
// =============================================================================

func TestStore_CaseFileRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedCase(t, store, "1001", "Central", "Maria", "Kila", generic.NewTimePoint(2024, time.January, 10))

	require.NoError(t, store.SaveWorker(ctx, claims.Worker{
		ID: "w-1001", FirstName: "Maria", LastName: "Kila",
		Spouse: &claims.Spouse{FirstName: "Jon", LastName: "Kila"},
	}))
	require.NoError(t, store.SaveDependant(ctx, claims.Dependant{
		ID: "c1", IRN: "1001", WorkerID: "w-1001", FirstName: "Tom", Type: claims.DependantChild,
		DateOfBirth: generic.NewTimePoint(2015, time.May, 1), DegreeOfDependence: d("50"),
	}))

	file, err := claims.NewLocator(store).Locate(ctx, "1001")
	require.NoError(t, err)

	assert.Equal(t, claims.StageNoCalculation, file.Case.Stage)
	assert.Equal(t, "2024-01-10", file.Case.Incident.Date.String())
	assert.Equal(t, "Wharf 3", file.Case.Incident.Location)
	require.NotNil(t, file.Employment)
	assert.True(t, d("512.5").Equal(file.Employment.WeeklyWage))
	assert.True(t, file.HasSpouse())
	require.Len(t, file.Dependants, 1)
	assert.Equal(t, "2015-05-01", file.Dependants[0].DateOfBirth.String())
	assert.True(t, d("50").Equal(file.Dependants[0].DegreeOfDependence))
}

func TestStore_MissingRowsAreNil(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	c, err := store.GetCase(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, c)

	e, err := store.GetEmployment(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, e)

	_, err = claims.NewLocator(store).Locate(ctx, "nope")
	assert.ErrorIs(t, err, generic.ErrCaseNotFound)
}

func TestStore_DocumentsFromAttachments(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedCase(t, store, "1001", "Central", "Maria", "Kila", generic.NewTimePoint(2024, time.January, 10))
	require.NoError(t, store.SaveAttachment(ctx, claims.Attachment{IRN: "1001", Type: " Supervisor statement ", FileName: "s.pdf"}))

	file, err := claims.NewLocator(store).Locate(ctx, "1001")
	require.NoError(t, err)
	status, err := claims.NewDocumentChecker(store).Check(ctx, file)
	require.NoError(t, err)

	// State employer: payslip is also mandatory
	assert.Equal(t, []string{claims.DocFinalMedicalReport, claims.DocPayslip}, status.Missing)
}

// =============================================================================
// LISTINGS
// =============================================================================

func TestStore_ListQueueByRegionAndStage(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedCase(t, store, "1001", "Central", "Maria", "Kila", generic.NewTimePoint(2024, time.January, 10))
	seedCase(t, store, "1002", "Central", "Peter", "Wari", generic.NewTimePoint(2024, time.March, 2))
	seedCase(t, store, "1003", "Highlands", "Ruth", "Api", generic.NewTimePoint(2024, time.April, 5))
	require.NoError(t, store.SetStage(ctx, "1002", claims.StageCalculationComplete))

	all, err := store.ListQueue(ctx, "Central", nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, generic.IRN("1002"), all[0].IRN) // newest incident first
	assert.Equal(t, "Peter", all[0].FirstName)

	registered, err := store.ListQueue(ctx, "Central", []claims.Stage{claims.StageNoCalculation})
	require.NoError(t, err)
	require.Len(t, registered, 1)
	assert.Equal(t, generic.IRN("1001"), registered[0].IRN)

	page, err := claims.NewQueueService(store, 10).List(ctx, "Central", claims.QueueAll, claims.Filter{LastName: "wAr"}, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, page.TotalItems)
}

func TestStore_ListHearingsInRange(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	for _, h := range []claims.Hearing{
		{IRN: "1", DisplayIRN: "CRN-1", Region: "Central", Date: generic.NewTimePoint(2024, time.May, 20), Venue: "Room A"},
		{IRN: "2", DisplayIRN: "CRN-2", Region: "Central", Date: generic.NewTimePoint(2024, time.May, 2), Venue: "Room B"},
		{IRN: "3", DisplayIRN: "CRN-3", Region: "Central", Date: generic.NewTimePoint(2024, time.June, 2)},
		{IRN: "4", DisplayIRN: "CRN-4", Region: "Central", Date: generic.NewTimePoint(2024, time.May, 3), Status: "Cancelled"},
		{IRN: "5", DisplayIRN: "CRN-5", Region: "Highlands", Date: generic.NewTimePoint(2024, time.May, 3)},
	} {
		require.NoError(t, store.SaveHearing(ctx, h))
	}

	hearings, err := store.ListHearings(ctx, "Central",
		generic.NewTimePoint(2024, time.May, 1), generic.NewTimePoint(2024, time.May, 31))
	require.NoError(t, err)

	require.Len(t, hearings, 2)
	assert.Equal(t, "CRN-2", hearings[0].DisplayIRN)
	assert.Equal(t, "CRN-1", hearings[1].DisplayIRN)
	assert.Equal(t, "2024-05-20", hearings[1].Date.String())
}

// =============================================================================
// CALCULATIONS
// =============================================================================

func TestStore_UpsertCalculationKeepsIdentity(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedCase(t, store, "1001", "Central", "Maria", "Kila", generic.NewTimePoint(2024, time.January, 10))
	created := time.Date(2024, time.February, 1, 8, 0, 0, 0, time.UTC)

	rec := claims.CalculationRecord{
		ID: "calc-1", IRN: "1001", IncidentType: generic.IncidentInjury, ClaimType: "WC",
		Criteria: []claims.CriterionLine{{Key: "arm", Factor: d("5"), DoctorPercentage: d("40"),
			Trace: "((3125*8*40*5)/100)/100", Amount: d("500")}},
		BaseCompensation: d("500"), FinalAmount: d("630"), MedicalExpenses: d("100"),
		MiscExpenses: d("50"), Deductions: d("20"), CalculatedBy: "s1",
		CreatedAt: created, UpdatedAt: created,
	}
	isNew, err := store.UpsertCalculation(ctx, rec)
	require.NoError(t, err)
	assert.True(t, isNew)

	rec.ID = "calc-2"
	rec.FinalAmount = d("700")
	rec.CreatedAt = created.Add(time.Hour)
	rec.UpdatedAt = created.Add(time.Hour)
	isNew, err = store.UpsertCalculation(ctx, rec)
	require.NoError(t, err)
	assert.False(t, isNew)

	saved, err := store.GetCalculation(ctx, "1001")
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "calc-1", saved.ID)
	assert.Equal(t, created, saved.CreatedAt)
	assert.True(t, d("700").Equal(saved.FinalAmount))
	require.Len(t, saved.Criteria, 1)
	assert.Equal(t, "((3125*8*40*5)/100)/100", saved.Criteria[0].Trace)
}

func TestStore_WithTxRollsBack(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx claims.CalculationStore) error {
		_, err := tx.UpsertCalculation(ctx, claims.CalculationRecord{ID: "x", IRN: "1001", IncidentType: generic.IncidentDeath, CalculatedBy: "s1"})
		require.NoError(t, err)
		require.NoError(t, tx.UpsertWorkerSummary(ctx, claims.WorkerSummary{IRN: "1001", WorkerID: "w"}))
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	saved, err := store.GetCalculation(ctx, "1001")
	require.NoError(t, err)
	assert.Nil(t, saved)
	summary, err := store.GetWorkerSummary(ctx, "1001")
	require.NoError(t, err)
	assert.Nil(t, summary)
}

func TestStore_EnqueueReviewIsIdempotent(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	entry := claims.ReviewEntry{
		ID: "r1", IRN: "1001", IncidentType: generic.IncidentInjury, SubmittedBy: "s1",
		SubmittedAt: time.Now(), Status: claims.ReviewPendingManager, IdempotencyKey: "1001:sub-1",
	}

	inserted, err := store.EnqueueReview(ctx, entry)
	require.NoError(t, err)
	assert.True(t, inserted)

	entry.ID = "r2"
	inserted, err = store.EnqueueReview(ctx, entry)
	require.NoError(t, err)
	assert.False(t, inserted)

	entries, err := store.ListReviewEntries(ctx, "1001")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStore_SetStageUnknownCase(t *testing.T) {
	store := newStore(t)
	err := store.SetStage(context.Background(), "nope", claims.StageCalculationComplete)
	assert.ErrorIs(t, err, generic.ErrCaseNotFound)
}

// =============================================================================
// LOCKS
// =============================================================================

func TestStore_Locks(t *testing.T) {
	// GIVEN: s1 holds the lock since 09:00
	// WHEN: s2 tries at 09:10 (fresh) and at 10:00 (stale before 09:30)
	// THEN: Conflict first, then takeover
	store := newStore(t)
	ctx := context.Background()
	seedCase(t, store, "1001", "Central", "Maria", "Kila", generic.NewTimePoint(2024, time.January, 10))
	t0 := time.Date(2024, time.July, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.AcquireLock(ctx, "1001", "s1", t0, t0.Add(-30*time.Minute)))
	require.NoError(t, store.AcquireLock(ctx, "1001", "s1", t0.Add(time.Minute), t0.Add(-29*time.Minute)), "re-entrant")

	err := store.AcquireLock(ctx, "1001", "s2", t0.Add(10*time.Minute), t0.Add(-20*time.Minute))
	var conflict *generic.LockConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, generic.StaffID("s1"), conflict.HeldBy)

	released, err := store.ReleaseLock(ctx, "1001", "s2")
	require.NoError(t, err)
	assert.False(t, released, "only the holder releases")

	require.NoError(t, store.AcquireLock(ctx, "1001", "s2", t0.Add(time.Hour), t0.Add(30*time.Minute)))
	c, err := store.GetCase(ctx, "1001")
	require.NoError(t, err)
	assert.Equal(t, generic.StaffID("s2"), c.LockedBy)
	require.NotNil(t, c.LockedAt)
	assert.Equal(t, t0.Add(time.Hour), *c.LockedAt)

	released, err = store.ReleaseLock(ctx, "1001", "s2")
	require.NoError(t, err)
	assert.True(t, released)

	err = store.AcquireLock(ctx, "nope", "s1", t0, t0)
	assert.ErrorIs(t, err, generic.ErrCaseNotFound)
}

func TestStore_GuardLockInsideTx(t *testing.T) {
	// GIVEN: s2 locked the case at 09:00
	// WHEN: s1 writes inside a transaction while the lock is fresh, then stale
	// THEN: Conflict and rollback first, then the write goes through
	store := newStore(t)
	ctx := context.Background()
	seedCase(t, store, "1001", "Central", "Maria", "Kila", generic.NewTimePoint(2024, time.January, 10))
	t0 := time.Date(2024, time.July, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.AcquireLock(ctx, "1001", "s2", t0, t0.Add(-time.Hour)))

	write := func(staleBefore time.Time) error {
		return store.WithTx(ctx, func(tx claims.CalculationStore) error {
			if err := tx.GuardLock(ctx, "1001", "s1", staleBefore); err != nil {
				return err
			}
			_, err := tx.UpsertCalculation(ctx, claims.CalculationRecord{
				ID: "calc-1", IRN: "1001", IncidentType: generic.IncidentInjury,
				ClaimType: "WC", FinalAmount: d("630"), CalculatedBy: "s1", CreatedAt: t0, UpdatedAt: t0,
			})
			return err
		})
	}

	err := write(t0.Add(-30 * time.Minute))
	var conflict *generic.LockConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, generic.StaffID("s2"), conflict.HeldBy)
	rec, err := store.GetCalculation(ctx, "1001")
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, write(t0.Add(time.Minute)))
	require.NoError(t, store.GuardLock(ctx, "1001", "s2", t0.Add(-time.Hour)), "holder passes")
	assert.ErrorIs(t, store.GuardLock(ctx, "nope", "s1", t0), generic.ErrCaseNotFound)
}

func TestStore_ExpireLocks(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedCase(t, store, "1001", "Central", "A", "A", generic.NewTimePoint(2024, time.January, 10))
	seedCase(t, store, "1002", "Central", "B", "B", generic.NewTimePoint(2024, time.January, 11))
	t0 := time.Date(2024, time.July, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.AcquireLock(ctx, "1001", "s1", t0, t0))
	require.NoError(t, store.AcquireLock(ctx, "1002", "s2", t0.Add(time.Hour), t0))

	n, err := store.ExpireLocks(ctx, t0.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	c, err := store.GetCase(ctx, "1001")
	require.NoError(t, err)
	assert.Empty(t, c.LockedBy)
	assert.Nil(t, c.LockedAt)
}

// =============================================================================
// REFERENCE / RESET
// =============================================================================

func testReference(t *testing.T) *reference.Data {
	t.Helper()
	params, err := reference.ParseParameters(map[string]string{
		reference.KeyMinCompensationAmountDeath: "50000",
		reference.KeyMaxCompensationAmountDeath: "16000",
		reference.KeyWeeklyBenefitPerChild:      "25.50",
		reference.KeyBaseAnnualWage:             "3125",
	})
	require.NoError(t, err)
	return &reference.Data{
		Criteria: []reference.Criterion{
			{Key: "eye", Description: "Loss of eye", Factor: d("2.5")},
			{Key: "arm", Description: "Loss of arm", Factor: d("5")},
		},
		ClaimTypes: []reference.ClaimType{{Code: "WC", Name: "Workers Compensation"}},
		Parameters: params,
	}
}

func TestStore_ReferenceReplaceAndLoad(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.ReplaceReference(ctx, testReference(t)))

	data, err := reference.Load(ctx, store)
	require.NoError(t, err)
	require.Len(t, data.Criteria, 2)
	assert.Equal(t, "arm", data.Criteria[0].Key)
	assert.True(t, d("2.5").Equal(data.Criteria[1].Factor))
	assert.True(t, d("25.5").Equal(data.Parameters.WeeklyBenefitPerChild))

	// Reset keeps reference tables
	seedCase(t, store, "1001", "Central", "A", "A", generic.NewTimePoint(2024, time.January, 10))
	require.NoError(t, store.Reset(ctx))
	c, err := store.GetCase(ctx, "1001")
	require.NoError(t, err)
	assert.Nil(t, c)
	criteria, err := store.ListCriteria(ctx)
	require.NoError(t, err)
	assert.Len(t, criteria, 2)
}

// =============================================================================
// END TO END
// =============================================================================

func TestStore_SubmissionEndToEnd(t *testing.T) {
	// GIVEN: A complete injury case on SQLite
	// WHEN: Submitted through the writer
	// THEN: Record, stage and review entry are persisted
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.ReplaceReference(ctx, testReference(t)))
	data, err := reference.Load(ctx, store)
	require.NoError(t, err)

	seedCase(t, store, "1001", "Central", "Maria", "Kila", generic.NewTimePoint(2024, time.January, 10))
	for _, label := range []string{claims.DocSupervisorStatement, claims.DocFinalMedicalReport, claims.DocPayslip} {
		require.NoError(t, store.SaveAttachment(ctx, claims.Attachment{IRN: "1001", Type: label}))
	}

	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	writer := submission.NewWriter(store, reference.NewHolder(data), submission.Options{Logger: logger, LockTTL: time.Hour})

	result, err := writer.Submit(ctx, submission.Request{
		IRN: "1001", StaffID: "s1",
		Criteria:        []compensation.CriterionInput{{Key: "arm", Checked: true, DoctorPercentage: d("40")}},
		MedicalExpenses: d("100"), MiscExpenses: d("50"), Deductions: d("20"),
		Findings: "Loss of grip", Recommendations: "Approve",
	})
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.Empty(t, result.Warnings)

	saved, err := store.GetCalculation(ctx, "1001")
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.True(t, d("630").Equal(saved.FinalAmount))

	c, err := store.GetCase(ctx, "1001")
	require.NoError(t, err)
	assert.Equal(t, claims.StagePendingManagerReview, c.Stage)

	entries, err := store.ListReviewEntries(ctx, "1001")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
