package storage_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicflow/clinicflow/internal/config"
	"github.com/clinicflow/clinicflow/internal/domain/auditlog"
	"github.com/clinicflow/clinicflow/internal/domain/billing"
	"github.com/clinicflow/clinicflow/internal/domain/diagnostics"
	"github.com/clinicflow/clinicflow/internal/domain/patient"
	"github.com/clinicflow/clinicflow/internal/platform/apperr"
	"github.com/clinicflow/clinicflow/internal/storage"
	"github.com/clinicflow/clinicflow/internal/testsupport"
	"github.com/clinicflow/clinicflow/pkg/priority"
)

func registerPatient(t *testing.T, st *storage.Store, uhid string) *patient.Patient {
	t.Helper()
	p := &patient.Patient{
		UHID: uhid, Name: "Asha", Age: 61, Gender: "female",
		PriorityTier: priority.Senior,
		Stage:        patient.StageRegistered,
		Status:       patient.StatusWaiting,
	}
	require.NoError(t, st.Patients.Create(context.Background(), p))
	return p
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := storage.Open(context.Background(), &config.Config{StoreDriver: "mongo"})
	assert.Error(t, err)
}

func TestPatients_TokensIncrease(t *testing.T) {
	st := testsupport.OpenStore(t)
	a := registerPatient(t, st, "U1")
	b := registerPatient(t, st, "U2")
	assert.Equal(t, int64(1), a.TokenNumber)
	assert.Equal(t, int64(2), b.TokenNumber)

	got, err := st.Patients.GetByID(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, "U2", got.UHID)
	assert.Equal(t, priority.Senior, got.PriorityTier)
	assert.Equal(t, patient.StageRegistered, got.Stage)
}

func TestPatients_DuplicateUHID(t *testing.T) {
	st := testsupport.OpenStore(t)
	registerPatient(t, st, "U1")
	err := st.Patients.Create(context.Background(), &patient.Patient{
		UHID: "U1", Name: "B", Gender: "male", PriorityTier: priority.Normal,
		Stage: patient.StageRegistered, Status: patient.StatusWaiting,
	})
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestPatients_NotFound(t *testing.T) {
	st := testsupport.OpenStore(t)
	_, err := st.Patients.GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPatients_ListFilter(t *testing.T) {
	st := testsupport.OpenStore(t)
	ctx := context.Background()
	a := registerPatient(t, st, "U1")
	registerPatient(t, st, "U2")

	a.Stage = patient.StageScreening
	require.NoError(t, st.Patients.Update(ctx, a))

	got, err := st.Patients.List(ctx, patient.Filter{Stage: patient.StageRegistered})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "U2", got[0].UHID)

	all, err := st.Patients.List(ctx, patient.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestTests_UniqueTypePerPatient(t *testing.T) {
	st := testsupport.OpenStore(t)
	ctx := context.Background()
	p := registerPatient(t, st, "U1")

	first := &diagnostics.TestRecord{PatientID: p.ID, Type: diagnostics.TypeVision, Status: diagnostics.StatusPending}
	require.NoError(t, st.Tests.Create(ctx, first))
	second := &diagnostics.TestRecord{PatientID: p.ID, Type: diagnostics.TypeIOP, Status: diagnostics.StatusPending}
	require.NoError(t, st.Tests.Create(ctx, second))
	assert.Less(t, first.Seq, second.Seq)

	dup := &diagnostics.TestRecord{PatientID: p.ID, Type: diagnostics.TypeVision, Status: diagnostics.StatusPending}
	assert.ErrorIs(t, st.Tests.Create(ctx, dup), apperr.ErrConflict)
}

func TestTests_UpdateRoundTrip(t *testing.T) {
	st := testsupport.OpenStore(t)
	ctx := context.Background()
	p := registerPatient(t, st, "U1")
	rec := &diagnostics.TestRecord{PatientID: p.ID, Type: diagnostics.TypeOCT, Status: diagnostics.StatusPending}
	require.NoError(t, st.Tests.Create(ctx, rec))

	require.NoError(t, rec.Start(rec.CreatedAt))
	require.NoError(t, st.Tests.Update(ctx, rec))

	open, err := st.Tests.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, diagnostics.StatusInProgress, open[0].Status)
	require.NotNil(t, open[0].StartTime)
	assert.Nil(t, open[0].EndTime)

	require.NoError(t, rec.Complete(rec.CreatedAt.Add(1)))
	require.NoError(t, st.Tests.Update(ctx, rec))
	open, err = st.Tests.ListOpen(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
	done, err := st.Tests.ListCompleted(ctx)
	require.NoError(t, err)
	assert.Len(t, done, 1)
}

func TestBills_OnePendingPerPatient(t *testing.T) {
	st := testsupport.OpenStore(t)
	ctx := context.Background()
	p := registerPatient(t, st, "U1")

	b := &billing.Bill{PatientID: p.ID, Amount: 500, Status: billing.StatusPending}
	require.NoError(t, st.Bills.Create(ctx, b))
	err := st.Bills.Create(ctx, &billing.Bill{PatientID: p.ID, Amount: 20, Status: billing.StatusPending})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	require.NoError(t, b.Pay(billing.ModeCash, b.CreatedAt))
	require.NoError(t, st.Bills.Update(ctx, b))

	got, err := st.Bills.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPaid, got.Status)
	require.NotNil(t, got.PaymentMode)
	assert.Equal(t, billing.ModeCash, *got.PaymentMode)
	assert.InDelta(t, 500.0, got.Amount, 0.001)

	// Once paid, a new pending bill is allowed.
	require.NoError(t, st.Bills.Create(ctx, &billing.Bill{PatientID: p.ID, Amount: 20, Status: billing.StatusPending}))
	pending, err := st.Bills.ListByStatus(ctx, billing.StatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestAudit_AppendOrder(t *testing.T) {
	st := testsupport.OpenStore(t)
	ctx := context.Background()
	p := registerPatient(t, st, "U1")

	for _, action := range []string{"first", "second", "third"} {
		require.NoError(t, st.Audit.Append(ctx, auditlog.NewEntry("u1", action, p.ID)))
	}
	got, err := st.Audit.ListByPatient(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "first", got[0].Action)
	assert.Equal(t, "third", got[2].Action)

	recent, err := st.Audit.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "second", recent[0].Action)
	assert.Equal(t, "third", recent[1].Action)
}

func TestInTx_RollbackDiscardsWrites(t *testing.T) {
	st := testsupport.OpenStore(t)
	ctx := context.Background()

	err := st.InTx(ctx, func(ctx context.Context) error {
		p := &patient.Patient{
			UHID: "U9", Name: "X", Gender: "other", PriorityTier: priority.Normal,
			Stage: patient.StageRegistered, Status: patient.StatusWaiting,
		}
		if err := st.Patients.Create(ctx, p); err != nil {
			return err
		}
		return apperr.Validation("patient", "register", "rejected")
	})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	all, err := st.Patients.List(ctx, patient.Filter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestStore_PingAndStats(t *testing.T) {
	st := testsupport.OpenStore(t)
	require.NoError(t, st.Ping(context.Background()))
	stats, ok := st.Stats().(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, config.DriverSQLite, stats["driver"])
}
