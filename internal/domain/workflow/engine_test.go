package workflow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicflow/clinicflow/internal/domain/billing"
	"github.com/clinicflow/clinicflow/internal/domain/diagnostics"
	"github.com/clinicflow/clinicflow/internal/domain/patient"
	"github.com/clinicflow/clinicflow/internal/domain/workflow"
	"github.com/clinicflow/clinicflow/internal/platform/apperr"
	"github.com/clinicflow/clinicflow/internal/storage"
	"github.com/clinicflow/clinicflow/internal/testsupport"
)

type recorder struct {
	mu     sync.Mutex
	events []workflow.Event
}

func (r *recorder) Publish(_ context.Context, ev workflow.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []workflow.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]workflow.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

var fixedNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

// stepClock advances one minute per reading.
func stepClock() func() time.Time {
	var mu sync.Mutex
	now := fixedNow
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Minute)
		return now
	}
}

func newEngine(t *testing.T, opts ...workflow.Option) (*workflow.Engine, *recorder, *storage.Store) {
	t.Helper()
	st := testsupport.OpenStore(t)
	rec := &recorder{}
	opts = append([]workflow.Option{workflow.WithEventSink(rec), workflow.WithClock(stepClock())}, opts...)
	return workflow.NewEngine(st, opts...), rec, st
}

func register(t *testing.T, e *workflow.Engine, uhid, tier string) *patient.Patient {
	t.Helper()
	p, err := e.RegisterPatient(context.Background(), patient.Registration{
		UHID:          uhid,
		Name:          "Patient " + uhid,
		Age:           54,
		Gender:        "female",
		Phone:         "+919800000000",
		PriorityLevel: tier,
	}, "reception-1")
	require.NoError(t, err)
	return p
}

// toBilling walks a patient with one vision test to billing/waiting.
func toBilling(t *testing.T, e *workflow.Engine, p *patient.Patient) {
	t.Helper()
	ctx := context.Background()
	tests, err := e.AssignTests(ctx, p.ID, []string{"vision"}, "tech-1")
	require.NoError(t, err)
	_, err = e.StartTest(ctx, tests[0].ID, "tech-1")
	require.NoError(t, err)
	_, err = e.CompleteTest(ctx, tests[0].ID, "tech-1")
	require.NoError(t, err)
	_, err = e.StartConsultation(ctx, p.ID, "doc-1")
	require.NoError(t, err)
	_, err = e.EndConsultation(ctx, p.ID, "doc-1")
	require.NoError(t, err)
}

func TestEngine_RegisterPatient(t *testing.T) {
	e, rec, _ := newEngine(t)

	p1 := register(t, e, "UH-1", "")
	p2 := register(t, e, "UH-2", "vip")

	assert.Equal(t, patient.StageRegistered, p1.Stage)
	assert.Equal(t, patient.StatusWaiting, p1.Status)
	assert.Equal(t, int64(1), p1.TokenNumber)
	assert.Equal(t, int64(2), p2.TokenNumber)
	assert.Equal(t, "normal", string(p1.PriorityTier))
	assert.Equal(t, "vip", string(p2.PriorityTier))
	assert.Equal(t, []workflow.EventType{workflow.EventPatientRegistered, workflow.EventPatientRegistered}, rec.types())
	assert.Equal(t, "reception-1", rec.events[0].Actor)
}

func TestEngine_RegisterPatient_Validation(t *testing.T) {
	e, rec, _ := newEngine(t)

	_, err := e.RegisterPatient(context.Background(), patient.Registration{UHID: "UH-1", Name: "A", Gender: "male", PriorityLevel: "urgent"}, "r")
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Empty(t, rec.types())
}

func TestEngine_RegisterPatient_DuplicateUHID(t *testing.T) {
	e, _, _ := newEngine(t)
	register(t, e, "UH-1", "")

	_, err := e.RegisterPatient(context.Background(), patient.Registration{UHID: "UH-1", Name: "B", Gender: "male"}, "r")
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestEngine_FullVisit(t *testing.T) {
	e, rec, st := newEngine(t)
	ctx := context.Background()
	p := register(t, e, "UH-1", "senior")

	tests, err := e.AssignTests(ctx, p.ID, []string{"vision", "iop"}, "tech-1")
	require.NoError(t, err)
	require.Len(t, tests, 2)
	assert.Equal(t, diagnostics.StatusPending, tests[0].Status)

	got, err := st.Patients.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "screening/waiting", got.State())

	started, err := e.StartTest(ctx, tests[0].ID, "tech-1")
	require.NoError(t, err)
	assert.Equal(t, diagnostics.StatusInProgress, started.Test.Status)
	assert.Equal(t, 5, started.ExpectedMinutes)
	assert.Equal(t, "screening/in_progress", started.Patient.State())
	require.NotNil(t, started.Test.StartTime)

	done, err := e.CompleteTest(ctx, tests[0].ID, "tech-1")
	require.NoError(t, err)
	assert.False(t, done.AllTestsComplete)
	assert.Equal(t, "screening/waiting", done.Patient.State())
	require.NotNil(t, done.Test.EndTime)
	assert.True(t, done.Test.EndTime.After(*done.Test.StartTime))

	_, err = e.StartTest(ctx, tests[1].ID, "tech-1")
	require.NoError(t, err)
	done, err = e.CompleteTest(ctx, tests[1].ID, "tech-1")
	require.NoError(t, err)
	assert.True(t, done.AllTestsComplete)
	assert.Equal(t, "doctor/waiting", done.Patient.State())

	p2, err := e.StartConsultation(ctx, p.ID, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "doctor/in_progress", p2.State())
	p2, err = e.EndConsultation(ctx, p.ID, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "billing/waiting", p2.State())

	bill, err := e.CreateBill(ctx, p.ID, 1500.456, "cashier-1")
	require.NoError(t, err)
	assert.Equal(t, 1500.46, bill.Amount)
	assert.Equal(t, billing.StatusPending, bill.Status)

	pay, err := e.PayBill(ctx, bill.ID, "upi", "cashier-1")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPaid, pay.Bill.Status)
	require.NotNil(t, pay.Bill.PaymentMode)
	assert.Equal(t, billing.ModeUPI, *pay.Bill.PaymentMode)
	assert.NotNil(t, pay.Bill.PaidAt)
	assert.Equal(t, "completed/completed", pay.Patient.State())

	assert.Equal(t, []workflow.EventType{
		workflow.EventPatientRegistered,
		workflow.EventTestsAssigned,
		workflow.EventTestStarted,
		workflow.EventTestCompleted,
		workflow.EventTestStarted,
		workflow.EventTestCompleted,
		workflow.EventConsultationStarted,
		workflow.EventConsultationEnded,
		workflow.EventBillCreated,
		workflow.EventBillPaid,
	}, rec.types())

	entries, err := st.Audit.ListByPatient(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, entries, 10)
	assert.Contains(t, entries[0].Action, "Registered patient UH-1")
	assert.Equal(t, "Assigned tests: vision, iop", entries[1].Action)
	assert.Contains(t, entries[9].Action, "via upi")
	for i := 1; i < len(entries); i++ {
		assert.Greater(t, entries[i].Seq, entries[i-1].Seq)
	}
}

func TestEngine_AssignTests_Rules(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()
	p := register(t, e, "UH-1", "")

	_, err := e.AssignTests(ctx, p.ID, nil, "tech-1")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = e.AssignTests(ctx, p.ID, []string{"xray"}, "tech-1")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = e.AssignTests(ctx, p.ID, []string{"oct", "oct"}, "tech-1")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = e.AssignTests(ctx, uuid.New(), []string{"oct"}, "tech-1")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = e.AssignTests(ctx, p.ID, []string{"oct"}, "tech-1")
	require.NoError(t, err)

	// A second assignment in screening adds tests, but not a duplicate type.
	_, err = e.AssignTests(ctx, p.ID, []string{"field"}, "tech-1")
	require.NoError(t, err)
	_, err = e.AssignTests(ctx, p.ID, []string{"oct"}, "tech-1")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestEngine_AssignTests_AfterConsultationRejected(t *testing.T) {
	e, _, _ := newEngine(t)
	p := register(t, e, "UH-1", "")
	toBilling(t, e, p)

	_, err := e.AssignTests(context.Background(), p.ID, []string{"oct"}, "tech-1")
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))

	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, workflow.ActionAssignTests, ae.Action)
	assert.Equal(t, "billing/waiting", ae.State)
}

func TestEngine_InvalidTransitions(t *testing.T) {
	e, rec, st := newEngine(t)
	ctx := context.Background()
	p := register(t, e, "UH-1", "")

	// Consultation before tests are done.
	_, err := e.StartConsultation(ctx, p.ID, "doc-1")
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))
	_, err = e.EndConsultation(ctx, p.ID, "doc-1")
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))
	_, err = e.CreateBill(ctx, p.ID, 100, "cashier-1")
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))

	tests, err := e.AssignTests(ctx, p.ID, []string{"vision"}, "tech-1")
	require.NoError(t, err)

	// Complete before start.
	_, err = e.CompleteTest(ctx, tests[0].ID, "tech-1")
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))

	_, err = e.StartTest(ctx, tests[0].ID, "tech-1")
	require.NoError(t, err)
	_, err = e.StartTest(ctx, tests[0].ID, "tech-1")
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))

	_, err = e.CompleteTest(ctx, tests[0].ID, "tech-1")
	require.NoError(t, err)
	_, err = e.CompleteTest(ctx, tests[0].ID, "tech-1")
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))

	// Rejected transitions leave no trace.
	entries, err := st.Audit.ListByPatient(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 4)
	assert.Len(t, rec.types(), 4)

	got, err := st.Patients.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "doctor/waiting", got.State())
}

func TestEngine_NotFound(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()
	missing := uuid.New()

	_, err := e.StartTest(ctx, missing, "t")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	_, err = e.CompleteTest(ctx, missing, "t")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	_, err = e.StartConsultation(ctx, missing, "d")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	_, err = e.CreateBill(ctx, missing, 10, "b")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	_, err = e.PayBill(ctx, missing, "cash", "b")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestEngine_ParallelTestsKeepPatientInProgress(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()
	p := register(t, e, "UH-1", "emergency")

	tests, err := e.AssignTests(ctx, p.ID, []string{"vision", "refraction", "oct"}, "tech-1")
	require.NoError(t, err)

	_, err = e.StartTest(ctx, tests[0].ID, "tech-1")
	require.NoError(t, err)
	_, err = e.StartTest(ctx, tests[1].ID, "tech-2")
	require.NoError(t, err)

	done, err := e.CompleteTest(ctx, tests[0].ID, "tech-1")
	require.NoError(t, err)
	assert.False(t, done.AllTestsComplete)
	assert.Equal(t, "screening/in_progress", done.Patient.State())

	done, err = e.CompleteTest(ctx, tests[1].ID, "tech-2")
	require.NoError(t, err)
	assert.False(t, done.AllTestsComplete)
	assert.Equal(t, "screening/waiting", done.Patient.State())

	_, err = e.StartTest(ctx, tests[2].ID, "tech-1")
	require.NoError(t, err)
	done, err = e.CompleteTest(ctx, tests[2].ID, "tech-1")
	require.NoError(t, err)
	assert.True(t, done.AllTestsComplete)
	assert.Equal(t, "doctor/waiting", done.Patient.State())
}

func TestEngine_ConcurrentStartTest(t *testing.T) {
	e, rec, _ := newEngine(t)
	ctx := context.Background()
	p := register(t, e, "UH-1", "")
	tests, err := e.AssignTests(ctx, p.ID, []string{"vision"}, "tech-1")
	require.NoError(t, err)

	const n = 2
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.StartTest(ctx, tests[0].ID, "tech-1")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		kind := apperr.KindOf(err)
		assert.True(t, kind == apperr.KindInvalidTransition || kind == apperr.KindConflict, "unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)

	started := 0
	for _, typ := range rec.types() {
		if typ == workflow.EventTestStarted {
			started++
		}
	}
	assert.Equal(t, 1, started)
}

func TestEngine_Billing(t *testing.T) {
	e, _, st := newEngine(t)
	ctx := context.Background()
	p := register(t, e, "UH-1", "")
	toBilling(t, e, p)

	for _, amt := range []float64{0, -5, 0.001, 1e10} {
		_, err := e.CreateBill(ctx, p.ID, amt, "cashier-1")
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), "amount %v", amt)
	}

	bill, err := e.CreateBill(ctx, p.ID, 800, "cashier-1")
	require.NoError(t, err)

	_, err = e.CreateBill(ctx, p.ID, 200, "cashier-1")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = e.PayBill(ctx, bill.ID, "bitcoin", "cashier-1")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = e.PayBill(ctx, bill.ID, "cash", "cashier-1")
	require.NoError(t, err)

	_, err = e.PayBill(ctx, bill.ID, "card", "cashier-1")
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))

	got, err := st.Bills.GetByID(ctx, bill.ID)
	require.NoError(t, err)
	require.NotNil(t, got.PaymentMode)
	assert.Equal(t, billing.ModeCash, *got.PaymentMode)
}

func TestEngine_Transition(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()
	p := register(t, e, "UH-1", "")
	tests, err := e.AssignTests(ctx, p.ID, []string{"field"}, "tech-1")
	require.NoError(t, err)

	st, err := e.Transition(ctx, workflow.Request{Entity: "test", ID: tests[0].ID, Action: "start", Actor: "tech-1"})
	require.NoError(t, err)
	assert.Equal(t, workflow.ActionStartTest, st.Action)
	assert.Equal(t, "in_progress", st.EntityStatus)
	assert.Equal(t, 20, st.ExpectedMinutes)
	assert.Equal(t, p.ID, st.PatientID)

	st, err = e.Transition(ctx, workflow.Request{Entity: "test", ID: tests[0].ID, Action: "complete", Actor: "tech-1"})
	require.NoError(t, err)
	assert.Equal(t, "doctor", st.Stage)
	assert.Equal(t, "waiting", st.Status)

	_, err = e.Transition(ctx, workflow.Request{Entity: "consultation", ID: p.ID, Action: "start", Actor: "doc-1"})
	require.NoError(t, err)
	st, err = e.Transition(ctx, workflow.Request{Entity: "consultation", ID: p.ID, Action: "end", Actor: "doc-1"})
	require.NoError(t, err)
	assert.Equal(t, "billing", st.Stage)

	bill, err := e.CreateBill(ctx, p.ID, 450, "cashier-1")
	require.NoError(t, err)
	st, err = e.Transition(ctx, workflow.Request{Entity: "bill", ID: bill.ID, Action: "pay", PaymentMode: "insurance", Actor: "cashier-1"})
	require.NoError(t, err)
	assert.Equal(t, "paid", st.EntityStatus)
	assert.Equal(t, "completed", st.Stage)

	_, err = e.Transition(ctx, workflow.Request{Entity: "bill", ID: bill.ID, Action: "refund"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	_, err = e.Transition(ctx, workflow.Request{Entity: "test", Action: "start"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestResolveAction(t *testing.T) {
	cases := map[string]string{
		"test/start":         workflow.ActionStartTest,
		"TEST/Complete":      workflow.ActionCompleteTest,
		"consultation/start": workflow.ActionStartConsultation,
		"consultation/end":   workflow.ActionEndConsultation,
		"bill/pay":           workflow.ActionPayBill,
	}
	for in, want := range cases {
		var entity, action string
		for i := range in {
			if in[i] == '/' {
				entity, action = in[:i], in[i+1:]
				break
			}
		}
		got, ok := workflow.ResolveAction(entity, action)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := workflow.ResolveAction("patient", "register")
	assert.False(t, ok)
}
