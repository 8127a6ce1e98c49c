package workflow

import (
	"context"
	"math"

	"github.com/google/uuid"

	"github.com/clinicflow/clinicflow/internal/domain/auditlog"
	"github.com/clinicflow/clinicflow/internal/domain/billing"
	"github.com/clinicflow/clinicflow/internal/domain/diagnostics"
	"github.com/clinicflow/clinicflow/internal/domain/patient"
	"github.com/clinicflow/clinicflow/internal/storage"
	"github.com/clinicflow/clinicflow/pkg/priority"
)

// Projections are read-only views over committed records. Queues are
// re-sorted by priority on every call.
type Projections struct {
	store *storage.Store
}

func NewProjections(store *storage.Store) *Projections {
	return &Projections{store: store}
}

// WaitingTest is an open test with its patient's queue details.
type WaitingTest struct {
	diagnostics.TestRecord
	PatientName     string        `json:"name"`
	UHID            string        `json:"uhid"`
	PriorityTier    priority.Tier `json:"priority_level"`
	TokenNumber     int64         `json:"token_number"`
	ExpectedMinutes int           `json:"expected_duration_minutes"`
}

// PendingBill is an unpaid bill with its patient's queue details.
type PendingBill struct {
	billing.Bill
	PatientName  string        `json:"name"`
	UHID         string        `json:"uhid"`
	PriorityTier priority.Tier `json:"priority_level"`
	TokenNumber  int64         `json:"token_number"`
}

// patientCache loads each patient once per projection call.
type patientCache struct {
	repo patient.Repository
	byID map[uuid.UUID]*patient.Patient
}

func (c *patientCache) get(ctx context.Context, id uuid.UUID) (*patient.Patient, error) {
	if p, ok := c.byID[id]; ok {
		return p, nil
	}
	p, err := c.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.byID[id] = p
	return p, nil
}

func (pr *Projections) patients() *patientCache {
	return &patientCache{repo: pr.store.Patients, byID: make(map[uuid.UUID]*patient.Patient)}
}

// WaitingTests lists tests that are not completed, ordered by patient tier
// then test creation order.
func (pr *Projections) WaitingTests(ctx context.Context) ([]WaitingTest, error) {
	tests, err := pr.store.Tests.ListOpen(ctx)
	if err != nil {
		return nil, err
	}
	cache := pr.patients()
	out := make([]WaitingTest, 0, len(tests))
	for _, t := range tests {
		p, err := cache.get(ctx, t.PatientID)
		if err != nil {
			return nil, err
		}
		out = append(out, WaitingTest{
			TestRecord:      *t,
			PatientName:     p.Name,
			UHID:            p.UHID,
			PriorityTier:    p.PriorityTier,
			TokenNumber:     p.TokenNumber,
			ExpectedMinutes: int(t.Type.ExpectedDuration().Minutes()),
		})
	}
	priority.Sort(out, func(w WaitingTest) priority.Key {
		return priority.Key{Tier: w.PriorityTier, Arrival: w.Seq}
	})
	return out, nil
}

// PendingBills lists unpaid bills ordered by patient tier then token.
func (pr *Projections) PendingBills(ctx context.Context) ([]PendingBill, error) {
	bills, err := pr.store.Bills.ListByStatus(ctx, billing.StatusPending)
	if err != nil {
		return nil, err
	}
	cache := pr.patients()
	out := make([]PendingBill, 0, len(bills))
	for _, b := range bills {
		p, err := cache.get(ctx, b.PatientID)
		if err != nil {
			return nil, err
		}
		out = append(out, PendingBill{
			Bill:         *b,
			PatientName:  p.Name,
			UHID:         p.UHID,
			PriorityTier: p.PriorityTier,
			TokenNumber:  p.TokenNumber,
		})
	}
	priority.Sort(out, func(b PendingBill) priority.Key {
		return priority.Key{Tier: b.PriorityTier, Arrival: b.TokenNumber}
	})
	return out, nil
}

// RegisteredAwaitingTests lists patients who have no tests assigned yet.
func (pr *Projections) RegisteredAwaitingTests(ctx context.Context) ([]*patient.Patient, error) {
	return pr.stageQueue(ctx, patient.StageRegistered)
}

// DoctorQueue lists patients at the doctor stage, waiting or in
// consultation.
func (pr *Projections) DoctorQueue(ctx context.Context) ([]*patient.Patient, error) {
	return pr.stageQueue(ctx, patient.StageDoctor)
}

func (pr *Projections) stageQueue(ctx context.Context, stage patient.Stage) ([]*patient.Patient, error) {
	ps, err := pr.store.Patients.List(ctx, patient.Filter{Stage: stage})
	if err != nil {
		return nil, err
	}
	if ps == nil {
		ps = []*patient.Patient{}
	}
	priority.Sort(ps, (*patient.Patient).QueueKey)
	return ps, nil
}

// ListPatients returns patients in token order.
func (pr *Projections) ListPatients(ctx context.Context, f patient.Filter) ([]*patient.Patient, error) {
	ps, err := pr.store.Patients.List(ctx, f)
	if err != nil {
		return nil, err
	}
	if ps == nil {
		ps = []*patient.Patient{}
	}
	return ps, nil
}

// PatientDetail is a patient with every test and bill.
type PatientDetail struct {
	*patient.Patient
	Tests []*diagnostics.TestRecord `json:"tests"`
	Bills []*billing.Bill           `json:"bills"`
}

func (pr *Projections) Patient(ctx context.Context, id uuid.UUID) (*PatientDetail, error) {
	p, err := pr.store.Patients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	tests, err := pr.store.Tests.ListByPatient(ctx, id)
	if err != nil {
		return nil, err
	}
	bills, err := pr.store.Bills.ListByPatient(ctx, id)
	if err != nil {
		return nil, err
	}
	if tests == nil {
		tests = []*diagnostics.TestRecord{}
	}
	if bills == nil {
		bills = []*billing.Bill{}
	}
	return &PatientDetail{Patient: p, Tests: tests, Bills: bills}, nil
}

// AuditTrail returns a patient's audit entries in append order.
func (pr *Projections) AuditTrail(ctx context.Context, patientID uuid.UUID) ([]*auditlog.Entry, error) {
	if _, err := pr.store.Patients.GetByID(ctx, patientID); err != nil {
		return nil, err
	}
	entries, err := pr.store.Audit.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []*auditlog.Entry{}
	}
	return entries, nil
}

// Limits for RecentActivity.
const (
	DefaultActivityLimit = 50
	MaxActivityLimit     = 500
)

// RecentActivity returns the newest audit entries across all patients in
// append order. limit is clamped to [1, MaxActivityLimit].
func (pr *Projections) RecentActivity(ctx context.Context, limit int) ([]*auditlog.Entry, error) {
	limit = min(max(limit, 1), MaxActivityLimit)
	entries, err := pr.store.Audit.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []*auditlog.Entry{}
	}
	return entries, nil
}

// Dashboard summarises the clinic's current load and takings.
type Dashboard struct {
	TotalPatients       int                              `json:"total_patients"`
	PatientsByStage     map[patient.Stage]int            `json:"patients_by_stage"`
	TestsByStatus       map[diagnostics.Status]int       `json:"tests_by_status"`
	PendingBills        int                              `json:"pending_bills"`
	PendingAmount       float64                          `json:"pending_amount"`
	RevenueByMode       map[billing.PaymentMode]float64  `json:"revenue_by_mode"`
	TotalRevenue        float64                          `json:"total_revenue"`
	AvgTestMinutes      map[diagnostics.TestType]float64 `json:"avg_test_minutes"`
	CompletedTestCounts map[diagnostics.TestType]int     `json:"completed_test_counts"`
}

// Metrics computes the dashboard from current records.
func (pr *Projections) Metrics(ctx context.Context) (*Dashboard, error) {
	d := &Dashboard{
		PatientsByStage:     make(map[patient.Stage]int, len(patient.Stages)),
		TestsByStatus:       map[diagnostics.Status]int{},
		RevenueByMode:       map[billing.PaymentMode]float64{},
		AvgTestMinutes:      map[diagnostics.TestType]float64{},
		CompletedTestCounts: map[diagnostics.TestType]int{},
	}
	for _, s := range patient.Stages {
		d.PatientsByStage[s] = 0
	}
	for _, s := range []diagnostics.Status{diagnostics.StatusPending, diagnostics.StatusInProgress, diagnostics.StatusCompleted} {
		d.TestsByStatus[s] = 0
	}

	ps, err := pr.store.Patients.List(ctx, patient.Filter{})
	if err != nil {
		return nil, err
	}
	d.TotalPatients = len(ps)
	for _, p := range ps {
		d.PatientsByStage[p.Stage]++
	}

	open, err := pr.store.Tests.ListOpen(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range open {
		d.TestsByStatus[t.Status]++
	}
	done, err := pr.store.Tests.ListCompleted(ctx)
	if err != nil {
		return nil, err
	}
	d.TestsByStatus[diagnostics.StatusCompleted] = len(done)
	sums := map[diagnostics.TestType]float64{}
	for _, t := range done {
		dur, ok := t.Duration()
		if !ok {
			continue
		}
		sums[t.Type] += dur.Minutes()
		d.CompletedTestCounts[t.Type]++
	}
	for typ, sum := range sums {
		d.AvgTestMinutes[typ] = round2(sum / float64(d.CompletedTestCounts[typ]))
	}

	pending, err := pr.store.Bills.ListByStatus(ctx, billing.StatusPending)
	if err != nil {
		return nil, err
	}
	d.PendingBills = len(pending)
	for _, b := range pending {
		d.PendingAmount += b.Amount
	}
	d.PendingAmount = round2(d.PendingAmount)

	paid, err := pr.store.Bills.ListByStatus(ctx, billing.StatusPaid)
	if err != nil {
		return nil, err
	}
	for _, b := range paid {
		if b.PaymentMode == nil {
			continue
		}
		d.RevenueByMode[*b.PaymentMode] += b.Amount
		d.TotalRevenue += b.Amount
	}
	for m, v := range d.RevenueByMode {
		d.RevenueByMode[m] = round2(v)
	}
	d.TotalRevenue = round2(d.TotalRevenue)
	return d, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
