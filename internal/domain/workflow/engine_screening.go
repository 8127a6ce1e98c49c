package workflow

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicflow/clinicflow/internal/domain/diagnostics"
	"github.com/clinicflow/clinicflow/internal/domain/patient"
	"github.com/clinicflow/clinicflow/internal/platform/apperr"
)

// RegisterPatient validates reg and stores a new patient in
// registered/waiting with the next token number.
func (e *Engine) RegisterPatient(ctx context.Context, reg patient.Registration, actor string) (*patient.Patient, error) {
	var out *patient.Patient
	err := e.run(ctx, ActionRegister, uuid.Nil, actor, func(ctx context.Context) (Event, error) {
		p, err := reg.Validate()
		if err != nil {
			return Event{}, err
		}
		if err := e.store.Patients.Create(ctx, p); err != nil {
			return Event{}, err
		}
		if err := e.audit(ctx, actor, p.ID, "Registered patient %s (token %d)", p.UHID, p.TokenNumber); err != nil {
			return Event{}, err
		}
		out = p
		return Event{Type: EventPatientRegistered, Patient: *p}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AssignTests creates pending tests for a patient who has not yet seen the
// doctor and moves a registered patient into screening.
func (e *Engine) AssignTests(ctx context.Context, patientID uuid.UUID, types []string, actor string) ([]*diagnostics.TestRecord, error) {
	var out []*diagnostics.TestRecord
	err := e.run(ctx, ActionAssignTests, patientID, actor, func(ctx context.Context) (Event, error) {
		parsed, err := diagnostics.ParseTypes(types)
		if err != nil {
			return Event{}, err
		}
		p, err := e.store.Patients.GetForUpdate(ctx, patientID)
		if err != nil {
			return Event{}, err
		}
		if p.Stage != patient.StageRegistered && p.Stage != patient.StageScreening {
			return Event{}, apperr.InvalidTransition("patient", p.ID.String(), ActionAssignTests, p.State(),
				"tests can only be assigned before consultation")
		}

		existing, err := e.store.Tests.ListByPatient(ctx, p.ID)
		if err != nil {
			return Event{}, err
		}
		for _, t := range existing {
			for _, want := range parsed {
				if t.Type == want {
					return Event{}, apperr.Conflict("test", p.ID.String(), ActionAssignTests,
						string(want)+" test already assigned", nil)
				}
			}
		}

		created := make([]*diagnostics.TestRecord, 0, len(parsed))
		names := make([]string, 0, len(parsed))
		for _, typ := range parsed {
			t := &diagnostics.TestRecord{PatientID: p.ID, Type: typ, Status: diagnostics.StatusPending}
			if err := e.store.Tests.Create(ctx, t); err != nil {
				return Event{}, err
			}
			created = append(created, t)
			names = append(names, string(typ))
		}

		// A patient already in screening keeps its status: a running test
		// stays in progress.
		if p.Stage == patient.StageRegistered {
			if err := p.Advance(ActionAssignTests, patient.StageScreening, patient.StatusWaiting); err != nil {
				return Event{}, err
			}
			if err := e.store.Patients.Update(ctx, p); err != nil {
				return Event{}, err
			}
		}

		if err := e.audit(ctx, actor, p.ID, "Assigned tests: %s", strings.Join(names, ", ")); err != nil {
			return Event{}, err
		}
		out = created
		return Event{Type: EventTestsAssigned, Patient: *p, Tests: created}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TestStart is the result of StartTest.
type TestStart struct {
	Test             *diagnostics.TestRecord `json:"test"`
	Patient          *patient.Patient        `json:"patient"`
	ExpectedDuration time.Duration           `json:"-"`
	ExpectedMinutes  int                     `json:"expected_duration_minutes"`
}

// StartTest moves a pending test to in_progress and the patient to
// screening/in_progress. The expected duration is advisory.
func (e *Engine) StartTest(ctx context.Context, testID uuid.UUID, actor string) (*TestStart, error) {
	var out *TestStart
	err := e.run(ctx, ActionStartTest, testID, actor, func(ctx context.Context) (Event, error) {
		t, p, err := e.lockTest(ctx, testID)
		if err != nil {
			return Event{}, err
		}
		if err := t.Start(e.clock()); err != nil {
			return Event{}, err
		}
		if p.Stage != patient.StageScreening {
			return Event{}, apperr.InvalidTransition("patient", p.ID.String(), ActionStartTest, p.State(),
				"patient is not in screening")
		}
		if err := p.Advance(ActionStartTest, patient.StageScreening, patient.StatusInProgress); err != nil {
			return Event{}, err
		}
		if err := e.store.Tests.Update(ctx, t); err != nil {
			return Event{}, err
		}
		if err := e.store.Patients.Update(ctx, p); err != nil {
			return Event{}, err
		}
		if err := e.audit(ctx, actor, p.ID, "Started %s test", t.Type); err != nil {
			return Event{}, err
		}

		d := t.Type.ExpectedDuration()
		out = &TestStart{Test: t, Patient: p, ExpectedDuration: d, ExpectedMinutes: int(d / time.Minute)}
		return Event{Type: EventTestStarted, Patient: *p, Test: t}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TestCompletion is the result of CompleteTest.
type TestCompletion struct {
	Test             *diagnostics.TestRecord `json:"test"`
	Patient          *patient.Patient        `json:"patient"`
	AllTestsComplete bool                    `json:"all_tests_complete"`
}

// CompleteTest finishes an in-progress test. The patient moves to the
// doctor's queue only once every assigned test is complete; until then it
// stays in screening, in progress while another test runs.
func (e *Engine) CompleteTest(ctx context.Context, testID uuid.UUID, actor string) (*TestCompletion, error) {
	var out *TestCompletion
	err := e.run(ctx, ActionCompleteTest, testID, actor, func(ctx context.Context) (Event, error) {
		t, p, err := e.lockTest(ctx, testID)
		if err != nil {
			return Event{}, err
		}
		if err := t.Complete(e.clock()); err != nil {
			return Event{}, err
		}
		if err := e.store.Tests.Update(ctx, t); err != nil {
			return Event{}, err
		}

		tests, err := e.store.Tests.ListByPatient(ctx, p.ID)
		if err != nil {
			return Event{}, err
		}
		allDone, running := true, false
		for _, other := range tests {
			if other.ID == t.ID {
				continue
			}
			if other.Open() {
				allDone = false
			}
			if other.Status == diagnostics.StatusInProgress {
				running = true
			}
		}

		switch {
		case allDone:
			err = p.Advance(ActionCompleteTest, patient.StageDoctor, patient.StatusWaiting)
		case running:
			err = p.Advance(ActionCompleteTest, patient.StageScreening, patient.StatusInProgress)
		default:
			err = p.Advance(ActionCompleteTest, patient.StageScreening, patient.StatusWaiting)
		}
		if err != nil {
			return Event{}, err
		}
		if err := e.store.Patients.Update(ctx, p); err != nil {
			return Event{}, err
		}
		if err := e.audit(ctx, actor, p.ID, "Completed %s test", t.Type); err != nil {
			return Event{}, err
		}

		out = &TestCompletion{Test: t, Patient: p, AllTestsComplete: allDone}
		return Event{Type: EventTestCompleted, Patient: *p, Test: t, AllTestsComplete: allDone}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// lockTest reads a test and its patient for update, test first.
func (e *Engine) lockTest(ctx context.Context, testID uuid.UUID) (*diagnostics.TestRecord, *patient.Patient, error) {
	t, err := e.store.Tests.GetForUpdate(ctx, testID)
	if err != nil {
		return nil, nil, err
	}
	p, err := e.store.Patients.GetForUpdate(ctx, t.PatientID)
	if err != nil {
		return nil, nil, err
	}
	return t, p, nil
}
