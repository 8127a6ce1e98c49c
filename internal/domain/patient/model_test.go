package patient

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/clinicflow/clinicflow/internal/platform/apperr"
	"github.com/clinicflow/clinicflow/pkg/priority"
)

func TestStage_Index(t *testing.T) {
	for i, s := range Stages {
		if s.Index() != i {
			t.Errorf("%s: expected index %d, got %d", s, i, s.Index())
		}
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if Stage("triage").Valid() {
		t.Error("unknown stage should be invalid")
	}
}

func TestAdvance_ForwardOneStep(t *testing.T) {
	p := &Patient{ID: uuid.New(), Stage: StageRegistered, Status: StatusWaiting}

	steps := []struct {
		stage  Stage
		status Status
	}{
		{StageScreening, StatusWaiting},
		{StageScreening, StatusInProgress},
		{StageDoctor, StatusWaiting},
		{StageDoctor, StatusInProgress},
		{StageBilling, StatusWaiting},
		{StageCompleted, StatusCompleted},
	}
	for _, s := range steps {
		if err := p.Advance("step", s.stage, s.status); err != nil {
			t.Fatalf("advance to %s/%s: %v", s.stage, s.status, err)
		}
	}
	if p.State() != "completed/completed" {
		t.Errorf("unexpected final state %s", p.State())
	}
}

func TestAdvance_RejectsSkipAndRegression(t *testing.T) {
	cases := []struct {
		name string
		from Stage
		to   Stage
	}{
		{"skip screening", StageRegistered, StageDoctor},
		{"skip to completed", StageDoctor, StageCompleted},
		{"regress", StageBilling, StageDoctor},
		{"restart", StageCompleted, StageRegistered},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := &Patient{ID: uuid.New(), Stage: tc.from, Status: StatusWaiting}
			err := p.Advance("move", tc.to, StatusWaiting)
			if !errors.Is(err, apperr.ErrInvalidTransition) {
				t.Fatalf("expected invalid transition, got %v", err)
			}
			if p.Stage != tc.from {
				t.Errorf("stage changed to %s on failure", p.Stage)
			}
		})
	}
}

func TestAdvance_RejectsUnknownState(t *testing.T) {
	p := &Patient{ID: uuid.New(), Stage: StageRegistered, Status: StatusWaiting}
	if err := p.Advance("move", Stage("lab"), StatusWaiting); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	if err := p.Advance("move", StageScreening, Status("paused")); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestRegistration_Validate(t *testing.T) {
	p, err := Registration{
		UHID: " UH2024001 ", Name: "Meena", Age: 67, Gender: "Female",
		Phone: "9000000001", PriorityLevel: "Senior",
	}.Validate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.UHID != "UH2024001" {
		t.Errorf("expected trimmed uhid, got %q", p.UHID)
	}
	if p.PriorityTier != priority.Senior {
		t.Errorf("expected senior tier, got %s", p.PriorityTier)
	}
	if p.Stage != StageRegistered || p.Status != StatusWaiting {
		t.Errorf("expected registered/waiting, got %s", p.State())
	}
}

func TestRegistration_DefaultsToNormal(t *testing.T) {
	p, err := Registration{UHID: "UH1", Name: "Ravi", Age: 30, Gender: "male"}.Validate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.PriorityTier != priority.Normal {
		t.Errorf("expected normal tier, got %s", p.PriorityTier)
	}
}

func TestRegistration_Invalid(t *testing.T) {
	cases := map[string]Registration{
		"missing uhid": {Name: "A", Age: 1, Gender: "male"},
		"missing name": {UHID: "U", Age: 1, Gender: "male"},
		"negative age": {UHID: "U", Name: "A", Age: -1, Gender: "male"},
		"bad gender":   {UHID: "U", Name: "A", Age: 1, Gender: "x"},
		"bad priority": {UHID: "U", Name: "A", Age: 1, Gender: "male", PriorityLevel: "urgent"},
	}
	for name, reg := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := reg.Validate(); !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestQueueKey(t *testing.T) {
	p := &Patient{PriorityTier: priority.VIP, TokenNumber: 12}
	k := p.QueueKey()
	if k.Tier != priority.VIP || k.Arrival != 12 {
		t.Errorf("unexpected key %+v", k)
	}
}
