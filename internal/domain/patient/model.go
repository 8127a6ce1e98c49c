package patient

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicflow/clinicflow/internal/platform/apperr"
	"github.com/clinicflow/clinicflow/pkg/priority"
)

// Stage is the coarse phase of a patient's visit.
type Stage string

const (
	StageRegistered Stage = "registered"
	StageScreening  Stage = "screening"
	StageDoctor     Stage = "doctor"
	StageBilling    Stage = "billing"
	StageCompleted  Stage = "completed"
)

// Stages lists every stage in visit order.
var Stages = []Stage{StageRegistered, StageScreening, StageDoctor, StageBilling, StageCompleted}

// Index returns the position of s in the visit, or -1 for unknown stages.
func (s Stage) Index() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

func (s Stage) Valid() bool { return s.Index() >= 0 }

// Status is the state within the current stage.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Patient maps to the patients table.
type Patient struct {
	ID           uuid.UUID     `json:"id"`
	UHID         string        `json:"uhid"`
	Name         string        `json:"name"`
	Age          int           `json:"age"`
	Gender       string        `json:"gender"`
	Phone        string        `json:"phone"`
	TokenNumber  int64         `json:"token_number"`
	PriorityTier priority.Tier `json:"priority_level"`
	Stage        Stage         `json:"current_stage"`
	Status       Status        `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// QueueKey orders patients by tier, then token number.
func (p *Patient) QueueKey() priority.Key {
	return priority.Key{Tier: p.PriorityTier, Arrival: p.TokenNumber}
}

// Advance moves the patient to stage/status. The stage may stay the same or
// move exactly one step forward; anything else is an invalid transition.
func (p *Patient) Advance(action string, stage Stage, status Status) error {
	from, to := p.Stage.Index(), stage.Index()
	if to < 0 || !status.Valid() {
		return apperr.Validationf("patient", action, "invalid target state %s/%s", stage, status)
	}
	if to != from && to != from+1 {
		return apperr.InvalidTransition("patient", p.ID.String(), action, p.State(),
			"stage cannot move from "+string(p.Stage)+" to "+string(stage))
	}
	p.Stage = stage
	p.Status = status
	return nil
}

// State renders stage/status for error context.
func (p *Patient) State() string {
	return string(p.Stage) + "/" + string(p.Status)
}

// Registration is the input for registering a patient.
type Registration struct {
	UHID          string `json:"uhid"`
	Name          string `json:"name"`
	Age           int    `json:"age"`
	Gender        string `json:"gender"`
	Phone         string `json:"phone"`
	PriorityLevel string `json:"priority_level"`
}

var validGenders = map[string]bool{
	"male": true, "female": true, "other": true,
}

// Validate checks the registration and returns a patient in the registered
// stage. Id and token number are assigned by the store.
func (r Registration) Validate() (*Patient, error) {
	const action = "register"
	uhid := strings.TrimSpace(r.UHID)
	name := strings.TrimSpace(r.Name)
	if uhid == "" {
		return nil, apperr.Validation("patient", action, "uhid is required")
	}
	if name == "" {
		return nil, apperr.Validation("patient", action, "name is required")
	}
	if r.Age < 0 || r.Age > 150 {
		return nil, apperr.Validationf("patient", action, "age out of range: %d", r.Age)
	}
	if !validGenders[strings.ToLower(r.Gender)] {
		return nil, apperr.Validationf("patient", action, "invalid gender: %q", r.Gender)
	}

	tier := priority.Normal
	if r.PriorityLevel != "" {
		t, err := priority.ParseTier(r.PriorityLevel)
		if err != nil {
			return nil, apperr.Validation("patient", action, err.Error())
		}
		tier = t
	}

	return &Patient{
		UHID:         uhid,
		Name:         name,
		Age:          r.Age,
		Gender:       strings.ToLower(r.Gender),
		Phone:        strings.TrimSpace(r.Phone),
		PriorityTier: tier,
		Stage:        StageRegistered,
		Status:       StatusWaiting,
	}, nil
}
