package workflow

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/clinicflow/clinicflow/internal/platform/apperr"
)

// Entities accepted by Transition.
const (
	EntityTest         = "test"
	EntityConsultation = "consultation"
	EntityBill         = "bill"
)

// Request is an id-only transition. PaymentMode is read only for bill/pay.
type Request struct {
	Entity      string    `json:"entity"`
	ID          uuid.UUID `json:"id"`
	Action      string    `json:"action"`
	Actor       string    `json:"-"`
	PaymentMode string    `json:"payment_mode,omitempty"`
}

// State is the outcome of a Transition.
type State struct {
	Entity          string    `json:"entity"`
	ID              uuid.UUID `json:"id"`
	Action          string    `json:"action"`
	EntityStatus    string    `json:"entity_status"`
	PatientID       uuid.UUID `json:"patient_id"`
	Stage           string    `json:"current_stage"`
	Status          string    `json:"status"`
	ExpectedMinutes int       `json:"expected_duration_minutes,omitempty"`
}

// ResolveAction maps an entity/action pair to the engine action name, e.g.
// test/start -> start_test.
func ResolveAction(entity, action string) (string, bool) {
	switch strings.ToLower(entity) + "/" + strings.ToLower(action) {
	case "test/start":
		return ActionStartTest, true
	case "test/complete":
		return ActionCompleteTest, true
	case "consultation/start":
		return ActionStartConsultation, true
	case "consultation/end":
		return ActionEndConsultation, true
	case "bill/pay":
		return ActionPayBill, true
	}
	return "", false
}

// Transition applies an id-only action. Actions that need a richer payload
// (register, assign tests, create bill) have their own methods.
func (e *Engine) Transition(ctx context.Context, req Request) (*State, error) {
	action, ok := ResolveAction(req.Entity, req.Action)
	if !ok {
		return nil, apperr.Validationf(req.Entity, req.Action, "unsupported transition %s/%s", req.Entity, req.Action)
	}
	if req.ID == uuid.Nil {
		return nil, apperr.Validation(req.Entity, action, "id is required")
	}

	st := &State{Entity: strings.ToLower(req.Entity), ID: req.ID, Action: action}
	switch action {
	case ActionStartTest:
		res, err := e.StartTest(ctx, req.ID, req.Actor)
		if err != nil {
			return nil, err
		}
		st.EntityStatus = string(res.Test.Status)
		st.ExpectedMinutes = res.ExpectedMinutes
		st.fromPatient(res.Patient.ID, string(res.Patient.Stage), string(res.Patient.Status))
	case ActionCompleteTest:
		res, err := e.CompleteTest(ctx, req.ID, req.Actor)
		if err != nil {
			return nil, err
		}
		st.EntityStatus = string(res.Test.Status)
		st.fromPatient(res.Patient.ID, string(res.Patient.Stage), string(res.Patient.Status))
	case ActionStartConsultation, ActionEndConsultation:
		fn := e.StartConsultation
		if action == ActionEndConsultation {
			fn = e.EndConsultation
		}
		p, err := fn(ctx, req.ID, req.Actor)
		if err != nil {
			return nil, err
		}
		st.EntityStatus = string(p.Status)
		st.fromPatient(p.ID, string(p.Stage), string(p.Status))
	case ActionPayBill:
		res, err := e.PayBill(ctx, req.ID, req.PaymentMode, req.Actor)
		if err != nil {
			return nil, err
		}
		st.EntityStatus = string(res.Bill.Status)
		st.fromPatient(res.Patient.ID, string(res.Patient.Stage), string(res.Patient.Status))
	}
	return st, nil
}

func (s *State) fromPatient(id uuid.UUID, stage, status string) {
	s.PatientID = id
	s.Stage = stage
	s.Status = status
}
