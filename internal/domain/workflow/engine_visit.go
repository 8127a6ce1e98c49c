package workflow

import (
	"context"
	"math"

	"github.com/google/uuid"

	"github.com/clinicflow/clinicflow/internal/domain/billing"
	"github.com/clinicflow/clinicflow/internal/domain/patient"
	"github.com/clinicflow/clinicflow/internal/platform/apperr"
	"github.com/clinicflow/clinicflow/internal/platform/notification"
)

// StartConsultation takes the next patient in the doctor's queue.
func (e *Engine) StartConsultation(ctx context.Context, patientID uuid.UUID, actor string) (*patient.Patient, error) {
	return e.consultation(ctx, ActionStartConsultation, patientID, actor,
		patient.StatusWaiting, patient.StageDoctor, patient.StatusInProgress,
		EventConsultationStarted, "Started consultation")
}

// EndConsultation sends the patient on to billing.
func (e *Engine) EndConsultation(ctx context.Context, patientID uuid.UUID, actor string) (*patient.Patient, error) {
	return e.consultation(ctx, ActionEndConsultation, patientID, actor,
		patient.StatusInProgress, patient.StageBilling, patient.StatusWaiting,
		EventConsultationEnded, "Ended consultation")
}

func (e *Engine) consultation(ctx context.Context, action string, patientID uuid.UUID, actor string,
	want patient.Status, toStage patient.Stage, toStatus patient.Status, typ EventType, auditText string) (*patient.Patient, error) {

	var out *patient.Patient
	err := e.run(ctx, action, patientID, actor, func(ctx context.Context) (Event, error) {
		p, err := e.store.Patients.GetForUpdate(ctx, patientID)
		if err != nil {
			return Event{}, err
		}
		if p.Stage != patient.StageDoctor || p.Status != want {
			return Event{}, apperr.InvalidTransition("patient", p.ID.String(), action, p.State(),
				"patient must be "+string(patient.StageDoctor)+"/"+string(want))
		}
		if err := p.Advance(action, toStage, toStatus); err != nil {
			return Event{}, err
		}
		if err := e.store.Patients.Update(ctx, p); err != nil {
			return Event{}, err
		}
		if err := e.audit(ctx, actor, p.ID, "%s", auditText); err != nil {
			return Event{}, err
		}
		out = p
		return Event{Type: typ, Patient: *p}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CreateBill raises a pending bill for a patient in billing. Amounts are
// rounded to two decimals; a patient has at most one pending bill.
func (e *Engine) CreateBill(ctx context.Context, patientID uuid.UUID, amount float64, actor string) (*billing.Bill, error) {
	var out *billing.Bill
	err := e.run(ctx, ActionCreateBill, patientID, actor, func(ctx context.Context) (Event, error) {
		amount = math.Round(amount*100) / 100
		if err := billing.ValidateAmount(amount); err != nil {
			return Event{}, err
		}
		p, err := e.store.Patients.GetForUpdate(ctx, patientID)
		if err != nil {
			return Event{}, err
		}
		if p.Stage != patient.StageBilling {
			return Event{}, apperr.InvalidTransition("patient", p.ID.String(), ActionCreateBill, p.State(),
				"patient is not in billing")
		}

		bills, err := e.store.Bills.ListByPatient(ctx, p.ID)
		if err != nil {
			return Event{}, err
		}
		for _, b := range bills {
			if b.Status == billing.StatusPending {
				return Event{}, apperr.Conflict("bill", b.ID.String(), ActionCreateBill,
					"patient already has a pending bill", nil)
			}
		}

		b := &billing.Bill{PatientID: p.ID, Amount: amount, Status: billing.StatusPending}
		if err := e.store.Bills.Create(ctx, b); err != nil {
			return Event{}, err
		}
		if err := e.audit(ctx, actor, p.ID, "Generated bill of %s", notification.FormatAmount(amount)); err != nil {
			return Event{}, err
		}
		out = b
		return Event{Type: EventBillCreated, Patient: *p, Bill: b}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Payment is the result of PayBill.
type Payment struct {
	Bill    *billing.Bill    `json:"bill"`
	Patient *patient.Patient `json:"patient"`
}

// PayBill settles a pending bill and completes the patient's visit.
func (e *Engine) PayBill(ctx context.Context, billID uuid.UUID, mode string, actor string) (*Payment, error) {
	var out *Payment
	err := e.run(ctx, ActionPayBill, billID, actor, func(ctx context.Context) (Event, error) {
		m, err := billing.ParseMode(mode)
		if err != nil {
			return Event{}, err
		}
		b, err := e.store.Bills.GetForUpdate(ctx, billID)
		if err != nil {
			return Event{}, err
		}
		p, err := e.store.Patients.GetForUpdate(ctx, b.PatientID)
		if err != nil {
			return Event{}, err
		}
		if err := b.Pay(m, e.clock()); err != nil {
			return Event{}, err
		}
		if err := p.Advance(ActionPayBill, patient.StageCompleted, patient.StatusCompleted); err != nil {
			return Event{}, err
		}
		if err := e.store.Bills.Update(ctx, b); err != nil {
			return Event{}, err
		}
		if err := e.store.Patients.Update(ctx, p); err != nil {
			return Event{}, err
		}
		if err := e.audit(ctx, actor, p.ID, "Received payment of %s via %s",
			notification.FormatAmount(b.Amount), m); err != nil {
			return Event{}, err
		}
		out = &Payment{Bill: b, Patient: p}
		return Event{Type: EventBillPaid, Patient: *p, Bill: b}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
