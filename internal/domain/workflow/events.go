package workflow

import (
	"context"
	"time"

	"github.com/clinicflow/clinicflow/internal/domain/billing"
	"github.com/clinicflow/clinicflow/internal/domain/diagnostics"
	"github.com/clinicflow/clinicflow/internal/domain/patient"
)

// EventType names a committed transition.
type EventType string

const (
	EventPatientRegistered   EventType = "patient.registered"
	EventTestsAssigned       EventType = "tests.assigned"
	EventTestStarted         EventType = "test.started"
	EventTestCompleted       EventType = "test.completed"
	EventConsultationStarted EventType = "consultation.started"
	EventConsultationEnded   EventType = "consultation.ended"
	EventBillCreated         EventType = "bill.created"
	EventBillPaid            EventType = "bill.paid"
)

// Event describes one committed transition. Records are snapshots taken at
// commit time.
type Event struct {
	Type    EventType
	Actor   string
	At      time.Time
	Patient patient.Patient
	Test    *diagnostics.TestRecord
	Tests   []*diagnostics.TestRecord
	Bill    *billing.Bill
	// AllTestsComplete is set on test.completed when the patient moved on to
	// the doctor.
	AllTestsComplete bool
}

// EventSink receives events after the transition's transaction commits.
// Publish must not block for long and cannot fail the transition.
type EventSink interface {
	Publish(ctx context.Context, ev Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ctx context.Context, ev Event)

func (f SinkFunc) Publish(ctx context.Context, ev Event) { f(ctx, ev) }

// Sinks fans an event out to several sinks in order.
type Sinks []EventSink

func (s Sinks) Publish(ctx context.Context, ev Event) {
	for _, sink := range s {
		sink.Publish(ctx, ev)
	}
}

type nopSink struct{}

func (nopSink) Publish(context.Context, Event) {}
