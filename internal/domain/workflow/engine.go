// Package workflow moves patients through the clinic: registration,
// diagnostic tests, consultation, billing and completion.
//
// Every transition runs in one store transaction. It validates the current
// state, mutates the records, appends one audit entry and, after commit,
// publishes one Event. Read-side queues live in projections.go.
package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/clinicflow/clinicflow/internal/domain/auditlog"
	"github.com/clinicflow/clinicflow/internal/platform/apperr"
	"github.com/clinicflow/clinicflow/internal/platform/telemetry"
	"github.com/clinicflow/clinicflow/internal/storage"
)

// Action names used for errors, audit, metrics and the generic Transition
// entry point.
const (
	ActionRegister          = "register"
	ActionAssignTests       = "assign_tests"
	ActionStartTest         = "start_test"
	ActionCompleteTest      = "complete_test"
	ActionStartConsultation = "start_consultation"
	ActionEndConsultation   = "end_consultation"
	ActionCreateBill        = "create_bill"
	ActionPayBill           = "pay_bill"
)

type Engine struct {
	store   *storage.Store
	sink    EventSink
	log     zerolog.Logger
	metrics *telemetry.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

type Option func(*Engine)

// WithEventSink sets where committed events go.
func WithEventSink(s EventSink) Option {
	return func(e *Engine) {
		if s != nil {
			e.sink = s
		}
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer replaces the global service tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithClock overrides the time source used for test start/end and payment
// timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEngine(store *storage.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		sink:   nopSink{},
		log:    zerolog.Nop(),
		tracer: telemetry.Tracer(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the engine's store handle.
func (e *Engine) Store() *storage.Store { return e.store }

// run executes fn in one transaction and publishes the returned event after
// commit. Errors from repositories get action filled in.
func (e *Engine) run(ctx context.Context, action string, id uuid.UUID, actor string,
	fn func(ctx context.Context) (Event, error)) error {

	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "workflow."+action, trace.WithAttributes(
		attribute.String("workflow.action", action),
		attribute.String("workflow.entity_id", id.String()),
		attribute.String("workflow.actor", actor),
	))
	defer span.End()

	var ev Event
	err := e.store.InTx(ctx, func(ctx context.Context) error {
		var err error
		ev, err = fn(ctx)
		return err
	})
	err = apperr.WithAction(err, action)
	e.metrics.ObserveTransition(action, start, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.log.Warn().Err(err).
			Str("action", action).
			Str("id", id.String()).
			Str("actor", actor).
			Msg("transition rejected")
		return err
	}

	ev.Actor = actor
	if ev.At.IsZero() {
		ev.At = e.clock()
	}
	span.SetAttributes(attribute.String("patient.id", ev.Patient.ID.String()))
	e.log.Debug().
		Str("action", action).
		Str("id", id.String()).
		Str("patient_id", ev.Patient.ID.String()).
		Str("state", ev.Patient.State()).
		Str("actor", actor).
		Msg("transition committed")

	e.sink.Publish(ctx, ev)
	return nil
}

func (e *Engine) audit(ctx context.Context, actor string, patientID uuid.UUID, format string, args ...any) error {
	entry := auditlog.NewEntry(actor, fmt.Sprintf(format, args...), patientID)
	if err := e.store.Audit.Append(ctx, entry); err != nil {
		return err
	}
	return nil
}

func (e *Engine) clock() time.Time {
	return e.now().UTC()
}
