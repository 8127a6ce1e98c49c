package workflow

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/clinicflow/clinicflow/internal/platform/notification"
)

// Enqueuer accepts messages for asynchronous delivery.
type Enqueuer interface {
	Enqueue(ctx context.Context, m notification.Message)
}

// Notifier turns patient-facing events into queued messages. Events without
// a message, and patients without a phone number, are skipped.
type Notifier struct {
	templates *notification.TemplateEngine
	out       Enqueuer
	log       zerolog.Logger
}

func NewNotifier(templates *notification.TemplateEngine, out Enqueuer, log zerolog.Logger) *Notifier {
	return &Notifier{templates: templates, out: out, log: log}
}

// Publish implements EventSink.
func (n *Notifier) Publish(ctx context.Context, ev Event) {
	tmpl, data, ok := MessageFor(ev)
	if !ok {
		return
	}
	if ev.Patient.Phone == "" {
		n.log.Debug().Str("event", string(ev.Type)).Str("patient_id", ev.Patient.ID.String()).
			Msg("no phone number, notification skipped")
		return
	}

	body, err := n.templates.Render(tmpl, data)
	if err != nil {
		n.log.Error().Err(err).Str("template", tmpl).Msg("render notification")
		return
	}
	n.out.Enqueue(ctx, notification.Message{
		Event:      string(ev.Type),
		PatientID:  ev.Patient.ID.String(),
		Recipient:  ev.Patient.Phone,
		TemplateID: tmpl,
		Data:       data,
		Body:       body,
		CreatedAt:  ev.At,
	})
}

// MessageFor picks the template and data for ev. Only test start and
// completion, consultation end, bill creation and payment notify.
func MessageFor(ev Event) (string, map[string]string, bool) {
	data := map[string]string{"name": ev.Patient.Name}
	switch ev.Type {
	case EventTestStarted:
		data["test_type"] = string(ev.Test.Type)
		return notification.TemplateTestStarted, data, true
	case EventTestCompleted:
		data["test_type"] = string(ev.Test.Type)
		if ev.AllTestsComplete {
			return notification.TemplateTestCompleted, data, true
		}
		return notification.TemplateTestCompletedPartial, data, true
	case EventConsultationEnded:
		return notification.TemplateConsultationEnded, data, true
	case EventBillCreated:
		data["amount"] = notification.FormatAmount(ev.Bill.Amount)
		return notification.TemplateBillCreated, data, true
	case EventBillPaid:
		data["amount"] = notification.FormatAmount(ev.Bill.Amount)
		if ev.Bill.PaymentMode != nil {
			data["mode"] = string(*ev.Bill.PaymentMode)
		}
		return notification.TemplateBillPaid, data, true
	}
	return "", nil, false
}
