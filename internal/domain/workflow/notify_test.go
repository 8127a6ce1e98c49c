package workflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicflow/clinicflow/internal/domain/billing"
	"github.com/clinicflow/clinicflow/internal/domain/diagnostics"
	"github.com/clinicflow/clinicflow/internal/domain/patient"
	"github.com/clinicflow/clinicflow/internal/domain/workflow"
	"github.com/clinicflow/clinicflow/internal/platform/notification"
)

type captureEnqueuer struct {
	msgs []notification.Message
}

func (c *captureEnqueuer) Enqueue(_ context.Context, m notification.Message) {
	c.msgs = append(c.msgs, m)
}

func newNotifier(t *testing.T, out workflow.Enqueuer) *workflow.Notifier {
	t.Helper()
	tmpl, err := notification.NewTemplateEngine()
	require.NoError(t, err)
	return workflow.NewNotifier(tmpl, out, zerolog.Nop())
}

func TestMessageFor(t *testing.T) {
	upi := billing.ModeUPI
	p := patient.Patient{Name: "Asha"}
	vision := &diagnostics.TestRecord{Type: diagnostics.TypeVision}

	cases := []struct {
		name     string
		ev       workflow.Event
		template string
		data     map[string]string
	}{
		{"test started", workflow.Event{Type: workflow.EventTestStarted, Patient: p, Test: vision},
			notification.TemplateTestStarted, map[string]string{"name": "Asha", "test_type": "vision"}},
		{"last test completed", workflow.Event{Type: workflow.EventTestCompleted, Patient: p, Test: vision, AllTestsComplete: true},
			notification.TemplateTestCompleted, map[string]string{"name": "Asha", "test_type": "vision"}},
		{"test completed, more pending", workflow.Event{Type: workflow.EventTestCompleted, Patient: p, Test: vision},
			notification.TemplateTestCompletedPartial, map[string]string{"name": "Asha", "test_type": "vision"}},
		{"consultation ended", workflow.Event{Type: workflow.EventConsultationEnded, Patient: p},
			notification.TemplateConsultationEnded, map[string]string{"name": "Asha"}},
		{"bill created", workflow.Event{Type: workflow.EventBillCreated, Patient: p, Bill: &billing.Bill{Amount: 1500}},
			notification.TemplateBillCreated, map[string]string{"name": "Asha", "amount": "1,500"}},
		{"bill paid", workflow.Event{Type: workflow.EventBillPaid, Patient: p, Bill: &billing.Bill{Amount: 99.5, PaymentMode: &upi}},
			notification.TemplateBillPaid, map[string]string{"name": "Asha", "amount": "99.5", "mode": "upi"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tmpl, data, ok := workflow.MessageFor(tc.ev)
			require.True(t, ok)
			assert.Equal(t, tc.template, tmpl)
			assert.Equal(t, tc.data, data)
		})
	}

	for _, typ := range []workflow.EventType{
		workflow.EventPatientRegistered,
		workflow.EventTestsAssigned,
		workflow.EventConsultationStarted,
	} {
		_, _, ok := workflow.MessageFor(workflow.Event{Type: typ, Patient: p})
		assert.False(t, ok, typ)
	}
}

func TestNotifier_SkipsPatientWithoutPhone(t *testing.T) {
	out := &captureEnqueuer{}
	n := newNotifier(t, out)

	n.Publish(context.Background(), workflow.Event{
		Type:    workflow.EventConsultationEnded,
		Patient: patient.Patient{Name: "Asha"},
	})
	assert.Empty(t, out.msgs)

	n.Publish(context.Background(), workflow.Event{
		Type:    workflow.EventConsultationEnded,
		Patient: patient.Patient{Name: "Asha", Phone: "+91981"},
	})
	require.Len(t, out.msgs, 1)
	assert.Equal(t, "+91981", out.msgs[0].Recipient)
	assert.Equal(t, "Hello Asha, your consultation is complete. Please proceed to billing.", out.msgs[0].Body)
}

// A full visit through the real dispatcher delivers five messages, in
// transition order.
func TestEndToEnd_Notifications(t *testing.T) {
	sender := &notification.MockSender{}
	d := notification.NewDispatcher(notification.NewMemoryQueue(16), sender, notification.WithWorkers(1))
	d.Start()

	e, _, st := newEngine(t, workflow.WithEventSink(newNotifier(t, d)))
	ctx := context.Background()

	p := register(t, e, "UH-9", "")
	toBilling(t, e, p)
	bill, err := e.CreateBill(ctx, p.ID, 1500, "cashier-1")
	require.NoError(t, err)
	_, err = e.PayBill(ctx, bill.ID, "card", "cashier-1")
	require.NoError(t, err)

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, d.Close(closeCtx))

	calls := sender.Calls()
	require.Len(t, calls, 5)
	name := "Patient UH-9"
	assert.Equal(t, []string{
		"Hello " + name + ", your vision test has started.",
		"Hello " + name + ", your vision test is complete. You are now in the doctor's queue.",
		"Hello " + name + ", your consultation is complete. Please proceed to billing.",
		"Hello " + name + ", a bill of ₹1,500 has been generated. Please proceed to payment.",
		"Hello " + name + ", we have received your payment of ₹1,500 via card. Thank you!",
	}, []string{calls[0].Body, calls[1].Body, calls[2].Body, calls[3].Body, calls[4].Body})
	for _, c := range calls {
		assert.Equal(t, "+919800000000", c.To)
	}

	entries, err := st.Audit.ListByPatient(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 8)
}
