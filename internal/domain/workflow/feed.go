package workflow

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/clinicflow/clinicflow/internal/platform/websocket"
)

// Queue topics a screen can watch. Each patient also has a topic of its
// own, see PatientTopic.
const (
	TopicRegistered = "registered"
	TopicTests      = "tests"
	TopicDoctor     = "doctor"
	TopicBilling    = "billing"
)

func PatientTopic(id string) string { return "patient:" + id }

// Broadcaster delivers an update to the subscribers of its topic.
type Broadcaster interface {
	Broadcast(u websocket.Update) int
}

// QueueFeed pushes committed transitions to the queues they change, so
// screens can refresh without polling.
type QueueFeed struct {
	out Broadcaster
	log zerolog.Logger
}

func NewQueueFeed(out Broadcaster, log zerolog.Logger) *QueueFeed {
	return &QueueFeed{out: out, log: log}
}

// feedUpdate is the payload carried in Update.Data.
type feedUpdate struct {
	PatientID   string   `json:"patient_id"`
	UHID        string   `json:"uhid"`
	TokenNumber int64    `json:"token_number"`
	Priority    string   `json:"priority_level"`
	Stage       string   `json:"current_stage"`
	Status      string   `json:"status"`
	TestID      string   `json:"test_id,omitempty"`
	TestType    string   `json:"test_type,omitempty"`
	TestStatus  string   `json:"test_status,omitempty"`
	TestTypes   []string `json:"test_types,omitempty"`
	BillID      string   `json:"bill_id,omitempty"`
	BillStatus  string   `json:"bill_status,omitempty"`
}

// TopicsFor lists the queues an event changes. The patient's own topic is
// always last.
func TopicsFor(ev Event) []string {
	var topics []string
	switch ev.Type {
	case EventPatientRegistered:
		topics = []string{TopicRegistered}
	case EventTestsAssigned:
		topics = []string{TopicRegistered, TopicTests}
	case EventTestStarted:
		topics = []string{TopicTests}
	case EventTestCompleted:
		topics = []string{TopicTests}
		if ev.AllTestsComplete {
			topics = append(topics, TopicDoctor)
		}
	case EventConsultationStarted:
		topics = []string{TopicDoctor}
	case EventConsultationEnded:
		topics = []string{TopicDoctor, TopicBilling}
	case EventBillCreated, EventBillPaid:
		topics = []string{TopicBilling}
	}
	return append(topics, PatientTopic(ev.Patient.ID.String()))
}

// Publish implements EventSink.
func (f *QueueFeed) Publish(_ context.Context, ev Event) {
	data, err := json.Marshal(updateFor(ev))
	if err != nil {
		f.log.Error().Err(err).Str("event", string(ev.Type)).Msg("marshal queue update")
		return
	}
	for _, topic := range TopicsFor(ev) {
		f.out.Broadcast(websocket.Update{
			Type:  string(ev.Type),
			Topic: topic,
			At:    ev.At,
			Data:  data,
		})
	}
}

func updateFor(ev Event) feedUpdate {
	p := ev.Patient
	u := feedUpdate{
		PatientID:   p.ID.String(),
		UHID:        p.UHID,
		TokenNumber: p.TokenNumber,
		Priority:    string(p.PriorityTier),
		Stage:       string(p.Stage),
		Status:      string(p.Status),
	}
	if ev.Test != nil {
		u.TestID = ev.Test.ID.String()
		u.TestType = string(ev.Test.Type)
		u.TestStatus = string(ev.Test.Status)
	}
	for _, t := range ev.Tests {
		u.TestTypes = append(u.TestTypes, string(t.Type))
	}
	if ev.Bill != nil {
		u.BillID = ev.Bill.ID.String()
		u.BillStatus = string(ev.Bill.Status)
	}
	return u
}
