package diagnostics

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicflow/clinicflow/internal/platform/apperr"
)

// TestType is a diagnostic test offered at screening.
type TestType string

const (
	TypeVision     TestType = "vision"
	TypeRefraction TestType = "refraction"
	TypeIOP        TestType = "iop"
	TypeOCT        TestType = "oct"
	TypeField      TestType = "field"
	TypePreop      TestType = "preop"
)

// expectedDurations are advisory only. A test that overruns stays in
// progress until it is completed.
var expectedDurations = map[TestType]time.Duration{
	TypeVision:     5 * time.Minute,
	TypeRefraction: 10 * time.Minute,
	TypeIOP:        5 * time.Minute,
	TypeOCT:        15 * time.Minute,
	TypeField:      20 * time.Minute,
	TypePreop:      25 * time.Minute,
}

// ExpectedDuration returns how long the test usually takes.
func (t TestType) ExpectedDuration() time.Duration {
	return expectedDurations[t]
}

func (t TestType) Valid() bool {
	_, ok := expectedDurations[t]
	return ok
}

// ParseTypes validates a list of requested test types. The list must be
// non-empty and free of duplicates.
func ParseTypes(raw []string) ([]TestType, error) {
	const action = "assign"
	if len(raw) == 0 {
		return nil, apperr.Validation("test", action, "at least one test type is required")
	}
	seen := make(map[TestType]bool, len(raw))
	out := make([]TestType, 0, len(raw))
	for _, r := range raw {
		t := TestType(strings.ToLower(strings.TrimSpace(r)))
		if !t.Valid() {
			return nil, apperr.Validationf("test", action, "invalid test type: %q", r)
		}
		if seen[t] {
			return nil, apperr.Validationf("test", action, "duplicate test type: %s", t)
		}
		seen[t] = true
		out = append(out, t)
	}
	return out, nil
}

// Status of a test record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// TestRecord maps to the tests table.
type TestRecord struct {
	ID        uuid.UUID  `json:"id"`
	PatientID uuid.UUID  `json:"patient_id"`
	Type      TestType   `json:"test_type"`
	Status    Status     `json:"status"`
	Seq       int64      `json:"seq"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Start moves a pending test to in_progress.
func (t *TestRecord) Start(at time.Time) error {
	if t.Status != StatusPending || t.StartTime != nil {
		return apperr.InvalidTransition("test", t.ID.String(), "start", string(t.Status), "test is not pending")
	}
	t.Status = StatusInProgress
	t.StartTime = &at
	return nil
}

// Complete moves an in-progress test to completed.
func (t *TestRecord) Complete(at time.Time) error {
	if t.Status != StatusInProgress || t.StartTime == nil || t.EndTime != nil {
		return apperr.InvalidTransition("test", t.ID.String(), "complete", string(t.Status), "test is not in progress")
	}
	if at.Before(*t.StartTime) {
		at = *t.StartTime
	}
	t.Status = StatusCompleted
	t.EndTime = &at
	return nil
}

// Open reports whether the test still blocks the patient's screening stage.
func (t *TestRecord) Open() bool {
	return t.Status != StatusCompleted
}

// Duration returns the measured run time of a completed test.
func (t *TestRecord) Duration() (time.Duration, bool) {
	if t.StartTime == nil || t.EndTime == nil {
		return 0, false
	}
	return t.EndTime.Sub(*t.StartTime), true
}
