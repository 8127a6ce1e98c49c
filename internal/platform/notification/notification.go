// Package notification delivers patient-facing messages out of band.
//
// Messages are rendered from an embedded template catalog, pushed onto a
// Queue, and sent by a pool of Dispatcher workers. Delivery is best effort:
// a failed send is logged and counted, never retried.
package notification

import (
	"bytes"
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Template ids in the built-in catalog.
const (
	TemplateTestStarted          = "test_started"
	TemplateTestCompleted        = "test_completed"
	TemplateTestCompletedPartial = "test_completed_partial"
	TemplateConsultationEnded    = "consultation_ended"
	TemplateBillCreated          = "bill_created"
	TemplateBillPaid             = "bill_paid"
)

// Message is one outbound notification.
type Message struct {
	ID         string            `json:"id"`
	Event      string            `json:"event"`
	PatientID  string            `json:"patient_id"`
	Recipient  string            `json:"recipient"`
	TemplateID string            `json:"template_id"`
	Data       map[string]string `json:"data,omitempty"`
	Body       string            `json:"body"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Template is a named message body with {{key}} placeholders.
type Template struct {
	ID   string `toml:"-"`
	Name string `toml:"name"`
	Body string `toml:"body"`
}

//go:embed templates.toml
var builtinTemplates []byte

// TemplateEngine renders templates by id.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine returns an engine loaded with the built-in catalog.
func NewTemplateEngine() (*TemplateEngine, error) {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	if err := e.Load(builtinTemplates); err != nil {
		return nil, fmt.Errorf("load built-in templates: %w", err)
	}
	return e, nil
}

// Load merges templates from a TOML document shaped as
// [templates.<id>] name = "...", body = "...".
func (e *TemplateEngine) Load(doc []byte) error {
	var file struct {
		Templates map[string]Template `toml:"templates"`
	}
	dec := toml.NewDecoder(bytes.NewReader(doc))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&file); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for id, t := range file.Templates {
		if strings.TrimSpace(t.Body) == "" {
			return fmt.Errorf("template %q has an empty body", id)
		}
		t.ID = id
		e.templates[id] = &t
	}
	return nil
}

// IDs lists the registered template ids in sorted order.
func (e *TemplateEngine) IDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.templates))
	for id := range e.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Render replaces {{key}} placeholders in the template body. Keys absent
// from data are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (string, error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("template %q not found", templateID)
	}

	body := t.Body
	for k, v := range data {
		body = strings.ReplaceAll(body, "{{"+k+"}}", v)
	}
	return body, nil
}

var amountPrinter = message.NewPrinter(language.English)

// FormatAmount renders a currency amount with grouping and at most two
// decimals, e.g. 1500 -> "1,500".
func FormatAmount(amount float64) string {
	return amountPrinter.Sprint(number.Decimal(amount, number.MaxFractionDigits(2)))
}
