// Package notification provides the outbound email sink with template
// rendering and in-memory delivery records. Sends are fire-and-forget from
// the workflow's point of view: failures are recorded and logged, never
// surfaced to the caller of a state transition.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Notification is a single outbound message.
type Notification struct {
	ID           string            `json:"id"`
	Recipient    string            `json:"recipient"`
	Subject      string            `json:"subject,omitempty"`
	Body         string            `json:"body"`
	TemplateID   string            `json:"template_id,omitempty"`
	TemplateData map[string]string `json:"template_data,omitempty"`
	Status       string            `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	SentAt       *time.Time        `json:"sent_at,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// EmailSender is the interface for the delivery provider.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// ---------------------------------------------------------------------------
// Template Engine
// ---------------------------------------------------------------------------

// Template defines a reusable notification template.
type Template struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates
// pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      "order-finalized",
			Name:    "Order Finalized",
			Subject: "Order {{order_id}} finalized",
			Body:    "Order {{order_id}} has been finalized with a total of {{total}} and is ready for lab submission.",
		},
		{
			ID:      "results-ready",
			Name:    "Results Ready",
			Subject: "Results available for order {{order_id}}",
			Body:    "All specimen results for order {{order_id}} have been received. Log in to review them.",
		},
		{
			ID:      "license-expired",
			Name:    "License Expired",
			Subject: "License {{number}} has expired",
			Body:    "License {{number}} expired on {{expiration_date}}. Ordering stays blocked for your organization until a current license is on file.",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are
// left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// LogEmailSender writes outbound mail to the application log instead of
// delivering it. Used when no delivery provider is configured.
type LogEmailSender struct{}

func (LogEmailSender) SendEmail(_ context.Context, to, subject, _ string) error {
	log.Info().Str("to", to).Str("subject", subject).Msg("email (log sink)")
	return nil
}

// ---------------------------------------------------------------------------
// Mock Sender (test double)
// ---------------------------------------------------------------------------

// EmailCall records a single call to SendEmail.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// MockEmailSender is a test double for EmailSender.
type MockEmailSender struct {
	mu         sync.Mutex
	calls      []EmailCall
	ShouldFail bool
	FailError  string
}

// SendEmail records the call and optionally returns an error.
func (m *MockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded email calls.
func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// ---------------------------------------------------------------------------
// Manager
// ---------------------------------------------------------------------------

// Manager renders, dispatches, and records notifications.
type Manager struct {
	sender    EmailSender
	templates *TemplateEngine

	mu   sync.RWMutex
	sent map[string]*Notification
}

func NewManager(sender EmailSender, templates *TemplateEngine) *Manager {
	return &Manager{
		sender:    sender,
		templates: templates,
		sent:      make(map[string]*Notification),
	}
}

// Send dispatches a notification, assigns an ID and timestamps, and records
// the outcome.
func (m *Manager) Send(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	n.CreatedAt = time.Now().UTC()
	n.Status = "pending"

	if n.TemplateID != "" {
		subject, body, err := m.templates.Render(n.TemplateID, n.TemplateData)
		if err != nil {
			n.Status = "failed"
			n.Error = err.Error()
			m.record(n)
			return err
		}
		n.Subject = subject
		n.Body = body
	}

	err := m.sender.SendEmail(ctx, n.Recipient, n.Subject, n.Body)
	if err != nil {
		n.Status = "failed"
		n.Error = err.Error()
	} else {
		n.Status = "sent"
		sentAt := time.Now().UTC()
		n.SentAt = &sentAt
	}
	m.record(n)
	return err
}

// SendTemplate renders a template and sends it to every recipient. Per the
// fire-and-forget contract, failures are logged and never returned.
func (m *Manager) SendTemplate(ctx context.Context, recipients []string, templateID string, data map[string]string) {
	for _, to := range recipients {
		n := &Notification{Recipient: to, TemplateID: templateID, TemplateData: data}
		if err := m.Send(ctx, n); err != nil {
			log.Warn().Err(err).Str("template", templateID).Str("recipient", to).
				Msg("notification delivery failed")
		}
	}
}

func (m *Manager) record(n *Notification) {
	m.mu.Lock()
	m.sent[n.ID] = n
	m.mu.Unlock()
}

// List returns all recorded notifications, newest first.
func (m *Manager) List() []*Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Notification, 0, len(m.sent))
	for _, n := range m.sent {
		out = append(out, n)
	}
	return out
}
