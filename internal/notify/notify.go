// Package notify renders and delivers email/SMS notifications. Delivery is
// always best-effort with respect to the caller: the scheduling engine never
// lets a failed send abort the state change that produced it.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender is the interface for sending SMS messages.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Template is a reusable notification template with {{key}} placeholders.
type Template struct {
	ID      string
	Subject string
	Body    string
}

// Template IDs used by the engine.
const (
	TemplateConfirmation = "appointment-confirmation"
	TemplateRescheduled  = "appointment-rescheduled"
	TemplateCancelled    = "appointment-cancelled"
	TemplateReminder     = "appointment-reminder"
	TemplateFollowUp     = "appointment-follow-up"
)

// TemplateEngine renders templates with data maps.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates
// pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      TemplateConfirmation,
			Subject: "Appointment confirmed for {{patient_name}}",
			Body:    "Dear {{parent_name}}, the {{appointment_type}} appointment for {{patient_name}} with {{provider_name}} is confirmed for {{date}} at {{time}}.",
		},
		{
			ID:      TemplateRescheduled,
			Subject: "Appointment rescheduled for {{patient_name}}",
			Body:    "Dear {{parent_name}}, the appointment for {{patient_name}} with {{provider_name}} has been moved to {{date}} at {{time}}.",
		},
		{
			ID:      TemplateCancelled,
			Subject: "Appointment cancelled for {{patient_name}}",
			Body:    "Dear {{parent_name}}, the appointment for {{patient_name}} with {{provider_name}} on {{date}} at {{time}} has been cancelled.",
		},
		{
			ID:      TemplateReminder,
			Subject: "Appointment reminder for {{patient_name}}",
			Body:    "Dear {{parent_name}}, this is a reminder of the appointment for {{patient_name}} on {{date}} at {{time}} with {{provider_name}}.",
		},
		{
			ID:      TemplateFollowUp,
			Subject: "How did the appointment go?",
			Body:    "Dear {{parent_name}}, {{patient_name}} had an appointment with {{provider_name}} yesterday. Please reach out if you have any questions or concerns.",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement. Keys
// present in the template but absent from data are left as-is.
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

// ---------------------------------------------------------------------------
// Mock senders (test doubles)
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
}

func (m *MockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	if m.ShouldFail {
		return errors.New("smtp: simulated failure")
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

// SMSCall records a single call to SendSMS.
type SMSCall struct {
	To   string
	Body string
}

// MockSMSSender is a test double for SMSSender.
type MockSMSSender struct {
	mu         sync.Mutex
	calls      []SMSCall
	ShouldFail bool
}

func (m *MockSMSSender) SendSMS(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, SMSCall{To: to, Body: body})
	if m.ShouldFail {
		return errors.New("sms gateway: simulated failure")
	}
	return nil
}

// Calls returns a copy of recorded SMS calls.
func (m *MockSMSSender) Calls() []SMSCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SMSCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// LogEmailSender writes emails to the log instead of delivering them. Used in
// dev when no SMTP relay is configured.
type LogEmailSender struct {
	Println func(string)
}

func (l *LogEmailSender) SendEmail(_ context.Context, to, subject, _ string) error {
	if l.Println != nil {
		l.Println(fmt.Sprintf("email to=%s subject=%q", to, subject))
	}
	return nil
}

// LogSMSSender writes SMS messages to the log instead of delivering them.
type LogSMSSender struct {
	Println func(string)
}

func (l *LogSMSSender) SendSMS(_ context.Context, to, body string) error {
	if l.Println != nil {
		l.Println(fmt.Sprintf("sms to=%s len=%d", to, len(body)))
	}
	return nil
}
