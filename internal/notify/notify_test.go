package notify

import (
	"strings"
	"testing"
)

func TestRender(t *testing.T) {
	e := NewTemplateEngine()

	subject, body, err := e.Render(TemplateConfirmation, map[string]string{
		"parent_name":      "Ana Silva",
		"patient_name":     "Luis Silva",
		"provider_name":    "Dr. Reyes",
		"appointment_type": "initial consultation",
		"date":             "Monday, 2 March 2026",
		"time":             "10:00",
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(subject, "Luis Silva") {
		t.Errorf("subject missing patient name: %q", subject)
	}
	if !strings.Contains(body, "Dr. Reyes") || !strings.Contains(body, "10:00") {
		t.Errorf("body missing substitutions: %q", body)
	}
	if strings.Contains(subject+body, "{{") {
		t.Errorf("unreplaced placeholder in output: %q / %q", subject, body)
	}
}

func TestRender_UnknownTemplate(t *testing.T) {
	e := NewTemplateEngine()
	if _, _, err := e.Render("no-such-template", nil); err == nil {
		t.Error("expected error for unknown template")
	}
}

func TestRender_MissingKeysLeftIntact(t *testing.T) {
	e := NewTemplateEngine()
	subject, _, err := e.Render(TemplateReminder, map[string]string{"parent_name": "Ana"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(subject, "{{patient_name}}") {
		t.Errorf("missing key should stay verbatim, got %q", subject)
	}
}

func TestRegisterTemplate_Overrides(t *testing.T) {
	e := NewTemplateEngine()
	e.RegisterTemplate(Template{
		ID:      TemplateReminder,
		Subject: "Recordatorio para {{patient_name}}",
		Body:    "Cita el {{date}}.",
	})

	subject, _, err := e.Render(TemplateReminder, map[string]string{"patient_name": "Luis"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if subject != "Recordatorio para Luis" {
		t.Errorf("override not applied: %q", subject)
	}
}
