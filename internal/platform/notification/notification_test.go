package notification

import (
	"context"
	"strings"
	"testing"
)

func TestRenderReplacesPlaceholders(t *testing.T) {
	e := NewTemplateEngine()
	subject, body, err := e.Render("order-finalized", map[string]string{
		"order_id": "RSN-ABC-001",
		"total":    "80.00",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if subject != "Order RSN-ABC-001 finalized" {
		t.Errorf("subject = %q", subject)
	}
	if !strings.Contains(body, "80.00") {
		t.Errorf("body missing total: %q", body)
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	e := NewTemplateEngine()
	if _, _, err := e.Render("no-such-template", nil); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestRenderLeavesMissingKeys(t *testing.T) {
	e := NewTemplateEngine()
	subject, _, err := e.Render("results-ready", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(subject, "{{order_id}}") {
		t.Errorf("missing keys should stay verbatim, got %q", subject)
	}
}

func TestManagerSend(t *testing.T) {
	sender := &MockEmailSender{}
	m := NewManager(sender, NewTemplateEngine())

	err := m.Send(context.Background(), &Notification{
		Recipient:    "billing@clinic.example",
		TemplateID:   "results-ready",
		TemplateData: map[string]string{"order_id": "RSN-X-001"},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	calls := sender.Calls()
	if len(calls) != 1 || calls[0].To != "billing@clinic.example" {
		t.Fatalf("calls = %+v", calls)
	}
	recs := m.List()
	if len(recs) != 1 || recs[0].Status != "sent" || recs[0].SentAt == nil {
		t.Fatalf("records = %+v", recs)
	}
}

func TestManagerRecordsFailure(t *testing.T) {
	sender := &MockEmailSender{ShouldFail: true, FailError: "smtp unreachable"}
	m := NewManager(sender, NewTemplateEngine())

	err := m.Send(context.Background(), &Notification{
		Recipient: "x@example.org",
		Subject:   "hi",
		Body:      "there",
	})
	if err == nil {
		t.Fatal("expected send error")
	}
	recs := m.List()
	if len(recs) != 1 || recs[0].Status != "failed" || recs[0].Error != "smtp unreachable" {
		t.Fatalf("records = %+v", recs)
	}
}

func TestSendTemplateSwallowsFailures(t *testing.T) {
	sender := &MockEmailSender{ShouldFail: true, FailError: "down"}
	m := NewManager(sender, NewTemplateEngine())

	// must not panic or propagate
	m.SendTemplate(context.Background(), []string{"a@x.org", "b@x.org"}, "results-ready",
		map[string]string{"order_id": "RSN-1"})

	if len(sender.Calls()) != 2 {
		t.Fatalf("both recipients should be attempted, got %d", len(sender.Calls()))
	}
}
