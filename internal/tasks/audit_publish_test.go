package tasks

import (
	"reflect"
	"testing"
)

func TestSummarize(t *testing.T) {
	audits := []map[string]any{
		{"severity": float64(1), "tags": []any{"tlp:red"}, "event_type": "intrusion", "date": "2025-06-02"},
		{"severity": float64(2), "tags": []any{"tlp:amber", "tlp:red"}, "event_type": "phishing", "date": "2025-06-01"},
		{"severity": float64(3), "date": "2025-06-03"},
		{"severity": float64(2)},
	}

	summary := Summarize(audits, "anonymizer")

	if summary.Publisher != "anonymizer" {
		t.Errorf("publisher = %q", summary.Publisher)
	}
	if summary.Severity.High != 1 || summary.Severity.Medium != 2 || summary.Severity.Low != 1 {
		t.Errorf("severity = %+v", summary.Severity)
	}
	if !reflect.DeepEqual(summary.Tags, []string{"tlp:amber", "tlp:red"}) {
		t.Errorf("tags = %v", summary.Tags)
	}
	if !reflect.DeepEqual(summary.EventTypes, []string{"intrusion", "phishing"}) {
		t.Errorf("event types = %v", summary.EventTypes)
	}
	if summary.StartDate != "2025-06-01" || summary.EndDate != "2025-06-03" {
		t.Errorf("date range = %s .. %s", summary.StartDate, summary.EndDate)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	summary := Summarize(nil, "p")
	if summary.Severity.High != 0 || len(summary.Tags) != 0 || len(summary.EventTypes) != 0 {
		t.Errorf("empty summary not empty: %+v", summary)
	}
}

func TestKnown(t *testing.T) {
	if !Known("AuditPublish") {
		t.Error("AuditPublish should be registered")
	}
	if Known("NoSuchTask") {
		t.Error("unknown task reported as known")
	}
}
