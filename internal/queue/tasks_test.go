package queue

import (
	"testing"
	"time"
)

func TestGenerateRenditionsTaskRoundTrip(t *testing.T) {
	payload := GenerateRenditionsPayload{
		RecordID:    "rec-123",
		Formats:     []string{"thumb", "desktop"},
		Force:       true,
		RequestedAt: time.Now().UTC(),
	}

	task, err := NewGenerateRenditionsTask(payload)
	if err != nil {
		t.Fatalf("NewGenerateRenditionsTask returned error: %v", err)
	}
	if task.Type() != TypeGenerateRenditions {
		t.Fatalf("task type = %q", task.Type())
	}

	parsed, err := ParseGenerateRenditionsPayload(task)
	if err != nil {
		t.Fatalf("ParseGenerateRenditionsPayload returned error: %v", err)
	}

	if parsed.RecordID != payload.RecordID {
		t.Fatalf("expected record_id %q, got %q", payload.RecordID, parsed.RecordID)
	}
	if len(parsed.Formats) != 2 || parsed.Formats[0] != "thumb" {
		t.Fatalf("formats = %v", parsed.Formats)
	}
	if !parsed.Force {
		t.Fatal("force flag lost")
	}
}

func TestGenerateRenditionsPayloadEmptyFormats(t *testing.T) {
	task, err := NewGenerateRenditionsTask(GenerateRenditionsPayload{RecordID: "rec-1"})
	if err != nil {
		t.Fatalf("NewGenerateRenditionsTask returned error: %v", err)
	}
	parsed, err := ParseGenerateRenditionsPayload(task)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(parsed.Formats) != 0 {
		t.Fatalf("formats should stay empty, got %v", parsed.Formats)
	}
}
