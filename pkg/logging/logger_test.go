package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&Config{
		Level:      LevelDebug,
		JSONFormat: true,
		Output:     &buf,
	})

	log.Info("attachment saved",
		F("filename", "invoice.pdf"),
		F("size_bytes", int64(84213)),
		F("is_invoice", true))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}

	if entry["message"] != "attachment saved" {
		t.Errorf("message = %v, want %q", entry["message"], "attachment saved")
	}
	if entry["filename"] != "invoice.pdf" {
		t.Errorf("filename = %v, want invoice.pdf", entry["filename"])
	}
	if entry["size_bytes"] != float64(84213) {
		t.Errorf("size_bytes = %v, want 84213", entry["size_bytes"])
	}
	if entry["is_invoice"] != true {
		t.Errorf("is_invoice = %v, want true", entry["is_invoice"])
	}
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&Config{
		Level:      LevelDebug,
		JSONFormat: true,
		Output:     &buf,
	})

	scoped := log.With(F("component", "folder_resolver"))
	scoped.Debug("folder found")

	if !strings.Contains(buf.String(), `"component":"folder_resolver"`) {
		t.Errorf("scoped field missing from output: %s", buf.String())
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&Config{
		Level:      LevelWarn,
		JSONFormat: true,
		Output:     &buf,
	})

	log.Debug("should be dropped")
	log.Info("should be dropped too")
	if buf.Len() != 0 {
		t.Errorf("expected no output below warn level, got: %s", buf.String())
	}

	log.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("warn message missing: %s", buf.String())
	}
}

func TestErrField(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&Config{
		Level:      LevelDebug,
		JSONFormat: true,
		Output:     &buf,
	})

	log.Error("storage call failed", Err(errors.New("connection reset")), F("attempt", 2))

	out := buf.String()
	if !strings.Contains(out, "connection reset") {
		t.Errorf("error message missing: %s", out)
	}
	if !strings.Contains(out, `"attempt":2`) {
		t.Errorf("int field missing: %s", out)
	}
}

func TestDurationField(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&Config{
		Level:      LevelDebug,
		JSONFormat: true,
		Output:     &buf,
	})

	log.Info("run complete", F("elapsed", 1500*time.Millisecond))

	if !strings.Contains(buf.String(), "elapsed") {
		t.Errorf("duration field missing: %s", buf.String())
	}
}

func TestNopLogger(t *testing.T) {
	log := NewNopLogger()
	// Must not panic and With must return a usable logger.
	log.With(F("component", "test")).Info("ignored")
	log.Error("ignored", Err(errors.New("ignored")))
}
