package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "debug", "json").Debug("hello", "component", "ledger")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected json output, got %q: %v", buf.String(), err)
	}
	if line["component"] != "ledger" {
		t.Fatalf("missing attribute: %v", line)
	}

	buf.Reset()
	newLogger(&buf, "bogus", "text").Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("invalid level should default to info, got %q", buf.String())
	}
	newLogger(&buf, "info", "TEXT").Info("shown")
	if !strings.Contains(buf.String(), "msg=shown") {
		t.Fatalf("expected text output, got %q", buf.String())
	}
}
