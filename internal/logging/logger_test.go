package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"prt/internal/target"
)

func TestLogConnection_JSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewLoggerFromConfig("info", "json", false, &buf)

	host := target.Host{ID: "web1", Name: "Web", User: "deploy", Address: "10.0.0.5", Port: 22}
	logger.LogConnection(host, "publickey", 15*time.Millisecond)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "ssh connection established" {
		t.Fatalf("msg = %v", entry["msg"])
	}
	if entry["host_id"] != "web1" || entry["auth"] != "publickey" {
		t.Fatalf("unexpected fields: %v", entry)
	}
}

func TestQuietSuppressesInfo(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewLoggerFromConfig("info", "text", true, &buf)

	logger.Info("hidden")
	logger.Error("visible", "error", errors.New("boom").Error())

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("quiet logger emitted info: %q", out)
	}
	if !strings.Contains(out, "visible") {
		t.Fatalf("quiet logger dropped error: %q", out)
	}
}

func TestErrorLevelFiltersInfo(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewLoggerFromConfig("error", "text", false, &buf)
	logger.LogPoolLoad("web", "/state/web.yaml", 3)

	if buf.Len() != 0 {
		t.Fatalf("info entry written at error level: %q", buf.String())
	}
}

func TestWithCarriesDispatchAttributes(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewLoggerFromConfig("info", "json", false, &buf).With("run_id", "run-1", "pool", "web")
	logger.LogDispatchStart(4, 2)
	logger.LogDispatchComplete("failed", 1)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two entries, got %q", buf.String())
	}
	for _, line := range lines {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("log line is not JSON: %v (%q)", err, line)
		}
		if entry["run_id"] != "run-1" || entry["pool"] != "web" {
			t.Fatalf("run attributes missing: %v", entry)
		}
	}
	if !strings.Contains(lines[0], `"host_count":4`) || !strings.Contains(lines[1], `"failed":1`) {
		t.Fatalf("entries=%q", lines)
	}
}
