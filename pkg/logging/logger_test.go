package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewLevel(t *testing.T) {
	if got := New(false, "text").GetLevel(); got != logrus.InfoLevel {
		t.Errorf("level = %v, want info", got)
	}
	if got := New(true, "text").GetLevel(); got != logrus.DebugLevel {
		t.Errorf("level = %v, want debug", got)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log := NewTo(&buf, false, "json")
	Component(log, "publisher").Info("hello")

	var entry map[string]string
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("not JSON: %v: %s", err, buf.String())
	}
	if entry["msg"] != "hello" || entry["component"] != "publisher" || entry["level"] != "info" {
		t.Fatalf("entry = %v", entry)
	}
}

func TestTextFormatDropsDebugByDefault(t *testing.T) {
	var buf bytes.Buffer
	log := NewTo(&buf, false, "")
	log.Debug("hidden")
	log.Info("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("output = %q", out)
	}
}
