package monitoring

import (
	"bytes"
	"strings"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("Sampling frequency: %v", 30000.0)
	if !called {
		t.Error("Custom logger was not called")
	}

	called = false
	SetLogger(nil)
	Logf("Number of channels: %d", 64)
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestSetWriter(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var buf bytes.Buffer
	SetWriter(&buf)
	Logf("Channel ids: %v", []string{"A-000", "A-001"})

	out := buf.String()
	if !strings.Contains(out, "[spikesort] ") {
		t.Errorf("missing prefix in %q", out)
	}
	if !strings.Contains(out, "A-001") {
		t.Errorf("missing message in %q", out)
	}

	buf.Reset()
	SetWriter(nil)
	Logf("muted")
	if buf.Len() != 0 {
		t.Errorf("expected muted logger, got %q", buf.String())
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Error("Logf should not be nil by default")
	}
}
