package logging

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{DEBUG, "DEBUG"},
		{INFO, "INFO"},
		{WARN, "WARN"},
		{ERROR, "ERROR"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("Level.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", DEBUG, false},
		{"INFO", INFO, false},
		{"", INFO, false},
		{" warning ", WARN, false},
		{"error", ERROR, false},
		{"verbose", INFO, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, WARN)

	logger.Debug("debug message")
	logger.Info("info message")
	if buf.Len() > 0 {
		t.Errorf("DEBUG and INFO should be filtered when level is WARN, got %q", buf.String())
	}

	logger.Warn("warn message")
	if !strings.Contains(buf.String(), "[WARN] warn message") {
		t.Errorf("WARN should not be filtered, got %q", buf.String())
	}

	buf.Reset()
	logger.Error("error %d", 42)
	if !strings.Contains(buf.String(), "[ERROR] error 42") {
		t.Errorf("ERROR should be formatted, got %q", buf.String())
	}
}

func TestLogger_NoColorOutsideTerminal(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, DEBUG).Info("plain")

	if strings.Contains(buf.String(), "\033[") {
		t.Errorf("buffer output should not be colored: %q", buf.String())
	}
}

func TestLogger_FieldsAreSortedAndCopied(t *testing.T) {
	var buf bytes.Buffer
	base := New(&buf, DEBUG).Named("pipeline")
	agent := base.WithFields(map[string]interface{}{"agent": "C1234-FRUIT", "ops": 3})

	agent.Info("uploaded")
	if !strings.Contains(buf.String(), "| agent=C1234-FRUIT component=pipeline ops=3") {
		t.Errorf("unexpected fields: %q", buf.String())
	}

	if _, ok := base.fields["agent"]; ok {
		t.Error("WithFields modified the parent logger")
	}
}

func TestLogger_SetLevelIsShared(t *testing.T) {
	var buf bytes.Buffer
	root := New(&buf, ERROR)
	child := root.WithField("k", "v")

	root.SetLevel(DEBUG)
	child.Debug("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Error("derived logger should follow the parent level")
	}
}

func TestOrDefault(t *testing.T) {
	if OrDefault(nil) != Default() {
		t.Error("OrDefault(nil) should return the default logger")
	}
	l := New(&bytes.Buffer{}, INFO)
	if OrDefault(l) != l {
		t.Error("OrDefault(l) should return l")
	}
}

func TestPackageLevelHelpers(t *testing.T) {
	var buf bytes.Buffer
	orig := defaultLogger.sink.output
	origLevel := defaultLogger.sink.level
	defer func() {
		SetOutput(orig)
		SetLevel(origLevel)
	}()

	SetOutput(&buf)
	SetLevel(DEBUG)

	Debug("d")
	Info("i")
	Warn("w")
	Error("e")
	WithField("run", "abc").Info("tagged")

	out := buf.String()
	for _, want := range []string{"[DEBUG] d", "[INFO] i", "[WARN] w", "[ERROR] e", "run=abc"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestLogger_ConcurrentAccess(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, DEBUG)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			logger.WithField("n", n).Info("message %d", n)
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 10 {
		t.Errorf("expected 10 log lines, got %d", len(lines))
	}
}
