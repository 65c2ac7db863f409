package logging

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"
)

func TestSetupWritesFileAndConsole(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer
	logger, err := Setup(dir, &console, time.Date(2026, 3, 4, 9, 5, 6, 0, time.UTC))
	if err != nil {
		t.Fatalf("Setup returned error: %v", err)
	}
	defer logger.Close()

	logger.Debug("debug detail", "role", "comms")
	logger.Info("run complete", "role", "comms")

	if !strings.HasSuffix(logger.Path(), "2026-03-04_090506_runner.log") {
		t.Fatalf("unexpected log path %s", logger.Path())
	}
	data, err := os.ReadFile(logger.Path())
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "debug detail") || !strings.Contains(text, "run complete") {
		t.Fatalf("file log missing records:\n%s", text)
	}
	if strings.Contains(console.String(), "debug detail") {
		t.Fatalf("console should not include debug records:\n%s", console.String())
	}
	if !strings.Contains(console.String(), "run complete") || !strings.Contains(console.String(), "role=comms") {
		t.Fatalf("console missing info record:\n%s", console.String())
	}
}

func TestDiscardDropsEverything(t *testing.T) {
	logger := Discard()
	logger.Error("should vanish")
}
