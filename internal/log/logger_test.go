package log

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	t.Parallel()

	t.Run("level follows verbose", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name      string
			verbose   bool
			wantDebug bool
		}{
			{"quiet", false, false},
			{"verbose", true, true},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				t.Parallel()

				var buf bytes.Buffer
				logger, closer, err := NewLogger(Options{Writer: &buf, Verbose: tt.verbose})
				if err != nil {
					t.Fatalf("NewLogger() error = %v", err)
				}
				defer closer.Close()

				logger.Debug("debug line")
				logger.Warn("warn line")

				if got := strings.Contains(buf.String(), "debug line"); got != tt.wantDebug {
					t.Errorf("debug shown = %v, expected %v", got, tt.wantDebug)
				}
				if !strings.Contains(buf.String(), "warn line") {
					t.Error("expected warn line")
				}
			})
		}
	})

	t.Run("json output is redacted", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		logger, closer, err := NewLogger(Options{Writer: &buf, JSON: true})
		if err != nil {
			t.Fatalf("NewLogger() error = %v", err)
		}
		defer closer.Close()

		logger.Warn("request", "cookie", "session=abc")

		var entry map[string]any
		if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
			t.Fatalf("expected JSON output, got %s", buf.String())
		}
		if entry["cookie"] != MaskValue {
			t.Errorf("cookie = %v, expected %q", entry["cookie"], MaskValue)
		}
	})

	t.Run("writes to file and console", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		path := filepath.Join(t.TempDir(), "logs", "onionfetch.log")
		logger, closer, err := NewLogger(Options{Writer: &buf, File: path})
		if err != nil {
			t.Fatalf("NewLogger() error = %v", err)
		}

		logger.Error("bootstrap failed", "control_cookie", "deadbeef")
		if err := closer.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("failed to read log file: %v", err)
		}
		for name, out := range map[string]string{"file": string(data), "console": buf.String()} {
			if !strings.Contains(out, "bootstrap failed") {
				t.Errorf("%s output missing message: %s", name, out)
			}
			if strings.Contains(out, "deadbeef") {
				t.Errorf("%s output leaked cookie: %s", name, out)
			}
		}
	})
}

func TestDiscard(t *testing.T) {
	t.Parallel()

	Discard().Error("dropped")
}
