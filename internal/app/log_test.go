package app

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"
)

func TestAmberHandler_Handle(t *testing.T) {
	ts := time.Date(2024, 6, 15, 14, 30, 45, 0, time.UTC)

	tests := []struct {
		name    string
		opID    string
		level   slog.Level
		message string
		attrs   []slog.Attr
		want    string
	}{
		{
			name:    "basic info message",
			opID:    "op-123",
			level:   slog.LevelInfo,
			message: "document loaded",
			want:    "2024-06-15T14:30:45Z\tINFO\top-123\tdocument loaded\n",
		},
		{
			name:    "debug level",
			opID:    "op-456",
			level:   slog.LevelDebug,
			message: "skipping ignored file",
			want:    "2024-06-15T14:30:45Z\tDEBUG\top-456\tskipping ignored file\n",
		},
		{
			name:    "with record attrs",
			opID:    "op-789",
			level:   slog.LevelInfo,
			message: "dumped",
			attrs:   []slog.Attr{slog.String("path", "data/tag/go.yml"), slog.Int("records", 1)},
			want:    "2024-06-15T14:30:45Z\tINFO\top-789\tdumped\tpath=data/tag/go.yml\trecords=1\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := &amberHandler{w: &buf, opID: tt.opID}

			r := slog.NewRecord(ts, tt.level, tt.message, 0)
			for _, a := range tt.attrs {
				r.AddAttrs(a)
			}

			if err := h.Handle(context.Background(), r); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}

			if got := buf.String(); got != tt.want {
				t.Errorf("Handle() output =\n%q\nwant:\n%q", got, tt.want)
			}
		})
	}
}

func TestAmberHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := &amberHandler{w: &buf, opID: "op-1"}

	// Add pre-set attrs
	h2 := h.WithAttrs([]slog.Attr{slog.String("component", "reconcile")}).(*amberHandler)

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := slog.NewRecord(ts, slog.LevelInfo, "tick", 0)
	r.AddAttrs(slog.String("key", "en/hello"))

	if err := h2.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	got := buf.String()
	if !strings.Contains(got, "component=reconcile") {
		t.Errorf("expected pre-set attr component=reconcile, got: %q", got)
	}
	if !strings.Contains(got, "key=en/hello") {
		t.Errorf("expected record attr key=en/hello, got: %q", got)
	}
}

func TestAmberHandler_WithAttrs_doesNotMutateOriginal(t *testing.T) {
	var buf bytes.Buffer
	h := &amberHandler{w: &buf, opID: "op-1", attrs: []slog.Attr{slog.String("a", "1")}}

	h2 := h.WithAttrs([]slog.Attr{slog.String("b", "2")}).(*amberHandler)

	if len(h.attrs) != 1 {
		t.Errorf("original handler attrs modified: got %d, want 1", len(h.attrs))
	}
	if len(h2.attrs) != 2 {
		t.Errorf("new handler attrs: got %d, want 2", len(h2.attrs))
	}
}

func TestAmberHandler_Enabled(t *testing.T) {
	t.Run("all levels without a minimum", func(t *testing.T) {
		h := &amberHandler{}
		for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
			if !h.Enabled(context.Background(), level) {
				t.Errorf("Enabled(%v) = false, want true", level)
			}
		}
	})

	t.Run("respects minimum level", func(t *testing.T) {
		h := &amberHandler{level: slog.LevelInfo}
		if h.Enabled(context.Background(), slog.LevelDebug) {
			t.Error("Enabled(DEBUG) = true, want false")
		}
		if !h.Enabled(context.Background(), slog.LevelWarn) {
			t.Error("Enabled(WARN) = false, want true")
		}
	})
}

func TestNewLogger(t *testing.T) {
	t.Run("writes to log file", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "log")

		logger, f, err := newLogger(dir, "test-op")
		if err != nil {
			t.Fatalf("newLogger() error = %v", err)
		}
		defer f.Close()

		if f == nil {
			t.Fatal("newLogger() returned nil file")
		}
		logger.Info("loaded", "records", 3)

		data, err := os.ReadFile(filepath.Join(dir, LogFileName))
		if err != nil {
			t.Fatalf("ReadFile() error = %v", err)
		}
		if !strings.Contains(string(data), "\ttest-op\tloaded\trecords=3") {
			t.Errorf("log file = %q, want loaded line", data)
		}
	})

	t.Run("stderr only without log dir", func(t *testing.T) {
		logger, f, err := newLogger("", "test-op")
		if err != nil {
			t.Fatalf("newLogger() error = %v", err)
		}
		if logger == nil {
			t.Fatal("newLogger() returned nil logger")
		}
		if f != nil {
			t.Errorf("newLogger() file = %v, want nil", f.Name())
		}
	})
}

func TestNewOpID(t *testing.T) {
	re := regexp.MustCompile(`^\d{8}T\d{6}-[0-9a-f]{8}$`)

	a, b := newOpID(), newOpID()
	if !re.MatchString(a) {
		t.Errorf("newOpID() = %q, want timestamp-hex form", a)
	}
	if a == b {
		t.Errorf("newOpID() returned %q twice", a)
	}
}
