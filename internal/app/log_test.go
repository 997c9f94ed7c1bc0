package app

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestKinHandler_Handle(t *testing.T) {
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
			message: "person created",
			want:    "2024-06-15T14:30:45Z\tINFO\top-123\tperson created\n",
		},
		{
			name:    "debug level",
			opID:    "op-456",
			level:   slog.LevelDebug,
			message: "candidate scored",
			want:    "2024-06-15T14:30:45Z\tDEBUG\top-456\tcandidate scored\n",
		},
		{
			name:    "with record attrs",
			opID:    "op-789",
			level:   slog.LevelInfo,
			message: "linked",
			attrs:   []slog.Attr{slog.String("person", "p-1"), slog.Int("sources", 3)},
			want:    "2024-06-15T14:30:45Z\tINFO\top-789\tlinked\tperson=p-1\tsources=3\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := &kinHandler{w: &buf, opID: tt.opID}

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

func TestKinHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := &kinHandler{w: &buf, opID: "op-1"}

	// Add pre-set attrs
	h2 := h.WithAttrs([]slog.Attr{slog.String("adapter", "mail")}).(*kinHandler)

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := slog.NewRecord(ts, slog.LevelInfo, "fetched", 0)
	r.AddAttrs(slog.Int("observations", 12))

	if err := h2.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	got := buf.String()
	if !strings.Contains(got, "adapter=mail") {
		t.Errorf("expected pre-set attr adapter=mail, got: %q", got)
	}
	if !strings.Contains(got, "observations=12") {
		t.Errorf("expected record attr observations=12, got: %q", got)
	}
}

func TestKinHandler_WithAttrs_doesNotMutateOriginal(t *testing.T) {
	var buf bytes.Buffer
	h := &kinHandler{w: &buf, opID: "op-1", attrs: []slog.Attr{slog.String("a", "1")}}

	h2 := h.WithAttrs([]slog.Attr{slog.String("b", "2")}).(*kinHandler)

	if len(h.attrs) != 1 {
		t.Errorf("original handler attrs modified: got %d, want 1", len(h.attrs))
	}
	if len(h2.attrs) != 2 {
		t.Errorf("new handler attrs: got %d, want 2", len(h2.attrs))
	}
}

func TestKinHandler_Enabled(t *testing.T) {
	tests := []struct {
		min   slog.Level
		level slog.Level
		want  bool
	}{
		{slog.LevelDebug, slog.LevelDebug, true},
		{slog.LevelInfo, slog.LevelDebug, false},
		{slog.LevelInfo, slog.LevelInfo, true},
		{slog.LevelInfo, slog.LevelError, true},
		{slog.LevelWarn, slog.LevelInfo, false},
	}
	for _, tt := range tests {
		h := &kinHandler{level: tt.min}
		if got := h.Enabled(context.Background(), tt.level); got != tt.want {
			t.Errorf("Enabled(min=%v, %v) = %v, want %v", tt.min, tt.level, got, tt.want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer

	logger, f, err := newLogger(dir, "sync-1", slog.LevelInfo, &console)
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	logger.Debug("hidden")
	logger.Info("sync finished", "created", 2)
	f.Close()

	data, err := os.ReadFile(filepath.Join(dir, "kin.log"))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	for name, got := range map[string]string{"file": string(data), "console": console.String()} {
		if !strings.Contains(got, "\tINFO\tsync-1\tsync finished\tcreated=2\n") {
			t.Errorf("%s output = %q, want the info line", name, got)
		}
		if strings.Contains(got, "hidden") {
			t.Errorf("%s output = %q, debug line should be filtered", name, got)
		}
	}
}
