package sloghooks

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func newBuffered(opts Options) (*Hooks, *bytes.Buffer) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return New(l, opts), &buf
}

func TestRedactsKeys(t *testing.T) {
	h, buf := newBuffered(Options{})
	h.RemoteWriteFailed("nemo:user:secret", true, errors.New("boom"))
	out := buf.String()
	if strings.Contains(out, "secret") {
		t.Fatalf("key leaked into log: %s", out)
	}
	if !strings.Contains(out, "nemocache.remote_write_failed") || !strings.Contains(out, "boom") {
		t.Fatalf("unexpected log line: %s", out)
	}
}

func TestCustomRedactor(t *testing.T) {
	h, buf := newBuffered(Options{Redact: func(k string) string { return "R(" + k + ")" }})
	h.LockReadbackMismatch("k1")
	if !strings.Contains(buf.String(), "R(k1)") {
		t.Fatalf("custom redactor not applied: %s", buf.String())
	}
}

func TestSampling(t *testing.T) {
	h, buf := newBuffered(Options{SelfHealEvery: 3})
	for i := 0; i < 9; i++ {
		h.SelfHeal("k", "corrupt")
	}
	if n := strings.Count(buf.String(), "nemocache.self_heal"); n != 3 {
		t.Fatalf("expected 3 sampled lines, got %d", n)
	}
}

func TestNilLoggerIsSilent(t *testing.T) {
	h := New(nil, Options{})
	h.SelfHeal("k", "corrupt")
	h.CASConflict("k")
	h.RevisionRace("k", 2)
}
