package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestLoggerWritesFieldsInOrder(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "test"))

	log.Info("hello", String("comp", "override"), Int("n", 3), Err(errors.New("boom")))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v (%q)", err, buf.String())
	}
	if m["message"] != "hello" {
		t.Fatalf("message = %v", m["message"])
	}
	if m["comp"] != "override" {
		t.Fatalf("comp = %v, want call-site field to win", m["comp"])
	}
	if m["n"] != float64(3) {
		t.Fatalf("n = %v", m["n"])
	}
	if m["err"] != "boom" {
		t.Fatalf("err = %v", m["err"])
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Info("dropped")
	if Nop().IsZero() {
		t.Fatal("Nop logger is not the zero value")
	}
}

func TestAlertSinkForwardsWarnings(t *testing.T) {
	svc, log := New(Config{
		Level:  "debug",
		File:   FileConfig{Enabled: true, Path: t.TempDir() + "/test.log"},
		Alerts: AlertConfig{Enabled: true, MinLevel: "warn", RatePerSec: 10},
	})
	t.Cleanup(func() { _ = svc.Close() })

	log.Info("not an alert")
	log.Warn("store unreachable", String("owner", "u1"))

	select {
	case a := <-svc.Alerts():
		if a.Message != "store unreachable" {
			t.Fatalf("alert message = %q", a.Message)
		}
		if a.Fields["owner"] != "u1" {
			t.Fatalf("alert owner = %v", a.Fields["owner"])
		}
	case <-time.After(time.Second):
		t.Fatal("expected an alert")
	}

	select {
	case a := <-svc.Alerts():
		t.Fatalf("unexpected extra alert %+v", a)
	default:
	}
}
