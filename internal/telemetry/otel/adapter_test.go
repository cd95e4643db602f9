package otel

import (
	"context"
	"testing"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/johndoe6345789/pyracms-core/internal/telemetry/domain"
)

func TestNewEventEmitter_NilProvider_ReturnsNoop(t *testing.T) {
	em := NewEventEmitter(nil)
	if em == nil {
		t.Fatal("NewEventEmitter(nil) returned nil")
	}
	if err := em.Emit(context.Background(), nil); err != nil {
		t.Errorf("noop Emit(ctx, nil): %v", err)
	}
	if err := em.Emit(context.Background(), &domain.Event{Type: domain.EventLogout}); err != nil {
		t.Errorf("noop Emit(ctx, event): %v", err)
	}
}

func TestEmit_WithProvider(t *testing.T) {
	provider := sdklog.NewLoggerProvider()
	defer func() { _ = provider.Shutdown(context.Background()) }()
	em := NewEventEmitter(provider)
	if err := em.Emit(context.Background(), nil); err != nil {
		t.Errorf("Emit(ctx, nil): %v", err)
	}
	if err := em.Emit(context.Background(), &domain.Event{Type: domain.EventLoginSucceeded}); err != nil {
		t.Errorf("Emit: %v", err)
	}
}

// recordCapture stores the last Record passed to Emit for assertion.
type recordCapture struct {
	otellog.Logger
	rec otellog.Record
}

func (r *recordCapture) Emit(_ context.Context, rec otellog.Record) {
	r.rec = rec
}

func attributes(rec otellog.Record) map[string]string {
	attrs := make(map[string]string)
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		attrs[kv.Key] = kv.Value.AsString()
		return true
	})
	return attrs
}

func TestEmit_AttributeAndBodyMapping(t *testing.T) {
	capture := &recordCapture{}
	em := NewEventEmitterWithLogger(capture)
	created := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	event := &domain.Event{
		Type:      domain.EventLoginSucceeded,
		UserID:    "user1",
		SessionID: "sess1",
		Source:    "http",
		CreatedAt: created,
	}
	if err := em.Emit(context.Background(), event); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	rec := capture.rec

	if got := rec.Body().AsString(); got != "login_succeeded" {
		t.Errorf("body = %q", got)
	}
	if !rec.Timestamp().Equal(created) {
		t.Errorf("timestamp = %v, want %v", rec.Timestamp(), created)
	}
	if rec.Severity() != otellog.SeverityInfo {
		t.Errorf("severity = %v, want INFO", rec.Severity())
	}
	want := map[string]string{
		"event_type": "login_succeeded", "user_id": "user1",
		"session_id": "sess1", "source": "http",
	}
	attrs := attributes(rec)
	for k, v := range want {
		if attrs[k] != v {
			t.Errorf("attr %q = %q, want %q", k, attrs[k], v)
		}
	}
	if _, ok := attrs["reason"]; ok {
		t.Error("empty reason should not be set")
	}
}

func TestEmit_FailureSeverityAndReason(t *testing.T) {
	capture := &recordCapture{}
	em := NewEventEmitterWithLogger(capture)
	if err := em.Emit(context.Background(), &domain.Event{Type: domain.EventAuthenticateRejected, Reason: "expired"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if capture.rec.Severity() != otellog.SeverityWarn {
		t.Errorf("severity = %v, want WARN", capture.rec.Severity())
	}
	if attributes(capture.rec)["reason"] != "expired" {
		t.Error("reason attribute missing")
	}
}

func TestEmit_ZeroTimestamp_SetsCurrentTime(t *testing.T) {
	capture := &recordCapture{}
	em := NewEventEmitterWithLogger(capture)
	before := time.Now().Add(-time.Second)
	if err := em.Emit(context.Background(), &domain.Event{Type: domain.EventLogout}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if ts := capture.rec.Timestamp(); ts.Before(before) || ts.After(time.Now().Add(time.Second)) {
		t.Errorf("timestamp %v not near now", ts)
	}
}
