package telemetry

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/johndoe6345789/pyracms-core/internal/telemetry/domain"
)

// EventEmitter emits identity events (e.g. to OTel Logs). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *domain.Event) error
}

// LogEmitter writes events to a zerolog logger at info level.
type LogEmitter struct {
	log zerolog.Logger
}

// NewLogEmitter returns an emitter that logs each event.
func NewLogEmitter(log zerolog.Logger) *LogEmitter {
	return &LogEmitter{log: log}
}

func (e *LogEmitter) Emit(_ context.Context, event *domain.Event) error {
	if event == nil {
		return nil
	}
	ev := e.log.Info().Str("event_type", string(event.Type))
	if event.UserID != "" {
		ev = ev.Str("user_id", event.UserID)
	}
	if event.SessionID != "" {
		ev = ev.Str("session_id", event.SessionID)
	}
	if event.Reason != "" {
		ev = ev.Str("reason", event.Reason)
	}
	if event.Source != "" {
		ev = ev.Str("source", event.Source)
	}
	ev.Msg("identity event")
	return nil
}

// Fanout emits to every emitter in order and joins their errors.
type Fanout []EventEmitter

func (f Fanout) Emit(ctx context.Context, event *domain.Event) error {
	var errs []error
	for _, e := range f {
		if e == nil {
			continue
		}
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
