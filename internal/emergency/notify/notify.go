// internal/emergency/notify/notify.go
package notify

import (
	"context"

	"maternalhub-agent/internal/common/logger"
	"maternalhub-agent/internal/models"
)

// Kind classifies a user-facing emergency notification.
type Kind string

const (
	KindAlertSent         Kind = "alert-sent"
	KindHospitalResponded Kind = "hospital-responded"
	KindCancelled         Kind = "cancelled"
	KindCancelNotSynced   Kind = "cancel-not-synced"
	KindAuthExpired       Kind = "auth-expired"
)

// Event is one user-facing notification.
type Event struct {
	Kind     Kind
	Message  string
	Hospital *models.Hospital
}

// Notifier delivers user-facing notifications. Delivery is best effort; a
// failing sink must never propagate into the state machine.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// Multi fans one event out to every sink.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event Event) {
	for _, n := range m {
		n.Notify(ctx, event)
	}
}

// Log writes notifications to the structured log. Always installed; the
// daemon's stand-in for the UI toast layer.
type Log struct {
	logger logger.Logger
}

func NewLog(log logger.Logger) *Log {
	return &Log{logger: log.WithFields(map[string]interface{}{"component": "notify"})}
}

func (l *Log) Notify(ctx context.Context, event Event) {
	fields := map[string]interface{}{"kind": string(event.Kind)}
	if event.Hospital != nil {
		fields["hospital"] = event.Hospital.Name
	}
	switch event.Kind {
	case KindAuthExpired, KindCancelNotSynced:
		l.logger.Warn(event.Message, fields)
	default:
		l.logger.Info(event.Message, fields)
	}
}
