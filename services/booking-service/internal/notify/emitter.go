// Package notify raises per-user notifications for appointment state changes.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/storage"
)

type FailureCounter interface {
	NotificationFailed(kind string)
}

// Emitter persists notifications best-effort: failures are logged and counted, never returned.
type Emitter struct {
	store   storage.Notifications
	clock   clock.Clock
	logger  *slog.Logger
	failed  FailureCounter
	timeout time.Duration
}

func NewEmitter(store storage.Notifications, clk clock.Clock, logger *slog.Logger, failed FailureCounter) *Emitter {
	return &Emitter{store: store, clock: clk, logger: logger, failed: failed, timeout: 3 * time.Second}
}

// Emit runs detached from ctx's cancellation so an aborted request still records
// the notification for a booking that did commit.
func (e *Emitter) Emit(ctx context.Context, userID, appointmentID string, kind model.NotificationKind, message string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	n := model.Notification{
		ID:            uuid.NewString(),
		UserID:        userID,
		AppointmentID: appointmentID,
		Kind:          kind,
		Message:       message,
		CreatedAt:     e.clock.Now(),
	}
	if err := e.store.Insert(ctx, n); err != nil {
		e.logger.Warn("notification emit failed",
			"err", err,
			"user_id", userID,
			"appointment_id", appointmentID,
			"kind", string(kind),
		)
		if e.failed != nil {
			e.failed.NotificationFailed(string(kind))
		}
	}
}
