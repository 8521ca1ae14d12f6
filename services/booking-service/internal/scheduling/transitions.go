package scheduling

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/storage"
)

const (
	RoleUser     = "user"
	RoleProvider = "provider"
	RoleAdmin    = "admin"
	// RoleSystem is used by the Kafka consumer and the missed sweeper.
	RoleSystem = "system"
)

// Actor is whoever asks for a change.
type Actor struct {
	ID         string
	Role       string
	ProviderID string
}

var SystemActor = Actor{ID: "system", Role: RoleSystem}

// canManage reports whether actor may act on providerID's schedule.
func (a Actor) canManage(providerID string) bool {
	switch a.Role {
	case RoleAdmin, RoleSystem:
		return true
	case RoleProvider:
		return a.ProviderID != "" && a.ProviderID == providerID
	}
	return false
}

var errStale = errors.New("appointment moved while waiting for its lock")

// Transition applies a provider-side action (approve, reject, complete, miss).
func (e *Engine) Transition(ctx context.Context, id string, action model.Action, actor Actor) (out model.Appointment, err error) {
	ctx, done := e.begin(ctx, "transition")
	defer func() { done(&err) }()

	if !slices.Contains(model.ProviderActions, action) {
		return model.Appointment{}, fmt.Errorf("%w: %q is not a provider action", ErrInvalidTransition, action)
	}
	if !validID(id) {
		return model.Appointment{}, fmt.Errorf("%w: appointment %s", ErrNotFound, id)
	}

	for attempt := 0; attempt < 3; attempt++ {
		out, err = e.transitionOnce(ctx, id, action, actor)
		if !errors.Is(err, errStale) {
			break
		}
	}
	if err != nil {
		return model.Appointment{}, translate(err)
	}

	e.invalidate(ctx, out.ProviderID, out.Date)
	loc := e.locationOf(ctx, out.ProviderID)
	kind, verb := notificationFor(out.Status)
	e.emit(ctx, out, kind, fmt.Sprintf("Your appointment on %s was %s.", describe(out, loc), verb))
	return out, nil
}

func (e *Engine) transitionOnce(ctx context.Context, id string, action model.Action, actor Actor) (model.Appointment, error) {
	current, err := e.ledger.Get(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if !actor.canManage(current.ProviderID) {
		return model.Appointment{}, fmt.Errorf("%w: not this provider's appointment", ErrUnauthorized)
	}
	keys := []string{storage.AppointmentKey(id), storage.SlotKey(current.ProviderID, current.Date)}

	var out model.Appointment
	err = e.ledger.Atomic(ctx, keys, func(ctx context.Context, tx storage.Tx) error {
		a, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if a.Date != current.Date {
			return errStale
		}
		next, err := model.Transition(a.Status, action)
		if err != nil {
			return err
		}
		if next.Occupies() && !a.Status.Occupies() {
			others, err := tx.ListOverlapping(ctx, a.ProviderID, a.StartTime, a.EndTime)
			if err != nil {
				return err
			}
			for _, o := range others {
				if o.ID != a.ID && o.Status.Occupies() {
					return fmt.Errorf("%w: slot was taken in the meantime", ErrSlotUnavailable)
				}
			}
		}

		prev := a
		a.Status = next
		a.UpdatedAt = e.clock.Now()
		if err := tx.Update(ctx, a); err != nil {
			return err
		}
		if err := record(ctx, tx, prev, a, action, actor.ID, "", outbox.TypeForStatus(string(next))); err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, err
}

func notificationFor(s model.Status) (model.NotificationKind, string) {
	switch s {
	case model.StatusApproved:
		return model.KindApproved, "approved"
	case model.StatusRejected:
		return model.KindRejected, "rejected"
	case model.StatusCompleted:
		return model.KindCompleted, "marked as completed"
	case model.StatusMissed:
		return model.KindMissed, "marked as missed; you can reschedule or cancel it"
	}
	return model.NotificationKind("appointment_" + string(s)), string(s)
}

// SweepMissed marks approved appointments that ended more than MissedGrace ago as missed.
func (e *Engine) SweepMissed(ctx context.Context) (int, error) {
	cutoff := e.clock.Now().Add(-e.cfg.MissedGrace)
	due, err := e.ledger.ListEndedBefore(ctx, model.StatusApproved, cutoff, e.cfg.SweepBatch)
	if err != nil {
		return 0, err
	}
	marked := 0
	for _, a := range due {
		if ctx.Err() != nil {
			break
		}
		if _, err := e.Transition(ctx, a.ID, model.ActionMiss, SystemActor); err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				continue
			}
			e.logger.Warn("mark missed failed", "err", err, "appointment_id", a.ID)
			continue
		}
		marked++
	}
	e.metrics.MissedMarked(marked)
	return marked, nil
}
