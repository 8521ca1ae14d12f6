package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/storage"
)

type BookSlotRequest struct {
	UserID         string
	ProviderID     string
	Date           string
	SlotTime       string
	IdempotencyKey string
}

type BookRequest struct {
	UserID         string
	ProviderID     string
	Start          time.Time
	End            time.Time
	IdempotencyKey string
}

type BookResult struct {
	Appointment model.Appointment
	// Replayed is set when the idempotency key matched an earlier booking.
	Replayed bool
}

// BookSlot books a template slot identified by its local date and label.
func (e *Engine) BookSlot(ctx context.Context, req BookSlotRequest) (res BookResult, err error) {
	ctx, done := e.begin(ctx, "book_slot")
	defer func() { done(&err) }()

	if req.UserID == "" || strings.TrimSpace(req.Date) == "" || strings.TrimSpace(req.SlotTime) == "" {
		return BookResult{}, fmt.Errorf("%w: providerId, date and slotTime are required", ErrInvalidRequest)
	}
	p, loc, err := e.provider(ctx, req.ProviderID)
	if err != nil {
		return BookResult{}, err
	}
	start, end, err := e.slotInstants(req.Date, req.SlotTime, loc)
	if err != nil {
		return BookResult{}, err
	}
	if !start.After(e.clock.Now()) {
		return BookResult{}, fmt.Errorf("%w: slot has already started", ErrInvalidTime)
	}
	if !availability.Offered(p, start, end, e.cfg.Grain, loc) {
		return BookResult{}, fmt.Errorf("%w: %s is not an offered slot", ErrSlotUnavailable, req.SlotTime)
	}
	return e.place(ctx, req.UserID, p, loc, start, end, req.IdempotencyKey)
}

// Book books an explicit interval. It must honour the lead time and fit inside one
// template window.
func (e *Engine) Book(ctx context.Context, req BookRequest) (res BookResult, err error) {
	ctx, done := e.begin(ctx, "book")
	defer func() { done(&err) }()

	if req.UserID == "" || req.Start.IsZero() || req.End.IsZero() {
		return BookResult{}, fmt.Errorf("%w: providerId, start and end are required", ErrInvalidRequest)
	}
	if !req.End.After(req.Start) {
		return BookResult{}, fmt.Errorf("%w: end must be after start", ErrInvalidTime)
	}
	p, loc, err := e.provider(ctx, req.ProviderID)
	if err != nil {
		return BookResult{}, err
	}
	if err := e.checkLeadTime(req.Start); err != nil {
		return BookResult{}, err
	}
	if !availability.Within(p, req.Start, req.End, loc) {
		return BookResult{}, fmt.Errorf("%w: interval is outside the provider's hours", ErrSlotUnavailable)
	}
	return e.place(ctx, req.UserID, p, loc, req.Start, req.End, req.IdempotencyKey)
}

// slotInstants resolves a local date and slot label, rejecting dates before today
// in the provider's timezone.
func (e *Engine) slotInstants(date, label string, loc *time.Location) (time.Time, time.Time, error) {
	day, err := model.ParseDate(date, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %v", ErrInvalidTime, err)
	}
	now := e.clock.Now().In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	if day.Before(today) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %s is in the past", ErrInvalidTime, date)
	}
	start, end, err := model.ParseSlotLabel(date, label, loc, e.cfg.Grain)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %v", ErrInvalidTime, err)
	}
	return start, end, nil
}

// checkLeadTime allows a start exactly LeadTime away.
func (e *Engine) checkLeadTime(start time.Time) error {
	earliest := e.clock.Now().Add(e.cfg.LeadTime)
	if start.Before(earliest) {
		return fmt.Errorf("%w: start must be at least %s from now", ErrInvalidTime, e.cfg.LeadTime)
	}
	return nil
}

func (e *Engine) place(ctx context.Context, userID string, p model.Provider, loc *time.Location, start, end time.Time, idemKey string) (BookResult, error) {
	dates := localDates(start, end, loc)
	keys := slotKeys(p.ID, dates)
	if idemKey != "" {
		keys = append(keys, storage.IdempotencyKey(userID, idemKey))
	}

	var res BookResult
	err := e.ledger.Atomic(ctx, keys, func(ctx context.Context, tx storage.Tx) error {
		if idemKey != "" {
			id, found, err := tx.IdempotentResult(ctx, userID, idemKey)
			if err != nil {
				return err
			}
			if found {
				a, err := tx.GetForUpdate(ctx, id)
				res = BookResult{Appointment: a, Replayed: true}
				return err
			}
		}

		blocks, err := e.providers.ListBlocks(ctx, p.ID, start, end)
		if err != nil {
			return err
		}
		if len(blocks) > 0 {
			return fmt.Errorf("%w: provider is unavailable at that time", ErrSlotUnavailable)
		}
		occupants, err := tx.ListOverlapping(ctx, p.ID, start, end)
		if err != nil {
			return err
		}
		for _, o := range occupants {
			if o.Status.Occupies() {
				return fmt.Errorf("%w: already booked", ErrSlotUnavailable)
			}
		}

		now := e.clock.Now()
		a := model.Appointment{
			ID:         uuid.NewString(),
			UserID:     userID,
			ProviderID: p.ID,
			Date:       dates[0],
			StartTime:  start,
			EndTime:    end,
			Status:     model.StatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.Insert(ctx, a); err != nil {
			return err
		}
		if err := record(ctx, tx, model.Appointment{}, a, model.ActionBook, userID, "", outbox.TypeBooked); err != nil {
			return err
		}
		if idemKey != "" {
			if err := tx.RememberIdempotent(ctx, userID, idemKey, a.ID); err != nil {
				return err
			}
		}
		res = BookResult{Appointment: a}
		return nil
	})
	if err != nil {
		return BookResult{}, translate(err)
	}
	if !res.Replayed {
		e.invalidate(ctx, p.ID, dates...)
		e.emit(ctx, res.Appointment, model.KindBooked,
			fmt.Sprintf("Your appointment on %s is booked and awaiting confirmation.", describe(res.Appointment, loc)))
	}
	return res, nil
}

// Cancel moves a pending or missed appointment owned by userID to cancelled.
func (e *Engine) Cancel(ctx context.Context, id, userID, reason string) (out model.Appointment, err error) {
	ctx, done := e.begin(ctx, "cancel")
	defer func() { done(&err) }()

	if !validID(id) {
		return model.Appointment{}, fmt.Errorf("%w: appointment %s", ErrNotFound, id)
	}
	err = e.ledger.Atomic(ctx, []string{storage.AppointmentKey(id)}, func(ctx context.Context, tx storage.Tx) error {
		a, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if a.UserID != userID {
			return fmt.Errorf("%w: appointment belongs to another user", ErrUnauthorized)
		}
		next, err := model.Transition(a.Status, model.ActionCancel)
		if err != nil {
			return err
		}

		now := e.clock.Now()
		prev := a
		a.Status = next
		a.CancelledAt = &now
		a.CancelReason = strings.TrimSpace(reason)
		a.UpdatedAt = now
		if err := tx.Update(ctx, a); err != nil {
			return err
		}
		if err := record(ctx, tx, prev, a, model.ActionCancel, userID, a.CancelReason, outbox.TypeCancelled); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return model.Appointment{}, translate(err)
	}

	e.invalidate(ctx, out.ProviderID, out.Date)
	loc := e.locationOf(ctx, out.ProviderID)
	e.emit(ctx, out, model.KindCancelled, fmt.Sprintf("Your appointment on %s was cancelled.", describe(out, loc)))
	return out, nil
}

// RescheduleToSlot moves an appointment to a template slot on date.
func (e *Engine) RescheduleToSlot(ctx context.Context, id, userID, date, slotTime string) (out model.Appointment, err error) {
	ctx, done := e.begin(ctx, "reschedule")
	defer func() { done(&err) }()

	return e.reschedule(ctx, id, userID, func(p model.Provider, loc *time.Location) (time.Time, time.Time, error) {
		start, end, err := e.slotInstants(date, slotTime, loc)
		if err != nil {
			return start, end, err
		}
		if err := e.checkLeadTime(start); err != nil {
			return start, end, err
		}
		if !availability.Offered(p, start, end, e.cfg.Grain, loc) {
			return start, end, fmt.Errorf("%w: %s is not an offered slot", ErrSlotUnavailable, slotTime)
		}
		return start, end, nil
	})
}

// RescheduleToRange moves an appointment to an explicit interval.
func (e *Engine) RescheduleToRange(ctx context.Context, id, userID string, start, end time.Time) (out model.Appointment, err error) {
	ctx, done := e.begin(ctx, "reschedule")
	defer func() { done(&err) }()

	return e.reschedule(ctx, id, userID, func(p model.Provider, loc *time.Location) (time.Time, time.Time, error) {
		if start.IsZero() || !end.After(start) {
			return start, end, fmt.Errorf("%w: end must be after start", ErrInvalidTime)
		}
		if err := e.checkLeadTime(start); err != nil {
			return start, end, err
		}
		if !availability.Within(p, start, end, loc) {
			return start, end, fmt.Errorf("%w: interval is outside the provider's hours", ErrSlotUnavailable)
		}
		return start, end, nil
	})
}

type targetFunc func(p model.Provider, loc *time.Location) (time.Time, time.Time, error)

func (e *Engine) reschedule(ctx context.Context, id, userID string, target targetFunc) (model.Appointment, error) {
	if !validID(id) {
		return model.Appointment{}, fmt.Errorf("%w: appointment %s", ErrNotFound, id)
	}
	current, err := e.ledger.Get(ctx, id)
	if err != nil {
		return model.Appointment{}, translate(err)
	}
	if current.UserID != userID {
		return model.Appointment{}, fmt.Errorf("%w: appointment belongs to another user", ErrUnauthorized)
	}
	if _, err := model.Transition(current.Status, model.ActionReschedule); err != nil {
		return model.Appointment{}, translate(err)
	}

	p, loc, err := e.provider(ctx, current.ProviderID)
	if err != nil {
		return model.Appointment{}, err
	}
	start, end, err := target(p, loc)
	if err != nil {
		return model.Appointment{}, err
	}
	dates := localDates(start, end, loc)
	keys := append(slotKeys(p.ID, dates), storage.AppointmentKey(id))

	var prev, out model.Appointment
	err = e.ledger.Atomic(ctx, keys, func(ctx context.Context, tx storage.Tx) error {
		a, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if a.UserID != userID {
			return fmt.Errorf("%w: appointment belongs to another user", ErrUnauthorized)
		}
		next, err := model.Transition(a.Status, model.ActionReschedule)
		if err != nil {
			return err
		}

		blocks, err := e.providers.ListBlocks(ctx, p.ID, start, end)
		if err != nil {
			return err
		}
		if len(blocks) > 0 {
			return fmt.Errorf("%w: provider is unavailable at that time", ErrSlotUnavailable)
		}
		others, err := tx.ListOverlapping(ctx, p.ID, start, end)
		if err != nil {
			return err
		}
		for _, o := range others {
			if o.ID != a.ID && o.Status.BlocksReschedule() {
				return fmt.Errorf("%w: target slot is taken", ErrSlotUnavailable)
			}
		}

		prev = a
		a.Date = dates[0]
		a.StartTime, a.EndTime = start, end
		a.Status = next
		a.RescheduleCount++
		a.UpdatedAt = e.clock.Now()
		if err := tx.Update(ctx, a); err != nil {
			return err
		}
		if err := record(ctx, tx, prev, a, model.ActionReschedule, userID, "", outbox.TypeRescheduled); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return model.Appointment{}, translate(err)
	}

	e.invalidate(ctx, p.ID, prev.Date, out.Date)
	e.emit(ctx, out, model.KindRescheduled,
		fmt.Sprintf("Your appointment was moved to %s.", describe(out, loc)))
	return out, nil
}

// record appends the history row and the outbox event for a change from prev to a.
// A zero prev means the appointment was just created.
func record(ctx context.Context, tx storage.Tx, prev, a model.Appointment, action model.Action, actor, reason, eventType string) error {
	h := model.HistoryEntry{
		AppointmentID: a.ID,
		Action:        action,
		FromStatus:    prev.Status,
		ToStatus:      a.Status,
		OldStart:      prev.StartTime,
		OldEnd:        prev.EndTime,
		NewStart:      a.StartTime,
		NewEnd:        a.EndTime,
		Actor:         actor,
		At:            a.UpdatedAt,
	}
	if err := tx.AppendHistory(ctx, h); err != nil {
		return err
	}
	evt, err := outbox.NewAppointmentEvent(eventType, outbox.AppointmentPayload{
		AppointmentID:   a.ID,
		UserID:          a.UserID,
		ProviderID:      a.ProviderID,
		Date:            a.Date,
		Start:           a.StartTime,
		End:             a.EndTime,
		Status:          string(a.Status),
		PreviousStatus:  string(prev.Status),
		PreviousStart:   prev.StartTime,
		PreviousEnd:     prev.EndTime,
		Reason:          reason,
		Actor:           actor,
		RescheduleCount: a.RescheduleCount,
		OccurredAt:      a.UpdatedAt,
	})
	if err != nil {
		return err
	}
	return tx.Enqueue(ctx, evt)
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// locationOf is used after commit, so a lookup failure falls back to UTC.
func (e *Engine) locationOf(ctx context.Context, providerID string) *time.Location {
	p, err := e.providers.Get(ctx, providerID)
	if err != nil {
		return time.UTC
	}
	loc, err := p.Location()
	if err != nil {
		return time.UTC
	}
	return loc
}
