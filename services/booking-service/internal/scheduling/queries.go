package scheduling

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

// ListSlots returns the provider's slots for a local date, marked booked and available.
func (e *Engine) ListSlots(ctx context.Context, providerID, date string) (slots []model.Slot, err error) {
	ctx, done := e.begin(ctx, "list_slots")
	defer func() { done(&err) }()

	p, loc, err := e.provider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	day, err := model.ParseDate(date, loc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTime, err)
	}
	date = day.Format(model.DateLayout)

	version := int64(-1)
	if e.cache != nil {
		cached, v, ok := e.cache.Get(ctx, p.ID, date)
		if ok {
			return cached, nil
		}
		version = v
	}

	dayEnd := day.AddDate(0, 0, 1)
	occupants, err := e.ledger.ListOverlapping(ctx, p.ID, day, dayEnd)
	if err != nil {
		return nil, err
	}
	blocks, err := e.providers.ListBlocks(ctx, p.ID, day, dayEnd)
	if err != nil {
		return nil, err
	}
	slots, err = availability.Generate(p, day, e.cfg.Grain, occupants, blocks)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.Set(ctx, p.ID, date, version, slots)
	}
	return slots, nil
}

type Filter string

const (
	FilterAll       Filter = "all"
	FilterUpcoming  Filter = "upcoming"
	FilterPast      Filter = "past"
	FilterCancelled Filter = "cancelled"
	FilterMissed    Filter = "missed"
)

func ParseFilter(s string) (Filter, error) {
	f := Filter(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case "":
		return FilterAll, nil
	case FilterAll, FilterUpcoming, FilterPast, FilterCancelled, FilterMissed:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidFilter, s)
}

func (f Filter) match(a model.Appointment, now time.Time) bool {
	switch f {
	case FilterUpcoming:
		return !a.EndTime.Before(now) && a.Status != model.StatusCancelled
	case FilterPast:
		return a.EndTime.Before(now) && a.Status != model.StatusCancelled
	case FilterCancelled:
		return a.Status == model.StatusCancelled
	case FilterMissed:
		return a.Status == model.StatusMissed
	}
	return true
}

// ListForUser returns userID's appointments matching filter, newest start first.
func (e *Engine) ListForUser(ctx context.Context, userID, filter string) (out []model.Appointment, err error) {
	ctx, done := e.begin(ctx, "list_for_user")
	defer func() { done(&err) }()

	f, err := ParseFilter(filter)
	if err != nil {
		return nil, err
	}
	all, err := e.ledger.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := e.clock.Now()
	out = make([]model.Appointment, 0, len(all))
	for _, a := range all {
		if f.match(a, now) {
			out = append(out, a)
		}
	}
	slices.SortStableFunc(out, func(a, b model.Appointment) int { return b.StartTime.Compare(a.StartTime) })
	return out, nil
}

// History returns the audit trail of an appointment to its owner, its provider or an admin.
func (e *Engine) History(ctx context.Context, id string, actor Actor) ([]model.HistoryEntry, error) {
	if !validID(id) {
		return nil, fmt.Errorf("%w: appointment %s", ErrNotFound, id)
	}
	a, err := e.ledger.Get(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	if a.UserID != actor.ID && !actor.canManage(a.ProviderID) {
		return nil, ErrUnauthorized
	}
	return e.ledger.History(ctx, id)
}

func (e *Engine) GetProvider(ctx context.Context, id string) (model.Provider, error) {
	p, _, err := e.provider(ctx, id)
	return p, err
}

func (e *Engine) ListProviders(ctx context.Context, category string) ([]model.Provider, error) {
	return e.providers.List(ctx, strings.TrimSpace(category))
}

// UpsertProvider stores replicated provider reference data.
func (e *Engine) UpsertProvider(ctx context.Context, p model.Provider) error {
	if p.ID == "" {
		return fmt.Errorf("%w: provider id is required", ErrInvalidRequest)
	}
	if _, err := p.Location(); err != nil {
		return fmt.Errorf("%w: timezone %q: %v", ErrInvalidRequest, p.Timezone, err)
	}
	for _, w := range p.Weekly {
		if err := w.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = e.clock.Now()
	}
	return e.providers.Upsert(ctx, p)
}

func (e *Engine) ListBlocks(ctx context.Context, providerID string, from, to time.Time) ([]model.Block, error) {
	if _, _, err := e.provider(ctx, providerID); err != nil {
		return nil, err
	}
	if !to.After(from) {
		return nil, fmt.Errorf("%w: to must be after from", ErrInvalidTime)
	}
	return e.providers.ListBlocks(ctx, providerID, from, to)
}

// CreateBlock marks [start,end) unavailable. Existing bookings are left alone.
func (e *Engine) CreateBlock(ctx context.Context, actor Actor, providerID string, start, end time.Time, reason string) (model.Block, error) {
	_, loc, err := e.provider(ctx, providerID)
	if err != nil {
		return model.Block{}, err
	}
	if !actor.canManage(providerID) {
		return model.Block{}, ErrUnauthorized
	}
	if start.IsZero() || !end.After(start) {
		return model.Block{}, fmt.Errorf("%w: end must be after start", ErrInvalidTime)
	}
	b := model.Block{
		ID:         uuid.NewString(),
		ProviderID: providerID,
		Start:      start,
		End:        end,
		Reason:     strings.TrimSpace(reason),
		CreatedAt:  e.clock.Now(),
	}
	if err := e.providers.CreateBlock(ctx, b); err != nil {
		return model.Block{}, translate(err)
	}
	e.invalidate(ctx, providerID, localDates(start, end, loc)...)
	return b, nil
}

func (e *Engine) DeleteBlock(ctx context.Context, actor Actor, providerID, blockID string) error {
	_, loc, err := e.provider(ctx, providerID)
	if err != nil {
		return err
	}
	if !actor.canManage(providerID) {
		return ErrUnauthorized
	}
	if !validID(blockID) {
		return fmt.Errorf("%w: block %s", ErrNotFound, blockID)
	}
	b, err := e.providers.DeleteBlock(ctx, providerID, blockID)
	if err != nil {
		return translate(err)
	}
	e.invalidate(ctx, providerID, localDates(b.Start, b.End, loc)...)
	return nil
}
