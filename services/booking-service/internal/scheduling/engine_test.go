package scheduling

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/cache"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/storage"
)

const providerID = "prov-1"

// Monday 2026-03-02 09:00 UTC.
var monday9 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

var admin = Actor{ID: "admin-1", Role: RoleAdmin}

type sent struct {
	UserID        string
	AppointmentID string
	Kind          model.NotificationKind
}

type recorder struct {
	mu   sync.Mutex
	sent []sent
}

func (r *recorder) Emit(_ context.Context, userID, appointmentID string, kind model.NotificationKind, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{userID, appointmentID, kind})
}

func (r *recorder) kinds() []model.NotificationKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.NotificationKind, len(r.sent))
	for i, s := range r.sent {
		out[i] = s.Kind
	}
	return out
}

type fixture struct {
	engine    *Engine
	ledger    *storage.MemoryLedger
	providers *storage.MemoryProviders
	clock     *clock.Fake
	notes     *recorder
}

func weekdays(startMinute, endMinute int) []model.WeeklyWindow {
	var out []model.WeeklyWindow
	for d := time.Monday; d <= time.Friday; d++ {
		out = append(out, model.WeeklyWindow{Weekday: d, StartMinute: startMinute, EndMinute: endMinute})
	}
	return out
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		ledger: storage.NewMemoryLedger(),
		providers: storage.NewMemoryProviders(model.Provider{
			ID:       providerID,
			Name:     "Dr. Rahman",
			Category: "dentist",
			Timezone: "UTC",
			Weekly:   weekdays(9*60, 17*60),
		}),
		clock: clock.NewFake(monday9),
		notes: &recorder{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.engine = New(f.ledger, f.providers, f.clock, f.notes, logger, DefaultConfig(), opts...)
	return f
}

func (f *fixture) bookSlot(t *testing.T, userID, date, slot string) model.Appointment {
	t.Helper()
	res, err := f.engine.BookSlot(context.Background(), BookSlotRequest{
		UserID: userID, ProviderID: providerID, Date: date, SlotTime: slot,
	})
	require.NoError(t, err)
	return res.Appointment
}

func slotAt(t *testing.T, slots []model.Slot, label string) model.Slot {
	t.Helper()
	for _, s := range slots {
		if s.Label == label {
			return s
		}
	}
	t.Fatalf("slot %q not listed", label)
	return model.Slot{}
}

func TestConcurrentBookingExactlyOneWins(t *testing.T) {
	f := newFixture(t)

	const n = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		won      int
		rejected int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.engine.BookSlot(context.Background(), BookSlotRequest{
				UserID:     "user-" + string(rune('a'+i)),
				ProviderID: providerID,
				Date:       "2026-03-02",
				SlotTime:   "10:00 - 11:00",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won++
			case errors.Is(err, ErrSlotUnavailable):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, won)
	assert.Equal(t, n-1, rejected)

	occupants, err := f.ledger.ListOverlapping(context.Background(), providerID,
		time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC), time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, occupants, 1)
}

func TestBookLeadTime(t *testing.T) {
	cases := []struct {
		name    string
		lead    time.Duration
		wantErr error
	}{
		{"29 minutes", 29 * time.Minute, ErrInvalidTime},
		{"30 minutes", 30 * time.Minute, nil},
		{"31 minutes", 31 * time.Minute, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			start := monday9.Add(tc.lead)
			res, err := f.engine.Book(context.Background(), BookRequest{
				UserID: "u1", ProviderID: providerID, Start: start, End: start.Add(30 * time.Minute),
			})
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, model.StatusPending, res.Appointment.Status)
			assert.Equal(t, "2026-03-02", res.Appointment.Date)
		})
	}
}

func TestBookRejectsBadIntervals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)

	_, err := f.engine.Book(ctx, BookRequest{UserID: "u1", ProviderID: providerID,
		Start: day.Add(11 * time.Hour), End: day.Add(10 * time.Hour)})
	require.ErrorIs(t, err, ErrInvalidTime)

	_, err = f.engine.Book(ctx, BookRequest{UserID: "u1", ProviderID: providerID,
		Start: day.Add(16 * time.Hour), End: day.Add(18 * time.Hour)})
	require.ErrorIs(t, err, ErrSlotUnavailable)

	_, err = f.engine.Book(ctx, BookRequest{UserID: "u1", ProviderID: "nobody",
		Start: day.Add(10 * time.Hour), End: day.Add(11 * time.Hour)})
	require.ErrorIs(t, err, ErrNotFound)

	f.bookSlot(t, "u2", "2026-03-03", "10:00")
	_, err = f.engine.Book(ctx, BookRequest{UserID: "u1", ProviderID: providerID,
		Start: day.Add(10*time.Hour + 30*time.Minute), End: day.Add(11*time.Hour + 30*time.Minute)})
	require.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestBookSlotTemporalRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.BookSlot(ctx, BookSlotRequest{UserID: "u1", ProviderID: providerID, Date: "2026-03-01", SlotTime: "10:00 - 11:00"})
	require.ErrorIs(t, err, ErrInvalidTime)

	_, err = f.engine.BookSlot(ctx, BookSlotRequest{UserID: "u1", ProviderID: providerID, Date: "2026-03-02", SlotTime: "09:00 - 10:00"})
	require.ErrorIs(t, err, ErrInvalidTime)

	_, err = f.engine.BookSlot(ctx, BookSlotRequest{UserID: "u1", ProviderID: providerID, Date: "2026-03-02", SlotTime: "10:30 - 11:30"})
	require.ErrorIs(t, err, ErrSlotUnavailable)

	_, err = f.engine.BookSlot(ctx, BookSlotRequest{UserID: "u1", ProviderID: providerID, Date: "2026-03-07", SlotTime: "10:00 - 11:00"})
	require.ErrorIs(t, err, ErrSlotUnavailable)

	_, err = f.engine.BookSlot(ctx, BookSlotRequest{UserID: "u1", ProviderID: providerID, Date: "not-a-date", SlotTime: "10:00"})
	require.ErrorIs(t, err, ErrInvalidTime)
}

func TestBookThenListRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.bookSlot(t, "u1", "2026-03-02", "14:00 - 15:00")

	slots, err := f.engine.ListSlots(ctx, providerID, "2026-03-02")
	require.NoError(t, err)
	require.Len(t, slots, 8)
	booked := slotAt(t, slots, "14:00 - 15:00")
	assert.True(t, booked.IsBooked)
	assert.True(t, booked.IsAvailable)
	assert.Equal(t, model.StatusPending, booked.Status)
	assert.False(t, slotAt(t, slots, "15:00 - 16:00").IsBooked)

	mine, err := f.engine.ListForUser(ctx, "u1", "all")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, a.ID, mine[0].ID)

	events := f.ledger.Events()
	require.Len(t, events, 1)
	assert.Equal(t, outbox.TypeBooked, events[0].EventType)
	assert.Equal(t, []model.NotificationKind{model.KindBooked}, f.notes.kinds())
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.bookSlot(t, "u1", "2026-03-02", "11:00")

	_, err := f.engine.Cancel(ctx, a.ID, "someone-else", "")
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.engine.Cancel(ctx, "3f0c8f0e-8a0d-4c38-9c55-1f5a2f3f7a10", "u1", "")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.engine.Cancel(ctx, "not-a-uuid", "u1", "")
	require.ErrorIs(t, err, ErrNotFound)

	out, err := f.engine.Cancel(ctx, a.ID, "u1", "  feeling better ")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, out.Status)
	require.NotNil(t, out.CancelledAt)
	assert.Equal(t, "feeling better", out.CancelReason)

	_, err = f.engine.Cancel(ctx, a.ID, "u1", "")
	require.ErrorIs(t, err, ErrInvalidTransition)

	// The slot is free again.
	again := f.bookSlot(t, "u2", "2026-03-02", "11:00")
	assert.NotEqual(t, a.ID, again.ID)
}

func TestRescheduleIsAtomic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.bookSlot(t, "u1", "2026-03-03", "10:00")
	f.bookSlot(t, "u2", "2026-03-03", "11:00")
	eventsBefore := len(f.ledger.Events())

	_, err := f.engine.RescheduleToSlot(ctx, a.ID, "u1", "2026-03-03", "11:00 - 12:00")
	require.ErrorIs(t, err, ErrSlotUnavailable)

	unchanged, err := f.ledger.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.StartTime, unchanged.StartTime)
	assert.Equal(t, model.StatusPending, unchanged.Status)
	assert.Zero(t, unchanged.RescheduleCount)
	assert.Len(t, f.ledger.Events(), eventsBefore)

	moved, err := f.engine.RescheduleToSlot(ctx, a.ID, "u1", "2026-03-04", "12:00 - 13:00")
	require.NoError(t, err)
	assert.Equal(t, a.ID, moved.ID)
	assert.Equal(t, "2026-03-04", moved.Date)
	assert.Equal(t, time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC), moved.StartTime)
	assert.Equal(t, 1, moved.RescheduleCount)

	slots, err := f.engine.ListSlots(ctx, providerID, "2026-03-03")
	require.NoError(t, err)
	assert.False(t, slotAt(t, slots, "10:00 - 11:00").IsBooked)

	history, err := f.engine.History(ctx, a.ID, Actor{ID: "u1", Role: RoleUser})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.ActionReschedule, history[1].Action)
	assert.Equal(t, a.StartTime, history[1].OldStart)

	_, err = f.engine.History(ctx, a.ID, Actor{ID: "u2", Role: RoleUser})
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestRescheduleLeadTimeAppliesToBothShapes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.bookSlot(t, "u1", "2026-03-03", "10:00")

	f.clock.Set(time.Date(2026, 3, 2, 9, 45, 0, 0, time.UTC))
	_, err := f.engine.RescheduleToSlot(ctx, a.ID, "u1", "2026-03-02", "10:00 - 11:00")
	require.ErrorIs(t, err, ErrInvalidTime)

	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	_, err = f.engine.RescheduleToRange(ctx, a.ID, "u1", start, start.Add(time.Hour))
	require.ErrorIs(t, err, ErrInvalidTime)

	_, err = f.engine.RescheduleToRange(ctx, a.ID, "u1", start.Add(15*time.Minute), start.Add(75*time.Minute))
	require.NoError(t, err)
}

func TestRescheduleStricterOccupancy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	done := f.bookSlot(t, "u2", "2026-03-03", "13:00")
	_, err := f.engine.Transition(ctx, done.ID, model.ActionApprove, admin)
	require.NoError(t, err)
	_, err = f.engine.Transition(ctx, done.ID, model.ActionComplete, admin)
	require.NoError(t, err)

	// Completed does not occupy for a fresh booking...
	slots, err := f.engine.ListSlots(ctx, providerID, "2026-03-03")
	require.NoError(t, err)
	s := slotAt(t, slots, "13:00 - 14:00")
	assert.False(t, s.IsBooked)
	assert.Equal(t, model.StatusCompleted, s.Status)

	// ...but it does block a reschedule target.
	a := f.bookSlot(t, "u1", "2026-03-03", "10:00")
	_, err = f.engine.RescheduleToSlot(ctx, a.ID, "u1", "2026-03-03", "13:00")
	require.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestUserTransitions(t *testing.T) {
	ctx := context.Background()
	to := func(t *testing.T, f *fixture, id string, actions ...model.Action) {
		for _, act := range actions {
			_, err := f.engine.Transition(ctx, id, act, admin)
			require.NoError(t, err)
		}
	}
	cases := []struct {
		name    string
		setup   []model.Action
		cancel  bool
		wantErr error
	}{
		{"cancel pending", nil, true, nil},
		{"cancel missed", []model.Action{model.ActionApprove, model.ActionMiss}, true, nil},
		{"cancel approved", []model.Action{model.ActionApprove}, true, ErrInvalidTransition},
		{"cancel completed", []model.Action{model.ActionApprove, model.ActionComplete}, true, ErrInvalidTransition},
		{"reschedule missed", []model.Action{model.ActionApprove, model.ActionMiss}, false, nil},
		{"reschedule approved", []model.Action{model.ActionApprove}, false, ErrInvalidTransition},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			a := f.bookSlot(t, "u1", "2026-03-03", "10:00")
			to(t, f, a.ID, tc.setup...)

			var (
				out model.Appointment
				err error
			)
			if tc.cancel {
				out, err = f.engine.Cancel(ctx, a.ID, "u1", "")
			} else {
				out, err = f.engine.RescheduleToSlot(ctx, a.ID, "u1", "2026-03-04", "15:00")
			}
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			if tc.cancel {
				assert.Equal(t, model.StatusCancelled, out.Status)
			} else {
				assert.Equal(t, model.StatusPending, out.Status)
			}
		})
	}
}

func TestProviderTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.bookSlot(t, "u1", "2026-03-03", "10:00")

	_, err := f.engine.Transition(ctx, a.ID, model.ActionApprove, Actor{ID: "p2", Role: RoleProvider, ProviderID: "prov-2"})
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.engine.Transition(ctx, a.ID, model.ActionApprove, Actor{ID: "u1", Role: RoleUser})
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.engine.Transition(ctx, a.ID, model.ActionCancel, admin)
	require.ErrorIs(t, err, ErrInvalidTransition)

	out, err := f.engine.Transition(ctx, a.ID, model.ActionApprove, Actor{ID: "p1", Role: RoleProvider, ProviderID: providerID})
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, out.Status)

	_, err = f.engine.Transition(ctx, a.ID, model.ActionReject, admin)
	require.ErrorIs(t, err, ErrInvalidTransition)

	events := f.ledger.Events()
	assert.Equal(t, outbox.TypeForStatus("approved"), events[len(events)-1].EventType)
	assert.Contains(t, f.notes.kinds(), model.KindApproved)
}

func TestListForUserFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.bookSlot(t, "u1", "2026-03-02", "10:00")
	b := f.bookSlot(t, "u1", "2026-03-03", "10:00")
	c := f.bookSlot(t, "u1", "2026-03-04", "10:00")
	f.bookSlot(t, "u2", "2026-03-05", "10:00")

	_, err := f.engine.Cancel(ctx, c.ID, "u1", "")
	require.NoError(t, err)
	_, err = f.engine.Transition(ctx, a.ID, model.ActionApprove, admin)
	require.NoError(t, err)

	f.clock.Set(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))
	n, err := f.engine.SweepMissed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ids := func(filter string) []string {
		t.Helper()
		list, err := f.engine.ListForUser(ctx, "u1", filter)
		require.NoError(t, err)
		out := make([]string, len(list))
		for i, x := range list {
			out[i] = x.ID
		}
		return out
	}
	assert.Equal(t, []string{c.ID, b.ID, a.ID}, ids("all"))
	assert.Equal(t, []string{c.ID, b.ID, a.ID}, ids(""))
	assert.Equal(t, []string{b.ID}, ids("upcoming"))
	assert.Equal(t, []string{a.ID}, ids("past"))
	assert.Equal(t, []string{c.ID}, ids("cancelled"))
	assert.Equal(t, []string{a.ID}, ids("missed"))

	_, err = f.engine.ListForUser(ctx, "u1", "soon")
	require.ErrorIs(t, err, ErrInvalidFilter)
}

func TestSweepMissedRespectsGrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.bookSlot(t, "u1", "2026-03-02", "10:00")
	pending := f.bookSlot(t, "u1", "2026-03-02", "11:00")
	_, err := f.engine.Transition(ctx, a.ID, model.ActionApprove, admin)
	require.NoError(t, err)

	f.clock.Set(time.Date(2026, 3, 2, 11, 10, 0, 0, time.UTC))
	n, err := f.engine.SweepMissed(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Set(time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC))
	n, err = f.engine.SweepMissed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.ledger.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusMissed, got.Status)
	untouched, err := f.ledger.Get(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, untouched.Status)
	assert.Contains(t, f.notes.kinds(), model.KindMissed)
}

func TestIdempotentBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := BookSlotRequest{UserID: "u1", ProviderID: providerID, Date: "2026-03-02", SlotTime: "15:00", IdempotencyKey: "k-1"}

	first, err := f.engine.BookSlot(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := f.engine.BookSlot(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Appointment.ID, second.Appointment.ID)
	assert.Len(t, f.ledger.Events(), 1)
	assert.Len(t, f.notes.kinds(), 1)
}

func TestBlocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := Actor{ID: "p1", Role: RoleProvider, ProviderID: providerID}
	start := time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC)

	_, err := f.engine.CreateBlock(ctx, Actor{ID: "u1", Role: RoleUser}, providerID, start, start.Add(time.Hour), "lunch")
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.engine.CreateBlock(ctx, owner, providerID, start, start, "")
	require.ErrorIs(t, err, ErrInvalidTime)

	b, err := f.engine.CreateBlock(ctx, owner, providerID, start, start.Add(time.Hour), "lunch")
	require.NoError(t, err)

	slots, err := f.engine.ListSlots(ctx, providerID, "2026-03-02")
	require.NoError(t, err)
	assert.False(t, slotAt(t, slots, "13:00 - 14:00").IsAvailable)
	assert.True(t, slotAt(t, slots, "14:00 - 15:00").IsAvailable)

	_, err = f.engine.BookSlot(ctx, BookSlotRequest{UserID: "u1", ProviderID: providerID, Date: "2026-03-02", SlotTime: "13:00"})
	require.ErrorIs(t, err, ErrSlotUnavailable)

	listed, err := f.engine.ListBlocks(ctx, providerID, start.Add(-time.Hour), start.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, b.ID, listed[0].ID)

	require.NoError(t, f.engine.DeleteBlock(ctx, owner, providerID, b.ID))
	require.ErrorIs(t, f.engine.DeleteBlock(ctx, owner, providerID, b.ID), ErrNotFound)
	f.bookSlot(t, "u1", "2026-03-02", "13:00")
}

func TestSlotCacheIsInvalidatedOnWrite(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := newFixture(t, WithCache(cache.NewRedisSlots(rdb, time.Minute, logger, nil)))
	ctx := context.Background()

	slots, err := f.engine.ListSlots(ctx, providerID, "2026-03-02")
	require.NoError(t, err)
	assert.False(t, slotAt(t, slots, "10:00 - 11:00").IsBooked)
	assert.True(t, mr.Exists("slots:"+providerID+":2026-03-02"))

	f.bookSlot(t, "u1", "2026-03-02", "10:00")
	assert.False(t, mr.Exists("slots:"+providerID+":2026-03-02"))

	slots, err = f.engine.ListSlots(ctx, providerID, "2026-03-02")
	require.NoError(t, err)
	assert.True(t, slotAt(t, slots, "10:00 - 11:00").IsBooked)
}

// racingCache runs beforeSet once, between a listing's ledger read and its cache write.
type racingCache struct {
	*cache.RedisSlots
	beforeSet func()
}

func (c *racingCache) Set(ctx context.Context, providerID, date string, version int64, slots []model.Slot) {
	if c.beforeSet != nil {
		run := c.beforeSet
		c.beforeSet = nil
		run()
	}
	c.RedisSlots.Set(ctx, providerID, date, version, slots)
}

func TestSlotCacheDropsListingComputedBeforeBooking(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	rc := &racingCache{RedisSlots: cache.NewRedisSlots(rdb, time.Minute, logger, nil)}
	f := newFixture(t, WithCache(rc))
	ctx := context.Background()
	rc.beforeSet = func() { f.bookSlot(t, "u1", "2026-03-02", "10:00") }

	stale, err := f.engine.ListSlots(ctx, providerID, "2026-03-02")
	require.NoError(t, err)
	assert.False(t, slotAt(t, stale, "10:00 - 11:00").IsBooked)
	assert.False(t, mr.Exists("slots:"+providerID+":2026-03-02"))

	slots, err := f.engine.ListSlots(ctx, providerID, "2026-03-02")
	require.NoError(t, err)
	assert.True(t, slotAt(t, slots, "10:00 - 11:00").IsBooked)
	assert.True(t, mr.Exists("slots:"+providerID+":2026-03-02"))
}

func TestUpsertProviderValidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.engine.UpsertProvider(ctx, model.Provider{ID: "p9", Timezone: "Mars/Olympus"})
	require.ErrorIs(t, err, ErrInvalidRequest)
	err = f.engine.UpsertProvider(ctx, model.Provider{ID: "p9", Weekly: []model.WeeklyWindow{{Weekday: time.Monday, StartMinute: 600, EndMinute: 500}}})
	require.ErrorIs(t, err, ErrInvalidRequest)

	require.NoError(t, f.engine.UpsertProvider(ctx, model.Provider{ID: "p9", Name: "Dr. Karim", Category: "physio", Timezone: "UTC"}))
	got, err := f.engine.GetProvider(ctx, "p9")
	require.NoError(t, err)
	assert.Equal(t, "Dr. Karim", got.Name)

	physio, err := f.engine.ListProviders(ctx, "physio")
	require.NoError(t, err)
	require.Len(t, physio, 1)
}
