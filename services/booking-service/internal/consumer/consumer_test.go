package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/apptbook/libs/kafkax"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/inbox"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/scheduling"
)

type fakeEngine struct {
	mu          sync.Mutex
	transitions []model.Action
	actors      []scheduling.Actor
	providers   []model.Provider
	err         error
}

func (f *fakeEngine) Transition(_ context.Context, _ string, action model.Action, actor scheduling.Actor) (model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, action)
	f.actors = append(f.actors, actor)
	return model.Appointment{}, f.err
}

func (f *fakeEngine) UpsertProvider(_ context.Context, p model.Provider) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.providers = append(f.providers, p)
	return f.err
}

type outcomes map[string]int

func (o outcomes) ObserveConsumed(_ string, outcome string) { o[outcome]++ }

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func message(topic, id, body string) kafka.Message {
	return kafka.Message{
		Topic:   topic,
		Value:   []byte(body),
		Headers: []kafka.Header{{Key: kafkax.HeaderEventID, Value: []byte(id)}},
	}
}

func newConsumer(engine Engine, dedupe inbox.Deduper, obs Observer) *Consumer {
	return New(nil, dedupe, Handlers(engine), obs, quiet(), Config{MaxAttempts: 2, Backoff: time.Millisecond})
}

func TestStatusEventAppliesTransitionOnce(t *testing.T) {
	engine := &fakeEngine{}
	obs := outcomes{}
	c := newConsumer(engine, inbox.NewMemory(), obs)
	msg := message(TopicAppointmentStatus, "evt-1", `{"appointment_id":"a1","status":"approved","actor_id":"prov-user"}`)

	assert.Equal(t, "ok", c.Process(context.Background(), msg))
	assert.Equal(t, "duplicate", c.Process(context.Background(), msg))

	require.Len(t, engine.transitions, 1)
	assert.Equal(t, model.ActionApprove, engine.transitions[0])
	assert.Equal(t, scheduling.RoleSystem, engine.actors[0].Role)
	assert.Equal(t, "prov-user", engine.actors[0].ID)
	assert.Equal(t, outcomes{"ok": 1, "duplicate": 1}, obs)
}

func TestMalformedAndRejectedEventsAreSkipped(t *testing.T) {
	engine := &fakeEngine{}
	c := newConsumer(engine, inbox.NewMemory(), nil)
	ctx := context.Background()

	assert.Equal(t, "skipped", c.Process(ctx, message(TopicAppointmentStatus, "evt-1", `not json`)))
	assert.Equal(t, "skipped", c.Process(ctx, message(TopicAppointmentStatus, "evt-2", `{"appointment_id":"a1","status":"teleport"}`)))

	engine.err = scheduling.ErrInvalidTransition
	assert.Equal(t, "skipped", c.Process(ctx, message(TopicAppointmentStatus, "evt-3", `{"appointment_id":"a1","status":"complete"}`)))
	assert.Len(t, engine.transitions, 1)
}

func TestFailedHandlerIsRetriedThenForgotten(t *testing.T) {
	engine := &fakeEngine{err: errors.New("db down")}
	dedupe := inbox.NewMemory()
	c := newConsumer(engine, dedupe, nil)
	msg := message(TopicAppointmentStatus, "evt-9", `{"appointment_id":"a1","status":"reject"}`)

	assert.Equal(t, "failed", c.Process(context.Background(), msg))
	assert.Len(t, engine.transitions, 2)

	// Forgotten, so a redelivery is applied.
	engine.err = nil
	assert.Equal(t, "ok", c.Process(context.Background(), msg))
}

func TestProfileEventUpsertsProvider(t *testing.T) {
	engine := &fakeEngine{}
	c := newConsumer(engine, inbox.NewMemory(), nil)
	body := `{"provider_id":"p1","name":"Dr. Nadia","category":"dentist","hourly_price":40,"timezone":"UTC",
		"availability":[{"weekday":1,"startMinute":540,"endMinute":1020}],"updated_at":"2026-03-01T10:00:00Z"}`

	assert.Equal(t, "ok", c.Process(context.Background(), message(TopicProfileUpserted, "evt-1", body)))
	require.Len(t, engine.providers, 1)
	p := engine.providers[0]
	assert.Equal(t, "p1", p.ID)
	assert.Equal(t, 40.0, p.HourlyPrice)
	assert.Equal(t, []model.WeeklyWindow{{Weekday: time.Monday, StartMinute: 540, EndMinute: 1020}}, p.Weekly)
}

func TestUnknownTopicIsIgnored(t *testing.T) {
	c := newConsumer(&fakeEngine{}, inbox.NewMemory(), nil)
	assert.Equal(t, "ignored", c.Process(context.Background(), message("other.topic", "evt-1", `{}`)))
	assert.ElementsMatch(t, []string{TopicAppointmentStatus, TopicProfileUpserted}, c.Topics())
}

type sliceReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []kafka.Message
	closed    bool
}

func (r *sliceReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *sliceReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *sliceReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *sliceReader) commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

func TestRunCommitsEveryMessage(t *testing.T) {
	reader := &sliceReader{msgs: []kafka.Message{
		message(TopicAppointmentStatus, "evt-1", `{"appointment_id":"a1","status":"approve"}`),
		message(TopicAppointmentStatus, "evt-2", `garbage`),
	}}
	engine := &fakeEngine{}
	c := New(reader, inbox.NewMemory(), Handlers(engine), nil, quiet(), Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return reader.commits() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.True(t, reader.closed)
}
