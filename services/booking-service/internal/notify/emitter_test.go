package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/storage"
)

type brokenStore struct{ storage.Notifications }

func (brokenStore) Insert(context.Context, model.Notification) error { return errors.New("db down") }

type counter map[string]int

func (c counter) NotificationFailed(kind string) { c[kind]++ }

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestEmitPersists(t *testing.T) {
	store := storage.NewMemoryNotifications()
	now := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	e := NewEmitter(store, clock.NewFake(now), quiet(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e.Emit(ctx, "u1", "a1", model.KindBooked, "booked")

	list, err := store.ListByUser(context.Background(), "u1", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.KindBooked, list[0].Kind)
	assert.Equal(t, now, list[0].CreatedAt)
	assert.False(t, list[0].Read)
}

func TestEmitSwallowsFailures(t *testing.T) {
	c := counter{}
	e := NewEmitter(brokenStore{}, clock.System{}, quiet(), c)
	assert.NotPanics(t, func() {
		e.Emit(context.Background(), "u1", "a1", model.KindCancelled, "cancelled")
	})
	assert.Equal(t, 1, c[string(model.KindCancelled)])
}
