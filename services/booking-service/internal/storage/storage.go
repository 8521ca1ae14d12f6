// Package storage holds the booking ledger, provider reference data and user
// notifications, each with a Postgres and an in-memory implementation.
package storage

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/outbox"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means a write would leave two occupying appointments on one provider interval.
	ErrConflict = errors.New("occupancy conflict")
)

// Ledger is the durable store of appointments and the source of truth for occupancy.
type Ledger interface {
	// Atomic runs fn in one transaction after taking exclusive locks on keys.
	// Nothing fn writes is visible to others unless fn returns nil and the commit succeeds.
	Atomic(ctx context.Context, keys []string, fn func(ctx context.Context, tx Tx) error) error

	Get(ctx context.Context, id string) (model.Appointment, error)
	ListByUser(ctx context.Context, userID string) ([]model.Appointment, error)
	ListOverlapping(ctx context.Context, providerID string, start, end time.Time) ([]model.Appointment, error)
	History(ctx context.Context, appointmentID string) ([]model.HistoryEntry, error)
	ListEndedBefore(ctx context.Context, status model.Status, before time.Time, limit int) ([]model.Appointment, error)
}

type Tx interface {
	GetForUpdate(ctx context.Context, id string) (model.Appointment, error)
	ListOverlapping(ctx context.Context, providerID string, start, end time.Time) ([]model.Appointment, error)
	Insert(ctx context.Context, a model.Appointment) error
	Update(ctx context.Context, a model.Appointment) error
	AppendHistory(ctx context.Context, h model.HistoryEntry) error
	Enqueue(ctx context.Context, evt outbox.Event) error

	// IdempotentResult returns the appointment created earlier under (userID, key).
	IdempotentResult(ctx context.Context, userID, key string) (string, bool, error)
	RememberIdempotent(ctx context.Context, userID, key, appointmentID string) error
}

type Providers interface {
	Get(ctx context.Context, id string) (model.Provider, error)
	List(ctx context.Context, category string) ([]model.Provider, error)
	// Upsert ignores writes older than the stored UpdatedAt.
	Upsert(ctx context.Context, p model.Provider) error

	ListBlocks(ctx context.Context, providerID string, from, to time.Time) ([]model.Block, error)
	CreateBlock(ctx context.Context, b model.Block) error
	// DeleteBlock removes and returns the block.
	DeleteBlock(ctx context.Context, providerID, blockID string) (model.Block, error)
}

type Notifications interface {
	Insert(ctx context.Context, n model.Notification) error
	ListByUser(ctx context.Context, userID string, limit int) ([]model.Notification, error)
	MarkRead(ctx context.Context, userID, id string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	Delete(ctx context.Context, userID, id string) error
	DeleteAll(ctx context.Context, userID string) (int64, error)
}

// SlotKey serialises writes touching a provider's local day.
func SlotKey(providerID, date string) string { return "slot:" + providerID + ":" + date }

func AppointmentKey(id string) string { return "appt:" + id }

func IdempotencyKey(userID, key string) string { return "idem:" + userID + ":" + key }

// lockOrder sorts and de-duplicates keys so every writer acquires them in the same order.
func lockOrder(keys []string) []string {
	out := slices.Clone(keys)
	slices.Sort(out)
	return slices.Compact(out)
}
