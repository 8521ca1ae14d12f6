package storage

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/outbox"
)

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(keys []string) func() {
	held := make([]string, 0, len(keys))
	for _, key := range keys {
		k.mu.Lock()
		m, ok := k.locks[key]
		if !ok {
			m = &refMutex{}
			k.locks[key] = m
		}
		m.refs++
		k.mu.Unlock()

		m.Lock()
		held = append(held, key)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			k.mu.Lock()
			m := k.locks[held[i]]
			m.refs--
			if m.refs == 0 {
				delete(k.locks, held[i])
			}
			k.mu.Unlock()
			m.Unlock()
		}
	}
}

// MemoryLedger keeps appointments in process memory. Writes are staged per
// transaction and applied at commit, after the same occupancy check the
// Postgres exclusion constraint performs.
type MemoryLedger struct {
	locks keyedMutex

	mu      sync.RWMutex
	appts   map[string]model.Appointment
	history map[string][]model.HistoryEntry
	idem    map[string]string
	events  []outbox.Event
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		locks:   keyedMutex{locks: map[string]*refMutex{}},
		appts:   map[string]model.Appointment{},
		history: map[string][]model.HistoryEntry{},
		idem:    map[string]string{},
	}
}

func (l *MemoryLedger) Atomic(ctx context.Context, keys []string, fn func(context.Context, Tx) error) error {
	unlock := l.locks.lock(lockOrder(keys))
	defer unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{l: l, staged: map[string]model.Appointment{}, idem: map[string]string{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return l.commit(tx)
}

func (l *MemoryLedger) commit(tx *memTx) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for id, a := range tx.staged {
		if !a.Status.Occupies() {
			continue
		}
		for otherID, other := range l.appts {
			if _, restaged := tx.staged[otherID]; restaged || otherID == id {
				continue
			}
			if other.ProviderID == a.ProviderID && other.Status.Occupies() && other.Overlaps(a.StartTime, a.EndTime) {
				return fmt.Errorf("%w: %s overlaps %s", ErrConflict, id, otherID)
			}
		}
		for otherID, other := range tx.staged {
			if otherID != id && other.ProviderID == a.ProviderID && other.Status.Occupies() && other.Overlaps(a.StartTime, a.EndTime) {
				return fmt.Errorf("%w: %s overlaps %s", ErrConflict, id, otherID)
			}
		}
	}

	for id, a := range tx.staged {
		l.appts[id] = a
	}
	for _, h := range tx.history {
		l.history[h.AppointmentID] = append(l.history[h.AppointmentID], h)
	}
	for k, v := range tx.idem {
		l.idem[k] = v
	}
	l.events = append(l.events, tx.events...)
	return nil
}

func (l *MemoryLedger) Get(_ context.Context, id string) (model.Appointment, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.appts[id]
	if !ok {
		return model.Appointment{}, fmt.Errorf("appointment %s: %w", id, ErrNotFound)
	}
	return a, nil
}

func (l *MemoryLedger) ListByUser(_ context.Context, userID string) ([]model.Appointment, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := []model.Appointment{}
	for _, a := range l.appts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b model.Appointment) int { return b.StartTime.Compare(a.StartTime) })
	return out, nil
}

func (l *MemoryLedger) ListOverlapping(_ context.Context, providerID string, start, end time.Time) ([]model.Appointment, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return overlapping(l.appts, nil, providerID, start, end), nil
}

func (l *MemoryLedger) History(_ context.Context, appointmentID string) ([]model.HistoryEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.history[appointmentID]), nil
}

func (l *MemoryLedger) ListEndedBefore(_ context.Context, status model.Status, before time.Time, limit int) ([]model.Appointment, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []model.Appointment
	for _, a := range l.appts {
		if a.Status == status && a.EndTime.Before(before) {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b model.Appointment) int { return a.EndTime.Compare(b.EndTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Events returns every outbox event committed so far.
func (l *MemoryLedger) Events() []outbox.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.events)
}

func overlapping(committed, staged map[string]model.Appointment, providerID string, start, end time.Time) []model.Appointment {
	var out []model.Appointment
	for id, a := range committed {
		if _, ok := staged[id]; ok {
			continue
		}
		if a.ProviderID == providerID && a.Overlaps(start, end) {
			out = append(out, a)
		}
	}
	for _, a := range staged {
		if a.ProviderID == providerID && a.Overlaps(start, end) {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b model.Appointment) int { return a.StartTime.Compare(b.StartTime) })
	return out
}

type memTx struct {
	l       *MemoryLedger
	staged  map[string]model.Appointment
	history []model.HistoryEntry
	idem    map[string]string
	events  []outbox.Event
}

func (t *memTx) GetForUpdate(ctx context.Context, id string) (model.Appointment, error) {
	if a, ok := t.staged[id]; ok {
		return a, nil
	}
	return t.l.Get(ctx, id)
}

func (t *memTx) ListOverlapping(_ context.Context, providerID string, start, end time.Time) ([]model.Appointment, error) {
	t.l.mu.RLock()
	defer t.l.mu.RUnlock()
	return overlapping(t.l.appts, t.staged, providerID, start, end), nil
}

func (t *memTx) Insert(_ context.Context, a model.Appointment) error {
	t.l.mu.RLock()
	_, exists := t.l.appts[a.ID]
	t.l.mu.RUnlock()
	if _, staged := t.staged[a.ID]; exists || staged {
		return fmt.Errorf("appointment %s already exists", a.ID)
	}
	t.staged[a.ID] = a
	return nil
}

func (t *memTx) Update(ctx context.Context, a model.Appointment) error {
	if _, err := t.GetForUpdate(ctx, a.ID); err != nil {
		return err
	}
	t.staged[a.ID] = a
	return nil
}

func (t *memTx) AppendHistory(_ context.Context, h model.HistoryEntry) error {
	t.history = append(t.history, h)
	return nil
}

func (t *memTx) Enqueue(_ context.Context, evt outbox.Event) error {
	t.events = append(t.events, evt)
	return nil
}

func (t *memTx) IdempotentResult(_ context.Context, userID, key string) (string, bool, error) {
	k := IdempotencyKey(userID, key)
	if id, ok := t.idem[k]; ok {
		return id, true, nil
	}
	t.l.mu.RLock()
	defer t.l.mu.RUnlock()
	id, ok := t.l.idem[k]
	return id, ok, nil
}

func (t *memTx) RememberIdempotent(_ context.Context, userID, key, appointmentID string) error {
	t.idem[IdempotencyKey(userID, key)] = appointmentID
	return nil
}

// MemoryProviders is the dev/test provider directory.
type MemoryProviders struct {
	mu        sync.RWMutex
	providers map[string]model.Provider
	blocks    map[string]model.Block
}

func NewMemoryProviders(seed ...model.Provider) *MemoryProviders {
	m := &MemoryProviders{providers: map[string]model.Provider{}, blocks: map[string]model.Block{}}
	for _, p := range seed {
		m.providers[p.ID] = p
	}
	return m
}

func (m *MemoryProviders) Get(_ context.Context, id string) (model.Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[id]
	if !ok {
		return model.Provider{}, fmt.Errorf("provider %s: %w", id, ErrNotFound)
	}
	return p, nil
}

func (m *MemoryProviders) List(_ context.Context, category string) ([]model.Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []model.Provider{}
	for _, p := range m.providers {
		if category == "" || strings.EqualFold(p.Category, category) {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b model.Provider) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (m *MemoryProviders) Upsert(_ context.Context, p model.Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.providers[p.ID]; ok && p.UpdatedAt.Before(cur.UpdatedAt) {
		return nil
	}
	m.providers[p.ID] = p
	return nil
}

func (m *MemoryProviders) ListBlocks(_ context.Context, providerID string, from, to time.Time) ([]model.Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []model.Block{}
	for _, b := range m.blocks {
		if b.ProviderID == providerID && b.Overlaps(from, to) {
			out = append(out, b)
		}
	}
	slices.SortFunc(out, func(a, b model.Block) int { return a.Start.Compare(b.Start) })
	return out, nil
}

func (m *MemoryProviders) CreateBlock(_ context.Context, b model.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.providers[b.ProviderID]; !ok {
		return fmt.Errorf("provider %s: %w", b.ProviderID, ErrNotFound)
	}
	m.blocks[b.ID] = b
	return nil
}

func (m *MemoryProviders) DeleteBlock(_ context.Context, providerID, blockID string) (model.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blocks[blockID]
	if !ok || b.ProviderID != providerID {
		return model.Block{}, fmt.Errorf("block %s: %w", blockID, ErrNotFound)
	}
	delete(m.blocks, blockID)
	return b, nil
}

type MemoryNotifications struct {
	mu    sync.Mutex
	items []model.Notification
}

func NewMemoryNotifications() *MemoryNotifications {
	return &MemoryNotifications{}
}

func (m *MemoryNotifications) Insert(_ context.Context, n model.Notification) error {
	m.mu.Lock()
	m.items = append(m.items, n)
	m.mu.Unlock()
	return nil
}

func (m *MemoryNotifications) ListByUser(_ context.Context, userID string, limit int) ([]model.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Notification{}
	for i := len(m.items) - 1; i >= 0; i-- {
		if m.items[i].UserID != userID {
			continue
		}
		out = append(out, m.items[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryNotifications) MarkRead(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.items {
		if m.items[i].ID == id && m.items[i].UserID == userID {
			m.items[i].Read = true
			return nil
		}
	}
	return fmt.Errorf("notification %s: %w", id, ErrNotFound)
}

func (m *MemoryNotifications) MarkAllRead(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for i := range m.items {
		if m.items[i].UserID == userID && !m.items[i].Read {
			m.items[i].Read = true
			n++
		}
	}
	return n, nil
}

func (m *MemoryNotifications) Delete(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.items {
		if m.items[i].ID == id && m.items[i].UserID == userID {
			m.items = slices.Delete(m.items, i, i+1)
			return nil
		}
	}
	return fmt.Errorf("notification %s: %w", id, ErrNotFound)
}

func (m *MemoryNotifications) DeleteAll(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	before := len(m.items)
	m.items = slices.DeleteFunc(m.items, func(n model.Notification) bool { return n.UserID == userID })
	return int64(before - len(m.items)), nil
}
