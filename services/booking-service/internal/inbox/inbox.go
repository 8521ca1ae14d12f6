// Package inbox records consumed event ids so redelivered Kafka messages are applied once.
package inbox

import (
	"context"
	"sync"

	"github.com/md-rashed-zaman/apptbook/libs/db"
)

type Deduper interface {
	// Record returns false when eventID was seen before.
	Record(ctx context.Context, eventID, eventType string) (bool, error)
	// Forget drops eventID so a failed handler can be retried on redelivery.
	Forget(ctx context.Context, eventID string) error
}

type Repository struct {
	conn db.Conn
}

func NewRepository(conn db.Conn) *Repository {
	return &Repository{conn: conn}
}

func (r *Repository) Record(ctx context.Context, eventID, eventType string) (bool, error) {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO inbox_events (event_id, event_type)
		VALUES ($1, $2)
	`, eventID, eventType)
	if err == nil {
		return true, nil
	}
	if db.SQLState(err) == db.CodeUniqueViolation {
		return false, nil
	}
	return false, err
}

func (r *Repository) Forget(ctx context.Context, eventID string) error {
	_, err := r.conn.Exec(ctx, `DELETE FROM inbox_events WHERE event_id = $1`, eventID)
	return err
}

type Memory struct {
	mu   sync.Mutex
	seen map[string]string
}

func NewMemory() *Memory {
	return &Memory{seen: map[string]string{}}
}

func (m *Memory) Record(_ context.Context, eventID, eventType string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[eventID]; ok {
		return false, nil
	}
	m.seen[eventID] = eventType
	return true, nil
}

func (m *Memory) Forget(_ context.Context, eventID string) error {
	m.mu.Lock()
	delete(m.seen, eventID)
	m.mu.Unlock()
	return nil
}
