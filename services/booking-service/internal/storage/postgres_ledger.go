package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptbook/libs/db"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/outbox"
)

const appointmentColumns = `id::text, user_id, provider_id, local_date::text, start_at, end_at, status,
	cancelled_at, COALESCE(cancel_reason, ''), reschedule_count, created_at, updated_at`

type PostgresLedger struct {
	conn   db.Conn
	outbox *outbox.Repository
}

func NewPostgresLedger(conn db.Conn) *PostgresLedger {
	return &PostgresLedger{conn: conn, outbox: outbox.NewRepository()}
}

func (l *PostgresLedger) Atomic(ctx context.Context, keys []string, fn func(context.Context, Tx) error) error {
	tx, err := l.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, key := range lockOrder(keys) {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
			return fmt.Errorf("lock %s: %w", key, err)
		}
	}
	if err := fn(ctx, &pgTx{tx: tx, outbox: l.outbox}); err != nil {
		return err
	}
	return mapWriteErr(tx.Commit(ctx))
}

func (l *PostgresLedger) Get(ctx context.Context, id string) (model.Appointment, error) {
	a, err := scanAppointment(l.conn.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, fmt.Errorf("appointment %s: %w", id, ErrNotFound)
	}
	return a, err
}

func (l *PostgresLedger) ListByUser(ctx context.Context, userID string) ([]model.Appointment, error) {
	rows, err := l.conn.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE user_id = $1
		ORDER BY start_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (l *PostgresLedger) ListOverlapping(ctx context.Context, providerID string, start, end time.Time) ([]model.Appointment, error) {
	return listOverlapping(ctx, l.conn, providerID, start, end)
}

func (l *PostgresLedger) History(ctx context.Context, appointmentID string) ([]model.HistoryEntry, error) {
	rows, err := l.conn.Query(ctx, `
		SELECT appointment_id::text, action, COALESCE(from_status, ''), to_status,
			old_start, old_end, new_start, new_end, actor, at
		FROM appointment_history
		WHERE appointment_id = $1
		ORDER BY at, id
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.HistoryEntry{}
	for rows.Next() {
		var (
			h                model.HistoryEntry
			action, from, to string
			oldStart, oldEnd *time.Time
		)
		if err := rows.Scan(&h.AppointmentID, &action, &from, &to, &oldStart, &oldEnd,
			&h.NewStart, &h.NewEnd, &h.Actor, &h.At); err != nil {
			return nil, err
		}
		h.Action, h.FromStatus, h.ToStatus = model.Action(action), model.Status(from), model.Status(to)
		if oldStart != nil {
			h.OldStart = *oldStart
		}
		if oldEnd != nil {
			h.OldEnd = *oldEnd
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (l *PostgresLedger) ListEndedBefore(ctx context.Context, status model.Status, before time.Time, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.conn.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = $1 AND end_at < $2
		ORDER BY end_at
		LIMIT $3
	`, string(status), before, limit)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listOverlapping(ctx context.Context, q querier, providerID string, start, end time.Time) ([]model.Appointment, error) {
	rows, err := q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1 AND start_at < $3 AND end_at > $2
		ORDER BY start_at
	`, providerID, start, end)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

type pgTx struct {
	tx     pgx.Tx
	outbox *outbox.Repository
}

func (t *pgTx) GetForUpdate(ctx context.Context, id string) (model.Appointment, error) {
	a, err := scanAppointment(t.tx.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, fmt.Errorf("appointment %s: %w", id, ErrNotFound)
	}
	return a, err
}

func (t *pgTx) ListOverlapping(ctx context.Context, providerID string, start, end time.Time) ([]model.Appointment, error) {
	return listOverlapping(ctx, t.tx, providerID, start, end)
}

func (t *pgTx) Insert(ctx context.Context, a model.Appointment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointments
			(id, user_id, provider_id, local_date, start_at, end_at, status, reschedule_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, a.ID, a.UserID, a.ProviderID, a.Date, a.StartTime, a.EndTime, string(a.Status), a.RescheduleCount, a.CreatedAt, a.UpdatedAt)
	return mapWriteErr(err)
}

func (t *pgTx) Update(ctx context.Context, a model.Appointment) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET local_date = $2,
			start_at = $3,
			end_at = $4,
			status = $5,
			cancelled_at = $6,
			cancel_reason = NULLIF($7, ''),
			reschedule_count = $8,
			updated_at = $9
		WHERE id = $1
	`, a.ID, a.Date, a.StartTime, a.EndTime, string(a.Status), a.CancelledAt, a.CancelReason, a.RescheduleCount, a.UpdatedAt)
	if err != nil {
		return mapWriteErr(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("appointment %s: %w", a.ID, ErrNotFound)
	}
	return nil
}

func (t *pgTx) AppendHistory(ctx context.Context, h model.HistoryEntry) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointment_history
			(appointment_id, action, from_status, to_status, old_start, old_end, new_start, new_end, actor, at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10)
	`, h.AppointmentID, string(h.Action), string(h.FromStatus), string(h.ToStatus),
		nullTime(h.OldStart), nullTime(h.OldEnd), h.NewStart, h.NewEnd, h.Actor, h.At)
	return err
}

func (t *pgTx) Enqueue(ctx context.Context, evt outbox.Event) error {
	return t.outbox.Insert(ctx, t.tx, evt)
}

func (t *pgTx) IdempotentResult(ctx context.Context, userID, key string) (string, bool, error) {
	var id string
	err := t.tx.QueryRow(ctx, `
		SELECT appointment_id::text
		FROM booking_idempotency_keys
		WHERE user_id = $1 AND idempotency_key = $2
	`, userID, key).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (t *pgTx) RememberIdempotent(ctx context.Context, userID, key, appointmentID string) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (user_id, idempotency_key, appointment_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, idempotency_key) DO NOTHING
	`, userID, key, appointmentID)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row scanner) (model.Appointment, error) {
	var (
		a      model.Appointment
		status string
	)
	err := row.Scan(&a.ID, &a.UserID, &a.ProviderID, &a.Date, &a.StartTime, &a.EndTime, &status,
		&a.CancelledAt, &a.CancelReason, &a.RescheduleCount, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return model.Appointment{}, err
	}
	a.Status = model.Status(status)
	return a, nil
}

func collectAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	defer rows.Close()
	out := []model.Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func mapWriteErr(err error) error {
	if err == nil {
		return nil
	}
	if db.SQLState(err) == db.CodeExclusionViolation {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
