package storage

import (
	"context"
	"fmt"

	"github.com/md-rashed-zaman/apptbook/libs/db"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

type PostgresNotifications struct {
	conn db.Conn
}

func NewPostgresNotifications(conn db.Conn) *PostgresNotifications {
	return &PostgresNotifications{conn: conn}
}

func (r *PostgresNotifications) Insert(ctx context.Context, n model.Notification) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO notifications (id, user_id, appointment_id, kind, message, read, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)
	`, n.ID, n.UserID, n.AppointmentID, string(n.Kind), n.Message, n.Read, n.CreatedAt)
	return err
}

func (r *PostgresNotifications) ListByUser(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.conn.Query(ctx, `
		SELECT id::text, user_id, COALESCE(appointment_id, ''), kind, message, read, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Notification{}
	for rows.Next() {
		var (
			n    model.Notification
			kind string
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.AppointmentID, &kind, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Kind = model.NotificationKind(kind)
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *PostgresNotifications) MarkRead(ctx context.Context, userID, id string) error {
	tag, err := r.conn.Exec(ctx, `UPDATE notifications SET read = true WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *PostgresNotifications) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	tag, err := r.conn.Exec(ctx, `UPDATE notifications SET read = true WHERE user_id = $1 AND NOT read`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresNotifications) Delete(ctx context.Context, userID, id string) error {
	tag, err := r.conn.Exec(ctx, `DELETE FROM notifications WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *PostgresNotifications) DeleteAll(ctx context.Context, userID string) (int64, error) {
	tag, err := r.conn.Exec(ctx, `DELETE FROM notifications WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
