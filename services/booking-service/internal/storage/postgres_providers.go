package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptbook/libs/db"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

type PostgresProviders struct {
	conn db.Conn
}

func NewPostgresProviders(conn db.Conn) *PostgresProviders {
	return &PostgresProviders{conn: conn}
}

const providerColumns = `id, name, specialty, category, hourly_price, timezone, weekly, updated_at`

func (r *PostgresProviders) Get(ctx context.Context, id string) (model.Provider, error) {
	p, err := scanProvider(r.conn.QueryRow(ctx, `SELECT `+providerColumns+` FROM providers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Provider{}, fmt.Errorf("provider %s: %w", id, ErrNotFound)
	}
	return p, err
}

func (r *PostgresProviders) List(ctx context.Context, category string) ([]model.Provider, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT `+providerColumns+`
		FROM providers
		WHERE $1 = '' OR lower(category) = lower($1)
		ORDER BY name
	`, category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Provider{}
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PostgresProviders) Upsert(ctx context.Context, p model.Provider) error {
	weekly, err := json.Marshal(p.Weekly)
	if err != nil {
		return err
	}
	_, err = r.conn.Exec(ctx, `
		INSERT INTO providers (id, name, specialty, category, hourly_price, timezone, weekly, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
			specialty = EXCLUDED.specialty,
			category = EXCLUDED.category,
			hourly_price = EXCLUDED.hourly_price,
			timezone = EXCLUDED.timezone,
			weekly = EXCLUDED.weekly,
			updated_at = EXCLUDED.updated_at
		WHERE providers.updated_at <= EXCLUDED.updated_at
	`, p.ID, p.Name, p.Specialty, p.Category, p.HourlyPrice, p.Timezone, weekly, p.UpdatedAt)
	return err
}

func (r *PostgresProviders) ListBlocks(ctx context.Context, providerID string, from, to time.Time) ([]model.Block, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT id::text, provider_id, start_at, end_at, COALESCE(reason, ''), created_at
		FROM provider_blocks
		WHERE provider_id = $1 AND start_at < $3 AND end_at > $2
		ORDER BY start_at
	`, providerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Block{}
	for rows.Next() {
		var b model.Block
		if err := rows.Scan(&b.ID, &b.ProviderID, &b.Start, &b.End, &b.Reason, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *PostgresProviders) CreateBlock(ctx context.Context, b model.Block) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO provider_blocks (id, provider_id, start_at, end_at, reason, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
	`, b.ID, b.ProviderID, b.Start, b.End, b.Reason, b.CreatedAt)
	if db.SQLState(err) == "23503" {
		return fmt.Errorf("provider %s: %w", b.ProviderID, ErrNotFound)
	}
	return err
}

func (r *PostgresProviders) DeleteBlock(ctx context.Context, providerID, blockID string) (model.Block, error) {
	var b model.Block
	err := r.conn.QueryRow(ctx, `
		DELETE FROM provider_blocks
		WHERE id = $1 AND provider_id = $2
		RETURNING id::text, provider_id, start_at, end_at, COALESCE(reason, ''), created_at
	`, blockID, providerID).Scan(&b.ID, &b.ProviderID, &b.Start, &b.End, &b.Reason, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Block{}, fmt.Errorf("block %s: %w", blockID, ErrNotFound)
	}
	return b, err
}

func scanProvider(row scanner) (model.Provider, error) {
	var (
		p      model.Provider
		weekly []byte
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Specialty, &p.Category, &p.HourlyPrice, &p.Timezone, &weekly, &p.UpdatedAt); err != nil {
		return model.Provider{}, err
	}
	if len(weekly) > 0 {
		if err := json.Unmarshal(weekly, &p.Weekly); err != nil {
			return model.Provider{}, fmt.Errorf("provider %s weekly template: %w", p.ID, err)
		}
	}
	return p, nil
}
