package inbox

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepositoryRecordDuplicate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO inbox_events").
		WithArgs("evt-1", "provider.profile.upserted.v1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO inbox_events").
		WithArgs("evt-1", "provider.profile.upserted.v1").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	repo := NewRepository(mock)
	ok, err := repo.Record(context.Background(), "evt-1", "provider.profile.upserted.v1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Record(context.Background(), "evt-1", "provider.profile.upserted.v1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryDeduper(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	ok, _ := m.Record(ctx, "e", "t")
	assert.True(t, ok)
	ok, _ = m.Record(ctx, "e", "t")
	assert.False(t, ok)

	require.NoError(t, m.Forget(ctx, "e"))
	ok, _ = m.Record(ctx, "e", "t")
	assert.True(t, ok)
}
