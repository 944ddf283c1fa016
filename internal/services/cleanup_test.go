package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OstapBender-commits/ema-signal-bot/internal/database"
)

type fakePruner struct {
	cutoffs []time.Time
	rows    int64
	err     error
}

func (f *fakePruner) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.rows, f.err
}

func TestCleanupService_RunCleanup(t *testing.T) {
	now := time.Date(2024, 5, 31, 12, 0, 0, 0, time.UTC)
	pruner := &fakePruner{rows: 7}
	svc := NewCleanupService(pruner, CleanupConfig{Retention: 30 * 24 * time.Hour}, quietLogrus())
	svc.now = func() time.Time { return now }

	n, err := svc.RunCleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	require.Len(t, pruner.cutoffs, 1)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), pruner.cutoffs[0])
	assert.Equal(t, time.Hour, svc.config.Interval)
}

func TestCleanupService_KeepsEverythingWithoutRetention(t *testing.T) {
	pruner := &fakePruner{}
	svc := NewCleanupService(pruner, CleanupConfig{}, quietLogrus())

	n, err := svc.RunCleanup(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, pruner.cutoffs)
}

func TestCleanupService_Error(t *testing.T) {
	svc := NewCleanupService(&fakePruner{err: errors.New("connection refused")}, CleanupConfig{Retention: time.Hour}, quietLogrus())

	_, err := svc.RunCleanup(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestCleanupService_WithRepository(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("DELETE FROM signals").WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	svc := NewCleanupService(database.NewSignalRepository(mock), CleanupConfig{Retention: time.Hour}, quietLogrus())
	n, err := svc.RunCleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
