package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/OstapBender-commits/ema-signal-bot/internal/models"
)

// DatabasePool is the subset of pgxpool.Pool the repositories need. pgxmock
// pools satisfy it too.
type DatabasePool interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

const signalsSchema = `
	CREATE TABLE IF NOT EXISTS signals (
		id            UUID PRIMARY KEY,
		symbol        TEXT NOT NULL,
		side          TEXT NOT NULL,
		kind          TEXT NOT NULL,
		score         DOUBLE PRECISION NOT NULL,
		mode          TEXT NOT NULL,
		price         NUMERIC NOT NULL,
		stop_loss     NUMERIC NOT NULL,
		take_profit_1 NUMERIC NOT NULL,
		take_profit_2 NUMERIC NOT NULL,
		threshold     DOUBLE PRECISION,
		rsi           DOUBLE PRECISION,
		created_at    TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_signals_symbol_created ON signals (symbol, created_at DESC);
`

// SignalRepository records emitted signals in Postgres.
type SignalRepository struct {
	pool DatabasePool
}

func NewSignalRepository(pool DatabasePool) *SignalRepository {
	return &SignalRepository{pool: pool}
}

// EnsureSchema creates the signals table if needed.
func (r *SignalRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, signalsSchema); err != nil {
		return fmt.Errorf("failed to create signals schema: %w", err)
	}
	return nil
}

// Record stores sig. Re-recording the same ID is a no-op.
func (r *SignalRepository) Record(ctx context.Context, sig *models.Signal) error {
	query := `
		INSERT INTO signals (id, symbol, side, kind, score, mode, price, stop_loss,
			take_profit_1, take_profit_2, threshold, rsi, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query,
		sig.ID, sig.Symbol, string(sig.Side), string(sig.Kind), sig.Score, string(sig.Mode),
		sig.Price, sig.StopLoss, sig.TakeProfit1, sig.TakeProfit2,
		sig.Threshold, sig.RSI, sig.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record signal %s: %w", sig.ID, err)
	}
	return nil
}

// CountSince returns how many signals were recorded at or after since.
func (r *SignalRepository) CountSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM signals WHERE created_at >= $1`, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count signals: %w", err)
	}
	return n, nil
}

// DeleteBefore removes signals created before cutoff and returns how many
// rows went.
func (r *SignalRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM signals WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old signals: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Recent returns up to limit signals, newest first. An empty symbol means all.
func (r *SignalRepository) Recent(ctx context.Context, symbol string, limit int) ([]models.Signal, error) {
	query := `
		SELECT id, symbol, side, kind, score, mode, price, stop_loss,
			take_profit_1, take_profit_2, threshold, rsi, created_at
		FROM signals
		WHERE ($1 = '' OR symbol = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	var out []models.Signal
	for rows.Next() {
		var (
			s                models.Signal
			side, kind, mode string
		)
		if err := rows.Scan(&s.ID, &s.Symbol, &side, &kind, &s.Score, &mode,
			&s.Price, &s.StopLoss, &s.TakeProfit1, &s.TakeProfit2,
			&s.Threshold, &s.RSI, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		s.Side = models.Side(side)
		s.Kind = models.SignalKind(kind)
		s.Mode = models.Mode(mode)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate signals: %w", err)
	}
	return out, nil
}
