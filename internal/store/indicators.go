package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quantflow-ai/quantflow/internal/logging"
	"github.com/quantflow-ai/quantflow/internal/models"
)

// DBPool defines the interface for database operations
type DBPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// IndicatorStore persists per-symbol, per-indicator, per-slot snapshots in a
// time-indexed table. (symbol, indicator, ts) is unique; a later write with
// the same key replaces the earlier payload.
type IndicatorStore struct {
	db     DBPool
	logger logging.Logger
}

// NewIndicatorStore creates a new indicator store.
func NewIndicatorStore(db DBPool, logger logging.Logger) *IndicatorStore {
	return &IndicatorStore{
		db:     db,
		logger: logger.WithComponent("indicator_store"),
	}
}

// Migrate creates the snapshot table and its window-query index.
func (s *IndicatorStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS indicator_snapshots (
			symbol    TEXT        NOT NULL,
			indicator TEXT        NOT NULL,
			ts        TIMESTAMPTZ NOT NULL,
			payload   JSONB       NOT NULL,
			PRIMARY KEY (symbol, indicator, ts)
		)`)
	if err != nil {
		return fmt.Errorf("failed to create indicator_snapshots: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_indicator_snapshots_symbol_ts
		ON indicator_snapshots (symbol, ts DESC)`)
	if err != nil {
		return fmt.Errorf("failed to create indicator_snapshots index: %w", err)
	}
	return nil
}

// Upsert writes one snapshot, truncating its timestamp to the 5-minute grid.
// Last writer wins, which makes tick retries idempotent.
func (s *IndicatorStore) Upsert(ctx context.Context, snap models.IndicatorSnapshot) error {
	slot := models.GridSlot(snap.Timestamp)
	_, err := s.db.Exec(ctx, `
		INSERT INTO indicator_snapshots (symbol, indicator, ts, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (symbol, indicator, ts)
		DO UPDATE SET payload = EXCLUDED.payload`,
		snap.Symbol, string(snap.Kind), slot, snap.Payload)
	if err != nil {
		return fmt.Errorf("failed to upsert %s/%s@%s: %w", snap.Symbol, snap.Kind, slot.Format(time.RFC3339), err)
	}
	return nil
}

// Latest returns the most recent snapshot for one indicator, or nil when the
// series is empty.
func (s *IndicatorStore) Latest(ctx context.Context, symbol string, kind models.IndicatorKind) (*models.IndicatorSnapshot, error) {
	row := s.db.QueryRow(ctx, `
		SELECT symbol, indicator, ts, payload
		FROM indicator_snapshots
		WHERE symbol = $1 AND indicator = $2
		ORDER BY ts DESC
		LIMIT 1`, symbol, string(kind))

	var snap models.IndicatorSnapshot
	var indicator string
	if err := row.Scan(&snap.Symbol, &indicator, &snap.Timestamp, &snap.Payload); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query latest %s/%s: %w", symbol, kind, err)
	}
	snap.Kind = models.IndicatorKind(indicator)
	return &snap, nil
}

// History returns up to limit snapshots for one indicator, newest first.
func (s *IndicatorStore) History(ctx context.Context, symbol string, kind models.IndicatorKind, limit int) ([]models.IndicatorSnapshot, error) {
	rows, err := s.db.Query(ctx, `
		SELECT symbol, indicator, ts, payload
		FROM indicator_snapshots
		WHERE symbol = $1 AND indicator = $2
		ORDER BY ts DESC
		LIMIT $3`, symbol, string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history for %s/%s: %w", symbol, kind, err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// RecentCandleSlots returns the most recent limit distinct grid slots at or
// before atOrBefore for which a candle row exists, newest first. The candle
// series anchors the dataset window: slots without a candle cannot be aligned
// regardless of what else is present.
func (s *IndicatorStore) RecentCandleSlots(ctx context.Context, symbol string, limit int, atOrBefore time.Time) ([]time.Time, error) {
	rows, err := s.db.Query(ctx, `
		SELECT ts
		FROM indicator_snapshots
		WHERE symbol = $1 AND indicator = $2 AND ts <= $3
		ORDER BY ts DESC
		LIMIT $4`, symbol, string(models.IndicatorCandles), atOrBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query candle slots for %s: %w", symbol, err)
	}
	defer rows.Close()

	var slots []time.Time
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("failed to scan candle slot: %w", err)
		}
		slots = append(slots, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate candle slots: %w", err)
	}
	return slots, nil
}

// SnapshotsAt returns every indicator row for the symbol at the given slots.
func (s *IndicatorStore) SnapshotsAt(ctx context.Context, symbol string, slots []time.Time) ([]models.IndicatorSnapshot, error) {
	if len(slots) == 0 {
		return nil, nil
	}

	rows, err := s.db.Query(ctx, `
		SELECT symbol, indicator, ts, payload
		FROM indicator_snapshots
		WHERE symbol = $1 AND ts = ANY($2)
		ORDER BY ts ASC, indicator ASC`, symbol, slots)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots for %s: %w", symbol, err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

func scanSnapshots(rows pgx.Rows) ([]models.IndicatorSnapshot, error) {
	var snaps []models.IndicatorSnapshot
	for rows.Next() {
		var snap models.IndicatorSnapshot
		var indicator string
		if err := rows.Scan(&snap.Symbol, &indicator, &snap.Timestamp, &snap.Payload); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snap.Kind = models.IndicatorKind(indicator)
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshots: %w", err)
	}
	return snaps, nil
}
