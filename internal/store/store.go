// Package store persists device state that must survive a restart: the
// configured hardware pins and the last known virtual pin values. It owns
// its schema, versioned with PRAGMA user_version.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vwire-io/vwire-device/internal/gpio"
	"github.com/vwire-io/vwire-device/internal/infrastructure/database"
	"github.com/vwire-io/vwire-device/internal/pin"
)

// schemaVersion is the current PRAGMA user_version.
const schemaVersion = 1

var ErrNotFound = errors.New("store: not found")

// Store is the device's persistence layer.
type Store struct {
	db *database.DB
}

// New wraps an open database and applies any pending schema changes.
func New(ctx context.Context, db *database.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// migrate brings the schema up to schemaVersion. Versions are applied in
// order, each in its own transaction.
func (s *Store) migrate(ctx context.Context) error {
	var current int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for v := current + 1; v <= schemaVersion; v++ {
		ddl, ok := schemaSteps[v]
		if !ok {
			return fmt.Errorf("no schema step for version %d", v)
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning migration %d: %w", v, err)
		}
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", v, err)
		}
		// PRAGMA does not accept placeholders.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", v, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", v, err)
		}
	}
	return nil
}

var schemaSteps = map[int]string{
	1: `
		CREATE TABLE IF NOT EXISTS pin_config (
			name       TEXT PRIMARY KEY,
			mode       TEXT NOT NULL,
			interval   INTEGER NOT NULL,
			last_value INTEGER NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS virtual_pins (
			pin        INTEGER PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
	`,
}

// ============================================================================
// HARDWARE PIN CONFIGURATION
// ============================================================================

// SavePinConfig replaces the persisted pin table with the given snapshot.
func (s *Store) SavePinConfig(ctx context.Context, states []gpio.PinState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning pin config save: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM pin_config"); err != nil {
		return fmt.Errorf("clearing pin config: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for _, st := range states {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO pin_config (name, mode, interval, last_value, updated_at) VALUES (?, ?, ?, ?, ?)",
			st.Name, st.Mode.String(), st.Interval, st.LastValue, now,
		)
		if err != nil {
			return fmt.Errorf("saving pin %s: %w", st.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing pin config: %w", err)
	}
	return nil
}

// LoadPinConfig returns the persisted pin table. An empty database yields an
// empty slice, not an error.
func (s *Store) LoadPinConfig(ctx context.Context) ([]gpio.PinState, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, mode, interval, last_value FROM pin_config ORDER BY name",
	)
	if err != nil {
		return nil, fmt.Errorf("loading pin config: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only cursor

	var states []gpio.PinState
	for rows.Next() {
		var (
			st   gpio.PinState
			mode string
		)
		if err := rows.Scan(&st.Name, &mode, &st.Interval, &st.LastValue); err != nil {
			return nil, fmt.Errorf("scanning pin config: %w", err)
		}
		st.Mode = gpio.ParseMode(mode)
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pin config: %w", err)
	}
	return states, nil
}

// ============================================================================
// VIRTUAL PIN VALUES
// ============================================================================

// SaveVirtualPin upserts the last known value of a virtual pin.
func (s *Store) SaveVirtualPin(ctx context.Context, pinNum int, value pin.Value) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO virtual_pins (pin, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(pin) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		pinNum, string(value), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving virtual pin %d: %w", pinNum, err)
	}
	return nil
}

// VirtualPin returns the last known value of a virtual pin.
func (s *Store) VirtualPin(ctx context.Context, pinNum int) (pin.Value, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM virtual_pins WHERE pin = ?", pinNum,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("loading virtual pin %d: %w", pinNum, err)
	}
	return pin.Value(value), nil
}

// VirtualPins returns every persisted virtual pin value.
func (s *Store) VirtualPins(ctx context.Context) (map[int]pin.Value, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT pin, value FROM virtual_pins")
	if err != nil {
		return nil, fmt.Errorf("loading virtual pins: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only cursor

	values := make(map[int]pin.Value)
	for rows.Next() {
		var (
			pinNum int
			value  string
		)
		if err := rows.Scan(&pinNum, &value); err != nil {
			return nil, fmt.Errorf("scanning virtual pin: %w", err)
		}
		values[pinNum] = pin.Value(value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating virtual pins: %w", err)
	}
	return values, nil
}
