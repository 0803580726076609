package postgres

import (
	"context"
	"fmt"
)

// BrakeStore reads the single emergency-brake row. The engine never writes
// it; Set exists for the ops CLI.
type BrakeStore struct {
	db *DB
}

func NewBrakeStore(db *DB) *BrakeStore {
	return &BrakeStore{db: db}
}

func (s *BrakeStore) Get(ctx context.Context) (bool, error) {
	var stopped bool
	err := s.db.Pool.QueryRow(ctx, `
		SELECT stop_processing FROM emergency_brake WHERE id = 0
	`).Scan(&stopped)
	if err != nil {
		return false, fmt.Errorf("read emergency brake: %w", err)
	}
	return stopped, nil
}

func (s *BrakeStore) Set(ctx context.Context, stopped bool) error {
	_, err := s.db.Pool.Exec(ctx, `
		UPDATE emergency_brake SET stop_processing = $1 WHERE id = 0
	`, stopped)
	if err != nil {
		return fmt.Errorf("set emergency brake: %w", err)
	}
	return nil
}
