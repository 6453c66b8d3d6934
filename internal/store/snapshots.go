package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/referlut/referlut-api/internal/domain"
)

// UpsertStatsSnapshot persists the latest aggregate view for a user.
// Snapshots are a cache; the transaction store remains the source of truth.
func (s *Store) UpsertStatsSnapshot(ctx context.Context, snap domain.StatsSnapshot) error {
	payload, err := json.Marshal(snap.Stats)
	if err != nil {
		return fmt.Errorf("marshal stats snapshot for %s: %w", snap.UserID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO stats_snapshots (user_id, payload, last_updated)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			payload      = excluded.payload,
			last_updated = excluded.last_updated`,
		snap.UserID, string(payload), fmtTime(snap.LastUpdated))
	if err != nil {
		return fmt.Errorf("upsert stats snapshot for %s: %w", snap.UserID, err)
	}
	return nil
}

// GetStatsSnapshot returns the stored snapshot for a user, or ErrNotFound.
func (s *Store) GetStatsSnapshot(ctx context.Context, userID string) (domain.StatsSnapshot, error) {
	var payload, lastUpdated string
	err := s.db.QueryRowContext(ctx,
		"SELECT payload, last_updated FROM stats_snapshots WHERE user_id = ?", userID,
	).Scan(&payload, &lastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StatsSnapshot{}, ErrNotFound
	}
	if err != nil {
		return domain.StatsSnapshot{}, fmt.Errorf("get stats snapshot for %s: %w", userID, err)
	}

	snap := domain.StatsSnapshot{UserID: userID, LastUpdated: parseTime(lastUpdated)}
	if err := json.Unmarshal([]byte(payload), &snap.Stats); err != nil {
		return domain.StatsSnapshot{}, fmt.Errorf("unmarshal stats snapshot for %s: %w", userID, err)
	}
	return snap, nil
}

// ListSnapshotUserIDs returns all user ids that have a stored snapshot.
func (s *Store) ListSnapshotUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT user_id FROM stats_snapshots")
	if err != nil {
		return nil, fmt.Errorf("list snapshot users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan snapshot user: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}
