package storage

import (
	"context"
	"encoding/json"
	"time"
)

// ViolationEvent is the persisted audit record for a threshold crossing.
// Immutable once written: the response outcome is captured before the event
// reaches the store.
type ViolationEvent struct {
	ID               string
	GuildID          string
	ActorID          string
	ActionType       string
	ObservedCount    int
	Threshold        int
	ResponseType     string
	ResponseExecuted bool
	ResponseError    string
	Metadata         map[string]string
	CreatedAt        time.Time
}

// SaveViolationEvent inserts the event and returns its id.
func (s *Store) SaveViolationEvent(ctx context.Context, event *ViolationEvent) (string, error) {
	metadata := "{}"
	if len(event.Metadata) > 0 {
		encoded, err := json.Marshal(event.Metadata)
		if err != nil {
			return "", err
		}
		metadata = string(encoded)
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO violation_events (
			id, guild_id, actor_id, action_type, observed_count, threshold,
			response_type, response_executed, response_error, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		event.ID,
		event.GuildID,
		event.ActorID,
		event.ActionType,
		event.ObservedCount,
		event.Threshold,
		event.ResponseType,
		boolToInt(event.ResponseExecuted),
		event.ResponseError,
		metadata,
		event.CreatedAt.Unix(),
	)
	if err != nil {
		return "", err
	}
	return event.ID, nil
}

// ListViolationEvents returns events for a guild since the given time,
// newest first.
func (s *Store) ListViolationEvents(ctx context.Context, guildID string, since time.Time) ([]ViolationEvent, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, guild_id, actor_id, action_type, observed_count, threshold,
		response_type, response_executed, response_error, metadata, created_at
		FROM violation_events
		WHERE guild_id = ? AND created_at >= ?
		ORDER BY created_at DESC
	`), guildID, since.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []ViolationEvent
	for rows.Next() {
		var event ViolationEvent
		var executed int
		var metadata string
		var created int64
		if err := rows.Scan(
			&event.ID,
			&event.GuildID,
			&event.ActorID,
			&event.ActionType,
			&event.ObservedCount,
			&event.Threshold,
			&event.ResponseType,
			&executed,
			&event.ResponseError,
			&metadata,
			&created,
		); err != nil {
			return nil, err
		}
		event.ResponseExecuted = executed == 1
		event.CreatedAt = time.Unix(created, 0)
		if metadata != "" && metadata != "{}" {
			if err := json.Unmarshal([]byte(metadata), &event.Metadata); err != nil {
				return nil, err
			}
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// CountViolationsByAction aggregates events per action type for reporting.
func (s *Store) CountViolationsByAction(ctx context.Context, guildID string, since time.Time) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT action_type, COUNT(*)
		FROM violation_events
		WHERE guild_id = ? AND created_at >= ?
		GROUP BY action_type
	`), guildID, since.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var action string
		var count int
		if err := rows.Scan(&action, &count); err != nil {
			return nil, err
		}
		counts[action] = count
	}
	return counts, rows.Err()
}

// CleanupViolationEvents drops events older than the retention period.
func (s *Store) CleanupViolationEvents(ctx context.Context, retentionDays int) error {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM violation_events WHERE created_at < ?`), cutoff.Unix())
	return err
}
