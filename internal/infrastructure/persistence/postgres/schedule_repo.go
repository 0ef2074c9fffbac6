package postgres

import (
	"context"

	"github.com/cf-progress-hub/cf-progress-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULE STORE IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// scheduleKey is the settings row holding the sync cron expression.
const scheduleKey = "sync_schedule"

// ScheduleRepository implements student.ScheduleStore on a key/value
// settings table. The schedule survives restarts: on boot the controller
// loads the last persisted expression instead of falling back to the default.
type ScheduleRepository struct {
	conn *Connection
}

// NewScheduleRepository creates a new ScheduleRepository.
func NewScheduleRepository(conn *Connection) *ScheduleRepository {
	return &ScheduleRepository{conn: conn}
}

// Load returns the persisted cron expression, or "" when none was ever
// persisted.
func (r *ScheduleRepository) Load(ctx context.Context) (string, error) {
	var expression string
	err := r.conn.QueryRow(ctx,
		`SELECT value FROM settings WHERE key = $1`,
		scheduleKey,
	).Scan(&expression)

	if IsNoRows(err) {
		return "", nil
	}
	if err != nil {
		return "", shared.WrapError("schedule", "Load", shared.ErrPersistence, "load schedule", err)
	}

	return expression, nil
}

// Persist stores the cron expression, replacing any previous value.
func (r *ScheduleRepository) Persist(ctx context.Context, expression string) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at
	`, scheduleKey, expression)
	if err != nil {
		return shared.WrapError("schedule", "Persist", shared.ErrPersistence, "persist schedule", err)
	}

	return nil
}
