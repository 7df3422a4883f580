package store

import (
	"database/sql"
	"time"
)

// SetCheckpoint stores a sync cursor value.
func (o ops) SetCheckpoint(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := o.q.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// Checkpoint returns a sync cursor value, or "" when never set.
func (o ops) Checkpoint(key string) (string, error) {
	var value string
	err := o.q.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}
