package store

import (
	"database/sql"
	"fmt"
)

// UpsertProfile inserts or updates a profile. Empty fields never erase a
// known value.
func (o ops) UpsertProfile(p *Profile) error {
	_, err := o.q.Exec(`
		INSERT INTO profiles (user_id, username, avatar_ref, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			username = CASE WHEN excluded.username != '' THEN excluded.username ELSE profiles.username END,
			avatar_ref = CASE WHEN excluded.avatar_ref != '' THEN excluded.avatar_ref ELSE profiles.avatar_ref END,
			updated_at = excluded.updated_at
		WHERE excluded.updated_at >= profiles.updated_at`,
		p.UserID, p.Username, p.AvatarRef, p.UpdatedAt)
	return err
}

// BulkUpsertProfiles upserts many profiles in a single transaction.
func (db *DB) BulkUpsertProfiles(profiles []Profile) error {
	return db.InTx(func(tx *Tx) error {
		for i := range profiles {
			if err := tx.UpsertProfile(&profiles[i]); err != nil {
				return fmt.Errorf("upsert profile %q: %w", profiles[i].UserID, err)
			}
		}
		return nil
	})
}

// GetProfile returns a profile by user id, or nil if absent.
func (o ops) GetProfile(userID string) (*Profile, error) {
	var p Profile
	err := o.q.QueryRow(`SELECT user_id, username, avatar_ref, updated_at FROM profiles WHERE user_id = ?`, userID).
		Scan(&p.UserID, &p.Username, &p.AvatarRef, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
