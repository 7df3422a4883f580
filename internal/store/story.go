package store

import (
	"database/sql"
	"fmt"
)

const storyColumns = `id, client_id, author_id, media_ref, media_kind, timestamp, expires_at, is_synced, updated_at`

// UpsertStory inserts or overwrites a story using last-write-wins on UpdatedAt.
func (o ops) UpsertStory(s *Story) error {
	if s.UpdatedAt == 0 {
		s.UpdatedAt = s.Timestamp
	}
	res, err := o.q.Exec(`
		INSERT INTO stories (`+storyColumns+`)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM tombstones WHERE kind = 'story' AND id = ? AND deleted_at >= ?)
		ON CONFLICT(id) DO UPDATE SET
			client_id = CASE WHEN excluded.client_id != '' THEN excluded.client_id ELSE stories.client_id END,
			author_id = excluded.author_id,
			media_ref = excluded.media_ref,
			media_kind = excluded.media_kind,
			timestamp = excluded.timestamp,
			expires_at = excluded.expires_at,
			is_synced = excluded.is_synced,
			updated_at = excluded.updated_at
		WHERE excluded.updated_at >= stories.updated_at`,
		s.ID, s.ClientID, s.AuthorID, s.MediaRef, s.MediaKind, s.Timestamp, s.ExpiresAt,
		boolInt(s.IsSynced), s.UpdatedAt,
		s.ID, s.UpdatedAt)
	if err := changed(res, err, ErrStale); err != nil {
		return err
	}
	if s.ClientID != "" && s.ClientID != s.ID {
		if _, err := o.q.Exec(`DELETE FROM stories WHERE id = ?`, s.ClientID); err != nil {
			return fmt.Errorf("drop temp story %q: %w", s.ClientID, err)
		}
		return o.MapID(KindStory, s.ClientID, s.ID)
	}
	return nil
}

// GetStory returns a story that has not expired at now, or nil.
func (o ops) GetStory(id string, now int64) (*Story, error) {
	s, err := scanStory(o.q.QueryRow(`SELECT `+storyColumns+` FROM stories WHERE id = ? AND expires_at > ?`, id, now))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

// ActiveStories returns the stories still visible at now, newest first.
func (o ops) ActiveStories(now int64) ([]Story, error) {
	rows, err := o.q.Query(`SELECT `+storyColumns+` FROM stories WHERE expires_at > ? ORDER BY timestamp DESC, id DESC`, now)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var stories []Story
	for rows.Next() {
		s, err := scanStory(rows)
		if err != nil {
			return nil, err
		}
		stories = append(stories, *s)
	}
	return stories, rows.Err()
}

// ConfirmStory marks an uploaded story as synced under its server id.
func (o ops) ConfirmStory(clientID, serverID string, expiresAt int64) error {
	if serverID == "" {
		serverID = clientID
	}
	if serverID != clientID {
		if _, err := o.q.Exec(`DELETE FROM stories WHERE id = ?`, serverID); err != nil {
			return err
		}
	}
	_, err := o.q.Exec(`
		UPDATE stories SET id = ?, client_id = ?, is_synced = 1,
			expires_at = CASE WHEN ? > 0 THEN ? ELSE expires_at END
		WHERE id = ?`, serverID, clientID, expiresAt, expiresAt, clientID)
	if err != nil {
		return fmt.Errorf("rewrite story id: %w", err)
	}
	if serverID != clientID {
		return o.MapID(KindStory, clientID, serverID)
	}
	return nil
}

// DeleteStory removes a story and leaves a tombstone.
func (o ops) DeleteStory(id string, deletedAt int64) error {
	if _, err := o.q.Exec(`DELETE FROM stories WHERE id = ?`, id); err != nil {
		return err
	}
	return o.tombstone(KindStory, id, deletedAt)
}

// DeleteExpiredStories removes stories whose expiry is at or before now and
// returns how many were deleted.
func (o ops) DeleteExpiredStories(now int64) (int64, error) {
	res, err := o.q.Exec(`DELETE FROM stories WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanStory(r rowScanner) (*Story, error) {
	var s Story
	if err := r.Scan(&s.ID, &s.ClientID, &s.AuthorID, &s.MediaRef, &s.MediaKind, &s.Timestamp,
		&s.ExpiresAt, &s.IsSynced, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}
