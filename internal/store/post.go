package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

const postColumns = `id, client_id, author_id, author_username, author_avatar, caption, image_refs,
	timestamp, like_count, comment_count, liked_by_me, is_synced, updated_at`

// UpsertPost inserts or overwrites a post using last-write-wins on UpdatedAt.
func (o ops) UpsertPost(p *Post) error {
	if p.UpdatedAt == 0 {
		p.UpdatedAt = p.Timestamp
	}
	refs, err := encodeRefs(p.ImageRefs)
	if err != nil {
		return err
	}
	res, err := o.q.Exec(`
		INSERT INTO posts (`+postColumns+`)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM tombstones WHERE kind = 'post' AND id = ? AND deleted_at >= ?)
		ON CONFLICT(id) DO UPDATE SET
			client_id = CASE WHEN excluded.client_id != '' THEN excluded.client_id ELSE posts.client_id END,
			author_id = excluded.author_id,
			author_username = excluded.author_username,
			author_avatar = excluded.author_avatar,
			caption = excluded.caption,
			image_refs = excluded.image_refs,
			timestamp = excluded.timestamp,
			like_count = excluded.like_count,
			comment_count = excluded.comment_count,
			liked_by_me = excluded.liked_by_me,
			is_synced = excluded.is_synced,
			updated_at = excluded.updated_at
		WHERE excluded.updated_at >= posts.updated_at`,
		p.ID, p.ClientID, p.AuthorID, p.AuthorUsername, p.AuthorAvatar, p.Caption, refs,
		p.Timestamp, p.LikeCount, p.CommentCount, boolInt(p.LikedByMe), boolInt(p.IsSynced), p.UpdatedAt,
		p.ID, p.UpdatedAt)
	if err := changed(res, err, ErrStale); err != nil {
		return err
	}

	if p.ClientID != "" && p.ClientID != p.ID {
		if _, err := o.q.Exec(`DELETE FROM posts WHERE id = ?`, p.ClientID); err != nil {
			return fmt.Errorf("drop temp post %q: %w", p.ClientID, err)
		}
		return o.MapID(KindPost, p.ClientID, p.ID)
	}
	return nil
}

// GetPost returns a post by id, or nil if absent.
func (o ops) GetPost(id string) (*Post, error) {
	p, err := scanPost(o.q.QueryRow(`SELECT `+postColumns+` FROM posts WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// Feed returns the newest limit posts, newest first.
func (o ops) Feed(limit int) ([]Post, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := o.q.Query(`SELECT `+postColumns+` FROM posts ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var posts []Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, *p)
	}
	return posts, rows.Err()
}

// ConfirmPost marks an offline post as synced and rewrites its client id to
// the server id.
func (o ops) ConfirmPost(clientID, serverID string, updatedAt int64) error {
	if serverID == "" {
		serverID = clientID
	}
	if serverID != clientID {
		var exists int
		if err := o.q.QueryRow(`SELECT COUNT(*) FROM posts WHERE id = ?`, serverID).Scan(&exists); err != nil {
			return err
		}
		if exists > 0 {
			if _, err := o.q.Exec(`DELETE FROM posts WHERE id = ?`, clientID); err != nil {
				return fmt.Errorf("drop temp post: %w", err)
			}
			if _, err := o.q.Exec(`UPDATE posts SET is_synced = 1, client_id = ? WHERE id = ?`, clientID, serverID); err != nil {
				return err
			}
			return o.MapID(KindPost, clientID, serverID)
		}
	}
	_, err := o.q.Exec(`
		UPDATE posts SET id = ?, client_id = ?, is_synced = 1, updated_at = MAX(updated_at, ?)
		WHERE id = ?`, serverID, clientID, updatedAt, clientID)
	if err != nil {
		return fmt.Errorf("rewrite post id: %w", err)
	}
	if serverID != clientID {
		return o.MapID(KindPost, clientID, serverID)
	}
	return nil
}

// SetLiked applies an optimistic like state change and adjusts the counter
// only when the state actually flips.
func (o ops) SetLiked(id string, liked bool, at int64) error {
	l := boolInt(liked)
	res, err := o.q.Exec(`
		UPDATE posts SET
			like_count = MAX(0, like_count + CASE
				WHEN liked_by_me = ? THEN 0
				WHEN ? = 1 THEN 1
				ELSE -1 END),
			liked_by_me = ?,
			updated_at = ?
		WHERE id = ? AND updated_at <= ?`, l, l, l, at, id, at)
	return changed(res, err, ErrStale)
}

// IncrementComments bumps the comment counter of a post.
func (o ops) IncrementComments(id string, at int64) error {
	res, err := o.q.Exec(`
		UPDATE posts SET comment_count = comment_count + 1, updated_at = MAX(updated_at, ?)
		WHERE id = ?`, at, id)
	return changed(res, err, ErrNotFound)
}

// ApplyPostCounters stores server-confirmed counters under last-write-wins.
func (o ops) ApplyPostCounters(id string, likeCount, commentCount int, liked bool, updatedAt int64) error {
	res, err := o.q.Exec(`
		UPDATE posts SET like_count = ?, comment_count = ?, liked_by_me = ?, updated_at = ?
		WHERE id = ? AND updated_at <= ?`,
		likeCount, commentCount, boolInt(liked), updatedAt, id, updatedAt)
	return changed(res, err, ErrStale)
}

// DeletePost removes a post and leaves a tombstone.
func (o ops) DeletePost(id string, deletedAt int64) error {
	if _, err := o.q.Exec(`DELETE FROM posts WHERE id = ?`, id); err != nil {
		return err
	}
	return o.tombstone(KindPost, id, deletedAt)
}

// UnsyncedPostsWithoutCreate lists ids of posts flagged unsynced that have
// no outstanding create_post outbox entry. A non-empty result means an
// offline post lost its write.
func (o ops) UnsyncedPostsWithoutCreate() ([]string, error) {
	rows, err := o.q.Query(`
		SELECT p.id FROM posts p
		WHERE p.is_synced = 0 AND NOT EXISTS (
			SELECT 1 FROM outbox a
			WHERE a.action_type = 'create_post'
				AND a.stream_key = 'post:' || p.id
				AND a.status != 'completed')
		ORDER BY p.id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func encodeRefs(refs []string) (string, error) {
	if refs == nil {
		refs = []string{}
	}
	data, err := json.Marshal(refs)
	if err != nil {
		return "", fmt.Errorf("encode image refs: %w", err)
	}
	return string(data), nil
}

func scanPost(r rowScanner) (*Post, error) {
	var p Post
	var refs string
	if err := r.Scan(&p.ID, &p.ClientID, &p.AuthorID, &p.AuthorUsername, &p.AuthorAvatar, &p.Caption, &refs,
		&p.Timestamp, &p.LikeCount, &p.CommentCount, &p.LikedByMe, &p.IsSynced, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(refs), &p.ImageRefs); err != nil {
		return nil, fmt.Errorf("decode image refs of post %q: %w", p.ID, err)
	}
	return &p, nil
}
