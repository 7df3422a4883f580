package store

import (
	"database/sql"
	"fmt"
)

const messageColumns = `id, client_id, chat_id, sender_id, receiver_id, body, kind, image_ref, timestamp, is_read, is_sent, updated_at`

// UpsertMessage inserts or overwrites a message using last-write-wins on
// UpdatedAt. An older UpdatedAt than the stored row, a write at or before a
// delete tombstone, or a server copy of a temp row deleted locally returns
// ErrStale. When a server copy arrives carrying the client id of a local
// temp row, the temp row is folded into it.
func (o ops) UpsertMessage(m *Message) error {
	if m.UpdatedAt == 0 {
		m.UpdatedAt = m.Timestamp
	}
	if m.Kind == "" {
		m.Kind = "text"
	}
	res, err := o.q.Exec(`
		INSERT INTO messages (`+messageColumns+`)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM tombstones
			WHERE kind = 'message'
				AND ((id = ? AND deleted_at >= ?) OR (id = ? AND ? != '')))
		ON CONFLICT(id) DO UPDATE SET
			client_id = CASE WHEN excluded.client_id != '' THEN excluded.client_id ELSE messages.client_id END,
			chat_id = excluded.chat_id,
			sender_id = excluded.sender_id,
			receiver_id = excluded.receiver_id,
			body = excluded.body,
			kind = excluded.kind,
			image_ref = excluded.image_ref,
			timestamp = excluded.timestamp,
			is_read = excluded.is_read,
			is_sent = excluded.is_sent,
			updated_at = excluded.updated_at
		WHERE excluded.updated_at >= messages.updated_at`,
		m.ID, m.ClientID, m.ChatID, m.SenderID, m.ReceiverID, m.Body, m.Kind, m.ImageRef,
		m.Timestamp, boolInt(m.IsRead), boolInt(m.IsSent), m.UpdatedAt,
		m.ID, m.UpdatedAt, m.ClientID, m.ClientID)
	if err := changed(res, err, ErrStale); err != nil {
		return err
	}

	if m.ClientID != "" && m.ClientID != m.ID {
		if _, err := o.q.Exec(`DELETE FROM messages WHERE id = ?`, m.ClientID); err != nil {
			return fmt.Errorf("drop temp message %q: %w", m.ClientID, err)
		}
		if err := o.MapID(KindMessage, m.ClientID, m.ID); err != nil {
			return err
		}
	}
	return nil
}

// GetMessage returns a message by id, or nil if absent.
func (o ops) GetMessage(id string) (*Message, error) {
	m, err := scanMessage(o.q.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// MessagesByChat returns the newest limit messages of a chat in display
// order (ascending timestamp, id as tiebreak).
func (o ops) MessagesByChat(chatID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := o.q.Query(`
		SELECT * FROM (
			SELECT `+messageColumns+` FROM messages
			WHERE chat_id = ?
			ORDER BY timestamp DESC, id DESC
			LIMIT ?
		) ORDER BY timestamp ASC, id ASC`, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// ConfirmMessage marks a locally sent message as delivered and rewrites its
// client id to the server-issued id. If the server copy already landed via a
// fetch, the temp row is dropped instead.
func (o ops) ConfirmMessage(clientID, serverID string, serverTs int64) error {
	if serverID == "" {
		serverID = clientID
	}
	if serverID != clientID {
		var exists int
		err := o.q.QueryRow(`SELECT COUNT(*) FROM messages WHERE id = ?`, serverID).Scan(&exists)
		if err != nil {
			return err
		}
		if exists > 0 {
			if _, err := o.q.Exec(`DELETE FROM messages WHERE id = ?`, clientID); err != nil {
				return fmt.Errorf("drop temp message: %w", err)
			}
			if _, err := o.q.Exec(`UPDATE messages SET is_sent = 1, client_id = ? WHERE id = ?`, clientID, serverID); err != nil {
				return fmt.Errorf("mark server message sent: %w", err)
			}
			return o.MapID(KindMessage, clientID, serverID)
		}
	}

	_, err := o.q.Exec(`
		UPDATE messages SET
			id = ?,
			client_id = ?,
			is_sent = 1,
			timestamp = CASE WHEN ? > 0 THEN ? ELSE timestamp END,
			updated_at = MAX(updated_at, ?)
		WHERE id = ?`,
		serverID, clientID, serverTs, serverTs, serverTs, clientID)
	if err != nil {
		return fmt.Errorf("rewrite message id: %w", err)
	}
	if serverID != clientID {
		return o.MapID(KindMessage, clientID, serverID)
	}
	return nil
}

// EditMessageBody applies a local edit under last-write-wins.
func (o ops) EditMessageBody(id, body string, editedAt int64) error {
	res, err := o.q.Exec(`
		UPDATE messages SET body = ?, updated_at = ?
		WHERE id = ? AND updated_at <= ?`, body, editedAt, id, editedAt)
	return changed(res, err, ErrStale)
}

// DeleteMessage hard-deletes a message and leaves a tombstone so a late
// fetch cannot resurrect it.
func (o ops) DeleteMessage(id string, deletedAt int64) error {
	if _, err := o.q.Exec(`DELETE FROM messages WHERE id = ?`, id); err != nil {
		return err
	}
	return o.tombstone(KindMessage, id, deletedAt)
}

// MarkChatRead flags every message of a chat as read.
func (o ops) MarkChatRead(chatID string) error {
	_, err := o.q.Exec(`UPDATE messages SET is_read = 1 WHERE chat_id = ? AND is_read = 0`, chatID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(r rowScanner) (*Message, error) {
	var m Message
	if err := r.Scan(&m.ID, &m.ClientID, &m.ChatID, &m.SenderID, &m.ReceiverID, &m.Body, &m.Kind,
		&m.ImageRef, &m.Timestamp, &m.IsRead, &m.IsSent, &m.UpdatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}
