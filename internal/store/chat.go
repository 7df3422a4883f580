package store

import (
	"database/sql"
	"fmt"
)

// RebuildChats recomputes the chat list projection for owner from the
// messages table. With no chat ids every chat of the owner is rebuilt.
// Chats whose messages are all gone disappear from the projection.
func (o ops) RebuildChats(owner string, chatIDs ...string) error {
	if len(chatIDs) == 0 {
		if _, err := o.q.Exec(`DELETE FROM chats WHERE owner_user_id = ?`, owner); err != nil {
			return fmt.Errorf("clear chats: %w", err)
		}
		return o.insertChats(owner, `1 = 1`)
	}
	for _, id := range chatIDs {
		if _, err := o.q.Exec(`DELETE FROM chats WHERE owner_user_id = ? AND chat_id = ?`, owner, id); err != nil {
			return fmt.Errorf("clear chat %q: %w", id, err)
		}
		if err := o.insertChats(owner, `m.chat_id = ?`, id); err != nil {
			return err
		}
	}
	return nil
}

func (o ops) insertChats(owner, filter string, filterArgs ...any) error {
	args := append([]any{owner, owner}, filterArgs...)
	_, err := o.q.Exec(`
		INSERT INTO chats (owner_user_id, chat_id, counterpart_id, counterpart_username,
			counterpart_avatar, last_message_preview, last_message_at)
		SELECT latest.owner, latest.chat_id, latest.counterpart,
			COALESCE(p.username, ''), COALESCE(p.avatar_ref, ''),
			latest.preview, latest.timestamp
		FROM (
			SELECT ? AS owner, m.chat_id,
				CASE WHEN m.sender_id = ? THEN m.receiver_id ELSE m.sender_id END AS counterpart,
				CASE m.kind
					WHEN 'image' THEN '[image]'
					WHEN 'call' THEN '[call]'
					ELSE substr(m.body, 1, 100)
				END AS preview,
				m.timestamp,
				ROW_NUMBER() OVER (PARTITION BY m.chat_id ORDER BY m.timestamp DESC, m.id DESC) AS rn
			FROM messages m
			WHERE `+filter+`
		) latest
		LEFT JOIN profiles p ON p.user_id = latest.counterpart
		WHERE latest.rn = 1`, args...)
	if err != nil {
		return fmt.Errorf("rebuild chats: %w", err)
	}
	return nil
}

// ListChats returns the owner's chats sorted by last message timestamp descending.
func (o ops) ListChats(owner string, limit int) ([]Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := o.q.Query(`
		SELECT owner_user_id, chat_id, counterpart_id, counterpart_username, counterpart_avatar,
			last_message_preview, last_message_at
		FROM chats
		WHERE owner_user_id = ?
		ORDER BY last_message_at DESC
		LIMIT ?`, owner, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.OwnerUserID, &c.ChatID, &c.CounterpartID, &c.CounterpartUsername,
			&c.CounterpartAvatar, &c.LastMessagePreview, &c.LastMessageAt); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// GetChat returns a single chat row, or nil if absent.
func (o ops) GetChat(owner, chatID string) (*Chat, error) {
	var c Chat
	err := o.q.QueryRow(`
		SELECT owner_user_id, chat_id, counterpart_id, counterpart_username, counterpart_avatar,
			last_message_preview, last_message_at
		FROM chats WHERE owner_user_id = ? AND chat_id = ?`, owner, chatID).
		Scan(&c.OwnerUserID, &c.ChatID, &c.CounterpartID, &c.CounterpartUsername,
			&c.CounterpartAvatar, &c.LastMessagePreview, &c.LastMessageAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
