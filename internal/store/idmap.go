package store

import (
	"database/sql"
	"fmt"
	"math"
)

// carriedTombstone marks a server id whose entity was deleted locally before
// the server acknowledged it. Every server version is older than that delete.
const carriedTombstone = math.MaxInt64

// MapID records that a client-generated id was replaced by a server id. A
// tombstone left on the client id moves to the server id, so a fetch of the
// server copy cannot bring back an entity deleted while offline.
func (o ops) MapID(kind, clientID, serverID string) error {
	_, err := o.q.Exec(`
		INSERT INTO id_map (kind, client_id, server_id) VALUES (?, ?, ?)
		ON CONFLICT(kind, client_id) DO UPDATE SET server_id = excluded.server_id`,
		kind, clientID, serverID)
	if err != nil {
		return fmt.Errorf("map %s id %q: %w", kind, clientID, err)
	}
	_, err = o.q.Exec(`
		INSERT INTO tombstones (kind, id, deleted_at)
		SELECT kind, ?, ? FROM tombstones WHERE kind = ? AND id = ?
		ON CONFLICT(kind, id) DO UPDATE SET deleted_at = excluded.deleted_at`,
		serverID, int64(carriedTombstone), kind, clientID)
	if err != nil {
		return fmt.Errorf("carry %s tombstone %q: %w", kind, clientID, err)
	}
	return nil
}

// ResolveID returns the server id for a client id, or id itself when no
// mapping exists. Actions enqueued against an offline entity call this at
// replay time.
func (o ops) ResolveID(kind, id string) (string, error) {
	var serverID string
	err := o.q.QueryRow(`SELECT server_id FROM id_map WHERE kind = ? AND client_id = ?`, kind, id).Scan(&serverID)
	if err == sql.ErrNoRows {
		return id, nil
	}
	if err != nil {
		return "", err
	}
	return serverID, nil
}

func (o ops) tombstone(kind, id string, deletedAt int64) error {
	_, err := o.q.Exec(`
		INSERT INTO tombstones (kind, id, deleted_at) VALUES (?, ?, ?)
		ON CONFLICT(kind, id) DO UPDATE SET deleted_at = MAX(tombstones.deleted_at, excluded.deleted_at)`,
		kind, id, deletedAt)
	if err != nil {
		return fmt.Errorf("tombstone %s %q: %w", kind, id, err)
	}
	return nil
}

// IsDeleted reports whether a tombstone exists for the entity.
func (o ops) IsDeleted(kind, id string) (bool, error) {
	var n int
	err := o.q.QueryRow(`SELECT COUNT(*) FROM tombstones WHERE kind = ? AND id = ?`, kind, id).Scan(&n)
	return n > 0, err
}
