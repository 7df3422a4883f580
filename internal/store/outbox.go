package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/matheus3301/feedsync/internal/action"
)

const actionColumns = `seq, action_type, stream_key, idempotency_key, payload, status, retry_count,
	last_error, created_at, updated_at, next_attempt_at, completed_at`

// Enqueue appends an action to the outbox and returns its sequence id. The
// row is durable once the enclosing statement or transaction commits.
func (o ops) Enqueue(t action.Type, streamKey, idempotencyKey string, payload []byte) (int64, error) {
	now := time.Now().UnixMilli()
	res, err := o.q.Exec(`
		INSERT INTO outbox (action_type, stream_key, idempotency_key, payload, status, created_at, updated_at, next_attempt_at)
		VALUES (?, ?, ?, ?, 'pending', ?, ?, 0)`,
		string(t), streamKey, idempotencyKey, payload, now, now)
	if err != nil {
		return 0, fmt.Errorf("enqueue %s: %w", t, err)
	}
	return res.LastInsertId()
}

// NextPending returns the oldest entry that may run at now, or nil. An
// entry is eligible when it is pending, its backoff has elapsed, and no
// older entry of the same stream is still pending or processing. Completed
// and permanently failed entries never block their stream.
func (o ops) NextPending(now int64) (*Action, error) {
	a, err := scanAction(o.q.QueryRow(`
		SELECT `+actionColumns+` FROM outbox o
		WHERE o.status = 'pending'
			AND o.next_attempt_at <= ?
			AND NOT EXISTS (
				SELECT 1 FROM outbox e
				WHERE e.stream_key = o.stream_key
					AND e.seq < o.seq
					AND e.status IN ('pending', 'processing'))
		ORDER BY o.seq ASC
		LIMIT 1`, now))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// NextAttemptAt returns the earliest time a stream head becomes eligible.
// Entries queued behind another entry of their stream are ignored: they
// cannot run before their head. ok is false when nothing is pending.
func (o ops) NextAttemptAt() (at int64, ok bool, err error) {
	var ts sql.NullInt64
	err = o.q.QueryRow(`
		SELECT MIN(o.next_attempt_at) FROM outbox o
		WHERE o.status = 'pending'
			AND NOT EXISTS (
				SELECT 1 FROM outbox e
				WHERE e.stream_key = o.stream_key
					AND e.seq < o.seq
					AND e.status IN ('pending', 'processing'))`).Scan(&ts)
	return ts.Int64, ts.Valid, err
}

// ClaimNext atomically picks the next eligible entry and marks it processing.
func (db *DB) ClaimNext(now int64) (*Action, error) {
	var claimed *Action
	err := db.InTx(func(tx *Tx) error {
		a, err := tx.NextPending(now)
		if err != nil || a == nil {
			return err
		}
		if err := tx.MarkProcessing(a.Seq); err != nil {
			return err
		}
		a.Status = ActionProcessing
		claimed = a
		return nil
	})
	return claimed, err
}

// MarkProcessing moves a pending entry to processing.
func (o ops) MarkProcessing(seq int64) error {
	return o.transition(seq, `status = 'processing'`, `status = 'pending'`)
}

// MarkCompleted finalizes a processing entry.
func (o ops) MarkCompleted(seq int64) error {
	now := time.Now().UnixMilli()
	return o.transition(seq, `status = 'completed', last_error = '', completed_at = ?`, `status = 'processing'`, now)
}

// MarkFailed records a retryable failure: the retry counter is incremented
// and the entry returns to pending, eligible again at nextAttemptAt.
func (o ops) MarkFailed(seq int64, errMsg string, nextAttemptAt int64) error {
	return o.transition(seq,
		`status = 'pending', retry_count = retry_count + 1, last_error = ?, next_attempt_at = ?`,
		`status = 'processing'`, errMsg, nextAttemptAt)
}

// MarkDead finalizes an entry as permanently failed.
func (o ops) MarkDead(seq int64, errMsg string) error {
	return o.transition(seq, `status = 'failed', last_error = ?`, `status IN ('pending', 'processing')`, errMsg)
}

// Release returns a processing entry to pending without consuming a retry.
// Used when a drain is interrupted before the outcome is known.
func (o ops) Release(seq int64) error {
	return o.transition(seq, `status = 'pending'`, `status = 'processing'`)
}

// Requeue gives a permanently failed entry a fresh set of retries.
func (o ops) Requeue(seq int64) error {
	return o.transition(seq, `status = 'pending', retry_count = 0, last_error = '', next_attempt_at = 0`, `status = 'failed'`)
}

// RecoverInFlight resets entries left processing by a previous process.
func (o ops) RecoverInFlight() (int64, error) {
	now := time.Now().UnixMilli()
	res, err := o.q.Exec(`UPDATE outbox SET status = 'pending', updated_at = ? WHERE status = 'processing'`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (o ops) transition(seq int64, set, from string, args ...any) error {
	now := time.Now().UnixMilli()
	args = append(args, now, seq)
	res, err := o.q.Exec(`UPDATE outbox SET `+set+`, updated_at = ? WHERE seq = ? AND `+from, args...)
	if err := changed(res, err, ErrTransition); err != nil {
		return fmt.Errorf("outbox seq %d: %w", seq, err)
	}
	return nil
}

// GetAction returns an outbox entry by sequence id, or nil.
func (o ops) GetAction(seq int64) (*Action, error) {
	a, err := scanAction(o.q.QueryRow(`SELECT `+actionColumns+` FROM outbox WHERE seq = ?`, seq))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// ListActions returns entries with the given status in sequence order.
func (o ops) ListActions(status ActionStatus, limit int) ([]Action, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := o.q.Query(`SELECT `+actionColumns+` FROM outbox WHERE status = ? ORDER BY seq ASC LIMIT ?`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var actions []Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, *a)
	}
	return actions, rows.Err()
}

// Count returns the number of entries with the given status.
func (o ops) Count(status ActionStatus) (int, error) {
	var n int
	err := o.q.QueryRow(`SELECT COUNT(*) FROM outbox WHERE status = ?`, string(status)).Scan(&n)
	return n, err
}

// PendingCount returns the number of entries not yet confirmed or finalized.
func (o ops) PendingCount() (int, error) {
	var n int
	err := o.q.QueryRow(`SELECT COUNT(*) FROM outbox WHERE status IN ('pending', 'processing')`).Scan(&n)
	return n, err
}

// DeleteAction removes an entry that is permanently failed.
func (o ops) DeleteAction(seq int64) error {
	res, err := o.q.Exec(`DELETE FROM outbox WHERE seq = ? AND status = 'failed'`, seq)
	if err := changed(res, err, ErrTransition); err != nil {
		return fmt.Errorf("outbox seq %d: %w", seq, err)
	}
	return nil
}

// PruneCompleted deletes completed entries finalized before the cutoff.
func (o ops) PruneCompleted(before int64) (int64, error) {
	res, err := o.q.Exec(`DELETE FROM outbox WHERE status = 'completed' AND completed_at < ?`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanAction(r rowScanner) (*Action, error) {
	var a Action
	var t, status string
	if err := r.Scan(&a.Seq, &t, &a.StreamKey, &a.IdempotencyKey, &a.Payload, &status, &a.RetryCount,
		&a.LastError, &a.CreatedAt, &a.UpdatedAt, &a.NextAttemptAt, &a.CompletedAt); err != nil {
		return nil, err
	}
	a.Type = action.Type(t)
	a.Status = ActionStatus(status)
	return &a, nil
}
