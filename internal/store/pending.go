package store

import "time"

// EnqueueOperation adds a failed push to the retry queue.
func (db *DB) EnqueueOperation(kind string, payload []byte) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO pending_operations (kind, payload, created_at, retry_count, last_attempt)
		VALUES (?, ?, ?, 0, 0)`,
		kind, string(payload), now)
	return err
}

// PendingOperations returns queued operations oldest-first.
func (db *DB) PendingOperations() ([]PendingOperation, error) {
	rows, err := db.Query(`
		SELECT id, kind, payload, created_at, retry_count, last_attempt
		FROM pending_operations ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ops []PendingOperation
	for rows.Next() {
		var op PendingOperation
		var payload string
		if err := rows.Scan(&op.ID, &op.Kind, &payload, &op.CreatedAt, &op.RetryCount, &op.LastAttempt); err != nil {
			return nil, err
		}
		op.Payload = []byte(payload)
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// BumpAttempt records a failed replay attempt.
func (db *DB) BumpAttempt(id int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE pending_operations SET retry_count = retry_count + 1, last_attempt = ?
		WHERE id = ?`, now, id)
	return err
}

// DeleteOperation removes a queue entry, on success or after exhausting retries.
func (db *DB) DeleteOperation(id int64) error {
	_, err := db.Exec(`DELETE FROM pending_operations WHERE id = ?`, id)
	return err
}

// CountPendingOperations returns the number of queued operations.
func (db *DB) CountPendingOperations() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM pending_operations`).Scan(&n)
	return n, err
}
