package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Joe3124t/pingy/internal/delivery"
)

// UpsertMessage inserts or updates a message (idempotent on
// conversation_id + msg_id). On conflict the body and body_kind are
// refreshed but delivery status is left alone; status moves only through
// AdvanceMessageStatus so late events cannot regress it.
func (db *DB) UpsertMessage(m *Message) error {
	reactions, err := marshalReactions(m.Reactions)
	if err != nil {
		return err
	}
	_, err = db.Exec(`
		INSERT INTO messages (conversation_id, msg_id, sender_id, kind, body, body_kind, from_me, status, reply_to, reactions, deleted, created_at, delivered_at, read_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
			sender_id = excluded.sender_id,
			body = excluded.body,
			body_kind = excluded.body_kind,
			reply_to = excluded.reply_to`,
		m.ConversationID, m.MsgID, m.SenderID, m.Kind, m.Body, m.BodyKind, m.FromMe,
		m.Status, m.ReplyTo, reactions, m.Deleted, m.CreatedAt, m.DeliveredAt, m.ReadAt)
	return err
}

const messageSelect = `
	SELECT id, conversation_id, msg_id, sender_id, kind, body, body_kind,
	       from_me, status, reply_to, reactions, deleted, created_at, delivered_at, read_at
	FROM messages`

// GetMessage returns a message by id, or nil if unknown. Tombstoned
// messages are still returned here; only list views exclude them.
func (db *DB) GetMessage(conversationID, msgID string) (*Message, error) {
	row := db.QueryRow(messageSelect+` WHERE conversation_id = ? AND msg_id = ?`, conversationID, msgID)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListMessages returns non-tombstoned messages for a conversation using
// keyset pagination by created_at, newest first.
func (db *DB) ListMessages(conversationID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(messageSelect+`
		WHERE conversation_id = ? AND created_at < ? AND deleted = 0
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, conversationID, beforeTs, limit)
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

// AdvanceMessageStatus applies a delivery status event with monotonic
// power-forward-only semantics. Returns true if the state advanced; a late
// or duplicate event is dropped and reported as false, not an error.
// Reaching read also stamps delivered (read implies delivered).
func (db *DB) AdvanceMessageStatus(conversationID, msgID string, to delivery.State, ts int64) (bool, error) {
	tx, err := db.Begin()
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRow(`SELECT status FROM messages WHERE conversation_id = ? AND msg_id = ?`,
		conversationID, msgID).Scan(&current)
	if err == sql.ErrNoRows {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}
	if !delivery.CanAdvance(delivery.State(current), to) {
		return false, nil
	}

	q := `UPDATE messages SET status = ?`
	args := []any{string(to)}
	switch to {
	case delivery.Delivered:
		q += `, delivered_at = CASE WHEN delivered_at = 0 THEN ? ELSE delivered_at END`
		args = append(args, ts)
	case delivery.Read:
		q += `, delivered_at = CASE WHEN delivered_at = 0 THEN ? ELSE delivered_at END,
		       read_at = CASE WHEN read_at = 0 THEN ? ELSE read_at END`
		args = append(args, ts, ts)
	}
	q += ` WHERE conversation_id = ? AND msg_id = ?`
	args = append(args, conversationID, msgID)

	if _, err := tx.Exec(q, args...); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// ResetMessageStatus forces a message back to the given state. Used only by
// the explicit user retry path (failed -> sending).
func (db *DB) ResetMessageStatus(conversationID, msgID string, to delivery.State) error {
	res, err := db.Exec(`UPDATE messages SET status = ? WHERE conversation_id = ? AND msg_id = ?`,
		string(to), conversationID, msgID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkMessageCorrupted records the terminal corrupted display state after
// decrypt recovery has been exhausted.
func (db *DB) MarkMessageCorrupted(conversationID, msgID string) error {
	_, err := db.Exec(`UPDATE messages SET status = ? WHERE conversation_id = ? AND msg_id = ?`,
		string(delivery.Corrupted), conversationID, msgID)
	return err
}

// RenameMessageID swaps the client-generated id for the server-assigned id
// once a send is acknowledged. If the server id is already present (echo
// arrived first), the optimistic row is removed instead.
func (db *DB) RenameMessageID(conversationID, clientMsgID, serverMsgID string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var existing int
	err = tx.QueryRow(`SELECT COUNT(1) FROM messages WHERE conversation_id = ? AND msg_id = ?`,
		conversationID, serverMsgID).Scan(&existing)
	if err != nil {
		return err
	}
	if existing > 0 {
		if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ? AND msg_id = ?`,
			conversationID, clientMsgID); err != nil {
			return err
		}
	} else {
		if _, err := tx.Exec(`UPDATE messages SET msg_id = ? WHERE conversation_id = ? AND msg_id = ?`,
			serverMsgID, conversationID, clientMsgID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// TombstoneMessage soft-deletes a message: excluded from views, record kept.
func (db *DB) TombstoneMessage(conversationID, msgID string) error {
	res, err := db.Exec(`UPDATE messages SET deleted = 1 WHERE conversation_id = ? AND msg_id = ?`,
		conversationID, msgID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AdjustReaction applies a reaction delta to a message's emoji counts in an
// atomic read-modify-write. Counts never go below zero; zeroed emojis are
// removed. Returns false if the message is unknown.
func (db *DB) AdjustReaction(conversationID, msgID, emoji string, delta int) (bool, error) {
	tx, err := db.Begin()
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	err = tx.QueryRow(`SELECT reactions FROM messages WHERE conversation_id = ? AND msg_id = ?`,
		conversationID, msgID).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	counts := map[string]int{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &counts); err != nil {
			return false, fmt.Errorf("reactions column: %w", err)
		}
	}
	counts[emoji] += delta
	if counts[emoji] <= 0 {
		delete(counts, emoji)
	}
	updated, err := marshalReactions(counts)
	if err != nil {
		return false, err
	}
	if _, err := tx.Exec(`UPDATE messages SET reactions = ? WHERE conversation_id = ? AND msg_id = ?`,
		updated, conversationID, msgID); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	var reactions string
	err := row.Scan(
		&m.RowID, &m.ConversationID, &m.MsgID, &m.SenderID, &m.Kind, &m.Body, &m.BodyKind,
		&m.FromMe, &m.Status, &m.ReplyTo, &reactions, &m.Deleted, &m.CreatedAt, &m.DeliveredAt, &m.ReadAt,
	)
	if err != nil {
		return nil, err
	}
	if reactions != "" && reactions != "{}" {
		m.Reactions = map[string]int{}
		if err := json.Unmarshal([]byte(reactions), &m.Reactions); err != nil {
			return nil, fmt.Errorf("reactions column: %w", err)
		}
	}
	return &m, nil
}

func marshalReactions(counts map[string]int) (string, error) {
	if len(counts) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(counts)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
