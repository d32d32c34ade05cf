package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertConversation inserts or refreshes a server-sourced conversation
// record. Summary fields only move forward in time: an older last-message
// timestamp never overwrites a newer one.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, peer_id, peer_name, online, last_seen, last_message_at, last_message_preview, unread_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			peer_id = CASE WHEN excluded.peer_id != '' THEN excluded.peer_id ELSE conversations.peer_id END,
			peer_name = CASE WHEN excluded.peer_name != '' THEN excluded.peer_name ELSE conversations.peer_name END,
			online = excluded.online,
			last_seen = MAX(conversations.last_seen, excluded.last_seen),
			last_message_at = MAX(conversations.last_message_at, excluded.last_message_at),
			last_message_preview = CASE WHEN excluded.last_message_at >= conversations.last_message_at THEN excluded.last_message_preview ELSE conversations.last_message_preview END,
			unread_count = excluded.unread_count,
			updated_at = excluded.updated_at`,
		c.ID, c.PeerID, c.PeerName, c.Online, c.LastSeen, c.LastMessageAt, c.LastMessagePreview, c.UnreadCount, now)
	return err
}

// TouchConversation bumps activity summary fields on message ingest,
// creating the conversation on first contact.
func (db *DB) TouchConversation(id string, lastMessageAt int64, preview string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, last_message_at, last_message_preview, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_message_at = MAX(conversations.last_message_at, excluded.last_message_at),
			last_message_preview = CASE WHEN excluded.last_message_at >= conversations.last_message_at THEN excluded.last_message_preview ELSE conversations.last_message_preview END,
			updated_at = excluded.updated_at`,
		id, lastMessageAt, preview, now)
	return err
}

// IncrementUnread bumps the unread counter for a conversation.
func (db *DB) IncrementUnread(id string) error {
	_, err := db.Exec(`UPDATE conversations SET unread_count = unread_count + 1 WHERE id = ?`, id)
	return err
}

// ClearUnread resets the unread counter for a conversation.
func (db *DB) ClearUnread(id string) error {
	_, err := db.Exec(`UPDATE conversations SET unread_count = 0 WHERE id = ?`, id)
	return err
}

const conversationViewSelect = `
	SELECT c.id, c.peer_id, c.peer_name, c.online, c.last_seen,
	       c.last_message_at, c.last_message_preview, c.unread_count,
	       COALESCE(o.pinned, 0), COALESCE(o.archived, 0), COALESCE(o.muted, 0),
	       COALESCE(o.locked, 0), COALESCE(o.passcode_hash, ''), COALESCE(o.alias, ''),
	       COALESCE(NULLIF(o.alias, ''), NULLIF(c.peer_name, ''), c.id) AS display_name
	FROM conversations c
	LEFT JOIN overlays o ON o.conversation_id = c.id`

// ListConversations returns overlay-merged conversation views: pinned first
// (stable among themselves by most recent activity), then the rest by most
// recent activity. Archived conversations are excluded unless requested.
func (db *DB) ListConversations(includeArchived bool) ([]ConversationView, error) {
	q := conversationViewSelect
	if !includeArchived {
		q += ` WHERE COALESCE(o.archived, 0) = 0`
	}
	q += ` ORDER BY COALESCE(o.pinned, 0) DESC, c.last_message_at DESC, c.id ASC`

	rows, err := db.Query(q)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var views []ConversationView
	for rows.Next() {
		v, err := scanConversationView(rows)
		if err != nil {
			return nil, err
		}
		views = append(views, *v)
	}
	return views, rows.Err()
}

// ListArchivedConversations returns only archived conversations, for the
// explicitly-expanded archive view.
func (db *DB) ListArchivedConversations() ([]ConversationView, error) {
	q := conversationViewSelect +
		` WHERE COALESCE(o.archived, 0) = 1 ORDER BY c.last_message_at DESC, c.id ASC`
	rows, err := db.Query(q)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var views []ConversationView
	for rows.Next() {
		v, err := scanConversationView(rows)
		if err != nil {
			return nil, err
		}
		views = append(views, *v)
	}
	return views, rows.Err()
}

// GetConversation returns a single overlay-merged view, or nil if absent.
func (db *DB) GetConversation(id string) (*ConversationView, error) {
	row := db.QueryRow(conversationViewSelect+` WHERE c.id = ?`, id)
	v, err := scanConversationView(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversationView(row rowScanner) (*ConversationView, error) {
	var v ConversationView
	err := row.Scan(
		&v.ID, &v.PeerID, &v.PeerName, &v.Online, &v.LastSeen,
		&v.LastMessageAt, &v.LastMessagePreview, &v.UnreadCount,
		&v.Overlay.Pinned, &v.Overlay.Archived, &v.Overlay.Muted,
		&v.Overlay.Locked, &v.Overlay.PasscodeHash, &v.Overlay.Alias,
		&v.DisplayName,
	)
	if err != nil {
		return nil, err
	}
	v.Overlay.ConversationID = v.ID
	return &v, nil
}

// ErrNotFound is returned by lookups that require the row to exist.
var ErrNotFound = fmt.Errorf("store: not found")
