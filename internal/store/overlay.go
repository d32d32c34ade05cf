package store

import (
	"database/sql"
	"time"
)

// GetOverlay returns the overlay for a conversation, defaulting to the
// zero value (everything off, no alias) if none was ever set.
func (db *DB) GetOverlay(conversationID string) (Overlay, error) {
	var o Overlay
	err := db.QueryRow(`
		SELECT conversation_id, pinned, archived, muted, locked, passcode_hash, alias
		FROM overlays WHERE conversation_id = ?`, conversationID).
		Scan(&o.ConversationID, &o.Pinned, &o.Archived, &o.Muted, &o.Locked, &o.PasscodeHash, &o.Alias)
	if err == sql.ErrNoRows {
		return Overlay{ConversationID: conversationID}, nil
	}
	if err != nil {
		return Overlay{}, err
	}
	return o, nil
}

// ApplyOverlayPatch merges a partial update into the overlay, creating it
// lazily on first customization. The read-modify-write runs in one
// transaction so near-simultaneous toggles cannot lose updates.
func (db *DB) ApplyOverlayPatch(conversationID string, patch OverlayPatch) (Overlay, error) {
	tx, err := db.Begin()
	if err != nil {
		return Overlay{}, err
	}
	defer func() { _ = tx.Rollback() }()

	o := Overlay{ConversationID: conversationID}
	err = tx.QueryRow(`
		SELECT conversation_id, pinned, archived, muted, locked, passcode_hash, alias
		FROM overlays WHERE conversation_id = ?`, conversationID).
		Scan(&o.ConversationID, &o.Pinned, &o.Archived, &o.Muted, &o.Locked, &o.PasscodeHash, &o.Alias)
	if err != nil && err != sql.ErrNoRows {
		return Overlay{}, err
	}

	if patch.Pinned != nil {
		o.Pinned = *patch.Pinned
	}
	if patch.Archived != nil {
		o.Archived = *patch.Archived
	}
	if patch.Muted != nil {
		o.Muted = *patch.Muted
	}
	if patch.Alias != nil {
		o.Alias = *patch.Alias
	}

	if err := upsertOverlay(tx, &o); err != nil {
		return Overlay{}, err
	}
	return o, tx.Commit()
}

// SetOverlayLock updates lock state and passcode hash atomically, keeping
// all other overlay fields intact.
func (db *DB) SetOverlayLock(conversationID string, locked bool, passcodeHash string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	o := Overlay{ConversationID: conversationID}
	err = tx.QueryRow(`
		SELECT conversation_id, pinned, archived, muted, locked, passcode_hash, alias
		FROM overlays WHERE conversation_id = ?`, conversationID).
		Scan(&o.ConversationID, &o.Pinned, &o.Archived, &o.Muted, &o.Locked, &o.PasscodeHash, &o.Alias)
	if err != nil && err != sql.ErrNoRows {
		return err
	}

	o.Locked = locked
	o.PasscodeHash = passcodeHash

	if err := upsertOverlay(tx, &o); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertOverlay(tx *sql.Tx, o *Overlay) error {
	now := time.Now().UnixMilli()
	_, err := tx.Exec(`
		INSERT INTO overlays (conversation_id, pinned, archived, muted, locked, passcode_hash, alias, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			pinned = excluded.pinned,
			archived = excluded.archived,
			muted = excluded.muted,
			locked = excluded.locked,
			passcode_hash = excluded.passcode_hash,
			alias = excluded.alias,
			updated_at = excluded.updated_at`,
		o.ConversationID, o.Pinned, o.Archived, o.Muted, o.Locked, o.PasscodeHash, o.Alias, now)
	return err
}
