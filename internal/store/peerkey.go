package store

import (
	"database/sql"
	"time"
)

// GetPeerKey returns the cached key material for a peer, or nil if absent.
func (db *DB) GetPeerKey(peerID string) (*PeerKeyRow, error) {
	var row PeerKeyRow
	err := db.QueryRow(`SELECT peer_id, jwk, fetched_at FROM peer_keys WHERE peer_id = ?`, peerID).
		Scan(&row.PeerID, &row.JWK, &row.FetchedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// PutPeerKey stores or refreshes a peer's key material with the fetch time.
func (db *DB) PutPeerKey(peerID, jwk string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO peer_keys (peer_id, jwk, fetched_at)
		VALUES (?, ?, ?)
		ON CONFLICT(peer_id) DO UPDATE SET
			jwk = excluded.jwk,
			fetched_at = excluded.fetched_at`,
		peerID, jwk, now)
	return err
}

// DeletePeerKey drops cached key material. Deleting an absent row is a no-op.
func (db *DB) DeletePeerKey(peerID string) error {
	_, err := db.Exec(`DELETE FROM peer_keys WHERE peer_id = ?`, peerID)
	return err
}
