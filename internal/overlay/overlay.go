// Package overlay manages device-local conversation attributes: pin,
// archive, mute, chat lock, and contact alias. Overlay state is the only
// source of truth for these; server conversation refreshes never touch it.
package overlay

import (
	"fmt"
	"strings"

	"github.com/Joe3124t/pingy/internal/store"
	"golang.org/x/crypto/bcrypt"
)

// ValidationError is returned for rejected user input: empty passcodes,
// passcode mismatches. No state is mutated when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// Store reads and writes overlays, joined with server conversation data
// only at presentation-read time.
type Store struct {
	db *store.DB
}

// NewStore creates an overlay store.
func NewStore(db *store.DB) *Store {
	return &Store{db: db}
}

// Get returns the overlay for a conversation, defaulting to the zero value
// if the conversation was never customized.
func (s *Store) Get(conversationID string) (store.Overlay, error) {
	return s.db.GetOverlay(conversationID)
}

// Set merges a partial update into the overlay, creating it lazily. The
// update is an atomic read-modify-write per conversation id, so concurrent
// toggles of different fields cannot lose each other.
func (s *Store) Set(conversationID string, patch store.OverlayPatch) (store.Overlay, error) {
	return s.db.ApplyOverlayPatch(conversationID, patch)
}

// EnableLock protects a conversation behind a passcode. The passcode is
// stored only as a bcrypt hash.
func (s *Store) EnableLock(conversationID, passcode string) error {
	if strings.TrimSpace(passcode) == "" {
		return &ValidationError{Field: "passcode", Reason: "must not be empty"}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(passcode), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash passcode: %w", err)
	}
	return s.db.SetOverlayLock(conversationID, true, string(hash))
}

// DisableLock removes the chat lock after verifying the passcode. A wrong
// passcode returns ValidationError and leaves the lock in place.
func (s *Store) DisableLock(conversationID, passcode string) error {
	o, err := s.db.GetOverlay(conversationID)
	if err != nil {
		return err
	}
	if !o.Locked {
		return &ValidationError{Field: "lock", Reason: "conversation is not locked"}
	}
	if bcrypt.CompareHashAndPassword([]byte(o.PasscodeHash), []byte(passcode)) != nil {
		return &ValidationError{Field: "passcode", Reason: "does not match"}
	}
	return s.db.SetOverlayLock(conversationID, false, "")
}

// VerifyPasscode checks a passcode against a locked conversation without
// changing anything.
func (s *Store) VerifyPasscode(conversationID, passcode string) (bool, error) {
	o, err := s.db.GetOverlay(conversationID)
	if err != nil {
		return false, err
	}
	if !o.Locked {
		return true, nil
	}
	return bcrypt.CompareHashAndPassword([]byte(o.PasscodeHash), []byte(passcode)) == nil, nil
}
