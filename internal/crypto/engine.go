package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/crypto/hkdf"
)

const sessionKeyInfo = "pingy-session-key-v1"

// Engine encrypts and decrypts message bodies end-to-end. Session keys are
// derived from an X25519 ECDH shared secret via HKDF-SHA256 and cached per
// peer; the cache is bounded and never persisted.
type Engine struct {
	identity *ecdh.PrivateKey
	sessions *lru.Cache // peer id -> 32-byte session key
}

// NewEngine creates an engine around the device identity key.
func NewEngine(identity *ecdh.PrivateKey) (*Engine, error) {
	sessions, err := lru.New(128)
	if err != nil {
		return nil, err
	}
	return &Engine{identity: identity, sessions: sessions}, nil
}

// PublicKey returns the device's public identity key.
func (e *Engine) PublicKey() *ecdh.PublicKey {
	return e.identity.PublicKey()
}

// Encrypt seals plaintext for the given peer with AES-256-GCM.
func (e *Engine) Encrypt(plaintext, peerID string, peerKey *ecdh.PublicKey) (*Payload, error) {
	key, err := e.sessionKey(peerID, peerKey)
	if err != nil {
		return nil, err
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	// Nonce must be unique per encryption under the same key.
	iv := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, err
	}
	ciphertext := aead.Seal(nil, iv, []byte(plaintext), nil)

	return &Payload{
		Version:    PayloadVersion,
		Algorithm:  Algorithm,
		IV:         base64.StdEncoding.EncodeToString(iv),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

// Decrypt opens an encrypted payload from the given peer. All failure modes
// surface as *DecryptionError.
func (e *Engine) Decrypt(p *Payload, peerID string, peerKey *ecdh.PublicKey) (string, error) {
	if p == nil {
		return "", &DecryptionError{Reason: "nil payload"}
	}
	if p.Version != PayloadVersion {
		return "", &DecryptionError{Reason: fmt.Sprintf("unsupported version %d", p.Version)}
	}
	if p.Algorithm != Algorithm {
		return "", &DecryptionError{Reason: fmt.Sprintf("unsupported algorithm %q", p.Algorithm)}
	}

	iv, err := base64.StdEncoding.DecodeString(p.IV)
	if err != nil {
		return "", &DecryptionError{Reason: "malformed iv", Err: err}
	}
	ciphertext, err := base64.StdEncoding.DecodeString(p.Ciphertext)
	if err != nil {
		return "", &DecryptionError{Reason: "malformed ciphertext", Err: err}
	}

	key, err := e.sessionKey(peerID, peerKey)
	if err != nil {
		return "", &DecryptionError{Reason: "session key derivation", Err: err}
	}
	aead, err := newGCM(key)
	if err != nil {
		return "", &DecryptionError{Reason: "cipher init", Err: err}
	}
	if len(iv) != aead.NonceSize() {
		return "", &DecryptionError{Reason: "bad iv length"}
	}

	plaintext, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		// Wrong key or tampered ciphertext (GCM integrity).
		return "", &DecryptionError{Reason: "authentication failed", Err: err}
	}
	return string(plaintext), nil
}

// InvalidateSession drops the cached session key for a peer. Idempotent and
// safe to call concurrently; a second invalidation is a no-op.
func (e *Engine) InvalidateSession(peerID string) {
	e.sessions.Remove(peerID)
}

func (e *Engine) sessionKey(peerID string, peerKey *ecdh.PublicKey) ([]byte, error) {
	if v, ok := e.sessions.Get(peerID); ok {
		return v.([]byte), nil
	}
	secret, err := e.identity.ECDH(peerKey)
	if err != nil {
		return nil, fmt.Errorf("ecdh: %w", err)
	}
	kdf := hkdf.New(sha256.New, secret, nil, []byte(sessionKeyInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	e.sessions.Add(peerID, key)
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
