package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
)

// LoadOrCreateIdentity reads the device's X25519 identity key from path,
// generating and persisting a new one (0600) on first run.
func LoadOrCreateIdentity(path string) (*ecdh.PrivateKey, error) {
	curve := ecdh.X25519()

	data, err := os.ReadFile(path)
	if err == nil {
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("decode identity key: %w", err)
		}
		key, err := curve.NewPrivateKey(raw)
		if err != nil {
			return nil, fmt.Errorf("parse identity key: %w", err)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read identity key: %w", err)
	}

	key, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate identity key: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(key.Bytes()) + "\n"
	if err := os.WriteFile(path, []byte(encoded), 0600); err != nil {
		return nil, fmt.Errorf("write identity key: %w", err)
	}
	return key, nil
}
