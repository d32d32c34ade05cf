package crypto

import (
	"crypto/ecdh"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// jwk is the subset of RFC 8037 we accept for peer keys.
type jwk struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
}

// ParseJWK parses peer public key material presented as a JSON Web Key.
// Only OKP/X25519 keys are accepted.
func ParseJWK(data []byte) (*ecdh.PublicKey, error) {
	var k jwk
	if err := json.Unmarshal(data, &k); err != nil {
		return nil, fmt.Errorf("parse jwk: %w", err)
	}
	if k.Kty != "OKP" || k.Crv != "X25519" {
		return nil, fmt.Errorf("unsupported jwk key type %s/%s", k.Kty, k.Crv)
	}
	raw, err := base64.RawURLEncoding.DecodeString(k.X)
	if err != nil {
		return nil, fmt.Errorf("decode jwk x: %w", err)
	}
	pub, err := ecdh.X25519().NewPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("jwk public key: %w", err)
	}
	return pub, nil
}

// MarshalJWK serializes a public key as an OKP/X25519 JWK.
func MarshalJWK(pub *ecdh.PublicKey) ([]byte, error) {
	return json.Marshal(jwk{
		Kty: "OKP",
		Crv: "X25519",
		X:   base64.RawURLEncoding.EncodeToString(pub.Bytes()),
	})
}
