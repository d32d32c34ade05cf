package crypto

import (
	"encoding/json"
	"strings"
)

// Algorithm is the only payload algorithm this engine produces.
const Algorithm = "x25519-hkdf-aes256gcm"

// PayloadVersion is the current envelope version.
const PayloadVersion = 1

// Payload is the versioned encrypted envelope as it appears on the wire.
// Immutable once constructed; a message body is replaced wholesale if
// re-encrypted.
type Payload struct {
	Version    int    `json:"v"`
	Algorithm  string `json:"alg"`
	IV         string `json:"iv"`
	Ciphertext string `json:"ciphertext"`
}

// Encode serializes the payload to its JSON wire form.
func (p *Payload) Encode() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// BodyKind tags the decoded form of a message body.
type BodyKind string

const (
	BodyPlain       BodyKind = "plain"
	BodyEncrypted   BodyKind = "encrypted"
	BodyUnparseable BodyKind = "unparseable"
)

// Body is the tagged union for a message body, decoded once at ingestion
// instead of probed ad hoc at each read site.
type Body struct {
	Kind    BodyKind
	Text    string   // set when Kind == BodyPlain
	Payload *Payload // set when Kind == BodyEncrypted
	Raw     string
}

// DecodeBody classifies a raw wire body. A JSON object carrying the envelope
// fields is encrypted; a JSON object missing them is unparseable; anything
// else is plain text.
func DecodeBody(raw string) Body {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return Body{Kind: BodyPlain, Text: raw, Raw: raw}
	}

	var p Payload
	if err := json.Unmarshal([]byte(trimmed), &p); err != nil {
		return Body{Kind: BodyPlain, Text: raw, Raw: raw}
	}
	if p.Version <= 0 || p.Algorithm == "" || p.Ciphertext == "" {
		return Body{Kind: BodyUnparseable, Raw: raw}
	}
	return Body{Kind: BodyEncrypted, Payload: &p, Raw: raw}
}
