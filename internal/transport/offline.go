package transport

import (
	"context"
	"errors"
)

// ErrOffline is the cause carried by Offline's NetworkErrors.
var ErrOffline = errors.New("transport not connected")

// Offline is a Client with no backend: every call fails with a transient
// NetworkError. It stands in until a real client is wired at daemon start,
// and keeps the engine's retry paths honest in the meantime.
type Offline struct{}

func (Offline) FetchPeerKey(_ context.Context, _ string, _ bool) ([]byte, error) {
	return nil, &NetworkError{Op: "fetch_peer_key", Transient: true, Err: ErrOffline}
}

func (Offline) SendMessage(_ context.Context, _, _ string) (string, error) {
	return "", &NetworkError{Op: "send_message", Transient: true, Err: ErrOffline}
}

func (Offline) UploadMedia(_ context.Context, _ []byte, _, _ string) (string, error) {
	return "", &NetworkError{Op: "upload_media", Transient: true, Err: ErrOffline}
}

func (Offline) MarkSeen(_ context.Context, _ string) error {
	return &NetworkError{Op: "mark_seen", Transient: true, Err: ErrOffline}
}
