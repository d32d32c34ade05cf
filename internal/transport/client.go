// Package transport defines the engine's external collaborators: the
// backend client it calls out to and the remote events it consumes. The
// actual wire protocol lives behind these interfaces.
package transport

import (
	"context"
	"fmt"
)

// Client is the outbound surface the engine depends on.
type Client interface {
	// FetchPeerKey returns a peer's current public key as a JSON Web Key.
	// forceRefresh bypasses any server-side caching.
	FetchPeerKey(ctx context.Context, peerID string, forceRefresh bool) ([]byte, error)

	// SendMessage delivers a wire body to a conversation and returns the
	// server-assigned message id.
	SendMessage(ctx context.Context, conversationID, body string) (string, error)

	// UploadMedia stores a blob and returns its remote URL.
	UploadMedia(ctx context.Context, data []byte, filename, mimeType string) (string, error)

	// MarkSeen reports that the conversation has been viewed.
	MarkSeen(ctx context.Context, conversationID string) error
}

// NetworkError wraps a transient or permanent transport failure. Transient
// failures surface as retryable states; permanent ones do not.
type NetworkError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *NetworkError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("network error (%s) during %s: %v", kind, e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
