package store

// Conversation is a server-sourced conversation record. Identity is
// immutable; summary fields are refreshed on each sync. Conversations are
// never deleted locally, only hidden via the archived overlay.
type Conversation struct {
	ID                 string
	PeerID             string
	PeerName           string
	Online             bool
	LastSeen           int64
	LastMessageAt      int64
	LastMessagePreview string
	UnreadCount        int
}

// Overlay holds device-local conversation attributes. It lives in its own
// table so server conversation refreshes can never erase it.
type Overlay struct {
	ConversationID string
	Pinned         bool
	Archived       bool
	Muted          bool
	Locked         bool
	PasscodeHash   string
	Alias          string
}

// OverlayPatch is a partial overlay update; nil fields are left untouched.
// Lock state is managed separately via SetOverlayLock.
type OverlayPatch struct {
	Pinned   *bool
	Archived *bool
	Muted    *bool
	Alias    *string
}

// ConversationView is a conversation joined with its overlay at read time.
type ConversationView struct {
	Conversation
	Overlay     Overlay
	DisplayName string
}

// Message is a synced message. Outgoing messages are created locally with a
// client-generated MsgID and renamed once the server acknowledges them.
type Message struct {
	RowID          int64
	ConversationID string
	MsgID          string
	SenderID       string
	Kind           string // text, image, video, voice, file
	Body           string // raw wire body; plaintext of encrypted bodies is never persisted
	BodyKind       string // plain, encrypted, unparseable
	FromMe         bool
	Status         string
	ReplyTo        string // id-based weak reference, resolved lazily
	Reactions      map[string]int
	Deleted        bool
	CreatedAt      int64
	DeliveredAt    int64
	ReadAt         int64
}

// PeerKeyRow is a cached peer public key with its fetch time.
type PeerKeyRow struct {
	PeerID    string
	JWK       string
	FetchedAt int64
}

// OutboxEntry is a pending or settled outgoing send.
type OutboxEntry struct {
	ID             int64
	ClientMsgID    string
	ConversationID string
	PeerID         string
	Body           string
	Status         string // queued, sending, sent, failed
	Retryable      bool
	ErrorMessage   string
	ServerMsgID    string
}
