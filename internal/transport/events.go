package transport

// RemoteMessage is a normalized inbound message event.
type RemoteMessage struct {
	ConversationID string
	MsgID          string
	SenderID       string
	Kind           string // text, image, video, voice, file
	Body           string // raw wire body; may be an encrypted envelope
	ReplyTo        string
	FromMe         bool
	Timestamp      int64
}

// RemoteReceipt is a delivery/read receipt for a message. Status is
// "delivered" or "read".
type RemoteReceipt struct {
	ConversationID string
	MsgID          string
	Status         string
	Timestamp      int64
}

// RemoteReaction adjusts an emoji count on a message.
type RemoteReaction struct {
	ConversationID string
	MsgID          string
	Emoji          string
	Delta          int
}

// RemotePresence is an ephemeral peer status event.
type RemotePresence struct {
	ConversationID string
	PeerID         string
	Online         bool
	LastSeen       int64
	Typing         bool
	Recording      bool
}

// RemoteConversation is a server conversation-list record.
type RemoteConversation struct {
	ID                 string
	PeerID             string
	PeerName           string
	Online             bool
	LastSeen           int64
	LastMessageAt      int64
	LastMessagePreview string
	UnreadCount        int
}
