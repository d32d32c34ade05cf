package bus

import "time"

// Event kinds published on the bus. Remote kinds are produced by the
// transport dispatcher; the rest are produced by the engine itself and
// form the reactive surface the UI subscribes to.
const (
	KindRemoteMessage      = "remote.message"
	KindRemoteReceipt      = "remote.receipt"
	KindRemoteReaction     = "remote.reaction"
	KindRemotePresence     = "remote.presence"
	KindRemoteConversation = "remote.conversation"

	KindMessageUpserted    = "message.upserted"
	KindMessageDecrypted   = "message.decrypted"
	KindMessageCorrupted   = "message.corrupted"
	KindMessageSendAck     = "message.send_ack"
	KindMessageSendFailed  = "message.send_failed"
	KindConversationUpdate = "conversation.updated"
	KindUploadProgress     = "upload.progress"
	KindUploadDone         = "upload.done"
	KindPresenceChanged    = "presence.changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// MessageRef identifies a message inside a conversation.
type MessageRef struct {
	ConversationID string
	MsgID          string
}

// SendAck is the payload for message.send_ack.
type SendAck struct {
	ConversationID string
	ClientMsgID    string
	ServerMsgID    string
}

// SendFailure is the payload for message.send_failed.
type SendFailure struct {
	ConversationID string
	ClientMsgID    string
	Reason         string
	Retryable      bool
}

// UploadProgress is the payload for upload.progress. Fraction is in [0,1].
type UploadProgress struct {
	BatchID  string
	ItemID   string
	Fraction float64
}

// UploadDone is the payload for upload.done, one per finished item.
type UploadDone struct {
	BatchID   string
	ItemID    string
	OK        bool
	RemoteURL string
	Reason    string
	Retryable bool
}

// ConversationRef is the payload for conversation.updated.
type ConversationRef struct {
	ConversationID string
}

// PresenceChange is the payload for presence.changed.
type PresenceChange struct {
	ConversationID string
	Online         bool
	Typing         bool
	Recording      bool
}
