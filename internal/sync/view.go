package sync

import (
	"context"

	"github.com/Joe3124t/pingy/internal/bus"
	"github.com/Joe3124t/pingy/internal/store"
)

// Messages returns a page of non-deleted messages in display order,
// oldest first. beforeTs pages backwards; zero means the latest page.
func (e *Engine) Messages(conversationID string, beforeTs int64, limit int) ([]store.Message, error) {
	msgs, err := e.db.ListMessages(conversationID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// Conversations returns the overlay-merged conversation list, pinned
// first, most recent activity first within each group. Archived
// conversations are excluded unless requested.
func (e *Engine) Conversations(includeArchived bool) ([]store.ConversationView, error) {
	return e.db.ListConversations(includeArchived)
}

// ArchivedConversations returns only archived conversations, for the
// explicitly expanded view.
func (e *Engine) ArchivedConversations() ([]store.ConversationView, error) {
	return e.db.ListArchivedConversations()
}

// DeleteForMe tombstones a message locally. The row survives so receipts
// and reactions stay consistent, but it leaves every view.
func (e *Engine) DeleteForMe(conversationID, msgID string) error {
	if err := e.db.TombstoneMessage(conversationID, msgID); err != nil {
		return err
	}
	e.plaintext.Remove(messageKey(conversationID, msgID))
	e.bus.Emit(bus.KindMessageUpserted, bus.MessageRef{ConversationID: conversationID, MsgID: msgID})
	return nil
}

// MarkSeen tells the server the conversation was read and zeroes the
// local unread count.
func (e *Engine) MarkSeen(ctx context.Context, conversationID string) error {
	if err := e.client.MarkSeen(ctx, conversationID); err != nil {
		return err
	}
	if err := e.db.ClearUnread(conversationID); err != nil {
		return err
	}
	e.bus.Emit(bus.KindConversationUpdate, bus.ConversationRef{ConversationID: conversationID})
	return nil
}

// ResolveReply looks up the message a reply points at. The reference is
// weak: a missing or deleted target yields nil, not an error.
func (e *Engine) ResolveReply(conversationID, replyTo string) (*store.Message, error) {
	if replyTo == "" {
		return nil, nil
	}
	msg, err := e.db.GetMessage(conversationID, replyTo)
	if err != nil {
		return nil, err
	}
	if msg == nil || msg.Deleted {
		return nil, nil
	}
	return msg, nil
}

// Checkpoint reads a named sync cursor; empty string when unset.
func (e *Engine) Checkpoint(key string) (string, error) {
	return e.db.GetCheckpoint(key)
}

// SetCheckpoint stores a named sync cursor for resumable catch-up.
func (e *Engine) SetCheckpoint(key, value string) error {
	return e.db.SetCheckpoint(key, value)
}
