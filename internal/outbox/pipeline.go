// Package outbox drives the outgoing message lifecycle: optimistic local
// insert, end-to-end encryption, send, acknowledgement, and user retry.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Joe3124t/pingy/internal/bus"
	"github.com/Joe3124t/pingy/internal/crypto"
	"github.com/Joe3124t/pingy/internal/delivery"
	"github.com/Joe3124t/pingy/internal/keyring"
	"github.com/Joe3124t/pingy/internal/store"
	"github.com/Joe3124t/pingy/internal/transport"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Pipeline drains the outbox: each queued entry is encrypted for its peer
// and handed to the transport, with the local message advancing through the
// delivery state machine as acks arrive.
type Pipeline struct {
	db     *store.DB
	engine *crypto.Engine
	keys   *keyring.Resolver
	client transport.Client
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewPipeline creates an outgoing message pipeline.
func NewPipeline(db *store.DB, engine *crypto.Engine, keys *keyring.Resolver, client transport.Client, b *bus.Bus, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		db:     db,
		engine: engine,
		keys:   keys,
		client: client,
		bus:    b,
		logger: logger,
	}
}

// SendText materializes an outgoing text message in `sending` state
// immediately (optimistic insert, so the UI reflects the action) and queues
// it for the drain loop. Returns the client-generated message id.
func (p *Pipeline) SendText(conversationID, peerID, text string) (string, error) {
	clientMsgID := uuid.NewString()
	now := time.Now().UnixMilli()

	msg := &store.Message{
		ConversationID: conversationID,
		MsgID:          clientMsgID,
		Kind:           "text",
		Body:           text,
		BodyKind:       string(crypto.BodyPlain),
		FromMe:         true,
		Status:         string(delivery.Sending),
		CreatedAt:      now,
	}
	if err := p.db.UpsertMessage(msg); err != nil {
		return "", fmt.Errorf("optimistic insert: %w", err)
	}
	if err := p.db.TouchConversation(conversationID, now, truncate(text, 100)); err != nil {
		return "", fmt.Errorf("touch conversation: %w", err)
	}
	p.bus.Emit(bus.KindMessageUpserted, bus.MessageRef{ConversationID: conversationID, MsgID: clientMsgID})

	if err := p.db.QueueOutbox(clientMsgID, conversationID, peerID, text); err != nil {
		return "", fmt.Errorf("queue outbox: %w", err)
	}
	return clientMsgID, nil
}

// SendMedia materializes an outgoing media message around an already
// uploaded attachment. The wire body is the remote URL plus the optional
// caption, encrypted like any text send.
func (p *Pipeline) SendMedia(conversationID, peerID, kind, remoteURL, caption string) (string, error) {
	clientMsgID := uuid.NewString()
	now := time.Now().UnixMilli()

	body := remoteURL
	if caption != "" {
		body = remoteURL + "\n" + caption
	}
	msg := &store.Message{
		ConversationID: conversationID,
		MsgID:          clientMsgID,
		Kind:           kind,
		Body:           body,
		BodyKind:       string(crypto.BodyPlain),
		FromMe:         true,
		Status:         string(delivery.Sending),
		CreatedAt:      now,
	}
	if err := p.db.UpsertMessage(msg); err != nil {
		return "", fmt.Errorf("optimistic insert: %w", err)
	}
	if err := p.db.TouchConversation(conversationID, now, "["+kind+"]"); err != nil {
		return "", fmt.Errorf("touch conversation: %w", err)
	}
	p.bus.Emit(bus.KindMessageUpserted, bus.MessageRef{ConversationID: conversationID, MsgID: clientMsgID})

	if err := p.db.QueueOutbox(clientMsgID, conversationID, peerID, body); err != nil {
		return "", fmt.Errorf("queue outbox: %w", err)
	}
	return clientMsgID, nil
}

// Retry restarts a failed send. It is only valid on an entry in `failed`
// state; the message re-enters `sending` and the drain loop picks it up.
func (p *Pipeline) Retry(clientMsgID string) error {
	ok, err := p.db.RequeueOutbox(clientMsgID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("retry %s: entry is not in failed state", clientMsgID)
	}
	entry, err := p.db.GetOutboxEntry(clientMsgID)
	if err != nil {
		return err
	}
	if err := p.db.ResetMessageStatus(entry.ConversationID, clientMsgID, delivery.Sending); err != nil {
		return err
	}
	p.bus.Emit(bus.KindMessageUpserted, bus.MessageRef{ConversationID: entry.ConversationID, MsgID: clientMsgID})
	return nil
}

// Start begins polling the outbox for pending messages.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	go p.loop(ctx)
}

// Stop stops the drain loop.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *Pipeline) loop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pipeline) processPending(ctx context.Context) {
	pending, err := p.db.PendingOutbox()
	if err != nil {
		p.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if err := p.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
			p.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			continue
		}

		serverMsgID, err := p.deliver(ctx, &entry)
		if err != nil {
			p.fail(&entry, err)
			continue
		}
		p.ack(&entry, serverMsgID)
	}
}

// deliver encrypts the body for the peer and sends it. Key resolution uses
// the cache; a rotated key surfaces on the receiving side, not here.
func (p *Pipeline) deliver(ctx context.Context, entry *store.OutboxEntry) (string, error) {
	pk, err := p.keys.Resolve(ctx, entry.PeerID, false)
	if err != nil {
		return "", err
	}
	payload, err := p.engine.Encrypt(entry.Body, entry.PeerID, pk.Key)
	if err != nil {
		return "", err
	}
	wire, err := payload.Encode()
	if err != nil {
		return "", err
	}
	return p.client.SendMessage(ctx, entry.ConversationID, wire)
}

func (p *Pipeline) fail(entry *store.OutboxEntry, sendErr error) {
	retryable := isTransient(sendErr)
	p.logger.Error("failed to send message",
		zap.Error(sendErr),
		zap.String("client_msg_id", entry.ClientMsgID),
		zap.Bool("retryable", retryable))

	if err := p.db.MarkOutboxFailed(entry.ClientMsgID, sendErr.Error(), retryable); err != nil {
		p.logger.Error("failed to mark failed", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
	}
	if _, err := p.db.AdvanceMessageStatus(entry.ConversationID, entry.ClientMsgID, delivery.Failed, time.Now().UnixMilli()); err != nil {
		p.logger.Error("failed to fail message", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
	}
	p.bus.Emit(bus.KindMessageSendFailed, bus.SendFailure{
		ConversationID: entry.ConversationID,
		ClientMsgID:    entry.ClientMsgID,
		Reason:         sendErr.Error(),
		Retryable:      retryable,
	})
}

func (p *Pipeline) ack(entry *store.OutboxEntry, serverMsgID string) {
	if err := p.db.MarkOutboxSent(entry.ClientMsgID, serverMsgID); err != nil {
		p.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
	}
	if err := p.db.RenameMessageID(entry.ConversationID, entry.ClientMsgID, serverMsgID); err != nil {
		p.logger.Error("failed to rename message", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
	}
	if _, err := p.db.AdvanceMessageStatus(entry.ConversationID, serverMsgID, delivery.Sent, time.Now().UnixMilli()); err != nil {
		p.logger.Error("failed to advance message", zap.Error(err), zap.String("server_msg_id", serverMsgID))
	}

	p.logger.Info("message sent", zap.String("client_msg_id", entry.ClientMsgID), zap.String("server_msg_id", serverMsgID))
	p.bus.Emit(bus.KindMessageSendAck, bus.SendAck{
		ConversationID: entry.ConversationID,
		ClientMsgID:    entry.ClientMsgID,
		ServerMsgID:    serverMsgID,
	})
}

// isTransient reports whether an error is worth a user retry. Permanent
// rejections and local crypto failures are not.
func isTransient(err error) bool {
	var netErr *transport.NetworkError
	if errors.As(err, &netErr) {
		return netErr.Transient
	}
	return false
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}
