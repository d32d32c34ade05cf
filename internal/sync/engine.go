// Package sync is the engine facade. It consumes remote events from the
// bus, applies them to the store, schedules decryption, and exposes the
// read surface the UI layer consumes.
package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/Joe3124t/pingy/internal/bus"
	"github.com/Joe3124t/pingy/internal/crypto"
	"github.com/Joe3124t/pingy/internal/delivery"
	"github.com/Joe3124t/pingy/internal/keyring"
	"github.com/Joe3124t/pingy/internal/presence"
	"github.com/Joe3124t/pingy/internal/store"
	"github.com/Joe3124t/pingy/internal/transport"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	encryptedPreview = "[encrypted]"
	maxPendingEvents = 512
	plaintextCacheN  = 1024
)

// Engine composes the store, crypto, key resolution and presence into a
// single event-driven facade.
type Engine struct {
	db       *store.DB
	crypto   *crypto.Engine
	keys     *keyring.Resolver
	client   transport.Client
	presence *presence.Tracker
	bus      *bus.Bus
	logger   *zap.Logger

	decryptSem *semaphore.Weighted
	plaintext  *lru.Cache // "<conv>/<msg>" -> decrypted text

	mu sync.Mutex
	// inflight maps message key to the fingerprint of the body being
	// decrypted, so a replaced body makes the result stale.
	inflight map[string]string
	// receipts/reactions for messages that have not arrived yet; replayed
	// on arrival, capped to bound memory under event storms.
	pendingReceipts  map[string][]transport.RemoteReceipt
	pendingReactions map[string][]transport.RemoteReaction
	pendingCount     int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the engine. decryptWorkers bounds concurrent decrypt tasks.
func New(db *store.DB, ce *crypto.Engine, keys *keyring.Resolver, client transport.Client, pt *presence.Tracker, b *bus.Bus, logger *zap.Logger, decryptWorkers int) (*Engine, error) {
	if decryptWorkers <= 0 {
		decryptWorkers = 4
	}
	cache, err := lru.New(plaintextCacheN)
	if err != nil {
		return nil, err
	}
	return &Engine{
		db:               db,
		crypto:           ce,
		keys:             keys,
		client:           client,
		presence:         pt,
		bus:              b,
		logger:           logger,
		decryptSem:       semaphore.NewWeighted(int64(decryptWorkers)),
		plaintext:        cache,
		inflight:         make(map[string]string),
		pendingReceipts:  make(map[string][]transport.RemoteReceipt),
		pendingReactions: make(map[string][]transport.RemoteReaction),
	}, nil
}

// Start subscribes to remote events and processes them until Stop.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	events, unsubscribe := e.bus.Subscribe("remote.", 256)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-events:
				e.handle(ctx, evt)
			}
		}
	}()
}

// Stop halts event processing and waits for in-flight work.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

func (e *Engine) handle(ctx context.Context, evt bus.Event) {
	switch payload := evt.Payload.(type) {
	case transport.RemoteMessage:
		if err := e.IngestMessage(ctx, payload); err != nil {
			e.logger.Error("ingest message", zap.String("msg_id", payload.MsgID), zap.Error(err))
		}
	case transport.RemoteReceipt:
		if err := e.ApplyReceipt(payload); err != nil {
			e.logger.Error("apply receipt", zap.String("msg_id", payload.MsgID), zap.Error(err))
		}
	case transport.RemoteReaction:
		if err := e.ApplyReaction(payload); err != nil {
			e.logger.Error("apply reaction", zap.String("msg_id", payload.MsgID), zap.Error(err))
		}
	case transport.RemotePresence:
		e.applyPresence(payload)
	case transport.RemoteConversation:
		if err := e.ApplyConversation(payload); err != nil {
			e.logger.Error("apply conversation", zap.String("conversation_id", payload.ID), zap.Error(err))
		}
	}
}

// IngestMessage applies one inbound message idempotently. Encrypted bodies
// are stored as-is and decryption is scheduled in the background; the
// plaintext never reaches the store.
func (e *Engine) IngestMessage(ctx context.Context, rm transport.RemoteMessage) error {
	body := crypto.DecodeBody(rm.Body)

	if err := e.ensureConversation(rm); err != nil {
		return err
	}
	existing, err := e.db.GetMessage(rm.ConversationID, rm.MsgID)
	if err != nil {
		return err
	}
	preview := previewFor(body, rm.Kind)
	if err := e.db.TouchConversation(rm.ConversationID, rm.Timestamp, preview); err != nil {
		return err
	}
	// A redelivered message must not bump the unread counter again.
	if existing == nil && !rm.FromMe {
		if err := e.db.IncrementUnread(rm.ConversationID); err != nil {
			return err
		}
	}

	status := delivery.Received
	if rm.FromMe {
		status = delivery.Sent
	}
	msg := &store.Message{
		ConversationID: rm.ConversationID,
		MsgID:          rm.MsgID,
		SenderID:       rm.SenderID,
		Kind:           rm.Kind,
		Body:           rm.Body,
		BodyKind:       string(body.Kind),
		FromMe:         rm.FromMe,
		Status:         string(status),
		ReplyTo:        rm.ReplyTo,
		CreatedAt:      rm.Timestamp,
	}
	if existing != nil && existing.Body != rm.Body {
		// The body was replaced: any in-flight decrypt of the old body is
		// stale, and so is its cached plaintext.
		key := messageKey(rm.ConversationID, rm.MsgID)
		e.mu.Lock()
		delete(e.inflight, key)
		e.mu.Unlock()
		e.plaintext.Remove(key)
	}
	if err := e.db.UpsertMessage(msg); err != nil {
		return err
	}
	e.bus.Emit(bus.KindMessageUpserted, bus.MessageRef{ConversationID: rm.ConversationID, MsgID: rm.MsgID})
	e.bus.Emit(bus.KindConversationUpdate, bus.ConversationRef{ConversationID: rm.ConversationID})

	e.replayPending(rm.ConversationID, rm.MsgID)

	if body.Kind == crypto.BodyEncrypted {
		e.scheduleDecrypt(ctx, rm, body.Payload)
	}
	return nil
}

// ApplyReceipt advances delivery state. Receipts for unknown messages are
// buffered and replayed when the message arrives; late receipts that would
// regress state are dropped.
func (e *Engine) ApplyReceipt(rr transport.RemoteReceipt) error {
	state, err := delivery.Parse(rr.Status)
	if err != nil || (state != delivery.Delivered && state != delivery.Read) {
		// Unknown receipt statuses are dropped, not errors.
		return nil
	}
	msg, err := e.db.GetMessage(rr.ConversationID, rr.MsgID)
	if err != nil {
		return err
	}
	if msg == nil {
		e.bufferReceipt(rr)
		return nil
	}
	advanced, err := e.db.AdvanceMessageStatus(rr.ConversationID, rr.MsgID, state, rr.Timestamp)
	if err != nil {
		return err
	}
	if advanced {
		e.bus.Emit(bus.KindMessageUpserted, bus.MessageRef{ConversationID: rr.ConversationID, MsgID: rr.MsgID})
	}
	return nil
}

// ApplyReaction adjusts a reaction count, buffering for unknown messages.
func (e *Engine) ApplyReaction(rr transport.RemoteReaction) error {
	applied, err := e.db.AdjustReaction(rr.ConversationID, rr.MsgID, rr.Emoji, rr.Delta)
	if err != nil {
		return err
	}
	if !applied {
		e.bufferReaction(rr)
		return nil
	}
	e.bus.Emit(bus.KindMessageUpserted, bus.MessageRef{ConversationID: rr.ConversationID, MsgID: rr.MsgID})
	return nil
}

// ApplyConversation refreshes a server conversation record. Overlay state
// lives in its own table and is untouched.
func (e *Engine) ApplyConversation(rc transport.RemoteConversation) error {
	err := e.db.UpsertConversation(&store.Conversation{
		ID:                 rc.ID,
		PeerID:             rc.PeerID,
		PeerName:           rc.PeerName,
		Online:             rc.Online,
		LastSeen:           rc.LastSeen,
		LastMessageAt:      rc.LastMessageAt,
		LastMessagePreview: rc.LastMessagePreview,
		UnreadCount:        rc.UnreadCount,
	})
	if err != nil {
		return err
	}
	e.bus.Emit(bus.KindConversationUpdate, bus.ConversationRef{ConversationID: rc.ID})
	return nil
}

func (e *Engine) applyPresence(rp transport.RemotePresence) {
	if e.presence == nil {
		return
	}
	var lastSeen time.Time
	if rp.LastSeen > 0 {
		lastSeen = time.Unix(rp.LastSeen, 0)
	}
	e.presence.SetOnline(rp.ConversationID, rp.Online, lastSeen)
	if rp.Online {
		e.presence.SetTyping(rp.ConversationID, rp.Typing)
		e.presence.SetRecording(rp.ConversationID, rp.Recording)
	}
}

func (e *Engine) ensureConversation(rm transport.RemoteMessage) error {
	view, err := e.db.GetConversation(rm.ConversationID)
	if err != nil {
		return err
	}
	if view != nil {
		return nil
	}
	peerID := rm.SenderID
	if rm.FromMe {
		peerID = ""
	}
	return e.db.UpsertConversation(&store.Conversation{
		ID:     rm.ConversationID,
		PeerID: peerID,
	})
}

// bufferReceipt parks a receipt for a not-yet-known message. The buffer
// is capped; over the cap the event is dropped with a log line.
func (e *Engine) bufferReceipt(rr transport.RemoteReceipt) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.reservePendingLocked(rr.ConversationID, rr.MsgID) {
		return
	}
	key := messageKey(rr.ConversationID, rr.MsgID)
	e.pendingReceipts[key] = append(e.pendingReceipts[key], rr)
}

func (e *Engine) bufferReaction(rr transport.RemoteReaction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.reservePendingLocked(rr.ConversationID, rr.MsgID) {
		return
	}
	key := messageKey(rr.ConversationID, rr.MsgID)
	e.pendingReactions[key] = append(e.pendingReactions[key], rr)
}

func (e *Engine) reservePendingLocked(conversationID, msgID string) bool {
	if e.pendingCount >= maxPendingEvents {
		e.logger.Warn("pending event buffer full, dropping event",
			zap.String("conversation_id", conversationID),
			zap.String("msg_id", msgID))
		return false
	}
	e.pendingCount++
	return true
}

func (e *Engine) replayPending(conversationID, msgID string) {
	key := messageKey(conversationID, msgID)
	e.mu.Lock()
	receipts := e.pendingReceipts[key]
	reactions := e.pendingReactions[key]
	delete(e.pendingReceipts, key)
	delete(e.pendingReactions, key)
	e.pendingCount -= len(receipts) + len(reactions)
	e.mu.Unlock()

	for _, rr := range receipts {
		if err := e.ApplyReceipt(rr); err != nil {
			e.logger.Error("replay receipt", zap.String("msg_id", msgID), zap.Error(err))
		}
	}
	for _, rr := range reactions {
		if err := e.ApplyReaction(rr); err != nil {
			e.logger.Error("replay reaction", zap.String("msg_id", msgID), zap.Error(err))
		}
	}
}

func previewFor(body crypto.Body, kind string) string {
	switch {
	case kind != "" && kind != "text":
		return "[" + kind + "]"
	case body.Kind == crypto.BodyPlain:
		return truncate(body.Text, 80)
	default:
		return encryptedPreview
	}
}

func messageKey(conversationID, msgID string) string {
	return conversationID + "/" + msgID
}

func fingerprint(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:8])
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}
