package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/Joe3124t/pingy/internal/bus"
	"github.com/Joe3124t/pingy/internal/crypto"
	"github.com/Joe3124t/pingy/internal/store"
	"github.com/Joe3124t/pingy/internal/transport"
	"go.uber.org/zap"
)

// scheduleDecrypt queues a bounded background decrypt for one message. The
// task is keyed by message identity plus a body fingerprint: if the body is
// replaced while the task runs, its result is stale and discarded.
func (e *Engine) scheduleDecrypt(ctx context.Context, rm transport.RemoteMessage, payload *crypto.Payload) {
	key := messageKey(rm.ConversationID, rm.MsgID)
	fp := fingerprint(rm.Body)

	e.mu.Lock()
	if e.inflight[key] == fp {
		e.mu.Unlock()
		return
	}
	e.inflight[key] = fp
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.decryptSem.Acquire(ctx, 1); err != nil {
			e.clearInflight(key, fp)
			return
		}
		defer e.decryptSem.Release(1)
		e.decryptOne(ctx, rm, payload, key, fp)
	}()
}

func (e *Engine) decryptOne(ctx context.Context, rm transport.RemoteMessage, payload *crypto.Payload, key, fp string) {
	peerID, err := e.decryptPeer(rm)
	if err != nil {
		e.logger.Warn("decrypt deferred, no peer for message",
			zap.String("msg_id", rm.MsgID), zap.Error(err))
		e.clearInflight(key, fp)
		return
	}

	text, err := e.decryptWithRecovery(ctx, payload, peerID)
	if !e.clearInflight(key, fp) {
		// A newer body arrived while we worked; whatever we produced
		// belongs to the old identity.
		return
	}

	ref := bus.MessageRef{ConversationID: rm.ConversationID, MsgID: rm.MsgID}
	if err != nil {
		// Only a cryptographic failure earns the permanent corrupted
		// label. A resolve or transport failure leaves the message in
		// its encrypted pending state; a later ingest or restart will
		// schedule it again.
		var decErr *crypto.DecryptionError
		if !errors.As(err, &decErr) {
			e.logger.Warn("decrypt deferred, key resolve failed",
				zap.String("msg_id", rm.MsgID),
				zap.String("peer_id", peerID),
				zap.Error(err))
			return
		}
		e.logger.Warn("decrypt failed after forced key refresh",
			zap.String("msg_id", rm.MsgID),
			zap.String("peer_id", peerID),
			zap.Error(err))
		if dbErr := e.db.MarkMessageCorrupted(rm.ConversationID, rm.MsgID); dbErr != nil {
			e.logger.Error("mark corrupted", zap.String("msg_id", rm.MsgID), zap.Error(dbErr))
		}
		e.bus.Emit(bus.KindMessageCorrupted, ref)
		return
	}

	e.plaintext.Add(key, text)
	e.bus.Emit(bus.KindMessageDecrypted, ref)
}

// decryptWithRecovery attempts decryption with the cached key, and on
// failure invalidates the session, force-refreshes the peer key, and
// retries exactly once. A second failure is final.
func (e *Engine) decryptWithRecovery(ctx context.Context, payload *crypto.Payload, peerID string) (string, error) {
	pk, err := e.keys.Resolve(ctx, peerID, false)
	if err != nil {
		return "", err
	}
	text, err := e.crypto.Decrypt(payload, peerID, pk.Key)
	if err == nil {
		return text, nil
	}

	e.crypto.InvalidateSession(peerID)
	if invErr := e.keys.Invalidate(peerID); invErr != nil {
		e.logger.Warn("invalidate peer key", zap.String("peer_id", peerID), zap.Error(invErr))
	}
	pk, rerr := e.keys.Resolve(ctx, peerID, true)
	if rerr != nil {
		return "", rerr
	}
	return e.crypto.Decrypt(payload, peerID, pk.Key)
}

// decryptPeer picks the key owner for a message: the sender for inbound,
// the conversation peer for our own messages synced from another device.
func (e *Engine) decryptPeer(rm transport.RemoteMessage) (string, error) {
	if !rm.FromMe {
		return rm.SenderID, nil
	}
	view, err := e.db.GetConversation(rm.ConversationID)
	if err != nil {
		return "", err
	}
	if view == nil {
		return "", store.ErrNotFound
	}
	if view.PeerID == "" {
		// First contact synced from our own device: the peer is not
		// known yet, so there is no key to resolve.
		return "", fmt.Errorf("conversation %s has no peer", rm.ConversationID)
	}
	return view.PeerID, nil
}

// clearInflight removes the task entry if it still owns the key. It
// returns false when a newer fingerprint replaced it.
func (e *Engine) clearInflight(key, fp string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inflight[key] != fp {
		return false
	}
	delete(e.inflight, key)
	return true
}

// Plaintext returns the decrypted text for a message if it is in the
// transient cache. Plaintext is never persisted.
func (e *Engine) Plaintext(conversationID, msgID string) (string, bool) {
	v, ok := e.plaintext.Get(messageKey(conversationID, msgID))
	if !ok {
		return "", false
	}
	return v.(string), true
}
