// Package keyring resolves and caches peer public key material.
package keyring

import (
	"context"
	"crypto/ecdh"
	"fmt"
	"sync"
	"time"

	"github.com/Joe3124t/pingy/internal/crypto"
	"github.com/Joe3124t/pingy/internal/store"
	"github.com/Joe3124t/pingy/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// PeerKey is resolved peer key material.
type PeerKey struct {
	PeerID    string
	Key       *ecdh.PublicKey
	JWK       []byte
	FetchedAt time.Time
}

// Resolver caches peer keys in memory and in the peer_keys table, refreshing
// over the transport when forced or when the TTL has lapsed.
type Resolver struct {
	db     *store.DB
	client transport.Client
	ttl    time.Duration
	logger *zap.Logger

	group singleflight.Group

	mu    sync.RWMutex
	cache map[string]*PeerKey
}

// NewResolver creates a resolver with the given cache TTL.
func NewResolver(db *store.DB, client transport.Client, ttl time.Duration, logger *zap.Logger) *Resolver {
	return &Resolver{
		db:     db,
		client: client,
		ttl:    ttl,
		logger: logger,
		cache:  make(map[string]*PeerKey),
	}
}

// Resolve returns the peer's current key. Without force it serves from the
// memory cache, then the persisted cache, as long as the entry is within
// TTL. Forced or expired resolves fetch from the network; concurrent
// refreshes for the same peer converge on a single fetch.
func (r *Resolver) Resolve(ctx context.Context, peerID string, force bool) (*PeerKey, error) {
	if !force {
		if pk := r.cached(peerID); pk != nil {
			return pk, nil
		}
		if pk, err := r.persisted(peerID); err != nil {
			return nil, err
		} else if pk != nil {
			r.put(pk)
			return pk, nil
		}
	}
	return r.fetch(ctx, peerID, force)
}

// Invalidate drops a peer's cached key everywhere. Idempotent: a second
// concurrent invalidation of the same peer is a no-op.
func (r *Resolver) Invalidate(peerID string) error {
	r.mu.Lock()
	delete(r.cache, peerID)
	r.mu.Unlock()
	return r.db.DeletePeerKey(peerID)
}

func (r *Resolver) cached(peerID string) *PeerKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pk, ok := r.cache[peerID]
	if !ok || r.expired(pk) {
		return nil
	}
	return pk
}

func (r *Resolver) persisted(peerID string) (*PeerKey, error) {
	row, err := r.db.GetPeerKey(peerID)
	if err != nil {
		return nil, fmt.Errorf("read peer key: %w", err)
	}
	if row == nil {
		return nil, nil
	}
	pk, err := parseRow(row)
	if err != nil {
		return nil, err
	}
	if r.expired(pk) {
		return nil, nil
	}
	return pk, nil
}

func (r *Resolver) fetch(ctx context.Context, peerID string, force bool) (*PeerKey, error) {
	// Forced refreshes fly separately from plain fetches: a forced caller
	// must never be handed the result of an in-flight unforced fetch.
	flight := peerID
	if force {
		flight = peerID + "/force"
	}
	v, err, _ := r.group.Do(flight, func() (any, error) {
		jwk, err := r.client.FetchPeerKey(ctx, peerID, force)
		if err != nil {
			return nil, fmt.Errorf("fetch peer key: %w", err)
		}
		key, err := crypto.ParseJWK(jwk)
		if err != nil {
			return nil, fmt.Errorf("peer %s: %w", peerID, err)
		}
		pk := &PeerKey{PeerID: peerID, Key: key, JWK: jwk, FetchedAt: time.Now()}
		if err := r.db.PutPeerKey(peerID, string(jwk)); err != nil {
			return nil, fmt.Errorf("persist peer key: %w", err)
		}
		r.put(pk)
		if r.logger != nil {
			r.logger.Info("peer key refreshed", zap.String("peer_id", peerID), zap.Bool("forced", force))
		}
		return pk, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*PeerKey), nil
}

func (r *Resolver) put(pk *PeerKey) {
	r.mu.Lock()
	r.cache[pk.PeerID] = pk
	r.mu.Unlock()
}

func (r *Resolver) expired(pk *PeerKey) bool {
	return r.ttl > 0 && time.Since(pk.FetchedAt) > r.ttl
}

func parseRow(row *store.PeerKeyRow) (*PeerKey, error) {
	key, err := crypto.ParseJWK([]byte(row.JWK))
	if err != nil {
		return nil, fmt.Errorf("peer %s: %w", row.PeerID, err)
	}
	return &PeerKey{
		PeerID:    row.PeerID,
		Key:       key,
		JWK:       []byte(row.JWK),
		FetchedAt: time.UnixMilli(row.FetchedAt),
	}, nil
}
