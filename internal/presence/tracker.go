// Package presence tracks ephemeral peer status: online, typing and
// recording indicators. Everything here lives in memory and resets on
// restart.
package presence

import (
	"sync"
	"time"

	"github.com/Joe3124t/pingy/internal/bus"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Status is a point-in-time view of a conversation's peer.
type Status struct {
	Online    bool
	LastSeen  time.Time
	Typing    bool
	Recording bool
}

type entry struct {
	online    bool
	lastSeen  time.Time
	typing    bool
	recording bool
	// typing and recording expire independently; online does not.
	typingUntil    time.Time
	recordingUntil time.Time
}

// Tracker holds per-conversation presence with TTL-bound activity
// indicators. A typing flag that is never refreshed clears itself after
// the TTL so a dropped stop event cannot leave it stuck.
type Tracker struct {
	ttl    time.Duration
	clock  clock.Clock
	bus    *bus.Bus
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]*entry

	done chan struct{}
	once sync.Once
}

// NewTracker creates a tracker. The clock is injected so expiry is
// testable without sleeping.
func NewTracker(ttl time.Duration, c clock.Clock, b *bus.Bus, logger *zap.Logger) *Tracker {
	if ttl <= 0 {
		ttl = 6 * time.Second
	}
	return &Tracker{
		ttl:     ttl,
		clock:   c,
		bus:     b,
		logger:  logger,
		entries: make(map[string]*entry),
		done:    make(chan struct{}),
	}
}

// Start runs the expiry janitor until Stop is called.
func (t *Tracker) Start() {
	go t.janitor()
}

// Stop halts the janitor. Safe to call more than once.
func (t *Tracker) Stop() {
	t.once.Do(func() { close(t.done) })
}

// SetTyping marks or clears the typing indicator. Marking refreshes the
// TTL window.
func (t *Tracker) SetTyping(conversationID string, typing bool) {
	t.mu.Lock()
	e := t.entry(conversationID)
	e.typing = typing
	if typing {
		e.typingUntil = t.clock.Now().Add(t.ttl)
	}
	snapshot := t.snapshotLocked(conversationID, e)
	t.mu.Unlock()
	t.publish(snapshot)
}

// SetRecording marks or clears the voice-recording indicator.
func (t *Tracker) SetRecording(conversationID string, recording bool) {
	t.mu.Lock()
	e := t.entry(conversationID)
	e.recording = recording
	if recording {
		e.recordingUntil = t.clock.Now().Add(t.ttl)
	}
	snapshot := t.snapshotLocked(conversationID, e)
	t.mu.Unlock()
	t.publish(snapshot)
}

// SetOnline records the peer's connectivity. Going offline also clears
// activity indicators since a disconnected peer cannot be typing.
func (t *Tracker) SetOnline(conversationID string, online bool, lastSeen time.Time) {
	t.mu.Lock()
	e := t.entry(conversationID)
	e.online = online
	if !lastSeen.IsZero() {
		e.lastSeen = lastSeen
	}
	if !online {
		e.typing = false
		e.recording = false
	}
	snapshot := t.snapshotLocked(conversationID, e)
	t.mu.Unlock()
	t.publish(snapshot)
}

// Observe returns the current status with expiry already applied.
func (t *Tracker) Observe(conversationID string) Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[conversationID]
	if !ok {
		return Status{}
	}
	t.expireLocked(e, t.clock.Now())
	return Status{
		Online:    e.online,
		LastSeen:  e.lastSeen,
		Typing:    e.typing,
		Recording: e.recording,
	}
}

func (t *Tracker) entry(conversationID string) *entry {
	e, ok := t.entries[conversationID]
	if !ok {
		e = &entry{}
		t.entries[conversationID] = e
	}
	return e
}

func (t *Tracker) expireLocked(e *entry, now time.Time) {
	if e.typing && now.After(e.typingUntil) {
		e.typing = false
	}
	if e.recording && now.After(e.recordingUntil) {
		e.recording = false
	}
}

func (t *Tracker) snapshotLocked(conversationID string, e *entry) bus.PresenceChange {
	return bus.PresenceChange{
		ConversationID: conversationID,
		Online:         e.online,
		Typing:         e.typing,
		Recording:      e.recording,
	}
}

func (t *Tracker) publish(change bus.PresenceChange) {
	if t.bus != nil {
		t.bus.Emit(bus.KindPresenceChanged, change)
	}
}

// janitor sweeps expired indicators and publishes the transitions so the
// UI sees "typing" disappear without a fresh remote event.
func (t *Tracker) janitor() {
	ticker := t.clock.Ticker(t.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.sweep()
		}
	}
}

func (t *Tracker) sweep() {
	now := t.clock.Now()
	var changed []bus.PresenceChange
	t.mu.Lock()
	for id, e := range t.entries {
		wasTyping, wasRecording := e.typing, e.recording
		t.expireLocked(e, now)
		if e.typing != wasTyping || e.recording != wasRecording {
			changed = append(changed, t.snapshotLocked(id, e))
		}
	}
	t.mu.Unlock()
	for _, c := range changed {
		t.publish(c)
	}
}
