package daemon

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Joe3124t/pingy/internal/bus"
	"github.com/Joe3124t/pingy/internal/crypto"
	"github.com/Joe3124t/pingy/internal/keyring"
	"github.com/Joe3124t/pingy/internal/lock"
	"github.com/Joe3124t/pingy/internal/outbox"
	"github.com/Joe3124t/pingy/internal/presence"
	"github.com/Joe3124t/pingy/internal/store"
	intsync "github.com/Joe3124t/pingy/internal/sync"
	"github.com/Joe3124t/pingy/internal/transport"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

func TestDaemonLifecycle(t *testing.T) {
	sessionDir := t.TempDir()

	lk, err := lock.Acquire(sessionDir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lk.Release() }()

	db, err := store.Open(filepath.Join(sessionDir, "pingy.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}

	identity, err := crypto.LoadOrCreateIdentity(filepath.Join(sessionDir, "identity.key"))
	if err != nil {
		t.Fatal(err)
	}
	ce, err := crypto.NewEngine(identity)
	if err != nil {
		t.Fatal(err)
	}

	logger := zap.NewNop()
	b := bus.New()
	client := transport.Offline{}
	keys := keyring.NewResolver(db, client, time.Hour, logger)
	pipeline := outbox.NewPipeline(db, ce, keys, client, b, logger)
	tracker := presence.NewTracker(6*time.Second, clock.New(), b, logger)
	engine, err := intsync.New(db, ce, keys, client, tracker, b, logger, 2)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	engine.Start(ctx)
	pipeline.Start(ctx)
	tracker.Start()

	ch, unsub := b.Subscribe("message.", 16)
	defer unsub()

	b.Emit(bus.KindRemoteMessage, transport.RemoteMessage{
		ConversationID: "conv-1",
		MsgID:          "m1",
		SenderID:       "peer-1",
		Kind:           "text",
		Body:           "hello",
		Timestamp:      1000,
	})

	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == bus.KindMessageUpserted {
				goto ingested
			}
		case <-deadline:
			t.Fatal("remote message never reached the store")
		}
	}
ingested:
	msg, err := db.GetMessage("conv-1", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if msg == nil || msg.Body != "hello" {
		t.Fatalf("ingested message = %+v", msg)
	}

	tracker.Stop()
	pipeline.Stop()
	engine.Stop()

	// A second daemon for the same session must be refused.
	if _, err := lock.Acquire(sessionDir); err == nil {
		t.Fatal("second lock acquisition should fail while held")
	}
}
