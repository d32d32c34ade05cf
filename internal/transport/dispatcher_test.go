package transport

import (
	"testing"
	"time"

	"github.com/Joe3124t/pingy/internal/bus"
)

func TestDispatcherPublishesRemoteEvents(t *testing.T) {
	b := bus.New()
	d := NewDispatcher(b, nil)

	ch, unsub := b.Subscribe("remote.", 10)
	defer unsub()

	d.Handle(&RemoteMessage{ConversationID: "c1", MsgID: "m1", Body: "hi"})
	d.Handle(&RemoteReceipt{ConversationID: "c1", MsgID: "m1", Status: "read"})

	wantKinds := []string{bus.KindRemoteMessage, bus.KindRemoteReceipt}
	for _, want := range wantKinds {
		select {
		case evt := <-ch:
			if evt.Kind != want {
				t.Errorf("kind = %q, want %q", evt.Kind, want)
			}
			switch evt.Payload.(type) {
			case RemoteMessage, RemoteReceipt:
			default:
				// Subscribers type-switch on values, not pointers.
				t.Errorf("payload type = %T, want a value", evt.Payload)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %s", want)
		}
	}
}

func TestDispatcherDropsUnknownEvents(t *testing.T) {
	b := bus.New()
	d := NewDispatcher(b, nil)
	ch, unsub := b.Subscribe("", 10)
	defer unsub()

	d.Handle("not an event")

	select {
	case evt := <-ch:
		t.Errorf("published %q for unknown event", evt.Kind)
	default:
	}
}
