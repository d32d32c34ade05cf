package transport

import (
	"github.com/Joe3124t/pingy/internal/bus"
	"go.uber.org/zap"
)

// Dispatcher normalizes raw transport events onto the bus. It does NOT call
// the sync engine directly — the engine subscribes to the bus independently.
type Dispatcher struct {
	bus    *bus.Bus
	logger *zap.Logger
}

// NewDispatcher creates a new dispatcher.
func NewDispatcher(b *bus.Bus, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{bus: b, logger: logger}
}

// Handle publishes a transport event under its remote.* kind. Unknown event
// types are logged and dropped.
func (d *Dispatcher) Handle(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *RemoteMessage:
		d.bus.Emit(bus.KindRemoteMessage, *evt)
	case RemoteMessage:
		d.bus.Emit(bus.KindRemoteMessage, evt)
	case *RemoteReceipt:
		d.bus.Emit(bus.KindRemoteReceipt, *evt)
	case RemoteReceipt:
		d.bus.Emit(bus.KindRemoteReceipt, evt)
	case *RemoteReaction:
		d.bus.Emit(bus.KindRemoteReaction, *evt)
	case RemoteReaction:
		d.bus.Emit(bus.KindRemoteReaction, evt)
	case *RemotePresence:
		d.bus.Emit(bus.KindRemotePresence, *evt)
	case RemotePresence:
		d.bus.Emit(bus.KindRemotePresence, evt)
	case *RemoteConversation:
		d.bus.Emit(bus.KindRemoteConversation, *evt)
	case RemoteConversation:
		d.bus.Emit(bus.KindRemoteConversation, evt)
	default:
		if d.logger != nil {
			d.logger.Warn("unhandled transport event", zap.Any("event", rawEvt))
		}
	}
}
