package client

import (
	"fmt"

	"github.com/vwire-io/vwire-device/internal/pin"
)

// Callback signatures for client events.
type (
	// PinHandler receives the value of an inbound virtual pin command.
	PinHandler func(value pin.Value)

	// RawHandler observes every inbound message before dispatch. It never
	// short-circuits further routing.
	RawHandler func(topic string, payload string)

	// ConnectionHandler fires on connect or disconnect.
	ConnectionHandler func()

	// DeliveryHandler reports the final outcome of a reliable send. For a
	// send rejected because the queue was full, msgID is QueueFullID.
	DeliveryHandler func(msgID string, ok bool)
)

// QueueFullID is the sentinel message identifier passed to a DeliveryHandler
// when a reliable send is rejected before a message ID could be allocated.
const QueueFullID = "queue_full"

type handlerEntry struct {
	pin     int
	handler PinHandler
	active  bool
}

// HandlerSet is a declarative table of pin handlers and connection callbacks
// that the application assembles before starting the client. It plays the
// fallback role in dispatch: handlers registered directly on the client are
// checked first, then the set. At most one handler fires per message.
//
// HandlerSet is append-only and not safe for concurrent use; build it fully
// before passing it to New.
type HandlerSet struct {
	entries [MaxHandlers]handlerEntry
	count   int

	onConnect    ConnectionHandler
	onDisconnect ConnectionHandler
}

// NewHandlerSet returns an empty handler set.
func NewHandlerSet() *HandlerSet {
	return &HandlerSet{}
}

// Pin registers a handler for a virtual pin.
//
// Returns:
//   - error: ErrInvalidPin if the pin is out of range, ErrHandlerTableFull
//     if the table is exhausted
func (h *HandlerSet) Pin(pinNum int, handler PinHandler) error {
	if pinNum < 0 || pinNum >= MaxVirtualPins {
		return fmt.Errorf("%w: %d", ErrInvalidPin, pinNum)
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for pin %d", ErrInvalidPin, pinNum)
	}
	if h.count >= MaxHandlers {
		return ErrHandlerTableFull
	}

	h.entries[h.count] = handlerEntry{pin: pinNum, handler: handler, active: true}
	h.count++
	return nil
}

// Connect registers a callback fired after every successful broker connect.
func (h *HandlerSet) Connect(handler ConnectionHandler) {
	h.onConnect = handler
}

// Disconnect registers a callback fired when an established session is lost.
func (h *HandlerSet) Disconnect(handler ConnectionHandler) {
	h.onDisconnect = handler
}

// lookup returns the first active handler for the pin, or nil.
func (h *HandlerSet) lookup(pinNum int) PinHandler {
	for i := 0; i < h.count; i++ {
		if h.entries[i].active && h.entries[i].pin == pinNum {
			return h.entries[i].handler
		}
	}
	return nil
}
