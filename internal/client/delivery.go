package client

import (
	"fmt"

	"github.com/vwire-io/vwire-device/internal/clock"
	"github.com/vwire-io/vwire-device/internal/pin"
)

// pendingMessage is one slot in the reliable delivery queue.
type pendingMessage struct {
	msgID   string
	pin     int
	value   string
	sentAt  uint32
	retries int
	active  bool
}

// envelope builds the JSON payload published on the data topic. The same
// envelope is resent verbatim on every retry so the server can deduplicate
// by msgId.
func (m *pendingMessage) envelope() []byte {
	return fmt.Appendf(nil, `{"msgId":"%s","pin":"V%d","value":"%s"}`, m.msgID, m.pin, m.value)
}

// deliveryQueue is the fixed-capacity pending message table. Identifier
// uniqueness within the active set is best-effort: the wrapping counter
// alone guarantees it for up to 65536 in-flight allocations, far beyond the
// table's capacity.
type deliveryQueue struct {
	slots   [MaxPendingMessages]pendingMessage
	counter uint16
}

// add allocates a slot for a new reliable send. The value is truncated to
// the pin value length bound before storage.
//
// Returns:
//   - *pendingMessage: The populated slot, valid until the slot is freed
//   - error: ErrQueueFull when every slot is active
func (q *deliveryQueue) add(pinNum int, value string, now uint32) (*pendingMessage, error) {
	slot := -1
	for i := range q.slots {
		if !q.slots[i].active {
			slot = i
			break
		}
	}
	if slot < 0 {
		return nil, ErrQueueFull
	}

	if len(value) > pin.MaxValueLength {
		value = value[:pin.MaxValueLength]
	}

	q.counter++
	q.slots[slot] = pendingMessage{
		msgID:  fmt.Sprintf("%04X_%04d", q.counter, now%10000),
		pin:    pinNum,
		value:  value,
		sentAt: now,
		active: true,
	}

	return &q.slots[slot], nil
}

// take frees the slot holding msgID and returns whether it was present.
// ACKs for identifiers not in the table are duplicates or late arrivals and
// must not disturb any other slot.
func (q *deliveryQueue) take(msgID string) bool {
	for i := range q.slots {
		if q.slots[i].active && q.slots[i].msgID == msgID {
			q.slots[i].active = false
			return true
		}
	}
	return false
}

// pendingCount returns the number of active slots.
func (q *deliveryQueue) pendingCount() int {
	n := 0
	for i := range q.slots {
		if q.slots[i].active {
			n++
		}
	}
	return n
}

// due calls fn for every active slot whose age has reached the ACK timeout.
// fn decides between retry and removal; it receives the slot directly and
// may mutate it.
func (q *deliveryQueue) due(now, ackTimeout uint32, fn func(*pendingMessage)) {
	for i := range q.slots {
		if !q.slots[i].active {
			continue
		}
		if clock.Elapsed(now, q.slots[i].sentAt) >= ackTimeout {
			fn(&q.slots[i])
		}
	}
}
