package client

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func newReliableClient(t *testing.T) (*Client, *fakeTransport, *clockAdvancer) {
	t.Helper()
	c, transport, _, clk := newTestClient(t, testSettings())
	if err := c.BeginAttached(); err != nil {
		t.Fatalf("BeginAttached() error = %v", err)
	}
	return c, transport, &clockAdvancer{clk: clk, c: c}
}

// clockAdvancer advances the fake clock and runs the loop once, mirroring
// how the cooperative loop observes time passing.
type clockAdvancer struct {
	clk interface{ Advance(uint32) }
	c   *Client
}

func (a *clockAdvancer) step(ms uint32) {
	a.clk.Advance(ms)
	a.c.Run()
}

func TestReliableSend_PublishesEnvelope(t *testing.T) {
	c, transport, _ := newReliableClient(t)

	if err := c.VirtualSendString(3, "42"); err != nil {
		t.Fatalf("VirtualSendString() error = %v", err)
	}

	data := transport.published("vwire/dev1/data")
	if len(data) != 1 {
		t.Fatalf("data publishes = %d, want 1", len(data))
	}
	payload := data[0].payload
	for _, want := range []string{`"msgId":"`, `"pin":"V3"`, `"value":"42"`} {
		if !strings.Contains(payload, want) {
			t.Errorf("envelope %q missing %q", payload, want)
		}
	}

	if c.PendingCount() != 1 {
		t.Errorf("PendingCount = %d, want 1", c.PendingCount())
	}
	if !c.DeliveryPending() {
		t.Error("DeliveryPending = false with a slot active")
	}

	// Nothing published on the fire-and-forget pin topic.
	if got := transport.published("vwire/dev1/pin/V3"); len(got) != 0 {
		t.Errorf("unexpected pin topic publishes: %+v", got)
	}
}

func TestRetrySchedule(t *testing.T) {
	c, transport, adv := newReliableClient(t)

	var failedID string
	fails := 0
	c.OnDeliveryStatus(func(msgID string, ok bool) {
		if !ok {
			failedID = msgID
			fails++
		}
	})

	if err := c.VirtualSendString(3, "42"); err != nil {
		t.Fatalf("VirtualSendString() error = %v", err)
	}

	dataCount := func() int { return len(transport.published("vwire/dev1/data")) }

	// Just before the ACK timeout: no retry yet.
	adv.step(DefaultAckTimeout - 1)
	if got := dataCount(); got != 1 {
		t.Fatalf("publishes before timeout = %d, want 1", got)
	}

	// Retries land at 5s, 10s, 15s after the initial send.
	adv.step(1)
	if got := dataCount(); got != 2 {
		t.Fatalf("publishes after 1st timeout = %d, want 2", got)
	}
	adv.step(DefaultAckTimeout)
	if got := dataCount(); got != 3 {
		t.Fatalf("publishes after 2nd timeout = %d, want 3", got)
	}
	adv.step(DefaultAckTimeout)
	if got := dataCount(); got != 4 {
		t.Fatalf("publishes after 3rd timeout = %d, want 4", got)
	}
	if fails != 0 {
		t.Fatalf("failure reported before retries exhausted")
	}

	// Fourth timeout: retries exhausted, slot freed, failure reported once.
	adv.step(DefaultAckTimeout)
	if got := dataCount(); got != 4 {
		t.Errorf("publishes after exhaustion = %d, want 4", got)
	}
	if fails != 1 {
		t.Fatalf("failure callbacks = %d, want 1", fails)
	}
	if failedID == "" || failedID == QueueFullID {
		t.Errorf("failedID = %q, want the message's own ID", failedID)
	}
	if c.PendingCount() != 0 {
		t.Errorf("PendingCount = %d after drop, want 0", c.PendingCount())
	}

	// Nothing further ever happens for this message.
	adv.step(10 * DefaultAckTimeout)
	if fails != 1 {
		t.Errorf("failure reported again after drop")
	}
}

func TestAckResolvesPending(t *testing.T) {
	c, transport, _ := newReliableClient(t)

	var gotID string
	var gotOK bool
	calls := 0
	c.OnDeliveryStatus(func(msgID string, ok bool) { gotID, gotOK, calls = msgID, ok, calls+1 })

	if err := c.VirtualSendString(3, "42"); err != nil {
		t.Fatalf("VirtualSendString() error = %v", err)
	}

	payload := transport.published("vwire/dev1/data")[0].payload
	msgID := extractMsgID(t, payload)

	transport.deliver("vwire/dev1/ack", fmt.Sprintf(`{"msgId":"%s","ok":true}`, msgID))
	c.Run()

	if calls != 1 || gotID != msgID || !gotOK {
		t.Errorf("delivery callback = (%q, %v) x%d, want (%q, true) x1", gotID, gotOK, calls, msgID)
	}
	if c.PendingCount() != 0 {
		t.Errorf("PendingCount = %d after ACK, want 0", c.PendingCount())
	}
}

func TestNackReportsFailure(t *testing.T) {
	c, transport, _ := newReliableClient(t)

	var gotOK bool
	c.OnDeliveryStatus(func(_ string, ok bool) { gotOK = ok })

	if err := c.VirtualSendString(3, "x"); err != nil {
		t.Fatalf("VirtualSendString() error = %v", err)
	}
	msgID := extractMsgID(t, transport.published("vwire/dev1/data")[0].payload)

	transport.deliver("vwire/dev1/ack", fmt.Sprintf(`{"msgId":"%s","ok":false}`, msgID))
	c.Run()

	if gotOK {
		t.Error("NACK reported as success")
	}
	if c.PendingCount() != 0 {
		t.Error("slot still active after NACK")
	}
}

func TestDuplicateAckIgnored(t *testing.T) {
	c, transport, _ := newReliableClient(t)

	calls := 0
	c.OnDeliveryStatus(func(string, bool) { calls++ })

	if err := c.VirtualSendString(3, "a"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := c.VirtualSendString(4, "b"); err != nil {
		t.Fatalf("send: %v", err)
	}
	msgID := extractMsgID(t, transport.published("vwire/dev1/data")[0].payload)

	ack := fmt.Sprintf(`{"msgId":"%s","ok":true}`, msgID)
	transport.deliver("vwire/dev1/ack", ack)
	c.Run()
	transport.deliver("vwire/dev1/ack", ack)
	c.Run()

	if calls != 1 {
		t.Errorf("delivery callbacks = %d, want 1 (duplicate ignored)", calls)
	}
	if c.PendingCount() != 1 {
		t.Errorf("PendingCount = %d, want 1 (other slot untouched)", c.PendingCount())
	}
}

func TestQueueFull(t *testing.T) {
	c, _, _ := newReliableClient(t)

	var lastID string
	fails := 0
	c.OnDeliveryStatus(func(msgID string, ok bool) {
		if !ok {
			lastID = msgID
			fails++
		}
	})

	for i := 0; i < MaxPendingMessages; i++ {
		if err := c.VirtualSendInt(1, i); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	err := c.VirtualSendInt(1, 99)
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	if fails != 1 || lastID != QueueFullID {
		t.Errorf("callback = (%q) x%d, want (%q) x1", lastID, fails, QueueFullID)
	}
	if !errors.Is(c.LastError(), ErrQueueFull) {
		t.Errorf("LastError = %v, want ErrQueueFull", c.LastError())
	}
}

func TestMsgIDsUniqueAmongActive(t *testing.T) {
	c, transport, _ := newReliableClient(t)

	for i := 0; i < MaxPendingMessages; i++ {
		if err := c.VirtualSendInt(1, i); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	seen := make(map[string]bool)
	for _, p := range transport.published("vwire/dev1/data") {
		id := extractMsgID(t, p.payload)
		if seen[id] {
			t.Errorf("duplicate msgId %q among active slots", id)
		}
		seen[id] = true
	}
}

func TestValueTruncatedInEnvelope(t *testing.T) {
	c, transport, _ := newReliableClient(t)

	long := strings.Repeat("z", 200)
	if err := c.VirtualSendString(2, long); err != nil {
		t.Fatalf("send: %v", err)
	}

	payload := transport.published("vwire/dev1/data")[0].payload
	if strings.Contains(payload, long) {
		t.Error("oversize value stored without truncation")
	}
	if !strings.Contains(payload, strings.Repeat("z", 64)) {
		t.Error("truncated value missing from envelope")
	}
}

func extractMsgID(t *testing.T, payload string) string {
	t.Helper()
	const key = `"msgId":"`
	start := strings.Index(payload, key)
	if start < 0 {
		t.Fatalf("no msgId in %q", payload)
	}
	start += len(key)
	end := strings.IndexByte(payload[start:], '"')
	return payload[start : start+end]
}
