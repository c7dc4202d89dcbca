package client

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vwire-io/vwire-device/internal/clock"
	"github.com/vwire-io/vwire-device/internal/pin"
)

// =============================================================================
// Fakes
// =============================================================================

type pubRecord struct {
	topic    string
	payload  string
	qos      byte
	retained bool
}

type fakeTransport struct {
	connected  bool
	connectErr error
	connects   int
	lastOpts   ConnectOptions
	pubs       []pubRecord
	subs       []string
	inbound    chan Message
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{inbound: make(chan Message, 32)}
}

func (t *fakeTransport) Connect(opts ConnectOptions) error {
	t.connects++
	t.lastOpts = opts
	if t.connectErr != nil {
		return t.connectErr
	}
	t.connected = true
	return nil
}

func (t *fakeTransport) Disconnect(time.Duration) { t.connected = false }
func (t *fakeTransport) Connected() bool          { return t.connected }

func (t *fakeTransport) Publish(topic string, payload []byte, qos byte, retained bool) error {
	t.pubs = append(t.pubs, pubRecord{topic: topic, payload: string(payload), qos: qos, retained: retained})
	return nil
}

func (t *fakeTransport) Subscribe(topic string, _ byte) error {
	t.subs = append(t.subs, topic)
	return nil
}

func (t *fakeTransport) Messages() <-chan Message { return t.inbound }

func (t *fakeTransport) published(topic string) []pubRecord {
	var out []pubRecord
	for _, p := range t.pubs {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (t *fakeTransport) deliver(topic, payload string) {
	t.inbound <- Message{Topic: topic, Payload: []byte(payload)}
}

type fakeNetwork struct {
	connected   bool
	joinErr     error
	joinedSSID  string
	joinSuccess bool
}

func (n *fakeNetwork) StartJoin(ssid, _ string) error {
	n.joinedSSID = ssid
	if n.joinErr != nil {
		return n.joinErr
	}
	if n.joinSuccess {
		n.connected = true
	}
	return nil
}

func (n *fakeNetwork) Connected() bool { return n.connected }
func (n *fakeNetwork) RSSI() int       { return -55 }
func (n *fakeNetwork) IP() string      { return "192.168.4.20" }

func testSettings() Settings {
	s := DefaultSettings()
	s.Token = "test-token"
	s.JoinPoll = time.Millisecond
	s.NetworkTimeout = 50
	return s
}

func newTestClient(t *testing.T, settings Settings) (*Client, *fakeTransport, *fakeNetwork, *clock.Fake) {
	t.Helper()
	transport := newFakeTransport()
	network := &fakeNetwork{connected: true}
	clk := clock.NewFake(1000)
	c := New(settings, "dev1", Deps{
		Transport: transport,
		Network:   network,
		Clock:     clk,
	})
	return c, transport, network, clk
}

// =============================================================================
// Connection State Machine
// =============================================================================

func TestBeginAttached_EstablishesSession(t *testing.T) {
	c, transport, _, _ := newTestClient(t, testSettings())

	if err := c.BeginAttached(); err != nil {
		t.Fatalf("BeginAttached() error = %v", err)
	}

	if c.State() != StateConnected {
		t.Errorf("State = %v, want %v", c.State(), StateConnected)
	}
	if !c.Connected() {
		t.Error("Connected() = false after successful connect")
	}

	if transport.lastOpts.ClientID != "vwire-dev1" {
		t.Errorf("ClientID = %q, want %q", transport.lastOpts.ClientID, "vwire-dev1")
	}
	if transport.lastOpts.Username != "test-token" || transport.lastOpts.Password != "test-token" {
		t.Error("auth token not passed as username and password")
	}
	if transport.lastOpts.WillTopic != "vwire/dev1/status" || !transport.lastOpts.WillRetain {
		t.Errorf("will = %q retained=%v, want retained status topic", transport.lastOpts.WillTopic, transport.lastOpts.WillRetain)
	}

	// Online status published retained on the status topic.
	status := transport.published("vwire/dev1/status")
	if len(status) != 1 || status[0].payload != `{"status":"online"}` || !status[0].retained {
		t.Errorf("online status = %+v, want retained online JSON", status)
	}

	// Command wildcard and ACK subscribed (reliable delivery is on by default).
	wantSubs := map[string]bool{"vwire/dev1/cmd/#": false, "vwire/dev1/ack": false}
	for _, s := range transport.subs {
		if _, ok := wantSubs[s]; ok {
			wantSubs[s] = true
		}
	}
	for topic, seen := range wantSubs {
		if !seen {
			t.Errorf("missing subscription to %s (got %v)", topic, transport.subs)
		}
	}
}

func TestBeginAttached_NoToken(t *testing.T) {
	settings := testSettings()
	settings.Token = ""
	c, transport, _, _ := newTestClient(t, settings)

	err := c.BeginAttached()
	if !errors.Is(err, ErrNoToken) {
		t.Fatalf("err = %v, want ErrNoToken", err)
	}
	if transport.connects != 0 {
		t.Error("transport connect attempted without a token")
	}
}

func TestBeginAttached_NetworkDown(t *testing.T) {
	c, transport, network, _ := newTestClient(t, testSettings())
	network.connected = false

	err := c.BeginAttached()
	if !errors.Is(err, ErrNetworkJoinFailed) {
		t.Fatalf("err = %v, want ErrNetworkJoinFailed", err)
	}
	if transport.connects != 0 {
		t.Error("broker connect attempted while network down")
	}
}

func TestBegin_JoinTimeout(t *testing.T) {
	c, _, network, _ := newTestClient(t, testSettings())
	network.connected = false
	network.joinSuccess = false // never associates

	err := c.Begin("HomeNet", "hunter2")
	if !errors.Is(err, ErrNetworkJoinFailed) {
		t.Fatalf("err = %v, want ErrNetworkJoinFailed", err)
	}
	if c.State() != StateError {
		t.Errorf("State = %v, want %v", c.State(), StateError)
	}
	if !errors.Is(c.LastError(), ErrNetworkJoinFailed) {
		t.Errorf("LastError = %v, want ErrNetworkJoinFailed", c.LastError())
	}
	if network.joinedSSID != "HomeNet" {
		t.Errorf("joined SSID = %q, want %q", network.joinedSSID, "HomeNet")
	}
}

func TestBegin_JoinThenConnect(t *testing.T) {
	c, _, network, _ := newTestClient(t, testSettings())
	network.connected = false
	network.joinSuccess = true

	if err := c.Begin("HomeNet", "hunter2"); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if c.State() != StateConnected {
		t.Errorf("State = %v, want %v", c.State(), StateConnected)
	}
}

func TestConnectFailure_SetsErrorState(t *testing.T) {
	c, transport, _, _ := newTestClient(t, testSettings())
	transport.connectErr = errors.New("refused")

	err := c.BeginAttached()
	if err == nil {
		t.Fatal("expected connect error")
	}
	if c.State() != StateError {
		t.Errorf("State = %v, want %v", c.State(), StateError)
	}
	if c.LastError() == nil {
		t.Error("LastError not recorded")
	}
}

func TestRun_DisconnectTransitionFiresCallbacksOnce(t *testing.T) {
	settings := testSettings()
	settings.AutoReconnect = false
	c, transport, _, _ := newTestClient(t, settings)

	fired := 0
	c.OnDisconnect(func() { fired++ })

	if err := c.BeginAttached(); err != nil {
		t.Fatalf("BeginAttached() error = %v", err)
	}

	transport.connected = false
	c.Run()
	c.Run()

	if c.State() != StateDisconnected {
		t.Errorf("State = %v, want %v", c.State(), StateDisconnected)
	}
	if fired != 1 {
		t.Errorf("disconnect callback fired %d times, want 1", fired)
	}
}

func TestRun_AutoReconnect(t *testing.T) {
	c, transport, _, clk := newTestClient(t, testSettings())

	if err := c.BeginAttached(); err != nil {
		t.Fatalf("BeginAttached() error = %v", err)
	}
	transport.connected = false
	c.Run() // notes the disconnect

	// Too soon: reconnect interval has not elapsed since last attempt.
	clk.Advance(100)
	c.Run()
	if transport.connects != 1 {
		t.Fatalf("connects = %d before interval, want 1", transport.connects)
	}

	clk.Advance(DefaultReconnectInterval)
	c.Run()
	if transport.connects != 2 {
		t.Errorf("connects = %d after interval, want 2", transport.connects)
	}
	if c.State() != StateConnected {
		t.Errorf("State = %v after reconnect, want %v", c.State(), StateConnected)
	}
}

func TestDisconnect_PublishesRetainedOffline(t *testing.T) {
	c, transport, _, _ := newTestClient(t, testSettings())

	if err := c.BeginAttached(); err != nil {
		t.Fatalf("BeginAttached() error = %v", err)
	}
	c.Disconnect()

	status := transport.published("vwire/dev1/status")
	last := status[len(status)-1]
	if last.payload != `{"status":"offline"}` || !last.retained {
		t.Errorf("final status = %+v, want retained offline JSON", last)
	}
	if c.State() != StateDisconnected {
		t.Errorf("State = %v, want %v", c.State(), StateDisconnected)
	}
	if transport.connected {
		t.Error("transport still connected after Disconnect")
	}
}

// =============================================================================
// Sends
// =============================================================================

func TestVirtualSend_DisconnectedSetsError(t *testing.T) {
	c, transport, _, _ := newTestClient(t, testSettings())

	err := c.VirtualSendInt(200, 1) // out of range AND disconnected
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
	if !errors.Is(c.LastError(), ErrNotConnected) {
		t.Errorf("LastError = %v, want ErrNotConnected", c.LastError())
	}
	if len(transport.pubs) != 0 {
		t.Error("publish occurred while disconnected")
	}
}

func TestVirtualSend_InvalidPin(t *testing.T) {
	c, _, _, _ := newTestClient(t, testSettings())
	if err := c.BeginAttached(); err != nil {
		t.Fatalf("BeginAttached() error = %v", err)
	}

	if err := c.VirtualSendInt(MaxVirtualPins, 1); !errors.Is(err, ErrInvalidPin) {
		t.Errorf("err = %v, want ErrInvalidPin", err)
	}
	if err := c.VirtualSendInt(-1, 1); !errors.Is(err, ErrInvalidPin) {
		t.Errorf("err = %v, want ErrInvalidPin", err)
	}
}

func TestVirtualSend_FireAndForget(t *testing.T) {
	settings := testSettings()
	settings.ReliableDelivery = false
	c, transport, _, _ := newTestClient(t, settings)
	if err := c.BeginAttached(); err != nil {
		t.Fatalf("BeginAttached() error = %v", err)
	}

	if err := c.VirtualSendFloat(5, 21.5); err != nil {
		t.Fatalf("VirtualSendFloat() error = %v", err)
	}

	pubs := transport.published("vwire/dev1/pin/V5")
	if len(pubs) != 1 || pubs[0].payload != "21.50" {
		t.Errorf("pin publish = %+v, want one message %q", pubs, "21.50")
	}
	if c.PendingCount() != 0 {
		t.Error("fire-and-forget send entered the delivery queue")
	}
}

func TestSyncAndNotifications(t *testing.T) {
	c, transport, _, clk := newTestClient(t, testSettings())
	if err := c.BeginAttached(); err != nil {
		t.Fatalf("BeginAttached() error = %v", err)
	}

	if err := c.SyncVirtual(3); err != nil {
		t.Fatalf("SyncVirtual() error = %v", err)
	}
	if got := transport.published("vwire/dev1/sync/V3"); len(got) != 1 {
		t.Errorf("sync pin publishes = %d, want 1", len(got))
	}

	if err := c.SyncAll(); err != nil {
		t.Fatalf("SyncAll() error = %v", err)
	}
	if got := transport.published("vwire/dev1/sync"); len(got) != 1 || got[0].payload != "all" {
		t.Errorf("sync all = %+v, want payload %q", got, "all")
	}

	if err := c.HardwareSend("D4", 1); err != nil {
		t.Fatalf("HardwareSend() error = %v", err)
	}
	if got := transport.published("vwire/dev1/pin/D4"); len(got) != 1 || got[0].payload != "1" {
		t.Errorf("hardware send = %+v, want payload %q", got, "1")
	}

	if err := c.Notify("boiler hot"); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if got := transport.published("vwire/dev1/notify"); len(got) != 1 || got[0].payload != "boiler hot" {
		t.Errorf("notify = %+v", got)
	}

	clk.Advance(7)
	if err := c.Alarm("intruder", "", 0); err != nil {
		t.Fatalf("Alarm() error = %v", err)
	}
	alarms := transport.published("vwire/dev1/alarm")
	if len(alarms) != 1 {
		t.Fatalf("alarm publishes = %d, want 1", len(alarms))
	}
	for _, want := range []string{`"type":"alarm"`, `"message":"intruder"`, `"sound":"default"`, `"priority":1`} {
		if !strings.Contains(alarms[0].payload, want) {
			t.Errorf("alarm payload %q missing %q", alarms[0].payload, want)
		}
	}

	if err := c.Email("subject", "body"); err != nil {
		t.Fatalf("Email() error = %v", err)
	}
	if got := transport.published("vwire/dev1/email"); len(got) != 1 || got[0].payload != `{"subject":"subject","body":"body"}` {
		t.Errorf("email = %+v", got)
	}

	if err := c.RemoteLog("line"); err != nil {
		t.Fatalf("RemoteLog() error = %v", err)
	}
	if got := transport.published("vwire/dev1/log"); len(got) != 1 || got[0].payload != "line" {
		t.Errorf("log = %+v", got)
	}
}

// =============================================================================
// Command Dispatch
// =============================================================================

func TestCommandDispatch_ValueReachesHandler(t *testing.T) {
	c, transport, _, _ := newTestClient(t, testSettings())

	var got pin.Value
	calls := 0
	if err := c.OnVirtualReceive(7, func(v pin.Value) { got = v; calls++ }); err != nil {
		t.Fatalf("OnVirtualReceive() error = %v", err)
	}

	if err := c.BeginAttached(); err != nil {
		t.Fatalf("BeginAttached() error = %v", err)
	}

	transport.deliver("vwire/dev1/cmd/V7", "128")
	c.Run()

	if calls != 1 {
		t.Fatalf("handler calls = %d, want 1", calls)
	}
	if got.Int() != 128 {
		t.Errorf("value.Int() = %d, want 128", got.Int())
	}
}

func TestCommandDispatch_ManualBeforeSet(t *testing.T) {
	transport := newFakeTransport()
	network := &fakeNetwork{connected: true}
	clk := clock.NewFake(0)

	setCalls := 0
	handlers := NewHandlerSet()
	if err := handlers.Pin(7, func(pin.Value) { setCalls++ }); err != nil {
		t.Fatalf("handlers.Pin() error = %v", err)
	}

	c := New(testSettings(), "dev1", Deps{
		Transport: transport,
		Network:   network,
		Clock:     clk,
		Handlers:  handlers,
	})

	manualCalls := 0
	if err := c.OnVirtualReceive(7, func(pin.Value) { manualCalls++ }); err != nil {
		t.Fatalf("OnVirtualReceive() error = %v", err)
	}

	if err := c.BeginAttached(); err != nil {
		t.Fatalf("BeginAttached() error = %v", err)
	}

	transport.deliver("vwire/dev1/cmd/V7", "1")
	c.Run()

	if manualCalls != 1 {
		t.Errorf("manual handler calls = %d, want 1", manualCalls)
	}
	if setCalls != 0 {
		t.Errorf("handler set calls = %d, want 0 (manual takes precedence)", setCalls)
	}

	// A pin only the set knows about still dispatches.
	if err := handlers.Pin(9, func(pin.Value) { setCalls++ }); err != nil {
		t.Fatalf("handlers.Pin() error = %v", err)
	}
	transport.deliver("vwire/dev1/cmd/9", "1")
	c.Run()
	if setCalls != 1 {
		t.Errorf("handler set calls = %d after unclaimed pin, want 1", setCalls)
	}
}

func TestConnectCallbacks_ManualThenSet(t *testing.T) {
	transport := newFakeTransport()
	network := &fakeNetwork{connected: true}

	var order []string
	handlers := NewHandlerSet()
	handlers.Connect(func() { order = append(order, "set") })

	c := New(testSettings(), "dev1", Deps{
		Transport: transport,
		Network:   network,
		Clock:     clock.NewFake(0),
		Handlers:  handlers,
	})
	c.OnConnect(func() { order = append(order, "manual") })

	if err := c.BeginAttached(); err != nil {
		t.Fatalf("BeginAttached() error = %v", err)
	}

	if len(order) != 2 || order[0] != "manual" || order[1] != "set" {
		t.Errorf("connect callback order = %v, want [manual set]", order)
	}
}

func TestHandlerTableFull(t *testing.T) {
	c, _, _, _ := newTestClient(t, testSettings())

	for i := 0; i < MaxHandlers; i++ {
		if err := c.OnVirtualReceive(i, func(pin.Value) {}); err != nil {
			t.Fatalf("handler %d: %v", i, err)
		}
	}
	if err := c.OnVirtualReceive(0, func(pin.Value) {}); !errors.Is(err, ErrHandlerTableFull) {
		t.Errorf("err = %v, want ErrHandlerTableFull", err)
	}
}

// =============================================================================
// Heartbeat
// =============================================================================

func TestHeartbeat_EmittedOnCadence(t *testing.T) {
	c, transport, _, clk := newTestClient(t, testSettings())

	var seen []Heartbeat
	c.OnHeartbeat(func(hb Heartbeat) { seen = append(seen, hb) })

	if err := c.BeginAttached(); err != nil {
		t.Fatalf("BeginAttached() error = %v", err)
	}

	c.Run()
	if len(transport.published("vwire/dev1/heartbeat")) != 0 {
		t.Fatal("heartbeat emitted before interval elapsed")
	}

	clk.Advance(DefaultHeartbeatInterval)
	c.Run()
	clk.Advance(DefaultHeartbeatInterval)
	c.Run()

	beats := transport.published("vwire/dev1/heartbeat")
	if len(beats) != 2 {
		t.Fatalf("heartbeats = %d, want 2", len(beats))
	}
	for _, want := range []string{`"uptime":`, `"heap":`, `"rssi":-55`, `"ip":"192.168.4.20"`, `"fw":`} {
		if !strings.Contains(beats[0].payload, want) {
			t.Errorf("heartbeat %q missing %q", beats[0].payload, want)
		}
	}
	if len(seen) != 2 {
		t.Errorf("heartbeat sink calls = %d, want 2", len(seen))
	}
	if seen[0].RSSI != -55 || seen[0].IP != "192.168.4.20" {
		t.Errorf("sink heartbeat = %+v", seen[0])
	}
}
