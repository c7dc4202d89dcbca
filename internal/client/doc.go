// Package client implements the device-side VWire cloud client.
//
// This package manages:
//   - The connection state machine (network join, broker connect, reconnect)
//   - Inbound message routing to pin handlers, ACK handling, and OTA
//   - Application-level reliable delivery over a QoS 0 transport
//   - Heartbeat and status reporting
//   - Outbound virtual pin values, sync requests, and notifications
//
// # Architecture
//
// The client is deliberately single-threaded: Run must be called
// continuously from one application loop, and every callback fires
// synchronously on that loop. This keeps handler code free of locking and
// makes message ordering within a topic trivially deterministic.
//
//	application loop -> Run -> drain inbound -> retry pass -> heartbeat
//
// The MQTT engine sits behind the Transport interface, with inbound
// messages buffered on a channel the loop drains. The station interface
// sits behind Network. Both are injected, so the full state machine runs
// against fakes in tests.
//
// # Reliable Delivery
//
// The broker path only guarantees at-most-once delivery for device
// publishes. Reliable delivery layers an acknowledgment protocol on top: a
// fixed table of pending messages, each retried on a timeout until the
// server ACKs it by message ID or the retry budget is spent. See the
// delivery queue in delivery.go.
//
// # Usage
//
//	handlers := client.NewHandlerSet()
//	handlers.Pin(7, func(v pin.Value) { fmt.Println(v.Int()) })
//
//	c := client.New(settings, deviceID, client.Deps{
//	    Transport: transport,
//	    Network:   network,
//	    Clock:     clock.NewWall(),
//	    Handlers:  handlers,
//	    Logger:    logger.With("component", "client"),
//	})
//
//	if err := c.Begin(ssid, password); err != nil {
//	    log.Fatal(err)
//	}
//	for {
//	    c.Run()
//	    time.Sleep(10 * time.Millisecond)
//	}
package client
