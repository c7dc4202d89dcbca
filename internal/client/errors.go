package client

import "errors"

// Domain-specific errors for client operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNoToken is returned when a broker connect is attempted without an
	// auth token configured.
	ErrNoToken = errors.New("client: no auth token configured")

	// ErrNetworkJoinFailed is returned when the network join does not
	// complete within the configured timeout.
	ErrNetworkJoinFailed = errors.New("client: network join failed")

	// ErrConnectFailed is returned when the broker connect attempt fails.
	ErrConnectFailed = errors.New("client: broker connect failed")

	// ErrNotConnected is returned when attempting operations while disconnected.
	ErrNotConnected = errors.New("client: not connected")

	// ErrInvalidPin is returned when a pin number is outside the valid range.
	ErrInvalidPin = errors.New("client: invalid pin number")

	// ErrQueueFull is returned when the reliable delivery queue has no free slot.
	ErrQueueFull = errors.New("client: delivery queue full")

	// ErrHandlerTableFull is returned when the handler table has no free entry.
	ErrHandlerTableFull = errors.New("client: handler table full")

	// ErrPayloadTooLarge is returned when an outbound payload exceeds the
	// configured maximum.
	ErrPayloadTooLarge = errors.New("client: payload too large")

	// ErrPublishFailed is returned when a publish operation fails at the transport.
	ErrPublishFailed = errors.New("client: publish failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails at the transport.
	ErrSubscribeFailed = errors.New("client: subscribe failed")

	// ErrOTAFailed is returned when a firmware update cannot be downloaded,
	// verified, or applied.
	ErrOTAFailed = errors.New("client: ota update failed")
)
