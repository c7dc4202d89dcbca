package client

// Network abstracts the station-mode network interface the client rides on.
// The production implementation manages a Wi-Fi interface through the
// platform's network manager; tests substitute a fake.
//
// All methods must be non-blocking: StartJoin only initiates the join, and
// the client polls Connected until its timeout expires.
type Network interface {
	// StartJoin begins associating with the given network. Credentials are
	// applied immediately; association completes asynchronously.
	StartJoin(ssid, password string) error

	// Connected reports whether the interface currently has link and an address.
	Connected() bool

	// RSSI returns the current signal strength in dBm, or 0 if unknown.
	RSSI() int

	// IP returns the interface's current address, or "" if none.
	IP() string
}
