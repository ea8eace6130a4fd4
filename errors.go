package binmc

import "errors"

var (
	// ErrConnClosed is returned by every operation on a connection that
	// was closed, either explicitly or after an I/O or protocol error.
	ErrConnClosed = errors.New("binmc: connection closed")

	// ErrOpaqueDrainExceeded is returned when too many responses with a
	// foreign opaque were discarded while waiting for a reply. It means
	// the stream is desynchronized beyond recovery and closes the
	// connection.
	ErrOpaqueDrainExceeded = errors.New("binmc: too many stale responses discarded")

	// ErrMalformedResponse is returned when a response decodes cleanly
	// but its body does not have the shape the command requires, such as
	// a counter reply whose value is not 8 bytes.
	ErrMalformedResponse = errors.New("binmc: malformed response body")

	// ErrNoServers is returned when a client is built with an empty
	// server list or a selector has nothing to pick from.
	ErrNoServers = errors.New("binmc: no servers available")

	// ErrMultiServerKeys is returned by multi-key operations when the
	// keys do not all route to the same server. Pipelined batches ride a
	// single connection; split the keys per server to go wider.
	ErrMultiServerKeys = errors.New("binmc: keys map to multiple servers")

	// ErrAuthFailed is returned when SASL authentication performed at
	// dial time is rejected by the server.
	ErrAuthFailed = errors.New("binmc: authentication failed")
)
