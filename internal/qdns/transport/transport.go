// Package transport implements the two concrete datagram channels quantum-dns
// can run over: a bound UDP socket, and a raw packet-capture device.
package transport

// Transport is the three-operation abstraction the responder's receive
// loop drives: block for the next datagram, answer it, or resend it
// unmodified. Implementations do not decode DNS at all — they move whole
// UDP payloads and track enough per-datagram state to answer Reply/Resend
// for the datagram most recently returned by Recv.
type Transport interface {
	// Recv blocks until a datagram arrives, returning its UDP payload and a
	// string identifying the sender (e.g. "1.2.3.4:55555").
	Recv() (payload []byte, sourceID string, err error)

	// Reply sends payload back to the sender of the most recent Recv.
	Reply(payload []byte) error

	// Resend re-emits the original datagram from the most recent Recv,
	// unmodified. For the socket transport this is a no-op, since a
	// connected UDP socket has nowhere upstream to forward to.
	Resend() error

	// Close releases the underlying socket or capture handle.
	Close() error
}
