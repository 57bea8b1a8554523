package transport

import (
	"fmt"
	"net"
)

// SocketTransport is a bound UDP socket. Resend is a no-op — a socket
// transport is not sitting inline on a router, so there is nothing to
// forward the datagram to besides the reply it would otherwise construct.
type SocketTransport struct {
	conn *net.UDPConn
	last *net.UDPAddr
}

// NewSocketTransport binds a UDP socket at addr (host:port form).
func NewSocketTransport(addr string) (*SocketTransport, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: bind %s: %w", addr, err)
	}
	return &SocketTransport{conn: conn}, nil
}

func (t *SocketTransport) Recv() ([]byte, string, error) {
	buf := make([]byte, 65535)
	n, peer, err := t.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, "", err
	}
	t.last = peer
	payload := make([]byte, n)
	copy(payload, buf[:n])
	return payload, peer.String(), nil
}

func (t *SocketTransport) Reply(payload []byte) error {
	if t.last == nil {
		return fmt.Errorf("transport: reply with no prior recv")
	}
	_, err := t.conn.WriteToUDP(payload, t.last)
	return err
}

func (t *SocketTransport) Resend() error {
	return nil
}

func (t *SocketTransport) Close() error {
	return t.conn.Close()
}

var _ Transport = (*SocketTransport)(nil)
