package transport

import (
	"net"
	"strconv"
)

// Config selects and parameterizes exactly one of the two transports.
type Config struct {
	// CaptureDevice, when non-empty, selects the capture transport and
	// disables the bind address (mirrors -M mutually excluding -l).
	CaptureDevice string
	CaptureFilter string

	BindAddr string
	BindPort int
	IPv6     bool
}

// New builds the transport selected by cfg.
func New(cfg Config) (Transport, error) {
	if cfg.CaptureDevice != "" {
		return NewCaptureTransport(cfg.CaptureDevice, cfg.CaptureFilter)
	}

	addr := cfg.BindAddr
	if addr == "" {
		if cfg.IPv6 {
			addr = "::"
		} else {
			addr = "0.0.0.0"
		}
	}
	return NewSocketTransport(net.JoinHostPort(addr, strconv.Itoa(cfg.BindPort)))
}
