package session

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

var ErrMalformedEndpoint = errors.New("session: malformed endpoint")

// Endpoint is a parsed ZeroMQ endpoint such as tcp://host:port.
type Endpoint struct {
	Transport string
	Address   string
}

func (e Endpoint) String() string {
	return e.Transport + "://" + e.Address
}

// ParseEndpoint validates tcp, ipc and inproc endpoints.
func ParseEndpoint(raw string) (Endpoint, error) {
	transport, addr, ok := strings.Cut(strings.TrimSpace(raw), "://")
	if !ok || addr == "" {
		return Endpoint{}, fmt.Errorf("%w: %q", ErrMalformedEndpoint, raw)
	}
	ep := Endpoint{Transport: strings.ToLower(transport), Address: addr}
	switch ep.Transport {
	case "tcp":
		host, port, err := net.SplitHostPort(addr)
		if err != nil || host == "" {
			return Endpoint{}, fmt.Errorf("%w: %q", ErrMalformedEndpoint, raw)
		}
		if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
			return Endpoint{}, fmt.Errorf("%w: bad port in %q", ErrMalformedEndpoint, raw)
		}
	case "ipc", "inproc":
	default:
		return Endpoint{}, fmt.Errorf("%w: unsupported transport %q", ErrMalformedEndpoint, transport)
	}
	return ep, nil
}
