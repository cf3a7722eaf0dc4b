// Package address parses AI server addresses of the form
// "[scheme://]host[:port]" and selects the wire transport from the scheme.
package address

import (
	"net"
	"strconv"
	"strings"

	"github.com/axionml/inferlink/errors"
)

// DefaultPort is the TCP port an AI server listens on when none is given.
const DefaultPort = 8778

// Transport identifies the wire protocol spoken with the server.
type Transport int

const (
	// TransportTCP is the proprietary length-prefixed TCP protocol.
	TransportTCP Transport = iota
	// TransportHTTP is the HTTP control surface with a WebSocket data channel.
	TransportHTTP
)

// String returns the string representation of Transport.
func (t Transport) String() string {
	switch t {
	case TransportTCP:
		return "tcp"
	case TransportHTTP:
		return "http"
	default:
		return "unknown"
	}
}

const (
	httpScheme = "http://"
	tcpScheme  = "asio://"
)

// ServerAddress keeps the AI server host, port, and transport selection.
// It is constructed once per client and never mutated.
type ServerAddress struct {
	Host      string
	Port      int
	Transport Transport
}

// Parse deduces the transport and port from a server address string.
// "http://" selects the HTTP transport; "asio://" or no scheme selects TCP.
// When the port suffix is absent, DefaultPort is used.
func Parse(s string) (ServerAddress, error) {
	addr := ServerAddress{Port: DefaultPort, Transport: TransportTCP}

	rest := s
	switch {
	case strings.HasPrefix(rest, httpScheme):
		addr.Transport = TransportHTTP
		rest = rest[len(httpScheme):]
	case strings.HasPrefix(rest, tcpScheme):
		rest = rest[len(tcpScheme):]
	}

	if rest == "" {
		return ServerAddress{}, errors.Newf(errors.KindBadParameter, "server address %q has no host", s)
	}

	if i := strings.LastIndex(rest, ":"); i >= 0 {
		port, err := strconv.Atoi(rest[i+1:])
		if err != nil {
			return ServerAddress{}, errors.Newf(errors.KindBadParameter,
				"server address %q has invalid port %q", s, rest[i+1:])
		}
		if port < 1 || port > 65535 {
			return ServerAddress{}, errors.Newf(errors.KindBadParameter,
				"server address %q has port %d out of range 1..65535", s, port)
		}
		addr.Port = port
		rest = rest[:i]
	}

	if rest == "" {
		return ServerAddress{}, errors.Newf(errors.KindBadParameter, "server address %q has no host", s)
	}
	addr.Host = rest
	return addr, nil
}

// String renders the address in normalized form: the port is always
// explicit, and the scheme prefix is kept for HTTP and elided for TCP.
func (a ServerAddress) String() string {
	s := a.Host + ":" + strconv.Itoa(a.Port)
	if a.Transport == TransportHTTP {
		return httpScheme + s
	}
	return s
}

// HostPort returns the dialable "host:port" form of the address.
func (a ServerAddress) HostPort() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// Valid reports whether the address has a host.
func (a ServerAddress) Valid() bool {
	return a.Host != ""
}
