package tcppoll

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

// Target is the remote endpoint a [Client] polls.
//
// Target is immutable after creation via [NewTarget] or [ParseTarget].
type Target struct {
	host string
	port int
}

// Host returns the target host name or IP address.
func (t Target) Host() string {
	return t.host
}

// Port returns the target TCP port.
func (t Target) Port() int {
	return t.port
}

// Addr returns the "host:port" dial address. IPv6 literals are bracketed.
func (t Target) Addr() string {
	return net.JoinHostPort(t.host, strconv.Itoa(t.port))
}

// String returns the dial address.
func (t Target) String() string {
	return t.Addr()
}

// NewTarget creates a [Target] for host and port.
//
// Returns an error if the host is empty or the port is outside 1-65535.
//
// Example:
//
//	target, err := tcppoll.NewTarget("localhost", 5000)
func NewTarget(host string, port int) (Target, error) {
	if host == "" {
		return Target{}, errors.New("target host cannot be empty")
	}
	if port < 1 || port > 65535 {
		return Target{}, fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return Target{host: host, port: port}, nil
}

// ParseTarget creates a [Target] from a host and a decimal port string, as
// given on a command line.
func ParseTarget(host, port string) (Target, error) {
	n, err := strconv.Atoi(port)
	if err != nil {
		return Target{}, fmt.Errorf("invalid port %q: must be a number", port)
	}
	return NewTarget(host, n)
}
