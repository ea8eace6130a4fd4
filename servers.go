package binmc

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// ServerSpec identifies one cache server and its weight in the hash
// ring. Weight scales how many virtual nodes the server gets; servers
// with twice the weight receive roughly twice the keys.
type ServerSpec struct {
	// Network is "tcp" or "unix".
	Network string
	// Addr is a host:port for tcp, or a socket path for unix.
	Addr string
	// Weight defaults to 1 when zero or negative.
	Weight int
}

// ParseServerSpec parses a server address. Accepted forms are
// "tcp://host:port", "unix:///path/to/socket", and a bare "host:port"
// which implies tcp. The weight defaults to 1.
func ParseServerSpec(addr string) (ServerSpec, error) {
	switch {
	case strings.HasPrefix(addr, "tcp://"):
		return newTCPSpec(strings.TrimPrefix(addr, "tcp://"))
	case strings.HasPrefix(addr, "unix://"):
		path := strings.TrimPrefix(addr, "unix://")
		if path == "" {
			return ServerSpec{}, fmt.Errorf("binmc: empty unix socket path in %q", addr)
		}
		return ServerSpec{Network: "unix", Addr: path, Weight: 1}, nil
	case strings.Contains(addr, "://"):
		return ServerSpec{}, fmt.Errorf("binmc: unsupported scheme in %q", addr)
	default:
		return newTCPSpec(addr)
	}
}

func newTCPSpec(hostport string) (ServerSpec, error) {
	if _, _, err := net.SplitHostPort(hostport); err != nil {
		return ServerSpec{}, fmt.Errorf("binmc: invalid server address %q: %w", hostport, err)
	}
	return ServerSpec{Network: "tcp", Addr: hostport, Weight: 1}, nil
}

// ParseServers parses a list of server addresses.
func ParseServers(addrs ...string) ([]ServerSpec, error) {
	specs := make([]ServerSpec, 0, len(addrs))
	for _, addr := range addrs {
		spec, err := ParseServerSpec(addr)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func (s ServerSpec) String() string {
	return s.Network + "://" + s.Addr
}

func (s ServerSpec) weight() int {
	if s.Weight <= 0 {
		return 1
	}
	return s.Weight
}

func (s ServerSpec) dial(timeout time.Duration) (net.Conn, error) {
	network := s.Network
	if network == "" {
		network = "tcp"
	}
	return net.DialTimeout(network, s.Addr, timeout)
}
