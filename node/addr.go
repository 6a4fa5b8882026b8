package node

import (
	"net"
	"strings"

	"github.com/multiformats/go-multiaddr"
	"github.com/pkg/errors"
)

// ParseBootstrapAddr normalizes a configured bootstrap address into a host:port
// string the transport's Dial understands. A plain "host:port" string passes
// through unchanged; a multiaddr string such as "/ip4/127.0.0.1/tcp/3000" is
// decomposed into its ip and tcp components. This lets a deployment reuse
// multiaddr-speaking discovery or config tooling without meshstore itself
// depending on any particular discovery mechanism.
func ParseBootstrapAddr(s string) (string, error) {
	if !strings.HasPrefix(s, "/") {
		return s, nil
	}

	addr, err := multiaddr.NewMultiaddr(s)
	if err != nil {
		return "", errors.Wrapf(err, "node: parse bootstrap addr %q", s)
	}

	host, err := addr.ValueForProtocol(multiaddr.P_IP4)
	if err != nil {
		host, err = addr.ValueForProtocol(multiaddr.P_IP6)
		if err != nil {
			return "", errors.Wrapf(err, "node: bootstrap addr %q has no ip4/ip6 component", s)
		}
	}

	port, err := addr.ValueForProtocol(multiaddr.P_TCP)
	if err != nil {
		return "", errors.Wrapf(err, "node: bootstrap addr %q has no tcp component", s)
	}

	return net.JoinHostPort(host, port), nil
}
