// Package network carries knock packets between an agent and a server.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/vishvananda/netlink"

	"github.com/malcolmseyd/nhp-go/crypto"
)

const (
	// EmptyUDPSize is the size of the IPv4 and UDP headers combined
	EmptyUDPSize = 28

	// KindUDP is a connected UDP socket
	KindUDP = "udp"
	// KindRaw is a raw IPv4 socket crafting its own UDP headers
	KindRaw = "raw"
)

var (
	// ErrNoIP is returned when no appropriate ip address could be found
	ErrNoIP = errors.New("client/network: no valid ip address found")
	// ErrClosed is returned by a Transport after Close
	ErrClosed = errors.New("client/network: transport closed")
	// ErrUnknownKind is returned by Dial for an unknown transport name
	ErrUnknownKind = errors.New("client/network: unknown transport")
)

// Transport exchanges whole datagrams with one server. Send and Recv honour
// the context's deadline and cancellation.
type Transport interface {
	Send(ctx context.Context, packet []byte) error
	Recv(ctx context.Context) ([]byte, error)
	LocalAddr() net.Addr
	Close() error
}

// Dial opens a transport of kind to the server at address (host:port).
// A zero sourcePort lets the kernel choose one for udp; raw sockets need a
// fixed port and pick a random one.
func Dial(kind, address string, sourcePort int) (Transport, error) {
	switch strings.ToLower(kind) {
	case "", KindUDP:
		return DialUDP(address, sourcePort)
	case KindRaw:
		server, err := ResolveUDP4(address)
		if err != nil {
			return nil, err
		}
		return NewRawConn(server, sourcePort)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// ResolveUDP4 resolves host:port to an IPv4 UDP address
func ResolveUDP4(address string) (*net.UDPAddr, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	ip, err := HostToAddr(host)
	if err != nil {
		return nil, err
	}
	return net.ResolveUDPAddr("udp4", net.JoinHostPort(ip.String(), port))
}

// HostToAddr resolves a hostname, whether DNS or IP to a valid net.IPAddr
func HostToAddr(hostStr string) (*net.IPAddr, error) {
	remoteAddrs, err := net.LookupHost(hostStr)
	if err != nil {
		return nil, err
	}

	for _, addrStr := range remoteAddrs {
		if remoteAddr, err := net.ResolveIPAddr("ip4", addrStr); err == nil {
			return remoteAddr, nil
		}
	}
	return nil, ErrNoIP
}

// SourceIP returns the address the kernel sends packets to dst from
func SourceIP(dst net.IP) (net.IP, error) {
	routes, err := netlink.RouteGet(dst)
	if err != nil {
		return nil, err
	}
	for _, r := range routes {
		if r.Src != nil {
			return r.Src, nil
		}
	}
	return nil, ErrNoIP
}

// recvBufferSize is one byte more than any valid packet so oversized
// datagrams reach the parser whole enough to be rejected
const recvBufferSize = crypto.MaxPacketSize + 1
