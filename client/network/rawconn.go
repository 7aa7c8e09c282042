package network

import (
	"context"
	"encoding/binary"
	"math"
	"math/rand"
	"net"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"golang.org/x/net/bpf"
	"golang.org/x/net/ipv4"
)

// RawConn sends knocks from a raw IPv4 socket, writing the IP and UDP
// headers itself. The source port then stays fixed no matter which local
// sockets exist, which lets a firewall in front of the server match the
// knock with later traffic. Needs CAP_NET_RAW.
type RawConn struct {
	rc     *ipv4.RawConn
	local  *net.UDPAddr
	server *net.UDPAddr
	closed atomic.Bool
}

// NewRawConn creates an ipv4 and udp only RawConn and applies packet filtering
func NewRawConn(server *net.UDPAddr, sourcePort int) (*RawConn, error) {
	src, err := SourceIP(server.IP)
	if err != nil {
		return nil, err
	}
	if sourcePort == 0 {
		sourcePort = 49152 + rand.Intn(16384)
	}
	local := &net.UDPAddr{IP: src, Port: sourcePort}

	packetConn, err := net.ListenPacket("ip4:udp", src.String())
	if err != nil {
		return nil, err
	}
	rc, err := ipv4.NewRawConn(packetConn)
	if err != nil {
		packetConn.Close()
		return nil, err
	}
	c := &RawConn{rc: rc, local: local, server: server}
	if err := c.applyBPF(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// LocalAddr returns the address knocks are sent from
func (c *RawConn) LocalAddr() net.Addr {
	return c.local
}

// Send crafts and writes one IPv4/UDP packet carrying packet
func (c *RawConn) Send(ctx context.Context, packet []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	raw, err := makeRawPacket(packet, c.local, c.server)
	if err != nil {
		return err
	}
	stop := watchContext(ctx, c.rc.SetWriteDeadline)
	defer stop()
	_, err = c.rc.WriteToIP(raw, &net.IPAddr{IP: c.server.IP})
	return contextError(ctx, err)
}

// Recv returns the UDP payload of the next datagram from the server
func (c *RawConn) Recv(ctx context.Context) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	stop := watchContext(ctx, c.rc.SetReadDeadline)
	defer stop()

	buf := make([]byte, EmptyUDPSize+recvBufferSize)
	for {
		h, p, _, err := c.rc.ReadFrom(buf)
		if err != nil {
			return nil, contextError(ctx, err)
		}
		payload, ok := c.udpPayload(h, p)
		if ok {
			return payload, nil
		}
	}
}

// udpPayload checks a datagram really is from the server to us. The
// socket sees packets that arrive before the filter is attached.
func (c *RawConn) udpPayload(h *ipv4.Header, p []byte) ([]byte, bool) {
	if h == nil || !h.Src.Equal(c.server.IP) {
		return nil, false
	}
	pkt := gopacket.NewPacket(p, layers.LayerTypeUDP, gopacket.NoCopy)
	udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if !ok {
		return nil, false
	}
	if int(udp.SrcPort) != c.server.Port || int(udp.DstPort) != c.local.Port {
		return nil, false
	}
	return append([]byte(nil), udp.Payload...), true
}

func (c *RawConn) applyBPF() error {
	prog, err := bpf.Assemble(filterProgram(c.server, c.local.Port))
	if err != nil {
		return err
	}
	return c.rc.SetBPF(prog)
}

// filterProgram admits only udp datagrams from server to localPort. The
// socket is ipv4/udp only, so the protocol needs no check.
func filterProgram(server *net.UDPAddr, localPort int) []bpf.Instruction {
	const ipv4HeaderLen = 20

	checks := []struct {
		off  uint32
		size int
		val  uint32
	}{
		{off: 12, size: 4, val: binary.BigEndian.Uint32(server.IP.To4())}, // source address
		{off: ipv4HeaderLen, size: 2, val: uint32(server.Port)},           // source port
		{off: ipv4HeaderLen + 2, size: 2, val: uint32(localPort)},         // destination port
	}

	var prog []bpf.Instruction
	for i, c := range checks {
		// a mismatch jumps over the remaining checks and the accept
		skip := uint8(2*(len(checks)-i-1) + 1)
		prog = append(prog,
			bpf.LoadAbsolute{Off: c.off, Size: c.size},
			bpf.JumpIf{Cond: bpf.JumpEqual, Val: c.val, SkipFalse: skip},
		)
	}
	return append(prog,
		bpf.RetConstant{Val: math.MaxUint32},
		bpf.RetConstant{Val: 0},
	)
}

// makeRawPacket builds the IPv4 and UDP headers around payload
func makeRawPacket(payload []byte, local, server *net.UDPAddr) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		FixLengths:       true,
		ComputeChecksums: true,
	}

	ipHeader := layers.IPv4{
		SrcIP:    local.IP.To4(),
		DstIP:    server.IP.To4(),
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
	}
	udpHeader := layers.UDP{
		SrcPort: layers.UDPPort(local.Port),
		DstPort: layers.UDPPort(server.Port),
	}
	payloadLayer := gopacket.Payload(payload)

	if err := udpHeader.SetNetworkLayerForChecksum(&ipHeader); err != nil {
		return nil, err
	}
	if err := gopacket.SerializeLayers(buf, opts, &ipHeader, &udpHeader, &payloadLayer); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Close closes the socket
func (c *RawConn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.rc.Close()
}
