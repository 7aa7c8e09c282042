package network

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"
)

// UDPConn is a connected UDP socket.
type UDPConn struct {
	conn   *net.UDPConn
	closed atomic.Bool
}

// DialUDP connects to address from sourcePort, zero meaning any port
func DialUDP(address string, sourcePort int) (*UDPConn, error) {
	raddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, err
	}
	var laddr *net.UDPAddr
	if sourcePort != 0 {
		laddr = &net.UDPAddr{Port: sourcePort}
	}
	conn, err := net.DialUDP("udp", laddr, raddr)
	if err != nil {
		return nil, err
	}
	return &UDPConn{conn: conn}, nil
}

// LocalAddr returns the local socket address
func (c *UDPConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Send writes one datagram
func (c *UDPConn) Send(ctx context.Context, packet []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	stop := watchContext(ctx, c.conn.SetWriteDeadline)
	defer stop()
	_, err := c.conn.Write(packet)
	return contextError(ctx, err)
}

// Recv reads one datagram
func (c *UDPConn) Recv(ctx context.Context) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	stop := watchContext(ctx, c.conn.SetReadDeadline)
	defer stop()
	buf := make([]byte, recvBufferSize)
	n, err := c.conn.Read(buf)
	if err != nil {
		return nil, contextError(ctx, err)
	}
	return buf[:n], nil
}

// Close closes the socket
func (c *UDPConn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close()
}

// watchContext applies the context deadline and interrupts the pending
// call when the context is cancelled
func watchContext(ctx context.Context, setDeadline func(time.Time) error) (stop func()) {
	deadline, _ := ctx.Deadline()
	setDeadline(deadline)
	cancel := context.AfterFunc(ctx, func() {
		setDeadline(time.Unix(1, 0))
	})
	return func() { cancel() }
}

// contextError prefers the context's reason over the deadline error it
// caused
func contextError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return ctxErr
		}
	}
	return err
}
