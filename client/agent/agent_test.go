package agent

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/malcolmseyd/nhp-go/antireplay"
	"github.com/malcolmseyd/nhp-go/client/network"
	"github.com/malcolmseyd/nhp-go/config"
	"github.com/malcolmseyd/nhp-go/crypto"
	"github.com/malcolmseyd/nhp-go/log"
	"github.com/malcolmseyd/nhp-go/proto"
	"github.com/malcolmseyd/nhp-go/server/auth"
	"github.com/malcolmseyd/nhp-go/util"
)

func genKey(t *testing.T, suite crypto.CipherSuite) *crypto.KeyPair {
	kp, err := suite.GenerateKeyPair(rand.Reader)
	require.NoError(t, err)
	return kp
}

func testBackend(t *testing.T) *log.Backend {
	b, err := log.NewWriter(new(bytes.Buffer), "DEBUG")
	require.NoError(t, err)
	return b
}

func newResponder(t *testing.T, suite crypto.CipherSuite, serverKey, agentKey *crypto.KeyPair) *auth.Responder {
	cfg, err := config.LoadServer([]byte(fmt.Sprintf(`
[Server]
  Scheme = %q
  PrivateKey = %q

[[Agents]]
  UserID = "alice"
  PublicKey = %q
  Resources = ["ssh"]

[[Resources]]
  ID = "ssh"
  AuthServiceID = "example"
  [Resources.Hosts]
    bastion = "10.0.0.1:22"
`, suite.Scheme().String(), util.EncodeKey(serverKey.Private), util.EncodeKey(agentKey.Public))))
	require.NoError(t, err)
	r, err := auth.New(cfg, testBackend(t), nil)
	require.NoError(t, err)
	return r
}

// agentConfig lists one server per address, all sharing serverPub
func agentConfig(t *testing.T, suite crypto.CipherSuite, agentKey *crypto.KeyPair, serverPub []byte, addrs ...string) *config.AgentConfig {
	body := fmt.Sprintf(`
[Agent]
  Scheme = %q
  PrivateKey = %q
  UserID = "alice"
  TimeoutSeconds = 1
  Retries = 2

[[Resources]]
  ID = "ssh"
  AuthServiceID = "example"

[[Resources]]
  ID = "db"
  AuthServiceID = "example"
`, suite.Scheme().String(), util.EncodeKey(agentKey.Private))
	for i, addr := range addrs {
		body += fmt.Sprintf(`
[[Servers]]
  Name = "s%d"
  Address = %q
  PublicKey = %q
`, i, addr, util.EncodeKey(serverPub))
	}
	cfg, err := config.LoadAgent([]byte(body))
	require.NoError(t, err)
	return cfg
}

// memTransport hands packets straight to a handler; with no reply queued
// Recv behaves like a timeout
type memTransport struct {
	mu      sync.Mutex
	handle  func([]byte) []byte
	sent    [][]byte
	replies [][]byte
}

func (m *memTransport) Send(ctx context.Context, packet []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, packet)
	if reply := m.handle(packet); reply != nil {
		m.replies = append(m.replies, reply)
	}
	return nil
}

func (m *memTransport) Recv(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(m.replies) == 0 {
		return nil, context.DeadlineExceeded
	}
	r := m.replies[0]
	m.replies = m.replies[1:]
	return r, nil
}

func (m *memTransport) LocalAddr() net.Addr { return &net.UDPAddr{IP: net.IPv4(192, 0, 2, 7), Port: 40000} }
func (m *memTransport) Close() error        { return nil }

func dialer(transports map[string]*memTransport) DialFunc {
	return func(server *config.Peer) (network.Transport, error) {
		return transports[server.Name], nil
	}
}

func responderHandler(r *auth.Responder) func([]byte) []byte {
	return func(p []byte) []byte {
		reply, _ := r.Handle(p, &net.UDPAddr{IP: net.IPv4(192, 0, 2, 7), Port: 40000})
		return reply
	}
}

func TestKnockFallsBackToNextServer(t *testing.T) {
	for _, suite := range []crypto.CipherSuite{crypto.Curve25519, crypto.GMSM} {
		t.Run(suite.Scheme().String(), func(t *testing.T) {
			require := require.New(t)
			agentKey, serverKey := genKey(t, suite), genKey(t, suite)
			r := newResponder(t, suite, serverKey, agentKey)

			silent := &memTransport{handle: func([]byte) []byte { return nil }}
			garbage := &memTransport{handle: func([]byte) []byte { return []byte("not a packet") }}
			good := &memTransport{handle: responderHandler(r)}

			cfg := agentConfig(t, suite, agentKey, serverKey.Public, "a:1", "b:1", "c:1")
			a, err := New(cfg, testBackend(t), WithDialer(dialer(map[string]*memTransport{
				"s0": silent, "s1": garbage, "s2": good,
			})))
			require.NoError(err)

			res, err := a.Knock(context.Background(), "ssh")
			require.NoError(err)
			require.Equal("s2", res.Server.Name)
			require.NoError(res.Ack.Err())
			require.Equal("10.0.0.1:22", res.Ack.ResourceHosts["bastion"])

			// the silent server got every retry, each a fresh packet
			require.Len(silent.sent, 2)
			require.NotEqual(silent.sent[0], silent.sent[1])
			// an unparseable reply moves on at once
			require.Len(garbage.sent, 1)
			require.Len(good.sent, 1)
		})
	}
}

func TestKnockNoServer(t *testing.T) {
	require := require.New(t)
	suite := crypto.Curve25519
	agentKey, serverKey := genKey(t, suite), genKey(t, suite)
	silent := &memTransport{handle: func([]byte) []byte { return nil }}

	cfg := agentConfig(t, suite, agentKey, serverKey.Public, "a:1")
	a, err := New(cfg, testBackend(t), WithDialer(dialer(map[string]*memTransport{"s0": silent})))
	require.NoError(err)

	_, err = a.Knock(context.Background(), "ssh")
	require.ErrorIs(err, ErrNoServer)
	require.ErrorIs(err, ErrTimeout)

	_, err = a.Knock(context.Background(), "printer")
	require.ErrorIs(err, ErrUnknownResource)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.Knock(ctx, "ssh")
	require.ErrorIs(err, context.Canceled)
}

func TestKnockRejectsAckFromWrongKey(t *testing.T) {
	require := require.New(t)
	suite := crypto.Curve25519
	agentKey, serverKey, impostorKey := genKey(t, suite), genKey(t, suite), genKey(t, suite)

	body, err := proto.Marshal(&proto.AckResponse{ResourceHosts: map[string]string{"bastion": "203.0.113.66:22"}})
	require.NoError(err)
	impostor := &memTransport{handle: func([]byte) []byte {
		p, err := crypto.NewBuilder(suite, crypto.NewCounter(0)).Build(&crypto.Message{Type: crypto.PacketAck, Payload: body}, impostorKey, agentKey.Public)
		require.NoError(err)
		return p
	}}

	cfg := agentConfig(t, suite, agentKey, serverKey.Public, "a:1")
	a, err := New(cfg, testBackend(t), WithDialer(dialer(map[string]*memTransport{"s0": impostor})))
	require.NoError(err)

	_, err = a.Knock(context.Background(), "ssh")
	require.ErrorIs(err, ErrNoServer)
	require.ErrorIs(err, crypto.ErrAuthentication)
}

// every knock after the first is answered with a copy of the first ack
func TestKnockDropsAckForAnotherKnock(t *testing.T) {
	require := require.New(t)
	suite := crypto.Curve25519
	agentKey, serverKey := genKey(t, suite), genKey(t, suite)
	r := newResponder(t, suite, serverKey, agentKey)

	var recorded []byte
	m := &memTransport{handle: func(p []byte) []byte {
		if recorded == nil {
			recorded = responderHandler(r)(p)
		}
		return recorded
	}}

	cfg := agentConfig(t, suite, agentKey, serverKey.Public, "a:1")
	a, err := New(cfg, testBackend(t), WithDialer(dialer(map[string]*memTransport{"s0": m})))
	require.NoError(err)

	res, err := a.Knock(context.Background(), "ssh")
	require.NoError(err)
	require.True(res.Ack.OK())

	for _, resource := range []string{"ssh", "db"} {
		res, err = a.Knock(context.Background(), resource)
		require.Nil(res, resource)
		require.ErrorIs(err, ErrNoServer, resource)
		require.ErrorIs(err, ErrWrongAck, resource)
	}
	require.Len(m.sent, 1+2*cfg.Agent.Retries)
}

func TestKnockDropsStaleAck(t *testing.T) {
	require := require.New(t)
	suite := crypto.GMSM
	agentKey, serverKey := genKey(t, suite), genKey(t, suite)
	r := newResponder(t, suite, serverKey, agentKey)
	m := &memTransport{handle: responderHandler(r)}

	// acks are fresh when sealed but an hour old when the agent reads them
	later := func() time.Time { return time.Now().Add(time.Hour) }
	cfg := agentConfig(t, suite, agentKey, serverKey.Public, "a:1")
	a, err := New(cfg, testBackend(t), WithDialer(dialer(map[string]*memTransport{"s0": m})), WithClock(later))
	require.NoError(err)

	res, err := a.Knock(context.Background(), "ssh")
	require.Nil(res)
	require.ErrorIs(err, ErrNoServer)
	require.ErrorIs(err, antireplay.ErrStale)
	require.Len(m.sent, cfg.Agent.Retries)
	require.Empty(m.replies)
}

func TestExit(t *testing.T) {
	require := require.New(t)
	suite := crypto.GMSM
	agentKey, serverKey := genKey(t, suite), genKey(t, suite)
	r := newResponder(t, suite, serverKey, agentKey)
	m := &memTransport{handle: responderHandler(r)}

	cfg := agentConfig(t, suite, agentKey, serverKey.Public, "a:1")
	a, err := New(cfg, testBackend(t), WithDialer(dialer(map[string]*memTransport{"s0": m})))
	require.NoError(err)

	require.NoError(a.Exit(context.Background()))
	require.Len(m.sent, 1)
	require.Empty(m.replies)
	require.Equal(uint64(1), r.Handled())
}

// the whole exchange over loopback UDP, with a silent server listed first
func TestKnockOverUDP(t *testing.T) {
	require := require.New(t)
	suite := crypto.Curve25519
	agentKey, serverKey := genKey(t, suite), genKey(t, suite)
	r := newResponder(t, suite, serverKey, agentKey)

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(err)
	defer conn.Close()
	silent, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(err)
	defer silent.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Serve(ctx, conn, 2)

	cfg := agentConfig(t, suite, agentKey, serverKey.Public, silent.LocalAddr().String(), conn.LocalAddr().String())
	a, err := New(cfg, testBackend(t))
	require.NoError(err)

	res, err := a.Knock(ctx, "ssh")
	require.NoError(err)
	require.Equal("s1", res.Server.Name)
	require.True(res.Ack.OK())
	require.Equal("127.0.0.1", res.Ack.AgentAddr)
}
