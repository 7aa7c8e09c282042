// Package auth is the authorization server side of the knock protocol. It
// opens knocks, decides whether the agent may reach the resource it asks
// for, and seals the answer.
package auth

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/op/go-logging.v1"

	"github.com/malcolmseyd/nhp-go/antireplay"
	"github.com/malcolmseyd/nhp-go/config"
	"github.com/malcolmseyd/nhp-go/crypto"
	"github.com/malcolmseyd/nhp-go/log"
	"github.com/malcolmseyd/nhp-go/proto"
)

var (
	// ErrUnknownAgent is returned when a packet's sender key is not configured
	ErrUnknownAgent = errors.New("server/auth: unknown agent")
	// ErrPacketType is returned for packet types the server does not serve
	ErrPacketType = errors.New("server/auth: unexpected packet type")
)

// Responder handles one packet at a time and is safe for concurrent use.
// Every error it returns means the packet gets no reply at all.
type Responder struct {
	log     *logging.Logger
	suite   crypto.CipherSuite
	keys    *crypto.KeyPair
	builder *crypto.Builder
	parser  *crypto.Parser
	filter  *antireplay.Filter
	metrics *metrics
	now     func() time.Time

	agents    map[string]*config.AuthorizedAgent
	resources map[string]*config.HostedResource

	handled atomic.Uint64
}

// Option configures a Responder
type Option func(*Responder)

// WithClock replaces time.Now for freshness checks and ack timestamps
func WithClock(now func() time.Time) Option {
	return func(r *Responder) { r.now = now }
}

// New creates a Responder for cfg. Metrics are registered with reg when it
// is not nil.
func New(cfg *config.ServerConfig, backend *log.Backend, reg prometheus.Registerer, opts ...Option) (*Responder, error) {
	r := &Responder{
		suite:     cfg.Server.Suite(),
		keys:      cfg.Server.KeyPair(),
		filter:    antireplay.NewFilter(cfg.Server.MaxSkew()),
		now:       time.Now,
		agents:    make(map[string]*config.AuthorizedAgent),
		resources: make(map[string]*config.HostedResource),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.suite == nil || r.keys == nil {
		return nil, fmt.Errorf("server/auth: configuration was not validated")
	}
	r.log = backend.GetLogger("responder")
	// acks are only ever sealed by this responder, so its counter may
	// start anywhere the agents have not seen yet
	r.builder = crypto.NewBuilder(r.suite, crypto.NewCounter(uint64(r.now().UnixNano())), crypto.WithClock(r.now))
	r.parser = crypto.NewParser(r.suite)

	for _, a := range cfg.Agents {
		r.agents[string(a.Key())] = a
	}
	for _, res := range cfg.Resources {
		r.resources[res.ID] = res
	}

	var err error
	if r.metrics, err = newMetrics(reg); err != nil {
		return nil, err
	}
	return r, nil
}

// PublicKey returns the server's static public key
func (r *Responder) PublicKey() []byte {
	return r.keys.Public
}

// Handle processes one datagram received from addr and returns the reply
// to send, if any.
func (r *Responder) Handle(packet []byte, addr net.Addr) ([]byte, error) {
	start := time.Now()
	r.handled.Add(1)

	msg, err := r.parser.Parse(packet, r.keys, nil)
	if err != nil {
		r.metrics.observe("unknown", crypto.ErrorKind(err), start)
		r.log.Debugf("drop from %v: %s", addr, crypto.ErrorKind(err))
		return nil, err
	}
	typ := msg.Type.String()

	agent, ok := r.agents[string(msg.SenderKey)]
	if !ok {
		r.metrics.observe(typ, "unknown_agent", start)
		r.log.Debugf("drop %s from %v: unknown agent", typ, addr)
		return nil, ErrUnknownAgent
	}
	if err := r.filter.Check(msg.SenderKey, msg.Counter, msg.Timestamp, r.now()); err != nil {
		result := "replay"
		if errors.Is(err, antireplay.ErrStale) {
			result = "stale"
		}
		r.metrics.observe(typ, result, start)
		r.log.Infof("drop %s from %s at %v: %s", typ, agent.UserID, addr, result)
		return nil, err
	}

	var reply []byte
	switch msg.Type {
	case crypto.PacketKnock, crypto.PacketReknock:
		reply, err = r.knock(msg, agent, addr)
	case crypto.PacketKeepAlive:
	case crypto.PacketExit:
		r.log.Noticef("%s at %v left", agent.UserID, addr)
	default:
		err = fmt.Errorf("%w: %v", ErrPacketType, msg.Type)
	}
	if err != nil {
		r.metrics.observe(typ, "error", start)
		r.log.Warningf("%s from %s at %v: %v", typ, agent.UserID, addr, err)
		return nil, err
	}
	r.metrics.observe(typ, "ok", start)
	return reply, nil
}

func (r *Responder) knock(msg *crypto.Message, agent *config.AuthorizedAgent, addr net.Addr) ([]byte, error) {
	var req proto.KnockRequest
	if err := proto.Unmarshal(msg.Payload, &req); err != nil {
		return nil, err
	}

	ack := r.authorize(agent, &req)
	ack.AgentAddr = hostOf(addr)
	ack.ResourceID = req.ResourceID
	ack.KnockCounter = msg.Counter
	if ack.OK() {
		r.log.Noticef("%s opened %s/%s from %v", agent.UserID, req.AuthServiceID, req.ResourceID, addr)
	} else {
		r.log.Infof("%s refused %s/%s: %s", agent.UserID, req.AuthServiceID, req.ResourceID, ack.ErrMsg)
	}

	body, err := proto.Marshal(ack)
	if err != nil {
		return nil, err
	}
	return r.builder.Build(&crypto.Message{
		Type:     crypto.PacketAck,
		Compress: true,
		Payload:  body,
	}, r.keys, msg.SenderKey)
}

// authorize decides a knock of an authenticated agent. Refusals are still
// answered: the agent already proved who it is.
func (r *Responder) authorize(agent *config.AuthorizedAgent, req *proto.KnockRequest) *proto.AckResponse {
	if req.UserID != "" && req.UserID != agent.UserID {
		return &proto.AckResponse{ErrCode: proto.CodeUnknownAgent, ErrMsg: "user id does not match key"}
	}
	res, ok := r.resources[req.ResourceID]
	if !ok || (res.AuthServiceID != "" && res.AuthServiceID != req.AuthServiceID) {
		return &proto.AckResponse{ErrCode: proto.CodeUnknownService, ErrMsg: "no such resource"}
	}
	allowed := false
	for _, id := range agent.Resources {
		if id == res.ID {
			allowed = true
			break
		}
	}
	if !allowed {
		return &proto.AckResponse{ErrCode: proto.CodeDenied, ErrMsg: "not allowed"}
	}
	return &proto.AckResponse{
		ErrCode:       proto.CodeOK,
		ResourceHosts: res.Hosts,
		OpenTime:      uint32(res.OpenTimeSeconds),
	}
}

// Prune forgets replay state of agents that have been quiet for longer
// than the allowed clock skew
func (r *Responder) Prune() int {
	return r.filter.Prune(r.now())
}

// Handled returns the number of packets seen so far
func (r *Responder) Handled() uint64 {
	return r.handled.Load()
}

func hostOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr.String()); err == nil {
		return host
	}
	return addr.String()
}
