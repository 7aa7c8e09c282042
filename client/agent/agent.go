// Package agent is the knocking side of the protocol: it holds the agent's
// identity and asks the configured servers to open resources.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/malcolmseyd/nhp-go/antireplay"
	"github.com/malcolmseyd/nhp-go/client/network"
	"github.com/malcolmseyd/nhp-go/config"
	"github.com/malcolmseyd/nhp-go/crypto"
	"github.com/malcolmseyd/nhp-go/log"
	"github.com/malcolmseyd/nhp-go/proto"
)

var (
	// ErrUnknownResource is returned when a resource is not configured
	ErrUnknownResource = errors.New("client/agent: unknown resource")
	// ErrNoServer is returned when no server answered a knock
	ErrNoServer = errors.New("client/agent: no server answered")
	// ErrTimeout is returned when a server stayed silent for every retry
	ErrTimeout = errors.New("client/agent: timed out waiting for ack")
	// ErrUnexpectedType is returned when a server answered with something
	// other than an ack
	ErrUnexpectedType = errors.New("client/agent: unexpected packet type")
	// ErrWrongAck occurs when an authentic ack answers some other knock
	ErrWrongAck = errors.New("client/agent: ack does not answer this knock")
)

// DialFunc opens a transport to server
type DialFunc func(server *config.Peer) (network.Transport, error)

// Agent sends knocks. It is safe for concurrent use.
type Agent struct {
	cfg     *config.AgentConfig
	log     *logging.Logger
	keys    *crypto.KeyPair
	builder *crypto.Builder
	parser  *crypto.Parser
	dial    DialFunc
	now     func() time.Time

	// acks are checked per server key like the servers check knocks
	filter *antireplay.Filter
}

// Option configures an Agent
type Option func(*Agent)

// WithDialer replaces the transport configured in [Agent]
func WithDialer(d DialFunc) Option {
	return func(a *Agent) { a.dial = d }
}

// WithClock replaces time.Now for ack freshness checks
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// New creates an agent from a validated configuration.
func New(cfg *config.AgentConfig, backend *log.Backend, opts ...Option) (*Agent, error) {
	if cfg.Agent == nil || cfg.Agent.Suite() == nil {
		return nil, fmt.Errorf("client/agent: configuration was not validated")
	}
	suite := cfg.Agent.Suite()
	a := &Agent{
		cfg:  cfg,
		log:  backend.GetLogger("agent"),
		keys: cfg.Agent.KeyPair(),
		// servers keep replay windows per agent key; starting from the
		// clock keeps a restarted agent ahead of its previous counters
		builder: crypto.NewBuilder(suite, crypto.NewCounter(uint64(time.Now().UnixNano()))),
		parser:  crypto.NewParser(suite),
		now:     time.Now,
		filter:  antireplay.NewFilter(cfg.Agent.MaxSkew()),
	}
	a.dial = func(server *config.Peer) (network.Transport, error) {
		return network.Dial(cfg.Agent.Transport, server.Address, cfg.Agent.SourcePort)
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// PublicKey returns the agent's static public key
func (a *Agent) PublicKey() []byte {
	return a.keys.Public
}

// Result is a knock some server answered.
type Result struct {
	Server *config.Peer
	Ack    *proto.AckResponse
}

// Knock asks the servers of resourceID, in configured order, to open it and
// returns the first answer. A refusal is an answer too: check Ack.Err().
func (a *Agent) Knock(ctx context.Context, resourceID string) (*Result, error) {
	res, ok := a.cfg.Resource(resourceID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownResource, resourceID)
	}
	req := a.request(res)

	var errs []error
	for _, name := range res.Servers {
		server, _ := a.cfg.Server(name)
		ack, err := a.KnockServer(ctx, server, req)
		if err == nil {
			return &Result{Server: server, Ack: ack}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.log.Warningf("knock %s at %s: %v", resourceID, server.Name, err)
		errs = append(errs, fmt.Errorf("%s: %w", server.Name, err))
	}
	return nil, fmt.Errorf("%w: %w", ErrNoServer, errors.Join(errs...))
}

func (a *Agent) request(res *config.Resource) *proto.KnockRequest {
	return &proto.KnockRequest{
		UserID:         a.cfg.Agent.UserID,
		DeviceID:       a.cfg.Agent.DeviceID,
		OrganizationID: a.cfg.Agent.OrganizationID,
		AuthServiceID:  res.AuthServiceID,
		ResourceID:     res.ID,
	}
}

// KnockServer sends req to one server, up to Retries times, and waits for
// its ack. Every retry is a new packet with a new counter.
func (a *Agent) KnockServer(ctx context.Context, server *config.Peer, req *proto.KnockRequest) (*proto.AckResponse, error) {
	body, err := proto.Marshal(req)
	if err != nil {
		return nil, err
	}
	t, err := a.dial(server)
	if err != nil {
		return nil, err
	}
	defer t.Close()

	last := ErrTimeout
	for attempt := 1; attempt <= a.cfg.Agent.Retries; attempt++ {
		packet, err := a.builder.Build(&crypto.Message{
			Type:     crypto.PacketKnock,
			Compress: true,
			Payload:  body,
		}, a.keys, server.Key())
		if err != nil {
			return nil, err
		}

		ack, err := a.exchange(ctx, t, server, packet, req.ResourceID)
		if err == nil {
			a.log.Noticef("knock %s/%s answered by %s: code %d", req.AuthServiceID, req.ResourceID, server.Name, ack.ErrCode)
			return ack, nil
		}
		if !errors.Is(err, ErrTimeout) {
			return nil, err
		}
		a.log.Infof("knock %s/%s to %s: attempt %d: %v", req.AuthServiceID, req.ResourceID, server.Name, attempt, err)
		last = err
	}
	return nil, last
}

// exchange sends one knock and waits for the ack answering it. Authentic
// acks answering an earlier knock, or too old to trust, are dropped while
// waiting.
func (a *Agent) exchange(parent context.Context, t network.Transport, server *config.Peer, packet []byte, resourceID string) (*proto.AckResponse, error) {
	hdr, err := crypto.DecodeHeader(packet)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(parent, a.cfg.Agent.Timeout())
	defer cancel()

	if err := t.Send(ctx, packet); err != nil {
		return nil, err
	}
	var dropped error
	for {
		reply, err := t.Recv(ctx)
		if err != nil {
			if parent.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				if dropped != nil {
					return nil, fmt.Errorf("%w: dropped %w", ErrTimeout, dropped)
				}
				return nil, ErrTimeout
			}
			return nil, err
		}

		msg, err := a.parser.Parse(reply, a.keys, server.Key())
		if err != nil {
			return nil, err
		}
		if msg.Type != crypto.PacketAck {
			return nil, fmt.Errorf("%w: %v", ErrUnexpectedType, msg.Type)
		}
		var ack proto.AckResponse
		if err := proto.Unmarshal(msg.Payload, &ack); err != nil {
			return nil, err
		}
		if !ack.Answers(hdr.Counter, resourceID) {
			dropped = ErrWrongAck
			a.log.Warningf("%s: dropped ack for %q, knock %d", server.Name, ack.ResourceID, ack.KnockCounter)
			continue
		}
		if err := a.filter.Check(server.Key(), msg.Counter, msg.Timestamp, a.now()); err != nil {
			dropped = err
			a.log.Warningf("%s: dropped ack: %v", server.Name, err)
			continue
		}
		return &ack, nil
	}
}

// Exit tells every configured server the agent is going away. Servers do
// not answer it.
func (a *Agent) Exit(ctx context.Context) error {
	var errs []error
	for _, server := range a.cfg.Servers {
		errs = append(errs, a.send(ctx, server, crypto.PacketExit))
	}
	return errors.Join(errs...)
}

func (a *Agent) send(ctx context.Context, server *config.Peer, typ crypto.PacketType) error {
	t, err := a.dial(server)
	if err != nil {
		return err
	}
	defer t.Close()
	packet, err := a.builder.Build(&crypto.Message{Type: typ}, a.keys, server.Key())
	if err != nil {
		return err
	}
	return t.Send(ctx, packet)
}
