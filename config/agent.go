package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/malcolmseyd/nhp-go/util"
)

const (
	defaultTimeout = 5
	defaultRetries = 3

	// TransportUDP sends knocks from an ordinary UDP socket
	TransportUDP = "udp"
	// TransportRaw crafts IPv4/UDP headers on a raw socket, needs root
	TransportRaw = "raw"
)

// Agent is the [Agent] section.
type Agent struct {
	identity

	// Scheme is the cipher suite, "curve25519" or "gmsm".
	Scheme string

	// PrivateKey is the agent's base64 static private key.
	PrivateKey string

	UserID         string
	DeviceID       string
	OrganizationID string

	// Transport is "udp" (default) or "raw".
	Transport string

	// SourcePort fixes the local UDP port. Zero picks one.
	SourcePort int

	// TimeoutSeconds bounds the wait for each ack.
	TimeoutSeconds int

	// Retries is the number of knocks sent to each server before moving
	// on to the next one.
	Retries int

	// MaxSkewSeconds is how far an ack's timestamp may be from the local
	// clock.
	MaxSkewSeconds int
}

// Timeout returns TimeoutSeconds as a duration
func (a *Agent) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// MaxSkew returns MaxSkewSeconds as a duration
func (a *Agent) MaxSkew() time.Duration {
	return time.Duration(a.MaxSkewSeconds) * time.Second
}

func (a *Agent) fixupAndValidate() error {
	if err := a.decode("Agent", a.Scheme, a.PrivateKey); err != nil {
		return err
	}
	if a.UserID == "" {
		return fmt.Errorf("config: Agent: UserID is empty")
	}
	switch strings.ToLower(a.Transport) {
	case "":
		a.Transport = TransportUDP
	case TransportUDP, TransportRaw:
		a.Transport = strings.ToLower(a.Transport)
	default:
		return fmt.Errorf("config: Agent: Transport '%v' is invalid", a.Transport)
	}
	if a.SourcePort < 0 || a.SourcePort > 0xffff {
		return fmt.Errorf("config: Agent: SourcePort %d is invalid", a.SourcePort)
	}
	if a.TimeoutSeconds <= 0 {
		a.TimeoutSeconds = defaultTimeout
	}
	if a.Retries <= 0 {
		a.Retries = defaultRetries
	}
	if a.MaxSkewSeconds <= 0 {
		a.MaxSkewSeconds = defaultMaxSkew
	}
	return nil
}

// Peer is one [[Servers]] entry of the agent.
type Peer struct {
	// Name is what [[Resources]] refer to the server by.
	Name string

	// Address is host:port of the server.
	Address string

	// PublicKey is the server's base64 static public key.
	PublicKey string

	publicKey []byte
}

// Key returns the decoded public key
func (p *Peer) Key() []byte { return p.publicKey }

// Resource is one [[Resources]] entry of the agent.
type Resource struct {
	ID            string
	AuthServiceID string

	// Servers lists server names in the order they are tried. Empty means
	// every server, in file order.
	Servers []string
}

// AgentConfig is the agent's configuration file.
type AgentConfig struct {
	Logging   *Logging
	Agent     *Agent
	Servers   []*Peer
	Resources []*Resource

	servers map[string]*Peer
}

// Server returns the server called name
func (c *AgentConfig) Server(name string) (*Peer, bool) {
	p, ok := c.servers[name]
	return p, ok
}

// Resource returns the resource with id
func (c *AgentConfig) Resource(id string) (*Resource, bool) {
	for _, r := range c.Resources {
		if r.ID == id {
			return r, true
		}
	}
	return nil, false
}

// FixupAndValidate applies defaults and validates every section.
func (c *AgentConfig) FixupAndValidate() error {
	var err error
	if c.Logging, err = fixupLogging(c.Logging); err != nil {
		return err
	}
	if c.Agent == nil {
		return fmt.Errorf("%w: Agent", ErrNoSection)
	}
	if err := c.Agent.fixupAndValidate(); err != nil {
		return err
	}
	if len(c.Servers) == 0 {
		return fmt.Errorf("%w: Servers", ErrNoSection)
	}

	c.servers = make(map[string]*Peer)
	for i, p := range c.Servers {
		section := fmt.Sprintf("Servers[%d]", i)
		if p.Name == "" {
			p.Name = p.Address
		}
		if _, dup := c.servers[p.Name]; dup {
			return fmt.Errorf("config: %s: duplicate Name '%v'", section, p.Name)
		}
		if err := checkHostPort(section, p.Address); err != nil {
			return err
		}
		if p.publicKey, err = util.DecodePublicKey(c.Agent.Suite(), p.PublicKey); err != nil {
			return fmt.Errorf("config: %s: PublicKey: %v", section, err)
		}
		c.servers[p.Name] = p
	}

	seen := make(map[string]bool)
	for i, r := range c.Resources {
		section := fmt.Sprintf("Resources[%d]", i)
		if r.ID == "" {
			return fmt.Errorf("config: %s: ID is empty", section)
		}
		if seen[r.ID] {
			return fmt.Errorf("config: %s: duplicate ID '%v'", section, r.ID)
		}
		seen[r.ID] = true
		if len(r.Servers) == 0 {
			for _, p := range c.Servers {
				r.Servers = append(r.Servers, p.Name)
			}
		}
		for _, name := range r.Servers {
			if _, ok := c.servers[name]; !ok {
				return fmt.Errorf("config: %s: unknown server '%v'", section, name)
			}
		}
	}
	return nil
}

// LoadAgent parses and validates the provided buffer b as an agent config
// file body and returns the AgentConfig.
func LoadAgent(b []byte) (*AgentConfig, error) {
	cfg := new(AgentConfig)
	if err := toml.Unmarshal(b, cfg); err != nil {
		return nil, err
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadAgentFile loads, parses, and validates the provided file.
func LoadAgentFile(f string) (*AgentConfig, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return LoadAgent(b)
}
