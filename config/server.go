package config

import (
	"fmt"
	"net"
	"os"
	"runtime"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/malcolmseyd/nhp-go/util"
)

const (
	defaultMaxSkew  = 30
	defaultOpenTime = 120
)

// Server is the [Server] section.
type Server struct {
	identity

	// Scheme is the cipher suite, "curve25519" or "gmsm".
	Scheme string

	// PrivateKey is the server's base64 static private key.
	PrivateKey string

	// Listen is the UDP address knocks arrive on.
	Listen string

	// MetricsAddress, when set, serves Prometheus metrics over HTTP.
	MetricsAddress string

	// MaxSkewSeconds is how far a knock's timestamp may be from the
	// server clock.
	MaxSkewSeconds int

	// Workers is the number of packets handled in parallel.
	Workers int
}

// MaxSkew returns MaxSkewSeconds as a duration
func (s *Server) MaxSkew() time.Duration {
	return time.Duration(s.MaxSkewSeconds) * time.Second
}

func (s *Server) fixupAndValidate() error {
	if err := s.decode("Server", s.Scheme, s.PrivateKey); err != nil {
		return err
	}
	if s.Listen == "" {
		s.Listen = net.JoinHostPort("", DefaultPort)
	}
	if err := checkHostPort("Server", s.Listen); err != nil {
		return err
	}
	if s.MetricsAddress != "" {
		if err := checkHostPort("Server", s.MetricsAddress); err != nil {
			return err
		}
	}
	if s.MaxSkewSeconds <= 0 {
		s.MaxSkewSeconds = defaultMaxSkew
	}
	if s.Workers <= 0 {
		s.Workers = runtime.NumCPU()
	}
	return nil
}

// AuthorizedAgent is one [[Agents]] entry: an agent key the server accepts
// and the resources it may open.
type AuthorizedAgent struct {
	UserID string

	// PublicKey is the agent's base64 static public key.
	PublicKey string

	// Resources lists the IDs the agent may knock on.
	Resources []string

	publicKey []byte
}

// Key returns the decoded public key
func (a *AuthorizedAgent) Key() []byte { return a.publicKey }

// HostedResource is one [[Resources]] entry of the server.
type HostedResource struct {
	ID            string
	AuthServiceID string

	// Hosts maps host names to the addresses the agent is told about.
	Hosts map[string]string

	// OpenTimeSeconds is how long a granted knock keeps the resource open.
	OpenTimeSeconds int
}

// ServerConfig is the server's configuration file.
type ServerConfig struct {
	Logging   *Logging
	Server    *Server
	Agents    []*AuthorizedAgent
	Resources []*HostedResource
}

// FixupAndValidate applies defaults and validates every section.
func (c *ServerConfig) FixupAndValidate() error {
	var err error
	if c.Logging, err = fixupLogging(c.Logging); err != nil {
		return err
	}
	if c.Server == nil {
		return fmt.Errorf("%w: Server", ErrNoSection)
	}
	if err := c.Server.fixupAndValidate(); err != nil {
		return err
	}

	ids := make(map[string]bool)
	for i, r := range c.Resources {
		section := fmt.Sprintf("Resources[%d]", i)
		if r.ID == "" {
			return fmt.Errorf("config: %s: ID is empty", section)
		}
		if ids[r.ID] {
			return fmt.Errorf("config: %s: duplicate ID '%v'", section, r.ID)
		}
		ids[r.ID] = true
		if r.OpenTimeSeconds <= 0 {
			r.OpenTimeSeconds = defaultOpenTime
		}
	}

	keys := make(map[string]bool)
	for i, a := range c.Agents {
		section := fmt.Sprintf("Agents[%d]", i)
		if a.publicKey, err = util.DecodePublicKey(c.Server.Suite(), a.PublicKey); err != nil {
			return fmt.Errorf("config: %s: PublicKey: %v", section, err)
		}
		if keys[string(a.publicKey)] {
			return fmt.Errorf("config: %s: duplicate PublicKey", section)
		}
		keys[string(a.publicKey)] = true
		for _, id := range a.Resources {
			if !ids[id] {
				return fmt.Errorf("config: %s: unknown resource '%v'", section, id)
			}
		}
	}
	return nil
}

// LoadServer parses and validates the provided buffer b as a server config
// file body and returns the ServerConfig.
func LoadServer(b []byte) (*ServerConfig, error) {
	cfg := new(ServerConfig)
	if err := toml.Unmarshal(b, cfg); err != nil {
		return nil, err
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadServerFile loads, parses, and validates the provided file.
func LoadServerFile(f string) (*ServerConfig, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return LoadServer(b)
}
