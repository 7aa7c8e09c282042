// Package config loads the TOML configuration of the agent and the server.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/malcolmseyd/nhp-go/crypto"
	"github.com/malcolmseyd/nhp-go/log"
	"github.com/malcolmseyd/nhp-go/util"
)

const (
	defaultLogLevel = "NOTICE"
	// DefaultPort is the UDP port servers listen on unless told otherwise
	DefaultPort = "62206"
)

// ErrNoSection occurs when a mandatory section is missing
var ErrNoSection = errors.New("config: missing section")

// Logging is the [Logging] section of both files.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (l *Logging) validate() error {
	if l.Level == "" {
		l.Level = defaultLogLevel
	}
	if !log.ValidLevel(l.Level) {
		return fmt.Errorf("config: Logging: Level '%v' is invalid", l.Level)
	}
	l.Level = strings.ToUpper(l.Level)
	return nil
}

// NewBackend opens the log backend the section describes
func (l *Logging) NewBackend() (*log.Backend, error) {
	return log.New(l.File, l.Level, l.Disable)
}

func fixupLogging(l *Logging) (*Logging, error) {
	if l == nil {
		l = &Logging{Level: defaultLogLevel}
	}
	return l, l.validate()
}

// identity is the scheme and private key every section with keys carries
type identity struct {
	suite crypto.CipherSuite
	keys  *crypto.KeyPair
}

func (id *identity) decode(section, scheme, privateKey string) error {
	s, err := crypto.ParseScheme(scheme)
	if err != nil {
		return fmt.Errorf("config: %s: %v", section, err)
	}
	id.suite, err = crypto.NewSuite(s)
	if err != nil {
		return fmt.Errorf("config: %s: %v", section, err)
	}
	if privateKey == "" {
		return fmt.Errorf("config: %s: PrivateKey is empty", section)
	}
	id.keys, err = util.DecodeKeyPair(id.suite, privateKey)
	if err != nil {
		return fmt.Errorf("config: %s: PrivateKey: %v", section, err)
	}
	return nil
}

// Suite returns the cipher suite named by Scheme
func (id *identity) Suite() crypto.CipherSuite { return id.suite }

// KeyPair returns the decoded static key pair
func (id *identity) KeyPair() *crypto.KeyPair { return id.keys }

func checkHostPort(section, addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("config: %s: Address '%v' is invalid: %v", section, addr, err)
	}
	return nil
}
