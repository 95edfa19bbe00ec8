package ssh

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultPort is the port instances accept SSH on.
const DefaultPort = 22

// Config describes how to reach one instance. Instances are only ever
// reached with the private half of the key pair they were launched with,
// so the key travels in memory rather than through a file.
type Config struct {
	Host string
	Port int
	User string

	// PrivateKey is the PEM encoded key of the instance's key pair.
	PrivateKey []byte

	// KnownHostsPath is only read when StrictHostKeyChecking is set.
	KnownHostsPath string

	// StrictHostKeyChecking rejects hosts missing from KnownHostsPath.
	// Freshly launched instances have unknown keys, so it is off by default.
	StrictHostKeyChecking bool

	// ConnectTimeout bounds the TCP dial and the handshake.
	ConnectTimeout time.Duration

	// CommandTimeout bounds each command when the caller's context has no
	// deadline. Zero means no bound.
	CommandTimeout time.Duration

	// KeepAlive is the interval between keep-alive requests. Zero
	// disables them.
	KeepAlive time.Duration
}

// NewConfig returns the configuration for user@host authenticated with
// privateKey.
func NewConfig(host, user string, privateKey []byte) *Config {
	return &Config{
		Host:           host,
		Port:           DefaultPort,
		User:           user,
		PrivateKey:     privateKey,
		ConnectTimeout: 30 * time.Second,
	}
}

// Validate checks the configuration before dialing.
func (c *Config) Validate() error {
	switch {
	case c.Host == "":
		return errors.New("host is required")
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("invalid port: %d", c.Port)
	case c.User == "":
		return errors.New("user is required")
	case len(c.PrivateKey) == 0:
		return errors.New("private key is required")
	case c.ConnectTimeout <= 0:
		return errors.New("connect timeout must be positive")
	case c.StrictHostKeyChecking && c.KnownHostsPath == "":
		return errors.New("known hosts path is required for strict host key checking")
	}
	return nil
}

// clientConfig builds the x/crypto/ssh configuration.
func (c *Config) clientConfig() (*ssh.ClientConfig, error) {
	signer, err := ssh.ParsePrivateKey(c.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if c.StrictHostKeyChecking {
		hostKeyCallback, err = knownhosts.New(c.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.ConnectTimeout,
	}, nil
}

// Address returns host:port.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
