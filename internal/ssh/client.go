package ssh

import (
	"bytes"
	"context"
	"crypto/ed25519"
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"sort"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"prt/internal/errors"
	"prt/internal/logging"
	"prt/internal/target"
)

// Authentication paths recorded in Result.Auth
const (
	AuthPublicKey = "publickey"
	AuthAgent     = "agent"
)

// Output holds the captured streams of one remote command
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Client defines the interface for SSH operations
type Client interface {
	// Connect establishes an SSH connection to the host
	Connect(ctx context.Context, host target.Host) error

	// Execute runs one command on the connected host
	Execute(ctx context.Context, command string) (*Output, error)

	// AuthMethod names the authentication path used by Connect
	AuthMethod() string

	// Close terminates the SSH connection
	Close() error
}

// Options configures SSHClient
type Options struct {
	KeyPath        string        // Provisioned private key (primary authentication)
	AgentSocket    string        // ssh-agent socket for the fallback path; defaults to $SSH_AUTH_SOCK
	KnownHosts     []string      // known_hosts files; missing files are skipped
	StrictHostKeys bool          // Reject hosts that are not in known_hosts
	ConnectTimeout time.Duration // TCP dial timeout, 0 for none
}

// SSHClient implements the Client interface using golang.org/x/crypto/ssh
type SSHClient struct {
	opts      Options
	conn      *ssh.Client
	agentConn net.Conn
	host      target.Host
	auth      string
	logger    *logging.Logger
}

// NewClient creates a new SSH client instance
func NewClient(opts Options) Client {
	return NewClientWithLogger(opts, nil)
}

// NewClientWithLogger creates a new SSH client instance with logging
func NewClientWithLogger(opts Options, logger *logging.Logger) Client {
	if logger == nil {
		logger = logging.Discard()
	}
	return &SSHClient{opts: opts, logger: logger}
}

// AuthMethod names the authentication path used by Connect
func (c *SSHClient) AuthMethod() string {
	return c.auth
}

// Connect establishes an SSH connection to the host. The handshake is
// aborted when ctx ends.
func (c *SSHClient) Connect(ctx context.Context, host target.Host) (err error) {
	c.host = host
	startTime := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ssh connection panic: %v", r)
		}
		if err != nil {
			c.logger.LogConnectionError(host, err)
		}
	}()

	config, err := c.buildSSHConfig(host)
	if err != nil {
		return err
	}

	address := host.Addr()
	dialer := &net.Dialer{Timeout: c.opts.ConnectTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		message := fmt.Sprintf("failed to connect to %s: %v", address, err)
		if errors.ClassifyError(err).Type == errors.TimeoutErrorType {
			return errors.NewTimeoutError(message, err)
		}
		return errors.NewConnectionError(message, err)
	}

	stop := context.AfterFunc(ctx, func() {
		netConn.Close()
	})
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, address, config)
	if !stop() {
		if err == nil {
			sshConn.Close()
		}
		netConn.Close()
		return errors.NewTimeoutError(fmt.Sprintf("ssh handshake with %s interrupted: %v", address, ctx.Err()), ctx.Err())
	}
	if err != nil {
		netConn.Close()
		return fmt.Errorf("ssh handshake failed for %s: %w", address, err)
	}

	c.conn = ssh.NewClient(sshConn, chans, reqs)
	c.logger.LogConnection(host, c.auth, time.Since(startTime))
	return nil
}

// Execute runs a command on the connected host. A non-zero exit status is
// reported in Output, not as an error.
func (c *SSHClient) Execute(ctx context.Context, command string) (*Output, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("not connected to any host")
	}

	startTime := time.Now()
	session, err := c.conn.NewSession()
	if err != nil {
		return nil, errors.NewExecutionError(fmt.Sprintf("failed to create session: %v", err), err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case err := <-done:
		out := &Output{Stdout: stdout.String(), Stderr: stderr.String()}
		if err != nil {
			var exitErr *ssh.ExitError
			var missingErr *ssh.ExitMissingError
			switch {
			case stderrors.As(err, &exitErr):
				out.ExitCode = exitErr.ExitStatus()
			case stderrors.As(err, &missingErr):
				out.ExitCode = -1
			default:
				err = errors.NewExecutionError(fmt.Sprintf("ssh execution error: %v", err), err)
				c.logger.LogExecutionError(c.host, err)
				return nil, err
			}
		}
		c.logger.LogExecution(c.host, out.ExitCode, len(SplitLines(out.Stdout)), len(SplitLines(out.Stderr)), time.Since(startTime))
		return out, nil

	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		err := errors.NewTimeoutError(fmt.Sprintf("command execution interrupted: %v", ctx.Err()), ctx.Err())
		c.logger.LogExecutionError(c.host, err)
		return nil, err
	}
}

// Close terminates the SSH connection and any agent connection
func (c *SSHClient) Close() error {
	var errs []error
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !stderrors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
		c.conn = nil
	}
	if c.agentConn != nil {
		if err := c.agentConn.Close(); err != nil {
			errs = append(errs, err)
		}
		c.agentConn = nil
	}
	return stderrors.Join(errs...)
}

// buildSSHConfig creates an SSH client configuration with authentication methods
func (c *SSHClient) buildSSHConfig(host target.Host) (*ssh.ClientConfig, error) {
	known, err := c.loadKnownHosts()
	if err != nil {
		return nil, err
	}

	authMethods, err := c.getAuthMethods()
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:              host.User,
		Auth:              authMethods,
		HostKeyCallback:   c.hostKeyCallback(known),
		HostKeyAlgorithms: knownHostKeyAlgorithms(known, host.Addr()),
		Timeout:           c.opts.ConnectTimeout,
	}, nil
}

// getAuthMethods uses the provisioned key, or the SSH agent when the key
// cannot be loaded.
func (c *SSHClient) getAuthMethods() ([]ssh.AuthMethod, error) {
	keyAuth, keyErr := c.getKeyAuth(c.opts.KeyPath)
	if keyErr == nil {
		c.auth = AuthPublicKey
		return []ssh.AuthMethod{keyAuth}, nil
	}

	c.logger.Debug("private key unavailable, trying ssh-agent", "host_id", c.host.ID, "error", keyErr.Error())
	agentAuth, agentErr := c.getAgentAuth()
	if agentErr == nil {
		c.auth = AuthAgent
		return []ssh.AuthMethod{agentAuth}, nil
	}

	return nil, errors.NewAuthenticationError(
		fmt.Sprintf("no authentication methods available (key: %v; agent: %v)", keyErr, agentErr), keyErr)
}

// getKeyAuth returns public key authentication using the private key file
func (c *SSHClient) getKeyAuth(keyPath string) (ssh.AuthMethod, error) {
	if keyPath == "" {
		return nil, fmt.Errorf("no private key configured")
	}
	keyBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return ssh.PublicKeys(signer), nil
}

// getAgentAuth returns SSH agent authentication if an agent is reachable
func (c *SSHClient) getAgentAuth() (ssh.AuthMethod, error) {
	socket := c.opts.AgentSocket
	if socket == "" {
		socket = os.Getenv("SSH_AUTH_SOCK")
	}
	if socket == "" {
		return nil, fmt.Errorf("SSH_AUTH_SOCK not set")
	}

	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, fmt.Errorf("failed to reach ssh-agent: %w", err)
	}
	c.agentConn = conn
	return ssh.PublicKeysCallback(agent.NewClient(conn).Signers), nil
}

// loadKnownHosts reads the configured known_hosts files that exist. It
// returns nil when there are none.
func (c *SSHClient) loadKnownHosts() (ssh.HostKeyCallback, error) {
	var files []string
	for _, f := range c.opts.KnownHosts {
		if _, err := os.Stat(f); err == nil {
			files = append(files, f)
		}
	}
	if len(files) == 0 {
		return nil, nil
	}

	known, err := knownhosts.New(files...)
	if err != nil {
		return nil, fmt.Errorf("failed to read known_hosts: %w", err)
	}
	return known, nil
}

// knownHostKeyAlgorithms returns the host key algorithms matching the key
// types recorded for address, so the server is asked for a key that can be
// verified. Nil leaves the library defaults in place.
func knownHostKeyAlgorithms(known ssh.HostKeyCallback, address string) []string {
	if known == nil {
		return nil
	}

	// A key that is never recorded makes the database list what it holds.
	placeholder, err := ssh.NewPublicKey(ed25519.PublicKey(make([]byte, ed25519.PublicKeySize)))
	if err != nil {
		return nil
	}
	var keyErr *knownhosts.KeyError
	if err := known(address, &net.TCPAddr{}, placeholder); !stderrors.As(err, &keyErr) || len(keyErr.Want) == 0 {
		return nil
	}

	var plain []string
	seen := make(map[string]bool)
	add := func(algo string) {
		if !seen[algo] {
			seen[algo] = true
			plain = append(plain, algo)
		}
	}
	for _, want := range keyErr.Want {
		switch keyType := want.Key.Type(); keyType {
		case ssh.KeyAlgoRSA:
			add(ssh.KeyAlgoRSASHA512)
			add(ssh.KeyAlgoRSASHA256)
			add(ssh.KeyAlgoRSA)
		default:
			add(keyType)
		}
	}
	sort.Strings(plain)

	// Certificates are still verified against @cert-authority lines.
	return append(append([]string(nil), certHostKeyAlgorithms...), plain...)
}

var certHostKeyAlgorithms = []string{
	ssh.CertAlgoED25519v01,
	ssh.CertAlgoECDSA256v01,
	ssh.CertAlgoECDSA384v01,
	ssh.CertAlgoECDSA521v01,
	ssh.CertAlgoRSASHA512v01,
	ssh.CertAlgoRSASHA256v01,
}

// hostKeyCallback checks host keys against known_hosts. Unknown hosts are
// accepted with a warning unless StrictHostKeys is set; changed keys are
// always rejected.
func (c *SSHClient) hostKeyCallback(known ssh.HostKeyCallback) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if known != nil {
			err := known(hostname, remote, key)
			if err == nil {
				return nil
			}
			var keyErr *knownhosts.KeyError
			if !stderrors.As(err, &keyErr) || len(keyErr.Want) > 0 {
				return err
			}
		}

		if c.opts.StrictHostKeys {
			return fmt.Errorf("host key verification failed: %s is not in known_hosts", hostname)
		}
		c.logger.LogConnectionWarning(hostname, "host key not in known_hosts, accepting "+ssh.FingerprintSHA256(key))
		return nil
	}
}
