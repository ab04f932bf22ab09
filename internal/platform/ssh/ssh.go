package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"golang.org/x/crypto/ssh"

	"github.com/imamik/vmaas/internal/util/retry"
	"github.com/imamik/vmaas/internal/util/shell"
)

const (
	defaultPort        = 22
	defaultDialTimeout = 10 * time.Second
	defaultMaxRetries  = 12
	defaultRetryDelay  = 5 * time.Second
	defaultMaxDelay    = 10 * time.Second
)

// Config holds SSH client configuration.
type Config struct {
	Host       string
	Port       int
	User       string
	PrivateKey []byte

	// DialTimeout is the timeout for establishing the TCP connection.
	// If zero, defaultDialTimeout is used.
	DialTimeout time.Duration

	// MaxRetries is the number of connection attempts.
	// If zero, defaultMaxRetries is used.
	MaxRetries int

	// RetryDelay is the initial delay between connection attempts.
	// If zero, defaultRetryDelay is used.
	RetryDelay time.Duration

	// HostKeyCallback handles host key verification.
	// If nil, ssh.InsecureIgnoreHostKey() is used.
	HostKeyCallback ssh.HostKeyCallback
}

// Client executes commands on a remote host via SSH.
// It parses the private key once during construction and
// creates connections on demand per call.
type Client struct {
	config *Config
	signer ssh.Signer
}

var _ shell.Runner = (*Client)(nil)

// NewClient creates a new SSH client and validates the private key.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("config host cannot be empty")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("config user cannot be empty")
	}
	if len(cfg.PrivateKey) == 0 {
		return nil, fmt.Errorf("config private key cannot be empty")
	}

	// Copy config to avoid mutating caller's struct
	configCopy := *cfg
	if configCopy.Port == 0 {
		configCopy.Port = defaultPort
	}
	if configCopy.DialTimeout == 0 {
		configCopy.DialTimeout = defaultDialTimeout
	}
	if configCopy.MaxRetries == 0 {
		configCopy.MaxRetries = defaultMaxRetries
	}
	if configCopy.RetryDelay == 0 {
		configCopy.RetryDelay = defaultRetryDelay
	}
	if configCopy.HostKeyCallback == nil {
		configCopy.HostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec // controller VMs are recreated with --force
	}

	signer, err := ssh.ParsePrivateKey(configCopy.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return &Client{
		config: &configCopy,
		signer: signer,
	}, nil
}

// NewClientFromKeyFile reads the private key at path and creates a client.
func NewClientFromKeyFile(cfg Config, path string) (*Client, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read identity %s: %w", path, err)
	}
	cfg.PrivateKey = key
	return NewClient(&cfg)
}

// Host returns the remote address.
func (c *Client) Host() string {
	return c.config.Host
}

// WithRetries returns a copy of the client with a different number of
// connection attempts.
func (c *Client) WithRetries(n int) *Client {
	cfgCopy := *c.config
	cfgCopy.MaxRetries = n
	return &Client{config: &cfgCopy, signer: c.signer}
}

// Execute runs a command line on the remote host.
// Returns command output (stdout+stderr) and any execution error.
func (c *Client) Execute(ctx context.Context, command string) (string, error) {
	client, err := c.connect(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = client.Close() }()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to create SSH session on %s: %w", c.config.Host, err)
	}
	defer func() { _ = session.Close() }()

	output, err := session.CombinedOutput(command)
	if err != nil {
		return string(output), fmt.Errorf("command failed on %s: %w\nCommand: %s\nOutput: %s",
			c.config.Host, err, command, string(output))
	}
	return string(output), nil
}

// Run executes cmd remotely. Pipe chains run under bash with pipefail, so a
// failure anywhere in the chain fails the whole command.
func (c *Client) Run(ctx context.Context, cmd shell.Command) (shell.Result, error) {
	if len(cmd.Args) == 0 {
		return shell.Result{}, fmt.Errorf("empty command")
	}
	shell.Trace(ctx, c.config.Host, cmd)

	line := commandLine(cmd)

	client, err := c.connect(ctx)
	if err != nil {
		return shell.Result{}, err
	}
	defer func() { _ = client.Close() }()

	session, err := client.NewSession()
	if err != nil {
		return shell.Result{}, fmt.Errorf("failed to create SSH session on %s: %w", c.config.Host, err)
	}
	defer func() { _ = session.Close() }()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if cmd.Stdin != "" {
		session.Stdin = strings.NewReader(cmd.Stdin)
	}

	done := make(chan error, 1)
	go func() { done <- session.Run(line) }()

	var runErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		return shell.Result{}, fmt.Errorf("%s on %s interrupted: %w", cmd.String(), c.config.Host, ctx.Err())
	case runErr = <-done:
	}

	res := shell.Result{Stdout: stdout.String(), Stderr: stderr.String()}
	failed := -1
	if runErr != nil {
		var exitErr *ssh.ExitError
		if !errors.As(runErr, &exitErr) {
			return res, fmt.Errorf("command %q failed on %s: %w", line, c.config.Host, runErr)
		}
		res.ExitCode = exitErr.ExitStatus()
		failed = 0
	}

	stages := [][]string{cmd.Args}
	if len(cmd.Pipes) > 0 {
		stages = [][]string{{"bash", "-o", "pipefail", "-c", cmd.String()}}
	}
	return shell.Finish(ctx, stages, failed, cmd.AllowFailure, res)
}

// Upload writes data to dst on the remote host, through sudo when asked.
func (c *Client) Upload(ctx context.Context, data []byte, dst string, sudo bool) error {
	args := []string{"bash", "-c", "cat > " + shellquote.Join(dst)}
	if sudo {
		args = []string{"sudo", "tee", dst}
	}
	cmd := shell.Command{Args: args, Stdin: string(data)}
	if _, err := c.Run(ctx, cmd); err != nil {
		return fmt.Errorf("failed to upload %s to %s: %w", dst, c.config.Host, err)
	}
	return nil
}

// Ping checks that the host accepts a session and runs a trivial command.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Run(ctx, shell.Cmd("true"))
	return err
}

func commandLine(cmd shell.Command) string {
	if len(cmd.Pipes) == 0 {
		return shellquote.Join(cmd.Args...)
	}
	return shellquote.Join("bash", "-o", "pipefail", "-c", cmd.String())
}

// connect establishes SSH connection with retry logic.
func (c *Client) connect(ctx context.Context) (*ssh.Client, error) {
	config := &ssh.ClientConfig{
		User: c.config.User,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(c.signer),
		},
		HostKeyCallback: c.config.HostKeyCallback,
		Timeout:         c.config.DialTimeout,
	}

	addr := fmt.Sprintf("%s:%d", c.config.Host, c.config.Port)
	var client *ssh.Client

	// The controller VM takes a while to bring up sshd after first boot.
	err := retry.WithExponentialBackoff(ctx, func() error {
		var dialErr error
		client, dialErr = ssh.Dial("tcp", addr, config)
		return dialErr
	},
		retry.WithName("ssh-dial"),
		retry.WithMaxRetries(c.config.MaxRetries),
		retry.WithInitialDelay(c.config.RetryDelay),
		retry.WithMaxDelay(defaultMaxDelay),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to establish SSH connection to %s after %d attempts: %w",
			addr, c.config.MaxRetries, err)
	}

	return client, nil
}
