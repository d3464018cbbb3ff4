package stdio

import (
	"context"
	"fmt"
	"github.com/viant/gosh/runner"
	"github.com/viant/gosh/runner/local"
	"github.com/viant/gosh/runner/ssh"
	"github.com/viant/mcpproxy"
	transport2 "github.com/viant/mcpproxy/transport"
	"github.com/viant/mcpproxy/transport/client/base"
	"github.com/viant/scy/cred/secret"
	cssh "golang.org/x/crypto/ssh"
	"strings"
	"sync"
	"time"
)

// Client is the Subprocess Client Transport: it launches an upstream MCP
// server as a child process (local, or over SSH when a host is set) and
// frames newline-delimited JSON-RPC messages over its stdin/stdout.
type Client struct {
	base      *base.Client
	client    runner.Runner
	secret    secret.Resource
	sshConfig *cssh.ClientConfig
	host      string
	command   string
	args      []string
	shell     string
	env       map[string]string
	ctx       context.Context

	closeOnce sync.Once
	onClose   transport2.CloseHandler
	onError   transport2.ErrorHandler
}

func (c *Client) start(ctx context.Context) error {
	if err := c.ensureSSHConfig(ctx); err != nil {
		return err // ensure SSH config is set up before initializing the service
	}
	var options = []runner.Option{
		runner.AsPipeline(),
	}
	if c.sshConfig != nil {
		c.client = ssh.New(c.host, c.sshConfig, options...) // create a new SSH client with the provided SSH config
	} else {
		c.client = local.New(options...) // fallback to local client if no SSH config is provided
	}
	c.base.Transport = &Transport{client: c.client}
	cmd := c.command
	if len(c.args) > 0 {
		cmd = fmt.Sprintf("%s %s", c.command, strings.Join(c.args, " "))
	}
	if c.shell != "" {
		cmd = fmt.Sprintf("%s -c %q", c.shell, cmd)
	}
	go c.startCommand(ctx, cmd)
	return nil
}

func (c *Client) startCommand(ctx context.Context, cmd string) {
	output, code, err := c.client.Run(ctx, cmd, runner.WithEnvironment(c.env), runner.WithListener(c.stdoutListener()))
	if err != nil {
		c.base.SetError(err)
		c.notifyError(err)
	}
	if code != -1 {
		exitErr := fmt.Errorf("command exited with code: %d %v", code, output)
		c.base.SetError(exitErr)
		c.notifyError(exitErr)
	}
	c.notifyClose()
}

func (c *Client) notifyError(err error) {
	if c.onError != nil {
		c.onError(err)
	}
}

func (c *Client) notifyClose() {
	c.closeOnce.Do(func() {
		if c.onClose != nil {
			c.onClose()
		}
	})
}

// OnClose registers fn to run once the subprocess exits or Close is called.
func (c *Client) OnClose(fn transport2.CloseHandler) {
	c.onClose = fn
}

// OnError registers fn to run on asynchronous run failures.
func (c *Client) OnError(fn transport2.ErrorHandler) {
	c.onError = fn
}

// Close terminates the subprocess. Safe to call multiple times.
func (c *Client) Close() error {
	var err error
	if c.client != nil {
		err = c.client.Close()
	}
	c.notifyClose()
	return err
}

func (c *Client) stdoutListener() runner.Listener {
	var builder strings.Builder
	return func(stdout string, hasMore bool) {
		index := strings.Index(stdout, "\n")
		if index != -1 {
			defer builder.Reset()
			builder.WriteString(stdout[:index])
			data := []byte(builder.String())
			c.base.HandleMessage(c.ctx, data)
			return

		} else {
			builder.WriteString(stdout)
		}
	}
}

func (c *Client) Notify(ctx context.Context, request *jsonrpc.Notification) error {
	return c.base.Notify(ctx, request)
}

func (c *Client) Send(ctx context.Context, request *jsonrpc.Request) (*jsonrpc.Response, error) {
	return c.base.Send(ctx, request)
}

func (c *Client) ensureSSHConfig(ctx context.Context) error {
	if c.sshConfig != nil || c.host == "" {
		return nil
	}
	if c.secret != "" {
		secrets := secret.New()
		cred, err := secrets.GetCredentials(ctx, string(c.secret))
		if err != nil {
			return err // unable to retrieve credentials for SSH config
		}
		c.sshConfig, err = cred.SSH.Config(ctx) // this will populate the SSH config from the secret
		// SSH config is required for remote connections, if host is specified but no sshConfig provided
		return err
	}
	return fmt.Errorf("sshConfig is required but not provided for host: %s", c.host)
}

func New(command string, options ...Option) (*Client, error) {
	c := &Client{
		command: command,
		ctx:     context.Background(),
		base: &base.Client{
			RoundTrips: transport2.NewRoundTrips(20),
			RunTimeout: 15 * time.Minute,
			Transport:  &Transport{},
			Handler:    &base.Handler{},
			Logger:     jsonrpc.DefaultLogger,
		},
	}
	for _, opt := range options {
		opt(c)
	}
	err := c.start(c.ctx)
	return c, err
}
