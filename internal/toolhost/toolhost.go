// Package toolhost implements the ECLIA MCP Stdio Client (spec §4.4): the
// long-lived child process that hosts the "exec" tool, spoken to over
// newline-delimited JSON-RPC via the official MCP SDK's stdio transport.
package toolhost

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/eclia/gateway/internal/apperror"
)

// Envelope is embedded as "__eclia" inside every callTool argument object so
// the child process can scope artifact writes to the calling session/call.
type Envelope struct {
	SessionID string `json:"sessionId"`
	CallID    string `json:"callId"`
}

// Result is the normalized shape of a tool call outcome.
type Result struct {
	StructuredContent map[string]any
	Text              string
	IsError           bool
}

// Client owns one MCP-hosted child process. A Client is safe for concurrent
// use by many callers; the underlying transport serializes writes itself.
type Client struct {
	command []string
	env     map[string]string

	mu      sync.RWMutex
	cmd     *exec.Cmd
	sdk     *sdkmcp.Client
	session *sdkmcp.ClientSession
	dead    atomic.Bool

	callSeq atomic.Uint64
}

// New constructs a Client. command[0] is the executable, the remainder its
// argv; env is merged over the current process environment.
func New(command []string, env map[string]string) *Client {
	return &Client{command: command, env: env}
}

// Start spawns the child and performs the MCP initialize handshake.
func (c *Client) Start(ctx context.Context) error {
	if len(c.command) == 0 {
		return apperror.New(apperror.KindToolhostError, "empty exec tool host command")
	}

	cmd := exec.Command(c.command[0], c.command[1:]...)
	cmd.Env = os.Environ()
	for k, v := range c.env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	sdkClient := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "eclia-gateway", Version: "1"}, nil)
	transport := &sdkmcp.CommandTransport{Command: cmd}

	session, err := sdkClient.Connect(ctx, transport, nil)
	if err != nil {
		return apperror.Wrap(apperror.KindToolhostError, err, "failed to start exec tool host")
	}

	c.mu.Lock()
	c.cmd = cmd
	c.sdk = sdkClient
	c.session = session
	c.mu.Unlock()
	c.dead.Store(false)
	return nil
}

// markGone transitions the client into its lame-duck state: all subsequent
// CallTool invocations fail fast with toolhost_error until a supervisor
// calls Start again.
func (c *Client) markGone() {
	c.dead.Store(true)
}

// Gone reports whether the client is in its lame-duck state: a call saw the
// child process exit, or Close was called. A frame that fails to parse does
// not by itself mark the client gone.
func (c *Client) Gone() bool { return c.dead.Load() }

// CallTool invokes name with args, embedding the ECLIA envelope, and waits
// for the matching reply or timeout. On timeout it attempts a best-effort
// cancel notification and fails with toolhost_timeout.
func (c *Client) CallTool(ctx context.Context, env Envelope, name string, args map[string]any, timeout time.Duration) (*Result, error) {
	if c.dead.Load() {
		return nil, apperror.New(apperror.KindToolhostError, "exec tool host is gone")
	}

	c.mu.RLock()
	session := c.session
	c.mu.RUnlock()
	if session == nil {
		return nil, apperror.New(apperror.KindToolhostError, "exec tool host not started")
	}

	callArgs := make(map[string]any, len(args)+1)
	for k, v := range args {
		callArgs[k] = v
	}
	callArgs["__eclia"] = env

	_ = c.callSeq.Add(1) // request id is owned by the SDK transport; this counts calls for diagnostics

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := session.CallTool(callCtx, &sdkmcp.CallToolParams{Name: name, Arguments: callArgs})
	if err != nil {
		if callCtx.Err() != nil {
			go c.bestEffortCancel(name, env)
			return nil, apperror.Wrap(apperror.KindToolhostTimeout, err, "tool %q timed out", name)
		}
		if isChildGone(err) {
			c.markGone()
			return nil, apperror.Wrap(apperror.KindToolhostError, err, "exec tool host exited")
		}
		return nil, apperror.Wrap(apperror.KindToolhostError, err, "tool %q call failed", name)
	}

	out := &Result{IsError: result.IsError}
	if result.StructuredContent != nil {
		if m, ok := result.StructuredContent.(map[string]any); ok {
			out.StructuredContent = m
		}
	}
	for _, content := range result.Content {
		if tc, ok := content.(*sdkmcp.TextContent); ok {
			out.Text += tc.Text
		}
	}
	return out, nil
}

// bestEffortCancel runs after a call times out. It sends nothing to the
// child itself: the cancelled call context is the only cancel signal, and
// the call has already failed with toolhost_timeout from the caller's
// perspective.
func (c *Client) bestEffortCancel(tool string, env Envelope) {
	c.mu.RLock()
	session := c.session
	c.mu.RUnlock()
	if session == nil {
		return
	}
	// The MCP SDK does not expose a distinct cancel RPC for CallTool; closing
	// out the call context above is the cancel signal the transport acts on.
	_ = tool
	_ = env
}

// isChildGone reports whether err indicates the host process itself exited,
// as opposed to a protocol-level tool error.
func isChildGone(err error) bool {
	for err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

// Close terminates the child process and marks the client gone.
func (c *Client) Close() error {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.mu.Unlock()

	c.markGone()
	if session != nil {
		return session.Close()
	}
	return nil
}
