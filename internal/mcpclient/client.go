// Package mcpclient is the MCP Client Subsystem (spec.md §4, "MCP Client
// Subsystem" row): one connection per configured external MCP server,
// exposing CallTool for the router's untrusted "call_mcp" action.
// Grounded on internal/mcp/client.go and internal/mcp/manager.go's
// pool-of-named-clients shape, with mark3labs/mcp-go (SPEC_FULL §3 domain
// stack) replacing the teacher's hand-rolled JSON-RPC transport.
package mcpclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// ServerConfig describes one MCP server this process may connect to.
type ServerConfig struct {
	ID        string            `yaml:"id"`
	Command   string            `yaml:"command"`
	Args      []string          `yaml:"args"`
	Env       map[string]string `yaml:"env"`
	AutoStart bool              `yaml:"auto_start"`
	Timeout   time.Duration     `yaml:"timeout"`
}

// ToolSummary is the subset of an MCP tool description the router needs
// to present the action's schema (spec.md §4.6's action-schema system
// prompt section); the full JSON schema stays on the MCP side, this
// package only surfaces name/description for prompt composition.
type ToolSummary struct {
	Name        string
	Description string
}

// Client wraps a single MCP server connection and caches its advertised
// tools, mirroring internal/mcp/client.go's Client but delegating the
// wire protocol to mark3labs/mcp-go instead of a hand-rolled transport.
type Client struct {
	cfg    ServerConfig
	logger *slog.Logger

	mu    sync.RWMutex
	inner *client.Client
	tools []ToolSummary
}

// NewClient builds a Client for cfg; it does not connect until Connect is
// called.
func NewClient(cfg ServerConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, logger: logger.With("mcp_server", cfg.ID)}
}

func (c *Client) timeout() time.Duration {
	if c.cfg.Timeout > 0 {
		return c.cfg.Timeout
	}
	return 30 * time.Second
}

func (c *Client) envSlice() []string {
	if len(c.cfg.Env) == 0 {
		return nil
	}
	out := make([]string, 0, len(c.cfg.Env))
	for k, v := range c.cfg.Env {
		out = append(out, k+"="+v)
	}
	return out
}

// Connect starts the subprocess transport, performs the MCP initialize
// handshake, and caches the server's tool list.
func (c *Client) Connect(ctx context.Context) error {
	inner, err := client.NewStdioMCPClient(c.cfg.Command, c.envSlice(), c.cfg.Args...)
	if err != nil {
		return fmt.Errorf("mcpclient: create client for %s: %w", c.cfg.ID, err)
	}

	startCtx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()
	if err := inner.Start(startCtx); err != nil {
		return fmt.Errorf("mcpclient: start %s: %w", c.cfg.ID, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "quoracle", Version: "1.0.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"
	if _, err := inner.Initialize(startCtx, initReq); err != nil {
		inner.Close()
		return fmt.Errorf("mcpclient: initialize %s: %w", c.cfg.ID, err)
	}

	listResp, err := inner.ListTools(startCtx, mcp.ListToolsRequest{})
	if err != nil {
		c.logger.Warn("failed to list tools", "error", err)
	}

	var tools []ToolSummary
	for _, t := range listResp.Tools {
		tools = append(tools, ToolSummary{Name: t.Name, Description: t.Description})
	}

	c.mu.Lock()
	c.inner = inner
	c.tools = tools
	c.mu.Unlock()

	c.logger.Info("connected to MCP server", "tools", len(tools))
	return nil
}

// Close shuts down the underlying transport.
func (c *Client) Close() error {
	c.mu.Lock()
	inner := c.inner
	c.inner = nil
	c.tools = nil
	c.mu.Unlock()
	if inner == nil {
		return nil
	}
	return inner.Close()
}

// Connected reports whether the client currently has a live transport.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inner != nil
}

// Tools returns the cached tool summaries.
func (c *Client) Tools() []ToolSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tools
}

// CallResult is the outcome of a tool invocation (spec.md §9: "call_mcp"
// is untrusted I/O, so its result is wrapped in NO_EXECUTE by the core
// regardless of IsError).
type CallResult struct {
	Text    string
	IsError bool
}

// CallTool invokes tool with arguments on this server.
func (c *Client) CallTool(ctx context.Context, tool string, arguments map[string]any) (CallResult, error) {
	c.mu.RLock()
	inner := c.inner
	c.mu.RUnlock()
	if inner == nil {
		return CallResult{}, fmt.Errorf("mcpclient: %s not connected", c.cfg.ID)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = arguments

	callCtx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()
	resp, err := inner.CallTool(callCtx, req)
	if err != nil {
		return CallResult{}, fmt.Errorf("mcpclient: call %s/%s: %w", c.cfg.ID, tool, err)
	}

	var texts []string
	for _, content := range resp.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	return CallResult{Text: joinLines(texts), IsError: resp.IsError}, nil
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}
