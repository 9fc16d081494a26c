package mcpclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Config is the manager's static configuration, grounded on
// internal/mcp/manager.go's Config (enabled flag + server list).
type Config struct {
	Enabled bool           `yaml:"enabled"`
	Servers []ServerConfig `yaml:"servers"`
}

// Manager owns one Client per configured MCP server (spec.md §4 "MCP
// Client Subsystem"), grounded on internal/mcp/manager.go's Manager.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewManager builds a Manager; no connections are made until Start or
// Connect is called.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:     cfg,
		logger:  logger.With("component", "mcpclient"),
		clients: make(map[string]*Client),
	}
}

// Start connects every server configured with AutoStart; a single
// server's connection failure is logged and does not prevent the others
// from starting (spec.md §4.9's "best-effort" ethos applied to startup).
func (m *Manager) Start(ctx context.Context) error {
	if !m.cfg.Enabled {
		m.logger.Debug("MCP disabled")
		return nil
	}
	for _, sc := range m.cfg.Servers {
		if !sc.AutoStart {
			continue
		}
		if err := m.Connect(ctx, sc.ID); err != nil {
			m.logger.Error("failed to connect to MCP server", "server", sc.ID, "error", err)
		}
	}
	return nil
}

// Stop closes every connected client.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.clients {
		if err := c.Close(); err != nil {
			m.logger.Error("failed to close MCP client", "server", id, "error", err)
		}
		delete(m.clients, id)
	}
	return nil
}

// Connect establishes (or reuses) the connection to serverID.
func (m *Manager) Connect(ctx context.Context, serverID string) error {
	var sc *ServerConfig
	for i := range m.cfg.Servers {
		if m.cfg.Servers[i].ID == serverID {
			sc = &m.cfg.Servers[i]
			break
		}
	}
	if sc == nil {
		return fmt.Errorf("mcpclient: server %q not configured", serverID)
	}

	m.mu.RLock()
	if _, exists := m.clients[serverID]; exists {
		m.mu.RUnlock()
		return nil
	}
	m.mu.RUnlock()

	c := NewClient(*sc, m.logger)
	if err := c.Connect(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.clients[serverID] = c
	m.mu.Unlock()
	return nil
}

// Client returns the connection for serverID, if any.
func (m *Manager) Client(serverID string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[serverID]
	return c, ok
}

// CallTool is the entry point the router's "call_mcp" action executor
// calls: look up the server, call the tool, and surface a
// not-connected error if the server was never started (spec.md §9:
// call_mcp is untrusted, so both success and failure text flow back
// through the core's NO_EXECUTE wrapping, not through this package).
func (m *Manager) CallTool(ctx context.Context, server, tool string, arguments map[string]any) (CallResult, error) {
	c, ok := m.Client(server)
	if !ok {
		return CallResult{}, fmt.Errorf("mcpclient: server %q not connected", server)
	}
	return c.CallTool(ctx, tool, arguments)
}

// Reconcile retries any configured AutoStart server that isn't currently
// connected (e.g. it failed at process startup), letting a periodic idle
// poll heal a transient connection failure without a process restart. A
// single server's failure is logged and does not stop the sweep, matching
// Start's best-effort contract.
func (m *Manager) Reconcile(ctx context.Context) {
	for _, sc := range m.cfg.Servers {
		if !sc.AutoStart {
			continue
		}
		if _, connected := m.Client(sc.ID); connected {
			continue
		}
		if err := m.Connect(ctx, sc.ID); err != nil {
			m.logger.Warn("mcp reconcile: connect failed", "server", sc.ID, "error", err)
		}
	}
}

// AllToolSummaries returns every connected server's advertised tools,
// keyed by server id, for the integrated system prompt's action-schema
// composition (spec.md §4.6).
func (m *Manager) AllToolSummaries() map[string][]ToolSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]ToolSummary, len(m.clients))
	for id, c := range m.clients {
		out[id] = c.Tools()
	}
	return out
}
