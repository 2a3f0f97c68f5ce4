package mcp

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Manager owns the configured MCP server connections and maps advertised
// tool names back to the server that provides them.
type Manager struct {
	log     zerolog.Logger
	mu      sync.RWMutex
	clients map[string]*Client
	// byTool maps a tool name to the owning server name. Last server to
	// advertise a name wins; collisions are logged.
	byTool map[string]string
}

func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		log:     log,
		clients: make(map[string]*Client),
		byTool:  make(map[string]string),
	}
}

// Start launches the configured servers and indexes their tools. A server
// that fails to start is skipped with a warning; the rest stay usable.
func (m *Manager) Start(ctx context.Context, servers map[string]ServerConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, cfg := range servers {
		client := NewClient(name, cfg, m.log)
		if err := client.Start(ctx); err != nil {
			m.log.Warn().Err(err).Str("server", name).Msg("MCP server failed to start")
			continue
		}
		m.clients[name] = client
		for _, tool := range client.Tools() {
			if prev, ok := m.byTool[tool.Name]; ok && prev != name {
				m.log.Warn().Str("tool", tool.Name).Str("prev", prev).Str("new", name).
					Msg("MCP tool name collision")
			}
			m.byTool[tool.Name] = name
		}
	}
}

// Stop closes all server connections.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, client := range m.clients {
		_ = client.Stop()
	}
	m.clients = make(map[string]*Client)
	m.byTool = make(map[string]string)
}

// Client returns the named server connection, if running.
func (m *Manager) Client(server string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	client, ok := m.clients[server]
	return client, ok
}

// Route returns the client serving the named tool, if any.
func (m *Manager) Route(toolName string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	server, ok := m.byTool[toolName]
	if !ok {
		return nil, false
	}
	client, ok := m.clients[server]
	return client, ok
}

// Tools returns every advertised tool across servers.
func (m *Manager) Tools() []ToolSpec {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var specs []ToolSpec
	for _, client := range m.clients {
		specs = append(specs, client.Tools()...)
	}
	return specs
}
