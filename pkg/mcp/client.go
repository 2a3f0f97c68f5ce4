// Package mcp connects to Model Context Protocol servers and exposes their
// tools to the dispatcher.
package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
)

// ServerConfig describes how to launch one MCP server.
type ServerConfig struct {
	Command string            `yaml:"command" json:"command"`
	Args    []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
}

// ToolSpec describes a tool advertised by an MCP server.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// CallResult is a remote tool's outcome, passed through to the agent
// as-is.
type CallResult struct {
	Content string
	Images  []Image
	IsError bool
}

// Image is binary content a server returned alongside text.
type Image struct {
	Data     string // base64
	MIMEType string
}

// Client wraps one MCP server connection.
type Client struct {
	name    string
	config  ServerConfig
	log     zerolog.Logger
	client  *mcp.Client
	session *mcp.ClientSession
	tools   []ToolSpec
	mu      sync.RWMutex
	running bool
}

// NewClient creates an MCP client for the given server configuration.
func NewClient(name string, config ServerConfig, log zerolog.Logger) *Client {
	return &Client{name: name, config: config, log: log}
}

// Name returns the server name.
func (c *Client) Name() string { return c.name }

// Start connects to the MCP server and initializes the session.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	c.client = mcp.NewClient(&mcp.Implementation{
		Name:    "loom",
		Version: "1.0.0",
	}, nil)

	cmd := exec.CommandContext(ctx, c.config.Command, c.config.Args...)
	for k, v := range c.config.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	transport := &mcp.CommandTransport{Command: cmd}
	session, err := c.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("connect to MCP server %s: %w", c.name, err)
	}
	c.session = session

	if err := c.refreshTools(ctx); err != nil {
		c.session.Close()
		c.session = nil
		return fmt.Errorf("list tools from %s: %w", c.name, err)
	}

	c.running = true
	c.log.Debug().Str("server", c.name).Int("tools", len(c.tools)).Msg("MCP server started")
	return nil
}

// Stop closes the MCP server connection.
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}

	var err error
	if c.session != nil {
		err = c.session.Close()
		c.session = nil
	}
	c.running = false
	c.tools = nil
	return err
}

// Tools returns the tools advertised by this server.
func (c *Client) Tools() []ToolSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tools
}

func (c *Client) refreshTools(ctx context.Context) error {
	result, err := c.session.ListTools(ctx, nil)
	if err != nil {
		return err
	}

	c.tools = make([]ToolSpec, 0, len(result.Tools))
	for _, t := range result.Tools {
		schema := make(map[string]any)
		if t.InputSchema != nil {
			if m, ok := t.InputSchema.(map[string]any); ok {
				schema = m
			}
		}
		c.tools = append(c.tools, ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			Schema:      schema,
		})
	}
	return nil
}

// CallTool invokes a tool on the MCP server. A remote-side tool failure is
// reported in the result, not as an error; only transport problems error.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (*CallResult, error) {
	c.mu.RLock()
	session := c.session
	running := c.running
	c.mu.RUnlock()

	if !running || session == nil {
		return nil, fmt.Errorf("MCP server %s is not running", c.name)
	}

	var arguments map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return nil, fmt.Errorf("invalid tool arguments: %w", err)
		}
	}

	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: arguments,
	})
	if err != nil {
		return nil, fmt.Errorf("call tool %s: %w", name, err)
	}

	text, images := formatContent(result.Content)
	return &CallResult{
		Content: text,
		Images:  images,
		IsError: result.IsError,
	}, nil
}

func formatContent(content []mcp.Content) (string, []Image) {
	var (
		text   string
		images []Image
	)
	for _, c := range content {
		switch v := c.(type) {
		case *mcp.TextContent:
			text += v.Text
		case *mcp.ImageContent:
			images = append(images, Image{
				Data:     base64.StdEncoding.EncodeToString(v.Data),
				MIMEType: v.MIMEType,
			})
		default:
			if data, err := json.Marshal(c); err == nil {
				text += string(data)
			}
		}
	}
	return text, images
}
