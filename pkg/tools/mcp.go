package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// MCPSource connects to an external MCP server over stdio and exposes
// its tools through the registry, namespaced as "<server>.<tool>".
type MCPSource struct {
	serverName string
	client     *client.Client
	timeout    time.Duration
}

// MCPConfig configures an MCP server connection.
type MCPConfig struct {
	// ServerName is the unique identifier for this server
	ServerName string

	// Command is the executable to run
	Command string

	// Args are the command-line arguments
	Args []string

	// Env are environment variables to pass to the server
	Env []string

	// Timeout is the default timeout for tool calls (defaults to 30s)
	Timeout time.Duration
}

// NewMCPSource starts the MCP server process and initializes the session.
func NewMCPSource(ctx context.Context, config MCPConfig) (*MCPSource, error) {
	if config.ServerName == "" {
		return nil, fmt.Errorf("server name is required")
	}
	if config.Command == "" {
		return nil, fmt.Errorf("command is required")
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	mcpClient, err := client.NewStdioMCPClient(config.Command, config.Env, config.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client: %w", err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start MCP client: %w", err)
	}

	s := &MCPSource{
		serverName: config.ServerName,
		client:     mcpClient,
		timeout:    timeout,
	}

	initReq := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo: mcp.Implementation{
				Name:    "draftforge",
				Version: "0.1.0",
			},
		},
	}
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		_ = mcpClient.Close()
		return nil, fmt.Errorf("failed to initialize MCP server: %w", err)
	}

	return s, nil
}

// ServerName returns the unique identifier for this server.
func (s *MCPSource) ServerName() string {
	return s.serverName
}

// RegisterTools lists the server's tools and registers each one.
func (s *MCPSource) RegisterTools(ctx context.Context, registry *Registry) error {
	result, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list tools: %w", err)
	}

	for _, def := range result.Tools {
		tool := &mcpTool{
			source:      s,
			remoteName:  def.Name,
			description: def.Description,
			schema:      parseMCPSchema(def),
		}
		if err := registry.Register(tool); err != nil {
			return fmt.Errorf("failed to register MCP tool %s: %w", tool.Name(), err)
		}
	}

	return nil
}

// Ping checks if the server is still responsive.
func (s *MCPSource) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

// Close shuts down the connection and the server process.
func (s *MCPSource) Close() error {
	if s.client == nil {
		return nil
	}
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("failed to close MCP client: %w", err)
	}
	return nil
}

// parseMCPSchema converts an MCP tool definition's input schema into our
// schema type. Failures fall back to an unconstrained object schema.
func parseMCPSchema(def mcp.Tool) *Schema {
	fallback := &Schema{
		Inputs:  &ParameterSchema{Type: "object"},
		Outputs: &ParameterSchema{Type: "object"},
	}

	var raw []byte
	if len(def.RawInputSchema) > 0 {
		raw = def.RawInputSchema
	} else {
		encoded, err := json.Marshal(def.InputSchema)
		if err != nil {
			return fallback
		}
		raw = encoded
	}

	var inputs ParameterSchema
	if err := json.Unmarshal(raw, &inputs); err != nil {
		return fallback
	}
	if inputs.Type == "" {
		inputs.Type = "object"
	}

	return &Schema{
		Inputs:  &inputs,
		Outputs: &ParameterSchema{Type: "object"},
	}
}

// mcpTool adapts a remote MCP tool to the Tool interface.
type mcpTool struct {
	source      *MCPSource
	remoteName  string
	description string
	schema      *Schema
}

func (t *mcpTool) Name() string {
	return t.source.serverName + "." + t.remoteName
}

func (t *mcpTool) Description() string {
	return t.description
}

func (t *mcpTool) Schema() *Schema {
	return t.schema
}

// Execute calls the remote tool and flattens its content into outputs.
func (t *mcpTool) Execute(ctx context.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, t.source.timeout)
	defer cancel()

	result, err := t.source.client.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      t.remoteName,
			Arguments: inputs,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("tool call failed: %w", err)
	}

	var texts []string
	for _, content := range result.Content {
		if textContent, ok := mcp.AsTextContent(content); ok {
			texts = append(texts, textContent.Text)
		}
	}
	text := strings.Join(texts, "\n")

	if result.IsError {
		return nil, fmt.Errorf("tool %s returned error: %s", t.remoteName, text)
	}

	return map[string]interface{}{
		"text": text,
	}, nil
}
