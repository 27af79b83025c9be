package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rmax-ai/meshgraph/pkg/client"
)

const (
	graphURI   = "meshgraph://graph"
	promptName = "mesh-topology"
)

// Server adapts meshgraph-d to the Model Context Protocol.
type Server struct {
	mcpServer *server.MCPServer
	apiClient *client.Client
}

// NewServer creates a new MCP server instance.
func NewServer(apiURL string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"meshgraph",
			"1.0.0",
		),
		apiClient: client.NewClient(apiURL),
	}
	s.registerResources()
	s.registerTools()
	s.registerPrompts()
	return s
}

// Serve starts the MCP server on stdio.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

// --- Resources ---

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(
		graphURI,
		"Mesh Topology",
		mcp.WithResourceDescription("All known mesh nodes and the directed links between them"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadGraph)
}

// --- Tools ---

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool(
		"get_node",
		mcp.WithDescription("Look up one mesh node and the neighbors it reported."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Node id, e.g. '!a1b2c3d4' or a decimal node number")),
	), s.handleGetNode)

	s.mcpServer.AddTool(mcp.NewTool(
		"list_stale_nodes",
		mcp.WithDescription("List nodes that have not been heard from within their timeout."),
	), s.handleListStale)
}

// --- Prompts ---

func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(mcp.NewPrompt(
		promptName,
		mcp.WithPromptDescription("Explains how the mesh graph is built and how to read it"),
	), s.handleGetPrompt)
}

// --- Handlers ---

func (s *Server) handleReadGraph(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	g, err := s.apiClient.GetGraph(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch graph: %w", err)
	}

	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal graph: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleGetNode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(mcp.ParseString(request, "id", ""))
	if id == "" {
		return mcp.NewToolResultError("id is required"), nil
	}

	n, err := s.apiClient.GetNode(ctx, id)
	if errors.Is(err, client.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("node %s is not in the graph", id)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Node %s (num %d)\n", n.Node.ID, n.Node.Num)
	fmt.Fprintf(&b, "Last heard: %s\n", n.Node.LastHeard.Format("2006-01-02 15:04:05Z07:00"))
	fmt.Fprintf(&b, "Stale: %t (timeout %ds)\n", n.Node.Stale, n.Node.TimeoutSeconds)
	if len(n.Edges) == 0 {
		b.WriteString("Reported neighbors: none\n")
	} else {
		b.WriteString("Reported neighbors:\n")
		for _, e := range n.Edges {
			fmt.Fprintf(&b, "- %s snr=%.2f\n", e.Target, e.SNR)
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) handleListStale(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	nodes, err := s.apiClient.GetStale(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}
	if len(nodes) == 0 {
		return mcp.NewToolResultText("No stale nodes."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d stale node(s):\n", len(nodes))
	for _, n := range nodes {
		fmt.Fprintf(&b, "- %s last heard %s\n", n.ID, n.LastHeard.Format("2006-01-02 15:04:05Z07:00"))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) handleGetPrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	name := request.Params.Name
	if name != promptName {
		return nil, fmt.Errorf("prompt not found: %s", name)
	}

	promptText := `You are looking at the topology of a LoRa radio mesh, as seen by meshgraph.

Concepts:
- Node: one radio, named like '!a1b2c3d4' (its 32-bit node number in hex).
- Edge: a directed link A -> B, meaning node A reported that it hears B directly. The SNR
  is the signal to noise ratio A measured for B; higher is better.
- Stale: a node not heard from within its timeout (15 minutes by default). Stale nodes are
  swept from the graph together with their edges.

Nodes only enter the graph from node announcements that carry a position, position reports,
or their own neighbor reports. Edges to nodes the graph has not seen yet are not recorded.

Read the '` + graphURI + `' resource for the whole topology, use 'get_node' for one node and
'list_stale_nodes' to find radios that have gone quiet.
`

	return mcp.NewGetPromptResult(
		promptName,
		[]mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(promptText)),
		},
	), nil
}
