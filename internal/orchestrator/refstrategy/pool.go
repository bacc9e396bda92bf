package refstrategy

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/gatewright/gatewright/internal/orchestrator"
)

// emptyPool is the Pool used when no tool source is configured.
type emptyPool struct{}

func (emptyPool) Resolve(context.Context, string) (orchestrator.ToolHandle, bool) {
	return nil, false
}

// mcpPool exposes one MCP server (spawned over stdio) as the strategy's
// tool source.
type mcpPool struct {
	session *mcp.ClientSession

	mu    sync.Mutex
	tools []string
}

func newMCPPool(ctx context.Context, command string, args []string) (*mcpPool, error) {
	client := mcp.NewClient(&mcp.Implementation{Name: "gatewright", Version: "0.1.0"}, nil)
	transport := &mcp.CommandTransport{Command: exec.Command(command, args...)}

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect mcp server: %w", err)
	}

	p := &mcpPool{session: session}
	if res, err := session.ListTools(ctx, nil); err == nil {
		for _, t := range res.Tools {
			p.tools = append(p.tools, t.Name)
		}
	}
	return p, nil
}

func (p *mcpPool) toolNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.tools...)
}

// Resolve implements orchestrator.Pool.
func (p *mcpPool) Resolve(_ context.Context, name string) (orchestrator.ToolHandle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.tools {
		if t == name {
			return &mcpTool{session: p.session, name: name}, true
		}
	}
	return nil, false
}

func (p *mcpPool) close() {
	_ = p.session.Close()
}

// mcpTool is one invokable MCP tool.
type mcpTool struct {
	session *mcp.ClientSession
	name    string
}

func (t *mcpTool) Name() string { return t.name }

// Invoke calls the tool and flattens its text content blocks.
func (t *mcpTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	res, err := t.session.CallTool(ctx, &mcp.CallToolParams{Name: t.name, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("call tool %s: %w", t.name, err)
	}

	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	if res.IsError {
		return "", fmt.Errorf("tool %s: %s", t.name, sb.String())
	}
	return sb.String(), nil
}
