package agent

import (
	"context"
	"fmt"
	"strings"
)

// AgentToolAdapter adapts an Agent to the Tool interface, so one agent can
// be handed to another as a specialist.
type AgentToolAdapter struct {
	agent       *Agent
	name        string
	description string
}

// NewAgentTool creates a new tool that wraps an Agent.
func NewAgentTool(name, description string, agent *Agent) Tool {
	return &AgentToolAdapter{
		agent:       agent,
		name:        name,
		description: description,
	}
}

func (t *AgentToolAdapter) Spec() ToolSpec {
	return ToolSpec{
		Name:        t.name,
		Description: t.description,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"instruction": map[string]any{
					"type":        "string",
					"description": "The instruction or query for the agent.",
				},
				"user_id": map[string]any{
					"type":        "string",
					"description": "Optional user id; defaults to the caller's.",
				},
			},
			"required": []string{"instruction"},
		},
	}
}

func (t *AgentToolAdapter) Invoke(ctx context.Context, req ToolRequest) (ToolResponse, error) {
	instruction, ok := req.Arguments["instruction"].(string)
	if !ok || strings.TrimSpace(instruction) == "" {
		return ToolResponse{}, fmt.Errorf("missing or invalid 'instruction' argument")
	}
	userID, _ := req.Arguments["user_id"].(string)

	// Create a sub-session ID to keep context separate but related
	subSessionID := fmt.Sprintf("%s.sub.%s", orDefault(req.SessionID, DefaultSessionID), t.name)

	reply, err := t.agent.Generate(ctx, Turn{UserID: userID, SessionID: subSessionID, Message: instruction})
	if err != nil {
		return ToolResponse{}, err
	}

	meta := map[string]string{"session_id": reply.SessionID, "intent": string(reply.Intent)}
	if reply.Tool != "" {
		meta["tool"] = reply.Tool
	}
	return ToolResponse{Content: reply.Text, Metadata: meta}, nil
}

// AsTool returns a Tool representation of the Agent.
func (a *Agent) AsTool(name, description string) Tool {
	return NewAgentTool(name, description, a)
}
