package agent

import "context"

// ToolSpec describes how the agent should present a tool to the model.
type ToolSpec struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	InputSchema map[string]any   `json:"input_schema"`
	Examples    []map[string]any `json:"examples,omitempty"`
}

// ToolRequest captures an invocation request for a tool.
type ToolRequest struct {
	SessionID string
	Arguments map[string]any
}

// ToolResponse represents the structured response returned by a tool.
// Tools report domain failures in Content with Metadata["error"] set to
// "true"; a non-nil error from Invoke means the tool could not run at all.
type ToolResponse struct {
	Content  string
	Metadata map[string]string
}

// Failed reports whether the tool flagged its result as an error payload.
func (r ToolResponse) Failed() bool {
	return r.Metadata["error"] == "true"
}

// Summary is the tool's own plain-text rendering of the result, if any.
func (r ToolResponse) Summary() string {
	if s := r.Metadata["summary"]; s != "" {
		return s
	}
	return r.Content
}

// Tool exposes structured metadata and an invocation handler.
type Tool interface {
	Spec() ToolSpec
	Invoke(ctx context.Context, req ToolRequest) (ToolResponse, error)
}

// ToolCatalog maintains an ordered set of tools and provides lookup by name.
type ToolCatalog interface {
	Register(tool Tool) error
	Lookup(name string) (Tool, ToolSpec, bool)
	Specs() []ToolSpec
	Tools() []Tool
}
