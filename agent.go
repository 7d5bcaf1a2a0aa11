package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Protocol-Lattice/agentflow/src/models"
	"github.com/Protocol-Lattice/agentflow/src/session"
)

const defaultSystemPrompt = "You are the coordinator of a small assistant team: weather, a personal document, meetings and the meetings database. " +
	"Answer concisely and only from the tool results you are given; never invent meetings, weather or document facts."

const (
	DefaultUserID    = "default_user"
	DefaultSessionID = "default_session"
	DefaultAppName   = "agentflow"

	// NoResponseText replaces an empty reply.
	NoResponseText = "No response received. The agent may be taking longer than expected or encountered an error."
)

// ErrEmptyMessage is returned for a turn without text.
var ErrEmptyMessage = errors.New("user input is empty")

// Agent routes messages to tools, composes answers with the model and keeps
// the conversation in a session store. It is safe for concurrent use.
type Agent struct {
	model        models.Agent
	sessions     session.Service
	systemPrompt string
	contextLimit int
	appName      string
	router       *Router
	toolCatalog  ToolCatalog
	logger       zerolog.Logger
}

// Options configure a new Agent.
type Options struct {
	Model        models.Agent
	Sessions     session.Service
	SystemPrompt string
	ContextLimit int
	Tools        []Tool
	ToolCatalog  ToolCatalog
	Router       *Router
	AppName      string
	Logger       zerolog.Logger
}

// Turn is one user message.
type Turn struct {
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// Reply is the agent's answer to a Turn. Events holds what the turn added
// to the session.
type Reply struct {
	Text      string          `json:"text"`
	SessionID string          `json:"session_id"`
	Intent    Intent          `json:"intent"`
	Tool      string          `json:"tool,omitempty"`
	Events    []session.Event `json:"events,omitempty"`
}

// New creates an Agent with the provided options.
func New(opts Options) (*Agent, error) {
	if opts.Model == nil {
		return nil, errors.New("agent requires a language model")
	}
	if opts.Sessions == nil {
		return nil, errors.New("agent requires a session service")
	}

	ctxLimit := opts.ContextLimit
	if ctxLimit <= 0 {
		ctxLimit = 8
	}

	systemPrompt := opts.SystemPrompt
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = defaultSystemPrompt
	}

	toolCatalog := opts.ToolCatalog
	tolerantTools := false
	if toolCatalog == nil {
		toolCatalog = NewStaticToolCatalog(nil)
		tolerantTools = true
	}
	for _, tool := range opts.Tools {
		if tool == nil {
			continue
		}
		if err := toolCatalog.Register(tool); err != nil {
			if tolerantTools {
				continue
			}
			return nil, err
		}
	}

	router := opts.Router
	if router == nil {
		router = NewRouter(nil, "")
	}
	appName := strings.TrimSpace(opts.AppName)
	if appName == "" {
		appName = DefaultAppName
	}

	return &Agent{
		model:        opts.Model,
		sessions:     opts.Sessions,
		systemPrompt: systemPrompt,
		contextLimit: ctxLimit,
		appName:      appName,
		router:       router,
		toolCatalog:  toolCatalog,
		logger:       opts.Logger,
	}, nil
}

// Generate answers one turn.
func (a *Agent) Generate(ctx context.Context, turn Turn) (Reply, error) {
	st, err := a.begin(ctx, turn)
	if err != nil {
		return Reply{}, err
	}
	p, err := a.plan(ctx, st)
	if err != nil {
		return Reply{}, err
	}

	text := p.text
	if p.prompt != "" {
		out, err := a.model.Generate(ctx, p.prompt)
		switch {
		case err != nil && p.fallback == "":
			return Reply{}, err
		case err != nil:
			a.logger.Warn().Err(err).Str("tool", p.tool).Msg("compose failed, using tool summary")
			text = p.fallback
		default:
			text = models.Text(out)
			if text == "" {
				text = p.fallback
			}
		}
	}
	return a.finish(ctx, st, p, text), nil
}

// turnState carries one turn through plan and finish.
type turnState struct {
	key     session.Key
	message string
	history []session.Event
	events  []session.Event
}

// begin validates the turn, loads the session and records the user event.
func (a *Agent) begin(ctx context.Context, turn Turn) (*turnState, error) {
	msg := strings.TrimSpace(turn.Message)
	if msg == "" {
		return nil, ErrEmptyMessage
	}
	key := session.Key{App: a.appName, User: orDefault(turn.UserID, DefaultUserID), ID: orDefault(turn.SessionID, DefaultSessionID)}
	if _, err := session.GetOrCreate(ctx, a.sessions, key); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	history, err := a.sessions.Events(ctx, key, a.contextLimit)
	if err != nil {
		return nil, fmt.Errorf("session history: %w", err)
	}
	st := &turnState{key: key, message: msg, history: history}
	a.record(ctx, st, session.Event{Role: session.RoleUser, Content: msg})
	return st, nil
}

// finish stores the assistant event and builds the reply.
func (a *Agent) finish(ctx context.Context, st *turnState, p plan, text string) Reply {
	text = strings.TrimSpace(text)
	if text == "" {
		text = NoResponseText
	}
	a.record(ctx, st, session.Event{Role: session.RoleAssistant, Content: text, Tool: p.tool})
	a.logger.Debug().Str("session", st.key.String()).Str("intent", string(p.intent)).Str("tool", p.tool).Msg("turn complete")
	return Reply{Text: text, SessionID: st.key.ID, Intent: p.intent, Tool: p.tool, Events: st.events}
}

// record appends ev to the session. Failures are logged, the turn goes on.
func (a *Agent) record(ctx context.Context, st *turnState, ev session.Event) {
	if strings.TrimSpace(ev.Content) == "" {
		return
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	st.events = append(st.events, ev)
	if err := a.sessions.AppendEvent(ctx, st.key, ev); err != nil {
		a.logger.Warn().Err(err).Str("session", st.key.String()).Str("role", ev.Role).Msg("append session event")
	}
}

// plan is everything decided before the final completion: either the text
// is already known, or prompt must be completed (with fallback when the
// model fails).
type plan struct {
	intent   Intent
	tool     string
	text     string
	prompt   string
	fallback string
}

func (a *Agent) plan(ctx context.Context, st *turnState) (plan, error) {
	if handled, p, err := a.handleCommand(ctx, st); handled {
		return p, err
	}

	route := a.router.Route(st.message)
	if route.Tool != "" {
		if p, ok := a.runRoute(ctx, st, route); ok {
			return p, nil
		}
	}

	if p, ok := a.toolOrchestrator(ctx, st); ok {
		return p, nil
	}
	return plan{intent: route.Intent, prompt: a.buildFullPrompt(st)}, nil
}

// runRoute invokes the routed tool and prepares the composition. It
// reports false when the tool is not registered or its arguments could not
// be completed, leaving the turn to the general path. A search route falls
// back to the document tool, which has its own web fallback.
func (a *Agent) runRoute(ctx context.Context, st *turnState, route Route) (plan, bool) {
	_, spec, ok := a.lookupTool(route.Tool)
	if !ok && route.Tool == searchTool {
		route.Tool = documentTool
		route.Arguments = map[string]any{"query": st.message}
		_, spec, ok = a.lookupTool(route.Tool)
	}
	if !ok {
		a.logger.Debug().Str("tool", route.Tool).Msg("routed tool not registered")
		return plan{}, false
	}

	args := route.Arguments
	if !route.Complete {
		var refined bool
		args, refined = a.refineArguments(ctx, st, spec, route)
		if !refined && route.Tool == sqlTool {
			return plan{}, false
		}
	}

	resp, err := a.invokeTool(ctx, st, spec.Name, args)
	if err != nil {
		a.logger.Warn().Err(err).Str("tool", spec.Name).Msg("tool invocation failed")
		return plan{}, false
	}
	return plan{
		intent:   route.Intent,
		tool:     spec.Name,
		prompt:   a.composePrompt(st, spec.Name, resp),
		fallback: resp.Summary(),
	}, true
}

// invokeTool runs a tool and records its output in the session.
func (a *Agent) invokeTool(ctx context.Context, st *turnState, name string, args map[string]any) (ToolResponse, error) {
	tool, spec, ok := a.lookupTool(name)
	if !ok {
		return ToolResponse{}, fmt.Errorf("unknown tool: %s", name)
	}
	if args == nil {
		args = map[string]any{}
	}
	resp, err := tool.Invoke(ctx, ToolRequest{SessionID: st.key.ID, Arguments: args})
	if err != nil {
		return ToolResponse{}, err
	}
	a.logger.Info().Str("tool", spec.Name).Bool("failed", resp.Failed()).Str("session", st.key.ID).Msg("tool invoked")
	a.record(ctx, st, session.Event{Role: session.RoleTool, Tool: spec.Name, Content: strings.TrimSpace(resp.Content)})
	return resp, nil
}

func (a *Agent) handleCommand(ctx context.Context, st *turnState) (bool, plan, error) {
	trimmed := st.message
	if !strings.HasPrefix(strings.ToLower(trimmed), "tool:") {
		return false, plan{}, nil
	}
	payload := strings.TrimSpace(trimmed[len("tool:"):])
	if payload == "" {
		return true, plan{}, errors.New("tool name is missing")
	}
	name, args := splitCommand(payload)
	if _, _, ok := a.lookupTool(name); !ok {
		return true, plan{}, fmt.Errorf("unknown tool: %s", name)
	}
	resp, err := a.invokeTool(ctx, st, name, parseToolArguments(args))
	if err != nil {
		return true, plan{}, err
	}
	_, spec, _ := a.lookupTool(name)
	return true, plan{intent: IntentGeneral, tool: spec.Name, text: resp.Content}, nil
}

func parseToolArguments(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}
	}
	var payload map[string]any
	if strings.HasPrefix(raw, "{") {
		if err := json.Unmarshal([]byte(raw), &payload); err == nil {
			return payload
		}
	}
	if strings.HasPrefix(raw, "[") {
		var arr []any
		if err := json.Unmarshal([]byte(raw), &arr); err == nil {
			return map[string]any{"items": arr}
		}
	}
	return map[string]any{"input": raw}
}

func splitCommand(payload string) (name string, args string) {
	parts := strings.Fields(payload)
	if len(parts) == 0 {
		return "", ""
	}
	name = parts[0]
	if len(payload) > len(name) {
		args = strings.TrimSpace(payload[len(name):])
	}
	return name, args
}

func (a *Agent) buildFullPrompt(st *turnState) string {
	var sb strings.Builder
	sb.Grow(4096)

	sb.WriteString(a.systemPrompt)
	sb.WriteString("\n\nConversation memory:\n")
	sb.WriteString(a.renderHistory(st.history))
	sb.WriteString("\n\nCurrent user message:\n")
	sb.WriteString(escapePromptContent(st.message))
	sb.WriteString("\n\nCompose the best possible assistant reply.\n")
	return sb.String()
}

func (a *Agent) composePrompt(st *turnState, tool string, resp ToolResponse) string {
	var sb strings.Builder
	sb.Grow(4096)

	sb.WriteString(a.systemPrompt)
	sb.WriteString("\n\nConversation memory:\n")
	sb.WriteString(a.renderHistory(st.history))
	sb.WriteString("\n\nCurrent user message:\n")
	sb.WriteString(escapePromptContent(st.message))
	sb.WriteString(fmt.Sprintf("\n\nTool %s returned:\n", tool))
	sb.WriteString(truncate(strings.TrimSpace(resp.Content), 8000))
	if resp.Failed() {
		sb.WriteString("\n\nThe tool reported an error. Explain it plainly and suggest what the user can do.")
	}
	sb.WriteString("\n\nCompose the best possible assistant reply from the tool result.\n")
	return sb.String()
}

// renderHistory formats session events into a numbered list.
func (a *Agent) renderHistory(events []session.Event) string {
	if len(events) == 0 {
		return "(no stored memory)\n"
	}
	var sb strings.Builder
	for i, ev := range events {
		content := strings.TrimSpace(ev.Content)
		if content == "" {
			continue
		}
		role := ev.Role
		if ev.Tool != "" && ev.Role == session.RoleTool {
			role += " " + ev.Tool
		}
		sb.WriteString(fmt.Sprintf("%d. [%s] %s\n", i+1, role, escapePromptContent(truncate(content, 1000))))
	}
	return sb.String()
}

// renderTools formats the available tool specs into a prompt-friendly block.
func (a *Agent) renderTools() string {
	specs := a.ToolSpecs()
	if len(specs) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Available tools:\n")
	for _, spec := range specs {
		sb.WriteString(fmt.Sprintf("- %s: %s\n", spec.Name, spec.Description))
		if len(spec.InputSchema) > 0 {
			if schemaJSON, err := json.Marshal(spec.InputSchema); err == nil {
				sb.WriteString("  Input schema: ")
				sb.Write(schemaJSON)
				sb.WriteString("\n")
			}
		}
	}
	return sb.String()
}

var roleMarkerRe = regexp.MustCompile(`(?im)^(\s*)(system|assistant|user)\s*:`)

// escapePromptContent neutralises backticks and line-leading role markers
// so user text cannot pose as a system or assistant turn.
func escapePromptContent(s string) string {
	s = strings.ReplaceAll(s, "`", "'")
	return roleMarkerRe.ReplaceAllString(s, "${1}${2} (quoted):")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max > 3 {
		return s[:max-3] + "..."
	}
	return s[:max]
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v == "" {
		return def
	}
	return v
}

func (a *Agent) lookupTool(name string) (Tool, ToolSpec, bool) {
	if a.toolCatalog == nil {
		return nil, ToolSpec{}, false
	}
	return a.toolCatalog.Lookup(name)
}

// ToolSpecs returns the registered tool specifications in deterministic order.
func (a *Agent) ToolSpecs() []ToolSpec {
	if a.toolCatalog == nil {
		return nil
	}
	return a.toolCatalog.Specs()
}

// Tools returns the registered tools in deterministic order.
func (a *Agent) Tools() []Tool {
	if a.toolCatalog == nil {
		return nil
	}
	return a.toolCatalog.Tools()
}

// Catalog exposes the tool catalog.
func (a *Agent) Catalog() ToolCatalog {
	return a.toolCatalog
}

// Sessions exposes the session store.
func (a *Agent) Sessions() session.Service {
	return a.sessions
}

// History returns the stored events of a session, oldest first.
func (a *Agent) History(ctx context.Context, userID, sessionID string, limit int) ([]session.Event, error) {
	key := session.Key{App: a.appName, User: orDefault(userID, DefaultUserID), ID: orDefault(sessionID, DefaultSessionID)}
	return a.sessions.Events(ctx, key, limit)
}
