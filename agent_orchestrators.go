package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/Protocol-Lattice/agentflow/src/models"
)

// toolOrchestrator lets the model decide whether a general message needs
// one of the registered tools. The model must answer with a JSON plan.
func (a *Agent) toolOrchestrator(ctx context.Context, st *turnState) (plan, bool) {
	toolDesc := a.renderTools()
	if toolDesc == "" {
		return plan{}, false
	}

	choicePrompt := fmt.Sprintf(`You are a tool selection engine for an assistant.

USER REQUEST:
%q

%s
OBJECTIVE:
Decide whether exactly one of the tools above is needed to answer the request.

RULES:
1. "tool_name" MUST exactly match one of the tool names listed above.
2. "arguments" MUST be a JSON object that satisfies the tool's input schema.
3. Dates may be given as YYYY-MM-DD or words such as "tomorrow".
4. If the request can be answered without a tool, set "use_tool" to false.

OUTPUT FORMAT:
Respond with ONLY valid JSON. NO markdown code blocks. NO explanations.

{"use_tool": true, "tool_name": "<exact_tool_name>", "arguments": {}}

Analyze the request and respond with ONLY the JSON object:`, st.message, toolDesc)

	raw, err := a.model.Generate(ctx, choicePrompt)
	if err != nil {
		a.logger.Debug().Err(err).Msg("tool selection failed")
		return plan{}, false
	}
	jsonStr := extractJSON(models.Text(raw))
	if jsonStr == "" {
		return plan{}, false
	}

	var choice struct {
		UseTool   bool           `json:"use_tool"`
		ToolName  string         `json:"tool_name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &choice); err != nil || !choice.UseTool {
		return plan{}, false
	}
	if _, _, ok := a.lookupTool(choice.ToolName); !ok {
		a.logger.Debug().Str("tool", choice.ToolName).Msg("model selected an unknown tool")
		return plan{}, false
	}

	resp, err := a.invokeTool(ctx, st, choice.ToolName, choice.Arguments)
	if err != nil {
		a.logger.Warn().Err(err).Str("tool", choice.ToolName).Msg("tool invocation failed")
		return plan{}, false
	}
	_, spec, _ := a.lookupTool(choice.ToolName)
	return plan{
		intent:   IntentGeneral,
		tool:     spec.Name,
		prompt:   a.composePrompt(st, spec.Name, resp),
		fallback: resp.Summary(),
	}, true
}

// refineArguments asks the model to fill in what the router could not.
// Arguments the router extracted take precedence over the model's.
func (a *Agent) refineArguments(ctx context.Context, st *turnState, spec ToolSpec, route Route) (map[string]any, bool) {
	if spec.Name == sqlTool {
		q, ok := a.translateSQL(ctx, st)
		if !ok {
			return nil, false
		}
		return map[string]any{"sql_query": q}, true
	}

	schemaJSON, _ := json.Marshal(spec.InputSchema)
	known, _ := json.Marshal(route.Arguments)
	prompt := fmt.Sprintf(`You fill in arguments for the tool %q (%s).

Input schema: %s
Arguments already extracted: %s

USER REQUEST:
%q

Respond with ONLY a JSON object of arguments for the tool:`, spec.Name, spec.Description, schemaJSON, known, st.message)

	raw, err := a.model.Generate(ctx, prompt)
	if err != nil {
		return route.Arguments, false
	}
	jsonStr := extractJSON(models.Text(raw))
	if jsonStr == "" {
		return route.Arguments, false
	}
	var proposed map[string]any
	if err := json.Unmarshal([]byte(jsonStr), &proposed); err != nil {
		return route.Arguments, false
	}
	for k, v := range route.Arguments {
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			continue
		}
		proposed[k] = v
	}
	return proposed, true
}

const meetingsSchema = `meetings(
  id SERIAL PRIMARY KEY,
  title VARCHAR(255) NOT NULL,
  meeting_date DATE NOT NULL,
  meeting_time TIME NULL,
  reasoning TEXT,
  created_at TIMESTAMPTZ DEFAULT now()
)`

var (
	fenceRe  = regexp.MustCompile("(?s)```(?:sql)?\\s*(.*?)```")
	selectRe = regexp.MustCompile(`(?ims)^\s*(select|with)\b.*`)
)

// translateSQL asks the model for a single PostgreSQL SELECT answering the
// user's question. The read-only guard in the store still vets the result.
func (a *Agent) translateSQL(ctx context.Context, st *turnState) (string, bool) {
	prompt := fmt.Sprintf(`Translate the question into ONE PostgreSQL SELECT statement.

Schema:
%s

Today is %s. Use CURRENT_DATE for relative dates.
Only SELECT is allowed. No comments, no explanations, no semicolons.

QUESTION:
%q

SQL:`, meetingsSchema, a.router.Resolver.Today().Format("2006-01-02 (Monday)"), st.message)

	raw, err := a.model.Generate(ctx, prompt)
	if err != nil {
		a.logger.Debug().Err(err).Msg("sql translation failed")
		return "", false
	}
	q := extractSQL(models.Text(raw))
	return q, q != ""
}

func extractSQL(s string) string {
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	m := selectRe.FindString(s)
	if m == "" {
		return ""
	}
	return strings.TrimRight(strings.TrimSpace(m), ";")
}

// extractJSON returns the first balanced JSON object in s.
func extractJSON(s string) string {
	start := -1
	end := -1
	depth := 0

	for i, ch := range s {
		if ch == '{' {
			if start == -1 {
				start = i
			}
			depth++
		} else if ch == '}' {
			depth--
			if depth == 0 && start != -1 {
				end = i + 1
				break
			}
		}
	}

	if start != -1 && end != -1 {
		return s[start:end]
	}
	return ""
}
