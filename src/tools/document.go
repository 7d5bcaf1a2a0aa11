package tools

import (
	"context"
	"fmt"

	agent "github.com/Protocol-Lattice/agentflow"
	"github.com/Protocol-Lattice/agentflow/src/document"
	"github.com/Protocol-Lattice/agentflow/src/search"
)

// DocumentTool answers questions from the PDF in the data folder, falling
// back to the web when the document has no answer.
type DocumentTool struct {
	Answerer DocumentAnswerer
}

type documentArgs struct {
	Query string `json:"query" validate:"required"`
}

func (t *DocumentTool) Spec() agent.ToolSpec {
	return agent.ToolSpec{
		Name:        QueryDocument,
		Description: "Answer a question from the resume/PDF in the data folder. Falls back to web search when the document does not contain the answer.",
		InputSchema: schema([]string{"query"}, map[string]any{
			"query": prop("string", "Natural language question"),
		}),
		Examples: []map[string]any{{"query": "What is my Python experience?"}},
	}
}

func (t *DocumentTool) Invoke(ctx context.Context, req agent.ToolRequest) (agent.ToolResponse, error) {
	var args documentArgs
	if err := decodeArgs(req.Arguments, &args); err != nil {
		return fail("", err)
	}
	ans, err := t.Answerer.Answer(ctx, args.Query)
	if err != nil {
		return fail("Error querying document", err)
	}
	resp, err := ok(ans, ans.Text)
	if err == nil {
		resp.Metadata["source"] = string(ans.Source)
		if ans.Source == document.SourceWeb {
			resp.Metadata["summary"] = ans.Text + sources(ans.Results)
		}
	}
	return resp, err
}

func sources(results []search.Result) string {
	if len(results) == 0 {
		return ""
	}
	s := "\nSources:"
	for _, r := range results {
		s += fmt.Sprintf("\n- %s", r.URL)
	}
	return s
}

// SearchTool runs a web search.
type SearchTool struct {
	Searcher search.Searcher
}

type searchArgs struct {
	Query    string `json:"query" validate:"required"`
	Category string `json:"category" validate:"omitempty,oneof=general news"`
}

func (t *SearchTool) Spec() agent.ToolSpec {
	return agent.ToolSpec{
		Name:        WebSearch,
		Description: "Search the web and return titles, URLs and snippets.",
		InputSchema: schema([]string{"query"}, map[string]any{
			"query":    prop("string", "Search query"),
			"category": map[string]any{"type": "string", "enum": []string{"general", "news"}},
		}),
	}
}

func (t *SearchTool) Invoke(ctx context.Context, req agent.ToolRequest) (agent.ToolResponse, error) {
	var args searchArgs
	if err := decodeArgs(req.Arguments, &args); err != nil {
		return fail("", err)
	}
	category := search.GeneralCategory
	if args.Category == string(search.NewsCategory) {
		category = search.NewsCategory
	}
	results, err := t.Searcher.Search(ctx, args.Query, category)
	if err != nil {
		return fail("Web search failed", err)
	}
	if results == nil {
		results = []search.Result{}
	}
	summary := fmt.Sprintf("%d result(s) for %q", len(results), args.Query)
	for _, r := range results {
		summary += fmt.Sprintf("\n- %s (%s)", r.Title, r.URL)
	}
	return ok(map[string]any{"query": args.Query, "results": results}, summary)
}
