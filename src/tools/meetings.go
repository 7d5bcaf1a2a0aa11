package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	agent "github.com/Protocol-Lattice/agentflow"
	"github.com/Protocol-Lattice/agentflow/src/dates"
	"github.com/Protocol-Lattice/agentflow/src/store"
)

// SQLTool executes read-only SQL against the meetings database.
type SQLTool struct {
	Store MeetingStore
}

type sqlArgs struct {
	SQLQuery string `json:"sql_query" validate:"required"`
}

func (t *SQLTool) Spec() agent.ToolSpec {
	return agent.ToolSpec{
		Name: ExecuteSQL,
		Description: "Execute a read-only SQL SELECT on PostgreSQL. Table meetings(id, title, meeting_date DATE, meeting_time TIME, reasoning TEXT, created_at TIMESTAMPTZ). " +
			"Only SELECT queries are allowed; use insert_meeting to add meetings.",
		InputSchema: schema([]string{"sql_query"}, map[string]any{
			"sql_query": prop("string", "A single SELECT statement"),
		}),
		Examples: []map[string]any{{"sql_query": "SELECT title, meeting_date FROM meetings WHERE meeting_date = CURRENT_DATE"}},
	}
}

func (t *SQLTool) Invoke(ctx context.Context, req agent.ToolRequest) (agent.ToolResponse, error) {
	var args sqlArgs
	if err := decodeArgs(req.Arguments, &args); err != nil {
		return fail("", err)
	}
	res, err := t.Store.Query(ctx, args.SQLQuery)
	if errors.Is(err, store.ErrReadOnly) {
		return fail("", err)
	}
	if err != nil {
		return fail("SQL execution error", err)
	}
	return ok(res, renderRows(res))
}

func renderRows(res store.Result) string {
	if len(res.Rows) == 0 {
		return "No rows."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d row(s):", len(res.Rows))
	for _, row := range res.Rows {
		cells := make([]string, 0, len(res.Columns))
		for _, c := range res.Columns {
			cells = append(cells, fmt.Sprintf("%s=%v", c, row[c]))
		}
		b.WriteString("\n- " + strings.Join(cells, ", "))
	}
	if res.Truncated {
		b.WriteString("\n(truncated)")
	}
	return b.String()
}

// InsertMeetingTool adds a meeting without any gating.
type InsertMeetingTool struct {
	Store MeetingStore
}

type insertArgs struct {
	Title       string `json:"title" validate:"required,max=255"`
	MeetingDate string `json:"meeting_date" validate:"required,datetime=2006-01-02"`
	MeetingTime string `json:"meeting_time" validate:"omitempty,datetime=15:04:05"`
	Reasoning   string `json:"reasoning"`
}

func (t *InsertMeetingTool) Spec() agent.ToolSpec {
	return agent.ToolSpec{
		Name:        InsertMeeting,
		Description: "Insert a meeting into the database. Prefer schedule_meeting, which checks weather and conflicts first.",
		InputSchema: schema([]string{"title", "meeting_date"}, map[string]any{
			"title":        prop("string", "Meeting title"),
			"meeting_date": prop("string", "YYYY-MM-DD"),
			"meeting_time": prop("string", "HH:MM:SS, optional"),
			"reasoning":    prop("string", "Why the meeting was scheduled, e.g. Weather: Clear, 25C"),
		}),
	}
}

func (t *InsertMeetingTool) Invoke(ctx context.Context, req agent.ToolRequest) (agent.ToolResponse, error) {
	var args insertArgs
	if err := decodeArgs(normalizeClockArg(req.Arguments, "meeting_time"), &args); err != nil {
		return fail("", err)
	}
	m, err := t.Store.InsertMeeting(ctx, store.Meeting{
		Title:     strings.TrimSpace(args.Title),
		Date:      args.MeetingDate,
		Time:      args.MeetingTime,
		Reasoning: args.Reasoning,
	})
	if err != nil {
		return fail("Failed to insert meeting", err)
	}
	msg := fmt.Sprintf("Meeting '%s' scheduled for %s", m.Title, m.Date)
	return ok(map[string]any{"success": true, "message": msg, "meeting": m}, msg)
}

// ConflictTool lists meetings that clash with a date or an exact slot.
type ConflictTool struct {
	Store MeetingStore
}

type conflictArgs struct {
	MeetingDate string `json:"meeting_date" validate:"required,datetime=2006-01-02"`
	MeetingTime string `json:"meeting_time" validate:"omitempty,datetime=15:04:05"`
}

func (t *ConflictTool) Spec() agent.ToolSpec {
	return agent.ToolSpec{
		Name:        CheckConflicts,
		Description: "Check for meetings on a date, or at an exact date and time when meeting_time is given.",
		InputSchema: schema([]string{"meeting_date"}, map[string]any{
			"meeting_date": prop("string", "YYYY-MM-DD"),
			"meeting_time": prop("string", "HH:MM:SS, optional"),
		}),
	}
}

func (t *ConflictTool) Invoke(ctx context.Context, req agent.ToolRequest) (agent.ToolResponse, error) {
	var args conflictArgs
	if err := decodeArgs(normalizeClockArg(req.Arguments, "meeting_time"), &args); err != nil {
		return fail("", err)
	}
	found, err := t.Store.Conflicts(ctx, args.MeetingDate, args.MeetingTime)
	if err != nil {
		return fail("Failed to check schedule", err)
	}
	summary := "No conflicts on " + args.MeetingDate
	if len(found) > 0 {
		summary = fmt.Sprintf("%d conflicting meeting(s) on %s:%s", len(found), args.MeetingDate, renderMeetings(found))
	}
	return ok(map[string]any{"has_conflicts": len(found) > 0, "conflicts": found}, summary)
}

// ListMeetingsTool lists meetings for a resolved date range.
type ListMeetingsTool struct {
	Store    MeetingStore
	Resolver *dates.Resolver
}

type listArgs struct {
	Range string `json:"range" validate:"required"`
}

func (t *ListMeetingsTool) Spec() agent.ToolSpec {
	return agent.ToolSpec{
		Name:        ListMeetings,
		Description: "List meetings for a period: today, tomorrow, this week, next week, a weekday or YYYY-MM-DD.",
		InputSchema: schema([]string{"range"}, map[string]any{
			"range": prop("string", "Period to list"),
		}),
		Examples: []map[string]any{{"range": "next week"}},
	}
}

func (t *ListMeetingsTool) Invoke(ctx context.Context, req agent.ToolRequest) (agent.ToolResponse, error) {
	var args listArgs
	if err := decodeArgs(req.Arguments, &args); err != nil {
		return fail("", err)
	}
	r, found := t.Resolver.ResolveRange(args.Range)
	if !found {
		return fail("", fmt.Errorf("unrecognised period %q", args.Range))
	}
	from, to := r.From.Format(dates.DayLayout), r.To.Format(dates.DayLayout)
	meetings, err := t.Store.ListRange(ctx, from, to)
	if err != nil {
		return fail("Failed to list meetings", err)
	}
	summary := fmt.Sprintf("No meetings for %s (%s).", args.Range, r)
	if len(meetings) > 0 {
		summary = fmt.Sprintf("%d meeting(s) for %s (%s):%s", len(meetings), args.Range, r, renderMeetings(meetings))
	}
	return ok(map[string]any{
		"range":    map[string]string{"from": from, "to": to},
		"count":    len(meetings),
		"meetings": meetings,
	}, summary)
}

func renderMeetings(ms []store.Meeting) string {
	var b strings.Builder
	for _, m := range ms {
		b.WriteString("\n- " + m.Title + " on " + m.Date)
		if m.Time != "" {
			b.WriteString(" at " + m.Time)
		}
	}
	return b.String()
}

// normalizeClockArg rewrites a loosely formatted time argument to HH:MM:SS
// so validation only sees canonical values.
func normalizeClockArg(args map[string]any, key string) map[string]any {
	raw, isString := args[key].(string)
	if !isString || strings.TrimSpace(raw) == "" {
		return args
	}
	clock, found := dates.NormalizeClock(raw)
	if !found {
		return args
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	out[key] = clock
	return out
}
