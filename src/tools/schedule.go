package tools

import (
	"context"
	"fmt"
	"strings"

	agent "github.com/Protocol-Lattice/agentflow"
	"github.com/Protocol-Lattice/agentflow/src/dates"
	"github.com/Protocol-Lattice/agentflow/src/workflow"
)

// ScheduleTool runs the weather-gated scheduling workflow.
type ScheduleTool struct {
	Scheduler Scheduler
	Resolver  *dates.Resolver
}

type scheduleArgs struct {
	Title string `json:"title" validate:"max=255"`
	City  string `json:"city"`
	Date  string `json:"date"`
	Time  string `json:"time"`
}

func (t *ScheduleTool) Spec() agent.ToolSpec {
	return agent.ToolSpec{
		Name: ScheduleMeeting,
		Description: "Schedule a meeting only if the weather is good (Clear or Clouds above 18C) and the slot is free. " +
			"Defaults: city Chennai, date tomorrow.",
		InputSchema: schema(nil, map[string]any{
			"title": prop("string", "Meeting title"),
			"city":  prop("string", "City whose weather gates the meeting"),
			"date":  prop("string", "today, tomorrow, a weekday or YYYY-MM-DD"),
			"time":  prop("string", "Time of day, e.g. 15:00 or 3pm"),
		}),
		Examples: []map[string]any{{"title": "Team sync", "city": "Chennai", "date": "tomorrow", "time": "10:00"}},
	}
}

func (t *ScheduleTool) Invoke(ctx context.Context, req agent.ToolRequest) (agent.ToolResponse, error) {
	var args scheduleArgs
	if err := decodeArgs(req.Arguments, &args); err != nil {
		return fail("", err)
	}
	request := workflow.Request{Title: args.Title, City: args.City, Time: strings.TrimSpace(args.Time)}
	if d := strings.TrimSpace(args.Date); d != "" {
		day, found := t.Resolver.ResolveDay(d)
		if !found {
			return fail("", fmt.Errorf("unrecognised date %q", d))
		}
		request.Date = day
	}

	outcome, err := t.Scheduler.Schedule(ctx, request)
	resp, encErr := ok(outcome, outcome.Summary())
	if encErr != nil {
		return resp, encErr
	}
	resp.Metadata["state"] = string(outcome.State)
	if err != nil {
		resp.Metadata["error"] = "true"
	}
	return resp, nil
}

// DateTool tells the model what day it is.
type DateTool struct {
	Resolver *dates.Resolver
}

func (t *DateTool) Spec() agent.ToolSpec {
	return agent.ToolSpec{
		Name:        CurrentDate,
		Description: "Return today's date, weekday and tomorrow's date.",
		InputSchema: schema(nil, map[string]any{}),
	}
}

func (t *DateTool) Invoke(context.Context, agent.ToolRequest) (agent.ToolResponse, error) {
	today := t.Resolver.Today()
	tomorrow := today.AddDate(0, 0, 1)
	return ok(map[string]string{
		"today":    today.Format(dates.DayLayout),
		"weekday":  today.Weekday().String(),
		"tomorrow": tomorrow.Format(dates.DayLayout),
		"timezone": today.Location().String(),
	}, fmt.Sprintf("Today is %s, %s.", today.Weekday(), today.Format(dates.DayLayout)))
}
