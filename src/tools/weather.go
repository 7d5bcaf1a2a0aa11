package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	agent "github.com/Protocol-Lattice/agentflow"
	"github.com/Protocol-Lattice/agentflow/src/concurrent"
	"github.com/Protocol-Lattice/agentflow/src/dates"
	"github.com/Protocol-Lattice/agentflow/src/weather"
)

// WeatherTool reports current conditions or a day's forecast.
type WeatherTool struct {
	Client   WeatherClient
	Resolver *dates.Resolver
}

type weatherArgs struct {
	City   string   `json:"city" validate:"required_without=Cities"`
	Cities []string `json:"cities" validate:"omitempty,max=5,dive,required"`
	Date   string   `json:"date"`
}

type cityWeather struct {
	City   string          `json:"city"`
	Report *weather.Report `json:"report,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func (t *WeatherTool) Spec() agent.ToolSpec {
	return agent.ToolSpec{
		Name:        GetWeather,
		Description: "Get the weather for a city (metric units). Optional date (today, tomorrow, weekday or YYYY-MM-DD) selects a forecast within five days.",
		InputSchema: schema(nil, map[string]any{
			"city":   prop("string", "City name, e.g. Chennai"),
			"cities": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Several cities at once"},
			"date":   prop("string", "Day to forecast"),
		}),
		Examples: []map[string]any{{"city": "Chennai"}, {"city": "Mumbai", "date": "tomorrow"}},
	}
}

func (t *WeatherTool) Invoke(ctx context.Context, req agent.ToolRequest) (agent.ToolResponse, error) {
	var args weatherArgs
	if err := decodeArgs(req.Arguments, &args); err != nil {
		return fail("", err)
	}

	var day time.Time
	if d := strings.TrimSpace(args.Date); d != "" {
		resolved, ok := t.Resolver.ResolveDay(d)
		if !ok {
			return fail("", fmt.Errorf("unrecognised date %q", d))
		}
		day = resolved
	}

	if len(args.Cities) == 0 {
		report, err := t.lookup(ctx, args.City, day)
		if err != nil {
			return fail("Failed to fetch weather", err)
		}
		return ok(report, fmt.Sprintf("Weather in %s: %s, %sC", report.City, report.Description, weather.FormatTemp(report.Temperature)))
	}

	settled := concurrent.ParallelSettle(ctx, args.Cities, func(ctx context.Context, city string) (weather.Report, error) {
		return t.lookup(ctx, city, day)
	}, len(args.Cities))
	out := make([]cityWeather, len(settled))
	lines := make([]string, len(settled))
	for i, s := range settled {
		out[i].City = args.Cities[i]
		if s.Err != nil {
			out[i].Error = s.Err.Error()
			lines[i] = fmt.Sprintf("%s: %v", args.Cities[i], s.Err)
			continue
		}
		r := s.Value
		out[i].Report = &r
		lines[i] = fmt.Sprintf("%s: %s, %sC", r.City, r.Description, weather.FormatTemp(r.Temperature))
	}
	return ok(map[string]any{"results": out}, strings.Join(lines, "; "))
}

func (t *WeatherTool) lookup(ctx context.Context, city string, day time.Time) (weather.Report, error) {
	if day.IsZero() {
		return t.Client.Current(ctx, city)
	}
	return t.Client.Forecast(ctx, city, day)
}
