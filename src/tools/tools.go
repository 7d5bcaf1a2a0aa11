// Package tools exposes the domain capabilities to the agent as Tools.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	agent "github.com/Protocol-Lattice/agentflow"
	"github.com/Protocol-Lattice/agentflow/src/dates"
	"github.com/Protocol-Lattice/agentflow/src/document"
	"github.com/Protocol-Lattice/agentflow/src/search"
	"github.com/Protocol-Lattice/agentflow/src/store"
	"github.com/Protocol-Lattice/agentflow/src/weather"
	"github.com/Protocol-Lattice/agentflow/src/workflow"
)

// Tool names.
const (
	GetWeather      = "get_weather"
	QueryDocument   = "query_document"
	WebSearch       = "web_search"
	ExecuteSQL      = "execute_sql"
	InsertMeeting   = "insert_meeting"
	CheckConflicts  = "check_schedule_conflicts"
	ListMeetings    = "list_meetings"
	ScheduleMeeting = "schedule_meeting"
	CurrentDate     = "current_date"
)

type WeatherClient interface {
	Current(ctx context.Context, city string) (weather.Report, error)
	Forecast(ctx context.Context, city string, day time.Time) (weather.Report, error)
}

// MeetingStore is satisfied by *store.Store.
type MeetingStore interface {
	InsertMeeting(ctx context.Context, m store.Meeting) (store.Meeting, error)
	Conflicts(ctx context.Context, date, clock string) ([]store.Meeting, error)
	ListRange(ctx context.Context, from, to string) ([]store.Meeting, error)
	Query(ctx context.Context, q string) (store.Result, error)
}

type DocumentAnswerer interface {
	Answer(ctx context.Context, question string) (document.Answer, error)
}

type Scheduler interface {
	Schedule(ctx context.Context, req workflow.Request) (workflow.Outcome, error)
}

// Deps are the services the tool set is built from. Tools whose service is
// nil are left out.
type Deps struct {
	Weather   WeatherClient
	Documents DocumentAnswerer
	Search    search.Searcher
	Store     MeetingStore
	Scheduler Scheduler
	Resolver  *dates.Resolver
}

// New builds every tool the deps allow, in a stable order.
func New(d Deps) []agent.Tool {
	if d.Resolver == nil {
		d.Resolver = dates.NewResolver(nil)
	}
	var out []agent.Tool
	if d.Weather != nil {
		out = append(out, &WeatherTool{Client: d.Weather, Resolver: d.Resolver})
	}
	if d.Documents != nil {
		out = append(out, &DocumentTool{Answerer: d.Documents})
	}
	if d.Search != nil {
		out = append(out, &SearchTool{Searcher: d.Search})
	}
	if d.Store != nil {
		out = append(out,
			&SQLTool{Store: d.Store},
			&InsertMeetingTool{Store: d.Store},
			&ConflictTool{Store: d.Store},
			&ListMeetingsTool{Store: d.Store, Resolver: d.Resolver},
		)
	}
	if d.Scheduler != nil {
		out = append(out, &ScheduleTool{Scheduler: d.Scheduler, Resolver: d.Resolver})
	}
	out = append(out, &DateTool{Resolver: d.Resolver})
	return out
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeArgs converts loosely typed tool arguments into a validated struct.
func decodeArgs(args map[string]any, out any) error {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return validateArgs(out)
}

func validateArgs(out any) error {
	err := validate.Struct(out)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required", "required_without":
			msgs = append(msgs, fmt.Sprintf("%s is required", jsonName(fe)))
		case "datetime":
			msgs = append(msgs, fmt.Sprintf("%s must match %s", jsonName(fe), fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", jsonName(fe), fe.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", jsonName(fe), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", jsonName(fe), fe.Tag()))
		}
	}
	return fmt.Errorf("invalid arguments: %s", strings.Join(msgs, "; "))
}

func jsonName(fe validator.FieldError) string {
	return strings.ToLower(fe.Field())
}

func init() {
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// ok renders a successful result. summary is a short plain-text rendering.
func ok(v any, summary string) (agent.ToolResponse, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return agent.ToolResponse{}, err
	}
	meta := map[string]string{}
	if summary != "" {
		meta["summary"] = summary
	}
	return agent.ToolResponse{Content: string(raw), Metadata: meta}, nil
}

// fail renders an error payload ({"error": "..."}); tool failures are
// results, not transport errors.
func fail(prefix string, err error) (agent.ToolResponse, error) {
	msg := err.Error()
	if prefix != "" {
		msg = prefix + ": " + msg
	}
	raw, _ := json.Marshal(map[string]string{"error": msg})
	return agent.ToolResponse{
		Content:  string(raw),
		Metadata: map[string]string{"error": "true", "summary": msg},
	}, nil
}

func schema(required []string, props map[string]any) map[string]any {
	s := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}
