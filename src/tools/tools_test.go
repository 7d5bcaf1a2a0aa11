package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agent "github.com/Protocol-Lattice/agentflow"
	"github.com/Protocol-Lattice/agentflow/src/dates"
	"github.com/Protocol-Lattice/agentflow/src/document"
	"github.com/Protocol-Lattice/agentflow/src/search"
	"github.com/Protocol-Lattice/agentflow/src/store"
	"github.com/Protocol-Lattice/agentflow/src/weather"
	"github.com/Protocol-Lattice/agentflow/src/workflow"
)

func fixedResolver() *dates.Resolver {
	r := dates.NewResolver(time.UTC)
	r.Now = func() time.Time { return time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC) }
	return r
}

type fakeWeather struct {
	mu        sync.Mutex
	forecasts []string
	fail      map[string]error
}

func (f *fakeWeather) Current(_ context.Context, city string) (weather.Report, error) {
	if err := f.fail[city]; err != nil {
		return weather.Report{}, err
	}
	return weather.Report{City: city, Temperature: 25, Description: "clear sky", Condition: "Clear"}, nil
}

func (f *fakeWeather) Forecast(_ context.Context, city string, day time.Time) (weather.Report, error) {
	f.mu.Lock()
	f.forecasts = append(f.forecasts, day.Format(dates.DayLayout))
	f.mu.Unlock()
	return weather.Report{City: city, Temperature: 12.5, Description: "light rain", Condition: "Rain", Date: day.Format(dates.DayLayout), Forecast: true}, nil
}

type fakeStore struct {
	meetings []store.Meeting
	queries  []string
	queryErr error
	from, to string
}

func (f *fakeStore) InsertMeeting(_ context.Context, m store.Meeting) (store.Meeting, error) {
	m.ID = int64(len(f.meetings) + 1)
	f.meetings = append(f.meetings, m)
	return m, nil
}

func (f *fakeStore) Conflicts(_ context.Context, date, clock string) ([]store.Meeting, error) {
	var out []store.Meeting
	for _, m := range f.meetings {
		if m.Date == date && (clock == "" || m.Time == clock) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStore) ListRange(_ context.Context, from, to string) ([]store.Meeting, error) {
	f.from, f.to = from, to
	var out []store.Meeting
	for _, m := range f.meetings {
		if m.Date >= from && m.Date < to {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStore) Query(_ context.Context, q string) (store.Result, error) {
	f.queries = append(f.queries, q)
	if f.queryErr != nil {
		return store.Result{}, f.queryErr
	}
	return store.Result{
		Columns: []string{"title", "meeting_date"},
		Rows:    []map[string]any{{"title": "Standup", "meeting_date": "2025-06-11"}},
	}, nil
}

type fakeAnswerer struct {
	answer document.Answer
	err    error
}

func (f fakeAnswerer) Answer(context.Context, string) (document.Answer, error) {
	return f.answer, f.err
}

type fakeSearcher struct {
	category string
}

func (f *fakeSearcher) Search(_ context.Context, query, category string) ([]search.Result, error) {
	f.category = category
	return []search.Result{{URL: "https://example.com", Title: query, Query: query}}, nil
}

type fakeScheduler struct {
	got workflow.Request
	out workflow.Outcome
	err error
}

func (f *fakeScheduler) Schedule(_ context.Context, req workflow.Request) (workflow.Outcome, error) {
	f.got = req
	f.out.Request = req
	return f.out, f.err
}

func invoke(t *testing.T, tool agent.Tool, args map[string]any) (agent.ToolResponse, map[string]any) {
	t.Helper()
	resp, err := tool.Invoke(context.Background(), agent.ToolRequest{Arguments: args})
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(resp.Content), &payload), resp.Content)
	return resp, payload
}

func TestNewRegistersToolsForAvailableDeps(t *testing.T) {
	all := New(Deps{
		Weather:   &fakeWeather{},
		Documents: fakeAnswerer{},
		Search:    &fakeSearcher{},
		Store:     &fakeStore{},
		Scheduler: &fakeScheduler{},
	})
	names := make([]string, len(all))
	for i, tool := range all {
		names[i] = tool.Spec().Name
	}
	assert.Equal(t, []string{
		GetWeather, QueryDocument, WebSearch, ExecuteSQL, InsertMeeting,
		CheckConflicts, ListMeetings, ScheduleMeeting, CurrentDate,
	}, names)

	minimal := New(Deps{})
	require.Len(t, minimal, 1)
	assert.Equal(t, CurrentDate, minimal[0].Spec().Name)
}

func TestWeatherToolCurrentAndForecast(t *testing.T) {
	fw := &fakeWeather{}
	tool := &WeatherTool{Client: fw, Resolver: fixedResolver()}

	resp, payload := invoke(t, tool, map[string]any{"city": "Chennai"})
	assert.False(t, resp.Failed())
	assert.Equal(t, "Chennai", payload["city"])
	assert.Equal(t, "Weather in Chennai: clear sky, 25C", resp.Summary())

	resp, payload = invoke(t, tool, map[string]any{"city": "Mumbai", "date": "tomorrow"})
	assert.False(t, resp.Failed())
	assert.Equal(t, true, payload["forecast"])
	assert.Equal(t, []string{"2025-06-11"}, fw.forecasts)
	assert.Contains(t, resp.Summary(), "12.5C")
}

func TestWeatherToolErrors(t *testing.T) {
	tool := &WeatherTool{
		Client:   &fakeWeather{fail: map[string]error{"Atlantis": weather.ErrCityNotFound}},
		Resolver: fixedResolver(),
	}

	resp, payload := invoke(t, tool, map[string]any{})
	assert.True(t, resp.Failed())
	assert.Contains(t, payload["error"], "city is required")

	resp, payload = invoke(t, tool, map[string]any{"city": "Atlantis"})
	assert.True(t, resp.Failed())
	assert.True(t, strings.HasPrefix(payload["error"].(string), "Failed to fetch weather"))

	resp, _ = invoke(t, tool, map[string]any{"city": "Chennai", "date": "someday"})
	assert.True(t, resp.Failed())
}

func TestWeatherToolSeveralCities(t *testing.T) {
	tool := &WeatherTool{
		Client:   &fakeWeather{fail: map[string]error{"Atlantis": weather.ErrCityNotFound}},
		Resolver: fixedResolver(),
	}
	resp, payload := invoke(t, tool, map[string]any{"cities": []any{"Chennai", "Atlantis", "Delhi"}})
	assert.False(t, resp.Failed())

	results := payload["results"].([]any)
	require.Len(t, results, 3)
	assert.Equal(t, "Chennai", results[0].(map[string]any)["city"])
	assert.NotEmpty(t, results[1].(map[string]any)["error"])
	assert.Equal(t, "Delhi", results[2].(map[string]any)["report"].(map[string]any)["city"])
}

func TestDocumentTool(t *testing.T) {
	tool := &DocumentTool{Answerer: fakeAnswerer{answer: document.Answer{Text: "Five years of Python.", Source: document.SourceDocument}}}
	resp, payload := invoke(t, tool, map[string]any{"query": "Python experience?"})
	assert.Equal(t, "Five years of Python.", payload["answer"])
	assert.Equal(t, "document", resp.Metadata["source"])

	tool = &DocumentTool{Answerer: fakeAnswerer{answer: document.Answer{
		Text: "Paris", Source: document.SourceWeb,
		Results: []search.Result{{URL: "https://example.com/paris"}},
	}}}
	resp, _ = invoke(t, tool, map[string]any{"query": "capital of France"})
	assert.Contains(t, resp.Summary(), "https://example.com/paris")

	tool = &DocumentTool{Answerer: fakeAnswerer{err: document.ErrNoDocument}}
	resp, payload = invoke(t, tool, map[string]any{"query": "anything"})
	assert.True(t, resp.Failed())
	assert.Contains(t, payload["error"], "Error querying document")
}

func TestSearchToolCategory(t *testing.T) {
	fs := &fakeSearcher{}
	tool := &SearchTool{Searcher: fs}

	_, payload := invoke(t, tool, map[string]any{"query": "go 1.25", "category": "news"})
	assert.Equal(t, search.NewsCategory, fs.category)
	assert.Len(t, payload["results"], 1)

	resp, _ := invoke(t, tool, map[string]any{"query": "go", "category": "images"})
	assert.True(t, resp.Failed())
}

func TestSQLTool(t *testing.T) {
	fs := &fakeStore{}
	tool := &SQLTool{Store: fs}

	resp, payload := invoke(t, tool, map[string]any{"sql_query": "SELECT title, meeting_date FROM meetings"})
	assert.False(t, resp.Failed())
	assert.Equal(t, []any{"title", "meeting_date"}, payload["columns"])
	assert.Contains(t, resp.Summary(), "title=Standup")

	fs.queryErr = store.ErrReadOnly
	resp, payload = invoke(t, tool, map[string]any{"sql_query": "DELETE FROM meetings"})
	assert.True(t, resp.Failed())
	assert.Equal(t, store.ErrReadOnly.Error(), payload["error"])

	fs.queryErr = errors.New(`relation "meeting" does not exist`)
	_, payload = invoke(t, tool, map[string]any{"sql_query": "SELECT * FROM meeting"})
	assert.True(t, strings.HasPrefix(payload["error"].(string), "SQL execution error"))

	resp, _ = invoke(t, tool, map[string]any{})
	assert.True(t, resp.Failed())
}

func TestInsertAndConflictTools(t *testing.T) {
	fs := &fakeStore{}
	insert := &InsertMeetingTool{Store: fs}
	conflicts := &ConflictTool{Store: fs}

	resp, payload := invoke(t, insert, map[string]any{
		"title": "Design review", "meeting_date": "2025-06-12", "meeting_time": "3pm", "reasoning": "Weather: Clear, 25C",
	})
	require.False(t, resp.Failed(), resp.Content)
	assert.Equal(t, true, payload["success"])
	assert.Equal(t, "Meeting 'Design review' scheduled for 2025-06-12", payload["message"])
	assert.Equal(t, "15:00:00", fs.meetings[0].Time)

	_, payload = invoke(t, conflicts, map[string]any{"meeting_date": "2025-06-12", "meeting_time": "15:00"})
	assert.Equal(t, true, payload["has_conflicts"])

	_, payload = invoke(t, conflicts, map[string]any{"meeting_date": "2025-06-12", "meeting_time": "09:00:00"})
	assert.Equal(t, false, payload["has_conflicts"])

	resp, payload = invoke(t, insert, map[string]any{"title": "Bad", "meeting_date": "12/06/2025"})
	assert.True(t, resp.Failed())
	assert.Contains(t, payload["error"], "meeting_date must match 2006-01-02")

	resp, _ = invoke(t, insert, map[string]any{"title": strings.Repeat("x", 256), "meeting_date": "2025-06-12"})
	assert.True(t, resp.Failed())
}

func TestListMeetingsTool(t *testing.T) {
	fs := &fakeStore{meetings: []store.Meeting{
		{ID: 1, Title: "Standup", Date: "2025-06-11"},
		{ID: 2, Title: "Retro", Date: "2025-06-18", Time: "16:00:00"},
	}}
	tool := &ListMeetingsTool{Store: fs, Resolver: fixedResolver()}

	resp, payload := invoke(t, tool, map[string]any{"range": "next week"})
	assert.Equal(t, "2025-06-17", fs.from)
	assert.Equal(t, "2025-06-24", fs.to)
	assert.Equal(t, float64(1), payload["count"])
	assert.Contains(t, resp.Summary(), "Retro on 2025-06-18 at 16:00:00")

	_, payload = invoke(t, tool, map[string]any{"range": "tomorrow"})
	assert.Equal(t, float64(1), payload["count"])

	resp, _ = invoke(t, tool, map[string]any{"range": "whenever"})
	assert.True(t, resp.Failed())
}

func TestScheduleTool(t *testing.T) {
	fs := &fakeScheduler{out: workflow.Outcome{
		State:   workflow.Scheduled,
		Meeting: &store.Meeting{ID: 7, Title: "Sync", Date: "2025-06-13", Reasoning: "Weather: Clear, 25C"},
	}}
	tool := &ScheduleTool{Scheduler: fs, Resolver: fixedResolver()}

	resp, payload := invoke(t, tool, map[string]any{"title": "Sync", "city": "Chennai", "date": "friday"})
	assert.Equal(t, "scheduled", payload["state"])
	assert.Equal(t, "scheduled", resp.Metadata["state"])
	assert.False(t, resp.Failed())
	assert.Equal(t, "2025-06-13", fs.got.Date.Format(dates.DayLayout))
	assert.Equal(t, "Meeting 'Sync' scheduled for 2025-06-13 in Chennai (Weather: Clear, 25C).", resp.Summary())

	fs.out = workflow.Outcome{State: workflow.Failed, Reason: "weather check: boom"}
	fs.err = fmt.Errorf("weather check: boom")
	resp, payload = invoke(t, tool, map[string]any{"title": "Sync"})
	assert.True(t, resp.Failed())
	assert.Equal(t, "failed", payload["state"])
	assert.True(t, fs.got.Date.IsZero())

	resp, _ = invoke(t, tool, map[string]any{"date": "the twelfth of never"})
	assert.True(t, resp.Failed())
}

func TestDateTool(t *testing.T) {
	resp, payload := invoke(t, &DateTool{Resolver: fixedResolver()}, nil)
	assert.Equal(t, "2025-06-10", payload["today"])
	assert.Equal(t, "Tuesday", payload["weekday"])
	assert.Equal(t, "2025-06-11", payload["tomorrow"])
	assert.Equal(t, "Today is Tuesday, 2025-06-10.", resp.Summary())
}
