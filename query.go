package agent

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/Protocol-Lattice/agentflow/src/dates"
	"github.com/Protocol-Lattice/agentflow/src/document"
)

// Intent is the capability a message is routed to.
type Intent string

const (
	IntentWeather  Intent = "weather"
	IntentDocument Intent = "document"
	IntentSearch   Intent = "search"
	IntentSchedule Intent = "schedule"
	IntentSQL      Intent = "sql"
	IntentGeneral  Intent = "general"
)

// Names of the tools the router targets. They must match the names the
// tools are registered under.
const (
	weatherTool  = "get_weather"
	documentTool = "query_document"
	searchTool   = "web_search"
	sqlTool      = "execute_sql"
	listTool     = "list_meetings"
	scheduleTool = "schedule_meeting"
)

// Route is the router's decision for one message. When Complete is false
// the arguments are a best effort and the model is asked to refine them.
type Route struct {
	Intent    Intent         `json:"intent"`
	Tool      string         `json:"tool,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Complete  bool           `json:"complete"`
}

// Router classifies messages by keyword and extracts tool arguments
// (cities, days, times, titles) without a model round trip.
type Router struct {
	Resolver    *dates.Resolver
	DefaultCity string
}

func NewRouter(resolver *dates.Resolver, defaultCity string) *Router {
	if resolver == nil {
		resolver = dates.NewResolver(nil)
	}
	return &Router{Resolver: resolver, DefaultCity: defaultCity}
}

var (
	scheduleVerbRe = regexp.MustCompile(`(?i)\b(schedule|book|arrange|set up|organi[sz]e|plan)\b`)
	meetingNounRe  = regexp.MustCompile(`(?i)\b(meetings?|calls?|syncs?|standups?|appointments?|reviews?|interviews?|catch-?ups?)\b`)
	listVerbRe     = regexp.MustCompile(`(?i)\b(list|show|what|which|any|do i have|upcoming|display|see|check)\b`)
	sqlRe          = regexp.MustCompile(`(?i)\b(sql|database|table|select|how many|count|latest|earliest|most recent|average)\b`)
	weatherRe      = regexp.MustCompile(`(?i)\b(weather|temperature|forecast|rain(ing|y)?|sunny|humid(ity)?|wind(y)?|hot|cold|degrees|celsius)\b`)
	documentRe     = regexp.MustCompile(`(?i)\b(resume|cv|document|pdf|work experience|work history|qualifications)\b|\bmy\b[^.?!]*\b(experience|skills?|education|projects?|background|certifications?|degree|internships?)\b`)
	rangePhraseRe  = regexp.MustCompile(`(?i)\b(next week|this week|day after tomorrow|tomorrow|today|tonight|yesterday|\d{4}-\d{2}-\d{2}|in \d{1,2} days?|(?:next |this |on )?(?:monday|tuesday|wednesday|thursday|friday|saturday|sunday))\b`)
	quotedRe       = regexp.MustCompile(`(?:^|\s)["“'‘]([^"”'’]{1,255})["”'’](?:[\s.,?!]|$)`)
	calledRe       = regexp.MustCompile(`(?i)\b(?:called|titled|named|about)\s+(.+?)(?:\s+(?:on|at|in|for|tomorrow|today|next|this)\b|[.,?!]|$)`)
	articleTitleRe = regexp.MustCompile(`(?i)\b(?:schedule|book|arrange|set up|plan)\s+(?:a|an|the|our|my)\s+(.+?)\s+(?:meeting|call|sync)\b`)
	placeRe        = regexp.MustCompile(`(?i)\b(?:in|for|at)\s+`)
)

var placeStopwords = map[string]bool{
	"the": true, "a": true, "an": true, "my": true, "our": true, "this": true, "next": true,
	"today": true, "tomorrow": true, "tonight": true, "yesterday": true, "morning": true,
	"afternoon": true, "evening": true, "night": true, "week": true, "day": true, "days": true,
	"monday": true, "tuesday": true, "wednesday": true, "thursday": true, "friday": true,
	"saturday": true, "sunday": true, "on": true, "at": true, "with": true, "is": true,
	"be": true, "will": true, "like": true, "please": true, "now": true, "noon": true,
	"meeting": true, "meetings": true, "weather": true, "it": true, "me": true, "us": true,
	"good": true, "there": true, "if": true, "then": true, "to": true, "about": true,
}

// Route classifies message. Scheduling wins over listing, listing over
// free SQL, then weather, document and general-knowledge questions;
// anything else is general.
func (r *Router) Route(message string) Route {
	msg := strings.TrimSpace(message)
	lower := strings.ToLower(msg)

	meetingTalk := meetingNounRe.MatchString(msg)
	if scheduleVerbRe.MatchString(msg) && (meetingTalk || strings.Contains(lower, "schedule")) && !r.isListing(msg) {
		return r.scheduleRoute(msg)
	}

	calendarTalk := meetingTalk || strings.Contains(lower, "schedule") || strings.Contains(lower, "calendar")
	if calendarTalk && !weatherRe.MatchString(msg) {
		if phrase := rangePhraseRe.FindString(msg); phrase != "" && listVerbRe.MatchString(msg) && !sqlRe.MatchString(msg) {
			return Route{
				Intent:    IntentSQL,
				Tool:      listTool,
				Arguments: map[string]any{"range": strings.ToLower(phrase)},
				Complete:  true,
			}
		}
		return Route{Intent: IntentSQL, Tool: sqlTool, Arguments: map[string]any{"question": msg}}
	}
	if sqlRe.MatchString(msg) && (strings.Contains(lower, "sql") || strings.Contains(lower, "database")) {
		return Route{Intent: IntentSQL, Tool: sqlTool, Arguments: map[string]any{"question": msg}}
	}

	if weatherRe.MatchString(msg) {
		return r.weatherRoute(msg)
	}

	if documentRe.MatchString(msg) {
		return Route{
			Intent:    IntentDocument,
			Tool:      documentTool,
			Arguments: map[string]any{"query": msg},
			Complete:  true,
		}
	}

	if document.IsGeneralKnowledge(msg) {
		args := map[string]any{"query": msg}
		if strings.Contains(lower, "news") {
			args["category"] = "news"
		}
		return Route{Intent: IntentSearch, Tool: searchTool, Arguments: args, Complete: true}
	}

	return Route{Intent: IntentGeneral}
}

func (r *Router) isListing(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.HasPrefix(lower, "what") || strings.HasPrefix(lower, "show") ||
		strings.HasPrefix(lower, "list") || strings.HasPrefix(lower, "do i have") ||
		strings.HasPrefix(lower, "which") || strings.HasPrefix(lower, "any ")
}

func (r *Router) scheduleRoute(msg string) Route {
	args := map[string]any{}
	if title := extractTitle(msg); title != "" {
		args["title"] = title
	}
	if cities := extractCities(msg); len(cities) > 0 {
		args["city"] = cities[0]
	}
	if day, ok := r.Resolver.ResolveDay(msg); ok {
		args["date"] = day.Format(dates.DayLayout)
	}
	if clock, ok := dates.ParseClock(msg); ok {
		args["time"] = clock
	}
	return Route{Intent: IntentSchedule, Tool: scheduleTool, Arguments: args, Complete: true}
}

func (r *Router) weatherRoute(msg string) Route {
	args := map[string]any{}
	cities := extractCities(msg)
	complete := true
	switch {
	case len(cities) == 1:
		args["city"] = cities[0]
	case len(cities) > 1:
		list := make([]any, len(cities))
		for i, c := range cities {
			list[i] = c
		}
		args["cities"] = list
	default:
		args["city"] = r.DefaultCity
		complete = r.DefaultCity != ""
	}
	if phrase := rangePhraseRe.FindString(msg); phrase != "" {
		lower := strings.ToLower(phrase)
		if lower != "today" && lower != "tonight" && !strings.Contains(lower, "week") {
			args["date"] = lower
		}
	}
	return Route{Intent: IntentWeather, Tool: weatherTool, Arguments: args, Complete: complete}
}

// extractTitle looks for a quoted title, a "called X" phrase or "a X meeting".
func extractTitle(msg string) string {
	for _, re := range []*regexp.Regexp{quotedRe, calledRe, articleTitleRe} {
		if m := re.FindStringSubmatch(msg); m != nil {
			if t := strings.TrimSpace(m[1]); t != "" {
				return t
			}
		}
	}
	return ""
}

// extractCities returns up to five place names following in/for/at,
// separated by commas or "and".
func extractCities(msg string) []string {
	var out []string
	for _, loc := range placeRe.FindAllStringIndex(msg, -1) {
		if out = parsePlaces(msg[loc[1]:]); len(out) > 0 {
			break
		}
	}
	if len(out) > 5 {
		out = out[:5]
	}
	return out
}

func parsePlaces(tail string) []string {
	var (
		places  []string
		current []string
	)
	flush := func() {
		if len(current) > 0 {
			places = append(places, strings.Join(current, " "))
			current = nil
		}
	}
	for _, raw := range strings.Fields(tail) {
		word := strings.TrimRight(raw, ",.?!;:")
		lower := strings.ToLower(word)
		switch {
		case lower == "and" || lower == "&":
			flush()
			continue
		case word == "" || placeStopwords[lower] || !isPlaceWord(word) || len(current) == 3:
			flush()
			return places
		}
		current = append(current, titleCase(word))
		if word != raw {
			flush()
			if strings.HasSuffix(raw, ",") {
				continue
			}
			return places
		}
	}
	flush()
	return places
}

func isPlaceWord(w string) bool {
	for _, r := range w {
		if !unicode.IsLetter(r) && r != '-' && r != '\'' && r != '.' {
			return false
		}
	}
	return true
}

func titleCase(w string) string {
	runes := []rune(w)
	if len(runes) == 0 || unicode.IsUpper(runes[0]) {
		return w
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
