// Package workflow schedules meetings deterministically: weather gate first,
// then conflict detection, then the insert.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/Protocol-Lattice/agentflow/src/dates"
	"github.com/Protocol-Lattice/agentflow/src/store"
	"github.com/Protocol-Lattice/agentflow/src/weather"
)

// State of a scheduling run.
type State string

const (
	Pending          State = "pending"
	WeatherChecked   State = "weather_checked"
	WeatherRejected  State = "weather_rejected"
	ConflictsChecked State = "conflicts_checked"
	Conflicted       State = "conflicted"
	Scheduled        State = "scheduled"
	Failed           State = "failed"
)

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	switch s {
	case WeatherRejected, Conflicted, Scheduled, Failed:
		return true
	}
	return false
}

var allowed = map[State][]State{
	Pending:          {WeatherChecked, Failed},
	WeatherChecked:   {WeatherRejected, ConflictsChecked, Failed},
	ConflictsChecked: {Conflicted, Scheduled, Failed},
}

// ErrInvalidRequest marks requests that can never succeed.
var ErrInvalidRequest = errors.New("invalid scheduling request")

// WeatherSource is satisfied by *weather.Client.
type WeatherSource interface {
	Forecast(ctx context.Context, city string, day time.Time) (weather.Report, error)
}

// MeetingStore is satisfied by *store.Store.
type MeetingStore interface {
	Conflicts(ctx context.Context, date, clock string) ([]store.Meeting, error)
	InsertMeeting(ctx context.Context, m store.Meeting) (store.Meeting, error)
}

// SlotBooker inserts a meeting only when its slot is still free and reports
// the conflicts otherwise. The engine books through it when the store
// implements it, as *store.Store does.
type SlotBooker interface {
	InsertIfFree(ctx context.Context, m store.Meeting) (store.Meeting, []store.Meeting, error)
}

// Request asks for a meeting. Zero Date means tomorrow, empty City the
// engine's default city, empty Time an all-day slot.
type Request struct {
	Title string    `json:"title"`
	City  string    `json:"city,omitempty"`
	Date  time.Time `json:"date,omitzero"`
	Time  string    `json:"time,omitempty"`
}

type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
	Note string    `json:"note,omitempty"`
}

// Outcome is the full record of a scheduling run.
type Outcome struct {
	State       State           `json:"state"`
	Request     Request         `json:"request"`
	Weather     *weather.Report `json:"weather,omitempty"`
	Conflicts   []store.Meeting `json:"conflicts,omitempty"`
	Meeting     *store.Meeting  `json:"meeting,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	Transitions []Transition    `json:"transitions"`
}

// Summary renders the outcome as one sentence for the user.
func (o Outcome) Summary() string {
	day := o.Request.Date.Format(dates.DayLayout)
	slot := day
	if o.Request.Time != "" {
		slot = day + " at " + o.Request.Time
	}
	switch o.State {
	case Scheduled:
		return fmt.Sprintf("Meeting '%s' scheduled for %s in %s (%s).", o.Meeting.Title, slot, o.Request.City, o.Meeting.Reasoning)
	case WeatherRejected:
		return fmt.Sprintf("Meeting '%s' was not scheduled: weather in %s on %s is unsuitable (%s).", o.Request.Title, o.Request.City, day, o.Reason)
	case Conflicted:
		titles := make([]string, len(o.Conflicts))
		for i, m := range o.Conflicts {
			titles[i] = m.Title
		}
		return fmt.Sprintf("Meeting '%s' was not scheduled: %s conflicts with %s.", o.Request.Title, slot, strings.Join(titles, ", "))
	case Failed:
		return fmt.Sprintf("Meeting '%s' could not be scheduled: %s.", o.Request.Title, o.Reason)
	default:
		return fmt.Sprintf("Meeting '%s' is %s.", o.Request.Title, o.State)
	}
}

func (o *Outcome) move(to State, note string, now time.Time) {
	ok := false
	for _, s := range allowed[o.State] {
		if s == to {
			ok = true
			break
		}
	}
	if !ok {
		panic(fmt.Sprintf("workflow: illegal transition %s -> %s", o.State, to))
	}
	o.Transitions = append(o.Transitions, Transition{From: o.State, To: to, At: now, Note: note})
	o.State = to
}

type Options struct {
	DefaultCity     string
	ThresholdC      float64
	MaxAttempts     int
	InitialInterval time.Duration
	Resolver        *dates.Resolver
	Logger          zerolog.Logger
}

// Engine runs scheduling requests.
type Engine struct {
	weather WeatherSource
	store   MeetingStore
	opts    Options
}

func New(w WeatherSource, s MeetingStore, opts Options) *Engine {
	if opts.DefaultCity == "" {
		opts.DefaultCity = "Chennai"
	}
	if opts.ThresholdC == 0 {
		opts.ThresholdC = 18
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 200 * time.Millisecond
	}
	if opts.Resolver == nil {
		opts.Resolver = dates.NewResolver(nil)
	}
	return &Engine{weather: w, store: s, opts: opts}
}

// Normalize fills request defaults and validates it.
func (e *Engine) Normalize(req Request) (Request, error) {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		req.Title = "Meeting"
	}
	if len(req.Title) > 255 {
		return req, fmt.Errorf("%w: title longer than 255 characters", ErrInvalidRequest)
	}
	req.City = strings.TrimSpace(req.City)
	if req.City == "" {
		req.City = e.opts.DefaultCity
	}
	today := e.opts.Resolver.Today()
	if req.Date.IsZero() {
		req.Date = today.AddDate(0, 0, 1)
	}
	if req.Date.Before(today) {
		return req, fmt.Errorf("%w: %s is in the past", ErrInvalidRequest, req.Date.Format(dates.DayLayout))
	}
	if req.Time != "" {
		clock, ok := dates.NormalizeClock(req.Time)
		if !ok {
			return req, fmt.Errorf("%w: unrecognised time %q", ErrInvalidRequest, req.Time)
		}
		req.Time = clock
	}
	return req, nil
}

// Schedule runs req to a terminal state. The returned error is non-nil
// only when the outcome is Failed.
func (e *Engine) Schedule(ctx context.Context, req Request) (Outcome, error) {
	log := e.opts.Logger
	out := Outcome{State: Pending, Request: req}
	now := e.opts.Resolver.Now
	if now == nil {
		now = time.Now
	}

	fail := func(err error) (Outcome, error) {
		out.Reason = err.Error()
		out.move(Failed, err.Error(), now())
		log.Warn().Err(err).Str("title", out.Request.Title).Msg("meeting scheduling failed")
		return out, err
	}

	req, err := e.Normalize(req)
	out.Request = req
	if err != nil {
		return fail(err)
	}
	day := req.Date.Format(dates.DayLayout)

	var report weather.Report
	err = e.retry(ctx, "weather", func() error {
		var err error
		report, err = e.weather.Forecast(ctx, req.City, req.Date)
		if weather.Permanent(err) {
			return backoff.Permanent(err)
		}
		return err
	})
	if err != nil {
		return fail(fmt.Errorf("weather check: %w", err))
	}
	out.Weather = &report
	out.move(WeatherChecked, report.Reasoning(), now())

	if !report.Suitable(e.opts.ThresholdC) {
		out.Reason = fmt.Sprintf("%s, needs Clear or Clouds above %sC", report.Reasoning(), trimFloat(e.opts.ThresholdC))
		out.move(WeatherRejected, out.Reason, now())
		log.Info().Str("city", req.City).Str("date", day).Str("weather", report.Reasoning()).Msg("meeting rejected by weather gate")
		return out, nil
	}

	var conflicts []store.Meeting
	err = e.retry(ctx, "conflicts", func() error {
		var err error
		conflicts, err = e.store.Conflicts(ctx, day, req.Time)
		if errors.Is(err, store.ErrNotConnected) {
			return backoff.Permanent(err)
		}
		return err
	})
	if err != nil {
		return fail(fmt.Errorf("conflict check: %w", err))
	}
	out.move(ConflictsChecked, fmt.Sprintf("%d existing meeting(s)", len(conflicts)), now())

	if len(conflicts) > 0 {
		out.Conflicts = conflicts
		out.Reason = fmt.Sprintf("%d conflicting meeting(s)", len(conflicts))
		out.move(Conflicted, out.Reason, now())
		return out, nil
	}

	// Inserts are not retried.
	m, conflicts, err := e.insert(ctx, store.Meeting{
		Title:     req.Title,
		Date:      day,
		Time:      req.Time,
		Reasoning: report.Reasoning(),
	})
	if err != nil {
		return fail(fmt.Errorf("insert meeting: %w", err))
	}
	if len(conflicts) > 0 {
		out.Conflicts = conflicts
		out.Reason = fmt.Sprintf("%d conflicting meeting(s)", len(conflicts))
		out.move(Conflicted, out.Reason, now())
		log.Info().Str("date", day).Str("time", req.Time).Msg("slot taken while scheduling")
		return out, nil
	}
	out.Meeting = &m
	out.move(Scheduled, fmt.Sprintf("meeting id %d", m.ID), now())
	log.Info().Int64("meeting_id", m.ID).Str("date", day).Str("time", req.Time).Msg("meeting scheduled")
	return out, nil
}

// insert books m, atomically when the store is a SlotBooker. It returns the
// meetings that took the slot in the meantime.
func (e *Engine) insert(ctx context.Context, m store.Meeting) (store.Meeting, []store.Meeting, error) {
	if b, ok := e.store.(SlotBooker); ok {
		return b.InsertIfFree(ctx, m)
	}
	out, err := e.store.InsertMeeting(ctx, m)
	return out, nil, err
}

func (e *Engine) retry(ctx context.Context, step string, op func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = e.opts.InitialInterval
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(e.opts.MaxAttempts-1)), ctx)

	return backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		e.opts.Logger.Debug().Err(err).Str("step", step).Dur("wait", wait).Msg("retrying")
	})
}

func trimFloat(f float64) string {
	s := fmt.Sprintf("%.1f", f)
	return strings.TrimSuffix(s, ".0")
}
