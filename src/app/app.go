// Package app wires configuration into a running assistant: model, stores,
// domain clients, tools and the coordinator agent. Each concern is a named
// module; modules run in registration order and later ones read what
// earlier ones provisioned.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	agent "github.com/Protocol-Lattice/agentflow"
	"github.com/Protocol-Lattice/agentflow/src/config"
	"github.com/Protocol-Lattice/agentflow/src/dates"
	"github.com/Protocol-Lattice/agentflow/src/document"
	"github.com/Protocol-Lattice/agentflow/src/models"
	"github.com/Protocol-Lattice/agentflow/src/search"
	"github.com/Protocol-Lattice/agentflow/src/session"
	"github.com/Protocol-Lattice/agentflow/src/tools"
	"github.com/Protocol-Lattice/agentflow/src/weather"
	"github.com/Protocol-Lattice/agentflow/src/workflow"
)

// Module provisions one part of the App.
type Module interface {
	Name() string
	Provision(ctx context.Context, a *App) error
}

// ModuleFunc adapts a function to a Module.
type ModuleFunc struct {
	name string
	fn   func(ctx context.Context, a *App) error
}

// NewModule names fn as a Module.
func NewModule(name string, fn func(ctx context.Context, a *App) error) Module {
	return &ModuleFunc{name: name, fn: fn}
}

func (m *ModuleFunc) Name() string { return m.name }

func (m *ModuleFunc) Provision(ctx context.Context, a *App) error { return m.fn(ctx, a) }

// Pinger reports database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// App holds every provisioned component. Fields left nil by the modules
// mean the capability is not configured.
type App struct {
	Config config.Config
	Logger zerolog.Logger

	Resolver  *dates.Resolver
	Model     models.Agent
	Meetings  tools.MeetingStore
	DB        Pinger
	Sessions  session.Service
	Weather   *weather.Client
	Search    search.Searcher
	Documents *document.Answerer
	Workflow  *workflow.Engine
	Tools     []agent.Tool
	Agent     *agent.Agent

	mu           sync.Mutex
	modules      []Module
	closers      []func() error
	bootstrapped bool
}

// Option configures an App before its modules run.
type Option func(*App) error

// WithLogger sets the logger handed to every component.
func WithLogger(l zerolog.Logger) Option {
	return func(a *App) error {
		a.Logger = l
		return nil
	}
}

// WithModel supplies the language model instead of building one from the
// LLM settings.
func WithModel(m models.Agent) Option {
	return func(a *App) error {
		if m == nil {
			return errors.New("model cannot be nil")
		}
		a.Model = m
		return nil
	}
}

// WithSessions supplies the session service instead of opening the
// configured backend.
func WithSessions(s session.Service) Option {
	return func(a *App) error {
		if s == nil {
			return errors.New("session service cannot be nil")
		}
		a.Sessions = s
		return nil
	}
}

// WithMeetings supplies the meetings store instead of connecting to
// DATABASE_URL.
func WithMeetings(s tools.MeetingStore) Option {
	return func(a *App) error {
		if s == nil {
			return errors.New("meeting store cannot be nil")
		}
		a.Meetings = s
		if p, ok := s.(Pinger); ok {
			a.DB = p
		}
		return nil
	}
}

// WithModules replaces the default module sequence.
func WithModules(modules ...Module) Option {
	return func(a *App) error {
		a.modules = nil
		for _, m := range modules {
			if err := a.RegisterModule(m); err != nil {
				return err
			}
		}
		return nil
	}
}

// New applies opts and bootstraps the default modules. On failure every
// resource opened so far is released.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	a := &App{Config: cfg, Logger: zerolog.Nop()}
	a.modules = DefaultModules()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	if err := a.Bootstrap(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// RegisterModule appends a module to the bootstrapping sequence.
func (a *App) RegisterModule(m Module) error {
	if m == nil {
		return errors.New("app module cannot be nil")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.modules = append(a.modules, m)
	a.bootstrapped = false
	return nil
}

// Modules returns the registered modules in order.
func (a *App) Modules() []Module {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Module(nil), a.modules...)
}

// Bootstrap runs the modules once, in order.
func (a *App) Bootstrap(ctx context.Context) error {
	a.mu.Lock()
	if a.bootstrapped {
		a.mu.Unlock()
		return nil
	}
	modules := append([]Module(nil), a.modules...)
	a.mu.Unlock()

	for _, m := range modules {
		if err := m.Provision(ctx, a); err != nil {
			return fmt.Errorf("app module %s: %w", m.Name(), err)
		}
		a.Logger.Debug().Str("module", m.Name()).Msg("module provisioned")
	}

	a.mu.Lock()
	a.bootstrapped = true
	a.mu.Unlock()
	return nil
}

// OnClose registers fn to run on Close. Closers run in reverse order.
func (a *App) OnClose(fn func() error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, fn)
}

// Close releases everything the modules opened.
func (a *App) Close() error {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DBStatus is "connected", "disconnected" or "not configured".
func (a *App) DBStatus(ctx context.Context) string {
	if a.DB == nil {
		return "not configured"
	}
	if err := a.DB.Ping(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("database ping failed")
		return "disconnected"
	}
	return "connected"
}
