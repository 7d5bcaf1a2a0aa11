package app

import (
	"context"
	"errors"
	"strings"

	agent "github.com/Protocol-Lattice/agentflow"
	"github.com/Protocol-Lattice/agentflow/src/dates"
	"github.com/Protocol-Lattice/agentflow/src/document"
	"github.com/Protocol-Lattice/agentflow/src/models"
	"github.com/Protocol-Lattice/agentflow/src/search"
	"github.com/Protocol-Lattice/agentflow/src/session"
	"github.com/Protocol-Lattice/agentflow/src/store"
	"github.com/Protocol-Lattice/agentflow/src/tools"
	"github.com/Protocol-Lattice/agentflow/src/weather"
	"github.com/Protocol-Lattice/agentflow/src/workflow"
)

// DefaultModules is the standard provisioning order.
func DefaultModules() []Module {
	return []Module{
		NewModule("clock", provisionClock),
		NewModule("model", provisionModel),
		NewModule("meetings", provisionMeetings),
		NewModule("sessions", provisionSessions),
		NewModule("weather", provisionWeather),
		NewModule("search", provisionSearch),
		NewModule("documents", provisionDocuments),
		NewModule("workflow", provisionWorkflow),
		NewModule("tools", provisionTools),
		NewModule("agent", provisionAgent),
	}
}

func provisionClock(_ context.Context, a *App) error {
	loc, err := a.Config.Location()
	if err != nil {
		return err
	}
	a.Resolver = dates.NewResolver(loc)
	return nil
}

func provisionModel(ctx context.Context, a *App) error {
	if a.Model == nil {
		llm := a.Config.LLM
		m, err := models.NewLLMProvider(ctx, models.ProviderConfig{
			Provider:  llm.Provider,
			Model:     llm.Model,
			APIKey:    llm.APIKey(),
			BaseURL:   llm.BaseURL(),
			MaxTokens: llm.MaxTokens,
		})
		if err != nil {
			return err
		}
		if c, ok := m.(interface{ Close() error }); ok {
			a.OnClose(c.Close)
		}
		a.Model = m
		a.Logger.Info().Str("provider", llm.Provider).Str("model", llm.Model).Msg("language model ready")
	}
	a.Model = models.NewCachedLLM(a.Model, a.Config.LLM.CacheSize, a.Config.LLM.CacheTTL)
	return nil
}

// provisionMeetings connects to Postgres when DATABASE_URL is set. Without
// it the meeting tools and the scheduling workflow are left out. A failed
// migration is logged; the pool reconnects on use and /health reports it.
func provisionMeetings(ctx context.Context, a *App) error {
	if a.Meetings != nil {
		return nil
	}
	if strings.TrimSpace(a.Config.DatabaseURL) == "" {
		a.Logger.Warn().Msg("DATABASE_URL not set; meeting tools disabled")
		return nil
	}
	s, err := store.New(ctx, a.Config.DatabaseURL, a.Logger)
	if err != nil {
		return err
	}
	a.OnClose(func() error {
		s.Close()
		return nil
	})
	s.MaxRows = a.Config.MaxSQLRows
	if a.Config.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("database migration failed; meetings may be unavailable")
		}
	}
	a.Meetings = s
	a.DB = s
	return nil
}

func provisionSessions(ctx context.Context, a *App) error {
	if a.Sessions != nil {
		return nil
	}
	sc := a.Config.Session
	svc, err := session.Open(ctx, session.Config{
		Backend:       sc.Backend,
		SQLitePath:    sc.SQLitePath,
		MongoURI:      sc.MongoURI,
		MongoDatabase: sc.MongoDatabase,
	})
	if err != nil {
		return err
	}
	a.OnClose(svc.Close)
	a.Sessions = svc
	return nil
}

func provisionWeather(_ context.Context, a *App) error {
	wc := a.Config.Weather
	if wc.APIKey == "" {
		a.Logger.Warn().Msg("OPENWEATHERMAP_API_KEY not set; weather lookups will fail")
	}
	a.Weather = weather.New(weather.Options{
		APIKey:    wc.APIKey,
		BaseURL:   wc.BaseURL,
		Timeout:   wc.Timeout,
		RateLimit: wc.RateLimit,
		CacheTTL:  wc.CacheTTL,
		Resolver:  a.Resolver,
	})
	return nil
}

func provisionSearch(_ context.Context, a *App) error {
	if a.Config.SearxngURL == "" {
		return nil
	}
	a.Search = search.New(search.WithBaseURL(a.Config.SearxngURL))
	return nil
}

func provisionDocuments(_ context.Context, a *App) error {
	opts := []document.Option{document.WithLogger(a.Logger)}
	if a.Search != nil {
		opts = append(opts, document.WithSearcher(a.Search))
	}
	a.Documents = document.NewAnswerer(a.Model, a.Config.DataDir, opts...)
	return nil
}

func provisionWorkflow(_ context.Context, a *App) error {
	if a.Meetings == nil {
		return nil
	}
	sc := a.Config.Schedule
	a.Workflow = workflow.New(a.Weather, a.Meetings, workflow.Options{
		DefaultCity:     sc.DefaultCity,
		ThresholdC:      sc.ThresholdC,
		MaxAttempts:     sc.MaxAttempts,
		InitialInterval: sc.Backoff,
		Resolver:        a.Resolver,
		Logger:          a.Logger,
	})
	return nil
}

func provisionTools(_ context.Context, a *App) error {
	deps := tools.Deps{
		Weather:   a.Weather,
		Documents: a.Documents,
		Search:    a.Search,
		Store:     a.Meetings,
		Resolver:  a.Resolver,
	}
	if a.Workflow != nil {
		deps.Scheduler = a.Workflow
	}
	a.Tools = tools.New(deps)
	return nil
}

func provisionAgent(_ context.Context, a *App) error {
	if a.Sessions == nil {
		return errors.New("no session service provisioned")
	}
	ag, err := agent.New(agent.Options{
		Model:        a.Model,
		Sessions:     a.Sessions,
		ContextLimit: a.Config.ContextLimit,
		Tools:        a.Tools,
		Router:       agent.NewRouter(a.Resolver, a.Config.Schedule.DefaultCity),
		Logger:       a.Logger,
	})
	if err != nil {
		return err
	}
	a.Agent = ag
	return nil
}
