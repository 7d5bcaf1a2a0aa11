package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	agent "github.com/Protocol-Lattice/agentflow"
	"github.com/Protocol-Lattice/agentflow/src/app"
	"github.com/Protocol-Lattice/agentflow/src/config"
	"github.com/Protocol-Lattice/agentflow/src/logging"
	"github.com/Protocol-Lattice/agentflow/src/server"
	"github.com/Protocol-Lattice/agentflow/src/store"
)

type rootFlags struct {
	envFiles []string
	logLevel string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:          "agentflow",
		Short:        "Multi-agent assistant for weather, documents and meetings",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringSliceVar(&flags.envFiles, "env-file", []string{".env"}, "dotenv files to load before the environment")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override LOG_LEVEL")

	cmd.AddCommand(
		newServeCmd(flags),
		newMigrateCmd(flags),
		newChatCmd(flags),
		newToolsCmd(flags),
	)
	return cmd
}

func (f *rootFlags) load() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(f.envFiles...)
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	return cfg, logging.Setup(cfg.LogLevel, cfg.LogFormat), nil
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), cfg, app.WithLogger(logger))
			if err != nil {
				return err
			}
			defer a.Close()

			srv := server.New(server.Options{
				Agent:          a.Agent,
				DBStatus:       a.DBStatus,
				Logger:         logger,
				RequestTimeout: cfg.RequestTimeout,
			})
			return srv.Run(cmd.Context(), cfg.Addr(), cfg.ShutdownTimeout)
		},
	}
}

func newMigrateCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the meetings schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is not set")
			}
			s, err := store.New(cmd.Context(), cfg.DatabaseURL, logger)
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newChatCmd(flags *rootFlags) *cobra.Command {
	var (
		message   string
		sessionID string
		userID    string
		stream    bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Send one message to the assistant",
		Long:  "Send one message to the assistant. Without --message the message is read from stdin.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(message) == "" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				message = string(data)
			}
			if strings.TrimSpace(message) == "" {
				return agent.ErrEmptyMessage
			}
			if sessionID == "" {
				sessionID = uuid.NewString()
			}

			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), cfg, app.WithLogger(logger))
			if err != nil {
				return err
			}
			defer a.Close()

			turn := agent.Turn{UserID: userID, SessionID: sessionID, Message: message}
			out := cmd.OutOrStdout()
			if !stream {
				reply, err := a.Agent.Generate(cmd.Context(), turn)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, reply.Text)
				fmt.Fprintf(cmd.ErrOrStderr(), "session: %s\n", reply.SessionID)
				return nil
			}

			ch, err := a.Agent.GenerateStream(cmd.Context(), turn)
			if err != nil {
				return err
			}
			for chunk := range ch {
				if chunk.Err != nil {
					return chunk.Err
				}
				fmt.Fprint(out, chunk.Delta)
			}
			fmt.Fprintln(out)
			fmt.Fprintf(cmd.ErrOrStderr(), "session: %s\n", sessionID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "message to send")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id (a new one when empty)")
	cmd.Flags().StringVarP(&userID, "user", "u", agent.DefaultUserID, "user id")
	cmd.Flags().BoolVar(&stream, "stream", false, "stream the answer")
	return cmd
}

func newToolsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools the assistant can call",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), cfg, app.WithLogger(logger))
			if err != nil {
				return err
			}
			defer a.Close()
			return printTools(cmd.OutOrStdout(), a.Agent.ToolSpecs())
		},
	}
}

func printTools(w io.Writer, specs []agent.ToolSpec) error {
	for _, spec := range specs {
		if _, err := fmt.Fprintf(w, "%-26s %s\n", spec.Name, spec.Description); err != nil {
			return err
		}
	}
	return nil
}
