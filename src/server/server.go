// Package server exposes the agent over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	agent "github.com/Protocol-Lattice/agentflow"
	"github.com/Protocol-Lattice/agentflow/src/models"
)

// Chatter is the part of *agent.Agent the server needs.
type Chatter interface {
	Generate(ctx context.Context, turn agent.Turn) (agent.Reply, error)
	GenerateStream(ctx context.Context, turn agent.Turn) (<-chan models.StreamChunk, error)
	ToolSpecs() []agent.ToolSpec
}

// Options configure a Server.
type Options struct {
	Agent          Chatter
	DBStatus       func(ctx context.Context) string
	Logger         zerolog.Logger
	RequestTimeout time.Duration
	Framework      string
	Agents         []string
}

// Server serves the chat API.
type Server struct {
	agent    Chatter
	dbStatus func(ctx context.Context) string
	logger   zerolog.Logger
	timeout  time.Duration
	info     rootInfo
	validate *validator.Validate
}

type rootInfo struct {
	Message   string   `json:"message"`
	Framework string   `json:"framework"`
	Agents    []string `json:"agents"`
	Status    string   `json:"status"`
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message   string  `json:"message" validate:"required"`
	SessionID *string `json:"session_id"`
	UserID    *string `json:"user_id"`
}

// ChatResponse echoes the request's session id, null when it had none.
type ChatResponse struct {
	Response  string  `json:"response"`
	SessionID *string `json:"session_id"`
}

type errorBody struct {
	Detail string `json:"detail"`
}

func New(opts Options) *Server {
	if opts.Framework == "" {
		opts.Framework = "agentflow"
	}
	if len(opts.Agents) == 0 {
		opts.Agents = []string{"supervisor", "weather", "document", "meetings", "database"}
	}
	if opts.DBStatus == nil {
		opts.DBStatus = func(context.Context) string { return "not configured" }
	}
	return &Server{
		agent:    opts.Agent,
		dbStatus: opts.DBStatus,
		logger:   opts.Logger,
		timeout:  opts.RequestTimeout,
		info: rootInfo{
			Message:   "Multi-Agent Assistant API",
			Framework: opts.Framework,
			Agents:    opts.Agents,
			Status:    "running",
		},
		validate: validator.New(),
	}
}

// Handler returns the routed handler wrapped in CORS and request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /tools", s.handleTools)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /chat/stream", s.handleChatStream)

	var h http.Handler = mux
	h = cors.AllowAll().Handler(h)
	h = hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", d).
			Msg("request")
	})(h)
	h = hlog.RequestIDHandler("req_id", "X-Request-Id")(h)
	h = hlog.RemoteAddrHandler("ip")(h)
	h = hlog.NewHandler(s.logger)(h)
	return h
}

// Run serves on addr until ctx is cancelled, then drains in-flight
// requests for up to shutdownTimeout.
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("http server listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.info)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "db": s.dbStatus(ctx)})
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	specs := s.agent.ToolSpecs()
	if specs == nil {
		specs = []agent.ToolSpec{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": specs})
}

func (s *Server) decodeChat(w http.ResponseWriter, r *http.Request) (ChatRequest, bool) {
	var req ChatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid request body: " + err.Error()})
		return req, false
	}
	req.Message = strings.TrimSpace(req.Message)
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "message is required"})
		return req, false
	}
	return req, true
}

func (req ChatRequest) turn() agent.Turn {
	t := agent.Turn{Message: req.Message}
	if req.SessionID != nil {
		t.SessionID = *req.SessionID
	}
	if req.UserID != nil {
		t.UserID = *req.UserID
	}
	return t
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), s.timeout)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChat(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	reply, err := s.agent.Generate(ctx, req.turn())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("chat failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Detail: "Error processing request: " + err.Error()})
		return
	}
	hlog.FromRequest(r).Debug().Str("intent", string(reply.Intent)).Str("tool", reply.Tool).Msg("chat answered")
	writeJSON(w, http.StatusOK, ChatResponse{Response: reply.Text, SessionID: req.SessionID})
}

// handleChatStream writes one "delta" event per chunk and a final "done"
// event carrying the full text, or an "error" event.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChat(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Detail: "streaming unsupported"})
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	ch, err := s.agent.GenerateStream(ctx, req.turn())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("chat stream failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Detail: "Error processing request: " + err.Error()})
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for chunk := range ch {
		switch {
		case chunk.Err != nil:
			writeEvent(w, "error", errorBody{Detail: "Error processing request: " + chunk.Err.Error()})
		case chunk.Done:
			if chunk.Delta != "" {
				writeEvent(w, "delta", map[string]string{"delta": chunk.Delta})
			}
			writeEvent(w, "done", ChatResponse{Response: chunk.FullText, SessionID: req.SessionID})
		default:
			writeEvent(w, "delta", map[string]string{"delta": chunk.Delta})
		}
		flusher.Flush()
	}
}

func writeEvent(w http.ResponseWriter, event string, v any) {
	data, _ := json.Marshal(v)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
