package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/skeptomenos/portfolio-prism/internal/cache"
	"github.com/skeptomenos/portfolio-prism/internal/config"
	"github.com/skeptomenos/portfolio-prism/internal/enrich"
	"github.com/skeptomenos/portfolio-prism/internal/infrastructure/db"
	"github.com/skeptomenos/portfolio-prism/internal/metrics"
	"github.com/skeptomenos/portfolio-prism/internal/model"
	"github.com/skeptomenos/portfolio-prism/internal/pipeline"
	"github.com/skeptomenos/portfolio-prism/internal/provider"
	"github.com/skeptomenos/portfolio-prism/internal/report"
	"github.com/skeptomenos/portfolio-prism/internal/resolver"
)

// Dependencies bundles the collaborators every command handler needs,
// built once by internal/wiring and shared by both transports.
type Dependencies struct {
	Config      config.Config
	Resolver    *resolver.Resolver
	Cache       *cache.Cache
	Adapters    *provider.Registry
	Enrich      enrich.Config
	Metrics     *metrics.Registry
	Persistence *db.Manager
	Version     string
}

// Server dispatches command envelopes to handlers and fans out pipeline
// progress as SSE events. One Server instance serves both the stdio and
// HTTP transports; a single process picks one transport per invocation.
type Server struct {
	deps Dependencies

	mu         sync.Mutex
	lastResult *pipeline.Result
	lastHealth *report.Health
	lastPos    []model.Position

	sseMu      sync.Mutex
	sseClients map[chan []byte]bool
}

// NewServer builds a Server over deps.
func NewServer(deps Dependencies) *Server {
	return &Server{
		deps:       deps,
		sseClients: make(map[chan []byte]bool),
	}
}

type handlerFunc func(s *Server, ctx context.Context, payload json.RawMessage) (interface{}, error)

var handlers = map[string]handlerFunc{
	"get_health":          (*Server).handleGetHealth,
	"get_positions":       (*Server).handleGetPositions,
	"get_dashboard_data":  (*Server).handleGetDashboardData,
	"sync_portfolio":      (*Server).handleSyncPortfolio,
	"run_pipeline":        (*Server).handleRunPipeline,
	"upload_holdings":     (*Server).handleUploadHoldings,
	"get_true_holdings":   (*Server).handleGetTrueHoldings,
	"get_overlap_analysis": (*Server).handleGetOverlapAnalysis,
	"get_pipeline_report": (*Server).handleGetPipelineReport,
}

func (s *Server) dispatch(ctx context.Context, cmd Command) Response {
	h, ok := handlers[cmd.Command]
	if !ok {
		return failure(cmd.ID, "UNKNOWN_COMMAND", fmt.Sprintf("no such command: %s", cmd.Command))
	}
	data, err := h(s, ctx, cmd.Payload)
	if err != nil {
		return failure(cmd.ID, "COMMAND_FAILED", err.Error())
	}
	return success(cmd.ID, data)
}

// ServeStdio implements the line-delimited JSON transport: a ready banner
// followed by one JSON response per input line.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	banner := map[string]interface{}{"status": "ready", "version": s.deps.Version, "pid": os.Getpid()}
	if err := writeLine(out, banner); err != nil {
		return err
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var cmd Command
		if err := json.Unmarshal([]byte(line), &cmd); err != nil {
			writeLine(out, failure("", "BAD_REQUEST", "malformed command envelope: "+err.Error()))
			continue
		}
		resp := s.dispatch(ctx, cmd)
		if err := writeLine(out, resp); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func writeLine(out io.Writer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = out.Write(append(data, '\n'))
	return err
}

// ServeHTTP runs the echo-bridge HTTP server: POST /command, GET /events
// (SSE), GET /metrics, GET /healthz. When PRISM_BRIDGE_TOKEN is set, its
// bearer token guards every route except /healthz, since this server is
// reachable from the desktop shell's renderer process; when it is unset,
// no route checks a token.
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	router := mux.NewRouter()
	router.Use(s.requestIDMiddleware, s.loggingMiddleware, s.corsMiddleware, s.authMiddleware)

	router.HandleFunc("/command", s.handleCommandHTTP).Methods(http.MethodPost)
	router.HandleFunc("/events", s.handleEventsSSE).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	router.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE connections are long-lived
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) handleCommandHTTP(w http.ResponseWriter, r *http.Request) {
	var cmd Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeJSON(w, http.StatusBadRequest, failure("", "BAD_REQUEST", "malformed command envelope: "+err.Error()))
		return
	}
	if cmd.ID == "" {
		cmd.ID = uuid.New().String()
	}
	resp := s.dispatch(r.Context(), cmd)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEventsSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	clientChan := make(chan []byte, 16)
	s.sseMu.Lock()
	s.sseClients[clientChan] = true
	s.sseMu.Unlock()

	sessionID := uuid.New().String()
	writeSSEFrame(w, SSEEvent{Type: "connected", SessionID: sessionID})
	flusher.Flush()

	heartbeat := time.NewTicker(20 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.sseMu.Lock()
			delete(s.sseClients, clientChan)
			s.sseMu.Unlock()
			return
		case <-heartbeat.C:
			writeSSEFrame(w, SSEEvent{Type: "heartbeat"})
			flusher.Flush()
		case frame, ok := <-clientChan:
			if !ok {
				return
			}
			w.Write(frame)
			flusher.Flush()
		}
	}
}

func (s *Server) broadcastSSE(event SSEEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Warn().Err(err).Msg("failed to marshal sse event")
		return
	}
	frame := []byte("data: " + string(data) + "\n\n")

	s.sseMu.Lock()
	defer s.sseMu.Unlock()
	for ch := range s.sseClients {
		select {
		case ch <- frame:
		default:
			close(ch)
			delete(s.sseClients, ch)
		}
	}
}

func writeSSEFrame(w http.ResponseWriter, event SSEEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Dur("duration", time.Since(start)).Msg("echo-bridge request")
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authMiddleware enforces the bearer token from PRISM_BRIDGE_TOKEN. An
// unset token disables the check, for local development.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	token := os.Getenv("PRISM_BRIDGE_TOKEN")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token == "" || r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if got != token {
			writeJSON(w, http.StatusUnauthorized, failure("", "UNAUTHORIZED", "missing or invalid bearer token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
