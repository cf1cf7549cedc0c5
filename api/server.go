package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/mukasc/genexus-ai-assistant/chat"
	"github.com/mukasc/genexus-ai-assistant/domain"
	"github.com/mukasc/genexus-ai-assistant/ingestion"
	"github.com/mukasc/genexus-ai-assistant/metrics"
	"github.com/mukasc/genexus-ai-assistant/vectorindex"
)

const (
	defaultSourceLimit = 20
	maxRequestBytes    = 64 << 10
)

// Answerer is satisfied by *chat.Service.
type Answerer interface {
	Answer(ctx context.Context, question string) (chat.Response, error)
}

// Inventory reports what the opened index holds.
type Inventory interface {
	Count(ctx context.Context) (int, error)
	Sources(ctx context.Context, limit int) ([]vectorindex.SourceCount, error)
}

// Server exposes the assistant over HTTP. Ingestion is deliberately not
// served: the index has a single writer, the CLI.
type Server struct {
	answerer  Answerer
	inventory Inventory
	metrics   *metrics.Recorder
	logger    *log.Logger
	handler   http.Handler
}

type Option func(*Server)

func WithMetrics(recorder *metrics.Recorder) Option {
	return func(s *Server) { s.metrics = recorder }
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type chatRequest struct {
	Question string `json:"question"`
}

type indexResponse struct {
	Entries int           `json:"entries"`
	Sources []indexSource `json:"sources"`
}

type indexSource struct {
	Source  string `json:"source"`
	Kind    string `json:"kind"`
	Entries int    `json:"entries"`
}

// New constructs a Server around an answerer and the index it reads.
func New(answerer Answerer, inventory Inventory, logger *log.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{answerer: answerer, inventory: inventory, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	s.handler = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/openapi.yaml", s.handleOpenAPI)
	mux.HandleFunc("/v1/chat", s.handleChat)
	mux.HandleFunc("/v1/index", s.handleIndex)
	mux.Handle("/metrics", s.metrics.Handler())
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	s.writeJSON(w, http.StatusOK, messageResponse{Message: "ok"})
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	w.Header().Set("Content-Type", "text/yaml; charset=utf-8")
	w.Header().Set("Content-Disposition", "inline; filename=\"openapi.yaml\"")
	_, _ = w.Write(openAPISpecYAML)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	resp, err := s.answerer.Answer(r.Context(), req.Question)
	if err != nil {
		s.writeError(w, statusFor(err), fmt.Errorf("chat failed: %w", err))
		return
	}
	if resp.Sources == nil {
		resp.Sources = []chat.Source{}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	ctx := r.Context()
	count, err := s.inventory.Count(ctx)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("count entries: %w", err))
		return
	}
	sources, err := s.inventory.Sources(ctx, defaultSourceLimit)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("list sources: %w", err))
		return
	}

	resp := indexResponse{Entries: count, Sources: make([]indexSource, 0, len(sources))}
	for _, src := range sources {
		resp.Sources = append(resp.Sources, indexSource{
			Source:  src.Source,
			Kind:    string(ingestion.ClassifySource(src.Source)),
			Entries: src.Entries,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrEmptyQuery):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrEmbeddingService), errors.Is(err, domain.ErrGeneration):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrIndexUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed, use %s", allowed))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Printf("encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Printf("api error (%d): %v", status, err)
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}

	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}

	return nil
}
