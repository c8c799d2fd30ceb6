package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"connbridge/pkg/binding"
	"connbridge/pkg/channel"
	"connbridge/pkg/config"
	"connbridge/pkg/dberrors"
	"connbridge/pkg/registry"
	"connbridge/pkg/types"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const (
	contentTypeJSON        = "application/json"
	contentTypeText        = "text/plain"
	contentTypeOctetStream = "application/octet-stream"
	defaultHTTPPort        = 8080
	defaultShutdownTimeout = time.Second * 5
	maxBodyBytes           = 64 << 20
)

// iStateStore is the admin surface of the state store scans read from.
type iStateStore interface {
	Put(key types.Key, value types.Value) (types.SequenceNumber, error)
	Delete(key types.Key) (types.SequenceNumber, error)
	GC(watermark types.SequenceNumber) (types.SequenceNumber, int)
	Committed() types.SequenceNumber
}

type iMetrics interface {
	WriteText(w io.Writer) error
}

// Engine is the in-process end of channels opened over HTTP. Each call owns its endpoint
// and runs on its own goroutine.
type Engine interface {
	ServeCdc(h registry.Handle, rx channel.CdcReceiver)
	ServeSink(h registry.Handle, w channel.SinkWriter)
}

// Server exposes the bridge operations to a connector running in another process.
type Server struct {
	bridge   *binding.Bridge
	store    iStateStore
	metrics  iMetrics
	engine   Engine
	instance uuid.UUID
	cfg      config.ServerConfig

	httpServer *http.Server
	URL        string
	addr       string
}

type Option func(*Server)

// WithStore enables the /api/admin storage endpoints.
func WithStore(st iStateStore) Option {
	return func(s *Server) { s.store = st }
}

// WithMetrics serves m on /metrics.
func WithMetrics(m iMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithEngine enables channel creation over HTTP; new endpoints are handed to e.
func WithEngine(e Engine) Option {
	return func(s *Server) { s.engine = e }
}

func WithInstanceID(id uuid.UUID) Option {
	return func(s *Server) { s.instance = id }
}

// NewServer creates a new server instance
func NewServer(bridge *binding.Bridge, cfg config.ServerConfig, opts ...Option) *Server {
	if cfg.Port == 0 {
		cfg.Port = defaultHTTPPort
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	port := strconv.Itoa(cfg.Port)
	s := &Server{
		bridge:   bridge,
		cfg:      cfg,
		instance: uuid.New(),
		URL:      "http://localhost:" + port,
		addr:     ":" + port,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("HTTP server started", "addr", s.URL, "instance", s.instance)
	return nil
}

// Stop shuts the server down, waiting up to the configured timeout for requests in flight.
// Requests blocked on a channel stay blocked until that channel is closed.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	r.Route("/api", func(r chi.Router) {
		r.Get("/vnodes", s.handleVnodeCount)

		r.Post("/storage-iterators", s.handleStorageIteratorNew)
		r.Post("/storage-iterators/{handle}/next", s.handleStorageIteratorNext)
		r.Delete("/storage-iterators/{handle}", s.handleStorageIteratorClose)

		r.Post("/chunk-iterators", s.handleChunkIteratorNew)
		r.Post("/chunk-iterators/{handle}/next", s.handleChunkIteratorNext)
		r.Delete("/chunk-iterators/{handle}", s.handleChunkIteratorClose)

		r.Get("/rows/{handle}", s.handleRowGet)
		r.Get("/rows/{handle}/columns/{ordinal}", s.handleRowColumn)
		r.Delete("/rows/{handle}", s.handleRowClose)

		r.Post("/cdc", s.handleCdcNew)
		r.Post("/cdc/{handle}/messages", s.handleCdcSend)
		r.Delete("/cdc/{handle}", s.handleCdcClose)

		r.Post("/sink", s.handleSinkNew)
		r.Post("/sink/{handle}/requests/next", s.handleSinkRecv)
		r.Post("/sink/{handle}/responses", s.handleSinkRespond)
		r.Delete("/sink/{handle}", s.handleSinkClose)

		if s.store != nil {
			r.Put("/admin/rows", s.handleAdminPut)
			r.Delete("/admin/rows", s.handleAdminDelete)
			r.Post("/admin/gc", s.handleAdminGC)
			r.Get("/admin/committed", s.handleAdminCommitted)
		}
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, NewOKResponse(s.instance.String()))
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", contentTypeText)
	if s.metrics == nil {
		return
	}
	if err := s.metrics.WriteText(w); err != nil {
		slog.Warn("Failed to write metrics response", "error", err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("Error encoding response", "error", err)
	}
}

// writeError maps the error class onto a status code.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, kind := http.StatusInternalServerError, ""
	switch dberrors.KindOf(err) {
	case dberrors.ErrInvalidHandle:
		status, kind = http.StatusNotFound, "invalid_handle"
	case dberrors.ErrInvalidArgument:
		status, kind = http.StatusBadRequest, "invalid_argument"
	case dberrors.ErrStorageUnavailable:
		status, kind = http.StatusServiceUnavailable, "storage_unavailable"
	case dberrors.ErrDecode:
		status, kind = http.StatusUnprocessableEntity, "decode"
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	resp := NewErrorResponse(err.Error())
	resp.Kind = kind
	s.writeJSON(w, status, resp)
}

func (s *Server) badRequest(w http.ResponseWriter, format string, args ...any) {
	s.writeJSON(w, http.StatusBadRequest, Response{
		Status: StatusError,
		Error:  fmt.Sprintf(format, args...),
		Kind:   "invalid_argument",
	})
}

func handleParam(r *http.Request) (registry.Handle, error) {
	raw := chi.URLParam(r, "handle")
	h, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return registry.Nil, fmt.Errorf("bad handle %q", raw)
	}
	return registry.Handle(h), nil
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}
