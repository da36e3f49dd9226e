// Package control serves the agent's local API: the extension posts browser
// events and UI messages to it, and status views stream from it.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Tiliavir/tab-tracker/internal/runtime"
)

// maxBody bounds request bodies. Aux event payloads are small JSON objects.
const maxBody = 1 << 20

// Agent is the part of the runtime the control API drives.
type Agent interface {
	Handle(ctx context.Context, m runtime.Message) runtime.Reply
	Post(ctx context.Context, ev runtime.Event) error
	Status(ctx context.Context) runtime.Status
	Subscribe() (<-chan struct{}, func())
}

type Server struct {
	agent  Agent
	hub    *hub
	logger hclog.Logger
}

func NewServer(agent Agent, logger hclog.Logger) *Server {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Server{agent: agent, hub: newHub(agent, logger.Named("stream")), logger: logger}
}

// Close ends open status streams. http.Server.Shutdown does not track
// hijacked connections, so call it alongside Shutdown.
func (s *Server) Close() {
	s.hub.close()
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/messages", s.handleMessage)
		r.Post("/events", s.handleEvent)
		r.Get("/status", s.handleStatus)
		r.Get("/stream", s.hub.serve)
	})
	return r
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var m runtime.Message
	if err := decode(w, r, &m); err != nil {
		writeJSON(w, http.StatusBadRequest, runtime.Reply{Error: err.Error()})
		return
	}
	// Replies carry their own success flag, as the extension expects.
	writeJSON(w, http.StatusOK, s.agent.Handle(r.Context(), m))
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev runtime.Event
	if err := decode(w, r, &ev); err != nil {
		writeJSON(w, http.StatusBadRequest, runtime.Reply{Error: err.Error()})
		return
	}
	if err := s.agent.Post(r.Context(), ev); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, runtime.ErrStopped) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, runtime.Reply{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, runtime.Reply{Success: true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.agent.Status(r.Context()))
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", chimiddleware.GetReqID(r.Context()),
		)
	})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid JSON body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
