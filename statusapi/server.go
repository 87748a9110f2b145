package statusapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"charging_station/station"
	"charging_station/transport"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Source is the read-only view of the station served over HTTP.
type Source interface {
	ConnectionState() transport.State
	StationState() station.StationState
	PendingCalls() []station.PendingCall
	Logs() []station.LogEntry
}

type Status struct {
	Connection string                `json:"connection"`
	Station    station.StationState  `json:"station"`
	Pending    []station.PendingCall `json:"pending"`
}

type Server struct {
	source Source
	http   *http.Server
	log    *logrus.Entry
}

func NewServer(addr string, source Source, log *logrus.Entry) *Server {
	s := &Server{source: source, log: log}

	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/status", s.status)
	r.Get("/logs", s.logs)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

// ListenAndServe blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	s.log.WithField("address", s.http.Addr).Info("status server started")

	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, Status{
		Connection: s.source.ConnectionState().String(),
		Station:    s.source.StationState(),
		Pending:    s.source.PendingCalls(),
	})
}

// logs returns the operator log, optionally only its last ?tail=N entries.
func (s *Server) logs(w http.ResponseWriter, r *http.Request) {
	entries := s.source.Logs()

	if tail := r.URL.Query().Get("tail"); tail != "" {
		n, err := strconv.Atoi(tail)
		if err != nil || n < 0 {
			http.Error(w, "tail must be a non-negative integer", http.StatusBadRequest)
			return
		}

		if n < len(entries) {
			entries = entries[len(entries)-n:]
		}
	}

	if entries == nil {
		entries = []station.LogEntry{}
	}

	s.writeJSON(w, entries)
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Warn("couldn't write response")
	}
}
