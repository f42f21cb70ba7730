// Package server exposes status and profile control over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"hubctl/internal/activator"
	"hubctl/internal/profile"
	"hubctl/internal/status"
	"hubctl/internal/telemetry"
)

const maxBodyBytes = 1 << 20

// StatusSource serves the latest snapshot.
type StatusSource interface {
	Latest(ctx context.Context) status.Snapshot
}

// Controller runs profile operations.
type Controller interface {
	Activate(ctx context.Context, name string) (activator.Result, error)
	Delete(ctx context.Context, name string) (activator.Result, error)
	Import(ctx context.Context, name string, config []byte) (profile.Profile, error)
	List() (names []string, active string, err error)
}

type Options struct {
	Listen string
	// APIKey grants admin access. Empty means every caller is admin.
	APIKey string
}

// Server provides the hub HTTP API.
type Server struct {
	opts    Options
	status  StatusSource
	ctl     Controller
	metrics *telemetry.Metrics
	log     *zap.Logger
}

func New(opts Options, st StatusSource, ctl Controller, metrics *telemetry.Metrics, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.APIKey == "" {
		log.Warn("api_key is empty; every caller is treated as admin")
	}
	return &Server{opts: opts, status: st, ctl: ctl, metrics: metrics, log: log}
}

// Router wires every route.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.logRequests)

	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)

	admin := router.PathPrefix("/api/profiles").Subrouter()
	admin.Use(s.requireAdmin)
	admin.HandleFunc("", s.handleProfiles).Methods(http.MethodGet)
	admin.HandleFunc("/upload", s.handleUpload).Methods(http.MethodPost)
	admin.HandleFunc("/activate", s.handleActivate).Methods(http.MethodPost)
	admin.HandleFunc("/delete", s.handleDelete).Methods(http.MethodPost)

	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not found")
	})
	return router
}

// ListenAndServe runs the HTTP server until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.opts.Listen,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server listening", zap.String("listen", s.opts.Listen))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.status.Latest(r.Context())
	if !s.isAdmin(r) {
		snap = snap.Redacted()
	}
	writeJSON(w, http.StatusOK, snap)
}

type profilesResponse struct {
	Profiles []string `json:"profiles"`
	Active   string   `json:"active"`
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	names, active, err := s.ctl.List()
	if err != nil {
		s.log.Warn("list profiles", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, profilesResponse{Profiles: names, Active: active})
}

type uploadRequest struct {
	Name   string `json:"name"`
	Config string `json:"config"`
}

type nameRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := s.ctl.Import(r.Context(), strings.TrimSpace(req.Name), []byte(req.Config))
	if err != nil {
		writeJSON(w, statusFor(err), activator.Result{Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, activator.Result{Success: true, Message: "profile " + p.Name + " imported"})
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.ctl.Activate(r.Context(), req.Name)
	if err != nil {
		writeJSON(w, statusFor(err), res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.ctl.Delete(r.Context(), req.Name)
	if err != nil {
		writeJSON(w, statusFor(err), res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// statusFor maps the control error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, activator.ErrLockBusy),
		errors.Is(err, activator.ErrProfileActive),
		errors.Is(err, profile.ErrExists):
		return http.StatusConflict
	case errors.Is(err, activator.ErrProfileNotFound):
		return http.StatusNotFound
	case errors.Is(err, profile.ErrInvalidName), errors.Is(err, profile.ErrEmptyConfig):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) isAdmin(r *http.Request) bool {
	if s.opts.APIKey == "" {
		return true
	}
	key := r.Header.Get("X-API-Key")
	if key == "" {
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			key = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		}
	}
	return key != "" && subtle.ConstantTimeCompare([]byte(key), []byte(s.opts.APIKey)) == 1
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.isAdmin(r) {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(start)),
		)
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
