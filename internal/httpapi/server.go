// Package httpapi is the ops HTTP surface: health probes, Prometheus metrics,
// and a subscription API that shares the chat commands' control service.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tgalerter/internal/control"
	"tgalerter/internal/delivery"
	"tgalerter/internal/event"
	"tgalerter/internal/runtime/supervisor"
	"tgalerter/internal/storage"
	"tgalerter/pkg/logx"
)

// Subscriptions is the control surface the API drives.
type Subscriptions interface {
	Subscribe(ctx context.Context, c control.Change) error
	Unsubscribe(ctx context.Context, c control.Change) error
	Types(destination string) []event.Type
	RecentAudit(ctx context.Context, limit int) ([]storage.AuditEntry, error)
}

// ReadyFunc returns nil when the relay can take traffic.
type ReadyFunc func() error

type Config struct {
	Addr  string
	Token string // bearer token for /subscriptions, /audit and /debug; empty disables auth
	Pprof bool
}

type muxOptions struct {
	pprof bool
}

type MuxOption func(*muxOptions)

// WithProfiler mounts net/http/pprof under /debug behind the bearer token.
func WithProfiler(enabled bool) MuxOption {
	return func(o *muxOptions) { o.pprof = enabled }
}

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

type subscriptionsResponse struct {
	Destination string   `json:"destination"`
	Types       []string `json:"types"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: status})
}

// NewMux builds the router. ready may be nil.
func NewMux(svc Subscriptions, ready ReadyFunc, token string, log logx.Logger, opts ...MuxOption) http.Handler {
	var mo muxOptions
	for _, o := range opts {
		if o != nil {
			o(&mo)
		}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "httpapi"))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(requestLog(log))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(); err != nil {
				writeJSONError(w, http.StatusServiceUnavailable, err.Error())
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(token))
		r.Get("/subscriptions/{destination}", func(w http.ResponseWriter, r *http.Request) {
			dest, ok := destinationParam(w, r)
			if !ok {
				return
			}
			writeJSON(w, http.StatusOK, listResponse(dest, svc.Types(dest)))
		})
		r.Put("/subscriptions/{destination}/{type}", changeHandler(svc, svc.Subscribe))
		r.Delete("/subscriptions/{destination}/{type}", changeHandler(svc, svc.Unsubscribe))
		r.Get("/audit", func(w http.ResponseWriter, r *http.Request) {
			limit := 50
			if v := r.URL.Query().Get("limit"); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil || n <= 0 || n > 1000 {
					writeJSONError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
					return
				}
				limit = n
			}
			entries, err := svc.RecentAudit(r.Context(), limit)
			if err != nil {
				writeJSONError(w, http.StatusInternalServerError, err.Error())
				return
			}
			if entries == nil {
				entries = []storage.AuditEntry{}
			}
			writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
		})
		if mo.pprof {
			r.Mount("/debug", middleware.Profiler())
		}
	})
	return r
}

func changeHandler(svc Subscriptions, apply func(context.Context, control.Change) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dest, ok := destinationParam(w, r)
		if !ok {
			return
		}
		t, err := event.ParseType(chi.URLParam(r, "type"))
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := apply(r.Context(), control.Change{Source: control.SourceHTTP, Destination: dest, Type: t}); err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, listResponse(dest, svc.Types(dest)))
	}
}

// destinationParam normalizes "{destination}" to the registry's "<chat>[:<thread>]" key.
func destinationParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	to, err := delivery.ParseDestination(chi.URLParam(r, "destination"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return delivery.FormatDestination(to), true
}

func listResponse(dest string, types []event.Type) subscriptionsResponse {
	out := subscriptionsResponse{Destination: dest, Types: make([]string, len(types))}
	for i, t := range types {
		out.Types[i] = t.String()
	}
	return out
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		want := []byte("Bearer " + token)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get("Authorization"))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLog(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			if !log.Enabled(logx.LevelDebug) {
				return
			}
			log.Debug("http request",
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", ww.Status()),
				logx.Duration("dur", time.Since(start)),
				logx.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// Server runs the ops HTTP listener under a supervisor.
type Server struct {
	srv *http.Server
	log logx.Logger
}

func NewServer(cfg Config, h http.Handler, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:8080"
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		log: log.With(logx.String("comp", "httpapi")),
	}
}

func (s *Server) Addr() string { return s.srv.Addr }

// Start listens synchronously so bind errors surface at startup, then serves
// until the supervisor context ends.
func (s *Server) Start(sup *supervisor.Supervisor) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.srv.BaseContext = func(net.Listener) context.Context { return sup.Context() }
	s.log.Info("http listening", logx.String("addr", ln.Addr().String()))

	sup.Go("http.serve", func(ctx context.Context) error {
		err := s.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	sup.Go("http.shutdown", func(ctx context.Context) error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(sctx)
	})
	return nil
}
