package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/ethmiss/missmonitor/params"
)

// HealthReporter supplies the tracker/writer state /healthz surfaces,
// implemented by the service package's wiring glue.
type HealthReporter interface {
	TrackerState() string
	WriterQueueDepth() int
}

// Server is the read-only query API: three REST endpoints over full_miss,
// a Prometheus metrics endpoint, and a liveness probe, with CORS applied
// so a browser dashboard can read it directly. It reads through the pool
// passed in Config, which the caller keeps separate from the writer's.
type Server struct {
	pool           *pgxpool.Pool
	log            log.Logger
	maxRows        int
	requestTimeout time.Duration
	health         HealthReporter
	registry       *prometheus.Registry

	httpServer *http.Server
}

// Config configures a new Server.
type Config struct {
	Host           string
	Port           string
	Pool           *pgxpool.Pool
	MaxRows        int
	RequestTimeout time.Duration
	Health         HealthReporter
	Registry       *prometheus.Registry

	// CORSAllowedOrigins lists origins allowed to read this API from a
	// browser. Defaults to "*": the API is read-only and unauthenticated,
	// so there is no session to protect against cross-origin reads.
	CORSAllowedOrigins []string
}

// NewServer builds a Server ready to ListenAndServe.
func NewServer(cfg Config) *Server {
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = params.DefaultMaxResponseRows
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = params.DefaultAPIRequestTimeout
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}
	s := &Server{
		pool:           cfg.Pool,
		log:            log.New("component", "api"),
		maxRows:        cfg.MaxRows,
		requestTimeout: cfg.RequestTimeout,
		health:         cfg.Health,
		registry:       cfg.Registry,
	}

	router := httprouter.New()
	router.GET("/v0/misses", s.handleMisses)
	router.GET("/v0/txs", s.handleTxs)
	router.GET("/v0/blocks", s.handleBlocks)
	router.GET("/healthz", s.handleHealthz)
	router.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))

	handler := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet},
	}).Handler(router)

	s.httpServer = &http.Server{
		Addr:    cfg.Host + ":" + cfg.Port,
		Handler: handler,
	}
	return s
}

// ListenAndServe starts the HTTP server, blocking until it stops.
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server, honoring ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps a query error to an HTTP status: 408 deadline exceeded,
// 503 store unreachable (a connection failure) or request canceled, 500
// otherwise. Malformed parameters are answered with 400 by the handlers
// before any query runs.
func statusFor(err error) int {
	var connErr *pgconn.ConnectError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	case errors.As(err, &connErr):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleMisses(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	f, err := ParseFilter(r.URL.Query(), s.maxRows)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	rows, complete, err := QueryMisses(ctx, s.pool, f)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, buildEnvelope(rows, complete))
}

func (s *Server) handleTxs(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	f, err := ParseFilter(r.URL.Query(), s.maxRows)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	rows, complete, err := QueryMisses(ctx, s.pool, f)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	groups := GroupByTx(rows, f.MinNumMisses)
	env := buildEnvelope(rows, complete)
	env.Items = groups
	writeJSON(w, http.StatusOK, env)
}

func (s *Server) handleBlocks(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	f, err := ParseFilter(r.URL.Query(), s.maxRows)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	rows, complete, err := QueryMisses(ctx, s.pool, f)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	groups := GroupByBlock(rows, f.MinNumMisses)
	env := buildEnvelope(rows, complete)
	env.Items = groups
	writeJSON(w, http.StatusOK, env)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := s.pool.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "store unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":             "ok",
		"tracker_state":      s.health.TrackerState(),
		"writer_queue_depth": s.health.WriterQueueDepth(),
	})
}

// responseEnvelope is the {complete, from, to, items} shape every query
// endpoint responds with.
type responseEnvelope struct {
	Complete bool        `json:"complete"`
	From     string      `json:"from,omitempty"`
	To       string      `json:"to,omitempty"`
	Items    interface{} `json:"items"`
}

// buildEnvelope derives from/to from the actual rows returned: the
// response echoes the span covered, and to equals the last row's
// composite key when the page was saturated by the row cap.
func buildEnvelope(rows []MissRow, complete bool) responseEnvelope {
	env := responseEnvelope{Complete: complete, Items: rows}
	if len(rows) == 0 {
		return env
	}
	first := rows[0]
	last := rows[len(rows)-1]
	env.From = CursorFromRow(first.ProposalTime, first.TxQuorumReached).String()
	env.To = CursorFromRow(last.ProposalTime, last.TxQuorumReached).String()
	return env
}
