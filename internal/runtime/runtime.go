package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-translate/internal/bus"
	"github.com/loqalabs/loqa-translate/internal/capability"
	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/loqalabs/loqa-translate/internal/eventstore"
	"github.com/loqalabs/loqa-translate/internal/natsserver"
	"github.com/loqalabs/loqa-translate/internal/translation"
)

const pruneInterval = time.Hour

// ResultLister reads stored translation results for a session.
type ResultLister interface {
	ListSessionResults(ctx context.Context, sessionID string, limit int) ([]eventstore.Record, error)
}

// NodeDirectory answers which translator nodes are known on the bus.
type NodeDirectory interface {
	Healthy() bool
	Query(filter func(capability.NodeInfo) bool) []capability.NodeInfo
}

type Runtime struct {
	cfg            config.Config
	logger         *slog.Logger
	httpServer     *http.Server
	metricsServer  *http.Server
	embedded       *natsserver.EmbeddedServer
	bus            *bus.Client
	store          *eventstore.Store
	results        ResultLister
	translator     *translation.Service
	registry       *capability.Registry
	nodes          NodeDirectory
	telemetryClose func(context.Context) error
	ready          atomic.Bool
	wg             sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetryClose = shutdownTelemetry
	defer r.stop()

	if err := r.startBus(ctx); err != nil {
		return err
	}

	store, err := openStore(ctx, r.cfg.EventStore, r.logger.With(slog.String("component", "event-store")))
	if err != nil {
		return err
	}
	r.store = store
	r.results = store

	engine, err := translation.NewEngine(r.cfg.Translation)
	if err != nil {
		return fmt.Errorf("create translation engine: %w", err)
	}
	svc, err := translation.NewService(ctx, r.cfg.Translation, r.bus, engine, store, r.logger)
	if err != nil {
		return fmt.Errorf("create translation service: %w", err)
	}
	r.translator = svc
	if err := svc.Start(); err != nil {
		return fmt.Errorf("start translation service: %w", err)
	}

	registry, err := capability.NewRegistry(ctx, r.cfg.Node, capability.TranslationCapabilities(r.cfg.Translation), r.bus, r.logger)
	if err != nil {
		return fmt.Errorf("start capability registry: %w", err)
	}
	r.registry = registry
	r.nodes = registry

	mux := r.routes(metricsHandler)
	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http")

	if metricsHandler != nil && r.cfg.Telemetry.PrometheusBind != "" && r.cfg.Telemetry.PrometheusBind != addr {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.serve(r.metricsServer, "metrics")
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.runPrune(ctx)
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr), slog.String("translation_mode", r.cfg.Translation.Mode))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	return nil
}

func (r *Runtime) startBus(ctx context.Context) error {
	busCfg := r.cfg.Bus
	if busCfg.Embedded {
		srv, err := natsserver.Start(busCfg, r.cfg.Node.ID, r.logger)
		if err != nil {
			return err
		}
		r.embedded = srv
		busCfg.Servers = []string{srv.ClientURL()}
	}
	client, err := bus.Connect(ctx, r.cfg.RuntimeName, busCfg, r.logger)
	if err != nil {
		return err
	}
	r.bus = client
	return nil
}

// openStore opens the event store and checks it matches its retention mode.
func openStore(ctx context.Context, cfg config.EventStoreConfig, logger *slog.Logger) (*eventstore.Store, error) {
	store, err := eventstore.Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}
	if err := store.Ensure(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("check event store: %w", err)
	}
	return store, nil
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("server", name), slog.String("error", err.Error()))
		}
	}()
}

func (r *Runtime) runPrune(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.store.Prune(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("event store prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

// stop tears down whatever Start managed to bring up, in reverse order.
func (r *Runtime) stop() {
	r.ready.Store(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.registry.Close()
	if r.translator != nil {
		r.translator.Close()
	}
	r.wg.Wait()

	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("event store close error", slog.String("error", err.Error()))
		}
	}
	if r.bus != nil {
		r.bus.Close()
	}
	r.embedded.Shutdown()

	if r.telemetryClose != nil {
		if err := r.telemetryClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) routes(metricsHandler http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("GET /sessions/{id}/translations", r.handleSessionTranslations)
	mux.HandleFunc("GET /nodes", r.handleNodes)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	return mux
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.isReady() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) isReady() bool {
	if !r.ready.Load() {
		return false
	}
	if !r.bus.Healthy() {
		return false
	}
	if r.nodes != nil && !r.nodes.Healthy() {
		return false
	}
	return r.translator == nil || r.translator.Healthy()
}

// handleNodes lists known translator nodes, optionally only the healthy ones
// serving ?language=.
func (r *Runtime) handleNodes(w http.ResponseWriter, req *http.Request) {
	if r.nodes == nil {
		http.Error(w, "capability registry unavailable", http.StatusServiceUnavailable)
		return
	}
	var filter func(capability.NodeInfo) bool
	if lang := req.URL.Query().Get("language"); lang != "" {
		serves := capability.WithTargetLanguage(lang)
		filter = func(node capability.NodeInfo) bool {
			return node.Healthy && serves(node)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Nodes []capability.NodeInfo `json:"nodes"`
	}{Nodes: r.nodes.Query(filter)})
}

func (r *Runtime) handleSessionTranslations(w http.ResponseWriter, req *http.Request) {
	sessionID := req.PathValue("id")
	if sessionID == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}
	limit := 100
	if raw := req.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	if r.results == nil {
		http.Error(w, "event store unavailable", http.StatusServiceUnavailable)
		return
	}

	records, err := r.results.ListSessionResults(req.Context(), sessionID, limit)
	if err != nil {
		r.logger.Warn("list session translations failed", slog.String("session_id", sessionID), slog.String("error", err.Error()))
		http.Error(w, "failed to load translations", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []eventstore.Record{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		SessionID string              `json:"session_id"`
		Results   []eventstore.Record `json:"results"`
	}{SessionID: sessionID, Results: records})
}
