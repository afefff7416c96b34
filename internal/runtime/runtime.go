package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voiceforgelabs/voiceforge-core/internal/backend"
	"github.com/voiceforgelabs/voiceforge-core/internal/bus"
	"github.com/voiceforgelabs/voiceforge-core/internal/config"
	"github.com/voiceforgelabs/voiceforge-core/internal/history"
	"github.com/voiceforgelabs/voiceforge-core/internal/httpapi"
	"github.com/voiceforgelabs/voiceforge-core/internal/natsserver"
	"github.com/voiceforgelabs/voiceforge-core/internal/pipeline"
	"github.com/voiceforgelabs/voiceforge-core/internal/service"
	"github.com/voiceforgelabs/voiceforge-core/internal/voicestore"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	busClient   *bus.Client
	busServer   *natsserver.EmbeddedServer
	ttsService  *service.Service
	ready       atomic.Bool
	wg          sync.WaitGroup
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

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	be, err := newBackend(r.cfg.Backend)
	if err != nil {
		return fmt.Errorf("failed to initialize backend: %w", err)
	}

	store, err := voicestore.New(r.cfg.Voices.Directory, be, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open voice store: %w", err)
	}

	hist, err := history.Open(ctx, r.cfg.History, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	defer func() {
		if err := hist.Close(); err != nil {
			r.logger.Error("history close error", slogError(err))
		}
	}()
	if err := hist.Prune(ctx); err != nil {
		r.logger.Warn("history prune failed", slogError(err))
	}

	orch := pipeline.New(store, be, r.cfg.Generation, r.logger)

	if r.cfg.Bus.Enabled {
		if err := r.startBus(ctx, orch, hist); err != nil {
			return err
		}
		defer r.stopBus()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	mux.Handle("/v1/", httpapi.NewServer(store, orch, hist, r.logger))

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slogError(err))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("backend", r.cfg.Backend.Mode),
		slog.Bool("bus", r.cfg.Bus.Enabled))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slogError(err))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slogError(err))
		}
	}

	return nil
}

func (r *Runtime) startBus(ctx context.Context, orch *pipeline.Orchestrator, hist *history.Store) error {
	busServer, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded NATS server: %w", err)
	}
	r.busServer = busServer

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		r.busServer.Shutdown()
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	r.busClient = busClient

	r.ttsService = service.NewService(ctx, r.cfg.Bus, busClient, orch, hist, r.logger)
	if err := r.ttsService.Start(); err != nil {
		busClient.Close()
		r.busServer.Shutdown()
		return fmt.Errorf("failed to start tts service: %w", err)
	}
	return nil
}

func (r *Runtime) stopBus() {
	if r.ttsService != nil {
		r.ttsService.Close()
	}
	r.busClient.Close()
	r.busServer.Shutdown()
}

func newBackend(cfg config.BackendConfig) (backend.Backend, error) {
	switch cfg.Mode {
	case "exec":
		return backend.NewExecBackend(cfg.Command)
	default:
		return backend.NewMockBackend(cfg.SampleRate), nil
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !r.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	if r.cfg.Bus.Enabled && (r.busClient == nil || !r.busClient.Healthy()) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("bus not connected"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
