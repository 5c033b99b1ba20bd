package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/eniz1806/CloudEmu/internal/accesslog"
	"github.com/eniz1806/CloudEmu/internal/clock"
	"github.com/eniz1806/CloudEmu/internal/config"
	"github.com/eniz1806/CloudEmu/internal/dispatch"
	"github.com/eniz1806/CloudEmu/internal/lifecycle"
	"github.com/eniz1806/CloudEmu/internal/metadata"
	"github.com/eniz1806/CloudEmu/internal/metrics"
	"github.com/eniz1806/CloudEmu/internal/middleware"
	"github.com/eniz1806/CloudEmu/internal/notify"
	"github.com/eniz1806/CloudEmu/internal/ratelimit"
	"github.com/eniz1806/CloudEmu/internal/sns"
	"github.com/eniz1806/CloudEmu/internal/storage"
)

// CatalogFile is the name of the catalog database inside the metadata dir.
const CatalogFile = "cloudemu.db"

type Server struct {
	cfg       *config.Config
	store     *metadata.Store
	blobs     *storage.FileSystem
	metrics   *metrics.Collector
	pool      *notify.Pool
	registry  *registry
	worker    *lifecycle.Worker
	limiter   *ratelimit.Limiter
	access    *accesslog.AccessLogger
	startTime time.Time
}

// New opens the blob store and the catalog, reconciles blob reference
// counts against the catalog, and wires the services. The server is ready
// for traffic when New returns.
func New(cfg *config.Config) (*Server, error) {
	clk := clock.System{}

	blobs, err := storage.NewFileSystem(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	metaDir := cfg.Storage.MetadataDir
	if err := os.MkdirAll(metaDir, 0755); err != nil {
		return nil, fmt.Errorf("create metadata dir: %w", err)
	}
	store, err := metadata.NewStore(filepath.Join(metaDir, CatalogFile), clk)
	if err != nil {
		return nil, fmt.Errorf("init metadata: %w", err)
	}

	if err := Reconcile(store, blobs); err != nil {
		store.Close()
		return nil, err
	}

	s := &Server{cfg: cfg, store: store, blobs: blobs, startTime: time.Now()}

	var obs dispatch.Observer
	var observeDelivery notify.Observer
	if cfg.Metrics.Enabled {
		s.metrics = metrics.NewCollector(blobs, store)
		obs = s.metrics
		observeDelivery = s.metrics.ObserveDelivery
	}

	var notifier sns.Notifier
	if nc := cfg.Notifications; nc.Enabled {
		s.pool = notify.NewPool(notify.Options{
			Workers:    nc.MaxWorkers,
			QueueSize:  nc.QueueSize,
			Timeout:    time.Duration(nc.TimeoutSecs) * time.Second,
			MaxRetries: nc.MaxRetries,
			Observer:   observeDelivery,
		})
		notifier = s.pool
	}

	if rl := cfg.RateLimit; rl.Enabled {
		s.limiter = ratelimit.NewLimiter(ratelimit.Limits{
			ClientRPS:    rl.ClientRPS,
			ClientBurst:  rl.ClientBurst,
			AccountRPS:   rl.AccountRPS,
			AccountBurst: rl.AccountBurst,
		})
	}
	if path := cfg.Logging.AccessLog; path != "" {
		if s.access, err = accesslog.NewAccessLogger(path); err != nil {
			s.Close()
			return nil, fmt.Errorf("open access log: %w", err)
		}
	}

	s.registry = newRegistry(store, blobs, clk, cfg, notifier, obs)
	s.worker = lifecycle.NewWorker(blobs, s.registry.Targets, clk, lifecycle.Config{
		Interval:        time.Duration(cfg.Maintenance.ScanIntervalSecs) * time.Second,
		TempMaxAge:      time.Duration(cfg.Maintenance.TempMaxAgeSecs) * time.Second,
		MultipartExpiry: time.Duration(cfg.S3.MultipartExpiryHours) * time.Hour,
	})
	return s, nil
}

// Reconcile rebuilds blob reference counts from the catalog and removes
// unreferenced blobs. Referenced blobs missing from disk are logged.
func Reconcile(store *metadata.Store, blobs *storage.FileSystem) error {
	refs, err := store.BlobRefs()
	if err != nil {
		return fmt.Errorf("collect blob references: %w", err)
	}
	report, err := blobs.Reconcile(refs)
	if err != nil {
		return fmt.Errorf("reconcile blobs: %w", err)
	}
	for _, hash := range report.Missing {
		slog.Error("catalog references missing blob", "hash", hash)
	}
	slog.Info("blob store reconciled", "live", report.Live, "removed", report.Removed, "missing", len(report.Missing))
	return nil
}

// Handler returns the HTTP routes: the per-service endpoints, health checks
// and metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", healthHandler(s.startTime, s.fillHealth))
	mux.HandleFunc("GET /readyz", readyHandler(func() error {
		_, err := s.store.BucketStats()
		return err
	}))
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	mux.HandleFunc("GET /{service}", s.describeHandler)
	mux.HandleFunc("POST /{service}", s.serviceHandler)

	var h http.Handler = mux
	if s.access != nil {
		h = middleware.AccessLog(s.access, h)
	}
	return middleware.PanicRecovery(middleware.RequestID(h))
}

func (s *Server) fillHealth(h *healthResponse) {
	st := s.blobs.Stats()
	h.Blobs, h.BlobBytes = st.Blobs, st.Bytes
	if ns, err := s.store.Namespaces(); err == nil {
		h.Namespaces = len(ns)
	}
	if s.limiter != nil {
		h.Throttled = s.limiter.Rejected()
	}
}

// Services returns the service set of a namespace. Embedders use it to
// call operations without going through HTTP.
func (s *Server) Services(account, region string) (*Services, error) {
	return s.registry.For(account, region)
}

// Run starts the server and blocks until shutdown signal is received.
// It handles graceful shutdown with a configurable timeout.
func (s *Server) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx)
}

// Serve runs until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	addr := s.cfg.ListenAddr()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var challenge *http.Server
	if s.cfg.Server.TLS.Enabled {
		tlsCfg, acme, err := newTLSConfig(s.cfg.Server.TLS)
		if err != nil {
			return err
		}
		httpServer.TLSConfig = tlsCfg
		if acme != nil {
			challenge = &http.Server{Addr: ":80", Handler: acme, ReadHeaderTimeout: 10 * time.Second}
		}
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	if s.pool != nil {
		s.pool.Start(bgCtx)
	}
	go s.worker.Run(bgCtx)

	slog.Info("CloudEmu starting", "addr", addr, "tls", s.cfg.Server.TLS.Enabled,
		"data_dir", s.cfg.Storage.DataDir, "metadata_dir", s.cfg.Storage.MetadataDir,
		"namespace", s.cfg.Namespace.AccountID+"/"+s.cfg.Namespace.Region)

	errCh := make(chan error, 2)
	go func() {
		if httpServer.TLSConfig != nil {
			errCh <- httpServer.ListenAndServeTLS("", "")
		} else {
			errCh <- httpServer.ListenAndServe()
		}
	}()
	if challenge != nil {
		go func() { errCh <- challenge.ListenAndServe() }()
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutting down gracefully")
	}

	// Graceful shutdown
	timeout := time.Duration(s.cfg.Server.ShutdownTimeoutSecs) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var result *multierror.Error
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown timed out", "timeout", timeout, "error", err)
		result = multierror.Append(result, err)
	}
	if challenge != nil {
		if err := challenge.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			result = multierror.Append(result, err)
		}
	}
	bgCancel()
	if s.pool != nil {
		if err := s.pool.Stop(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	slog.Info("server stopped")
	return result.ErrorOrNil()
}

// Close releases the catalog, the access log and the limiter.
func (s *Server) Close() error {
	var result *multierror.Error
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.access != nil {
		if err := s.access.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
