package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/autograph/gnnsearch/internal/config"
	"github.com/autograph/gnnsearch/pkg/api"
	"github.com/autograph/gnnsearch/pkg/auth"
	"github.com/autograph/gnnsearch/pkg/executor"
	"github.com/autograph/gnnsearch/pkg/logging"
	"github.com/autograph/gnnsearch/pkg/resources"
	"github.com/autograph/gnnsearch/pkg/shutdown"
	"github.com/autograph/gnnsearch/pkg/store"
	tlsutil "github.com/autograph/gnnsearch/pkg/tls"
	"github.com/autograph/gnnsearch/pkg/tracing"
)

var ErrResourceInit = errors.New("resource initialization failed")

// teardownTimeout bounds the whole LIFO teardown
const teardownTimeout = 15 * time.Second

// Runtime owns the process-scoped resources a driver needs: the capacity
// pool, metrics registry, tracer, run store and status server. Init acquires
// them once; Shutdown releases them in reverse order.
type Runtime struct {
	cfg      *config.Config
	logger   *logging.Logger
	probe    resources.GPUProbe
	injected store.Store

	mu          sync.Mutex
	initialized bool
	capacity    resources.Capacity
	manager     *resources.Manager
	registry    *prometheus.Registry
	metrics     *executor.Metrics
	tracer      *tracing.Provider
	store       store.Store
	server      *api.Server
	teardown    *shutdown.Manager
}

func newRuntime(cfg *config.Config, logger *logging.Logger, probe resources.GPUProbe, st store.Store) *Runtime {
	return &Runtime{
		cfg:      cfg,
		logger:   logger.WithField("component", "runtime"),
		probe:    probe,
		injected: st,
	}
}

// Init acquires every runtime resource. Calling it on an initialized
// runtime does nothing. Any failure releases what was acquired and returns
// an error wrapping ErrResourceInit.
func (r *Runtime) Init(ctx context.Context) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized {
		return nil
	}

	td := shutdown.New(teardownTimeout, r.logger)
	defer func() {
		if err != nil {
			td.Shutdown()
		}
	}()

	capacity, err := resources.DetectCapacity(ctx, r.probe)
	if err != nil {
		return fmt.Errorf("%w: detect capacity: %v", ErrResourceInit, err)
	}
	capacity = capacity.Override(r.cfg.Resources.CPUs, r.cfg.Resources.GPUs)
	if r.cfg.Resources.RequireGPU && !capacity.HasGPU() {
		return fmt.Errorf("%w: %v", ErrResourceInit, resources.ErrNoGPU)
	}
	budget := r.cfg.Resources.Budget()
	if _, err := resources.ConcurrencyLimit(capacity, budget); err != nil {
		return fmt.Errorf("%w: %v", ErrResourceInit, err)
	}
	if budget.GPUPerTrial > 0 && !capacity.HasGPU() {
		r.logger.Warn("No GPU detected, running trials on CPU only")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := executor.NewMetrics(registry)

	tp, err := tracing.InitTracer(tracing.Config{
		ServiceName:  r.cfg.Tracing.ServiceName,
		OTLPEndpoint: r.cfg.Tracing.Endpoint,
		Enabled:      r.cfg.Tracing.Enabled,
	}, r.logger)
	if err != nil {
		return fmt.Errorf("%w: tracing: %v", ErrResourceInit, err)
	}
	td.Register("tracer", tp.Shutdown)

	st := r.injected
	if st == nil {
		st, err = store.NewStore(store.Config{Type: r.cfg.Store.Type, DSN: r.cfg.Store.DSN})
		if err != nil {
			return fmt.Errorf("%w: store: %v", ErrResourceInit, err)
		}
		td.Register("store", shutdown.CloseResource(st, "store"))
	}

	var srv *api.Server
	if r.cfg.Metrics.Addr != "" {
		srv = api.NewServer(registry, st, tp.Tracer(), r.logger)
		if err := secureServer(srv, r.cfg.Metrics); err != nil {
			return fmt.Errorf("%w: status server: %v", ErrResourceInit, err)
		}
		if _, err := srv.Start(r.cfg.Metrics.Addr); err != nil {
			return fmt.Errorf("%w: status server: %v", ErrResourceInit, err)
		}
		td.Register("status server", shutdown.StopHTTPServer(srv, "status"))
	}

	manager := resources.NewManager(capacity)
	td.Register("reservations", func(context.Context) error {
		if n := manager.ReleaseAll(); n > 0 {
			r.logger.Warn("Released leftover reservations", map[string]interface{}{"count": n})
		}
		return nil
	})

	r.capacity = capacity
	r.manager = manager
	r.registry = registry
	r.metrics = metrics
	r.tracer = tp
	r.store = st
	r.server = srv
	r.teardown = td
	r.initialized = true

	r.logger.Info("Runtime initialized", map[string]interface{}{
		"cpus":  capacity.CPUs,
		"gpus":  capacity.GPUs,
		"store": r.cfg.Store.Type,
	})
	return nil
}

// Shutdown releases runtime resources in reverse acquisition order. Errors
// are logged and swallowed. The runtime may be initialized again afterwards.
func (r *Runtime) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return
	}
	if failed := r.teardown.Shutdown(); failed > 0 {
		r.logger.Warn("Runtime teardown finished with errors", map[string]interface{}{"failed": failed})
	}
	r.initialized = false
	r.server = nil
	r.store = nil
	r.tracer = nil
	r.manager = nil
}

// Initialized reports whether Init has completed
func (r *Runtime) Initialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initialized
}

// Capacity returns the detected (and overridden) capacity
func (r *Runtime) Capacity() resources.Capacity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capacity
}

// Registry returns the Prometheus registry
func (r *Runtime) Registry() *prometheus.Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registry
}

// Store returns the run store
func (r *Runtime) Store() store.Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store
}

// Server returns the status server, nil when none is configured
func (r *Runtime) Server() *api.Server {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.server
}

type runtimeView struct {
	manager *resources.Manager
	metrics *executor.Metrics
	tracer  *tracing.Provider
	store   store.Store
	server  *api.Server
}

func (r *Runtime) view() (runtimeView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return runtimeView{}, fmt.Errorf("%w: runtime is shut down", ErrResourceInit)
	}
	return runtimeView{
		manager: r.manager,
		metrics: r.metrics,
		tracer:  r.tracer,
		store:   r.store,
		server:  r.server,
	}, nil
}

func secureServer(srv *api.Server, cfg config.MetricsConfig) error {
	if cfg.AuthEnabled() {
		guard, err := auth.NewTokenGuard(cfg.Token, cfg.TokenHash)
		if err != nil {
			return err
		}
		srv.RequireToken(guard)
	}
	if cfg.TLSEnabled() {
		tlsConfig, err := tlsutil.ServerConfig(cfg.TLSCert, cfg.TLSKey, cfg.ClientCA)
		if err != nil {
			return err
		}
		srv.UseTLS(tlsConfig)
	}
	return nil
}
