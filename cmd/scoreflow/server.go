package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/scoreflow/api"
	"github.com/BaSui01/scoreflow/api/handlers"
	"github.com/BaSui01/scoreflow/backend"
	"github.com/BaSui01/scoreflow/config"
	"github.com/BaSui01/scoreflow/internal/metrics"
	"github.com/BaSui01/scoreflow/internal/server"
	"github.com/BaSui01/scoreflow/internal/telemetry"
	"github.com/BaSui01/scoreflow/internal/tlsutil"
	"github.com/BaSui01/scoreflow/pipeline"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 组装调度器、HTTP API 与指标端口
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	level      zap.AtomicLevel

	registry  *prometheus.Registry
	collector *metrics.Collector
	telemetry *telemetry.Providers
	scheduler *pipeline.Scheduler
	reloader  *config.Reloader

	httpManager    *server.Manager
	metricsManager *server.Manager

	errCh     chan error
	auxCtx    context.Context
	cancelAux context.CancelFunc
}

// NewServer 创建服务器；configPath 为空时不启用配置重载
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, level zap.AtomicLevel) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		level:      level,
		errCh:      make(chan error, 2),
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 按依赖顺序启动：遥测 → 指标 → 调度器 → HTTP → 配置重载。
// 调度器启动失败（含模型加载超时）时服务不会开始监听。
func (s *Server) Start(ctx context.Context) error {
	s.auxCtx, s.cancelAux = context.WithCancel(context.Background())

	providers, err := telemetry.Init(ctx, s.cfg.Telemetry, Version, s.logger)
	if err != nil {
		// 遥测不可用不影响评分
		s.logger.Warn("telemetry init failed", zap.Error(err))
	}
	s.telemetry = providers

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.collector = metrics.NewCollector(s.cfg.Metrics, s.registry, s.logger)

	if err := s.startScheduler(ctx); err != nil {
		return err
	}
	if err := s.startHTTPServer(s.auxCtx); err != nil {
		return fmt.Errorf("start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}
	if err := s.startReloader(s.auxCtx); err != nil {
		return fmt.Errorf("start config reloader: %w", err)
	}

	s.logger.Info("all servers started",
		zap.String("http_addr", s.httpManager.ListenAddr()),
		zap.String("metrics_addr", s.metricsManager.ListenAddr()),
		zap.Bool("batching", s.cfg.Batching.Enabled),
		zap.Bool("config_reload", s.reloader != nil),
	)
	return nil
}

func (s *Server) startScheduler(ctx context.Context) error {
	factory, err := backend.NewFactory(s.cfg.Backend, s.logger)
	if err != nil {
		return fmt.Errorf("create backend factory: %w", err)
	}
	sched, err := pipeline.NewScheduler(s.cfg.ToPipelineConfig(), factory, s.collector, s.logger)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	s.scheduler = sched
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	return nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// publicPaths 不需要认证
var publicPaths = []string{"/health", "/healthz", "/ready", "/version"}

func (s *Server) routes() http.Handler {
	sc := s.cfg.Server
	health := handlers.NewHealthHandler(s.logger)
	health.RegisterCheck(handlers.NewReadinessCheck("scheduler", s.scheduler.Ready))

	score := handlers.NewScoreHandler(s.scheduler, s.collector, s.logger,
		handlers.WithMaxPairs(sc.MaxPairsPerRequest),
		handlers.WithMaxBodyBytes(sc.MaxBodyBytes),
	)
	metricsHandler := handlers.NewMetricsHandler(s.collector, s.scheduler, s.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", health.HandleHealth)
	mux.HandleFunc("/healthz", health.HandleHealthz)
	mux.HandleFunc("/ready", health.HandleReady)
	mux.HandleFunc("/version", health.HandleVersion(Version, BuildTime, GitCommit))

	mux.HandleFunc("/api/v1/score", score.HandleScore)
	mux.HandleFunc("/api/v1/model", health.HandleModel(s.scheduler.ModelInfo, api.ModelResponse{
		BatchingEnabled: s.cfg.Batching.Enabled,
		MaxBatchSize:    s.cfg.Batching.MaxBatchSize,
		BatchTimeoutMs:  s.cfg.Batching.TimeoutMs,
		LengthAware:     s.cfg.Batching.LengthAwareBatching,
	}))
	mux.HandleFunc("/api/v1/metrics/summary", metricsHandler.HandleSummary)
	mux.HandleFunc("/api/v1/metrics/reset", metricsHandler.HandleReset)
	mux.HandleFunc("/api/v1/stats", metricsHandler.HandleStats)
	return mux
}

func (s *Server) middleware(ctx context.Context) []Middleware {
	sc := s.cfg.Server
	chain := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		MetricsMiddleware(s.collector),
		RequestLogger(s.logger),
		CORS(sc.CORSAllowedOrigins),
	}
	if len(sc.APIKeys) > 0 {
		chain = append(chain, APIKeyAuth(sc.APIKeys, publicPaths, sc.AllowQueryAPIKey, s.logger))
	}
	if sc.JWT.Enabled() {
		chain = append(chain, JWTAuth(sc.JWT, publicPaths, s.logger))
	}
	// 认证之后限流，才能按租户计数
	if sc.RateLimitRPS > 0 {
		chain = append(chain, RateLimiter(ctx, sc.RateLimitRPS, sc.RateLimitBurst, s.logger))
	}
	return chain
}

func (s *Server) startHTTPServer(ctx context.Context) error {
	sc := s.cfg.Server
	tlsCfg, err := tlsutil.ServerTLSConfig(sc.TLSCertFile, sc.TLSKeyFile)
	if err != nil {
		return err
	}

	handler := Chain(s.routes(), s.middleware(ctx)...)
	s.httpManager = server.NewManager(handler, server.Config{
		Name:            "api",
		Addr:            fmt.Sprintf(":%d", sc.HTTPPort),
		ReadTimeout:     sc.ReadTimeout,
		WriteTimeout:    sc.WriteTimeout,
		IdleTimeout:     2 * sc.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: sc.ShutdownTimeout,
		TLSConfig:       tlsCfg,
	}, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}
	s.forward(s.httpManager.Errors())
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))

	sc := s.cfg.Server
	s.metricsManager = server.NewManager(mux, server.Config{
		Name:            "metrics",
		Addr:            fmt.Sprintf(":%d", sc.MetricsPort),
		ReadTimeout:     sc.ReadTimeout,
		WriteTimeout:    sc.WriteTimeout,
		ShutdownTimeout: sc.ShutdownTimeout,
	}, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}
	s.forward(s.metricsManager.Errors())
	return nil
}

// forward 把监听器异常汇聚到 Errors
func (s *Server) forward(errs <-chan error) {
	go func() {
		select {
		case err := <-errs:
			select {
			case s.errCh <- err:
			default:
			}
		case <-s.auxCtx.Done():
		}
	}()
}

// Errors 返回任一监听器的异常退出
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// =============================================================================
// 🔄 配置重载
// =============================================================================

func (s *Server) startReloader(ctx context.Context) error {
	interval := s.cfg.Log.ReloadInterval
	if s.configPath == "" || interval <= 0 {
		return nil
	}
	r, err := config.NewReloader(s.configPath, s.cfg, s.level, s.logger,
		config.WithPollInterval(interval),
		config.WithWatcherLogger(s.logger),
	)
	if err != nil {
		return err
	}
	if err := r.Start(ctx); err != nil {
		return err
	}
	s.reloader = r
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// Shutdown 先停 HTTP（不再接新请求并排空在途请求），再停调度器
// （冲刷正在形成的批次），最后关闭指标端口与遥测。可在部分启动后调用。
func (s *Server) Shutdown(ctx context.Context) {
	s.logger.Info("starting graceful shutdown")

	if s.reloader != nil {
		if err := s.reloader.Stop(); err != nil {
			s.logger.Warn("config reloader stop error", zap.Error(err))
		}
	}
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.scheduler != nil {
		if err := s.scheduler.Stop(ctx); err != nil {
			s.logger.Error("scheduler stop error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("metrics server shutdown error", zap.Error(err))
		}
	}
	if s.cancelAux != nil {
		s.cancelAux()
	}
	if err := s.telemetry.Shutdown(ctx); err != nil {
		s.logger.Warn("telemetry shutdown error", zap.Error(err))
	}

	s.logger.Info("graceful shutdown completed")
}
