package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/itstheanurag/codejudge/internal/api"
	"github.com/itstheanurag/codejudge/internal/config"
	"github.com/itstheanurag/codejudge/internal/database"
	"github.com/itstheanurag/codejudge/internal/database/memory"
	"github.com/itstheanurag/codejudge/internal/executor"
	"github.com/itstheanurag/codejudge/internal/judge"
	"github.com/itstheanurag/codejudge/internal/limiter"
	"github.com/itstheanurag/codejudge/internal/model"
	"github.com/itstheanurag/codejudge/internal/notify"
	"github.com/itstheanurag/codejudge/internal/queue"
	"github.com/itstheanurag/codejudge/internal/sandbox"
	"github.com/itstheanurag/codejudge/internal/worker"
	"github.com/itstheanurag/codejudge/internal/workspace"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	seedTimeout       = 30 * time.Second
	notifyPingTimeout = 5 * time.Second
)

// Store is what the server needs from a persistence backend.
type Store interface {
	judge.Store
	UpsertProblem(ctx context.Context, p *model.Problem) error
	Close() error
}

type Server struct {
	conf        *config.Config
	logger      *zerolog.Logger
	httpServer  *http.Server
	store       Store
	sandbox     sandbox.Sandbox
	executor    *executor.Executor
	queue       *queue.Manager
	judge       *judge.Judge
	notifier    notify.Notifier
	workers     *worker.Pool
	rateLimiter *limiter.RateLimiter
	cancelFunc  context.CancelFunc
}

func New(
	conf *config.Config,
	logger *zerolog.Logger,
) (*Server, error) {

	store, err := newStore(conf, logger)
	if err != nil {
		return nil, err
	}

	sb, err := newSandbox(conf, logger)
	if err != nil {
		closeAll(logger, store)
		return nil, fmt.Errorf("failed to create sandbox: %w", err)
	}

	notifier, err := newNotifier(conf, logger)
	if err != nil {
		closeAll(logger, sb, store)
		return nil, fmt.Errorf("failed to create notifier: %w", err)
	}

	s, err := assemble(conf, logger, store, sb, notifier)
	if err != nil {
		closeAll(logger, notifier, sb, store)
		return nil, err
	}
	return s, nil
}

// assemble wires the grading pipeline and HTTP surface around the given
// backends.
func assemble(
	conf *config.Config,
	logger *zerolog.Logger,
	store Store,
	sb sandbox.Sandbox,
	notifier notify.Notifier,
) (*Server, error) {
	workspaces, err := workspace.NewManager(conf.Sandbox.WorkspaceRoot, conf.Sandbox.SourceFile, conf.Sandbox.InputFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace manager: %w", err)
	}

	exec := executor.NewExecutor(workspaces, sb, conf.Sandbox.ExecutorConfig(), logger)
	q := queue.NewManager(conf.Judge.QueueCapacity)
	j := judge.New(store, exec, q, notifier, conf.Judge.Options(), logger)
	pool := worker.NewPool(conf.Judge.Workers, j, q, logger)

	s := &Server{
		conf:     conf,
		logger:   logger,
		store:    store,
		sandbox:  sb,
		executor: exec,
		queue:    q,
		judge:    j,
		notifier: notifier,
		workers:  pool,
	}

	if conf.Limiter.Enabled {
		s.rateLimiter = limiter.NewRateLimiter(conf.Limiter.GlobalRPS, conf.Limiter.PerIPRPS, conf.Limiter.PerIPBurst)
	}

	s.httpServer = &http.Server{
		Addr:         ":" + conf.Server.Port,
		Handler:      s.routes(),
		ReadTimeout:  time.Duration(conf.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(conf.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(conf.Server.IdleTimeout) * time.Second,
	}

	return s, nil
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"queue_depth": s.queue.Len(),
			"workers":     s.workers.Size(),
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	var submitMiddleware []gin.HandlerFunc
	if s.rateLimiter != nil {
		submitMiddleware = append(submitMiddleware, s.rateLimiter.Middleware())
	}
	api.NewHandler(s.judge, s.logger).Register(r.Group("/api"), submitMiddleware...)

	return r
}

func newStore(conf *config.Config, logger *zerolog.Logger) (Store, error) {
	switch conf.Db.Driver {
	case "memory":
		logger.Warn().Msg("using in-memory store, submissions are lost on restart")
		return memory.New(), nil
	default:
		db, err := database.New(conf, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), database.DatabasePingTimeout*time.Second)
		defer cancel()
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	}
}

func newSandbox(conf *config.Config, logger *zerolog.Logger) (sandbox.Sandbox, error) {
	switch conf.Sandbox.Driver {
	case "cli":
		return sandbox.NewDockerCLISandbox(logger), nil
	default:
		return sandbox.NewDockerSandbox(logger)
	}
}

func newNotifier(conf *config.Config, logger *zerolog.Logger) (notify.Notifier, error) {
	logNotifier := notify.NewLogNotifier(logger)

	switch conf.Notify.Driver {
	case "redis":
		rn, err := notify.NewRedisNotifier(
			conf.Notify.RedisAddr,
			conf.Notify.RedisPassword,
			conf.Notify.Channel,
			time.Duration(conf.Notify.StatusTTLSec)*time.Second,
		)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), notifyPingTimeout)
		defer cancel()
		if err := rn.Ping(ctx); err != nil {
			closeAll(logger, rn)
			return nil, err
		}
		return notify.Fanout{logNotifier, rn}, nil
	case "momento":
		mn, err := notify.NewMomentoNotifier(conf.Notify.MomentoTokenEnv, conf.Notify.MomentoCache, conf.Notify.Channel)
		if err != nil {
			return nil, err
		}
		return notify.Fanout{logNotifier, mn}, nil
	default:
		return logNotifier, nil
	}
}

func (s *Server) Start() error {
	s.logger.Info().
		Str("port", s.conf.Server.Port).
		Msg("starting HTTP server")

	if err := s.prepare(context.Background()); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFunc = cancel
	s.startBackground(ctx)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}

	return nil
}

// prepare seeds problems and makes sure the sandbox image is present.
func (s *Server) prepare(ctx context.Context) error {
	if s.conf.SeedProblemsFile != "" {
		if err := s.seedProblems(ctx, s.conf.SeedProblemsFile); err != nil {
			return fmt.Errorf("failed to seed problems: %w", err)
		}
	}

	if s.conf.Sandbox.PullImage {
		if err := s.sandbox.EnsureImage(ctx, s.conf.Sandbox.Image); err != nil {
			return fmt.Errorf("failed to ensure sandbox image: %w", err)
		}
	}
	return nil
}

func (s *Server) startBackground(ctx context.Context) {
	s.workers.Start(ctx)
	go s.judge.RunSweeper(ctx)

	if s.rateLimiter != nil && s.conf.Limiter.CleanupIntervalSec > 0 {
		s.rateLimiter.StartCleanup(ctx, time.Duration(s.conf.Limiter.CleanupIntervalSec)*time.Second)
	}

	// Submissions left Received by a previous run go straight back on the queue.
	go func() {
		if err := s.judge.Sweep(ctx); err != nil {
			s.logger.Error().Err(err).Msg("startup recovery sweep failed")
		}
	}()
}

func (s *Server) seedProblems(ctx context.Context, path string) error {
	problems, err := config.LoadProblems(path)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, seedTimeout)
	defer cancel()

	for _, p := range problems {
		if err := s.store.UpsertProblem(ctx, p); err != nil {
			return err
		}
	}
	s.logger.Info().Int("count", len(problems)).Str("file", path).Msg("problems seeded")
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	if s.cancelFunc != nil {
		s.cancelFunc()
	}

	// Workers finish the submission they hold; past the deadline the
	// remaining gradings are cancelled and left Running for the sweep.
	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn().Msg("workers did not stop before shutdown deadline")
		s.workers.Abort()
	}

	if err := s.notifier.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to close notifier")
	}

	closeAll(s.logger, s.sandbox, s.store)

	return nil
}

// closeAll closes every backend that holds a connection, logging failures.
func closeAll(logger *zerolog.Logger, backends ...any) {
	for _, b := range backends {
		c, ok := b.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			logger.Warn().Err(err).Msgf("failed to close %T", b)
		}
	}
}
