package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"jobkit/internal/history"
	"jobkit/internal/scheduler"
	"jobkit/internal/tasks"
	logx "jobkit/pkg/logx"
)

// Config holds the HTTP listener settings.
type Config struct {
	Enabled bool
	Addr    string

	// Requests per second across all clients; 0 disables limiting.
	RateLimit float64
	RateBurst int

	// Poll cadence for /jobs/:id/stream. Zero means 250ms.
	StreamInterval time.Duration
}

func (c Config) streamInterval() time.Duration {
	if c.StreamInterval <= 0 {
		return 250 * time.Millisecond
	}
	return c.StreamInterval
}

// Server wires the scheduler, the task registry and (optionally) the run
// history store behind a gin router.
type Server struct {
	cfg   Config
	log   logx.Logger
	sched *scheduler.Scheduler
	tasks *tasks.Registry
	hist  history.Store // nil when history is disabled

	engine *gin.Engine
	srv    *http.Server
}

func NewServer(cfg Config, sched *scheduler.Scheduler, reg *tasks.Registry, hist history.Store, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:   cfg,
		log:   log,
		sched: sched,
		tasks: reg,
		hist:  hist,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLog())
	if cfg.RateLimit > 0 {
		r.Use(rateLimit(cfg.RateLimit, cfg.RateBurst))
	}

	r.GET("/healthz", s.handleHealth)
	r.GET("/tasks", s.handleListTasks)

	r.GET("/jobs", s.handleListJobs)
	r.POST("/jobs", s.handleSubmit)
	r.GET("/jobs/:id", s.handleGetJob)
	r.DELETE("/jobs/:id", s.handleDelete)
	r.POST("/jobs/:id/cancel", s.handleCancel)
	r.POST("/jobs/:id/wait", s.handleWait)
	r.GET("/jobs/:id/result", s.handleResult)
	r.GET("/jobs/:id/stream", s.handleStream)

	if hist != nil {
		r.GET("/history", s.handleHistory)
	}

	s.engine = r
	return s
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("http api listening", logx.String("addr", s.cfg.Addr))
		errc <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
