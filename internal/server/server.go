package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rytkhs/event-pay-sub012/internal/admindb"
	"github.com/rytkhs/event-pay-sub012/internal/audit"
	auditdomain "github.com/rytkhs/event-pay-sub012/internal/audit/domain"
	"github.com/rytkhs/event-pay-sub012/internal/clock"
	"github.com/rytkhs/event-pay-sub012/internal/config"
	"github.com/rytkhs/event-pay-sub012/internal/connect"
	"github.com/rytkhs/event-pay-sub012/internal/event"
	eventdomain "github.com/rytkhs/event-pay-sub012/internal/event/domain"
	"github.com/rytkhs/event-pay-sub012/internal/observability"
	obsmiddleware "github.com/rytkhs/event-pay-sub012/internal/observability/logger"
	"github.com/rytkhs/event-pay-sub012/internal/payout"
	payoutdomain "github.com/rytkhs/event-pay-sub012/internal/payout/domain"
	"github.com/rytkhs/event-pay-sub012/internal/scheduler"
	"github.com/rytkhs/event-pay-sub012/internal/stripeclient"
	"github.com/rytkhs/event-pay-sub012/internal/worker"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	audit.Module,
	admindb.Module,
	event.Module,
	connect.Module,
	stripeclient.Module,
	payout.Module,
	scheduler.Module,
	worker.Module,
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(func(*Server) {}),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug: obsCfg.Debug(),
	}))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, r *gin.Engine) {
	srv := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	db         *gorm.DB
	genID      *snowflake.Node
	clock      clock.Clock
	log        *zap.Logger
	auditSvc   auditdomain.Service
	payoutSvc  payoutdomain.Service
	eventRepo  eventdomain.Repository
	scheduler  *scheduler.Scheduler
	reconciler *worker.Reconciler
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	DB         *gorm.DB
	GenID      *snowflake.Node
	Clock      clock.Clock
	Log        *zap.Logger
	AuditSvc   auditdomain.Service
	PayoutSvc  payoutdomain.Service
	EventRepo  eventdomain.Repository
	Scheduler  *scheduler.Scheduler
	Reconciler *worker.Reconciler
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		db:         p.DB,
		genID:      p.GenID,
		clock:      p.Clock,
		log:        p.Log.Named("server"),
		auditSvc:   p.AuditSvc,
		payoutSvc:  p.PayoutSvc,
		eventRepo:  p.EventRepo,
		scheduler:  p.Scheduler,
		reconciler: p.Reconciler,
	}

	svc.registerTaskRoutes()
	svc.registerWorkerRoutes()
	svc.registerPayoutRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerTaskRoutes() {
	tasks := s.engine.Group("/tasks", s.CronAuthRequired())

	tasks.POST("/payouts", s.RunScheduledPayouts)
	tasks.GET("/payouts", s.RunScheduledPayouts)
}

func (s *Server) registerWorkerRoutes() {
	workerGroup := s.engine.Group("/worker")

	workerGroup.POST("/webhooks", s.HandleRelayWebhook)
}

func (s *Server) registerPayoutRoutes() {
	s.engine.POST("/payouts/:eventID", s.CronAuthRequired(), s.CreateManualPayout)
}
