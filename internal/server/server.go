package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/luisterslim/billing/internal/account"
	accountdomain "github.com/luisterslim/billing/internal/account/domain"
	"github.com/luisterslim/billing/internal/audit"
	auditdomain "github.com/luisterslim/billing/internal/audit/domain"
	"github.com/luisterslim/billing/internal/auth"
	authservice "github.com/luisterslim/billing/internal/auth/service"
	"github.com/luisterslim/billing/internal/catalog"
	"github.com/luisterslim/billing/internal/config"
	"github.com/luisterslim/billing/internal/observability"
	obsmiddleware "github.com/luisterslim/billing/internal/observability/logger"
	obsmetrics "github.com/luisterslim/billing/internal/observability/metrics"
	obstracing "github.com/luisterslim/billing/internal/observability/tracing"
	"github.com/luisterslim/billing/internal/providers/billing"
	"github.com/luisterslim/billing/internal/quota"
	quotadomain "github.com/luisterslim/billing/internal/quota/domain"
	"github.com/luisterslim/billing/internal/ratelimit"
	"github.com/luisterslim/billing/internal/retention"
	retentiondomain "github.com/luisterslim/billing/internal/retention/domain"
	"github.com/luisterslim/billing/internal/subscription"
	subscriptiondomain "github.com/luisterslim/billing/internal/subscription/domain"
	"github.com/luisterslim/billing/internal/topup"
	topupdomain "github.com/luisterslim/billing/internal/topup/domain"
	"github.com/luisterslim/billing/internal/usage"
	usagedomain "github.com/luisterslim/billing/internal/usage/domain"
	"github.com/luisterslim/billing/internal/webhook"
	webhookdomain "github.com/luisterslim/billing/internal/webhook/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	billing.Module,
	catalog.Module,
	audit.Module,
	account.Module,
	retention.Module,
	usage.Module,
	topup.Module,
	subscription.Module,
	quota.Module,
	webhook.Module,
	auth.Module,
	ratelimit.Module,
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg config.Config, log *zap.Logger, s *Server) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
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
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	catalog         *catalog.Catalog
	verifier        *authservice.Verifier
	accountSvc      accountdomain.Service
	auditSvc        auditdomain.Service
	retentionSvc    retentiondomain.Service
	usageSvc        usagedomain.Service
	topUpSvc        topupdomain.Service
	subscriptionSvc subscriptiondomain.Service
	quotaSvc        quotadomain.Service
	webhookSvc      webhookdomain.Service
	debitLimiter    *ratelimit.DebitLimiter
	obsMetrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Log           *zap.Logger
	Catalog       *catalog.Catalog
	Verifier      *authservice.Verifier
	Accounts      accountdomain.Service
	Audit         auditdomain.Service
	Retention     retentiondomain.Service
	Usage         usagedomain.Service
	TopUps        topupdomain.Service
	Subscriptions subscriptiondomain.Service
	Quota         quotadomain.Service
	Webhooks      webhookdomain.Service
	DebitLimiter  *ratelimit.DebitLimiter `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics     `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http"),
		catalog:         p.Catalog,
		verifier:        p.Verifier,
		accountSvc:      p.Accounts,
		auditSvc:        p.Audit,
		retentionSvc:    p.Retention,
		usageSvc:        p.Usage,
		topUpSvc:        p.TopUps,
		subscriptionSvc: p.Subscriptions,
		quotaSvc:        p.Quota,
		webhookSvc:      p.Webhooks,
		debitLimiter:    p.DebitLimiter,
		obsMetrics:      p.ObsMetrics,
	}

	svc.registerAPIRoutes()
	svc.registerWebhookRoutes()
	svc.registerInternalRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.RequireAccount())

	// -------- Usage --------
	api.GET("/usage", s.GetUsage)
	api.POST("/usage/debits", s.DebitRateLimit(), s.DebitUsage)
	api.GET("/usage/events", s.ListUsageEvents)

	// -------- Top-ups --------
	api.GET("/topups", s.ListTopUps)
	api.POST("/topups/confirm", s.ConfirmTopUp)

	// -------- Subscriptions --------
	api.GET("/subscriptions", s.GetSubscription)
	api.POST("/subscriptions/sync", s.SyncSubscription)

	// -------- Catalog --------
	api.GET("/plans", s.ListPlans)

	// -------- Retention --------
	api.GET("/retention", s.GetRetention)
	api.PUT("/retention", s.UpdateRetention)

	// -------- Billing customer --------
	api.POST("/billing/customer", s.CreateBillingCustomer)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/api/webhooks/stripe", s.HandleStripeWebhook)
}

func (s *Server) registerInternalRoutes() {
	internal := s.engine.Group("/internal", s.RequireInternalToken())

	internal.GET("/reconciliation", s.GetReconciliation)
	internal.POST("/referrals", s.CreditReferral)
	internal.GET("/accounts/:accountId/audit", s.ListAuditLogs)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
