// Package server is the HTTP surface of the platform: auth, the automation
// catalog, grant and ledger endpoints, the provisioning gateway and payment
// callbacks.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	"github.com/zimmerhq/zimmer/internal/auth"
	authdomain "github.com/zimmerhq/zimmer/internal/auth/domain"
	"github.com/zimmerhq/zimmer/internal/automation"
	automationdomain "github.com/zimmerhq/zimmer/internal/automation/domain"
	"github.com/zimmerhq/zimmer/internal/clock"
	"github.com/zimmerhq/zimmer/internal/config"
	"github.com/zimmerhq/zimmer/internal/kb"
	kbdomain "github.com/zimmerhq/zimmer/internal/kb/domain"
	"github.com/zimmerhq/zimmer/internal/ledger"
	ledgerdomain "github.com/zimmerhq/zimmer/internal/ledger/domain"
	"github.com/zimmerhq/zimmer/internal/migration"
	"github.com/zimmerhq/zimmer/internal/observability"
	obsmiddleware "github.com/zimmerhq/zimmer/internal/observability/logger"
	obsmetrics "github.com/zimmerhq/zimmer/internal/observability/metrics"
	obstracing "github.com/zimmerhq/zimmer/internal/observability/tracing"
	"github.com/zimmerhq/zimmer/internal/payment"
	paymentdomain "github.com/zimmerhq/zimmer/internal/payment/domain"
	"github.com/zimmerhq/zimmer/internal/prober"
	"github.com/zimmerhq/zimmer/internal/provisioning"
	provisioningdomain "github.com/zimmerhq/zimmer/internal/provisioning/domain"
	"github.com/zimmerhq/zimmer/internal/ratelimit"
	"github.com/zimmerhq/zimmer/pkg/db"
)

var Module = fx.Module("http.server",
	config.Module,
	observability.Module,
	clock.Module,
	db.Module,
	migration.Module,
	fx.Provide(NewEngine),
	fx.Provide(provideNode),
	auth.Module,
	automation.Module,
	ledger.Module,
	provisioning.Module,
	kb.Module,
	payment.Module,
	ratelimit.Module,
	prober.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func provideNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
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
	engine        *gin.Engine
	cfg           config.Config
	clock         clock.Clock
	startedAt     time.Time
	authSvc       authdomain.Service
	automationSvc automationdomain.Service
	ledgerSvc     ledgerdomain.Service
	provisionSvc  provisioningdomain.Service
	kbSvc         kbdomain.Service
	paymentSvc    paymentdomain.Service
	limiter       *ratelimit.ConsumeLimiter
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Clock         clock.Clock
	AuthSvc       authdomain.Service
	AutomationSvc automationdomain.Service
	LedgerSvc     ledgerdomain.Service
	ProvisionSvc  provisioningdomain.Service
	KBSvc         kbdomain.Service
	PaymentSvc    paymentdomain.Service
	Limiter       *ratelimit.ConsumeLimiter
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		clock:         p.Clock,
		startedAt:     p.Clock.Now(),
		authSvc:       p.AuthSvc,
		automationSvc: p.AutomationSvc,
		ledgerSvc:     p.LedgerSvc,
		provisionSvc:  p.ProvisionSvc,
		kbSvc:         p.KBSvc,
		paymentSvc:    p.PaymentSvc,
		limiter:       p.Limiter,
	}

	s.registerAuthRoutes()
	s.registerAPIRoutes()

	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAuthRoutes() {
	grp := s.engine.Group("/auth")

	grp.POST("/register", s.Register)
	grp.POST("/login", s.Login)
	grp.GET("/me", s.AuthRequired(), s.Me)
}

func (s *Server) registerAPIRoutes() {
	s.engine.GET("/health", s.Health)

	api := s.engine.Group("/api")

	// -------- Automations --------
	api.GET("/automations", s.ListAutomations)
	api.GET("/automations/:id", s.GetAutomation)
	api.POST("/automations", s.AuthRequired(), s.AdminRequired(), s.CreateAutomation)

	// -------- Grants --------
	api.POST("/grants", s.AuthRequired(), s.CreateGrant)
	api.GET("/grants", s.AuthRequired(), s.ListGrants)
	api.GET("/grants/:id", s.AuthRequired(), s.GetGrant)
	api.GET("/grants/:id/events", s.AuthRequired(), s.ListGrantEvents)
	api.POST("/grants/:id/provision", s.AuthRequired(), s.ProvisionGrant)

	// -------- Knowledge base --------
	api.GET("/grants/:id/kb/status", s.AuthRequired(), s.KBStatus)
	api.POST("/grants/:id/kb/reset", s.AuthRequired(), s.KBReset)

	// -------- Usage --------
	// Called by automation services, authenticated by shared secret.
	s.engine.POST("/usage/consume", s.ConsumeRateLimit(), s.Consume)

	// -------- Payments --------
	api.POST("/payments", s.AuthRequired(), s.CreatePayment)
	api.GET("/grants/:id/payments", s.AuthRequired(), s.ListGrantPayments)
	api.POST("/payments/webhooks/:provider", s.HandlePaymentWebhook)
}
