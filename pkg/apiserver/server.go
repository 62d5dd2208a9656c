package apiserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/flowforge/automation/pkg/apiserver/handlers"
	"github.com/flowforge/automation/pkg/apiserver/middleware"
	"github.com/flowforge/automation/pkg/auth"
	"github.com/flowforge/automation/pkg/config"
	"github.com/flowforge/automation/pkg/store"
)

type Server struct {
	router   *gin.Engine
	events   handlers.EventStore
	outcomes store.OutcomeStore
	tokens   *auth.TokenManager
	cfg      *config.Config
	logger   *zap.Logger
}

func NewServer(events handlers.EventStore, outcomes store.OutcomeStore, cfg *config.Config, logger *zap.Logger) *Server {
	s := &Server{
		events:   events,
		outcomes: outcomes,
		tokens:   auth.NewTokenManager([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL, cfg.Auth.Issuer),
		cfg:      cfg,
		logger:   logger,
	}
	s.setupRouter()
	return s
}

// StartRetention prunes the outcome log hourly. ClickHouse expires rows
// through its table TTL, so nothing runs for that driver.
func (s *Server) StartRetention(ctx context.Context) {
	if s.cfg.Logging.StorageDriver == "clickhouse" || s.outcomes == nil {
		return
	}
	retentionDays := s.cfg.Logging.RetentionDays
	if retentionDays <= 0 {
		retentionDays = 7
	}

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.logger.Info("starting outcome retention cleanup", zap.Int("retention_days", retentionDays))
			if err := s.outcomes.DeleteOld(ctx, retentionDays); err != nil {
				s.logger.Error("failed to cleanup old outcomes", zap.Error(err))
			}
		}
	}
}

func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.CORS())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")
	{
		api.Use(middleware.Auth(s.tokens))

		eventHandler := handlers.NewEventHandler(s.events, s.outcomes, s.logger)
		api.GET("/events/:id", middleware.RequireScope(auth.ScopeEventsRead), eventHandler.Get)
		api.GET("/events/:id/outcomes", middleware.RequireScope(auth.ScopeEventsRead), eventHandler.Outcomes)
		api.POST("/events/:id/requeue", middleware.RequireScope(auth.ScopeEventsWrite), eventHandler.Requeue)

		offeringHandler := handlers.NewOfferingHandler()
		api.GET("/offerings/:mask", offeringHandler.Get)
	}

	s.router = r
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) Tokens() *auth.TokenManager {
	return s.tokens
}
