package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/chatwave-go/internal/services/billing/handlers"
	"github.com/chatwave-go/internal/services/billing/lifecycle"
	"github.com/chatwave-go/internal/services/billing/repository"
	"github.com/chatwave-go/internal/services/billing/service"
	stripeclient "github.com/chatwave-go/internal/services/billing/stripe"
	"github.com/chatwave-go/internal/services/billing/sweeper"
	"github.com/chatwave-go/pkg/auth/jwt"
	"github.com/chatwave-go/pkg/config"
	"github.com/chatwave-go/pkg/database"
	"github.com/chatwave-go/pkg/events"
	"github.com/chatwave-go/pkg/logger"
	jwtmiddleware "github.com/chatwave-go/pkg/middleware/auth"
	httpmiddleware "github.com/chatwave-go/pkg/middleware/http"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	config     *config.Config
	logger     logger.Logger
	httpServer *http.Server
	db         *database.DB
	redis      *redis.Client
	eventBus   events.EventBus
	sweeper    *sweeper.Sweeper
}

func New(cfg *config.Config, log logger.Logger) (*Server, error) {
	db, err := database.New(cfg.Database.ToDatabaseConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	eventBus, err := events.NewKafkaEventBus(cfg.Kafka.ToKafkaConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create event bus: %w", err)
	}

	jwtManager, err := jwt.NewManager(jwt.Config{
		SecretKey:   cfg.Auth.JWT.SecretKey,
		ExpiryHours: cfg.Auth.JWT.ExpiryHours,
		Issuer:      cfg.Auth.JWT.Issuer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create JWT manager: %w", err)
	}

	payments := stripeclient.NewClient(cfg.Stripe.SecretKey)
	manager := lifecycle.NewManager(payments, cfg.Stripe.FrontendURL, log)

	billingRepo := repository.New(db)
	if err := billingRepo.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate billing tables: %w", err)
	}

	billingService := service.New(manager, payments, billingRepo, redisClient, eventBus, log)
	billingHandlers := handlers.New(billingService, log)

	sessionSweeper := sweeper.New(billingService, billingRepo, log)

	router := setupRouter(billingHandlers, jwtManager, redisClient, log)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	return &Server{
		config:     cfg,
		logger:     log,
		httpServer: httpServer,
		db:         db,
		redis:      redisClient,
		eventBus:   eventBus,
		sweeper:    sessionSweeper,
	}, nil
}

func setupRouter(h *handlers.Handlers, jwtManager *jwt.Manager, redisClient *redis.Client, log logger.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmiddleware.CORS())
	router.Use(httpmiddleware.RequestLogger(log))
	router.Use(httpmiddleware.Metrics("billing"))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "billing"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authMiddleware := jwtmiddleware.NewJWTMiddleware(jwtManager, redisClient)
	api := router.Group("/", authMiddleware.Handle())
	h.RegisterRoutes(api)

	return router
}

func (s *Server) Start() error {
	if err := s.sweeper.Start(); err != nil {
		return fmt.Errorf("failed to start reconciliation sweeper: %w", err)
	}

	s.logger.Info("Starting HTTP server", "port", s.config.Server.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	s.sweeper.Stop()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	if err := s.eventBus.Close(); err != nil {
		s.logger.Error("Failed to close event bus", "error", err)
	}
	if err := s.redis.Close(); err != nil {
		s.logger.Error("Failed to close Redis", "error", err)
	}
	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close database", "error", err)
	}
	return nil
}
