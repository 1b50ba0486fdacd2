// Package main runs the live-shopping signaling relay with session API and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/glowcart/live/config"
	"github.com/glowcart/live/internal/auth"
	"github.com/glowcart/live/internal/middleware"
	"github.com/glowcart/live/internal/relay"
	"github.com/glowcart/live/internal/sessions"
	"github.com/glowcart/live/pkg/database"
	"github.com/glowcart/live/pkg/redis"
	"github.com/glowcart/live/pkg/response"
	"github.com/glowcart/live/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ThumbnailsBucket:     cfg.AWS.ThumbnailsBucket,
			ReplaysBucket:        cfg.AWS.ReplaysBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret)
	redisPubSub := relay.NewRedisPubSub(rdb.Client, logger)
	hub := relay.NewHub(logger, redisPubSub, redisPubSub)
	counters := relay.NewCounters(rdb.Client)

	// Mirror the connected-participant count into Redis so session reads
	// stay consistent across relay instances.
	hub.SetAudienceChangeHandler(func(sessionID uuid.UUID, count int) {
		_ = counters.SetViewers(context.Background(), sessionID, count)
	})

	sessionRepo := sessions.NewRepository(pool)
	sessionHandler := relay.NewHandler(sessionRepo, hub, counters, s3Client, logger)

	jwtValidate := func(token string) (userID, role string, err error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return "", "", err
		}
		return claims.UserID.String(), claims.Role, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Public browse surface
	router.GET("/sessions/live", sessionHandler.ListLive)
	router.GET("/sessions/:id", sessionHandler.GetByID)
	router.GET("/sessions/:id/replay", sessionHandler.ReplayURL)

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.POST("/sessions", middleware.RequireRole("seller"), sessionHandler.Create)
		api.POST("/sessions/:id/end", middleware.RequireRole("seller"), sessionHandler.End)
		api.POST("/sessions/:id/thumbnail-upload-url", middleware.RequireRole("seller"), sessionHandler.ThumbnailUploadURL)
		api.POST("/sessions/:id/replay-upload-url", middleware.RequireRole("seller"), sessionHandler.ReplayUploadURL)
		api.POST("/sessions/:id/like", sessionHandler.Like)
	}

	// WebSocket signaling (token in query; no Authorization header required)
	router.GET("/ws", relay.ServeWs(hub, logger, jwtValidate))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("relay listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("relay stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
