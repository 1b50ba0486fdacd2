// Package main runs a headless broadcast host: it acquires a media source,
// connects to the signaling relay, and serves every viewer that joins the
// session until interrupted.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	webrtc "github.com/pion/webrtc/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/glowcart/live/config"
	"github.com/glowcart/live/internal/broadcast"
	"github.com/glowcart/live/internal/media"
	"github.com/glowcart/live/internal/models"
	"github.com/glowcart/live/internal/sessions"
	"github.com/glowcart/live/internal/signaling"
	"github.com/glowcart/live/pkg/database"
)

const mediaWatchInterval = 5 * time.Second

func main() {
	var (
		sessionFlag = flag.String("session", "", "existing session id to host (created when empty)")
		sellerFlag  = flag.String("seller", "", "seller user id (required)")
		titleFlag   = flag.String("title", "Live drop", "session title when creating")
		pinFlag     = flag.String("pin", "", "product id to pin once broadcasting")
	)
	flag.Parse()

	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	sellerID, err := uuid.Parse(*sellerFlag)
	if err != nil {
		logger.Fatal("seller flag must be a uuid", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	repo := sessions.NewRepository(pool)

	sessionID, err := resolveSession(ctx, repo, *sessionFlag, sellerID, *titleFlag)
	if err != nil {
		logger.Fatal("resolve session", zap.Error(err))
	}

	source := &media.FileSource{
		VideoPath: cfg.Media.VideoPath,
		AudioPath: cfg.Media.AudioPath,
		Loop:      cfg.Media.Loop,
		Logger:    logger,
	}

	iceServers := make([]webrtc.ICEServer, 0, len(cfg.WebRTC.ICEUrls))
	for _, u := range cfg.WebRTC.ICEUrls {
		if u != "" {
			iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{u}})
		}
	}

	channel := signaling.NewChannel(cfg.Relay.URL, cfg.Relay.Token, signaling.WebSocketDialer{}, logger)

	orch, err := broadcast.New(broadcast.Config{
		SessionID: sessionID,
		Identity:  broadcast.Identity{UserID: sellerID, IsSeller: true},
		Channel:   channel,
		Registry:  repo,
		Notifier:  logNotifier{logger: logger},
		Media:     source,
		NewPeer:   broadcast.NewPionFactory(iceServers),
		Logger:    logger,
		Events: broadcast.Events{
			OnStateChange: func(state broadcast.State) {
				logger.Info("broadcast state", zap.String("state", string(state)))
			},
		},
	})
	if err != nil {
		logger.Fatal("orchestrator", zap.Error(err))
	}

	if err := orch.Start(ctx); err != nil {
		logger.Fatal("start broadcast", zap.Error(err))
	}

	if *pinFlag != "" {
		// Give media acquisition a moment so the pin lands while live.
		time.AfterFunc(2*time.Second, func() { orch.PinProduct(*pinFlag) })
	}

	// Source files can run out mid-broadcast. Poll for a dead video track
	// and let the orchestrator swap in a fresh one on every sender.
	watchCtx, watchCancel := context.WithCancel(ctx)
	defer watchCancel()
	go func() {
		ticker := time.NewTicker(mediaWatchInterval)
		defer ticker.Stop()
		for {
			select {
			case <-watchCtx.Done():
				return
			case <-ticker.C:
				orch.OnForeground(watchCtx)
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	watchCancel()
	endCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	orch.EndSession(endCtx)
	logger.Info("host stopped", zap.String("session_id", sessionID.String()))
}

// resolveSession loads the session to host, creating a fresh live session
// when no id was given.
func resolveSession(ctx context.Context, repo *sessions.Repository, sessionFlag string, sellerID uuid.UUID, title string) (uuid.UUID, error) {
	if sessionFlag != "" {
		return uuid.Parse(sessionFlag)
	}
	s := &models.LiveSession{
		SellerID: sellerID,
		Title:    title,
		Status:   models.StatusLive,
	}
	if err := repo.Create(ctx, s); err != nil {
		return uuid.Nil, err
	}
	return s.ID, nil
}

// logNotifier routes user-facing notifications to the log; a headless host
// has no dialog surface.
type logNotifier struct {
	logger *zap.Logger
}

func (n logNotifier) NotifyError(title, message string) {
	n.logger.Error(title, zap.String("detail", message))
}

func (n logNotifier) NotifyInfo(title, message string) {
	n.logger.Info(title, zap.String("detail", message))
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
