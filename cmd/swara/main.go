package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/mahesa/swara/adapters/agent"
	"github.com/mahesa/swara/adapters/audio"
	"github.com/mahesa/swara/domain/entities"
	"github.com/mahesa/swara/domain/repositories"
	"github.com/mahesa/swara/internal/api"
	"github.com/mahesa/swara/internal/websocket"
	"github.com/mahesa/swara/usecase"
)

// logNotifier reports finalized sessions; the hub carries the detail.
type logNotifier struct {
	logger *zap.Logger
}

func (n *logNotifier) PlaybackFinished(canonicalID string, decision entities.CompletionDecision) {
	n.logger.Info("Playback finished",
		zap.String("sessionID", canonicalID),
		zap.String("decision", string(decision)))
}

func main() {
	// .env is optional; real deployments set the environment directly.
	godotenv.Load()

	logger, _ := zap.NewProduction()
	if os.Getenv("SWARA_DEV") != "" {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	// Initialize the renderer. The mock keeps the full pipeline usable on
	// machines without an audio device.
	var renderer repositories.AudioRenderer
	if os.Getenv("SWARA_MOCK_AUDIO") != "" {
		logger.Info("Using mock audio renderer")
		renderer = audio.NewMockRenderer(entities.DefaultAudioFormat)
	} else {
		otoRenderer, err := audio.NewOtoRenderer(entities.DefaultAudioFormat, logger)
		if err != nil {
			logger.Fatal("Failed to initialize audio device", zap.Error(err))
		}
		renderer = otoRenderer
	}
	defer renderer.Close()

	svc := usecase.NewPlaybackService(usecase.Config{}, renderer, &logNotifier{logger: logger}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop()

	// Telemetry feed hub
	hub := websocket.NewHub(svc.Diagnostics(), logger)
	go hub.Run()
	svc.SubscribeState(hub.BroadcastState)

	broadcaster := websocket.NewDiagnosticsBroadcaster(hub, 5*time.Second, logger)
	broadcaster.Start()
	defer broadcaster.Stop()

	// Upstream agent connection
	agentURL := os.Getenv("SWARA_AGENT_URL")
	if agentURL != "" {
		client := agent.NewClient(agent.Config{
			URL:   agentURL,
			Token: os.Getenv("SWARA_AGENT_TOKEN"),
		}, svc, logger)
		go client.Run(ctx)
		logger.Info("Agent stream enabled", zap.String("url", agentURL))
	} else {
		logger.Warn("SWARA_AGENT_URL not set, no upstream stream")
	}

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	api.InitRoutes(e, api.Deps{
		Engine:        svc.Engine(),
		Diagnostics:   svc.Diagnostics(),
		Hub:           hub,
		FeedAccessKey: os.Getenv("SWARA_FEED_ACCESS_KEY"),
		Logger:        logger,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("port", port))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
