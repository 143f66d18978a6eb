// Package main is the entry point for the paseod daemon: the connection
// substrate, session multiplexer, agent manager, and checkout engine in one
// process. Everything speaks over one websocket endpoint plus a small
// pairing/relay HTTP surface; there is no separate REST API.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/paseo-dev/paseo/internal/common/config"
	"github.com/paseo-dev/paseo/internal/common/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting paseod")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	substrate, err := wirePaseoSubstrate(ctx, cfg, log, router)
	if err != nil {
		log.Fatal("failed to wire paseo substrate", zap.Error(err))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "paseo", "serverId": substrate.serverID})
	})

	addr := cfg.Daemon.Listen
	if addr == "" {
		addr = fmt.Sprintf(":%d", cfg.Server.Port)
	}
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("paseod listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down paseod")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}

	// The substrate's relay GC loop and every session's context are already
	// unwound by cancel() above. Timeline-append persistence runs on
	// background goroutines that are not awaited here, so a write still in
	// flight at exit can be lost. Agent runs are subprocess-per-turn so
	// there is no running process to wait out past the ones the session
	// scopes already cancelled.
	log.Info("paseod stopped")
}
