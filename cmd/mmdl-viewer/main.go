package main

import (
	"context"
	"crypto/rand"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/poligogo/MattermostDll/internal/viewer"
)

var version = "dev"

func main() {
	// A missing .env file is fine; the environment may be set directly.
	_ = godotenv.Load()

	logger := initLogger(os.Getenv("LOG_LEVEL"))
	defer logger.Sync()

	cfg, addr, err := configFromEnv()
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	srv, err := viewer.New(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to build viewer", zap.Error(err))
	}

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	go func() {
		logger.Info("Viewer listening",
			zap.String("addr", addr),
			zap.String("results", cfg.ResultsDir),
			zap.String("version", version))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown incomplete", zap.Error(err))
	}
}

func configFromEnv() (viewer.Config, string, error) {
	addr := os.Getenv("VIEWER_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	resultsDir := os.Getenv("VIEWER_RESULTS_DIR")
	if resultsDir == "" {
		resultsDir = "results"
	}
	if _, err := os.Stat(resultsDir); err != nil {
		return viewer.Config{}, "", err
	}

	password := os.Getenv("VIEWER_PASSWORD")
	if password == "" {
		log.Fatal("VIEWER_PASSWORD must be set")
	}

	secret := []byte(os.Getenv("VIEWER_SESSION_SECRET"))
	if len(secret) == 0 {
		// Sessions then survive only as long as this process.
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return viewer.Config{}, "", err
		}
	}

	idleTimeout := 30 * time.Minute
	if raw := os.Getenv("VIEWER_IDLE_TIMEOUT_MINUTES"); raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err != nil {
			return viewer.Config{}, "", err
		}
		idleTimeout = time.Duration(minutes) * time.Minute
	}

	return viewer.Config{
		ResultsDir:    resultsDir,
		Password:      password,
		SessionSecret: secret,
		IdleTimeout:   idleTimeout,
	}, addr, nil
}

func initLogger(level string) *zap.Logger {
	logLevel := zapcore.InfoLevel
	switch level {
	case "debug":
		logLevel = zapcore.DebugLevel
	case "warn":
		logLevel = zapcore.WarnLevel
	case "error":
		logLevel = zapcore.ErrorLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(os.Stderr),
		logLevel,
	)
	return zap.New(core, zap.AddCaller())
}
