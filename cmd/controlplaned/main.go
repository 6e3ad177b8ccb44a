package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/agentctl/core/internal/app"
	"github.com/agentctl/core/internal/httpapi"
	"github.com/agentctl/core/internal/platform/database"
	"github.com/agentctl/core/pkg/config"
	"github.com/agentctl/core/pkg/logger"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (defaults to config)")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides config/env)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLog := logger.New(logger.LoggingConfig{
		Level: cfg.Logging.Level, Format: cfg.Logging.Format,
		Output: cfg.Logging.Output, FilePrefix: cfg.Logging.FilePrefix,
	})

	dsnVal := resolveDSN(*dsn, cfg)
	if dsnVal == "" {
		appLog.Fatal("no database DSN configured: set --dsn, DATABASE_DSN, or DATABASE_HOST/DATABASE_NAME")
	}

	rootCtx := context.Background()
	db, err := database.Open(rootCtx, dsnVal, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	if err != nil {
		appLog.Fatalf("connect to postgres: %v", err)
	}
	defer db.Close()

	application, err := app.New(rootCtx, db, cfg, appLog)
	if err != nil {
		appLog.Fatalf("initialise application: %v", err)
	}

	if err := application.Start(rootCtx); err != nil {
		appLog.Fatalf("start application: %v", err)
	}

	listenAddr := determineAddr(*addr, cfg)
	srv := &http.Server{
		Addr:    listenAddr,
		Handler: httpapi.NewRouter(application),
	}

	go func() {
		appLog.Infof("control plane listening on %s", listenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Fatalf("http server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Errorf("http shutdown: %v", err)
	}
	if err := application.Stop(shutdownCtx); err != nil {
		appLog.Fatalf("shutdown: %v", err)
	}
}

func determineAddr(flagAddr string, cfg *config.Config) string {
	if addr := strings.TrimSpace(flagAddr); addr != "" {
		return addr
	}
	host := strings.TrimSpace(cfg.Server.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	return fmt.Sprintf("%s:%d", host, port)
}

func resolveDSN(flagDSN string, cfg *config.Config) string {
	if trimmed := strings.TrimSpace(flagDSN); trimmed != "" {
		return trimmed
	}
	if envDSN := strings.TrimSpace(os.Getenv("DATABASE_URL")); envDSN != "" {
		return envDSN
	}
	if cfg.Database.DSN != "" {
		return strings.TrimSpace(cfg.Database.DSN)
	}
	if cfg.Database.Host != "" && cfg.Database.Name != "" {
		return cfg.Database.ConnectionString()
	}
	return ""
}
