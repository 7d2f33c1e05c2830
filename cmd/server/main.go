package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/diewo77/go-achats/internal/config"
	"github.com/diewo77/go-achats/internal/db"
	"github.com/diewo77/go-achats/internal/server"
)

var migrateOnlyFlag = flag.Bool("migrate-only", false, "Run DB migrations and exit")

func main() {
	flag.Parse()
	_ = godotenv.Load()
	cfg := config.Load()

	if *migrateOnlyFlag {
		if _, err := db.ConnectAndMigrate(cfg.DatabaseDSN); err != nil {
			log.Fatalf("migrate-only failed: %v", err)
		}
		log.Println("migrations completed; exiting as requested")
		return
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	dbConn, err := db.ConnectAndMigrate(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("connexion base de données", zap.Error(err))
	}
	if err := db.Seed(dbConn, cfg.SeuilAlerte1, cfg.SeuilAlerte2); err != nil {
		logger.Fatal("seed", zap.Error(err))
	}

	app, err := server.NewApp(dbConn, logger, cfg)
	if err != nil {
		logger.Fatal("bootstrap", zap.Error(err))
	}

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: app.Handler()}

	// balayage périodique des demandes en attente de validation
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runRappels(rootCtx, app, logger)

	go func() {
		logger.Info("serveur démarré", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("serveur http", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("signal d'arrêt reçu")
	cancel()
	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("arrêt du serveur", zap.Error(err))
	}
	logger.Info("serveur arrêté proprement")
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func runRappels(ctx context.Context, app *server.App, logger *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := app.Rappels.Run(ctx)
			if err != nil && ctx.Err() == nil {
				logger.Warn("balayage des rappels", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("rappels envoyés", zap.Int("nombre", n))
			}
		}
	}
}
