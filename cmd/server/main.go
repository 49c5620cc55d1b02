package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/salonsano/internal/config"
	"github.com/salonsano/internal/db"
	"github.com/salonsano/internal/handler"
	"github.com/salonsano/internal/imagecodec"
	"github.com/salonsano/internal/router"
	"github.com/salonsano/internal/service"
	"github.com/salonsano/internal/storage"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	flagSet := pflag.NewFlagSet("salonsano", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "HTTP listen address")
	flagSet.StringVar(&cfg.DatabasePath, "db", cfg.DatabasePath, "SQLite database path")
	memory := flagSet.Bool("memory", false, "keep every replica in process memory instead of SQLite")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	logger, err := newLogger(cfg.GinMode)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.InsecureSessionSecret() {
		logger.Warn("SESSION_SECRET is not set; replica cookies are signed with the public development key")
	}

	factory, err := mediumFactory(cfg.DatabasePath, *memory)
	if err != nil {
		return err
	}

	registry := service.NewRegistry(factory, service.WorkspaceConfig{
		Budget:            cfg.StorageBudget,
		DefaultCredential: cfg.DefaultAdminPassword,
	}, logger, service.WithMaxWorkspaces(cfg.ReplicaCacheSize))

	// 设置并运行 Gin 服务器
	gin.SetMode(cfg.GinMode)
	api := handler.NewAPI(registry, imagecodec.New(), logger)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router.SetupRouter(api, cfg.SessionSecret),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			zap.String("addr", cfg.ListenAddr),
			zap.Bool("memory", *memory),
			zap.String("budget", storage.FormatSize(cfg.StorageBudget)),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("run server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	return nil
}

func newLogger(ginMode string) (*zap.Logger, error) {
	if ginMode == gin.DebugMode {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// mediumFactory 选择每个 replica 的存储介质：SQLite 表或进程内存。
func mediumFactory(databasePath string, memory bool) (service.MediumFactory, error) {
	if memory {
		return func(string) (storage.Medium, error) {
			return storage.NewMemoryMedium(0), nil
		}, nil
	}

	gdb, err := db.Open(databasePath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return func(replicaID string) (storage.Medium, error) {
		return db.NewMedium(gdb, replicaID)
	}, nil
}
