package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Ourajeenn/MoonOps-V2/internal/app/migrate"
	"github.com/Ourajeenn/MoonOps-V2/internal/archive"
	"github.com/Ourajeenn/MoonOps-V2/internal/gitops"
	httpx "github.com/Ourajeenn/MoonOps-V2/internal/http"
	"github.com/Ourajeenn/MoonOps-V2/internal/repository/postgres"
	"github.com/Ourajeenn/MoonOps-V2/internal/scm"
	"github.com/Ourajeenn/MoonOps-V2/internal/service/auth"
	"github.com/Ourajeenn/MoonOps-V2/internal/service/deploy"
	"github.com/Ourajeenn/MoonOps-V2/internal/service/project"
	"github.com/Ourajeenn/MoonOps-V2/internal/service/provision"
	"github.com/Ourajeenn/MoonOps-V2/internal/service/stats"
	"github.com/Ourajeenn/MoonOps-V2/internal/workspace"
	"github.com/Ourajeenn/MoonOps-V2/pkg/config"
	"github.com/Ourajeenn/MoonOps-V2/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)

	workspaces, err := workspace.New(cfg.WorkspaceRoot)
	if err != nil {
		log.Error("failed to prepare workspace root", "error", err, "root", cfg.WorkspaceRoot)
		os.Exit(1)
	}

	host := scm.New(cfg.GitLabURL, cfg.GitLabToken, cfg.GitLabReadTimeout, cfg.GitLabWriteTimeout, log)
	extractor := archive.New(workspaces, log)
	publisher := gitops.New(cfg.CommitterName, cfg.CommitterEmail, cfg.GitLabToken, cfg.GitStepTimeout, cfg.GitPushTimeout, log)

	authSvc := auth.New(repo, log, cfg)
	projectSvc := project.New(repo, log)
	provisionSvc := provision.New(repo, repo, host, extractor, publisher, workspaces, log)
	deploySvc := deploy.New(repo, repo, repo, repo, log)
	statsSvc := stats.New(repo, repo, log)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, authSvc, projectSvc, provisionSvc, deploySvc, statsSvc, limiter, cfg.UploadMaxBytes, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
