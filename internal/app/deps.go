package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/duetapp/backend/internal/archive"
	"github.com/duetapp/backend/internal/auth"
	"github.com/duetapp/backend/internal/config"
	"github.com/duetapp/backend/internal/db"
	"github.com/duetapp/backend/internal/generation"
	"github.com/duetapp/backend/internal/handlers"
	"github.com/duetapp/backend/internal/pairing"
	"github.com/duetapp/backend/internal/program"
	"github.com/duetapp/backend/internal/repositories"
	"github.com/duetapp/backend/internal/security"
	"github.com/duetapp/backend/internal/storage"
	"github.com/duetapp/backend/internal/tasks"
	"github.com/duetapp/backend/internal/trigger"
)

// buildDependencies wires concrete implementations for the HTTP handlers. The
// returned cleanup function drains the background task runner.
func buildDependencies(ctx context.Context, pool db.Pool, cfg config.Config, logger *slog.Logger) (handlers.Dependencies, func(context.Context) error, error) {
	accounts := repositories.NewPostgresAccountRepository(pool)
	pairingsRepo := repositories.NewPostgresPairingRepository(pool)
	programsRepo := repositories.NewPostgresProgramRepository(pool)
	messagesRepo := repositories.NewPostgresMessageRepository(pool)
	sessionStore := repositories.NewPostgresSessionStore(pool)

	runner := tasks.NewRunner(tasks.Config{QueueSize: cfg.TaskQueueSize, Workers: cfg.TaskWorkers}, logger)

	signer := auth.NewTokenSigner(cfg.TokenSecret)
	sessions := auth.NewManager(signer, cfg.AccessTTL, cfg.RefreshTTL, sessionStore, accounts, runner)

	ledger := pairing.NewLedger(pairingsRepo)
	var generator generation.Generator = generation.NewHTTPClient(cfg.GenerationURL, cfg.GenerationKey, cfg.GenerationModel, cfg.GenerationTimeout)
	if cfg.GenerationCacheTTL > 0 {
		generator = generation.NewCachingGenerator(generator, cfg.GenerationCacheTTL)
	}
	programs := program.NewService(programsRepo, ledger, generator, cfg.ProgramDays, cfg.UnlockStepCount)
	coordinator := trigger.NewCoordinator(messagesRepo, programs, ledger, generator, runner, cfg.GenerationTimeout, logger)

	// Transcript archiving is optional; without a bucket the export hook
	// stays disabled and programs remain readable from the database only.
	var archiver handlers.TranscriptArchiver
	if cfg.Archive.Bucket != "" {
		objectStore, err := storage.NewS3Storage(ctx, cfg.Archive)
		if err != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = runner.Shutdown(shutdownCtx)
			return handlers.Dependencies{}, nil, err
		}
		archiver = archive.NewExporter(objectStore, programsRepo, messagesRepo, runner, logger)
	}

	deps := handlers.Dependencies{
		Accounts: accounts,
		Sessions: sessions,
		Pairings: ledger,
		Programs: programs,
		Messages: coordinator,
		Guard:    security.NewLockoutGuard(cfg.LockoutThreshold, cfg.LockoutWindow, cfg.LockoutDuration),
		Archiver: archiver,
		Verifier: sessions,

		AuthLimiter: security.NewRateLimiter(cfg.AuthRequestsPerMinute, time.Minute, cfg.RateLimitBurst, cfg.RateLimitTTL),
		APILimiter:  security.NewRateLimiter(cfg.APIRequestsPerMinute, time.Minute, cfg.RateLimitBurst, cfg.RateLimitTTL),

		MaxPairings: cfg.MaxPairings,
		UnlockSteps: cfg.UnlockStepCount,
	}

	return deps, runner.Shutdown, nil
}
