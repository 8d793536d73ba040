package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/wind198/timelapse-server/internal/auth"
	"github.com/wind198/timelapse-server/internal/config"
	"github.com/wind198/timelapse-server/internal/mail"
	"github.com/wind198/timelapse-server/internal/store"
	"github.com/wind198/timelapse-server/internal/token"
	"github.com/wind198/timelapse-server/internal/users"
)

//go:embed migrations/*.sql
var migrationsDir embed.FS

func main() {
	// Load config first so we can set log level
	cfg, err := config.LoadConfig()
	if err != nil {
		// Fallback logger before config is available
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}

	// Include source location in log entries at debug level only.
	addSrc := cfg.LogLevel == slog.LevelDebug

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     cfg.LogLevel,
		AddSource: addSrc,
	})))

	// Cancel ctx on SIGINT/SIGTERM; run() shuts down when ctx is done.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run() is a separate func so deferred closes always execute before os.Exit.
	if err := run(ctx, cfg, nil); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// run holds all server logic and returns error instead of calling os.Exit,
// so deferred resource cleanup always runs. Shuts down when ctx is cancelled
// (signal handling is the caller's concern). If ready is non-nil, the
// server's base URL is sent on it once the listener is bound.
func run(ctx context.Context, cfg *config.Config, ready chan<- string) error {
	ps, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to set up postgres store: %w", err)
	}
	defer ps.Close()

	migrationsFS, err := fs.Sub(migrationsDir, "migrations")
	if err != nil {
		return fmt.Errorf("failed to access embedded migrations: %w", err)
	}
	if err := ps.Migrate(ctx, migrationsFS); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Redis is optional: without it the cache, rate limiter, and mail queue
	// degrade to no-ops and Postgres carries every lookup.
	var rs auth.SessionCache = &store.NoopSessionCache{}
	var rl auth.RateLimiter = &store.NoopRateLimiter{}
	var ml mail.Mailer = &mail.NopMailer{}

	if cfg.SMTPHost != "" {
		ml = mail.NewSMTPMailer(mail.SMTPConfig{
			Host:        cfg.SMTPHost,
			Port:        cfg.SMTPPort,
			Username:    cfg.SMTPUsername,
			Password:    cfg.SMTPPassword,
			FromAddress: cfg.SMTPFromAddress,
			FEBaseURL:   cfg.FEBaseURL,
		})
	}

	var queued *mail.QueuedMailer
	if cfg.RedisURL != "" {
		rdb, err := store.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to set up redis client: %w", err)
		}
		defer rdb.Close()

		rs = store.NewRedisStore(rdb)
		rl = store.NewRedisRateLimiter(rdb)

		if cfg.SMTPHost != "" {
			queued = mail.NewQueuedMailer(ml, rdb, mail.DefaultMaxQueueSize)
			ml = queued
		}
	}

	tc := token.NewCodec([]byte(cfg.JWTSecret))

	ah := &auth.Handler{
		PS: ps,
		RS: rs,
		RL: rl,
		ML: ml,
		TC: tc,
		Policy: auth.Policy{
			AccessTokenTTL:  cfg.AccessTokenTTL,
			RefreshTokenTTL: cfg.RefreshTokenTTL,
			ActivateKeyTTL:  cfg.ActivateKeyTTL,
			ResetKeyTTL:     cfg.ResetKeyTTL,
			ResetCooldown:   cfg.ResetCooldown,
			Login: store.RateLimit{
				MaxAttempts: cfg.RateLoginMax,
				Window:      cfg.RateLoginWindow,
				LockoutTTL:  cfg.RateLoginLockout,
			},
			Cookies: auth.CookiePolicy{Dev: cfg.IsDev()},
		},
	}
	uh := &users.Handler{PS: ps, RS: rs, AC: ah}

	if err := seedRootAdmin(ctx, ps, cfg); err != nil {
		return fmt.Errorf("failed to seed root admin: %w", err)
	}

	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server := &http.Server{Handler: buildRouter(cfg.WhiteListedOrigins, ah, uh)}

	// Background workers are cancelled when run() returns.
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	if queued != nil {
		go queued.StartWorker(workerCtx)
	}

	// Cleanup goroutine: removes sessions and temp keys expired >7 days ago,
	// runs every 24h.
	go func() {
		const retention = 7 * 24 * time.Hour
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := ps.CleanupExpiredSessions(workerCtx, retention); err != nil {
					slog.Warn("session cleanup failed", "error", err)
				} else {
					slog.Info("session cleanup complete", "deleted", n)
				}
				if n, err := ps.CleanupExpiredTempKeys(workerCtx, retention); err != nil {
					slog.Warn("temp key cleanup failed", "error", err)
				} else {
					slog.Info("temp key cleanup complete", "deleted", n)
				}
			case <-workerCtx.Done():
				return
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("timelapse server listening", "addr", ln.Addr().String())
		// Send error only if server stops for a reason other than explicit shutdown.
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Signal readiness to caller (used by tests; nil in production).
	if ready != nil {
		ready <- "http://" + ln.Addr().String()
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// seedRootAdmin creates the configured root admin account on first boot.
// No-op when the env vars are unset or the account already exists.
func seedRootAdmin(ctx context.Context, ps *store.PostgresStore, cfg *config.Config) error {
	if cfg.RootAdminEmail == "" || cfg.RootAdminPassword == "" {
		return nil
	}

	_, err := ps.GetUserByEmail(ctx, cfg.RootAdminEmail)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	hash, err := auth.HashPassword(cfg.RootAdminPassword)
	if err != nil {
		return err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return err
	}
	if err := ps.CreateUser(ctx, &store.User{
		ID:           id,
		Email:        cfg.RootAdminEmail,
		PasswordHash: hash,
		Role:         store.RoleRootAdmin,
		IsActive:     true,
	}); err != nil {
		return err
	}
	slog.Info("root admin seeded", "user_id", id)
	return nil
}

// buildRouter wires all routes and middleware.
// Separated from run() for smoke tests.
func buildRouter(origins []string, ah *auth.Handler, uh *users.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Public routes: no token required.
	r.Post("/auth/login", ah.Login)
	r.Post("/auth/request-reset-password", ah.RequestPasswordReset)
	r.Get("/auth/retrieve-tokens-from-tempkey/{id}", ah.RetrieveTokensFromTempKey)

	// Everything below carries token cookies. RefreshTokens must wrap
	// RequireAuth so renewed access tokens ride out on the same response.
	r.Group(func(r chi.Router) {
		r.Use(ah.RefreshTokens)
		r.Use(ah.RequireAuth)

		r.Post("/auth/logout", ah.Logout)
		r.Get("/auth/me", ah.Me)
		r.Patch("/auth/me", ah.UpdateProfile)
		r.Post("/auth/update-password", ah.UpdatePassword)

		r.Group(func(r chi.Router) {
			r.Use(ah.RequireTempKeyType(store.TempKeyActivateAccount))
			r.Post("/auth/activate-account", ah.ActivateAccount)
		})
		r.Group(func(r chi.Router) {
			r.Use(ah.RequireTempKeyType(store.TempKeyResetPassword))
			r.Post("/auth/reset-password", ah.ResetPassword)
		})

		r.Route("/users", func(r chi.Router) {
			r.Use(ah.RequireRole(store.RoleRootAdmin))
			r.Get("/", uh.List)
			r.Post("/", uh.Create)
			r.Get("/{id}", uh.Get)
			r.Patch("/{id}", uh.Update)
			r.Delete("/{id}", uh.Delete)
			r.Post("/{id}/resend-activation-email", uh.ResendActivationEmail)
		})
	})

	return r
}
