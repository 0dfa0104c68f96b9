package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"shetmall-auth/internal/auth"
	"shetmall-auth/internal/config"
	"shetmall-auth/internal/db"
	"shetmall-auth/internal/mail"
	"shetmall-auth/internal/maintenance"
	"shetmall-auth/internal/media"
	"shetmall-auth/internal/observability"
	"shetmall-auth/internal/otp"
	"shetmall-auth/internal/password"
	"shetmall-auth/internal/token"
	"shetmall-auth/internal/users"
)

const (
	apiPrefix    = "/api/v1/user"
	avatarFolder = "avatars"
)

type Options struct {
	LoadDotEnv bool
	// ForceMigrations runs migrations regardless of RUN_MIGRATIONS_ON_STARTUP.
	ForceMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Config  config.Config
	Logger  *observability.Logger
	Close   func() error
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv, cfg.Release); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(cfg.DBMaxOpenConns)
	database.SetMaxIdleConns(cfg.DBMaxIdleConns)
	database.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	database.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := database.PingContext(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if options.ForceMigrations || cfg.RunMigrations {
		if err := db.RunMigrations(ctx, database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	hasher, err := password.New(cfg.PasswordHasher, cfg.BcryptCost)
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("init password hasher: %w", err)
	}

	issuer, err := token.NewIssuer(token.Config{
		AccessSecret:  cfg.AccessTokenSecret,
		AccessTTL:     cfg.AccessTokenExpiry,
		RefreshSecret: cfg.RefreshTokenSecret,
		RefreshTTL:    cfg.RefreshTokenExpiry,
	})
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("init token issuer: %w", err)
	}

	cloudinaryClient, err := media.NewCloudinary(cfg.CloudinaryURL, avatarFolder)
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("init cloudinary: %w", err)
	}

	userStore := users.NewPostgresStore(database)
	authService := auth.NewService(userStore, hasher, issuer, cloudinaryClient)
	authService.WithDependencyTimeout(cfg.DependencyTimeout)

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisOptions, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		redisClient = redis.NewClient(redisOptions)
	}

	var otpHandler *otp.Handler
	if cfg.MailEnabled() {
		sender, err := mail.NewSMTPSender(mail.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			Timeout:  cfg.DependencyTimeout,
		})
		if err != nil {
			closeAll(database, redisClient)
			return nil, fmt.Errorf("init smtp sender: %w", err)
		}

		var codes otp.CodeStore
		if redisClient != nil {
			codes = otp.NewRedisStore(redisClient, 0)
		}
		otpService := otp.NewService(sender, codes, cfg.OTPTTL)
		otpService.WithDependencyTimeout(cfg.DependencyTimeout)
		otpHandler = otp.NewHandler(otpService, logger)
	} else {
		logger.Warn("otp_disabled", map[string]any{"reason": "SMTP_HOST is not set"})
	}

	ips := observability.ClientIPResolver{TrustedHops: cfg.TrustedProxyHops}
	handler := newRouter(routes{
		auth:    auth.NewHandler(authService, auth.CookieOptions{Secure: cfg.SecureCookies()}, ips, logger),
		service: authService,
		limiter: auth.NewLoginRateLimiter(cfg.LoginRateLimitRPS, cfg.LoginRateLimitBurst, ips),
		otp:     otpHandler,
		cleanup: maintenance.NewCleanupHandler(userStore, logger, cfg.CronSecret, cfg.CleanupBatchSize),
		health:  healthHandler(database, redisClient),
	})
	handler = observability.RequestLoggingMiddleware(logger, ips, observability.RecoverMiddleware(logger, handler))
	handler = observability.CORSMiddleware(cfg.CORSOrigin, handler)

	return &Runtime{
		Handler: handler,
		Config:  cfg,
		Logger:  logger,
		Close: func() error {
			observability.FlushSentry()
			closeAll(database, redisClient)
			_ = logger.Sync()
			return nil
		},
	}, nil
}

type routes struct {
	auth    *auth.Handler
	service *auth.Service
	limiter *auth.LoginRateLimiter
	otp     *otp.Handler
	cleanup *maintenance.CleanupHandler
	health  http.HandlerFunc
}

func newRouter(r routes) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST "+apiPrefix+"/register", r.auth.Register)
	mux.Handle("POST "+apiPrefix+"/login", r.limiter.Middleware(http.HandlerFunc(r.auth.Login)))
	mux.HandleFunc("POST "+apiPrefix+"/refresh-token", r.auth.Refresh)
	mux.Handle("POST "+apiPrefix+"/logout", auth.Middleware(r.service, http.HandlerFunc(r.auth.Logout)))
	mux.Handle("GET "+apiPrefix+"/me", auth.Middleware(r.service, http.HandlerFunc(r.auth.Me)))

	if r.otp != nil {
		mux.HandleFunc("POST "+apiPrefix+"/otp", r.otp.Send)
		if r.otp.CanVerify() {
			mux.HandleFunc("POST "+apiPrefix+"/otp/verify", r.otp.Verify)
		}
	}

	mux.HandleFunc("GET /internal/maintenance/cleanup", r.cleanup.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", r.cleanup.Handle)
	mux.HandleFunc("GET /health", r.health)
	mux.Handle("GET /metrics", observability.MetricsHandler())

	return mux
}

type pinger interface {
	PingContext(ctx context.Context) error
}

func healthHandler(database pinger, redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		checks := map[string]string{"database": "ok"}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			checks["database"] = "unavailable"
		}
		if redisClient != nil {
			checks["redis"] = "ok"
			if err := redisClient.Ping(ctx).Err(); err != nil {
				status = http.StatusServiceUnavailable
				checks["redis"] = "unavailable"
			}
		}

		body := map[string]any{
			"status": "ok",
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		}
		if status != http.StatusOK {
			body["status"] = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func closeAll(database *sql.DB, redisClient *redis.Client) {
	if redisClient != nil {
		_ = redisClient.Close()
	}
	_ = database.Close()
}
