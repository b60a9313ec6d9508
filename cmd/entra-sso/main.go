package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/dcplibrary/entra-sso/pkg/auth"
	pkgconfig "github.com/dcplibrary/entra-sso/pkg/config"
	"github.com/dcplibrary/entra-sso/pkg/entra"
	"github.com/dcplibrary/entra-sso/pkg/session"
	"github.com/dcplibrary/entra-sso/pkg/ssoflow"
	ssoapi "github.com/dcplibrary/entra-sso/pkg/ssoflow/api"
	"github.com/dcplibrary/entra-sso/pkg/user"
)

// DbConfig is the optional PostgreSQL user store configuration. When no
// host is configured the server runs with the in-memory repository.
type DbConfig struct {
	Host     string `env:"ENTRA_PG_HOST"`
	Port     uint16 `env:"ENTRA_PG_PORT" env-default:"5432"`
	Database string `env:"ENTRA_PG_DATABASE" env-default:"entra_sso"`
	User     string `env:"ENTRA_PG_USER" env-default:"entra"`
	Password string `env:"ENTRA_PG_PASSWORD" env-default:"pwd"`
}

func (d DbConfig) toDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Database)
}

type ServerConfig struct {
	Addr string `env:"SERVER_ADDR" env-default:":4000"`
}

func main() {
	// .env is optional; real deployments set the environment directly
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	var entraCfg pkgconfig.EntraConfig
	if err := cleanenv.ReadEnv(&entraCfg); err != nil {
		slog.Error("Failed to load Entra configuration", "error", err)
		os.Exit(1)
	}
	if err := entraCfg.Validate(); err != nil {
		slog.Error("Invalid Entra configuration", "error", err)
		os.Exit(1)
	}

	var sessionCfg pkgconfig.SessionConfig
	if err := cleanenv.ReadEnv(&sessionCfg); err != nil {
		slog.Error("Failed to load session configuration", "error", err)
		os.Exit(1)
	}
	if err := sessionCfg.Validate(); err != nil {
		slog.Error("Invalid session configuration", "error", err)
		os.Exit(1)
	}

	var dbCfg DbConfig
	if err := cleanenv.ReadEnv(&dbCfg); err != nil {
		slog.Error("Failed to load database configuration", "error", err)
		os.Exit(1)
	}

	var serverCfg ServerConfig
	if err := cleanenv.ReadEnv(&serverCfg); err != nil {
		slog.Error("Failed to load server configuration", "error", err)
		os.Exit(1)
	}

	// User storage: PostgreSQL when configured, in-memory otherwise
	var userRepo user.UserRepository
	if dbCfg.Host != "" {
		pool, err := pgxpool.New(context.Background(), dbCfg.toDatabaseURL())
		if err != nil {
			slog.Error("Failed to create database pool", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		userRepo = user.NewPostgresUserRepository(pool)
		slog.Info("Using PostgreSQL user repository", "host", dbCfg.Host, "database", dbCfg.Database)
	} else {
		userRepo = user.NewInMemUserRepository()
		slog.Warn("Using in-memory user repository; users will not survive a restart")
	}

	entraClient := entra.NewClient(
		entraCfg.TenantID,
		entraCfg.ClientID,
		entraCfg.ClientSecret,
		entraCfg.RedirectURI,
	)

	userService := user.NewUserService(userRepo)

	issuer := session.NewTokenIssuer(sessionCfg.Secret, "entra-sso")
	sessionRepo := session.NewInMemSessionRepository()
	sessionService := session.NewSessionService(sessionRepo, issuer,
		session.WithSessionTTL(sessionCfg.TTL),
		session.WithPendingTTL(sessionCfg.PendingTTL),
	)

	flowService := ssoflow.NewSSOFlowService(entraClient, userService, sessionService,
		ssoflow.WithAutoCreateUsers(entraCfg.AutoCreateUsers),
		ssoflow.WithGroupSync(entraCfg.SyncGroups, entraCfg.SyncOnLogin),
		ssoflow.WithTokenRetention(entraCfg.EnableTokenRefresh),
		ssoflow.WithRoleMapping(entraCfg.RoleMapping()),
		ssoflow.WithClaimMapping(entraCfg.ClaimMapping()),
	)
	slog.Info("SSO flow configured", "flow", flowService.Describe())

	cookies := session.NewCookieSetter(true, sessionCfg.CookieSecure)

	authMiddleware := auth.NewMiddleware(sessionService, userService, entraClient, cookies,
		auth.WithLoginPath(entraCfg.LoginPath),
		auth.WithTokenRefresh(entraCfg.EnableTokenRefresh, entraCfg.RefreshThreshold()),
		auth.WithLogoutOnRefreshFailure(entraCfg.LogoutOnRefreshFailure),
	)

	handle := ssoapi.NewHandle(flowService, cookies).
		WithRedirectAfterLogin(entraCfg.RedirectAfterLogin).
		WithLoginPath(entraCfg.LoginPath)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	ssoapi.Routes(r, handle, authMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "ok", "service": "entra-sso"}`))
	})

	slog.Info("Starting entra-sso server", "addr", serverCfg.Addr)
	if err := http.ListenAndServe(serverCfg.Addr, r); err != nil {
		slog.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}
