package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"github.com/jackc/pgx/v5/pgxpool"
	"google.golang.org/api/option"

	shared "github.com/fitglue/workoutsync/pkg"
	"github.com/fitglue/workoutsync/pkg/env"
	"github.com/fitglue/workoutsync/pkg/infrastructure/database"
	httputil "github.com/fitglue/workoutsync/pkg/infrastructure/http"
	"github.com/fitglue/workoutsync/pkg/infrastructure/oauth"
	infrapubsub "github.com/fitglue/workoutsync/pkg/infrastructure/pubsub"
	"github.com/fitglue/workoutsync/pkg/infrastructure/sentry"
	"github.com/fitglue/workoutsync/pkg/integrations"
	"github.com/fitglue/workoutsync/pkg/integrations/huawei"
	"github.com/fitglue/workoutsync/pkg/integrations/polar"
	"github.com/fitglue/workoutsync/pkg/integrations/strava"
)

const (
	BackendFirestore = "firestore"
	BackendPostgres  = "postgres"
	BackendMemory    = "memory"
)

// Config holds standard configuration for all services
type Config struct {
	ProjectID       string
	CredentialsFile string
	EnablePublish   bool
	LogLevel        string
	Port            string

	CredentialBackend string
	PostgresURL       string
	Redis             oauth.RedisConfig

	Sentry sentry.Config

	VendorTimeout time.Duration
	LookupTimeout time.Duration

	Strava            integrations.ProviderConfig
	StravaVerifyToken string
	Huawei            integrations.ProviderConfig
	Polar             integrations.ProviderConfig
}

// Service holds initialized dependencies
type Service struct {
	Credentials shared.CredentialStore
	Pub         shared.Publisher
	Registry    *integrations.Registry
	Strava      *strava.Adapter
	Config      *Config
	Logger      *slog.Logger

	closers []func() error
}

// LoadConfig reads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		ProjectID:       env.String("GOOGLE_CLOUD_PROJECT", shared.ProjectID),
		CredentialsFile: env.String("GOOGLE_APPLICATION_CREDENTIALS_FILE", ""),
		EnablePublish:   env.Bool("ENABLE_PUBLISH", false),
		LogLevel:        env.String("LOG_LEVEL", "info"),
		Port:            env.String("PORT", "8080"),

		CredentialBackend: strings.ToLower(env.String("CREDENTIAL_BACKEND", BackendFirestore)),
		PostgresURL:       env.String("POSTGRES_URL", ""),
		Redis: oauth.RedisConfig{
			Addr:     env.String("REDIS_ADDR", ""),
			Password: env.String("REDIS_PASSWORD", ""),
			DB:       env.Int("REDIS_DB", 0),
		},

		Sentry: sentry.Config{
			DSN:         env.String("SENTRY_DSN", ""),
			Environment: env.String("SENTRY_ENVIRONMENT", "production"),
			Release:     env.String("SENTRY_RELEASE", ""),
		},

		VendorTimeout: env.Duration("VENDOR_HTTP_TIMEOUT", httputil.DefaultTimeout),
		LookupTimeout: env.Duration("VENDOR_LOOKUP_TIMEOUT", integrations.LookupTimeout),

		Strava:            providerConfig("STRAVA", strava.DefaultScopes),
		StravaVerifyToken: env.String("STRAVA_WEBHOOK_VERIFY_TOKEN", ""),
		Huawei:            providerConfig("HUAWEI", huawei.DefaultScopes),
		Polar:             providerConfig("POLAR", polar.DefaultScopes),
	}
}

func providerConfig(prefix string, scopes []string) integrations.ProviderConfig {
	return integrations.ProviderConfig{
		ClientID:     env.String(prefix+"_CLIENT_ID", ""),
		ClientSecret: env.String(prefix+"_CLIENT_SECRET", ""),
		RedirectURI:  env.String(prefix+"_REDIRECT_URI", ""),
		Scopes:       env.List(prefix+"_SCOPES", scopes),
		ProxyURL:     env.String(prefix+"_PROXY_URL", ""),
	}
}

// ParseLevel maps LOG_LEVEL values to slog levels, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// GetSlogHandlerOptions returns standard handler options for GCP
func GetSlogHandlerOptions(level slog.Level) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Map standard keys to Cloud Logging keys
			if a.Key == slog.MessageKey {
				return slog.Attr{Key: "message", Value: a.Value}
			}
			if a.Key == slog.LevelKey {
				return slog.Attr{Key: "severity", Value: a.Value}
			}
			return a
		},
	}
}

// ComponentHandler wraps a slog.Handler to prepend [component] to the message
type ComponentHandler struct {
	slog.Handler
	component string
}

// WithGroup implements slog.Handler
func (h *ComponentHandler) WithGroup(name string) slog.Handler {
	return &ComponentHandler{
		Handler:   h.Handler.WithGroup(name),
		component: h.component,
	}
}

// WithAttrs implements slog.Handler
func (h *ComponentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	comp := h.component
	for _, a := range attrs {
		if a.Key == "component" {
			comp = a.Value.String()
		}
	}
	return &ComponentHandler{
		Handler:   h.Handler.WithAttrs(attrs),
		component: comp,
	}
}

// Handle implements slog.Handler
func (h *ComponentHandler) Handle(ctx context.Context, r slog.Record) error {
	comp := h.component
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" {
			comp = a.Value.String()
			return false
		}
		return true
	})

	if comp != "" {
		// The component attribute stays in the structured payload.
		next := slog.NewRecord(r.Time, r.Level, fmt.Sprintf("[%s] %s", comp, r.Message), r.PC)
		r.Attrs(func(a slog.Attr) bool {
			next.AddAttrs(a)
			return true
		})
		r = next
	}

	return h.Handler.Handle(ctx, r)
}

// NewLogger creates a Cloud Logging compatible JSON logger writing to w.
func NewLogger(w io.Writer, serviceName string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, GetSlogHandlerOptions(level))
	return slog.New(&ComponentHandler{Handler: handler}).With("service", serviceName)
}

// InitLogger installs the service logger as the slog default.
func InitLogger(serviceName string, level slog.Level) *slog.Logger {
	logger := NewLogger(os.Stdout, serviceName, level)
	slog.SetDefault(logger)
	return logger
}

// NewService initializes all standard dependencies from the environment.
func NewService(ctx context.Context, serviceName string) (*Service, error) {
	cfg := LoadConfig()
	logger := InitLogger(serviceName, ParseLevel(cfg.LogLevel))
	return NewServiceWithConfig(ctx, cfg, logger)
}

func NewServiceWithConfig(ctx context.Context, cfg *Config, logger *slog.Logger) (*Service, error) {
	logger.Info("Initializing service",
		"project_id", cfg.ProjectID,
		"credential_backend", cfg.CredentialBackend,
		"refresh_lock", cfg.Redis.Addr != "",
	)
	svc := &Service{Config: cfg, Logger: logger}

	if err := sentry.Init(cfg.Sentry, logger); err != nil {
		logger.Warn("Continuing without Sentry", "error", err)
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	store, err := svc.openCredentialStore(ctx, clientOpts)
	if err != nil {
		_ = svc.Close()
		return nil, err
	}
	svc.Credentials = store

	if cfg.EnablePublish {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID, clientOpts...)
		if err != nil {
			logger.Error("PubSub init failed", "error", err)
			_ = svc.Close()
			return nil, fmt.Errorf("pubsub init: %w", err)
		}
		svc.closers = append(svc.closers, psClient.Close)
		svc.Pub = &infrapubsub.PubSubAdapter{Client: psClient, Logger: logger}
		logger.Info("Pub/Sub: REAL (ENABLE_PUBLISH=true)")
	} else {
		svc.Pub = &infrapubsub.LogPublisher{Logger: logger}
		logger.Info("Pub/Sub: MOCK (LogPublisher)")
	}

	var locker oauth.Locker
	if cfg.Redis.Addr != "" {
		rl := oauth.NewRedisLocker(cfg.Redis)
		svc.closers = append(svc.closers, rl.Close)
		locker = rl
	}

	if err := svc.buildAdapters(locker); err != nil {
		_ = svc.Close()
		return nil, err
	}
	return svc, nil
}

func (s *Service) openCredentialStore(ctx context.Context, clientOpts []option.ClientOption) (shared.CredentialStore, error) {
	switch s.Config.CredentialBackend {
	case BackendMemory:
		s.Logger.Warn("Using in-memory credential store; grants are lost on restart")
		return database.NewMemoryCredentialStore(), nil

	case BackendPostgres:
		if s.Config.PostgresURL == "" {
			return nil, errors.New("POSTGRES_URL is required for the postgres credential backend")
		}
		pool, err := pgxpool.New(ctx, s.Config.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("postgres init: %w", err)
		}
		s.closers = append(s.closers, func() error { pool.Close(); return nil })
		store := database.NewPostgresCredentialStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil

	case BackendFirestore, "":
		fsClient, err := firestore.NewClient(ctx, s.Config.ProjectID, clientOpts...)
		if err != nil {
			s.Logger.Error("Firestore init failed", "error", err)
			return nil, fmt.Errorf("firestore init: %w", err)
		}
		s.closers = append(s.closers, fsClient.Close)
		return database.NewFirestoreCredentialStore(fsClient), nil
	}
	return nil, fmt.Errorf("unknown CREDENTIAL_BACKEND %q", s.Config.CredentialBackend)
}

func (s *Service) adapterOptions(p integrations.ProviderConfig, locker oauth.Locker) (integrations.Options, error) {
	httpClient, err := httputil.NewClient(s.Config.VendorTimeout, p.ProxyURL)
	if err != nil {
		return integrations.Options{}, err
	}
	lookupClient, err := httputil.NewClient(s.Config.LookupTimeout, p.ProxyURL)
	if err != nil {
		return integrations.Options{}, err
	}
	return integrations.Options{
		HTTPClient:   httpClient,
		LookupClient: lookupClient,
		Locker:       locker,
		Logger:       s.Logger,
	}, nil
}

// buildAdapters registers every provider. Disabled providers are still registered
// so stored grants stay readable; their OAuthURL reports false.
func (s *Service) buildAdapters(locker oauth.Locker) error {
	cfg := s.Config
	s.Registry = integrations.NewRegistry()

	opts, err := s.adapterOptions(cfg.Strava, locker)
	if err != nil {
		return fmt.Errorf("strava: %w", err)
	}
	if s.Strava, err = strava.New(cfg.Strava, s.Credentials, opts); err != nil {
		return fmt.Errorf("strava: %w", err)
	}
	s.Registry.Register(s.Strava)

	if opts, err = s.adapterOptions(cfg.Huawei, locker); err != nil {
		return fmt.Errorf("huawei: %w", err)
	}
	hw, err := huawei.New(cfg.Huawei, s.Credentials, opts)
	if err != nil {
		return fmt.Errorf("huawei: %w", err)
	}
	s.Registry.Register(hw)

	if opts, err = s.adapterOptions(cfg.Polar, locker); err != nil {
		return fmt.Errorf("polar: %w", err)
	}
	pl, err := polar.New(cfg.Polar, s.Credentials, opts)
	if err != nil {
		return fmt.Errorf("polar: %w", err)
	}
	s.Registry.Register(pl)

	for _, p := range []struct {
		name string
		cfg  integrations.ProviderConfig
	}{{"strava", cfg.Strava}, {"huawei", cfg.Huawei}, {"polar", cfg.Polar}} {
		s.Logger.Info("Integration configured", "provider", p.name, "enabled", p.cfg.Enabled(), "proxied", p.cfg.ProxyURL != "")
	}
	return nil
}

// Close releases clients in reverse order of creation.
func (s *Service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	sentry.Flush(2 * time.Second)
	return errors.Join(errs...)
}
