package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/alexedwards/scs/v2"
	"github.com/glebarez/sqlite"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	ac "github.com/panyam/authcore"
	"github.com/panyam/authcore/config"
	"github.com/panyam/authcore/delivery"
	authgrpc "github.com/panyam/authcore/grpc"
	"github.com/panyam/authcore/logging"
	"github.com/panyam/authcore/oauth2"
	"github.com/panyam/authcore/stores/fs"
	"github.com/panyam/authcore/stores/gae"
	gormstore "github.com/panyam/authcore/stores/gorm"
	"github.com/panyam/authcore/stores/postgres"
)

// shutdownTimeout bounds graceful HTTP shutdown
const shutdownTimeout = 15 * time.Second

// App holds the wired servers and everything that needs closing on exit
type App struct {
	cfg     *config.Config
	log     *slog.Logger
	engine  *ac.Engine
	handler http.Handler
	grpc    *grpc.Server
	health  *health.Server
	closers []io.Closer
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// NewApp opens the store, builds the engine and both servers
func NewApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	app := &App{cfg: cfg, log: log}

	store, err := app.openStore(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}

	sender, err := app.buildSender()
	if err != nil {
		app.Close()
		return nil, err
	}

	issuer, err := ac.NewTokenIssuer(cfg.JWTSecret, cfg.JWTRefreshSecret, cfg.JWTExpiration, cfg.JWTRefreshExpiration)
	if err != nil {
		app.Close()
		return nil, err
	}
	issuer.Issuer = cfg.JWTIssuer

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	app.engine = &ac.Engine{
		Store:                   store,
		Tokens:                  issuer,
		Hasher:                  &ac.BcryptHasher{Cost: cfg.BcryptCost},
		Sender:                  sender,
		Logger:                  log,
		Metrics:                 ac.NewMetrics(registry),
		RequireLinkConfirmation: cfg.RequireLinkConfirmation,
		FederatedTimeout:        cfg.FederatedTimeout,
	}
	app.engine.Warm()

	validator, err := app.buildValidator()
	if err != nil {
		app.Close()
		return nil, err
	}
	if validator != nil {
		app.engine.Federated = validator
	}

	app.handler = app.buildHTTP(registry)
	app.buildGRPC(issuer)
	return app, nil
}

func (a *App) openStore(ctx context.Context) (ac.UserStore, error) {
	cfg := a.cfg
	switch cfg.StoreDriver {
	case config.StoreFS:
		if err := os.MkdirAll(cfg.FSStoragePath, 0o700); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
		return fs.NewFSUserStore(cfg.FSStoragePath), nil

	case config.StoreSQLite:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("create storage dir: %w", err)
			}
		}
		db, err := gorm.Open(sqlite.Open(cfg.SQLitePath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		a.closers = append(a.closers, sqlDB)
		if err := gormstore.AutoMigrate(db); err != nil {
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		return gormstore.NewIdentityStore(db), nil

	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.closers = append(a.closers, closerFunc(func() error { pool.Close(); return nil }))
		if err := postgres.Migrate(ctx, pool); err != nil {
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return postgres.NewIdentityStore(pool), nil

	case config.StoreDatastore:
		client, err := datastore.NewClient(ctx, cfg.DatastoreProject)
		if err != nil {
			return nil, fmt.Errorf("open datastore: %w", err)
		}
		a.closers = append(a.closers, client)
		return gae.NewIdentityStore(client, cfg.DatastoreNamespace), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

func (a *App) buildSender() (ac.CodeSender, error) {
	cfg := a.cfg
	switch cfg.DeliveryDriver {
	case config.DeliveryLog:
		return &ac.ConsoleCodeSender{Logger: a.log}, nil
	case config.DeliveryKafka:
		sender := delivery.NewKafkaSender(cfg.KafkaBrokers, cfg.KafkaTopic, a.log)
		a.closers = append(a.closers, sender)
		return sender, nil
	case config.DeliveryRedis:
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		a.closers = append(a.closers, client)
		return delivery.NewRedisSender(client, cfg.RedisStream), nil
	}
	return nil, fmt.Errorf("unknown delivery driver %q", cfg.DeliveryDriver)
}

// buildValidator returns nil when no provider is configured
func (a *App) buildValidator() (*oauth2.IDTokenValidator, error) {
	providers := map[ac.Provider]oauth2.ProviderConfig{}
	if a.cfg.GoogleClientID != "" {
		providers[ac.ProviderGoogle] = oauth2.GoogleConfig(a.cfg.GoogleClientID)
	}
	if a.cfg.AppleClientID != "" {
		providers[ac.ProviderApple] = oauth2.AppleConfig(a.cfg.AppleClientID)
	}
	if len(providers) == 0 {
		return nil, nil
	}

	client := oauth2.NewBreakerClient(oauth2.DefaultBreakerConfig("oidc-keys"), a.cfg.FederatedTimeout, a.log)
	validator, err := oauth2.NewIDTokenValidator(client, providers, nil)
	if err != nil {
		return nil, fmt.Errorf("federated validator: %w", err)
	}
	a.log.Info("federated sign-in enabled", slog.Any("providers", validator.Providers()))
	return validator, nil
}

func (a *App) buildHTTP(registry *prometheus.Registry) http.Handler {
	r := mux.NewRouter()

	api := &ac.APIAuth{
		Engine:                   a.engine,
		AllowTrustedRegistration: a.cfg.TrustedRegistration(),
		Logger:                   a.log,
	}
	api.Routes(r)

	if a.cfg.GoogleRedirectFlowEnabled() {
		session := scs.New()
		session.Lifetime = a.cfg.SessionLifetime
		session.Cookie.Name = "authcore_session"
		session.Cookie.Secure = !a.cfg.IsDevelopment()
		session.Cookie.SameSite = http.SameSiteLaxMode

		flow := oauth2.NewGoogleFlow(a.cfg.GoogleClientID, a.cfg.GoogleClientSecret, a.cfg.GoogleRedirectURL, session, a.engine)
		flow.Logger = a.log
		r.Handle("/auth/google/login", session.LoadAndSave(http.HandlerFunc(flow.HandleRedirect))).Methods(http.MethodGet)
		r.Handle("/auth/google/callback", session.LoadAndSave(http.HandlerFunc(flow.HandleCallback))).Methods(http.MethodGet)
	}

	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ac.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	return logging.RequestLogger(a.log)(r)
}

func (a *App) buildGRPC(tokens ac.TokenVerifier) {
	cfg := authgrpc.NewPublicMethodsConfig(tokens,
		healthpb.Health_Check_FullMethodName,
		healthpb.Health_Watch_FullMethodName,
	)
	a.grpc = grpc.NewServer(
		grpc.ChainUnaryInterceptor(authgrpc.UnaryAuthInterceptor(cfg)),
		grpc.ChainStreamInterceptor(authgrpc.StreamAuthInterceptor(cfg)),
	)
	a.health = health.NewServer()
	healthpb.RegisterHealthServer(a.grpc, a.health)
	a.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
}

// Run serves HTTP and gRPC until ctx is cancelled or either server fails
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	httpLis, err := net.Listen("tcp", a.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.cfg.HTTPAddr, err)
	}
	grpcLis, err := net.Listen("tcp", a.cfg.GRPCAddr)
	if err != nil {
		httpLis.Close()
		return fmt.Errorf("listen on %s: %w", a.cfg.GRPCAddr, err)
	}
	return a.serve(ctx, httpLis, grpcLis)
}

func (a *App) serve(ctx context.Context, httpLis, grpcLis net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(a.log.Handler(), slog.LevelWarn),
	}

	errs := make(chan error, 2)
	go func() {
		a.log.Info("http server listening", slog.String("addr", httpLis.Addr().String()))
		if err := srv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("serve http: %w", err)
			return
		}
		errs <- nil
	}()
	go func() {
		a.log.Info("grpc server listening", slog.String("addr", grpcLis.Addr().String()))
		if err := a.grpc.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errs <- fmt.Errorf("serve grpc: %w", err)
			return
		}
		errs <- nil
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errs:
	}

	a.log.Info("shutting down")
	a.health.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("http shutdown", slog.Any("error", err))
	}
	a.grpc.GracefulStop()
	return runErr
}

// Close releases stores and senders in reverse order of creation
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.log.Warn("close resource", slog.Any("error", err))
		}
	}
	a.closers = nil
}
