package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"google.golang.org/grpc"

	"worksuite.app/internal/auth"
	"worksuite.app/internal/config"
	"worksuite.app/internal/httpapi"
	"worksuite.app/internal/migrate"
	"worksuite.app/internal/obs"
	"worksuite.app/internal/session"
)

var (
	version = "0.1.0"
	commit  = ""
)

func main() {
	if err := run(); err != nil {
		obs.Logger().Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		return err
	}
	lvl, err := obs.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	obs.SetLevel(lvl)
	obs.Init()
	obs.InitBuildInfo(version, commit)
	logger := obs.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	secret := cfg.TokenSecret
	if secret == "" {
		// Dev mode only; config rejects an empty secret otherwise.
		if secret, err = auth.GenerateToken(32); err != nil {
			return err
		}
		logger.Warn("no token secret configured, using an ephemeral one")
	}
	proxies, err := config.ParsePrefixes(cfg.TrustedProxies)
	if err != nil {
		return err
	}

	var (
		db    *sql.DB
		store auth.Store
	)
	if cfg.DatabaseDSN != "" {
		db, err = sql.Open("pgx", cfg.DatabaseDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		if cfg.DevMode {
			mgr, err := migrate.NewManager(db)
			if err != nil {
				return err
			}
			applied, err := mgr.Up(ctx)
			if err != nil {
				return err
			}
			logger.Info("migrations applied", "count", len(applied))
		}
		store = auth.NewPGStore(db)
	} else {
		logger.Warn("no database configured, using in-memory credential store")
		store = auth.NewMemoryStore()
	}

	probe := httpapi.ReadyProbe{DB: db}
	var sessions session.Store
	if cfg.RedisURL != "" {
		rs, err := session.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rs.Close()
		sessions = rs
		probe.Sessions = rs
	} else {
		logger.Warn("no redis configured, using in-memory session store")
		sessions = session.NewMemoryStore()
	}

	var mailer auth.Mailer
	switch {
	case cfg.MailWebhookURL != "":
		wm, err := auth.NewWebhookMailer(cfg.MailWebhookURL, cfg.MailWebhookToken)
		if err != nil {
			return err
		}
		mailer = wm
	case cfg.DevMode:
		logger.Warn("no mail webhook configured, magic links are recorded but not delivered")
		mailer = auth.LogMailer{Logger: logger}
	default:
		return errors.New("mail webhook url is required outside dev mode")
	}

	svc, err := auth.NewService(store, sessions,
		auth.WithTokenSecret(secret),
		auth.WithTokenTTL(cfg.TokenTTL),
		auth.WithSessionTTL(cfg.SessionTTL),
		auth.WithMagicLinkTTL(cfg.MagicLinkTTL),
		auth.WithLinkBaseURL(cfg.LinkBaseURL),
		auth.WithMailer(mailer),
		auth.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	if cfg.AdminEmail != "" {
		if _, err := svc.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
			return err
		}
	}

	api := httpapi.New(svc, probe, version,
		httpapi.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		httpapi.WithMaxBodyBytes(cfg.MaxBodyBytes),
		httpapi.WithTrustedProxies(proxies),
	)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		grpcSrv = httpapi.NewGRPCServer(probe)
		go func() {
			logger.Info("grpc health server starting", "addr", cfg.GRPCAddr)
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server failed", "error", err)
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("stopped")
	return nil
}
