package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"learnhub.org/internal/auth"
	"learnhub.org/internal/config"
	"learnhub.org/internal/httpapi"
	"learnhub.org/internal/notify"
	"learnhub.org/internal/obs"
	"learnhub.org/internal/store/memory"
	"learnhub.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	log := obs.Logger()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	obs.SetLevel(cfg.LogLevel)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hasher := auth.NewBcryptHasher(cfg.Auth.BcryptCost)

	var (
		store auth.Store
		ready httpapi.ReadyProbe
	)
	if cfg.DatabaseURL != "" {
		pgStore, err := pg.Open(cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Fatal("open database")
		}
		defer pgStore.Close()
		store = pgStore
		ready.DB = pgStore
	} else {
		log.Warn("LEARNHUB_PG_DSN not set; using in-memory store, state is lost on restart")
		memStore := memory.New()
		store = memStore
		ready.DB = memStore
	}

	var sender auth.OTPSender = notify.LogSender{Logger: log}
	if cfg.Mail.Driver == "redis" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.WithError(err).Fatal("parse redis url")
		}
		client := redis.NewClient(opts)
		defer client.Close()
		outbox, err := notify.NewRedisOutbox(client, cfg.Mail.Stream)
		if err != nil {
			log.WithError(err).Fatal("redis outbox")
		}
		sender = notify.WithLogEcho(outbox, log, cfg.Mail.LogCodes)
		ready.Redis = outbox
	}

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Secret: []byte(cfg.Auth.Secret),
		Issuer: cfg.Auth.Issuer,
		TTL:    cfg.Auth.TokenTTL,
	})
	if err != nil {
		log.WithError(err).Fatal("token service")
	}
	otp, err := auth.NewOTPManager(store, store, sender,
		auth.WithOTPTTL(cfg.Auth.OTPTTL),
		auth.WithOTPHasher(hasher),
		auth.WithOTPLogger(log),
	)
	if err != nil {
		log.WithError(err).Fatal("otp manager")
	}
	svc, err := auth.NewService(store, tokens, otp, auth.WithHasher(hasher))
	if err != nil {
		log.WithError(err).Fatal("auth service")
	}
	rbac, err := auth.NewRBACService(store, store,
		auth.WithCapabilityCacheTTL(cfg.Auth.RoleCacheTTL),
		auth.WithRBACHasher(hasher),
	)
	if err != nil {
		log.WithError(err).Fatal("rbac service")
	}

	if cfg.DatabaseURL == "" && cfg.DevAdmin.Email != "" {
		admin, err := rbac.CreateUser(ctx, auth.NewUser{
			Email:    cfg.DevAdmin.Email,
			Password: cfg.DevAdmin.Password,
			Name:     "Administrator",
			Role:     auth.RoleAdmin,
		})
		if err != nil {
			log.WithError(err).Fatal("bootstrap admin")
		}
		log.WithField("user_id", admin.ID).Info("bootstrap administrator created")
	}

	limiter := httpapi.NewRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.PerSecond,
		httpapi.WithTrustForwardedFor(cfg.RateLimit.TrustForwardedFor))
	go limiter.Run(ctx)

	api, err := httpapi.New(httpapi.Deps{
		Auth:      svc,
		RBAC:      rbac,
		Ready:     ready,
		Version:   version,
		RateLimit: limiter,
		Logger:    log,
	})
	if err != nil {
		log.WithError(err).Fatal("http api")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	health := httpapi.NewHealthServer(ready)
	grpcSrv := grpc.NewServer()
	health.Register(grpcSrv)
	go health.Run(ctx, 10*time.Second)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.WithError(err).Fatal("grpc listen")
	}
	go func() {
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.WithError(err).Error("grpc serve")
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("listen")
		}
	}()

	log.WithFields(logrus.Fields{
		"version":   version,
		"http_addr": cfg.HTTPAddr,
		"grpc_addr": cfg.GRPCAddr,
	}).Info("learnhub-api started")

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	grpcSrv.GracefulStop()
	log.Info("stopped")
}
