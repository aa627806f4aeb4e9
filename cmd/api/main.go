package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adopet/marketchat/internal/config"
	"github.com/adopet/marketchat/internal/db"
	"github.com/adopet/marketchat/internal/gateway"
	"github.com/adopet/marketchat/internal/identity"
	appmw "github.com/adopet/marketchat/internal/middleware"
	"github.com/adopet/marketchat/internal/push"
	"github.com/adopet/marketchat/internal/realtime"
	"github.com/adopet/marketchat/internal/server"
	"github.com/adopet/marketchat/internal/storage"
	"github.com/joho/godotenv"
	"github.com/labstack/gommon/log"
)

var (
	gitSHA    = "dev"
	buildTime = ""
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	setLogLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Connect(cfg)
	if err != nil {
		log.Fatalf("db connect error: %v", err)
	}

	deps := server.Deps{}

	transport, closeTransport, err := buildTransport(ctx, cfg)
	if err != nil {
		log.Fatalf("realtime init error: %v", err)
	}
	defer closeTransport()
	deps.Transport = transport
	if cfg.AblyKey != "" {
		mirror, err := realtime.NewAblyMirror(transport, cfg.AblyKey)
		if err != nil {
			log.Fatalf("ably init error: %v", err)
		}
		deps.Transport = mirror
		deps.Tokens = mirror
	}

	if cfg.PaymentGatewayURL != "" {
		deps.Gateway = gateway.NewHTTPClient(cfg.PaymentGatewayURL, cfg.PaymentGatewayKey, cfg.GatewayTimeout, cfg.GatewayRPS, nil)
	} else if cfg.IsDevelopment() {
		log.Warnf("PAYMENT_GATEWAY_URL is not set; using the in-memory gateway")
		deps.Gateway = gateway.NewMemory()
	} else {
		log.Fatalf("PAYMENT_GATEWAY_URL is required outside development")
	}

	app, err := identity.NewApp(ctx, cfg.FirebaseProjectID, cfg.GoogleCredentialsFile)
	switch {
	case err == nil:
		authClient, err := app.Auth(ctx)
		if err != nil {
			log.Fatalf("failed to init firebase auth: %v", err)
		}
		deps.Auth = appmw.NewAuthMiddleware(authClient, cfg.IsDevelopment())
		deps.Names = identity.NewDirectory(authClient, 10*time.Minute)
		if msgClient, err := app.Messaging(ctx); err != nil {
			log.Warnf("push disabled: %v", err)
		} else {
			deps.Pusher = push.NewFCM(msgClient)
		}
	case cfg.IsDevelopment():
		log.Warnf("firebase unavailable (%v); accepting %s only", err, appmw.DebugUIDHeader)
		deps.Auth = appmw.NewAuthMiddleware(nil, true)
		deps.Names = identity.Static{}
	default:
		log.Fatalf("failed to init firebase: %v", err)
	}

	if cfg.StorageBucket != "" {
		blobs, err := storage.NewGCS(ctx, cfg.StorageBucket, cfg.GoogleCredentialsFile)
		if err != nil {
			log.Fatalf("storage init error: %v", err)
		}
		defer blobs.Close()
		deps.Blobs = blobs
	}

	srv := server.New(cfg, conn, deps, gitSHA, buildTime)
	go srv.RunReconciler(ctx)

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		log.Infof("starting server on %s", addr)
		errCh <- srv.Start(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server stopped: %v", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("shutdown: %v", err)
		}
	}
}

// buildTransport picks Redis when REDIS_ADDR is set so every instance sees every
// event, and the in-process broker otherwise.
func buildTransport(ctx context.Context, cfg *config.Config) (realtime.Transport, func(), error) {
	if cfg.RedisAddr == "" {
		b := realtime.NewBroker()
		return b, func() { _ = b.Close() }, nil
	}
	client := realtime.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	t, err := realtime.NewRedisTransport(ctx, client, cfg.RedisChannelPrefix)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return t, func() {
		_ = t.Close()
		_ = client.Close()
	}, nil
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		log.SetLevel(log.DEBUG)
	case "warn":
		log.SetLevel(log.WARN)
	case "error":
		log.SetLevel(log.ERROR)
	default:
		log.SetLevel(log.INFO)
	}
}
