package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/adopet/marketchat/internal/config"
	"github.com/adopet/marketchat/internal/gateway"
	"github.com/adopet/marketchat/internal/handler"
	appmw "github.com/adopet/marketchat/internal/middleware"
	"github.com/adopet/marketchat/internal/realtime"
	"github.com/adopet/marketchat/internal/repository"
	"github.com/adopet/marketchat/internal/service"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"gorm.io/gorm"
)

// Deps are the external adapters chosen by cmd/api. Pusher, Blobs and Tokens may be nil.
type Deps struct {
	Transport realtime.Transport
	Gateway   gateway.Gateway
	Auth      *appmw.AuthMiddleware
	Names     service.Directory
	Pusher    service.Pusher
	Blobs     service.BlobStore
	Tokens    handler.TokenIssuer
}

type Server struct {
	e          *echo.Echo
	reconciler *service.Reconciler
}

func New(cfg *config.Config, db *gorm.DB, deps Deps, sha, buildTime string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(appmw.RequestContext)
	e.Use(middleware.Logger())
	allowOrigin := originMatcher(cfg.CORSAllowedSuffix)
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Authorization", appmw.DebugUIDHeader},
		AllowCredentials: true,
		AllowOriginFunc: func(origin string) (bool, error) {
			return allowOrigin(origin), nil
		},
	}))

	itemRepo := repository.NewItemRepository(db)
	convRepo := repository.NewConversationRepository(db)
	msgRepo := repository.NewMessageRepository(db)
	txRepo := repository.NewTransactionRepository(db)
	linkRepo := repository.NewPaymentLinkRepository(db)

	catalog := service.NewItemCatalog(itemRepo)
	revenueSvc := service.NewRevenueService(repository.NewUserRevenueRepository(db))
	notifySvc := service.NewNotificationService(repository.NewNotificationRepository(db), repository.NewDeviceTokenRepository(db), deps.Transport, deps.Pusher)
	convSvc := service.NewConversationService(convRepo, msgRepo, catalog, notifySvc, deps.Names, deps.Transport)
	msgSvc := service.NewMessageService(convRepo, msgRepo, catalog, notifySvc, deps.Names, deps.Transport)
	txSvc := service.NewTransactionService(txRepo, linkRepo, convRepo, msgSvc, notifySvc, revenueSvc, deps.Gateway, deps.Blobs, deps.Transport, service.TransactionOptions{
		AllowManualConfirmPriced: cfg.AllowManualConfirmPriced,
		ReturnURL:                cfg.PaymentReturnURL,
	})

	convHandler := handler.NewConversationHandler(convSvc)
	msgHandler := handler.NewMessageHandler(msgSvc)
	notifHandler := handler.NewNotificationHandler(notifySvc)
	txHandler := handler.NewTransactionHandler(txSvc)
	revenueHandler := handler.NewRevenueHandler(revenueSvc)
	itemHandler := handler.NewItemHandler(catalog)
	userHandler := handler.NewUserHandler(deps.Names)
	webhookHandler := handler.NewWebhookHandler(txSvc, cfg.PaymentWebhookSecret)
	rtHandler := handler.NewRealtimeHandler(deps.Transport, convSvc, msgSvc, deps.Tokens, func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowOrigin(origin)
	})

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"ok":         "true",
			"git_sha":    sha,
			"build_time": buildTime,
		})
	})

	api := e.Group("/api")
	api.POST("/webhooks/payment", webhookHandler.Payment)
	api.GET("/items/:id", itemHandler.Get)
	api.GET("/users/:uid/public", userHandler.GetPublic)

	auth := api.Group("", deps.Auth.RequireAuth)
	auth.POST("/items/:id/interest", convHandler.ExpressInterest)
	auth.POST("/conversations", convHandler.Start)
	auth.GET("/conversations", convHandler.List)
	auth.GET("/conversations/:id", convHandler.Get)
	auth.POST("/conversations/:id/archive", convHandler.Archive)

	auth.GET("/conversations/:id/messages", msgHandler.List)
	auth.POST("/conversations/:id/messages", msgHandler.Send)
	auth.POST("/conversations/:id/read", msgHandler.MarkRead)
	auth.GET("/conversations/:id/unread", msgHandler.Unread)

	auth.GET("/notifications", notifHandler.List)
	auth.POST("/notifications/:id/read", notifHandler.MarkRead)
	auth.POST("/notifications/read-all", notifHandler.MarkAllRead)
	auth.POST("/me/devices", notifHandler.RegisterDevice)

	auth.POST("/conversations/:id/transactions", txHandler.Create)
	auth.GET("/conversations/:id/transactions", txHandler.ListForConversation)
	auth.GET("/transactions/:id", txHandler.Get)
	auth.POST("/transactions/:id/payment-link", txHandler.PaymentLink)
	auth.POST("/transactions/:id/confirm-gateway", txHandler.ConfirmGateway)
	auth.POST("/transactions/:id/confirm-manual", txHandler.ConfirmManual)
	auth.POST("/transactions/:id/proof", txHandler.UploadProof)
	auth.POST("/transactions/:id/cancel", txHandler.Cancel)
	auth.GET("/me/revenue", revenueHandler.Get)

	auth.GET("/ws", rtHandler.Subscribe)
	auth.POST("/realtime/token", rtHandler.Token)

	return &Server{
		e:          e,
		reconciler: service.NewReconciler(txSvc, txRepo, linkRepo, cfg.ReconcileInterval),
	}
}

// originMatcher accepts localhost on any port plus hosts ending in suffix.
func originMatcher(suffix string) func(string) bool {
	return func(origin string) bool {
		low := strings.ToLower(origin)
		if strings.HasPrefix(low, "http://localhost:") || strings.HasPrefix(low, "http://127.0.0.1:") ||
			strings.HasPrefix(low, "https://localhost:") || strings.HasPrefix(low, "https://127.0.0.1:") {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return false
		}
		return suffix != "" && strings.HasSuffix(u.Hostname(), suffix)
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.e
}

// RunReconciler blocks until ctx is done.
func (s *Server) RunReconciler(ctx context.Context) {
	s.reconciler.Run(ctx)
}

func (s *Server) Start(addr string) error {
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}
