// Package httpapi exposes the escrow marketplace over HTTP/JSON.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/adgyapan/escrow/pkg/escrow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const (
	claimsContextKey     = "auth_claims"
	userIDContextKey     = "escrow_user_id"
	idempotencyKeyHeader = "Idempotency-Key"
)

// Marketplace is the subset of escrow.Service the HTTP layer drives.
type Marketplace interface {
	Now() int64
	Balance(ctx context.Context, userID escrow.UserID) (escrow.Account, error)
	History(ctx context.Context, userID escrow.UserID, beforeUnixUTC int64, limit int) ([]escrow.Entry, error)
	Deposit(ctx context.Context, userID escrow.UserID, amount escrow.PositiveAmountCents, idempotencyKey escrow.IdempotencyKey, metadata escrow.MetadataJSON) (escrow.Account, error)
	Withdraw(ctx context.Context, userID escrow.UserID, amount escrow.PositiveAmountCents, idempotencyKey escrow.IdempotencyKey, metadata escrow.MetadataJSON) (escrow.Account, error)
	CreateListing(ctx context.Context, sellerID escrow.UserID, adReferenceID escrow.AdReferenceID, basePrice escrow.PositiveAmountCents, targetViews int64, durationDays int) (escrow.Listing, error)
	GetListing(ctx context.Context, listingID escrow.ListingID) (escrow.Listing, error)
	ListOpenListings(ctx context.Context, limit int) ([]escrow.Listing, error)
	CloseListing(ctx context.Context, listingID escrow.ListingID, requesterID escrow.UserID) (escrow.Listing, error)
	Credential(ctx context.Context, listingID escrow.ListingID, requesterID escrow.UserID) (escrow.AccessCredential, error)
	PlaceBid(ctx context.Context, listingID escrow.ListingID, bidderID escrow.UserID, amount escrow.PositiveAmountCents, idempotencyKey escrow.IdempotencyKey) (escrow.Bid, error)
	AcceptBid(ctx context.Context, bidID escrow.BidID, sellerID escrow.UserID) (escrow.Listing, error)
	ListBids(ctx context.Context, listingID escrow.ListingID) ([]escrow.Bid, error)
	Payout(ctx context.Context, listingID escrow.ListingID, sellerID escrow.UserID) (escrow.Settlement, error)
}

// Run serves the API until ctx is cancelled.
func Run(ctx context.Context, cfg Config, marketplace Marketplace, logger *zap.Logger, metricsHandler http.Handler) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sessionValidator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return fmt.Errorf("session validator: %w", err)
	}

	handler := NewHandler(marketplace, logger, cfg)
	router := NewRouter(cfg, handler, sessionValidator.GinMiddleware(claimsContextKey), metricsHandler)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: cfg.RequestTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("escrow api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// NewRouter wires routes. authenticate must store *sessionvalidator.Claims under "auth_claims"
// or abort the request.
func NewRouter(cfg Config, handler *Handler, authenticate gin.HandlerFunc, metricsHandler http.Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", idempotencyKeyHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}

	api := router.Group("/api")
	api.Use(authenticate, sessionUser())

	api.GET("/wallet", handler.handleWallet)
	api.POST("/wallet/deposits", handler.handleDeposit)
	api.POST("/wallet/withdrawals", handler.handleWithdraw)

	api.GET("/listings", handler.handleListListings)
	api.POST("/listings", handler.handleCreateListing)
	api.GET("/listings/:listingID", handler.handleGetListing)
	api.DELETE("/listings/:listingID", handler.handleCloseListing)
	api.GET("/listings/:listingID/bids", handler.handleListBids)
	api.GET("/listings/:listingID/credential", handler.handleCredential)

	api.POST("/bids", handler.handlePlaceBid)
	api.PUT("/bids/accept", handler.handleAcceptBid)

	api.POST("/payouts", handler.handlePayout)

	return router
}

// sessionUser resolves the session claims into a validated user id.
func sessionUser() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if _, exists := ctx.Get(userIDContextKey); exists {
			ctx.Next()
			return
		}
		claims := getClaims(ctx)
		if claims == nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
			return
		}
		userID, err := escrow.NewUserID(claims.GetUserID())
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "session has no user"))
			return
		}
		ctx.Set(userIDContextKey, userID)
		ctx.Next()
	}
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func currentUser(ctx *gin.Context) escrow.UserID {
	value, _ := ctx.Get(userIDContextKey)
	userID, _ := value.(escrow.UserID)
	return userID
}
