package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/adgyapan/escrow/pkg/escrow"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler serves the /api routes.
type Handler struct {
	marketplace Marketplace
	logger      *zap.Logger
	cfg         Config
}

// NewHandler expects a validated Config.
func NewHandler(marketplace Marketplace, logger *zap.Logger, cfg Config) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{marketplace: marketplace, logger: logger, cfg: cfg}
}

type walletRequest struct {
	AmountCents int64          `json:"amount_cents"`
	Metadata    map[string]any `json:"metadata"`
}

type createListingRequest struct {
	AdReferenceID  string `json:"ad_reference_id"`
	BasePriceCents int64  `json:"base_price_cents"`
	TargetViews    int64  `json:"target_views"`
	DurationDays   int    `json:"duration_days"`
}

type placeBidRequest struct {
	ListingID   string `json:"listing_id"`
	AmountCents int64  `json:"amount_cents"`
}

type acceptBidRequest struct {
	BidID string `json:"bid_id"`
}

type payoutRequest struct {
	ListingID string `json:"listing_id"`
}

func (handler *Handler) handleWallet(ctx *gin.Context) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	handler.respondWithWallet(ctx, requestCtx, currentUser(ctx))
}

func (handler *Handler) handleDeposit(ctx *gin.Context) {
	handler.handleWalletChange(ctx, handler.marketplace.Deposit)
}

func (handler *Handler) handleWithdraw(ctx *gin.Context) {
	handler.handleWalletChange(ctx, handler.marketplace.Withdraw)
}

type walletChange func(ctx context.Context, userID escrow.UserID, amount escrow.PositiveAmountCents, idempotencyKey escrow.IdempotencyKey, metadata escrow.MetadataJSON) (escrow.Account, error)

func (handler *Handler) handleWalletChange(ctx *gin.Context, change walletChange) {
	var request walletRequest
	if !bindJSON(ctx, &request) {
		return
	}
	amount, err := escrow.NewPositiveAmountCents(request.AmountCents)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	idempotencyKey, err := escrow.ParseOptionalIdempotencyKey(ctx.GetHeader(idempotencyKeyHeader))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	metadata, err := encodeMetadata(request.Metadata)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	userID := currentUser(ctx)
	if _, err := change(requestCtx, userID, amount, idempotencyKey, metadata); err != nil {
		handler.respondError(ctx, err)
		return
	}
	handler.respondWithWallet(ctx, requestCtx, userID)
}

func (handler *Handler) handleListListings(ctx *gin.Context) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	listings, err := handler.marketplace.ListOpenListings(requestCtx, handler.cfg.ListingsLimit)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	now := handler.marketplace.Now()
	payloads := make([]listingPayload, 0, len(listings))
	for _, listing := range listings {
		payloads = append(payloads, newListingPayload(listing, now))
	}
	ctx.JSON(http.StatusOK, gin.H{"listings": payloads})
}

func (handler *Handler) handleCreateListing(ctx *gin.Context) {
	var request createListingRequest
	if !bindJSON(ctx, &request) {
		return
	}
	adReferenceID, err := escrow.NewAdReferenceID(request.AdReferenceID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	basePrice, err := escrow.NewPositiveAmountCents(request.BasePriceCents)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	listing, err := handler.marketplace.CreateListing(requestCtx, currentUser(ctx), adReferenceID, basePrice, request.TargetViews, request.DurationDays)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"listing": newListingPayload(listing, handler.marketplace.Now())})
}

func (handler *Handler) handleGetListing(ctx *gin.Context) {
	listingID, ok := handler.listingParam(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	listing, err := handler.marketplace.GetListing(requestCtx, listingID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"listing": newListingPayload(listing, handler.marketplace.Now())})
}

func (handler *Handler) handleCloseListing(ctx *gin.Context) {
	listingID, ok := handler.listingParam(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	listing, err := handler.marketplace.CloseListing(requestCtx, listingID, currentUser(ctx))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"listing": newListingPayload(listing, handler.marketplace.Now())})
}

func (handler *Handler) handleListBids(ctx *gin.Context) {
	listingID, ok := handler.listingParam(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	bids, err := handler.marketplace.ListBids(requestCtx, listingID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payloads := make([]bidPayload, 0, len(bids))
	for _, bid := range bids {
		payloads = append(payloads, newBidPayload(bid))
	}
	ctx.JSON(http.StatusOK, gin.H{"bids": payloads})
}

func (handler *Handler) handleCredential(ctx *gin.Context) {
	listingID, ok := handler.listingParam(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	credential, err := handler.marketplace.Credential(requestCtx, listingID, currentUser(ctx))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"credential": newCredentialPayload(credential)})
}

func (handler *Handler) handlePlaceBid(ctx *gin.Context) {
	var request placeBidRequest
	if !bindJSON(ctx, &request) {
		return
	}
	listingID, err := escrow.NewListingID(request.ListingID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	amount, err := escrow.NewPositiveAmountCents(request.AmountCents)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	idempotencyKey, err := escrow.ParseOptionalIdempotencyKey(ctx.GetHeader(idempotencyKeyHeader))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	bid, err := handler.marketplace.PlaceBid(requestCtx, listingID, currentUser(ctx), amount, idempotencyKey)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"bid": newBidPayload(bid)})
}

func (handler *Handler) handleAcceptBid(ctx *gin.Context) {
	var request acceptBidRequest
	if !bindJSON(ctx, &request) {
		return
	}
	bidID, err := escrow.NewBidID(request.BidID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	listing, err := handler.marketplace.AcceptBid(requestCtx, bidID, currentUser(ctx))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"listing":    newListingPayload(listing, handler.marketplace.Now()),
		"credential": newCredentialPayload(listing.Credential),
	})
}

func (handler *Handler) handlePayout(ctx *gin.Context) {
	var request payoutRequest
	if !bindJSON(ctx, &request) {
		return
	}
	listingID, err := escrow.NewListingID(request.ListingID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	settlement, err := handler.marketplace.Payout(requestCtx, listingID, currentUser(ctx))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"settlement": newSettlementPayload(settlement)})
}

func (handler *Handler) respondWithWallet(ctx *gin.Context, requestCtx context.Context, userID escrow.UserID) {
	account, err := handler.marketplace.Balance(requestCtx, userID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	entries, err := handler.marketplace.History(requestCtx, userID, 0, handler.cfg.WalletHistoryLimit)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"wallet": newWalletPayload(account, entries)})
}

func (handler *Handler) listingParam(ctx *gin.Context) (escrow.ListingID, bool) {
	listingID, err := escrow.NewListingID(ctx.Param("listingID"))
	if err != nil {
		handler.respondError(ctx, err)
		return escrow.ListingID{}, false
	}
	return listingID, true
}

func (handler *Handler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
}

func (handler *Handler) respondError(ctx *gin.Context, err error) {
	status, code, message := classifyError(err)
	if status >= http.StatusInternalServerError {
		handler.logger.Error("request failed",
			zap.String("method", ctx.Request.Method),
			zap.String("path", ctx.FullPath()),
			zap.String("user_id", currentUser(ctx).String()),
			zap.Error(err),
		)
	}
	ctx.JSON(status, errorResponse(code, message))
}

func bindJSON(ctx *gin.Context, target any) bool {
	if err := ctx.ShouldBindJSON(target); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
		return false
	}
	return true
}

func encodeMetadata(metadata map[string]any) (escrow.MetadataJSON, error) {
	if metadata == nil {
		return escrow.NewMetadataJSON("")
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return escrow.MetadataJSON{}, escrow.ErrInvalidMetadataJSON
	}
	return escrow.NewMetadataJSON(string(raw))
}
