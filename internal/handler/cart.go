package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"payndeliver-cart/internal/middleware"
	"payndeliver-cart/internal/model"
	"payndeliver-cart/internal/service"
	"payndeliver-cart/pkg/apierror"
	"payndeliver-cart/pkg/response"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// maxCartBody bounds POST /api/cart request bodies.
const maxCartBody = 1 << 20

// CartHandler handles cart-related HTTP requests.
type CartHandler struct {
	cartService *service.CartService
	log         *zap.Logger
}

// NewCartHandler creates a new cart handler.
func NewCartHandler(cartService *service.CartService, log *zap.Logger) *CartHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &CartHandler{
		cartService: cartService,
		log:         log.Named("cart-handler"),
	}
}

// upsertCartRequest is the POST /api/cart body. A client-supplied total is
// accepted but ignored.
type upsertCartRequest struct {
	UserID   string           `json:"userId"`
	Products []model.LineItem `json:"products"`
}

// GetCart handles GET /api/cart/{userId}
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	if h.cartService == nil {
		response.Error(w, apierror.ServiceUnavailable("cart storage not configured"))
		return
	}

	userID := strings.TrimSpace(chi.URLParam(r, "userId"))
	if userID == "" {
		response.Error(w, apierror.BadRequest("userId is required"))
		return
	}

	cart, err := h.cartService.GetCart(r.Context(), userID)
	if err != nil {
		h.internalError(w, r, "failed to get cart", err)
		return
	}
	if cart == nil {
		response.Error(w, apierror.NotFound("cart not found"))
		return
	}

	cart.Total = model.Total(cart.Products)
	response.OK(w, cart)
}

// UpsertCart handles POST /api/cart
func (h *CartHandler) UpsertCart(w http.ResponseWriter, r *http.Request) {
	if h.cartService == nil {
		response.Error(w, apierror.ServiceUnavailable("cart storage not configured"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxCartBody)
	defer r.Body.Close()

	var req upsertCartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierror.BadRequest("invalid JSON"))
		return
	}

	products, problems := model.ValidateCart(req.UserID, req.Products)
	if len(problems) > 0 {
		response.Error(w, apierror.ValidationError("invalid cart", problems...))
		return
	}

	cart, err := h.cartService.SaveCart(r.Context(), strings.TrimSpace(req.UserID), products)
	if err != nil {
		h.internalError(w, r, "failed to save cart", err)
		return
	}

	response.OK(w, cart)
}

// DeleteCart handles DELETE /api/cart/{userId}
func (h *CartHandler) DeleteCart(w http.ResponseWriter, r *http.Request) {
	if h.cartService == nil {
		response.Error(w, apierror.ServiceUnavailable("cart storage not configured"))
		return
	}

	userID := strings.TrimSpace(chi.URLParam(r, "userId"))
	if userID == "" {
		response.Error(w, apierror.BadRequest("userId is required"))
		return
	}

	deleted, err := h.cartService.DeleteCart(r.Context(), userID)
	if err != nil {
		h.internalError(w, r, "failed to delete cart", err)
		return
	}
	if !deleted {
		response.Error(w, apierror.NotFound("cart not found"))
		return
	}

	response.NoContent(w)
}

func (h *CartHandler) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.log.Error(msg,
		zap.String("request_id", middleware.GetRequestID(r.Context())),
		zap.Error(err))
	response.Error(w, err)
}
