package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/novaforge/bazaar/internal/auth"
	"github.com/novaforge/bazaar/internal/market"
	"github.com/novaforge/bazaar/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type contextKey string

const accountIDKey contextKey = "account_id"

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Auth     *auth.AuthService
	Registry *market.Registry
	Log      *logrus.Entry
}

// NewHandler creates a new handler
func NewHandler(authService *auth.AuthService, registry *market.Registry, log *logrus.Entry) *Handler {
	return &Handler{Auth: authService, Registry: registry, Log: log}
}

// Router builds the full marketplace route set.
func (h *Handler) Router() *chi.Mux {
	r := chi.NewRouter()

	// Public endpoints
	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)
		r.Post("/listings", h.CreateListing)
		r.Get("/listings", h.SearchListings)
		r.Get("/listings/mine", h.MyListings)
		r.Delete("/listings/{uuid}", h.CancelListing)
		r.Post("/listings/{uuid}/buy", h.BuyListing)
		r.Get("/history/{uuid}", h.GetHistory)
		r.Get("/inventory", h.GetInventory)
		r.Get("/wallet", h.GetWallet)
	})

	return r
}

// Register handles account registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	if req.Name == "" || req.Password == "" {
		http.Error(w, `{"error": "Name and password required"}`, http.StatusBadRequest)
		return
	}

	account, err := h.Auth.Register(r.Context(), req.Name, req.Password)
	if err != nil {
		http.Error(w, `{"error": "Failed to register account"}`, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":   account.ID,
		"name": account.Name,
	})
}

// Login handles account login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	token, err := h.Auth.Login(r.Context(), req.Name, req.Password)
	if err != nil {
		http.Error(w, `{"error": "Invalid credentials"}`, http.StatusUnauthorized)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			http.Error(w, `{"error": "Authorization header required"}`, http.StatusUnauthorized)
			return
		}

		// Remove "Bearer " prefix if present
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		accountID, err := h.Auth.AccountFromToken(tokenString)
		if err != nil {
			http.Error(w, `{"error": "Invalid or expired token"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), accountIDKey, accountID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func accountID(r *http.Request) (int64, bool) {
	id, ok := r.Context().Value(accountIDKey).(int64)
	return id, ok
}

func itemUUID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "uuid"))
}

// CreateListing lists an item for sale
func (h *Handler) CreateListing(w http.ResponseWriter, r *http.Request) {
	actor, ok := accountID(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req struct {
		UUID  string `json:"uuid"`
		Price int64  `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}
	itemID, err := uuid.Parse(req.UUID)
	if err != nil {
		http.Error(w, `{"error": "Invalid item uuid"}`, http.StatusBadRequest)
		return
	}
	if req.Price <= 0 {
		http.Error(w, `{"error": "Price must be positive"}`, http.StatusBadRequest)
		return
	}

	if !h.Registry.ForAccount(actor).Create(r.Context(), itemID, req.Price) {
		http.Error(w, `{"error": "Listing rejected"}`, http.StatusConflict)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"message": "Listing created", "uuid": itemID.String()})
}

// CancelListing takes down one of the caller's own listings
func (h *Handler) CancelListing(w http.ResponseWriter, r *http.Request) {
	actor, ok := accountID(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}
	itemID, err := itemUUID(r)
	if err != nil {
		http.Error(w, `{"error": "Invalid item uuid"}`, http.StatusBadRequest)
		return
	}

	if !h.Registry.ForAccount(actor).Cancel(r.Context(), itemID) {
		http.Error(w, `{"error": "Cancel rejected"}`, http.StatusConflict)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"message": "Listing cancelled"})
}

// BuyListing purchases a listing
func (h *Handler) BuyListing(w http.ResponseWriter, r *http.Request) {
	actor, ok := accountID(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}
	itemID, err := itemUUID(r)
	if err != nil {
		http.Error(w, `{"error": "Invalid item uuid"}`, http.StatusBadRequest)
		return
	}

	if !h.Registry.ForAccount(actor).Buy(r.Context(), itemID) {
		http.Error(w, `{"error": "Purchase rejected"}`, http.StatusConflict)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"message": "Listing bought", "uuid": itemID.String()})
}

// SearchListings is the search surface; there is no listing index yet,
// so the page is always empty
func (h *Handler) SearchListings(w http.ResponseWriter, r *http.Request) {
	actor, ok := accountID(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	listings := h.Registry.ForAccount(actor).Search(r.Context(), r.URL.Query().Get("q"), page)
	json.NewEncoder(w).Encode(listings)
}

// MyListings returns the caller's outstanding listings
func (h *Handler) MyListings(w http.ResponseWriter, r *http.Request) {
	actor, ok := accountID(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	json.NewEncoder(w).Encode(h.Registry.ForAccount(actor).Outstanding())
}

// GetHistory returns the audit log for one item
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	actor, ok := accountID(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}
	itemID, err := itemUUID(r)
	if err != nil {
		http.Error(w, `{"error": "Invalid item uuid"}`, http.StatusBadRequest)
		return
	}

	log, err := h.Registry.ForAccount(actor).History(r.Context(), itemID)
	if err != nil {
		h.Log.WithError(err).Warn("history read failed")
		http.Error(w, `{"error": "History unavailable"}`, http.StatusServiceUnavailable)
		return
	}
	if log == nil {
		log = []models.Transaction{} // never null in the response body
	}
	json.NewEncoder(w).Encode(log)
}

// GetInventory returns the caller's local inventory
func (h *Handler) GetInventory(w http.ResponseWriter, r *http.Request) {
	actor, ok := accountID(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	json.NewEncoder(w).Encode(h.Registry.ForAccount(actor).Items())
}

// GetWallet returns the caller's balance
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	actor, ok := accountID(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	json.NewEncoder(w).Encode(map[string]int64{"balance": h.Registry.ForAccount(actor).Balance()})
}
