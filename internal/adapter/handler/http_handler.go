package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/cart-sync/internal/core/domain"
	"github.com/rl1809/cart-sync/internal/core/pricing"
	"github.com/rl1809/cart-sync/internal/core/service"
	"github.com/rl1809/cart-sync/internal/core/signal"
)

const (
	SessionHeader = "X-Session-ID"
	TabHeader     = "X-Tab-ID"

	maxBodyBytes = 64 << 10
)

type scopeKey struct{}

// Services are the use cases served over HTTP. Catalog is optional; without
// it the feed and admin routes are not mounted. The admin routes also need
// an AdminToken.
type Services struct {
	Carts       *service.CartService
	Preferences *service.PreferenceService
	Workspaces  *service.WorkspaceService
	Orders      *service.OrderService
	Postal      *service.PostalService
	Inventory   *service.InventoryPoller
	Catalog     *service.CatalogService
	Signals     *signal.Hub
	AdminToken  string
}

type HTTPHandler struct {
	svc Services
	log *zap.Logger
	now func() time.Time
}

type ErrorResponse struct {
	Error  string             `json:"error"`
	Fields service.Validation `json:"fields,omitempty"`
}

type CartResponse struct {
	Items []domain.CartItem  `json:"items"`
	Quote pricing.CartResult `json:"quote"`
}

type AddItemRequest struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	Unit     string `json:"unit"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
	Image    string `json:"image"`
}

type QuantityRequest struct {
	Quantity int `json:"quantity"`
}

type DeltaRequest struct {
	Delta int `json:"delta"`
}

func NewHTTPHandler(svc Services, log *zap.Logger) *HTTPHandler {
	return &HTTPHandler{svc: svc, log: log, now: time.Now}
}

func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(h.requestLog)

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Use(sessionScope)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.GetCart)
			r.Delete("/", h.ClearCart)
			r.Post("/items", h.AddItem)
			r.Put("/items/{id}", h.SetQuantity)
			r.Post("/items/{id}/adjust", h.AdjustQuantity)
			r.Delete("/items/{id}", h.RemoveItem)
		})

		r.Get("/catalog", h.GetCatalog)

		r.Route("/bulk", func(r chi.Router) {
			r.Get("/", h.GetBulk)
			r.Put("/rows/{id}", h.SetBulkQuantity)
			r.Post("/rows/{id}/step", h.StepBulk)
			r.Get("/quote", h.GetQuoteDocument)
		})

		r.Route("/subscription", func(r chi.Router) {
			r.Get("/", h.GetSubscription)
			r.Put("/rows/{id}", h.SetSubscriptionLine)
			r.Put("/frequency", h.SelectFrequency)
			r.Post("/submit", h.SubmitSubscription)
		})

		r.Route("/preferences", func(r chi.Router) {
			r.Get("/", h.GetPreferences)
			r.Put("/language", h.SetLanguage)
			r.Put("/theme", h.SetTheme)
			r.Put("/accessibility", h.SetAccessibility)
			r.Delete("/accessibility", h.ResetAccessibility)
		})

		r.Post("/checkout", h.Checkout)
		r.Post("/contact", h.Contact)
		r.Get("/postal/{zip}", h.CheckPostal)
		r.Get("/events", h.Events)

		if h.svc.Catalog != nil {
			r.Get("/feed", h.Feed)
		}
	})

	if h.svc.Catalog != nil && h.svc.AdminToken != "" {
		r.Route("/admin", func(r chi.Router) {
			r.Use(adminOnly(h.svc.AdminToken))
			r.Put("/products/{key}/prices", h.UpdatePrices)
		})
	}

	return r
}

// adminOnly accepts requests carrying "Authorization: Bearer <token>".
func adminOnly(token string) func(http.Handler) http.Handler {
	want := []byte("Bearer " + token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get("Authorization"))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
				writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// sessionScope resolves the session and tab a request speaks for. Browsers
// opening an event stream cannot set headers, so query parameters are
// accepted too. Missing identifiers are minted and echoed back.
func sessionScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope := domain.Scope{
			Session: firstNonEmpty(r.Header.Get(SessionHeader), r.URL.Query().Get("session")),
			Tab:     firstNonEmpty(r.Header.Get(TabHeader), r.URL.Query().Get("tab")),
		}
		if scope.Session == "" {
			scope.Session = uuid.NewString()
		}
		if scope.Tab == "" {
			scope.Tab = uuid.NewString()
		}
		w.Header().Set(SessionHeader, scope.Session)
		w.Header().Set(TabHeader, scope.Tab)

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), scopeKey{}, scope)))
	})
}

func scopeFrom(ctx context.Context) domain.Scope {
	scope, _ := ctx.Value(scopeKey{}).(domain.Scope)
	return scope
}

func (h *HTTPHandler) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", chimw.GetReqID(r.Context())),
		)
	})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"inventory": string(h.svc.Inventory.State()),
	})
}

func (h *HTTPHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	h.writeCart(w, h.svc.Carts.Get(r.Context(), scopeFrom(r.Context()).Session))
}

func (h *HTTPHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	unit, err := domain.ParseUnit(req.Unit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if req.Name == "" && req.Key == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "missing item key or name"})
		return
	}
	item, err := h.resolveItem(r.Context(), domain.CartItem{
		Key:   req.Key,
		Name:  req.Name,
		Price: req.Price,
		Unit:  unit,
		Image: req.Image,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	cart, err := h.svc.Carts.Add(r.Context(), scopeFrom(r.Context()), item, req.Quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeCart(w, cart)
}

// resolveItem prices an item from the current catalog rather than trusting
// what the client sent. Client prices are only kept while no catalog has
// been loaded yet.
func (h *HTTPHandler) resolveItem(ctx context.Context, item domain.CartItem) (domain.CartItem, error) {
	lang := h.svc.Preferences.Language(ctx, scopeFrom(ctx).Session)
	return catalogItem(h.svc.Inventory.Snapshot(), lang, item)
}

func catalogItem(snap *domain.Snapshot, lang string, item domain.CartItem) (domain.CartItem, error) {
	if snap == nil {
		return item, nil
	}
	if item.Key == "" {
		return item, domain.ErrProductNotFound
	}
	for _, p := range snap.Products {
		if p.Key != item.Key {
			continue
		}
		item.Name = p.Localize(lang).Name
		item.Price = p.Price(item.Unit)
		if p.Image != "" {
			item.Image = p.Image
		}
		return item, nil
	}
	return item, domain.ErrProductNotFound
}

func (h *HTTPHandler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	var req QuantityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cart, err := h.svc.Carts.SetQuantity(r.Context(), scopeFrom(r.Context()), lineID(r), req.Quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeCart(w, cart)
}

func (h *HTTPHandler) AdjustQuantity(w http.ResponseWriter, r *http.Request) {
	var req DeltaRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cart, err := h.svc.Carts.Adjust(r.Context(), scopeFrom(r.Context()), lineID(r), req.Delta)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeCart(w, cart)
}

func (h *HTTPHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	cart, err := h.svc.Carts.Remove(r.Context(), scopeFrom(r.Context()), lineID(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeCart(w, cart)
}

func (h *HTTPHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Carts.Clear(r.Context(), scopeFrom(r.Context())); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeCart(w, domain.Cart{})
}

func (h *HTTPHandler) writeCart(w http.ResponseWriter, cart domain.Cart) {
	items := cart.Items
	if items == nil {
		items = []domain.CartItem{}
	}
	writeJSON(w, http.StatusOK, CartResponse{Items: items, Quote: pricing.CartQuote(cart)})
}

func (h *HTTPHandler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	lang := h.svc.Preferences.Language(r.Context(), scopeFrom(r.Context()).Session)
	resp := struct {
		State     service.InventoryState    `json:"state"`
		Language  string                    `json:"language"`
		FetchedAt *time.Time                `json:"fetched_at,omitempty"`
		Products  []domain.LocalizedProduct `json:"products"`
	}{
		State:    h.svc.Inventory.State(),
		Language: lang,
		Products: []domain.LocalizedProduct{},
	}
	if snap := h.svc.Inventory.Snapshot(); snap != nil {
		resp.FetchedAt = &snap.FetchedAt
		for _, p := range snap.Products {
			resp.Products = append(resp.Products, p.Localize(lang))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) CheckPostal(w http.ResponseWriter, r *http.Request) {
	res := h.svc.Postal.Check(r.Context(), chi.URLParam(r, "zip"), r.URL.Query().Get("city"))
	writeJSON(w, http.StatusOK, res)
}

func lineID(r *http.Request) domain.Identity {
	raw := chi.URLParam(r, "id")
	if id, err := url.PathUnescape(raw); err == nil {
		return domain.Identity(id)
	}
	return domain.Identity(raw)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return false
	}
	return true
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status, message := errorStatus(err)

	var verr *service.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, status, ErrorResponse{Error: message, Fields: verr.Fields})
		return
	}
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, ErrorResponse{Error: message})
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidForm):
		return http.StatusUnprocessableEntity, "invalid form"
	case errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidUnit),
		errors.Is(err, domain.ErrUnsupportedLanguage),
		errors.Is(err, domain.ErrUnsupportedTheme),
		errors.Is(err, domain.ErrUnsupportedFontSize),
		errors.Is(err, domain.ErrInvalidPrice),
		errors.Is(err, pricing.ErrUnknownQuality),
		errors.Is(err, service.ErrQuantityOutOfRange),
		errors.Is(err, service.ErrUnknownFrequency):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrItemNotInCart),
		errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, service.ErrUnknownRow):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, service.ErrSubmissionInProgress),
		errors.Is(err, domain.ErrOptimisticLock):
		return http.StatusConflict, err.Error()
	case errors.Is(err, service.ErrEmptyCart),
		errors.Is(err, service.ErrSubscriptionRejected),
		errors.Is(err, service.ErrBelowMinimum):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, service.ErrConnection):
		return http.StatusBadGateway, "connection error, please try again"
	case errors.Is(err, service.ErrCatalogUnavailable):
		return http.StatusServiceUnavailable, err.Error()
	}
	return http.StatusInternalServerError, "internal error"
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
