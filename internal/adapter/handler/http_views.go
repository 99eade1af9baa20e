package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rl1809/cart-sync/internal/core/domain"
	"github.com/rl1809/cart-sync/internal/core/pricing"
)

const keepAliveInterval = 25 * time.Second

type SubscriptionLineRequest struct {
	Quantity int    `json:"quantity"`
	Quality  string `json:"quality"`
}

type FrequencyRequest struct {
	ID string `json:"id"`
}

type LanguageRequest struct {
	Language string `json:"language"`
}

type ThemeRequest struct {
	Theme string `json:"theme"`
}

type PriceUpdateRequest struct {
	PriceBox  int64 `json:"price_box"`
	PriceRoll int64 `json:"price_roll"`
}

func (h *HTTPHandler) GetBulk(w http.ResponseWriter, r *http.Request) {
	ws := h.svc.Workspaces.Open(r.Context(), scopeFrom(r.Context()))
	writeJSON(w, http.StatusOK, ws.BulkView())
}

func (h *HTTPHandler) SetBulkQuantity(w http.ResponseWriter, r *http.Request) {
	var req QuantityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ws := h.svc.Workspaces.Open(r.Context(), scopeFrom(r.Context()))
	if err := ws.SetBulkQuantity(chi.URLParam(r, "id"), req.Quantity); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ws.BulkView())
}

func (h *HTTPHandler) StepBulk(w http.ResponseWriter, r *http.Request) {
	var req DeltaRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ws := h.svc.Workspaces.Open(r.Context(), scopeFrom(r.Context()))
	if err := ws.StepBulk(chi.URLParam(r, "id"), req.Delta); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ws.BulkView())
}

func (h *HTTPHandler) GetQuoteDocument(w http.ResponseWriter, r *http.Request) {
	ws := h.svc.Workspaces.Open(r.Context(), scopeFrom(r.Context()))
	doc, err := ws.QuoteDocument(h.now())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *HTTPHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	ws := h.svc.Workspaces.Open(r.Context(), scopeFrom(r.Context()))
	writeJSON(w, http.StatusOK, ws.SubscriptionView())
}

func (h *HTTPHandler) SetSubscriptionLine(w http.ResponseWriter, r *http.Request) {
	var req SubscriptionLineRequest
	if !decodeBody(w, r, &req) {
		return
	}
	quality, err := pricing.ParseQuality(req.Quality)
	if err != nil {
		h.writeError(w, err)
		return
	}

	ws := h.svc.Workspaces.Open(r.Context(), scopeFrom(r.Context()))
	if err := ws.SetSubscriptionLine(chi.URLParam(r, "id"), req.Quantity, quality); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ws.SubscriptionView())
}

func (h *HTTPHandler) SelectFrequency(w http.ResponseWriter, r *http.Request) {
	var req FrequencyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ws := h.svc.Workspaces.Open(r.Context(), scopeFrom(r.Context()))
	if err := ws.SelectFrequency(req.ID); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ws.SubscriptionView())
}

func (h *HTTPHandler) SubmitSubscription(w http.ResponseWriter, r *http.Request) {
	var fields map[string]string
	if !decodeBody(w, r, &fields) {
		return
	}
	scope := scopeFrom(r.Context())
	ws := h.svc.Workspaces.Open(r.Context(), scope)

	receipt, err := h.svc.Orders.Subscribe(r.Context(), scope, ws, fields)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (h *HTTPHandler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Preferences.Get(r.Context(), scopeFrom(r.Context()).Session))
}

func (h *HTTPHandler) SetLanguage(w http.ResponseWriter, r *http.Request) {
	var req LanguageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	scope := scopeFrom(r.Context())
	if err := h.svc.Preferences.SetLanguage(r.Context(), scope, req.Language); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Preferences.Get(r.Context(), scope.Session))
}

func (h *HTTPHandler) SetTheme(w http.ResponseWriter, r *http.Request) {
	var req ThemeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	scope := scopeFrom(r.Context())
	if err := h.svc.Preferences.SetTheme(r.Context(), scope, domain.Theme(req.Theme)); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Preferences.Get(r.Context(), scope.Session))
}

func (h *HTTPHandler) SetAccessibility(w http.ResponseWriter, r *http.Request) {
	var req domain.Accessibility
	if !decodeBody(w, r, &req) {
		return
	}
	scope := scopeFrom(r.Context())
	if err := h.svc.Preferences.SetAccessibility(r.Context(), scope, req); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Preferences.Get(r.Context(), scope.Session))
}

func (h *HTTPHandler) ResetAccessibility(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r.Context())
	if err := h.svc.Preferences.ResetAccessibility(r.Context(), scope); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Preferences.Get(r.Context(), scope.Session))
}

func (h *HTTPHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var fields map[string]string
	if !decodeBody(w, r, &fields) {
		return
	}
	receipt, err := h.svc.Orders.Checkout(r.Context(), scopeFrom(r.Context()), fields)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (h *HTTPHandler) Contact(w http.ResponseWriter, r *http.Request) {
	var fields map[string]string
	if !decodeBody(w, r, &fields) {
		return
	}
	receipt, err := h.svc.Orders.Lead(r.Context(), scopeFrom(r.Context()), fields)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// Events streams the tab's signals as server-sent events until the client
// goes away.
func (h *HTTPHandler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "streaming unsupported"})
		return
	}

	scope := scopeFrom(r.Context())
	signals := h.svc.Signals.Watch(r.Context(), scope)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeEvent(w, "ready", scope.Tab)
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case sig, ok := <-signals:
			if !ok {
				return
			}
			if err := writeEvent(w, string(sig.Topic), sig); err != nil {
				h.log.Debug("event stream closed", zap.String("tab", scope.Tab), zap.Error(err))
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	return err
}

// Feed serves the catalog in the flat format pollers read.
func (h *HTTPHandler) Feed(w http.ResponseWriter, r *http.Request) {
	products, err := h.svc.Catalog.Feed(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (h *HTTPHandler) UpdatePrices(w http.ResponseWriter, r *http.Request) {
	var req PriceUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := h.svc.Catalog.UpdatePrices(r.Context(), chi.URLParam(r, "key"), req.PriceBox, req.PriceRoll)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
