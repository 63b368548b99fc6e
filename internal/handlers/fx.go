package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	domain "github.com/op17/storefront-api/internal/domain"
	"github.com/op17/storefront-api/internal/platform/httpx"
	"github.com/op17/storefront-api/internal/services"
)

// FxHandlers exposes operator endpoints for EUR reference rates.
type FxHandlers struct {
	fx services.FxService
}

// NewFxHandlers constructs FX handlers.
func NewFxHandlers(fx services.FxService) *FxHandlers {
	return &FxHandlers{fx: fx}
}

// Routes registers /fx endpoints. The caller guards the group with the shared secret.
func (h *FxHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/refresh", h.refresh)
	r.Get("/rates/{currency}", h.rate)
}

type fxRatePayload struct {
	Base   string `json:"base"`
	Quote  string `json:"quote"`
	Rate   string `json:"rate"`
	Source string `json:"source,omitempty"`
	AsOf   string `json:"asOf,omitempty"`
}

type fxRefreshResponse struct {
	Rates []fxRatePayload `json:"rates"`
}

type fxRateResponse struct {
	Rate fxRatePayload `json:"rate"`
}

func (h *FxHandlers) refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fx == nil {
		writeFxError(ctx, w, services.ErrFxUnavailable)
		return
	}
	rates, err := h.fx.Refresh(ctx)
	if err != nil {
		writeFxError(ctx, w, err)
		return
	}
	resp := fxRefreshResponse{Rates: make([]fxRatePayload, 0, len(rates))}
	for _, rate := range rates {
		resp.Rates = append(resp.Rates, buildFxRatePayload(rate))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *FxHandlers) rate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fx == nil {
		writeFxError(ctx, w, services.ErrFxUnavailable)
		return
	}
	rate, err := h.fx.Rate(ctx, domain.Currency(chi.URLParam(r, "currency")))
	if err != nil {
		writeFxError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, fxRateResponse{Rate: buildFxRatePayload(rate)})
}

func buildFxRatePayload(rate services.FxRate) fxRatePayload {
	payload := fxRatePayload{
		Base:   string(rate.Base),
		Quote:  string(rate.Quote),
		Source: rate.Source,
		AsOf:   formatTime(rate.AsOf),
	}
	if rate.Rate != nil {
		payload.Rate = rate.Rate.FloatString(6)
	}
	return payload
}

func writeFxError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrFxInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrFxRateNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("fx_rate_not_found", "no rate stored for currency", http.StatusNotFound))
	case errors.Is(err, services.ErrFxUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("fx_unavailable", err.Error(), http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("fx_error", "failed to process fx request", http.StatusInternalServerError))
	}
}
