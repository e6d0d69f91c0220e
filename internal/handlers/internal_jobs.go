package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/naiaprojects/naia-sub001/internal/platform/httpx"
	"github.com/naiaprojects/naia-sub001/internal/services"
)

// InternalHandlers lets Cloud Scheduler drive the outbox relay and the expiry sweep. The router
// guards the group with OIDC.
type InternalHandlers struct {
	dispatcher services.OutboxDispatcher
	expiry     services.ExpiryService
}

func NewInternalHandlers(dispatcher services.OutboxDispatcher, expiry services.ExpiryService) *InternalHandlers {
	return &InternalHandlers{dispatcher: dispatcher, expiry: expiry}
}

func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/outbox/dispatch", h.dispatchOutbox)
	r.Post("/expiry/sweep", h.sweepExpired)
}

func (h *InternalHandlers) dispatchOutbox(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.dispatcher == nil {
		serviceUnavailable(ctx, w, "outbox")
		return
	}
	result, err := h.dispatcher.DispatchDue(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("outbox_dispatch_failed", err.Error(), http.StatusServiceUnavailable))
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]int{
		"claimed":     result.Claimed,
		"delivered":   result.Delivered,
		"rescheduled": result.Rescheduled,
		"dead":        result.Dead,
	})
}

// sweepExpired reports partial progress; per-record failures are logged by the service.
func (h *InternalHandlers) sweepExpired(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.expiry == nil {
		serviceUnavailable(ctx, w, "expiry")
		return
	}
	result, err := h.expiry.Sweep(ctx)
	status := http.StatusOK
	if err != nil {
		status = http.StatusMultiStatus
	}
	writeJSONResponse(w, status, map[string]any{
		"expired_orders":    result.ExpiredOrders,
		"expired_purchases": result.ExpiredPurchases,
		"partial":           err != nil,
	})
}
