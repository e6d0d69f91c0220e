package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/naiaprojects/naia-sub001/internal/platform/httpx"
	"github.com/naiaprojects/naia-sub001/internal/repositories"
	"github.com/naiaprojects/naia-sub001/internal/services"
)

const defaultMaxBodySize = 64 * 1024

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultMaxBodySize
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeJSONBody reads and unmarshals the request body into dst. With optional set an absent
// body leaves dst untouched. Failures are written to w and reported as false.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, defaultMaxBodySize)
	switch {
	case err == nil:
	case errors.Is(err, errEmptyBody) && optional:
		return true
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return false
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func serviceUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_service_unavailable", name+" service unavailable", http.StatusServiceUnavailable))
}

// writeServiceError maps service and repository failures onto the JSON error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var mismatch *services.AmountMismatchError
	switch {
	case errors.As(err, &mismatch):
		httpx.WriteError(ctx, w, httpx.NewError("amount_mismatch", "submitted amount does not match the current price", http.StatusConflict).
			WithDetails(map[string]any{"expected_amount": mismatch.Expected, "submitted_amount": mismatch.Submitted}))
	case errors.Is(err, services.ErrItemNotPurchasable):
		httpx.WriteError(ctx, w, httpx.NewError("item_not_purchasable", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderInvalidInput),
		errors.Is(err, services.ErrPurchaseInvalidInput),
		errors.Is(err, services.ErrNotificationInvalidInput),
		errors.Is(err, services.ErrContentInvalidInput),
		errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPurchaseNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("purchase_not_found", "purchase not found", http.StatusNotFound).
			WithDetails(map[string]any{"redirect": "/store"}))
	case errors.Is(err, services.ErrCatalogPackageNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("package_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("item_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrNotificationNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("notification_not_found", "notification not found", http.StatusNotFound))
	case errors.Is(err, services.ErrContentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("article_not_found", "article not found", http.StatusNotFound))
	case errors.Is(err, services.ErrContentNotPublished):
		httpx.WriteError(ctx, w, httpx.NewError("article_not_published", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPurchaseInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("purchase_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict), errors.Is(err, services.ErrPurchaseConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrInvoiceExhausted):
		httpx.WriteError(ctx, w, httpx.NewError("invoice_exhausted", "no invoice numbers left for today, try again later", http.StatusServiceUnavailable))
	case repositories.IsUnavailable(err), errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("unavailable", "datastore unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal", "failed to process request", http.StatusInternalServerError))
	}
}

// parseClientTime accepts RFC3339 timestamps and plain dates.
func parseClientTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, time.DateOnly} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", value)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
