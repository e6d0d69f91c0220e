package idempotency

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var fixedTime = time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)

func newRequest(key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req
}

func countingHandler(calls *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"invoiceNumber":"INV-20250301-001"}`))
	})
}

func TestMiddlewarePassesThroughWithoutKey(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusCreated))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, newRequest("", `{"a":1}`))
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", rec.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected handler to run for each keyless request, got %d", calls)
	}
}

func TestMiddlewareRequiredKey(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithRequiredKey())(countingHandler(&calls, http.StatusCreated))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest("", `{}`))
	if rec.Code != http.StatusBadRequest || calls != 0 {
		t.Fatalf("expected 400 without handler call, got %d/%d", rec.Code, calls)
	}
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["error"] != "idempotency_key_required" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestMiddlewareReplaysStoredResponse(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(countingHandler(&calls, http.StatusCreated))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newRequest("k-1", `{"a":1}`))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, newRequest("k-1", `{"a":1}`))

	if calls != 1 {
		t.Fatalf("expected one handler call, got %d", calls)
	}
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Fatalf("expected identical replay, got %d %q", second.Code, second.Body.String())
	}
	if second.Header().Get(replayHeaderName) != "true" {
		t.Fatalf("expected replay header")
	}
}

func TestMiddlewareFingerprintMismatch(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusCreated))

	handler.ServeHTTP(httptest.NewRecorder(), newRequest("k-2", `{"a":1}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest("k-2", `{"a":2}`))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if calls != 1 {
		t.Fatalf("expected handler not to run for mismatched body")
	}
}

func TestMiddlewareDoesNotStoreServerErrors(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusServiceUnavailable))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, newRequest("k-3", `{"a":1}`))
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rec.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected retry after 5xx to reach handler, got %d", calls)
	}
}

func TestMemoryStorePendingAndSweep(t *testing.T) {
	store := NewMemoryStore()
	ctx := t.Context()

	if res, err := store.Reserve(ctx, "k", "fp", fixedTime, time.Minute); err != nil || res.State != ReservationStateNew {
		t.Fatalf("expected new reservation, got %+v %v", res, err)
	}
	if res, err := store.Reserve(ctx, "k", "fp", fixedTime, time.Minute); err != nil || res.State != ReservationStatePending {
		t.Fatalf("expected pending reservation, got %+v %v", res, err)
	}
	if removed := store.Sweep(fixedTime.Add(2 * time.Minute)); removed != 1 {
		t.Fatalf("expected one expired record, got %d", removed)
	}
	if res, _ := store.Reserve(ctx, "k", "fp", fixedTime.Add(2*time.Minute), time.Minute); res.State != ReservationStateNew {
		t.Fatalf("expected fresh reservation after sweep")
	}
}

func TestReservationFromPayload(t *testing.T) {
	payload, _ := json.Marshal(Record{Fingerprint: "fp", Status: StatusCompleted, ResponseStatus: 201, ResponseBody: []byte("{}")})
	res, err := reservationFromPayload(payload, "fp")
	if err != nil || res.State != ReservationStateCompleted || res.Record.ResponseStatus != 201 {
		t.Fatalf("unexpected reservation %+v %v", res, err)
	}
	if _, err := reservationFromPayload(payload, "other"); err != ErrFingerprintMismatch {
		t.Fatalf("expected fingerprint mismatch, got %v", err)
	}
}
