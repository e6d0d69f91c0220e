package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/naiaprojects/naia-sub001/internal/repositories"
)

func newTestInvoiceService(t *testing.T, counters CounterService, loc *time.Location) InvoiceService {
	t.Helper()
	svc, err := NewInvoiceService(InvoiceServiceDeps{Counters: counters, Location: loc})
	if err != nil {
		t.Fatalf("new invoice service: %v", err)
	}
	return svc
}

func TestInvoiceServiceNextSequence(t *testing.T) {
	ctx := context.Background()
	svc := newTestInvoiceService(t, newSequenceCounters(), time.UTC)
	now := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

	first, err := svc.Next(ctx, now)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	second, err := svc.Next(ctx, now)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if first != "INV-20250314-001" || second != "INV-20250314-002" {
		t.Fatalf("unexpected sequence %s, %s", first, second)
	}

	nextDay, err := svc.Next(ctx, now.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if nextDay != "INV-20250315-001" {
		t.Fatalf("expected counter reset on a new day, got %s", nextDay)
	}
}

func TestInvoiceServiceUsesBusinessTimeZone(t *testing.T) {
	jakarta := time.FixedZone("WIB", 7*3600)
	var counterID string
	counters := &stubCounterService{nextFn: func(_ context.Context, id string, limit int64) (int64, error) {
		counterID = id
		if limit != 999 {
			t.Fatalf("expected limit 999, got %d", limit)
		}
		return 7, nil
	}}
	svc := newTestInvoiceService(t, counters, jakarta)

	// 18:30 UTC is already the next day in Jakarta.
	invoice, err := svc.Next(context.Background(), time.Date(2025, 3, 14, 18, 30, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if invoice != "INV-20250315-007" {
		t.Fatalf("unexpected invoice %s", invoice)
	}
	if counterID != "invoice-20250315" {
		t.Fatalf("unexpected counter %s", counterID)
	}
}

func TestInvoiceServiceExhausted(t *testing.T) {
	repo := &stubCounterRepo{nextFn: func(context.Context, string, int64) (int64, error) {
		return 0, repositories.NewCounterError(repositories.CounterErrorExhausted, "limit reached", nil)
	}}
	counters, err := NewCounterService(CounterServiceDeps{Repository: repo})
	if err != nil {
		t.Fatalf("new counter service: %v", err)
	}
	svc := newTestInvoiceService(t, counters, time.UTC)
	_, err = svc.Next(context.Background(), time.Now())
	if !errors.Is(err, ErrInvoiceExhausted) {
		t.Fatalf("expected ErrInvoiceExhausted, got %v", err)
	}
}

func TestValidInvoiceNumber(t *testing.T) {
	cases := map[string]bool{
		"INV-20250314-001":  true,
		"INV-20250314-999":  true,
		"INV-20250314-000":  false,
		"INV-20250230-001":  false,
		"INV-2025031-001":   false,
		"INV-20250314-1000": false,
		"inv-20250314-001":  false,
		"":                  false,
	}
	for value, want := range cases {
		if got := ValidInvoiceNumber(value); got != want {
			t.Errorf("ValidInvoiceNumber(%q) = %v, want %v", value, got, want)
		}
	}
}

func TestInvoiceFormatProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	properties.Property("minted invoices are valid and carry the day and sequence", prop.ForAll(
		func(dayOffset int, seq int64) bool {
			now := base.AddDate(0, 0, dayOffset)
			counters := &stubCounterService{nextFn: func(context.Context, string, int64) (int64, error) {
				return seq, nil
			}}
			svc, err := NewInvoiceService(InvoiceServiceDeps{Counters: counters})
			if err != nil {
				return false
			}
			invoice, err := svc.Next(context.Background(), now)
			if err != nil {
				return false
			}
			want := fmt.Sprintf("INV-%s-%03d", now.Format("20060102"), seq)
			return invoice == want && ValidInvoiceNumber(invoice) && len(invoice) == len("INV-20060102-001")
		},
		gen.IntRange(0, 20000),
		gen.Int64Range(1, 999),
	))

	properties.TestingRun(t)
}

type stubCounterService struct {
	nextFn func(context.Context, string, int64) (int64, error)
}

func (s *stubCounterService) Next(ctx context.Context, id string, limit int64) (int64, error) {
	return s.nextFn(ctx, id, limit)
}

func TestCounterServiceValidation(t *testing.T) {
	repo := &stubCounterRepo{nextFn: func(context.Context, string, int64) (int64, error) {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "bad id", nil)
	}}
	svc, err := NewCounterService(CounterServiceDeps{Repository: repo})
	if err != nil {
		t.Fatalf("new counter service: %v", err)
	}
	if _, err := svc.Next(context.Background(), "  ", 10); !errors.Is(err, ErrCounterInvalidInput) {
		t.Fatalf("expected invalid input for blank id, got %v", err)
	}
	if _, err := svc.Next(context.Background(), "x", -1); !errors.Is(err, ErrCounterInvalidInput) {
		t.Fatalf("expected invalid input for negative limit, got %v", err)
	}
	if _, err := svc.Next(context.Background(), "x", 10); !errors.Is(err, ErrCounterInvalidInput) {
		t.Fatalf("expected repository invalid input to map, got %v", err)
	}
}
