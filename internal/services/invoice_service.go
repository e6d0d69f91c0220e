package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

const (
	invoicePrefix       = "INV-"
	invoiceCounterScope = "invoice-"
	// invoiceDailyLimit bounds the three digit sequence suffix.
	invoiceDailyLimit = 999
)

var invoicePattern = regexp.MustCompile(`^INV-(\d{8})-(\d{3})$`)

// ErrInvoiceExhausted indicates every sequence number for the business day has been used.
var ErrInvoiceExhausted = errors.New("invoice: daily sequence exhausted")

// InvoiceServiceDeps bundles collaborators required to construct the invoice service.
type InvoiceServiceDeps struct {
	Counters CounterService
	// Location is the business time zone deciding which calendar day an invoice belongs to.
	Location *time.Location
}

type invoiceService struct {
	counters CounterService
	location *time.Location
}

// NewInvoiceService wires the invoice generator.
func NewInvoiceService(deps InvoiceServiceDeps) (InvoiceService, error) {
	if deps.Counters == nil {
		return nil, errors.New("invoice service: counter service is required")
	}
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	return &invoiceService{counters: deps.Counters, location: loc}, nil
}

// Next returns INV-YYYYMMDD-rrr where rrr comes from the per-day counter.
func (s *invoiceService) Next(ctx context.Context, now time.Time) (string, error) {
	day := now.In(s.location).Format("20060102")
	seq, err := s.counters.Next(ctx, invoiceCounterScope+day, invoiceDailyLimit)
	if err != nil {
		if errors.Is(err, ErrCounterExhausted) {
			return "", fmt.Errorf("%w: %s", ErrInvoiceExhausted, day)
		}
		return "", err
	}
	return formatInvoiceNumber(day, seq), nil
}

func formatInvoiceNumber(day string, seq int64) string {
	return fmt.Sprintf("%s%s-%03d", invoicePrefix, day, seq)
}

// ValidInvoiceNumber reports whether value is a well-formed invoice number with a real
// calendar date and a sequence between 001 and 999.
func ValidInvoiceNumber(value string) bool {
	m := invoicePattern.FindStringSubmatch(value)
	if m == nil || m[2] == "000" {
		return false
	}
	_, err := time.Parse("20060102", m[1])
	return err == nil
}

// LoadLocation resolves a configured zone name, falling back to UTC for an empty name.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invoice: load time zone %q: %w", name, err)
	}
	return loc, nil
}
