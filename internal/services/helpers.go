package services

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	domain "github.com/naiaprojects/naia-sub001/internal/domain"
	"github.com/naiaprojects/naia-sub001/internal/repositories"
)

const (
	maxCustomerNameLength = 120
	minPhoneDigits        = 8
	maxPhoneDigits        = 15
)

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func ensureLogger(logger func(context.Context, string, map[string]any)) func(context.Context, string, map[string]any) {
	if logger == nil {
		return func(context.Context, string, map[string]any) {}
	}
	return logger
}

func ensureClock(clock func() time.Time) func() time.Time {
	if clock == nil {
		clock = time.Now
	}
	return func() time.Time { return clock().UTC() }
}

func isRepoNotFound(err error) bool { return repositories.IsNotFound(err) }

func isRepoConflict(err error) bool { return repositories.IsConflict(err) }

// newOutboxTask builds a pending task due immediately.
func newOutboxTask(kind, id string, effect domain.OutboxEffect, payload map[string]any, now time.Time, discriminator ...string) domain.OutboxTask {
	key := domain.OutboxDedupeKey(kind, id, effect, discriminator...)
	return domain.OutboxTask{
		ID:            domain.OutboxTaskID(key),
		DedupeKey:     key,
		Effect:        effect,
		AggregateKind: kind,
		AggregateID:   id,
		Payload:       payload,
		Status:        domain.OutboxStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func payloadString(payload map[string]any, key string) string {
	switch v := payload[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return v.String()
	}
	return ""
}

// payloadStrings accepts []string as enqueued in-process and []any as decoded from storage.
func payloadStrings(payload map[string]any, key string) []string {
	switch v := payload[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func payloadTime(payload map[string]any, key string) (time.Time, bool) {
	switch v := payload[key].(type) {
	case time.Time:
		return v.UTC(), true
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		return t.UTC(), err == nil
	}
	return time.Time{}, false
}

// normalizeCustomer trims and validates buyer contact details. Phone is required and must
// contain 8 to 15 ASCII digits.
func normalizeCustomer(c CustomerSnapshot) (CustomerSnapshot, error) {
	out := CustomerSnapshot{
		Name:  strings.Join(strings.Fields(c.Name), " "),
		Email: strings.ToLower(strings.TrimSpace(c.Email)),
		Phone: strings.TrimSpace(c.Phone),
	}
	if out.Name == "" {
		return CustomerSnapshot{}, fmt.Errorf("customer name is required")
	}
	if len([]rune(out.Name)) > maxCustomerNameLength {
		return CustomerSnapshot{}, fmt.Errorf("customer name must be at most %d characters", maxCustomerNameLength)
	}
	addr, err := mail.ParseAddress(out.Email)
	if err != nil || addr.Address != out.Email {
		return CustomerSnapshot{}, fmt.Errorf("customer email is invalid")
	}
	if out.Phone == "" {
		return CustomerSnapshot{}, fmt.Errorf("customer phone is required")
	}
	digits := 0
	for i, r := range out.Phone {
		switch {
		case isASCIIDigit(r):
			digits++
		case r == '+' && i == 0, r == ' ', r == '-', r == '(', r == ')', r == '.':
		default:
			return CustomerSnapshot{}, fmt.Errorf("customer phone must contain digits only")
		}
	}
	if digits < minPhoneDigits || digits > maxPhoneDigits {
		return CustomerSnapshot{}, fmt.Errorf("customer phone must have %d to %d digits", minPhoneDigits, maxPhoneDigits)
	}
	return out, nil
}

func valuePtr[T any](v T) *T {
	return &v
}

func isASCIIDigit(r rune) bool {
	return '0' <= r && r <= '9'
}
