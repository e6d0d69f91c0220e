package services

import (
	"errors"
	"fmt"

	domain "github.com/naiaprojects/naia-sub001/internal/domain"
)

var (
	// ErrPaymentPlanInvalidPrice indicates a non-positive catalog price.
	ErrPaymentPlanInvalidPrice = errors.New("payment plan: price must be positive")
	// ErrPaymentPlanInvalidMethod indicates an unknown payment method.
	ErrPaymentPlanInvalidMethod = errors.New("payment plan: unknown payment method")
)

// PaymentPlan splits a price into what is due now and what remains after the down payment.
// Amounts are in the smallest currency unit.
type PaymentPlan struct {
	Method   PaymentMethod
	DueNow   int64
	DueLater int64
}

// CalculatePaymentPlan derives the amount due for method. A down payment is half the price
// rounded down; the remainder is due later.
func CalculatePaymentPlan(price int64, method PaymentMethod) (PaymentPlan, error) {
	if price <= 0 {
		return PaymentPlan{}, fmt.Errorf("%w: %d", ErrPaymentPlanInvalidPrice, price)
	}
	switch method {
	case domain.PaymentMethodFull:
		return PaymentPlan{Method: method, DueNow: price}, nil
	case domain.PaymentMethodDownPayment:
		half := price / 2
		return PaymentPlan{Method: method, DueNow: half, DueLater: price - half}, nil
	default:
		return PaymentPlan{}, fmt.Errorf("%w: %q", ErrPaymentPlanInvalidMethod, method)
	}
}
