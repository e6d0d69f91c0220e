package services

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	domain "github.com/naiaprojects/naia-sub001/internal/domain"
)

const whatsappBaseURL = "https://wa.me/"

// HandoffConfig configures the WhatsApp deep link sent to buyers.
type HandoffConfig struct {
	// BusinessNumber receives the buyer's confirmation message.
	BusinessNumber string
	// CountryCode replaces a leading trunk zero, e.g. "62" for Indonesia.
	CountryCode string
	SiteName    string
	// Locale selects digit grouping for amounts, e.g. "id" renders Rp 1.000.000.
	Locale string
}

// HandoffLinkBuilder renders wa.me links that pre-fill the payment confirmation message.
type HandoffLinkBuilder struct {
	number   string
	siteName string
	printer  *message.Printer
}

// NewHandoffLinkBuilder validates the business number and locale.
func NewHandoffLinkBuilder(cfg HandoffConfig) (*HandoffLinkBuilder, error) {
	number := NormalizePhoneE164(cfg.BusinessNumber, cfg.CountryCode)
	if number == "" {
		return nil, errors.New("handoff: business whatsapp number is required")
	}
	tag := language.Indonesian
	if locale := strings.TrimSpace(cfg.Locale); locale != "" {
		parsed, err := language.Parse(locale)
		if err != nil {
			return nil, fmt.Errorf("handoff: parse locale %q: %w", locale, err)
		}
		tag = parsed
	}
	siteName := strings.TrimSpace(cfg.SiteName)
	if siteName == "" {
		siteName = "Admin"
	}
	return &HandoffLinkBuilder{number: number, siteName: siteName, printer: message.NewPrinter(tag)}, nil
}

// FormatRupiah renders amount with locale digit grouping.
func (b *HandoffLinkBuilder) FormatRupiah(amount int64) string {
	return b.printer.Sprintf("Rp %d", amount)
}

// OrderLink builds the confirmation link for a service order.
func (b *HandoffLinkBuilder) OrderLink(order Order) string {
	method := "Lunas"
	if order.PaymentMethod == domain.PaymentMethodDownPayment {
		method = "DP 50%"
	}
	lines := []string{
		fmt.Sprintf("Halo %s, saya ingin konfirmasi pembayaran pesanan.", b.siteName),
		"",
		"Invoice: " + order.InvoiceNumber,
		"Paket: " + order.Package.Name,
		"Metode: " + method,
		"Total dibayar: " + b.FormatRupiah(order.AmountDue),
	}
	if order.AmountDueLater > 0 {
		lines = append(lines, "Sisa pembayaran: "+b.FormatRupiah(order.AmountDueLater))
	}
	lines = append(lines, "Nama: "+order.Customer.Name)
	return b.link(lines)
}

// PurchaseLink builds the confirmation link for a store purchase.
func (b *HandoffLinkBuilder) PurchaseLink(purchase StorePurchase, item CatalogItem) string {
	name := item.Name
	if name == "" {
		name = purchase.ItemID
	}
	lines := []string{
		fmt.Sprintf("Halo %s, saya ingin konfirmasi pembayaran produk digital.", b.siteName),
		"",
		"Invoice: " + purchase.InvoiceNumber,
		"Produk: " + name,
		"Total: " + b.FormatRupiah(purchase.Amount),
		"Nama: " + purchase.Customer.Name,
		"Email: " + purchase.Customer.Email,
	}
	return b.link(lines)
}

func (b *HandoffLinkBuilder) link(lines []string) string {
	text := strings.ReplaceAll(url.QueryEscape(strings.Join(lines, "\n")), "+", "%20")
	return whatsappBaseURL + b.number + "?text=" + text
}

// NormalizePhoneE164 strips formatting and returns country code prefixed digits without "+".
// A leading trunk zero is replaced by countryCode.
func NormalizePhoneE164(phone, countryCode string) string {
	digits := strings.Map(func(r rune) rune {
		if isASCIIDigit(r) {
			return r
		}
		return -1
	}, phone)
	if digits == "" {
		return ""
	}
	countryCode = strings.TrimLeft(strings.TrimSpace(countryCode), "+")
	if strings.HasPrefix(digits, "0") && countryCode != "" {
		return countryCode + strings.TrimLeft(digits, "0")
	}
	return digits
}
