package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/naiaprojects/naia-sub001/internal/platform/httpx"
	"github.com/naiaprojects/naia-sub001/internal/services"
)

// StoreHandlers exposes digital item checkout, purchase lookup and settlement accounts.
type StoreHandlers struct {
	purchases services.PurchaseService
	accounts  services.BankAccountService
	limiter   rateLimiter
}

// StoreOption customises StoreHandlers.
type StoreOption func(*StoreHandlers)

// WithStoreRateLimit limits purchase submissions per client address.
func WithStoreRateLimit(perMinute, burst int) StoreOption {
	return func(h *StoreHandlers) {
		h.limiter = newClientRateLimiter(perMinute, burst, nil)
	}
}

func NewStoreHandlers(purchases services.PurchaseService, accounts services.BankAccountService, opts ...StoreOption) *StoreHandlers {
	h := &StoreHandlers{purchases: purchases, accounts: accounts}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

func (h *StoreHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.With(rateLimitMiddleware(h.limiter)).Post("/store/purchases", h.createPurchase)
	r.Get("/store/purchases", h.getPurchase)
	r.Get("/bank-accounts", h.listBankAccounts)
}

type createPurchaseRequest struct {
	ItemID        string `json:"item_id"`
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone"`
	Amount        *int64 `json:"amount"`
}

type storeItemPayload struct {
	ID           string `json:"id"`
	Slug         string `json:"slug,omitempty"`
	Name         string `json:"name"`
	PriceType    string `json:"price_type"`
	Price        int64  `json:"price"`
	CategoryName string `json:"category_name,omitempty"`
}

type purchasePayload struct {
	InvoiceNumber  string             `json:"invoice_number"`
	ItemID         string             `json:"item_id"`
	CustomerName   string             `json:"customer_name"`
	CustomerEmail  string             `json:"customer_email"`
	CustomerPhone  string             `json:"customer_phone"`
	Amount         int64              `json:"amount"`
	PaymentStatus  string             `json:"payment_status"`
	Deadline       string             `json:"deadline"`
	VerifiedAt     string             `json:"verified_at,omitempty"`
	RejectedReason string             `json:"rejected_reason,omitempty"`
	CreatedAt      string             `json:"created_at"`
	Countdown      services.Countdown `json:"countdown"`
	WhatsAppLink   string             `json:"whatsapp_link,omitempty"`
	Item           *storeItemPayload  `json:"item,omitempty"`
}

func buildPurchasePayload(purchase services.StorePurchase, item services.CatalogItem, countdown services.Countdown, link string) purchasePayload {
	payload := purchasePayload{
		InvoiceNumber:  purchase.InvoiceNumber,
		ItemID:         purchase.ItemID,
		CustomerName:   purchase.Customer.Name,
		CustomerEmail:  purchase.Customer.Email,
		CustomerPhone:  purchase.Customer.Phone,
		Amount:         purchase.Amount,
		PaymentStatus:  string(purchase.PaymentStatus),
		Deadline:       formatTime(purchase.Deadline),
		VerifiedAt:     formatTimePtr(purchase.VerifiedAt),
		RejectedReason: purchase.RejectedReason,
		CreatedAt:      formatTime(purchase.CreatedAt),
		Countdown:      countdown,
		WhatsAppLink:   link,
	}
	if item.ID != "" {
		payload.Item = &storeItemPayload{
			ID:           item.ID,
			Slug:         item.Slug,
			Name:         item.Name,
			PriceType:    string(item.PriceType),
			Price:        item.Price,
			CategoryName: item.CategoryName,
		}
	}
	return payload
}

func (h *StoreHandlers) createPurchase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.purchases == nil {
		serviceUnavailable(ctx, w, "purchase")
		return
	}
	var req createPurchaseRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}
	receipt, err := h.purchases.CreatePurchase(ctx, services.CreatePurchaseCommand{
		ItemRef: req.ItemID,
		Customer: services.CustomerSnapshot{
			Name:  req.CustomerName,
			Email: req.CustomerEmail,
			Phone: req.CustomerPhone,
		},
		AmountHint: req.Amount,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildPurchasePayload(receipt.Purchase, receipt.Item, receipt.Countdown, receipt.WhatsAppLink))
}

// getPurchase answers every failed lookup with a redirect hint so the storefront can send the
// buyer back to the catalog.
func (h *StoreHandlers) getPurchase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.purchases == nil {
		serviceUnavailable(ctx, w, "purchase")
		return
	}
	invoice := strings.TrimSpace(r.URL.Query().Get("invoice"))
	if invoice == "" {
		writeServiceError(ctx, w, services.ErrPurchaseNotFound)
		return
	}
	view, err := h.purchases.GetPurchase(ctx, invoice)
	if err != nil {
		if errors.Is(err, services.ErrPurchaseInvalidInput) {
			err = services.ErrPurchaseNotFound
		}
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildPurchasePayload(view.Purchase, view.Item, view.Countdown, ""))
}

type bankAccountPayload struct {
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	AccountHolder string `json:"account_holder"`
}

func (h *StoreHandlers) listBankAccounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.accounts == nil {
		serviceUnavailable(ctx, w, "bank_account")
		return
	}
	accounts, err := h.accounts.ListActive(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("bank_accounts_unavailable", "failed to load bank accounts", http.StatusServiceUnavailable))
		return
	}
	payload := make([]bankAccountPayload, 0, len(accounts))
	for _, account := range accounts {
		payload = append(payload, bankAccountPayload{
			BankName:      account.BankName,
			AccountNumber: account.AccountNumber,
			AccountHolder: account.AccountHolder,
		})
	}
	w.Header().Set("Cache-Control", "public, max-age=60")
	writeJSONResponse(w, http.StatusOK, payload)
}
