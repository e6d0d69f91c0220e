package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/naiaprojects/naia-sub001/internal/domain"
	"github.com/naiaprojects/naia-sub001/internal/platform/auth"
	"github.com/naiaprojects/naia-sub001/internal/platform/httpx"
	"github.com/naiaprojects/naia-sub001/internal/platform/pagination"
	"github.com/naiaprojects/naia-sub001/internal/services"
)

// AdminHandlers exposes the operator surface: order and purchase decisions, the notification
// inbox, and article publishing.
type AdminHandlers struct {
	authn         *auth.Authenticator
	roles         []string
	orders        services.OrderService
	purchases     services.PurchaseService
	notifications services.NotificationService
	content       services.ContentService
	clock         func() time.Time
}

// AdminDeps bundles the services used by the admin handlers.
type AdminDeps struct {
	Authenticator *auth.Authenticator
	Roles         []string
	Orders        services.OrderService
	Purchases     services.PurchaseService
	Notifications services.NotificationService
	Content       services.ContentService
	Clock         func() time.Time
}

func NewAdminHandlers(deps AdminDeps) *AdminHandlers {
	roles := deps.Roles
	if len(roles) == 0 {
		roles = []string{auth.RoleAdmin, auth.RoleStaff}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &AdminHandlers{
		authn:         deps.Authenticator,
		roles:         roles,
		orders:        deps.Orders,
		purchases:     deps.Purchases,
		notifications: deps.Notifications,
		content:       deps.Content,
		clock:         clock,
	}
}

func (h *AdminHandlers) requireStaff(r chi.Router) {
	if h.authn != nil {
		r.Use(h.authn.RequireStaff(h.roles...))
	}
}

// Routes registers the /admin group.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	h.requireStaff(r)
	r.Get("/orders/{invoice}", h.getOrder)
	r.Post("/orders/{invoice}/status", h.transitionOrder)
	r.Post("/store/purchases/{invoice}/verify", h.verifyPurchase)
	r.Post("/store/purchases/{invoice}/reject", h.rejectPurchase)
	r.Get("/notifications", h.listNotifications)
	r.Get("/notifications/counts", h.notificationCounts)
	r.Post("/notifications/read-all", h.markAllNotificationsRead)
	r.Post("/notifications/{notificationID}/read", h.markNotificationRead)
	r.Delete("/notifications/{notificationID}", h.deleteNotification)
	r.Put("/articles/{articleID}", h.saveArticle)
}

// PublishingRoutes registers the staff-only publishing hooks that live at the API root.
func (h *AdminHandlers) PublishingRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(g chi.Router) {
		h.requireStaff(g)
		g.Post("/revalidate", h.revalidate)
		g.Post("/telegram/post", h.telegramPost)
	})
}

func (h *AdminHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	receipt, err := h.orders.GetOrder(ctx, chi.URLParam(r, "invoice"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(receipt))
}

type orderStatusRequest struct {
	Status string `json:"status"`
}

func (h *AdminHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	var req orderStatusRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}
	order, err := h.orders.TransitionStatus(ctx, services.OrderStatusCommand{
		InvoiceNumber: chi.URLParam(r, "invoice"),
		TargetStatus:  domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status))),
		ActorID:       auth.ActorFromContext(ctx),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(services.OrderReceipt{
		Order:     order,
		Countdown: services.Remaining(order.Deadline, h.clock()),
	}))
}

type purchaseDecisionRequest struct {
	Reason string `json:"reason"`
}

func (h *AdminHandlers) verifyPurchase(w http.ResponseWriter, r *http.Request) {
	h.decidePurchase(w, r, true)
}

func (h *AdminHandlers) rejectPurchase(w http.ResponseWriter, r *http.Request) {
	h.decidePurchase(w, r, false)
}

func (h *AdminHandlers) decidePurchase(w http.ResponseWriter, r *http.Request, verify bool) {
	ctx := r.Context()
	if h.purchases == nil {
		serviceUnavailable(ctx, w, "purchase")
		return
	}
	var req purchaseDecisionRequest
	if !decodeJSONBody(w, r, &req, verify) {
		return
	}
	cmd := services.PurchaseDecisionCommand{
		InvoiceNumber: chi.URLParam(r, "invoice"),
		ActorID:       auth.ActorFromContext(ctx),
		Reason:        req.Reason,
	}
	var (
		purchase services.StorePurchase
		err      error
	)
	if verify {
		purchase, err = h.purchases.Verify(ctx, cmd)
	} else {
		purchase, err = h.purchases.Reject(ctx, cmd)
	}
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildPurchasePayload(purchase, services.CatalogItem{}, services.Remaining(purchase.Deadline, h.clock()), ""))
}

type notificationPayload struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Type      string `json:"type"`
	Reference string `json:"reference,omitempty"`
	IsRead    bool   `json:"is_read"`
	CreatedAt string `json:"created_at"`
	ReadAt    string `json:"read_at,omitempty"`
}

type notificationListResponse struct {
	Items         []notificationPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

func buildNotificationPayload(n services.Notification) notificationPayload {
	return notificationPayload{
		ID:        n.ID,
		Title:     n.Title,
		Message:   n.Message,
		Type:      string(n.Type),
		Reference: n.Reference,
		IsRead:    n.IsRead,
		CreatedAt: formatTime(n.CreatedAt),
		ReadAt:    formatTimePtr(n.ReadAt),
	}
}

func (h *AdminHandlers) listNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.notifications == nil {
		serviceUnavailable(ctx, w, "notification")
		return
	}
	query := r.URL.Query()
	params, err := pagination.Parse(query, pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	unread := strings.EqualFold(strings.TrimSpace(query.Get("unread")), "true")

	page, err := h.notifications.List(ctx, services.NotificationFilter{
		UnreadOnly: unread,
		Pagination: services.Pagination{PageSize: params.PageSize, PageToken: params.PageToken},
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]notificationPayload, 0, len(page.Items))
	for _, n := range page.Items {
		items = append(items, buildNotificationPayload(n))
	}
	writeJSONResponse(w, http.StatusOK, notificationListResponse{Items: items, NextPageToken: page.NextPageToken})
}

func (h *AdminHandlers) notificationCounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.notifications == nil {
		serviceUnavailable(ctx, w, "notification")
		return
	}
	counts, err := h.notifications.Counts(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]int{
		"total":  counts.Total,
		"unread": counts.Unread,
		"read":   counts.Read,
	})
}

func (h *AdminHandlers) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.notifications == nil {
		serviceUnavailable(ctx, w, "notification")
		return
	}
	n, err := h.notifications.MarkRead(ctx, chi.URLParam(r, "notificationID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildNotificationPayload(n))
}

func (h *AdminHandlers) markAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.notifications == nil {
		serviceUnavailable(ctx, w, "notification")
		return
	}
	updated, err := h.notifications.MarkAllRead(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]int{"updated": updated})
}

func (h *AdminHandlers) deleteNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.notifications == nil {
		serviceUnavailable(ctx, w, "notification")
		return
	}
	if err := h.notifications.Delete(ctx, chi.URLParam(r, "notificationID")); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type saveArticleRequest struct {
	Slug         string `json:"slug"`
	Title        string `json:"title"`
	Excerpt      string `json:"excerpt"`
	Body         string `json:"body"`
	CategoryName string `json:"category_name"`
	Status       string `json:"status"`
}

type articlePayload struct {
	ID           string `json:"id"`
	Slug         string `json:"slug"`
	Title        string `json:"title"`
	Excerpt      string `json:"excerpt,omitempty"`
	CategoryName string `json:"category_name,omitempty"`
	Status       string `json:"status"`
	PublishedAt  string `json:"published_at,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

func (h *AdminHandlers) saveArticle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.content == nil {
		serviceUnavailable(ctx, w, "content")
		return
	}
	var req saveArticleRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}
	article, err := h.content.SaveArticle(ctx, services.SaveArticleCommand{
		ID:           chi.URLParam(r, "articleID"),
		Slug:         req.Slug,
		Title:        req.Title,
		Excerpt:      req.Excerpt,
		Body:         req.Body,
		CategoryName: req.CategoryName,
		Status:       domain.ArticleStatus(strings.ToLower(strings.TrimSpace(req.Status))),
		ActorID:      auth.ActorFromContext(ctx),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, articlePayload{
		ID:           article.ID,
		Slug:         article.Slug,
		Title:        article.Title,
		Excerpt:      article.Excerpt,
		CategoryName: article.CategoryName,
		Status:       string(article.Status),
		PublishedAt:  formatTimePtr(article.PublishedAt),
		CreatedAt:    formatTime(article.CreatedAt),
		UpdatedAt:    formatTime(article.UpdatedAt),
	})
}

type revalidateRequest struct {
	Paths []string `json:"paths"`
}

func (h *AdminHandlers) revalidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.content == nil {
		serviceUnavailable(ctx, w, "content")
		return
	}
	var req revalidateRequest
	if !decodeJSONBody(w, r, &req, true) {
		return
	}
	if err := h.content.RequestRevalidate(ctx, services.RevalidateCommand{Paths: req.Paths}); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusAccepted, map[string]any{"status": "queued"})
}

type telegramPostRequest struct {
	Article struct {
		ID           string `json:"id"`
		Title        string `json:"title"`
		Slug         string `json:"slug"`
		Excerpt      string `json:"excerpt"`
		CategoryName string `json:"category_name"`
		PublishedAt  string `json:"published_at"`
	} `json:"article"`
}

func (h *AdminHandlers) telegramPost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.content == nil {
		serviceUnavailable(ctx, w, "content")
		return
	}
	var req telegramPostRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}
	cmd := services.TelegramPostCommand{
		ArticleID:    req.Article.ID,
		Title:        req.Article.Title,
		Slug:         req.Article.Slug,
		Excerpt:      req.Article.Excerpt,
		CategoryName: req.Article.CategoryName,
	}
	if raw := strings.TrimSpace(req.Article.PublishedAt); raw != "" {
		ts, err := parseClientTime(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "published_at must be an RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		cmd.PublishedAt = &ts
	}
	queued, err := h.content.RequestTelegramPost(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusAccepted, map[string]any{"queued": queued})
}
