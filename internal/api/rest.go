package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ashureev/salesbot/internal/domain"
	"github.com/ashureev/salesbot/internal/identity"
)

const (
	defaultConversationTitle = "New Conversation"
	recentActivityLimit      = 10
)

// CreateConversation handles POST /api/conversations.
func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	var body struct {
		Title string `json:"title"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	title := strings.TrimSpace(body.Title)
	if title == "" {
		title = defaultConversationTitle
	}

	now := time.Now()
	conv := &domain.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.repo.CreateConversation(r.Context(), conv); err != nil {
		h.logger.Error("Failed to create conversation", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to create conversation")
		return
	}
	JSON(w, http.StatusCreated, conv)
}

// ListConversations handles GET /api/conversations.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	convs, err := h.repo.ListConversations(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to list conversations", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	if convs == nil {
		convs = []*domain.Conversation{}
	}
	JSON(w, http.StatusOK, convs)
}

// GetConversation handles GET /api/conversations/{id}.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	conv, err := h.repo.GetConversation(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to load conversation", "conversation_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	if conv == nil || conv.UserID != userID {
		Error(w, http.StatusNotFound, "conversation not found")
		return
	}

	msgs, err := h.repo.ListMessages(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to load messages", "conversation_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	conv.Messages = msgs
	if conv.Messages == nil {
		conv.Messages = []domain.Message{}
	}
	JSON(w, http.StatusOK, conv)
}

type planResponse struct {
	*domain.Document
	Research []*domain.ResearchRecord `json:"research"`
}

// GetPlan handles GET /api/plans/{id}.
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	doc, err := h.repo.GetDocument(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to load plan", "plan_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load plan")
		return
	}
	if doc == nil || doc.UserID != userID {
		Error(w, http.StatusNotFound, "plan not found")
		return
	}
	h.writePlan(r.Context(), w, doc)
}

// LatestPlan handles GET /api/plans?company=.
func (h *Handler) LatestPlan(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	company := strings.TrimSpace(r.URL.Query().Get("company"))
	if company == "" {
		Error(w, http.StatusBadRequest, "company is required")
		return
	}

	doc, err := h.repo.GetLatestDocument(r.Context(), company, userID)
	if err != nil {
		h.logger.Error("Failed to load plan", "company", company, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load plan")
		return
	}
	if doc == nil {
		Error(w, http.StatusNotFound, "plan not found")
		return
	}
	h.writePlan(r.Context(), w, doc)
}

func (h *Handler) writePlan(ctx context.Context, w http.ResponseWriter, doc *domain.Document) {
	research, err := h.repo.ResearchForDocument(ctx, doc.ID)
	if err != nil {
		h.logger.Warn("Failed to load plan research", "plan_id", doc.ID, "error", err)
	}
	if research == nil {
		research = []*domain.ResearchRecord{}
	}
	JSON(w, http.StatusOK, planResponse{Document: doc, Research: research})
}

// UsageStats handles GET /api/analytics/usage. Only configured admins may read it.
func (h *Handler) UsageStats(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if !h.cfg.IsAdmin(userID) {
		Error(w, http.StatusForbidden, "admin access required")
		return
	}
	stats, err := h.repo.UsageStats(r.Context(), recentActivityLimit)
	if err != nil {
		h.logger.Error("Failed to load usage stats", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load usage stats")
		return
	}
	JSON(w, http.StatusOK, stats)
}

// Health returns the health status of the API and its dependencies.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	healthCheckTimeout := h.cfg.Timeout.HealthCheck
	if healthCheckTimeout <= 0 {
		healthCheckTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
		"voice":  h.transcriber != nil && h.synth != nil,
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		h.logger.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	JSON(w, statusCode, status)
}
