package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"gwi.com/messaging-loadtest/internal/chaos"
	"gwi.com/messaging-loadtest/internal/core"
	"gwi.com/messaging-loadtest/internal/metrics"
	"gwi.com/messaging-loadtest/internal/store"
)

type APIHandler struct {
	service  *core.MessagingService
	recorder *metrics.Recorder
	injector *chaos.Injector
	logger   *zap.Logger
	serverID string
}

func NewAPIHandler(svc *core.MessagingService, recorder *metrics.Recorder, injector *chaos.Injector, logger *zap.Logger, serverID string) *APIHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIHandler{
		service:  svc,
		recorder: recorder,
		injector: injector,
		logger:   logger,
		serverID: serverID,
	}
}

// fail maps validation errors to 400 and everything else to a counted 500.
func (h *APIHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, core.ErrInvalidArgument) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.recorder.RecordError()
	h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	writeError(w, http.StatusInternalServerError, err.Error())
}

func (h *APIHandler) pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+param)
		return 0, false
	}
	return id, true
}

func (h *APIHandler) queryUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, err := parseOptionalID(r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user_id")
		return 0, false
	}
	return userID, true
}

// System endpoints

type HealthResponse struct {
	Status        string  `json:"status"`
	Timestamp     string  `json:"timestamp"`
	ServerID      string  `json:"server_id"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	RequestCount  uint64  `json:"request_count"`
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	snap := h.recorder.Snapshot()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "healthy",
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		ServerID:      h.serverID,
		UptimeSeconds: snap.UptimeSeconds,
		RequestCount:  snap.TotalRequests,
	})
}

func (h *APIHandler) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	snap := h.recorder.Snapshot()
	writeJSON(w, http.StatusOK, metrics.Snapshot{
		TotalRequests:       snap.TotalRequests,
		RequestsPerSecond:   round(snap.RequestsPerSecond, 2),
		AverageResponseTime: round(snap.AverageResponseTime, 2),
		ErrorRate:           round(snap.ErrorRate, 4),
		ActiveConnections:   snap.ActiveConnections,
		UptimeSeconds:       round(snap.UptimeSeconds, 2),
	})
}

func (h *APIHandler) EnableChaosHandler(w http.ResponseWriter, r *http.Request) {
	h.injector.Enable()
	h.logger.Warn("chaos mode enabled", zap.Float64("fault_rate", h.injector.Rate()))
	writeJSON(w, http.StatusOK, map[string]string{"message": "Chaos mode enabled"})
}

func (h *APIHandler) DisableChaosHandler(w http.ResponseWriter, r *http.Request) {
	h.injector.Disable()
	h.logger.Info("chaos mode disabled")
	writeJSON(w, http.StatusOK, map[string]string{"message": "Chaos mode disabled"})
}

// Conversation endpoints

func (h *APIHandler) ListConversationsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.queryUserID(w, r)
	if !ok {
		return
	}
	convs, err := h.service.ListConversations(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

type MessagesPageResponse struct {
	ConversationID int64                     `json:"conversation_id"`
	Page           int                       `json:"page"`
	Messages       []store.MessageWithSender `json:"messages"`
}

func (h *APIHandler) GetMessagesHandler(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := h.pathID(w, r, "conversationID")
	if !ok {
		return
	}
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil {
		page = 1
	}

	page, messages, err := h.service.GetMessages(r.Context(), conversationID, page)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessagesPageResponse{
		ConversationID: conversationID,
		Page:           page,
		Messages:       messages,
	})
}

type CreateConversationRequest struct {
	Name         *string                `json:"name"`
	Type         store.ConversationType `json:"type"`
	CreatedBy    int64                  `json:"created_by"`
	Participants []int64                `json:"participants"`
}

type CreateConversationResponse struct {
	ID   int64                  `json:"id"`
	Name *string                `json:"name"`
	Type store.ConversationType `json:"type"`
}

func (h *APIHandler) CreateConversationHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	conv, err := h.service.CreateConversation(r.Context(), core.CreateConversationInput{
		Name:         req.Name,
		Type:         req.Type,
		CreatedBy:    req.CreatedBy,
		Participants: req.Participants,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateConversationResponse{ID: conv.ID, Name: conv.Name, Type: conv.Type})
}

type TypingRequest struct {
	UserID *int64 `json:"user_id"`
}

type TypingResponse struct {
	Status         string `json:"status"`
	ConversationID int64  `json:"conversation_id"`
	UserID         *int64 `json:"user_id"`
}

func (h *APIHandler) TypingHandler(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := h.pathID(w, r, "conversationID")
	if !ok {
		return
	}
	var req TypingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	var userID int64
	if req.UserID != nil {
		userID = *req.UserID
	}
	if err := h.service.SendTyping(r.Context(), conversationID, userID); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TypingResponse{Status: "typing_sent", ConversationID: conversationID, UserID: req.UserID})
}

func (h *APIHandler) ListMediaHandler(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := h.pathID(w, r, "conversationID")
	if !ok {
		return
	}
	media, err := h.service.ListMedia(r.Context(), conversationID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]store.MediaItem{"media": media})
}

// Message endpoints

type SendMessageRequest struct {
	ConversationID int64             `json:"conversation_id"`
	SenderID       int64             `json:"sender_id"`
	Content        string            `json:"content"`
	Type           store.MessageType `json:"type"`
	Metadata       json.RawMessage   `json:"metadata,omitempty"`
}

type SendMessageResponse struct {
	Status    string    `json:"status"`
	MessageID int64     `json:"message_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *APIHandler) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	metadata := req.Metadata
	if string(metadata) == "null" {
		metadata = nil
	}

	msg, err := h.service.SendMessage(r.Context(), core.SendMessageInput{
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		Content:        req.Content,
		Type:           req.Type,
		Metadata:       metadata,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, SendMessageResponse{Status: "sent", MessageID: msg.ID, CreatedAt: msg.CreatedAt})
}

type MarkReadRequest struct {
	UserID int64 `json:"user_id"`
}

func (h *APIHandler) MarkReadHandler(w http.ResponseWriter, r *http.Request) {
	messageID, ok := h.pathID(w, r, "messageID")
	if !ok {
		return
	}
	var req MarkReadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if err := h.service.MarkRead(r.Context(), messageID, req.UserID); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "read", "message_id": messageID})
}

func (h *APIHandler) UnreadCountHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.queryUserID(w, r)
	if !ok {
		return
	}
	count, err := h.service.UnreadCount(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"unread_count": count})
}

type SearchResponse struct {
	Results []store.SearchResult `json:"results"`
	Query   string               `json:"query"`
}

func (h *APIHandler) SearchHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	// A blank query is an empty result whatever else was sent.
	if strings.TrimSpace(query) == "" {
		writeJSON(w, http.StatusOK, SearchResponse{Results: []store.SearchResult{}, Query: query})
		return
	}
	userID, ok := h.queryUserID(w, r)
	if !ok {
		return
	}
	results, err := h.service.Search(r.Context(), userID, query)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results, Query: query})
}

func (h *APIHandler) DeleteMessageHandler(w http.ResponseWriter, r *http.Request) {
	messageID, ok := h.pathID(w, r, "messageID")
	if !ok {
		return
	}
	if err := h.service.DeleteMessage(r.Context(), messageID); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "id": messageID})
}
