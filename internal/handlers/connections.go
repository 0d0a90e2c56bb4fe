package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"mentorship-chat/internal/conversation"
	"mentorship-chat/internal/middleware"
	"mentorship-chat/internal/models"
	"mentorship-chat/internal/repositories"
	"mentorship-chat/internal/telemetry"
)

// ConnectionHandler serves the REST view of a mentorship connection's thread.
type ConnectionHandler struct {
	connRepo    repositories.ConnectionRepository
	messageRepo repositories.MessageRepository
	directory   conversation.Directory
	audit       *telemetry.AuditEmitter
	log         *zap.Logger
}

// NewConnectionHandler builds a ConnectionHandler.
func NewConnectionHandler(connRepo repositories.ConnectionRepository, messageRepo repositories.MessageRepository,
	directory conversation.Directory, audit *telemetry.AuditEmitter, log *zap.Logger) *ConnectionHandler {
	return &ConnectionHandler{
		connRepo:    connRepo,
		messageRepo: messageRepo,
		directory:   directory,
		audit:       audit,
		log:         log,
	}
}

type messageResponse struct {
	models.Message
	SenderName string `json:"sender_name,omitempty"`
}

// GetConnection returns the connection along with the other party's name.
func (h *ConnectionHandler) GetConnection(c *gin.Context) {
	conn, userID, ok := h.authorize(c)
	if !ok {
		return
	}

	otherID := conn.OtherParty(userID)
	names, err := h.directory.DisplayNames(c.Request.Context(), []string{otherID})
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load profile"})
		return
	}

	role := "mentor"
	if otherID == conn.MenteeID {
		role = "mentee"
	}

	c.JSON(http.StatusOK, gin.H{
		"connection":       conn,
		"other_party_id":   otherID,
		"other_party_name": names[otherID],
		"other_party_role": role,
	})
}

// GetMessages returns the thread oldest first. The caller's unread incoming
// messages are marked read on the way out.
func (h *ConnectionHandler) GetMessages(c *gin.Context) {
	conn, userID, ok := h.authorize(c)
	if !ok {
		return
	}

	msgs, err := h.messageRepo.ListMessages(c.Request.Context(), conn.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	senderIDs := make([]string, 0, 2)
	seen := map[string]struct{}{}
	var unread []string
	for _, m := range msgs {
		if _, ok := seen[m.SenderID]; !ok {
			seen[m.SenderID] = struct{}{}
			senderIDs = append(senderIDs, m.SenderID)
		}
		if m.SenderID != userID && !m.Read {
			unread = append(unread, m.ID)
		}
	}

	senderNames := map[string]string{}
	if len(senderIDs) > 0 {
		senderNames, err = h.directory.DisplayNames(c.Request.Context(), senderIDs)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load senders"})
			return
		}
	}

	if len(unread) > 0 {
		if _, err := h.messageRepo.MarkRead(c.Request.Context(), conn.ID, userID, unread); err != nil {
			h.log.Warn("mark read failed", zap.String("connection_id", conn.ID), zap.Error(err))
		}
	}

	resp := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		resp = append(resp, messageResponse{Message: m, SenderName: senderNames[m.SenderID]})
	}
	c.JSON(http.StatusOK, gin.H{"messages": resp})
}

// GetMessage returns a single message of the connection.
func (h *ConnectionHandler) GetMessage(c *gin.Context) {
	conn, _, ok := h.authorize(c)
	if !ok {
		return
	}

	messageID := c.Param("message_id")
	if _, err := uuid.Parse(messageID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}

	msg, err := h.messageRepo.GetMessage(c.Request.Context(), messageID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrMessageNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "message not found"})
		return
	}
	if msg.ConnectionID != conn.ID {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}
	c.JSON(http.StatusOK, msg)
}

// PostMessage stores a message. Open views pick it up from the change feed.
func (h *ConnectionHandler) PostMessage(c *gin.Context) {
	conn, userID, ok := h.authorize(c)
	if !ok {
		return
	}

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message body is empty"})
		return
	}

	msg, err := h.messageRepo.CreateMessage(c.Request.Context(), conn.ID, userID, content)
	if err != nil {
		h.emitAudit(c, "ERROR", "message send failed", conn.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}

	h.emitAudit(c, "INFO", "message sent", conn.ID)
	c.JSON(http.StatusCreated, msg)
}

// MarkRead flags a batch of the caller's incoming messages read.
func (h *ConnectionHandler) MarkRead(c *gin.Context) {
	conn, userID, ok := h.authorize(c)
	if !ok {
		return
	}

	var req struct {
		IDs []string `json:"ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updated, err := h.messageRepo.MarkRead(c.Request.Context(), conn.ID, userID, req.IDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark messages read"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated, "read_at": time.Now().UTC()})
}

// authorize resolves the path's connection and checks the caller belongs to
// it. It writes the error response itself when ok is false.
func (h *ConnectionHandler) authorize(c *gin.Context) (models.Connection, string, bool) {
	connectionID := c.Param("connection_id")
	if _, err := uuid.Parse(connectionID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid connection id"})
		return models.Connection{}, "", false
	}

	userID := c.GetString(middleware.UserIDKey)
	conn, err := h.connRepo.GetConnection(c.Request.Context(), connectionID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrConnectionNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "connection not found"})
		return models.Connection{}, "", false
	}
	if !conn.HasParticipant(userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return models.Connection{}, "", false
	}
	return conn, userID, true
}

func (h *ConnectionHandler) emitAudit(c *gin.Context, level, text, connectionID string) {
	h.audit.Emit(c.Request.Context(), telemetry.AuditRecord{
		Level:        level,
		Text:         text,
		RequestID:    requestIDFromContext(c),
		UserID:       userIDFromContext(c),
		ConnectionID: connectionID,
	})
}
