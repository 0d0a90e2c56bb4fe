package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"mentorship-chat/internal/conversation"
	"mentorship-chat/internal/middleware"
	"mentorship-chat/internal/observability"
	"mentorship-chat/internal/repositories"
)

const (
	writeWait   = 10 * time.Second
	loadTimeout = 15 * time.Second
	sendTimeout = 15 * time.Second
)

// ConversationHandler serves one live conversation view per websocket.
type ConversationHandler struct {
	hub       *Hub
	verifier  middleware.TokenVerifier
	connRepo  repositories.ConnectionRepository
	store     conversation.Store
	directory conversation.Directory
	feed      conversation.Feed
	log       *zap.Logger
	now       func() time.Time
}

// NewConversationHandler constructs a ConversationHandler.
func NewConversationHandler(hub *Hub, verifier middleware.TokenVerifier, connRepo repositories.ConnectionRepository,
	store conversation.Store, directory conversation.Directory, feed conversation.Feed, log *zap.Logger) *ConversationHandler {
	return &ConversationHandler{
		hub:       hub,
		verifier:  verifier,
		connRepo:  connRepo,
		store:     store,
		directory: directory,
		feed:      feed,
		log:       log,
		now:       time.Now,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates the caller, upgrades the connection and opens a
// conversation session bound to it.
func (h *ConversationHandler) Handle(c *gin.Context) {
	connectionID := c.Param("connection_id")
	if _, err := uuid.Parse(connectionID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid connection id"})
		return
	}

	ctx, span := otel.Tracer("mentorship-chat/ws").Start(c.Request.Context(), "ws.handshake",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("connection_id", connectionID)))
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token, ok := middleware.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		token = c.Query("token")
	}
	userID, err := h.verifier.Verify(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	member, err := h.connRepo.IsParticipant(ctx, connectionID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify participant"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return
	}

	loc := time.UTC
	if tz := c.Query("tz"); tz != "" {
		if parsed, err := time.LoadLocation(tz); err == nil {
			loc = parsed
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:       uuid.NewString(),
		ConnectionID: connectionID,
		UserID:       userID,
		DeviceID:     observability.DeviceIDFromRequest(c.Request),
		IP:           observability.IPFromRequest(c.Request),
		RequestID:    observability.RequestIDFromRequest(c.Request),
		TraceID:      span.SpanContext().TraceID().String(),
		ConnectedAt:  time.Now(),
	}
	h.hub.Add(conn, info)

	// The request context ends when Handle returns; the socket outlives it.
	sessCtx := trace.ContextWithSpanContext(context.Background(), span.SpanContext())
	publishWSEvent(sessCtx, "ws_connect", info, "")

	sess := conversation.NewSession(conversation.SessionConfig{
		ConnectionID: connectionID,
		ViewerID:     userID,
		Store:        h.store,
		Directory:    h.directory,
		Feed:         h.feed,
		Logger:       h.log,
	})

	cl := &client{
		conn: conn,
		sess: sess,
		info: info,
		loc:  loc,
		now:  h.now,
		log:  h.log.With(zap.String("conn_id", info.ConnID), zap.String("connection_id", connectionID)),
		errs: make(chan errorFrame, 8),
		done: make(chan struct{}),
	}
	go func() {
		defer h.hub.Remove(connectionID, conn)
		cl.run(sessCtx)
	}()
}

type client struct {
	conn *websocket.Conn
	sess *conversation.Session
	info ConnInfo
	loc  *time.Location
	now  func() time.Time
	log  *zap.Logger
	errs chan errorFrame
	done chan struct{}
}

func (cl *client) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		cl.writeLoop()
	}()

	var closeReason string
	defer func() {
		cancel()
		cl.sess.Close()
		close(cl.done)
		<-writerDone
		cl.conn.Close()
		publishWSEvent(ctx, "ws_disconnect", cl.info, closeReason)
	}()

	loadCtx, loadCancel := context.WithTimeout(ctx, loadTimeout)
	if err := cl.sess.Start(loadCtx); err != nil {
		cl.pushError(errorFrame{Type: frameError, Code: codeLoadFailed})
	}
	loadCancel()

	for {
		_, data, err := cl.conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				publishWSEvent(ctx, "ws_error", cl.info, closeReason)
			}
			return
		}
		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			cl.pushError(errorFrame{Type: frameError, Code: codeBadFrame})
			continue
		}
		switch frame.Type {
		case frameSend:
			// Sends run concurrently so a second send while one is pending reaches
			// the session and is rejected there.
			go cl.send(ctx, frame.Body)
		case frameReload:
			go cl.reload(ctx)
		default:
			cl.pushError(errorFrame{Type: frameError, Code: codeBadFrame, Body: frame.Type})
		}
	}
}

func (cl *client) send(ctx context.Context, body string) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if _, err := cl.sess.Send(ctx, body); err != nil {
		if errors.Is(err, conversation.ErrClosed) {
			return
		}
		cl.pushError(sendErrorFrame(body, err))
	}
}

func (cl *client) reload(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, loadTimeout)
	defer cancel()
	if err := cl.sess.Load(ctx); err != nil && !errors.Is(err, conversation.ErrClosed) {
		cl.pushError(errorFrame{Type: frameError, Code: codeLoadFailed})
	}
}

func (cl *client) pushError(frame errorFrame) {
	select {
	case cl.errs <- frame:
	case <-cl.done:
	}
}

// writeLoop is the only writer on the socket.
func (cl *client) writeLoop() {
	for {
		var payload any
		select {
		case <-cl.done:
			return
		case <-cl.sess.Changes():
			payload = buildViewFrame(cl.sess.Entries(), cl.now().In(cl.loc))
		case frame := <-cl.errs:
			payload = frame
		}
		_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := cl.conn.WriteJSON(payload); err != nil {
			cl.log.Warn("websocket write error", zap.Error(err))
			// Closing unblocks the reader, which tears the session down.
			cl.conn.Close()
			return
		}
	}
}
