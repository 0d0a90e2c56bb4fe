package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mentorship-chat/internal/feed"
	"mentorship-chat/internal/mocks"
	"mentorship-chat/internal/models"
)

const testConnID = "6f1c2d3e-4b5a-4c6d-8e7f-001122334455"

type stubVerifier map[string]string

func (v stubVerifier) Verify(token string) (string, error) {
	if id, ok := v[token]; ok {
		return id, nil
	}
	return "", errors.New("invalid token")
}

type wsHarness struct {
	store    *mocks.MessageRepositoryMock
	connRepo *mocks.ConnectionRepositoryMock
	dir      *mocks.DirectoryMock
	feed     *feed.Hub
	hub      *Hub
	server   *httptest.Server
}

func newWSHarness(t *testing.T) *wsHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := &wsHarness{
		store:    new(mocks.MessageRepositoryMock),
		connRepo: new(mocks.ConnectionRepositoryMock),
		dir:      new(mocks.DirectoryMock),
		feed:     feed.NewHub(16, zap.NewNop()),
		hub:      NewHub(),
	}
	h.dir.On("DisplayNames", mock.Anything, mock.Anything).Return(map[string]string{"A": "Alice", "B": "Bob"}, nil)
	h.store.On("MarkRead", mock.Anything, testConnID, "B", mock.Anything).Return(int64(1), nil).Maybe()

	handler := NewConversationHandler(h.hub, stubVerifier{"tok-b": "B"}, h.connRepo, h.store, h.dir, h.feed, zap.NewNop())
	r := gin.New()
	r.GET("/ws/connections/:connection_id", handler.Handle)
	h.server = httptest.NewServer(r)
	t.Cleanup(h.server.Close)
	return h
}

func (h *wsHarness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws/connections/" + testConnID + "?token=tok-b"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

type frame struct {
	Type    string      `json:"type"`
	Code    string      `json:"code"`
	Body    string      `json:"body"`
	Entries []wireEntry `json:"entries"`
}

// readUntil reads frames until match accepts one. View frames coalesce, so
// intermediate states may be skipped.
func readUntil(t *testing.T, conn *websocket.Conn, match func(frame) bool) frame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var f frame
		require.NoError(t, json.Unmarshal(data, &f))
		if match(f) {
			return f
		}
	}
}

func viewWithIDs(ids ...string) func(frame) bool {
	return func(f frame) bool {
		if f.Type != frameView || len(f.Entries) != len(ids) {
			return false
		}
		for i, e := range f.Entries {
			if e.ID != ids[i] || e.Pending {
				return false
			}
		}
		return true
	}
}

func msg(id, sender string, at time.Time) models.Message {
	return models.Message{ID: id, ConnectionID: testConnID, SenderID: sender, Content: id, CreatedAt: at}
}

func TestHandleRejectsInvalidConnectionID(t *testing.T) {
	h := newWSHarness(t)
	resp, err := http.Get(h.server.URL + "/ws/connections/not-a-uuid?token=tok-b")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleRejectsInvalidToken(t *testing.T) {
	h := newWSHarness(t)
	resp, err := http.Get(h.server.URL + "/ws/connections/" + testConnID + "?token=nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleRejectsNonParticipant(t *testing.T) {
	h := newWSHarness(t)
	h.connRepo.On("IsParticipant", mock.Anything, testConnID, "B").Return(false, nil).Once()

	resp, err := http.Get(h.server.URL + "/ws/connections/" + testConnID + "?token=tok-b")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	h.connRepo.AssertExpectations(t)
}

func TestSocketSendAckAndEcho(t *testing.T) {
	h := newWSHarness(t)
	t0 := time.Now().UTC().Add(-time.Minute)
	h.connRepo.On("IsParticipant", mock.Anything, testConnID, "B").Return(true, nil).Once()
	h.store.On("ListMessages", mock.Anything, testConnID).Return([]models.Message{msg("m1", "A", t0)}, nil).Once()
	stored := msg("m2", "B", t0.Add(30*time.Second))
	stored.Content = "hello"
	h.store.On("CreateMessage", mock.Anything, testConnID, "B", "hello").Return(stored, nil).Once()

	conn := h.dial(t)
	first := readUntil(t, conn, viewWithIDs("m1"))
	assert.Equal(t, "Alice", first.Entries[0].SenderName)
	assert.True(t, first.Entries[0].ShowDateSeparator)
	assert.Equal(t, 1, h.hub.Viewers(testConnID))

	require.NoError(t, conn.WriteJSON(clientFrame{Type: frameSend, Body: "  hello "}))
	acked := readUntil(t, conn, viewWithIDs("m1", "m2"))
	assert.Equal(t, "Bob", acked.Entries[1].SenderName)
	assert.Equal(t, "hello", acked.Entries[1].Content)

	h.feed.Publish(models.MessageEvent{Op: models.OpInsert, Row: stored})
	incoming := msg("m3", "A", t0.Add(40*time.Second))
	h.feed.Publish(models.MessageEvent{Op: models.OpInsert, Row: incoming})

	final := readUntil(t, conn, viewWithIDs("m1", "m2", "m3"))
	assert.False(t, final.Entries[2].GroupWithPrevious)
	h.store.AssertExpectations(t)
}

func TestSocketEmptyBodyReturnsError(t *testing.T) {
	h := newWSHarness(t)
	h.connRepo.On("IsParticipant", mock.Anything, testConnID, "B").Return(true, nil).Once()
	h.store.On("ListMessages", mock.Anything, testConnID).Return([]models.Message{}, nil).Once()

	conn := h.dial(t)
	readUntil(t, conn, viewWithIDs())

	require.NoError(t, conn.WriteJSON(clientFrame{Type: frameSend, Body: "   "}))
	f := readUntil(t, conn, func(f frame) bool { return f.Type == frameError })
	assert.Equal(t, codeEmptyBody, f.Code)
	h.store.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSocketSendFailureRestoresBody(t *testing.T) {
	h := newWSHarness(t)
	h.connRepo.On("IsParticipant", mock.Anything, testConnID, "B").Return(true, nil).Once()
	h.store.On("ListMessages", mock.Anything, testConnID).Return([]models.Message{}, nil).Once()
	h.store.On("CreateMessage", mock.Anything, testConnID, "B", "hi").Return(nil, assert.AnError).Once()

	conn := h.dial(t)
	readUntil(t, conn, viewWithIDs())

	require.NoError(t, conn.WriteJSON(clientFrame{Type: frameSend, Body: "hi"}))
	f := readUntil(t, conn, func(f frame) bool { return f.Type == frameError })
	assert.Equal(t, codeSendFailed, f.Code)
	assert.Equal(t, "hi", f.Body)
}

func TestSocketLoadFailureThenReload(t *testing.T) {
	h := newWSHarness(t)
	h.connRepo.On("IsParticipant", mock.Anything, testConnID, "B").Return(true, nil).Once()
	h.store.On("ListMessages", mock.Anything, testConnID).Return(nil, assert.AnError).Once()
	h.store.On("ListMessages", mock.Anything, testConnID).Return([]models.Message{msg("m1", "A", time.Now())}, nil).Once()

	conn := h.dial(t)
	f := readUntil(t, conn, func(f frame) bool { return f.Type == frameError })
	assert.Equal(t, codeLoadFailed, f.Code)

	require.NoError(t, conn.WriteJSON(clientFrame{Type: frameReload}))
	readUntil(t, conn, viewWithIDs("m1"))
	h.store.AssertExpectations(t)
}

func TestSocketUnknownFrameType(t *testing.T) {
	h := newWSHarness(t)
	h.connRepo.On("IsParticipant", mock.Anything, testConnID, "B").Return(true, nil).Once()
	h.store.On("ListMessages", mock.Anything, testConnID).Return([]models.Message{}, nil).Once()

	conn := h.dial(t)
	require.NoError(t, conn.WriteJSON(clientFrame{Type: "typing"}))
	f := readUntil(t, conn, func(f frame) bool { return f.Type == frameError })
	assert.Equal(t, codeBadFrame, f.Code)
	assert.Equal(t, "typing", f.Body)
}

func TestSocketCloseUnregisters(t *testing.T) {
	h := newWSHarness(t)
	h.connRepo.On("IsParticipant", mock.Anything, testConnID, "B").Return(true, nil).Once()
	h.store.On("ListMessages", mock.Anything, testConnID).Return([]models.Message{}, nil).Once()

	conn := h.dial(t)
	readUntil(t, conn, viewWithIDs())
	require.Equal(t, 1, h.feed.Subscribers(testConnID))

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	require.Eventually(t, func() bool {
		return h.hub.Viewers(testConnID) == 0 && h.feed.Subscribers(testConnID) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
