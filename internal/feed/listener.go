package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"mentorship-chat/internal/models"
	"mentorship-chat/internal/observability"
)

const (
	minReconnectInterval = 10 * time.Second
	maxReconnectInterval = time.Minute
	pingInterval         = 90 * time.Second
	fetchTimeout         = 5 * time.Second
)

// Rows loads the stored row named by an insert notification.
type Rows interface {
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
}

// Listener turns Postgres NOTIFY payloads on a channel into hub events.
type Listener struct {
	listener *pq.Listener
	channel  string
	hub      *Hub
	rows     Rows
	log      *zap.Logger
}

// NewListener opens a dedicated LISTEN connection on channel.
func NewListener(dsn, channel string, hub *Hub, rows Rows, log *zap.Logger) (*Listener, error) {
	l := pq.NewListener(dsn, minReconnectInterval, maxReconnectInterval, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
			log.Warn("feed listener connection problem", zap.Error(err))
		case pq.ListenerEventReconnected:
			log.Info("feed listener reconnected")
		}
	})
	if err := l.Listen(channel); err != nil {
		l.Close()
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}
	return &Listener{listener: l, channel: channel, hub: hub, rows: rows, log: log}, nil
}

// Run dispatches notifications until ctx is done.
func (l *Listener) Run(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-l.listener.Notify:
			if !ok {
				return
			}
			if n == nil {
				// Notifications sent while the connection was down are lost.
				observability.IncFeedNotification("reconnect")
				l.log.Warn("feed listener re-established, events may have been missed", zap.String("channel", l.channel))
				continue
			}
			l.dispatch(ctx, n.Extra)
		case <-ticker.C:
			if err := l.listener.Ping(); err != nil {
				l.log.Warn("feed listener ping failed", zap.Error(err))
			}
		}
	}
}

// dispatch publishes one notification. Inserts are resolved to the stored row
// first; updates only carry the read flag.
func (l *Listener) dispatch(ctx context.Context, payload string) {
	ev, err := DecodeNotification(payload)
	if err != nil {
		observability.IncFeedNotification("invalid")
		l.log.Warn("dropping feed notification", zap.Error(err))
		return
	}

	if ev.Op == models.OpInsert {
		fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
		row, err := l.rows.GetMessage(fetchCtx, ev.Row.ID)
		cancel()
		if err != nil {
			observability.IncFeedNotification("fetch_failed")
			l.log.Warn("dropping insert notification, row not loaded", zap.String("message_id", ev.Row.ID), zap.Error(err))
			return
		}
		ev.Row = row
	}

	observability.IncFeedNotification("dispatched")
	l.hub.Publish(ev)
}

// Close stops listening and releases the connection.
func (l *Listener) Close() error {
	return l.listener.Close()
}

type notification struct {
	Op           string `json:"op"`
	ID           string `json:"id"`
	ConnectionID string `json:"connection_id"`
	Read         bool   `json:"read"`
}

// DecodeNotification parses a {"op", "id", "connection_id", "read"} payload
// into an event whose row carries only those fields.
func DecodeNotification(payload string) (models.MessageEvent, error) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return models.MessageEvent{}, fmt.Errorf("decode notification: %w", err)
	}
	if n.Op != models.OpInsert && n.Op != models.OpUpdate {
		return models.MessageEvent{}, fmt.Errorf("unsupported op %q", n.Op)
	}
	if n.ID == "" || n.ConnectionID == "" {
		return models.MessageEvent{}, fmt.Errorf("notification missing id or connection_id")
	}
	return models.MessageEvent{
		Op:  n.Op,
		Row: models.Message{ID: n.ID, ConnectionID: n.ConnectionID, Read: n.Read},
	}, nil
}
