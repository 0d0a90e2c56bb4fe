package ws

import (
	"time"

	"mentorship-chat/internal/observability"
)

type ConnInfo struct {
	ConnID       string
	ConnectionID string
	UserID       string
	DeviceID     string
	IP           string
	RequestID    string
	TraceID      string
	ConnectedAt  time.Time
}

func (i ConnInfo) payload(reason string) observability.WSPayload {
	return observability.WSPayload{
		ConnectionID: i.ConnectionID,
		ConnID:       i.ConnID,
		DurationMS:   time.Since(i.ConnectedAt).Milliseconds(),
		Reason:       reason,
		UserID:       i.UserID,
		DeviceID:     i.DeviceID,
		IP:           i.IP,
	}
}
