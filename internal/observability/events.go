package observability

import "time"

// WSRoutingKey is the routing key for conversation websocket lifecycle events.
const WSRoutingKey = "ws_events.conversations"

type EventEnvelope struct {
	EventType  string      `json:"event_type"`
	EventName  string      `json:"event_name"`
	OccurredAt string      `json:"occurred_at"`
	RequestID  string      `json:"request_id,omitempty"`
	TraceID    string      `json:"trace_id,omitempty"`
	Payload    interface{} `json:"payload"`
}

// WSPayload describes one websocket lifecycle transition.
type WSPayload struct {
	ConnectionID string `json:"connection_id"`
	ConnID       string `json:"conn_id"`
	DurationMS   int64  `json:"duration_ms"`
	Reason       string `json:"reason,omitempty"`
	UserID       string `json:"user_id"`
	DeviceID     string `json:"device_id,omitempty"`
	IP           string `json:"ip,omitempty"`
}

// NewWSEvent wraps a websocket payload in an envelope stamped with the current time.
func NewWSEvent(name string, payload WSPayload, requestID, traceID string) EventEnvelope {
	return EventEnvelope{
		EventType:  "ws_events",
		EventName:  name,
		OccurredAt: time.Now().UTC().Format(time.RFC3339Nano),
		RequestID:  requestID,
		TraceID:    traceID,
		Payload:    payload,
	}
}
