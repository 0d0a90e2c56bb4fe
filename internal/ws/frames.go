package ws

import (
	"errors"
	"time"

	"mentorship-chat/internal/conversation"
)

const (
	frameSend   = "send"
	frameReload = "reload"
	frameView   = "view"
	frameError  = "error"
)

const (
	codeEmptyBody    = "empty_body"
	codeSendInFlight = "send_in_flight"
	codeSendFailed   = "send_failed"
	codeLoadFailed   = "load_failed"
	codeBadFrame     = "bad_frame"
)

type clientFrame struct {
	Type string `json:"type"`
	Body string `json:"body,omitempty"`
}

type viewFrame struct {
	Type    string      `json:"type"`
	Entries []wireEntry `json:"entries"`
}

type errorFrame struct {
	Type string `json:"type"`
	Code string `json:"code"`
	Body string `json:"body,omitempty"`
}

type wireEntry struct {
	ID                string    `json:"id"`
	Pending           bool      `json:"pending"`
	SenderID          string    `json:"sender_id"`
	SenderName        string    `json:"sender_name"`
	Content           string    `json:"content"`
	Read              bool      `json:"read"`
	CreatedAt         time.Time `json:"created_at"`
	ShowDateSeparator bool      `json:"show_date_separator"`
	DateLabel         string    `json:"date_label,omitempty"`
	GroupWithPrevious bool      `json:"group_with_previous"`
	TimeLabel         string    `json:"time_label"`
}

// buildViewFrame renders entries with their presentation fields. Day
// boundaries and labels use now's location.
func buildViewFrame(entries []conversation.Entry, now time.Time) viewFrame {
	out := make([]wireEntry, 0, len(entries))
	var prev *conversation.Entry
	for i := range entries {
		e := entries[i]
		we := wireEntry{
			ID:                e.Ref.ID(),
			Pending:           e.Ref.IsProvisional(),
			SenderID:          e.Message.SenderID,
			SenderName:        e.SenderName,
			Content:           e.Message.Content,
			Read:              e.Message.Read,
			CreatedAt:         e.Message.CreatedAt,
			ShowDateSeparator: conversation.ShowDateSeparator(e, prev, now.Location()),
			GroupWithPrevious: conversation.GroupWithPrevious(e, prev),
			TimeLabel:         conversation.TimeLabel(e.Message.CreatedAt, now),
		}
		if we.ShowDateSeparator {
			we.DateLabel = conversation.DateLabel(e.Message.CreatedAt, now)
		}
		out = append(out, we)
		prev = &entries[i]
	}
	return viewFrame{Type: frameView, Entries: out}
}

// sendErrorFrame maps a Send failure to the frame returned to the client. The
// rejected text travels back so the composer can be restored.
func sendErrorFrame(body string, err error) errorFrame {
	var sendErr *conversation.SendError
	switch {
	case errors.Is(err, conversation.ErrEmptyBody):
		return errorFrame{Type: frameError, Code: codeEmptyBody, Body: body}
	case errors.Is(err, conversation.ErrSendInFlight):
		return errorFrame{Type: frameError, Code: codeSendInFlight, Body: body}
	case errors.As(err, &sendErr):
		return errorFrame{Type: frameError, Code: codeSendFailed, Body: sendErr.Body}
	default:
		return errorFrame{Type: frameError, Code: codeSendFailed, Body: body}
	}
}
