package conversation

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyBody    = errors.New("message body is empty")
	ErrSendInFlight = errors.New("a message is already being sent")
	ErrClosed       = errors.New("conversation session closed")
)

// SendError is returned when the store rejects a send. Body holds the trimmed
// text so the caller can put it back in the input.
type SendError struct {
	Body string
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send message: %v", e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// StoreError wraps a failed store read.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s messages: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
