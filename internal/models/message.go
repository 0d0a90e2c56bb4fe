package models

import "time"

// Message represents a message exchanged inside a mentorship connection.
type Message struct {
	ID           string    `db:"id" json:"id"`
	ConnectionID string    `db:"connection_id" json:"connection_id"`
	SenderID     string    `db:"sender_id" json:"sender_id"`
	Content      string    `db:"content" json:"content"`
	Read         bool      `db:"read" json:"read"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Change feed operations.
const (
	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
)

// MessageEvent is a row-level change delivered by the change feed.
type MessageEvent struct {
	Op  string  `json:"op"`
	Row Message `json:"row"`
}
