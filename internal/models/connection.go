package models

import "time"

// Connection is an accepted mentor/mentee pairing; messages belong to one.
type Connection struct {
	ID        string    `db:"id" json:"id"`
	MentorID  string    `db:"mentor_id" json:"mentor_id"`
	MenteeID  string    `db:"mentee_id" json:"mentee_id"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// HasParticipant reports whether userID is the mentor or the mentee.
func (c Connection) HasParticipant(userID string) bool {
	return c.MentorID == userID || c.MenteeID == userID
}

// OtherParty returns the id of the participant that is not userID.
func (c Connection) OtherParty(userID string) string {
	if c.MentorID == userID {
		return c.MenteeID
	}
	return c.MentorID
}

// Profile is the subset of a user profile the conversation screen needs.
type Profile struct {
	ID   string `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}
