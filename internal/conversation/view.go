// Package conversation keeps an ordered, duplicate-free view of a connection's
// message thread, merged from a bulk load, optimistic local sends and change
// feed events.
package conversation

import "mentorship-chat/internal/models"

// Ref identifies a view entry. Provisional refs carry the local id minted at
// submit time; durable refs carry the id assigned by the store.
type Ref struct {
	id          string
	provisional bool
}

// Provisional returns the ref of a send that the store has not acknowledged.
func Provisional(localID string) Ref {
	return Ref{id: localID, provisional: true}
}

// Durable returns the ref of a stored message.
func Durable(id string) Ref {
	return Ref{id: id}
}

func (r Ref) ID() string { return r.id }

func (r Ref) IsProvisional() bool { return r.provisional }

// Entry is one message in the view together with its sender's display name.
type Entry struct {
	Ref        Ref
	Message    models.Message
	SenderName string
}

// AckOutcome reports what Acknowledge did with a provisional entry.
type AckOutcome int

const (
	// AckReplaced means the provisional entry took the durable identity in place.
	AckReplaced AckOutcome = iota
	// AckDeduplicated means the durable row was already present (the feed echo
	// won the race) and the provisional entry was dropped.
	AckDeduplicated
	// AckMissing means no provisional entry had the local id.
	AckMissing
)

// View is the ordered entry list. It is not safe for concurrent use; Session
// confines it to a single goroutine.
type View struct {
	entries []Entry
}

// Len returns the number of entries.
func (v *View) Len() int {
	return len(v.entries)
}

// Entries returns a copy of the entries in display order.
func (v *View) Entries() []Entry {
	out := make([]Entry, len(v.entries))
	copy(out, v.entries)
	return out
}

// Reset replaces the durable content of the view with entries. Provisional
// entries still awaiting acknowledgement are kept after the loaded ones.
func (v *View) Reset(entries []Entry) {
	next := make([]Entry, 0, len(entries)+1)
	next = append(next, entries...)
	for _, e := range v.entries {
		if e.Ref.provisional {
			next = append(next, e)
		}
	}
	v.entries = next
}

// Merge installs a freshly loaded snapshot. Durable entries absent from the
// snapshot were committed after it was read; they are kept and placed by
// creation time. Provisional entries stay at the end.
func (v *View) Merge(snapshot []Entry) {
	loaded := make(map[string]struct{}, len(snapshot))
	for _, e := range snapshot {
		loaded[e.Ref.id] = struct{}{}
	}

	next := make([]Entry, 0, len(snapshot)+len(v.entries))
	next = append(next, snapshot...)
	var pending []Entry
	for _, e := range v.entries {
		if e.Ref.provisional {
			pending = append(pending, e)
			continue
		}
		if _, ok := loaded[e.Ref.id]; ok {
			continue
		}
		next = insertByTime(next, e)
	}
	v.entries = append(next, pending...)
}

// Append adds an entry at the end of the view.
func (v *View) Append(e Entry) {
	v.entries = append(v.entries, e)
}

// HasDurable reports whether a stored message with id is in the view.
func (v *View) HasDurable(id string) bool {
	return v.index(Durable(id)) >= 0
}

// Remove deletes the entry with ref and returns it.
func (v *View) Remove(ref Ref) (Entry, bool) {
	i := v.index(ref)
	if i < 0 {
		return Entry{}, false
	}
	removed := v.entries[i]
	v.entries = append(v.entries[:i], v.entries[i+1:]...)
	return removed, true
}

// Acknowledge swaps the provisional entry localID for the durable entry,
// keeping its position.
func (v *View) Acknowledge(localID string, durable Entry) AckOutcome {
	i := v.index(Provisional(localID))
	if i < 0 {
		return AckMissing
	}
	if v.HasDurable(durable.Ref.id) {
		v.entries = append(v.entries[:i], v.entries[i+1:]...)
		return AckDeduplicated
	}
	v.entries[i] = durable
	return AckReplaced
}

// ApplyInsert appends a pushed row unless its durable id is already present.
func (v *View) ApplyInsert(e Entry) bool {
	if v.HasDurable(e.Ref.id) {
		return false
	}
	v.entries = append(v.entries, e)
	return true
}

// ApplyUpdate copies the mutable fields of msg onto the entry with the same
// durable id. It returns false when no entry matches.
func (v *View) ApplyUpdate(msg models.Message) bool {
	i := v.index(Durable(msg.ID))
	if i < 0 {
		return false
	}
	v.entries[i].Message.Read = msg.Read
	return true
}

func (v *View) index(ref Ref) int {
	for i := range v.entries {
		if v.entries[i].Ref == ref {
			return i
		}
	}
	return -1
}

// insertByTime places e after every entry created at or before it.
func insertByTime(entries []Entry, e Entry) []Entry {
	i := len(entries)
	for i > 0 && entries[i-1].Message.CreatedAt.After(e.Message.CreatedAt) {
		i--
	}
	entries = append(entries, Entry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = e
	return entries
}
