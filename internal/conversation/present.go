package conversation

import "time"

// GroupWindow is the longest gap between two messages of the same sender that
// still renders them as one group.
const GroupWindow = 5 * time.Minute

// ShowDateSeparator reports whether a day separator goes above cur. prev is nil
// for the first entry.
func ShowDateSeparator(cur Entry, prev *Entry, loc *time.Location) bool {
	if prev == nil {
		return true
	}
	return !sameDay(cur.Message.CreatedAt.In(loc), prev.Message.CreatedAt.In(loc))
}

// GroupWithPrevious reports whether cur continues prev's group: same sender and
// less than GroupWindow apart.
func GroupWithPrevious(cur Entry, prev *Entry) bool {
	if prev == nil {
		return false
	}
	return cur.Message.SenderID == prev.Message.SenderID &&
		cur.Message.CreatedAt.Sub(prev.Message.CreatedAt) < GroupWindow
}

// TimeLabel formats a message timestamp relative to now.
func TimeLabel(t, now time.Time) string {
	t = t.In(now.Location())
	switch {
	case sameDay(t, now):
		return t.Format("3:04 PM")
	case sameDay(t, now.AddDate(0, 0, -1)):
		return "Yesterday " + t.Format("3:04 PM")
	default:
		return t.Format("Jan 2, 3:04 PM")
	}
}

// DateLabel formats a day separator relative to now.
func DateLabel(t, now time.Time) string {
	t = t.In(now.Location())
	switch {
	case sameDay(t, now):
		return "Today"
	case sameDay(t, now.AddDate(0, 0, -1)):
		return "Yesterday"
	default:
		return t.Format("January 2, 2006")
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
