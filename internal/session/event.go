package session

import "github.com/cramsino/cramsino/internal/quest"

// EventKind names what changed.
type EventKind int

const (
	EventStateChanged EventKind = iota
	EventStatus
	EventTick
	EventCoins
	EventQuest
	EventReset
)

func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state_changed"
	case EventStatus:
		return "status"
	case EventTick:
		return "tick"
	case EventCoins:
		return "coins"
	case EventQuest:
		return "quest"
	case EventReset:
		return "reset"
	}
	return "unknown"
}

// Event is one observable change. Snapshot is taken right after it.
type Event struct {
	Kind     EventKind
	Snapshot Snapshot
	From     State          // EventStateChanged
	Coins    int64          // EventCoins
	Quest    *quest.Outcome // EventQuest
	Err      error          // a persistence failure that did not stop the session
}

// Observer receives events outside the Machine's lock. Events of one
// operation arrive in order; the tick and poll loops may interleave.
type Observer func(Event)
