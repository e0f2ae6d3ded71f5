package domain

// EventKind is the type of change carried by an Event
type EventKind int

const (
	EventInserted EventKind = iota
	EventUpdated
	EventRemoved
)

func (k EventKind) String() string {
	switch k {
	case EventInserted:
		return "inserted"
	case EventUpdated:
		return "updated"
	case EventRemoved:
		return "removed"
	}
	return "unknown"
}

// Entity identifies which collection an Event refers to
type Entity string

const (
	EntityArchive      Entity = "archive"
	EntityBookmark     Entity = "bookmark"
	EntityRecentSearch Entity = "recent_search"
)

// Event is a change notification published on the bus.
type Event struct {
	Kind   EventKind
	Entity Entity
	ID     string
	Fields []Field // Updated only
}

// Touches reports whether an Updated event changed field.
func (e Event) Touches(field Field) bool {
	for _, f := range e.Fields {
		if f == field {
			return true
		}
	}
	return false
}

func Inserted(entity Entity, id string) Event {
	return Event{Kind: EventInserted, Entity: entity, ID: id}
}

func Updated(entity Entity, id string, fields ...Field) Event {
	return Event{Kind: EventUpdated, Entity: entity, ID: id, Fields: fields}
}

func Removed(entity Entity, id string) Event {
	return Event{Kind: EventRemoved, Entity: entity, ID: id}
}

// Publisher accepts change events.
type Publisher interface {
	Publish(event Event)
}

// Subscriber registers callbacks for change events.
type Subscriber interface {
	Subscribe(fn func(Event)) string
	Unsubscribe(token string)
}
