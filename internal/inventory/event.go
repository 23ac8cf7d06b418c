package inventory

import "fmt"

type EventKind int

const (
	EventUnknown EventKind = iota
	EventNewInventory
	EventAvailableToNotAvailable
	EventNotAvailableToAvailable
	EventQuantityChanged
	EventItemRemoved
	EventFalsePositive
	EventStatusUpdate
)

var eventKindNames = map[EventKind]string{
	EventNewInventory:            "New_Inventory",
	EventAvailableToNotAvailable: "Available_to_Not_Available",
	EventNotAvailableToAvailable: "Not_Available_to_Available",
	EventQuantityChanged:         "Quantity_Changed",
	EventItemRemoved:             "Item_Removed",
	EventFalsePositive:           "False_Positive",
	EventStatusUpdate:            "Status_Update",
}

func (k EventKind) String() string {
	name, ok := eventKindNames[k]
	if !ok {
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
	return name
}

// Valid reports whether k is one of the defined kinds.
func (k EventKind) Valid() bool {
	_, ok := eventKindNames[k]
	return ok
}

// Notifiable reports whether an event of this kind should produce a message.
func (k EventKind) Notifiable() bool {
	return k.Valid() && k != EventFalsePositive
}

func ParseEventKind(s string) (EventKind, error) {
	for kind, name := range eventKindNames {
		if name == s {
			return kind, nil
		}
	}
	return EventUnknown, fmt.Errorf("%w: %q", ErrUnsupportedEventKind, s)
}

// Event is a classified change of a single item, Before is nil for new items
// and status updates, After is nil for removals.
type Event struct {
	Kind   EventKind
	Before *Item
	After  *Item
}

// Subject returns the most recent image of the item the event is about.
func (e Event) Subject() (Item, bool) {
	if e.After != nil {
		return *e.After, true
	}
	if e.Before != nil {
		return *e.Before, true
	}
	return Item{}, false
}
