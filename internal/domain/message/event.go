package message

// EventType is the kind of change a push event reports.
type EventType string

const (
	EventInserted EventType = "inserted"
	EventUpdated  EventType = "updated"
	EventDeleted  EventType = "deleted"
)

// Scope is the logical stream a push event belongs to, relative to its subscriber.
type Scope string

const (
	// ScopeInbound carries changes to messages addressed to the subscriber.
	ScopeInbound Scope = "inbound"
	// ScopeOutbound carries changes to messages the subscriber sent.
	ScopeOutbound Scope = "outbound"
	// ScopeReadState carries read-state updates on messages addressed to the subscriber.
	ScopeReadState Scope = "read-state"
)

// Scopes lists every stream in subscription order.
var Scopes = []Scope{ScopeInbound, ScopeOutbound, ScopeReadState}

// Valid reports whether s names a known stream.
func (s Scope) Valid() bool {
	switch s {
	case ScopeInbound, ScopeOutbound, ScopeReadState:
		return true
	}
	return false
}

// ChangeEvent is a push notification addressed to one user.
// It only tells the subscriber what to refetch; CounterpartID is a hint and may be empty.
type ChangeEvent struct {
	UserID        string
	Type          EventType
	Scope         Scope
	CounterpartID string
}

// SentEvents returns the inbound and outbound notifications for a newly created message.
func SentEvents(m Message) []ChangeEvent {
	return []ChangeEvent{
		{UserID: m.RecipientID(), Type: EventInserted, Scope: ScopeInbound, CounterpartID: m.SenderID()},
		{UserID: m.SenderID(), Type: EventInserted, Scope: ScopeOutbound, CounterpartID: m.RecipientID()},
	}
}

// DeletedEvents returns the notifications for a removed message.
func DeletedEvents(m Message) []ChangeEvent {
	return []ChangeEvent{
		{UserID: m.RecipientID(), Type: EventDeleted, Scope: ScopeInbound, CounterpartID: m.SenderID()},
		{UserID: m.SenderID(), Type: EventDeleted, Scope: ScopeOutbound, CounterpartID: m.RecipientID()},
	}
}
