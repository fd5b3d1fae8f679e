package models

// ChangeKind tells a subscriber what happened to a call
type ChangeKind string

// Change kinds. Resync is not a call change: it tells a lagging subscriber to
// drop its incremental state and fetch a fresh listing.
const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
	ChangeResync  ChangeKind = "resync"
)

// Event is one entry on an agency's change channel
type Event struct {
	Seq      uint64     `json:"seq"`
	AgencyID string     `json:"agencyId"`
	Kind     ChangeKind `json:"kind"`
	CallID   string     `json:"callId,omitempty"`
	Call     *Call      `json:"call,omitempty"`
	// Origin identifies the process that first published the event
	Origin string `json:"origin,omitempty"`
}

// NewCallEvent builds a created/updated event carrying a copy of c
func NewCallEvent(kind ChangeKind, c Call) Event {
	cp := c.Clone()
	return Event{AgencyID: c.AgencyID, Kind: kind, CallID: c.ID, Call: &cp}
}

// NewDeletedEvent builds the tombstone event for a removed call
func NewDeletedEvent(agencyID, callID string) Event {
	return Event{AgencyID: agencyID, Kind: ChangeDeleted, CallID: callID}
}

// NewResyncEvent builds the resync sentinel
func NewResyncEvent(agencyID string) Event {
	return Event{AgencyID: agencyID, Kind: ChangeResync}
}

// Subscription describes where a realtime session stands on its channel
type Subscription struct {
	AgencyID         string `json:"agencyId"`
	SessionID        string `json:"sessionId"`
	LastSeenEventSeq uint64 `json:"lastSeenEventSeq"`
}
