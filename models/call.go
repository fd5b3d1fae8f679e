package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// ErrInvalidValue is returned when an enumerated call field holds a value
// outside its closed set.
var ErrInvalidValue = errors.New("invalid value")

// CallType is the closed set of incident categories a call can carry
type CallType string

// Call types
const (
	CallTypeRobbery    CallType = "robbery"
	CallTypeMedical    CallType = "medical"
	CallTypeTraffic    CallType = "traffic"
	CallTypeAssault    CallType = "assault"
	CallTypeFire       CallType = "fire"
	CallTypePursuit    CallType = "pursuit"
	CallTypeSuspicious CallType = "suspicious"
	CallTypeBackup     CallType = "backup"
	CallTypeOther      CallType = "other"
)

var callTypes = []CallType{
	CallTypeRobbery, CallTypeMedical, CallTypeTraffic, CallTypeAssault, CallTypeFire,
	CallTypePursuit, CallTypeSuspicious, CallTypeBackup, CallTypeOther,
}

// ParseCallType converts s into a CallType, rejecting unknown values
func ParseCallType(s string) (CallType, error) {
	ct := CallType(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(callTypes, ct) {
		return "", fmt.Errorf("call type %q: %w", s, ErrInvalidValue)
	}
	return ct, nil
}

// Valid reports whether ct is one of the known call types
func (ct CallType) Valid() bool {
	return slices.Contains(callTypes, ct)
}

// UnmarshalJSON accepts an empty string as unset and rejects unknown types
func (ct *CallType) UnmarshalJSON(b []byte) error {
	return unmarshalEnum(b, func(s string) error {
		v, err := ParseCallType(s)
		*ct = v
		return err
	})
}

// Priority is the urgency tier of a call. code1 is the most urgent.
type Priority string

// Priorities
const (
	PriorityCode1 Priority = "code1"
	PriorityCode2 Priority = "code2"
	PriorityCode3 Priority = "code3"
)

// DefaultPriority is applied to calls created without one
const DefaultPriority = PriorityCode2

// ParsePriority converts s into a Priority, rejecting unknown values
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if p.Rank() == 0 {
		return "", fmt.Errorf("priority %q: %w", s, ErrInvalidValue)
	}
	return p, nil
}

// Rank orders priorities, 1 being handled first. Unknown priorities rank 0.
func (p Priority) Rank() int {
	switch p {
	case PriorityCode1:
		return 1
	case PriorityCode2:
		return 2
	case PriorityCode3:
		return 3
	}
	return 0
}

// UnmarshalJSON accepts an empty string as unset and rejects unknown priorities
func (p *Priority) UnmarshalJSON(b []byte) error {
	return unmarshalEnum(b, func(s string) error {
		v, err := ParsePriority(s)
		*p = v
		return err
	})
}

// Status is the lifecycle state of a call
type Status string

// Statuses
const (
	StatusPending    Status = "pending"
	StatusDispatched Status = "dispatched"
	StatusEnRoute    Status = "en_route"
	StatusOnScene    Status = "on_scene"
	StatusResolved   Status = "resolved"
	StatusCancelled  Status = "cancelled"
)

var statuses = []Status{
	StatusPending, StatusDispatched, StatusEnRoute, StatusOnScene, StatusResolved, StatusCancelled,
}

// ParseStatus converts s into a Status, rejecting unknown values
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(statuses, st) {
		return "", fmt.Errorf("status %q: %w", s, ErrInvalidValue)
	}
	return st, nil
}

// Terminal reports whether no further status transition is allowed from s
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusCancelled
}

// UnmarshalJSON accepts an empty string as unset and rejects unknown statuses
func (s *Status) UnmarshalJSON(b []byte) error {
	return unmarshalEnum(b, func(raw string) error {
		v, err := ParseStatus(raw)
		*s = v
		return err
	})
}

func unmarshalEnum(b []byte, parse func(string) error) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	return parse(s)
}

// Location is where a call is placed on the map. Lat/Lng are authoritative,
// Address is advisory.
type Location struct {
	Lat     float64 `json:"lat" bson:"lat"`
	Lng     float64 `json:"lng" bson:"lng"`
	Address string  `json:"address,omitempty" bson:"address,omitempty"`
}

// Validate checks the coordinate ranges
func (l Location) Validate() error {
	if l.Lat < -90 || l.Lat > 90 {
		return fmt.Errorf("latitude %f: %w", l.Lat, ErrInvalidValue)
	}
	if l.Lng < -180 || l.Lng > 180 {
		return fmt.Errorf("longitude %f: %w", l.Lng, ErrInvalidValue)
	}
	return nil
}

// Call holds the structure for the calls collection
type Call struct {
	ID            string    `json:"_id" bson:"_id"`
	AgencyID      string    `json:"agencyId" bson:"agencyId"`
	Title         string    `json:"title" bson:"title"`
	Description   string    `json:"description,omitempty" bson:"description,omitempty"`
	CallType      CallType  `json:"callType" bson:"callType"`
	Priority      Priority  `json:"priority" bson:"priority"`
	Status        Status    `json:"status" bson:"status"`
	Location      Location  `json:"location" bson:"location"`
	AssignedUnits []string  `json:"assignedUnits" bson:"assignedUnits"`
	ImageURL      string    `json:"imageUrl,omitempty" bson:"imageUrl,omitempty"`
	Notes         string    `json:"notes,omitempty" bson:"notes,omitempty"`
	CreatedBy     string    `json:"createdBy,omitempty" bson:"createdBy,omitempty"`
	CreatedAt     time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt" bson:"updatedAt"`
	Version       int64     `json:"__v" bson:"__v"`
}

// Clone returns a deep copy of c
func (c Call) Clone() Call {
	c.AssignedUnits = slices.Clone(c.AssignedUnits)
	if c.AssignedUnits == nil {
		c.AssignedUnits = []string{}
	}
	return c
}

// HasUnit reports whether unitID is assigned to the call
func (c Call) HasUnit(unitID string) bool {
	_, found := slices.BinarySearch(c.AssignedUnits, unitID)
	return found
}

// WithUnit returns a copy with unitID added to the assigned units
func (c Call) WithUnit(unitID string) Call {
	c = c.Clone()
	i, found := slices.BinarySearch(c.AssignedUnits, unitID)
	if !found {
		c.AssignedUnits = slices.Insert(c.AssignedUnits, i, unitID)
	}
	return c
}

// WithoutUnit returns a copy with unitID removed from the assigned units
func (c Call) WithoutUnit(unitID string) Call {
	c = c.Clone()
	if i, found := slices.BinarySearch(c.AssignedUnits, unitID); found {
		c.AssignedUnits = slices.Delete(c.AssignedUnits, i, i+1)
	}
	return c
}

// CompareCalls orders calls the way a dispatcher works them: code1 first,
// newest first within a tier, id as the final tie-break.
func CompareCalls(a, b Call) int {
	if d := a.Priority.Rank() - b.Priority.Rank(); d != 0 {
		return d
	}
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// SortCalls sorts calls in place in dispatch order
func SortCalls(calls []Call) {
	slices.SortStableFunc(calls, CompareCalls)
}

// CallDraft is the input used to create a call
type CallDraft struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	CallType    CallType `json:"callType"`
	Priority    Priority `json:"priority"`
	Location    Location `json:"location"`
	ImageURL    string   `json:"imageUrl"`
	Notes       string   `json:"notes"`
}

// CallPatch is a partial update. Nil fields are left untouched.
type CallPatch struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Priority    *Priority `json:"priority,omitempty"`
	Location    *Location `json:"location,omitempty"`
	Notes       *string   `json:"notes,omitempty"`
	ImageURL    *string   `json:"imageUrl,omitempty"`
}

// Empty reports whether the patch changes nothing
func (p CallPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Priority == nil &&
		p.Location == nil && p.Notes == nil && p.ImageURL == nil
}

// AuditOnly reports whether the patch only touches fields that stay writable
// once a call reached a terminal status
func (p CallPatch) AuditOnly() bool {
	return p.Title == nil && p.Description == nil && p.Priority == nil && p.Location == nil
}

// CallFilter narrows a call listing. Empty sets match everything.
type CallFilter struct {
	CallTypes  []CallType `json:"callTypes,omitempty"`
	Priorities []Priority `json:"priorities,omitempty"`
	Statuses   []Status   `json:"statuses,omitempty"`
	Text       string     `json:"text,omitempty"`
}

// Match reports whether c satisfies the filter
func (f CallFilter) Match(c Call) bool {
	if len(f.CallTypes) > 0 && !slices.Contains(f.CallTypes, c.CallType) {
		return false
	}
	if len(f.Priorities) > 0 && !slices.Contains(f.Priorities, c.Priority) {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, c.Status) {
		return false
	}
	text := strings.ToLower(strings.TrimSpace(f.Text))
	if text == "" {
		return true
	}
	for _, field := range []string{c.Title, c.Description, c.Notes, c.Location.Address} {
		if strings.Contains(strings.ToLower(field), text) {
			return true
		}
	}
	return false
}
