package sos

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/lifeline/pkg/location"
)

// ErrCallCommitted is returned by [Engine.Cancel] once the emergency call
// has been started. The call is not withdrawn.
var ErrCallCommitted = errors.New("sos: emergency call already committed")

// ErrClosed is returned by quick actions on a closed [Engine].
var ErrClosed = errors.New("sos: engine closed")

// Status is the phase of the alert state machine.
type Status int

const (
	// StatusIdle means no alert is in flight.
	StatusIdle Status = iota
	// StatusAnnouncing is entered on activation.
	StatusAnnouncing
	// StatusDispatching covers the contact snapshot, location query and text
	// fan-out.
	StatusDispatching
	// StatusCountingDown ticks towards the emergency call.
	StatusCountingDown
	// StatusPlacingCall is terminal for cancellation: the call will happen.
	StatusPlacingCall
)

var statusNames = [...]string{
	StatusIdle:         "idle",
	StatusAnnouncing:   "announcing",
	StatusDispatching:  "dispatching",
	StatusCountingDown: "counting_down",
	StatusPlacingCall:  "placing_call",
}

// String returns the snake_case name of s.
func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Source names what raised an alert.
type Source string

const (
	SourceManual Source = "manual"
	SourceVoice  Source = "voice"
	SourceAPI    Source = "api"
)

// Session is a point-in-time view of the live alert.
type Session struct {
	ID        string    `json:"id,omitempty"`
	Status    Status    `json:"status"`
	Remaining int       `json:"remaining"`
	StartedAt time.Time `json:"started_at,omitzero"`
	Source    Source    `json:"source,omitempty"`
}

// Active reports whether the session is in flight.
func (s Session) Active() bool { return s.Status != StatusIdle }

// Defaults applied by [Settings.WithDefaults].
const (
	DefaultEmergencyNumber   = "112"
	DefaultMessageTemplate   = "EMERGENCY! I need help immediately! My location: " + LocationPlaceholder
	DefaultCountdownSeconds  = 5
	DefaultUnavailableMarker = "Location unavailable"
	DefaultActivatedMessage  = "Emergency alert activated. Sending help request."
	DefaultCancelledMessage  = "Emergency alert cancelled"
)

// Settings are read by the engine once per activation. Changes made with
// [Engine.SetSettings] apply to the next alert.
type Settings struct {
	EmergencyNumber string `json:"emergency_number"`
	// MessageTemplate must contain [LocationPlaceholder].
	MessageTemplate string `json:"message_template"`
	// CountdownSeconds is the delay before the call. Zero selects the default.
	CountdownSeconds  int    `json:"countdown_seconds"`
	MapBaseURL        string `json:"map_base_url"`
	UnavailableMarker string `json:"unavailable_marker"`
	ActivatedMessage  string `json:"activated_message"`
	CancelledMessage  string `json:"cancelled_message"`
	// MaxParallelDispatch bounds concurrent texts. Zero means unbounded.
	MaxParallelDispatch int `json:"max_parallel_dispatch"`
}

// WithDefaults returns s with every empty field set to its default.
func (s Settings) WithDefaults() Settings {
	if s.EmergencyNumber == "" {
		s.EmergencyNumber = DefaultEmergencyNumber
	}
	if s.MessageTemplate == "" {
		s.MessageTemplate = DefaultMessageTemplate
	}
	if s.CountdownSeconds <= 0 {
		s.CountdownSeconds = DefaultCountdownSeconds
	}
	if s.MapBaseURL == "" {
		s.MapBaseURL = location.DefaultMapBaseURL
	}
	if s.UnavailableMarker == "" {
		s.UnavailableMarker = DefaultUnavailableMarker
	}
	if s.ActivatedMessage == "" {
		s.ActivatedMessage = DefaultActivatedMessage
	}
	if s.CancelledMessage == "" {
		s.CancelledMessage = DefaultCancelledMessage
	}
	return s
}

// EventType identifies an engine [Event].
type EventType string

const (
	EventActivated  EventType = "activated"
	EventStatus     EventType = "status"
	EventLocation   EventType = "location"
	EventTextSent   EventType = "text_sent"
	EventTick       EventType = "tick"
	EventCallPlaced EventType = "call_placed"
	EventCancelled  EventType = "cancelled"
)

// Event is published to subscribers on every observable change.
type Event struct {
	Type      EventType
	SessionID string
	Status    Status
	Remaining int
	// ContactID is set on EventTextSent.
	ContactID string
	// Err is set on a failed EventTextSent or EventCallPlaced.
	Err error
	// Location is set on EventLocation when a fix was obtained.
	Location *location.Coordinates
	Time     time.Time
}

// MarshalJSON renders Err as a string.
func (e Event) MarshalJSON() ([]byte, error) {
	type wire struct {
		Type      EventType             `json:"type"`
		SessionID string                `json:"session_id"`
		Status    Status                `json:"status"`
		Remaining int                   `json:"remaining"`
		ContactID string                `json:"contact_id,omitempty"`
		Error     string                `json:"error,omitempty"`
		Location  *location.Coordinates `json:"location,omitempty"`
		Time      time.Time             `json:"time"`
	}
	w := wire{
		Type:      e.Type,
		SessionID: e.SessionID,
		Status:    e.Status,
		Remaining: e.Remaining,
		ContactID: e.ContactID,
		Location:  e.Location,
		Time:      e.Time,
	}
	if e.Err != nil {
		w.Error = e.Err.Error()
	}
	return json.Marshal(w)
}

// Outcome summarises a finished alert.
type Outcome struct {
	SessionID         string    `json:"session_id"`
	Source            Source    `json:"source"`
	StartedAt         time.Time `json:"started_at"`
	EndedAt           time.Time `json:"ended_at"`
	Cancelled         bool      `json:"cancelled"`
	LocationAvailable bool      `json:"location_available"`
	TextsSent         int       `json:"texts_sent"`
	TextsFailed       int       `json:"texts_failed"`
	CallPlaced        bool      `json:"call_placed"`
	CallError         string    `json:"call_error,omitempty"`
}
