package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Closed set of domain event kinds. Adding a kind means adding a payload
// struct, a constructor and a DecodePayload case.
const (
	VisitCheckin       = "visit.checkin"
	VisitCheckout      = "visit.checkout"
	MembershipExpiring = "membership.expiring"
	PaymentFailed      = "payment.failed"
)

// Wire event kinds that never carry domain payloads.
const (
	ConnectionEstablished = "connection.established"
	Heartbeat             = "heartbeat"
)

// Event is the unit broadcast to live dashboard subscribers. ID is assigned
// by the broadcaster at dispatch time; At records when the underlying fact
// occurred. A nil LocationID means the event applies to every location of
// the tenant.
type Event struct {
	ID         string          `json:"id,omitempty"`
	Type       string          `json:"type"`
	At         time.Time       `json:"at"`
	OrgID      string          `json:"orgId"`
	LocationID *string         `json:"locationId"`
	Payload    json.RawMessage `json:"payload"`
}

type VisitCheckinPayload struct {
	VisitID    string    `json:"visitId"`
	MemberID   string    `json:"memberId"`
	MemberName string    `json:"memberName"`
	GymID      string    `json:"gymId"`
	GymName    string    `json:"gymName"`
	CheckinAt  time.Time `json:"checkinAt"`
}

type VisitCheckoutPayload struct {
	VisitID         string    `json:"visitId"`
	MemberID        string    `json:"memberId"`
	MemberName      string    `json:"memberName"`
	GymID           string    `json:"gymId"`
	GymName         string    `json:"gymName"`
	CheckoutAt      time.Time `json:"checkoutAt"`
	DurationMinutes int       `json:"durationMinutes"`
}

type MembershipExpiringPayload struct {
	MembershipID string    `json:"membershipId"`
	MemberID     string    `json:"memberId"`
	MemberName   string    `json:"memberName"`
	PlanName     string    `json:"planName"`
	ExpiresAt    time.Time `json:"expiresAt"`
	DaysLeft     int       `json:"daysLeft"`
}

type PaymentFailedPayload struct {
	PaymentID      string `json:"paymentId"`
	InvoiceID      string `json:"invoiceId"`
	MemberID       string `json:"memberId"`
	MemberName     string `json:"memberName"`
	AmountMxnCents int64  `json:"amountMxnCents"`
	Reason         string `json:"reason"`
	RetryCount     int    `json:"retryCount"`
}

func NewVisitCheckin(orgID string, locationID *string, p VisitCheckinPayload) Event {
	return newEvent(VisitCheckin, orgID, locationID, p.CheckinAt, p)
}

func NewVisitCheckout(orgID string, locationID *string, p VisitCheckoutPayload) Event {
	return newEvent(VisitCheckout, orgID, locationID, p.CheckoutAt, p)
}

func NewMembershipExpiring(orgID string, locationID *string, at time.Time, p MembershipExpiringPayload) Event {
	return newEvent(MembershipExpiring, orgID, locationID, at, p)
}

func NewPaymentFailed(orgID string, locationID *string, at time.Time, p PaymentFailedPayload) Event {
	return newEvent(PaymentFailed, orgID, locationID, at, p)
}

func newEvent(kind, orgID string, locationID *string, at time.Time, payload any) Event {
	data, _ := json.Marshal(payload)
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return Event{
		Type:       kind,
		At:         at,
		OrgID:      orgID,
		LocationID: locationID,
		Payload:    data,
	}
}

// KnownType reports whether t belongs to the closed event kind set.
func KnownType(t string) bool {
	switch t {
	case VisitCheckin, VisitCheckout, MembershipExpiring, PaymentFailed:
		return true
	}
	return false
}

// DecodePayload unmarshals the payload into the struct matching the event
// type. The switch is exhaustive over the closed kind set.
func (e Event) DecodePayload() (any, error) {
	switch e.Type {
	case VisitCheckin:
		var p VisitCheckinPayload
		err := json.Unmarshal(e.Payload, &p)
		return p, err
	case VisitCheckout:
		var p VisitCheckoutPayload
		err := json.Unmarshal(e.Payload, &p)
		return p, err
	case MembershipExpiring:
		var p MembershipExpiringPayload
		err := json.Unmarshal(e.Payload, &p)
		return p, err
	case PaymentFailed:
		var p PaymentFailedPayload
		err := json.Unmarshal(e.Payload, &p)
		return p, err
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
}

// Validate checks the event against the wire contract. Violations are
// reported as *FieldError so the HTTP edge can name the offending field.
func (e Event) Validate() error {
	if !KnownType(e.Type) {
		return &FieldError{Field: "type", Message: fmt.Sprintf("unknown event type %q", e.Type)}
	}
	if e.OrgID == "" {
		return &FieldError{Field: "orgId", Message: "orgId is required"}
	}
	if !ValidIdentifier(e.OrgID) {
		return &FieldError{Field: "orgId", Message: "orgId is not a valid identifier"}
	}
	if e.LocationID != nil && !ValidIdentifier(*e.LocationID) {
		return &FieldError{Field: "locationId", Message: "locationId is not a valid identifier"}
	}
	if _, err := e.DecodePayload(); err != nil {
		return &FieldError{Field: "payload", Message: err.Error()}
	}
	return nil
}

// EventFilter narrows a dispatch to a tenant, optionally to one location
// and a subset of event kinds. It is an ephemeral argument, never stored.
type EventFilter struct {
	OrgID      string
	LocationID *string
	Types      []string
}

// MatchesType reports whether t passes the optional kind restriction.
func (f EventFilter) MatchesType(t string) bool {
	if len(f.Types) == 0 {
		return true
	}
	for _, ft := range f.Types {
		if ft == t {
			return true
		}
	}
	return false
}

// FieldError is a validation failure attributable to one input field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Message
}

const maxIdentifierLen = 64

// ValidIdentifier accepts non-empty identifier-shaped strings: letters,
// digits, dash and underscore, at most 64 bytes. UUIDs pass.
func ValidIdentifier(s string) bool {
	if s == "" || len(s) > maxIdentifierLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}
