package api

import (
	"context"

	"gymstream/domain"
	"gymstream/stream"
)

// Storage serves the dashboard snapshot independently of the live stream.
type Storage interface {
	FetchDashboard(ctx context.Context, orgID string) (domain.DashboardSnapshot, error)
}

// Authenticator is implemented by types able to resolve caller identities
// from Authorization headers.
type Authenticator interface {
	IdentityFromAuthHeader(string) (Identity, error)
}

// Broadcaster fans domain events out to live subscribers.
type Broadcaster interface {
	Broadcast(ctx context.Context, ev domain.Event, filter *domain.EventFilter)
	Announce(c *stream.Connection) error
}

// Deduper prevents rebroadcast of redelivered events (payment providers
// retry webhooks).
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, orgID, key string) (bool, error)
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

const (
	errCodeInvalidParameter = "INVALID_PARAMETER"
	errCodeInvalidEvent     = "INVALID_EVENT"
	errCodeForbidden        = "FORBIDDEN"
)
