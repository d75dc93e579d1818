package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"gymstream/domain"
)

const ingestMaxSize = 64 * 1024 // 64 KiB

// ingestRequest is one domain event handed over by a collaborating service
// (check-in API, membership-expiry sweeper, payment webhook). The optional
// idempotency key suppresses rebroadcast of redelivered webhooks.
type ingestRequest struct {
	domain.Event
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

type ingestResponse struct {
	Accepted  bool `json:"accepted"`
	Duplicate bool `json:"duplicate,omitempty"`
}

// ingestEvent accepts domain events from trusted collaborators and hands
// them to the broadcaster. Broadcasting is fire-and-forget: the request
// succeeds even when no subscriber receives the event.
func ingestEvent(b Broadcaster, deduper Deduper, token string, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] != token {
			return c.NoContent(http.StatusUnauthorized)
		}

		lr := io.LimitReader(c.Request().Body, ingestMaxSize)
		dec := sonic.ConfigStd.NewDecoder(lr)
		dec.DisallowUnknownFields()

		var req ingestRequest
		if err := dec.Decode(&req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{
				Error:   errCodeInvalidEvent,
				Message: "invalid body",
			})
		}
		if err := req.Event.Validate(); err != nil {
			var fieldErr *domain.FieldError
			if errors.As(err, &fieldErr) {
				return c.JSON(http.StatusUnprocessableEntity, errorResponse{
					Error:   errCodeInvalidEvent,
					Message: fieldErr.Message,
					Field:   fieldErr.Field,
				})
			}
			return c.JSON(http.StatusUnprocessableEntity, errorResponse{
				Error:   errCodeInvalidEvent,
				Message: err.Error(),
			})
		}

		ctx := c.Request().Context()
		if req.IdempotencyKey != "" {
			added, err := deduper.Add(ctx, req.Event.OrgID, req.IdempotencyKey)
			if err != nil {
				// Dedupe is best-effort; a Redis outage must not drop
				// live events.
				logger.WithFields(log.Fields{
					"org_id": req.Event.OrgID,
					"error":  err.Error(),
				}).Warn("dedupe check failed, broadcasting anyway")
			} else if !added {
				return c.JSON(http.StatusAccepted, ingestResponse{Accepted: false, Duplicate: true})
			}
		}

		b.Broadcast(ctx, req.Event, nil)
		return c.JSON(http.StatusAccepted, ingestResponse{Accepted: true})
	}
}
