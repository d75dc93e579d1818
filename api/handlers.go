package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"gymstream/domain"
	"gymstream/stream"
)

// Register wires up all routes on the provided Echo instance.
func Register(e *echo.Echo, registry *stream.Registry, b Broadcaster, store Storage, auth Authenticator, deduper Deduper, ingestToken string, logger *log.Logger) {
	started := time.Now().UTC()
	e.GET("/api/stream", streamEvents(registry, b, auth))
	e.GET("/api/stream/stats", getStreamStats(registry, auth, started))
	e.GET("/api/dashboard", getDashboard(store, auth))
	e.POST("/internal/events", ingestEvent(b, deduper, ingestToken, logger))
	e.GET("/healthz", healthz())
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

// resolveOrgScope validates the orgId/locationId query parameters and
// cross-checks the requested tenant against the authenticated one.
// Syntactic validation runs first so a malformed request is reported as
// 422 even when the tenant would not match either. On failure the response
// has already been written and ok is false.
func resolveOrgScope(c echo.Context, ident Identity) (orgID string, locationID *string, ok bool) {
	orgID = c.QueryParam("orgId")
	if orgID == "" {
		_ = c.JSON(http.StatusUnprocessableEntity, errorResponse{
			Error:   errCodeInvalidParameter,
			Message: "orgId is required",
			Field:   "orgId",
		})
		return "", nil, false
	}
	if !domain.ValidIdentifier(orgID) {
		_ = c.JSON(http.StatusUnprocessableEntity, errorResponse{
			Error:   errCodeInvalidParameter,
			Message: "orgId is not a valid identifier",
			Field:   "orgId",
		})
		return "", nil, false
	}
	if raw := c.QueryParam("locationId"); raw != "" {
		if !domain.ValidIdentifier(raw) {
			_ = c.JSON(http.StatusUnprocessableEntity, errorResponse{
				Error:   errCodeInvalidParameter,
				Message: "locationId is not a valid identifier",
				Field:   "locationId",
			})
			return "", nil, false
		}
		locationID = &raw
	}
	if orgID != ident.OrgID {
		_ = c.JSON(http.StatusForbidden, errorResponse{
			Error:   errCodeForbidden,
			Message: "authenticated tenant does not match requested orgId",
		})
		return "", nil, false
	}
	return orgID, locationID, true
}

func streamEvents(registry *stream.Registry, b Broadcaster, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		// EventSource cannot set headers, so the token may arrive as a
		// query parameter instead.
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if authHeader == "" {
			if token := c.QueryParam("token"); token != "" {
				authHeader = "Bearer " + token
			}
		}
		ident, err := auth.IdentityFromAuthHeader(authHeader)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		orgID, locationID, ok := resolveOrgScope(c, ident)
		if !ok {
			return nil
		}

		flusher, flushOK := c.Response().Writer.(http.Flusher)
		if !flushOK {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		c.Response().WriteHeader(http.StatusOK)

		conn := stream.NewConnection(uuid.NewString(), orgID, locationID, ident.UserID, flushResponse{c.Response(), flusher})
		registry.Add(conn)
		if err := b.Announce(conn); err != nil {
			registry.Remove(conn.ID)
			return nil
		}

		// The endpoint does nothing further; every subsequent write comes
		// from the broadcaster. Park until the client goes away or the
		// registry releases the connection.
		select {
		case <-c.Request().Context().Done():
			registry.Remove(conn.ID)
		case <-conn.Done():
		}
		return nil
	}
}

// flushResponse narrows the echo response to the transport half owned by a
// connection.
type flushResponse struct {
	w       *echo.Response
	flusher http.Flusher
}

func (f flushResponse) Write(p []byte) (int, error) { return f.w.Write(p) }
func (f flushResponse) Flush()                      { f.flusher.Flush() }

type streamStatsResponse struct {
	OrgID            string `json:"orgId"`
	Connections      int    `json:"connections"`
	TotalConnections int    `json:"totalConnections"`
	StartedAt        string `json:"startedAt"`
}

func getStreamStats(registry *stream.Registry, auth Authenticator, started time.Time) echo.HandlerFunc {
	return func(c echo.Context) error {
		ident, err := auth.IdentityFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		return c.JSON(http.StatusOK, streamStatsResponse{
			OrgID:            ident.OrgID,
			Connections:      registry.CountByOrg()[ident.OrgID],
			TotalConnections: registry.Len(),
			StartedAt:        started.Format(time.RFC3339),
		})
	}
}

func getDashboard(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ident, err := auth.IdentityFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		orgID, _, ok := resolveOrgScope(c, ident)
		if !ok {
			return nil
		}
		snapshot, err := store.FetchDashboard(c.Request().Context(), orgID)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, snapshot)
	}
}
