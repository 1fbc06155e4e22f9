package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/reveriehq/reverie/store"
)

// requireUser resolves the authenticated caller to a store user, creating
// the row on first sight.
func requireUser(c echo.Context, st *store.Store) (*store.User, error) {
	externalID := currentUserID(c)
	if externalID == "" {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	user, err := st.EnsureUser(c.Request().Context(), externalID)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "failed to resolve user")
	}
	return user, nil
}

// notFound hides both missing resources and other users' resources behind
// the same answer, so ids cannot be probed.
func notFound() error {
	return echo.NewHTTPError(http.StatusNotFound, "not found")
}

func badRequest(message string) error {
	return echo.NewHTTPError(http.StatusBadRequest, message)
}

func internalError(message string) error {
	return echo.NewHTTPError(http.StatusInternalServerError, message)
}
