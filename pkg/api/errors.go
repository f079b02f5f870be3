package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/openintent-protocol/openintent/pkg/federation"
	"github.com/openintent-protocol/openintent/pkg/governance"
	"github.com/openintent-protocol/openintent/pkg/services"
)

// VersionConflictBody is the 409 payload for a failed If-Match
// compare-and-swap. CurrentVersion tells the client what to re-read before
// retrying.
type VersionConflictBody struct {
	Error          string `json:"error"`
	CurrentVersion int64  `json:"current_version"`
}

// mapServiceError translates service-layer errors into echo HTTP errors so
// every handler's failure path stays a single line.
func mapServiceError(err error) error {
	var (
		validation *services.ValidationError
		conflict   *services.VersionConflictError
		permission *services.PermissionError
		violation  *governance.Violation
	)

	switch {
	case errors.As(err, &validation):
		return echo.NewHTTPError(http.StatusBadRequest, validation.Error())
	case errors.As(err, &conflict):
		return echo.NewHTTPError(http.StatusConflict, VersionConflictBody{
			Error:          conflict.Error(),
			CurrentVersion: conflict.CurrentVersion,
		})
	case errors.As(err, &permission):
		return echo.NewHTTPError(http.StatusForbidden, permission.Error())
	case errors.As(err, &violation):
		return echo.NewHTTPError(http.StatusForbidden, violation.Error())
	case errors.Is(err, services.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrLeaseConflict),
		errors.Is(err, services.ErrAlreadyExists),
		errors.Is(err, services.ErrAlreadyDecided),
		errors.Is(err, services.ErrChannelClosed):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrRateLimited):
		return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
	case errors.Is(err, federation.ErrUntrusted),
		errors.Is(err, federation.ErrBadSignature),
		errors.Is(err, federation.ErrDelegationExhausted):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	}

	slog.Error("Unhandled service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
