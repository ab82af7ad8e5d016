package errs

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HTTPStatus maps an error kind to the status code handlers return.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindForbidden:
		return http.StatusForbidden
	case KindDependency:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// JSON writes err as a JSON body with its mapped status code. Internal errors
// are masked so wrapped causes never leak to clients.
func JSON(c echo.Context, err error) error {
	status := HTTPStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	return c.JSON(status, map[string]string{"error": msg})
}
