package apperr

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HTTPStatus maps an error kind to an HTTP status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidTransition, KindConflict:
		return http.StatusConflict
	case KindValidation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// ToHTTP converts err into an echo.HTTPError. Structured errors keep their
// context in the response body; anything else becomes a bare 500.
func ToHTTP(err error) *echo.HTTPError {
	if he, ok := err.(*echo.HTTPError); ok {
		return he
	}
	e, ok := As(err)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
	return echo.NewHTTPError(HTTPStatus(err), e).SetInternal(err)
}
