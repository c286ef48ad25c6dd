package httpapi

import (
	"errors"

	"github.com/valyala/fasthttp"

	"github.com/park285/cheese-coach/internal/msgcat"
	svcchess "github.com/park285/cheese-coach/internal/service/chess"
	"github.com/park285/cheese-coach/pkg/chessdto"
)

// errorDetail carries the template fields used by the message catalog.
type errorDetail struct {
	GameID string
	Move   string
	Detail string
}

// mapError turns a service error into the wire taxonomy and an HTTP status.
// An unknown session on a mutating call reports InvalidSession with 404.
func mapError(err error, msgs *msgcat.Catalog, d errorDetail) (chessdto.DomainError, int) {
	d.Detail = err.Error()
	notFound := errors.Is(err, svcchess.ErrSessionNotFound)
	status := fasthttp.StatusInternalServerError
	var out chessdto.DomainError

	switch {
	case errors.Is(err, svcchess.ErrIllegalMove):
		status = fasthttp.StatusUnprocessableEntity
		out = chessdto.DomainError{Code: chessdto.CodeIllegalMove, Message: msgs.Text("errors.illegal_move", d, d.Detail)}
	case errors.Is(err, svcchess.ErrInvalidInput):
		status = fasthttp.StatusBadRequest
		out = chessdto.DomainError{Code: chessdto.CodeInvalidInput, Message: msgs.Text("errors.invalid_input", d, d.Detail)}
	case errors.Is(err, svcchess.ErrInvalidSession):
		status = fasthttp.StatusConflict
		out = chessdto.DomainError{Code: chessdto.CodeInvalidSession, Message: msgs.Text("errors.invalid_session", d, d.Detail)}
	case notFound:
		out = chessdto.DomainError{Code: chessdto.CodeNotFound, Message: msgs.Text("errors.not_found", d, d.Detail)}
	case errors.Is(err, svcchess.ErrRecognizerUnavailable):
		status = fasthttp.StatusServiceUnavailable
		out = chessdto.DomainError{Code: chessdto.CodeInternal, Message: msgs.Text("errors.recognizer_unavailable", d, d.Detail), Retryable: true}
	case errors.Is(err, svcchess.ErrSessionConflict):
		status = fasthttp.StatusConflict
		out = chessdto.DomainError{Code: chessdto.CodeInternal, Message: msgs.Text("errors.internal", d, "internal error"), Retryable: true}
	default:
		out = chessdto.DomainError{Code: chessdto.CodeInternal, Message: msgs.Text("errors.internal", d, "internal error")}
	}
	if notFound {
		status = fasthttp.StatusNotFound
	}
	return out, status
}
