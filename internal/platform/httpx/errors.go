package httpx

import (
	"errors"
	"net/http"

	"github.com/cobalt-erp/cobalt-erp/internal/shared"
)

// RespondError maps the shared domain error taxonomy to HTTP problem
// responses. Package-local errors are matched by the handlers before
// falling back to this mapping.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrPreconditionFailed):
		Problem(w, http.StatusUnprocessableEntity, "Precondition Failed", err.Error())
	case errors.Is(err, shared.ErrImmutable):
		Problem(w, http.StatusConflict, "Immutable", err.Error())
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
