package httpErrors

import (
	"net/http"

	dErrors "aegis/pkg/domain-errors"
)

// ToHTTPStatus maps a domain error code onto the HTTP status the public
// surface renders for it.
func ToHTTPStatus(code dErrors.Code) int {
	switch code {
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput, dErrors.CodeValidation, dErrors.CodeIllegalWellKnown:
		return http.StatusBadRequest
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden:
		return http.StatusForbidden
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict, dErrors.CodeIncorrectRev, dErrors.CodeAlreadyExists, dErrors.CodeAlreadyDeprecated:
		return http.StatusConflict
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
