package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "aegis/pkg/domain-errors"
	httpErrors "aegis/pkg/http-errors"
)

func WriteJSON(w http.ResponseWriter, status int, response any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Errors after WriteHeader cannot change the status code, so we ignore encoding errors.
	// The response body may be incomplete, but headers are already sent.
	_ = json.NewEncoder(w).Encode(response)
}

// coded is satisfied by domain and token rejections, which know their own
// error taxonomy code.
type coded interface {
	error
	Code() dErrors.Code
}

// WriteError centralizes error translation to HTTP responses. Rejections
// and domain errors carry their code; anything else is an internal error.
func WriteError(w http.ResponseWriter, err error) {
	var rejection coded
	if errors.As(err, &rejection) {
		WriteJSON(w, httpErrors.ToHTTPStatus(rejection.Code()), map[string]string{
			"error":             string(rejection.Code()),
			"error_description": rejection.Error(),
		})
		return
	}

	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) {
		response := map[string]string{"error": string(domainErr.Code)}
		if domainErr.Message != "" {
			response["error_description"] = domainErr.Message
		}
		WriteJSON(w, httpErrors.ToHTTPStatus(domainErr.Code), response)
		return
	}

	WriteJSON(w, http.StatusInternalServerError, map[string]string{
		"error": string(dErrors.CodeInternal),
	})
}
