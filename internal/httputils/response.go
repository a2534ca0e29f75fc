// Package httputils writes JSON replies for the HTTP endpoints served by norbert.
// internal/httputils/response.go
package httputils

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dkoosis/norbert/internal/logging"
	"github.com/dkoosis/norbert/internal/norberterror"
)

// ErrorResponse is the body of an error reply.
type ErrorResponse struct {
	Error    string `json:"error"`
	Category string `json:"category,omitempty"`
	Hint     string `json:"hint,omitempty"`
}

// WriteJSONResponse writes data as JSON with the given status.
func WriteJSONResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.GetLogger("httputils").Warn("Failed to encode JSON response.",
			"error", errors.Wrap(err, "failed to encode JSON response"),
			"data_type", fmt.Sprintf("%T", data))
	}
}

// WriteErrorResponse writes err as an ErrorResponse. The status comes from
// the norberterror category unless status is non-zero.
func WriteErrorResponse(w http.ResponseWriter, status int, err error) {
	if status == 0 {
		status = httpStatusFromCategory(norberterror.GetCategory(err))
	}
	WriteJSONResponse(w, status, ErrorResponse{
		Error:    err.Error(),
		Category: norberterror.GetCategory(err),
		Hint:     errors.FlattenHints(err),
	})
}

// MethodNotAllowed rejects a request whose method is not in allowed.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	WriteErrorResponse(w, http.StatusMethodNotAllowed, errors.Newf("method %s not allowed", r.Method))
}

// httpStatusFromCategory maps error categories to HTTP status codes.
func httpStatusFromCategory(category string) int {
	switch category {
	case norberterror.CategoryAuth:
		return http.StatusUnauthorized
	case norberterror.CategoryPhase:
		return http.StatusConflict
	case norberterror.CategoryConnect, norberterror.CategorySMS:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
