package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/foxcpp/tempmailgw/internal/gatewayerr"
)

// errorBody is the §6 error envelope: {error: {code, message, details?}}.
type errorBody struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// WriteError maps err to the §6 status/code table and writes the JSON
// envelope. debug controls whether an uncaught error's raw message is
// included as details or masked behind a generic one (§7).
func WriteError(w http.ResponseWriter, err error, debug bool) {
	ge, ok := gatewayerr.As(err)
	if !ok {
		ge = gatewayerr.Internal("internal error", err)
	}

	body := errorBody{Error: errorPayload{Code: ge.Kind.String(), Message: ge.Message}}
	if debug && ge.Cause != nil {
		body.Error.Details = ge.Cause.Error()
	}

	writeJSON(w, ge.Kind.HTTPStatus(), body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
