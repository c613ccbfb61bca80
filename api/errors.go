package api

import (
	"encoding/json"
	"net/http"

	"github.com/medidispatch/dispatch-core/core/dispatch"
)

// ErrorBody is the JSON body of every non-2xx response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var statusByCode = map[string]int{
	dispatch.CodeInvalidInput:      http.StatusBadRequest,
	dispatch.CodeInvalidStatus:     http.StatusBadRequest,
	dispatch.CodeNotFound:          http.StatusNotFound,
	dispatch.CodeInvalidTransition: http.StatusConflict,
	dispatch.CodeNoCapacity:        http.StatusServiceUnavailable,
	dispatch.CodeStoreUnavailable:  http.StatusServiceUnavailable,
	dispatch.CodeStaleReport:       http.StatusConflict,
	dispatch.CodeCanceled:          http.StatusRequestTimeout,
}

// HTTPStatus returns the response status for a wire code.
func HTTPStatus(code string) int {
	if s, ok := statusByCode[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := dispatch.Code(err)
	msg := err.Error()
	if code == dispatch.CodeInternal {
		msg = http.StatusText(http.StatusInternalServerError)
	}
	writeJSON(w, HTTPStatus(code), ErrorBody{Code: code, Message: msg})
}
