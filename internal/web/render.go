package web

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/charmbracelet/log"

	"github.com/haseab/retrace-sub006/internal/errors"
)

// renderJSON writes a JSON response.
func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// renderError writes err as {"error":{code,message,status}}. Errors that are
// not RetraceErrors become INTERNAL. Server-side failures are logged with
// their query and cause, which never reach the client.
func renderError(w http.ResponseWriter, logger *log.Logger, req *http.Request, err error) {
	var rErr *errors.RetraceError
	if !stderrors.As(err, &rErr) {
		rErr = errors.NewInternal(err)
	}

	message := rErr.Message
	if rErr.Status >= 500 {
		logger.Error("request failed", "method", req.Method, "path", req.URL.Path, "code", rErr.Code, "err", err, "query", rErr.Query)
		if rErr.Code == errors.ErrInternal || rErr.Code == errors.ErrQueryFailed {
			message = "an internal error occurred"
		}
	}

	renderJSON(w, rErr.Status, map[string]any{
		"error": map[string]any{
			"code":    string(rErr.Code),
			"message": message,
			"status":  rErr.Status,
		},
	})
}
