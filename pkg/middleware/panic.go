package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/InterNations/DataGridBundle/pkg/logger"
	"github.com/InterNations/DataGridBundle/pkg/metrics"
)

const panicMiddlewareMethodName = "PanicMiddleware"

// PanicRecovery turns a panicking handler into a 500 response. The panic
// is logged, reported to the error tracker and counted; the client only
// sees a generic error.
func PanicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rcv := recover(); rcv != nil {
				if rcv == http.ErrAbortHandler {
					panic(rcv)
				}
				metrics.GetProvider().RecordPanic(panicMiddlewareMethodName)
				_ = logger.HandlePanic(panicMiddlewareMethodName+" "+r.Method+" "+r.URL.Path, rcv)
				writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type errorBody struct {
	Success bool      `json:"success"`
	Error   errorInfo `json:"error"`
}

type errorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorBody{Error: errorInfo{Code: code, Message: message}}); err != nil {
		logger.Error("Error sending response: %v", err)
	}
}
