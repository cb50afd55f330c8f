package gridhttp

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/InterNations/DataGridBundle/pkg/grid"
	"github.com/InterNations/DataGridBundle/pkg/logger"
)

// Response is the JSON envelope of every grid endpoint
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// GridFunc builds, binds and prepares the grid of one request
type GridFunc func(r *http.Request) (*grid.Grid, error)

// Handler serves a grid: requests carrying grid parameters are redirected
// to the clean route URL once the state is stored, all others get the view.
func (b *URLBuilder) Handler(fn GridFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g, err := fn(r)
		if err != nil {
			WriteError(w, err)
			return
		}
		b.Respond(w, r, g)
	})
}

// Respond redirects with 303 when the grid is ready for redirect and
// writes the JSON view otherwise
func (b *URLBuilder) Respond(w http.ResponseWriter, r *http.Request, g *grid.Grid) {
	if g.IsReadyForRedirect() {
		target, err := b.RouteURL(g, nil)
		if err != nil {
			WriteError(w, err)
			return
		}
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}

	view, err := b.View(g)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: view})
}

// ErrorStatus maps grid errors to HTTP status codes
func ErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, grid.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, grid.ErrInvalidData):
		return http.StatusBadRequest, "invalid_data"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func WriteError(w http.ResponseWriter, err error) {
	status, code := ErrorStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Grid request failed: %v", err)
	} else {
		logger.Debug("Grid request rejected: %v", err)
	}
	writeJSON(w, status, Response{Error: &APIError{Code: code, Message: err.Error()}})
}

func writeJSON(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Error sending response: %v", err)
	}
}
