package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/InterNations/DataGridBundle/pkg/grid"
	"github.com/InterNations/DataGridBundle/pkg/logger"
)

// MuxDispatcher runs delegated actions as sub-requests against a router.
// The identifier is the name of the route; the request is a POST with the
// JSON encoded grid.DispatchRequest as body.
type MuxDispatcher struct {
	router *mux.Router
}

func NewMuxDispatcher(router *mux.Router) *MuxDispatcher {
	return &MuxDispatcher{router: router}
}

func (d *MuxDispatcher) Dispatch(ctx context.Context, identifier string, req grid.DispatchRequest) error {
	if _, err := ParseIdentifier(identifier); err != nil {
		return err
	}
	route := d.router.Get(identifier)
	if route == nil {
		return grid.NewError(grid.ErrNotFound, "MuxDispatcher.Dispatch", fmt.Errorf("no route named %s", identifier))
	}
	u, err := route.URL()
	if err != nil {
		return fmt.Errorf("route %s: %w", identifier, err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode action request: %w", err)
	}
	sub, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	sub.Header.Set("Content-Type", "application/json")

	rec := &recorder{header: http.Header{}, status: http.StatusOK}
	d.router.ServeHTTP(rec, sub)

	if rec.status >= http.StatusBadRequest {
		logger.Warn("Delegated action %s answered %d", identifier, rec.status)
		return fmt.Errorf("action %s failed with status %d: %s", identifier, rec.status, strings.TrimSpace(rec.body.String()))
	}
	return nil
}

// DecodeRequest reads the body of a dispatched sub-request
func DecodeRequest(r *http.Request) (grid.DispatchRequest, error) {
	var req grid.DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, grid.NewError(grid.ErrInvalidData, "dispatch.DecodeRequest", err)
	}
	if req.PrimaryKeys == nil {
		req.PrimaryKeys = []string{}
	}
	return req, nil
}

type recorder struct {
	header      http.Header
	body        bytes.Buffer
	status      int
	wroteHeader bool
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.body.Write(b)
}

func (r *recorder) WriteHeader(status int) {
	if r.wroteHeader {
		return
	}
	r.wroteHeader = true
	r.status = status
}
