package metrics

import (
	"net/http"
	"time"
)

// Provider collects the grid's operational metrics
type Provider interface {
	RecordHTTPRequest(method, path, status string, duration time.Duration)
	IncRequestsInFlight()
	DecRequestsInFlight()

	// RecordDBQuery records one source query; operation is select, count or delete
	RecordDBQuery(operation, table string, duration time.Duration, err error)

	RecordCacheHit(provider string)
	RecordCacheMiss(provider string)

	// RecordMassAction counts a dispatched mass action by title and outcome
	RecordMassAction(action, status string)

	RecordPanic(location string)

	// Handler exposes the metrics, e.g. on /metrics
	Handler() http.Handler
}

var globalProvider Provider

// SetProvider replaces the global provider, nil restores the no-op one
func SetProvider(p Provider) {
	globalProvider = p
}

func GetProvider() Provider {
	if globalProvider == nil {
		return &NoOpProvider{}
	}
	return globalProvider
}

// NoOpProvider is a no-op implementation of Provider
type NoOpProvider struct{}

func (n *NoOpProvider) RecordHTTPRequest(method, path, status string, duration time.Duration) {}
func (n *NoOpProvider) IncRequestsInFlight()                                                  {}
func (n *NoOpProvider) DecRequestsInFlight()                                                  {}
func (n *NoOpProvider) RecordDBQuery(operation, table string, duration time.Duration, err error) {
}
func (n *NoOpProvider) RecordCacheHit(provider string)         {}
func (n *NoOpProvider) RecordCacheMiss(provider string)        {}
func (n *NoOpProvider) RecordMassAction(action, status string) {}
func (n *NoOpProvider) RecordPanic(location string)            {}
func (n *NoOpProvider) Handler() http.Handler {
	return http.NotFoundHandler()
}
