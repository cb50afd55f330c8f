package middleware

import (
	"fmt"
	"net/http"
)

const (
	DefaultMaxRequestSize = 1 << 20
	DefaultMaxQuerySize   = 64 << 10

	// MaxRequestSizeHeader tells clients the accepted body size
	MaxRequestSizeHeader = "X-Max-Request-Size"
)

// RequestSizeLimiter bounds request bodies and query strings. Grid state
// travels in the query, so a selection of many rows makes it large.
type RequestSizeLimiter struct {
	maxBody  int64
	maxQuery int
}

// NewRequestSizeLimiter creates a limiter; zero values use the defaults
func NewRequestSizeLimiter(maxBody int64, maxQuery int) *RequestSizeLimiter {
	if maxBody <= 0 {
		maxBody = DefaultMaxRequestSize
	}
	if maxQuery <= 0 {
		maxQuery = DefaultMaxQuerySize
	}
	return &RequestSizeLimiter{maxBody: maxBody, maxQuery: maxQuery}
}

func (rsl *RequestSizeLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(r.URL.RawQuery) > rsl.maxQuery {
			writeError(w, http.StatusRequestURITooLong, "query_too_large",
				fmt.Sprintf("Query string exceeds %d bytes", rsl.maxQuery))
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, rsl.maxBody)
		w.Header().Set(MaxRequestSizeHeader, fmt.Sprintf("%d", rsl.maxBody))
		next.ServeHTTP(w, r)
	})
}
