package errortracking

import (
	"context"
)

// Severity is the level an event is reported with
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
	SeverityDebug   Severity = "debug"
)

// Provider receives errors, messages and recovered panics from the logger
// and the HTTP layer. Tags set with WithTags on ctx are attached to the
// event.
type Provider interface {
	CaptureError(ctx context.Context, err error, severity Severity, extra map[string]interface{})
	CaptureMessage(ctx context.Context, message string, severity Severity, extra map[string]interface{})
	CapturePanic(ctx context.Context, recovered interface{}, stackTrace []byte, extra map[string]interface{})

	// Flush blocks up to timeout seconds until queued events are delivered
	Flush(timeout int) bool
	Close() error
}

// Tags identifying the grid an event was raised for
const (
	TagGridHash   = "grid.hash"
	TagGridAction = "grid.action"
	TagGridRoute  = "grid.route"
)

type tagsKey struct{}

// WithTags returns a context carrying the given key/value pairs on top of
// the tags already in ctx. A trailing key without value is ignored.
func WithTags(ctx context.Context, kv ...string) context.Context {
	parent := TagsFromContext(ctx)
	tags := make(map[string]string, len(parent)+len(kv)/2)
	for k, v := range parent {
		tags[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		tags[kv[i]] = kv[i+1]
	}
	return context.WithValue(ctx, tagsKey{}, tags)
}

// TagsFromContext returns the tags set with WithTags, or nil
func TagsFromContext(ctx context.Context) map[string]string {
	if ctx == nil {
		return nil
	}
	tags, _ := ctx.Value(tagsKey{}).(map[string]string)
	return tags
}

// NoOpProvider drops every event. It stands in when tracking is disabled
// and is embedded by test recorders that only override some methods.
type NoOpProvider struct{}

func NewNoOpProvider() *NoOpProvider { return &NoOpProvider{} }

func (*NoOpProvider) CaptureError(context.Context, error, Severity, map[string]interface{})    {}
func (*NoOpProvider) CaptureMessage(context.Context, string, Severity, map[string]interface{}) {}
func (*NoOpProvider) CapturePanic(context.Context, interface{}, []byte, map[string]interface{}) {
}
func (*NoOpProvider) Flush(int) bool { return true }
func (*NoOpProvider) Close() error   { return nil }
