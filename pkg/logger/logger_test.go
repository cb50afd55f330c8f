package logger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InterNations/DataGridBundle/pkg/errortracking"
)

type recordingTracker struct {
	errortracking.NoOpProvider
	mu       sync.Mutex
	messages []string
	panics   []interface{}
	errors   []error
	tags     []map[string]string
}

func (r *recordingTracker) CaptureError(ctx context.Context, err error, _ errortracking.Severity, _ map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, err)
	r.tags = append(r.tags, errortracking.TagsFromContext(ctx))
}

func (r *recordingTracker) CaptureMessage(_ context.Context, message string, _ errortracking.Severity, _ map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
}

func (r *recordingTracker) CapturePanic(_ context.Context, recovered interface{}, _ []byte, _ map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.panics = append(r.panics, recovered)
}

func TestWarnAndErrorReachTracker(t *testing.T) {
	tracker := &recordingTracker{}
	InitErrorTracking(tracker)
	defer InitErrorTracking(nil)

	Info("ignored %d", 1)
	Debug("ignored %d", 2)
	Warn("session write failed for %s", "grid_abc")
	Error("count returned %T", "x")

	assert.Equal(t, []string{"session write failed for grid_abc", "count returned string"}, tracker.messages)
}

func TestErrorCtx(t *testing.T) {
	tracker := &recordingTracker{}
	InitErrorTracking(tracker)
	defer InitErrorTracking(nil)

	ctx := errortracking.WithTags(context.Background(), errortracking.TagGridHash, "grid_abc")
	err := errors.New("locked")
	ErrorCtx(ctx, err, "Mass action %q failed: %v", "Archive", err)

	require.Len(t, tracker.errors, 1)
	assert.Equal(t, err, tracker.errors[0])
	assert.Equal(t, map[string]string{errortracking.TagGridHash: "grid_abc"}, tracker.tags[0])
	assert.Empty(t, tracker.messages)
}

func TestHandlePanic(t *testing.T) {
	tracker := &recordingTracker{}
	InitErrorTracking(tracker)
	defer InitErrorTracking(nil)

	run := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = HandlePanic("Entity.Execute", r)
			}
		}()
		panic("boom")
	}

	err := run()
	require.Error(t, err)
	assert.Equal(t, "panic in Entity.Execute: boom", err.Error())
	assert.Equal(t, []interface{}{"boom"}, tracker.panics)
}

func TestCatchPanicCallback(t *testing.T) {
	var got any
	func() {
		defer CatchPanicCallback("test", func(err any) { got = err })
		panic(42)
	}()
	assert.Equal(t, 42, got)
}
