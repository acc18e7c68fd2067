package logger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/pkg/errors"
)

// recordingTracker captures every error sent to it
type recordingTracker struct {
	mu       sync.Mutex
	captured []error
}

func (t *recordingTracker) CaptureError(ctx context.Context, err error, tags map[string]string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.captured = append(t.captured, err)
	return nil
}

func (t *recordingTracker) CaptureMessage(ctx context.Context, message string, level errors.Level, tags map[string]string) error {
	return nil
}

func (t *recordingTracker) AddBreadcrumb(ctx context.Context, message, category string, level errors.Level, data map[string]interface{}) {
}

func (t *recordingTracker) Flush(ctx context.Context) error { return nil }

func (t *recordingTracker) errors() []error {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]error, len(t.captured))
	copy(out, t.captured)
	return out
}

func TestLogger_ErrorLevelsReachTracker(t *testing.T) {
	require.NoError(t, Init("error", "development"))
	tracker := &recordingTracker{}
	SetErrorTracker(tracker)
	defer SetErrorTracker(nil)

	log := Get()
	log.Error("something broke")
	log.Errorf("flush failed: %v", fmt.Errorf("sink unavailable"))
	log.Errorw("step failed", "step", "dedup")

	captured := tracker.errors()
	require.Len(t, captured, 3)
	assert.Contains(t, captured[1].Error(), "sink unavailable")
	assert.Contains(t, captured[2].Error(), "step failed")
}

func TestLogger_ChildLoggerKeepsTracker(t *testing.T) {
	require.NoError(t, Init("error", "development"))
	tracker := &recordingTracker{}
	SetErrorTracker(tracker)
	defer SetErrorTracker(nil)

	child := Get().With("component", "test")
	child.Errorf("child failure %d", 7)

	captured := tracker.errors()
	require.Len(t, captured, 1)
	assert.Contains(t, captured[0].Error(), "child failure 7")
}

func TestLogger_NoTrackerIsSafe(t *testing.T) {
	require.NoError(t, Init("error", "development"))
	SetErrorTracker(nil)

	Get().Error("untracked")
	Get().Errorf("untracked %s", "too")
}
