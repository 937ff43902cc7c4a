package persistence

import (
	"time"
)

func createEvent(
	eventType SyncEventType,
	runID string,
	state RunState,
	err error,
	startTime time.Time,
) SyncEvent {
	var duration *int64
	if !startTime.IsZero() {
		d := time.Since(startTime).Milliseconds()
		duration = &d
	}

	var errStr *string
	if err != nil {
		s := err.Error()
		errStr = &s
	}

	return SyncEvent{
		Type:      eventType,
		Timestamp: time.Now().UnixMilli(),
		RunID:     runID,
		State:     state,
		Error:     errStr,
		Duration:  duration,
	}
}

func intPtr(i int) *int {
	return &i
}
