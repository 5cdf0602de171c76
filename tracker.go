package rvg

import (
	"context"
	"fmt"
	"sync"
)

// ProviderTracker counts consecutive errors per provider and notices when a
// provider starts or stops reporting leftover vaccines. A nil tracker is a no-op.
type ProviderTracker struct {
	Threshold     int
	NotifyOnError bool
	Sink          NotificationSink

	errorCount map[string]int
	candidates map[string]int
	mutex      *sync.Mutex
}

func NewProviderTracker(names []string, threshold int, notifyOnError bool, sink NotificationSink) *ProviderTracker {
	tracker := new(ProviderTracker)
	tracker.Threshold = threshold
	tracker.NotifyOnError = notifyOnError
	tracker.Sink = sink
	tracker.errorCount = make(map[string]int)
	tracker.candidates = make(map[string]int)
	tracker.mutex = &sync.Mutex{}

	for _, name := range names {
		tracker.errorCount[name] = 0
		tracker.candidates[name] = 0
	}

	return tracker
}

// Error records a failed query and returns the consecutive error count.
func (t *ProviderTracker) Error(name string, err error) int {
	if t == nil {
		return 0
	}

	t.mutex.Lock()
	t.errorCount[name]++
	count := t.errorCount[name]
	t.mutex.Unlock()

	if count == t.Threshold {
		Log.Errorf("%s: %d consecutive errors, last: %v", name, count, err)

		if t.NotifyOnError && t.Sink != nil {
			notification := Notification{
				Severity: SeverityFailure,
				Message:  fmt.Sprintf("Error during search: %s failed %d times in a row: %v", name, count, err),
			}
			if nerr := t.Sink.Notify(context.Background(), notification); nerr != nil {
				Log.Errorf("%+v", nerr)
			}
		}
	}

	return count
}

// Success resets the error count and returns true when the provider went
// from no candidates to some, or back.
func (t *ProviderTracker) Success(name string, candidates int) bool {
	if t == nil {
		return false
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	if prev := t.errorCount[name]; prev > 0 {
		Log.Infof("%s: recovered after %d error(s)", name, prev)
	}
	t.errorCount[name] = 0

	prevCandidates := t.candidates[name]
	t.candidates[name] = candidates

	changed := (prevCandidates > 0) != (candidates > 0)
	if changed {
		if candidates > 0 {
			Log.Infof("%s: leftover vaccine reported at %d organization(s)", name, candidates)
		} else {
			Log.Infof("%s: no more leftover vaccine reported", name)
		}
	}

	return changed
}

func (t *ProviderTracker) ErrorCount(name string) int {
	if t == nil {
		return 0
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.errorCount[name]
}
