// Package audittest provides a capturing audit recorder for tests.
package audittest

import (
	"context"
	"sync"

	"github.com/warden-iam/warden/internal/audit"
)

// Recorder keeps every entry it is given.
type Recorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

// Record implements audit.Recorder.
func (r *Recorder) Record(ctx context.Context, entry audit.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

// Entries returns a copy of the recorded entries.
func (r *Recorder) Entries() []audit.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Entry(nil), r.entries...)
}

// Last returns the most recent entry and whether one exists.
func (r *Recorder) Last() (audit.Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return audit.Entry{}, false
	}
	return r.entries[len(r.entries)-1], true
}

var _ audit.Recorder = (*Recorder)(nil)
