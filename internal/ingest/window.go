package ingest

import "sync"

// WindowBuffer accumulates the messages of an in-flight audit window per
// thread, handing back and clearing the buffer when CadenceTracker.Observe
// fires (§4.1 "the current window is frozen, counters reset"). It mirrors
// CadenceTracker's per-thread map-with-mutex shape since the two are
// always driven by the same caller in lockstep.
type WindowBuffer struct {
	mu      sync.Mutex
	windows map[string][]WindowMessage
}

// NewWindowBuffer constructs an empty WindowBuffer.
func NewWindowBuffer() *WindowBuffer {
	return &WindowBuffer{windows: make(map[string][]WindowMessage)}
}

// Append records one message on threadID's in-flight window.
func (b *WindowBuffer) Append(threadID string, msg WindowMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.windows[threadID] = append(b.windows[threadID], msg)
}

// Freeze returns threadID's accumulated messages and clears the buffer.
func (b *WindowBuffer) Freeze(threadID string) []WindowMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.windows[threadID]
	delete(b.windows, threadID)
	return msgs
}
