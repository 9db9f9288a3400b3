package ingest

import (
	"sync"
	"time"
)

// cadenceEntry is the per-thread running state backing the trigger rules
// in §4.1: unseen-message count, unseen-token estimate, and time since the
// last audit.
type cadenceEntry struct {
	userID         string
	unseenMessages int
	unseenTokens   int
	lastAuditAt    time.Time
	lastSeenTopics []string
}

// CadenceTracker maintains per-thread counters and decides when a window
// should be frozen and handed to the audit pipeline. Safe for concurrent
// use across many chat threads.
type CadenceTracker struct {
	mu      sync.Mutex
	entries map[string]*cadenceEntry

	msgThreshold   int
	tokenThreshold int
	timeThreshold  time.Duration
}

// NewCadenceTracker constructs a tracker using the configured thresholds.
func NewCadenceTracker(msgThreshold, tokenThreshold int, timeThresholdMS int) *CadenceTracker {
	return &CadenceTracker{
		entries:        make(map[string]*cadenceEntry),
		msgThreshold:   msgThreshold,
		tokenThreshold: tokenThreshold,
		timeThreshold:  time.Duration(timeThresholdMS) * time.Millisecond,
	}
}

// estimateTokens approximates token count as 4 chars per token (§4.1).
func estimateTokens(content string) int {
	return (len(content) + 3) / 4
}

// Observe records one new message on threadID and reports whether an audit
// should fire now. When it does, the caller's next step is to freeze and
// reset the window (see Reset).
func (c *CadenceTracker) Observe(threadID, userID, content string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[threadID]
	if !ok {
		e = &cadenceEntry{userID: userID, lastAuditAt: time.Now()}
		c.entries[threadID] = e
	}
	e.unseenMessages++
	e.unseenTokens += estimateTokens(content)

	if e.unseenMessages >= c.msgThreshold {
		return true
	}
	if e.unseenTokens >= c.tokenThreshold {
		return true
	}
	if e.unseenMessages >= 1 && time.Since(e.lastAuditAt) >= c.timeThreshold {
		return true
	}
	return false
}

// Reset freezes and clears the window's counters after an audit has been
// enqueued, recording the topics seen in that window for stability
// tracking (§4.1 "Topic stability / research enqueue").
func (c *CadenceTracker) Reset(threadID string, topics []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[threadID]
	if !ok {
		return
	}
	e.unseenMessages = 0
	e.unseenTokens = 0
	e.lastAuditAt = time.Now()
	e.lastSeenTopics = topics
}

// State returns a snapshot for the /debug/memory introspection surface.
func (c *CadenceTracker) State(threadID string) (unseenMessages, unseenTokens int, lastAuditAt time.Time, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[threadID]
	if !ok {
		return 0, 0, time.Time{}, false
	}
	return e.unseenMessages, e.unseenTokens, e.lastAuditAt, true
}

// topicStability counts, per (user, topic), the number of audit batches in
// which the topic has been the dominant one — used to decide whether to
// enqueue a research job.
type topicStability struct {
	mu     sync.Mutex
	counts map[string]int
}

func newTopicStability() *topicStability {
	return &topicStability{counts: make(map[string]int)}
}

func (t *topicStability) key(userID, topic string) string { return userID + "\x00" + topic }

// Observe increments the batch counter for (userID, topic) and reports the
// new count. A topic is "stable" once this reaches 2 (§4.1).
func (t *topicStability) Observe(userID, topic string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := t.key(userID, topic)
	t.counts[k]++
	return t.counts[k]
}
