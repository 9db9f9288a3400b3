// Package assembler implements Gateway.ContextAssembler (§4.3): per-turn
// history truncation, intent/complexity classification, memory recall,
// cross-thread summaries, profile lookup, correction detection, and
// composition into an ordered sequence of provider messages.
package assembler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/manifold-labs/chatmemory/internal/memmodel"
)

// MemoryClient is the gateway's narrow view of the Memory Service's HTTP
// API (§6): recall, profile, and cross-thread summaries. The gateway and
// memory service are separate processes (§9 open question: no shared DB
// reach-in), so this is a plain HTTP client rather than a direct package
// import of internal/recall.
type MemoryClient struct {
	BaseURL string
	HTTP    *http.Client
}

// NewMemoryClient builds a MemoryClient. httpClient may be nil to use
// http.DefaultClient.
func NewMemoryClient(baseURL string, httpClient *http.Client) *MemoryClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &MemoryClient{BaseURL: strings.TrimSuffix(baseURL, "/"), HTTP: httpClient}
}

// Recall calls GET /v1/recall with the given deadline, returning an empty
// slice (never an error the caller must special-case) on any failure —
// context-assembly failures are recovered locally per §7.
func (c *MemoryClient) Recall(ctx context.Context, userID, threadID, query string, maxItems int, deadline time.Duration) []memmodel.Memory {
	if c.BaseURL == "" {
		return nil
	}
	q := url.Values{}
	q.Set("userId", userID)
	if threadID != "" {
		q.Set("threadId", threadID)
	}
	if query != "" {
		q.Set("query", query)
	}
	q.Set("maxItems", strconv.Itoa(maxItems))
	q.Set("deadlineMs", strconv.Itoa(int(deadline.Milliseconds())))

	var out struct {
		Memories []memmodel.Memory `json:"memories"`
	}
	if err := c.getJSON(ctx, deadline, "/v1/recall?"+q.Encode(), &out); err != nil {
		return nil
	}
	return out.Memories
}

// Profile calls GET /v1/profile within the 30ms budget from §4.3 step 5.
func (c *MemoryClient) Profile(ctx context.Context, userID string, deadline time.Duration) (memmodel.Profile, bool) {
	if c.BaseURL == "" {
		return memmodel.Profile{}, false
	}
	q := url.Values{}
	q.Set("userId", userID)
	var out memmodel.Profile
	if err := c.getJSON(ctx, deadline, "/v1/profile?"+q.Encode(), &out); err != nil {
		return memmodel.Profile{}, false
	}
	return out, true
}

// RecentSummaries calls GET /v1/conversations for up to limit most-recent
// thread summaries excluding excludeThreadID (§4.3 step 4).
func (c *MemoryClient) RecentSummaries(ctx context.Context, userID, excludeThreadID string, limit int, deadline time.Duration) []memmodel.ThreadSummary {
	if c.BaseURL == "" {
		return nil
	}
	q := url.Values{}
	q.Set("userId", userID)
	if excludeThreadID != "" {
		q.Set("excludeThreadId", excludeThreadID)
	}
	q.Set("limit", strconv.Itoa(limit))

	var out struct {
		Summaries []memmodel.ThreadSummary `json:"conversations"`
	}
	if err := c.getJSON(ctx, deadline, "/v1/conversations?"+q.Encode(), &out); err != nil {
		return nil
	}
	return out.Summaries
}

func (c *MemoryClient) getJSON(ctx context.Context, deadline time.Duration, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("assembler: memory service %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
