// Package results accumulates verification results across runs.
//
// Entries are keyed by question, models, replicate, producing job and
// timestamp, so re-running the same combination in a later job adds a new
// entry instead of replacing the earlier one.
package results

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/daryltucker/verification-runner/internal/metrics"
	"github.com/daryltucker/verification-runner/internal/model"
	"github.com/daryltucker/verification-runner/internal/output"
)

// ErrClearNotConfirmed is returned when Clear is called without confirmation.
var ErrClearNotConfirmed = errors.New("clearing the result collection requires explicit confirmation")

// Entry is one stored result with its composite key.
type Entry struct {
	Key    string                   `json:"key"`
	Result model.VerificationResult `json:"result"`
}

// Key derives the composite identity of r as produced by jobID. fallback
// stands in for a missing timestamp.
func Key(r model.VerificationResult, jobID, fallback string) string {
	ts := r.Timestamp
	if ts == "" {
		ts = fallback
	}
	return strings.Join([]string{
		r.QuestionID,
		r.AnsweringModel,
		r.ParsingModel,
		strconv.Itoa(r.Replicate()),
		jobID,
		ts,
	}, "|")
}

// Collection is the session's result store. It only grows through Merge and
// only shrinks through a confirmed Clear.
type Collection struct {
	mu      sync.Mutex
	entries map[string]model.VerificationResult
	order   []string
	now     func() time.Time
}

func NewCollection() *Collection {
	return &Collection{
		entries: make(map[string]model.VerificationResult),
		now:     time.Now,
	}
}

// Merge adds the results produced by jobID and returns how many new entries
// were created. Results missing a timestamp are stamped with the merge time.
// Merging the same job's results again replaces the identical entries.
func (c *Collection) Merge(jobID string, results []model.VerificationResult) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	stamp := c.now().UTC().Format(time.RFC3339Nano)
	stamped := make(map[string]int)
	added := 0

	for _, r := range results {
		if r.JobID == "" {
			r.JobID = jobID
		}
		key := Key(r, jobID, stamp)
		if r.Timestamp == "" {
			r.Timestamp = stamp
			if n := stamped[key]; n > 0 {
				stamped[key] = n + 1
				key = fmt.Sprintf("%s#%d", key, n)
			} else {
				stamped[key] = 1
			}
		}

		if _, exists := c.entries[key]; !exists {
			c.order = append(c.order, key)
			added++
		}
		c.entries[key] = r
	}

	metrics.ResultsMerged.Add(float64(added))
	output.Logger.Info("Merged verification results", "job_id", jobID, "received", len(results), "added", added, "total", len(c.entries))
	return added
}

// Clear empties the collection. It refuses unless confirmed is true.
func (c *Collection) Clear(confirmed bool) (int, error) {
	if !confirmed {
		return 0, ErrClearNotConfirmed
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	c.entries = make(map[string]model.VerificationResult)
	c.order = nil
	output.Logger.Warn("Result collection cleared", "removed", n)
	return n, nil
}

func (c *Collection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Entries returns a copy of all entries in insertion order.
func (c *Collection) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Entry, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, Entry{Key: k, Result: c.entries[k]})
	}
	return out
}

// All returns a copy of all results in insertion order.
func (c *Collection) All() []model.VerificationResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]model.VerificationResult, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.entries[k])
	}
	return out
}

// ByJob returns the results produced by jobID.
func (c *Collection) ByJob(jobID string) []model.VerificationResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []model.VerificationResult
	for _, k := range c.order {
		if r := c.entries[k]; r.JobID == jobID {
			out = append(out, r)
		}
	}
	return out
}

// restore inserts stored entries as-is, keeping their keys.
func (c *Collection) restore(entries []Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range entries {
		if _, exists := c.entries[e.Key]; !exists {
			c.order = append(c.order, e.Key)
		}
		c.entries[e.Key] = e.Result
	}
}
