package adapt

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
)

// DefaultLoopThreshold is the number of identical failures that marks a
// run as stuck.
const DefaultLoopThreshold = 3

// LoopDetector tracks a rolling window of failed (skillID, argsHash)
// pairs and flags identical repeats past the threshold. One detector
// belongs to one run; it is not shared.
type LoopDetector struct {
	threshold int
	window    int
	recent    []string
	counts    map[string]int
}

// NewLoopDetector creates a detector. A zero or negative threshold
// falls back to the default; the window spans threshold*2 entries.
func NewLoopDetector(threshold int) *LoopDetector {
	if threshold <= 0 {
		threshold = DefaultLoopThreshold
	}
	return &LoopDetector{
		threshold: threshold,
		window:    threshold * 2,
		counts:    make(map[string]int),
	}
}

// RecordFailure notes a failed invocation and reports whether the same
// call has now failed at least threshold times within the window.
func (d *LoopDetector) RecordFailure(skillID string, args map[string]any) bool {
	key := fingerprint(skillID, args)
	d.recent = append(d.recent, key)
	d.counts[key]++
	if len(d.recent) > d.window {
		oldest := d.recent[0]
		d.recent = d.recent[1:]
		d.counts[oldest]--
		if d.counts[oldest] <= 0 {
			delete(d.counts, oldest)
		}
	}
	return d.counts[key] >= d.threshold
}

// Threshold returns the configured repeat threshold.
func (d *LoopDetector) Threshold() int { return d.threshold }

// fingerprint hashes a call identity. encoding/json sorts map keys, so
// equal args always produce equal fingerprints.
func fingerprint(skillID string, args map[string]any) string {
	raw, err := json.Marshal(args)
	if err != nil {
		raw = []byte(fmt.Sprint(args))
	}
	h := fnv.New64a()
	h.Write([]byte(skillID))
	h.Write([]byte{0})
	h.Write(raw)
	return fmt.Sprintf("%s:%x", skillID, h.Sum64())
}
