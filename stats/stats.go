// Package stats exposes the ingest engine's shared mutable counters. All
// counters are safe for concurrent increment, backed by go/metrics2.
package stats

import (
	"sync"

	"github.com/improve-ai/tracker/go/metrics2"
)

// Stats owns every counter the ingest engine updates. One Stats is shared
// across all RDPs in a process.
type Stats struct {
	client *metrics2.Client

	mu                        sync.Mutex
	overlapComponentSizes     []int
	quarantinedPartitionFiles []string
	parseErrorCount           int64
}

// New returns a Stats backed by client, which owns the underlying
// Prometheus registry.
func New(client *metrics2.Client) *Stats {
	return &Stats{client: client}
}

// IncObjectStoreRequests increments the request counter for one bucket and
// one HTTP-style verb (get, put, delete).
func (s *Stats) IncObjectStoreRequests(bucket, verb string) {
	s.client.GetCounter("object_store_requests", map[string]string{
		"bucket": bucket,
		"verb":   verb,
	}).Inc(1)
}

// IncRewardedDecisionCount records how many (partial) RDRs an RDP started
// with from the incoming batch, and how many more it loaded from an
// existing partition, per model.
func (s *Stats) IncRewardedDecisionCount(model string, fromBatch, fromStore int) {
	s.client.GetCounter("rewarded_decisions_from_batch", map[string]string{"model": model}).Inc(int64(fromBatch))
	s.client.GetCounter("rewarded_decisions_from_store", map[string]string{"model": model}).Inc(int64(fromStore))
}

// IncRecordsAfterMerge records the row count remaining after one RDP's
// merge phase, per model.
func (s *Stats) IncRecordsAfterMerge(model string, count int) {
	s.client.GetCounter("records_after_merge", map[string]string{"model": model}).Inc(int64(count))
}

// AddParseError records one invalid firehose line.
func (s *Stats) AddParseError() {
	s.mu.Lock()
	s.parseErrorCount++
	s.mu.Unlock()
	s.client.GetCounter("firehose_parse_errors", nil).Inc(1)
}

// ParseErrorCount returns the number of invalid firehose lines seen so far.
func (s *Stats) ParseErrorCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.parseErrorCount
}

// RememberQuarantinedFile records that a file was archived under
// unrecoverable/ (either an invalid firehose line batch or an invalid
// existing partition).
func (s *Stats) RememberQuarantinedFile(key string) {
	s.mu.Lock()
	s.quarantinedPartitionFiles = append(s.quarantinedPartitionFiles, key)
	s.mu.Unlock()
	s.client.GetCounter("quarantined_files", nil).Inc(1)
}

// QuarantinedFiles returns every key archived under unrecoverable/ so far.
func (s *Stats) QuarantinedFiles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.quarantinedPartitionFiles))
	copy(out, s.quarantinedPartitionFiles)
	return out
}

// IncOverlapComponentSize records the size of one overlapping-key set
// reconciled by repair, building the distribution the original's
// increment_counts_of_set_of_overlapping_s3_keys tracked.
func (s *Stats) IncOverlapComponentSize(size int) {
	s.mu.Lock()
	s.overlapComponentSizes = append(s.overlapComponentSizes, size)
	s.mu.Unlock()
	s.client.GetCounter("repair_overlap_component_size_total", nil).Inc(int64(size))
	s.client.GetCounter("repair_overlap_component_count", nil).Inc(1)
}

// OverlapComponentSizes returns the size of every overlapping-key set
// repair has reconciled so far.
func (s *Stats) OverlapComponentSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.overlapComponentSizes))
	copy(out, s.overlapComponentSizes)
	return out
}
