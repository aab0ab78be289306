// Package partition implements the Partition Key Scheme, the Partition
// Engine, and Overlap Repair: the three components that keep the
// per-model columnar store non-overlapping and merged.
package partition

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/improve-ai/tracker/go/columnar"
	"github.com/improve-ai/tracker/go/objectstore"
	"github.com/improve-ai/tracker/go/objectstore/quarantine"
	"github.com/improve-ai/tracker/go/skerr"
	"github.com/improve-ai/tracker/go/sklog"
	"github.com/improve-ai/tracker/kid"
	"github.com/improve-ai/tracker/record"
	"github.com/improve-ai/tracker/stats"
)

const isoBasicFormat = "20060102T150405Z"

// Prefix returns the object-store key prefix of the unique partition that
// may contain decisionID, for the given model. Partitions are ordered so
// that a key's prefix begins with its own max timestamp: any key sorting
// at or after Prefix(model, decisionID) is a candidate to contain it.
func Prefix(model string, decisionID kid.ID) string {
	ts := decisionID.Timestamp().UTC()
	return fmt.Sprintf("rewarded_decisions/%s/parquet/%04d/%02d/%02d/%s",
		model, ts.Year(), ts.Month(), ts.Day(), ts.Format(isoBasicFormat))
}

// FullKey returns the object-store key for a freshly written partition
// chunk spanning [minID, maxID] with count rows, in the given codec's file
// format extension.
func FullKey(model string, minID, maxID kid.ID, count int, ext string) string {
	minTimestamp := minID.Timestamp().UTC().Format(isoBasicFormat)
	return fmt.Sprintf("%s-%s-%d-%s.%s", Prefix(model, maxID), minTimestamp, count, uuid.NewString(), ext)
}

func listingPrefix(model string) string {
	return fmt.Sprintf("rewarded_decisions/%s/", model)
}

// RDP is a RewardedDecisionPartition: one model, one in-memory table of
// RDRs, and at most one existing object-store key this batch is merging
// with.
type RDP struct {
	Model string
	Rows  []*record.RDR
	Key   string

	minID, maxID kid.ID
	sorted       bool
}

// MinDecisionID returns the smallest decision_id in this RDP. Valid after
// Process has sorted the rows, and remains valid after cleanup discards
// the row data.
func (p *RDP) MinDecisionID() kid.ID {
	if !p.sorted {
		panic("partition: MinDecisionID called before sort")
	}
	return p.minID
}

// MaxDecisionID returns the largest decision_id in this RDP.
func (p *RDP) MaxDecisionID() kid.ID {
	if !p.sorted {
		panic("partition: MaxDecisionID called before sort")
	}
	return p.maxID
}

// Deps are the collaborators RDP.Process and Repair need. The engine never
// imports a concrete object-store SDK or columnar-file library directly.
type Deps struct {
	Store          objectstore.Client
	Codec          columnar.Codec
	Stats          *stats.Stats
	MaxRowsPerFile int
	// Cancelled, if non-nil, is checked cooperatively at the entry of
	// Process; a true value skips the RDP entirely.
	Cancelled *atomic.Bool
}

// ErrCancelled is returned by Process when deps.Cancelled was set before
// this RDP started.
var ErrCancelled = skerr.Fmt("partition: cancelled before starting")

// PartitionsFromRecordGroup assigns every record in records to at most one
// existing partition key via a single range listing starting at the
// smallest target prefix in the batch, then a merge-walk over the
// returned keys in lexicographic order.
func PartitionsFromRecordGroup(ctx context.Context, store objectstore.Client, model string, records []*record.Record) ([]*RDP, error) {
	rows := make([]*record.RDR, 0, len(records))
	for _, r := range records {
		rdr, err := record.ToRDR(r)
		if err != nil {
			return nil, skerr.Wrapf(err, "partition: projecting record to RDR")
		}
		rows = append(rows, rdr)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	sort.Slice(rows, func(i, j int) bool {
		return Prefix(model, rows[i].DecisionID) < Prefix(model, rows[j].DecisionID)
	})

	startAfter := Prefix(model, rows[0].DecisionID)
	keys, err := store.List(ctx, listingPrefix(model), startAfter)
	if err != nil {
		return nil, skerr.Wrapf(err, "partition: listing existing partitions for model %q", model)
	}
	sort.Strings(keys)

	if len(keys) == 0 {
		return []*RDP{{Model: model, Rows: rows}}, nil
	}

	var rdps []*RDP
	remaining := rows
	for _, key := range keys {
		if len(remaining) == 0 {
			break
		}
		var assigned, rest []*record.RDR
		for _, row := range remaining {
			if Prefix(model, row.DecisionID) < key {
				assigned = append(assigned, row)
			} else {
				rest = append(rest, row)
			}
		}
		if len(assigned) > 0 {
			rdps = append(rdps, &RDP{Model: model, Rows: assigned, Key: key})
		}
		remaining = rest
	}

	if len(remaining) > 0 {
		rdps = append(rdps, &RDP{Model: model, Rows: remaining})
	}

	return rdps, nil
}

// Process runs the six phases of RDP processing: load, filter, sort,
// merge, save, cleanup. Phases always run in this order; save commits
// every new key before cleanup deletes the superseded one.
func (p *RDP) Process(ctx context.Context, deps Deps) error {
	if deps.Cancelled != nil && deps.Cancelled.Load() {
		return ErrCancelled
	}

	if err := p.load(ctx, deps); err != nil {
		return err
	}
	p.filterValid()
	p.sort()
	p.merge(deps)
	if err := p.save(ctx, deps); err != nil {
		return err
	}
	return p.cleanup(ctx, deps)
}

// load reads and decodes the existing partition, if any. A failure to
// fetch or decode the file is not fatal: it drops the key attachment so
// this RDP becomes keyless and its rows land in an overlapping sibling
// partition that Repair will reconcile later. Only a row that fails its
// own decision_id validation after a successful decode indicates actual
// corruption, and is quarantined.
func (p *RDP) load(ctx context.Context, deps Deps) error {
	if p.Key == "" {
		deps.Stats.IncRewardedDecisionCount(p.Model, len(p.Rows), 0)
		return nil
	}

	data, err := deps.Store.Read(ctx, p.Key)
	if err != nil {
		sklog.Warningf("partition: could not read %q, dropping key attachment so a sibling partition is created: %v", p.Key, err)
		p.Key = ""
		return nil
	}
	deps.Stats.IncObjectStoreRequests("train", "get")

	table, err := deps.Codec.Decode(data)
	if err != nil {
		sklog.Warningf("partition: could not decode %q, dropping key attachment so a sibling partition is created: %v", p.Key, err)
		p.Key = ""
		return nil
	}

	existingRows, err := tableToRows(table)
	if err != nil {
		return p.quarantineExisting(ctx, deps, data, err)
	}

	deps.Stats.IncRewardedDecisionCount(p.Model, len(p.Rows), len(existingRows))
	p.Rows = append(p.Rows, existingRows...)
	return nil
}

func (p *RDP) quarantineExisting(ctx context.Context, deps Deps, data []byte, cause error) error {
	archiveKey, archErr := quarantine.Archive(ctx, deps.Store, p.Key, data)
	if archErr != nil {
		sklog.Errorf("partition: failed to quarantine %q: %v", p.Key, archErr)
	} else {
		deps.Stats.RememberQuarantinedFile(archiveKey)
		deps.Stats.IncObjectStoreRequests("train", "put")
	}
	if delErr := deps.Store.Delete(ctx, p.Key); delErr != nil {
		sklog.Errorf("partition: failed to delete invalid partition %q: %v", p.Key, delErr)
	} else {
		deps.Stats.IncObjectStoreRequests("train", "delete")
	}
	return skerr.Wrapf(cause, "partition: invalid records found in %q, moved to %s", p.Key, archiveKey)
}

// filterValid drops incoming rows that fail validation. Currently a
// no-op: Record Model validation already rejects malformed rows before
// they reach an RDP.
func (p *RDP) filterValid() {}

func (p *RDP) sort() {
	sort.Slice(p.Rows, func(i, j int) bool {
		return p.Rows[i].DecisionID < p.Rows[j].DecisionID
	})
	if len(p.Rows) > 0 {
		p.minID = p.Rows[0].DecisionID
		p.maxID = p.Rows[len(p.Rows)-1].DecisionID
	}
	p.sorted = true
}

// merge groups rows by decision_id and consolidates each group per the
// merge semantics: first non-null wins for non-reward columns, rewards
// shallow-merge with last-writer on key collision, reward is resummed.
// The operation is idempotent and commutative at the multi-set level.
func (p *RDP) merge(deps Deps) {
	if !p.sorted {
		panic("partition: merge called before sort")
	}

	var merged []*record.RDR
	i := 0
	for i < len(p.Rows) {
		j := i + 1
		for j < len(p.Rows) && p.Rows[j].DecisionID == p.Rows[i].DecisionID {
			j++
		}
		merged = append(merged, mergeGroup(p.Rows[i:j]))
		i = j
	}

	p.Rows = merged
	deps.Stats.IncRecordsAfterMerge(p.Model, len(p.Rows))
}

func mergeGroup(group []*record.RDR) *record.RDR {
	out := &record.RDR{DecisionID: group[0].DecisionID}

	for _, r := range group {
		if out.Timestamp == nil && r.Timestamp != nil {
			out.Timestamp = r.Timestamp
		}
		if out.Variant == nil && r.Variant != nil {
			out.Variant = r.Variant
		}
		if out.Givens == nil && r.Givens != nil {
			out.Givens = r.Givens
		}
		if out.Count == nil && r.Count != nil {
			out.Count = r.Count
		}
		if out.RunnersUp == nil && r.RunnersUp != nil {
			out.RunnersUp = r.RunnersUp
		}
		if out.Sample == nil && r.Sample != nil {
			out.Sample = r.Sample
		}
	}

	rewards := map[string]float64{}
	for _, r := range group {
		for msgID, v := range r.Rewards {
			rewards[msgID] = v
		}
	}
	if len(rewards) > 0 {
		out.Rewards = rewards
		sum := 0.0
		for _, v := range rewards {
			sum += v
		}
		out.Reward = sum
	}

	return out
}

func (p *RDP) save(ctx context.Context, deps Deps) error {
	if !p.sorted {
		panic("partition: save called before sort")
	}
	if len(p.Rows) == 0 {
		return nil
	}

	for _, chunk := range splitRoughlyEqual(p.Rows, deps.MaxRowsPerFile) {
		table, err := rowsToTable(chunk)
		if err != nil {
			return skerr.Wrapf(err, "partition: building table for model %q", p.Model)
		}
		data, err := deps.Codec.Encode(table)
		if err != nil {
			return skerr.Wrapf(err, "partition: encoding partition for model %q", p.Model)
		}

		key := FullKey(p.Model, chunk[0].DecisionID, chunk[len(chunk)-1].DecisionID, len(chunk), deps.Codec.Extension())
		if err := deps.Store.Write(ctx, key, data); err != nil {
			return skerr.Wrapf(err, "partition: writing %q", key)
		}
		deps.Stats.IncObjectStoreRequests("train", "put")
	}
	return nil
}

func splitRoughlyEqual(rows []*record.RDR, maxRowCount int) [][]*record.RDR {
	if maxRowCount <= 0 || len(rows) <= maxRowCount {
		return [][]*record.RDR{rows}
	}

	n := int(math.Ceil(float64(len(rows)) / float64(maxRowCount)))
	k, m := len(rows)/n, len(rows)%n
	chunks := make([][]*record.RDR, 0, n)
	start := 0
	for i := 0; i < n; i++ {
		size := k
		if i < m {
			size++
		}
		chunks = append(chunks, rows[start:start+size])
		start += size
	}
	return chunks
}

func (p *RDP) cleanup(ctx context.Context, deps Deps) error {
	if p.Key != "" {
		if err := deps.Store.Delete(ctx, p.Key); err != nil {
			return skerr.Wrapf(err, "partition: deleting superseded key %q", p.Key)
		}
		deps.Stats.IncObjectStoreRequests("train", "delete")
	}
	p.Rows = nil
	return nil
}

var rdrSchema = []columnar.Column{
	{Name: "decision_id", Type: columnar.String},
	{Name: "timestamp", Type: columnar.Int64, Nullable: true},
	{Name: "variant", Type: columnar.String, Nullable: true},
	{Name: "givens", Type: columnar.String, Nullable: true},
	{Name: "count", Type: columnar.Int64, Nullable: true},
	// runners_up is stored as one JSON array of already-canonicalized
	// per-entry JSON strings: the columnar codec has no native list
	// column type, and this keeps each entry individually comparable.
	{Name: "runners_up", Type: columnar.String, Nullable: true},
	{Name: "sample", Type: columnar.String, Nullable: true},
	{Name: "rewards", Type: columnar.String, Nullable: true},
	{Name: "reward", Type: columnar.Float64, Nullable: true},
}

func rowsToTable(rows []*record.RDR) (columnar.Table, error) {
	table := columnar.NewTable(rdrSchema)
	for _, r := range rows {
		table.Columns["decision_id"] = append(table.Columns["decision_id"], r.DecisionID.String())

		if r.Timestamp != nil {
			table.Columns["timestamp"] = append(table.Columns["timestamp"], r.Timestamp.Unix())
		} else {
			table.Columns["timestamp"] = append(table.Columns["timestamp"], nil)
		}

		table.Columns["variant"] = appendStrPtr(table.Columns["variant"], r.Variant)
		table.Columns["givens"] = appendStrPtr(table.Columns["givens"], r.Givens)

		if r.Count != nil {
			table.Columns["count"] = append(table.Columns["count"], *r.Count)
		} else {
			table.Columns["count"] = append(table.Columns["count"], nil)
		}

		if r.RunnersUp != nil {
			b, err := json.Marshal(r.RunnersUp)
			if err != nil {
				return columnar.Table{}, skerr.Wrapf(err, "partition: serializing runners_up")
			}
			s := string(b)
			table.Columns["runners_up"] = append(table.Columns["runners_up"], s)
		} else {
			table.Columns["runners_up"] = append(table.Columns["runners_up"], nil)
		}

		table.Columns["sample"] = appendStrPtr(table.Columns["sample"], r.Sample)

		if r.Rewards != nil {
			b, err := json.Marshal(r.Rewards)
			if err != nil {
				return columnar.Table{}, skerr.Wrapf(err, "partition: serializing rewards")
			}
			s := string(b)
			table.Columns["rewards"] = append(table.Columns["rewards"], s)
			table.Columns["reward"] = append(table.Columns["reward"], r.Reward)
		} else {
			table.Columns["rewards"] = append(table.Columns["rewards"], nil)
			table.Columns["reward"] = append(table.Columns["reward"], nil)
		}

		table.NumRows++
	}
	return table, nil
}

func appendStrPtr(col []interface{}, s *string) []interface{} {
	if s == nil {
		return append(col, nil)
	}
	return append(col, *s)
}

func tableToRows(table columnar.Table) ([]*record.RDR, error) {
	rows := make([]*record.RDR, table.Len())
	for i := 0; i < table.Len(); i++ {
		decisionIDVal, _ := table.Columns["decision_id"][i].(string)
		decisionID, err := kid.Parse(decisionIDVal)
		if err != nil {
			return nil, skerr.Wrapf(err, "partition: row %d has invalid decision_id %q", i, decisionIDVal)
		}

		r := &record.RDR{DecisionID: decisionID}

		if v := table.Columns["timestamp"][i]; v != nil {
			t := time.Unix(v.(int64), 0).UTC()
			r.Timestamp = &t
		}
		if v := table.Columns["variant"][i]; v != nil {
			s := v.(string)
			r.Variant = &s
		}
		if v := table.Columns["givens"][i]; v != nil {
			s := v.(string)
			r.Givens = &s
		}
		if v := table.Columns["count"][i]; v != nil {
			c := v.(int64)
			r.Count = &c
		}
		if v := table.Columns["runners_up"][i]; v != nil {
			var runnersUp []string
			if err := json.Unmarshal([]byte(v.(string)), &runnersUp); err != nil {
				return nil, skerr.Wrapf(err, "partition: row %d has invalid runners_up", i)
			}
			r.RunnersUp = runnersUp
		}
		if v := table.Columns["sample"][i]; v != nil {
			s := v.(string)
			r.Sample = &s
		}
		if v := table.Columns["rewards"][i]; v != nil {
			var rewards map[string]float64
			if err := json.Unmarshal([]byte(v.(string)), &rewards); err != nil {
				return nil, skerr.Wrapf(err, "partition: row %d has invalid rewards", i)
			}
			r.Rewards = rewards
		}
		if v := table.Columns["reward"][i]; v != nil {
			r.Reward = v.(float64)
		}

		rows[i] = r
	}
	return rows, nil
}

// Repair scans every partition key for model starting at the minimum
// decision_id touched by partitions this ingest pass, detects key ranges
// whose intervals overlap, and reconciles each overlapping set: load,
// merge via a fresh keyless RDP, write, then batch-delete the originals.
// Repair is single-threaded per model to bound memory, and is itself
// idempotent.
func Repair(ctx context.Context, model string, partitions []*RDP, deps Deps) error {
	minID, ok := minDecisionID(partitions)
	if !ok {
		return nil
	}

	keys, err := deps.Store.List(ctx, listingPrefix(model), Prefix(model, minID))
	if err != nil {
		return skerr.Wrapf(err, "repair: listing partitions for model %q", model)
	}
	if len(keys) <= 1 {
		return nil
	}

	components, err := groupOverlappingKeys(keys)
	if err != nil {
		return skerr.Wrapf(err, "repair: parsing partition keys for model %q", model)
	}

	for _, component := range components {
		if len(component) < 2 {
			continue
		}

		sklog.Infof("repair: found %d overlapping key(s) for model %q", len(component), model)
		deps.Stats.IncOverlapComponentSize(len(component))

		var rows []*record.RDR
		for _, key := range component {
			data, err := deps.Store.Read(ctx, key)
			if err != nil {
				return skerr.Wrapf(err, "repair: reading %q", key)
			}
			deps.Stats.IncObjectStoreRequests("train", "get")

			table, err := deps.Codec.Decode(data)
			if err != nil {
				return skerr.Wrapf(err, "repair: decoding %q", key)
			}
			keyRows, err := tableToRows(table)
			if err != nil {
				return skerr.Wrapf(err, "repair: parsing rows from %q", key)
			}
			rows = append(rows, keyRows...)
		}

		rdp := &RDP{Model: model, Rows: rows}
		if err := rdp.Process(ctx, deps); err != nil {
			return skerr.Wrapf(err, "repair: reprocessing overlapping keys for model %q", model)
		}

		if err := deps.Store.DeleteBatch(ctx, component); err != nil {
			return skerr.Wrapf(err, "repair: deleting superseded keys for model %q", model)
		}
		deps.Stats.IncObjectStoreRequests("train", "delete")
	}

	return nil
}

func minDecisionID(partitions []*RDP) (kid.ID, bool) {
	var min kid.ID
	found := false
	for _, p := range partitions {
		if !p.sorted {
			continue
		}
		if !found || p.minID < min {
			min = p.minID
			found = true
		}
	}
	return min, found
}

type keyInterval struct {
	key          string
	minTS, maxTS string
}

func parseKeyInterval(key string) (keyInterval, error) {
	base := key
	if idx := strings.LastIndexByte(key, '/'); idx >= 0 {
		base = key[idx+1:]
	}
	parts := strings.SplitN(base, "-", 3)
	if len(parts) < 2 {
		return keyInterval{}, skerr.Fmt("repair: malformed partition key %q", key)
	}
	return keyInterval{key: key, maxTS: parts[0], minTS: parts[1]}, nil
}

// groupOverlappingKeys computes the connected components of the overlap
// graph over keys' (min_ts, max_ts) intervals: two intervals overlap iff
// max(a.min,b.min) <= min(a.max,b.max). Components are found via the
// standard sort-by-lower-bound sweep, exploiting the fact that the
// timestamps are fixed-width and therefore lexicographically ordered the
// same as chronologically.
func groupOverlappingKeys(keys []string) ([][]string, error) {
	intervals := make([]keyInterval, 0, len(keys))
	for _, k := range keys {
		iv, err := parseKeyInterval(k)
		if err != nil {
			return nil, err
		}
		intervals = append(intervals, iv)
	}

	sort.Slice(intervals, func(i, j int) bool {
		return intervals[i].minTS < intervals[j].minTS
	})

	type component struct {
		minTS, maxTS string
		keys         []string
	}

	var components []component
	for _, iv := range intervals {
		if len(components) == 0 {
			components = append(components, component{minTS: iv.minTS, maxTS: iv.maxTS, keys: []string{iv.key}})
			continue
		}
		last := &components[len(components)-1]
		lo := maxString(last.minTS, iv.minTS)
		hi := minString(last.maxTS, iv.maxTS)
		if lo <= hi {
			last.keys = append(last.keys, iv.key)
			if iv.minTS < last.minTS {
				last.minTS = iv.minTS
			}
			if iv.maxTS > last.maxTS {
				last.maxTS = iv.maxTS
			}
		} else {
			components = append(components, component{minTS: iv.minTS, maxTS: iv.maxTS, keys: []string{iv.key}})
		}
	}

	result := make([][]string, len(components))
	for i, c := range components {
		result[i] = c.keys
	}
	return result, nil
}

func maxString(a, b string) string {
	if a > b {
		return a
	}
	return b
}

func minString(a, b string) string {
	if a < b {
		return a
	}
	return b
}
