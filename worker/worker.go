// Package worker implements the intra-process ingest loop: load a
// firehose file, plan partitions, process them across a bounded pool,
// then repair each touched model serially. It also implements the
// fleet-level file-sharding rule and the process-level retry backoff.
package worker

import (
	"context"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/improve-ai/tracker/config"
	"github.com/improve-ai/tracker/firehose"
	"github.com/improve-ai/tracker/go/columnar"
	"github.com/improve-ai/tracker/go/objectstore"
	"github.com/improve-ai/tracker/go/skerr"
	"github.com/improve-ai/tracker/go/sklog"
	"github.com/improve-ai/tracker/partition"
	"github.com/improve-ai/tracker/stats"
)

// Worker runs one invocation of the ingest engine over a single input
// file: load, plan, process, repair.
type Worker struct {
	FirehoseStore objectstore.Client
	TrainStore    objectstore.Client
	Codec         columnar.Codec
	Stats         *stats.Stats
	Cfg           *config.Config

	// Cancelled is flipped by a termination-signal handler; every RDP
	// checks it cooperatively at its own entry.
	Cancelled atomic.Bool
}

func (w *Worker) deps() partition.Deps {
	return partition.Deps{
		Store:          w.TrainStore,
		Codec:          w.Codec,
		Stats:          w.Stats,
		MaxRowsPerFile: w.Cfg.ParquetFileMaxDecisionRecords,
		Cancelled:      &w.Cancelled,
	}
}

// Run loads Cfg.IncomingFirehoseKey, partitions its records across the
// existing store, processes every RDP concurrently (bounded by
// Cfg.ThreadWorkerCount), then repairs every touched model serially.
func (w *Worker) Run(ctx context.Context) error {
	if w.Cfg.Debug {
		sklog.Infof("worker: starting firehose ingest of %q", w.Cfg.IncomingFirehoseKey)
	}

	groups, err := firehose.LoadGroups(ctx, w.FirehoseStore, w.Cfg.IncomingFirehoseKey, w.Stats)
	if err != nil {
		return skerr.Wrapf(err, "worker: loading firehose groups")
	}

	if w.Cfg.Debug {
		sklog.Infof("worker: planning partitions for %d model group(s)", len(groups))
	}

	var allRDPs []*partition.RDP
	for _, group := range groups {
		rdps, err := partition.PartitionsFromRecordGroup(ctx, w.TrainStore, group.Model, group.Records)
		if err != nil {
			return skerr.Wrapf(err, "worker: planning partitions for model %q", group.Model)
		}
		allRDPs = append(allRDPs, rdps...)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.Cfg.ThreadWorkerCount)
	for _, rdp := range allRDPs {
		rdp := rdp
		g.Go(func() error {
			err := rdp.Process(gctx, w.deps())
			if err == partition.ErrCancelled {
				sklog.Warningf("worker: skipping RDP for model %q, termination signal received", rdp.Model)
				return nil
			}
			if err != nil {
				return skerr.Wrapf(err, "worker: processing RDP for model %q", rdp.Model)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	byModel := map[string][]*partition.RDP{}
	for _, rdp := range allRDPs {
		byModel[rdp.Model] = append(byModel[rdp.Model], rdp)
	}
	models := make([]string, 0, len(byModel))
	for m := range byModel {
		models = append(models, m)
	}
	sort.Strings(models)

	// Repair runs serially, one model at a time, to keep the largest
	// overlap component's memory footprint bounded.
	for _, model := range models {
		if err := partition.Repair(ctx, model, byModel[model], w.deps()); err != nil {
			return skerr.Wrapf(err, "worker: repairing model %q", model)
		}
	}

	overlaps := w.Stats.OverlapComponentSizes()
	if len(overlaps) > 0 && w.Cfg.Debug {
		total := 0
		for _, n := range overlaps {
			total += n
		}
		sklog.Infof("worker: %d overlapping key(s) reconciled into %d partition(s)", total, len(overlaps))
	}

	sklog.Infof("worker: finished ingest of %q", w.Cfg.IncomingFirehoseKey)
	return nil
}

// Backoff returns the jittered backoff duration for a 1-based job
// attempt, uniformly distributed over [0, 60*2^(attempt-2)) seconds, on
// top of backoff.ExponentialBackOff: an initial interval of half the
// window with a randomization factor of 1 spreads NextBackOff()
// uniformly across that range.
func Backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	windowSeconds := 60 * math.Pow(2, float64(attempt-2))
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(windowSeconds/2) * time.Second
	b.MaxInterval = time.Duration(windowSeconds) * time.Second
	b.RandomizationFactor = 1
	b.MaxElapsedTime = 0
	// NewExponentialBackOff's constructor already called Reset, which
	// latched currentInterval to the default InitialInterval; redo it now
	// that InitialInterval reflects this attempt's window.
	b.Reset()
	return b.NextBackOff()
}

// ShouldProcess reports whether the worker at workerIndex (0-based) of
// workerCount total fleet workers owns key, by hashing the leading hex
// digits of key's basename modulo workerCount. There is no inter-worker
// coordination: every worker decides independently, and the modular hash
// guarantees the fleet's assignments partition the input space exactly.
func ShouldProcess(key string, workerIndex, workerCount int) bool {
	if workerCount <= 1 {
		return true
	}

	base := key
	if idx := strings.LastIndexByte(key, '/'); idx >= 0 {
		base = key[idx+1:]
	}

	end := 0
	for end < len(base) && isHexDigit(base[end]) {
		end++
	}
	if end == 0 {
		return workerIndex == 0
	}

	hash, err := strconv.ParseUint(base[:end], 16, 64)
	if err != nil {
		return workerIndex == 0
	}

	return int(hash%uint64(workerCount)) == workerIndex
}

func isHexDigit(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}
