// Package config loads the ingest engine's process configuration from the
// environment, parsed into a typed struct before constructing the
// top-level worker.
package config

import (
	"strconv"

	"github.com/improve-ai/tracker/go/skerr"
)

// Config is the typed form of the environment variables the ingest worker
// and job dispatcher read at process start.
type Config struct {
	// TrainBucket is the target bucket for rewarded-decision partitions.
	TrainBucket string
	// FirehoseBucket is the source bucket for incoming firehose files.
	FirehoseBucket string
	// IncomingFirehoseKey is the single input file this process instance
	// should process.
	IncomingFirehoseKey string
	// ThreadWorkerCount bounds intra-process RDP parallelism.
	ThreadWorkerCount int
	// RewardAssignmentWorkerCount sizes the reward-assignment array job.
	RewardAssignmentWorkerCount int
	// BatchJobAttempt is the 1-based attempt counter driving backoff.
	BatchJobAttempt int
	// ParquetFileMaxDecisionRecords caps rows per output partition chunk.
	ParquetFileMaxDecisionRecords int
	// Debug enables verbose tracing.
	Debug bool
}

// Loader reads environment variables, satisfied by os.LookupEnv in production
// and a map in tests.
type Loader func(key string) (string, bool)

// FromEnv loads a Config using get to resolve each variable. Required
// variables (TRAIN_BUCKET, FIREHOSE_BUCKET, INCOMING_FIREHOSE_S3_KEY) must
// be present and non-empty; the rest fall back to sane defaults.
func FromEnv(get Loader) (*Config, error) {
	c := &Config{}

	var ok bool
	if c.TrainBucket, ok = get("TRAIN_BUCKET"); !ok || c.TrainBucket == "" {
		return nil, skerr.Fmt("config: TRAIN_BUCKET is required")
	}
	if c.FirehoseBucket, ok = get("FIREHOSE_BUCKET"); !ok || c.FirehoseBucket == "" {
		return nil, skerr.Fmt("config: FIREHOSE_BUCKET is required")
	}
	if c.IncomingFirehoseKey, ok = get("INCOMING_FIREHOSE_S3_KEY"); !ok || c.IncomingFirehoseKey == "" {
		return nil, skerr.Fmt("config: INCOMING_FIREHOSE_S3_KEY is required")
	}

	var err error
	if c.ThreadWorkerCount, err = intVar(get, "THREAD_WORKER_COUNT", 4); err != nil {
		return nil, err
	}
	if c.RewardAssignmentWorkerCount, err = intVar(get, "REWARD_ASSIGNMENT_WORKER_COUNT", 1); err != nil {
		return nil, err
	}
	if c.BatchJobAttempt, err = intVar(get, "BATCH_JOB_ATTEMPT", 1); err != nil {
		return nil, err
	}
	if c.ParquetFileMaxDecisionRecords, err = intVar(get, "PARQUET_FILE_MAX_DECISION_RECORDS", 50000); err != nil {
		return nil, err
	}

	if debug, ok := get("DEBUG"); ok && debug != "" {
		c.Debug = true
	}

	return c, nil
}

func intVar(get Loader, name string, def int) (int, error) {
	v, ok := get(name)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, skerr.Wrapf(err, "parsing %s=%q as an integer", name, v)
	}
	return n, nil
}
