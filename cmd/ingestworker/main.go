// Command ingestworker is the entry point for one array-job index of the
// ingest fleet: it loads its configuration from the environment, waits out
// any retry backoff owed to its attempt number, then processes exactly one
// firehose file end to end (load, partition, merge, repair).
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/improve-ai/tracker/config"
	"github.com/improve-ai/tracker/go/columnar/arrowcodec"
	"github.com/improve-ai/tracker/go/metrics2"
	"github.com/improve-ai/tracker/go/objectstore/s3store"
	"github.com/improve-ai/tracker/go/skerr"
	"github.com/improve-ai/tracker/go/sklog"
	"github.com/improve-ai/tracker/stats"
	"github.com/improve-ai/tracker/worker"
)

func main() {
	if err := run(); err != nil {
		sklog.Errorf("ingestworker: %s", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv(func(key string) (string, bool) {
		v, ok := os.LookupEnv(key)
		return v, ok
	})
	if err != nil {
		return skerr.Wrapf(err, "ingestworker: loading configuration")
	}

	if wait := worker.Backoff(cfg.BatchJobAttempt); wait > 0 {
		sklog.Infof("ingestworker: backing off %s before attempt %d", wait, cfg.BatchJobAttempt)
		time.Sleep(wait)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = cfg.ThreadWorkerCount
	sess, err := session.NewSession(&aws.Config{HTTPClient: &http.Client{Transport: transport}})
	if err != nil {
		return skerr.Wrapf(err, "ingestworker: creating aws session")
	}
	s3Client := s3.New(sess)

	w := &worker.Worker{
		FirehoseStore: s3store.New(s3Client, cfg.FirehoseBucket),
		TrainStore:    s3store.New(s3Client, cfg.TrainBucket),
		Codec:         arrowcodec.New(),
		Stats:         stats.New(metrics2.New(prometheus.DefaultRegisterer)),
		Cfg:           cfg,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	go func() {
		<-ctx.Done()
		sklog.Warningf("ingestworker: termination signal received, finishing in-flight partitions")
		w.Cancelled.Store(true)
	}()

	if err := w.Run(context.Background()); err != nil {
		return skerr.Wrapf(err, "ingestworker: run failed")
	}
	return nil
}
