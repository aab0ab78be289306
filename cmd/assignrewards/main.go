// Command assignrewards is the dispatch-side entry point: it submits the
// reward-assignment fleet as a single AWS Batch array job and exits.
package main

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/batch"

	"github.com/improve-ai/tracker/config"
	"github.com/improve-ai/tracker/dispatch"
	"github.com/improve-ai/tracker/go/skerr"
	"github.com/improve-ai/tracker/go/sklog"
)

func main() {
	if err := run(); err != nil {
		sklog.Errorf("assignrewards: %s", err)
		os.Exit(1)
	}
}

func run() error {
	get := func(key string) (string, bool) {
		v, ok := os.LookupEnv(key)
		return v, ok
	}

	cfg, err := config.FromEnv(get)
	if err != nil {
		return skerr.Wrapf(err, "assignrewards: loading configuration")
	}

	sess, err := session.NewSession()
	if err != nil {
		return skerr.Wrapf(err, "assignrewards: creating aws session")
	}

	d := &dispatch.BatchDispatcher{
		Client:        batch.New(sess),
		Service:       envOrEmpty(get, "SERVICE"),
		Stage:         envOrEmpty(get, "STAGE"),
		JobQueue:      envOrEmpty(get, "JOB_QUEUE"),
		JobDefinition: envOrEmpty(get, "JOB_DEFINITION"),
	}

	jobARN, err := d.DispatchRewardAssignment(context.Background(), cfg)
	if err != nil {
		return skerr.Wrapf(err, "assignrewards: dispatching")
	}

	sklog.Infof("assignrewards: submitted batch job %s", jobARN)
	return nil
}

func envOrEmpty(get config.Loader, key string) string {
	v, _ := get(key)
	return v
}
