// Package dispatch submits the reward-assignment fleet as a single AWS
// Batch array job, one array index per worker, with an
// arrayProperties.size of REWARD_ASSIGNMENT_WORKER_COUNT.
package dispatch

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/batch"
	"github.com/aws/aws-sdk-go/service/batch/batchiface"

	"github.com/improve-ai/tracker/config"
	"github.com/improve-ai/tracker/go/skerr"
)

// JobDispatcher launches the reward-assignment fleet as an array job.
type JobDispatcher interface {
	DispatchRewardAssignment(ctx context.Context, cfg *config.Config) (jobARN string, err error)
}

// BatchDispatcher adapts AWS Batch to JobDispatcher. Client is the
// batchiface.BatchAPI interface rather than the concrete *batch.Batch so
// tests can substitute a stub.
type BatchDispatcher struct {
	Client        batchiface.BatchAPI
	Service       string
	Stage         string
	JobQueue      string
	JobDefinition string
}

var _ JobDispatcher = (*BatchDispatcher)(nil)

// DispatchRewardAssignment submits a single array job of size
// cfg.RewardAssignmentWorkerCount, one array index per worker. Only the
// fleet-wide settings (REWARD_ASSIGNMENT_WORKER_COUNT and TRAIN_BUCKET)
// are passed as container environment overrides; BATCH_JOB_ATTEMPT, which
// config.FromEnv reads for backoff, is not set here.
func (d *BatchDispatcher) DispatchRewardAssignment(ctx context.Context, cfg *config.Config) (string, error) {
	if cfg.RewardAssignmentWorkerCount < 1 {
		return "", skerr.Fmt("dispatch: reward assignment worker count must be at least 1, got %d", cfg.RewardAssignmentWorkerCount)
	}

	input := &batch.SubmitJobInput{
		JobName:       aws.String(fmt.Sprintf("%s-%s-assign-rewards", d.Service, d.Stage)),
		JobQueue:      aws.String(d.JobQueue),
		JobDefinition: aws.String(d.JobDefinition),
		ContainerOverrides: &batch.ContainerOverrides{
			Environment: []*batch.KeyValuePair{
				{Name: aws.String("REWARD_ASSIGNMENT_WORKER_COUNT"), Value: aws.String(fmt.Sprintf("%d", cfg.RewardAssignmentWorkerCount))},
				{Name: aws.String("TRAIN_BUCKET"), Value: aws.String(cfg.TrainBucket)},
			},
		},
		ArrayProperties: &batch.ArrayProperties{
			Size: aws.Int64(int64(cfg.RewardAssignmentWorkerCount)),
		},
	}

	out, err := d.Client.SubmitJobWithContext(ctx, input)
	if err != nil {
		return "", skerr.Wrapf(err, "dispatch: submitting reward assignment batch job")
	}
	return aws.StringValue(out.JobArn), nil
}
