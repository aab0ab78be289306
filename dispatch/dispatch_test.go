package dispatch

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/batch"
	"github.com/aws/aws-sdk-go/service/batch/batchiface"
	"github.com/stretchr/testify/require"

	"github.com/improve-ai/tracker/config"
)

// fakeBatchClient embeds batchiface.BatchAPI so it satisfies the
// interface without implementing every method; only SubmitJobWithContext
// is overridden, since that is all BatchDispatcher calls.
type fakeBatchClient struct {
	batchiface.BatchAPI
	input  *batch.SubmitJobInput
	jobArn string
	err    error
}

func (f *fakeBatchClient) SubmitJobWithContext(ctx aws.Context, input *batch.SubmitJobInput, opts ...request.Option) (*batch.SubmitJobOutput, error) {
	f.input = input
	if f.err != nil {
		return nil, f.err
	}
	return &batch.SubmitJobOutput{JobArn: aws.String(f.jobArn)}, nil
}

func TestDispatchRewardAssignment_SubmitsArrayJob(t *testing.T) {
	stub := &fakeBatchClient{jobArn: "arn:aws:batch:job/abc123"}
	d := &BatchDispatcher{
		Client:        stub,
		Service:       "improveai",
		Stage:         "prod",
		JobQueue:      "queue",
		JobDefinition: "jobdef",
	}
	cfg := &config.Config{TrainBucket: "train-bucket", RewardAssignmentWorkerCount: 3}

	arn, err := d.DispatchRewardAssignment(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, "arn:aws:batch:job/abc123", arn)

	require.NotNil(t, stub.input)
	require.Equal(t, "improveai-prod-assign-rewards", aws.StringValue(stub.input.JobName))
	require.Equal(t, "queue", aws.StringValue(stub.input.JobQueue))
	require.Equal(t, "jobdef", aws.StringValue(stub.input.JobDefinition))
	require.EqualValues(t, 3, aws.Int64Value(stub.input.ArrayProperties.Size))

	env := map[string]string{}
	for _, kv := range stub.input.ContainerOverrides.Environment {
		env[aws.StringValue(kv.Name)] = aws.StringValue(kv.Value)
	}
	require.Equal(t, "3", env["REWARD_ASSIGNMENT_WORKER_COUNT"])
	require.Equal(t, "train-bucket", env["TRAIN_BUCKET"])
}

func TestDispatchRewardAssignment_InvalidWorkerCount_ReturnsError(t *testing.T) {
	d := &BatchDispatcher{Client: &fakeBatchClient{}}
	_, err := d.DispatchRewardAssignment(context.Background(), &config.Config{RewardAssignmentWorkerCount: 0})
	require.Error(t, err)
}

func TestDispatchRewardAssignment_SubmitError_IsWrapped(t *testing.T) {
	stub := &fakeBatchClient{err: awserr.New("ThrottlingException", "slow down", nil)}
	d := &BatchDispatcher{Client: stub}
	_, err := d.DispatchRewardAssignment(context.Background(), &config.Config{RewardAssignmentWorkerCount: 1, TrainBucket: "b"})
	require.Error(t, err)
	var aerr awserr.Error
	require.ErrorAs(t, err, &aerr)
}
