package amqp

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dvloznov/spend-forecaster/internal/jobs"
)

// encodeJob converts a training job to a message body.
func encodeJob(job *jobs.TrainJob) ([]byte, error) {
	return json.Marshal(job)
}

// decodeJob parses a message body. Messages without an ID or category are
// rejected.
func decodeJob(data []byte) (*jobs.TrainJob, error) {
	var job jobs.TrainJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshal train job: %w", err)
	}
	if job.JobID == "" {
		return nil, errors.New("train job has no job_id")
	}
	if job.Category == "" {
		return nil, errors.New("train job has no category")
	}
	return &job, nil
}

type action int

const (
	actionAck    action = iota // done
	actionReject               // drop without requeue
	actionRetry                // republish with RetryCount+1, then ack
)

func (a action) String() string {
	switch a {
	case actionAck:
		return "ack"
	case actionReject:
		return "reject"
	case actionRetry:
		return "retry"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// outcome decides what happens to a delivery after the handler ran.
func outcome(job *jobs.TrainJob, err error) action {
	switch {
	case err == nil:
		return actionAck
	case errors.Is(err, jobs.ErrPermanent):
		return actionReject
	case job.RetryCount >= job.MaxRetries:
		return actionReject
	default:
		return actionRetry
	}
}
