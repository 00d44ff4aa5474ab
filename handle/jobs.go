package handle

import (
	"context"

	"rmcore/jobs"
)

// JobClient issues job service RPCs through a Handle.
type JobClient struct {
	h *Handle
}

// Submit sends spec to the job manager and returns the job's state after
// its immediate transitions.
func (c *JobClient) Submit(ctx context.Context, spec jobs.Spec) (jobs.Info, error) {
	var info jobs.Info
	err := c.h.RPC(ctx, jobs.TopicSubmit, jobs.SubmitRequest{Spec: spec}, &info)
	return info, err
}

// Cancel raises a cancel exception on the job.
func (c *JobClient) Cancel(ctx context.Context, id, reason string) error {
	return c.h.RPC(ctx, jobs.TopicCancel, jobs.CancelRequest{ID: id, Reason: reason}, nil)
}

// Finish marks a running job complete with the given status.
func (c *JobClient) Finish(ctx context.Context, id string, status int) error {
	return c.h.RPC(ctx, jobs.TopicFinish, jobs.FinishRequest{ID: id, Status: status}, nil)
}

// SetPriority reorders a queued job.
func (c *JobClient) SetPriority(ctx context.Context, id string, priority int) error {
	return c.h.RPC(ctx, jobs.TopicPriority, jobs.PriorityRequest{ID: id, Priority: priority}, nil)
}

// List returns all known jobs, most recently submitted last.
func (c *JobClient) List(ctx context.Context) ([]jobs.Info, error) {
	var resp jobs.ListResponse
	if err := c.h.RPC(ctx, jobs.TopicList, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// Lookup returns a job's snapshot and full eventlog.
func (c *JobClient) Lookup(ctx context.Context, id string) (jobs.Info, []jobs.LogEntry, error) {
	var resp jobs.LookupResponse
	if err := c.h.RPC(ctx, jobs.TopicLookup, jobs.LookupRequest{ID: id}, &resp); err != nil {
		return jobs.Info{}, nil, err
	}
	return resp.Info, resp.Eventlog, nil
}
