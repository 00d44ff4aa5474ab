package broker

import (
	"context"
	"encoding/json"

	"rmcore/jobs"
)

func (b *Broker) registerJobService() error {
	register := func(topic string, h Handler) error { return b.registry.Register(topic, h) }

	if err := register(jobs.TopicSubmit, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req jobs.SubmitRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return b.jobman.Submit(ctx, req.Spec)
	}); err != nil {
		return err
	}

	if err := register(jobs.TopicCancel, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req jobs.CancelRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return nil, b.jobman.Cancel(ctx, req.ID, req.Reason)
	}); err != nil {
		return err
	}

	if err := register(jobs.TopicFinish, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req jobs.FinishRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return nil, b.jobman.Finish(ctx, req.ID, req.Status)
	}); err != nil {
		return err
	}

	if err := register(jobs.TopicPriority, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req jobs.PriorityRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return nil, b.jobman.SetPriority(ctx, req.ID, req.Priority)
	}); err != nil {
		return err
	}

	if err := register(jobs.TopicList, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return jobs.ListResponse{Jobs: b.jobman.List(ctx)}, nil
	}); err != nil {
		return err
	}

	return register(jobs.TopicLookup, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req jobs.LookupRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		info, eventlog, err := b.jobman.Lookup(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		return jobs.LookupResponse{Info: info, Eventlog: eventlog}, nil
	})
}
