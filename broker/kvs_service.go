package broker

import (
	"context"
	"encoding/json"

	"rmcore/kvs"
	"rmcore/rpc"
)

func (b *Broker) registerKVSService() error {
	register := func(topic string, h Handler) error { return b.registry.Register(topic, h) }

	if err := register(kvs.TopicGet, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req kvs.GetRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		value, err := b.store.Get(ctx, req.Key)
		if err != nil {
			return nil, err
		}
		return kvs.GetResponse{Value: value}, nil
	}); err != nil {
		return err
	}

	if err := register(kvs.TopicPut, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req kvs.PutRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return nil, b.store.Put(ctx, req.Key, req.Value)
	}); err != nil {
		return err
	}

	if err := register(kvs.TopicUnlink, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req kvs.UnlinkRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return nil, b.store.Unlink(ctx, req.Key)
	}); err != nil {
		return err
	}

	if err := register(kvs.TopicDir, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req kvs.DirRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		names, err := b.store.Dir(ctx, req.Key)
		if err != nil {
			return nil, err
		}
		return kvs.DirResponse{Names: names}, nil
	}); err != nil {
		return err
	}

	if err := register(kvs.TopicRootSeq, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return kvs.RootSeqResponse{Seq: b.store.RootSeq()}, nil
	}); err != nil {
		return err
	}

	if err := register(kvs.TopicCheckpointGet, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req kvs.CheckpointRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return b.store.GetCheckpoint(ctx, req.Name)
	}); err != nil {
		return err
	}

	return register(kvs.TopicCheckpointPut, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req kvs.CheckpointRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return b.store.PutCheckpoint(ctx, req.Name)
	})
}

// decode unmarshals an RPC payload, mapping malformed JSON to EINVAL.
func decode(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return rpc.Errorf(rpc.ErrCodeInvalid, "missing request payload")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return rpc.Errorf(rpc.ErrCodeInvalid, "malformed request: %v", err)
	}
	return nil
}
