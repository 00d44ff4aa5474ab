package broker

import (
	"context"
	"encoding/json"

	"rmcore/rpc"
)

func (b *Broker) registerBuiltin() error {
	if err := b.registry.Register(rpc.TopicHello, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return rpc.HelloResponse{
			Version: Version,
			RootSeq: b.store.RootSeq(),
			Topics:  len(b.registry.Topics()),
		}, nil
	}); err != nil {
		return err
	}

	if err := b.registry.Register(rpc.TopicPing, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req rpc.PingRequest
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, rpc.Errorf(rpc.ErrCodeInvalid, "malformed ping: %v", err)
			}
		}
		return rpc.PingResponse{
			Payload: req.Payload,
			Seq:     b.dispatcher.LastSeq(),
		}, nil
	}); err != nil {
		return err
	}

	return b.registry.Register(rpc.TopicStats, func(ctx context.Context, _ json.RawMessage) (any, error) {
		kvStats := b.kv.Stats()
		return rpc.StatsResponse{
			RootSeq:            b.store.RootSeq(),
			EventSeq:           b.dispatcher.LastSeq(),
			Jobs:               len(b.jobman.List(ctx)),
			StoreDiskBytes:     kvStats.ApproximateSize,
			StoreMemTableBytes: kvStats.MemTableSize,
			StoreFlushes:       kvStats.FlushCount,
			StoreCompactions:   kvStats.CompactionCount,
		}, nil
	})
}
