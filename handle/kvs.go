package handle

import (
	"context"

	"rmcore/kvs"
)

// KVSClient issues key-value service RPCs through a Handle.
type KVSClient struct {
	h *Handle
}

// Get returns the value stored under key.
func (c *KVSClient) Get(ctx context.Context, key string) ([]byte, error) {
	var resp kvs.GetResponse
	if err := c.h.RPC(ctx, kvs.TopicGet, kvs.GetRequest{Key: key}, &resp); err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// Put stores value under key.
func (c *KVSClient) Put(ctx context.Context, key string, value []byte) error {
	return c.h.RPC(ctx, kvs.TopicPut, kvs.PutRequest{Key: key, Value: value}, nil)
}

// Unlink removes key and everything below it.
func (c *KVSClient) Unlink(ctx context.Context, key string) error {
	return c.h.RPC(ctx, kvs.TopicUnlink, kvs.UnlinkRequest{Key: key}, nil)
}

// Dir lists the child names under key.
func (c *KVSClient) Dir(ctx context.Context, key string) ([]string, error) {
	var resp kvs.DirResponse
	if err := c.h.RPC(ctx, kvs.TopicDir, kvs.DirRequest{Key: key}, &resp); err != nil {
		return nil, err
	}
	return resp.Names, nil
}

// RootSeq returns the namespace's current root sequence number.
func (c *KVSClient) RootSeq(ctx context.Context) (uint64, error) {
	var resp kvs.RootSeqResponse
	if err := c.h.RPC(ctx, kvs.TopicRootSeq, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Seq, nil
}

// Checkpoint asks the broker to write a named checkpoint now.
func (c *KVSClient) Checkpoint(ctx context.Context, name string) (kvs.Checkpoint, error) {
	var cp kvs.Checkpoint
	err := c.h.RPC(ctx, kvs.TopicCheckpointPut, kvs.CheckpointRequest{Name: name}, &cp)
	return cp, err
}

// GetCheckpoint fetches a previously written checkpoint.
func (c *KVSClient) GetCheckpoint(ctx context.Context, name string) (kvs.Checkpoint, error) {
	var cp kvs.Checkpoint
	err := c.h.RPC(ctx, kvs.TopicCheckpointGet, kvs.CheckpointRequest{Name: name}, &cp)
	return cp, err
}
