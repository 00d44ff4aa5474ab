package kvs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"rmcore/rpc"
	"rmcore/storage"
)

// Checkpoint is a named, durable reference to a committed root sequence.
// Brokers write one at shutdown and read it back at startup to verify the
// namespace they recovered.
type Checkpoint struct {
	Name      string    `json:"name"`
	RootSeq   uint64    `json:"rootseq"`
	Timestamp time.Time `json:"timestamp"`
}

// PutCheckpoint durably records the current root sequence under name.
func (s *Store) PutCheckpoint(ctx context.Context, name string) (Checkpoint, error) {
	if !ValidKey(name) {
		return Checkpoint{}, rpc.Errorf(rpc.ErrCodeInvalid, "invalid checkpoint name %q", name)
	}

	cp := Checkpoint{
		Name:      name,
		RootSeq:   s.RootSeq(),
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("marshal checkpoint: %w", err)
	}

	// Checkpoints must survive a crash; force a synced write.
	if err := s.kv.SetWithOptions(ctx, []byte(prefixCheckpoint+name), data, storage.SyncWriteOptions); err != nil {
		return Checkpoint{}, fmt.Errorf("checkpoint put %s: %w", name, err)
	}
	return cp, nil
}

// GetCheckpoint returns the checkpoint stored under name.
func (s *Store) GetCheckpoint(ctx context.Context, name string) (Checkpoint, error) {
	if !ValidKey(name) {
		return Checkpoint{}, rpc.Errorf(rpc.ErrCodeInvalid, "invalid checkpoint name %q", name)
	}

	raw, err := s.kv.Get(ctx, []byte(prefixCheckpoint+name))
	if storage.IsNotFound(err) {
		return Checkpoint{}, rpc.Errorf(rpc.ErrCodeNotFound, "no such checkpoint: %s", name)
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("checkpoint get %s: %w", name, err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint %s: %w", name, err)
	}
	return cp, nil
}
