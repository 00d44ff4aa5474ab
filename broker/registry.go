package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"rmcore/logger"
	"rmcore/rpc"
)

// Handler serves one RPC topic. The returned value is JSON-encoded into the
// response payload; a returned *rpc.Error reaches the client verbatim, any
// other error is reported as an internal failure.
type Handler func(ctx context.Context, payload json.RawMessage) (any, error)

// Registry maps RPC topics to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds handler to topic. Duplicate registrations fail.
func (r *Registry) Register(topic string, handler Handler) error {
	if !rpc.ValidTopic(topic) {
		return fmt.Errorf("register: invalid topic %q", topic)
	}
	if handler == nil {
		return fmt.Errorf("register %s: nil handler", topic)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[topic]; ok {
		return fmt.Errorf("register %s: already registered", topic)
	}
	r.handlers[topic] = handler
	return nil
}

// Topics returns the registered topic names.
func (r *Registry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	topics := make([]string, 0, len(r.handlers))
	for topic := range r.handlers {
		topics = append(topics, topic)
	}
	return topics
}

// Dispatch routes payload to the topic's handler and encodes the result.
func (r *Registry) Dispatch(ctx context.Context, topic string, payload json.RawMessage) (json.RawMessage, *rpc.Error) {
	if !rpc.ValidTopic(topic) {
		return nil, rpc.Errorf(rpc.ErrCodeInvalid, "invalid topic %q", topic)
	}

	r.mu.RLock()
	handler, ok := r.handlers[topic]
	r.mu.RUnlock()
	if !ok {
		return nil, rpc.Errorf(rpc.ErrCodeNoSys, "no service for topic %q", topic)
	}

	// Handlers and everything below them log with the serving topic.
	ctx = context.WithValue(ctx, logger.ServiceKey, topic)

	result, err := handler(ctx, payload)
	if err != nil {
		if rpcErr, ok := err.(*rpc.Error); ok {
			return nil, rpcErr
		}
		return nil, rpc.Errorf(rpc.ErrCodeInternal, "%v", err)
	}
	if result == nil {
		return nil, nil
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return nil, rpc.Errorf(rpc.ErrCodeInternal, "encode response: %v", err)
	}
	return encoded, nil
}
