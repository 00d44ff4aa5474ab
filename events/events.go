// Package events implements the broker's publish/subscribe event dispatch.
// Published events are stamped with a monotonic sequence number and fanned
// out to every subscriber whose pattern matches the event topic.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"rmcore/logger"
	"rmcore/rpc"
)

// Event is a single published event.
type Event struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Seq     uint64          `json:"seq"`
	Time    time.Time       `json:"time"`
}

// subscriber delivery buffer. A subscriber that falls this far behind has
// events dropped rather than stalling the publisher.
const subscriberBuffer = 64

type subscriber struct {
	pattern string
	ch      chan Event
}

// Dispatcher fans published events out to matching subscribers.
type Dispatcher struct {
	mu     sync.Mutex
	seq    uint64
	subs   map[int]*subscriber
	nextID int
	closed bool
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subs: make(map[int]*subscriber),
	}
}

// Publish stamps ev with the next sequence number and current time, then
// delivers it to all matching subscribers. Returns the stamped event.
func (d *Dispatcher) Publish(topic string, payload json.RawMessage) (Event, error) {
	if !rpc.ValidTopic(topic) {
		return Event{}, rpc.Errorf(rpc.ErrCodeInvalid, "invalid event topic %q", topic)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return Event{}, rpc.Errorf(rpc.ErrCodeInternal, "dispatcher closed")
	}

	d.seq++
	ev := Event{
		Topic:   topic,
		Payload: payload,
		Seq:     d.seq,
		Time:    time.Now().UTC(),
	}

	for id, sub := range d.subs {
		if !rpc.TopicMatch(sub.pattern, topic) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			logger.Warn("dropping event for slow subscriber",
				"topic", topic, "seq", ev.Seq, "subscriber", id)
		}
	}

	return ev, nil
}

// Subscribe registers a subscriber for topics matching pattern. The returned
// cancel func unregisters the subscriber and closes its channel.
func (d *Dispatcher) Subscribe(pattern string) (<-chan Event, func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.nextID
	d.nextID++
	sub := &subscriber{
		pattern: pattern,
		ch:      make(chan Event, subscriberBuffer),
	}
	if !d.closed {
		d.subs[id] = sub
	} else {
		close(sub.ch)
	}

	cancel := func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if s, ok := d.subs[id]; ok {
			delete(d.subs, id)
			close(s.ch)
		}
	}
	return sub.ch, cancel
}

// LastSeq returns the sequence number of the most recently published event.
func (d *Dispatcher) LastSeq() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seq
}

// Close unregisters all subscribers and closes their channels. Publish after
// Close fails.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.closed = true
	for id, sub := range d.subs {
		delete(d.subs, id)
		close(sub.ch)
	}
}
