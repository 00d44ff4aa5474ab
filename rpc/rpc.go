// Package rpc defines the wire types exchanged between a client handle and
// the broker: JSON requests and responses addressed by dot-separated topic
// strings, and the error payload used to carry service failures back to the
// caller unchanged.
package rpc

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Request is a single RPC sent to a broker service.
type Request struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response carries either a result payload or an error.
type Response struct {
	Payload json.RawMessage `json:"payload,omitempty"`
	Err     *Error          `json:"error,omitempty"`
}

// Error codes follow errno conventions so services can signal the usual
// failure classes without inventing a taxonomy per service.
const (
	ErrCodeInvalid  = 22 // EINVAL
	ErrCodeNotFound = 2  // ENOENT
	ErrCodeExist    = 17 // EEXIST
	ErrCodePerm     = 1  // EPERM
	ErrCodeInternal = 5  // EIO
	ErrCodeNoSys    = 38 // ENOSYS: no service registered for topic
)

// Error is a service failure delivered to the requesting client verbatim.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Errorf builds an *Error with a formatted message.
func Errorf(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsNotFound reports whether err is an RPC error with ErrCodeNotFound.
func IsNotFound(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Code == ErrCodeNotFound
}

// ValidTopic reports whether topic is a non-empty sequence of dot-separated
// tokens, e.g. "kvs.get" or "job-state".
func ValidTopic(topic string) bool {
	if topic == "" {
		return false
	}
	for _, tok := range strings.Split(topic, ".") {
		if tok == "" {
			return false
		}
	}
	return true
}

// TopicMatch reports whether a published topic matches a subscription
// pattern. A pattern matches itself and, on dot boundaries, any topic it
// prefixes; the empty pattern matches everything.
func TopicMatch(pattern, topic string) bool {
	if pattern == "" {
		return true
	}
	if topic == pattern {
		return true
	}
	return strings.HasPrefix(topic, pattern+".")
}
