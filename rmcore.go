// Package rmcore is the front door of the resource manager client. It
// re-exports the names most callers need so that
//
//	h := rmcore.New(rmcore.WithURI(uri))
//
// is all it takes to talk to a broker, without importing the subpackages
// individually. New is deliberately free of side effects: it forwards its
// options to the handle constructor unchanged and performs no I/O, so
// importing and constructing stays cheap for programs that may never reach
// the broker at all. The connection happens on the first operation.
package rmcore

import (
	"rmcore/events"
	"rmcore/handle"
	"rmcore/jobs"
	"rmcore/kvs"
	"rmcore/rpc"
)

// Handle is a lazily connected broker client. See the handle package for
// the full API.
type Handle = handle.Handle

// Option configures a Handle at construction time.
type Option = handle.Option

// Config collects the settings a Handle connects with.
type Config = handle.Config

// Conn is an established broker connection.
type Conn = handle.Conn

// Connector establishes a Conn; tests substitute their own.
type Connector = handle.Connector

// Event is one message from the broker's event stream.
type Event = events.Event

// JobSpec describes a job at submission.
type JobSpec = jobs.Spec

// JobInfo is the externally visible snapshot of a job.
type JobInfo = jobs.Info

// Checkpoint is a named, durable reference to a committed KVS root.
type Checkpoint = kvs.Checkpoint

// Error is a service failure delivered with an errno-style code.
type Error = rpc.Error

// Connection defaults, from the handle package.
const (
	DefaultURI     = handle.DefaultURI
	DefaultTimeout = handle.DefaultTimeout
)

// New builds a Handle without connecting. It forwards opts to handle.New
// verbatim; the first operation on the returned Handle establishes the
// connection.
func New(opts ...Option) *Handle {
	return handle.New(opts...)
}

// Handle construction options, from the handle package.
var (
	WithURI       = handle.WithURI
	WithTimeout   = handle.WithTimeout
	WithConnector = handle.WithConnector
)

// IsNotFound reports whether err is a not-found service error.
var IsNotFound = rpc.IsNotFound

// exportedNames enumerates this package's public identifiers. It is the
// package's declared surface; a test parses the source and fails if the two
// drift apart.
var exportedNames = []string{
	"Handle",
	"Option",
	"Config",
	"Conn",
	"Connector",
	"Event",
	"JobSpec",
	"JobInfo",
	"Checkpoint",
	"Error",
	"DefaultURI",
	"DefaultTimeout",
	"New",
	"WithURI",
	"WithTimeout",
	"WithConnector",
	"IsNotFound",
}
