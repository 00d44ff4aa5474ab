package rpc

// Core topics every broker serves regardless of which services are
// registered.
const (
	TopicHello = "hello"
	TopicPing  = "ping"
	TopicStats = "stats"
)

// HelloResponse greets a connecting handle.
type HelloResponse struct {
	Version string `json:"version"`
	RootSeq uint64 `json:"rootseq"`
	Topics  int    `json:"topics"`
}

// PingRequest echoes its payload back, tagged with the broker's event
// sequence so callers can observe liveness and ordering.
type PingRequest struct {
	Payload string `json:"payload,omitempty"`
}

type PingResponse struct {
	Payload string `json:"payload,omitempty"`
	Seq     uint64 `json:"seq"`
}

// StatsResponse is a broker-wide snapshot of counters for diagnostics.
type StatsResponse struct {
	RootSeq  uint64 `json:"rootseq"`
	EventSeq uint64 `json:"eventseq"`
	Jobs     int    `json:"jobs"`

	// Backing store counters.
	StoreDiskBytes     int64 `json:"store_disk_bytes"`
	StoreMemTableBytes int64 `json:"store_memtable_bytes"`
	StoreFlushes       int64 `json:"store_flushes"`
	StoreCompactions   int64 `json:"store_compactions"`
}
