package jobs

// RPC topics served by the job service.
const (
	TopicSubmit   = "job.submit"
	TopicCancel   = "job.cancel"
	TopicFinish   = "job.finish"
	TopicPriority = "job.priority"
	TopicList     = "job.list"
	TopicLookup   = "job.lookup"
)

type SubmitRequest struct {
	Spec Spec `json:"spec"`
}

type CancelRequest struct {
	ID     string `json:"id"`
	Reason string `json:"reason,omitempty"`
}

type FinishRequest struct {
	ID     string `json:"id"`
	Status int    `json:"status"`
}

type PriorityRequest struct {
	ID       string `json:"id"`
	Priority int    `json:"priority"`
}

type ListResponse struct {
	Jobs []Info `json:"jobs"`
}

type LookupRequest struct {
	ID string `json:"id"`
}

type LookupResponse struct {
	Info     Info       `json:"info"`
	Eventlog []LogEntry `json:"eventlog"`
}
