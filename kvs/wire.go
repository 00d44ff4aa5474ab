package kvs

// RPC topics served by the KVS service.
const (
	TopicGet           = "kvs.get"
	TopicPut           = "kvs.put"
	TopicUnlink        = "kvs.unlink"
	TopicDir           = "kvs.dir"
	TopicRootSeq       = "kvs.rootseq"
	TopicCheckpointGet = "kvs.checkpoint-get"
	TopicCheckpointPut = "kvs.checkpoint-put"
)

type GetRequest struct {
	Key string `json:"key"`
}

type GetResponse struct {
	Value []byte `json:"value"`
}

type PutRequest struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

type UnlinkRequest struct {
	Key string `json:"key"`
}

type DirRequest struct {
	Key string `json:"key"`
}

type DirResponse struct {
	Names []string `json:"names"`
}

type RootSeqResponse struct {
	Seq uint64 `json:"seq"`
}

type CheckpointRequest struct {
	Name string `json:"name"`
}
