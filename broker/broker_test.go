package broker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rmcore/config"
	"rmcore/events"
	"rmcore/jobs"
	"rmcore/kvs"
	"rmcore/logger"
	"rmcore/rpc"
)

func newTestBroker(t *testing.T) (*Broker, *httptest.Server) {
	t.Helper()

	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.BatchTimeout = "5ms"
	cfg.Slots = 2

	b, err := New(cfg)
	require.NoError(t, err)

	server := httptest.NewServer(b.Router())
	t.Cleanup(func() {
		server.Close()
		b.Close()
	})
	return b, server
}

// doRPC posts a request payload to /rpc/{topic} and decodes the response
// payload into out (which may be nil).
func doRPC(t *testing.T, server *httptest.Server, topic string, in, out any) *rpc.Error {
	t.Helper()

	var body bytes.Buffer
	if in != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(in))
	}

	httpResp, err := http.Post(server.URL+"/rpc/"+topic, "application/json", &body)
	require.NoError(t, err)
	defer httpResp.Body.Close()
	require.Equal(t, http.StatusOK, httpResp.StatusCode)

	var resp rpc.Response
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&resp))
	if resp.Err != nil {
		return resp.Err
	}
	if out != nil {
		require.NoError(t, json.Unmarshal(resp.Payload, out))
	}
	return nil
}

func TestBrokerHello(t *testing.T) {
	_, server := newTestBroker(t)

	var hello rpc.HelloResponse
	rpcErr := doRPC(t, server, rpc.TopicHello, nil, &hello)
	require.Nil(t, rpcErr)

	assert.Equal(t, Version, hello.Version)
	assert.Greater(t, hello.Topics, 2)
}

func TestBrokerPing(t *testing.T) {
	_, server := newTestBroker(t)

	var pong rpc.PingResponse
	rpcErr := doRPC(t, server, rpc.TopicPing, rpc.PingRequest{Payload: "marco"}, &pong)
	require.Nil(t, rpcErr)
	assert.Equal(t, "marco", pong.Payload)
}

func TestBrokerStats(t *testing.T) {
	_, server := newTestBroker(t)

	rpcErr := doRPC(t, server, kvs.TopicPut,
		kvs.PutRequest{Key: "resource.R9.state", Value: []byte("up")}, nil)
	require.Nil(t, rpcErr)

	var submitted jobs.Info
	rpcErr = doRPC(t, server, jobs.TopicSubmit,
		jobs.SubmitRequest{Spec: jobs.Spec{Name: "stats-job"}}, &submitted)
	require.Nil(t, rpcErr)
	require.NotEmpty(t, submitted.ID)

	var stats rpc.StatsResponse
	rpcErr = doRPC(t, server, rpc.TopicStats, nil, &stats)
	require.Nil(t, rpcErr)

	assert.GreaterOrEqual(t, stats.RootSeq, uint64(1))
	assert.GreaterOrEqual(t, stats.EventSeq, uint64(1))
	assert.GreaterOrEqual(t, stats.Jobs, 1)
	assert.GreaterOrEqual(t, stats.StoreMemTableBytes, int64(0))
}

func TestBrokerUnknownTopic(t *testing.T) {
	_, server := newTestBroker(t)

	rpcErr := doRPC(t, server, "no.such.service", nil, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, rpc.ErrCodeNoSys, rpcErr.Code)
}

func TestBrokerMalformedPayload(t *testing.T) {
	_, server := newTestBroker(t)

	httpResp, err := http.Post(server.URL+"/rpc/kvs.get", "application/json",
		bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer httpResp.Body.Close()
	require.Equal(t, http.StatusOK, httpResp.StatusCode)

	var resp rpc.Response
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&resp))
	require.NotNil(t, resp.Err)
	assert.Equal(t, rpc.ErrCodeInvalid, resp.Err.Code)
}

func TestBrokerKVSService(t *testing.T) {
	_, server := newTestBroker(t)

	rpcErr := doRPC(t, server, kvs.TopicPut,
		kvs.PutRequest{Key: "resource.R0.state", Value: []byte("up")}, nil)
	require.Nil(t, rpcErr)

	var got kvs.GetResponse
	rpcErr = doRPC(t, server, kvs.TopicGet, kvs.GetRequest{Key: "resource.R0.state"}, &got)
	require.Nil(t, rpcErr)
	assert.Equal(t, []byte("up"), got.Value)

	rpcErr = doRPC(t, server, kvs.TopicGet, kvs.GetRequest{Key: "resource.R1.state"}, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, rpc.ErrCodeNotFound, rpcErr.Code)

	var dir kvs.DirResponse
	rpcErr = doRPC(t, server, kvs.TopicDir, kvs.DirRequest{Key: "resource"}, &dir)
	require.Nil(t, rpcErr)
	assert.Equal(t, []string{"R0"}, dir.Names)

	var seq kvs.RootSeqResponse
	rpcErr = doRPC(t, server, kvs.TopicRootSeq, nil, &seq)
	require.Nil(t, rpcErr)
	assert.NotZero(t, seq.Seq)
}

func TestBrokerCheckpointService(t *testing.T) {
	_, server := newTestBroker(t)

	rpcErr := doRPC(t, server, kvs.TopicPut,
		kvs.PutRequest{Key: "a.b", Value: []byte("x")}, nil)
	require.Nil(t, rpcErr)

	var written kvs.Checkpoint
	rpcErr = doRPC(t, server, kvs.TopicCheckpointPut,
		kvs.CheckpointRequest{Name: "manual"}, &written)
	require.Nil(t, rpcErr)
	assert.Equal(t, "manual", written.Name)
	assert.NotZero(t, written.RootSeq)

	var read kvs.Checkpoint
	rpcErr = doRPC(t, server, kvs.TopicCheckpointGet,
		kvs.CheckpointRequest{Name: "manual"}, &read)
	require.Nil(t, rpcErr)
	assert.Equal(t, written.RootSeq, read.RootSeq)
}

func TestBrokerJobService(t *testing.T) {
	_, server := newTestBroker(t)

	var info jobs.Info
	rpcErr := doRPC(t, server, jobs.TopicSubmit,
		jobs.SubmitRequest{Spec: jobs.Spec{Name: "sleep", Priority: 10}}, &info)
	require.Nil(t, rpcErr)
	assert.Equal(t, "RUN", info.State)

	var list jobs.ListResponse
	rpcErr = doRPC(t, server, jobs.TopicList, nil, &list)
	require.Nil(t, rpcErr)
	require.Len(t, list.Jobs, 1)
	assert.Equal(t, info.ID, list.Jobs[0].ID)

	var lookup jobs.LookupResponse
	rpcErr = doRPC(t, server, jobs.TopicLookup, jobs.LookupRequest{ID: info.ID}, &lookup)
	require.Nil(t, rpcErr)
	assert.Equal(t, "RUN", lookup.Info.State)
	assert.NotEmpty(t, lookup.Eventlog)

	rpcErr = doRPC(t, server, jobs.TopicCancel,
		jobs.CancelRequest{ID: info.ID, Reason: "test over"}, nil)
	require.Nil(t, rpcErr)

	rpcErr = doRPC(t, server, jobs.TopicLookup, jobs.LookupRequest{ID: info.ID}, &lookup)
	require.Nil(t, rpcErr)
	assert.Equal(t, "INACTIVE", lookup.Info.State)

	rpcErr = doRPC(t, server, jobs.TopicLookup,
		jobs.LookupRequest{ID: "00000000-0000-0000-0000-000000000000"}, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, rpc.ErrCodeNotFound, rpcErr.Code)
}

func TestRPCContextCarriesRequestID(t *testing.T) {
	b, server := newTestBroker(t)

	var reqID any
	require.NoError(t, b.Registry().Register("test.reqid",
		func(ctx context.Context, _ json.RawMessage) (any, error) {
			reqID = ctx.Value(logger.RequestIDKey)
			return nil, nil
		}))

	rpcErr := doRPC(t, server, "test.reqid", nil, nil)
	require.Nil(t, rpcErr)

	id, ok := reqID.(string)
	require.True(t, ok, "request id missing from handler context")
	assert.NotEmpty(t, id)
}

func TestBrokerEventStream(t *testing.T) {
	_, server := newTestBroker(t)

	req, err := http.NewRequest(http.MethodGet, server.URL+"/events?topic="+kvs.SetRootTopic, nil)
	require.NoError(t, err)

	httpResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer httpResp.Body.Close()
	require.Equal(t, http.StatusOK, httpResp.StatusCode)
	require.Equal(t, "application/x-ndjson", httpResp.Header.Get("Content-Type"))

	// The subscription is live once the response headers arrive; a put
	// after this point must show up on the stream.
	rpcErr := doRPC(t, server, kvs.TopicPut,
		kvs.PutRequest{Key: "watched.key", Value: []byte("v")}, nil)
	require.Nil(t, rpcErr)

	lineCh := make(chan string, 1)
	go func() {
		scanner := bufio.NewScanner(httpResp.Body)
		if scanner.Scan() {
			lineCh <- scanner.Text()
		}
	}()

	select {
	case line := <-lineCh:
		var ev events.Event
		require.NoError(t, json.Unmarshal([]byte(line), &ev))
		assert.Equal(t, kvs.SetRootTopic, ev.Topic)
		assert.NotZero(t, ev.Seq)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}
