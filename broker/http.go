package broker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/pprof"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"rmcore/logger"
	"rmcore/rpc"
)

// Router builds the broker's HTTP surface: RPC dispatch, the event stream
// and pprof endpoints.
func (b *Broker) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/rpc/{topic}", b.handleRPC)
	r.Get("/events", b.handleEvents)

	r.HandleFunc("/debug/pprof/", pprof.Index)
	r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	r.HandleFunc("/debug/pprof/profile", pprof.Profile)
	r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	r.HandleFunc("/debug/pprof/trace", pprof.Trace)
	r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	r.Handle("/debug/pprof/heap", pprof.Handler("heap"))

	return r
}

// handleRPC dispatches one request/response exchange. Transport-level
// success is always HTTP 200; service failures travel in the response
// envelope so clients see the same error shape regardless of transport.
func (b *Broker) handleRPC(w http.ResponseWriter, r *http.Request) {
	topic := chi.URLParam(r, "topic")
	ctx := requestContext(r)

	var payload json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		writeResponse(w, rpc.Response{
			Err: rpc.Errorf(rpc.ErrCodeInvalid, "malformed payload: %v", err),
		})
		return
	}

	result, rpcErr := b.registry.Dispatch(ctx, topic, payload)
	if rpcErr != nil && rpcErr.Code == rpc.ErrCodeInternal {
		logger.ErrorContext(ctx, "rpc dispatch failed",
			"topic", topic, "error", rpcErr.Message)
	}
	writeResponse(w, rpc.Response{Payload: result, Err: rpcErr})
}

// requestContext republishes the router's request ID under the logging key
// so every log line below the handler carries it.
func requestContext(r *http.Request) context.Context {
	ctx := r.Context()
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		ctx = context.WithValue(ctx, logger.RequestIDKey, reqID)
	}
	return ctx
}

func writeResponse(w http.ResponseWriter, resp rpc.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error("encode rpc response", "error", err)
	}
}

// handleEvents streams matching events as newline-delimited JSON until the
// client disconnects.
func (b *Broker) handleEvents(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("topic")
	log := logger.WithContext(requestContext(r))

	sub, cancel := b.dispatcher.Subscribe(pattern)
	defer cancel()
	log.Debug("event stream opened", "pattern", pattern)
	defer log.Debug("event stream closed", "pattern", pattern)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeResponse(w, rpc.Response{
			Err: rpc.Errorf(rpc.ErrCodeInternal, "streaming unsupported"),
		})
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if err := enc.Encode(ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
