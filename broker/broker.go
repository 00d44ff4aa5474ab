// Package broker hosts the resource-manager services behind an HTTP/JSON
// transport: RPCs are POSTs to /rpc/{topic}, events are streamed as
// newline-delimited JSON from /events.
package broker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"rmcore/config"
	"rmcore/events"
	"rmcore/jobs"
	"rmcore/kvs"
	"rmcore/logger"
	"rmcore/rpc"
	"rmcore/storage"
)

// Version is reported in the hello response.
const Version = "0.3.0"

// Broker wires the storage, KVS, job and event services together and serves
// them.
type Broker struct {
	cfg        config.Config
	kv         storage.KV
	dispatcher *events.Dispatcher
	store      *kvs.Store
	jobman     *jobs.Manager
	registry   *Registry
}

// New opens the data directory and brings up all services.
func New(cfg config.Config) (*Broker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	batchTimeout, err := cfg.BatchTimeoutDuration()
	if err != nil {
		return nil, err
	}

	kv, err := storage.NewPebbleKV(storage.DefaultPebbleConfig(cfg.DataDir))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	dispatcher := events.NewDispatcher()

	store, err := kvs.NewStore(kv, dispatcher)
	if err != nil {
		kv.Close()
		return nil, err
	}

	if cfg.Checkpoint != "" {
		cp, err := store.GetCheckpoint(context.Background(), cfg.Checkpoint)
		switch {
		case err == nil:
			logger.Info("recovered from checkpoint",
				"name", cp.Name, "rootseq", cp.RootSeq, "written", cp.Timestamp)
			if cp.RootSeq > store.RootSeq() {
				kv.Close()
				return nil, fmt.Errorf("checkpoint %s ahead of store (seq %d > %d)",
					cp.Name, cp.RootSeq, store.RootSeq())
			}
		case rpc.IsNotFound(err):
			logger.Info("no checkpoint found, starting fresh", "name", cfg.Checkpoint)
		default:
			kv.Close()
			return nil, err
		}
	}

	jobman, err := jobs.NewManager(store, dispatcher,
		jobs.WithSlots(cfg.Slots),
		jobs.WithBatchTimeout(batchTimeout))
	if err != nil {
		kv.Close()
		return nil, err
	}

	b := &Broker{
		cfg:        cfg,
		kv:         kv,
		dispatcher: dispatcher,
		store:      store,
		jobman:     jobman,
		registry:   NewRegistry(),
	}
	if err := b.registerServices(); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (b *Broker) registerServices() error {
	if err := b.registerBuiltin(); err != nil {
		return err
	}
	if err := b.registerKVSService(); err != nil {
		return err
	}
	return b.registerJobService()
}

// Registry exposes the service registry, mainly for tests.
func (b *Broker) Registry() *Registry {
	return b.registry
}

// Dispatcher exposes the event dispatcher.
func (b *Broker) Dispatcher() *events.Dispatcher {
	return b.dispatcher
}

// Serve runs the HTTP server until ctx is cancelled or a service fails
// fatally.
func (b *Broker) Serve(ctx context.Context) error {
	server := &http.Server{
		Addr: b.cfg.Listen,
		// h2c lets clients speak HTTP/2 without TLS; plain HTTP/1.1
		// requests still work.
		Handler: h2c.NewHandler(b.Router(), &http2.Server{}),
	}

	g, ctx := errgroup.WithContext(ctx)
	log := logger.With("addr", b.cfg.Listen)

	g.Go(func() error {
		log.Info("broker listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		select {
		case err := <-b.jobman.Err():
			return fmt.Errorf("job manager failed: %w", err)
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

// Close checkpoints the KVS and shuts down all services.
func (b *Broker) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := b.jobman.Close(ctx); err != nil {
		logger.Error("job manager close", "error", err)
	}

	if b.cfg.Checkpoint != "" {
		if cp, err := b.store.PutCheckpoint(ctx, b.cfg.Checkpoint); err != nil {
			logger.Error("checkpoint write failed", "error", err)
		} else {
			logger.Info("checkpoint written", "name", cp.Name, "rootseq", cp.RootSeq)
		}
	}

	b.dispatcher.Close()
	return b.kv.Close()
}
