package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/brieflow/internal/checkpoint"
	"github.com/raphaelgruber/brieflow/internal/config"
	"github.com/raphaelgruber/brieflow/internal/db"
	"github.com/raphaelgruber/brieflow/internal/events"
	"github.com/raphaelgruber/brieflow/internal/evidence"
	"github.com/raphaelgruber/brieflow/internal/llm"
	"github.com/raphaelgruber/brieflow/internal/metrics"
	"github.com/raphaelgruber/brieflow/internal/store"
	"github.com/raphaelgruber/brieflow/internal/workflow"
)

// app holds the components one CLI invocation works with.
type app struct {
	cfg         config.Config
	logger      *slog.Logger
	blobs       store.DurableStore
	metrics     *metrics.Collector
	recorder    *events.Recorder
	checkpoints *checkpoint.Manager
	evidence    *evidence.Manager
	registry    *workflow.Registry
	coordinator *workflow.Coordinator
	generator   llm.Generator

	closers []func(context.Context) error
}

// newApp wires storage, events, evidence and the coordinator from cfg. A nil generator
// is created from cfg.LLMProvider; tests pass a fake.
func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger, gen llm.Generator) (*app, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &app{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics.NewCollector(),
		recorder: &events.Recorder{},
		registry: workflow.NewRegistry(),
	}

	blobs, err := a.openStore(ctx)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.blobs = blobs

	sink := events.Fanout{events.LogSink{Logger: logger}, a.recorder}
	if cfg.NATSURL != "" {
		natsSink, err := events.NewNATSSink(ctx, cfg.NATSURL, logger)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		sink = append(sink, natsSink)
		a.closers = append(a.closers, func(context.Context) error { natsSink.Close(); return nil })
	}

	a.checkpoints, err = checkpoint.New(blobs,
		checkpoint.WithKeepCount(cfg.CheckpointKeep),
		checkpoint.WithMetrics(a.metrics),
		checkpoint.WithLogger(logger),
	)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { a.checkpoints.Wait(); return nil })

	if gen == nil && cfg.LLMProvider != config.ProviderNone {
		model, err := llm.NewModel(ctx, cfg)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		gen = model
	}
	a.generator = gen

	var classifier evidence.Classifier = evidence.RuleClassifier{}
	if gen != nil {
		classifier = llm.NewClassifier(gen)
		if err := a.registry.RegisterAll(llm.NewStageWriter(gen)); err != nil {
			a.close(ctx)
			return nil, err
		}
	}

	a.evidence = evidence.NewManager(classifier,
		evidence.WithItemStore(evidence.NewBlobItemStore(blobs)),
		evidence.WithEventSink(sink),
		evidence.WithMetrics(a.metrics),
		evidence.WithLogger(logger),
		evidence.WithWorkers(cfg.EvidenceWorkers),
		evidence.WithProfiles(cfg.Profiles),
	)
	a.closers = append(a.closers, func(context.Context) error { a.evidence.Close(); return nil })

	a.coordinator, err = workflow.New(a.registry, a.checkpoints,
		workflow.WithEvidence(a.evidence),
		workflow.WithEventSink(sink),
		workflow.WithPhaseTimeout(cfg.PhaseTimeout),
		workflow.WithPacketBudget(cfg.PacketBudget),
		workflow.WithMetrics(a.metrics),
		workflow.WithLogger(logger),
	)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context) (store.DurableStore, error) {
	switch a.cfg.Store {
	case config.StoreMemory:
		return store.NewMemory(nil), nil

	case config.StoreDir:
		d, err := store.NewDir(a.cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open data dir: %w", err)
		}
		return d, nil

	case config.StoreRedis:
		r, err := store.NewRedis(ctx, a.cfg.RedisURL, "brieflow")
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return r.Close() })
		return r, nil

	case config.StoreSurrealDB:
		client, err := db.NewClient(ctx, db.Config{
			URL:       a.cfg.SurrealDBURL,
			Namespace: a.cfg.SurrealDBNamespace,
			Database:  a.cfg.SurrealDBDatabase,
			Username:  a.cfg.SurrealDBUser,
			Password:  a.cfg.SurrealDBPass,
			AuthLevel: a.cfg.SurrealDBAuthLevel,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		if err := client.InitSchema(ctx); err != nil {
			return nil, fmt.Errorf("initialize schema: %w", err)
		}
		return db.NewBlobStore(client), nil

	default:
		return nil, fmt.Errorf("unsupported store: %s", a.cfg.Store)
	}
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
