package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/idfuse/internal/dispatch"
	"github.com/sells-group/idfuse/internal/fusion"
	"github.com/sells-group/idfuse/internal/monitoring"
	"github.com/sells-group/idfuse/internal/orchestrator"
	"github.com/sells-group/idfuse/internal/registry"
	"github.com/sells-group/idfuse/internal/store"
	"github.com/sells-group/idfuse/internal/telemetry"
	"github.com/sells-group/idfuse/pkg/qa"
	"github.com/sells-group/idfuse/pkg/verifier"
)

// env wires the long-lived collaborators for one command invocation.
type env struct {
	Registry  *registry.Registry
	Store     store.Store
	Emitter   *telemetry.Emitter
	Orch      *orchestrator.Orchestrator
	QA        qa.Service
	Collector *monitoring.Collector
}

// initEnv builds the full pipeline from config: roster, store, telemetry,
// dispatcher, fusion engine, orchestrator, and the optional QA service.
func initEnv(ctx context.Context) (*env, error) {
	reg, err := registry.Load(cfg.Registry.Path)
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}

	emitter := telemetry.NewEmitter(telemetry.NewStoreSink(st), cfg.Telemetry.BufferSize)

	var clientOpts []verifier.Option
	if cfg.Dispatch.RateLimitRPS > 0 {
		clientOpts = append(clientOpts, verifier.WithRateLimit(cfg.Dispatch.RateLimitRPS, cfg.Dispatch.RateLimitBurst))
	}
	dispatcher := dispatch.New(
		dispatch.NewVerifierClient(verifier.NewClient(clientOpts...)),
		emitter,
		time.Duration(cfg.Dispatch.TimeoutMS)*time.Millisecond,
	)

	engine, err := fusion.NewEngine(fusion.Params{
		Threshold: cfg.Fusion.Threshold,
		Margin:    cfg.Fusion.Margin,
	})
	if err != nil {
		emitter.Close()
		st.Close()
		return nil, err
	}

	qaSvc := buildQA()

	opts := []orchestrator.Option{
		orchestrator.WithAccessLog(st),
		orchestrator.WithEmitter(emitter),
	}
	if qaSvc != nil {
		opts = append(opts, orchestrator.WithQA(qaSvc))
	}
	orch, err := orchestrator.New(reg, dispatcher, engine, opts...)
	if err != nil {
		emitter.Close()
		st.Close()
		return nil, err
	}

	zap.L().Info("pipeline initialized",
		zap.Int("backends", reg.Len()),
		zap.Int("active_backends", len(reg.Active())),
		zap.String("store_driver", cfg.Store.Driver),
		zap.String("qa_mode", cfg.QA.Mode),
	)

	return &env{
		Registry:  reg,
		Store:     st,
		Emitter:   emitter,
		Orch:      orch,
		QA:        qaSvc,
		Collector: monitoring.NewCollector(st),
	}, nil
}

func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func buildQA() qa.Service {
	switch cfg.QA.Mode {
	case "remote":
		return qa.NewClient(cfg.QA.BaseURL,
			qa.WithProvider(cfg.QA.Provider),
			qa.WithRetrievalCount(cfg.QA.RetrievalCount),
		)
	case "claude":
		return qa.NewClaude(cfg.QA.AnthropicKey, cfg.QA.AnthropicModel, cfg.QA.MaxTokens)
	default:
		return nil
	}
}

// Close drains telemetry before releasing the store.
func (e *env) Close() {
	e.Emitter.Close()
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("store close failed", zap.Error(err))
	}
}
