// Package orchestrator runs one identify request end to end: fan-out to the
// verification backends, result normalization, fusion, and the optional QA
// side channel, with audit and telemetry writes on the way out.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/idfuse/internal/fusion"
	"github.com/sells-group/idfuse/internal/model"
	"github.com/sells-group/idfuse/internal/registry"
	"github.com/sells-group/idfuse/internal/telemetry"
	"github.com/sells-group/idfuse/pkg/qa"
)

// Dispatcher fans one request out to the given backends and returns one
// outcome per backend in input order.
type Dispatcher interface {
	Dispatch(ctx context.Context, requestID string, image []byte, backends []registry.Backend) []model.Outcome
}

// AccessLog receives one audit row per request. Writes are best effort.
type AccessLog interface {
	InsertAccessRecord(ctx context.Context, r model.AccessRecord) error
}

// Request is one identify call. Question is optional; when present the QA
// service is consulted in parallel with the verification fan-out.
type Request struct {
	Image    []byte
	Question string
	Route    string
}

// Result is the full outcome of one identify call. Answer is nil when no
// question was asked or the QA service failed; the decision never depends
// on it.
type Result struct {
	RequestID  string                 `json:"request_id"`
	Decision   model.Decision         `json:"decision"`
	Identity   *model.Identity        `json:"identity,omitempty"`
	Candidates []model.Candidate      `json:"candidates"`
	Stats      fusion.Stats           `json:"stats"`
	Counts     fusion.NormalizeCounts `json:"backend_counts"`
	Answer     *qa.Answer             `json:"answer,omitempty"`
	TimingMS   float64                `json:"timing_ms"`
}

// Option configures optional collaborators.
type Option func(*Orchestrator)

// WithQA attaches the question-answering service.
func WithQA(svc qa.Service) Option {
	return func(o *Orchestrator) { o.qa = svc }
}

// WithAccessLog attaches the audit store.
func WithAccessLog(log AccessLog) Option {
	return func(o *Orchestrator) { o.access = log }
}

// WithEmitter attaches the telemetry emitter.
func WithEmitter(e *telemetry.Emitter) Option {
	return func(o *Orchestrator) { o.emitter = e }
}

// Orchestrator is safe for concurrent use; all per-request state lives on
// the stack of Identify.
type Orchestrator struct {
	registry   *registry.Registry
	dispatcher Dispatcher
	engine     *fusion.Engine

	qa      qa.Service
	access  AccessLog
	emitter *telemetry.Emitter
}

// New creates an Orchestrator over the required collaborators.
func New(reg *registry.Registry, d Dispatcher, engine *fusion.Engine, opts ...Option) (*Orchestrator, error) {
	if reg == nil {
		return nil, eris.New("orchestrator: nil registry")
	}
	if d == nil {
		return nil, eris.New("orchestrator: nil dispatcher")
	}
	if engine == nil {
		return nil, eris.New("orchestrator: nil fusion engine")
	}
	o := &Orchestrator{registry: reg, dispatcher: d, engine: engine}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Identify runs the full pipeline for one image. The fan-out and the QA
// call run in parallel; a QA failure degrades the answer to nil and never
// changes the decision.
func (o *Orchestrator) Identify(ctx context.Context, req Request) (*Result, error) {
	if len(req.Image) == 0 {
		return nil, eris.New("orchestrator: empty image")
	}

	requestID := uuid.New().String()
	start := time.Now()
	backends := o.registry.Active()

	var (
		outcomes []model.Outcome
		answer   *qa.Answer
	)

	// Plain errgroup: the QA branch reports no error, so a QA failure
	// cannot cancel the fan-out.
	var g errgroup.Group
	g.Go(func() error {
		outcomes = o.dispatcher.Dispatch(ctx, requestID, req.Image, backends)
		return nil
	})
	if o.qa != nil && req.Question != "" {
		g.Go(func() error {
			answer = o.ask(ctx, requestID, req.Question)
			return nil
		})
	}
	_ = g.Wait()

	candidates, counts := fusion.Normalize(outcomes)
	decision, identity, ranked := o.engine.Fuse(candidates)
	stats := o.engine.Stats(ranked)
	timingMS := float64(time.Since(start).Microseconds()) / 1000

	if o.emitter != nil {
		o.emitter.EmitFusion(model.FusionOutcome{
			RequestID:  requestID,
			At:         time.Now().UTC(),
			Decision:   decision,
			Identity:   identity,
			Candidates: ranked,
			TimingMS:   timingMS,
		})
	}

	o.logAccess(ctx, requestID, req, decision, identity, ranked, counts, len(backends), answer != nil, timingMS)

	zap.L().Info("orchestrator: request complete",
		zap.String("request_id", requestID),
		zap.String("decision", string(decision)),
		zap.Int("backends", len(backends)),
		zap.Int("valid_replies", counts.Valid),
		zap.Float64("timing_ms", timingMS),
	)

	return &Result{
		RequestID:  requestID,
		Decision:   decision,
		Identity:   identity,
		Candidates: ranked,
		Stats:      stats,
		Counts:     counts,
		Answer:     answer,
		TimingMS:   timingMS,
	}, nil
}

// ask consults the QA service and emits one telemetry event for the call.
// Failures are logged and swallowed.
func (o *Orchestrator) ask(ctx context.Context, requestID, question string) *qa.Answer {
	start := time.Now()
	answer, err := o.qa.Ask(ctx, question, requestID)
	latency := time.Since(start)

	if o.emitter != nil {
		out := model.CallOutcome{
			RequestID: requestID,
			At:        time.Now().UTC(),
			Service:   model.ServiceQA,
			Backend:   "qa",
			LatencyMS: float64(latency.Microseconds()) / 1000,
		}
		if err != nil {
			out.Err = err.Error()
			out.TimedOut = errors.Is(err, context.DeadlineExceeded)
		}
		o.emitter.EmitCall(out)
	}

	if err != nil {
		zap.L().Warn("orchestrator: qa call failed",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return nil
	}
	return answer
}

// logAccess writes the audit row. A store failure is logged, never
// surfaced; the caller already has its result.
func (o *Orchestrator) logAccess(ctx context.Context, requestID string, req Request,
	decision model.Decision, identity *model.Identity, ranked []model.Candidate,
	counts fusion.NormalizeCounts, backendsQueried int, qaUsed bool, timingMS float64,
) {
	if o.access == nil {
		return
	}

	sum := sha256.Sum256(req.Image)
	rec := model.AccessRecord{
		RequestID:       requestID,
		At:              time.Now().UTC(),
		Route:           req.Route,
		Decision:        decision,
		Identity:        identity,
		Candidates:      ranked,
		TimingMS:        timingMS,
		StatusCode:      200,
		BackendsQueried: backendsQueried,
		BackendTimeouts: counts.Timeouts,
		BackendErrors:   counts.Errors,
		QAUsed:          qaUsed,
		ImageSHA256:     hex.EncodeToString(sum[:]),
		ImageBytes:      len(req.Image),
	}
	if err := o.access.InsertAccessRecord(ctx, rec); err != nil {
		zap.L().Warn("orchestrator: access log write failed",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
	}
}
