// Package dispatch fans one verify request out to every active backend
// concurrently and collects the per-backend outcomes.
package dispatch

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/idfuse/internal/model"
	"github.com/sells-group/idfuse/internal/registry"
	"github.com/sells-group/idfuse/internal/telemetry"
)

// Client is the outbound transport to one verification backend. The int
// return is the HTTP status code when a response was received (0 otherwise).
type Client interface {
	Verify(ctx context.Context, endpointURL string, image []byte) (*model.VerifyResult, int, error)
}

// DefaultTimeout is the shared per-call deadline when config gives none.
const DefaultTimeout = 2 * time.Second

// Dispatcher issues one call per active backend with a shared deadline and
// full isolation between backends. It holds no per-request state.
type Dispatcher struct {
	client  Client
	emitter *telemetry.Emitter
	timeout time.Duration
}

// New creates a Dispatcher. A non-positive timeout falls back to
// DefaultTimeout.
func New(client Client, emitter *telemetry.Emitter, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{client: client, emitter: emitter, timeout: timeout}
}

// Timeout returns the shared per-call deadline.
func (d *Dispatcher) Timeout() time.Duration {
	return d.timeout
}

// Dispatch calls every backend in the list concurrently and returns one
// outcome per backend, in input order. It returns only once every call has
// resolved or exceeded the shared deadline; one backend failing or timing
// out never cancels or delays its siblings. One telemetry event is emitted
// per call.
func (d *Dispatcher) Dispatch(ctx context.Context, requestID string, image []byte, backends []registry.Backend) []model.Outcome {
	outcomes := make([]model.Outcome, len(backends))

	// Deliberately not errgroup.WithContext: a failed call must not
	// cancel the sibling calls.
	var g errgroup.Group
	for i, b := range backends {
		g.Go(func() error {
			outcomes[i] = d.callOne(ctx, requestID, image, b)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (d *Dispatcher) callOne(ctx context.Context, requestID string, image []byte, b registry.Backend) model.Outcome {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	reply, statusCode, err := d.client.Verify(callCtx, b.EndpointURL, image)
	latency := time.Since(start)

	out := model.Outcome{
		Backend:    b.Name,
		Endpoint:   b.EndpointURL,
		StatusCode: statusCode,
		Latency:    latency,
	}

	switch {
	case err == nil:
		out.Status = model.ReplySuccess
		out.Reply = reply
	case isTimeout(callCtx, err):
		out.Status = model.ReplyTimeout
		out.Err = "timeout"
		zap.L().Warn("dispatch: backend timed out",
			zap.String("request_id", requestID),
			zap.String("backend", b.Name),
			zap.Duration("after", latency),
		)
	default:
		out.Status = model.ReplyError
		out.Err = err.Error()
		zap.L().Warn("dispatch: backend call failed",
			zap.String("request_id", requestID),
			zap.String("backend", b.Name),
			zap.Error(err),
		)
	}

	if d.emitter != nil {
		d.emitter.EmitCall(model.CallOutcome{
			RequestID:  requestID,
			At:         time.Now().UTC(),
			Service:    model.ServiceVerify,
			Backend:    b.Name,
			Endpoint:   b.EndpointURL,
			LatencyMS:  float64(latency.Microseconds()) / 1000,
			StatusCode: statusCode,
			TimedOut:   out.Status == model.ReplyTimeout,
			Err:        out.Err,
		})
	}

	return out
}

// isTimeout classifies deadline expiry on this call's own context, whether
// surfaced directly or wrapped by the transport.
func isTimeout(callCtx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return errors.Is(callCtx.Err(), context.DeadlineExceeded)
}
