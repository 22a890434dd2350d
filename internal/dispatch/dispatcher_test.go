package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/idfuse/internal/model"
	"github.com/sells-group/idfuse/internal/registry"
	"github.com/sells-group/idfuse/internal/telemetry"
)

// backendBehavior scripts one fake backend.
type backendBehavior struct {
	delay  time.Duration
	reply  *model.VerifyResult
	status int
	err    error
}

// scriptedClient routes each endpoint to its scripted behavior.
type scriptedClient struct {
	mu        sync.Mutex
	behaviors map[string]backendBehavior
	started   map[string]time.Time
}

func (c *scriptedClient) Verify(ctx context.Context, endpoint string, _ []byte) (*model.VerifyResult, int, error) {
	c.mu.Lock()
	if c.started == nil {
		c.started = make(map[string]time.Time)
	}
	c.started[endpoint] = time.Now()
	b := c.behaviors[endpoint]
	c.mu.Unlock()

	if b.delay > 0 {
		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}
	if b.err != nil {
		return nil, b.status, b.err
	}
	return b.reply, b.status, nil
}

func score(v float64) *float64 { return &v }

func backends(names ...string) []registry.Backend {
	out := make([]registry.Backend, len(names))
	for i, n := range names {
		out[i] = registry.Backend{Name: n, EndpointURL: "http://" + n + "/verify", Threshold: 0.75, Active: true}
	}
	return out
}

// collectorSink records call events for assertions.
type collectorSink struct {
	mu    sync.Mutex
	calls []model.CallOutcome
}

func (s *collectorSink) RecordCall(_ context.Context, o model.CallOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, o)
	return nil
}

func (s *collectorSink) RecordFusion(context.Context, model.FusionOutcome) error { return nil }

func TestDispatchCollectsAllOutcomesInRosterOrder(t *testing.T) {
	client := &scriptedClient{behaviors: map[string]backendBehavior{
		"http://alice/verify": {reply: &model.VerifyResult{Score: score(0.9), Label: "Alice"}, status: 200},
		"http://bob/verify":   {err: eris.New("boom"), status: 500},
		"http://carol/verify": {reply: &model.VerifyResult{Score: score(0.3)}, status: 200},
	}}
	d := New(client, nil, time.Second)

	outcomes := d.Dispatch(context.Background(), "r1", []byte("img"), backends("alice", "bob", "carol"))
	require.Len(t, outcomes, 3)
	assert.Equal(t, "alice", outcomes[0].Backend)
	assert.Equal(t, model.ReplySuccess, outcomes[0].Status)
	assert.Equal(t, "bob", outcomes[1].Backend)
	assert.Equal(t, model.ReplyError, outcomes[1].Status)
	assert.Equal(t, "boom", outcomes[1].Err)
	assert.Equal(t, 500, outcomes[1].StatusCode)
	assert.Equal(t, "carol", outcomes[2].Backend)
	assert.Equal(t, model.ReplySuccess, outcomes[2].Status)
}

func TestDispatchIsolatesSlowBackend(t *testing.T) {
	// alice always times out; bob answers in 10ms. Bob's outcome and
	// latency must be unaffected.
	client := &scriptedClient{behaviors: map[string]backendBehavior{
		"http://alice/verify": {delay: 10 * time.Second},
		"http://bob/verify":   {delay: 10 * time.Millisecond, reply: &model.VerifyResult{Score: score(0.8), Label: "Bob"}, status: 200},
	}}
	d := New(client, nil, 200*time.Millisecond)

	start := time.Now()
	outcomes := d.Dispatch(context.Background(), "r1", nil, backends("alice", "bob"))
	elapsed := time.Since(start)

	require.Len(t, outcomes, 2)
	assert.Equal(t, model.ReplyTimeout, outcomes[0].Status)
	assert.Equal(t, model.ReplySuccess, outcomes[1].Status)
	assert.Less(t, outcomes[1].Latency, 100*time.Millisecond)
	assert.Less(t, elapsed, time.Second, "batch bounded by the shared deadline")
}

func TestDispatchStartsCallsConcurrently(t *testing.T) {
	client := &scriptedClient{behaviors: map[string]backendBehavior{
		"http://alice/verify": {delay: 100 * time.Millisecond, reply: &model.VerifyResult{Score: score(0.5)}, status: 200},
		"http://bob/verify":   {delay: 100 * time.Millisecond, reply: &model.VerifyResult{Score: score(0.5)}, status: 200},
		"http://carol/verify": {delay: 100 * time.Millisecond, reply: &model.VerifyResult{Score: score(0.5)}, status: 200},
	}}
	d := New(client, nil, time.Second)

	start := time.Now()
	d.Dispatch(context.Background(), "r1", nil, backends("alice", "bob", "carol"))
	elapsed := time.Since(start)

	// Sequential execution would take >= 300ms.
	assert.Less(t, elapsed, 250*time.Millisecond)

	client.mu.Lock()
	defer client.mu.Unlock()
	require.Len(t, client.started, 3)
	var first, last time.Time
	for _, ts := range client.started {
		if first.IsZero() || ts.Before(first) {
			first = ts
		}
		if ts.After(last) {
			last = ts
		}
	}
	assert.Less(t, last.Sub(first), 50*time.Millisecond, "all calls start substantially together")
}

func TestDispatchDeadlineBoundsWallClock(t *testing.T) {
	behaviors := make(map[string]backendBehavior)
	names := []string{"a", "b", "c", "d", "e"}
	for _, n := range names {
		behaviors["http://"+n+"/verify"] = backendBehavior{delay: 10 * time.Second}
	}
	client := &scriptedClient{behaviors: behaviors}
	d := New(client, nil, 150*time.Millisecond)

	start := time.Now()
	outcomes := d.Dispatch(context.Background(), "r1", nil, backends(names...))
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 500*time.Millisecond)
	for _, o := range outcomes {
		assert.Equal(t, model.ReplyTimeout, o.Status)
	}
}

func TestDispatchEmitsOneEventPerCall(t *testing.T) {
	sink := &collectorSink{}
	emitter := telemetry.NewEmitter(sink, 16)

	client := &scriptedClient{behaviors: map[string]backendBehavior{
		"http://alice/verify": {reply: &model.VerifyResult{Score: score(0.9)}, status: 200},
		"http://bob/verify":   {delay: 10 * time.Second},
	}}
	d := New(client, emitter, 100*time.Millisecond)

	d.Dispatch(context.Background(), "req-42", nil, backends("alice", "bob"))
	emitter.Close()

	require.Len(t, sink.calls, 2)
	byBackend := map[string]model.CallOutcome{}
	for _, c := range sink.calls {
		byBackend[c.Backend] = c
		assert.Equal(t, "req-42", c.RequestID)
		assert.Equal(t, model.ServiceVerify, c.Service)
	}
	assert.False(t, byBackend["alice"].TimedOut)
	assert.True(t, byBackend["bob"].TimedOut)
	assert.GreaterOrEqual(t, byBackend["bob"].LatencyMS, 90.0)
}

func TestDispatchEmptyRoster(t *testing.T) {
	d := New(&scriptedClient{}, nil, time.Second)
	outcomes := d.Dispatch(context.Background(), "r1", nil, nil)
	assert.Empty(t, outcomes)
}

func TestDispatchParentDeadlineMarksTimeout(t *testing.T) {
	client := &scriptedClient{behaviors: map[string]backendBehavior{
		"http://alice/verify": {delay: 10 * time.Second},
	}}
	d := New(client, nil, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	outcomes := d.Dispatch(ctx, "r1", nil, backends("alice"))
	require.Len(t, outcomes, 1)
	assert.Equal(t, model.ReplyTimeout, outcomes[0].Status)
}
