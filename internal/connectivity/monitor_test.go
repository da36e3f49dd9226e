package connectivity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type scriptedProber struct {
	mu       sync.Mutex
	results  []error
	timeouts []time.Duration
}

func (p *scriptedProber) Health(_ context.Context, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeouts = append(p.timeouts, timeout)
	if len(p.results) == 0 {
		return nil
	}
	err := p.results[0]
	p.results = p.results[1:]
	return err
}

type flag struct{ v atomic.Bool }

func (f *flag) SetOnline(v bool) bool { return f.v.Swap(v) }

var errDown = errors.New("connection refused")

func TestCheckTriggersDrainOnlyOnRestore(t *testing.T) {
	prober := &scriptedProber{results: []error{errDown, nil, nil, errDown, nil}}
	f := &flag{}
	var restored int
	m := New(prober, f, WithProbeTimeout(5*time.Second), OnRestored(func(context.Context) { restored++ }))

	ctx := context.Background()
	require.False(t, m.Check(ctx))
	require.Equal(t, 0, restored)

	require.True(t, m.Check(ctx))
	require.Equal(t, 1, restored)

	require.True(t, m.Check(ctx))
	require.Equal(t, 1, restored, "staying online must not trigger another drain")

	require.False(t, m.Check(ctx))
	require.False(t, f.v.Load())

	require.True(t, m.Check(ctx))
	require.Equal(t, 2, restored)
	require.Equal(t, 5*time.Second, prober.timeouts[0])
}

func TestRunProbesUntilCancelled(t *testing.T) {
	prober := &scriptedProber{}
	f := &flag{}
	m := New(prober, f, WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool {
		prober.mu.Lock()
		defer prober.mu.Unlock()
		return len(prober.timeouts) >= 3
	}, time.Second, time.Millisecond)
	require.True(t, f.v.Load())

	cancel()
	require.NoError(t, <-done)
}
