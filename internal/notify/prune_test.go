package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

type recordingPruner struct {
	mu     sync.Mutex
	before []string
}

func (r *recordingPruner) PruneCounts(_ context.Context, before string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.before = append(r.before, before)
	return 2, nil
}

func (r *recordingPruner) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.before...)
}

func TestRunPruner_KeepsRetainedDays(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 11, 10, 23, 0, 0, 0, time.UTC))
	p, _ := newTestPolicy(newMemStore(), clock)
	pruner := &recordingPruner{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.RunPruner(ctx, pruner, time.Hour, 7)
		close(done)
	}()

	assert.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Hour)
	assert.Eventually(t, func() bool { return len(pruner.calls()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, []string{"2025-11-05"}, pruner.calls())
}

func TestRunPruner_Disabled(t *testing.T) {
	p, _ := newTestPolicy(newMemStore(), clockwork.NewFakeClock())
	pruner := &recordingPruner{}

	p.RunPruner(context.Background(), pruner, 0, 7)
	p.RunPruner(context.Background(), nil, time.Hour, 7)
	assert.Empty(t, pruner.calls())
}
