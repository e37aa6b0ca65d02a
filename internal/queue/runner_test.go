package queue

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"partfinder/internal/store"
	"partfinder/internal/types"
)

// recordingWorker finishes projects like the real worker and remembers the
// order it saw them in.
type recordingWorker struct {
	store  *store.Store
	mu     sync.Mutex
	seen   []string
	failOn string
	block  chan struct{}
}

func (w *recordingWorker) ProcessProject(ctx context.Context, projectID string) error {
	w.mu.Lock()
	w.seen = append(w.seen, projectID)
	w.mu.Unlock()

	if w.block != nil {
		<-w.block
	}
	if projectID == w.failOn {
		return fmt.Errorf("scripted failure for %s", projectID)
	}
	end := time.Now().UTC()
	return w.store.UpdateProjectStatus(ctx, projectID, types.StatusFinished, nil, &end)
}

func (w *recordingWorker) processed() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.seen...)
}

func newQueueStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "queue.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func enqueue(t *testing.T, s *store.Store, id string) {
	t.Helper()
	require.NoError(t, s.CreateProjectWithItems(context.Background(), &types.Project{ProjectID: id}, []types.BomItem{
		{Quantity: 1, Description: "item", Package: "0805"},
	}))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestRunner_DrainsQueueInOrder(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	s := newQueueStore(t)
	ctx := context.Background()

	enqueue(t, s, "first")
	time.Sleep(2 * time.Millisecond)
	enqueue(t, s, "second")
	time.Sleep(2 * time.Millisecond)
	enqueue(t, s, "third")

	worker := &recordingWorker{store: s}
	r := NewRunner(s, worker, 10*time.Millisecond, time.Millisecond, zap.NewNop(), nil)
	r.Start(ctx)
	defer r.Stop()

	waitFor(t, func() bool { return len(worker.processed()) == 3 })
	assert.Equal(t, []string{"first", "second", "third"}, worker.processed())

	for _, id := range []string{"first", "second", "third"} {
		p, err := s.GetProject(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, types.StatusFinished, p.Status)
		assert.NotNil(t, p.StartTime)
		assert.NotNil(t, p.EndTime)
	}
}

func TestRunner_WorkerFailureMarksProjectErrored(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	s := newQueueStore(t)
	ctx := context.Background()

	enqueue(t, s, "doomed")
	enqueue(t, s, "healthy")

	worker := &recordingWorker{store: s, failOn: "doomed"}
	r := NewRunner(s, worker, 10*time.Millisecond, time.Millisecond, zap.NewNop(), nil)
	r.Start(ctx)
	defer r.Stop()

	waitFor(t, func() bool {
		p, err := s.GetProject(ctx, "healthy")
		return err == nil && p.Status == types.StatusFinished
	})

	p, err := s.GetProject(ctx, "doomed")
	require.NoError(t, err)
	assert.Equal(t, types.StatusError, p.Status, "a failed project lands in error, not back in the queue")
	assert.NotNil(t, p.EndTime)
}

func TestRunner_PicksUpWorkSubmittedAfterStart(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	s := newQueueStore(t)
	worker := &recordingWorker{store: s}
	r := NewRunner(s, worker, 10*time.Millisecond, time.Millisecond, zap.NewNop(), nil)
	r.Start(context.Background())
	defer r.Stop()

	// Let the runner go idle on an empty queue first.
	time.Sleep(30 * time.Millisecond)
	enqueue(t, s, "late")

	waitFor(t, func() bool { return len(worker.processed()) == 1 })
	assert.Equal(t, []string{"late"}, worker.processed())
}

func TestRunner_StopWaitsForInFlightProject(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	s := newQueueStore(t)
	ctx := context.Background()

	enqueue(t, s, "slow")

	worker := &recordingWorker{store: s, block: make(chan struct{})}
	r := NewRunner(s, worker, 10*time.Millisecond, time.Millisecond, zap.NewNop(), nil)
	r.Start(ctx)

	waitFor(t, func() bool { return len(worker.processed()) == 1 })

	stopped := make(chan struct{})
	go func() {
		r.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a project was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(worker.block)
	<-stopped

	p, err := s.GetProject(ctx, "slow")
	require.NoError(t, err)
	assert.Equal(t, types.StatusFinished, p.Status)
}

func TestRunner_ContextCancelStopsLoop(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	s := newQueueStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	worker := &recordingWorker{store: s}
	r := NewRunner(s, worker, 10*time.Millisecond, time.Millisecond, zap.NewNop(), nil)
	r.Start(ctx)

	cancel()
	<-r.done
}
