package litho

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newCounterRunner(name string) *Runner {
	return NewRunner(name, Options{
		InitialState: func(string) StateContainer { return &counter{} },
	})
}

func visitAll(keys ...string) BuildFunc {
	return func(ctx context.Context, gen *Generation) error {
		for _, key := range keys {
			if _, err := gen.Visit(ctx, key); err != nil {
				return err
			}
		}
		return nil
	}
}

func TestRunnerLifecycle(t *testing.T) {
	ctx := context.Background()
	runner := newCounterRunner("lifecycle")
	assert.True(t, runner.IsEmpty())

	runner.Enqueue("A", incrT(1, "blink"))
	runner.Enqueue("A", incr(2))

	transitions, err := runner.Run(ctx, visitAll("A"))
	assert.NoError(t, err)
	assert.Equal(t, []Transition{"blink"}, transitions)
	assert.False(t, runner.IsEmpty())
	assert.Equal(t, 3, runner.Store().containers["A"].(*counter).count)

	// no redelivery on the next generation
	transitions, err = runner.Run(ctx, visitAll("A"))
	assert.NoError(t, err)
	assert.Empty(t, transitions)
	assert.Equal(t, 3, runner.Store().containers["A"].(*counter).count)
}

func TestRunnerNoopBuildKeepsState(t *testing.T) {
	ctx := context.Background()
	runner := newCounterRunner("noop")
	runner.Enqueue("A", incr(2))
	_, err := runner.Run(ctx, visitAll("A"))
	assert.NoError(t, err)
	before := runner.Store().containers["A"]

	// a rebuild whose build visits nothing must not wipe the tree's state
	_, err = runner.Run(ctx, func(context.Context, *Generation) error { return nil })
	assert.NoError(t, err)
	assert.False(t, runner.IsEmpty())
	assert.Same(t, before, runner.Store().containers["A"])
	assert.Equal(t, 2, runner.Store().containers["A"].(*counter).count)
}

func TestRunnerVisitWithoutInitializer(t *testing.T) {
	runner := NewRunner("bare", Options{})
	_, err := runner.Run(context.Background(), visitAll("A"))
	assert.ErrorIs(t, err, ErrNoInitialState)
	assert.True(t, runner.IsEmpty())
}

func TestRunnerDiscardOnBuildError(t *testing.T) {
	ctx := context.Background()
	runner := newCounterRunner("discard")
	runner.Enqueue("A", cow(1))
	runner.Enqueue("A", cow(2))

	boom := errors.New("boom")
	_, err := runner.Run(ctx, func(ctx context.Context, gen *Generation) error {
		_, verr := gen.Visit(ctx, "A")
		assert.NoError(t, verr)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.True(t, runner.IsEmpty())

	// nothing lost, nothing reordered, nothing doubled
	_, err = runner.Run(ctx, visitAll("A"))
	assert.NoError(t, err)
	assert.Equal(t, 3, runner.Store().containers["A"].(*counter).count)
}

func TestRunnerDiscardOnCancel(t *testing.T) {
	runner := newCounterRunner("cancel")
	runner.Enqueue("A", cow(5))

	ctx, cancel := context.WithCancel(context.Background())
	_, err := runner.Run(ctx, func(ctx context.Context, gen *Generation) error {
		_, verr := gen.Visit(ctx, "A")
		cancel()
		return verr
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, runner.IsEmpty())

	_, err = runner.Run(context.Background(), visitAll("A"))
	assert.NoError(t, err)
	assert.Equal(t, 5, runner.Store().containers["A"].(*counter).count)
}

func TestRunnerCollectsVanishedKeys(t *testing.T) {
	ctx := context.Background()
	var released int
	runner := NewRunner("gc", Options{
		InitialState:     func(string) StateContainer { return &counter{} },
		ReleaseContainer: func(StateContainer) { released++ },
	})

	_, err := runner.Run(ctx, visitAll("B", "C"))
	assert.NoError(t, err)

	_, err = runner.Run(ctx, visitAll("B"))
	assert.NoError(t, err)

	_, ok := runner.Store().containers["C"]
	assert.False(t, ok)
	assert.Equal(t, 1, released)
}

func TestRunnerExactlyOnceUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	runner := newCounterRunner("concurrent")

	const K = 8
	const N = 512

	var wg sync.WaitGroup
	for k := 0; k < K; k++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < N; n++ {
				runner.Enqueue("A", incr(1))
			}
		}()
	}

	// rebuild at high frequency while producers are running
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			_, err := runner.Run(ctx, visitAll("A"))
			assert.NoError(t, err)
		}
	}()

	wg.Wait()
	<-done

	// a final generation consumes whatever the last checkpoint missed
	_, err := runner.Run(ctx, visitAll("A"))
	assert.NoError(t, err)
	assert.Equal(t, K*N, runner.Store().containers["A"].(*counter).count)
}

func TestTryRunWhileBuildInFlight(t *testing.T) {
	runner := newCounterRunner("busy")
	entered := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_, _ = runner.Run(context.Background(), func(ctx context.Context, gen *Generation) error {
			close(entered)
			<-release
			return nil
		})
	}()

	<-entered
	_, err := runner.TryRun(context.Background(), visitAll("A"))
	assert.ErrorIs(t, err, ErrBuildRunning)
	close(release)
}

func TestGenerationIDsAreUnique(t *testing.T) {
	ctx := context.Background()
	runner := newCounterRunner("ids")
	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		_, err := runner.Run(ctx, func(ctx context.Context, gen *Generation) error {
			id := gen.ID().String()
			assert.False(t, seen[id])
			seen[id] = true
			return nil
		})
		assert.NoError(t, err)
	}
}
