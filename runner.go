package litho

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Onionbaby/litho/utils"
	"github.com/google/uuid"
)

var ErrNoInitialState = errors.New("[litho] no container and no initializer for key")
var ErrBuildRunning = errors.New("[litho] a generation is already in flight")

type Options struct {
	// Logger for generation lifecycle events. Defaults to slog at Info.
	Logger utils.Logger

	// PoolCapacity bounds how many recycled containers each internal pool
	// retains. 0 means the default.
	PoolCapacity int

	// TraceCapacity enables the per-key update trace when positive.
	TraceCapacity int

	// InitialState supplies a fresh container when a key has no prior
	// state. Optional; without it Visit fails on unseen keys and the
	// collaborator must use the two-step Materialize/Apply path.
	InitialState func(key string) StateContainer

	// ReleaseContainer is invoked for every container garbage-collected at
	// commit. Optional.
	ReleaseContainer func(StateContainer)
}

func (o *Options) SetDefaults() {
	if o.Logger == nil {
		o.Logger = utils.NewDefaultLogger(slog.LevelInfo)
	}
	if o.PoolCapacity <= 0 {
		o.PoolCapacity = defaultPoolCapacity
	}
}

// BuildFunc is the tree-building collaborator: it visits every key the new
// generation needs, in whatever order it likes, through the Generation's
// accessors. Returning an error discards the generation without committing.
type BuildFunc func(ctx context.Context, gen *Generation) error

// Runner owns one tree's committed store and serializes its generations:
// each Run seeds a working store, hands it to the build, and commits the
// result. At most one generation is in flight per Runner; Run is the single
// ordering point between Commit and the next Seed. Enqueue may be called
// from any goroutine at any time.
type Runner struct {
	name  string
	opts  Options
	pools *Pools
	log   utils.Logger
	trace *Trace

	committed *StateStore
	runLock   sync.Mutex
}

func NewRunner(name string, opts Options) *Runner {
	opts.SetDefaults()
	pools := NewPools(opts.PoolCapacity)
	committed := NewStateStore(pools, opts.Logger)
	committed.SetReleaser(opts.ReleaseContainer)
	r := &Runner{
		name:      name,
		opts:      opts,
		pools:     pools,
		log:       opts.Logger,
		committed: committed,
	}
	if opts.TraceCapacity > 0 {
		r.trace = NewTrace(opts.TraceCapacity)
	}
	return r
}

// Enqueue queues a state update for the key. The update is applied exactly
// once, during the next generation that gets past this call's checkpoint.
func (r *Runner) Enqueue(key string, update StateUpdate) {
	r.committed.Enqueue(key, update)
	UpdatesEnqueued.WithLabelValues(r.name).Inc()
}

// IsEmpty reports whether the tree has any stateful keys at all, letting
// the scheduler skip reconciliation for stateless trees.
func (r *Runner) IsEmpty() bool {
	return r.committed.IsEmpty()
}

// Store exposes the committed store, e.g. for metrics collection.
func (r *Runner) Store() *StateStore {
	return r.committed
}

// Trace returns the per-key update trace, or nil when tracing is off.
func (r *Runner) Trace() *Trace {
	return r.trace
}

// Run executes one generation: seed a working store from the committed one,
// let build visit the tree, then commit and return the transitions emitted
// by applied updates. A build error or a cancelled context discards the
// working store with no visible effect on the committed store; pending
// updates stay queued, in order, for the next generation.
func (r *Runner) Run(ctx context.Context, build BuildFunc) ([]Transition, error) {
	r.runLock.Lock()
	defer r.runLock.Unlock()
	return r.run(ctx, build)
}

// TryRun is Run without waiting: it fails with ErrBuildRunning when another
// generation is in flight instead of queueing behind it. Useful for
// schedulers that coalesce rebuild requests themselves.
func (r *Runner) TryRun(ctx context.Context, build BuildFunc) ([]Transition, error) {
	if !r.runLock.TryLock() {
		return nil, ErrBuildRunning
	}
	defer r.runLock.Unlock()
	return r.run(ctx, build)
}

func (r *Runner) run(ctx context.Context, build BuildFunc) ([]Transition, error) {
	start := time.Now()
	working := NewStateStore(r.pools, r.log)
	working.SetReleaser(r.opts.ReleaseContainer)
	working.Seed(r.committed)

	gen := &Generation{id: uuid.New(), runner: r, working: working}
	r.log.Debug("generation started", "tree", r.name, "gen", gen.id)

	err := build(ctx, gen)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		working.Release()
		GenerationsRun.WithLabelValues(r.name, "discarded").Inc()
		r.log.Warn("generation discarded", "tree", r.name, "gen", gen.id, "error", err)
		return nil, err
	}

	stats := r.committed.Commit(working)
	working.Release()
	transitions := r.committed.Transitions()

	GenerationsRun.WithLabelValues(r.name, "committed").Inc()
	UpdatesApplied.WithLabelValues(r.name).Add(float64(stats.AppliedUpdates))
	ContainersCollected.WithLabelValues(r.name).Add(float64(stats.CollectedContainers))
	GenerationDuration.WithLabelValues(r.name).Observe(time.Since(start).Seconds())

	r.log.Debug("generation committed",
		"tree", r.name, "gen", gen.id,
		"applied", stats.AppliedUpdates,
		"collected", stats.CollectedContainers,
		"carried", stats.CarriedKeys,
		"leftover", stats.LeftoverUpdates,
		"transitions", len(transitions))
	return transitions, nil
}

// release drops the committed store's internals. Called on Registry.Detach.
func (r *Runner) release() {
	r.runLock.Lock()
	defer r.runLock.Unlock()
	r.committed.Release()
}

// Generation is the build's window into one in-flight working store.
type Generation struct {
	id      uuid.UUID
	runner  *Runner
	working *StateStore
}

func (g *Generation) ID() uuid.UUID {
	return g.id
}

// Materialize marks the key as needed and returns its carried-forward
// container, or false when the key has no prior state and the caller must
// initialize fresh.
func (g *Generation) Materialize(key string) (StateContainer, bool) {
	return g.working.Materialize(key)
}

// Apply applies the key's pending updates to the container and records the
// result as the key's state for this generation.
func (g *Generation) Apply(ctx context.Context, key string, sc StateContainer) StateContainer {
	sc, applied, emitted := g.working.applyUpdates(ctx, key, sc)
	if g.runner.trace != nil && applied > 0 {
		g.runner.trace.record(key, TraceEntry{
			Generation:  g.id,
			Applied:     applied,
			Transitions: emitted,
			When:        time.Now(),
		})
	}
	return sc
}

// Visit runs the full per-key flow in the required order: materialize,
// fresh-init through the Runner's InitialState when no prior state exists,
// then apply pending updates. Fails with ErrNoInitialState when the key is
// unseen and no initializer is configured.
func (g *Generation) Visit(ctx context.Context, key string) (StateContainer, error) {
	sc, ok := g.Materialize(key)
	if !ok {
		if g.runner.opts.InitialState == nil {
			return nil, ErrNoInitialState
		}
		sc = g.runner.opts.InitialState(key)
	}
	return g.Apply(ctx, key, sc), nil
}
