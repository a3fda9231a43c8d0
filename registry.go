package litho

import (
	"log/slog"

	"github.com/Onionbaby/litho/utils"
	"github.com/puzpuzpuz/xsync/v3"
)

// Registry tracks the Runners of every live tree in the process, keyed by
// tree name. All methods are safe for concurrent use.
type Registry struct {
	trees *xsync.MapOf[string, *Runner]
	log   utils.Logger
}

func NewRegistry(log utils.Logger) *Registry {
	if log == nil {
		log = utils.NewDefaultLogger(slog.LevelInfo)
	}
	return &Registry{
		trees: xsync.NewMapOf[string, *Runner](),
		log:   log,
	}
}

// Attach returns the tree's Runner, creating it on first use. Options of an
// already attached tree are left as they were.
func (reg *Registry) Attach(name string, opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = reg.log
	}
	runner, loaded := reg.trees.LoadOrCompute(name, func() *Runner {
		return NewRunner(name, opts)
	})
	if !loaded {
		reg.log.Debug("tree attached", "tree", name)
	}
	return runner
}

func (reg *Registry) Lookup(name string) (*Runner, bool) {
	return reg.trees.Load(name)
}

// Detach removes the tree and releases its committed store's internals.
// Any Runner reference still held by a caller goes quiescent, not invalid.
func (reg *Registry) Detach(name string) {
	runner, ok := reg.trees.LoadAndDelete(name)
	if !ok {
		return
	}
	runner.release()
	reg.log.Debug("tree detached", "tree", name)
}

func (reg *Registry) Range(fn func(name string, runner *Runner) bool) {
	reg.trees.Range(fn)
}

func (reg *Registry) Size() int {
	return reg.trees.Size()
}
