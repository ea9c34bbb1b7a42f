package relax

import (
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/nlfff/internal/field"
)

// Backend names accepted by NewExecutor.
const (
	BackendSerial = "serial"
	BackendCPU    = "cpu"
	BackendGPU    = "gpu"
)

// Executor runs a data-parallel sweep. Run splits [0, n) into contiguous
// chunks, calls fn once per chunk, and returns only after every call has
// finished. fn must write only to the chunk it is given.
type Executor interface {
	Run(n int, fn func(lo, hi int))
	Workers() int
}

// NewExecutor returns the executor for backend. Empty means BackendCPU.
// threads bounds the CPU pool; zero or negative uses GOMAXPROCS.
func NewExecutor(backend string, threads int) (Executor, error) {
	switch backend {
	case BackendSerial:
		return serialExecutor{}, nil
	case "", BackendCPU:
		if threads <= 0 {
			threads = runtime.GOMAXPROCS(0)
		}
		if threads == 1 {
			return serialExecutor{}, nil
		}
		return &poolExecutor{workers: threads}, nil
	case BackendGPU:
		return nil, field.Invalid("backend %q is not available in this build", backend)
	}
	return nil, field.Invalid("unknown backend %q (want %q, %q or %q)", backend, BackendSerial, BackendCPU, BackendGPU)
}

type serialExecutor struct{}

func (serialExecutor) Run(n int, fn func(lo, hi int)) {
	if n > 0 {
		fn(0, n)
	}
}

func (serialExecutor) Workers() int { return 1 }

// poolExecutor fans a sweep out over a bounded errgroup.
type poolExecutor struct {
	workers int
}

func (p *poolExecutor) Workers() int { return p.workers }

func (p *poolExecutor) Run(n int, fn func(lo, hi int)) {
	if n <= 0 {
		return
	}
	chunks := min(p.workers, n)
	if chunks == 1 {
		fn(0, n)
		return
	}
	var g errgroup.Group
	g.SetLimit(p.workers)
	for c := 0; c < chunks; c++ {
		lo, hi := c*n/chunks, (c+1)*n/chunks
		g.Go(func() error {
			fn(lo, hi)
			return nil
		})
	}
	_ = g.Wait()
}
