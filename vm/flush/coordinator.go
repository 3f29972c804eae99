package flush

import (
	"fmt"

	"github.com/sarchlab/pmap/hooking"
	"github.com/sarchlab/pmap/tracing"
	"github.com/sarchlab/pmap/vm/cpu"
)

// A Space is an address space the coordinator can compute targets for.
type Space interface {
	ASID() uint32
}

// Nester is implemented by spaces that can be nested into other spaces. It
// lets the coordinator find processors running a space that shows the
// nested translations.
type Nester interface {
	Space
	NestedIn(other Space) bool
}

// Coordinator executes invalidations over a fixed set of processors.
type Coordinator struct {
	hooking.HookableBase

	name   string
	cpus   []*cpu.Processor
	kernel Space
}

// Name returns the name of the coordinator.
func (c *Coordinator) Name() string {
	return c.name
}

// Processors returns the processors the coordinator manages.
func (c *Coordinator) Processors() []*cpu.Processor {
	return c.cpus
}

// Processor returns the processor with the given id.
func (c *Coordinator) Processor(id int) *cpu.Processor {
	if id < 0 || id >= len(c.cpus) {
		panic(fmt.Sprintf("no processor %d", id))
	}

	return c.cpus[id]
}

// Targets returns the ids of the processors that may cache translations of
// space: those running it or a space that nests it. Every processor is a
// target for the kernel space.
func (c *Coordinator) Targets(space Space) []int {
	ids := make([]int, 0, len(c.cpus))

	for _, p := range c.cpus {
		if space == c.kernel || c.shows(p.Active(), space) {
			ids = append(ids, p.ID())
		}
	}

	return ids
}

func (c *Coordinator) shows(active, space Space) bool {
	if active == space {
		return true
	}

	n, ok := space.(Nester)

	return ok && n.NestedIn(active)
}

// Invalidate drops the range from the given processors now. A global
// invalidation drops everything cached on them.
func (c *Coordinator) Invalidate(targets []int, r Range, global bool) {
	taskID := tracing.StartTask("", c, "flush", "invalidate", len(targets))
	defer tracing.EndTask(taskID, c, nil)

	for _, id := range targets {
		c.invalidateOn(c.Processor(id), r, global)
	}
}

func (c *Coordinator) invalidateOn(p *cpu.Processor, r Range, global bool) {
	switch {
	case global:
		p.InvalidateAll()
	case r.End > r.Start:
		p.InvalidateRange(r.ASID, r.Start, r.End)
	default:
		p.InvalidateASID(r.ASID)
	}
}

// Defer records the invalidation into ctx instead of executing it.
func (c *Coordinator) Defer(ctx *Context, targets []int, r Range, global bool) {
	ctx.Record(targets, r, global)
}

// InvalidateOrDefer invalidates now when ctx is nil and defers otherwise.
func (c *Coordinator) InvalidateOrDefer(
	ctx *Context,
	targets []int,
	r Range,
	global bool,
) {
	if ctx == nil {
		c.Invalidate(targets, r, global)
		return
	}

	c.Defer(ctx, targets, r, global)
}

// Flush executes everything accumulated in ctx and clears it. Flushing an
// empty context does nothing. Table writes made before the work was
// recorded are visible to every processor when Flush returns, since each
// invalidation passes through the processor's lock.
func (c *Coordinator) Flush(ctx *Context) {
	cpus, global, pending := ctx.drain()
	if len(cpus) == 0 && !global && len(pending) == 0 {
		return
	}

	taskID := tracing.StartTask("", c, "flush", "flush", len(cpus))
	defer tracing.EndTask(taskID, c, nil)

	for id := range cpus {
		p := c.Processor(id)

		if global {
			p.InvalidateAll()
			continue
		}

		for _, r := range pending {
			c.invalidateOn(p, r, false)
		}
	}
}

// Builder creates coordinators.
type Builder struct {
	numCPUs       int
	numTLBEntries int
	kernel        Space
}

// MakeBuilder returns a builder with four processors of 64 TLB entries.
func MakeBuilder() Builder {
	return Builder{
		numCPUs:       4,
		numTLBEntries: 64,
	}
}

// WithNumCPUs sets the number of processors.
func (b Builder) WithNumCPUs(n int) Builder {
	b.numCPUs = n
	return b
}

// WithNumTLBEntries sets the TLB capacity of each processor.
func (b Builder) WithNumTLBEntries(n int) Builder {
	b.numTLBEntries = n
	return b
}

// WithKernel sets the kernel space. Processors start running it.
func (b Builder) WithKernel(kernel Space) Builder {
	b.kernel = kernel
	return b
}

// Build creates the coordinator and its processors.
func (b Builder) Build(name string) *Coordinator {
	if b.kernel == nil {
		panic("a flush coordinator needs the kernel space")
	}

	if b.numCPUs <= 0 {
		panic("a flush coordinator needs at least one processor")
	}

	c := &Coordinator{
		name:   name,
		kernel: b.kernel,
	}

	for i := 0; i < b.numCPUs; i++ {
		c.cpus = append(c.cpus, cpu.NewProcessor(i, b.kernel, b.numTLBEntries))
	}

	return c
}
