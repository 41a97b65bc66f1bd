// Package predicate adds an optional compiled-expression form of a
// node's network.RequiredInputsPredicate, alongside the plain Go
// callback spec §6 defines. Its LRU of compiled expr-lang/expr
// programs is grounded on the teacher's engine.ConditionCache
// (backend/pkg/engine/condition_cache.go), retargeted from "should
// this edge execute" to "which optional inputs does this node
// require", with the LRU itself reworked onto an intrusive linked
// list (see Cache) rather than ported as container/list calls.
package predicate

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/flowmesh/dagcore/pkg/network"
)

// Env is the evaluation environment exposed to a compiled predicate
// expression: input values by name, plus the invocation index.
type Env struct {
	Inputs          map[string]any
	InvocationIndex int
}

// entry is one node of the cache's intrusive doubly linked
// most-recently-used list; entry.program is swapped in place on a
// recompile, so an entry's identity (and its position in the LRU
// order) outlives the program it currently holds.
type entry struct {
	source     string
	program    *vm.Program
	prev, next *entry
}

// Cache is a thread-safe LRU of compiled expr-lang programs, keyed by
// source text, generalizing the teacher's ConditionCache
// (container/list-backed) to an intrusive list so promoting a hit to
// most-recently-used is a pointer splice rather than a boxed
// container/list.Element lookup. Get (and Compile through it) mutates
// the list even on a cache hit (promotion), so this takes a plain Mutex —
// an RWMutex would let concurrent Get calls race on the same splice.
type Cache struct {
	capacity   int
	mu         sync.Mutex
	index      map[string]*entry
	head, tail *entry // head = most recently used, tail = least
}

// NewCache returns an LRU of the given capacity (100 if non-positive,
// matching the teacher's default).
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 100
	}
	return &Cache{capacity: capacity, index: make(map[string]*entry)}
}

// Get returns a previously compiled program for source, if cached.
func (c *Cache) Get(source string) (*vm.Program, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.index[source]
	if !ok {
		return nil, false
	}
	c.moveToFront(e)
	return e.program, true
}

func (c *Cache) put(source string, program *vm.Program) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.index[source]; ok {
		e.program = program
		c.moveToFront(e)
		return
	}
	e := &entry{source: source, program: program}
	c.index[source] = e
	c.pushFront(e)
	if len(c.index) > c.capacity && c.tail != nil {
		evicted := c.tail
		c.unlink(evicted)
		delete(c.index, evicted.source)
	}
}

// pushFront links e in as the new most-recently-used head. e must not
// already be linked.
func (c *Cache) pushFront(e *entry) {
	e.prev, e.next = nil, c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

// unlink splices e out of the list, fixing up head/tail if e was
// either end.
func (c *Cache) unlink(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev, e.next = nil, nil
}

func (c *Cache) moveToFront(e *entry) {
	if c.head == e {
		return
	}
	c.unlink(e)
	c.pushFront(e)
}

// Clear wipes every compiled program.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = make(map[string]*entry)
	c.head, c.tail = nil, nil
}

// Len returns the number of currently cached programs.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

// Compile compiles source as a boolean-or-string expression (bool
// decides NoReads/AllReads, a matched input name decides OneRead) and
// caches it, returning the cached program on a hit.
func (c *Cache) Compile(source string) (*vm.Program, error) {
	if p, ok := c.Get(source); ok {
		return p, nil
	}
	program, err := expr.Compile(source, expr.Env(Env{}))
	if err != nil {
		return nil, fmt.Errorf("predicate: compile %q: %w", source, err)
	}
	c.put(source, program)
	return program, nil
}

// Eval compiles (or reuses the cached compilation of) source and runs
// it against env, translating the result into a
// network.RequiredInputs: a bool result maps to NoReads/AllReads, a
// string result is treated as the single required input's name
// (OneRead).
func (c *Cache) Eval(source string, env Env) (network.RequiredInputs, error) {
	program, err := c.Compile(source)
	if err != nil {
		return network.RequiredInputs{}, err
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return network.RequiredInputs{}, fmt.Errorf("predicate: eval %q: %w", source, err)
	}
	switch v := out.(type) {
	case bool:
		if v {
			return network.RequiredInputs{Kind: network.AllReads}, nil
		}
		return network.RequiredInputs{Kind: network.NoReads}, nil
	case string:
		if v == "" {
			return network.RequiredInputs{Kind: network.NoReads}, nil
		}
		return network.RequiredInputs{Kind: network.OneRead, Input: v}, nil
	default:
		return network.RequiredInputs{}, fmt.Errorf("predicate: %q evaluated to unsupported type %T", source, out)
	}
}

// AsRequiredInputsPredicate adapts a compiled-expression predicate into
// the network.RequiredInputsPredicate callback contract, building Env
// from whatever the node's inputs currently report. A compile/eval
// error falls back to AllReads — a required-inputs predicate that
// can't decide should never silently under-request data.
func (c *Cache) AsRequiredInputsPredicate(source string, inputNames []string) network.RequiredInputsPredicate {
	return func(ctx network.ComputeContext) network.RequiredInputs {
		env := Env{Inputs: make(map[string]any, len(inputNames)), InvocationIndex: ctx.InvocationIndex()}
		for _, name := range inputNames {
			if v, ok := ctx.Input(name); ok {
				env.Inputs[name] = v
			}
		}
		result, err := c.Eval(source, env)
		if err != nil {
			return network.RequiredInputs{Kind: network.AllReads}
		}
		return result
	}
}
