package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fediverse-devnet/feditest-sub000/internal/node"
)

// Nodes are the nodes handed to a test, keyed by the test's own role names.
type Nodes map[string]node.Node

// Test is a registered test. It is either a FunctionTest or a ClassTest.
type Test interface {
	Name() string
	Description() string
	// Roles are the role names the test declares, before plan remapping.
	Roles() []string
}

// FunctionTest is a test without steps.
type FunctionTest interface {
	Test
	Run(ctx context.Context, nodes Nodes) error
}

// ClassTest is instantiated once and then run step by step.
type ClassTest interface {
	Test
	StepNames() []string
	Instantiate(ctx context.Context, nodes Nodes) (Instance, error)
}

// Instance is an instantiated ClassTest.
type Instance interface {
	RunStep(ctx context.Context, index int) error
}

type baseTest struct {
	name        string
	description string
	roles       []string
}

func (b baseTest) Name() string        { return b.name }
func (b baseTest) Description() string { return b.description }
func (b baseTest) Roles() []string     { return append([]string(nil), b.roles...) }

type functionTest struct {
	baseTest
	fn func(ctx context.Context, nodes Nodes) error
}

func (f *functionTest) Run(ctx context.Context, nodes Nodes) error {
	return f.fn(ctx, nodes)
}

// NewFunction returns a test that runs fn once.
func NewFunction(name, description string, roles []string, fn func(ctx context.Context, nodes Nodes) error) FunctionTest {
	return &functionTest{baseTest: baseTest{name, description, roles}, fn: fn}
}

// Step is one step of a class-style test whose state has type T.
type Step[T any] struct {
	Name string
	Fn   func(ctx context.Context, state T) error
}

type classTest[T any] struct {
	baseTest
	ctor  func(ctx context.Context, nodes Nodes) (T, error)
	steps []Step[T]
}

func (c *classTest[T]) StepNames() []string {
	names := make([]string, len(c.steps))
	for i, s := range c.steps {
		names[i] = s.Name
	}
	return names
}

func (c *classTest[T]) Instantiate(ctx context.Context, nodes Nodes) (Instance, error) {
	state, err := c.ctor(ctx, nodes)
	if err != nil {
		return nil, err
	}
	return &instance[T]{state: state, steps: c.steps}, nil
}

type instance[T any] struct {
	state T
	steps []Step[T]
}

func (i *instance[T]) RunStep(ctx context.Context, index int) error {
	if index < 0 || index >= len(i.steps) {
		return fmt.Errorf("step index %d out of range", index)
	}
	return i.steps[index].Fn(ctx, i.state)
}

// NewClass returns a test that builds its state with ctor and then runs
// steps against it in order.
func NewClass[T any](name, description string, roles []string, ctor func(ctx context.Context, nodes Nodes) (T, error), steps ...Step[T]) ClassTest {
	return &classTest[T]{baseTest: baseTest{name, description, roles}, ctor: ctor, steps: steps}
}

// Catalog holds the tests a plan can refer to by name.
type Catalog struct {
	mu    sync.RWMutex
	tests map[string]Test
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{tests: make(map[string]Test)}
}

// Register adds t. Names must be unique.
func (c *Catalog) Register(t Test) error {
	switch t.(type) {
	case FunctionTest, ClassTest:
	default:
		return fmt.Errorf("test %s is neither a function nor a class test", t.Name())
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.tests[t.Name()]; exists {
		return fmt.Errorf("test %q already registered", t.Name())
	}
	c.tests[t.Name()] = t
	return nil
}

// MustRegister is Register for package initialization.
func (c *Catalog) MustRegister(tests ...Test) *Catalog {
	for _, t := range tests {
		if err := c.Register(t); err != nil {
			panic(err)
		}
	}
	return c
}

// Lookup returns the test called name.
func (c *Catalog) Lookup(name string) (Test, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tests[name]
	return t, ok
}

// Names lists all registered test names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.tests))
	for n := range c.tests {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
