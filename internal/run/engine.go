package run

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"time"

	"github.com/google/uuid"

	"github.com/fediverse-devnet/feditest-sub000/internal/catalog"
	"github.com/fediverse-devnet/feditest-sub000/internal/clock"
	"github.com/fediverse-devnet/feditest-sub000/internal/controller"
	"github.com/fediverse-devnet/feditest-sub000/internal/node"
	"github.com/fediverse-devnet/feditest-sub000/internal/outcome"
	"github.com/fediverse-devnet/feditest-sub000/internal/plan"
	"github.com/fediverse-devnet/feditest-sub000/internal/registry"
	"github.com/fediverse-devnet/feditest-sub000/pkg/logging"
)

// Engine executes test plans.
type Engine struct {
	drivers    *node.Drivers
	catalog    *catalog.Catalog
	registry   *registry.Registry
	bundle     *registry.TrustBundle
	clock      clock.Clock
	recordWho  bool
	settleHook func(time.Duration) func()
}

// Option configures an Engine.
type Option func(*Engine)

// WithRegistry sets the registry whose CA is distributed to nodes.
// Defaults to registry.Current().
func WithRegistry(r *registry.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithTrustBundle sets the trust bundle patched during each session.
func WithTrustBundle(b *registry.TrustBundle) Option {
	return func(e *Engine) { e.bundle = b }
}

// WithClock replaces the real clock.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithRecordWho records the local username and hostname in the TestRun.
func WithRecordWho(record bool) Option {
	return func(e *Engine) { e.recordWho = record }
}

// WithSettleHook registers a function called before the settle wait. The
// function it returns is called when the wait is over.
func WithSettleHook(hook func(time.Duration) func()) Option {
	return func(e *Engine) { e.settleHook = hook }
}

// New returns an Engine provisioning nodes with drivers and running tests
// from cat.
func New(drivers *node.Drivers, cat *catalog.Catalog, opts ...Option) *Engine {
	e := &Engine{
		drivers:    drivers,
		catalog:    cat,
		clock:      clock.RealClock{},
		settleHook: func(time.Duration) func() { return func() {} },
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = registry.Current()
	}
	if e.registry == nil {
		e.registry = registry.New(registry.DefaultDomain)
	}
	return e
}

// Check verifies without side effects that every test of p is in the
// catalog and every role of every constellation has a valid driver
// configuration.
func (e *Engine) Check(p *plan.TestPlan) error {
	var errs []error
	for i, s := range p.Sessions {
		if _, err := e.checkConstellation(s.Constellation); err != nil {
			errs = append(errs, fmt.Errorf("session %d (%s): %w", i, s.Name, err))
		}
		for j, ts := range s.Tests {
			if _, ok := e.catalog.Lookup(ts.Name); !ok {
				errs = append(errs, fmt.Errorf("session %d (%s) test %d: unknown test %q", i, s.Name, j, ts.Name))
			}
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) checkConstellation(spec plan.Constellation) ([]checkedRole, error) {
	var checked []checkedRole
	for _, role := range spec.RoleNames() {
		ns := spec.Roles[role]
		d, err := e.drivers.Lookup(ns.Driver)
		if err != nil {
			return nil, fmt.Errorf("role %s: %w", role, err)
		}
		cfg, am, err := d.CreateConfigurationAndAccountManager(role, ns)
		if err != nil {
			return nil, fmt.Errorf("role %s: %w", role, err)
		}
		checked = append(checked, checkedRole{role: role, driver: d, cfg: cfg, accounts: am})
	}
	return checked, nil
}

// Run executes p in the order ctrl chooses. The returned TestRun is
// complete unless the error is a *FatalError, in which case it holds what
// ran up to that point.
func (e *Engine) Run(ctx context.Context, p *plan.TestPlan, ctrl controller.Controller) (*TestRun, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate run id: %w", err)
	}
	tr := &TestRun{ID: "feditest-" + id.String(), Plan: p, Started: e.clock.Now()}
	if e.recordWho {
		if u, err := user.Current(); err == nil {
			tr.Username = u.Username
		}
		if h, err := os.Hostname(); err == nil {
			tr.Hostname = h
		}
	}
	logging.Info("Run", "Starting run %s of plan %q", tr.ID, p.Name)
	defer func() { tr.Ended = e.clock.Now() }()

	names := make([]string, len(p.Sessions))
	for i, s := range p.Sessions {
		names[i] = s.Name
	}

	last := -1
	for {
		if sig, stop := cancelled(ctx); stop {
			tr.Result = sig.Result
			break
		}
		idx, err := ctrl.NextSessionIndex(names, last)
		if err != nil {
			tr.Result = outcome.FromError(err).Result
			break
		}
		if idx < 0 || idx >= len(p.Sessions) {
			break
		}

		s, sig, fatal := e.runSession(ctx, idx, p.Sessions[idx], ctrl)
		tr.Sessions = append(tr.Sessions, s)
		if fatal != nil {
			logging.Error("Run", fatal, "Run %s stopped", tr.ID)
			return tr, fatal
		}
		if sig.Kind == outcome.AbortRunKind {
			tr.Result = sig.Result
			break
		}
		last = idx
	}

	logging.Info("Run", "Finished run %s with %d sessions", tr.ID, len(tr.Sessions))
	return tr, nil
}

// runSession runs one session and always tears down its constellation if
// setup started. The returned signal is AbortRunKind when the run must
// stop.
func (e *Engine) runSession(ctx context.Context, idx int, ps plan.Session, ctrl controller.Controller) (*TestRunSession, outcome.Signal, error) {
	s := &TestRunSession{PlanIndex: idx, Name: ps.Name, Started: e.clock.Now()}
	logging.Info("Run", "Starting session %d (%s)", idx, ps.Name)

	sig := guardSignal(func() outcome.Signal { return e.runTests(ctx, s, ps, ctrl) })
	if sig.Kind != outcome.Continue {
		s.Result = sig.Result
	}

	var fatal error
	if s.Constellation != nil {
		teardown := outcome.Guard(func() error {
			s.Constellation.Teardown(context.WithoutCancel(ctx))
			return nil
		})
		if teardown.Kind != outcome.Continue {
			logging.Warn("Run", "Teardown of session %d (%s) failed: %s", idx, ps.Name, teardown.Result)
		}
		if left := s.Constellation.Remaining(); len(left) > 0 {
			fatal = &FatalError{SessionIndex: idx, Session: ps.Name, Reason: "nodes still provisioned after teardown", Roles: left}
		}
	}
	s.Ended = e.clock.Now()

	if fatal == nil && len(s.Tests) == 0 && s.Result == nil {
		fatal = &FatalError{SessionIndex: idx, Session: ps.Name, Reason: "no test was run"}
	}
	logging.Info("Run", "Finished session %d (%s): %s", idx, ps.Name, s.Result)
	return s, sig, fatal
}

// runTests is the session's test loop. It returns a non-Continue signal
// only when the session must stop.
func (e *Engine) runTests(ctx context.Context, s *TestRunSession, ps plan.Session, ctrl controller.Controller) outcome.Signal {
	names := make([]string, len(ps.Tests))
	for i, t := range ps.Tests {
		names[i] = t.Name
	}

	last := -1
	for {
		if sig, stop := cancelled(ctx); stop {
			return sig
		}
		idx, err := ctrl.NextTestIndex(names, last)
		if err != nil {
			return outcome.FromError(err)
		}
		if idx < 0 || idx >= len(ps.Tests) {
			return outcome.Signal{Kind: outcome.Continue}
		}
		last = idx

		spec := ps.Tests[idx]
		if spec.Skipped() {
			logging.Info("Run", "Skipping test %s: %s", spec.Name, spec.Skip)
			continue
		}

		if s.Constellation == nil {
			s.Constellation = newConstellation(e, ps.Constellation)
			sig := outcome.Guard(func() error { return s.Constellation.Setup(ctx) })
			if sig.Kind != outcome.Continue {
				logging.Warn("Run", "Setup of constellation %q failed: %s", ps.Constellation.Name, sig.Result)
				return sig
			}
		}

		rt, sig := e.runTest(ctx, s.Constellation, idx, spec, ctrl)
		s.Tests = append(s.Tests, rt)
		if sig.Kind == outcome.AbortSessionKind || sig.Kind == outcome.AbortRunKind {
			return sig
		}
	}
}

// runTest runs one test and records its result. The returned signal is
// Continue unless the session or the run must stop.
func (e *Engine) runTest(ctx context.Context, c *TestRunConstellation, idx int, spec plan.TestSpec, ctrl controller.Controller) (*TestRunTest, outcome.Signal) {
	rt := &TestRunTest{PlanIndex: idx, Name: spec.Name, Started: e.clock.Now()}
	defer func() { rt.Ended = e.clock.Now() }()
	logging.Debug("Run", "Running test %s", spec.Name)

	sig := e.execute(ctx, rt, c, spec, ctrl)
	switch {
	case rt.Class && rt.Result == nil:
		rt.Result = deriveResult(rt.Steps)
	case !rt.Class:
		rt.Result = sig.Result
	}
	logging.Info("Run", "Test %s: %s", spec.Name, rt.Result)

	if sig.Kind == outcome.AbortSessionKind || sig.Kind == outcome.AbortRunKind {
		return rt, sig
	}
	return rt, outcome.Signal{Kind: outcome.Continue}
}

func (e *Engine) execute(ctx context.Context, rt *TestRunTest, c *TestRunConstellation, spec plan.TestSpec, ctrl controller.Controller) outcome.Signal {
	test, ok := e.catalog.Lookup(spec.Name)
	if !ok {
		return outcome.FromError(fmt.Errorf("unknown test %q", spec.Name))
	}
	nodes, err := resolveNodes(c, test, spec)
	if err != nil {
		return outcome.FromError(err)
	}

	switch t := test.(type) {
	case catalog.FunctionTest:
		return outcome.Guard(func() error { return t.Run(ctx, nodes) })
	case catalog.ClassTest:
		rt.Class = true
		var inst catalog.Instance
		sig := outcome.Guard(func() error {
			var err error
			inst, err = t.Instantiate(ctx, nodes)
			return err
		})
		if sig.Kind != outcome.Continue {
			rt.Result = sig.Result
			return sig
		}
		return e.runSteps(ctx, rt, t.StepNames(), inst, ctrl)
	default:
		return outcome.FromError(fmt.Errorf("test %q has unsupported type %T", spec.Name, test))
	}
}

// runSteps is the class test's step loop. A step whose signal is not
// Continue ends the test; the signal is handed up.
func (e *Engine) runSteps(ctx context.Context, rt *TestRunTest, names []string, inst catalog.Instance, ctrl controller.Controller) outcome.Signal {
	last := -1
	for {
		if sig, stop := cancelled(ctx); stop {
			rt.Result = sig.Result
			return sig
		}
		idx, err := ctrl.NextStepIndex(names, last)
		if err != nil {
			sig := outcome.FromError(err)
			rt.Result = sig.Result
			return sig
		}
		if idx < 0 || idx >= len(names) {
			return outcome.Signal{Kind: outcome.Continue}
		}
		last = idx

		step := &TestRunStep{Index: idx, Name: names[idx], Started: e.clock.Now()}
		sig := outcome.Guard(func() error { return inst.RunStep(ctx, idx) })
		step.Ended = e.clock.Now()
		step.Result = sig.Result
		rt.Steps = append(rt.Steps, step)
		if sig.Kind != outcome.Continue {
			logging.Debug("Run", "Step %s of %s ended the test: %s", step.Name, rt.Name, sig.Result)
			return sig
		}
	}
}

// resolveNodes maps the test's declared roles through the plan's role
// mapping onto live nodes.
func resolveNodes(c *TestRunConstellation, test catalog.Test, spec plan.TestSpec) (catalog.Nodes, error) {
	nodes := make(catalog.Nodes)
	for _, local := range test.Roles() {
		role := spec.ConstellationRole(local)
		n, ok := c.Node(role)
		if !ok {
			return nil, fmt.Errorf("test %s needs role %q (constellation role %q) which is not in constellation %q", spec.Name, local, role, c.Name)
		}
		nodes[local] = n
	}
	return nodes, nil
}

func cancelled(ctx context.Context) (outcome.Signal, bool) {
	if err := ctx.Err(); err != nil {
		return outcome.FromError(outcome.AbortRun(fmt.Sprintf("run cancelled: %v", err))), true
	}
	return outcome.Signal{}, false
}

func guardSignal(fn func() outcome.Signal) (sig outcome.Signal) {
	defer func() {
		if v := recover(); v != nil {
			sig = outcome.FromPanic(v)
		}
	}()
	return fn()
}
