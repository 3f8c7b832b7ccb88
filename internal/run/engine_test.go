package run

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fediverse-devnet/feditest-sub000/internal/catalog"
	"github.com/fediverse-devnet/feditest-sub000/internal/clock"
	"github.com/fediverse-devnet/feditest-sub000/internal/controller"
	"github.com/fediverse-devnet/feditest-sub000/internal/node"
	"github.com/fediverse-devnet/feditest-sub000/internal/outcome"
	"github.com/fediverse-devnet/feditest-sub000/internal/plan"
	"github.com/fediverse-devnet/feditest-sub000/internal/registry"
)

type fakeConfig struct {
	role  string
	delay time.Duration
}

func (c fakeConfig) Role() string              { return c.role }
func (c fakeConfig) DriverName() string        { return "fake" }
func (c fakeConfig) StartDelay() time.Duration { return c.delay }

type fakeNode struct {
	role        string
	trusted     map[string]bool
	panicRemove bool
}

func (n *fakeNode) Role() string     { return n.role }
func (n *fakeNode) Hostname() string { return n.role + ".run.test" }
func (n *fakeNode) AddCertToTrustStore(_ context.Context, pem string) error {
	n.trusted[pem] = true
	return nil
}
func (n *fakeNode) RemoveCertFromTrustStore(_ context.Context, pem string) error {
	if n.panicRemove {
		panic("trust store gone")
	}
	delete(n.trusted, pem)
	return nil
}

// fakeDriver records every call it receives.
type fakeDriver struct {
	calls            []string
	nodes            map[string]*fakeNode
	failProvision    map[string]bool
	failUnprovision  map[string]bool
	panicUnprovision map[string]bool
	panicRemove      map[string]bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{nodes: map[string]*fakeNode{}, failProvision: map[string]bool{}, failUnprovision: map[string]bool{},
		panicUnprovision: map[string]bool{}, panicRemove: map[string]bool{}}
}

func (d *fakeDriver) Name() string { return "fake" }

func (d *fakeDriver) CreateConfigurationAndAccountManager(role string, spec plan.NodeSpec) (node.Configuration, node.AccountManager, error) {
	d.calls = append(d.calls, "check:"+role)
	delay, err := node.NewParams(role, spec.Parameters).Duration("delay", 0)
	if err != nil {
		return nil, nil, err
	}
	if spec.Parameter("invalid") != "" {
		return nil, nil, &node.ConfigError{Role: role, Field: "invalid", Message: "rejected"}
	}
	return fakeConfig{role: role, delay: delay}, nil, nil
}

func (d *fakeDriver) ProvisionNode(_ context.Context, role string, _ node.Configuration, _ node.AccountManager) (node.Node, error) {
	d.calls = append(d.calls, "provision:"+role)
	if d.failProvision[role] {
		return nil, errors.New("provisioning failed")
	}
	n := &fakeNode{role: role, trusted: map[string]bool{}, panicRemove: d.panicRemove[role]}
	d.nodes[role] = n
	return n, nil
}

func (d *fakeDriver) UnprovisionNode(_ context.Context, n node.Node) error {
	d.calls = append(d.calls, "unprovision:"+n.Role())
	if d.panicUnprovision[n.Role()] {
		panic("driver crashed")
	}
	if d.failUnprovision[n.Role()] {
		return errors.New("unprovisioning failed")
	}
	return nil
}

func (d *fakeDriver) count(prefix string) int {
	n := 0
	for _, c := range d.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// recorder collects the names of executed tests and steps.
type recorder struct{ ran []string }

func (r *recorder) fn(name string, roles []string, err error) catalog.Test {
	return catalog.NewFunction(name, "", roles, func(context.Context, catalog.Nodes) error {
		r.ran = append(r.ran, name)
		return err
	})
}

func (r *recorder) class(name string, stepErrs ...error) catalog.Test {
	var steps []catalog.Step[*recorder]
	for i, err := range stepErrs {
		stepName := name + "/" + string(rune('a'+i))
		err := err
		steps = append(steps, catalog.Step[*recorder]{Name: stepName, Fn: func(_ context.Context, r *recorder) error {
			r.ran = append(r.ran, stepName)
			return err
		}})
	}
	return catalog.NewClass(name, "", []string{"server"},
		func(context.Context, catalog.Nodes) (*recorder, error) { return r, nil }, steps...)
}

func constellation(roles ...string) plan.Constellation {
	c := plan.Constellation{Name: "c", Roles: map[string]plan.NodeSpec{}}
	for _, r := range roles {
		c.Roles[r] = plan.NodeSpec{Driver: "fake"}
	}
	return c
}

func session(name string, tests ...string) plan.Session {
	s := plan.Session{Name: name, Constellation: constellation("server")}
	for _, t := range tests {
		s.Tests = append(s.Tests, plan.TestSpec{Name: t})
	}
	return s
}

type harness struct {
	driver *fakeDriver
	rec    *recorder
	cat    *catalog.Catalog
	reg    *registry.Registry
	clock  *clock.MockClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		driver: newFakeDriver(),
		rec:    &recorder{},
		cat:    catalog.New(),
		reg:    registry.New("run.test"),
		clock:  clock.NewMockClock(time.Time{}),
	}
}

func (h *harness) engine(opts ...Option) *Engine {
	opts = append([]Option{WithRegistry(h.reg), WithClock(h.clock)}, opts...)
	return New(node.NewDrivers(h.driver), h.cat, opts...)
}

func (h *harness) run(t *testing.T, p *plan.TestPlan, opts ...Option) (*TestRun, error) {
	t.Helper()
	return h.engine(opts...).Run(context.Background(), p, controller.Automatic{})
}

func TestRunPassingPlan(t *testing.T) {
	h := newHarness(t)
	h.cat.MustRegister(h.rec.fn("one", []string{"server"}, nil), h.rec.class("two", nil, nil))

	tr, err := h.run(t, &plan.TestPlan{Name: "p", Sessions: []plan.Session{session("s", "one", "two")}})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(tr.ID, "feditest-"))
	assert.Nil(t, tr.Result)
	require.Len(t, tr.Sessions, 1)
	s := tr.Sessions[0]
	assert.Nil(t, s.Result)
	require.Len(t, s.Tests, 2)
	assert.False(t, s.Tests[0].Class)
	assert.True(t, s.Tests[1].Class)
	assert.Len(t, s.Tests[1].Steps, 2)
	for _, rt := range s.Tests {
		assert.Nil(t, rt.Result, rt.Name)
	}
	assert.Equal(t, []string{"one", "two/a", "two/b"}, h.rec.ran)
	assert.Equal(t, []string{"check:server", "provision:server", "unprovision:server"}, h.driver.calls)
	assert.Equal(t, []RoleRecord{{Role: "server", Driver: "fake", Hostname: "server.run.test"}}, s.Constellation.Roles)
	assert.Empty(t, s.Constellation.Remaining())
}

func TestSetupChecksAllRolesBeforeProvisioning(t *testing.T) {
	h := newHarness(t)
	h.cat.MustRegister(h.rec.fn("one", nil, nil))
	s := session("s", "one")
	s.Constellation = constellation("a", "b", "c")
	s.Constellation.Roles["c"] = plan.NodeSpec{Driver: "fake", Parameters: map[string]string{"invalid": "yes"}}

	tr, err := h.run(t, &plan.TestPlan{Sessions: []plan.Session{s}})
	require.NoError(t, err)

	assert.Equal(t, []string{"check:a", "check:b", "check:c"}, h.driver.calls)
	require.NotNil(t, tr.Sessions[0].Result)
	assert.Contains(t, tr.Sessions[0].Result.Message, "role c")
	assert.Empty(t, h.rec.ran)
}

func TestTeardownRunsAfterPartialSetup(t *testing.T) {
	h := newHarness(t)
	h.cat.MustRegister(h.rec.fn("one", nil, nil))
	s := session("s", "one")
	s.Constellation = constellation("a", "b", "c")
	h.driver.failProvision["b"] = true

	tr, err := h.run(t, &plan.TestPlan{Sessions: []plan.Session{s, session("next", "one")}})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"check:a", "check:b", "check:c",
		"provision:a", "provision:b",
		"unprovision:a",
		"check:server", "provision:server", "unprovision:server",
	}, h.driver.calls)
	require.NotNil(t, tr.Sessions[0].Result)
	assert.Equal(t, outcome.BucketOtherError, tr.Sessions[0].Result.Bucket())
	assert.Equal(t, []string{"one"}, h.rec.ran, "the next session still runs")
}

func TestAllSkippedSessionProvisionsNothing(t *testing.T) {
	h := newHarness(t)
	h.cat.MustRegister(h.rec.fn("one", nil, nil))
	s := session("s")
	s.Tests = []plan.TestSpec{{Name: "one", Skip: "broken"}, {Name: "one", Skip: "again"}}

	tr, err := h.run(t, &plan.TestPlan{Sessions: []plan.Session{s, session("never", "one")}})

	var fatal *FatalError
	require.True(t, errors.As(err, &fatal))
	assert.Equal(t, 0, fatal.SessionIndex)
	assert.Empty(t, h.driver.calls)
	require.Len(t, tr.Sessions, 1)
	assert.Nil(t, tr.Sessions[0].Constellation)
	assert.Empty(t, tr.Sessions[0].Tests)
}

func TestFailingStepStopsTestNotSession(t *testing.T) {
	h := newHarness(t)
	hard := outcome.HardFailure(outcome.SpecMust, outcome.InteropProblem, "broken")
	h.cat.MustRegister(h.rec.class("first", nil, hard, nil), h.rec.fn("second", nil, nil))

	tr, err := h.run(t, &plan.TestPlan{Sessions: []plan.Session{session("s", "first", "second")}})
	require.NoError(t, err)

	assert.Equal(t, []string{"first/a", "first/b", "second"}, h.rec.ran)
	tests := tr.Sessions[0].Tests
	require.Len(t, tests, 2)
	require.Len(t, tests[0].Steps, 2)
	assert.Equal(t, outcome.BucketHardFailure, tests[0].Result.Bucket())
	assert.Same(t, tests[0].Steps[1].Result, tests[0].Result)
	assert.Nil(t, tests[1].Result)
}

func TestSoftStepEndToEnd(t *testing.T) {
	h := newHarness(t)
	soft := outcome.SoftFailure(outcome.SpecShould, outcome.InteropUnaffected, "meh")
	h.cat.MustRegister(h.rec.class("only", soft, nil))
	p := &plan.TestPlan{Sessions: []plan.Session{session("s", "only")}}

	tr, err := h.run(t, p)
	require.NoError(t, err)

	rt := tr.Sessions[0].Tests[0]
	require.Len(t, rt.Steps, 1)
	assert.Equal(t, outcome.BucketSoftFailure, rt.Result.Bucket())
	assert.Equal(t, []string{"only/a"}, h.rec.ran)
}

func TestAbortRunInStepStopsEverything(t *testing.T) {
	h := newHarness(t)
	h.cat.MustRegister(h.rec.class("stopper", nil, outcome.AbortRun("enough"), nil), h.rec.fn("later", nil, nil))

	tr, err := h.run(t, &plan.TestPlan{Sessions: []plan.Session{
		session("s1", "stopper", "later"),
		session("s2", "later"),
	}})
	require.NoError(t, err)

	assert.Equal(t, []string{"stopper/a", "stopper/b"}, h.rec.ran)
	require.Len(t, tr.Sessions, 1)
	require.NotNil(t, tr.Result)
	assert.Equal(t, outcome.TypeRunAbort, tr.Result.Type)
	assert.Equal(t, outcome.TypeRunAbort, tr.Sessions[0].Result.Type)
	assert.Equal(t, 1, h.driver.count("unprovision:"), "teardown of the session in progress")
}

func TestAbortSessionSkipsRestOfSession(t *testing.T) {
	h := newHarness(t)
	h.cat.MustRegister(
		h.rec.fn("stopper", nil, outcome.AbortSession("enough")),
		h.rec.fn("later", nil, nil),
	)

	tr, err := h.run(t, &plan.TestPlan{Sessions: []plan.Session{
		session("s1", "stopper", "later"),
		session("s2", "later"),
	}})
	require.NoError(t, err)

	assert.Equal(t, []string{"stopper", "later"}, h.rec.ran)
	require.Len(t, tr.Sessions, 2)
	assert.Equal(t, outcome.TypeSessionAbort, tr.Sessions[0].Result.Type)
	assert.Equal(t, outcome.TypeSessionAbort, tr.Sessions[0].Tests[0].Result.Type)
	assert.Nil(t, tr.Sessions[1].Result)
	assert.Nil(t, tr.Result)
}

func TestAbortTestOnlyStopsTest(t *testing.T) {
	h := newHarness(t)
	h.cat.MustRegister(h.rec.class("stopper", outcome.AbortTest("enough"), nil), h.rec.fn("later", nil, nil))

	tr, err := h.run(t, &plan.TestPlan{Sessions: []plan.Session{session("s", "stopper", "later")}})
	require.NoError(t, err)

	assert.Equal(t, []string{"stopper/a", "later"}, h.rec.ran)
	assert.Equal(t, outcome.BucketInteractionControl, tr.Sessions[0].Tests[0].Result.Bucket())
	assert.Nil(t, tr.Sessions[0].Result)
}

func TestPanicIsContainedInTest(t *testing.T) {
	h := newHarness(t)
	h.cat.MustRegister(
		catalog.NewFunction("boom", "", nil, func(context.Context, catalog.Nodes) error { panic("kaboom") }),
		h.rec.fn("after", nil, nil),
	)

	tr, err := h.run(t, &plan.TestPlan{Sessions: []plan.Session{session("s", "boom", "after")}})
	require.NoError(t, err)

	res := tr.Sessions[0].Tests[0].Result
	require.NotNil(t, res)
	assert.Equal(t, outcome.TypePanic, res.Type)
	assert.Equal(t, "kaboom", res.Message)
	assert.Equal(t, []string{"after"}, h.rec.ran)
}

func TestRoleMappingAndMissingRole(t *testing.T) {
	h := newHarness(t)
	var got catalog.Nodes
	h.cat.MustRegister(
		catalog.NewFunction("mapped", "", []string{"client"}, func(_ context.Context, n catalog.Nodes) error {
			got = n
			return nil
		}),
		h.rec.fn("missing", []string{"nobody"}, nil),
	)
	s := session("s")
	s.Tests = []plan.TestSpec{
		{Name: "mapped", RoleMapping: map[string]string{"client": "server"}},
		{Name: "missing"},
	}

	tr, err := h.run(t, &plan.TestPlan{Sessions: []plan.Session{s}})
	require.NoError(t, err)

	require.Contains(t, got, "client")
	assert.Equal(t, "server", got["client"].Role())
	missing := tr.Sessions[0].Tests[1].Result
	require.NotNil(t, missing)
	assert.Equal(t, outcome.BucketOtherError, missing.Bucket())
	assert.Contains(t, missing.Message, "nobody")
	assert.Empty(t, h.rec.ran)
}

func TestInstantiationFailureRunsNoSteps(t *testing.T) {
	h := newHarness(t)
	ran := false
	h.cat.MustRegister(catalog.NewClass("broken", "", nil,
		func(context.Context, catalog.Nodes) (int, error) { return 0, outcome.Skip("not today") },
		catalog.Step[int]{Name: "never", Fn: func(context.Context, int) error { ran = true; return nil }},
	))

	tr, err := h.run(t, &plan.TestPlan{Sessions: []plan.Session{session("s", "broken")}})
	require.NoError(t, err)

	rt := tr.Sessions[0].Tests[0]
	assert.False(t, ran)
	assert.Empty(t, rt.Steps)
	assert.Equal(t, outcome.BucketSkip, rt.Result.Bucket())
}

func TestSettleDelaySleptOnce(t *testing.T) {
	h := newHarness(t)
	h.cat.MustRegister(h.rec.fn("one", nil, nil))
	s := session("s", "one")
	s.Constellation = constellation("a", "b")
	s.Constellation.Roles["a"] = plan.NodeSpec{Driver: "fake", Parameters: map[string]string{"delay": "3"}}
	s.Constellation.Roles["b"] = plan.NodeSpec{Driver: "fake", Parameters: map[string]string{"delay": "5s"}}

	var hooked time.Duration
	_, err := h.run(t, &plan.TestPlan{Sessions: []plan.Session{s}},
		WithSettleHook(func(d time.Duration) func() { hooked = d; return func() {} }))
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{5 * time.Second}, h.clock.Sleeps())
	assert.Equal(t, 5*time.Second, hooked)
}

func TestCADistributedAndWithdrawn(t *testing.T) {
	h := newHarness(t)
	_, err := h.reg.ObtainRegistryRoot()
	require.NoError(t, err)
	ca := h.reg.RootCertPEM()

	bundlePath := filepath.Join(t.TempDir(), "bundle.pem")
	require.NoError(t, os.WriteFile(bundlePath, []byte("original\n"), 0o600))

	var trustedDuringTest bool
	var bundleDuringTest string
	h.cat.MustRegister(catalog.NewFunction("probe", "", []string{"server"}, func(_ context.Context, n catalog.Nodes) error {
		trustedDuringTest = n["server"].(*fakeNode).trusted[ca]
		b, _ := os.ReadFile(bundlePath)
		bundleDuringTest = string(b)
		return nil
	}))

	_, err = h.run(t, &plan.TestPlan{Sessions: []plan.Session{session("s", "probe")}},
		WithTrustBundle(registry.NewTrustBundle(bundlePath)))
	require.NoError(t, err)

	assert.True(t, trustedDuringTest)
	assert.Contains(t, bundleDuringTest, ca)
	assert.Empty(t, h.driver.nodes["server"].trusted)
	b, err := os.ReadFile(bundlePath)
	require.NoError(t, err)
	assert.Equal(t, "original\n", string(b))
}

func TestLeftoverNodesAreFatal(t *testing.T) {
	h := newHarness(t)
	h.cat.MustRegister(h.rec.fn("one", nil, nil))
	h.driver.failUnprovision["server"] = true

	tr, err := h.run(t, &plan.TestPlan{Sessions: []plan.Session{session("s", "one"), session("never", "one")}})

	var fatal *FatalError
	require.True(t, errors.As(err, &fatal))
	assert.Equal(t, []string{"server"}, fatal.Roles)
	assert.Len(t, tr.Sessions, 1)
}

func TestPanicDuringTeardownIsLogged(t *testing.T) {
	h := newHarness(t)
	_, err := h.reg.ObtainRegistryRoot()
	require.NoError(t, err)
	h.cat.MustRegister(h.rec.fn("one", nil, nil))
	h.driver.panicRemove["server"] = true

	tr, err := h.run(t, &plan.TestPlan{Sessions: []plan.Session{session("s", "one"), session("t", "one")}})
	require.NoError(t, err)
	assert.Len(t, tr.Sessions, 2)
	assert.Equal(t, 2, h.driver.count("unprovision:"))
	for _, s := range tr.Sessions {
		assert.Empty(t, s.Constellation.Remaining())
	}
}

func TestPanicDuringUnprovisionLeavesNodeTracked(t *testing.T) {
	h := newHarness(t)
	h.cat.MustRegister(h.rec.fn("one", nil, nil))
	h.driver.panicUnprovision["server"] = true

	var fatal *FatalError
	assert.NotPanics(t, func() {
		_, err := h.run(t, &plan.TestPlan{Sessions: []plan.Session{session("s", "one")}})
		require.True(t, errors.As(err, &fatal), "got %v", err)
	})
	require.NotNil(t, fatal)
	assert.Equal(t, []string{"server"}, fatal.Roles)
}

func TestCancelledContextAbortsRun(t *testing.T) {
	h := newHarness(t)
	h.cat.MustRegister(h.rec.fn("one", nil, nil))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr, err := h.engine().Run(ctx, &plan.TestPlan{Sessions: []plan.Session{session("s", "one")}}, controller.Automatic{})
	require.NoError(t, err)
	require.NotNil(t, tr.Result)
	assert.Equal(t, outcome.TypeRunAbort, tr.Result.Type)
	assert.Empty(t, tr.Sessions)
}

// stepQuitter quits the run when asked for the second step.
type stepQuitter struct{ controller.Automatic }

func (stepQuitter) NextStepIndex(_ []string, last int) (int, error) {
	if last == 0 {
		return -1, outcome.AbortRun("quit")
	}
	return last + 1, nil
}

func TestControllerAbortAtStepLevel(t *testing.T) {
	h := newHarness(t)
	h.cat.MustRegister(h.rec.class("steps", nil, nil))

	tr, err := h.engine().Run(context.Background(), &plan.TestPlan{Sessions: []plan.Session{session("s", "steps")}}, stepQuitter{})
	require.NoError(t, err)

	rt := tr.Sessions[0].Tests[0]
	assert.Len(t, rt.Steps, 1)
	assert.Equal(t, outcome.TypeRunAbort, rt.Result.Type)
	assert.Equal(t, outcome.TypeRunAbort, tr.Result.Type)
	assert.Equal(t, 1, h.driver.count("unprovision:"))
}

func TestCheck(t *testing.T) {
	h := newHarness(t)
	h.cat.MustRegister(h.rec.fn("one", nil, nil))
	bad := session("s", "one", "unknown")
	bad.Constellation.Roles["x"] = plan.NodeSpec{Driver: "nope"}

	e := h.engine()
	assert.NoError(t, e.Check(&plan.TestPlan{Sessions: []plan.Session{session("s", "one")}}))
	err := e.Check(&plan.TestPlan{Sessions: []plan.Session{bad}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown test "unknown"`)
	assert.Contains(t, err.Error(), "role x")
	assert.Empty(t, h.driver.count("provision:"))
}

func TestRecordWho(t *testing.T) {
	h := newHarness(t)
	h.cat.MustRegister(h.rec.fn("one", nil, nil))
	p := &plan.TestPlan{Sessions: []plan.Session{session("s", "one")}}

	tr, err := h.run(t, p)
	require.NoError(t, err)
	assert.Empty(t, tr.Hostname)

	tr, err = h.run(t, p, WithRecordWho(true))
	require.NoError(t, err)
	host, _ := os.Hostname()
	assert.Equal(t, host, tr.Hostname)
}

func TestDeriveResult(t *testing.T) {
	soft := outcome.FromError(outcome.SoftFailure(outcome.SpecShould, outcome.InteropDegraded, "s")).Result
	degrade := outcome.FromError(outcome.DegradeFailure(outcome.SpecImplied, outcome.InteropDegraded, "d")).Result
	hard := outcome.FromError(outcome.HardFailure(outcome.SpecMust, outcome.InteropProblem, "h")).Result
	other := outcome.FromError(errors.New("x")).Result

	steps := func(rs ...*outcome.Result) []*TestRunStep {
		var out []*TestRunStep
		for i, r := range rs {
			out = append(out, &TestRunStep{Index: i, Result: r})
		}
		return out
	}

	assert.Nil(t, deriveResult(steps(nil, nil)))
	assert.Same(t, soft, deriveResult(steps(nil, soft, degrade)))
	assert.Same(t, degrade, deriveResult(steps(degrade, soft)))
	assert.Same(t, hard, deriveResult(steps(soft, hard, other)))
	assert.Same(t, other, deriveResult(steps(degrade, other, hard)))
}
