package run

import (
	"time"

	"github.com/fediverse-devnet/feditest-sub000/internal/outcome"
	"github.com/fediverse-devnet/feditest-sub000/internal/plan"
)

// TestRun is one execution of a TestPlan. It is written by the Engine only
// and read after Run returns.
type TestRun struct {
	ID       string
	Plan     *plan.TestPlan
	Started  time.Time
	Ended    time.Time
	Username string
	Hostname string
	Sessions []*TestRunSession
	// Result is set when the run itself ended with a non-Continue signal,
	// usually an AbortRun.
	Result *outcome.Result
}

// TestRunSession is the execution of one plan session.
type TestRunSession struct {
	PlanIndex     int
	Name          string
	Started       time.Time
	Ended         time.Time
	Constellation *TestRunConstellation
	Tests         []*TestRunTest
	Result        *outcome.Result
}

// TestRunTest records one execution of a test. Steps is nil for
// function-style tests.
type TestRunTest struct {
	PlanIndex int
	Name      string
	Class     bool
	Started   time.Time
	Ended     time.Time
	Steps     []*TestRunStep
	Result    *outcome.Result
}

// TestRunStep records one step of a class-style test.
type TestRunStep struct {
	Index   int
	Name    string
	Started time.Time
	Ended   time.Time
	Result  *outcome.Result
}

// deriveResult picks a class test's result from its steps: the first
// result that is neither a soft nor a degrade failure, else the first soft
// or degrade failure, else nil.
func deriveResult(steps []*TestRunStep) *outcome.Result {
	var softOrDegrade *outcome.Result
	for _, s := range steps {
		if s.Result == nil {
			continue
		}
		if !s.Result.IsSoftOrDegrade() {
			return s.Result
		}
		if softOrDegrade == nil {
			softOrDegrade = s.Result
		}
	}
	return softOrDegrade
}
