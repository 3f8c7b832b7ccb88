package transcript

import (
	"time"

	"github.com/fediverse-devnet/feditest-sub000/internal/outcome"
	"github.com/fediverse-devnet/feditest-sub000/internal/run"
)

// Transcript is the exportable record of a TestRun.
type Transcript struct {
	ID       string          `json:"id"`
	Plan     string          `json:"plan,omitempty"`
	Started  time.Time       `json:"started"`
	Ended    time.Time       `json:"ended"`
	Username string          `json:"username,omitempty"`
	Hostname string          `json:"hostname,omitempty"`
	Sessions []Session       `json:"sessions"`
	Result   *outcome.Result `json:"result,omitempty"`
	Summary  Summary         `json:"summary"`
}

type Session struct {
	PlanIndex     int             `json:"plan_index"`
	Name          string          `json:"name"`
	Started       time.Time       `json:"started"`
	Ended         time.Time       `json:"ended"`
	Constellation *Constellation  `json:"constellation,omitempty"`
	Tests         []Test          `json:"tests"`
	Result        *outcome.Result `json:"result,omitempty"`
}

type Constellation struct {
	Name  string `json:"name"`
	Roles []Role `json:"roles"`
}

type Role struct {
	Name     string `json:"name"`
	Driver   string `json:"driver"`
	Hostname string `json:"hostname"`
}

type Test struct {
	PlanIndex int             `json:"plan_index"`
	Name      string          `json:"name"`
	Started   time.Time       `json:"started"`
	Ended     time.Time       `json:"ended"`
	Steps     []Step          `json:"steps,omitempty"`
	Result    *outcome.Result `json:"result,omitempty"`
}

type Step struct {
	Index   int             `json:"index"`
	Name    string          `json:"name"`
	Started time.Time       `json:"started"`
	Ended   time.Time       `json:"ended"`
	Result  *outcome.Result `json:"result,omitempty"`
}

// Transcribe converts a finished TestRun. It only reads tr.
func Transcribe(tr *run.TestRun) *Transcript {
	t := &Transcript{
		ID:       tr.ID,
		Started:  tr.Started,
		Ended:    tr.Ended,
		Username: tr.Username,
		Hostname: tr.Hostname,
		Sessions: make([]Session, 0, len(tr.Sessions)),
		Result:   tr.Result,
	}
	if tr.Plan != nil {
		t.Plan = tr.Plan.Name
	}

	var results []*outcome.Result
	// Aborts and setup failures end up on a session or the run. A Result
	// raised by a test and passed up is counted once.
	counted := make(map[*outcome.Result]bool)
	countOnce := func(r *outcome.Result) {
		if !counted[r] {
			counted[r] = true
			results = append(results, r)
		}
	}
	for _, rs := range tr.Sessions {
		s := Session{
			PlanIndex: rs.PlanIndex,
			Name:      rs.Name,
			Started:   rs.Started,
			Ended:     rs.Ended,
			Tests:     make([]Test, 0, len(rs.Tests)),
			Result:    rs.Result,
		}
		if c := rs.Constellation; c != nil {
			s.Constellation = &Constellation{Name: c.Name, Roles: make([]Role, 0, len(c.Roles))}
			for _, r := range c.Roles {
				s.Constellation.Roles = append(s.Constellation.Roles, Role{Name: r.Role, Driver: r.Driver, Hostname: r.Hostname})
			}
		}
		for _, rt := range rs.Tests {
			test := Test{
				PlanIndex: rt.PlanIndex,
				Name:      rt.Name,
				Started:   rt.Started,
				Ended:     rt.Ended,
				Result:    rt.Result,
			}
			for _, st := range rt.Steps {
				test.Steps = append(test.Steps, Step{
					Index:   st.Index,
					Name:    st.Name,
					Started: st.Started,
					Ended:   st.Ended,
					Result:  st.Result,
				})
			}
			s.Tests = append(s.Tests, test)
			results = append(results, rt.Result)
			counted[rt.Result] = true
		}
		if rs.Result != nil {
			countOnce(rs.Result)
		}
		t.Sessions = append(t.Sessions, s)
	}
	if tr.Result != nil {
		countOnce(tr.Result)
	}

	t.Summary = Summarize(results)
	return t
}

// HasFailures reports whether any test failed, or any test, session or the
// run errored.
func (t *Transcript) HasFailures() bool {
	return t.Summary.Failed > 0 || t.Summary.Errored > 0
}
