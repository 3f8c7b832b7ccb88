package transcript

import (
	"github.com/fediverse-devnet/feditest-sub000/internal/outcome"
)

// Summary counts results by bucket: one per executed test plus each
// session or run Result no test raised. Passed is derived:
// Total - Failed - Skipped - Errored.
type Summary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Errored int `json:"errored"`

	HardFailed         int `json:"hard_failed"`
	SoftFailed         int `json:"soft_failed"`
	DegradeFailed      int `json:"degrade_failed"`
	InteractionControl int `json:"interaction_control"`
	OtherErrors        int `json:"other_errors"`

	// Matrix counts assertion failures by spec level, then interop level.
	Matrix map[string]map[string]int `json:"matrix,omitempty"`
}

// Summarize buckets results. A nil entry is a passed test.
func Summarize(results []*outcome.Result) Summary {
	var s Summary
	for _, r := range results {
		s.Total++
		switch r.Bucket() {
		case outcome.BucketHardFailure:
			s.HardFailed++
		case outcome.BucketSoftFailure:
			s.SoftFailed++
		case outcome.BucketDegradeFailure:
			s.DegradeFailed++
		case outcome.BucketSkip:
			s.Skipped++
		case outcome.BucketInteractionControl:
			s.InteractionControl++
		case outcome.BucketOtherError:
			s.OtherErrors++
		}
		if r != nil && r.SpecLevel != nil && r.InteropLevel != nil {
			if s.Matrix == nil {
				s.Matrix = make(map[string]map[string]int)
			}
			spec := r.SpecLevel.String()
			if s.Matrix[spec] == nil {
				s.Matrix[spec] = make(map[string]int)
			}
			s.Matrix[spec][r.InteropLevel.String()]++
		}
	}
	s.Failed = s.HardFailed + s.SoftFailed + s.DegradeFailed
	s.Errored = s.OtherErrors + s.InteractionControl
	s.Passed = s.Total - s.Failed - s.Skipped - s.Errored
	return s
}

// MatrixCount returns the number of failures at spec and interop.
func (s Summary) MatrixCount(spec outcome.SpecLevel, interop outcome.InteropLevel) int {
	return s.Matrix[spec.String()][interop.String()]
}
