package outcome

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Result is the immutable record of a caught error. SpecLevel and
// InteropLevel are set only for assertion failures.
type Result struct {
	Type         string        `json:"type"`
	Message      string        `json:"message"`
	Stack        []Location    `json:"stack,omitempty"`
	SpecLevel    *SpecLevel    `json:"spec_level,omitempty"`
	InteropLevel *InteropLevel `json:"interop_level,omitempty"`
}

func (r *Result) String() string {
	if r == nil {
		return "PASSED"
	}
	if r.SpecLevel != nil && r.InteropLevel != nil {
		return fmt.Sprintf("%s (%s/%s): %s", r.Type, *r.SpecLevel, *r.InteropLevel, r.Message)
	}
	return fmt.Sprintf("%s: %s", r.Type, r.Message)
}

// Bucket classifies the Result by its type name.
func (r *Result) Bucket() Bucket {
	if r == nil {
		return BucketNone
	}
	return BucketOf(r.Type)
}

// IsSoftOrDegrade reports whether the Result is a soft or degrade
// assertion failure.
func (r *Result) IsSoftOrDegrade() bool {
	b := r.Bucket()
	return b == BucketSoftFailure || b == BucketDegradeFailure
}

// Bucket is a summary category for Results.
type Bucket int

const (
	BucketNone Bucket = iota
	BucketHardFailure
	BucketSoftFailure
	BucketDegradeFailure
	BucketSkip
	BucketInteractionControl
	BucketOtherError
)

func (b Bucket) String() string {
	switch b {
	case BucketHardFailure:
		return "hard failure"
	case BucketSoftFailure:
		return "soft failure"
	case BucketDegradeFailure:
		return "degrade failure"
	case BucketSkip:
		return "skip"
	case BucketInteractionControl:
		return "interaction control"
	case BucketOtherError:
		return "other error"
	default:
		return "none"
	}
}

// BucketOf maps a Result type name to its bucket by suffix.
func BucketOf(typeName string) Bucket {
	switch {
	case strings.HasSuffix(typeName, TypeHardAssertionFailure):
		return BucketHardFailure
	case strings.HasSuffix(typeName, TypeSoftAssertionFailure):
		return BucketSoftFailure
	case strings.HasSuffix(typeName, TypeDegradeAssertionFailure):
		return BucketDegradeFailure
	case strings.HasSuffix(typeName, "Skip"):
		return BucketSkip
	case strings.HasSuffix(typeName, "Abort"):
		return BucketInteractionControl
	default:
		return BucketOtherError
	}
}

// Kind is the control-flow outcome of a unit of work.
type Kind int

const (
	Continue Kind = iota
	Skipped
	AbortTestKind
	AbortSessionKind
	AbortRunKind
	Failed
)

func (k Kind) String() string {
	switch k {
	case Continue:
		return "continue"
	case Skipped:
		return "skip"
	case AbortTestKind:
		return "abort-test"
	case AbortSessionKind:
		return "abort-session"
	case AbortRunKind:
		return "abort-run"
	default:
		return "failed"
	}
}

// Signal is what a step, test or session hands back to its enclosing loop.
// Result is nil only for Continue.
type Signal struct {
	Kind   Kind
	Result *Result
}

// IsAbort reports whether the signal is one of the three abort kinds.
func (s Signal) IsAbort() bool {
	return s.Kind == AbortTestKind || s.Kind == AbortSessionKind || s.Kind == AbortRunKind
}

// FromError converts an error returned by test, driver or engine code into
// a Signal. A nil error is Continue.
func FromError(err error) Signal {
	if err == nil {
		return Signal{Kind: Continue}
	}

	var abort *AbortError
	if errors.As(err, &abort) {
		kind := AbortRunKind
		switch abort.Scope {
		case ScopeTest:
			kind = AbortTestKind
		case ScopeSession:
			kind = AbortSessionKind
		}
		return Signal{Kind: kind, Result: resultOf(abort, err)}
	}

	var skip *SkipError
	if errors.As(err, &skip) {
		return Signal{Kind: Skipped, Result: resultOf(skip, err)}
	}
	var notImpl *NotImplementedByNodeError
	if errors.As(err, &notImpl) {
		return Signal{Kind: Skipped, Result: resultOf(notImpl, err)}
	}

	var assertion *AssertionFailure
	if errors.As(err, &assertion) {
		res := resultOf(assertion, err)
		spec, interop := assertion.Spec, assertion.Interop
		res.SpecLevel = &spec
		res.InteropLevel = &interop
		return Signal{Kind: Failed, Result: res}
	}

	return Signal{Kind: Failed, Result: resultOf(err, err)}
}

// FromPanic converts a recovered panic value into a Failed signal. It must
// be called from the deferred function that recovered, so the stack still
// contains the panicking frames.
func FromPanic(v interface{}) Signal {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(3, pcs)
	return Signal{Kind: Failed, Result: &Result{
		Type:    TypePanic,
		Message: fmt.Sprint(v),
		Stack:   framesOf(pcs[:n]),
	}}
}

// Guard runs fn, converting its error or panic into a Signal.
func Guard(fn func() error) (sig Signal) {
	defer func() {
		if v := recover(); v != nil {
			sig = FromPanic(v)
		}
	}()
	return FromError(fn())
}

// resultOf builds a Result whose type comes from typed and whose message
// comes from the full (possibly wrapped) error.
func resultOf(typed error, full error) *Result {
	res := &Result{Type: TypeError, Message: full.Error()}
	var namer TypeNamer
	if errors.As(typed, &namer) {
		res.Type = namer.TypeName()
	}
	var st stackTracer
	if errors.As(typed, &st) {
		res.Stack = st.StackTrace()
	}
	if res.Stack == nil {
		res.Stack = callers(3)
	}
	return res
}
