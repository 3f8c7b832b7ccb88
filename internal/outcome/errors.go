package outcome

import (
	"fmt"
	"runtime"
	"strings"
)

// Type names recorded in Results. The summary buckets Results by suffix, so
// custom error types that want a specific bucket should end in one of
// these suffixes.
const (
	TypeHardAssertionFailure    = "HardAssertionFailure"
	TypeSoftAssertionFailure    = "SoftAssertionFailure"
	TypeDegradeAssertionFailure = "DegradeAssertionFailure"
	TypeSkip                    = "TestSkip"
	TypeNotImplementedByNode    = "NotImplementedByNodeSkip"
	TypeTestAbort               = "TestAbort"
	TypeSessionAbort            = "SessionAbort"
	TypeRunAbort                = "RunAbort"
	TypeError                   = "Error"
	TypePanic                   = "PanicError"
)

// TypeNamer lets an error choose the type name recorded in its Result.
type TypeNamer interface {
	TypeName() string
}

// stackTracer is implemented by errors that captured their call site.
type stackTracer interface {
	StackTrace() []Location
}

// AssertionKind distinguishes the three assertion severities.
type AssertionKind int

const (
	Hard AssertionKind = iota
	Soft
	Degrade
)

// AssertionFailure is raised by test code when a protocol expectation is
// not met.
type AssertionFailure struct {
	Kind    AssertionKind
	Spec    SpecLevel
	Interop InteropLevel
	Message string
	stack   []Location
}

func (e *AssertionFailure) Error() string {
	return fmt.Sprintf("%s (%s/%s): %s", e.TypeName(), e.Spec, e.Interop, e.Message)
}

func (e *AssertionFailure) TypeName() string {
	switch e.Kind {
	case Soft:
		return TypeSoftAssertionFailure
	case Degrade:
		return TypeDegradeAssertionFailure
	default:
		return TypeHardAssertionFailure
	}
}

func (e *AssertionFailure) StackTrace() []Location { return e.stack }

// HardFailure reports a violation that breaks conformance.
func HardFailure(spec SpecLevel, interop InteropLevel, format string, args ...interface{}) error {
	return newAssertion(Hard, spec, interop, format, args...)
}

// SoftFailure reports a violation of a recommendation.
func SoftFailure(spec SpecLevel, interop InteropLevel, format string, args ...interface{}) error {
	return newAssertion(Soft, spec, interop, format, args...)
}

// DegradeFailure reports behavior that works but degrades the experience.
func DegradeFailure(spec SpecLevel, interop InteropLevel, format string, args ...interface{}) error {
	return newAssertion(Degrade, spec, interop, format, args...)
}

func newAssertion(kind AssertionKind, spec SpecLevel, interop InteropLevel, format string, args ...interface{}) error {
	return &AssertionFailure{
		Kind:    kind,
		Spec:    spec,
		Interop: interop,
		Message: fmt.Sprintf(format, args...),
		stack:   callers(3),
	}
}

// SkipError opts a test or step out of execution.
type SkipError struct {
	Reason string
	stack  []Location
}

func (e *SkipError) Error() string          { return "skipped: " + e.Reason }
func (e *SkipError) TypeName() string       { return TypeSkip }
func (e *SkipError) StackTrace() []Location { return e.stack }

// Skip returns an error that skips the current test or step.
func Skip(format string, args ...interface{}) error {
	return &SkipError{Reason: fmt.Sprintf(format, args...), stack: callers(2)}
}

// NotImplementedByNodeError is returned by a node that lacks a capability a
// test needs. It is counted as a skip.
type NotImplementedByNodeError struct {
	Node       string
	Capability string
	stack      []Location
}

func (e *NotImplementedByNodeError) Error() string {
	return fmt.Sprintf("node %s does not implement %s", e.Node, e.Capability)
}
func (e *NotImplementedByNodeError) TypeName() string       { return TypeNotImplementedByNode }
func (e *NotImplementedByNodeError) StackTrace() []Location { return e.stack }

// NotImplementedByNode builds a NotImplementedByNodeError.
func NotImplementedByNode(node, capability string) error {
	return &NotImplementedByNodeError{Node: node, Capability: capability, stack: callers(2)}
}

// Scope is the level an abort applies to.
type Scope int

const (
	ScopeTest Scope = iota
	ScopeSession
	ScopeRun
)

func (s Scope) String() string {
	switch s {
	case ScopeTest:
		return "test"
	case ScopeSession:
		return "session"
	default:
		return "run"
	}
}

// AbortError stops the current test, session or run.
type AbortError struct {
	Scope  Scope
	Reason string
	stack  []Location
}

func (e *AbortError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s aborted", e.Scope)
	}
	return fmt.Sprintf("%s aborted: %s", e.Scope, e.Reason)
}

func (e *AbortError) TypeName() string {
	switch e.Scope {
	case ScopeTest:
		return TypeTestAbort
	case ScopeSession:
		return TypeSessionAbort
	default:
		return TypeRunAbort
	}
}

func (e *AbortError) StackTrace() []Location { return e.stack }

func AbortTest(reason string) error {
	return &AbortError{Scope: ScopeTest, Reason: reason, stack: callers(2)}
}

func AbortSession(reason string) error {
	return &AbortError{Scope: ScopeSession, Reason: reason, stack: callers(2)}
}

func AbortRun(reason string) error {
	return &AbortError{Scope: ScopeRun, Reason: reason, stack: callers(2)}
}

// Location is one frame of a recorded call stack.
type Location struct {
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

func (l Location) String() string {
	return fmt.Sprintf("%s (%s:%d)", l.Function, l.File, l.Line)
}

const maxStackDepth = 32

func callers(skip int) []Location {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(skip+1, pcs)
	return framesOf(pcs[:n])
}

func framesOf(pcs []uintptr) []Location {
	if len(pcs) == 0 {
		return nil
	}
	frames := runtime.CallersFrames(pcs)
	var out []Location
	for {
		frame, more := frames.Next()
		if !strings.HasPrefix(frame.Function, "runtime.") {
			out = append(out, Location{Function: frame.Function, File: frame.File, Line: frame.Line})
		}
		if !more {
			break
		}
	}
	return out
}
