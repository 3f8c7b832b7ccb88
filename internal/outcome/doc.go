// Package outcome defines how test, driver and engine code reports what
// happened to a unit of work.
//
// Test code returns ordinary errors. The constructors in this package
// (HardFailure, SoftFailure, DegradeFailure, Skip, NotImplementedByNode,
// AbortTest, AbortSession, AbortRun) build typed errors that capture their
// call site. The run engine converts every returned error, or recovered
// panic, into a Signal with FromError, FromPanic or Guard:
//
//	sig := outcome.Guard(func() error { return step(ctx, inst) })
//	switch sig.Kind {
//	case outcome.Continue:
//	case outcome.AbortRunKind:
//		return sig
//	}
//
// A Signal's Result is the immutable record stored in the transcript. Its
// Type name decides the summary bucket by suffix.
package outcome
