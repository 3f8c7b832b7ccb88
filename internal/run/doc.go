// Package run executes test plans.
//
// An Engine walks a plan as Run, Session, Test and Step, asking a
// controller.Controller for the next index at each level. Every unit of
// work yields an outcome.Signal:
//
//   - AbortTest stops the current test only.
//   - AbortSession stops the current session.
//   - AbortRun stops everything.
//   - any other failure is recorded on the tightest enclosing unit and goes
//     no further.
//
// A session's constellation is provisioned lazily when its first
// non-skipped test is about to run, and torn down when the session ends,
// whatever the reason. Conditions the transcript cannot represent stop the
// run with a *FatalError.
package run
