// Package transcript turns a finished run.TestRun into an exportable
// Transcript and renders it.
//
// The summary counts one result per executed test, bucketed by the suffix
// of its type name. Tests the plan skipped are not counted.
package transcript
