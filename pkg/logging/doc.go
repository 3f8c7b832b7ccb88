// Package logging provides the structured, subsystem-tagged logger used
// throughout feditest.
//
// It is a thin layer over log/slog. Every message carries a subsystem
// attribute naming the component that produced it:
//
//   - Run: the run orchestrator (sessions, tests, steps)
//   - Constellation: node provisioning and teardown
//   - Registry: hostname allocation and certificate issuance
//   - TrustBundle: patching of the certificate bundle file
//   - Controller: interactive run control
//   - Plan, Config: file loading
//   - Sandbox: the in-process node driver
//
// # Usage
//
//	logging.InitForCLI(logging.LevelInfo, logging.FormatText, os.Stderr)
//
//	logging.Info("Run", "Started session %d", idx)
//	logging.Warn("Constellation", "Failed to remove cert from %s", role)
//	logging.Error("Registry", err, "Cannot save registry to %s", path)
//
// Before InitForCLI is called only warnings and errors are written, to
// stderr, so that library use from tests stays quiet.
package logging
