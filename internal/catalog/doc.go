// Package catalog holds the tests a plan can name.
//
// A test is either function-style, a single function over the nodes it
// declares, or class-style: a constructor builds per-test state from the
// nodes and each Step then runs against that state, in order. Steps share
// the state, so a step can rely on what the constructor fetched.
//
// Test code reports problems by returning the errors built by package
// outcome. A node lacking a capability the test needs yields
// outcome.NotImplementedByNode, which counts as a skip.
package catalog
