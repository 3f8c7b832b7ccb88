package plan

import "sort"

// TestPlan is the declarative input of a run: an ordered list of sessions,
// each with its own constellation.
type TestPlan struct {
	Name     string    `json:"name,omitempty" jsonschema:"description=Human-readable name of the plan"`
	Sessions []Session `json:"sessions" jsonschema:"minItems=1"`
}

// Session runs an ordered list of tests against one constellation.
type Session struct {
	Name          string        `json:"name,omitempty"`
	Constellation Constellation `json:"constellation"`
	Tests         []TestSpec    `json:"tests"`
}

// Constellation maps role names to the nodes that play them.
type Constellation struct {
	Name  string              `json:"name,omitempty"`
	Roles map[string]NodeSpec `json:"roles"`
}

// RoleNames returns the role names in sorted order.
func (c Constellation) RoleNames() []string {
	names := make([]string, 0, len(c.Roles))
	for name := range c.Roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NodeSpec tells a driver how to provision one role.
type NodeSpec struct {
	Driver              string              `json:"driver" jsonschema:"minLength=1,description=Name of the node driver"`
	Parameters          map[string]string   `json:"parameters,omitempty" jsonschema:"description=Driver-specific parameters"`
	Accounts            []map[string]string `json:"accounts,omitempty"`
	NonExistingAccounts []map[string]string `json:"non_existing_accounts,omitempty"`
}

// Parameter returns the named parameter or "".
func (n NodeSpec) Parameter(name string) string {
	return n.Parameters[name]
}

// TestSpec names a test to run. RoleMapping maps the test's local role
// names to constellation roles; unmapped names are used as is.
type TestSpec struct {
	Name        string            `json:"name" jsonschema:"minLength=1"`
	RoleMapping map[string]string `json:"rolemapping,omitempty"`
	Skip        string            `json:"skip,omitempty" jsonschema:"description=If set the test is not run and this is the reason"`
}

// ConstellationRole resolves a local role name through the mapping.
func (t TestSpec) ConstellationRole(local string) string {
	if mapped, ok := t.RoleMapping[local]; ok {
		return mapped
	}
	return local
}

// Skipped reports whether the plan disables this test.
func (t TestSpec) Skipped() bool {
	return t.Skip != ""
}
