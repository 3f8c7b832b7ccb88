package plan

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validPlan = `
name: webfinger basics
sessions:
  - name: pair
    constellation:
      roles:
        client:
          driver: sandbox
          parameters:
            app: Client
        server:
          driver: sandbox
          parameters:
            app: Mastodon
            start_delay: 2s
          accounts:
            - userid: alice
    tests:
      - name: tls/certificate-chain
      - name: webfinger/discovery
        rolemapping:
          server: server
      - name: webfinger/discovery
        skip: known broken
`

func TestParseValidPlan(t *testing.T) {
	p, err := Parse([]byte(validPlan))
	require.NoError(t, err)

	want := &TestPlan{
		Name: "webfinger basics",
		Sessions: []Session{{
			Name: "pair",
			Constellation: Constellation{Roles: map[string]NodeSpec{
				"client": {Driver: "sandbox", Parameters: map[string]string{"app": "Client"}},
				"server": {
					Driver:     "sandbox",
					Parameters: map[string]string{"app": "Mastodon", "start_delay": "2s"},
					Accounts:   []map[string]string{{"userid": "alice"}},
				},
			}},
			Tests: []TestSpec{
				{Name: "tls/certificate-chain"},
				{Name: "webfinger/discovery", RoleMapping: map[string]string{"server": "server"}},
				{Name: "webfinger/discovery", Skip: "known broken"},
			},
		}},
	}
	if diff := cmp.Diff(want, p); diff != "" {
		t.Errorf("plan mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, []string{"client", "server"}, p.Sessions[0].Constellation.RoleNames())
	assert.True(t, p.Sessions[0].Tests[2].Skipped())
	assert.Equal(t, "server", p.Sessions[0].Tests[1].ConstellationRole("server"))
	assert.Equal(t, "client", p.Sessions[0].Tests[1].ConstellationRole("client"))
}

func TestParseJSONPlan(t *testing.T) {
	p, err := Parse([]byte(`{"sessions":[{"constellation":{"roles":{}},"tests":[{"name":"x"}]}]}`))
	require.NoError(t, err)
	assert.Len(t, p.Sessions, 1)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte(`
sessions:
  - constellation:
      roles:
        server:
          driver: sandbox
          colour: blue
    tests: []
`))
	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs), "got %v", err)
	require.NotEmpty(t, verrs)
	assert.Equal(t, PhaseSchema, verrs[0].Phase)
	assert.Contains(t, verrs[0].Path, "sessions[0].constellation.roles.server")
	assert.Contains(t, verrs[0].Message, "colour")
}

func TestParseSchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"no sessions", "name: empty\n"},
		{"empty sessions", "sessions: []\n"},
		{"missing driver", "sessions:\n  - constellation:\n      roles:\n        a: {}\n    tests: []\n"},
		{"empty test name", "sessions:\n  - constellation:\n      roles: {}\n    tests:\n      - name: ''\n"},
		{"wrong type", "sessions:\n  - constellation:\n      roles: []\n    tests: []\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs), "got %v", err)
			assert.Equal(t, PhaseSchema, verrs[0].Phase)
		})
	}
}

func TestParseMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("sessions: [unclosed\n"))
	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, PhaseStructural, verrs[0].Phase)
}

func TestCheckRoleMapping(t *testing.T) {
	_, err := Parse([]byte(`
sessions:
  - constellation:
      roles:
        server:
          driver: sandbox
    tests:
      - name: webfinger/discovery
        rolemapping:
          server: nosuchrole
`))
	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs), "got %v", err)
	require.Len(t, verrs, 1)
	assert.Equal(t, PhaseSemantic, verrs[0].Phase)
	assert.Equal(t, "sessions[0].tests[0].rolemapping.server", verrs[0].Path)
	assert.True(t, strings.Contains(err.Error(), "nosuchrole"))
}

func TestCheckReportsRoleMappingInOrder(t *testing.T) {
	p := &TestPlan{Sessions: []Session{{
		Constellation: Constellation{Roles: map[string]NodeSpec{"server": {Driver: "sandbox"}}},
		Tests: []TestSpec{{
			Name:        "webfinger/discovery",
			RoleMapping: map[string]string{"zeta": "z", "alpha": "a", "mid": "m", "ok": "server"},
		}},
	}}}

	want := []string{
		"sessions[0].tests[0].rolemapping.alpha",
		"sessions[0].tests[0].rolemapping.mid",
		"sessions[0].tests[0].rolemapping.zeta",
	}
	for i := 0; i < 5; i++ {
		var got []string
		for _, e := range Check(p) {
			got = append(got, e.Path)
		}
		assert.Equal(t, want, got)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validPlan), 0644))

	p, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "webfinger basics", p.Name)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestMarshalParsesBack(t *testing.T) {
	p, err := Parse([]byte(validPlan))
	require.NoError(t, err)

	data, err := Marshal(p)
	require.NoError(t, err)
	back, err := Parse(data)
	require.NoError(t, err)
	if diff := cmp.Diff(p, back); diff != "" {
		t.Errorf("round trip mismatch (-orig +back):\n%s", diff)
	}
}

func TestGenerateJSONSchema(t *testing.T) {
	data, err := GenerateJSONSchema()
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, schemaID, doc["$id"])
	defs, ok := doc["$defs"].(map[string]interface{})
	require.True(t, ok)
	for _, name := range []string{"TestPlan", "Session", "Constellation", "NodeSpec", "TestSpec"} {
		assert.Contains(t, defs, name)
	}
}
