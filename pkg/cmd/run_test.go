package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/davidxarnold/census/pkg/cloud"
	"gitlab.com/davidxarnold/census/pkg/core"
	"gitlab.com/davidxarnold/census/pkg/inventory"
)

type testVM struct {
	id, name, group, location, size, state string
	tags                                   []core.Tag
}

func sp(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (v testVM) Identity() core.Identity {
	return core.Identity{
		ID:          sp(v.id),
		Name:        sp(v.name),
		Group:       sp(v.group),
		Location:    sp(v.location),
		SizeOrClass: sp(v.size),
		State:       sp(v.state),
	}
}

func (v testVM) NetworkInterfaceCount() int { return 1 }

func (v testVM) Tags() []core.Tag { return v.tags }

type testSource struct {
	scopes    []core.Scope
	scopesErr error
	resources map[string][]core.Resource
	hints     core.OSHints
	powerErr  error
}

func (s *testSource) Name() string { return "test" }

func (s *testSource) Scopes(context.Context) ([]core.Scope, error) { return s.scopes, s.scopesErr }

func (s *testSource) List(_ context.Context, scope core.Scope) ([]core.Resource, error) {
	return s.resources[scope.ID], nil
}

func (s *testSource) Details(context.Context, core.Scope, core.Resource) (core.OSHints, error) {
	return s.hints, nil
}

func (s *testSource) PowerState(context.Context, core.Scope, core.Resource) (string, error) {
	if s.powerErr != nil {
		return "", s.powerErr
	}
	return "VM running", nil
}

func newTestSource() *testSource {
	return &testSource{
		scopes: []core.Scope{{Name: "prod", ID: "s1"}},
		resources: map[string][]core.Resource{
			"s1": {
				testVM{id: "vm-1", name: "web", group: "rg-web", location: "westeurope", size: "Standard_B2s",
					tags: []core.Tag{{Key: "env", Value: "prod"}}},
				testVM{id: "vm-2", name: "db", group: "rg-db", location: "northeurope", size: "Standard_E4s_v3"},
			},
		},
		hints: core.OSHints{LinuxConfiguration: true},
	}
}

func testSettings() settings {
	return settings{Output: outputTable, MaxFailures: -1}
}

var testReq = inventoryRequest{Source: "test", Label: "azure"}

func TestCollectAndEmit_Table(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, collectAndEmit(context.Background(), &buf, newTestSource(), testReq, testSettings()))

	out := buf.String()
	assert.Contains(t, out, "AZURE SUMMARY")
	assert.Contains(t, out, "Total resources found: 2")
	assert.Contains(t, out, "OS Type Distribution:\n  Unknown: 2")
	assert.Contains(t, out, "web")
	assert.Contains(t, out, "Standard_E4s_v3")
}

func TestCollectAndEmit_SummaryOnly(t *testing.T) {
	s := testSettings()
	s.SummaryOnly = true
	var buf bytes.Buffer
	require.NoError(t, collectAndEmit(context.Background(), &buf, newTestSource(), testReq, s))
	assert.NotContains(t, buf.String(), "Standard_E4s_v3")
}

func TestCollectAndEmit_JSON(t *testing.T) {
	s := testSettings()
	s.Output = outputJSON
	var buf bytes.Buffer
	require.NoError(t, collectAndEmit(context.Background(), &buf, newTestSource(), testReq, s))

	var doc struct {
		TotalCount int           `json:"totalCount"`
		Items      []core.Record `json:"items"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, 2, doc.TotalCount)
	assert.Equal(t, "web", doc.Items[0].Name)
	assert.Equal(t, "test", doc.Items[0].Provider)
}

func TestCollectAndEmit_Query(t *testing.T) {
	s := testSettings()
	s.Query = ".items[].name"
	var buf bytes.Buffer
	require.NoError(t, collectAndEmit(context.Background(), &buf, newTestSource(), testReq, s))
	assert.Equal(t, "web\ndb\n", buf.String())
}

func TestCollectAndEmit_DetailedAutoSavesJSON(t *testing.T) {
	chdir(t, t.TempDir())
	now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }
	defer func() { now = time.Now }()

	s := testSettings()
	s.Detailed = true
	var buf bytes.Buffer
	require.NoError(t, collectAndEmit(context.Background(), &buf, newTestSource(), testReq, s))

	assert.Contains(t, buf.String(), "Linux: 2")
	assert.Contains(t, buf.String(), "VM running: 2")

	b, err := os.ReadFile("azure_20250102_030405.json")
	require.NoError(t, err)
	assert.Contains(t, string(b), `"osType": "Linux"`)
}

func TestCollectAndEmit_SaveFlagWinsOverAutoSave(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	s := testSettings()
	s.Detailed = true
	s.SaveCSV = filepath.Join(dir, "out.csv")
	s.SaveText = filepath.Join(dir, "out.txt")
	require.NoError(t, collectAndEmit(context.Background(), &bytes.Buffer{}, newTestSource(), testReq, s))

	b, err := os.ReadFile(s.SaveCSV)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), "provider,id,name"))

	_, err = os.Stat(s.SaveText)
	assert.True(t, os.IsNotExist(err), "only the highest priority save flag is honoured")

	matches, _ := filepath.Glob(filepath.Join(dir, "azure_*.json"))
	assert.Empty(t, matches)
}

func TestCollectAndEmit_MetricsFile(t *testing.T) {
	s := testSettings()
	s.MetricsFile = filepath.Join(t.TempDir(), "census.prom")
	require.NoError(t, collectAndEmit(context.Background(), &bytes.Buffer{}, newTestSource(), testReq, s))

	b, err := os.ReadFile(s.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(b), `census_resources_total{provider="azure"} 2`)
}

func TestCollectAndEmit_ScopeFilterUnmatched(t *testing.T) {
	req := testReq
	req.ScopeID = "nope"
	var buf bytes.Buffer
	require.NoError(t, collectAndEmit(context.Background(), &buf, newTestSource(), req, testSettings()))
	assert.Equal(t, "Scope nope not found or not accessible.\n", buf.String())
}

func TestCollectAndEmit_GroupFilter(t *testing.T) {
	req := testReq
	req.Group = "RG-DB"
	s := testSettings()
	s.Query = ".totalCount"
	var buf bytes.Buffer
	require.NoError(t, collectAndEmit(context.Background(), &buf, newTestSource(), req, s))
	assert.Equal(t, "1\n", buf.String())
}

func TestCollectAndEmit_FailureBudget(t *testing.T) {
	chdir(t, t.TempDir())
	src := newTestSource()
	src.powerErr = errors.New("throttled")

	s := testSettings()
	s.Detailed = true
	s.MaxFailures = 1
	var buf bytes.Buffer
	err := collectAndEmit(context.Background(), &buf, src, testReq, s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 detail lookups failed")
	assert.Contains(t, buf.String(), "Total resources found: 2", "report is rendered before failing")

	s.MaxFailures = -1
	assert.NoError(t, collectAndEmit(context.Background(), &bytes.Buffer{}, src, testReq, s))
}

func TestCollectAndEmit_ScopeEnumerationIsFatal(t *testing.T) {
	src := newTestSource()
	src.scopesErr = errors.New("no credentials")

	var buf bytes.Buffer
	err := collectAndEmit(context.Background(), &buf, src, testReq, testSettings())
	var se *inventory.ScopeEnumerationError
	require.ErrorAs(t, err, &se)
	assert.Empty(t, buf.String())
}

func TestRunInventory_UnknownSource(t *testing.T) {
	err := runInventory(context.Background(), &bytes.Buffer{}, inventoryRequest{Source: "nope", Label: "nope"})
	assert.ErrorContains(t, err, `no inventory source registered as "nope"`)
}

func TestRunInventory_RegisteredSource(t *testing.T) {
	cloud.RegisterSource("cmd-test", func(context.Context, cloud.Options) (cloud.Source, error) {
		return newTestSource(), nil
	})
	var buf bytes.Buffer
	require.NoError(t, runInventory(context.Background(), &buf, inventoryRequest{Source: "cmd-test", Label: "azure"}))
	assert.Contains(t, buf.String(), "Total resources found: 2")
}

type closingTestSource struct {
	*testSource
	closed int
}

func (s *closingTestSource) Close() error {
	s.closed++
	return nil
}

func TestRunInventory_ClosesSource(t *testing.T) {
	src := &closingTestSource{testSource: newTestSource()}
	cloud.RegisterSource("cmd-close-test", func(context.Context, cloud.Options) (cloud.Source, error) {
		return src, nil
	})

	require.NoError(t, runInventory(context.Background(), &bytes.Buffer{}, inventoryRequest{Source: "cmd-close-test", Label: "gce"}))
	assert.Equal(t, 1, src.closed)

	src.scopesErr = errors.New("no credentials")
	require.Error(t, runInventory(context.Background(), &bytes.Buffer{}, inventoryRequest{Source: "cmd-close-test", Label: "gce"}))
	assert.Equal(t, 2, src.closed, "closed after a fatal error as well")
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent to testing.T.Chdir in Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}
