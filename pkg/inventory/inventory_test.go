package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/davidxarnold/census/pkg/cloud"
	"gitlab.com/davidxarnold/census/pkg/core"
)

type vm struct {
	name  string
	group string
	loc   string
	state string
}

func (v vm) Identity() core.Identity {
	id := core.Identity{Name: &v.name, Location: &v.loc}
	if v.group != "" {
		id.Group = &v.group
	}
	if v.state != "" {
		id.State = &v.state
	}
	return id
}

func (v vm) NetworkInterfaceCount() int { return 1 }
func (v vm) Tags() []core.Tag           { return nil }

type fakeSource struct {
	scopes      []core.Scope
	scopesErr   error
	resources   map[string][]core.Resource
	listErr     map[string]error
	detailErr   map[string]error
	powerErr    map[string]error
	detailCalls int
	powerCalls  int
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Scopes(context.Context) ([]core.Scope, error) {
	return f.scopes, f.scopesErr
}

func (f *fakeSource) List(_ context.Context, s core.Scope) ([]core.Resource, error) {
	if err := f.listErr[s.ID]; err != nil {
		return nil, err
	}
	return f.resources[s.ID], nil
}

func (f *fakeSource) Details(_ context.Context, _ core.Scope, r core.Resource) (core.OSHints, error) {
	f.detailCalls++
	name := *r.Identity().Name
	if err := f.detailErr[name]; err != nil {
		return core.OSHints{}, err
	}
	return core.OSHints{LinuxConfiguration: true, Tags: []core.Tag{{Key: "os", Value: "Debian 12"}}}, nil
}

func (f *fakeSource) PowerState(_ context.Context, _ core.Scope, r core.Resource) (string, error) {
	f.powerCalls++
	name := *r.Identity().Name
	if err := f.powerErr[name]; err != nil {
		return "", err
	}
	return "VM running", nil
}

func twoScopes() *fakeSource {
	return &fakeSource{
		scopes: []core.Scope{{Name: "prod", ID: "s1"}, {Name: "dev", ID: "s2"}},
		resources: map[string][]core.Resource{
			"s1": {vm{name: "a", group: "rg-1", loc: "westeurope"}, vm{name: "b", group: "rg-2", loc: "westeurope"}},
			"s2": {vm{name: "c", group: "rg-1", loc: "northeurope", state: "stopped"}},
		},
	}
}

func TestCollect_FastPass(t *testing.T) {
	src := twoScopes()

	res, err := Collect(context.Background(), src, Options{})
	require.NoError(t, err)

	require.Len(t, res.Records, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{res.Records[0].Name, res.Records[1].Name, res.Records[2].Name})
	assert.Equal(t, "s2", res.Records[2].ScopeID)
	assert.Equal(t, "stopped", res.Records[2].PowerOrState, "listing state kept")
	for _, r := range res.Records {
		assert.Equal(t, core.Unknown, r.OSType)
	}
	assert.Zero(t, src.detailCalls)
	assert.Zero(t, src.powerCalls)
	assert.Equal(t, 3, res.Summary.Total)
	assert.Equal(t, 2, res.Summary.ByLocation["westeurope"])
}

func TestCollect_Detailed(t *testing.T) {
	src := twoScopes()

	res, err := Collect(context.Background(), src, Options{Detailed: true})
	require.NoError(t, err)

	require.Len(t, res.Records, 3)
	assert.Equal(t, "Linux", res.Records[0].OSType)
	assert.Equal(t, "Debian 12", res.Records[0].OSName)
	assert.Equal(t, "VM running", res.Records[2].PowerOrState)
	assert.Equal(t, 3, res.Summary.ByOSType["Linux"])
	assert.Empty(t, res.Failures)
}

func TestCollect_ListingFailureSkipsOnlyThatScope(t *testing.T) {
	src := twoScopes()
	src.listErr = map[string]error{"s1": errors.New("AuthorizationFailed")}

	res, err := Collect(context.Background(), src, Options{})
	require.NoError(t, err)

	require.Len(t, res.Records, 1)
	assert.Equal(t, "c", res.Records[0].Name)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, ResourceListing, res.Failures[0].Kind)
	assert.Equal(t, "prod", res.Failures[0].Scope.Name)
}

func TestCollect_EnrichmentFailureDegradesOneFieldGroup(t *testing.T) {
	src := twoScopes()
	src.detailErr = map[string]error{"a": errors.New("NotFound")}
	src.powerErr = map[string]error{"b": errors.New("throttled")}

	res, err := Collect(context.Background(), src, Options{Detailed: true})
	require.NoError(t, err)
	require.Len(t, res.Records, 3, "no record is dropped")

	a, b := res.Records[0], res.Records[1]
	assert.Equal(t, core.Unknown, a.OSType)
	assert.Equal(t, "VM running", a.PowerOrState)
	assert.Equal(t, "Linux", b.OSType)
	assert.Equal(t, core.Unknown, b.PowerOrState)

	assert.Equal(t, 2, res.FailureCount())
	assert.Equal(t, 1, res.FailureCount(DetailOS))
	assert.Equal(t, 1, res.FailureCount(DetailPower))
	assert.True(t, ExceedsFailureBudget(res, 1))
	assert.False(t, ExceedsFailureBudget(res, 2))
	assert.False(t, ExceedsFailureBudget(res, -1))
}

func TestCollect_ScopeEnumerationIsFatal(t *testing.T) {
	src := &fakeSource{scopesErr: errors.New("no credentials")}

	_, err := Collect(context.Background(), src, Options{})
	var se *ScopeEnumerationError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "fake", se.Source)
	assert.EqualError(t, errors.Unwrap(err), "no credentials")
}

func TestCollect_ScopeFilter(t *testing.T) {
	res, err := Collect(context.Background(), twoScopes(), Options{ScopeID: "S2"})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "c", res.Records[0].Name)

	res, err = Collect(context.Background(), twoScopes(), Options{ScopeID: "nope"})
	require.NoError(t, err)
	assert.True(t, res.ScopeFilterUnmatched)
	assert.Empty(t, res.Records)
	assert.Equal(t, 0, res.Summary.Total)
}

func TestCollect_GroupFilterBeforeEnrichment(t *testing.T) {
	src := twoScopes()

	res, err := Collect(context.Background(), src, Options{Detailed: true, Group: "RG-1"})
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, 2, src.detailCalls)
	assert.Equal(t, 2, src.powerCalls)
}

func TestCollect_UnsupportedLookupIsNotAFailure(t *testing.T) {
	src := &unsupported{fakeSource: twoScopes()}

	res, err := Collect(context.Background(), src, Options{Detailed: true})
	require.NoError(t, err)
	assert.Empty(t, res.Failures)
	assert.Equal(t, core.Unknown, res.Records[0].OSType)
}

type unsupported struct{ *fakeSource }

func (u *unsupported) Details(context.Context, core.Scope, core.Resource) (core.OSHints, error) {
	return core.OSHints{}, cloud.ErrNotSupported
}

func TestCollect_EmptyScopes(t *testing.T) {
	res, err := Collect(context.Background(), &fakeSource{}, Options{})
	require.NoError(t, err)
	assert.NotNil(t, res.Records)
	assert.Equal(t, 0, res.Summary.Total)
	assert.NotNil(t, res.Summary.ByOSType)
}

func TestFailureError(t *testing.T) {
	f := Failure{Kind: DetailPower, Scope: core.Scope{Name: "prod"}, Resource: "vm1", Err: errors.New("boom")}
	assert.Equal(t, "detail-power for vm1 in prod: boom", f.Error())
	f = Failure{Kind: ResourceListing, Scope: core.Scope{Name: "prod"}, Err: errors.New("boom")}
	assert.Equal(t, "resource-listing in prod: boom", f.Error())
}
