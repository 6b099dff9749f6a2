package cloud

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	compute "cloud.google.com/go/compute/apiv1"
	computepb "cloud.google.com/go/compute/apiv1/computepb"
	"google.golang.org/api/iterator"

	"gitlab.com/davidxarnold/census/pkg/core"
	"gitlab.com/davidxarnold/census/pkg/util"
)

// GCEAPI is the subset of the Compute Engine instances API used by the GCE
// source.
type GCEAPI interface {
	ListInstances(ctx context.Context, project string) ([]*computepb.Instance, error)
	GetInstance(ctx context.Context, project, zone, name string) (*computepb.Instance, error)
}

// gceClient implements GCEAPI with the REST instances client.
type gceClient struct {
	c *compute.InstancesClient
}

// NewGCEClient returns a GCEAPI using application default credentials.
func NewGCEClient(ctx context.Context) (GCEAPI, error) {
	c, err := compute.NewInstancesRESTClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCE client: %w", err)
	}
	return &gceClient{c: c}, nil
}

// Close releases the underlying connection.
func (g *gceClient) Close() error {
	return g.c.Close()
}

func (g *gceClient) ListInstances(ctx context.Context, project string) ([]*computepb.Instance, error) {
	req := &computepb.AggregatedListInstancesRequest{Project: project}
	it := g.c.AggregatedList(ctx, req)

	var out []*computepb.Instance
	for {
		pair, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list instances in %s: %w", project, err)
		}
		if pair.Value == nil {
			continue
		}
		out = append(out, pair.Value.Instances...)
	}
	return out, nil
}

func (g *gceClient) GetInstance(ctx context.Context, project, zone, name string) (*computepb.Instance, error) {
	req := &computepb.GetInstanceRequest{
		Project:  project,
		Zone:     zone,
		Instance: name,
	}
	instance, err := g.c.Get(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to get GCE instance: %w", err)
	}
	return instance, nil
}

// GCEInstance is the raw description of a Compute Engine instance.
type GCEInstance struct {
	ID          *string
	Name        *string
	Project     string
	Zone        *string
	MachineType *string
	Status      *string
	NodePool    *string
	NICs        int
	Labels      map[string]string
}

// GCEInstanceFromAPI converts an API instance into a GCEInstance.
func GCEInstanceFromAPI(project string, in *computepb.Instance) GCEInstance {
	out := GCEInstance{
		Name:    in.Name,
		Project: project,
		Status:  in.Status,
		NICs:    len(in.NetworkInterfaces),
		Labels:  in.Labels,
	}
	if in.Id != nil {
		id := strconv.FormatUint(*in.Id, 10)
		out.ID = &id
	}
	if in.Zone != nil {
		zone := util.LastPathSegment(*in.Zone)
		out.Zone = &zone
	}
	if in.MachineType != nil {
		mt := util.LastPathSegment(*in.MachineType)
		out.MachineType = &mt
	}

	// Node pool comes from metadata, with labels as the alternative location.
	if in.Metadata != nil {
		for _, item := range in.Metadata.Items {
			if item.GetKey() == "gke-nodepool" && item.Value != nil {
				out.NodePool = item.Value
			}
		}
	}
	if out.NodePool == nil {
		if pool, ok := in.Labels["gke-nodepool"]; ok {
			out.NodePool = &pool
		}
	}
	return out
}

// Identity implements core.Resource.
func (i GCEInstance) Identity() core.Identity {
	return core.Identity{
		ID:          i.ID,
		Name:        i.Name,
		Group:       i.NodePool,
		Location:    i.Zone,
		SizeOrClass: i.MachineType,
		State:       i.Status,
	}
}

// NetworkInterfaceCount implements core.Resource.
func (i GCEInstance) NetworkInterfaceCount() int { return i.NICs }

// Tags implements core.Resource. Labels are returned sorted by key.
func (i GCEInstance) Tags() []core.Tag { return sortedTags(i.Labels) }

// ScopeIDFromResource implements core.ScopeIDResolver.
func (i GCEInstance) ScopeIDFromResource() (string, bool) {
	return i.Project, i.Project != ""
}

// Public image projects whose licenses identify a Linux distribution.
var gceLinuxImageProjects = map[string]struct{}{
	"almalinux-cloud":     {},
	"centos-cloud":        {},
	"cos-cloud":           {},
	"debian-cloud":        {},
	"fedora-coreos-cloud": {},
	"opensuse-cloud":      {},
	"oracle-linux-cloud":  {},
	"rhel-cloud":          {},
	"rhel-sap-cloud":      {},
	"rocky-linux-cloud":   {},
	"suse-cloud":          {},
	"suse-sap-cloud":      {},
	"ubuntu-os-cloud":     {},
	"ubuntu-os-pro-cloud": {},
}

// gceLicense splits a license URL into its image project and license name.
func gceLicense(url string) (project, name string) {
	parts := strings.Split(url, "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == "projects" {
			project = parts[i+1]
			break
		}
	}
	return project, util.LastPathSegment(url)
}

// GCEHints extracts OS hints from the boot disk of a described instance.
func GCEHints(in *computepb.Instance) core.OSHints {
	h := core.OSHints{
		Tags:         sortedTags(in.Labels),
		ResourceName: in.GetName(),
	}
	for _, d := range in.Disks {
		if !d.GetBoot() {
			continue
		}
		if d.DiskSizeGb != nil {
			size := strconv.FormatInt(*d.DiskSizeGb, 10)
			h.DiskSizeGB = &size
		}
		for _, lic := range d.Licenses {
			project, name := gceLicense(lic)
			if project == "" || name == "" {
				continue
			}
			if project == "windows-cloud" || strings.HasPrefix(name, "windows") {
				h.WindowsConfiguration = true
			} else if _, ok := gceLinuxImageProjects[project]; ok {
				h.LinuxConfiguration = true
			} else {
				continue
			}
			h.Image = &core.ImageReference{Publisher: &project, Offer: &name}
			break
		}
		break
	}
	return h
}

// gceSource implements Source for Compute Engine instances across the
// configured projects.
type gceSource struct {
	api      GCEAPI
	projects []string
}

// NewGCESource returns a Source over api for the given projects.
func NewGCESource(api GCEAPI, projects []string) Source {
	return &gceSource{api: api, projects: projects}
}

func (s *gceSource) Name() string { return SourceGCE }

// Close closes the API client when it holds a connection.
func (s *gceSource) Close() error {
	if c, ok := s.api.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *gceSource) Scopes(_ context.Context) ([]core.Scope, error) {
	if len(s.projects) == 0 {
		return nil, errors.New("no GCP projects configured, set --project or gce-projects")
	}
	scopes := make([]core.Scope, 0, len(s.projects))
	for _, p := range s.projects {
		scopes = append(scopes, core.Scope{Name: p, ID: p})
	}
	return scopes, nil
}

func (s *gceSource) List(ctx context.Context, scope core.Scope) ([]core.Resource, error) {
	instances, err := s.api.ListInstances(ctx, scope.ID)
	if err != nil {
		return nil, err
	}
	out := make([]core.Resource, 0, len(instances))
	for _, in := range instances {
		if in == nil {
			continue
		}
		out = append(out, GCEInstanceFromAPI(scope.ID, in))
	}
	return out, nil
}

func (s *gceSource) Details(ctx context.Context, scope core.Scope, res core.Resource) (core.OSHints, error) {
	id := res.Identity()
	if id.Name == nil || id.Location == nil {
		return core.OSHints{}, errors.New("instance has no name or zone")
	}
	in, err := s.api.GetInstance(ctx, scope.ID, *id.Location, *id.Name)
	if err != nil {
		return core.OSHints{}, err
	}
	return GCEHints(in), nil
}

// PowerState returns the instance status carried by the listing.
func (s *gceSource) PowerState(_ context.Context, _ core.Scope, res core.Resource) (string, error) {
	state := res.Identity().State
	if state == nil || *state == "" {
		return "", errors.New("instance status not reported")
	}
	return *state, nil
}

// nolint:gochecknoinits // registration-style init keeps provider wiring local to this file.
func init() {
	RegisterSource(SourceGCE, func(ctx context.Context, opts Options) (Source, error) {
		api, err := NewGCEClient(ctx)
		if err != nil {
			return nil, err
		}
		return NewGCESource(api, opts.Projects), nil
	})
}
