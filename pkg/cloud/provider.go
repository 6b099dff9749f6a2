package cloud

import (
	"context"
	"errors"
	"io"
	"sort"

	"gitlab.com/davidxarnold/census/pkg/core"
)

// Source is implemented by every inventory backend. All calls are made
// sequentially by the collector.
type Source interface {
	// Name is the provider label stored on every record.
	Name() string
	// Scopes lists the account scopes visible to the current credentials.
	Scopes(ctx context.Context) ([]core.Scope, error)
	// List returns the raw resources of one scope in listing order.
	List(ctx context.Context, scope core.Scope) ([]core.Resource, error)
	// Details performs the per-resource detail lookup used for OS inference.
	Details(ctx context.Context, scope core.Scope, res core.Resource) (core.OSHints, error)
	// PowerState performs the per-resource power/lifecycle lookup.
	PowerState(ctx context.Context, scope core.Scope, res core.Resource) (string, error)
}

// Options carries the provider-specific settings a SourceFactory may need.
type Options struct {
	// Region overrides the AWS region from the shared config.
	Region string
	// Projects lists the GCP projects to inventory.
	Projects []string
}

// ErrNotSupported is returned by Details or PowerState when a source has no
// such lookup. The collector skips the field group without recording a
// failure.
var ErrNotSupported = errors.New("lookup not supported by this source")

// SourceFactory creates a Source.
type SourceFactory func(ctx context.Context, opts Options) (Source, error)

// Source names registered by this package and by pkg/msk.
const (
	SourceAzure    = "azure"
	SourceAzureCLI = "azure-cli"
	SourceEC2      = "ec2"
	SourceGCE      = "gce"
	SourceMSK      = "msk"
)

var sourceRegistry = map[string]SourceFactory{}

// RegisterSource registers a source factory under the given name.
// It is typically called from init() functions in provider-specific files.
func RegisterSource(name string, factory SourceFactory) {
	sourceRegistry[name] = factory
}

// LookupSource returns the factory registered under name. Unknown names
// return nil.
func LookupSource(name string) SourceFactory {
	if factory, ok := sourceRegistry[name]; ok {
		return factory
	}
	return nil
}

// CloseSource closes src if it holds resources that need releasing. Sources
// without a Close method are left alone.
func CloseSource(src Source) error {
	if c, ok := src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// RegisteredSources returns the registered source names, sorted.
func RegisteredSources() []string {
	names := make([]string, 0, len(sourceRegistry))
	for name := range sourceRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
