package cloud

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armsubscriptions"
	log "github.com/sirupsen/logrus"

	"gitlab.com/davidxarnold/census/pkg/core"
	"gitlab.com/davidxarnold/census/pkg/util"
)

// AzureAPI is the set of Azure operations the VM source needs. It is
// implemented by the SDK backend and by the az CLI backend.
type AzureAPI interface {
	Subscriptions(ctx context.Context) ([]core.Scope, error)
	ListVMs(ctx context.Context, subscriptionID string) ([]AzureVM, error)
	GetVM(ctx context.Context, subscriptionID, resourceGroup, name string) (AzureVM, error)
	PowerState(ctx context.Context, subscriptionID, resourceGroup, name string) (string, error)
}

// azureSource implements Source for Azure virtual machines on top of an
// AzureAPI backend.
type azureSource struct {
	name string
	api  AzureAPI
}

// NewAzureSource returns a Source backed by api.
func NewAzureSource(name string, api AzureAPI) Source {
	return &azureSource{name: name, api: api}
}

func (s *azureSource) Name() string { return s.name }

func (s *azureSource) Scopes(ctx context.Context) ([]core.Scope, error) {
	return s.api.Subscriptions(ctx)
}

func (s *azureSource) List(ctx context.Context, scope core.Scope) ([]core.Resource, error) {
	vms, err := s.api.ListVMs(ctx, scope.ID)
	if err != nil {
		return nil, err
	}
	out := make([]core.Resource, 0, len(vms))
	for i := range vms {
		out = append(out, vms[i])
	}
	return out, nil
}

func (s *azureSource) Details(ctx context.Context, scope core.Scope, res core.Resource) (core.OSHints, error) {
	rg, name, err := azureLocator(res)
	if err != nil {
		return core.OSHints{}, err
	}
	vm, err := s.api.GetVM(ctx, scope.ID, rg, name)
	if err != nil {
		return core.OSHints{}, err
	}
	return vm.OSHints(), nil
}

func (s *azureSource) PowerState(ctx context.Context, scope core.Scope, res core.Resource) (string, error) {
	rg, name, err := azureLocator(res)
	if err != nil {
		return "", err
	}
	return s.api.PowerState(ctx, scope.ID, rg, name)
}

func azureLocator(res core.Resource) (resourceGroup, name string, err error) {
	id := res.Identity()
	if id.Name == nil || id.Group == nil {
		return "", "", errors.New("virtual machine has no name or resource group")
	}
	return *id.Group, *id.Name, nil
}

// azureSDK implements AzureAPI with the Azure SDK for Go.
type azureSDK struct {
	cred azcore.TokenCredential
}

// NewAzureSDK returns an AzureAPI authenticating with the default Azure
// credential chain (environment, managed identity, az CLI login).
func NewAzureSDK() (AzureAPI, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get azure credential: %w", err)
	}
	return &azureSDK{cred: cred}, nil
}

func (a *azureSDK) Subscriptions(ctx context.Context) ([]core.Scope, error) {
	client, err := armsubscriptions.NewClient(a.cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create subscription client: %w", err)
	}

	var scopes []core.Scope
	pager := client.NewListPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list subscriptions: %w", azureErr(err))
		}
		for _, sub := range page.Value {
			if sub == nil || sub.SubscriptionID == nil {
				continue
			}
			scopes = append(scopes, core.Scope{
				Name: core.StringOr(sub.DisplayName, core.Unknown),
				ID:   *sub.SubscriptionID,
			})
		}
	}
	return scopes, nil
}

func (a *azureSDK) ListVMs(ctx context.Context, subscriptionID string) ([]AzureVM, error) {
	client, err := armcompute.NewVirtualMachinesClient(subscriptionID, a.cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create vm client: %w", err)
	}

	var vms []AzureVM
	pager := client.NewListAllPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list vms in %s: %w", subscriptionID, azureErr(err))
		}
		for _, vm := range page.Value {
			if vm == nil {
				continue
			}
			vms = append(vms, AzureVMFromSDK(vm))
		}
	}
	return vms, nil
}

func (a *azureSDK) GetVM(ctx context.Context, subscriptionID, resourceGroup, name string) (AzureVM, error) {
	client, err := armcompute.NewVirtualMachinesClient(subscriptionID, a.cred, nil)
	if err != nil {
		return AzureVM{}, fmt.Errorf("create vm client: %w", err)
	}
	resp, err := client.Get(ctx, resourceGroup, name, nil)
	if err != nil {
		return AzureVM{}, fmt.Errorf("get vm %s/%s: %w", resourceGroup, name, azureErr(err))
	}
	return AzureVMFromSDK(&resp.VirtualMachine), nil
}

func (a *azureSDK) PowerState(ctx context.Context, subscriptionID, resourceGroup, name string) (string, error) {
	client, err := armcompute.NewVirtualMachinesClient(subscriptionID, a.cred, nil)
	if err != nil {
		return "", fmt.Errorf("create vm client: %w", err)
	}
	resp, err := client.InstanceView(ctx, resourceGroup, name, nil)
	if err != nil {
		return "", fmt.Errorf("instance view %s/%s: %w", resourceGroup, name, azureErr(err))
	}

	statuses := make([]AzureInstanceViewStatus, 0, len(resp.Statuses))
	for _, st := range resp.Statuses {
		if st == nil {
			continue
		}
		statuses = append(statuses, AzureInstanceViewStatus{Code: st.Code, DisplayStatus: st.DisplayStatus})
	}
	if state, ok := powerStateFromStatuses(statuses); ok {
		return state, nil
	}
	return "", fmt.Errorf("no power state reported for %s/%s", resourceGroup, name)
}

// azureAPIError prints an SDK response error as its code and status. The
// full *azcore.ResponseError stays reachable through errors.As.
type azureAPIError struct {
	resp *azcore.ResponseError
}

func (e *azureAPIError) Error() string {
	return fmt.Sprintf("%s (HTTP %d)", e.resp.ErrorCode, e.resp.StatusCode)
}

func (e *azureAPIError) Unwrap() error { return e.resp }

// azureErr reduces an SDK response error to its error code, the way AWS API
// errors are reduced to smithy error codes.
func azureErr(err error) error {
	var re *azcore.ResponseError
	if errors.As(err, &re) {
		log.Debugf("azure request failed: status %d, code %s", re.StatusCode, re.ErrorCode)
		return &azureAPIError{resp: re}
	}
	return err
}

// AzureVMFromSDK converts an SDK virtual machine model into the raw shape
// shared with the CLI backend.
func AzureVMFromSDK(vm *armcompute.VirtualMachine) AzureVM {
	out := AzureVM{
		ID:       vm.ID,
		Name:     vm.Name,
		Location: vm.Location,
	}
	if vm.ID != nil {
		if rg, ok := util.ResourceGroupFromResourceID(*vm.ID); ok {
			out.ResourceGroup = &rg
		}
	}
	if len(vm.Tags) > 0 {
		out.TagSet = make(map[string]string, len(vm.Tags))
		for k, v := range vm.Tags {
			if v != nil {
				out.TagSet[k] = *v
			} else {
				out.TagSet[k] = ""
			}
		}
	}

	p := vm.Properties
	if p == nil {
		return out
	}

	if p.HardwareProfile != nil && p.HardwareProfile.VMSize != nil {
		size := string(*p.HardwareProfile.VMSize)
		out.HardwareProfile = &AzureHardwareProfile{VMSize: &size}
	}

	if p.OSProfile != nil {
		out.OSProfile = &AzureOSProfile{ComputerName: p.OSProfile.ComputerName}
		if lc := p.OSProfile.LinuxConfiguration; lc != nil {
			out.OSProfile.LinuxConfiguration = &AzureLinuxConfiguration{
				DisablePasswordAuthentication: lc.DisablePasswordAuthentication,
				ProvisionVMAgent:              lc.ProvisionVMAgent,
			}
		}
		if wc := p.OSProfile.WindowsConfiguration; wc != nil {
			out.OSProfile.WindowsConfiguration = &AzureWindowsConfiguration{
				ProvisionVMAgent:       wc.ProvisionVMAgent,
				EnableAutomaticUpdates: wc.EnableAutomaticUpdates,
				TimeZone:               wc.TimeZone,
			}
		}
	}

	if sp := p.StorageProfile; sp != nil {
		out.StorageProfile = &AzureStorageProfile{}
		if ir := sp.ImageReference; ir != nil {
			out.StorageProfile.ImageReference = &AzureImageReference{
				Publisher:    ir.Publisher,
				Offer:        ir.Offer,
				SKU:          ir.SKU,
				Version:      ir.Version,
				ExactVersion: ir.ExactVersion,
			}
		}
		if d := sp.OSDisk; d != nil {
			disk := &AzureOSDisk{Name: d.Name}
			if d.OSType != nil {
				osType := string(*d.OSType)
				disk.OSType = &osType
			}
			if d.DiskSizeGB != nil {
				disk.DiskSizeGB = []byte(fmt.Sprintf("%d", *d.DiskSizeGB))
			}
			out.StorageProfile.OSDisk = disk
		}
	}

	if np := p.NetworkProfile; np != nil {
		out.NetworkProfile = &AzureNetworkProfile{}
		for _, nic := range np.NetworkInterfaces {
			if nic == nil {
				continue
			}
			ref := AzureNetworkInterfaceReference{ID: nic.ID}
			if nic.Properties != nil {
				ref.Primary = nic.Properties.Primary
			}
			out.NetworkProfile.NetworkInterfaces = append(out.NetworkProfile.NetworkInterfaces, ref)
		}
	}

	return out
}

// nolint:gochecknoinits // registration-style init keeps provider wiring local to this file.
func init() {
	RegisterSource(SourceAzure, func(_ context.Context, _ Options) (Source, error) {
		api, err := NewAzureSDK()
		if err != nil {
			return nil, err
		}
		return NewAzureSource(SourceAzure, api), nil
	})
}
