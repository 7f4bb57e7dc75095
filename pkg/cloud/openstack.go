package cloud

import (
	"context"
	"fmt"

	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack"
	blockquotas "github.com/gophercloud/gophercloud/openstack/blockstorage/extensions/quotasets"
	computequotas "github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/quotasets"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/flavors"
	"github.com/gophercloud/gophercloud/openstack/identity/v3/tokens"
	"github.com/gophercloud/gophercloud/openstack/imageservice/v2/images"
	networkquotas "github.com/gophercloud/gophercloud/openstack/networking/v2/extensions/quotas"
)

// OpenStack implements Provider against the OpenStack APIs of one project
type OpenStack struct {
	projectID string
	compute   *gophercloud.ServiceClient
	volume    *gophercloud.ServiceClient
	network   *gophercloud.ServiceClient
	image     *gophercloud.ServiceClient
}

// Provider implements cloud.Provider
var _ Provider = (*OpenStack)(nil)

// NewOpenStackFromEnv authenticates with the OS_* environment variables
func NewOpenStackFromEnv(region string) (*OpenStack, error) {
	opts, err := openstack.AuthOptionsFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to get auth options from env: %w", err)
	}
	return NewOpenStack(opts, region)
}

// NewOpenStack authenticates and creates the service clients
func NewOpenStack(opts gophercloud.AuthOptions, region string) (*OpenStack, error) {
	provider, err := openstack.AuthenticatedClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to get authenticated client: %w", err)
	}

	projectID, err := currentProjectID(provider, opts)
	if err != nil {
		return nil, err
	}

	endpoint := gophercloud.EndpointOpts{Region: region}
	o := &OpenStack{projectID: projectID}

	if o.compute, err = openstack.NewComputeV2(provider, endpoint); err != nil {
		return nil, fmt.Errorf("failed to get compute client: %w", err)
	}
	if o.volume, err = openstack.NewBlockStorageV3(provider, endpoint); err != nil {
		return nil, fmt.Errorf("failed to get block storage client: %w", err)
	}
	if o.network, err = openstack.NewNetworkV2(provider, endpoint); err != nil {
		return nil, fmt.Errorf("failed to get network client: %w", err)
	}
	if o.image, err = openstack.NewImageServiceV2(provider, endpoint); err != nil {
		return nil, fmt.Errorf("failed to get image client: %w", err)
	}

	return o, nil
}

// currentProjectID reads the project the token is scoped to. The quota
// endpoints are queried by project id directly so that no identity
// list_projects permission is needed.
func currentProjectID(provider *gophercloud.ProviderClient, opts gophercloud.AuthOptions) (string, error) {
	if opts.TenantID != "" {
		return opts.TenantID, nil
	}
	if result, ok := provider.GetAuthResult().(tokens.CreateResult); ok {
		project, err := result.ExtractProject()
		if err != nil {
			return "", fmt.Errorf("failed to read token project: %w", err)
		}
		if project != nil && project.ID != "" {
			return project.ID, nil
		}
	}
	return "", fmt.Errorf("could not determine the current project id")
}

// ProjectID returns the project the provider is scoped to
func (o *OpenStack) ProjectID() string {
	return o.projectID
}

func (o *OpenStack) ComputeQuotas(ctx context.Context) (ComputeQuotas, error) {
	if err := ctx.Err(); err != nil {
		return ComputeQuotas{}, err
	}
	q, err := computequotas.GetDetail(o.compute, o.projectID).Extract()
	if err != nil {
		return ComputeQuotas{}, fmt.Errorf("failed to get compute quotas: %w", err)
	}
	return ComputeQuotas{
		Instances: Quota{Limit: q.Instances.Limit, InUse: q.Instances.InUse},
		Cores:     Quota{Limit: q.Cores.Limit, InUse: q.Cores.InUse},
		RAM:       Quota{Limit: q.RAM.Limit, InUse: q.RAM.InUse},
	}, nil
}

func (o *OpenStack) VolumeQuotas(ctx context.Context) (VolumeQuotas, error) {
	if err := ctx.Err(); err != nil {
		return VolumeQuotas{}, err
	}
	q, err := blockquotas.GetUsage(o.volume, o.projectID).Extract()
	if err != nil {
		return VolumeQuotas{}, fmt.Errorf("failed to get volume quotas: %w", err)
	}
	return VolumeQuotas{
		Volumes:   Quota{Limit: q.Volumes.Limit, InUse: q.Volumes.InUse},
		Gigabytes: Quota{Limit: q.Gigabytes.Limit, InUse: q.Gigabytes.InUse},
	}, nil
}

func (o *OpenStack) NetworkQuotas(ctx context.Context) (NetworkQuotas, error) {
	if err := ctx.Err(); err != nil {
		return NetworkQuotas{}, err
	}
	q, err := networkquotas.GetDetail(o.network, o.projectID).Extract()
	if err != nil {
		return NetworkQuotas{}, fmt.Errorf("failed to get network quotas: %w", err)
	}
	return NetworkQuotas{
		FloatingIPs: Quota{Limit: q.FloatingIP.Limit, InUse: q.FloatingIP.Used},
	}, nil
}

func (o *OpenStack) Flavors(ctx context.Context) ([]Flavor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pages, err := flavors.ListDetail(o.compute, flavors.ListOpts{AccessType: flavors.AllAccess}).AllPages()
	if err != nil {
		return nil, fmt.Errorf("failed to list flavors: %w", err)
	}
	list, err := flavors.ExtractFlavors(pages)
	if err != nil {
		return nil, fmt.Errorf("failed to extract flavors: %w", err)
	}

	result := make([]Flavor, 0, len(list))
	for _, f := range list {
		result = append(result, Flavor{Name: f.Name, VCPUs: f.VCPUs, RAM: f.RAM, Disk: f.Disk})
	}
	return result, nil
}

func (o *OpenStack) Images(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pages, err := images.List(o.image, images.ListOpts{}).AllPages()
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	list, err := images.ExtractImages(pages)
	if err != nil {
		return nil, fmt.Errorf("failed to extract images: %w", err)
	}

	names := make([]string, 0, len(list))
	for _, img := range list {
		names = append(names, img.Name)
	}
	return names, nil
}
