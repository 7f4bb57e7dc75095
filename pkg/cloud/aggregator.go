package cloud

import (
	"context"
	"sync"

	"github.com/cuemby/castlehub/pkg/metrics"
	"github.com/cuemby/castlehub/pkg/types"
	"github.com/samber/lo"
)

// Max is a single upper bound
type Max struct {
	Max int `json:"max"`
}

// Quotas are the amounts a cluster may use
type Quotas struct {
	InstanceCount Max `json:"instance_count"`
	RAM           Max `json:"ram"`
	VCPUs         Max `json:"vcpus"`
	VolumeCount   Max `json:"volume_count"`
	VolumeSize    Max `json:"volume_size"`
	IPs           Max `json:"ips"`
}

// ResourceDetails describes every instance type
type ResourceDetails struct {
	InstanceTypes []InstanceType `json:"instance_types"`
}

// PossibleResources lists the values a configuration may pick from
type PossibleResources struct {
	Image    []string            `json:"image"`
	TagTypes map[string][]string `json:"tag_types"`
	Types    []string            `json:"types"`
	Tags     map[string][]string `json:"tags"`
	Volumes  map[string]any      `json:"volumes"`
	Domain   []string            `json:"domain"`
}

// AvailableResources is the full answer to "what can this cluster use"
type AvailableResources struct {
	Quotas            Quotas            `json:"quotas"`
	ResourceDetails   ResourceDetails   `json:"resource_details"`
	PossibleResources PossibleResources `json:"possible_resources"`
}

// memo caches the first successful result of a query
type memo[T any] struct {
	mu    sync.Mutex
	ok    bool
	value T
}

func (m *memo[T]) get(ctx context.Context, resource string, fetch func(context.Context) (T, error)) (T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ok {
		return m.value, nil
	}
	v, err := fetch(ctx)
	if err != nil {
		metrics.QuotaQueryErrors.WithLabelValues(resource).Inc()
		var zero T
		return zero, err
	}
	m.value, m.ok = v, true
	return v, nil
}

// Aggregator combines live quotas with the resources a cluster already
// holds. Resources held by the cluster are added back, so a cluster being
// modified can reuse what it has.
type Aggregator struct {
	provider     Provider
	preAllocated types.ResourceSnapshot
	domains      []string

	compute memo[ComputeQuotas]
	volume  memo[VolumeQuotas]
	network memo[NetworkQuotas]
	flavors memo[[]Flavor]
	images  memo[[]string]
}

// NewAggregator creates an aggregator. preAllocated is zero for new clusters.
func NewAggregator(provider Provider, preAllocated types.ResourceSnapshot, domains []string) *Aggregator {
	return &Aggregator{
		provider:     provider,
		preAllocated: preAllocated,
		domains:      domains,
	}
}

// Quotas computes pre_allocated + limit - in_use for each resource.
// Public IPs are never pre-allocated.
func (a *Aggregator) Quotas(ctx context.Context) (Quotas, error) {
	compute, err := a.compute.get(ctx, "compute", a.provider.ComputeQuotas)
	if err != nil {
		return Quotas{}, err
	}
	volume, err := a.volume.get(ctx, "volume", a.provider.VolumeQuotas)
	if err != nil {
		return Quotas{}, err
	}
	network, err := a.network.get(ctx, "network", a.provider.NetworkQuotas)
	if err != nil {
		return Quotas{}, err
	}

	return Quotas{
		InstanceCount: Max{a.preAllocated.InstanceCount + compute.Instances.Free()},
		RAM:           Max{a.preAllocated.RAM + compute.RAM.Free()},
		VCPUs:         Max{a.preAllocated.VCPUs + compute.Cores.Free()},
		VolumeCount:   Max{a.preAllocated.VolumeCount + volume.Volumes.Free()},
		VolumeSize:    Max{a.preAllocated.VolumeSize + volume.Gigabytes.Free()},
		IPs:           Max{network.FloatingIPs.Free()},
	}, nil
}

func (a *Aggregator) sortedFlavors(ctx context.Context) ([]Flavor, error) {
	return a.flavors.get(ctx, "flavors", func(ctx context.Context) ([]Flavor, error) {
		list, err := a.provider.Flavors(ctx)
		if err != nil {
			return nil, err
		}
		return SortFlavors(list), nil
	})
}

// ResourceDetails describes every flavor of the project
func (a *Aggregator) ResourceDetails(ctx context.Context) (ResourceDetails, error) {
	flavors, err := a.sortedFlavors(ctx)
	if err != nil {
		return ResourceDetails{}, err
	}
	return ResourceDetails{
		InstanceTypes: lo.Map(flavors, func(f Flavor, _ int) InstanceType { return InstanceTypeOf(f) }),
	}, nil
}

// PossibleResources lists images, flavors per category, tags and domains
func (a *Aggregator) PossibleResources(ctx context.Context) (PossibleResources, error) {
	flavors, err := a.sortedFlavors(ctx)
	if err != nil {
		return PossibleResources{}, err
	}
	images, err := a.images.get(ctx, "images", func(ctx context.Context) ([]string, error) {
		names, err := a.provider.Images(ctx)
		if err != nil {
			return nil, err
		}
		return FilterImages(names), nil
	})
	if err != nil {
		return PossibleResources{}, err
	}

	flavorName := func(f Flavor, _ int) string { return f.Name }
	tagTypes := make(map[string][]string, len(types.Categories))
	tags := make(map[string][]string, len(types.Categories))
	for _, category := range types.Categories {
		tagTypes[category] = lo.Map(FlavorsFor(category, flavors), flavorName)
		tags[category] = CategoryTags[category]
	}

	return PossibleResources{
		Image:    images,
		TagTypes: tagTypes,
		Types:    lo.Map(flavors, flavorName),
		Tags:     tags,
		Volumes:  map[string]any{},
		Domain:   append([]string{}, a.domains...),
	}, nil
}

// Available gathers quotas, resource details and possible resources
func (a *Aggregator) Available(ctx context.Context) (*AvailableResources, error) {
	quotas, err := a.Quotas(ctx)
	if err != nil {
		return nil, err
	}
	details, err := a.ResourceDetails(ctx)
	if err != nil {
		return nil, err
	}
	possible, err := a.PossibleResources(ctx)
	if err != nil {
		return nil, err
	}
	return &AvailableResources{
		Quotas:            quotas,
		ResourceDetails:   details,
		PossibleResources: possible,
	}, nil
}
