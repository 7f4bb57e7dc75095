package cloud

import "context"

// Quota is one quota line of a project
type Quota struct {
	Limit int
	InUse int
}

// Free returns limit minus usage
func (q Quota) Free() int {
	return q.Limit - q.InUse
}

// ComputeQuotas holds the compute quota lines castlehub reads
type ComputeQuotas struct {
	Instances Quota
	Cores     Quota
	RAM       Quota
}

// VolumeQuotas holds the block storage quota lines castlehub reads
type VolumeQuotas struct {
	Volumes   Quota
	Gigabytes Quota
}

// NetworkQuotas holds the network quota lines castlehub reads
type NetworkQuotas struct {
	FloatingIPs Quota
}

// Flavor is an instance type offered by the cloud
type Flavor struct {
	Name  string
	VCPUs int
	RAM   int
	Disk  int
}

// Provider queries the quotas and catalog of one cloud project
type Provider interface {
	ComputeQuotas(ctx context.Context) (ComputeQuotas, error)
	VolumeQuotas(ctx context.Context) (VolumeQuotas, error)
	NetworkQuotas(ctx context.Context) (NetworkQuotas, error)
	Flavors(ctx context.Context) ([]Flavor, error)
	Images(ctx context.Context) ([]string, error)
}
