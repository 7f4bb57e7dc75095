package terraform

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cuemby/castlehub/pkg/types"
	"github.com/samber/lo"
)

// Resource types and names read from state
const (
	ResourceFlavor             = "openstack_compute_flavor_v2"
	ResourceComputeInstance    = "openstack_compute_instance_v2"
	ResourceVolume             = "openstack_blockstorage_volume_v3"
	ResourceKeypair            = "openstack_compute_keypair_v2"
	ResourceFloatingIPAssoc    = "openstack_compute_floatingip_associate_v2"
	ResourceNetFloatingIPAssoc = "openstack_networking_floatingip_associate_v2"
	ResourceNetFloatingIP      = "openstack_networking_floatingip_v2"

	nameHieradata     = "hieradata"
	nameImage         = "image"
	nameAdminPassword = "freeipa_passwd"
	nameInstances     = "instances"
)

// State is a terraform state document
type State struct {
	Version          int               `json:"version"`
	TerraformVersion string            `json:"terraform_version"`
	Serial           int               `json:"serial"`
	Lineage          string            `json:"lineage"`
	Outputs          map[string]Output `json:"outputs,omitempty"`
	Resources        []ResourceState   `json:"resources"`
}

// Output is a root module output value
type Output struct {
	Value     any  `json:"value"`
	Type      any  `json:"type"`
	Sensitive bool `json:"sensitive,omitempty"`
}

// ResourceState is one resource block of the state
type ResourceState struct {
	Mode      string             `json:"mode"`
	Type      string             `json:"type"`
	Name      string             `json:"name"`
	Provider  string             `json:"provider"`
	Module    string             `json:"module,omitempty"`
	Instances []ResourceInstance `json:"instances"`
}

// ResourceInstance is one instance of a resource, keyed by count or for_each
type ResourceInstance struct {
	SchemaVersion int            `json:"schema_version"`
	Attributes    map[string]any `json:"attributes"`
	IndexKey      any            `json:"index_key,omitempty"`
}

// ParseState decodes a state document. Empty input yields an empty State.
func ParseState(data []byte) (*State, error) {
	state := &State{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("failed to decode terraform state: %w", err)
	}
	return state, nil
}

// Empty reports whether the state holds no resource instances
func (s *State) Empty() bool {
	for _, r := range s.Resources {
		if len(r.Instances) > 0 {
			return false
		}
	}
	return true
}

func (s *State) byType(resourceType string) []ResourceInstance {
	var out []ResourceInstance
	for _, r := range s.Resources {
		if r.Type == resourceType {
			out = append(out, r.Instances...)
		}
	}
	return out
}

func (s *State) firstByName(name string) (ResourceInstance, bool) {
	for _, r := range s.Resources {
		if r.Name == name && len(r.Instances) > 0 {
			return r.Instances[0], true
		}
	}
	return ResourceInstance{}, false
}

// InstanceCount counts flavor data sources with an id, one per instance
func (s *State) InstanceCount() int {
	return lo.CountBy(s.byType(ResourceFlavor), func(i ResourceInstance) bool {
		_, ok := i.Attributes["id"]
		return ok
	})
}

// VCPUs sums the vcpus of every instance flavor
func (s *State) VCPUs() int {
	return lo.SumBy(s.byType(ResourceFlavor), func(i ResourceInstance) int {
		return intAttr(i.Attributes, "vcpus")
	})
}

// RAM sums the ram (MiB) of every instance flavor
func (s *State) RAM() int {
	return lo.SumBy(s.byType(ResourceFlavor), func(i ResourceInstance) int {
		return intAttr(i.Attributes, "ram")
	})
}

// volumeSizes lists root block devices of instances and standalone volumes
func (s *State) volumeSizes() []int {
	var sizes []int
	for _, inst := range s.byType(ResourceComputeInstance) {
		devices, _ := inst.Attributes["block_device"].([]any)
		for _, d := range devices {
			device, ok := d.(map[string]any)
			if !ok {
				continue
			}
			if _, ok := device["volume_size"]; ok {
				sizes = append(sizes, intAttr(device, "volume_size"))
			}
		}
	}
	for _, vol := range s.byType(ResourceVolume) {
		if _, ok := vol.Attributes["size"]; ok {
			sizes = append(sizes, intAttr(vol.Attributes, "size"))
		}
	}
	return sizes
}

// VolumeCount counts root disk volumes and standalone volumes
func (s *State) VolumeCount() int {
	return len(s.volumeSizes())
}

// VolumeSize sums root disk volumes and standalone volumes (GiB)
func (s *State) VolumeSize() int {
	return lo.Sum(s.volumeSizes())
}

// FloatingIPs returns the public addresses held by the cluster, sorted
func (s *State) FloatingIPs() []string {
	var ips []string
	for _, t := range []string{ResourceFloatingIPAssoc, ResourceNetFloatingIPAssoc} {
		for _, inst := range s.byType(t) {
			if ip := strAttr(inst.Attributes, "floating_ip"); ip != "" {
				ips = append(ips, ip)
			}
		}
	}
	for _, inst := range s.byType(ResourceNetFloatingIP) {
		if ip := strAttr(inst.Attributes, "address"); ip != "" {
			ips = append(ips, ip)
		}
	}
	ips = lo.Uniq(ips)
	sort.Strings(ips)
	return ips
}

// Usage aggregates the resource usage of the state
func (s *State) Usage() types.ResourceSnapshot {
	sizes := s.volumeSizes()
	return types.ResourceSnapshot{
		InstanceCount: s.InstanceCount(),
		VCPUs:         s.VCPUs(),
		RAM:           s.RAM(),
		VolumeCount:   len(sizes),
		VolumeSize:    lo.Sum(sizes),
		PublicIPs:     len(s.FloatingIPs()),
	}
}

// AdminPassword returns the generated FreeIPA admin password, or ""
func (s *State) AdminPassword() string {
	inst, ok := s.firstByName(nameAdminPassword)
	if !ok {
		return ""
	}
	return strAttr(inst.Attributes, "result")
}

// Image returns the name of the image used by the instances, or ""
func (s *State) Image() string {
	inst, ok := s.firstByName(nameImage)
	if !ok {
		return ""
	}
	return strAttr(inst.Attributes, "name")
}

func (s *State) hieradataVar(key string) any {
	inst, ok := s.firstByName(nameHieradata)
	if !ok {
		return nil
	}
	vars, _ := inst.Attributes["vars"].(map[string]any)
	return vars[key]
}

// ClusterName returns the cluster name rendered into hieradata, or ""
func (s *State) ClusterName() string {
	name, _ := s.hieradataVar("cluster_name").(string)
	return name
}

// Domain returns the domain of the cluster, derived from the hieradata
// domain_name which is "<cluster_name>.<domain>"
func (s *State) Domain() string {
	full, _ := s.hieradataVar("domain_name").(string)
	name := s.ClusterName()
	if name == "" {
		return full
	}
	return strings.TrimPrefix(full, name+".")
}

// PublicKeys returns the SSH public keys registered by the cluster
func (s *State) PublicKeys() []string {
	keys := []string{}
	for _, inst := range s.byType(ResourceKeypair) {
		if key := strAttr(inst.Attributes, "public_key"); key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

// Instances rebuilds the instance categories from the compute instances.
// Every category is present; missing ones have no type and a zero count.
func (s *State) Instances() map[string]types.InstanceSpec {
	specs := make(map[string]types.InstanceSpec, len(types.Categories))
	for _, category := range types.Categories {
		specs[category] = types.InstanceSpec{}
	}

	for _, r := range s.Resources {
		if r.Type != ResourceComputeInstance || r.Name != nameInstances {
			continue
		}
		for _, inst := range r.Instances {
			key, _ := inst.IndexKey.(string)
			for _, category := range types.Categories {
				if !strings.HasPrefix(key, category) {
					continue
				}
				spec := specs[category]
				spec.Count++
				if key == category+"1" {
					spec.Type = strAttr(inst.Attributes, "flavor_name")
				}
				specs[category] = spec
			}
		}
	}
	return specs
}

// PartialConfiguration reconstructs the configuration of the cluster.
// Volumes and hieradata are not recoverable from state.
func (s *State) PartialConfiguration() *types.Configuration {
	nbUsers := 0
	if v := s.hieradataVar("nb_users"); v != nil {
		nbUsers = toInt(v)
	}
	guest, _ := s.hieradataVar("guest_passwd").(string)
	return &types.Configuration{
		ClusterName: s.ClusterName(),
		Domain:      s.Domain(),
		Image:       s.Image(),
		NbUsers:     nbUsers,
		Instances:   s.Instances(),
		PublicKeys:  s.PublicKeys(),
		GuestPasswd: guest,
	}
}

// Facts returns the infrastructure facts of the state, or nil when the
// state holds no resources
func (s *State) Facts() *types.InfrastructureFacts {
	if s.Empty() {
		return nil
	}
	return &types.InfrastructureFacts{
		Resources:     s.Usage(),
		Image:         s.Image(),
		FloatingIPs:   s.FloatingIPs(),
		AdminPassword: s.AdminPassword(),
	}
}

func intAttr(attrs map[string]any, key string) int {
	return toInt(attrs[key])
}

func toInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	case string:
		var i int
		_, _ = fmt.Sscanf(n, "%d", &i)
		return i
	}
	return 0
}

func strAttr(attrs map[string]any, key string) string {
	s, _ := attrs[key].(string)
	return s
}
