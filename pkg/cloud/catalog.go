package cloud

import (
	"regexp"
	"sort"

	"github.com/cuemby/castlehub/pkg/types"
	"github.com/samber/lo"
)

// MinimumRootDiskSize is the root disk in GiB every instance needs. Flavors
// with a smaller disk get an external volume of this size.
const MinimumRootDiskSize = 10

// Requirement is the minimal flavor of an instance category
type Requirement struct {
	RAM   int
	VCPUs int
}

// CategoryRequirements maps each instance category to its minimal flavor
var CategoryRequirements = map[string]Requirement{
	types.CategoryManagement: {RAM: 6144, VCPUs: 2},
	types.CategoryLogin:      {RAM: 2048, VCPUs: 2},
	types.CategoryNode:       {RAM: 2048, VCPUs: 1},
}

// CategoryTags are the tags an instance of each category may carry
var CategoryTags = map[string][]string{
	types.CategoryManagement: {"mgmt", "nfs", "puppet"},
	types.CategoryLogin:      {"login", "proxy", "public"},
	types.CategoryNode:       {"node"},
}

// ImagePatterns is the image allow-list, in order of preference
var ImagePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^rocky-8`),
	regexp.MustCompile(`(?i)^almalinux-8`),
	regexp.MustCompile(`(?i)^centos-8`),
}

// InstanceType describes a flavor and the extra volume it implies
type InstanceType struct {
	Name                string `json:"name"`
	VCPUs               int    `json:"vcpus"`
	RAM                 int    `json:"ram"`
	RequiredVolumeCount int    `json:"required_volume_count"`
	RequiredVolumeSize  int    `json:"required_volume_size"`
}

// InstanceTypeOf computes the supplementary root volume of a flavor
func InstanceTypeOf(f Flavor) InstanceType {
	it := InstanceType{Name: f.Name, VCPUs: f.VCPUs, RAM: f.RAM}
	if f.Disk < MinimumRootDiskSize {
		it.RequiredVolumeCount = 1
		it.RequiredVolumeSize = MinimumRootDiskSize
	}
	return it
}

// SortFlavors returns a copy sorted by ram, then vcpus, then name
func SortFlavors(flavors []Flavor) []Flavor {
	sorted := append([]Flavor(nil), flavors...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.RAM != b.RAM {
			return a.RAM < b.RAM
		}
		if a.VCPUs != b.VCPUs {
			return a.VCPUs < b.VCPUs
		}
		return a.Name < b.Name
	})
	return sorted
}

// FlavorsFor keeps the flavors meeting the category minimum. Unknown
// categories have no minimum.
func FlavorsFor(category string, flavors []Flavor) []Flavor {
	req := CategoryRequirements[category]
	return lo.Filter(flavors, func(f Flavor, _ int) bool {
		return f.RAM >= req.RAM && f.VCPUs >= req.VCPUs
	})
}

// FilterImages keeps the allowed images, ordered by the first pattern they
// match and then by name
func FilterImages(names []string) []string {
	type ranked struct {
		rank int
		name string
	}

	var matched []ranked
	for _, name := range names {
		for i, pattern := range ImagePatterns {
			if pattern.MatchString(name) {
				matched = append(matched, ranked{rank: i, name: name})
				break
			}
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].rank != matched[j].rank {
			return matched[i].rank < matched[j].rank
		}
		return matched[i].name < matched[j].name
	})

	return lo.Map(matched, func(r ranked, _ int) string { return r.name })
}
