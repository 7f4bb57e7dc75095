package types

import (
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"strings"
	"time"
)

// Cluster is the persisted record of a provisioned compute cluster
type Cluster struct {
	Hostname             string               `json:"hostname"`
	Status               ClusterStatus        `json:"status"`
	PlanType             PlanType             `json:"plan_type"`
	Configuration        *Configuration       `json:"configuration,omitempty"`
	AppliedConfiguration *Configuration       `json:"applied_configuration,omitempty"`
	Plan                 []PlanChange         `json:"plan"`
	Infrastructure       *InfrastructureFacts `json:"infrastructure,omitempty"`
	Owner                string               `json:"owner,omitempty"`
	CloudID              string               `json:"cloud_id,omitempty"`
	CreatedAt            time.Time            `json:"created_at"`
	UpdatedAt            time.Time            `json:"updated_at"`
	ProvisioningStarted  time.Time            `json:"provisioning_started_at,omitempty"`
	ExpirationDate       *time.Time           `json:"expiration_date,omitempty"`
}

// IsBusy reports whether a mutating operation is in flight
func (c *Cluster) IsBusy() bool {
	return c.Status.IsBusy()
}

// HasPlan reports whether a pending plan is stored
func (c *Cluster) HasPlan() bool {
	return c.PlanType != PlanTypeNone && c.Plan != nil
}

// OwnerUsername returns the owner identity up to the first '@'
func (c *Cluster) OwnerUsername() string {
	name, _, _ := strings.Cut(c.Owner, "@")
	return name
}

// Expired reports whether the expiration date is before now
func (c *Cluster) Expired(now time.Time) bool {
	return c.ExpirationDate != nil && c.ExpirationDate.Before(now)
}

// ClusterStatus is a state of the cluster lifecycle
type ClusterStatus string

const (
	StatusNotFound            ClusterStatus = "not_found"
	StatusCreated             ClusterStatus = "created"
	StatusPlanRunning         ClusterStatus = "plan_running"
	StatusPlanError           ClusterStatus = "plan_error"
	StatusBuildRunning        ClusterStatus = "build_running"
	StatusBuildError          ClusterStatus = "build_error"
	StatusProvisioningRunning ClusterStatus = "provisioning_running"
	StatusProvisioningSuccess ClusterStatus = "provisioning_success"
	StatusProvisioningError   ClusterStatus = "provisioning_error"
	StatusDestroyRunning      ClusterStatus = "destroy_running"
	StatusDestroyError        ClusterStatus = "destroy_error"
)

// AllStatuses lists every lifecycle state
var AllStatuses = []ClusterStatus{
	StatusNotFound,
	StatusCreated,
	StatusPlanRunning,
	StatusPlanError,
	StatusBuildRunning,
	StatusBuildError,
	StatusProvisioningRunning,
	StatusProvisioningSuccess,
	StatusProvisioningError,
	StatusDestroyRunning,
	StatusDestroyError,
}

// Valid reports whether s is one of the defined states
func (s ClusterStatus) Valid() bool {
	return slices.Contains(AllStatuses, s)
}

// IsBusy reports whether s denotes an in-flight plan or apply
func (s ClusterStatus) IsBusy() bool {
	switch s {
	case StatusPlanRunning, StatusBuildRunning, StatusDestroyRunning:
		return true
	}
	return false
}

// IsError reports whether s is a failure state
func (s ClusterStatus) IsError() bool {
	switch s {
	case StatusPlanError, StatusBuildError, StatusProvisioningError, StatusDestroyError:
		return true
	}
	return false
}

// FailedState returns the error state a running state falls into
// when its operation is lost. Non-running states map to themselves.
func (s ClusterStatus) FailedState() ClusterStatus {
	switch s {
	case StatusPlanRunning:
		return StatusPlanError
	case StatusBuildRunning:
		return StatusBuildError
	case StatusProvisioningRunning:
		return StatusProvisioningError
	case StatusDestroyRunning:
		return StatusDestroyError
	}
	return s
}

// PlanType is the kind of pending plan
type PlanType string

const (
	PlanTypeNone    PlanType = "none"
	PlanTypeBuild   PlanType = "build"
	PlanTypeDestroy PlanType = "destroy"
)

// Instance categories
const (
	CategoryManagement = "mgmt"
	CategoryLogin      = "login"
	CategoryNode       = "node"
)

// Categories lists the instance categories in display order
var Categories = []string{CategoryManagement, CategoryLogin, CategoryNode}

// InstanceSpec describes one group of instances
type InstanceSpec struct {
	Type  string   `json:"type" yaml:"type"`
	Count int      `json:"count" yaml:"count"`
	Tags  []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// VolumeSpec describes one block storage volume
type VolumeSpec struct {
	Size int `json:"size" yaml:"size"`
}

// Configuration is the declarative description of a cluster
type Configuration struct {
	ClusterName string                           `json:"cluster_name" yaml:"cluster_name"`
	Domain      string                           `json:"domain" yaml:"domain"`
	Image       string                           `json:"image" yaml:"image"`
	NbUsers     int                              `json:"nb_users" yaml:"nb_users"`
	Instances   map[string]InstanceSpec          `json:"instances" yaml:"instances"`
	Volumes     map[string]map[string]VolumeSpec `json:"volumes,omitempty" yaml:"volumes,omitempty"`
	PublicKeys  []string                         `json:"public_keys,omitempty" yaml:"public_keys,omitempty"`
	GuestPasswd string                           `json:"guest_passwd,omitempty" yaml:"guest_passwd,omitempty"`
	Hieradata   string                           `json:"hieradata,omitempty" yaml:"hieradata,omitempty"`
}

var clusterNameRe = regexp.MustCompile(`^[a-z]([a-z0-9-]{0,61}[a-z0-9])?$`)

// Hostname returns cluster_name.domain
func (c *Configuration) Hostname() string {
	return fmt.Sprintf("%s.%s", c.ClusterName, c.Domain)
}

// Validate checks the configuration. An empty domains list accepts
// any domain.
func (c *Configuration) Validate(domains []string) error {
	if !clusterNameRe.MatchString(c.ClusterName) {
		return fmt.Errorf("invalid cluster name %q", c.ClusterName)
	}
	if c.Domain == "" {
		return fmt.Errorf("domain is required")
	}
	if len(domains) > 0 && !slices.Contains(domains, c.Domain) {
		return fmt.Errorf("domain %q is not available", c.Domain)
	}
	if c.Image == "" {
		return fmt.Errorf("image is required")
	}
	if c.NbUsers < 0 {
		return fmt.Errorf("nb_users must not be negative")
	}
	for category, spec := range c.Instances {
		if !slices.Contains(Categories, category) {
			return fmt.Errorf("unknown instance category %q", category)
		}
		if spec.Count < 0 {
			return fmt.Errorf("instance count for %s must not be negative", category)
		}
		if spec.Count > 0 && spec.Type == "" {
			return fmt.Errorf("instance type for %s is required", category)
		}
	}
	for group, vols := range c.Volumes {
		for name, vol := range vols {
			if vol.Size <= 0 {
				return fmt.Errorf("volume %s/%s must have a positive size", group, name)
			}
		}
	}
	return nil
}

// Equal reports whether both configurations describe the same cluster
func (c *Configuration) Equal(other *Configuration) bool {
	if c == nil || other == nil {
		return c == other
	}
	return reflect.DeepEqual(c, other)
}

// ResourceSnapshot is the resource usage of a cluster's infrastructure
type ResourceSnapshot struct {
	InstanceCount int `json:"instance_count"`
	VCPUs         int `json:"vcpus"`
	RAM           int `json:"ram"`
	VolumeCount   int `json:"volume_count"`
	VolumeSize    int `json:"volume_size"`
	PublicIPs     int `json:"public_ips"`
}

// InfrastructureFacts are what terraform state says exists
type InfrastructureFacts struct {
	Resources     ResourceSnapshot `json:"resources"`
	Image         string           `json:"image,omitempty"`
	FloatingIPs   []string         `json:"floating_ips,omitempty"`
	AdminPassword string           `json:"admin_password,omitempty"`
}

// PlanAction is a terraform change action
type PlanAction string

const (
	ActionCreate PlanAction = "create"
	ActionUpdate PlanAction = "update"
	ActionDelete PlanAction = "delete"
	ActionRead   PlanAction = "read"
	ActionNoOp   PlanAction = "no-op"
)

// PlanChange is one resource change proposed by a plan
type PlanChange struct {
	Address string       `json:"address"`
	Type    string       `json:"type"`
	Actions []PlanAction `json:"actions"`
}

// Is reports whether the change has exactly the given actions
func (p PlanChange) Is(actions ...PlanAction) bool {
	return slices.Equal(p.Actions, actions)
}

// Progress is the state of one change during an apply
type Progress string

const (
	ProgressQueued  Progress = "queued"
	ProgressRunning Progress = "running"
	ProgressDone    Progress = "done"
)

// ChangeProgress is a plan change annotated with its apply progress
type ChangeProgress struct {
	PlanChange
	Progress Progress `json:"progress"`
	Done     bool     `json:"done"`
}
