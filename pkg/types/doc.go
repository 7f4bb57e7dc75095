/*
Package types defines the core data structures used throughout castlehub.

This package contains the domain model shared by every other package: the
persisted Cluster record, its lifecycle states, the declarative cluster
Configuration, the resource facts parsed from terraform state, and the plan
change records used for progress reporting.

# Core Types

Cluster Records:
  - Cluster: Persisted record keyed by hostname (cluster_name.domain)
  - ClusterStatus: One of eleven lifecycle states
  - PlanType: none, build or destroy

Declarative Configuration:
  - Configuration: Instances per category, volumes, image, users, keys
  - InstanceSpec: Flavor, count and tags of one instance category
  - VolumeSpec: Size of one block storage volume

Infrastructure:
  - InfrastructureFacts: What terraform state says exists
  - ResourceSnapshot: Instance count, vcpus, ram, volumes, public IPs

Plans:
  - PlanChange: (address, type, actions) of one proposed change
  - ChangeProgress: A PlanChange annotated with queued/running/done

# Lifecycle

	                      plan_creation
	  not_found ─────────────────────────────▶ created
	                                              │ create_plan
	                                              ▼
	  plan_error ◀──── failure ──────────── plan_running
	                                              │ success
	                                              ▼
	                                   created | provisioning_running
	                                              │ apply(build)
	                                              ▼
	  build_error ◀─── failure ──────────── build_running
	                                              │ success
	                                              ▼
	                                    provisioning_running
	                                       │              │
	                              poll ok  ▼              ▼  poll timeout
	                       provisioning_success    provisioning_error

	  any idle state ── apply(destroy) ──▶ destroy_running ──▶ not_found
	                                              │ failure
	                                              ▼
	                                        destroy_error

A cluster is busy while its status is plan_running, build_running or
destroy_running. Busy clusters reject every mutating operation.

# Usage Examples

Validating a configuration:

	cfg := &types.Configuration{
		ClusterName: "phoenix",
		Domain:      "calculquebec.cloud",
		Image:       "Rocky-8",
		NbUsers:     10,
		Instances: map[string]types.InstanceSpec{
			"mgmt":  {Type: "p4-6gb", Count: 1},
			"login": {Type: "p2-3gb", Count: 1},
			"node":  {Type: "c8-30gb", Count: 2},
		},
	}
	if err := cfg.Validate([]string{"calculquebec.cloud"}); err != nil {
		return err
	}
	hostname := cfg.Hostname() // phoenix.calculquebec.cloud

# Serialization

All persisted types carry JSON tags; the store writes them as JSON values.
Configuration also carries YAML tags for cluster files read by the CLI.
*/
package types
