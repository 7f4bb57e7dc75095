/*
Package terraform runs terraform and reads the artifacts it produces.

castlehub treats terraform as a black box: it runs init, plan, show and apply
in a cluster's working directory and only looks at the exit code, the JSON
plan rendered by show, and the state file apply leaves behind.

# Architecture

	┌──────────────────── TERRAFORM ADAPTER ───────────────────┐
	│                                                            │
	│  Runner (Exec)                                             │
	│   init ──▶ plan -out=terraform_plan ──▶ show -json ──┐    │
	│                                                       │    │
	│   apply terraform_plan ──▶ terraform.tfstate          │    │
	│            │                       │                  │    │
	│            ▼                       ▼                  ▼    │
	│   terraform_apply.log        ParseState          ParsePlan │
	│            │                       │                  │    │
	│            ▼                       ▼                  ▼    │
	│     LogProgress             ResourceSnapshot    []PlanChange
	│                             InfrastructureFacts            │
	│                             Configuration                  │
	└────────────────────────────────────────────────────────────┘

# Subprocesses

Exec runs every command under its own context deadline (Timeouts) in a new
process group. When the deadline passes the whole group is killed and the
command fails with ErrTimeout wrapped in a *CommandError. Output goes to the
writer supplied by the caller, normally a rotated log file of the workspace.

# State

ParseState decodes terraform.tfstate into typed structs. The query methods
walk the resource list directly:

  - InstanceCount, VCPUs, RAM: openstack_compute_flavor_v2 instances
  - VolumeCount, VolumeSize: root block devices of compute instances plus
    openstack_blockstorage_volume_v3 volumes
  - FloatingIPs: floating IP associations and networking floating IPs
  - AdminPassword: the freeipa_passwd resource
  - PartialConfiguration: cluster name, domain, image, instances per
    category and public keys

Missing resources or attributes never fail: they read as zero, "" or an
empty collection, since clusters early in their life have little or no state.

# Progress

Two ways of reporting apply progress are provided. LogProgress scans the apply
log with a MarkerStrategy (TerraformMarkers by default). DiffProgress compares
the initial plan with a plan recomputed later: a change is done once the new
plan lists it as no-op or drops it entirely, which is what terraform does with
satisfied reads.

	progress := terraform.LogProgress(cluster.Plan, applyLog, nil)
	for _, p := range progress {
		fmt.Printf("%-8s %s\n", p.Progress, p.Address)
	}
*/
package terraform
