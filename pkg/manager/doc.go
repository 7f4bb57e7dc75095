/*
Package manager drives clusters through their lifecycle.

A Manager owns the record of every cluster (storage), its working directory
(workspace), the terraform runs made in that directory (terraform) and the
poll that waits for a freshly built cluster to come online (health). Every
status change is logged, counted and published on the event broker.

# Architecture

	┌─────────────────────────── MANAGER ───────────────────────────┐
	│                                                                 │
	│   PlanCreation / PlanModification / PlanDestruction             │
	│        │  (calling goroutine)                                   │
	│        ▼                                                        │
	│   createPlan ──▶ terraform plan + show ──▶ Cluster.Plan         │
	│                                                                 │
	│   Apply                                                         │
	│        │  claims the cluster, returns                           │
	│        ▼                                                        │
	│   taskGroup ──▶ runApply ──▶ terraform apply                    │
	│                     │                                           │
	│                     ▼                                           │
	│              awaitProvisioning ──▶ health.Poller                │
	│                                                                 │
	│   store.Transition: read ─▶ check ─▶ mutate ─▶ write (one tx)   │
	└─────────────────────────────────────────────────────────────────┘

# Lifecycle

	not_found ──PlanCreation──▶ created ──Apply──▶ build_running
	                                                    │
	          build_error ◀──────── failure ────────────┤
	                                                    ▼
	   provisioning_error ◀── timeout ── provisioning_running
	                                                    │
	                                          online    ▼
	                                    provisioning_success

	any idle status ──plan──▶ plan_running ──▶ plan_error on failure
	destroy plan + Apply ──▶ destroy_running ──▶ not_found
	                                        └──▶ destroy_error

plan_running, build_running and destroy_running are busy: a cluster in one
of them rejects every other mutating call with ErrBusyCluster. The check
and the claim happen in the same storage transaction, so two concurrent
calls on one cluster can never both proceed.

# Background tasks

Apply returns as soon as the cluster is claimed; terraform apply and the
provisioning poll run in a tracked task. Tasks are registered before the
claim, which lets Recover tell a live operation from one left behind by a
previous process. Shutdown cancels every task and waits for them.

	mgr.Apply(ctx, "phoenix.example.org")
	...
	mgr.Wait() // tests and one-shot commands

# Recovery

On startup, Recover settles records stuck in a running status: plan_running,
build_running and destroy_running become their error status, and
provisioning_running clusters get a new poll. It is safe to call
periodically.

# Errors

Errors a caller can act on are *Error values carrying an HTTP status code:
ErrClusterExists, ErrClusterNotFound, ErrBusyCluster, ErrPlanNotCreated and
ErrInvalidConfiguration. A failed plan returns a *PlanError with the tail of
the plan log. Anything else is a *ServerError. StatusCode maps an error to
its HTTP code.
*/
package manager
