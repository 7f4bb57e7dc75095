/*
Package reconciler keeps cluster records honest while castlehub runs.

On Start it asks the manager to recover whatever a previous process left in
a running status. Then, on a fixed interval, it:

  - checks every provisioning_running cluster once, which moves it to
    provisioning_success when online or provisioning_error past its deadline
  - when CullExpired is set, plans and applies the destruction of clusters
    whose expiration date has passed

	┌──────────────┐   Start    ┌──────────────────┐
	│  Reconciler  │──────────▶│ Manager.Recover  │
	└──────┬───────┘            └──────────────────┘
	       │ every Interval
	       ▼
	   List ──▶ provisioning_running ──▶ Manager.Status
	        └─▶ expired (CullExpired) ──▶ PlanDestruction ──▶ Apply

Busy clusters are skipped and picked up on a later cycle. A cluster whose
destruction failed is not retried.
*/
package reconciler
