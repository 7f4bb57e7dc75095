/*
Package cloud answers what a cluster may still use in its OpenStack project.

Provider abstracts the five queries castlehub needs: compute, volume and
network quotas plus the flavor and image catalogs. OpenStack implements it
with gophercloud, reading quotas by project id so that users without the
identity list_projects permission can still query them.

Aggregator turns those raw numbers into the resources offered to a cluster:

	available = pre_allocated + limit - in_use

pre_allocated is what the cluster already holds according to its terraform
state (zero for a new cluster), so a modification may reuse it. Public IPs
are never pre-allocated. Each query runs at most once per Aggregator and
only successful answers are cached.

The catalog helpers apply the Magic Castle constraints: minimal flavors per
instance category, the image allow-list and the extra 10 GiB volume needed
by flavors whose root disk is too small.
*/
package cloud
