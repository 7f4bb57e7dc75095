/*
Package health decides when a freshly provisioned cluster is online.

After a build apply succeeds, terraform has created the instances but the
cluster is not usable until Puppet has configured it. The only reliable
signal is the cluster answering on its public endpoints, so castlehub polls
them until they return 200 or a deadline passes.

# Architecture

	┌──────────────────────── POLLER ─────────────────────────┐
	│                                                          │
	│   busy set (mutex)        PollUntilSuccess(host)         │
	│   ┌──────────────┐   test-and-set ──▶ owned? ──yes──▶ ErrPollInProgress
	│   │ phoenix.org  │◀──────────────────────┘ no            │
	│   │ lynx.org     │                                       │
	│   └──────────────┘        ┌──── round ────┐              │
	│          ▲                │ GET jupyter.* │ all 200 ──▶ nil
	│          │                │ GET ipa.*     │              │
	│     release (defer)       └───────┬───────┘              │
	│                                   │ not yet              │
	│                          deadline passed ──▶ ErrProvisioningTimeout
	│                                   │                      │
	│                            sleep Interval                │
	└──────────────────────────────────────────────────────────┘

# Checkers

Checker is the single-method interface every check implements. HTTPChecker
issues one request and accepts 200 only. The poller sends its requests with
a castlehub User-Agent. Network failures and timeouts are reported as unhealthy
results, never as errors: a cluster that does not answer yet is simply not
online yet. CheckAll runs checkers in order and stops at the first failure.

# Poller

Poller keeps a set of hostnames with an active poll. Acquiring a hostname is
a test-and-set under the mutex, so two concurrent callers can never both
start a loop for the same cluster. The winner releases the hostname exactly
once through defer, whatever the outcome.

	poller := health.NewPoller(health.DefaultPollerConfig())

	switch err := poller.PollUntilSuccess(ctx, "phoenix.example.org"); {
	case err == nil:
		// provisioning_success
	case errors.Is(err, health.ErrProvisioningTimeout):
		// provisioning_error
	case errors.Is(err, health.ErrPollInProgress):
		// someone else is already waiting on this cluster
	}

CheckOnline runs a single round and is used for the inline check performed
when a cluster's status is read.

# Metrics

  - castlehub_health_polls_active: hostnames currently owned by a poll
  - castlehub_health_poll_duration_seconds{outcome}: success, timeout or cancelled
*/
package health
