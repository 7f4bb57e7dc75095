/*
Package events broadcasts cluster lifecycle events inside castlehub and
optionally forwards them to NATS.

Every status transition made by the manager is published on the Broker.
The Broker is a small in-memory bus: Publish enqueues into a buffered
channel (100 events), a single loop copies each event to every subscriber
channel (50 events each), and a subscriber whose buffer is full misses the
event rather than blocking the publisher.

	manager ──Publish──▶ eventCh ──▶ broadcast ──▶ Subscriber ──▶ NATSForwarder
	                                          └──▶ Subscriber ──▶ ...

NATSForwarder turns events into JSON messages on <nats.subject>.<hostname>,
so a consumer interested in every cluster subscribes to "castlehub.clusters.>".
Publishing failures are logged and never reach the manager.
*/
package events
