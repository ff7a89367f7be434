/*
Package events provides an in-memory event broker for dbfleet's pub/sub
notifications.

The broker carries fleet events to interested subscribers: the converge
engine publishes one event per cycle at its terminal state, and the CLI
publishes when desired state is applied.

# Architecture

	Publisher → Event Channel (buffer: 100)
	     ↓
	Broadcast Loop
	     ↓
	Subscriber Channels (buffer: 50 each)

Publishing never blocks. When the broker queue is full, Publish drops the
event, counts it in dbfleet_events_dropped_total and returns ErrBrokerFull.
A subscriber whose buffer is full misses the event the same way. Publishers
log these errors; they never fail the operation that emitted the event.

# Event Types

Cycle events:
  - cluster.converged
  - cluster.partial_failure
  - cluster.failed

Operator events:
  - cluster.applied
  - platform.toggled

Every event carries a UUID, a timestamp, the cluster ID and, for cycle
events, the cycle ID and final state.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	for ev := range sub {
		fmt.Println(ev.Type, ev.ClusterID, ev.State)
	}
*/
package events
