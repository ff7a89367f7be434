/*
Package fetch collects node reports from the agents running next to each
database node.

Two Fetcher implementations are provided. HTTPFetcher polls the status
endpoint of every agent listed on the cluster record, in parallel with a
per-agent timeout. GossipFetcher reads reports that agents advertise as
memberlist node metadata, so the control plane never dials agents.
Members whose metadata does not decode are skipped; the gossip pool may be
shared with other services.

# Agent side

AgentDelegate is the half of the gossip protocol that runs inside an agent
process, which lives outside this repository. An agent creates its
memberlist with the delegate, calls Update with each new report and then
Memberlist.UpdateNode to push it:

	d := fetch.NewAgentDelegate("orders")
	mlc := memberlist.DefaultLANConfig()
	mlc.Delegate = d
	list, _ := memberlist.Create(mlc)

	_ = d.Update(report)
	_ = list.UpdateNode(5 * time.Second)

A poll that reaches some agents but not others returns the reports it got
together with a *PartialError naming the failed agents. Callers treat that
as a warning; a view is still built from the partial set. A fetch that
reaches no agent at all returns a plain error.

When an agent omits a payload version, the HTTP fetcher derives one from a
BLAKE3 hash of the raw status body.
*/
package fetch
