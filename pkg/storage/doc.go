/*
Package storage provides BoltDB-backed persistence for dbfleet.

The BoltStore keeps everything a control-plane process needs between
cycles in one file, <dataDir>/dbfleet.db:

	clusters   cluster ID  -> Cluster
	desired    cluster ID  -> DesiredConfig (revision bumped on every put)
	views      cluster ID  -> ViewSnapshot of the last accepted view
	progress   cluster ID  -> Progress of the last cycle
	reports    cluster ID  -> nested bucket, sequence -> OrchestrateReport

Values are deterministic CBOR (package codec). Reports, which accumulate
without bound, are additionally zstd-compressed when large enough to
benefit.

# Report history

Reports are append-only. Each cluster has its own nested bucket and every
report is stored under the bucket's next sequence number, big-endian, so
cursor order is insertion order. ListReports walks the cursor backwards to
return the newest reports first. Deleting a cluster drops its history.

# Concurrency

Reads run in bolt read transactions and may proceed concurrently; writes are
serialized by bolt. The database file is locked by the opening process, and
NewBoltStore gives up after two seconds if another process holds it.

# Backup

Backup streams a consistent copy of the file from a read transaction, so it
can run while the store is in use. Restore by placing the copy at
<dataDir>/dbfleet.db before opening the store.

# Errors

Missing records return an error wrapping ErrNotFound:

	desired, err := store.LoadDesiredConfig(id)
	if errors.Is(err, storage.ErrNotFound) {
		// cluster has no desired configuration yet
	}
*/
package storage
