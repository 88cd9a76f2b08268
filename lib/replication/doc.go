/*
Package replication implements the replication coordinator of a slab.

The record package only computes how many replicas a record needs and whether
an eviction may complete. The Coordinator acts on it: it periodically scans
the records of the local slab and

  - emits an UnderReplicated signal and provisions missing replicas on
    configured peers that hold no copy yet (hosts and evicting nodes only)
  - forwards the memos of hosted records to their REPLICA peers, asking a
    replica for its next expected sequence number when it is not yet known
  - retires evicting copies once the replacement has landed, promoting a
    replica to host first if the local node is the last host
  - aborts evictions that stall for longer than the eviction timeout

Replicas are created and kept current through a Provisioner. ServiceProvisioner provisions
through the slab.IService of each peer, which can be a local service or an
RPC client.
*/
package replication
