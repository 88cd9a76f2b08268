package internal

// QueryType defines the possible queries for the state machine.
type QueryType uint8

const (
	QueryTValue           QueryType = iota // Materialized value of a record.
	QueryTEnvelope                         // Envelope of a record.
	QueryTMemosSince                       // Applied memos of a record after a sequence number.
	QueryTPeersOf                          // Peers of a record.
	QueryTDesiredReplicas                  // Missing replicas of a record.
	QueryTStatus                           // Replication state of a record.
	QueryTRecords                          // Ids of all live records.
	QueryTInfo                             // Metadata about the slab.
)

func (q QueryType) String() string {
	switch q {
	case QueryTValue:
		return "Value"
	case QueryTEnvelope:
		return "Envelope"
	case QueryTMemosSince:
		return "MemosSince"
	case QueryTPeersOf:
		return "PeersOf"
	case QueryTDesiredReplicas:
		return "DesiredReplicas"
	case QueryTStatus:
		return "Status"
	case QueryTRecords:
		return "Records"
	case QueryTInfo:
		return "Info"
	default:
		return "Unknown"
	}
}

// Query defines the structure for lookup requests (read-only) sent via SyncRead or StaleRead.
// Queries are executed locally and never serialized.
type Query struct {
	Type   QueryType // The type of Query to perform.
	Record string    // The record id (empty for Records and Info).
	Seq    uint64    // Sequence number for MemosSince.
	Flag   bool      // includeLocal for Envelope, replicaOnly for PeersOf.
}
