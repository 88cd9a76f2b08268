package common

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/dSlab/lib/ident"
	"github.com/ValentinKolb/dSlab/lib/record"
	"github.com/lni/dragonboat/v4/config"
)

// --------------------------------------------------------------------------
// helper functions for to interface with Dragonboat (for the server config)
// --------------------------------------------------------------------------

// Dragonboat uses RTT (Round Trip Time) to determine the timing of elections and heartbeats.
// These default values are selected according to the RAFT Paper
const (
	electionRTTFactor  = 10
	heartbeatRTTFactor = 1
)

// ToDragonboatConfig converts the ServerConfig to Dragonboat Config
func (c *ServerConfig) ToDragonboatConfig(shardId uint64) config.Config {
	return config.Config{
		ReplicaID:          c.ReplicaID,
		ShardID:            shardId,
		ElectionRTT:        electionRTTFactor,
		HeartbeatRTT:       heartbeatRTTFactor,
		CheckQuorum:        true,
		SnapshotEntries:    c.SnapshotEntries,
		CompactionOverhead: c.CompactionOverhead,
		MaxInMemLogSize:    0,
	}
}

// ToNodeHostConfig creates a NodeHostConfig for Dragonboat
func (c *ServerConfig) ToNodeHostConfig() config.NodeHostConfig {
	return config.NodeHostConfig{
		WALDir:         c.DataDir,
		NodeHostDir:    c.DataDir,
		RTTMillisecond: c.RTTMillisecond,
		RaftAddress:    c.ClusterMembers[c.ReplicaID],
	}
}

// --------------------------------------------------------------------------
// Transport configuration
// --------------------------------------------------------------------------

// SocketConf holds socket options shared by the socket based transports
type SocketConf struct {
	WriteBufferSize int // in bytes, 0 keeps the OS default
	ReadBufferSize  int // in bytes, 0 keeps the OS default
}

// TCPConf holds options only used by the tcp transport
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int // 0 disables keep-alive
	TCPLingerSec    int // 0 keeps the OS default
}

// ServerTransportConfig configures the server side of a transport
type ServerTransportConfig struct {
	// Endpoint is the address on which the server listens (host:port or socket path)
	Endpoint string
	// WorkersPerConn limits the concurrent requests handled per connection
	WorkersPerConn int
	// BufferSize is the size of the pooled request buffers
	BufferSize int
	SocketConf
	TCPConf
}

// ClientTransportConfig configures the client side of a transport
type ClientTransportConfig struct {
	Endpoints              []string
	RetryCount             int
	ConnectionsPerEndpoint int
	SocketConf
	TCPConf
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

type ServerShardType string

const (
	ShardTypeLocalSlab      ServerShardType = "lslab"
	ShardTypeReplicatedSlab ServerShardType = "rslab"
)

type ServerShard struct {
	// ShardID is the ID of the shard
	ShardID uint64
	// Type selects the slab service backing the shard
	Type ServerShardType
}

// ReplicationConfig configures the replica coordinators of the server.
// Without peers no coordinator is started.
type ReplicationConfig struct {
	// Peers maps node names to the RPC endpoints of other dSlab servers.
	// The coordinator of a shard provisions replicas on the same shard of every peer.
	Peers map[string]string
	// PeerOrder lists the peer names in the order they were configured
	PeerOrder []string
	// ScanIntervalSecond is the time between two coordinator scans
	ScanIntervalSecond int64
	// EvictionTimeoutSecond is the time after which a stalled eviction is aborted
	EvictionTimeoutSecond int64
}

// ScanInterval returns the scan interval as a duration (0 selects the coordinator default)
func (c ReplicationConfig) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalSecond) * time.Second
}

// EvictionTimeout returns the eviction timeout as a duration (0 selects the coordinator default)
func (c ReplicationConfig) EvictionTimeout() time.Duration {
	return time.Duration(c.EvictionTimeoutSecond) * time.Second
}

// ServerConfig holds all configuration parameters of a dSlab server.
type ServerConfig struct {
	// NodeName is the human-readable name of this server, slab ids derive from it
	NodeName string

	// Shards served by this server
	Shards []ServerShard

	// Dragonboat parameters
	RTTMillisecond     uint64
	SnapshotEntries    uint64
	CompactionOverhead uint64
	DataDir            string
	ReplicaID          uint64
	ClusterMembers     map[uint64]string

	// remote slab parameters
	TimeoutSecond int64

	// Transport settings
	Transport ServerTransportConfig

	// Record defaults
	Record record.Options

	// Replication settings
	Replication ReplicationConfig

	// Logging configuration
	LogLevel string
}

// HasRemoteShard checks if the configuration contains any raft replicated shards
func (c *ServerConfig) HasRemoteShard() bool {
	for _, shard := range c.Shards {
		if shard.Type == ShardTypeReplicatedSlab {
			return true
		}
	}
	return false
}

// HasPeers checks if replication to other servers is configured
func (c *ServerConfig) HasPeers() bool {
	return len(c.Replication.Peers) > 0
}

// SlabName returns the name of the slab backing a shard. All raft replicas
// of a replicated shard serve the same slab and therefore share its name.
func (c *ServerConfig) SlabName(shard ServerShard) string {
	if shard.Type == ShardTypeReplicatedSlab {
		return fmt.Sprintf("raft/%d", shard.ShardID)
	}
	return fmt.Sprintf("%s/%d", c.NodeName, shard.ShardID)
}

// Timeout returns the request timeout as a duration
func (c *ServerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// RPC settings
	addSection("RPC Server")
	addField("Node Name", c.NodeName)
	addField("Endpoint", c.Transport.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	// Shards
	addSection("Shards")
	for _, shard := range c.Shards {
		addField(strconv.FormatUint(shard.ShardID, 10), fmt.Sprintf("%s (%s, node id %s)",
			shard.Type, c.SlabName(shard), ident.NodeIDFromName(c.SlabName(shard))))
	}

	// Records
	addSection("Records")
	addField("Target Replicas", strconv.Itoa(c.Record.TargetReplicas))
	addField("Max Memo Gap", strconv.FormatUint(c.Record.MaxGap, 10))

	if c.HasPeers() {
		addSection("Replication")
		addField("Scan Interval", fmt.Sprintf("%d sec", c.Replication.ScanIntervalSecond))
		addField("Eviction Timeout", fmt.Sprintf("%d sec", c.Replication.EvictionTimeoutSecond))
		for _, name := range c.Replication.PeerOrder {
			addField("Peer "+name, c.Replication.Peers[name])
		}
	}

	if c.HasRemoteShard() {
		// Node Identity
		addSection("Node Identity")
		addField("RAFT Address", c.ClusterMembers[c.ReplicaID])
		addField("Replica ID", strconv.FormatUint(c.ReplicaID, 10))

		// RAFT parameters
		addSection("RAFT Parameters")
		addField("Round Trip Time (ms)", fmt.Sprintf("%d ms", c.RTTMillisecond))
		addField("Election RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*electionRTTFactor))
		addField("Heartbeat RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*heartbeatRTTFactor))
		addField("Check Quorum", fmt.Sprintf("%t", true))
		addField("Snapshot Entries", fmt.Sprintf("%d", c.SnapshotEntries))
		addField("Compaction Overhead", fmt.Sprintf("%d", c.CompactionOverhead))

		// Storage
		addSection("Storage")
		addField("Data Directory", c.DataDir)

		// Cluster configuration
		addSection("Cluster")
		sb.WriteString("  Initial Cluster Members:\n")

		// Sort keys for consistent output
		var keys []uint64
		for k := range c.ClusterMembers {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("    Replica %d: %s\n", k, c.ClusterMembers[k]))
		}
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	TimeoutSecond int
	Transport     ClientTransportConfig
}

// Timeout returns the request timeout as a duration
func (c *ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.Transport.RetryCount))
	addField("Conns Per Endpoint", strconv.Itoa(int(math.Max(1, float64(c.Transport.ConnectionsPerEndpoint)))))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Transport.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
