package serve

import (
	"fmt"
	"strconv"
	"strings"

	cmdUtil "github.com/ValentinKolb/dSlab/cmd/util"
	"github.com/ValentinKolb/dSlab/lib/ident"
	"github.com/ValentinKolb/dSlab/lib/replication"
	"github.com/ValentinKolb/dSlab/rpc/client"
	"github.com/ValentinKolb/dSlab/rpc/common"
	"github.com/ValentinKolb/dSlab/rpc/server"
	"github.com/ValentinKolb/dSlab/rpc/transport"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the dSlab server",
		Long:    `Start the dSlab server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is DSLAB_<flag> (e.g. DSLAB_TIMEOUT=15)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitEnv)

	// add flags
	key := "node-name"
	ServeCmd.PersistentFlags().String(key, "node-1", cmdUtil.WrapString("NodeName identifies this server. The node id of a local slab is derived from '<node-name>/<shard id>', so it must be unique and stable across restarts"))

	key = "shards"
	ServeCmd.PersistentFlags().String(key, "100=lslab", cmdUtil.WrapString("Comma-separated list of shards to serve. Format: ID=TYPE where TYPE is one of: lslab (local slab), rslab (raft replicated slab)"))

	key = "rtt-millisecond"
	ServeCmd.PersistentFlags().Int(key, 100, cmdUtil.WrapString("(rslab) RTTMillisecond defines the average Round Trip Time (RTT) in milliseconds between two NodeHost instances. \nOther raft configuration parameters (ElectionRTT=value*10, HeartbeatRTT=value*1) are derived from this value"))

	key = "snapshot-entries"
	ServeCmd.PersistentFlags().Int(key, 10, cmdUtil.WrapString("(rslab) SnapshotEntries defines how often the state machine should be snapshotted automatically. It is defined in terms of the number of applied Raft log entries. SnapshotEntries can be set to 0 to disable such automatic snapshotting (not recommended)"))

	key = "compaction-overhead"
	ServeCmd.PersistentFlags().Int(key, 5, cmdUtil.WrapString("(rslab) CompactionOverhead defines the number of snapshots that should be retained in the system. Recommended value is about 1/2 of SnapshotEntries"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", cmdUtil.WrapString("(rslab) DataDir is the directory used for storing the raft log and the snapshots"))

	key = "replica-id"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(rslab) ReplicaID is the unique identifier for this NodeHost instance (e.g. 'node-1')"))

	key = "cluster-members"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(rslab) ClusterMembers is a comma-separated list of NodeHost addresses in the format 'node-1=localhost:63001,node-2=localhost:63002,...'"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Timeout in seconds for raft requests and for requests to peers"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the API will listen (e.g. localhost:8080, /tmp/dslab.sock, ...)"))

	key = "transport-workers-per-conn"
	ServeCmd.PersistentFlags().Int(key, 8, cmdUtil.WrapString("Concurrent requests handled per connection (tcp, unix)"))

	key = "transport-buffer-size"
	ServeCmd.PersistentFlags().Int(key, 64, cmdUtil.WrapString("Size of the pooled request buffers in KB (tcp, unix)"))

	key = "transport-tcp-nodelay"
	ServeCmd.PersistentFlags().Bool(key, true, cmdUtil.WrapString("Whether to enable TCP_NODELAY (tcp)"))

	key = "transport-tcp-keepalive"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("The keepalive interval in seconds, 0 disables keep-alive (tcp)"))

	key = "target-replicas"
	ServeCmd.PersistentFlags().Int(key, 1, cmdUtil.WrapString("Default number of replicas every record should have on other nodes"))

	key = "max-gap"
	ServeCmd.PersistentFlags().Uint64(key, 64, cmdUtil.WrapString("How far a memo may run ahead of the next expected sequence number before it is rejected"))

	key = "peers"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Comma-separated list of peer servers replicas are placed on, in the format 'node-2=localhost:8081,node-3=localhost:8082'. Peers must use the same transport and serializer and serve the same shards"))

	key = "scan-interval"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Seconds between two scans of the replication coordinator"))

	key = "eviction-timeout"
	ServeCmd.PersistentFlags().Int64(key, 60, cmdUtil.WrapString("Seconds after which a stalled eviction is aborted"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	serveCmdConfig.NodeName = strings.TrimSpace(viper.GetString("node-name"))
	if serveCmdConfig.NodeName == "" {
		return fmt.Errorf("node-name must not be empty")
	}

	// parse shards
	shards, shardOrder, err := cmdUtil.ParseKeyValueList(viper.GetString("shards"))
	if err != nil {
		return fmt.Errorf("invalid shards: %v", err)
	}
	serveCmdConfig.Shards = []common.ServerShard{}
	for _, id := range shardOrder {
		shardID, err := strconv.ParseUint(id, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid shard ID %s: %v", id, err)
		}

		shardType := common.ServerShardType(shards[id])
		switch shardType {
		case common.ShardTypeLocalSlab, common.ShardTypeReplicatedSlab:
		default:
			return fmt.Errorf("invalid shard type: %s (expected one of: lslab, rslab)", shardType)
		}

		serveCmdConfig.Shards = append(serveCmdConfig.Shards, common.ServerShard{
			ShardID: shardID,
			Type:    shardType,
		})
	}
	if len(serveCmdConfig.Shards) == 0 {
		return fmt.Errorf("at least one shard is required")
	}

	// read the configuration from the command line flags and environment variables
	serveCmdConfig.RTTMillisecond = viper.GetUint64("rtt-millisecond")
	serveCmdConfig.SnapshotEntries = viper.GetUint64("snapshot-entries")
	serveCmdConfig.CompactionOverhead = viper.GetUint64("compaction-overhead")
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	serveCmdConfig.Transport = common.ServerTransportConfig{
		Endpoint:       viper.GetString("endpoint"),
		WorkersPerConn: viper.GetInt("transport-workers-per-conn"),
		BufferSize:     viper.GetInt("transport-buffer-size") * 1024,
		TCPConf: common.TCPConf{
			TCPNoDelay:      viper.GetBool("transport-tcp-nodelay"),
			TCPKeepAliveSec: viper.GetInt("transport-tcp-keepalive"),
		},
	}

	serveCmdConfig.Record.TargetReplicas = viper.GetInt("target-replicas")
	serveCmdConfig.Record.MaxGap = viper.GetUint64("max-gap")
	if serveCmdConfig.Record.TargetReplicas < 0 {
		return fmt.Errorf("target-replicas must not be negative")
	}

	// parse peers
	peers, peerOrder, err := cmdUtil.ParseKeyValueList(viper.GetString("peers"))
	if err != nil {
		return fmt.Errorf("invalid peers: %v", err)
	}
	if _, self := peers[serveCmdConfig.NodeName]; self {
		return fmt.Errorf("peers must not contain the node itself (%s)", serveCmdConfig.NodeName)
	}
	serveCmdConfig.Replication = common.ReplicationConfig{
		Peers:                 peers,
		PeerOrder:             peerOrder,
		ScanIntervalSecond:    viper.GetInt64("scan-interval"),
		EvictionTimeoutSecond: viper.GetInt64("eviction-timeout"),
	}

	// parse replica id
	if id := viper.GetString("replica-id"); id != "" {
		serveCmdConfig.ReplicaID = uint64(ident.NodeIDFromName(id))
	} else if serveCmdConfig.HasRemoteShard() {
		// error only if cluster mode
		return fmt.Errorf("ReplicaId is required for rslab shards")
	}

	// parse cluster members
	if clusterMembers := viper.GetString("cluster-members"); clusterMembers != "" {
		members, _, err := cmdUtil.ParseKeyValueList(clusterMembers)
		if err != nil {
			return fmt.Errorf("invalid cluster members: %v", err)
		}
		serveCmdConfig.ClusterMembers = make(map[uint64]string, len(members))
		for name, address := range members {
			serveCmdConfig.ClusterMembers[uint64(ident.NodeIDFromName(name))] = address
		}
	} else if serveCmdConfig.HasRemoteShard() {
		// error only if cluster mode
		return fmt.Errorf("ClusterMembers is required for rslab shards")
	}

	// test if the replica id is in the cluster members (only for cluster mode)
	if _, ok := serveCmdConfig.ClusterMembers[serveCmdConfig.ReplicaID]; !ok && serveCmdConfig.HasRemoteShard() {
		return fmt.Errorf("no address found for replica ID %d in cluster members", serveCmdConfig.ReplicaID)
	}

	return nil
}

// run starts the dSlab server
func run(_ *cobra.Command, _ []string) error {

	// parse the serializer
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	// Parse the transport
	t, err := cmdUtil.GetServerTransport()
	if err != nil {
		return err
	}

	serv := server.NewRPCServer(
		*serveCmdConfig,
		t,
		s,
	)

	// peers are reached with the same transport and serializer as this server
	peerConfig := common.ClientConfig{
		TimeoutSecond: int(serveCmdConfig.TimeoutSecond),
		Transport: common.ClientTransportConfig{
			RetryCount:             1,
			ConnectionsPerEndpoint: 1,
			TCPConf:                serveCmdConfig.Transport.TCPConf,
		},
	}
	peers := make([]client.Peer, 0, len(serveCmdConfig.Replication.PeerOrder))
	for _, name := range serveCmdConfig.Replication.PeerOrder {
		peers = append(peers, client.Peer{Name: name, Endpoint: serveCmdConfig.Replication.Peers[name]})
	}
	newTransport := func() transport.IRPCClientTransport {
		tr, _ := cmdUtil.NewClientTransport(viper.GetString("transport"))
		return tr
	}

	serv.WithPeers(func(shardID uint64) (replication.Provisioner, []ident.NodeID, error) {
		return client.NewProvisioner(shardID, peers, peerConfig, newTransport, s)
	})

	return serv.Serve()
}
