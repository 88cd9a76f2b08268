package server

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"github.com/ValentinKolb/dSlab/lib/ident"
	"github.com/ValentinKolb/dSlab/lib/replication"
	"github.com/ValentinKolb/dSlab/lib/slab"
	"github.com/ValentinKolb/dSlab/lib/slab/lslab"
	"github.com/ValentinKolb/dSlab/lib/slab/rslab"
	"github.com/ValentinKolb/dSlab/rpc/common"
	"github.com/ValentinKolb/dSlab/rpc/serializer"
	"github.com/ValentinKolb/dSlab/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	gometrics "github.com/rcrowley/go-metrics"
)

var Logger = logger.GetLogger("rpc")

// PeerResolver builds the provisioner and the ordered candidate nodes for the
// coordinator of a shard. It is called once per local shard when the server starts.
type PeerResolver func(shardID uint64) (replication.Provisioner, []ident.NodeID, error)

// serverShard is a struct that represents a shard in the RPC server
// It contains the slab service it encapsulates and the adapter
// that handles requests for the service
type serverShard struct {
	Service slab.IService
	Adapter IRPCServerAdapter
}

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		http.NewHttpServerTransport(),
//		serializer.NewJSONSerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	 }
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	Logger.Infof("Created RPC Server")
	Logger.Infof(config.String())

	return &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		shards:     xsync.NewMapOf[uint64, serverShard](),
		slabs:      xsync.NewMapOf[uint64, *slab.Slab](),
	}
}

// RPCServer serves the slab shards of one node
type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	shards     *xsync.MapOf[uint64, serverShard]
	// slabs holds the slab of every shard (for the replicated shards the local raft replica)
	slabs *xsync.MapOf[uint64, *slab.Slab]

	resolvePeers PeerResolver
	coordMu      sync.Mutex
	coordinators []*replication.Coordinator
}

// WithPeers sets the resolver used to start the replication coordinators.
// Without a resolver (or without configured peers) no coordinator is started.
func (s *RPCServer) WithPeers(resolve PeerResolver) *RPCServer {
	s.resolvePeers = resolve
	return s
}

// Shard returns the slab service of a shard (after Serve initialized it).
func (s *RPCServer) Shard(shardID uint64) (slab.IService, bool) {
	shard, ok := s.shards.Load(shardID)
	return shard.Service, ok
}

// handle processes one encoded request for a shard and returns the encoded response
func (s *RPCServer) handle(shardId uint64, req []byte) []byte {
	var msg common.Message
	var respMsg *common.Message

	shard, ok := s.shards.Load(shardId)
	if !ok {
		respMsg = common.NewErrorResponse(fmt.Sprintf("shard %d not found", shardId))
	} else if err := s.serializer.Deserialize(req, &msg); err != nil {
		respMsg = common.NewErrorResponse(fmt.Sprintf("failed to deserialize request: %s", err))
	} else {
		respMsg = shard.Adapter.Handle(&msg, shard.Service)
	}

	val, err := s.serializer.Serialize(*respMsg)
	if err != nil {
		// fall back to an error response, a message without payload can always be encoded
		val, _ = s.serializer.Serialize(*common.NewErrorResponse(fmt.Sprintf("failed to serialize response: %s", err)))
	}
	return val
}

// writeMetrics writes the process metrics, the metrics of every slab and those of the coordinators
func (s *RPCServer) writeMetrics(w io.Writer) {
	metrics.WriteProcessMetrics(w)
	s.slabs.Range(func(_ uint64, sl *slab.Slab) bool {
		sl.WriteMetrics(w)
		return true
	})

	s.coordMu.Lock()
	defer s.coordMu.Unlock()
	for _, c := range s.coordinators {
		gometrics.WriteOnce(c.Registry(), w)
	}
}

// slabFactory returns the factory for the slab of a shard, the created slab is remembered for the metrics
func (s *RPCServer) slabFactory(shard common.ServerShard) slab.SlabFactory {
	name := s.config.SlabName(shard)
	return func() *slab.Slab {
		sl := slab.New(name, s.config.Record)
		s.slabs.Store(shard.ShardID, sl)
		return sl
	}
}

func (s *RPCServer) init() error {

	// Init logger
	common.InitLoggers(s.config)

	// Create the Dragonboat NodeHost
	var nodeHost *dragonboat.NodeHost
	var err error
	if s.config.HasRemoteShard() {
		// Only create the NodeHost if we have replicated shards
		nodeHost, err = dragonboat.NewNodeHost(s.config.ToNodeHostConfig())
		if err != nil {
			return fmt.Errorf("failed to create node host: %w", err)
		}
	}

	// CREATE SHARDS

	/*
		Note: A single RPC Server can have any number of local and replicated shards.
		A local shard owns its slab, a replicated shard runs the slab inside a raft
		group so that all replicas of the shard serve the same slab.
	*/

	for _, shardConfig := range s.config.Shards {
		factory := s.slabFactory(shardConfig)

		switch shardConfig.Type {
		case common.ShardTypeLocalSlab:
			s.shards.Store(shardConfig.ShardID, serverShard{
				Service: lslab.NewLocalService(factory),
				Adapter: NewSlabServerAdapter(),
			})
			Logger.Infof("created local slab %s for shard %d", s.config.SlabName(shardConfig), shardConfig.ShardID)

		case common.ShardTypeReplicatedSlab:
			if nodeHost == nil {
				return fmt.Errorf("node host is nil, cannot create replicated slab")
			}

			// Start Raft for the shard
			if err := nodeHost.StartConcurrentReplica(s.config.ClusterMembers, false, rslab.CreateStateMachineFactory(factory), s.config.ToDragonboatConfig(shardConfig.ShardID)); err != nil {
				return fmt.Errorf("failed to start shard %d: %w", shardConfig.ShardID, err)
			}

			s.shards.Store(shardConfig.ShardID, serverShard{
				Service: rslab.NewReplicatedService(nodeHost, shardConfig.ShardID, s.config.Timeout()),
				Adapter: NewSlabServerAdapter(),
			})
			Logger.Infof("created replicated slab %s for shard %d", s.config.SlabName(shardConfig), shardConfig.ShardID)

		default:
			return fmt.Errorf("invalid shard type: %s", shardConfig.Type)
		}
	}

	Logger.Infof("dSlab setup completed successfully")

	// Configure the transport layer
	s.transport.RegisterHandler(s.handle)
	s.transport.RegisterMetrics(s.writeMetrics)

	return nil
}

// startCoordinators starts one replication coordinator per shard
func (s *RPCServer) startCoordinators(ctx context.Context) error {
	if s.resolvePeers == nil || !s.config.HasPeers() {
		Logger.Infof("no peers configured, replication coordinators are disabled")
		return nil
	}

	for _, shardConfig := range s.config.Shards {
		shard, ok := s.shards.Load(shardConfig.ShardID)
		if !ok {
			continue
		}

		prov, peers, err := s.resolvePeers(shardConfig.ShardID)
		if err != nil {
			return fmt.Errorf("failed to resolve peers of shard %d: %w", shardConfig.ShardID, err)
		}
		if len(peers) == 0 {
			Logger.Warningf("no reachable peers for shard %d, coordinator not started", shardConfig.ShardID)
			continue
		}

		coordinator := replication.NewCoordinator(shard.Service, prov, replication.Config{
			Self:            ident.NodeIDFromName(s.config.SlabName(shardConfig)),
			Peers:           peers,
			ScanInterval:    s.config.Replication.ScanInterval(),
			EvictionTimeout: s.config.Replication.EvictionTimeout(),
		})

		s.coordMu.Lock()
		s.coordinators = append(s.coordinators, coordinator)
		s.coordMu.Unlock()

		if shardConfig.Type == common.ShardTypeReplicatedSlab {
			// every raft replica runs a coordinator, the slab applies duplicate peerings idempotently
			Logger.Infof("starting coordinator for replicated shard %d", shardConfig.ShardID)
		}
		go coordinator.Run(ctx)
	}
	return nil
}

// Serve starts the RPC server
// This function will also initialize the server plus the shards and start the transport layer.
// The replication coordinators run until the transport stops listening.
func (s *RPCServer) Serve() error {
	err := s.init()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.startCoordinators(ctx); err != nil {
		return err
	}
	return s.transport.Listen(s.config)
}
