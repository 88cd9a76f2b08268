package client

import (
	"fmt"

	"github.com/ValentinKolb/dSlab/lib/ident"
	"github.com/ValentinKolb/dSlab/lib/replication"
	"github.com/ValentinKolb/dSlab/lib/slab"
	"github.com/ValentinKolb/dSlab/rpc/common"
	"github.com/ValentinKolb/dSlab/rpc/serializer"
	"github.com/ValentinKolb/dSlab/rpc/transport"
)

// Peer names a remote dSlab server and the endpoint it is reachable at
type Peer struct {
	Name     string
	Endpoint string
}

// NewProvisioner connects to the same shard on every peer and returns a provisioner
// for them together with their node ids in the given order.
//
// The node id of a peer is read from its slab info; if the peer cannot answer,
// the id is derived from the slab name "<peer>/<shardId>". Peers that cannot be
// connected are skipped with a warning.
func NewProvisioner(
	shardId uint64,
	peers []Peer,
	config common.ClientConfig,
	newTransport func() transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (*replication.ServiceProvisioner, []ident.NodeID, error) {
	services := make(map[ident.NodeID]slab.IService, len(peers))
	order := make([]ident.NodeID, 0, len(peers))

	for _, peer := range peers {
		peerConfig := config
		peerConfig.Transport.Endpoints = []string{peer.Endpoint}

		svc, err := NewRPCSlab(shardId, peerConfig, newTransport(), serializer)
		if err != nil {
			Logger.Warningf("skipping peer %s (%s): %v", peer.Name, peer.Endpoint, err)
			continue
		}

		node := ident.NodeIDFromName(fmt.Sprintf("%s/%d", peer.Name, shardId))
		if info, err := svc.Info(); err == nil {
			node = info.NodeID
		} else {
			Logger.Warningf("could not read slab info of peer %s, using node id %s: %v", peer.Name, node, err)
		}

		if _, dup := services[node]; dup {
			Logger.Warningf("peer %s serves node %s twice, ignoring it", peer.Name, node)
			continue
		}
		services[node] = svc
		order = append(order, node)
		Logger.Infof("peer %s for shard %d is node %s", peer.Name, shardId, node)
	}

	return replication.NewServiceProvisioner(services), order, nil
}
