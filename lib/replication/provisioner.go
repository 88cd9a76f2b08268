package replication

import (
	"context"

	"github.com/ValentinKolb/dSlab/lib/ident"
	"github.com/ValentinKolb/dSlab/lib/peering"
	"github.com/ValentinKolb/dSlab/lib/record"
	"github.com/ValentinKolb/dSlab/lib/slab"
	"github.com/pkg/errors"
)

// ErrUnknownPeer is returned by a Provisioner for a node it cannot reach.
var ErrUnknownPeer = errors.New("unknown peer")

// Provisioner creates and promotes replicas on other slabs.
type Provisioner interface {
	// Provision makes peer hold a replica of the record described by env:
	// the record shell is imported, the memos are replayed and the peer
	// declares its own REPLICA peering.
	Provision(ctx context.Context, peer ident.NodeID, env record.Envelope, memos []record.Memo) error
	// Promote makes peer a host of the record.
	Promote(ctx context.Context, peer ident.NodeID, id ident.RecordID) error
	// NextSeq returns the sequence number of the next memo the peer's copy expects.
	NextSeq(ctx context.Context, peer ident.NodeID, id ident.RecordID) (uint64, error)
	// Propagate applies memos to the peer's copy of their record, in order.
	Propagate(ctx context.Context, peer ident.NodeID, memos []record.Memo) error
}

// ServiceProvisioner provisions replicas through the slab services of the peers,
// local ones or RPC clients.
type ServiceProvisioner struct {
	Peers map[ident.NodeID]slab.IService
}

// NewServiceProvisioner creates a provisioner for the given peer services.
func NewServiceProvisioner(peers map[ident.NodeID]slab.IService) *ServiceProvisioner {
	return &ServiceProvisioner{Peers: peers}
}

func (p *ServiceProvisioner) service(peer ident.NodeID) (slab.IService, error) {
	svc, ok := p.Peers[peer]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownPeer, "node %s", peer)
	}
	return svc, nil
}

func (p *ServiceProvisioner) Provision(ctx context.Context, peer ident.NodeID, env record.Envelope, memos []record.Memo) error {
	svc, err := p.service(peer)
	if err != nil {
		return err
	}
	if err := svc.Import(env); err != nil {
		return errors.Wrapf(err, "import %s on %s", env.ID, peer)
	}
	if err := apply(ctx, svc, peer, memos); err != nil {
		return err
	}
	if err := svc.RegisterPeerings(env.ID, peering.Peerings{peer: peering.KindReplica}); err != nil {
		return errors.Wrapf(err, "declare replica of %s on %s", env.ID, peer)
	}
	return nil
}

func (p *ServiceProvisioner) Promote(_ context.Context, peer ident.NodeID, id ident.RecordID) error {
	svc, err := p.service(peer)
	if err != nil {
		return err
	}
	return svc.RegisterPeerings(id, peering.Peerings{peer: peering.KindHost})
}

func (p *ServiceProvisioner) NextSeq(_ context.Context, peer ident.NodeID, id ident.RecordID) (uint64, error) {
	svc, err := p.service(peer)
	if err != nil {
		return 0, err
	}
	st, err := svc.Status(id)
	if err != nil {
		return 0, err
	}
	if st.State == record.StateRetired {
		return 0, errors.Wrapf(record.ErrRecordRetired, "record %s on %s", id, peer)
	}
	return st.NextSeq, nil
}

func (p *ServiceProvisioner) Propagate(ctx context.Context, peer ident.NodeID, memos []record.Memo) error {
	svc, err := p.service(peer)
	if err != nil {
		return err
	}
	return apply(ctx, svc, peer, memos)
}

func apply(ctx context.Context, svc slab.IService, peer ident.NodeID, memos []record.Memo) error {
	for _, m := range memos {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := svc.ApplyMemo(m); err != nil {
			return errors.Wrapf(err, "replay %s on %s", m.ID, peer)
		}
	}
	return nil
}
