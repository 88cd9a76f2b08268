package replication

import (
	"context"
	"sync"
	"time"

	"github.com/ValentinKolb/dSlab/lib/ident"
	"github.com/ValentinKolb/dSlab/lib/peering"
	"github.com/ValentinKolb/dSlab/lib/record"
	"github.com/ValentinKolb/dSlab/lib/slab"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
	gometrics "github.com/rcrowley/go-metrics"
)

var log = logger.GetLogger("replication")

const (
	defaultScanInterval    = 5 * time.Second
	defaultEvictionTimeout = time.Minute
)

// UnderReplicated is the advisory signal emitted for a record that needs
// more replicas than it has.
type UnderReplicated struct {
	RecordID ident.RecordID
	Missing  int
}

// Config configures a Coordinator.
type Config struct {
	// Self is the node id of the local slab.
	Self ident.NodeID
	// Peers are the candidate nodes for new replicas, in the order they are tried.
	Peers []ident.NodeID
	// ScanInterval is the time between two scans in Run.
	ScanInterval time.Duration
	// EvictionTimeout is how long an eviction may stall before it is aborted.
	EvictionTimeout time.Duration
	// Sink receives an UnderReplicated signal for every record that needs replicas.
	Sink func(UnderReplicated)
}

// Coordinator drives replication for the records of one slab. It provisions
// missing replicas and forwards the memos of hosted records to their replicas.
// Evictions complete once a replacement has landed and are aborted when they
// stall for longer than the eviction timeout.
type Coordinator struct {
	local slab.IService
	prov  Provisioner
	cfg   Config
	now   func() time.Time

	mu            sync.Mutex
	evictingSince map[ident.RecordID]time.Time
	// next memo sequence number each replica is known to expect
	replicaSeq map[ident.RecordID]map[ident.NodeID]uint64

	registry       gometrics.Registry
	provisionTime  gometrics.Timer
	provisionFail  gometrics.Meter
	underReplicate gometrics.Meter
	retired        gometrics.Meter
	aborted        gometrics.Meter
	promoted       gometrics.Meter
	propagated     gometrics.Meter
	propagateFail  gometrics.Meter
}

// NewCoordinator creates a coordinator for the local slab service.
func NewCoordinator(local slab.IService, prov Provisioner, cfg Config) *Coordinator {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = defaultScanInterval
	}
	if cfg.EvictionTimeout <= 0 {
		cfg.EvictionTimeout = defaultEvictionTimeout
	}
	if cfg.Sink == nil {
		cfg.Sink = func(u UnderReplicated) {
			log.Debugf("record %s is missing %d replicas", u.RecordID, u.Missing)
		}
	}

	registry := gometrics.NewRegistry()
	return &Coordinator{
		local:          local,
		prov:           prov,
		cfg:            cfg,
		now:            time.Now,
		evictingSince:  make(map[ident.RecordID]time.Time),
		replicaSeq:     make(map[ident.RecordID]map[ident.NodeID]uint64),
		registry:       registry,
		provisionTime:  gometrics.GetOrRegisterTimer("provision", registry),
		provisionFail:  gometrics.GetOrRegisterMeter("provision.failed", registry),
		underReplicate: gometrics.GetOrRegisterMeter("under_replicated", registry),
		retired:        gometrics.GetOrRegisterMeter("eviction.retired", registry),
		aborted:        gometrics.GetOrRegisterMeter("eviction.aborted", registry),
		promoted:       gometrics.GetOrRegisterMeter("eviction.promoted", registry),
		propagated:     gometrics.GetOrRegisterMeter("memos.propagated", registry),
		propagateFail:  gometrics.GetOrRegisterMeter("memos.propagate_failed", registry),
	}
}

// Registry returns the coordinator's metrics registry.
func (c *Coordinator) Registry() gometrics.Registry {
	return c.registry
}

// Run scans the local slab every scan interval until the context is canceled.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.ScanInterval)
	defer ticker.Stop()

	log.Infof("replication coordinator started (node %s, %d peers, scan every %s)", c.cfg.Self, len(c.cfg.Peers), c.cfg.ScanInterval)
	scans := 0
	for {
		select {
		case <-ctx.Done():
			log.Infof("replication coordinator stopped")
			return
		case <-ticker.C:
			if err := c.Scan(ctx); err != nil {
				log.Warningf("replication scan failed: %v", err)
			}
			if scans++; scans%12 == 0 {
				c.logStats()
			}
		}
	}
}

// Scan evaluates every record stored on the local slab once.
func (c *Coordinator) Scan(ctx context.Context) error {
	ids, err := c.local.Records()
	if err != nil {
		return errors.Wrap(err, "list records")
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.scanRecord(ctx, id); err != nil {
			log.Warningf("replication of %s: %v", id, err)
		}
	}
	return nil
}

func (c *Coordinator) scanRecord(ctx context.Context, id ident.RecordID) error {
	st, err := c.local.Status(id)
	if err != nil {
		return err
	}
	if st.State == record.StateRetired || !st.Kind.HoldsCopy() {
		return nil
	}

	if st.State == record.StateEvicting {
		done, err := c.tryRetire(ctx, id)
		if err != nil || done {
			return err
		}
		if st, err = c.local.Status(id); err != nil {
			return err
		}
	} else {
		c.forgetEviction(id)
	}

	// only hosts and evicting nodes provision, replicas would race each other
	if st.Desired > 0 && (st.Kind == peering.KindHost || st.State == record.StateEvicting) {
		c.underReplicate.Mark(1)
		c.cfg.Sink(UnderReplicated{RecordID: id, Missing: st.Desired})
		if err := c.provision(ctx, id, st.Desired); err != nil {
			return err
		}
	}

	if st.Kind == peering.KindHost {
		if err := c.propagate(ctx, id, st.NextSeq); err != nil {
			return err
		}
	}

	if st.State == record.StateEvicting {
		c.checkEvictionTimeout(id)
	}
	return nil
}

// provision asks up to missing candidate peers without a copy of the record for a replica.
func (c *Coordinator) provision(ctx context.Context, id ident.RecordID, missing int) error {
	env, err := c.local.Envelope(id, true)
	if err != nil {
		return err
	}
	candidates := c.candidates(env.Peerings, missing)
	if len(candidates) == 0 {
		log.Debugf("no candidate peers for %s", id)
		return nil
	}
	memos, err := c.local.MemosSince(id, 0)
	if err != nil {
		return err
	}

	for _, peer := range candidates {
		if err := c.local.NoteReplicaRequested(id, peer); err != nil {
			return err
		}

		start := c.now()
		err := c.prov.Provision(ctx, peer, env, memos)
		c.provisionTime.UpdateSince(start)
		if err != nil {
			c.provisionFail.Mark(1)
			log.Warningf("provisioning replica of %s on %s failed: %v", id, peer, err)
			continue
		}

		if err := c.local.RegisterPeerings(id, peering.Peerings{peer: peering.KindReplica}); err != nil {
			return err
		}
		if len(memos) > 0 {
			c.setReplicaSeq(id, peer, memos[len(memos)-1].ID.Seq+1)
		}
		log.Infof("replica of %s landed on %s", id, peer)
	}
	return nil
}

// propagate forwards the memos a REPLICA peer of a hosted record has not
// applied yet. nextSeq is the next sequence number of the local copy.
func (c *Coordinator) propagate(ctx context.Context, id ident.RecordID, nextSeq uint64) error {
	replicas, err := c.local.PeersOf(id, true)
	if err != nil {
		return err
	}

	for _, peer := range replicas {
		if peer == c.cfg.Self {
			continue
		}
		have, known := c.getReplicaSeq(id, peer)
		if known && have >= nextSeq {
			continue
		}
		if !known {
			if have, err = c.prov.NextSeq(ctx, peer, id); err != nil {
				log.Debugf("state of replica %s on %s unknown: %v", id, peer, err)
				continue
			}
			c.setReplicaSeq(id, peer, have)
			if have >= nextSeq {
				continue
			}
		}

		since := uint64(0)
		if have > 0 {
			since = have - 1
		}
		memos, err := c.local.MemosSince(id, since)
		if err != nil {
			return err
		}
		if len(memos) == 0 {
			continue
		}

		if err := c.prov.Propagate(ctx, peer, memos); err != nil {
			c.propagateFail.Mark(1)
			c.forgetReplicaSeq(id, peer)
			log.Warningf("propagating memos of %s to %s failed: %v", id, peer, err)
			continue
		}
		c.propagated.Mark(int64(len(memos)))
		c.setReplicaSeq(id, peer, memos[len(memos)-1].ID.Seq+1)
		log.Debugf("propagated %d memos of %s to %s", len(memos), id, peer)
	}
	return nil
}

// candidates returns up to n configured peers that hold no copy of the record.
func (c *Coordinator) candidates(known peering.Peerings, n int) []ident.NodeID {
	out := make([]ident.NodeID, 0, n)
	for _, peer := range c.cfg.Peers {
		if len(out) == n {
			break
		}
		if peer == c.cfg.Self || known[peer].HoldsCopy() {
			continue
		}
		out = append(out, peer)
	}
	return out
}

// tryRetire attempts to complete an eviction. If the local node is the last
// host, a replica is promoted first.
func (c *Coordinator) tryRetire(ctx context.Context, id ident.RecordID) (bool, error) {
	c.noteEviction(id)

	ok, err := c.local.TryRetire(id)
	switch {
	case errors.Is(err, record.ErrLastHost):
		if err := c.promote(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	case err != nil:
		return false, err
	case ok:
		c.retired.Mark(1)
		c.forgetEviction(id)
		c.forgetReplicaSeq(id, 0)
		log.Infof("eviction of %s completed on %s", id, c.cfg.Self)
		return true, nil
	}
	return false, nil
}

// promote makes a replica of the record a host, trying replicas in the
// order of the configured peers.
func (c *Coordinator) promote(ctx context.Context, id ident.RecordID) error {
	replicas, err := c.local.PeersOf(id, true)
	if err != nil {
		return err
	}
	isReplica := make(map[ident.NodeID]bool, len(replicas))
	for _, peer := range replicas {
		isReplica[peer] = true
	}

	for _, peer := range c.cfg.Peers {
		if peer == c.cfg.Self || !isReplica[peer] {
			continue
		}
		if err := c.prov.Promote(ctx, peer, id); err != nil {
			log.Warningf("promoting %s to host of %s failed: %v", peer, id, err)
			continue
		}
		c.promoted.Mark(1)
		log.Infof("promoted %s to host of %s", peer, id)
		return c.local.RegisterPeerings(id, peering.Peerings{peer: peering.KindHost})
	}
	return nil
}

func (c *Coordinator) noteEviction(id ident.RecordID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.evictingSince[id]; !ok {
		c.evictingSince[id] = c.now()
	}
}

func (c *Coordinator) forgetEviction(id ident.RecordID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.evictingSince, id)
}

func (c *Coordinator) getReplicaSeq(id ident.RecordID, peer ident.NodeID) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	seq, ok := c.replicaSeq[id][peer]
	return seq, ok
}

func (c *Coordinator) setReplicaSeq(id ident.RecordID, peer ident.NodeID, seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	peers, ok := c.replicaSeq[id]
	if !ok {
		peers = make(map[ident.NodeID]uint64)
		c.replicaSeq[id] = peers
	}
	peers[peer] = seq
}

// forgetReplicaSeq drops what is known about a replica, or about all replicas
// of the record if peer is zero.
func (c *Coordinator) forgetReplicaSeq(id ident.RecordID, peer ident.NodeID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if peer == 0 {
		delete(c.replicaSeq, id)
		return
	}
	delete(c.replicaSeq[id], peer)
}

// checkEvictionTimeout aborts an eviction that stalled for longer than the eviction timeout.
func (c *Coordinator) checkEvictionTimeout(id ident.RecordID) {
	c.mu.Lock()
	since, ok := c.evictingSince[id]
	c.mu.Unlock()
	if !ok || c.now().Sub(since) < c.cfg.EvictionTimeout {
		return
	}

	if err := c.local.SetEvicting(id, false); err != nil {
		log.Warningf("aborting eviction of %s failed: %v", id, err)
		return
	}
	c.aborted.Mark(1)
	c.forgetEviction(id)
	log.Warningf("eviction of %s aborted after %s without a replacement", id, c.cfg.EvictionTimeout)
}

func (c *Coordinator) logStats() {
	log.Infof("replication stats: provisioned=%d (mean %.2fms, failed %d) propagated=%d (failed %d) under-replicated=%d retired=%d promoted=%d aborted=%d",
		c.provisionTime.Count(),
		c.provisionTime.Mean()/float64(time.Millisecond),
		c.provisionFail.Count(),
		c.propagated.Count(),
		c.propagateFail.Count(),
		c.underReplicate.Count(),
		c.retired.Count(),
		c.promoted.Count(),
		c.aborted.Count(),
	)
}
