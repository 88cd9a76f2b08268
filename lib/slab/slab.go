package slab

import (
	"sync/atomic"

	"github.com/ValentinKolb/dSlab/lib/ident"
	"github.com/ValentinKolb/dSlab/lib/peering"
	"github.com/ValentinKolb/dSlab/lib/record"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("slab")

// Slab is a storage node. It allocates record ids, stores records and owns
// the peering table the records read their topology from. It implements
// record.Node and all record level operations of IService.
//
// Thread-safety: all methods are safe for concurrent use.
type Slab struct {
	id      ident.NodeID
	name    string
	opts    record.Options
	counter atomic.Uint64

	records  *xsync.MapOf[ident.RecordID, *record.Record]
	peerings *peering.Table
	metrics  *slabMetrics
}

// New creates an empty slab. The node id is derived from the name.
func New(name string, opts record.Options) *Slab {
	s := &Slab{
		id:       ident.NodeIDFromName(name),
		name:     name,
		opts:     opts,
		records:  xsync.NewMapOf[ident.RecordID, *record.Record](),
		peerings: peering.NewTable(),
	}
	s.metrics = newSlabMetrics(s)
	return s
}

// Name returns the human-readable name of the slab.
func (s *Slab) Name() string {
	return s.name
}

// --------------------------------------------------------------------------
// record.Node
// --------------------------------------------------------------------------

func (s *Slab) ID() ident.NodeID {
	return s.id
}

func (s *Slab) GenChildID() ident.RecordID {
	return ident.NewRecordID(s.id, s.counter.Add(1))
}

func (s *Slab) RecordOptions() record.Options {
	return s.opts
}

func (s *Slab) PutRecord(r *record.Record) {
	if _, loaded := s.records.LoadAndStore(r.ID(), r); !loaded {
		s.metrics.stored.Inc()
	}
}

func (s *Slab) GetRecord(id ident.RecordID) (*record.Record, bool) {
	return s.records.Load(id)
}

func (s *Slab) RegisterPeerings(id ident.RecordID, entries peering.Peerings) {
	s.peerings.RegisterPeerings(id, entries)
}

func (s *Slab) RemovePeering(id ident.RecordID, node ident.NodeID) {
	s.peerings.Remove(id, node)
}

func (s *Slab) PeersOf(id ident.RecordID, replicaOnly bool) []ident.NodeID {
	return s.peerings.PeersOf(id, replicaOnly)
}

func (s *Slab) PeeringsFor(id ident.RecordID, includeLocal bool) peering.Peerings {
	return s.peerings.PeeringsFor(id, s.id, includeLocal)
}

// --------------------------------------------------------------------------
// Record operations
// --------------------------------------------------------------------------

// lookup returns the record or ErrNotFound.
func (s *Slab) lookup(id ident.RecordID) (*record.Record, error) {
	r, ok := s.records.Load(id)
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "record %s on slab %s", id, s.name)
	}
	return r, nil
}

// Create creates a record hosted by the slab.
func (s *Slab) Create(initial map[string]record.Value) (ident.RecordID, error) {
	r, err := record.Create(s, toAny(initial))
	if err != nil {
		return "", err
	}
	return r.ID(), nil
}

// Set issues a memo for a record hosted by the slab.
func (s *Slab) Set(id ident.RecordID, values map[string]record.Value) (record.Memo, error) {
	r, err := s.lookup(id)
	if err != nil {
		return record.Memo{}, err
	}
	return r.Set(toAny(values))
}

// ApplyMemo applies a memo received from a host and updates the intake counters.
func (s *Slab) ApplyMemo(m record.Memo) (record.Outcome, error) {
	r, err := s.lookup(m.ID.Record)
	if err != nil {
		return 0, err
	}

	s.metrics.memosReceived.Inc()
	out, err := r.ApplyMemo(m)
	if err != nil {
		log.Warningf("slab %s rejected memo %s: %v", s.name, m.ID, err)
		return 0, err
	}
	switch out {
	case record.OutcomeDuplicate:
		s.metrics.memosRedundant.Inc()
	case record.OutcomeBuffered:
		s.metrics.memosBuffered.Inc()
	}
	return out, nil
}

// Value returns the materialized value of a record.
func (s *Slab) Value(id ident.RecordID) (map[string]record.Value, error) {
	r, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	if r.State() == record.StateRetired {
		return nil, errors.Wrapf(record.ErrRecordRetired, "value of %s", id)
	}
	return r.Value(), nil
}

// Envelope returns the envelope of a record.
func (s *Slab) Envelope(id ident.RecordID, includeLocal bool) (record.Envelope, error) {
	r, err := s.lookup(id)
	if err != nil {
		return record.Envelope{}, err
	}
	return r.EnvelopeFor(includeLocal), nil
}

// Import stores a record shell described by an envelope.
func (s *Slab) Import(env record.Envelope) error {
	if !env.ID.Valid() {
		return errors.Wrapf(record.ErrMalformedEnvelope, "invalid record id %q", env.ID)
	}
	_, err := record.Import(s, env)
	return err
}

// MemosSince returns the applied memos of a record after seq.
func (s *Slab) MemosSince(id ident.RecordID, seq uint64) ([]record.Memo, error) {
	r, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return r.MemosSince(seq)
}

// DesiredReplicas returns how many additional replicas a record needs.
func (s *Slab) DesiredReplicas(id ident.RecordID) (int, error) {
	r, err := s.lookup(id)
	if err != nil {
		return 0, err
	}
	return r.DesiredReplicas(), nil
}

// SetTargetReplicas changes the target replica count of a record.
func (s *Slab) SetTargetReplicas(id ident.RecordID, n int) error {
	r, err := s.lookup(id)
	if err != nil {
		return err
	}
	return r.SetTargetReplicas(n)
}

// SetEvicting sets or clears the eviction intent for a record.
func (s *Slab) SetEvicting(id ident.RecordID, flag bool) error {
	r, err := s.lookup(id)
	if err != nil {
		return err
	}
	return r.SetEvicting(flag)
}

// NoteReplicaRequested records a requested replica of a record.
func (s *Slab) NoteReplicaRequested(id ident.RecordID, node ident.NodeID) error {
	r, err := s.lookup(id)
	if err != nil {
		return err
	}
	r.NoteReplicaRequested(node)
	return nil
}

// TryRetire drops the slab's copy of a record if the eviction can complete.
func (s *Slab) TryRetire(id ident.RecordID) (bool, error) {
	r, err := s.lookup(id)
	if err != nil {
		return false, err
	}
	ok, err := r.TryRetire()
	if ok {
		s.metrics.retirements.Inc()
	}
	return ok, err
}

// Status returns the replication state of a record.
func (s *Slab) Status(id ident.RecordID) (record.Status, error) {
	r, err := s.lookup(id)
	if err != nil {
		return record.Status{}, err
	}
	return r.Status(), nil
}

// Records returns the ids of all live records on the slab, sorted.
func (s *Slab) Records() []ident.RecordID {
	ids := make([]ident.RecordID, 0, s.records.Size())
	s.records.Range(func(id ident.RecordID, r *record.Record) bool {
		if r.State() != record.StateRetired {
			ids = append(ids, id)
		}
		return true
	})
	sortIDs(ids)
	return ids
}

// Info returns metadata about the slab.
func (s *Slab) Info() Info {
	info := Info{
		NodeID:         s.id,
		Name:           s.name,
		Peerings:       uint64(s.peerings.Len()),
		MemosReceived:  s.metrics.memosReceived.Get(),
		MemosRedundant: s.metrics.memosRedundant.Get(),
		MemosBuffered:  s.metrics.memosBuffered.Get(),
		DefaultTarget:  s.opts.TargetReplicas,
		MaxGap:         s.opts.MaxGap,
	}
	s.records.Range(func(_ ident.RecordID, r *record.Record) bool {
		switch {
		case r.State() == record.StateRetired:
			info.Retired++
		default:
			info.Records++
			if r.DesiredReplicas() > 0 {
				info.UnderReplicated++
			}
		}
		return true
	})
	return info
}
