package record

import (
	"sync"

	"github.com/ValentinKolb/dSlab/lib/ident"
	"github.com/ValentinKolb/dSlab/lib/peering"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
	"github.com/tidwall/btree"
)

var log = logger.GetLogger("record")

// firstSeq is the sequence number of the first memo of every record.
const firstSeq uint64 = 1

// Record is a replicated, mutable entity. Its value is the fold of its memos
// in sequence order and is never written directly.
//
// Thread-safety: all methods are safe for concurrent use. Mutations of the
// same record are serialized by the record's mutex.
type Record struct {
	mu   sync.Mutex
	id   ident.RecordID
	node Node

	// memo state
	value   map[string]Value
	nextSeq uint64       // next expected sequence number
	pending *btree.BTree // out-of-order memos, ordered by sequence number
	log     []Memo       // applied memos in sequence order
	maxGap  uint64

	// replica controller state
	target    int
	state     State
	requested map[ident.NodeID]struct{}
}

// newRecord creates an empty record shell owned by the node.
func newRecord(node Node, id ident.RecordID) *Record {
	opts := node.RecordOptions().withDefaults()
	return &Record{
		id:        id,
		node:      node,
		value:     make(map[string]Value),
		nextSeq:   firstSeq,
		pending:   btree.NewNonConcurrent(memoLess),
		maxGap:    opts.MaxGap,
		target:    opts.TargetReplicas,
		state:     StateActive,
		requested: make(map[ident.NodeID]struct{}),
	}
}

// Create creates a new record on the node. The node allocates the id and
// becomes the record's host. Record handles in initial are replaced by
// references and REFERENCE peerings are registered for them. Non-empty initial
// values are applied as the record's first memo.
func Create(node Node, initial map[string]any) (*Record, error) {
	values, refs, err := normalize(initial)
	if err != nil {
		return nil, err
	}

	id := node.GenChildID()
	r := newRecord(node, id)
	node.RegisterPeerings(id, peering.Peerings{node.ID(): peering.KindHost})

	if len(values) > 0 {
		r.mu.Lock()
		r.applyLocked(Memo{
			ID:      ident.MemoID{Record: id, Seq: firstSeq},
			Payload: values,
			Refs:    refs,
		})
		r.mu.Unlock()
	}

	node.PutRecord(r)
	log.Debugf("created record %s on node %s", id, node.ID())
	return r, nil
}

// ID returns the record's id.
func (r *Record) ID() ident.RecordID {
	return r.id
}

// Node returns the node the record lives on.
func (r *Record) Node() Node {
	return r.node
}

// Peerings returns the record's topology as known to the local node,
// including the local node's own entry.
func (r *Record) Peerings() peering.Peerings {
	return r.node.PeeringsFor(r.id, true)
}

// Value returns a copy of the materialized value.
func (r *Record) Value() map[string]Value {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneValues(r.value)
}

// NextSeq returns the next expected sequence number.
func (r *Record) NextSeq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextSeq
}

// Pending returns the number of buffered out-of-order memos.
func (r *Record) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending.Len()
}

// Set issues a new memo on the host of the record and applies it.
// The returned memo can be propagated to the record's replicas.
func (r *Record) Set(values map[string]any) (Memo, error) {
	payload, refs, err := normalize(values)
	if err != nil {
		return Memo{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateRetired {
		return Memo{}, errors.Wrapf(ErrRecordRetired, "set %s", r.id)
	}
	if kind, _ := r.localKindLocked(); kind != peering.KindHost {
		return Memo{}, errors.Wrapf(ErrNotHost, "set %s on node %s", r.id, r.node.ID())
	}

	m := Memo{
		ID:      ident.MemoID{Record: r.id, Seq: r.nextSeq},
		Payload: payload,
		Refs:    refs,
	}
	r.applyLocked(m)
	r.drainLocked()
	return m, nil
}

// ApplyMemo applies a memo received for this record.
//
//   - a memo with the next expected sequence number is folded into the value,
//     followed by every buffered memo that is now contiguous
//   - a memo further ahead is buffered, unless it lies more than MaxGap
//     sequence numbers ahead (ErrGapTooLarge)
//   - a memo that was already applied or buffered is ignored
func (r *Record) ApplyMemo(m Memo) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateRetired {
		return 0, errors.Wrapf(ErrRecordRetired, "apply %s", m.ID)
	}
	if m.ID.Record != r.id {
		return 0, errors.Wrapf(ErrMemoMismatch, "memo %s applied to record %s", m.ID, r.id)
	}

	switch {
	case m.ID.Seq < r.nextSeq:
		return OutcomeDuplicate, nil

	case m.ID.Seq == r.nextSeq:
		r.applyLocked(m)
		r.drainLocked()
		return OutcomeApplied, nil

	default:
		if r.pending.Get(&m) != nil {
			return OutcomeDuplicate, nil
		}
		if gap := m.ID.Seq - r.nextSeq; gap > r.maxGap {
			return 0, errors.Wrapf(ErrGapTooLarge, "memo %s is %d ahead of the next expected sequence %d (max %d)", m.ID, gap, r.nextSeq, r.maxGap)
		}
		buffered := m
		buffered.Payload = cloneValues(m.Payload)
		r.pending.Set(&buffered)
		log.Debugf("buffered memo %s, waiting for sequence %d", m.ID, r.nextSeq)
		return OutcomeBuffered, nil
	}
}

// MemosSince returns copies of the applied memos with a sequence number greater than seq.
func (r *Record) MemosSince(seq uint64) ([]Memo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateRetired {
		return nil, errors.Wrapf(ErrRecordRetired, "memos of %s", r.id)
	}

	out := make([]Memo, 0, len(r.log))
	for _, m := range r.log {
		if m.ID.Seq > seq {
			out = append(out, NewMemo(m.ID.Record, m.ID.Seq, m.Payload, m.Refs...))
		}
	}
	return out, nil
}

// --------------------------------------------------------------------------
// Helper Methods (callers must hold r.mu)
// --------------------------------------------------------------------------

// applyLocked registers the memo's references and folds its payload into the value.
// The memo must carry the next expected sequence number.
func (r *Record) applyLocked(m Memo) {
	if len(m.Refs) > 0 {
		self := r.node.ID()
		for _, ref := range m.Refs {
			r.node.RegisterPeerings(ref, peering.Peerings{self: peering.KindReference})
		}
	}

	for key, v := range m.Payload {
		if v.kind == ValueMap {
			v.m = cloneValues(v.m)
		}
		r.value[key] = v
	}

	r.log = append(r.log, NewMemo(m.ID.Record, m.ID.Seq, m.Payload, m.Refs...))
	r.nextSeq = m.ID.Seq + 1
}

// drainLocked applies buffered memos as long as they are contiguous.
func (r *Record) drainLocked() {
	for {
		item := r.pending.Get(&Memo{ID: ident.MemoID{Record: r.id, Seq: r.nextSeq}})
		if item == nil {
			return
		}
		r.pending.Delete(item)
		r.applyLocked(*item.(*Memo))
	}
}

// localKindLocked returns the local node's relationship to the record.
func (r *Record) localKindLocked() (peering.Kind, bool) {
	kind, ok := r.node.PeeringsFor(r.id, true)[r.node.ID()]
	return kind, ok
}
