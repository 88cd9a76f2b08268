package record

import (
	"github.com/ValentinKolb/dSlab/lib/ident"
	"github.com/pkg/errors"
)

// Snapshot is the persisted form of a record: envelope, memo log, buffered
// memos and controller state. Unlike the envelope it is only written to
// local storage and never exchanged between nodes.
type Snapshot struct {
	Envelope  Envelope       `json:"envelope"`
	Log       []Memo         `json:"log,omitempty"`
	Pending   []Memo         `json:"pending,omitempty"`
	NextSeq   uint64         `json:"next_seq"`
	Target    int            `json:"target"`
	State     State          `json:"state"`
	Requested []ident.NodeID `json:"requested,omitempty"`
}

// Snapshot captures the record's state.
func (r *Record) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		Envelope:  r.EnvelopeFor(true),
		Log:       make([]Memo, 0, len(r.log)),
		Pending:   make([]Memo, 0, r.pending.Len()),
		NextSeq:   r.nextSeq,
		Target:    r.target,
		State:     r.state,
		Requested: r.requestedLocked(r.node.PeeringsFor(r.id, true)),
	}
	for _, m := range r.log {
		snap.Log = append(snap.Log, NewMemo(m.ID.Record, m.ID.Seq, m.Payload, m.Refs...))
	}
	r.pending.Ascend(nil, func(item interface{}) bool {
		m := item.(*Memo)
		snap.Pending = append(snap.Pending, NewMemo(m.ID.Record, m.ID.Seq, m.Payload, m.Refs...))
		return true
	})
	return snap
}

// Restore rebuilds a record from a snapshot and stores it on the node.
// The value is rebuilt by replaying the memo log.
func Restore(node Node, snap Snapshot) (*Record, error) {
	if !snap.Envelope.ID.Valid() {
		return nil, errors.Wrapf(ErrMalformedEnvelope, "snapshot of %q", snap.Envelope.ID)
	}

	node.RegisterPeerings(snap.Envelope.ID, snap.Envelope.Peerings)
	r := newRecord(node, snap.Envelope.ID)

	r.mu.Lock()
	for _, m := range snap.Log {
		if m.ID.Record != r.id || m.ID.Seq != r.nextSeq {
			r.mu.Unlock()
			return nil, errors.Wrapf(ErrMemoMismatch, "memo %s in log of %s", m.ID, r.id)
		}
		r.applyLocked(m)
	}
	for i := range snap.Pending {
		m := snap.Pending[i]
		if m.ID.Record == r.id && m.ID.Seq > r.nextSeq {
			r.pending.Set(&m)
		}
	}
	if snap.NextSeq > r.nextSeq {
		r.nextSeq = snap.NextSeq
	}
	r.target = snap.Target
	r.state = snap.State
	for _, peer := range snap.Requested {
		r.requested[peer] = struct{}{}
	}
	r.mu.Unlock()

	node.PutRecord(r)
	return r, nil
}
