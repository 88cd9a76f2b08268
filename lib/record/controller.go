package record

import (
	"sort"

	"github.com/ValentinKolb/dSlab/lib/ident"
	"github.com/ValentinKolb/dSlab/lib/peering"
	"github.com/pkg/errors"
	"github.com/tidwall/btree"
)

// State is the eviction state of a record on the local node.
type State uint8

const (
	StateActive   State = iota // normal operation
	StateEvicting              // the node intends to drop its copy once a replacement exists
	StateRetired               // the local copy was dropped, terminal
)

// MarshalText encodes the state as its string form.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes the string form of a state.
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "active":
		*s = StateActive
	case "evicting":
		*s = StateEvicting
	case "retired":
		*s = StateRetired
	default:
		return errors.Errorf("unknown record state: %s", text)
	}
	return nil
}

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateEvicting:
		return "evicting"
	case StateRetired:
		return "retired"
	default:
		return "unknown"
	}
}

// Status is a point-in-time view of a record's replication state on the local node.
type Status struct {
	ID        ident.RecordID `json:"id"`
	State     State          `json:"state"`
	Kind      peering.Kind   `json:"kind"`
	Target    int            `json:"target"`
	Replicas  int            `json:"replicas"`
	Desired   int            `json:"desired"`
	NextSeq   uint64         `json:"next_seq"`
	Pending   int            `json:"pending"`
	Requested []ident.NodeID `json:"requested,omitempty"`
}

// State returns the eviction state of the record.
func (r *Record) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// TargetReplicas returns the desired number of REPLICA peerings.
func (r *Record) TargetReplicas() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.target
}

// SetTargetReplicas changes the desired number of REPLICA peerings.
func (r *Record) SetTargetReplicas(n int) error {
	if n < 0 {
		return errors.Wrapf(ErrInvalidTarget, "target %d for %s", n, r.id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateRetired {
		return errors.Wrapf(ErrRecordRetired, "set target of %s", r.id)
	}
	r.target = n
	return nil
}

// DesiredReplicas returns how many additional REPLICA peerings the record needs:
//
//	max(0, target - |REPLICA peers| + (evicting ? 1 : 0))
//
// Only registered REPLICA peerings count. While evicting the node reports one
// more so that a replacement exists before the local copy is dropped.
func (r *Record) DesiredReplicas() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.desiredLocked()
}

// SetEvicting sets or clears the eviction intent of the local node.
// Clearing is the only way to abort an eviction; a stalled eviction is never
// reverted automatically.
func (r *Record) SetEvicting(flag bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.state == StateRetired:
		return errors.Wrapf(ErrRecordRetired, "set evicting on %s", r.id)
	case flag:
		r.state = StateEvicting
	default:
		r.state = StateActive
	}
	return nil
}

// NoteReplicaRequested remembers that a replica was requested from the node.
// Requested replicas are informational only, they never count towards the
// replica count until their REPLICA peering is registered.
func (r *Record) NoteReplicaRequested(node ident.NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requested[node] = struct{}{}
}

// Requested returns the nodes a replica was requested from and whose REPLICA
// peering has not landed yet.
func (r *Record) Requested() []ident.NodeID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requestedLocked(r.node.PeeringsFor(r.id, true))
}

// TryRetire drops the local copy if the eviction can complete safely. It
// returns false without error while replacements are still missing.
//
// Retirement requires the record to be evicting, no desired replicas based on
// registered REPLICA peerings, another node holding a copy (ErrLastCopy) and,
// if the local node hosts the record, another host (ErrLastHost).
func (r *Record) TryRetire() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case StateRetired:
		return false, errors.Wrapf(ErrRecordRetired, "retire %s", r.id)
	case StateActive:
		return false, errors.Wrapf(ErrNotEvicting, "retire %s", r.id)
	}

	if r.desiredLocked() > 0 {
		return false, nil
	}

	self := r.node.ID()
	all := r.node.PeeringsFor(r.id, true)
	otherCopies, otherHosts := 0, 0
	for node, kind := range all {
		if node == self {
			continue
		}
		if kind.HoldsCopy() {
			otherCopies++
		}
		if kind == peering.KindHost {
			otherHosts++
		}
	}
	if otherCopies == 0 {
		return false, errors.Wrapf(ErrLastCopy, "retire %s", r.id)
	}
	if all[self] == peering.KindHost && otherHosts == 0 {
		return false, errors.Wrapf(ErrLastHost, "retire %s", r.id)
	}

	r.node.RemovePeering(r.id, self)
	r.state = StateRetired
	r.value = make(map[string]Value)
	r.log = nil
	r.pending = btree.NewNonConcurrent(memoLess)
	r.requested = make(map[ident.NodeID]struct{})

	log.Infof("retired record %s on node %s", r.id, self)
	return true, nil
}

// Status returns the record's replication state.
func (r *Record) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := r.node.PeeringsFor(r.id, true)
	return Status{
		ID:        r.id,
		State:     r.state,
		Kind:      all[r.node.ID()],
		Target:    r.target,
		Replicas:  countKind(all, peering.KindReplica),
		Desired:   r.desiredLocked(),
		NextSeq:   r.nextSeq,
		Pending:   r.pending.Len(),
		Requested: r.requestedLocked(all),
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (r *Record) desiredLocked() int {
	if r.state == StateRetired {
		return 0
	}
	replicas := countKind(r.node.PeeringsFor(r.id, true), peering.KindReplica)
	desired := r.target - replicas
	if r.state == StateEvicting {
		desired++
	}
	if desired < 0 {
		return 0
	}
	return desired
}

// requestedLocked drops requests whose REPLICA peering landed and returns the rest sorted.
func (r *Record) requestedLocked(all peering.Peerings) []ident.NodeID {
	out := make([]ident.NodeID, 0, len(r.requested))
	for node := range r.requested {
		if all[node] == peering.KindReplica {
			delete(r.requested, node)
			continue
		}
		out = append(out, node)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func countKind(p peering.Peerings, kind peering.Kind) int {
	n := 0
	for _, k := range p {
		if k == kind {
			n++
		}
	}
	return n
}
