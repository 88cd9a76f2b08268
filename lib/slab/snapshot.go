package slab

import (
	"encoding/json"
	"io"

	"github.com/ValentinKolb/dSlab/lib/ident"
	"github.com/ValentinKolb/dSlab/lib/peering"
	"github.com/ValentinKolb/dSlab/lib/record"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

// Snapshot is a point-in-time copy of a slab's state. It is detached from
// the slab, later operations on the slab do not change it.
type Snapshot struct {
	Name     string                              `json:"name"`
	Counter  uint64                              `json:"counter"`
	Records  []record.Snapshot                   `json:"records"`
	Peerings map[ident.RecordID]peering.Peerings `json:"peerings"`
}

// Capture copies the slab's records, memo logs, controller state and peering
// table. The copy is only consistent if no operation runs concurrently.
func (s *Slab) Capture() *Snapshot {
	snap := &Snapshot{
		Name:     s.name,
		Counter:  s.counter.Load(),
		Records:  make([]record.Snapshot, 0, s.records.Size()),
		Peerings: make(map[ident.RecordID]peering.Peerings),
	}

	ids := make([]ident.RecordID, 0, s.records.Size())
	s.records.Range(func(id ident.RecordID, _ *record.Record) bool {
		ids = append(ids, id)
		return true
	})
	sortIDs(ids)
	for _, id := range ids {
		if r, ok := s.records.Load(id); ok {
			snap.Records = append(snap.Records, r.Snapshot())
		}
	}
	for _, id := range s.peerings.Records() {
		snap.Peerings[id] = s.PeeringsFor(id, true)
	}
	return snap
}

// Write encodes the snapshot to w in the format read by Slab.Load.
func (snap *Snapshot) Write(w io.Writer) error {
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		return errors.Wrap(err, "encode slab snapshot")
	}
	return nil
}

// Save captures the slab and writes it to w.
func (s *Slab) Save(w io.Writer) error {
	return s.Capture().Write(w)
}

// Load replaces the slab's state with a snapshot written by Save.
// It must not run concurrently with other operations on the slab.
func (s *Slab) Load(r io.Reader) error {
	var snap Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return errors.Wrap(err, "decode slab snapshot")
	}
	if snap.Name != s.name {
		log.Warningf("loading snapshot of slab %q into slab %q", snap.Name, s.name)
	}

	s.records = xsync.NewMapOf[ident.RecordID, *record.Record]()
	s.peerings = peering.NewTable()
	s.counter.Store(snap.Counter)

	for id, entries := range snap.Peerings {
		s.peerings.RegisterPeerings(id, entries)
	}
	for _, rs := range snap.Records {
		if _, err := record.Restore(s, rs); err != nil {
			return errors.Wrapf(err, "restore record %s", rs.Envelope.ID)
		}
	}
	log.Infof("slab %s loaded %d records and %d peered records", s.name, len(snap.Records), len(snap.Peerings))
	return nil
}
