package lslab

import (
	"github.com/ValentinKolb/dSlab/lib/ident"
	"github.com/ValentinKolb/dSlab/lib/peering"
	"github.com/ValentinKolb/dSlab/lib/record"
	"github.com/ValentinKolb/dSlab/lib/slab"
	"github.com/pkg/errors"
)

type serviceImpl struct {
	slab *slab.Slab
}

// NewLocalService creates a new local slab service.
// This service is not replicated, the slab lives only in this process.
func NewLocalService(factory slab.SlabFactory) slab.IService {
	return &serviceImpl{
		slab: factory(),
	}
}

// Slab returns the slab behind a service created by NewLocalService.
func Slab(s slab.IService) (*slab.Slab, bool) {
	impl, ok := s.(*serviceImpl)
	if !ok {
		return nil, false
	}
	return impl.slab, true
}

// --------------------------------------------------------------------------
// Interface Methods (docu see slab/interface.go)
// --------------------------------------------------------------------------

func (s *serviceImpl) Create(initial map[string]record.Value) (ident.RecordID, error) {
	id, err := s.slab.Create(initial)
	return id, slab.ToError(err)
}

func (s *serviceImpl) Set(id ident.RecordID, values map[string]record.Value) (record.Memo, error) {
	m, err := s.slab.Set(id, values)
	return m, slab.ToError(err)
}

func (s *serviceImpl) ApplyMemo(memo record.Memo) (record.Outcome, error) {
	out, err := s.slab.ApplyMemo(memo)
	return out, slab.ToError(err)
}

func (s *serviceImpl) Value(id ident.RecordID) (map[string]record.Value, error) {
	v, err := s.slab.Value(id)
	return v, slab.ToError(err)
}

func (s *serviceImpl) Envelope(id ident.RecordID, includeLocal bool) (record.Envelope, error) {
	env, err := s.slab.Envelope(id, includeLocal)
	return env, slab.ToError(err)
}

func (s *serviceImpl) Import(env record.Envelope) error {
	return slab.ToError(s.slab.Import(env))
}

func (s *serviceImpl) MemosSince(id ident.RecordID, seq uint64) ([]record.Memo, error) {
	memos, err := s.slab.MemosSince(id, seq)
	return memos, slab.ToError(err)
}

func (s *serviceImpl) RegisterPeerings(id ident.RecordID, entries peering.Peerings) error {
	if !id.Valid() {
		return slab.ToError(errors.Wrapf(record.ErrInvalidReference, "register peerings for %q", id))
	}
	s.slab.RegisterPeerings(id, entries)
	return nil
}

func (s *serviceImpl) PeersOf(id ident.RecordID, replicaOnly bool) ([]ident.NodeID, error) {
	return s.slab.PeersOf(id, replicaOnly), nil
}

func (s *serviceImpl) DesiredReplicas(id ident.RecordID) (int, error) {
	n, err := s.slab.DesiredReplicas(id)
	return n, slab.ToError(err)
}

func (s *serviceImpl) SetTargetReplicas(id ident.RecordID, n int) error {
	return slab.ToError(s.slab.SetTargetReplicas(id, n))
}

func (s *serviceImpl) SetEvicting(id ident.RecordID, flag bool) error {
	return slab.ToError(s.slab.SetEvicting(id, flag))
}

func (s *serviceImpl) NoteReplicaRequested(id ident.RecordID, node ident.NodeID) error {
	return slab.ToError(s.slab.NoteReplicaRequested(id, node))
}

func (s *serviceImpl) TryRetire(id ident.RecordID) (bool, error) {
	ok, err := s.slab.TryRetire(id)
	return ok, slab.ToError(err)
}

func (s *serviceImpl) Status(id ident.RecordID) (record.Status, error) {
	st, err := s.slab.Status(id)
	return st, slab.ToError(err)
}

func (s *serviceImpl) Records() ([]ident.RecordID, error) {
	return s.slab.Records(), nil
}

func (s *serviceImpl) Info() (slab.Info, error) {
	return s.slab.Info(), nil
}
