package lslab

import (
	"testing"

	"github.com/ValentinKolb/dSlab/lib/ident"
	"github.com/ValentinKolb/dSlab/lib/peering"
	"github.com/ValentinKolb/dSlab/lib/record"
	"github.com/ValentinKolb/dSlab/lib/slab"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(name string) slab.IService {
	return NewLocalService(func() *slab.Slab {
		return slab.New(name, record.DefaultOptions())
	})
}

func TestLocalServiceReplication(t *testing.T) {
	host := newService("host")
	replica := newService("replica")

	id, err := host.Create(map[string]record.Value{"a": record.Number(1)})
	require.NoError(t, err)
	m, err := host.Set(id, map[string]record.Value{"b": record.String("x")})
	require.NoError(t, err)

	desired, err := host.DesiredReplicas(id)
	require.NoError(t, err)
	assert.Equal(t, 1, desired)

	env, err := host.Envelope(id, true)
	require.NoError(t, err)
	require.NoError(t, replica.Import(env))

	memos, err := host.MemosSince(id, 0)
	require.NoError(t, err)
	for _, memo := range memos {
		_, err := replica.ApplyMemo(memo)
		require.NoError(t, err)
	}
	out, err := replica.ApplyMemo(m)
	require.NoError(t, err)
	assert.Equal(t, record.OutcomeDuplicate, out)

	replicaSlab, ok := Slab(replica)
	require.True(t, ok)
	entry := peering.Peerings{replicaSlab.ID(): peering.KindReplica}
	require.NoError(t, replica.RegisterPeerings(id, entry))
	require.NoError(t, host.RegisterPeerings(id, entry))

	desired, err = host.DesiredReplicas(id)
	require.NoError(t, err)
	assert.Equal(t, 0, desired)

	hostValue, err := host.Value(id)
	require.NoError(t, err)
	replicaValue, err := replica.Value(id)
	require.NoError(t, err)
	assert.Equal(t, hostValue, replicaValue)

	peers, err := host.PeersOf(id, true)
	require.NoError(t, err)
	assert.Equal(t, []ident.NodeID{replicaSlab.ID()}, peers)

	ids, err := replica.Records()
	require.NoError(t, err)
	assert.Equal(t, []ident.RecordID{id}, ids)
}

func TestLocalServiceErrorsCarryCodes(t *testing.T) {
	s := newService("node-1")
	missing := ident.NewRecordID(ident.NodeIDFromName("node-1"), 42)

	_, err := s.Status(missing)
	var se *slab.Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, slab.RetCNotFound, se.Code)
	assert.True(t, errors.Is(err, slab.ErrNotFound))

	id, err := s.Create(nil)
	require.NoError(t, err)
	_, err = s.TryRetire(id)
	require.True(t, errors.As(err, &se))
	assert.Equal(t, slab.RetCInvalidOperation, se.Code)
	assert.True(t, errors.Is(err, record.ErrNotEvicting))

	err = s.RegisterPeerings("not an id", peering.Peerings{1: peering.KindHost})
	assert.True(t, errors.Is(err, record.ErrInvalidReference))
}

func TestLocalServiceInfo(t *testing.T) {
	s := newService("node-1")
	_, err := s.Create(nil)
	require.NoError(t, err)

	info, err := s.Info()
	require.NoError(t, err)
	assert.Equal(t, "node-1", info.Name)
	assert.Equal(t, uint64(1), info.Records)
	assert.Equal(t, 1, info.DefaultTarget)
}
