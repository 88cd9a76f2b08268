package client

import (
	"context"
	"fmt"
	"testing"

	"github.com/ValentinKolb/dSlab/lib/ident"
	"github.com/ValentinKolb/dSlab/lib/peering"
	"github.com/ValentinKolb/dSlab/lib/record"
	"github.com/ValentinKolb/dSlab/lib/replication"
	"github.com/ValentinKolb/dSlab/lib/slab"
	"github.com/ValentinKolb/dSlab/lib/slab/lslab"
	"github.com/ValentinKolb/dSlab/rpc/common"
	"github.com/ValentinKolb/dSlab/rpc/serializer"
	"github.com/ValentinKolb/dSlab/rpc/server"
	"github.com/ValentinKolb/dSlab/rpc/transport"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopbackTransport hands requests directly to the slab adapter of the
// service registered for the endpoint
type loopbackTransport struct {
	network    map[string]slab.IService
	serializer serializer.IRPCSerializer
	svc        slab.IService
}

func (l *loopbackTransport) Connect(config common.ClientConfig) error {
	if len(config.Transport.Endpoints) == 0 {
		return fmt.Errorf("no endpoints provided")
	}
	svc, ok := l.network[config.Transport.Endpoints[0]]
	if !ok {
		return fmt.Errorf("connection refused: %s", config.Transport.Endpoints[0])
	}
	l.svc = svc
	return nil
}

func (l *loopbackTransport) Send(_ uint64, req []byte) ([]byte, error) {
	var msg common.Message
	if err := l.serializer.Deserialize(req, &msg); err != nil {
		return nil, err
	}
	return l.serializer.Serialize(*server.NewSlabServerAdapter().Handle(&msg, l.svc))
}

func (l *loopbackTransport) Close() error { return nil }

func newLocalService(name string) slab.IService {
	return lslab.NewLocalService(func() *slab.Slab {
		return slab.New(name, record.DefaultOptions())
	})
}

func newClient(t *testing.T, svc slab.IService, ser serializer.IRPCSerializer) slab.IService {
	t.Helper()
	tr := &loopbackTransport{network: map[string]slab.IService{"node": svc}, serializer: ser}
	c, err := NewRPCSlab(1, common.ClientConfig{
		Transport: common.ClientTransportConfig{Endpoints: []string{"node"}},
	}, tr, ser)
	require.NoError(t, err)
	return c
}

func TestRPCSlabOperations(t *testing.T) {
	serializers := map[string]serializer.IRPCSerializer{
		"json":   serializer.NewJSONSerializer(),
		"gob":    serializer.NewGOBSerializer(),
		"binary": serializer.NewBinarySerializer(),
	}

	for name, ser := range serializers {
		t.Run(name, func(t *testing.T) {
			local := newLocalService("node-a/1")
			c := newClient(t, local, ser)

			id, err := c.Create(map[string]record.Value{"name": record.String("alice")})
			require.NoError(t, err)

			memo, err := c.Set(id, map[string]record.Value{"age": record.Number(42)})
			require.NoError(t, err)
			assert.Equal(t, ident.MemoID{Record: id, Seq: 1}, memo.ID)

			value, err := c.Value(id)
			require.NoError(t, err)
			assert.Equal(t, map[string]record.Value{
				"name": record.String("alice"),
				"age":  record.Number(42),
			}, value)

			env, err := c.Envelope(id, true)
			require.NoError(t, err)
			assert.Equal(t, id, env.ID)

			memos, err := c.MemosSince(id, 0)
			require.NoError(t, err)
			assert.NotEmpty(t, memos)

			desired, err := c.DesiredReplicas(id)
			require.NoError(t, err)
			assert.Equal(t, 1, desired)

			require.NoError(t, c.SetTargetReplicas(id, 0))
			desired, err = c.DesiredReplicas(id)
			require.NoError(t, err)
			assert.Equal(t, 0, desired)

			other := ident.NodeIDFromName("node-b/1")
			require.NoError(t, c.RegisterPeerings(id, peering.Peerings{other: peering.KindReplica}))
			peers, err := c.PeersOf(id, true)
			require.NoError(t, err)
			assert.Equal(t, []ident.NodeID{other}, peers)

			require.NoError(t, c.NoteReplicaRequested(id, other))
			require.NoError(t, c.SetEvicting(id, true))

			status, err := c.Status(id)
			require.NoError(t, err)
			assert.Equal(t, id, status.ID)
			assert.Equal(t, record.StateEvicting, status.State)

			require.NoError(t, c.SetEvicting(id, false))

			ids, err := c.Records()
			require.NoError(t, err)
			assert.Equal(t, []ident.RecordID{id}, ids)

			info, err := c.Info()
			require.NoError(t, err)
			assert.Equal(t, ident.NodeIDFromName("node-a/1"), info.NodeID)
			assert.Equal(t, "node-a/1", info.Name)
		})
	}
}

func TestRPCSlabErrorsMatchSentinels(t *testing.T) {
	c := newClient(t, newLocalService("node-a/1"), serializer.NewBinarySerializer())

	missing := ident.NewRecordID(ident.NodeIDFromName("node-a/1"), 5)
	_, err := c.Value(missing)
	require.Error(t, err)
	assert.True(t, errors.Is(err, slab.ErrNotFound))
	var se *slab.Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, slab.RetCNotFound, se.Code)

	id, err := c.Create(nil)
	require.NoError(t, err)

	_, err = c.TryRetire(id)
	assert.True(t, errors.Is(err, record.ErrNotEvicting))

	err = c.SetTargetReplicas(id, -1)
	assert.True(t, errors.Is(err, record.ErrInvalidTarget))

	require.NoError(t, c.SetEvicting(id, true))
	require.NoError(t, c.SetTargetReplicas(id, 0))
	_, err = c.TryRetire(id)
	assert.True(t, errors.Is(err, record.ErrLastCopy))

	_, err = c.Create(map[string]record.Value{"$owner": record.Number(1)})
	assert.True(t, errors.Is(err, record.ErrInvalidReference))
}

func TestRPCSlabConnectFailure(t *testing.T) {
	ser := serializer.NewJSONSerializer()
	tr := &loopbackTransport{network: map[string]slab.IService{}, serializer: ser}
	_, err := NewRPCSlab(1, common.ClientConfig{
		Transport: common.ClientTransportConfig{Endpoints: []string{"nowhere"}},
	}, tr, ser)
	assert.Error(t, err)
}

func TestProvisionerOverRPC(t *testing.T) {
	ser := serializer.NewBinarySerializer()
	host := newLocalService("node-a/1")
	replicaB := newLocalService("node-b/1")
	replicaC := newLocalService("node-c/1")
	network := map[string]slab.IService{"b:1": replicaB, "c:1": replicaC}

	prov, peers, err := NewProvisioner(1, []Peer{
		{Name: "node-c", Endpoint: "c:1"},
		{Name: "node-b", Endpoint: "b:1"},
		{Name: "node-x", Endpoint: "x:1"}, // unreachable, skipped
	}, common.ClientConfig{}, func() transport.IRPCClientTransport {
		return &loopbackTransport{network: network, serializer: ser}
	}, ser)
	require.NoError(t, err)

	nodeB := ident.NodeIDFromName("node-b/1")
	nodeC := ident.NodeIDFromName("node-c/1")
	assert.Equal(t, []ident.NodeID{nodeC, nodeB}, peers)

	id, err := host.Create(map[string]record.Value{"a": record.Number(1)})
	require.NoError(t, err)
	_, err = host.Set(id, map[string]record.Value{"b": record.String("x")})
	require.NoError(t, err)

	coordinator := replication.NewCoordinator(host, prov, replication.Config{
		Self:  ident.NodeIDFromName("node-a/1"),
		Peers: peers,
	})
	require.NoError(t, coordinator.Scan(context.Background()))

	// the default target is one replica, the first peer in order gets it
	hostValue, err := host.Value(id)
	require.NoError(t, err)
	replicaValue, err := replicaC.Value(id)
	require.NoError(t, err)
	assert.Equal(t, hostValue, replicaValue)

	_, err = replicaB.Value(id)
	assert.True(t, errors.Is(err, slab.ErrNotFound))

	desired, err := host.DesiredReplicas(id)
	require.NoError(t, err)
	assert.Equal(t, 0, desired)
}
