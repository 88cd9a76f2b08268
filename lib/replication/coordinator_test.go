package replication

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dSlab/lib/ident"
	"github.com/ValentinKolb/dSlab/lib/peering"
	"github.com/ValentinKolb/dSlab/lib/record"
	"github.com/ValentinKolb/dSlab/lib/slab"
	"github.com/ValentinKolb/dSlab/lib/slab/lslab"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cluster struct {
	services map[string]slab.IService
	ids      map[string]ident.NodeID
	prov     *ServiceProvisioner
}

func newCluster(names ...string) *cluster {
	c := &cluster{
		services: map[string]slab.IService{},
		ids:      map[string]ident.NodeID{},
		prov:     NewServiceProvisioner(map[ident.NodeID]slab.IService{}),
	}
	for _, name := range names {
		name := name
		svc := lslab.NewLocalService(func() *slab.Slab {
			return slab.New(name, record.DefaultOptions())
		})
		c.services[name] = svc
		c.ids[name] = ident.NodeIDFromName(name)
		c.prov.Peers[c.ids[name]] = svc
	}
	return c
}

func (c *cluster) coordinator(self string, peers ...string) *Coordinator {
	cfg := Config{Self: c.ids[self], EvictionTimeout: time.Minute}
	for _, p := range peers {
		cfg.Peers = append(cfg.Peers, c.ids[p])
	}
	return NewCoordinator(c.services[self], c.prov, cfg)
}

// failingProvisioner never lands a replica.
type failingProvisioner struct {
	mu    sync.Mutex
	calls []ident.NodeID
}

func (f *failingProvisioner) Provision(_ context.Context, peer ident.NodeID, _ record.Envelope, _ []record.Memo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, peer)
	return errors.New("peer unreachable")
}

func (f *failingProvisioner) Promote(context.Context, ident.NodeID, ident.RecordID) error {
	return errors.New("peer unreachable")
}

func (f *failingProvisioner) NextSeq(context.Context, ident.NodeID, ident.RecordID) (uint64, error) {
	return 0, errors.New("peer unreachable")
}

func (f *failingProvisioner) Propagate(context.Context, ident.NodeID, []record.Memo) error {
	return errors.New("peer unreachable")
}

func TestScanProvisionsMissingReplica(t *testing.T) {
	c := newCluster("host", "peer-1", "peer-2")
	host := c.services["host"]

	id, err := host.Create(map[string]record.Value{"a": record.Number(1)})
	require.NoError(t, err)
	_, err = host.Set(id, map[string]record.Value{"b": record.Number(2)})
	require.NoError(t, err)

	signals := []UnderReplicated{}
	coord := c.coordinator("host", "peer-1", "peer-2")
	coord.cfg.Sink = func(u UnderReplicated) { signals = append(signals, u) }

	require.NoError(t, coord.Scan(context.Background()))

	assert.Equal(t, []UnderReplicated{{RecordID: id, Missing: 1}}, signals)

	desired, err := host.DesiredReplicas(id)
	require.NoError(t, err)
	assert.Equal(t, 0, desired)

	// exactly one replica, on the first candidate
	peers, err := host.PeersOf(id, true)
	require.NoError(t, err)
	assert.Equal(t, []ident.NodeID{c.ids["peer-1"]}, peers)

	replicaValue, err := c.services["peer-1"].Value(id)
	require.NoError(t, err)
	hostValue, err := host.Value(id)
	require.NoError(t, err)
	assert.Equal(t, hostValue, replicaValue)

	st, err := c.services["peer-1"].Status(id)
	require.NoError(t, err)
	assert.Equal(t, peering.KindReplica, st.Kind)

	_, err = c.services["peer-2"].Status(id)
	assert.True(t, errors.Is(err, slab.ErrNotFound))

	// nothing left to do
	signals = signals[:0]
	require.NoError(t, coord.Scan(context.Background()))
	assert.Empty(t, signals)
	assert.Equal(t, int64(1), coord.provisionTime.Count())
}

func TestScanPropagatesMemosToReplicas(t *testing.T) {
	c := newCluster("host", "peer-1")
	host := c.services["host"]
	replica := c.services["peer-1"]

	id, err := host.Create(map[string]record.Value{"a": record.Number(1)})
	require.NoError(t, err)

	coord := c.coordinator("host", "peer-1")
	require.NoError(t, coord.Scan(context.Background()))

	assertInSync := func() {
		t.Helper()
		hostValue, err := host.Value(id)
		require.NoError(t, err)
		replicaValue, err := replica.Value(id)
		require.NoError(t, err)
		assert.Equal(t, hostValue, replicaValue)

		hostStatus, err := host.Status(id)
		require.NoError(t, err)
		replicaStatus, err := replica.Status(id)
		require.NoError(t, err)
		assert.Equal(t, hostStatus.NextSeq, replicaStatus.NextSeq)
	}

	_, err = host.Set(id, map[string]record.Value{"a": record.Number(2)})
	require.NoError(t, err)
	require.NoError(t, coord.Scan(context.Background()))
	assertInSync()
	assert.Equal(t, int64(1), coord.propagated.Count())

	// nothing new, nothing sent
	require.NoError(t, coord.Scan(context.Background()))
	assert.Equal(t, int64(1), coord.propagated.Count())

	_, err = host.Set(id, map[string]record.Value{"a": record.Number(3)})
	require.NoError(t, err)
	_, err = host.Set(id, map[string]record.Value{"b": record.String("x")})
	require.NoError(t, err)
	require.NoError(t, coord.Scan(context.Background()))
	assertInSync()
	assert.Equal(t, int64(3), coord.propagated.Count())

	// a new coordinator asks the replica where it stands
	_, err = host.Set(id, map[string]record.Value{"a": record.Number(4)})
	require.NoError(t, err)
	restarted := c.coordinator("host", "peer-1")
	require.NoError(t, restarted.Scan(context.Background()))
	assertInSync()
	assert.Equal(t, int64(1), restarted.propagated.Count())
	assert.Equal(t, int64(0), restarted.provisionTime.Count())
}

func TestFailedPropagationIsRetried(t *testing.T) {
	c := newCluster("host", "peer-1")
	host := c.services["host"]
	id, err := host.Create(map[string]record.Value{"a": record.Number(1)})
	require.NoError(t, err)
	require.NoError(t, c.coordinator("host", "peer-1").Scan(context.Background()))

	_, err = host.Set(id, map[string]record.Value{"a": record.Number(2)})
	require.NoError(t, err)

	coord := NewCoordinator(host, &failingProvisioner{}, Config{Self: c.ids["host"], Peers: []ident.NodeID{c.ids["peer-1"]}})
	require.NoError(t, coord.Scan(context.Background()))
	value, err := c.services["peer-1"].Value(id)
	require.NoError(t, err)
	assert.Equal(t, record.Number(1), value["a"], "replica stays behind while unreachable")

	coord.prov = c.prov
	require.NoError(t, coord.Scan(context.Background()))
	value, err = c.services["peer-1"].Value(id)
	require.NoError(t, err)
	assert.Equal(t, record.Number(2), value["a"])
}

func TestScanSkipsPeersWithCopy(t *testing.T) {
	c := newCluster("host", "peer-1", "peer-2")
	host := c.services["host"]
	id, err := host.Create(nil)
	require.NoError(t, err)
	require.NoError(t, host.SetTargetReplicas(id, 2))
	require.NoError(t, host.RegisterPeerings(id, peering.Peerings{c.ids["peer-1"]: peering.KindHost}))

	coord := c.coordinator("host", "host", "peer-1", "peer-2")
	require.NoError(t, coord.Scan(context.Background()))

	peers, err := host.PeersOf(id, true)
	require.NoError(t, err)
	assert.Equal(t, []ident.NodeID{c.ids["peer-2"]}, peers)
}

func TestFailedProvisionStaysRequested(t *testing.T) {
	c := newCluster("host", "peer-1")
	host := c.services["host"]
	id, err := host.Create(nil)
	require.NoError(t, err)

	fail := &failingProvisioner{}
	coord := NewCoordinator(host, fail, Config{Self: c.ids["host"], Peers: []ident.NodeID{c.ids["peer-1"]}})
	require.NoError(t, coord.Scan(context.Background()))

	assert.Equal(t, []ident.NodeID{c.ids["peer-1"]}, fail.calls)
	st, err := host.Status(id)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Desired, "a requested replica does not count")
	assert.Equal(t, []ident.NodeID{c.ids["peer-1"]}, st.Requested)
	assert.Equal(t, int64(1), coord.provisionFail.Count())
}

func TestEvictionCompletesAfterReplacement(t *testing.T) {
	c := newCluster("host", "replica-1", "replica-2")
	host := c.services["host"]
	id, err := host.Create(map[string]record.Value{"k": record.String("v")})
	require.NoError(t, err)

	// host provisions the first replica
	require.NoError(t, c.coordinator("host", "replica-1").Scan(context.Background()))

	replica := c.services["replica-1"]
	require.NoError(t, replica.SetEvicting(id, true))

	coord := c.coordinator("replica-1", "replica-1", "replica-2")
	require.NoError(t, coord.Scan(context.Background()))

	// first scan: retire refused, replacement provisioned
	peers, err := replica.PeersOf(id, true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []ident.NodeID{c.ids["replica-1"], c.ids["replica-2"]}, peers)

	// second scan: the replacement has landed, the copy is dropped
	require.NoError(t, coord.Scan(context.Background()))
	st, err := replica.Status(id)
	require.NoError(t, err)
	assert.Equal(t, record.StateRetired, st.State)
	assert.Equal(t, int64(1), coord.retired.Count())

	value, err := c.services["replica-2"].Value(id)
	require.NoError(t, err)
	assert.Equal(t, record.String("v"), value["k"])
}

func TestEvictingHostPromotesReplica(t *testing.T) {
	c := newCluster("host", "replica-1", "replica-2", "replica-3")
	host := c.services["host"]
	id, err := host.Create(nil)
	require.NoError(t, err)

	// while evicting, the host wants one replica more than the target, even
	// after a replica was promoted to host
	coord := c.coordinator("host", "replica-1", "replica-2", "replica-3")
	require.NoError(t, coord.Scan(context.Background()))
	require.NoError(t, host.SetEvicting(id, true))

	for i := 0; i < 4; i++ {
		require.NoError(t, coord.Scan(context.Background()))
	}

	st, err := host.Status(id)
	require.NoError(t, err)
	assert.Equal(t, record.StateRetired, st.State)
	assert.Equal(t, int64(1), coord.promoted.Count())

	promoted, err := c.services["replica-1"].Status(id)
	require.NoError(t, err)
	assert.Equal(t, peering.KindHost, promoted.Kind)

	// the new host can issue memos
	_, err = c.services["replica-1"].Set(id, map[string]record.Value{"after": record.Bool(true)})
	assert.NoError(t, err)
}

func TestStalledEvictionIsAborted(t *testing.T) {
	c := newCluster("host", "replica-1")
	host := c.services["host"]
	id, err := host.Create(nil)
	require.NoError(t, err)
	require.NoError(t, c.coordinator("host", "replica-1").Scan(context.Background()))

	replica := c.services["replica-1"]
	require.NoError(t, replica.SetEvicting(id, true))

	now := time.Unix(1000, 0)
	coord := NewCoordinator(replica, &failingProvisioner{}, Config{
		Self:            c.ids["replica-1"],
		Peers:           []ident.NodeID{c.ids["host"], ident.NodeIDFromName("unreachable")},
		EvictionTimeout: 10 * time.Second,
	})
	coord.now = func() time.Time { return now }

	require.NoError(t, coord.Scan(context.Background()))
	st, err := replica.Status(id)
	require.NoError(t, err)
	assert.Equal(t, record.StateEvicting, st.State, "no automatic revert before the timeout")

	now = now.Add(11 * time.Second)
	require.NoError(t, coord.Scan(context.Background()))
	st, err = replica.Status(id)
	require.NoError(t, err)
	assert.Equal(t, record.StateActive, st.State)
	assert.Equal(t, int64(1), coord.aborted.Count())
}

func TestRunStopsOnCancel(t *testing.T) {
	c := newCluster("host")
	coord := NewCoordinator(c.services["host"], c.prov, Config{Self: c.ids["host"], ScanInterval: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		coord.Run(ctx)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("coordinator did not stop")
	}
}

func TestServiceProvisionerUnknownPeer(t *testing.T) {
	p := NewServiceProvisioner(map[ident.NodeID]slab.IService{})
	err := p.Provision(context.Background(), 42, record.Envelope{ID: "a.1"}, nil)
	assert.True(t, errors.Is(err, ErrUnknownPeer))
	assert.True(t, errors.Is(p.Promote(context.Background(), 42, "a.1"), ErrUnknownPeer))
	_, err = p.NextSeq(context.Background(), 42, "a.1")
	assert.True(t, errors.Is(err, ErrUnknownPeer))
	assert.True(t, errors.Is(p.Propagate(context.Background(), 42, nil), ErrUnknownPeer))
}
