package entity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/YooLeon/portainer-monitor/internal/docker"
	"github.com/YooLeon/portainer-monitor/internal/portainer"
)

// fakeRemote 模拟 Portainer：stop/start 会修改下一次快照中的容器状态
type fakeRemote struct {
	mu         sync.Mutex
	containers map[string]types.Container
	order      []string
	fetches    int
	actionErr  error
	fetchErr   error
}

func newFakeRemote(containers ...types.Container) *fakeRemote {
	f := &fakeRemote{containers: make(map[string]types.Container)}
	for _, c := range containers {
		f.containers[c.ID] = c
		f.order = append(f.order, c.ID)
	}
	return f
}

func (f *fakeRemote) EndpointSnapshot(ctx context.Context, endpointID int) (*portainer.Endpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}

	var raw []types.Container
	for _, id := range f.order {
		if c, found := f.containers[id]; found {
			raw = append(raw, c)
		}
	}
	return &portainer.Endpoint{
		ID:        endpointID,
		Snapshots: []portainer.Snapshot{{DockerSnapshotRaw: portainer.DockerSnapshot{Containers: raw}}},
	}, nil
}

func (f *fakeRemote) setState(id, state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.containers[id]
	c.State = state
	f.containers[id] = c
}

func (f *fakeRemote) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, id)
}

func (f *fakeRemote) StartContainer(ctx context.Context, endpointID int, containerID string) error {
	if f.actionErr != nil {
		return f.actionErr
	}
	f.setState(containerID, "running")
	return nil
}

func (f *fakeRemote) StopContainer(ctx context.Context, endpointID int, containerID string) error {
	if f.actionErr != nil {
		return f.actionErr
	}
	f.setState(containerID, "exited")
	return nil
}

func (f *fakeRemote) Close() error { return nil }

func (f *fakeRemote) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

// recorder 记录写入的状态
type recorder struct {
	mu     sync.Mutex
	states []State
}

func (r *recorder) WriteState(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) last(uniqueID string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.states) - 1; i >= 0; i-- {
		if r.states[i].UniqueID == uniqueID {
			return r.states[i], true
		}
	}
	return State{}, false
}

func container(id, name, state string) types.Container {
	return types.Container{ID: id, Names: []string{name}, Image: "nginx:latest", State: state, Created: 1700000000}
}

func setup(t *testing.T, remote *fakeRemote) (*docker.Monitor, []docker.Container, *recorder, Options) {
	t.Helper()

	m := docker.NewMonitor(remote, 5, time.Second, zaptest.NewLogger(t))
	require.NoError(t, m.FirstRefresh(context.Background()))

	containers, err := m.Containers()
	require.NoError(t, err)

	rec := &recorder{}
	return m, containers, rec, Options{Writer: rec, Logger: zaptest.NewLogger(t), Grace: time.Millisecond}
}

func TestStatusSensor_FollowsCoordinator(t *testing.T) {
	remote := newFakeRemote(container("c1", "/web-1", "running"), container("c2", "/db", "running"))
	m, containers, rec, opts := setup(t, remote)

	sensors := NewStatusSensors(m, containers, opts)
	require.Len(t, sensors, 2)
	for _, s := range sensors {
		s.Attach()
	}

	web := sensors[0]
	assert.Equal(t, "portainer-c1-status", web.UniqueID())

	state, found := rec.last(web.UniqueID())
	require.True(t, found)
	assert.Equal(t, "running", state.Value)
	assert.True(t, state.Available)
	assert.Equal(t, "web-1", state.Device.Name)
	assert.Equal(t, []string{"created", "restarting", "running", "paused", "exited", "dead", "removing"}, state.Options)

	remote.setState("c1", "paused")
	require.NoError(t, m.Refresh(context.Background()))

	value, found := web.Value()
	require.True(t, found)
	assert.Equal(t, docker.StatePaused, value)

	state, _ = rec.last(web.UniqueID())
	assert.Equal(t, "paused", state.Value)
}

func TestStatusSensor_MissingContainerIsUnknown(t *testing.T) {
	remote := newFakeRemote(container("c1", "/web-1", "running"), container("c2", "/db", "exited"))
	m, containers, rec, opts := setup(t, remote)

	sensors := NewStatusSensors(m, containers, opts)
	for _, s := range sensors {
		s.Attach()
	}

	remote.remove("c1")
	remote.setState("c2", "running")
	require.NoError(t, m.Refresh(context.Background()))

	_, found := sensors[0].Value()
	assert.False(t, found)

	state, _ := rec.last("portainer-c1-status")
	assert.Equal(t, StateUnknown, state.Value)
	assert.False(t, state.Available)
	assert.Equal(t, "web-1", state.Device.Name)

	state, _ = rec.last("portainer-c2-status")
	assert.Equal(t, "running", state.Value)
}

func TestRunningSwitch_TurnOffRefreshesImmediately(t *testing.T) {
	remote := newFakeRemote(container("c1", "/web-1", "running"))
	m, containers, rec, opts := setup(t, remote)

	sw := NewRunningSwitch(m, containers[0], opts)
	sw.Attach()
	assert.Equal(t, "portainer-c1-running-switch", sw.UniqueID())

	on, found := sw.IsOn()
	require.True(t, found)
	assert.True(t, on)

	fetches := remote.fetchCount()
	require.NoError(t, sw.TurnOff(context.Background()))
	assert.Equal(t, fetches+1, remote.fetchCount())

	on, found = sw.IsOn()
	require.True(t, found)
	assert.False(t, on)

	state, _ := rec.last(sw.UniqueID())
	assert.Equal(t, StateOff, state.Value)

	require.NoError(t, sw.TurnOn(context.Background()))
	state, _ = rec.last(sw.UniqueID())
	assert.Equal(t, StateOn, state.Value)
}

func TestRunningSwitch_RestartingIsOn(t *testing.T) {
	remote := newFakeRemote(container("c1", "/web-1", "restarting"), container("c2", "/job", "created"))
	m, containers, _, opts := setup(t, remote)

	switches := NewRunningSwitches(m, containers, opts)

	on, _ := switches[0].IsOn()
	assert.True(t, on)
	on, _ = switches[1].IsOn()
	assert.False(t, on)
}

func TestRunningSwitch_ActionErrorPropagates(t *testing.T) {
	remote := newFakeRemote(container("c1", "/web-1", "exited"))
	m, containers, _, opts := setup(t, remote)

	sw := NewRunningSwitch(m, containers[0], opts)
	remote.actionErr = &portainer.RequestError{Kind: portainer.ErrInvalidAuth}

	fetches := remote.fetchCount()
	err := sw.TurnOn(context.Background())
	assert.ErrorIs(t, err, portainer.ErrInvalidAuth)
	assert.Equal(t, fetches, remote.fetchCount())
}

func TestRunningSwitch_RefreshFailureAfterActionIsNotReturned(t *testing.T) {
	remote := newFakeRemote(container("c1", "/web-1", "running"))
	m, containers, _, opts := setup(t, remote)

	sw := NewRunningSwitch(m, containers[0], opts)
	remote.fetchErr = errors.New("connection reset")

	require.NoError(t, sw.TurnOff(context.Background()))

	on, found := sw.IsOn()
	require.True(t, found)
	assert.True(t, on)
}

func TestRunningSwitch_CancelledGraceSkipsRefresh(t *testing.T) {
	remote := newFakeRemote(container("c1", "/web-1", "running"))
	m, containers, _, opts := setup(t, remote)

	opts.Grace = time.Hour
	sw := NewRunningSwitch(m, containers[0], opts)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	fetches := remote.fetchCount()
	require.NoError(t, sw.TurnOff(ctx))
	assert.Equal(t, fetches, remote.fetchCount())

	on, found := sw.IsOn()
	require.True(t, found)
	assert.True(t, on)
}

func TestRunningSwitch_DefaultGrace(t *testing.T) {
	remote := newFakeRemote(container("c1", "/web-1", "running"))
	m, containers, _, _ := setup(t, remote)

	sw := NewRunningSwitch(m, containers[0], Options{})
	assert.Equal(t, DefaultGrace, sw.grace)
}

func TestEntity_DetachStopsUpdates(t *testing.T) {
	remote := newFakeRemote(container("c1", "/web-1", "running"))
	m, containers, rec, opts := setup(t, remote)

	sensor := NewStatusSensor(m, containers[0], opts)
	sensor.Attach()
	sensor.Attach()
	require.NoError(t, m.Refresh(context.Background()))

	rec.mu.Lock()
	written := len(rec.states)
	rec.mu.Unlock()
	assert.Equal(t, 2, written)

	sensor.Detach()
	require.NoError(t, m.Refresh(context.Background()))

	rec.mu.Lock()
	assert.Len(t, rec.states, written)
	rec.mu.Unlock()
}
