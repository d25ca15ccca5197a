package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/YooLeon/portainer-monitor/internal/docker"
	"github.com/YooLeon/portainer-monitor/internal/entity"
	"github.com/YooLeon/portainer-monitor/internal/portainer"
)

type fakeMonitor struct {
	containers []docker.Container
	status     docker.Status
	refreshErr error
	refreshes  int
}

func (f *fakeMonitor) Containers() ([]docker.Container, error) {
	if f.containers == nil {
		return nil, docker.ErrNoSnapshot
	}
	return f.containers, nil
}

func (f *fakeMonitor) Container(id string) (docker.Container, bool) {
	for _, c := range f.containers {
		if c.ID == id {
			return c, true
		}
	}
	return docker.Container{}, false
}

func (f *fakeMonitor) Refresh(ctx context.Context) error {
	f.refreshes++
	return f.refreshErr
}

func (f *fakeMonitor) Status() docker.Status { return f.status }

func (f *fakeMonitor) EndpointID() int { return 5 }

func (f *fakeMonitor) Interval() time.Duration { return 3 * time.Second }

type fakeToggle struct {
	on  bool
	err error
}

func (f *fakeToggle) TurnOn(ctx context.Context) error {
	if f.err != nil {
		return f.err
	}
	f.on = true
	return nil
}

func (f *fakeToggle) TurnOff(ctx context.Context) error {
	if f.err != nil {
		return f.err
	}
	f.on = false
	return nil
}

func (f *fakeToggle) State() entity.State {
	value := entity.StateOff
	if f.on {
		value = entity.StateOn
	}
	return entity.State{UniqueID: "portainer-c1-running-switch", Value: value, Available: true}
}

func newTestServer(t *testing.T, monitor *fakeMonitor, toggle *fakeToggle) (*httptest.Server, *Hub) {
	t.Helper()

	hub := NewHub(zap.NewNop())
	lookup := func(id string) (Toggle, bool) {
		if id == "c1" && toggle != nil {
			return toggle, true
		}
		return nil, false
	}

	router := mux.NewRouter()
	NewHandler(monitor, lookup, hub, zaptest.NewLogger(t)).Routes(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, hub
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func running() []docker.Container {
	return []docker.Container{{ID: "c1", Names: []string{"/web-1"}, State: docker.StateRunning, Image: "nginx"}}
}

func TestContainersHandler(t *testing.T) {
	srv, _ := newTestServer(t, &fakeMonitor{containers: running()}, nil)

	resp, err := http.Get(srv.URL + "/containers")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var views []containerView
	decode(t, resp, &views)
	require.Len(t, views, 1)
	assert.Equal(t, "web-1", views[0].Name)
	assert.Equal(t, []string{"/web-1"}, views[0].Names)
	assert.Equal(t, "running", views[0].State)
	assert.True(t, views[0].Running)
}

func TestContainersHandler_NoSnapshot(t *testing.T) {
	srv, _ := newTestServer(t, &fakeMonitor{}, nil)

	resp, err := http.Get(srv.URL + "/containers")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestContainerHandler(t *testing.T) {
	srv, _ := newTestServer(t, &fakeMonitor{containers: running()}, nil)

	resp, err := http.Get(srv.URL + "/containers/c1")
	require.NoError(t, err)
	var view containerView
	decode(t, resp, &view)
	assert.Equal(t, "c1", view.ID)

	resp, err = http.Get(srv.URL + "/containers/gone")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestContainerActionHandler(t *testing.T) {
	toggle := &fakeToggle{on: true}
	srv, _ := newTestServer(t, &fakeMonitor{containers: running()}, toggle)

	resp, err := http.Post(srv.URL+"/containers/c1/stop", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var state entity.State
	decode(t, resp, &state)
	assert.Equal(t, entity.StateOff, state.Value)

	resp, err = http.Post(srv.URL+"/containers/c1/start", "application/json", nil)
	require.NoError(t, err)
	decode(t, resp, &state)
	assert.Equal(t, entity.StateOn, state.Value)

	resp, err = http.Post(srv.URL+"/containers/c1/restart", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/containers/c9/start", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestContainerActionHandler_RemoteErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{err: &portainer.RequestError{Kind: portainer.ErrInvalidAuth}, want: http.StatusUnauthorized},
		{err: &portainer.RequestError{Kind: portainer.ErrCannotConnect}, want: http.StatusBadGateway},
		{err: &portainer.RequestError{Kind: portainer.ErrCertificate}, want: http.StatusBadGateway},
	}

	for _, tc := range cases {
		srv, _ := newTestServer(t, &fakeMonitor{containers: running()}, &fakeToggle{err: tc.err})

		resp, err := http.Post(srv.URL+"/containers/c1/start", "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, tc.want, resp.StatusCode)
	}
}

func TestRefreshHandler(t *testing.T) {
	monitor := &fakeMonitor{containers: running(), status: docker.Status{HasData: true}}
	srv, _ := newTestServer(t, monitor, nil)

	resp, err := http.Post(srv.URL+"/refresh", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, monitor.refreshes)
}

func TestHealthCheckHandler(t *testing.T) {
	monitor := &fakeMonitor{}
	srv, _ := newTestServer(t, monitor, nil)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	monitor.status = docker.Status{HasData: true, LastError: "GET /api/endpoints: cannot connect"}
	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)

	var body map[string]interface{}
	decode(t, resp, &body)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, float64(5), body["endpoint_id"])
	assert.Equal(t, "3s", body["interval"])
}

func TestEntitiesHandler(t *testing.T) {
	srv, hub := newTestServer(t, &fakeMonitor{}, nil)

	hub.WriteState(entity.State{UniqueID: "portainer-c2-status", Value: "exited"})
	hub.WriteState(entity.State{UniqueID: "portainer-c1-status", Value: "running"})
	hub.WriteState(entity.State{UniqueID: "portainer-c1-status", Value: "paused"})

	resp, err := http.Get(srv.URL + "/entities")
	require.NoError(t, err)

	var states []entity.State
	decode(t, resp, &states)
	require.Len(t, states, 2)
	assert.Equal(t, "portainer-c1-status", states[0].UniqueID)
	assert.Equal(t, "paused", states[0].Value)
	assert.Equal(t, "portainer-c2-status", states[1].UniqueID)
}

func TestEntityHandler(t *testing.T) {
	srv, hub := newTestServer(t, &fakeMonitor{}, nil)
	hub.WriteState(entity.State{UniqueID: "portainer-c1-status", Value: "running"})

	resp, err := http.Get(srv.URL + "/entities/portainer-c1-status")
	require.NoError(t, err)
	var state entity.State
	decode(t, resp, &state)
	assert.Equal(t, "running", state.Value)

	resp, err = http.Get(srv.URL + "/entities/portainer-c9-status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebsocketStream(t *testing.T) {
	srv, hub := newTestServer(t, &fakeMonitor{}, nil)
	hub.WriteState(entity.State{UniqueID: "portainer-c1-status", Value: "running"})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() entity.State {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var s entity.State
		require.NoError(t, conn.ReadJSON(&s))
		return s
	}

	assert.Equal(t, "running", read().Value)

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)
	hub.WriteState(entity.State{UniqueID: "portainer-c1-status", Value: "exited"})
	assert.Equal(t, "exited", read().Value)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 5*time.Second, 10*time.Millisecond)
}
