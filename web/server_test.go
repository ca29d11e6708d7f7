package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"navengine-go/floorplan"
	"navengine-go/fusion"
	"navengine-go/route"
	"navengine-go/session"
)

func testFloor() *floorplan.Floorplan {
	return &floorplan.Floorplan{
		WidthMeters:  20,
		HeightMeters: 20,
		Emitters: []fusion.Emitter{
			{ID: 1, X: 0, Y: 0, Label: "E1"},
			{ID: 2, X: 20, Y: 0, Label: "E2"},
			{ID: 3, X: 0, Y: 20, Label: "E3"},
		},
		Nodes: []route.Node{
			{ID: 1, X: 0, Y: 0}, {ID: 2, X: 10, Y: 0}, {ID: 3, X: 10, Y: 10},
		},
		Edges: []route.Edge{{From: 1, To: 2}, {From: 2, To: 3}},
		Rooms: []floorplan.Room{{ID: 1, X: 9, Y: 9, Name: "Lab"}},
	}
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv := &Server{Hub: NewHub()}
	sess, err := session.New(testFloor(), session.Options{
		Pipeline:  fusion.DefaultOptions(),
		Publisher: session.PublisherFunc(func(u session.Update) {
			b, _ := json.Marshal(u)
			srv.Hub.Broadcast(b)
		}),
	})
	require.NoError(t, err)
	srv.Session = sess

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Hub.Run(ctx)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return srv, ts
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestStateAndFloorplan(t *testing.T) {
	srv, ts := newTestServer(t)
	srv.Session.Step(fusion.RawSample{"E1": -59, "E2": -59, "E3": -59})

	resp, state := do(t, http.MethodGet, ts.URL+"/api/state", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, srv.Session.ID(), state["session"])
	fix := state["cycle"].(map[string]any)["fix"].(map[string]any)
	assert.Equal(t, "full", fix["quality"])

	resp, fp := do(t, http.MethodGet, ts.URL+"/api/floorplan", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, fp["nodes"], 3)
	assert.Len(t, fp["routers"], 3)
}

func TestSetDestination(t *testing.T) {
	srv, ts := newTestServer(t)
	srv.Session.Step(fusion.RawSample{"E1": -40, "E2": -80, "E3": -80})

	resp, u := do(t, http.MethodPost, ts.URL+"/api/destination", `{"node": 3}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, u["routeChanged"])
	assert.Len(t, u["route"], 3)

	resp, u = do(t, http.MethodPost, ts.URL+"/api/destination", `{"x": 9.4, "y": 0.3}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, u["goal"].(map[string]any)["id"])

	resp, u = do(t, http.MethodPost, ts.URL+"/api/destination", `{"room": "lab"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 3, u["goal"].(map[string]any)["id"])

	resp, u = do(t, http.MethodDelete, ts.URL+"/api/destination", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, u["goal"])
	assert.Empty(t, u["route"])
}

func TestSetDestinationErrors(t *testing.T) {
	_, ts := newTestServer(t)
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"unknown node", `{"node": 99}`, http.StatusNotFound},
		{"unknown room", `{"room": "Attic"}`, http.StatusNotFound},
		{"empty", `{}`, http.StatusBadRequest},
		{"two forms", `{"node": 1, "room": "Lab"}`, http.StatusBadRequest},
		{"half a point", `{"x": 1}`, http.StatusBadRequest},
		{"unknown field", `{"nodeId": 1}`, http.StatusBadRequest},
		{"not json", `node=1`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, out := do(t, http.MethodPost, ts.URL+"/api/destination", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.NotEmpty(t, out["error"])
		})
	}
}

func TestStats(t *testing.T) {
	srv, ts := newTestServer(t)
	resp, _ := do(t, http.MethodGet, ts.URL+"/api/stats", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	srv.Stats = func() any { return map[string]int{"queued": 4} }
	resp, out := do(t, http.MethodGet, ts.URL+"/api/stats", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 4, out["queued"])
}

func TestWebsocketStreamsUpdates(t *testing.T) {
	srv, ts := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first session.Update
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, srv.Session.ID(), first.Session)
	assert.Zero(t, first.Seq)

	require.Eventually(t, func() bool { return srv.Hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	_, err = srv.Session.SetDestinationNode(2)
	require.NoError(t, err)

	var next session.Update
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, uint64(1), next.Seq)
	require.NotNil(t, next.Goal)
	assert.Equal(t, 2, next.Goal.ID)
}

func TestWebsocketMissesNoUpdateAfterSnapshot(t *testing.T) {
	srv, ts := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	const n = 50
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < n; i++ {
			_, err := srv.Session.SetDestinationNode(2 + i%2)
			assert.NoError(t, err)
		}
	}()

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first session.Update
	require.NoError(t, conn.ReadJSON(&first))
	<-done

	seen := make(map[uint64]bool)
	for first.Seq < n && !seen[n] {
		var u session.Update
		require.NoError(t, conn.ReadJSON(&u))
		seen[u.Seq] = true
	}
	for seq := first.Seq + 1; seq <= n; seq++ {
		assert.True(t, seen[seq], "update %d after snapshot %d", seq, first.Seq)
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	srv, ts := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return srv.Hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	// never read: the send buffer and socket fill until the hub gives up
	big := []byte(`"` + strings.Repeat("x", 64*1024) + `"`)
	require.Eventually(t, func() bool {
		srv.Hub.Broadcast(big)
		return srv.Hub.ClientCount() == 0
	}, 10*time.Second, time.Millisecond)
}
