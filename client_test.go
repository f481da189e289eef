package neohub

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type fakeHub struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader
	opened   chan *hubConn

	mu    sync.Mutex
	token string
}

type hubConn struct {
	conn   *websocket.Conn
	frames chan map[string]any
}

func newFakeHub(t *testing.T) *fakeHub {
	t.Helper()
	h := &fakeHub{opened: make(chan *hubConn, 8)}
	h.srv = httptest.NewServer(http.HandlerFunc(h.handle))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *fakeHub) setToken(token string) {
	h.mu.Lock()
	h.token = token
	h.mu.Unlock()
}

func (h *fakeHub) getToken() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.token
}

func (h *fakeHub) handle(w http.ResponseWriter, r *http.Request) {
	if token := h.getToken(); token != "" && r.Header.Get("Authorization") != "Bearer "+token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	hc := &hubConn{conn: conn, frames: make(chan map[string]any, 16)}
	h.opened <- hc
	for {
		var frame map[string]any
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		hc.frames <- frame
	}
}

func (h *fakeHub) client(t *testing.T) *Client {
	t.Helper()
	u, err := url.Parse(h.srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	cli := New(u.Hostname(), port, false, h.getToken())
	t.Cleanup(func() { _ = cli.Disconnect() })
	return cli
}

func (h *fakeHub) accept(t *testing.T) *hubConn {
	t.Helper()
	return recv(t, h.opened)
}

func (hc *hubConn) expectFrame(t *testing.T, typ string) map[string]any {
	t.Helper()
	frame := recv(t, hc.frames)
	require.Equal(t, typ, frame["type"])
	return frame
}

func (hc *hubConn) push(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, hc.conn.WriteJSON(v))
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		panic("unreachable")
	}
}

func testSessions() []Session {
	return []Session{{
		ID:   "abc123",
		Name: "Home",
		Partitions: []Partition{
			{Number: 1, Name: "Main floor", Status: StatusArmedAway},
			{Number: 2, Name: "Garage", Status: StatusDisarmed},
		},
		Zones: []Zone{
			{Number: 1, Name: "Front door", DeviceClass: DeviceClassDoor, Open: false, Partitions: []int{1}},
			{Number: 2, Name: "Hallway", DeviceClass: DeviceClassMotion, Open: true, Partitions: []int{1, 2}},
		},
	}}
}

// connects, serves the initial full state, and returns the hub side of
// the connection once the client has it applied.
func connect(t *testing.T, h *fakeHub, cli *Client) *hubConn {
	t.Helper()
	synced := make(chan State, 1)
	unregister := cli.OnFullState(func(s State) { synced <- s })
	defer unregister()

	require.NoError(t, cli.Connect(context.Background()))
	hc := h.accept(t)
	hc.expectFrame(t, msgGetFullState)
	hc.push(t, fullStateMessage{Type: msgFullState, Sessions: testSessions()})
	recv(t, synced)
	return hc
}

func TestConnect(t *testing.T) {
	h := newFakeHub(t)
	cli := h.client(t)

	connects := make(chan struct{}, 4)
	cli.OnConnect(func() { connects <- struct{}{} })

	connect(t, h, cli)
	recv(t, connects)

	require.True(t, cli.Connected())
	require.Equal(t, StateConnected, cli.ConnState())
	select {
	case <-connects:
		t.Fatal("connect callback fired more than once")
	case <-time.After(100 * time.Millisecond):
	}

	state := cli.State()
	require.Len(t, state, 1)
	sess, ok := state.Session("abc123")
	require.True(t, ok)
	require.Equal(t, "Home", sess.Name)
	part, ok := state.Partition("abc123", 1)
	require.True(t, ok)
	require.Equal(t, StatusArmedAway, part.Status)
	zone, ok := state.Zone("abc123", 2)
	require.True(t, ok)
	require.True(t, zone.Open)
	require.Equal(t, []int{1, 2}, zone.Partitions)
}

func TestConnectIdempotent(t *testing.T) {
	h := newFakeHub(t)
	cli := h.client(t)

	connect(t, h, cli)
	require.NoError(t, cli.Connect(context.Background()))

	select {
	case <-h.opened:
		t.Fatal("second Connect opened a second transport")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConnectBadToken(t *testing.T) {
	h := newFakeHub(t)
	h.setToken("s3cret")
	u, err := url.Parse(h.srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	cli := New(u.Hostname(), port, false, "wrong")
	err = cli.Connect(context.Background())
	require.ErrorIs(t, err, ErrInvalidToken)
	require.False(t, cli.Connected())
}

func TestConnectRefused(t *testing.T) {
	cli := New("127.0.0.1", 1, false, "")
	err := cli.Connect(context.Background())
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrInvalidToken)
	require.Equal(t, StateDisconnected, cli.ConnState())
}

func TestPartitionUpdate(t *testing.T) {
	h := newFakeHub(t)
	cli := h.client(t)

	updates := make(chan PartitionUpdate, 4)
	cli.OnPartitionUpdate(func(up PartitionUpdate) { updates <- up })

	hc := connect(t, h, cli)

	up := PartitionUpdate{SessionID: "abc123", PartitionNumber: 1, Status: StatusDisarmed}
	hc.push(t, partitionUpdateMessage{Type: msgPartitionUpdate, PartitionUpdate: up})
	require.Equal(t, up, recv(t, updates))

	part, ok := cli.State().Partition("abc123", 1)
	require.True(t, ok)
	require.Equal(t, StatusDisarmed, part.Status)

	// the rest of the session is untouched
	zone, ok := cli.State().Zone("abc123", 1)
	require.True(t, ok)
	require.False(t, zone.Open)

	// applying the same update again changes nothing
	hc.push(t, partitionUpdateMessage{Type: msgPartitionUpdate, PartitionUpdate: up})
	recv(t, updates)
	again, _ := cli.State().Partition("abc123", 1)
	require.Equal(t, part, again)
}

func TestZoneUpdate(t *testing.T) {
	h := newFakeHub(t)
	cli := h.client(t)

	updates := make(chan ZoneUpdate, 4)
	cli.OnZoneUpdate(func(up ZoneUpdate) { updates <- up })

	hc := connect(t, h, cli)

	hc.push(t, zoneUpdateMessage{
		Type:       msgZoneUpdate,
		ZoneUpdate: ZoneUpdate{SessionID: "abc123", ZoneNumber: 1, Open: true},
	})
	recv(t, updates)

	zone, ok := cli.State().Zone("abc123", 1)
	require.True(t, ok)
	require.True(t, zone.Open)
}

func TestZoneUpdateUnknownZone(t *testing.T) {
	h := newFakeHub(t)
	cli := h.client(t)

	updates := make(chan ZoneUpdate, 4)
	cli.OnZoneUpdate(func(up ZoneUpdate) { updates <- up })

	hc := connect(t, h, cli)
	before := cli.State()

	hc.push(t, zoneUpdateMessage{
		Type:       msgZoneUpdate,
		ZoneUpdate: ZoneUpdate{SessionID: "abc123", ZoneNumber: 99, Open: true},
	})
	recv(t, updates)

	require.Equal(t, before, cli.State())
}

func TestFullStateReplaces(t *testing.T) {
	h := newFakeHub(t)
	cli := h.client(t)

	hc := connect(t, h, cli)

	// registered after the initial sync, so the next event is the push below
	synced := make(chan State, 4)
	cli.OnFullState(func(s State) { synced <- s })

	hc.push(t, fullStateMessage{Type: msgFullState, Sessions: []Session{{
		ID:         "def456",
		Name:       "Office",
		Partitions: []Partition{{Number: 1, Name: "All", Status: StatusDisarmed}},
	}}})
	state := recv(t, synced)

	require.Len(t, state, 1)
	_, ok := state.Session("abc123")
	require.False(t, ok)
	_, ok = state.Session("def456")
	require.True(t, ok)
}

func TestErrorFrame(t *testing.T) {
	h := newFakeHub(t)
	cli := h.client(t)

	errs := make(chan string, 4)
	cli.OnError(func(msg string) { errs <- msg })

	hc := connect(t, h, cli)
	before := cli.State()

	hc.push(t, errorMessage{Type: msgError, Message: "invalid code"})
	require.Equal(t, "invalid code", recv(t, errs))
	require.Equal(t, before, cli.State())
}

func TestUnknownFrameIgnored(t *testing.T) {
	h := newFakeHub(t)
	cli := h.client(t)

	hc := connect(t, h, cli)
	hc.push(t, map[string]any{"type": "battery_update", "level": 42})

	// connection stays usable
	up := PartitionUpdate{SessionID: "abc123", PartitionNumber: 2, Status: StatusArmedStay}
	updates := make(chan PartitionUpdate, 1)
	cli.OnPartitionUpdate(func(u PartitionUpdate) { updates <- u })
	hc.push(t, partitionUpdateMessage{Type: msgPartitionUpdate, PartitionUpdate: up})
	require.Equal(t, up, recv(t, updates))
}

func TestCommands(t *testing.T) {
	h := newFakeHub(t)
	cli := h.client(t)
	hc := connect(t, h, cli)

	require.NoError(t, cli.ArmAway("abc123", 1, "1234"))
	frame := hc.expectFrame(t, msgArmAway)
	require.Equal(t, "abc123", frame["session_id"])
	require.Equal(t, float64(1), frame["partition_number"])
	require.Equal(t, "1234", frame["code"])

	// no code means an explicit null, never an empty string
	require.NoError(t, cli.Disarm("abc123", 2, ""))
	frame = hc.expectFrame(t, msgDisarm)
	code, ok := frame["code"]
	require.True(t, ok)
	require.Nil(t, code)

	require.NoError(t, cli.ArmHome("abc123", 1, ""))
	hc.expectFrame(t, msgArmHome)
	require.NoError(t, cli.ArmNight("abc123", 1, ""))
	hc.expectFrame(t, msgArmNight)
}

func TestCommandNotConnected(t *testing.T) {
	cli := New("127.0.0.1", 1, false, "")
	err := cli.ArmAway("abc123", 1, "1234")
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestCommandUnknownTarget(t *testing.T) {
	h := newFakeHub(t)
	cli := h.client(t)
	hc := connect(t, h, cli)

	require.ErrorIs(t, cli.ArmAway("abc123", 9, ""), ErrNotFound)
	require.ErrorIs(t, cli.ArmAway("nope", 1, ""), ErrNotFound)
	require.Error(t, cli.ArmAway("", 1, ""))
	require.Error(t, cli.ArmAway("abc123", 0, ""))

	select {
	case frame := <-hc.frames:
		t.Fatalf("unexpected frame: %v", frame)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReconnect(t *testing.T) {
	h := newFakeHub(t)
	cli := h.client(t)
	cli.bo.InitialInterval = 10 * time.Millisecond
	cli.bo.MaxInterval = 50 * time.Millisecond

	connects := make(chan struct{}, 4)
	disconnects := make(chan struct{}, 4)
	cli.OnConnect(func() { connects <- struct{}{} })
	cli.OnDisconnect(func() { disconnects <- struct{}{} })

	hc := connect(t, h, cli)
	recv(t, connects)

	_ = hc.conn.Close()
	recv(t, disconnects)

	hc2 := h.accept(t)
	hc2.expectFrame(t, msgGetFullState)
	hc2.push(t, fullStateMessage{Type: msgFullState, Sessions: testSessions()})
	recv(t, connects)

	require.Eventually(t, cli.Connected, 3*time.Second, 10*time.Millisecond)
	_, ok := cli.State().Session("abc123")
	require.True(t, ok)
}

func TestReconnectAuthGiveUp(t *testing.T) {
	h := newFakeHub(t)
	cli := h.client(t)

	attempts := make(chan time.Duration, 8)
	cli.after = func(d time.Duration) <-chan time.Time {
		attempts <- d
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}

	hc := connect(t, h, cli)

	// the hub starts demanding a token the client does not have
	h.setToken("s3cret")
	_ = hc.conn.Close()

	require.Eventually(t, func() bool {
		return cli.ConnState() == StateDisconnected
	}, 3*time.Second, 10*time.Millisecond)

	for i := 0; i < maxAuthRetries; i++ {
		recv(t, attempts)
	}
	select {
	case <-attempts:
		t.Fatal("kept retrying after giving up")
	case <-time.After(100 * time.Millisecond):
	}

	// fixing the token and reconnecting by hand works
	h.setToken("")
	connect(t, h, cli)
	require.True(t, cli.Connected())
}

func TestDisconnectDuringConnect(t *testing.T) {
	// a listener that accepts but never answers the upgrade
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	stop := make(chan struct{})
	t.Cleanup(func() {
		close(stop)
		_ = ln.Close()
	})
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		<-stop
		_ = conn.Close()
	}()

	cli := New("127.0.0.1", ln.Addr().(*net.TCPAddr).Port, false, "")
	cli.dialer.HandshakeTimeout = 300 * time.Millisecond
	errs := make(chan error, 1)
	go func() { errs <- cli.Connect(context.Background()) }()

	require.Eventually(t, func() bool {
		return cli.ConnState() == StateConnecting
	}, 3*time.Second, time.Millisecond)
	require.NoError(t, cli.Disconnect())

	require.Error(t, recv(t, errs))
	require.False(t, cli.Connected())
	require.Equal(t, StateClosed, cli.ConnState())
}

func TestDisconnect(t *testing.T) {
	h := newFakeHub(t)
	cli := h.client(t)
	hc := connect(t, h, cli)

	require.NoError(t, cli.Disconnect())
	require.NoError(t, cli.Disconnect())
	require.False(t, cli.Connected())
	require.Equal(t, StateClosed, cli.ConnState())

	// the old transport is gone for good
	_ = hc.conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := hc.conn.ReadMessage()
	require.Error(t, err)

	// and a new Connect opens exactly one new one
	connect(t, h, cli)
	require.True(t, cli.Connected())
	select {
	case <-h.opened:
		t.Fatal("more than one transport opened")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDisconnectFromCallback(t *testing.T) {
	h := newFakeHub(t)
	cli := h.client(t)

	done := make(chan struct{})
	cli.OnPartitionUpdate(func(PartitionUpdate) {
		_ = cli.Disconnect()
		close(done)
	})

	hc := connect(t, h, cli)
	hc.push(t, partitionUpdateMessage{
		Type:            msgPartitionUpdate,
		PartitionUpdate: PartitionUpdate{SessionID: "abc123", PartitionNumber: 1, Status: StatusDisarmed},
	})
	recv(t, done)
	require.Eventually(t, func() bool { return !cli.Connected() }, 3*time.Second, 10*time.Millisecond)
}

func TestBackoffDelays(t *testing.T) {
	h := newFakeHub(t)
	cli := h.client(t)
	cli.bo.InitialInterval = 100 * time.Millisecond
	cli.bo.MaxInterval = 400 * time.Millisecond
	cli.stableAfter = time.Hour

	delays := make(chan time.Duration, 64)
	cli.after = func(d time.Duration) <-chan time.Time {
		select {
		case delays <- d:
		default:
		}
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}

	hc := connect(t, h, cli)
	h.srv.Close() // every reconnect attempt now fails
	_ = hc.conn.Close()

	var got []time.Duration
	for len(got) < 5 {
		got = append(got, recv(t, delays))
	}
	require.NoError(t, cli.Disconnect())

	require.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		400 * time.Millisecond,
		400 * time.Millisecond,
	}, got)
}

func TestBackoffResetAfterStableConnection(t *testing.T) {
	h := newFakeHub(t)
	cli := h.client(t)
	cli.bo.InitialInterval = 100 * time.Millisecond
	cli.bo.MaxInterval = 400 * time.Millisecond
	cli.stableAfter = time.Hour

	delays := make(chan time.Duration, 64)
	cli.after = func(d time.Duration) <-chan time.Time {
		select {
		case delays <- d:
		default:
		}
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}

	reconnected := func() *hubConn {
		t.Helper()
		hc := h.accept(t)
		hc.expectFrame(t, msgGetFullState)
		hc.push(t, fullStateMessage{Type: msgFullState, Sessions: testSessions()})
		return hc
	}

	// short-lived connections keep the delay growing
	hc := connect(t, h, cli)
	_ = hc.conn.Close()
	require.Equal(t, 100*time.Millisecond, recv(t, delays))
	hc = reconnected()
	_ = hc.conn.Close()
	require.Equal(t, 200*time.Millisecond, recv(t, delays))
	hc = reconnected()

	// a stable connected period brings the delay back to base
	cli.mu.Lock()
	cli.stableAfter = 0
	cli.mu.Unlock()
	_ = hc.conn.Close()
	require.Equal(t, 100*time.Millisecond, recv(t, delays))
	reconnected()
}
