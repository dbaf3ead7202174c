package realtime_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/proximo/internal/backoff"
	"github.com/haasonsaas/proximo/internal/realtime"
	"github.com/haasonsaas/proximo/internal/realtime/realtimetest"
)

const testToken = "token-1"

func newManager(t *testing.T, url string, token *string) *realtime.Manager {
	t.Helper()
	var mu sync.Mutex
	m := realtime.NewManager(realtime.Options{
		URL:              url,
		HandshakeTimeout: 2 * time.Second,
		Reconnect: backoff.Policy{
			Initial: 10 * time.Millisecond,
			Max:     50 * time.Millisecond,
			Factor:  2,
		},
	}, realtime.TokenFunc(func() string {
		mu.Lock()
		defer mu.Unlock()
		return *token
	}))
	t.Cleanup(m.DisconnectAll)
	return m
}

func connect(t *testing.T, m *realtime.Manager, ns realtime.Namespace) *realtime.Conn {
	t.Helper()
	c, err := m.Connect(ns)
	if err != nil {
		t.Fatalf("Connect(%s) error = %v", ns, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.WaitConnected(ctx); err != nil {
		t.Fatalf("WaitConnected(%s) error = %v", ns, err)
	}
	return c
}

func TestManager_ConnectReusesLiveConnection(t *testing.T) {
	srv := realtimetest.NewServer(testToken)
	defer srv.Close()
	token := testToken
	m := newManager(t, srv.URL(), &token)

	first := connect(t, m, realtime.Chat)
	second, err := m.Connect(realtime.Chat)
	if err != nil {
		t.Fatalf("second Connect error = %v", err)
	}
	if first != second {
		t.Fatal("Connect created a second connection for a live channel")
	}
	if m.Get(realtime.Chat) != first {
		t.Error("Get returned a different connection")
	}
	if m.Get(realtime.Groups) != nil {
		t.Error("Get returned a connection for an unconnected channel")
	}
	if srv.Handshakes(realtime.Chat) != 1 {
		t.Errorf("handshakes = %d, want 1", srv.Handshakes(realtime.Chat))
	}
}

func TestManager_UnknownChannelAndMissingToken(t *testing.T) {
	token := ""
	m := newManager(t, "ws://127.0.0.1:1", &token)
	if _, err := m.Connect("presence"); !errors.Is(err, realtime.ErrUnknownChannel) {
		t.Errorf("Connect(presence) error = %v, want ErrUnknownChannel", err)
	}
	if _, err := m.Connect(realtime.Location); !errors.Is(err, realtime.ErrNoCredential) {
		t.Errorf("Connect without token error = %v, want ErrNoCredential", err)
	}
}

func TestManager_TokenCapturedAtConnect(t *testing.T) {
	srv := realtimetest.NewServer("")
	defer srv.Close()
	srv.SetAccept(func(string) bool { return true })

	token := "first"
	m := newManager(t, srv.URL(), &token)
	connect(t, m, realtime.Location)

	token = "second"
	srv.DropAll()
	if !srv.WaitFor(3*time.Second, func() bool { return srv.Handshakes(realtime.Location) >= 2 }) {
		t.Fatal("no reconnect handshake")
	}
	for _, got := range srv.Tokens() {
		if got != "first" {
			t.Fatalf("reconnect presented %q, want the token captured at connect", got)
		}
	}

	m.Disconnect(realtime.Location)
	connect(t, m, realtime.Location)
	tokens := srv.Tokens()
	if tokens[len(tokens)-1] != "second" {
		t.Errorf("new connection presented %q, want second", tokens[len(tokens)-1])
	}
}

func TestConn_ListenersSurviveReconnect(t *testing.T) {
	srv := realtimetest.NewServer(testToken)
	defer srv.Close()
	token := testToken
	m := newManager(t, srv.URL(), &token)

	c := connect(t, m, realtime.Chat)
	got := make(chan string, 4)
	c.On("newMessage", func(payload json.RawMessage) {
		var body struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(payload, &body)
		got <- body.ID
	})

	var states []realtime.State
	var mu sync.Mutex
	c.OnStateChange(func(s realtime.State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	srv.WaitConns(realtime.Chat, 1, 2*time.Second)
	srv.Push(realtime.Chat, "newMessage", map[string]string{"id": "m1"})
	if id := <-got; id != "m1" {
		t.Fatalf("got %q", id)
	}

	srv.DropAll()
	if !srv.WaitFor(3*time.Second, func() bool {
		return srv.Handshakes(realtime.Chat) >= 2 && srv.ConnCount(realtime.Chat) == 1
	}) {
		t.Fatal("channel did not reconnect")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.WaitConnected(ctx); err != nil {
		t.Fatal(err)
	}

	srv.Push(realtime.Chat, "newMessage", map[string]string{"id": "m2"})
	select {
	case id := <-got:
		if id != "m2" {
			t.Fatalf("got %q after reconnect", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("listener lost across reconnect")
	}
	select {
	case id := <-got:
		t.Fatalf("listener fired twice, extra %q", id)
	case <-time.After(50 * time.Millisecond):
	}

	mu.Lock()
	defer mu.Unlock()
	sawDisconnected, sawReconnecting := false, false
	for _, s := range states {
		switch s {
		case realtime.StateDisconnected:
			sawDisconnected = true
		case realtime.StateReconnecting:
			sawReconnecting = true
		}
	}
	if !sawDisconnected || !sawReconnecting {
		t.Errorf("states = %v, want disconnected and reconnecting", states)
	}
}

func TestConn_HandlersRunInDeliveryOrder(t *testing.T) {
	srv := realtimetest.NewServer(testToken)
	defer srv.Close()
	token := testToken
	m := newManager(t, srv.URL(), &token)
	c := connect(t, m, realtime.Location)
	srv.WaitConns(realtime.Location, 1, 2*time.Second)

	const n = 50
	got := make(chan int, n)
	c.On("tick", func(payload json.RawMessage) {
		var i int
		_ = json.Unmarshal(payload, &i)
		got <- i
	})
	for i := 0; i < n; i++ {
		srv.Push(realtime.Location, "tick", i)
	}
	for i := 0; i < n; i++ {
		select {
		case v := <-got:
			if v != i {
				t.Fatalf("event %d delivered as %d", i, v)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out at event %d", i)
		}
	}
}

func TestConn_EmitAndOff(t *testing.T) {
	srv := realtimetest.NewServer(testToken)
	defer srv.Close()
	token := testToken
	m := newManager(t, srv.URL(), &token)
	c := connect(t, m, realtime.Location)

	if err := c.Emit("updateLocation", map[string]float64{"latitude": 1, "longitude": 2}); err != nil {
		t.Fatalf("Emit error = %v", err)
	}
	events, ok := srv.WaitEvents(realtime.Location, "updateLocation", 1, 2*time.Second)
	if !ok {
		t.Fatal("server did not receive updateLocation")
	}
	var body map[string]float64
	if err := json.Unmarshal(events[0], &body); err != nil || body["latitude"] != 1 {
		t.Errorf("payload = %s", events[0])
	}

	calls := 0
	off := c.On("reencounters", func(json.RawMessage) { calls++ })
	off()
	off()
	c.On("userNearby", func(json.RawMessage) { calls++ })
	c.Off("userNearby")
	srv.Push(realtime.Location, "reencounters", []int{})
	srv.Push(realtime.Location, "userNearby", map[string]string{})
	time.Sleep(50 * time.Millisecond)
	if calls != 0 {
		t.Errorf("removed handlers fired %d times", calls)
	}
}

func TestConn_RejectedHandshakeIsTerminal(t *testing.T) {
	srv := realtimetest.NewServer(testToken)
	defer srv.Close()
	token := "wrong"
	m := newManager(t, srv.URL(), &token)

	c, err := m.Connect(realtime.Notifications)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err = c.WaitConnected(ctx)
	if !errors.Is(err, realtime.ErrClosed) {
		t.Fatalf("WaitConnected error = %v, want ErrClosed", err)
	}
	var rejected *realtime.RejectedError
	if !errors.As(c.Err(), &rejected) {
		t.Fatalf("Err() = %v, want RejectedError", c.Err())
	}
	if err := c.Emit("x", nil); !errors.Is(err, realtime.ErrClosed) {
		t.Errorf("Emit on closed = %v", err)
	}

	// A closed connection is replaced, not reused.
	token = testToken
	fresh := connect(t, m, realtime.Notifications)
	if fresh == c {
		t.Error("Connect reused a closed connection")
	}
}

func TestConn_EmitWhileDown(t *testing.T) {
	token := testToken
	m := newManager(t, "ws://127.0.0.1:1", &token)
	c, err := m.Connect(realtime.Groups)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Emit("joinGroup", map[string]string{"groupId": "g1"}); !errors.Is(err, realtime.ErrNotConnected) {
		t.Errorf("Emit error = %v, want ErrNotConnected", err)
	}
}

func TestManager_DisconnectAll(t *testing.T) {
	srv := realtimetest.NewServer(testToken)
	defer srv.Close()
	token := testToken
	m := newManager(t, srv.URL(), &token)

	conns := make([]*realtime.Conn, 0, 4)
	for _, ns := range realtime.Namespaces() {
		conns = append(conns, connect(t, m, ns))
	}
	m.DisconnectAll()
	m.DisconnectAll()

	for _, c := range conns {
		if c.State() != realtime.StateClosed {
			t.Errorf("%s state = %v, want closed", c.Namespace(), c.State())
		}
	}
	for _, ns := range realtime.Namespaces() {
		if m.Get(ns) != nil {
			t.Errorf("%s still registered", ns)
		}
		if !srv.WaitConns(ns, 0, 2*time.Second) {
			t.Errorf("%s still connected server-side", ns)
		}
	}
}

func TestConn_GivesUpAfterMaxAttempts(t *testing.T) {
	token := testToken
	m := realtime.NewManager(realtime.Options{
		URL:       "ws://127.0.0.1:1",
		Reconnect: backoff.Policy{Initial: time.Millisecond, Max: 2 * time.Millisecond, Factor: 2, MaxAttempts: 2},
	}, realtime.TokenFunc(func() string { return token }))
	defer m.DisconnectAll()

	c, err := m.Connect(realtime.Chat)
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-c.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("connection kept retrying past MaxAttempts")
	}
	if c.Err() == nil {
		t.Error("expected a close reason")
	}
}

func TestConn_DropsMalformedPayloads(t *testing.T) {
	srv := realtimetest.NewServer(testToken)
	defer srv.Close()
	token := testToken
	m := newManager(t, srv.URL(), &token)
	c := connect(t, m, realtime.Location)
	srv.WaitConns(realtime.Location, 1, 2*time.Second)

	got := make(chan json.RawMessage, 4)
	c.On("nearbyUsers", func(payload json.RawMessage) { got <- payload })

	srv.Push(realtime.Location, "nearbyUsers", map[string]int{"bad": 1})
	srv.Push(realtime.Location, "nearbyUsers", []map[string]any{{"userId": "u1", "distance": 3, "bearing": 90}})

	select {
	case payload := <-got:
		if !strings.Contains(string(payload), "u1") {
			t.Fatalf("malformed payload delivered: %s", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("valid payload not delivered")
	}
	select {
	case payload := <-got:
		t.Fatalf("unexpected extra delivery %s", payload)
	case <-time.After(50 * time.Millisecond):
	}
}
