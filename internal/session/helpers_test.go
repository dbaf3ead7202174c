package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/haasonsaas/proximo/internal/api"
	"github.com/haasonsaas/proximo/internal/auth"
	"github.com/haasonsaas/proximo/internal/backoff"
	"github.com/haasonsaas/proximo/internal/geolocation"
	"github.com/haasonsaas/proximo/internal/realtime"
	"github.com/haasonsaas/proximo/internal/realtime/realtimetest"
	"github.com/haasonsaas/proximo/internal/tracking"
	"github.com/haasonsaas/proximo/pkg/models"
)

const selfID = "me"

func strPtr(s string) *string { return &s }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func signToken(t *testing.T) string {
	t.Helper()
	claims := auth.Claims{
		Email: "me@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   selfID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

// backend is a scripted REST server. Unknown routes answer 404.
type backend struct {
	srv *httptest.Server

	mu     sync.Mutex
	routes map[string]http.HandlerFunc
	calls  []string
}

func newBackend(t *testing.T, token string) *backend {
	t.Helper()
	b := &backend{routes: make(map[string]http.HandlerFunc)}
	b.srv = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.srv.Close)

	b.handle("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, models.AuthResponse{
			User:        models.User{ID: selfID, Email: "me@example.com", Profile: &models.UserProfile{Name: "Eu"}},
			AccessToken: token,
		})
	})
	b.handle("GET /api/chat/conversations", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []models.Conversation{})
	})
	return b
}

func (b *backend) handle(route string, h http.HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.routes[route] = h
}

func (b *backend) serve(w http.ResponseWriter, r *http.Request) {
	key := r.Method + " " + r.URL.Path
	b.mu.Lock()
	b.calls = append(b.calls, key)
	h := b.routes[key]
	b.mu.Unlock()
	if h == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found"})
		return
	}
	h(w, r)
}

func (b *backend) count(route string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		if c == route {
			n++
		}
	}
	return n
}

type recordingNavigator struct {
	mu     sync.Mutex
	routes []string
}

func (n *recordingNavigator) Navigate(route string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.routes = append(n.routes, route)
}

func (n *recordingNavigator) last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.routes) == 0 {
		return ""
	}
	return n.routes[len(n.routes)-1]
}

type fixture struct {
	session  *Session
	backend  *backend
	ws       *realtimetest.Server
	nav      *recordingNavigator
	holder   *auth.Holder
	channels *realtime.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	token := signToken(t)
	ws := realtimetest.NewServer(token)
	t.Cleanup(ws.Close)
	b := newBackend(t, token)

	holder := auth.NewHolder()
	client := api.NewClient(api.Options{
		BaseURL: b.srv.URL + "/api",
		Retry:   backoff.Policy{Initial: time.Millisecond, Max: 2 * time.Millisecond, Factor: 2, MaxAttempts: 1},
	}, holder)
	channels := realtime.NewManager(realtime.Options{
		URL:              ws.URL(),
		HandshakeTimeout: 2 * time.Second,
		Reconnect:        backoff.Policy{Initial: 10 * time.Millisecond, Max: 20 * time.Millisecond, Factor: 2},
	}, holder)
	provider := geolocation.NewStaticProvider(models.Location{Latitude: -23.5505, Longitude: -46.6333, Accuracy: 5})
	provider.WatchInterval = time.Hour

	nav := &recordingNavigator{}
	s := New(Deps{
		API:      client,
		Auth:     holder,
		Channels: channels,
		Sampler:  geolocation.NewSampler(provider, nil),
	}, Options{
		Tracking: tracking.Options{
			Sampling: geolocation.Options{Timeout: time.Second, PollInterval: time.Hour, PollTimeout: time.Second},
		},
		TypingIdle: 50 * time.Millisecond,
		Navigator:  nav,
	})
	t.Cleanup(s.Logout)

	return &fixture{session: s, backend: b, ws: ws, nav: nav, holder: holder, channels: channels}
}

// login logs in and waits for the chat and groups sockets.
func (f *fixture) login(t *testing.T) {
	t.Helper()
	if err := f.session.Login(testContext(t), "me@example.com", "secret"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	for _, ns := range []realtime.Namespace{realtime.Chat, realtime.Groups} {
		if !f.ws.WaitConns(ns, 1, 2*time.Second) {
			t.Fatalf("%s channel not connected", ns)
		}
		ctx, cancel := context.WithTimeout(testContext(t), 2*time.Second)
		err := f.channels.Get(ns).WaitConnected(ctx)
		cancel()
		if err != nil {
			t.Fatalf("%s channel: %v", ns, err)
		}
	}
}

func (f *fixture) waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	if !f.ws.WaitFor(2*time.Second, cond) {
		t.Fatalf("timed out waiting for %s", what)
	}
}
