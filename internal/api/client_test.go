package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haasonsaas/proximo/internal/backoff"
	"github.com/haasonsaas/proximo/pkg/models"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

type recordingObserver struct {
	calls atomic.Int32
	last  atomic.Value
}

func (o *recordingObserver) ObserveRequest(method, route string, status int, _ time.Duration) {
	o.calls.Add(1)
	o.last.Store(method + " " + route)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewClient(Options{
		BaseURL: srv.URL + "/api",
		Retry:   backoff.Policy{Initial: time.Millisecond, Max: 2 * time.Millisecond, Factor: 2, MaxAttempts: 3},
	}, staticToken("tok-1"))
	return client, srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClient_SendsBearerAndDecodes(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/me" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization = %q", got)
		}
		writeJSON(w, http.StatusOK, models.User{ID: "u1", Email: "a@b.c"})
	})

	user, err := client.Me(context.Background())
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if user.ID != "u1" || user.Email != "a@b.c" {
		t.Errorf("user = %+v", user)
	}
}

func TestClient_NoTokenSendsNoHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("Authorization = %q, want none", got)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "a@b.c" || body["password"] != "pw" {
			t.Errorf("body = %v", body)
		}
		writeJSON(w, http.StatusCreated, models.AuthResponse{AccessToken: "jwt", User: models.User{ID: "u1"}})
	}))
	defer srv.Close()

	client := NewClient(Options{BaseURL: srv.URL + "/api/"}, nil)
	resp, err := client.Login(context.Background(), "a@b.c", "pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if resp.AccessToken != "jwt" {
		t.Errorf("AccessToken = %q", resp.AccessToken)
	}
}

func TestClient_StatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		sentinel error
		code     ErrorCode
		message  string
	}{
		{"forbidden", http.StatusForbidden, `{"message":"fora do raio"}`, ErrOutOfRadius, ErrCodeOutOfRadius, "fora do raio"},
		{"not found", http.StatusNotFound, `{"message":"nope"}`, ErrNotFound, ErrCodeNotFound, "nope"},
		{"unauthorized", http.StatusUnauthorized, `{}`, ErrUnauthorized, ErrCodeUnauthorized, "{}"},
		{"validation list", http.StatusBadRequest, `{"message":["email inválido","senha curta"]}`, nil, ErrCodeBadRequest, "email inválido; senha curta"},
		{"plain text", http.StatusConflict, `already exists`, nil, ErrCodeConflict, "already exists"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			err := client.StartConversation(context.Background(), "u2")
			var apiErr *Error
			if !errors.As(err, &apiErr) {
				t.Fatalf("error = %v, want *Error", err)
			}
			if apiErr.Status != tt.status || apiErr.Code != tt.code {
				t.Errorf("status/code = %d/%s", apiErr.Status, apiErr.Code)
			}
			if apiErr.Message != tt.message {
				t.Errorf("message = %q, want %q", apiErr.Message, tt.message)
			}
			if apiErr.Path != "/chat/start/:userId" {
				t.Errorf("path = %q", apiErr.Path)
			}
			if tt.sentinel != nil && !errors.Is(err, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false", err, tt.sentinel)
			}
		})
	}
}

func TestClient_UnauthorizedHook(t *testing.T) {
	var hooked atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	client.SetOnUnauthorized(func() { hooked.Add(1) })

	if _, err := client.Me(context.Background()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("error = %v, want ErrUnauthorized", err)
	}
	if hooked.Load() != 1 {
		t.Errorf("hook called %d times, want 1 (no retry on 401)", hooked.Load())
	}
}

func TestClient_RetriesIdempotentReads(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, []models.NearbyUser{{UserID: "u2", Distance: 12}})
	})

	users, err := client.NearbyUsers(context.Background())
	if err != nil {
		t.Fatalf("NearbyUsers: %v", err)
	}
	if len(users) != 1 || users[0].UserID != "u2" {
		t.Errorf("users = %+v", users)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestClient_RetryExhaustedReturnsLastError(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.Conversations(context.Background())
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Code != ErrCodeServer {
		t.Fatalf("error = %v, want server *Error", err)
	}
	if errors.Is(err, backoff.ErrMaxAttemptsExhausted) {
		t.Errorf("retry bookkeeping leaked into %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestClient_DoesNotRetryWrites(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	content := "oi"
	_, err := client.SendMessage(context.Background(), models.SendMessageRequest{ReceiverID: "u2", Content: &content})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	})

	if _, err := client.Profile(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestClient_ObserverSeesRouteTemplate(t *testing.T) {
	obs := &recordingObserver{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, models.Group{ID: "g1"})
	}))
	defer srv.Close()
	client := NewClient(Options{BaseURL: srv.URL, Observer: obs}, nil)

	if _, err := client.Group(context.Background(), "g1"); err != nil {
		t.Fatalf("Group: %v", err)
	}
	if obs.calls.Load() != 1 {
		t.Fatalf("observer calls = %d", obs.calls.Load())
	}
	if got := obs.last.Load().(string); got != "GET /groups/:id" {
		t.Errorf("observed %q", got)
	}
}

func TestClient_EscapesPathSegments(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.EscapedPath() != "/api/profiles/a%2Fb" {
			t.Errorf("escaped path = %q", r.URL.EscapedPath())
		}
		writeJSON(w, http.StatusOK, models.Profile{ID: "p"})
	})
	if _, err := client.Profile(context.Background(), "a/b"); err != nil {
		t.Fatalf("Profile: %v", err)
	}
}

func TestClient_GroupMessagesQuery(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("limit") != "20" || q.Get("before") != "m9" {
			t.Errorf("query = %v", q)
		}
		writeJSON(w, http.StatusOK, []models.Message{{ID: "m1"}, {ID: "m2"}})
	})

	msgs, err := client.GroupMessages(context.Background(), "g1", 20, "m9")
	if err != nil {
		t.Fatalf("GroupMessages: %v", err)
	}
	for _, m := range msgs {
		if m.GroupID != "g1" {
			t.Errorf("message %s GroupID = %q", m.ID, m.GroupID)
		}
	}
}

func TestClient_ToggleVisibility(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("method = %s", r.Method)
		}
		writeJSON(w, http.StatusOK, map[string]bool{"isVisible": true})
	})
	visible, err := client.ToggleVisibility(context.Background())
	if err != nil || !visible {
		t.Fatalf("ToggleVisibility = %v, %v", visible, err)
	}
}

func TestClient_ProfileByTokenShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"wrapped", `{"profile":{"id":"p1","name":"Ana"}}`},
		{"bare", `{"id":"p1","name":"Ana"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/proximity/profile/tk" {
					t.Errorf("path = %q", r.URL.Path)
				}
				_, _ = io.WriteString(w, tt.body)
			})
			p, err := client.ProfileByToken(context.Background(), "tk")
			if err != nil {
				t.Fatalf("ProfileByToken: %v", err)
			}
			if p.ID != "p1" || p.Name != "Ana" {
				t.Errorf("profile = %+v", p)
			}
		})
	}
}

func TestClient_ProximityTokenFillsTarget(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/proximity/token/u2" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		writeJSON(w, http.StatusCreated, map[string]string{"token": "tk"})
	})
	tok, err := client.ProximityToken(context.Background(), "u2")
	if err != nil {
		t.Fatalf("ProximityToken: %v", err)
	}
	if tok.Token != "tk" || tok.TargetUserID != "u2" {
		t.Errorf("token = %+v", tok)
	}
}

func TestClient_UploadMultipart(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if header.Filename != "foto.png" || string(data) != "PNGDATA" {
			t.Errorf("file %q = %q", header.Filename, data)
		}
		writeJSON(w, http.StatusCreated, models.UploadResult{URL: "/uploads/foto.png"})
	})

	url, err := client.UploadImage(context.Background(), "/tmp/foto.png", strings.NewReader("PNGDATA"))
	if err != nil {
		t.Fatalf("UploadImage: %v", err)
	}
	if url != "/uploads/foto.png" {
		t.Errorf("url = %q", url)
	}
}

func TestClient_NoContent(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/api/blocks/u2" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	})
	if err := client.UnblockUser(context.Background(), "u2"); err != nil {
		t.Fatalf("UnblockUser: %v", err)
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		fallback string
		want     string
	}{
		{"nil", nil, "x", ""},
		{"out of radius", &Error{Status: 403, Code: ErrCodeOutOfRadius, Message: "forbidden"}, "x", MessageOutOfRadius},
		{"not found", &Error{Status: 404, Code: ErrCodeNotFound}, "x", MessageNotFound},
		{"unauthorized", &Error{Status: 401, Code: ErrCodeUnauthorized}, "x", MessageUnauthorized},
		{"server message", &Error{Status: 400, Code: ErrCodeBadRequest, Message: "Email já cadastrado"}, "Erro ao criar conta", "Email já cadastrado"},
		{"no server message", &Error{Status: 500, Code: ErrCodeServer}, "Erro ao fazer login", "Erro ao fazer login"},
		{"transport", errors.New("dial tcp: refused"), "", MessageUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UserMessage(tt.err, tt.fallback); got != tt.want {
				t.Errorf("UserMessage = %q, want %q", got, tt.want)
			}
		})
	}
}
