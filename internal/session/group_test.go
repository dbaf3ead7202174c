package session

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/haasonsaas/proximo/internal/realtime"
	"github.com/haasonsaas/proximo/pkg/models"
)

func serveGroup(f *fixture, g models.Group, history []models.Message) {
	f.backend.handle("GET /api/groups/"+g.ID, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, g)
	})
	f.backend.handle("GET /api/groups/"+g.ID+"/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "50" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, history)
	})
}

func testGroup() models.Group {
	return models.Group{
		ID:          "g1",
		Name:        "Praça",
		MemberCount: 99,
		Members:     []models.GroupMember{{UserID: selfID}, {UserID: "u2", Name: "Ana"}},
	}
}

func openGroup(t *testing.T, f *fixture) *GroupRoom {
	t.Helper()
	serveGroup(f, testGroup(), []models.Message{peerMessage("h1", "u2", "bem-vindo")})
	room, err := f.session.OpenGroup(testContext(t), "g1")
	if err != nil {
		t.Fatalf("OpenGroup: %v", err)
	}
	return room
}

func groupPush(msg models.Message, groupID string) models.GroupMessageEvent {
	return models.GroupMessageEvent{GroupID: groupID, Message: msg}
}

func TestGroupRoom_OpenJoinsRoom(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	room := openGroup(t, f)

	g, ok := room.Group()
	if !ok || g.MemberCount != 2 {
		t.Fatalf("group = %+v, %v", g, ok)
	}
	if msgs := room.Messages(); len(msgs) != 1 || msgs[0].ID != "h1" {
		t.Errorf("history = %+v", msgs)
	}
	events, ok := f.ws.WaitEvents(realtime.Groups, EventJoinGroup, 1, 2*time.Second)
	if !ok {
		t.Fatal("joinGroup not emitted")
	}
	var join models.JoinGroupEvent
	if err := json.Unmarshal(events[0], &join); err != nil || join.GroupID != "g1" {
		t.Errorf("joinGroup = %s", events[0])
	}
}

func TestGroupRoom_RejoinsAfterReconnect(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	openGroup(t, f)
	if _, ok := f.ws.WaitEvents(realtime.Groups, EventJoinGroup, 1, 2*time.Second); !ok {
		t.Fatal("joinGroup not emitted")
	}
	before := len(f.ws.Events(realtime.Groups, EventJoinGroup))

	f.ws.DropAll()
	if _, ok := f.ws.WaitEvents(realtime.Groups, EventJoinGroup, before+1, 3*time.Second); !ok {
		t.Fatal("room not rejoined after reconnect")
	}
}

func TestGroupRoom_MembershipEvents(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	room := openGroup(t, f)

	f.ws.Push(realtime.Groups, EventMemberJoined, models.MemberJoinedEvent{GroupID: "g2", Member: models.GroupMember{UserID: "x"}})
	f.ws.Push(realtime.Groups, EventMemberJoined, models.MemberJoinedEvent{GroupID: "g1", Member: models.GroupMember{UserID: "u3"}})
	f.ws.Push(realtime.Groups, EventMemberJoined, models.MemberJoinedEvent{GroupID: "g1", Member: models.GroupMember{UserID: "u3"}})
	f.waitFor(t, "member joined", func() bool {
		g, _ := room.Group()
		return g.HasMember("u3")
	})
	g, _ := room.Group()
	if g.MemberCount != 3 || len(g.Members) != 3 || g.HasMember("x") {
		t.Errorf("after joins: %+v", g)
	}

	f.ws.Push(realtime.Groups, EventMemberLeft, models.MemberLeftEvent{GroupID: "g1", UserID: "u2"})
	f.ws.Push(realtime.Groups, EventMemberLeft, models.MemberLeftEvent{GroupID: "g1", UserID: "nobody"})
	f.waitFor(t, "member left", func() bool {
		g, _ := room.Group()
		return !g.HasMember("u2")
	})
	g, _ = room.Group()
	if g.MemberCount != len(g.Members) || g.MemberCount != 2 {
		t.Errorf("after leave: %+v", g)
	}
}

func TestGroupRoom_InboundMessages(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	room := openGroup(t, f)

	anonymous := models.Message{ID: "m2", Content: strPtr("psiu"), Sender: models.Sender{}}
	empty := models.Message{ID: "m3", Sender: models.Sender{ID: strPtr("u2")}}
	f.ws.Push(realtime.Groups, EventNewGroupMessage, groupPush(peerMessage("h1", "u2", "bem-vindo"), "g1"))
	f.ws.Push(realtime.Groups, EventNewGroupMessage, groupPush(peerMessage("m1", "u2", "oi"), "g2"))
	f.ws.Push(realtime.Groups, EventNewGroupMessage, groupPush(empty, "g1"))
	f.ws.Push(realtime.Groups, EventNewGroupMessage, groupPush(anonymous, "g1"))
	f.ws.Push(realtime.Groups, EventNewGroupMessage, groupPush(anonymous, "g1"))
	// Sent from another device of the same account.
	f.ws.Push(realtime.Groups, EventNewGroupMessage, groupPush(peerMessage("m4", selfID, "voltei"), "g1"))

	f.waitFor(t, "group messages", func() bool { return len(room.Messages()) >= 3 })
	time.Sleep(30 * time.Millisecond)
	msgs := room.Messages()
	if len(msgs) != 3 || msgs[1].ID != "m2" || msgs[2].ID != "m4" {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[1].Sender.DisplayName() != models.AnonymousName || msgs[1].GroupID != "g1" || msgs[1].IsMine {
		t.Errorf("anonymous message = %+v", msgs[1])
	}
	if !msgs[2].IsMine {
		t.Errorf("own message from another device = %+v", msgs[2])
	}
}

func TestGroupRoom_Typing(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	room := openGroup(t, f)

	f.ws.Push(realtime.Groups, EventUserTyping, models.TypingEvent{GroupID: "g1", UserID: "u2", IsTyping: true})
	f.ws.Push(realtime.Groups, EventUserTyping, models.TypingEvent{GroupID: "g2", UserID: "u9", IsTyping: true})
	f.ws.Push(realtime.Groups, EventUserTyping, models.TypingEvent{GroupID: "g1", UserID: selfID, IsTyping: true})
	f.waitFor(t, "member typing", func() bool { return room.TypingCount() == 1 })
	time.Sleep(30 * time.Millisecond)
	if room.TypingCount() != 1 {
		t.Errorf("typing count = %d", room.TypingCount())
	}

	room.Typing()
	events, ok := f.ws.WaitEvents(realtime.Groups, EventTyping, 2, 2*time.Second)
	if !ok {
		t.Fatalf("typing events = %d", len(events))
	}
	var ev models.TypingEvent
	if err := json.Unmarshal(events[0], &ev); err != nil || ev.GroupID != "g1" || !ev.IsTyping {
		t.Errorf("first typing event = %s", events[0])
	}
}

func TestGroupRoom_SendResolvesOnceWhenEchoArrivesFirst(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	room := openGroup(t, f)
	f.backend.handle("POST /api/groups/g1/messages", func(w http.ResponseWriter, r *http.Request) {
		var req models.GroupSendRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		sent := peerMessage("m7", selfID, *req.Content)
		f.ws.Push(realtime.Groups, EventNewGroupMessage, groupPush(sent, "g1"))
		f.ws.WaitFor(time.Second, func() bool { return f.session.Groups.HasMessage("m7") })
		writeJSON(w, http.StatusCreated, sent)
	})

	msg, err := room.Send(testContext(t), "oi grupo")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.ID != "m7" || msg.Status != models.StatusSent {
		t.Errorf("sent = %+v", msg)
	}
	msgs := room.Messages()
	n := 0
	for _, m := range msgs {
		if m.ID == "m7" {
			n++
		}
		if m.Status == models.StatusPending {
			t.Errorf("pending message left behind: %+v", m)
		}
	}
	if n != 1 {
		t.Errorf("m7 appears %d times in %+v", n, msgs)
	}
	for _, m := range msgs {
		if m.ID == "m7" && (!m.IsMine || m.LocalID != msg.LocalID || m.Status != models.StatusSent) {
			t.Errorf("own message after echo = IsMine %v, LocalID %q, Status %s; want true, %q, sent", m.IsMine, m.LocalID, m.Status, msg.LocalID)
		}
	}
}

func TestGroupRoom_SendFailure(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	room := openGroup(t, f)
	f.backend.handle("POST /api/groups/g1/messages", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]string{"message": "Você não está mais próximo"})
	})

	msg, err := room.Send(testContext(t), "oi")
	if err == nil || msg.Status != models.StatusFailed {
		t.Fatalf("Send = %+v, %v", msg, err)
	}
	if f.nav.last() != "" {
		t.Errorf("send failure navigated to %q", f.nav.last())
	}
	msgs := room.Messages()
	if len(msgs) != 2 || msgs[1].Status != models.StatusFailed {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestGroupRoom_LeaveRemovesListeners(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.backend.handle("POST /api/groups/g1/leave", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	room := openGroup(t, f)

	if err := room.Leave(testContext(t)); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if f.session.Groups.CurrentGroupID() != "" {
		t.Error("group still open")
	}
	if _, err := room.Send(testContext(t), "oi"); !errors.Is(err, ErrRoomClosed) {
		t.Errorf("Send after Leave error = %v", err)
	}

	// Reopen a different group; late g1 events must not reach it.
	g2 := models.Group{ID: "g2", Members: []models.GroupMember{{UserID: selfID}}}
	serveGroup(f, g2, nil)
	other, err := f.session.OpenGroup(testContext(t), "g2")
	if err != nil {
		t.Fatal(err)
	}
	f.ws.Push(realtime.Groups, EventNewGroupMessage, groupPush(peerMessage("late", "u2", "oi"), "g1"))
	time.Sleep(50 * time.Millisecond)
	if len(other.Messages()) != 0 {
		t.Errorf("messages = %+v", other.Messages())
	}
}

func TestSession_JoinGroupToleratesMembership(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.backend.handle("POST /api/groups/g1/join", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]string{"message": "Already a member"})
	})
	serveGroup(f, testGroup(), nil)

	room, err := f.session.JoinGroup(testContext(t), "g1")
	if err != nil {
		t.Fatalf("JoinGroup: %v", err)
	}
	if room.GroupID() != "g1" {
		t.Errorf("room = %q", room.GroupID())
	}
}

func TestSession_JoinNearbyGroup(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.backend.handle("POST /api/groups/join/proximity", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, testGroup())
	})
	serveGroup(f, testGroup(), nil)

	room, err := f.session.JoinNearbyGroup(testContext(t))
	if err != nil {
		t.Fatalf("JoinNearbyGroup: %v", err)
	}
	if _, ok := room.Group(); !ok {
		t.Error("group not open")
	}
}
