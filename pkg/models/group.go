package models

import "time"

// GroupMember is a participant of a proximity group.
type GroupMember struct {
	UserID   string    `json:"userId"`
	Name     string    `json:"name,omitempty"`
	PhotoURL *string   `json:"photoUrl,omitempty"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Group is a proximity-scoped group chat. MemberCount is derived from Members
// by the group store and must not be trusted from the wire.
type Group struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description *string       `json:"description,omitempty"`
	MemberCount int           `json:"memberCount"`
	Members     []GroupMember `json:"members"`
	Distance    *float64      `json:"distance,omitempty"`
}

// Clone returns a deep copy of the group.
func (g Group) Clone() Group {
	out := g
	out.Members = append([]GroupMember(nil), g.Members...)
	return out
}

// HasMember reports whether userID is in the member list.
func (g Group) HasMember(userID string) bool {
	for _, m := range g.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// GroupSummary is a nearby-group listing entry. The server does not send the
// member list here, so its MemberCount is informational.
type GroupSummary struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description *string  `json:"description,omitempty"`
	MemberCount int      `json:"memberCount"`
	Distance    *float64 `json:"distance,omitempty"`
}

// GroupMessageEvent is pushed on the groups channel as newGroupMessage.
type GroupMessageEvent struct {
	GroupID string  `json:"groupId"`
	Message Message `json:"message"`
}

// MemberJoinedEvent is pushed on the groups channel as memberJoined.
type MemberJoinedEvent struct {
	GroupID string      `json:"groupId"`
	Member  GroupMember `json:"member"`
}

// MemberLeftEvent is pushed on the groups channel as memberLeft.
type MemberLeftEvent struct {
	GroupID string `json:"groupId"`
	UserID  string `json:"userId"`
}

// JoinGroupEvent is emitted on the groups channel to subscribe to a room.
type JoinGroupEvent struct {
	GroupID string `json:"groupId"`
}

// GroupSendRequest is the body of POST /groups/:id/messages.
type GroupSendRequest struct {
	Content  *string `json:"content,omitempty"`
	ImageURL *string `json:"imageUrl,omitempty"`
}
