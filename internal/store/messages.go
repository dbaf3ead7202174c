package store

import "github.com/haasonsaas/proximo/pkg/models"

// messageLog is an insertion-ordered message sequence shared by the chat and
// group stores.
type messageLog []models.Message

func (l messageLog) clone() []models.Message {
	if l == nil {
		return []models.Message{}
	}
	out := make([]models.Message, len(l))
	copy(out, l)
	return out
}

func (l messageLog) indexByID(id string) int {
	if id == "" {
		return -1
	}
	for i := range l {
		if l[i].ID == id {
			return i
		}
	}
	return -1
}

func (l messageLog) indexByLocalID(localID string) int {
	if localID == "" {
		return -1
	}
	for i := range l {
		if l[i].LocalID == localID {
			return i
		}
	}
	return -1
}

// resolve replaces the optimistic entry with the server copy. When the push
// for the same message already landed, that copy is removed so the message
// keeps its optimistic position and local id.
func (l messageLog) resolve(localID string, server models.Message) (messageLog, bool) {
	i := l.indexByLocalID(localID)
	if i < 0 {
		return l, false
	}
	server.LocalID = localID
	server.Status = models.StatusSent
	server.IsMine = true
	l[i] = server
	if j := l.indexOther(server.ID, i); j >= 0 {
		l = append(l[:j:j], l[j+1:]...)
	}
	return l, true
}

// indexOther finds id anywhere in l except at skip.
func (l messageLog) indexOther(id string, skip int) int {
	if id == "" {
		return -1
	}
	for i := range l {
		if i != skip && l[i].ID == id {
			return i
		}
	}
	return -1
}

func (l messageLog) setStatus(localID string, status models.DeliveryStatus) bool {
	i := l.indexByLocalID(localID)
	if i < 0 || l[i].Status == models.StatusSent {
		return false
	}
	if l[i].Status == status {
		return false
	}
	l[i].Status = status
	return true
}

func (l messageLog) byLocalID(localID string) (models.Message, bool) {
	i := l.indexByLocalID(localID)
	if i < 0 {
		return models.Message{}, false
	}
	return l[i], true
}

func normalizeMessages(msgs []models.Message) messageLog {
	out := make(messageLog, len(msgs))
	copy(out, msgs)
	for i := range out {
		if out[i].Status == "" {
			out[i].Status = models.StatusSent
		}
	}
	return out
}
