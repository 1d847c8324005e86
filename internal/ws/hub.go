package ws

import "sync"

// hub tracks conversation-scoped broadcast groups so typing signals reach
// other members of the same conversation.
type hub struct {
	mu    sync.Mutex
	rooms map[string]map[*conn]struct{}
}

func newHub() *hub {
	return &hub{rooms: make(map[string]map[*conn]struct{})}
}

func (h *hub) join(conversationID string, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[conversationID]
	if !ok {
		room = make(map[*conn]struct{})
		h.rooms[conversationID] = room
	}
	room[c] = struct{}{}
}

func (h *hub) leave(conversationID string, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[conversationID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, conversationID)
		}
	}
}

// drop removes a connection from every room on disconnect.
func (h *hub) drop(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, room := range h.rooms {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, id)
		}
	}
}

// broadcast sends an event to every room member except the sender.
func (h *hub) broadcast(conversationID string, sender *conn, event string, data any) {
	h.mu.Lock()
	members := make([]*conn, 0, len(h.rooms[conversationID]))
	for member := range h.rooms[conversationID] {
		if member != sender {
			members = append(members, member)
		}
	}
	h.mu.Unlock()

	for _, member := range members {
		member.send(event, data)
	}
}
