// Package ws is the streaming transport adapter: one authenticated
// websocket per client, turning an orchestrator streaming call into the
// ordered chat:* event sequence.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/eagleisbatman/farmerchat-server/internal/ai"
	"github.com/eagleisbatman/farmerchat-server/internal/auth"
	"github.com/eagleisbatman/farmerchat-server/internal/chat"
	"github.com/eagleisbatman/farmerchat-server/internal/models"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client-initiated events.
const (
	eventStream = "chat:stream"
	eventStop   = "chat:stop"
	eventTyping = "chat:typing"
	eventJoin   = "chat:join"
	eventLeave  = "chat:leave"
)

// Server-initiated events.
const (
	eventChunk    = "chat:chunk"
	eventComplete = "chat:complete"
	eventError    = "chat:error"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Streamer is the orchestrator surface the transport drives.
type Streamer interface {
	StreamMessage(ctx context.Context, req chat.Request, onChunk ai.ChunkFunc) (*chat.Reply, error)
}

type Handler struct {
	streamer Streamer
	profiles auth.ProfileLoader
	auth     auth.Authenticator
	hub      *hub
	logger   *zap.Logger
}

func NewHandler(streamer Streamer, profiles auth.ProfileLoader, authenticator auth.Authenticator, logger *zap.Logger) *Handler {
	return &Handler{
		streamer: streamer,
		profiles: profiles,
		auth:     authenticator,
		hub:      newHub(),
		logger:   logger,
	}
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type streamRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId"`
}

type conversationRef struct {
	ConversationID string `json:"conversationId"`
}

type chunkEvent struct {
	Content     string `json:"content"`
	ChunkNumber int    `json:"chunkNumber"`
	IsComplete  bool   `json:"isComplete"`
}

type completeEvent struct {
	ConversationID    string            `json:"conversationId"`
	Content           string            `json:"content"`
	FollowUpQuestions []models.FollowUp `json:"followUpQuestions"`
	Title             string            `json:"title,omitempty"`
	Usage             *ai.Usage         `json:"usage,omitempty"`
	TotalChunks       int               `json:"totalChunks"`
}

type typingEvent struct {
	ConversationID string `json:"conversationId,omitempty"`
	IsTyping       bool   `json:"isTyping"`
}

type errorEvent struct {
	Error string `json:"error"`
}

// conn is one authenticated connection. Writes are serialized by writeMu:
// gorilla connections do not tolerate concurrent writers.
type conn struct {
	ws      *websocket.Conn
	userID  string
	writeMu sync.Mutex

	turnMu sync.Mutex
	turn   *streamTurn
}

// streamTurn is the in-flight state of one streaming generation. It lives
// only for the duration of the turn.
type streamTurn struct {
	chunks     int
	suppressed atomic.Bool
}

func (c *conn) send(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(envelope{Event: event, Data: payload})
}

// ServeHTTP authenticates, upgrades, then services events until the
// connection closes. No chat event is processed without a resolved user.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	userID, err := h.auth.Verify(r.Context(), token)
	if err != nil {
		http.Error(w, "invalid or missing token", http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &conn{ws: ws, userID: userID}
	defer func() {
		h.hub.drop(c)
		ws.Close()
	}()

	h.logger.Info("websocket connected", zap.String("user", userID))

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket closed unexpectedly", zap.String("user", userID), zap.Error(err))
			}
			return
		}

		var msg envelope
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.send(eventError, errorEvent{Error: "invalid message format"})
			continue
		}

		switch msg.Event {
		case eventJoin:
			var ref conversationRef
			if err := json.Unmarshal(msg.Data, &ref); err == nil && ref.ConversationID != "" {
				h.hub.join(ref.ConversationID, c)
			}
		case eventLeave:
			var ref conversationRef
			if err := json.Unmarshal(msg.Data, &ref); err == nil && ref.ConversationID != "" {
				h.hub.leave(ref.ConversationID, c)
			}
		case eventTyping:
			var ev typingEvent
			if err := json.Unmarshal(msg.Data, &ev); err == nil && ev.ConversationID != "" {
				h.hub.broadcast(ev.ConversationID, c, eventTyping, ev)
			}
		case eventStop:
			c.turnMu.Lock()
			if c.turn != nil {
				c.turn.suppressed.Store(true)
			}
			c.turnMu.Unlock()
		case eventStream:
			var req streamRequest
			if err := json.Unmarshal(msg.Data, &req); err != nil || req.Message == "" {
				c.send(eventError, errorEvent{Error: "chat:stream requires a message"})
				continue
			}
			h.startTurn(r.Context(), c, req)
		default:
			c.send(eventError, errorEvent{Error: "unknown event: " + msg.Event})
		}
	}
}

// startTurn launches the streaming generation in its own goroutine so the
// read loop keeps servicing chat:stop for this connection.
func (h *Handler) startTurn(ctx context.Context, c *conn, req streamRequest) {
	c.turnMu.Lock()
	if c.turn != nil {
		c.turnMu.Unlock()
		c.send(eventError, errorEvent{Error: "a streaming turn is already in progress"})
		return
	}
	turn := &streamTurn{}
	c.turn = turn
	c.turnMu.Unlock()

	go func() {
		defer func() {
			c.turnMu.Lock()
			c.turn = nil
			c.turnMu.Unlock()
		}()
		h.runTurn(ctx, c, turn, req)
	}()
}

func (h *Handler) runTurn(ctx context.Context, c *conn, turn *streamTurn, req streamRequest) {
	c.send(eventTyping, typingEvent{ConversationID: req.ConversationID, IsTyping: true})

	profile, err := h.profiles.Profile(ctx, c.userID)
	if err != nil {
		h.logger.Warn("profile lookup failed, proceeding without one",
			zap.String("user", c.userID),
			zap.Error(err))
	}

	reply, err := h.streamer.StreamMessage(ctx, chat.Request{
		Message:        req.Message,
		ConversationID: req.ConversationID,
		UserID:         c.userID,
		Profile:        profile,
	}, func(chunk ai.Chunk) error {
		if chunk.Done || turn.suppressed.Load() {
			// A stop only suppresses emission; generation and persistence
			// run to completion.
			return nil
		}
		turn.chunks++
		return c.send(eventChunk, chunkEvent{
			Content:     chunk.Content,
			ChunkNumber: turn.chunks,
			IsComplete:  false,
		})
	})

	if turn.suppressed.Load() {
		return
	}

	c.send(eventTyping, typingEvent{ConversationID: req.ConversationID, IsTyping: false})

	if err != nil {
		h.logger.Error("streaming turn failed",
			zap.String("user", c.userID),
			zap.String("conversation", req.ConversationID),
			zap.Error(err))
		c.send(eventError, errorEvent{Error: err.Error()})
		return
	}

	c.send(eventComplete, completeEvent{
		ConversationID:    reply.ConversationID,
		Content:           reply.Content,
		FollowUpQuestions: reply.FollowUpQuestions,
		Title:             reply.Title,
		Usage:             reply.Usage,
		TotalChunks:       turn.chunks,
	})
}

func bearerToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	header := r.Header.Get("Authorization")
	return strings.TrimPrefix(header, "Bearer ")
}
