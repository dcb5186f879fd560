package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/NickCoder1309/nexMeet-chat/internal/backend"
	"github.com/NickCoder1309/nexMeet-chat/internal/metrics"
	"github.com/NickCoder1309/nexMeet-chat/internal/models"
	"github.com/NickCoder1309/nexMeet-chat/internal/registry"
	"github.com/NickCoder1309/nexMeet-chat/internal/session"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxMessageSize  = 16384
	maxEventsPerSec = 20
	removeTimeout   = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

var allowedOrigins []string

func SetAllowedOrigins(origins []string) {
	allowedOrigins = make([]string, len(origins))
	for i, o := range origins {
		allowedOrigins[i] = strings.TrimSpace(o)
	}
}

func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if len(allowedOrigins) == 0 || origin == "" {
		return false
	}

	normalizedOrigin, ok := normalizeHTTPSOrigin(origin)
	if !ok {
		return false
	}

	for _, allowed := range allowedOrigins {
		if strings.EqualFold(strings.TrimSpace(allowed), normalizedOrigin) {
			return true
		}
	}
	return false
}

func normalizeHTTPSOrigin(origin string) (string, bool) {
	originURL, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || originURL.Scheme == "" || originURL.Host == "" {
		return "", false
	}
	if !strings.EqualFold(originURL.Scheme, "https") {
		return "", false
	}
	if (originURL.Path != "" && originURL.Path != "/") || originURL.RawQuery != "" || originURL.Fragment != "" || originURL.User != nil {
		return "", false
	}
	return "https://" + strings.ToLower(originURL.Host), true
}

// WSHandler owns the socket lifecycle: handshake auth, event dispatch, and
// the join/chat/leave flows against the registry and the meeting service.
// A nil Backend makes the registry the roster of record; a nil Verifier
// disables handshake authentication.
type WSHandler struct {
	Registry *registry.Registry
	Backend  *backend.Client
	Verifier *session.Verifier
	Capacity int
}

func NewWSHandler(reg *registry.Registry, be *backend.Client, verifier *session.Verifier, capacity int) *WSHandler {
	return &WSHandler{
		Registry: reg,
		Backend:  be,
		Verifier: verifier,
		Capacity: capacity,
	}
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	sess *session.Session
	send chan []byte

	// cancelled at teardown so in-flight meeting service calls die with
	// the connection
	ctx    context.Context
	cancel context.CancelFunc

	eventCount int
	lastReset  time.Time
}

func (c *wsClient) ConnID() string { return c.id }

// Deliver implements registry.Subscriber. It never blocks: a full send
// buffer means the consumer is not keeping up and the room drops it.
func (c *wsClient) Deliver(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func bearerToken(r *http.Request) string {
	hdr := r.Header.Get("Authorization")
	if strings.HasPrefix(hdr, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(hdr, "Bearer "))
	}
	return ""
}

func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Browsers cannot set headers on WebSocket handshakes, so the token may
	// arrive as a query parameter instead.
	token := bearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}

	var identity session.Identity
	if h.Verifier != nil {
		if token == "" {
			http.Error(w, "Not authenticated", http.StatusUnauthorized)
			return
		}
		id, err := h.Verifier.Verify(token)
		if err != nil {
			slog.Warn("WebSocket token verification failed", "error", err)
			http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}
		identity = id
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade error", "error", err)
		return
	}

	connID := uuid.New().String()
	sess := session.New(connID, token)
	if identity.UserID != "" {
		sess.BindIdentity(identity.UserID, identity.Email)
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &wsClient{
		id:        connID,
		conn:      conn,
		sess:      sess,
		send:      make(chan []byte, 256),
		ctx:       ctx,
		cancel:    cancel,
		lastReset: time.Now(),
	}

	metrics.ConnectionsTotal.Inc()
	metrics.ActiveConnections.Inc()
	slog.Info("WebSocket connected", "conn_id", connID, "user_id", sess.UserID())

	go h.writePump(client)
	h.readPump(client)
}

// readPump is the sole dispatcher for a connection's events, so handler
// bodies for one connection never run concurrently.
func (h *WSHandler) readPump(client *wsClient) {
	defer h.teardown(client)

	client.conn.SetReadLimit(maxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			break
		}

		if time.Since(client.lastReset) > time.Second {
			client.eventCount = 0
			client.lastReset = time.Now()
		}
		client.eventCount++
		if client.eventCount > maxEventsPerSec {
			slog.Warn("WebSocket rate budget exceeded", "conn_id", client.id, "user_id", client.sess.UserID())
			metrics.EventsIgnoredTotal.Inc()
			continue
		}

		var evt models.Event
		if err := json.Unmarshal(raw, &evt); err != nil {
			h.ignoreEvent(client, "", "malformed envelope")
			continue
		}

		switch evt.Name {
		case models.EventJoinMeet:
			metrics.EventsTotal.WithLabelValues(models.EventJoinMeet).Inc()
			h.handleJoin(client, evt.Data)
		case models.EventSendMessage:
			metrics.EventsTotal.WithLabelValues(models.EventSendMessage).Inc()
			h.handleChat(client, evt.Data)
		case models.EventLeaveMeet:
			metrics.EventsTotal.WithLabelValues(models.EventLeaveMeet).Inc()
			h.handleLeave(client)
		default:
			h.ignoreEvent(client, evt.Name, "unknown event")
		}
	}
}

func (h *WSHandler) teardown(client *wsClient) {
	client.sess.Close()
	client.cancel()

	if client.sess.MeetID() != "" {
		// Best-effort removal must survive the dying connection, so it runs
		// on its own short-lived context.
		ctx, cancel := context.WithTimeout(context.Background(), removeTimeout)
		h.leaveMeeting(client, ctx)
		cancel()
	}

	close(client.send)
	client.conn.Close()
	metrics.ActiveConnections.Dec()
	slog.Info("WebSocket disconnected", "conn_id", client.id, "user_id", client.sess.UserID())
}

func (h *WSHandler) ignoreEvent(client *wsClient, event, reason string) {
	metrics.EventsIgnoredTotal.Inc()
	slog.Debug("Ignoring event", "conn_id", client.id, "event", event, "reason", reason)
}

func (h *WSHandler) handleJoin(client *wsClient, data json.RawMessage) {
	var payload models.JoinPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		h.ignoreEvent(client, models.EventJoinMeet, "malformed payload")
		return
	}

	meetID := strings.TrimSpace(payload.MeetID)
	userID := client.sess.UserID()
	if userID == "" {
		userID = strings.TrimSpace(payload.UserID)
	}
	if meetID == "" || userID == "" {
		h.ignoreEvent(client, models.EventJoinMeet, "missing meetId or userId")
		return
	}

	if bound := client.sess.MeetID(); bound != "" && bound != meetID {
		h.sendError(client, models.EventJoinMeet, "already in a meeting")
		return
	}

	// Capacity gate before any mutation, so a full meeting is never touched.
	// A user who is already on the roster may always re-join.
	var occupancy int
	var member bool
	if h.Backend != nil {
		users, err := h.Backend.GetMeetingUsers(client.ctx, meetID, client.sess.Token)
		metrics.ObserveBackend(backend.OpGetMeetingUsers, err)
		if err != nil {
			h.sendBackendError(client, err, backend.OpGetMeetingUsers)
			return
		}
		occupancy = len(users)
		member = participantFor(users, userID) != nil
	} else {
		occupancy = h.Registry.Occupancy(meetID)
		member = h.Registry.Contains(meetID, userID)
	}
	if !member && occupancy >= h.Capacity {
		slog.Info("Meeting full, rejecting join", "meet_id", meetID, "user_id", userID, "occupancy", occupancy)
		h.sendEvent(client, models.EventMeetFull, nil)
		return
	}

	joining := models.Participant{UserID: userID, SocketID: client.id}

	var roster []models.Participant
	if h.Backend != nil {
		users, err := h.Backend.UpsertMeetingUser(client.ctx, meetID, joining, client.sess.Token)
		metrics.ObserveBackend(backend.OpUpsertMeetingUser, err)
		if err != nil {
			h.sendBackendError(client, err, backend.OpUpsertMeetingUser)
			return
		}
		roster = users
	}

	if client.sess.Closed() {
		// The connection died during the round trip; the reply must not
		// resurrect it in the room.
		slog.Debug("Dropping join completion for closed session", "conn_id", client.id, "meet_id", meetID)
		return
	}

	snapshot := h.Registry.Upsert(meetID, joining, client)
	if h.Backend == nil {
		roster = snapshot
	}
	if client.sess.UserID() == "" {
		client.sess.BindIdentity(userID, "")
	}
	client.sess.BindMeet(meetID)

	joined := participantFor(roster, userID)
	if joined == nil {
		joined = &joining
	}

	slog.Info("User joined meeting", "meet_id", meetID, "user_id", userID, "conn_id", client.id, "occupancy", len(roster))
	h.broadcastUsersOnline(meetID, roster, joined, nil)
}

func (h *WSHandler) handleChat(client *wsClient, data json.RawMessage) {
	var payload models.ChatPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		h.ignoreEvent(client, models.EventSendMessage, "malformed payload")
		return
	}

	meetID := client.sess.MeetID()
	message := strings.TrimSpace(payload.Message)
	if meetID == "" || message == "" {
		h.ignoreEvent(client, models.EventSendMessage, "no meeting bound or empty message")
		return
	}

	userID := client.sess.UserID()
	if payload.UserID != "" && payload.UserID != userID {
		slog.Warn("Chat message user mismatch", "meet_id", meetID, "conn_id", client.id, "claimed_user_id", payload.UserID, "user_id", userID)
		h.sendError(client, models.EventSendMessage, "userId does not match connection")
		return
	}

	// Client timestamps are taken at face value when parseable; everything
	// else gets the relay's receipt time.
	timestamp := time.Now().UTC().Format(time.RFC3339)
	if payload.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, payload.Timestamp); err == nil {
			timestamp = ts.UTC().Format(time.RFC3339)
		}
	}

	out, err := json.Marshal(models.ChatPayload{UserID: userID, Message: message, Timestamp: timestamp})
	if err != nil {
		slog.Warn("Failed to marshal chat payload", "meet_id", meetID, "error", err)
		return
	}

	slog.Debug("Relaying chat message", "meet_id", meetID, "user_id", userID)
	h.broadcastEvent(meetID, models.EventNewMessage, out)
}

func (h *WSHandler) handleLeave(client *wsClient) {
	if client.sess.MeetID() == "" {
		h.ignoreEvent(client, models.EventLeaveMeet, "no meeting bound")
		return
	}
	h.leaveMeeting(client, client.ctx)
}

// leaveMeeting is the shared exit flow for voluntary leaves and disconnects.
// It drops the roster entry and tells the meeting service, then notifies
// whoever is left in the room.
func (h *WSHandler) leaveMeeting(client *wsClient, ctx context.Context) {
	meetID := client.sess.MeetID()
	if meetID == "" {
		return
	}

	leaving, remaining, owned := h.Registry.Leave(meetID, client.id)
	client.sess.ClearMeet()
	if !owned {
		// The user rejoined from another connection; that entry must
		// survive this connection's exit untouched.
		slog.Debug("Leave without owned roster entry", "meet_id", meetID, "conn_id", client.id)
		return
	}

	roster := remaining
	if h.Backend != nil {
		users, err := h.Backend.RemoveMeetingUser(ctx, meetID, leaving.UserID, client.id, client.sess.Token)
		metrics.ObserveBackend(backend.OpRemoveMeetingUser, err)
		if err != nil {
			slog.Warn("Failed to remove user from meeting service", "meet_id", meetID, "user_id", leaving.UserID, "error", err)
		} else {
			roster = users
		}
	}

	slog.Info("User left meeting", "meet_id", meetID, "user_id", leaving.UserID, "conn_id", client.id)
	h.broadcastUsersOnline(meetID, roster, nil, leaving)
}

func (h *WSHandler) writePump(client *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := client.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) sendEvent(client *wsClient, name string, data any) {
	evt := models.Event{Name: name}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			slog.Warn("Failed to marshal event data", "event", name, "error", err)
			return
		}
		evt.Data = raw
	}

	frame, err := json.Marshal(evt)
	if err != nil {
		slog.Warn("Failed to marshal event", "event", name, "error", err)
		return
	}

	if !client.Deliver(frame) {
		slog.Warn("Dropping event for slow consumer", "conn_id", client.id, "event", name)
	}
}

func (h *WSHandler) sendError(client *wsClient, origin, message string) {
	h.sendEvent(client, models.EventError, models.ErrorPayload{Origin: origin, Message: message})
}

func (h *WSHandler) sendBackendError(client *wsClient, err error, fallbackOp string) {
	origin, message := fallbackOp, "meeting service request failed"
	var be *backend.Error
	if errors.As(err, &be) {
		origin, message = be.Op, be.Message
	}
	slog.Warn("Meeting service call failed", "conn_id", client.id, "origin", origin, "error", err)
	h.sendError(client, origin, message)
}

func (h *WSHandler) broadcastUsersOnline(meetID string, users []models.Participant, joining, leaving *models.Participant) {
	if users == nil {
		users = []models.Participant{}
	}
	payload, err := json.Marshal(models.UsersOnlinePayload{Users: users, Joining: joining, Leaving: leaving})
	if err != nil {
		slog.Warn("Failed to marshal presence payload", "meet_id", meetID, "error", err)
		return
	}
	h.broadcastEvent(meetID, models.EventUsersOnline, payload)
}

func (h *WSHandler) broadcastEvent(meetID, name string, data json.RawMessage) {
	frame, err := json.Marshal(models.Event{Name: name, Data: data})
	if err != nil {
		slog.Warn("Failed to marshal broadcast", "meet_id", meetID, "event", name, "error", err)
		return
	}
	h.Registry.Broadcast(meetID, frame)
	metrics.BroadcastsTotal.WithLabelValues(name).Inc()
}

func participantFor(users []models.Participant, userID string) *models.Participant {
	for i := range users {
		if users[i].UserID == userID {
			return &users[i]
		}
	}
	return nil
}
