package ws

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/beamchat/internal/blob"
	"github.com/beamchat/internal/logger"
	"github.com/beamchat/internal/model"
	"github.com/beamchat/internal/repository"
)

// MembershipStore is the authority on conversation membership. The hub never
// caches its answers; every gate is a fresh call.
type MembershipStore interface {
	GetByID(ctx context.Context, id string) (*model.Chat, error)
	IsMember(ctx context.Context, chatID, userID string) (bool, error)
	ChatIDsForUser(ctx context.Context, userID string) ([]string, error)
	GetParticipants(ctx context.Context, chatID string) ([]model.Participant, error)
	SetLastMessage(ctx context.Context, chatID, messageID string) error
}

// MessageStore persists messages; persist always precedes broadcast.
type MessageStore interface {
	Create(ctx context.Context, m *model.Message) error
}

// PresenceStore flips the durable online flag.
type PresenceStore interface {
	SetOnline(ctx context.Context, userID string, online bool) error
}

// Uploader turns inline media bytes into a durable URL.
type Uploader interface {
	Upload(ctx context.Context, data []byte, contentType string, profile blob.Profile) (string, error)
}

// PushNotifier sends push notifications. Nil disables pushes.
type PushNotifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string)
}

// Hub owns the session registry (userID -> connections) and the room
// subscriptions (chatID -> connections) under one mutex. All store and blob
// I/O happens outside the lock.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*Client]struct{}
	rooms    map[string]map[*Client]struct{}
	total    int

	maxConns int
	tuning   Tuning

	chats    MembershipStore
	messages MessageStore
	users    PresenceStore
	uploader Uploader
	push     PushNotifier

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(
	chats MembershipStore,
	messages MessageStore,
	users PresenceStore,
	uploader Uploader,
	push PushNotifier,
	maxConns int,
	tuning Tuning,
) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		sessions:   make(map[string]map[*Client]struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
		maxConns:   maxConns,
		tuning:     tuning.withDefaults(),
		chats:      chats,
		messages:   messages,
		users:      users,
		uploader:   uploader,
		push:       push,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.sessions {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.sessions = make(map[string]map[*Client]struct{})
	h.rooms = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

// addClient registers a session, re-derives the user's room subscriptions
// from the membership store and announces presence to everyone.
func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.user.ID)
		c.Close()
		return
	}
	if _, ok := h.sessions[c.user.ID]; !ok {
		h.sessions[c.user.ID] = make(map[*Client]struct{})
	}
	h.sessions[c.user.ID][c] = struct{}{}
	h.total++
	firstSession := len(h.sessions[c.user.ID]) == 1
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Auto-join: membership is re-derived on every connect, never cached
	// from a previous session.
	chatIDs, err := h.chats.ChatIDsForUser(ctx, c.user.ID)
	if err != nil {
		logger.Errorf("ws auto-join user=%s: %v", c.user.ID, err)
	} else {
		h.mu.Lock()
		for _, chatID := range chatIDs {
			h.subscribeLocked(chatID, c)
		}
		h.mu.Unlock()
	}

	if firstSession {
		if err := h.users.SetOnline(ctx, c.user.ID, true); err != nil {
			logger.Errorf("ws set online user=%s: %v", c.user.ID, err)
		}
	}
	h.broadcastPresence()
}

// removeClient drops one session. Only the closing connection is removed;
// other devices of the same user stay registered and subscribed.
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.sessions[c.user.ID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	lastSession := len(clients) == 0
	if lastSession {
		delete(h.sessions, c.user.ID)
	}
	h.cleanupAllLocked(c)
	h.mu.Unlock()

	c.Close()

	if lastSession {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.users.SetOnline(ctx, c.user.ID, false); err != nil {
			logger.Errorf("ws set offline user=%s: %v", c.user.ID, err)
		}
	}
	h.broadcastPresence()
}

func (h *Hub) subscribeLocked(chatID string, c *Client) {
	if _, ok := h.rooms[chatID]; !ok {
		h.rooms[chatID] = make(map[*Client]struct{})
	}
	h.rooms[chatID][c] = struct{}{}
}

func (h *Hub) unsubscribeLocked(chatID string, c *Client) bool {
	room, ok := h.rooms[chatID]
	if !ok {
		return false
	}
	if _, exists := room[c]; !exists {
		return false
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, chatID)
	}
	return true
}

// cleanupAllLocked removes a connection from every room it sits in. This is
// the only reconciliation between the registry and the rooms; there is no
// cross-structure transaction.
func (h *Hub) cleanupAllLocked(c *Client) {
	for chatID, room := range h.rooms {
		if _, ok := room[c]; ok {
			delete(room, c)
			if len(room) == 0 {
				delete(h.rooms, chatID)
			}
		}
	}
}

// HandleFrame dispatches one incoming frame. A request frame gets exactly one
// ack; handler panics surface as internal error acks, never as lost requests.
func (h *Hub) HandleFrame(ctx context.Context, c *Client, frame IncomingFrame) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("ws handler panic user=%s type=%s: %v", c.user.ID, frame.Type, r)
			if frame.AckID != "" {
				h.sendToClient(c, ackError(frame.AckID, ReasonInternal))
			}
		}
	}()

	switch frame.Type {
	case EventJoinRoom:
		h.handleJoinRoom(ctx, c, frame)
	case EventLeaveRoom:
		h.handleLeaveRoom(c, frame)
	case EventTyping:
		h.handleTyping(c, frame)
	case EventMessageCreate, EventMessageAudio:
		h.handleMessage(ctx, c, frame)
	default:
		h.sendToClient(c, ackError(frame.AckID, ReasonInvalidPayload))
	}
}

// handleJoinRoom gates the subscription on current membership. A failed gate
// leaves the subscription set untouched.
func (h *Hub) handleJoinRoom(ctx context.Context, c *Client, frame IncomingFrame) {
	defer logger.DeferLogDuration("ws.handleJoinRoom", time.Now())()
	if frame.ChatID == "" {
		h.sendToClient(c, ackError(frame.AckID, ReasonInvalidPayload))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := h.chats.GetByID(ctx, frame.ChatID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			h.sendToClient(c, ackError(frame.AckID, ReasonNotFound))
			return
		}
		logger.Errorf("ws join chat=%s user=%s: %v", frame.ChatID, c.user.ID, err)
		h.sendToClient(c, ackError(frame.AckID, ReasonStoreUnavailable))
		return
	}

	isMember, err := h.chats.IsMember(ctx, frame.ChatID, c.user.ID)
	if err != nil {
		// Fail closed: a membership lookup error never grants a subscription.
		logger.Errorf("ws join membership chat=%s user=%s: %v", frame.ChatID, c.user.ID, err)
		h.sendToClient(c, ackError(frame.AckID, ReasonStoreUnavailable))
		return
	}
	if !isMember {
		h.sendToClient(c, ackError(frame.AckID, ReasonNotAMember))
		return
	}

	h.mu.Lock()
	h.subscribeLocked(frame.ChatID, c)
	h.mu.Unlock()

	// The joiner hears its own member-joined; clients use it as the join
	// confirmation signal alongside the ack.
	h.broadcastToRoom(frame.ChatID, OutgoingFrame{Type: EventMemberJoined, Payload: MemberPayload{
		ChatID:      frame.ChatID,
		UserID:      c.user.ID,
		DisplayName: c.user.DisplayName,
	}}, "")
	h.sendToClient(c, ackOK(frame.AckID, nil))
}

func (h *Hub) handleLeaveRoom(c *Client, frame IncomingFrame) {
	if frame.ChatID == "" {
		h.sendToClient(c, ackError(frame.AckID, ReasonInvalidPayload))
		return
	}

	h.mu.Lock()
	removed := h.unsubscribeLocked(frame.ChatID, c)
	h.mu.Unlock()

	if removed {
		h.broadcastToRoom(frame.ChatID, OutgoingFrame{Type: EventMemberLeft, Payload: MemberPayload{
			ChatID:      frame.ChatID,
			UserID:      c.user.ID,
			DisplayName: c.user.DisplayName,
		}}, "")
	}
	h.sendToClient(c, ackOK(frame.AckID, nil))
}

// handleTyping relays to the other subscribers of the room. Unpersisted, no
// ack, and an existing subscription is the only gate.
func (h *Hub) handleTyping(c *Client, frame IncomingFrame) {
	if frame.ChatID == "" {
		return
	}
	h.mu.RLock()
	_, subscribed := h.rooms[frame.ChatID][c]
	h.mu.RUnlock()
	if !subscribed {
		return
	}

	h.broadcastToRoom(frame.ChatID, OutgoingFrame{Type: EventTyping, Payload: TypingPayload{
		ChatID:      frame.ChatID,
		UserID:      c.user.ID,
		DisplayName: c.user.DisplayName,
		Typing:      frame.Typing,
	}}, c.user.ID)
}

// handleMessage runs the fanout pipeline: classify, gate on membership,
// upload media, persist, broadcast, ack. Order is fixed; a failure at any
// stage stops the pipeline and acks the stage's reason.
func (h *Hub) handleMessage(ctx context.Context, c *Client, frame IncomingFrame) {
	defer logger.DeferLogDuration("ws.handleMessage", time.Now())()
	if frame.ChatID == "" {
		h.sendToClient(c, ackError(frame.AckID, ReasonInvalidPayload))
		return
	}
	p, ok := classifyPayload(&frame)
	if !ok {
		h.sendToClient(c, ackError(frame.AckID, ReasonInvalidPayload))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	isMember, err := h.chats.IsMember(ctx, frame.ChatID, c.user.ID)
	if err != nil {
		logger.Errorf("ws message membership chat=%s user=%s: %v", frame.ChatID, c.user.ID, err)
		h.sendToClient(c, ackError(frame.AckID, ReasonStoreUnavailable))
		return
	}
	if !isMember {
		h.sendToClient(c, ackError(frame.AckID, ReasonNotAMember))
		return
	}

	now := time.Now().UTC()
	m := &model.Message{
		ID:        uuid.New().String(),
		ChatID:    frame.ChatID,
		SenderID:  c.user.ID,
		Status:    model.MessageStatusSent,
		CreatedAt: now,
	}

	switch p.kind {
	case payloadText:
		m.Text = p.text
	case payloadImage:
		url, err := h.uploader.Upload(ctx, p.data, p.contentType, blob.ProfileImage)
		if err != nil {
			// Upload failure reaches the sender only; nothing was persisted.
			logger.Errorf("ws image upload chat=%s user=%s: %v", frame.ChatID, c.user.ID, err)
			h.sendToClient(c, ackError(frame.AckID, ReasonUploadFailed))
			return
		}
		m.ImageURL = url
		m.Text = p.caption
	case payloadAudio:
		url, err := h.uploader.Upload(ctx, p.data, p.contentType, blob.ProfileVoice)
		if err != nil {
			logger.Errorf("ws audio upload chat=%s user=%s: %v", frame.ChatID, c.user.ID, err)
			h.sendToClient(c, ackError(frame.AckID, ReasonUploadFailed))
			return
		}
		m.AudioURL = url
	}

	if err := h.messages.Create(ctx, m); err != nil {
		logger.Errorf("ws save message chat=%s user=%s: %v", frame.ChatID, c.user.ID, err)
		h.sendToClient(c, ackError(frame.AckID, ReasonStoreUnavailable))
		return
	}
	if err := h.chats.SetLastMessage(ctx, frame.ChatID, m.ID); err != nil {
		logger.Errorf("ws set last message chat=%s: %v", frame.ChatID, err)
	}

	sender := c.user
	m.Sender = &sender

	h.broadcastToRoom(frame.ChatID, OutgoingFrame{Type: EventMessageNew, Payload: m}, "")
	h.sendToClient(c, ackOK(frame.AckID, m))

	h.notifyOffline(ctx, c, m)
}

// notifyOffline pushes to chat members with no live session anywhere.
func (h *Hub) notifyOffline(ctx context.Context, c *Client, m *model.Message) {
	if h.push == nil {
		return
	}
	parts, err := h.chats.GetParticipants(ctx, m.ChatID)
	if err != nil {
		logger.Errorf("ws push participants chat=%s: %v", m.ChatID, err)
		return
	}
	memberIDs := lo.Map(parts, func(p model.Participant, _ int) string { return p.UserID })

	h.mu.RLock()
	offline := lo.Filter(memberIDs, func(uid string, _ int) bool {
		_, online := h.sessions[uid]
		return !online && uid != c.user.ID
	})
	h.mu.RUnlock()

	if len(offline) == 0 {
		return
	}
	body := m.Text
	if body == "" {
		body = "Attachment"
	}
	if len(body) > 120 {
		body = body[:117] + "..."
	}
	data := map[string]string{"chat_id": m.ChatID, "message_id": m.ID}
	for _, uid := range offline {
		uid := uid
		go h.push.Notify(context.Background(), uid, c.user.DisplayName, body, data)
	}
}

// broadcastPresence sends the full active user-id list to every connected
// client. Full-list frames are idempotent, so ordering races between two
// presence changes resolve themselves on the next broadcast.
func (h *Hub) broadcastPresence() {
	h.mu.RLock()
	userIDs := lo.Keys(h.sessions)
	targets := make([]*Client, 0, h.total)
	for _, clients := range h.sessions {
		for c := range clients {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	sort.Strings(userIDs)
	frame := OutgoingFrame{Type: EventPresenceChanged, Payload: PresencePayload{UserIDs: userIDs}}
	for _, c := range targets {
		h.sendToClient(c, frame)
	}
}

// broadcastToRoom delivers to current room subscribers. The subscriber set is
// snapshotted under RLock; sends happen outside the lock.
func (h *Hub) broadcastToRoom(chatID string, frame OutgoingFrame, excludeUserID string) {
	h.mu.RLock()
	room := h.rooms[chatID]
	targets := make([]*Client, 0, len(room))
	for c := range room {
		if excludeUserID != "" && c.user.ID == excludeUserID {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, frame)
	}
}

func (h *Hub) sendToClient(c *Client, frame OutgoingFrame) {
	select {
	case c.send <- frame:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.user.ID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
