package ws

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/beamchat/internal/blob"
	"github.com/beamchat/internal/model"
	"github.com/beamchat/internal/repository"
)

type fakeChats struct {
	chats         map[string]*model.Chat
	members       map[string]map[string]bool
	lastMessage   map[string]string
	memberErr     error
	panicOnMember bool
}

func newFakeChats() *fakeChats {
	return &fakeChats{
		chats:       make(map[string]*model.Chat),
		members:     make(map[string]map[string]bool),
		lastMessage: make(map[string]string),
	}
}

func (f *fakeChats) addChat(chatID string, memberIDs ...string) {
	f.chats[chatID] = &model.Chat{ID: chatID, ChatType: model.ChatTypeGroup}
	f.members[chatID] = make(map[string]bool)
	for _, uid := range memberIDs {
		f.members[chatID][uid] = true
	}
}

func (f *fakeChats) GetByID(_ context.Context, id string) (*model.Chat, error) {
	c, ok := f.chats[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return c, nil
}

func (f *fakeChats) IsMember(_ context.Context, chatID, userID string) (bool, error) {
	if f.panicOnMember {
		panic("membership store blew up")
	}
	if f.memberErr != nil {
		return false, f.memberErr
	}
	return f.members[chatID][userID], nil
}

func (f *fakeChats) ChatIDsForUser(_ context.Context, userID string) ([]string, error) {
	var ids []string
	for chatID, members := range f.members {
		if members[userID] {
			ids = append(ids, chatID)
		}
	}
	return ids, nil
}

func (f *fakeChats) GetParticipants(_ context.Context, chatID string) ([]model.Participant, error) {
	var parts []model.Participant
	for uid := range f.members[chatID] {
		parts = append(parts, model.Participant{ChatID: chatID, UserID: uid, Role: model.RoleMember})
	}
	return parts, nil
}

func (f *fakeChats) SetLastMessage(_ context.Context, chatID, messageID string) error {
	f.lastMessage[chatID] = messageID
	return nil
}

type fakeMessages struct {
	created []*model.Message
	err     error
}

func (f *fakeMessages) Create(_ context.Context, m *model.Message) error {
	if f.err != nil {
		return f.err
	}
	f.created = append(f.created, m)
	return nil
}

type fakePresence struct {
	online map[string]bool
	calls  int
}

func (f *fakePresence) SetOnline(_ context.Context, userID string, online bool) error {
	if f.online == nil {
		f.online = make(map[string]bool)
	}
	f.online[userID] = online
	f.calls++
	return nil
}

type fakeUploader struct {
	url     string
	err     error
	uploads int
	profile blob.Profile
}

func (f *fakeUploader) Upload(_ context.Context, _ []byte, _ string, profile blob.Profile) (string, error) {
	f.uploads++
	f.profile = profile
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}

func newTestHub(chats *fakeChats, messages *fakeMessages, uploader *fakeUploader) (*Hub, *fakePresence) {
	presence := &fakePresence{}
	h := NewHub(chats, messages, presence, uploader, nil, 100, Tuning{})
	return h, presence
}

func newTestClient(h *Hub, userID string) *Client {
	return NewClient(h, nil, model.UserPublic{ID: userID, DisplayName: "name-" + userID})
}

// drain empties a client's send buffer and returns what was queued.
func drain(c *Client) []OutgoingFrame {
	var out []OutgoingFrame
	for {
		select {
		case f := <-c.send:
			out = append(out, f)
		default:
			return out
		}
	}
}

func framesOfType(frames []OutgoingFrame, t EventType) []OutgoingFrame {
	var out []OutgoingFrame
	for _, f := range frames {
		if f.Type == t {
			out = append(out, f)
		}
	}
	return out
}

func TestRegister_AutoJoinAndPresence(t *testing.T) {
	chats := newFakeChats()
	chats.addChat("chat-1", "u1", "u2")
	chats.addChat("chat-2", "u1")
	h, presence := newTestHub(chats, &fakeMessages{}, &fakeUploader{})

	c := newTestClient(h, "u1")
	h.addClient(c)

	h.mu.RLock()
	_, in1 := h.rooms["chat-1"][c]
	_, in2 := h.rooms["chat-2"][c]
	h.mu.RUnlock()
	require.True(t, in1, "must be auto-joined to chat-1")
	require.True(t, in2, "must be auto-joined to chat-2")
	require.True(t, presence.online["u1"])

	frames := framesOfType(drain(c), EventPresenceChanged)
	require.Len(t, frames, 1)
	require.Equal(t, []string{"u1"}, frames[0].Payload.(PresencePayload).UserIDs)
}

func TestMultiDevicePresence(t *testing.T) {
	chats := newFakeChats()
	h, presence := newTestHub(chats, &fakeMessages{}, &fakeUploader{})

	phone := newTestClient(h, "u1")
	laptop := newTestClient(h, "u1")
	h.addClient(phone)
	h.addClient(laptop)
	require.Equal(t, 1, presence.calls, "second device must not flip the online flag again")

	h.removeClient(phone)
	require.True(t, presence.online["u1"], "user stays online while a device remains")

	h.mu.RLock()
	_, stillThere := h.sessions["u1"]
	h.mu.RUnlock()
	require.True(t, stillThere)

	h.removeClient(laptop)
	require.False(t, presence.online["u1"], "last device dropping takes the user offline")

	// Both sessions saw the full presence list on each transition.
	frames := framesOfType(drain(laptop), EventPresenceChanged)
	require.NotEmpty(t, frames)
}

func TestJoinRoom_NotFound(t *testing.T) {
	chats := newFakeChats()
	h, _ := newTestHub(chats, &fakeMessages{}, &fakeUploader{})
	c := newTestClient(h, "u1")
	h.addClient(c)
	drain(c)

	h.HandleFrame(context.Background(), c, IncomingFrame{Type: EventJoinRoom, AckID: "a1", ChatID: "ghost"})

	frames := drain(c)
	require.Len(t, frames, 1)
	ack := frames[0].Payload.(AckPayload)
	require.Equal(t, "error", ack.Status)
	require.Equal(t, ReasonNotFound, ack.Reason)
}

func TestJoinRoom_NotAMember(t *testing.T) {
	chats := newFakeChats()
	chats.addChat("chat-1", "someone-else")
	h, _ := newTestHub(chats, &fakeMessages{}, &fakeUploader{})
	c := newTestClient(h, "u1")
	h.addClient(c)
	drain(c)

	h.HandleFrame(context.Background(), c, IncomingFrame{Type: EventJoinRoom, AckID: "a1", ChatID: "chat-1"})

	frames := drain(c)
	require.Len(t, frames, 1)
	ack := frames[0].Payload.(AckPayload)
	require.Equal(t, "error", ack.Status)
	require.Equal(t, ReasonNotAMember, ack.Reason)

	h.mu.RLock()
	_, subscribed := h.rooms["chat-1"][c]
	h.mu.RUnlock()
	require.False(t, subscribed, "a rejected join must not change subscriptions")
}

func TestJoinRoom_MembershipErrorFailsClosed(t *testing.T) {
	chats := newFakeChats()
	chats.addChat("chat-1", "u1")
	chats.memberErr = errors.New("connection reset")
	h, _ := newTestHub(chats, &fakeMessages{}, &fakeUploader{})
	c := newTestClient(h, "u1")

	h.HandleFrame(context.Background(), c, IncomingFrame{Type: EventJoinRoom, AckID: "a1", ChatID: "chat-1"})

	frames := drain(c)
	require.Len(t, frames, 1)
	ack := frames[0].Payload.(AckPayload)
	require.Equal(t, ReasonStoreUnavailable, ack.Reason)

	h.mu.RLock()
	_, subscribed := h.rooms["chat-1"][c]
	h.mu.RUnlock()
	require.False(t, subscribed)
}

func TestJoinRoom_BroadcastsMemberJoinedIncludingJoiner(t *testing.T) {
	chats := newFakeChats()
	chats.addChat("chat-1", "u1", "u2")
	h, _ := newTestHub(chats, &fakeMessages{}, &fakeUploader{})

	other := newTestClient(h, "u2")
	h.addClient(other)
	joiner := newTestClient(h, "u1")
	drain(other)

	h.HandleFrame(context.Background(), joiner, IncomingFrame{Type: EventJoinRoom, AckID: "a1", ChatID: "chat-1"})

	joinerFrames := drain(joiner)
	joined := framesOfType(joinerFrames, EventMemberJoined)
	require.Len(t, joined, 1, "the joiner hears its own member-joined")
	require.Equal(t, "u1", joined[0].Payload.(MemberPayload).UserID)

	acks := framesOfType(joinerFrames, EventAck)
	require.Len(t, acks, 1)
	require.Equal(t, "ok", acks[0].Payload.(AckPayload).Status)

	otherJoined := framesOfType(drain(other), EventMemberJoined)
	require.Len(t, otherJoined, 1)
}

func TestMessageRoundTrip(t *testing.T) {
	chats := newFakeChats()
	chats.addChat("chat-1", "u1", "u2")
	messages := &fakeMessages{}
	h, _ := newTestHub(chats, messages, &fakeUploader{})

	sender := newTestClient(h, "u1")
	receiver := newTestClient(h, "u2")
	h.addClient(sender)
	h.addClient(receiver)
	drain(sender)
	drain(receiver)

	h.HandleFrame(context.Background(), sender, IncomingFrame{
		Type: EventMessageCreate, AckID: "a1", ChatID: "chat-1", Text: "  hello  ",
	})

	require.Len(t, messages.created, 1, "exactly one persist")
	require.Equal(t, "hello", messages.created[0].Text)
	require.Equal(t, messages.created[0].ID, chats.lastMessage["chat-1"])

	senderFrames := drain(sender)
	acks := framesOfType(senderFrames, EventAck)
	require.Len(t, acks, 1, "exactly one ack")
	ack := acks[0].Payload.(AckPayload)
	require.Equal(t, "ok", ack.Status)
	require.Equal(t, "a1", acks[0].AckID)
	require.NotNil(t, ack.Message)

	// Both subscribers, sender included, get the broadcast.
	senderNew := framesOfType(senderFrames, EventMessageNew)
	require.Len(t, senderNew, 1)
	receiverNew := framesOfType(drain(receiver), EventMessageNew)
	require.Len(t, receiverNew, 1)

	got := receiverNew[0].Payload.(*model.Message)
	require.Equal(t, "hello", got.Text)
	require.NotNil(t, got.Sender, "broadcast carries the denormalized sender snapshot")
	require.Equal(t, "u1", got.Sender.ID)
}

func TestMessage_EmptyPayloadRejected(t *testing.T) {
	chats := newFakeChats()
	chats.addChat("chat-1", "u1", "u2")
	messages := &fakeMessages{}
	h, _ := newTestHub(chats, messages, &fakeUploader{})

	sender := newTestClient(h, "u1")
	receiver := newTestClient(h, "u2")
	h.addClient(sender)
	h.addClient(receiver)
	drain(sender)
	drain(receiver)

	h.HandleFrame(context.Background(), sender, IncomingFrame{
		Type: EventMessageCreate, AckID: "a1", ChatID: "chat-1", Text: "   ",
	})

	require.Empty(t, messages.created, "nothing persisted")
	require.Empty(t, drain(receiver), "nothing broadcast")

	frames := drain(sender)
	require.Len(t, frames, 1)
	require.Equal(t, ReasonInvalidPayload, frames[0].Payload.(AckPayload).Reason)
}

func TestMessage_NonMemberRejected(t *testing.T) {
	chats := newFakeChats()
	chats.addChat("chat-1", "u2")
	messages := &fakeMessages{}
	h, _ := newTestHub(chats, messages, &fakeUploader{})
	outsider := newTestClient(h, "u1")

	h.HandleFrame(context.Background(), outsider, IncomingFrame{
		Type: EventMessageCreate, AckID: "a1", ChatID: "chat-1", Text: "hi",
	})

	require.Empty(t, messages.created)
	frames := drain(outsider)
	require.Len(t, frames, 1)
	require.Equal(t, ReasonNotAMember, frames[0].Payload.(AckPayload).Reason)
}

func TestMessage_ImageUpload(t *testing.T) {
	chats := newFakeChats()
	chats.addChat("chat-1", "u1")
	messages := &fakeMessages{}
	uploader := &fakeUploader{url: "/blob/abc.png"}
	h, _ := newTestHub(chats, messages, uploader)
	sender := newTestClient(h, "u1")
	h.addClient(sender)
	drain(sender)

	h.HandleFrame(context.Background(), sender, IncomingFrame{
		Type: EventMessageCreate, AckID: "a1", ChatID: "chat-1",
		Image: &ImageUpload{Data: []byte{1, 2, 3}, ContentType: "image/png", Caption: "look"},
	})

	require.Equal(t, 1, uploader.uploads)
	require.Equal(t, blob.ProfileImage, uploader.profile)
	require.Len(t, messages.created, 1)
	require.Equal(t, "/blob/abc.png", messages.created[0].ImageURL)
	require.Equal(t, "look", messages.created[0].Text)
}

func TestMessage_AudioUploadFailure(t *testing.T) {
	chats := newFakeChats()
	chats.addChat("chat-1", "u1", "u2")
	messages := &fakeMessages{}
	uploader := &fakeUploader{err: errors.New("blob service down")}
	h, _ := newTestHub(chats, messages, uploader)

	sender := newTestClient(h, "u1")
	receiver := newTestClient(h, "u2")
	h.addClient(sender)
	h.addClient(receiver)
	drain(sender)
	drain(receiver)

	h.HandleFrame(context.Background(), sender, IncomingFrame{
		Type: EventMessageAudio, AckID: "a1", ChatID: "chat-1",
		Audio: &AudioUpload{Data: []byte{9, 9}, ContentType: "audio/webm"},
	})

	require.Empty(t, messages.created, "upload failure must not persist a message")
	require.Empty(t, drain(receiver), "upload failure reaches the sender only")

	frames := drain(sender)
	require.Len(t, frames, 1)
	require.Equal(t, ReasonUploadFailed, frames[0].Payload.(AckPayload).Reason)
}

func TestTyping_ExcludesSenderSessions(t *testing.T) {
	chats := newFakeChats()
	chats.addChat("chat-1", "u1", "u2")
	h, _ := newTestHub(chats, &fakeMessages{}, &fakeUploader{})

	phone := newTestClient(h, "u1")
	laptop := newTestClient(h, "u1")
	other := newTestClient(h, "u2")
	h.addClient(phone)
	h.addClient(laptop)
	h.addClient(other)
	drain(phone)
	drain(laptop)
	drain(other)

	h.HandleFrame(context.Background(), phone, IncomingFrame{Type: EventTyping, ChatID: "chat-1", Typing: true})

	require.Empty(t, drain(phone), "no ack and no self-echo for typing")
	require.Empty(t, drain(laptop), "exclusion is by user, not by connection")

	frames := drain(other)
	require.Len(t, frames, 1)
	require.Equal(t, EventTyping, frames[0].Type)
	payload := frames[0].Payload.(TypingPayload)
	require.Equal(t, "u1", payload.UserID)
	require.True(t, payload.Typing)
}

func TestTyping_RequiresSubscription(t *testing.T) {
	chats := newFakeChats()
	chats.addChat("chat-1", "u2")
	h, _ := newTestHub(chats, &fakeMessages{}, &fakeUploader{})

	member := newTestClient(h, "u2")
	h.addClient(member)
	outsider := newTestClient(h, "u1")
	drain(member)

	h.HandleFrame(context.Background(), outsider, IncomingFrame{Type: EventTyping, ChatID: "chat-1"})

	require.Empty(t, drain(member), "typing from an unsubscribed connection goes nowhere")
	require.Empty(t, drain(outsider))
}

func TestUnregister_CleansUpRooms(t *testing.T) {
	chats := newFakeChats()
	chats.addChat("chat-1", "u1", "u2")
	h, _ := newTestHub(chats, &fakeMessages{}, &fakeUploader{})

	c := newTestClient(h, "u1")
	h.addClient(c)
	h.removeClient(c)

	h.mu.RLock()
	_, inRoom := h.rooms["chat-1"][c]
	_, inSessions := h.sessions["u1"]
	h.mu.RUnlock()
	require.False(t, inRoom)
	require.False(t, inSessions)
}

func TestHandlerPanicBecomesInternalAck(t *testing.T) {
	chats := newFakeChats()
	chats.addChat("chat-1", "u1")
	chats.panicOnMember = true
	h, _ := newTestHub(chats, &fakeMessages{}, &fakeUploader{})
	c := newTestClient(h, "u1")

	h.HandleFrame(context.Background(), c, IncomingFrame{
		Type: EventMessageCreate, AckID: "a1", ChatID: "chat-1", Text: "hi",
	})

	frames := drain(c)
	require.Len(t, frames, 1)
	ack := frames[0].Payload.(AckPayload)
	require.Equal(t, "error", ack.Status)
	require.Equal(t, ReasonInternal, ack.Reason)
}

func TestUnknownFrameType(t *testing.T) {
	h, _ := newTestHub(newFakeChats(), &fakeMessages{}, &fakeUploader{})
	c := newTestClient(h, "u1")

	h.HandleFrame(context.Background(), c, IncomingFrame{Type: "reverse-the-polarity", AckID: "a1"})

	frames := drain(c)
	require.Len(t, frames, 1)
	require.Equal(t, ReasonInvalidPayload, frames[0].Payload.(AckPayload).Reason)
}
