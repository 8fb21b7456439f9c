package room

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roomloop/relay/pkg/executils"
	"github.com/roomloop/relay/pkg/protocol"
	"github.com/roomloop/relay/pkg/variables"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"
)

const (
	// Unambiguous alphabet, no 0/O or 1/I/L. 31^6 codes keeps collision
	// probability negligible for the expected number of live rooms.
	roomCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	roomCodeLength   = 6

	broadcastParallelThreshold = 64
)

func generateRoomCode() (protocol.RoomCode, error) {
	buf := make([]byte, roomCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = roomCodeAlphabet[int(b)%len(roomCodeAlphabet)]
	}
	return string(buf), nil
}

type roomMember struct {
	connID protocol.ConnID
	name   string
	ws     protocol.EventWriter
}

type roomMemberInfo struct {
	ID   protocol.ConnID `json:"id"`
	Name string          `json:"name"`
}

// roomContext owns one room's members, history, background and call state
// under a single mutex, so events against the same room never interleave
// partially while independent rooms stay concurrent.
type roomContext struct {
	code protocol.RoomCode

	mu         sync.Mutex
	members    []*roomMember
	history    *history
	background string
	call       *callState
	// closed is set under mu when the last member leaves, before the room
	// drops out of the store. A joiner racing the destruction sees it and
	// backs out instead of appending itself to a condemned room.
	closed bool
}

func newRoomContext(code protocol.RoomCode, historyLimit, maxInlineBytes int) *roomContext {
	return &roomContext{
		code:    code,
		history: newHistory(historyLimit, maxInlineBytes),
		call:    newCallState(),
	}
}

func (r *roomContext) Info() protocol.RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	users := make([]string, 0, len(r.members))
	for _, m := range r.members {
		users = append(users, m.name)
	}
	return protocol.RoomInfo{
		Code:      r.code,
		Users:     users,
		CallPhase: string(r.call.phase),
	}
}

func (r *roomContext) memberInfos() []roomMemberInfo {
	infos := make([]roomMemberInfo, 0, len(r.members))
	for _, m := range r.members {
		infos = append(infos, roomMemberInfo{ID: m.connID, Name: m.name})
	}
	return infos
}

func (r *roomContext) hasMember(connID protocol.ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.members {
		if m.connID == connID {
			return true
		}
	}
	return false
}

// audience snapshots the member writers under the room lock so broadcasts
// happen outside the critical section.
func (r *roomContext) audience(except protocol.ConnID) []protocol.EventWriter {
	r.mu.Lock()
	defer r.mu.Unlock()

	writers := make([]protocol.EventWriter, 0, len(r.members))
	for _, m := range r.members {
		if m.connID == except {
			continue
		}
		writers = append(writers, m.ws)
	}
	return writers
}

// broadcast is fire-and-forget: a slow or gone member misses the event, no
// retry, no backpressure.
func (r *roomContext) broadcast(evt *protocol.Event, except protocol.ConnID) {
	executils.ParallelExec(r.audience(except), broadcastParallelThreshold, func(w protocol.EventWriter) {
		_ = w.WriteJSON(evt)
	})
}

// broadcastWait pushes an event to every member and waits for the writes to
// settle. Used for membership snapshots that order-sensitive clients key on.
func (r *roomContext) broadcastWait(ctx context.Context, evt *protocol.Event, except protocol.ConnID) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range r.audience(except) {
		w := w
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			return w.WriteJSON(evt)
		})
	}
	return g.Wait()
}

type RoomService struct {
	sync.Mutex

	logger         *slog.Logger
	roomContextMap map[protocol.RoomCode]*roomContext
	connRooms      map[protocol.ConnID]protocol.RoomCode
	roomNotifier   *RoomNotifier
	historyLimit   int
	maxInlineBytes int
	generateCode   func() (protocol.RoomCode, error)
}

type roomUsersPayload struct {
	Code  protocol.RoomCode `json:"code"`
	Users []roomMemberInfo  `json:"users"`
}

type messageDeletedPayload struct {
	ID     string `json:"id"`
	Sender string `json:"sender"`
}

type messageLikesPayload struct {
	ID    string   `json:"id"`
	Likes []string `json:"likes"`
}

type typingPayload struct {
	Name   string `json:"name"`
	Typing bool   `json:"typing"`
}

type backgroundPayload struct {
	Background string `json:"background"`
}

type callPayload struct {
	From string   `json:"from,omitempty"`
	Call CallInfo `json:"call"`
}

func mustEvent(event string, payload any) *protocol.Event {
	evt, err := protocol.NewEvent(event, payload)
	if err != nil {
		panic(err)
	}
	return evt
}

// GetRoom returns nil when the code has no live room.
func (s *RoomService) GetRoom(code protocol.RoomCode) *roomContext {
	s.Lock()
	defer s.Unlock()
	return s.roomContextMap[code]
}

// RoomOf resolves the room a connection currently belongs to.
func (s *RoomService) RoomOf(connID protocol.ConnID) (*roomContext, bool) {
	s.Lock()
	defer s.Unlock()
	code, ok := s.connRooms[connID]
	if !ok {
		return nil, false
	}
	room, ok := s.roomContextMap[code]
	return room, ok
}

func (s *RoomService) ListRoom() []protocol.RoomInfo {
	s.Lock()
	rooms := make([]*roomContext, 0, len(s.roomContextMap))
	for _, room := range s.roomContextMap {
		rooms = append(rooms, room)
	}
	s.Unlock()

	result := make([]protocol.RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		result = append(result, room.Info())
	}
	return result
}

// CreateRoom allocates a room with a collision-checked code and the creator
// as sole member. The creator receives a system-authored join message.
func (s *RoomService) CreateRoom(connID protocol.ConnID, name string, ws protocol.EventWriter) (protocol.RoomCode, error) {
	if name == "" {
		return "", ErrDisplayNameEmpty
	}

	// A connection holds at most one membership.
	if _, ok := s.RoomOf(connID); ok {
		s.LeaveRoom(context.Background(), connID)
	}

	s.Lock()
	var code protocol.RoomCode
	for {
		generated, err := s.generateCode()
		if err != nil {
			s.Unlock()
			return "", err
		}
		if _, exist := s.roomContextMap[generated]; !exist {
			code = generated
			break
		}
		s.logger.Warn("room code collision, regenerating", slog.String("code", generated))
	}

	room := newRoomContext(code, s.historyLimit, s.maxInlineBytes)
	room.members = append(room.members, &roomMember{connID: connID, name: name, ws: ws})
	s.roomContextMap[code] = room
	s.connRooms[connID] = code
	s.Unlock()

	joined := newSystemMessage(fmt.Sprintf("%s created the room", name))
	room.mu.Lock()
	_ = room.history.Append(joined)
	room.mu.Unlock()
	room.broadcast(mustEvent("chat-message", joined), "")
	s.roomNotifier.DispatchUpdateRooms()

	s.logger.Info("room created",
		slog.String("code", code),
		slog.String("creator", name),
	)
	return code, nil
}

// JoinRoom appends a member. The joiner alone receives the history snapshot
// and background, then the whole room (joiner included) gets the member list
// and a system join message.
func (s *RoomService) JoinRoom(ctx context.Context, code protocol.RoomCode, connID protocol.ConnID, name string, ws protocol.EventWriter) error {
	if name == "" {
		return ErrDisplayNameEmpty
	}

	// A connection holds at most one membership. Leaving the same room
	// first would tear it down when the joiner is its sole member.
	if current, ok := s.RoomOf(connID); ok {
		if current.code == code {
			return nil
		}
		s.LeaveRoom(ctx, connID)
	}

	s.Lock()
	room, exist := s.roomContextMap[code]
	if !exist {
		s.Unlock()
		return ErrRoomNotExist
	}
	s.connRooms[connID] = code
	s.Unlock()

	joined := newSystemMessage(fmt.Sprintf("%s joined the room", name))

	room.mu.Lock()
	if room.closed {
		// Lost the race against the last member's leave; the room is
		// already condemned and gone (or going) from the store.
		room.mu.Unlock()
		s.Lock()
		if s.connRooms[connID] == code {
			delete(s.connRooms, connID)
		}
		s.Unlock()
		return ErrRoomNotExist
	}
	room.members = append(room.members, &roomMember{connID: connID, name: name, ws: ws})
	snapshot := room.history.Snapshot()
	background := room.background
	_ = room.history.Append(joined)
	users := room.memberInfos()
	room.mu.Unlock()

	_ = ws.WriteJSON(mustEvent("room-history", snapshot))
	if background != "" {
		_ = ws.WriteJSON(mustEvent("background-changed", backgroundPayload{Background: background}))
	}

	if err := room.broadcastWait(ctx, mustEvent("room-users", roomUsersPayload{Code: code, Users: users}), ""); err != nil {
		s.logger.Warn("member list delivery incomplete", slog.String("code", code), slog.String("err", err.Error()))
	}
	room.broadcast(mustEvent("chat-message", joined), "")

	s.logger.Info("member joined", slog.String("code", code), slog.String("name", name))
	return nil
}

// LeaveRoom detaches the connection from its current room, if any. Emptying
// the member list destroys the room; this is the only destruction path.
func (s *RoomService) LeaveRoom(ctx context.Context, connID protocol.ConnID) {
	s.Lock()
	code, ok := s.connRooms[connID]
	if !ok {
		s.Unlock()
		return
	}
	delete(s.connRooms, connID)
	room, exist := s.roomContextMap[code]
	s.Unlock()
	if !exist {
		return
	}

	var name string
	room.mu.Lock()
	for i, m := range room.members {
		if m.connID == connID {
			name = m.name
			room.members = append(room.members[:i], room.members[i+1:]...)
			break
		}
	}
	empty := len(room.members) == 0
	if empty {
		room.closed = true
	}
	wasInCall := room.call.has(name)
	callInfo := room.call.Leave(name)
	users := room.memberInfos()
	var left *Message
	if !empty {
		left = newSystemMessage(fmt.Sprintf("%s left the room", name))
		_ = room.history.Append(left)
	}
	room.mu.Unlock()

	if empty {
		s.Lock()
		delete(s.roomContextMap, code)
		s.Unlock()
		s.roomNotifier.DispatchUpdateRooms()
		s.logger.Info("room destroyed", slog.String("code", code))
		return
	}

	if err := room.broadcastWait(ctx, mustEvent("room-users", roomUsersPayload{Code: code, Users: users}), ""); err != nil {
		s.logger.Warn("member list delivery incomplete", slog.String("code", code), slog.String("err", err.Error()))
	}
	room.broadcast(mustEvent("chat-message", left), "")
	if wasInCall {
		room.broadcast(mustEvent("call-users", callPayload{From: name, Call: callInfo}), "")
	}

	s.logger.Info("member left", slog.String("code", code), slog.String("name", name))
}

// RecordMessage validates, truncates, appends and fans the message out to
// everyone but the sender. Only current members may post.
func (s *RoomService) RecordMessage(code protocol.RoomCode, senderConn protocol.ConnID, msg *Message) (*Message, error) {
	room := s.GetRoom(code)
	if room == nil {
		return nil, ErrRoomNotExist
	}
	if !room.hasMember(senderConn) {
		return nil, ErrNotARoomMember
	}

	room.mu.Lock()
	err := room.history.Append(msg)
	room.mu.Unlock()
	if err != nil {
		return nil, err
	}

	room.broadcast(mustEvent("chat-message", msg), senderConn)
	return msg, nil
}

// EditMessage mutates the text in place and rebroadcasts the full message to
// the whole room.
func (s *RoomService) EditMessage(code protocol.RoomCode, messageID, newText string) (*Message, error) {
	room := s.GetRoom(code)
	if room == nil {
		return nil, ErrRoomNotExist
	}

	room.mu.Lock()
	msg, err := room.history.Edit(messageID, newText)
	room.mu.Unlock()
	if err != nil {
		return nil, err
	}

	room.broadcast(mustEvent("message-edited", msg), "")
	return msg, nil
}

// DeleteMessage drops the message and broadcasts a deletion notice carrying
// the id and original sender.
func (s *RoomService) DeleteMessage(code protocol.RoomCode, messageID string) error {
	room := s.GetRoom(code)
	if room == nil {
		return ErrRoomNotExist
	}

	room.mu.Lock()
	msg, err := room.history.Delete(messageID)
	room.mu.Unlock()
	if err != nil {
		return err
	}

	room.broadcast(mustEvent("message-deleted", messageDeletedPayload{ID: msg.ID, Sender: msg.Sender}), "")
	return nil
}

// LikeMessage toggles likerName in the message like set and broadcasts the
// updated set.
func (s *RoomService) LikeMessage(code protocol.RoomCode, messageID, likerName string) error {
	room := s.GetRoom(code)
	if room == nil {
		return ErrRoomNotExist
	}

	room.mu.Lock()
	msg, err := room.history.ToggleLike(messageID, likerName)
	room.mu.Unlock()
	if err != nil {
		return err
	}

	room.broadcast(mustEvent("message-likes", messageLikesPayload{ID: msg.ID, Likes: msg.Likes}), "")
	return nil
}

// Typing relays a typing indicator to the room excluding the sender. No state.
func (s *RoomService) Typing(code protocol.RoomCode, senderConn protocol.ConnID, name string, typing bool) error {
	room := s.GetRoom(code)
	if room == nil {
		return ErrRoomNotExist
	}
	if !room.hasMember(senderConn) {
		return ErrNotARoomMember
	}
	room.broadcast(mustEvent("typing", typingPayload{Name: name, Typing: typing}), senderConn)
	return nil
}

// SetBackground stores the shared background and broadcasts it to the entire
// room, sender included.
func (s *RoomService) SetBackground(code protocol.RoomCode, background string) error {
	room := s.GetRoom(code)
	if room == nil {
		return ErrRoomNotExist
	}

	room.mu.Lock()
	room.background = background
	room.mu.Unlock()

	room.broadcast(mustEvent("background-changed", backgroundPayload{Background: background}), "")
	return nil
}

func (s *RoomService) CallRequest(code protocol.RoomCode, initiatorConn protocol.ConnID, initiator string, participants []string) error {
	room := s.GetRoom(code)
	if room == nil {
		return ErrRoomNotExist
	}

	room.mu.Lock()
	info, err := room.call.Request(initiator, participants)
	room.mu.Unlock()
	if err != nil {
		return err
	}

	room.broadcast(mustEvent("call-request", callPayload{From: initiator, Call: info}), initiatorConn)
	return nil
}

func (s *RoomService) CallAccepted(code protocol.RoomCode, accepter string) error {
	room := s.GetRoom(code)
	if room == nil {
		return ErrRoomNotExist
	}

	room.mu.Lock()
	info, err := room.call.Accept(accepter)
	room.mu.Unlock()
	if err != nil {
		return err
	}

	room.broadcast(mustEvent("call-accepted", callPayload{From: accepter, Call: info}), "")
	return nil
}

func (s *RoomService) CallRejected(code protocol.RoomCode, rejecter string) error {
	room := s.GetRoom(code)
	if room == nil {
		return ErrRoomNotExist
	}

	room.mu.Lock()
	info := room.call.Reject(rejecter)
	room.mu.Unlock()

	room.broadcast(mustEvent("call-rejected", callPayload{From: rejecter, Call: info}), "")
	return nil
}

func (s *RoomService) CallEnded(code protocol.RoomCode, ender string) error {
	room := s.GetRoom(code)
	if room == nil {
		return ErrRoomNotExist
	}

	room.mu.Lock()
	info := room.call.End(ender)
	room.mu.Unlock()

	room.broadcast(mustEvent("call-ended", callPayload{From: ender, Call: info}), "")
	return nil
}

func (s *RoomService) UserJoinedCall(code protocol.RoomCode, name string) error {
	room := s.GetRoom(code)
	if room == nil {
		return ErrRoomNotExist
	}

	room.mu.Lock()
	info, err := room.call.Join(name)
	room.mu.Unlock()
	if err != nil {
		return err
	}

	room.broadcast(mustEvent("call-users", callPayload{From: name, Call: info}), "")
	return nil
}

func (s *RoomService) UserLeftCall(code protocol.RoomCode, name string) error {
	room := s.GetRoom(code)
	if room == nil {
		return ErrRoomNotExist
	}

	room.mu.Lock()
	info := room.call.Leave(name)
	room.mu.Unlock()

	room.broadcast(mustEvent("call-users", callPayload{From: name, Call: info}), "")
	return nil
}

type NewRoomServiceParams struct {
	fx.In

	Logger       *slog.Logger
	RoomNotifier *RoomNotifier
}

func NewRoomService(params NewRoomServiceParams) *RoomService {
	return &RoomService{
		logger:         params.Logger,
		roomContextMap: make(map[protocol.RoomCode]*roomContext),
		connRooms:      make(map[protocol.ConnID]protocol.RoomCode),
		roomNotifier:   params.RoomNotifier,
		historyLimit:   variables.EnvInt(variables.HISTORY_LIMIT_NAME, variables.HISTORY_LIMIT_DEFAULT),
		maxInlineBytes: variables.EnvInt(variables.MAX_INLINE_BYTES_NAME, variables.MAX_INLINE_BYTES_DEFAULT),
		generateCode:   generateRoomCode,
	}
}
