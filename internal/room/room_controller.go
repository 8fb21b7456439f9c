package room

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	echo "github.com/labstack/echo/v4"
	"github.com/roomloop/relay/internal/registry"
	"github.com/roomloop/relay/internal/signal"
	"github.com/roomloop/relay/pkg/protocol"
	"github.com/roomloop/relay/pkg/wsutils"
	"go.uber.org/fx"
)

type relayController struct {
	roomService  *RoomService
	registry     *registry.Registry
	relay        *signal.Relay
	roomNotifier *RoomNotifier
	upgrader     websocket.Upgrader
	logger       *slog.Logger
}

type registerRequest struct {
	Name string `json:"name"`
}

type createRoomRequest struct {
	Name string `json:"name"`
}

type joinRoomRequest struct {
	Code protocol.RoomCode `json:"code"`
	Name string            `json:"name"`
}

type chatMessageRequest struct {
	Code       protocol.RoomCode `json:"code"`
	Text       string            `json:"text,omitempty"`
	Attachment string            `json:"attachment,omitempty"`
	Audio      string            `json:"audio,omitempty"`
}

type editMessageRequest struct {
	Code protocol.RoomCode `json:"code"`
	ID   string            `json:"id"`
	Text string            `json:"text"`
}

type messageRefRequest struct {
	Code protocol.RoomCode `json:"code"`
	ID   string            `json:"id"`
}

type typingRequest struct {
	Code   protocol.RoomCode `json:"code"`
	Typing bool              `json:"typing"`
}

type changeBackgroundRequest struct {
	Code       protocol.RoomCode `json:"code"`
	Background string            `json:"background"`
}

type callEventRequest struct {
	Code         protocol.RoomCode `json:"code"`
	Participants []string          `json:"participants,omitempty"`
}

type roomCreatedResponse struct {
	Code protocol.RoomCode `json:"code"`
}

type roomJoinedResponse struct {
	Code protocol.RoomCode `json:"code"`
}

// wsError surfaces an operation failure to the offending connection only. No
// error here is fatal to the connection or the process.
func (ctrl *relayController) wsError(w *wsutils.ThreadSafeWriter, err error) {
	ctrl.logger.Debug(fmt.Sprintf("%s | Err: %s", w.Conn.RemoteAddr(), err))
	_ = w.WriteJSON(&protocol.Event{
		Event: "error",
		Data:  err.Error(),
	})
}

// RelayControllerAttach upgrades the connection and runs its event loop until
// the transport drops. Cleanup is synchronous: the room membership and the
// registry entry are gone before this returns.
func (ctrl *relayController) RelayControllerAttach(ctx echo.Context) error {
	conn, err := ctrl.upgrader.Upgrade(ctx.Response().Writer, ctx.Request(), nil)
	if err != nil {
		ctrl.logger.Error(fmt.Sprintf("Unable upgrade request %+v", ctx.Request()))
		return err
	}

	w := wsutils.NewThreadSafeWriter(conn)
	defer w.Close()

	connID := uuid.NewString()
	ctrl.registry.Attach(connID, w)
	defer func() {
		ctrl.roomService.LeaveRoom(context.Background(), connID)
		ctrl.registry.Detach(connID)
	}()

	ctrl.logger.Info("connection attached", slog.String("conn", connID))

	message := &protocol.Event{}
	for {
		if err := w.ReadJSON(message); err != nil {
			ctrl.logger.Info("connection detached",
				slog.String("conn", connID),
				slog.String("reason", err.Error()),
			)
			return nil
		}
		ctrl.dispatch(w, connID, message)
	}
}

func (ctrl *relayController) dispatch(w *wsutils.ThreadSafeWriter, connID protocol.ConnID, message *protocol.Event) {
	data := []byte(message.Data)

	switch message.Event {
	case "register":
		var req registerRequest
		if err := json.Unmarshal(data, &req); err != nil {
			ctrl.wsError(w, err)
			return
		}
		if req.Name == "" {
			ctrl.wsError(w, ErrDisplayNameEmpty)
			return
		}
		ctrl.registry.Register(connID, req.Name)

	case "create-room":
		var req createRoomRequest
		if err := json.Unmarshal(data, &req); err != nil {
			ctrl.wsError(w, err)
			return
		}
		name := ctrl.displayName(connID, req.Name)
		code, err := ctrl.roomService.CreateRoom(connID, name, w)
		if err != nil {
			ctrl.wsError(w, err)
			return
		}
		ctrl.registry.Register(connID, name)
		ctrl.reply(w, "room-created", roomCreatedResponse{Code: code})

	case "join-room":
		var req joinRoomRequest
		if err := json.Unmarshal(data, &req); err != nil {
			ctrl.wsError(w, err)
			return
		}
		name := ctrl.displayName(connID, req.Name)
		ctrl.registry.Register(connID, name)
		if err := ctrl.roomService.JoinRoom(context.Background(), req.Code, connID, name, w); err != nil {
			ctrl.wsError(w, err)
			return
		}
		ctrl.reply(w, "room-joined", roomJoinedResponse{Code: req.Code})

	case "chat-message":
		var req chatMessageRequest
		if err := json.Unmarshal(data, &req); err != nil {
			ctrl.wsError(w, err)
			return
		}
		name, ok := ctrl.registry.NameOf(connID)
		if !ok {
			ctrl.wsError(w, ErrDisplayNameEmpty)
			return
		}
		msg := NewMessage(name)
		msg.Text = req.Text
		msg.Attachment = req.Attachment
		msg.Audio = req.Audio
		if _, err := ctrl.roomService.RecordMessage(req.Code, connID, msg); err != nil {
			ctrl.wsError(w, err)
		}

	case "edit-message":
		var req editMessageRequest
		if err := json.Unmarshal(data, &req); err != nil {
			ctrl.wsError(w, err)
			return
		}
		if _, err := ctrl.roomService.EditMessage(req.Code, req.ID, req.Text); err != nil {
			ctrl.wsError(w, err)
		}

	case "delete-message":
		var req messageRefRequest
		if err := json.Unmarshal(data, &req); err != nil {
			ctrl.wsError(w, err)
			return
		}
		if err := ctrl.roomService.DeleteMessage(req.Code, req.ID); err != nil {
			ctrl.wsError(w, err)
		}

	case "like-message":
		var req messageRefRequest
		if err := json.Unmarshal(data, &req); err != nil {
			ctrl.wsError(w, err)
			return
		}
		name, ok := ctrl.registry.NameOf(connID)
		if !ok {
			ctrl.wsError(w, ErrDisplayNameEmpty)
			return
		}
		if err := ctrl.roomService.LikeMessage(req.Code, req.ID, name); err != nil {
			ctrl.wsError(w, err)
		}

	case "typing":
		var req typingRequest
		if err := json.Unmarshal(data, &req); err != nil {
			ctrl.wsError(w, err)
			return
		}
		name, ok := ctrl.registry.NameOf(connID)
		if !ok {
			return
		}
		_ = ctrl.roomService.Typing(req.Code, connID, name, req.Typing)

	case "change-background":
		var req changeBackgroundRequest
		if err := json.Unmarshal(data, &req); err != nil {
			ctrl.wsError(w, err)
			return
		}
		if err := ctrl.roomService.SetBackground(req.Code, req.Background); err != nil {
			ctrl.wsError(w, err)
		}

	case "call-request", "call-accepted", "call-rejected", "call-ended", "call-join", "call-leave":
		ctrl.dispatchCall(w, connID, message.Event, data)

	case signal.EventOffer, signal.EventAnswer, signal.EventCandidate:
		// Point-to-point negotiation bypasses room broadcast entirely.
		// Failures are silent drops; the relay already logged them.
		_ = ctrl.relay.Forward(connID, message.Event, data)

	default:
		ctrl.wsError(w, fmt.Errorf("unknown event %q", message.Event))
	}
}

func (ctrl *relayController) dispatchCall(w *wsutils.ThreadSafeWriter, connID protocol.ConnID, event string, data []byte) {
	var req callEventRequest
	if err := json.Unmarshal(data, &req); err != nil {
		ctrl.wsError(w, err)
		return
	}
	name, ok := ctrl.registry.NameOf(connID)
	if !ok {
		ctrl.wsError(w, ErrDisplayNameEmpty)
		return
	}

	var err error
	switch event {
	case "call-request":
		err = ctrl.roomService.CallRequest(req.Code, connID, name, req.Participants)
	case "call-accepted":
		err = ctrl.roomService.CallAccepted(req.Code, name)
	case "call-rejected":
		err = ctrl.roomService.CallRejected(req.Code, name)
	case "call-ended":
		err = ctrl.roomService.CallEnded(req.Code, name)
	case "call-join":
		err = ctrl.roomService.UserJoinedCall(req.Code, name)
	case "call-leave":
		err = ctrl.roomService.UserLeftCall(req.Code, name)
	}
	if err != nil {
		ctrl.wsError(w, err)
	}
}

// displayName prefers the name carried by the request, falling back to the
// registered one.
func (ctrl *relayController) displayName(connID protocol.ConnID, requested string) string {
	if requested != "" {
		return requested
	}
	name, _ := ctrl.registry.NameOf(connID)
	return name
}

func (ctrl *relayController) reply(w *wsutils.ThreadSafeWriter, event string, payload any) {
	if err := w.WriteEvent(event, payload); err != nil {
		ctrl.logger.Debug("direct reply failed", slog.String("event", event), slog.String("err", err.Error()))
	}
}

func (ctrl *relayController) RelayControllerRoomList(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, protocol.RoomListResponse{
		Rooms: ctrl.roomService.ListRoom(),
	})
}

// RelayControllerRoomNotifier holds a lobby connection open and pings it
// whenever the live room set changes.
func (ctrl *relayController) RelayControllerRoomNotifier(ctx echo.Context) error {
	conn, err := ctrl.upgrader.Upgrade(ctx.Response().Writer, ctx.Request(), nil)
	if err != nil {
		ctrl.logger.Error(fmt.Sprintf("Unable upgrade request %+v", ctx.Request()))
		return err
	}

	w := wsutils.NewThreadSafeWriter(conn)
	defer w.Close()

	id := uuid.NewString()
	ctrl.roomNotifier.Listen(id, w)
	defer ctrl.roomNotifier.Stop(id)

	<-ctx.Request().Context().Done()
	return ErrRoomCancelByUser
}

func (ctrl *relayController) Resolve(c *echo.Echo) error {
	go ctrl.roomNotifier.OnUpdateRooms(context.Background(), func(w protocol.EventWriter) {
		_ = w.WriteJSON(&protocol.Event{
			Event: "update-rooms",
			Data:  "",
		})
	})

	c.GET("/ws", ctrl.RelayControllerAttach)
	c.GET("/rooms", ctrl.RelayControllerRoomList)
	c.GET("/rooms/notifier", ctrl.RelayControllerRoomNotifier)
	return nil
}

var _ protocol.HttpResolvable = (*relayController)(nil)

type newRelayController_Params struct {
	fx.In

	RoomService  *RoomService
	Registry     *registry.Registry
	Relay        *signal.Relay
	RoomNotifier *RoomNotifier
	Logger       *slog.Logger
}

func NewRelayController(params newRelayController_Params) *relayController {
	return &relayController{
		roomService:  params.RoomService,
		registry:     params.Registry,
		relay:        params.Relay,
		roomNotifier: params.RoomNotifier,
		logger:       params.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}
