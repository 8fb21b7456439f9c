package protocol

import (
	"encoding/json"

	echo "github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

type (
	RoomCode = string
	ConnID   = string
)

// Event is the wire envelope for every websocket exchange. Data carries a
// JSON document whose shape depends on Event.
type Event struct {
	Event string `json:"event"`
	Data  string `json:"data"`
}

func NewEvent(event string, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{Event: event, Data: string(data)}, nil
}

// EventWriter is the write side of a live connection. Implementations must be
// safe for concurrent use.
type EventWriter interface {
	WriteJSON(val any) error
}

// RoomInfo is the REST-facing view of a live room.
type RoomInfo struct {
	Code      RoomCode `json:"code"`
	Users     []string `json:"users"`
	CallPhase string   `json:"callPhase"`
}

type RoomListResponse struct {
	Rooms []RoomInfo `json:"rooms"`
}

const httpControllerTag = `group:"http.controller"`

type HttpRouter = *echo.Echo

// Help resolve http handler. It's needed for providing router into handler
type HttpResolvable interface {
	Resolve(HttpRouter) error
}

func AsHttpController(f any) any {
	return fx.Annotate(
		f,
		fx.As(new(HttpResolvable)),
		fx.ResultTags(httpControllerTag),
	)
}
