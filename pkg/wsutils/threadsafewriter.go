package wsutils

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

type ThreadSafeWriter struct {
	*websocket.Conn
	sync.Mutex
}

func (t *ThreadSafeWriter) WriteJSON(val any) error {
	t.Lock()
	defer t.Unlock()

	return t.Conn.WriteJSON(val)
}

// WriteEvent marshals payload and writes it under the given event name using
// the shared {event,data} envelope.
func (t *ThreadSafeWriter) WriteEvent(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return t.WriteJSON(struct {
		Event string `json:"event"`
		Data  string `json:"data"`
	}{Event: event, Data: string(data)})
}

func (t *ThreadSafeWriter) Close() error {
	return t.Conn.Close()
}

func (t *ThreadSafeWriter) ReadJSON(val any) error {
	return t.Conn.ReadJSON(val)
}

func NewThreadSafeWriter(conn *websocket.Conn) *ThreadSafeWriter {
	return &ThreadSafeWriter{
		Conn: conn,
	}
}
