package room

import (
	"context"
	"sync"

	"github.com/roomloop/relay/pkg/executils"
	"github.com/roomloop/relay/pkg/protocol"
)

// RoomNotifier pushes an update ping to lobby listeners whenever the live
// room set changes, so clients can refresh the /rooms listing without
// polling.
type RoomNotifier struct {
	listenersMu sync.Mutex
	listeners   map[string]protocol.EventWriter
	updateCh    chan struct{}
}

func NewRoomNotifier() *RoomNotifier {
	return &RoomNotifier{
		listeners: make(map[string]protocol.EventWriter),
		updateCh:  make(chan struct{}, 1),
	}
}

func (n *RoomNotifier) Listen(id string, w protocol.EventWriter) {
	n.listenersMu.Lock()
	defer n.listenersMu.Unlock()
	n.listeners[id] = w
}

func (n *RoomNotifier) Stop(id string) {
	n.listenersMu.Lock()
	defer n.listenersMu.Unlock()
	delete(n.listeners, id)
}

// DispatchUpdateRooms is non-blocking; coalescing pending pings is fine since
// listeners re-fetch the listing anyway.
func (n *RoomNotifier) DispatchUpdateRooms() {
	select {
	case n.updateCh <- struct{}{}:
	default:
	}
}

func (n *RoomNotifier) snapshot() []protocol.EventWriter {
	n.listenersMu.Lock()
	defer n.listenersMu.Unlock()
	result := make([]protocol.EventWriter, 0, len(n.listeners))
	for _, listener := range n.listeners {
		result = append(result, listener)
	}
	return result
}

func (n *RoomNotifier) OnUpdateRooms(ctx context.Context, fn func(protocol.EventWriter)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.updateCh:
			executils.ParallelExec(n.snapshot(), broadcastParallelThreshold, fn)
		}
	}
}
