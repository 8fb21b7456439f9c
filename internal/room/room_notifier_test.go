package room

import (
	"context"
	"testing"
	"time"

	"github.com/roomloop/relay/pkg/protocol"
	"github.com/stretchr/testify/require"
)

func TestRoomNotifierPingsListeners(t *testing.T) {
	n := NewRoomNotifier()
	listener := &recordingWriter{}
	n.Listen("lobby-1", listener)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.OnUpdateRooms(ctx, func(w protocol.EventWriter) {
		_ = w.WriteJSON(&protocol.Event{Event: "update-rooms"})
	})

	n.DispatchUpdateRooms()
	require.Eventually(t, func() bool {
		return len(listener.byEvent("update-rooms")) > 0
	}, time.Second, 5*time.Millisecond)
}

func TestRoomNotifierStopRemovesListener(t *testing.T) {
	n := NewRoomNotifier()
	listener := &recordingWriter{}
	n.Listen("lobby-1", listener)
	n.Stop("lobby-1")
	require.Empty(t, n.snapshot())
}
