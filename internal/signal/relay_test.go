package signal

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/roomloop/relay/internal/registry"
	"github.com/roomloop/relay/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (w *recordingWriter) WriteJSON(val any) error {
	evt, ok := val.(*protocol.Event)
	if !ok {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, *evt)
	return nil
}

func (w *recordingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.events)
}

func newTestRelay() (*Relay, *registry.Registry) {
	reg := registry.NewRegistry()
	return &Relay{
		registry: reg,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, reg
}

func envelopeData(t *testing.T, env Envelope) []byte {
	t.Helper()
	data, err := json.Marshal(env)
	require.NoError(t, err)
	return data
}

const testSDP = `{"type":"offer","sdp":"v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\n"}`

func TestForwardOfferToTarget(t *testing.T) {
	relay, reg := newTestRelay()
	target := &recordingWriter{}
	reg.Attach("conn-a", &recordingWriter{})
	reg.Attach("conn-b", target)
	reg.Register("conn-a", "alice")

	data := envelopeData(t, Envelope{
		Target:  "conn-b",
		Payload: json.RawMessage(testSDP),
	})
	require.NoError(t, relay.Forward("conn-a", EventOffer, data))

	require.Equal(t, 1, target.count())
	evt := target.events[0]
	assert.Equal(t, EventOffer, evt.Event)

	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(evt.Data), &env))
	assert.Equal(t, "conn-a", env.From)
	assert.Equal(t, "alice", env.FromName)
	assert.Empty(t, env.Target)
	assert.JSONEq(t, testSDP, string(env.Payload))
}

func TestForwardResolvesTargetByName(t *testing.T) {
	relay, reg := newTestRelay()
	target := &recordingWriter{}
	reg.Attach("conn-b", target)
	reg.Register("conn-b", "bob")

	data := envelopeData(t, Envelope{
		TargetName: "bob",
		Payload:    json.RawMessage(testSDP),
	})
	require.NoError(t, relay.Forward("conn-a", EventAnswer, data))
	assert.Equal(t, 1, target.count())
}

func TestForwardStampsSenderOverSpoofedFrom(t *testing.T) {
	relay, reg := newTestRelay()
	target := &recordingWriter{}
	reg.Attach("conn-b", target)

	data := envelopeData(t, Envelope{
		Target:  "conn-b",
		From:    "conn-spoofed",
		Payload: json.RawMessage(testSDP),
	})
	require.NoError(t, relay.Forward("conn-a", EventOffer, data))

	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(target.events[0].Data), &env))
	assert.Equal(t, "conn-a", env.From)
}

func TestForwardToUnresolvedTargetIsDropped(t *testing.T) {
	relay, _ := newTestRelay()

	data := envelopeData(t, Envelope{
		Target:  "conn-gone",
		Payload: json.RawMessage(testSDP),
	})
	err := relay.Forward("conn-a", EventOffer, data)
	assert.ErrorIs(t, err, ErrTargetUnresolved)
}

func TestForwardDropsMalformedDescription(t *testing.T) {
	relay, reg := newTestRelay()
	target := &recordingWriter{}
	reg.Attach("conn-b", target)

	for name, payload := range map[string]string{
		"NotJSON":  `not json at all`,
		"EmptySDP": `{"type":"offer","sdp":""}`,
	} {
		t.Run(name, func(t *testing.T) {
			// Built by hand: json.Marshal rejects a RawMessage payload that is
			// not itself valid JSON, which is exactly the input under test.
			data := []byte(`{"target":"conn-b","payload":` + payload + `}`)
			err := relay.Forward("conn-a", EventOffer, data)
			assert.Error(t, err)
			assert.Equal(t, 0, target.count())
		})
	}
}

func TestForwardCandidate(t *testing.T) {
	relay, reg := newTestRelay()
	target := &recordingWriter{}
	reg.Attach("conn-b", target)

	data := envelopeData(t, Envelope{
		Target:  "conn-b",
		Payload: json.RawMessage(`{"candidate":"candidate:1 1 UDP 2122252543 192.0.2.1 49203 typ host","sdpMid":"0"}`),
	})
	require.NoError(t, relay.Forward("conn-a", EventCandidate, data))
	assert.Equal(t, 1, target.count())
}

func TestForwardUnknownKind(t *testing.T) {
	relay, reg := newTestRelay()
	target := &recordingWriter{}
	reg.Attach("conn-b", target)

	data := envelopeData(t, Envelope{
		Target:  "conn-b",
		Payload: json.RawMessage(`{}`),
	})
	err := relay.Forward("conn-a", "renegotiate", data)
	assert.ErrorIs(t, err, ErrUnknownPayloadKind)
	assert.Equal(t, 0, target.count())
}
