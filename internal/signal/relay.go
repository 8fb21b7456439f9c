package signal

import (
	"encoding/json"
	"errors"
	"log/slog"

	webrtc "github.com/pion/webrtc/v4"
	"github.com/roomloop/relay/internal/registry"
	"github.com/roomloop/relay/pkg/protocol"
	"go.uber.org/fx"
)

var (
	ErrTargetUnresolved   = errors.New("signaling target not connected")
	ErrUnknownPayloadKind = errors.New("unknown signaling payload kind")
	ErrEmptyDescription   = errors.New("session description is empty")
)

const (
	EventOffer     = "offer"
	EventAnswer    = "answer"
	EventCandidate = "candidate"
)

// Envelope addresses a point-to-point negotiation payload. Target or
// TargetName identifies the receiving connection; From is stamped by the
// relay, never trusted from the sender.
type Envelope struct {
	Target     protocol.ConnID `json:"target,omitempty"`
	TargetName string          `json:"targetName,omitempty"`
	From       protocol.ConnID `json:"from,omitempty"`
	FromName   string          `json:"fromName,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// Relay forwards offer/answer/candidate payloads between two connections. It
// keeps no state of its own; target addresses come from the registry.
type Relay struct {
	registry *registry.Registry
	logger   *slog.Logger
}

// validate parses the payload into its pion type so a malformed negotiation
// document is dropped at ingress instead of reaching the target peer.
func validate(kind string, payload []byte) error {
	switch kind {
	case EventOffer, EventAnswer:
		var desc webrtc.SessionDescription
		if err := json.Unmarshal(payload, &desc); err != nil {
			return err
		}
		if desc.SDP == "" {
			return ErrEmptyDescription
		}
		return nil
	case EventCandidate:
		var candidate webrtc.ICECandidateInit
		return json.Unmarshal(payload, &candidate)
	default:
		return ErrUnknownPayloadKind
	}
}

// Forward relays one payload to one resolved connection. Every failure is a
// silent drop from the peers' point of view: signaling only means anything to
// a live, currently-negotiating target.
func (r *Relay) Forward(from protocol.ConnID, kind string, data []byte) error {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	if err := validate(kind, env.Payload); err != nil {
		r.logger.Debug("dropping malformed signaling payload",
			slog.String("kind", kind),
			slog.String("from", from),
			slog.String("err", err.Error()),
		)
		return err
	}

	target := env.Target
	if target == "" && env.TargetName != "" {
		target, _ = r.registry.Resolve(env.TargetName)
	}
	ws, ok := r.registry.WriterOf(target)
	if !ok {
		r.logger.Debug("dropping signaling payload for unresolved target",
			slog.String("kind", kind),
			slog.String("from", from),
			slog.String("target", target),
		)
		return ErrTargetUnresolved
	}

	env.Target = ""
	env.TargetName = ""
	env.From = from
	if name, ok := r.registry.NameOf(from); ok {
		env.FromName = name
	}

	evt, err := protocol.NewEvent(kind, env)
	if err != nil {
		return err
	}
	return ws.WriteJSON(evt)
}

type NewRelayParams struct {
	fx.In

	Registry *registry.Registry
	Logger   *slog.Logger
}

func NewRelay(params NewRelayParams) *Relay {
	return &Relay{
		registry: params.Registry,
		logger:   params.Logger,
	}
}
