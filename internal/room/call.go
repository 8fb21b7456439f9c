package room

type CallPhase string

const (
	CallIdle      CallPhase = "idle"
	CallRinging   CallPhase = "ringing"
	CallConnected CallPhase = "connected"
)

// callState is the per-room voice/video call machine. Not safe for concurrent
// use; the owning roomContext serializes access. Invariant: an empty
// participant set always lands in CallIdle with no initiator, whatever event
// emptied it.
type callState struct {
	phase        CallPhase
	initiator    string
	participants []string
}

func newCallState() *callState {
	return &callState{phase: CallIdle}
}

// CallInfo is the broadcastable view of the call machine.
type CallInfo struct {
	Active       bool      `json:"active"`
	Phase        CallPhase `json:"phase"`
	Initiator    string    `json:"initiator,omitempty"`
	Participants []string  `json:"participants"`
}

func (c *callState) Info() CallInfo {
	participants := make([]string, len(c.participants))
	copy(participants, c.participants)
	return CallInfo{
		Active:       c.phase != CallIdle,
		Phase:        c.phase,
		Initiator:    c.initiator,
		Participants: participants,
	}
}

func (c *callState) has(name string) bool {
	for _, p := range c.participants {
		if p == name {
			return true
		}
	}
	return false
}

func (c *callState) add(name string) {
	if !c.has(name) {
		c.participants = append(c.participants, name)
	}
}

func (c *callState) remove(name string) {
	for i, p := range c.participants {
		if p == name {
			c.participants = append(c.participants[:i], c.participants[i+1:]...)
			return
		}
	}
}

// settle funnels every mutation that can empty the participant set through
// one reset check.
func (c *callState) settle() {
	if len(c.participants) == 0 {
		c.reset()
	}
}

func (c *callState) reset() {
	c.phase = CallIdle
	c.initiator = ""
	c.participants = nil
}

// Request moves idle to ringing, seeding the given participant list. A
// participant who rejects leaves the set, so unanimous rejection drains it
// to empty and the machine settles back to idle. An empty list falls back
// to the initiator alone so the ring does not settle before anyone answers.
func (c *callState) Request(initiator string, participants []string) (CallInfo, error) {
	if c.phase != CallIdle {
		return c.Info(), ErrCallAlreadyActive
	}
	c.phase = CallRinging
	c.initiator = initiator
	c.participants = nil
	for _, p := range participants {
		c.add(p)
	}
	if len(c.participants) == 0 {
		c.add(initiator)
	}
	return c.Info(), nil
}

func (c *callState) Accept(accepter string) (CallInfo, error) {
	if c.phase == CallIdle {
		return c.Info(), ErrNoActiveCall
	}
	c.add(accepter)
	if c.phase == CallRinging && len(c.participants) > 1 {
		c.phase = CallConnected
	}
	return c.Info(), nil
}

func (c *callState) Reject(rejecter string) CallInfo {
	c.remove(rejecter)
	c.settle()
	return c.Info()
}

func (c *callState) End(string) CallInfo {
	c.reset()
	return c.Info()
}

func (c *callState) Join(name string) (CallInfo, error) {
	if c.phase == CallIdle {
		return c.Info(), ErrNoActiveCall
	}
	c.add(name)
	return c.Info(), nil
}

func (c *callState) Leave(name string) CallInfo {
	c.remove(name)
	c.settle()
	return c.Info()
}
