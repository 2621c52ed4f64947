package node

// Event is implemented by every value delivered on Node.Events(). A
// channel of events replaces the registered-callback pattern: callers
// drain it on their own schedule instead of being invoked re-entrantly
// from inside the node's event loop.
type Event interface {
	isEvent()
}

// MessageReceived is emitted for every chat_message accepted by the gossip
// router and for every chat_message this node broadcasts itself, after any
// private-channel decryption has already been applied.
type MessageReceived struct {
	ChannelID string
	SenderID  string
	Content   string
	Timestamp string
}

func (MessageReceived) isEvent() {}

// PeerAppeared mirrors a discovery appearance, after connection-manager
// registration.
type PeerAppeared struct {
	PeerID string
	Host   string
	Port   int
}

func (PeerAppeared) isEvent() {}

// PeerDisappeared mirrors a discovery disappearance.
type PeerDisappeared struct {
	AdvertisementName string
}

func (PeerDisappeared) isEvent() {}

// InviteAccepted is emitted when this node successfully opens a sealed
// invite and joins the resulting private channel.
type InviteAccepted struct {
	ChannelID string
}

func (InviteAccepted) isEvent() {}
