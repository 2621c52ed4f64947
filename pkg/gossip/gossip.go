// Package gossip implements the flood-routing layer: signature
// verification, subscription filtering, duplicate suppression, and
// TTL-bounded forwarding.
package gossip

import (
	"sync"

	"github.com/WebFirstLanguage/hivemesh/pkg/constants"
	"github.com/WebFirstLanguage/hivemesh/pkg/logging"
	"github.com/WebFirstLanguage/hivemesh/pkg/wire"
)

// Broadcaster is the subset of the connection manager the router needs to
// fan envelopes out to peers.
type Broadcaster interface {
	Broadcast(env *wire.Envelope, except string)
}

// Dispatcher receives envelopes that passed verification, the subscription
// filter, and dedupe — one call per accepted envelope.
type Dispatcher interface {
	Dispatch(env *wire.Envelope)
}

// Subscriptions is the shared, orchestrator-owned set of channel IDs this
// node currently cares about. The router only ever reads it.
type Subscriptions interface {
	IsSubscribed(channelID string) bool
}

// seenSet is a bounded FIFO of observed msg_ids, used only to short-circuit
// duplicates.
type seenSet struct {
	mu       sync.Mutex
	order    []string
	present  map[string]struct{}
	capacity int
}

func newSeenSet(capacity int) *seenSet {
	return &seenSet{
		present:  make(map[string]struct{}, capacity),
		capacity: capacity,
	}
}

func (s *seenSet) hasAndMark(msgID string) (alreadySeen bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.present[msgID]; ok {
		return true
	}

	s.order = append(s.order, msgID)
	s.present[msgID] = struct{}{}

	if len(s.order) > s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.present, oldest)
	}
	return false
}

// Router owns the seen-set and implements handle_incoming's pipeline.
type Router struct {
	log  *logging.Logger
	seen *seenSet

	subs       Subscriptions
	dispatcher Dispatcher
	out        Broadcaster
}

// New creates a router. subs and dispatcher are wired by the node
// orchestrator at startup.
func New(subs Subscriptions, dispatcher Dispatcher, out Broadcaster) *Router {
	return &Router{
		log:        logging.New("gossip"),
		seen:       newSeenSet(constants.SeenSetCapacity),
		subs:       subs,
		dispatcher: dispatcher,
		out:        out,
	}
}

// HandleIncoming runs the five-step pipeline from an envelope received from
// fromPeerID.
func (r *Router) HandleIncoming(env *wire.Envelope, fromPeerID string) {
	// 1. Verify signature. Reject, no state change.
	if !env.Verify() {
		r.log.Warnf("dropping envelope %s from %s: signature invalid", env.MsgID, fromPeerID)
		return
	}

	// 2. Channel filter, deliberately before dedupe: a node that later
	// subscribes should still be able to receive the message if it
	// propagates again.
	if !r.subs.IsSubscribed(env.Payload.ChannelID) {
		r.log.Debugf("dropping envelope %s: not subscribed to %s", env.MsgID, env.Payload.ChannelID)
		return
	}

	// 3. Dedupe.
	if r.seen.hasAndMark(env.MsgID) {
		r.log.Debugf("dropping envelope %s: already seen", env.MsgID)
		return
	}

	// 4. Dispatch by kind.
	r.dispatcher.Dispatch(env)

	// 5. Forward, strictly decreasing ttl, never at ttl==0.
	if env.TTL > 0 {
		r.out.Broadcast(env.WithDecrementedTTL(), fromPeerID)
	}
}

// MarkSeen records a locally originated msg_id so an echo of our own
// broadcast doesn't get re-forwarded as if new.
func (r *Router) MarkSeen(msgID string) {
	r.seen.hasAndMark(msgID)
}

// Broadcast signs nothing itself — envelope construction and signing are
// the node orchestrator's job (it owns the identity). Broadcast just
// records the outgoing msg_id as seen and fans the envelope out.
func (r *Router) Broadcast(env *wire.Envelope) {
	r.seen.hasAndMark(env.MsgID)
	r.out.Broadcast(env, "")
}
