// Package node implements the node orchestrator: it owns one instance each
// of the identity store, crypto primitives, persistence store, discovery
// service, connection manager, and gossip router, and exposes the
// operations a UI collaborator drives.
package node

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/WebFirstLanguage/hivemesh/pkg/channel"
	"github.com/WebFirstLanguage/hivemesh/pkg/constants"
	"github.com/WebFirstLanguage/hivemesh/pkg/discovery"
	"github.com/WebFirstLanguage/hivemesh/pkg/gossip"
	"github.com/WebFirstLanguage/hivemesh/pkg/identity"
	"github.com/WebFirstLanguage/hivemesh/pkg/logging"
	"github.com/WebFirstLanguage/hivemesh/pkg/security"
	"github.com/WebFirstLanguage/hivemesh/pkg/store"
	"github.com/WebFirstLanguage/hivemesh/pkg/transport"
	"github.com/WebFirstLanguage/hivemesh/pkg/wire"
)

// State is the node's lifecycle state.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// IdentityInfo is returned by GetIdentityInfo.
type IdentityInfo struct {
	NodeID        string
	DisplayName   string
	EncryptionPub string
}

// DecodedMessage is a history row with private-channel content already
// decrypted where the key is held.
type DecodedMessage struct {
	MsgID     string
	ChannelID string
	SenderID  string
	Timestamp string
	Content   string
}

// Config configures a Node.
type Config struct {
	ProfilePath   string
	DisplayName   string
	DBPath        string
	BindAddr      string // e.g. "0.0.0.0:0"
	MaxFrameBytes int
}

// Node ties the identity store, crypto primitives, persistence store,
// discovery service, connection manager, and gossip router together.
type Node struct {
	log *logging.Logger

	mu    sync.RWMutex
	state State

	id   *identity.Identity
	db   *store.DB
	msgs *store.MessageStore
	chs  *store.ChannelStore

	channels *channel.Manager
	subs     *subscriptionSet
	conn     *transport.Manager
	disco    *discovery.Service
	router   *gossip.Router

	events chan Event

	boundHost string
	boundPort int

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Node from cfg. The identity and persistence store are
// loaded/opened eagerly; network components are started by Start.
func New(cfg Config) (*Node, error) {
	id, err := identity.LoadOrCreate(cfg.ProfilePath, cfg.DisplayName)
	if err != nil {
		return nil, fmt.Errorf("node: load identity: %w", err)
	}

	db, err := store.Open(store.Config{Path: cfg.DBPath})
	if err != nil {
		return nil, fmt.Errorf("node: open store: %w", err)
	}

	chs := store.NewChannelStore(db)
	channels, err := channel.New(id, chs)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("node: init channel manager: %w", err)
	}

	subs := newSubscriptionSet()
	subs.add(constants.GeneralChannel)

	maxFrame := cfg.MaxFrameBytes
	if maxFrame == 0 {
		maxFrame = constants.DefaultFrameCap
	}

	n := &Node{
		log:      logging.New("node"),
		state:    StateStopped,
		id:       id,
		db:       db,
		msgs:     store.NewMessageStore(db),
		chs:      chs,
		channels: channels,
		subs:     subs,
		conn:     transport.New(transport.Config{MaxFrameBytes: maxFrame}),
		disco:    discovery.New(id.NodeID(), constants.ProtocolVersion),
		events:   make(chan Event, 128),
		done:     make(chan struct{}),
	}
	n.router = gossip.New(subs, n, n.conn)
	return n, nil
}

// Events delivers node-level events to the caller's own schedule.
func (n *Node) Events() <-chan Event { return n.events }

// BoundAddr returns the host and port the connection manager's server
// bound to. Only meaningful after Start.
func (n *Node) BoundAddr() (string, int) { return n.boundHost, n.boundPort }

func (n *Node) emit(ev Event) {
	select {
	case n.events <- ev:
	default:
		n.log.Warnf("event channel full, dropping event")
	}
}

// Start binds the connection manager, starts discovery, and begins the
// node's single event loop.
func (n *Node) Start(bindAddr string) error {
	n.mu.Lock()
	if n.state == StateRunning || n.state == StateStarting {
		n.mu.Unlock()
		return fmt.Errorf("node: already %s", n.state)
	}
	n.state = StateStarting
	n.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	n.ctx = ctx
	n.cancel = cancel
	n.done = make(chan struct{})

	host, port, err := n.conn.StartServer(bindAddr)
	if err != nil {
		cancel()
		return fmt.Errorf("node: start server: %w", err)
	}
	n.boundHost = host
	n.boundPort = port

	if err := n.disco.Start(host, port); err != nil {
		n.conn.Stop()
		cancel()
		return fmt.Errorf("node: start discovery: %w", err)
	}

	go n.run()

	n.mu.Lock()
	n.state = StateRunning
	n.mu.Unlock()
	return nil
}

// run is the node's single select loop: it is the only place inbound
// envelopes, discovery callbacks, and shutdown intersect.
func (n *Node) run() {
	defer close(n.done)
	for {
		select {
		case <-n.ctx.Done():
			return

		case received, ok := <-n.conn.Incoming():
			if !ok {
				return
			}
			n.router.HandleIncoming(received.Envelope, received.FromPeer)

		case appeared, ok := <-n.disco.Appeared():
			if !ok {
				continue
			}
			if err := n.conn.ConnectTo(n.ctx, appeared.PeerID, appeared.Host, appeared.Port); err != nil {
				n.log.Warnf("connect to %s failed: %v", appeared.PeerID, err)
				continue
			}
			n.emit(PeerAppeared{PeerID: appeared.PeerID, Host: appeared.Host, Port: appeared.Port})

		case disappeared, ok := <-n.disco.Disappeared():
			if !ok {
				continue
			}
			n.emit(PeerDisappeared{AdvertisementName: disappeared.AdvertisementName})
		}
	}
}

// Stop cancels the event loop, then stops discovery, then the connection
// manager, then flushes and closes the store. Idempotent.
func (n *Node) Stop() error {
	n.mu.Lock()
	if n.state == StateStopped || n.state == StateStopping {
		n.mu.Unlock()
		return nil
	}
	n.state = StateStopping
	n.mu.Unlock()

	if n.cancel != nil {
		n.cancel()
	}
	<-n.done

	n.disco.Stop()
	n.conn.Stop()
	close(n.events)

	n.mu.Lock()
	n.state = StateStopped
	n.mu.Unlock()

	return n.db.Close()
}

// GetIdentityInfo returns this node's public identity summary.
func (n *Node) GetIdentityInfo() IdentityInfo {
	return IdentityInfo{
		NodeID:        n.id.NodeID(),
		DisplayName:   n.id.DisplayName,
		EncryptionPub: hex.EncodeToString(n.id.KeyAgreementPublicKey[:]),
	}
}

// JoinChannel adds channelID to the subscription set.
func (n *Node) JoinChannel(channelID string) {
	n.subs.add(channelID)
}

// ChannelInfo returns a channel's stored metadata, or nil if it isn't
// known to this node.
func (n *Node) ChannelInfo(channelID string) (*store.ChannelMeta, error) {
	return n.chs.GetChannelInfo(channelID)
}

// PeerCount returns the number of currently connected peers.
func (n *Node) PeerCount() int {
	return n.conn.PeerCount()
}

// ErrCannotLeaveGeneral is returned by LeaveChannel for #general.
type ErrCannotLeaveGeneral struct{}

func (ErrCannotLeaveGeneral) Error() string { return "node: #general cannot be left" }

// LeaveChannel removes channelID from the subscription set. #general
// cannot be removed.
func (n *Node) LeaveChannel(channelID string) error {
	if channelID == constants.GeneralChannel {
		return ErrCannotLeaveGeneral{}
	}
	n.subs.remove(channelID)
	return nil
}

// SubscribedChannels returns the current subscription set.
func (n *Node) SubscribedChannels() []string {
	return n.subs.snapshot()
}

// CreateChannel creates a new channel, public or private.
func (n *Node) CreateChannel(channelID, kind string) error {
	if err := n.channels.Create(channelID, kind); err != nil {
		return err
	}
	n.subs.add(channelID)
	return nil
}

// InvitePeerToChannel seals the channel's key for targetNodeID and
// broadcasts an invite envelope. Outcomes: ok, NotOwner/NoKey (from the
// channel manager's ownership and key checks), or NotConnected if
// targetNodeID has no open stream to carry the invite to.
func (n *Node) InvitePeerToChannel(channelID, targetNodeID string, targetEncryptionPub *[32]byte) error {
	sealed, err := n.channels.Invite(channelID, targetEncryptionPub)
	if err != nil {
		return err
	}

	if !n.conn.IsConnected(targetNodeID) {
		return &transport.ErrNotConnected{PeerID: targetNodeID}
	}

	env, err := wire.NewSignedEnvelope(n.id, wire.Payload{
		ChannelID:    channelID,
		Kind:         wire.KindInvite,
		EncryptedKey: hex.EncodeToString(sealed),
	}, constants.DefaultTTL)
	if err != nil {
		return fmt.Errorf("node: build invite envelope: %w", err)
	}

	n.router.Broadcast(env)
	return nil
}

// BroadcastMessage sends content on channelID, encrypting it first if the
// channel is private and its key is held.
func (n *Node) BroadcastMessage(content, channelID string) (string, error) {
	payload := wire.Payload{
		ChannelID: channelID,
		Kind:      wire.KindChatMessage,
	}

	if key, ok := n.channels.Key(channelID); ok {
		nonce, ciphertext, err := security.Encrypt(key, []byte(content))
		if err != nil {
			return "", fmt.Errorf("node: encrypt message: %w", err)
		}
		payload.Content = hex.EncodeToString(ciphertext)
		payload.Nonce = hex.EncodeToString(nonce)
		payload.IsEncrypted = true
	} else {
		payload.Content = content
	}

	env, err := wire.NewSignedEnvelope(n.id, payload, constants.DefaultTTL)
	if err != nil {
		return "", fmt.Errorf("node: sign message: %w", err)
	}

	n.router.Broadcast(env)
	n.storeAndNotify(env, content)
	return env.MsgID, nil
}

// LoadChannelHistory returns up to limit of a channel's stored messages,
// decrypted where the key is held.
func (n *Node) LoadChannelHistory(channelID string, limit int) ([]DecodedMessage, error) {
	rows, err := n.msgs.GetMessagesForChannel(channelID, limit)
	if err != nil {
		return nil, err
	}

	key, haveKey := n.channels.Key(channelID)

	out := make([]DecodedMessage, 0, len(rows))
	for _, row := range rows {
		content := row.Content
		if row.IsEncrypted && haveKey {
			content = n.decryptRowOrPlaceholder(row, key)
		}
		out = append(out, DecodedMessage{
			MsgID:     row.MsgID,
			ChannelID: row.ChannelID,
			SenderID:  row.SenderID,
			Timestamp: row.Timestamp,
			Content:   content,
		})
	}
	return out, nil
}

func (n *Node) decryptRowOrPlaceholder(row store.MessageRow, key []byte) string {
	ciphertext, err := hex.DecodeString(row.Content)
	if err != nil {
		return ""
	}
	nonce, err := hex.DecodeString(row.Nonce)
	if err != nil {
		return ""
	}
	plaintext, err := security.Decrypt(key, nonce, ciphertext)
	if err != nil {
		n.log.Debugf("history decrypt failed for %s: %v", row.MsgID, err)
		return ""
	}
	return string(plaintext)
}

// Dispatch implements gossip.Dispatcher: it is the received-message
// callback from the router.
func (n *Node) Dispatch(env *wire.Envelope) {
	switch env.Payload.Kind {
	case wire.KindChatMessage:
		n.handleChatMessage(env)
	case wire.KindInvite:
		n.handleInvite(env)
	default:
		n.log.Debugf("ignoring envelope of unknown kind %q", env.Payload.Kind)
	}
}

func (n *Node) handleChatMessage(env *wire.Envelope) {
	plaintext := env.Payload.Content
	if env.Payload.IsEncrypted {
		key, ok := n.channels.Key(env.Payload.ChannelID)
		if !ok {
			// Private channel, key not held: access control, silent drop.
			n.log.Debugf("dropping encrypted message for %s: no key held", env.Payload.ChannelID)
			return
		}
		ciphertext, err := hex.DecodeString(env.Payload.Content)
		if err != nil {
			return
		}
		nonce, err := hex.DecodeString(env.Payload.Nonce)
		if err != nil {
			return
		}
		opened, err := security.Decrypt(key, nonce, ciphertext)
		if err != nil {
			n.log.Debugf("dropping message %s: decrypt failed: %v", env.MsgID, err)
			return
		}
		plaintext = string(opened)
	}

	n.storeRow(env)
	n.emit(MessageReceived{
		ChannelID: env.Payload.ChannelID,
		SenderID:  env.SenderID,
		Content:   plaintext,
		Timestamp: env.Payload.Timestamp,
	})
}

func (n *Node) handleInvite(env *wire.Envelope) {
	sealedKey, err := hex.DecodeString(env.Payload.EncryptedKey)
	if err != nil {
		return
	}

	accepted, err := n.channels.ProcessInvite(env.Payload.ChannelID, env.SenderID, sealedKey)
	if err != nil {
		n.log.Warnf("process invite for %s failed: %v", env.Payload.ChannelID, err)
		return
	}
	if !accepted {
		return
	}

	n.subs.add(env.Payload.ChannelID)
	n.emit(InviteAccepted{ChannelID: env.Payload.ChannelID})
}

// storeAndNotify persists a locally originated message immediately, so the
// broadcaster sees its own message without waiting for the mesh to echo it
// back.
func (n *Node) storeAndNotify(env *wire.Envelope, plaintextForDisplay string) {
	n.storeRow(env)
	n.emit(MessageReceived{
		ChannelID: env.Payload.ChannelID,
		SenderID:  env.SenderID,
		Content:   plaintextForDisplay,
		Timestamp: env.Payload.Timestamp,
	})
}

func (n *Node) storeRow(env *wire.Envelope) {
	if _, err := n.msgs.StoreMessage(store.MessageRow{
		MsgID:       env.MsgID,
		ChannelID:   env.Payload.ChannelID,
		SenderID:    env.SenderID,
		Timestamp:   env.Payload.Timestamp,
		Content:     env.Payload.Content,
		Signature:   env.Signature,
		IsEncrypted: env.Payload.IsEncrypted,
		Nonce:       env.Payload.Nonce,
	}); err != nil {
		n.log.Warnf("store message %s failed: %v", env.MsgID, err)
	}
}
