// Package transport implements hivemesh's connection manager: it maintains
// the set of active peer streams, frames outbound envelopes, and hands
// inbound ones to the gossip router.
package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/WebFirstLanguage/hivemesh/pkg/constants"
	"github.com/WebFirstLanguage/hivemesh/pkg/logging"
	"github.com/WebFirstLanguage/hivemesh/pkg/transport/tcp"
	"github.com/WebFirstLanguage/hivemesh/pkg/wire"
)

// ErrNotConnected is returned by Send when no stream to the given peer
// exists.
type ErrNotConnected struct {
	PeerID string
}

func (e *ErrNotConnected) Error() string {
	return fmt.Sprintf("transport: not connected to peer %q", e.PeerID)
}

// Received pairs an inbound envelope with the peer it arrived from.
type Received struct {
	Envelope *wire.Envelope
	FromPeer string
}

type peerConn struct {
	nodeID string
	conn   *tcp.Conn
	mu     sync.Mutex // serializes writes on this connection
}

// Manager owns the set of active peer connections.
type Manager struct {
	log *logging.Logger

	transport *tcp.Transport
	maxFrame  int

	mu    sync.RWMutex
	peers map[string]*peerConn // node_id -> conn

	listener *tcp.Listener
	incoming chan Received

	stopCtx    context.Context
	stopCancel context.CancelFunc
	wg         sync.WaitGroup
}

// Config configures a Manager.
type Config struct {
	MaxFrameBytes int
}

// New creates a connection manager. Received envelopes are delivered on
// Incoming(); the caller (the gossip router, via the node
// orchestrator) must drain it.
func New(cfg Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		log:        logging.New("transport"),
		transport:  tcp.New(),
		maxFrame:   cfg.MaxFrameBytes,
		peers:      make(map[string]*peerConn),
		incoming:   make(chan Received, 64),
		stopCtx:    ctx,
		stopCancel: cancel,
	}
}

// Incoming delivers envelopes received from peers.
func (m *Manager) Incoming() <-chan Received { return m.incoming }

// StartServer binds bindAddr and begins accepting inbound connections.
func (m *Manager) StartServer(bindAddr string) (host string, port int, err error) {
	listener, err := m.transport.Listen(m.stopCtx, bindAddr)
	if err != nil {
		return "", 0, fmt.Errorf("transport: start server: %w", err)
	}
	m.listener = listener

	m.wg.Add(1)
	go m.acceptLoop()

	tcpAddr := listener.Addr().(*net.TCPAddr)
	return tcpAddr.IP.String(), tcpAddr.Port, nil
}

func (m *Manager) acceptLoop() {
	defer m.wg.Done()
	for {
		conn, err := m.listener.Accept(m.stopCtx)
		if err != nil {
			if m.stopCtx.Err() != nil {
				return
			}
			m.log.Warnf("accept failed: %v", err)
			continue
		}
		// Inbound connections are identified by the first envelope's
		// sender_id, so we read a bit before we can register them by
		// node_id; readLoop handles that registration.
		m.wg.Add(1)
		go m.readLoop("", conn)
	}
}

// ConnectTo dials a peer if not already connected. Idempotent.
func (m *Manager) ConnectTo(ctx context.Context, peerID, host string, port int) error {
	m.mu.RLock()
	_, connected := m.peers[peerID]
	m.mu.RUnlock()
	if connected {
		return nil
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := m.transport.Dial(ctx, addr, constants.DialTimeout)
	if err != nil {
		return fmt.Errorf("transport: connect to %s: %w", peerID, err)
	}

	pc := &peerConn{nodeID: peerID, conn: conn}
	m.mu.Lock()
	m.peers[peerID] = pc
	m.mu.Unlock()

	m.wg.Add(1)
	go m.readLoop(peerID, conn)

	return nil
}

func (m *Manager) readLoop(expectedPeerID string, conn *tcp.Conn) {
	defer m.wg.Done()
	reader := wire.NewFrameReader(conn, m.maxFrame)

	var registeredAs string
	defer func() {
		if registeredAs != "" {
			m.mu.Lock()
			delete(m.peers, registeredAs)
			m.mu.Unlock()
		}
		conn.Close()
	}()

	for {
		env, err := reader.ReadEnvelope()
		if err != nil {
			switch err.(type) {
			case *wire.ErrFrameMalformed, *wire.ErrFrameOversize:
				// Bad frame, not a broken stream: drop it and keep reading
				// (spec.md §4.E / §7 — a malformed or oversize frame is
				// dropped, the stream continues unless unrecoverable).
				m.log.Debugf("dropping bad frame from %s: %v", registeredAs, err)
				continue
			}
			if isClean(err) {
				return
			}
			m.log.Warnf("peer io error: %v", err)
			return
		}

		if registeredAs == "" {
			registeredAs = env.SenderID
			if expectedPeerID != "" && expectedPeerID != env.SenderID {
				m.log.Warnf("peer %s presented unexpected sender_id %s", expectedPeerID, env.SenderID)
			}
			m.mu.Lock()
			m.peers[registeredAs] = &peerConn{nodeID: registeredAs, conn: conn}
			m.mu.Unlock()
		}

		select {
		case m.incoming <- Received{Envelope: env, FromPeer: registeredAs}:
		case <-m.stopCtx.Done():
			return
		}
	}
}

func isClean(err error) bool {
	return err.Error() == "EOF"
}

// Send writes an envelope to a single connected peer.
func (m *Manager) Send(peerID string, env *wire.Envelope) error {
	m.mu.RLock()
	pc, ok := m.peers[peerID]
	m.mu.RUnlock()
	if !ok {
		return &ErrNotConnected{PeerID: peerID}
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()
	if err := wire.WriteEnvelope(pc.conn, env); err != nil {
		return fmt.Errorf("transport: send to %s: %w", peerID, err)
	}
	return nil
}

// Broadcast fans an envelope out to every connected peer except the
// optional exclusion (the peer it was just received from).
func (m *Manager) Broadcast(env *wire.Envelope, except string) {
	m.mu.RLock()
	targets := make([]*peerConn, 0, len(m.peers))
	for id, pc := range m.peers {
		if id == except {
			continue
		}
		targets = append(targets, pc)
	}
	m.mu.RUnlock()

	for _, pc := range targets {
		pc.mu.Lock()
		err := wire.WriteEnvelope(pc.conn, env)
		pc.mu.Unlock()
		if err != nil {
			m.log.Warnf("broadcast to %s failed: %v", pc.nodeID, err)
		}
	}
}

// PeerCount returns the number of currently connected peers.
func (m *Manager) PeerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.peers)
}

// IsConnected reports whether a stream to peerID is currently open.
func (m *Manager) IsConnected(peerID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.peers[peerID]
	return ok
}

// Stop closes the server, then all streams, and waits for read loops to
// exit.
func (m *Manager) Stop() {
	m.stopCancel()
	if m.listener != nil {
		m.listener.Close()
	}

	m.mu.RLock()
	conns := make([]*peerConn, 0, len(m.peers))
	for _, pc := range m.peers {
		conns = append(conns, pc)
	}
	m.mu.RUnlock()
	for _, pc := range conns {
		pc.conn.Close()
	}

	m.wg.Wait()
	close(m.incoming)
}
