// Package discovery implements single-hop LAN peer discovery over mDNS.
package discovery

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"

	"github.com/WebFirstLanguage/hivemesh/pkg/logging"
)

// ServiceType is the well-known mDNS service type hivemesh nodes advertise
// under.
const ServiceType = "_hivemesh._tcp"

const domain = "local."

// PeerAppeared is delivered when a non-self node is seen for the first
// time (or re-seen after disappearing).
type PeerAppeared struct {
	PeerID            string
	Host              string
	Port              int
	AdvertisementName string
	ProtocolVersion   int
}

// PeerDisappeared is delivered when a previously-seen advertisement drops
// off the network.
type PeerDisappeared struct {
	AdvertisementName string
}

// Service publishes this node's presence and watches for others.
type Service struct {
	log             *logging.Logger
	selfNodeID      string
	protocolVersion int

	server *zeroconf.Server

	appeared    chan PeerAppeared
	disappeared chan PeerDisappeared

	cancelBrowse context.CancelFunc
	wg           sync.WaitGroup
}

// New creates a discovery service for the given node identity. Nothing is
// published or browsed until Start is called.
func New(selfNodeID string, protocolVersion int) *Service {
	return &Service{
		log:             logging.New("discovery"),
		selfNodeID:      selfNodeID,
		protocolVersion: protocolVersion,
		appeared:        make(chan PeerAppeared, 32),
		disappeared:     make(chan PeerDisappeared, 32),
	}
}

// Appeared delivers peer-appeared events. Callbacks fire off the caller's
// scheduler; the channel is the marshaling point the node orchestrator
// reads from on its own event loop.
func (s *Service) Appeared() <-chan PeerAppeared { return s.appeared }

// Disappeared delivers peer-disappeared events, keyed by advertisement
// name (the only stable handle a browse result carries once a peer drops).
func (s *Service) Disappeared() <-chan PeerDisappeared { return s.disappeared }

// Start publishes this node's advertisement, then begins watching for
// others. Per the startup contract, publish happens before watch begins.
func (s *Service) Start(host string, port int) error {
	instance := fmt.Sprintf("hivemesh-%s", s.selfNodeID[:16])
	txt := []string{
		"node_id=" + s.selfNodeID,
		"protocol_version=" + strconv.Itoa(s.protocolVersion),
	}

	server, err := zeroconf.Register(instance, ServiceType, domain, port, txt, nil)
	if err != nil {
		return fmt.Errorf("discovery: publish advertisement: %w", err)
	}
	s.server = server

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelBrowse = cancel

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		cancel()
		server.Shutdown()
		return fmt.Errorf("discovery: create resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry, 32)
	s.wg.Add(1)
	go s.consumeEntries(entries)

	if err := resolver.Browse(ctx, ServiceType, domain, entries); err != nil {
		cancel()
		server.Shutdown()
		return fmt.Errorf("discovery: browse: %w", err)
	}

	return nil
}

func (s *Service) consumeEntries(entries chan *zeroconf.ServiceEntry) {
	defer s.wg.Done()
	for entry := range entries {
		nodeID, protocolVersion := parseTXT(entry.Text)
		if nodeID == "" {
			s.log.Debugf("advertisement %q missing node_id, ignoring", entry.Instance)
			continue
		}
		if nodeID == s.selfNodeID {
			continue
		}

		host := entry.HostName
		if len(entry.AddrIPv4) > 0 {
			host = entry.AddrIPv4[0].String()
		}

		if entry.TTL == 0 {
			s.disappeared <- PeerDisappeared{AdvertisementName: entry.Instance}
			continue
		}

		s.appeared <- PeerAppeared{
			PeerID:            nodeID,
			Host:              host,
			Port:              entry.Port,
			AdvertisementName: entry.Instance,
			ProtocolVersion:   protocolVersion,
		}
	}
}

func parseTXT(fields []string) (nodeID string, protocolVersion int) {
	for _, f := range fields {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		switch k {
		case "node_id":
			nodeID = v
		case "protocol_version":
			if n, err := strconv.Atoi(v); err == nil {
				protocolVersion = n
			}
		}
	}
	return nodeID, protocolVersion
}

// Stop stops watching and withdraws the advertisement, best effort.
func (s *Service) Stop() {
	if s.cancelBrowse != nil {
		s.cancelBrowse()
	}
	if s.server != nil {
		s.server.Shutdown()
	}
	s.wg.Wait()
	close(s.appeared)
	close(s.disappeared)
}
