// Package discovery advertises the transfer server as _folio._tcp on the
// local network and browses for peer servers.
package discovery

import (
	"context"
	"fmt"
	"net"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/foliobooks/folio/pkg/events"
	"github.com/foliobooks/folio/pkg/version"
	"github.com/hashicorp/mdns"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

const (
	// ServiceType is the mDNS service type for Folio servers.
	ServiceType = "_folio._tcp"

	// browseInterval is how often the browser re-queries the network.
	browseInterval = 15 * time.Second

	// resolveTimeout bounds a peer endpoint probe.
	resolveTimeout = 5 * time.Second
)

var (
	ErrAdvertisementFailed = errors.New("discovery: advertisement failed")
	ErrBrowsingFailed      = errors.New("discovery: browsing failed")
	ErrResolutionFailed    = errors.New("discovery: resolution failed")
)

// Peer is one observed service instance. Host and Port may be empty until
// resolved.
type Peer struct {
	ID   string            `json:"id"`
	Name string            `json:"name"`
	Host string            `json:"host"`
	Port int               `json:"port"`
	TXT  map[string]string `json:"txt"`
}

// PeerEvent reports a change in the observed peer set.
type PeerEvent struct {
	Added bool
	Peer  Peer
}

// Service manages advertisement and browsing. Start is idempotent with
// respect to repeated calls.
type Service struct {
	mu     sync.Mutex
	server *mdns.Server
	name   string

	hub *events.Hub
	log logger.Logger
}

// NewService creates a discovery service advertising under name.
func NewService(name string, hub *events.Hub) *Service {
	return &Service{
		name: name,
		hub:  hub,
		log:  logger.New(),
	}
}

// Name returns the advertised instance name.
func (s *Service) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Advertise publishes the service on port with the given extra TXT keys.
// version and platform are always included. Calling it again replaces the
// previous advertisement.
func (s *Service) Advertise(port int, extraTXT map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Stop existing server if running (for restart scenarios).
	if s.server != nil {
		_ = s.server.Shutdown()
		s.server = nil
	}

	txt := []string{
		"version=" + version.Version,
		"platform=" + runtime.GOOS,
	}
	for key, value := range extraTXT {
		txt = append(txt, key+"="+value)
	}

	service, err := mdns.NewMDNSService(
		s.name,      // instance name
		ServiceType, // service type
		"",          // domain (empty = .local)
		"",          // host (empty = system hostname)
		port,
		nil, // all interfaces
		txt,
	)
	if err != nil {
		return errors.Wrap(ErrAdvertisementFailed, err.Error())
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return errors.Wrap(ErrAdvertisementFailed, err.Error())
	}
	s.server = server

	s.log.Data(logger.Data{"service": ServiceType, "port": port, "name": s.name}).Info("mdns advertisement started")
	return nil
}

// Stop stops advertising. Safe to call multiple times or if never started.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		_ = s.server.Shutdown()
		s.server = nil
		s.log.Info("mdns advertisement stopped")
	}
}

// Browse observes peer instances until ctx is cancelled, emitting add and
// remove events on the returned channel. Our own advertisement is filtered
// out by instance name. The channel is closed when browsing ends.
func (s *Service) Browse(ctx context.Context) <-chan PeerEvent {
	out := make(chan PeerEvent, 16)

	go func() {
		defer close(out)

		known := map[string]Peer{}
		ticker := time.NewTicker(browseInterval)
		defer ticker.Stop()

		for {
			current, err := s.queryOnce(ctx)
			if err != nil {
				s.log.Err(err).Warn("mdns query error")
			} else {
				s.diff(known, current, out)
				known = current
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return out
}

// queryOnce runs one mDNS lookup and returns the peers seen, keyed by id.
func (s *Service) queryOnce(ctx context.Context) (map[string]Peer, error) {
	entries := make(chan *mdns.ServiceEntry, 32)
	peers := map[string]Peer{}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			peer := peerFromEntry(entry)
			if s.isSelf(peer.Name) {
				continue
			}
			peers[peer.ID] = peer
		}
	}()

	params := &mdns.QueryParam{
		Service:     ServiceType,
		Domain:      "local",
		Timeout:     3 * time.Second,
		Entries:     entries,
		DisableIPv6: true,
	}
	err := mdns.Query(params)
	close(entries)
	wg.Wait()

	if err != nil {
		return nil, errors.Wrap(ErrBrowsingFailed, err.Error())
	}
	if ctx.Err() != nil {
		return nil, errors.WithStack(ctx.Err())
	}
	return peers, nil
}

// isSelf reports whether an instance name is our own advertisement. Only an
// exact match is filtered; "Study 2" stays visible alongside "Study".
func (s *Service) isSelf(name string) bool {
	return name == s.Name()
}

func (s *Service) diff(known, current map[string]Peer, out chan<- PeerEvent) {
	for id, peer := range current {
		if _, ok := known[id]; !ok {
			s.emit(out, PeerEvent{Added: true, Peer: peer})
		}
	}
	for id, peer := range known {
		if _, ok := current[id]; !ok {
			s.emit(out, PeerEvent{Added: false, Peer: peer})
		}
	}
}

func (s *Service) emit(out chan<- PeerEvent, event PeerEvent) {
	select {
	case out <- event:
	default:
		// Slow consumers drop intermediate events.
	}

	if s.hub != nil {
		eventType := events.TypePeerAdded
		if !event.Added {
			eventType = events.TypePeerRemoved
		}
		s.hub.Publish(eventType, event.Peer)
	}
}

// Resolve probes the peer's endpoint with a short-lived connection and
// returns the peer updated with the address that actually answered.
func (s *Service) Resolve(ctx context.Context, peer Peer) (Peer, error) {
	if peer.Host == "" || peer.Port == 0 {
		return peer, errors.Wrap(ErrResolutionFailed, "peer has no endpoint")
	}

	d := net.Dialer{Timeout: resolveTimeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(peer.Host, strconv.Itoa(peer.Port)))
	if err != nil {
		return peer, errors.Wrap(ErrResolutionFailed, err.Error())
	}
	defer conn.Close()

	host, portStr, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return peer, errors.Wrap(ErrResolutionFailed, err.Error())
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return peer, errors.Wrap(ErrResolutionFailed, err.Error())
	}

	peer.Host = host
	peer.Port = port
	return peer, nil
}

func peerFromEntry(entry *mdns.ServiceEntry) Peer {
	peer := Peer{
		ID:   entry.Name,
		Name: instanceName(entry.Name),
		Port: entry.Port,
		TXT:  map[string]string{},
	}
	if entry.AddrV4 != nil {
		peer.Host = entry.AddrV4.String()
	} else if entry.Host != "" {
		peer.Host = strings.TrimSuffix(entry.Host, ".")
	}
	for _, field := range entry.InfoFields {
		if key, value, ok := strings.Cut(field, "="); ok {
			peer.TXT[key] = value
		}
	}
	return peer
}

// instanceName extracts the leading instance label from a full service
// instance name like "Name._folio._tcp.local.".
func instanceName(full string) string {
	name, _, _ := strings.Cut(full, "."+ServiceType)
	name = strings.TrimSuffix(name, ".")
	return unescapeDNS(name)
}

// unescapeDNS undoes the escaping mdns applies to instance labels.
func unescapeDNS(s string) string {
	s = strings.ReplaceAll(s, "\\ ", " ")
	s = strings.ReplaceAll(s, "\\.", ".")
	return strings.ReplaceAll(s, fmt.Sprintf("\\%c", '\\'), "\\")
}
