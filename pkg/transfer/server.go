// Package transfer serves the book catalog over HTTP to devices on the LAN.
package transfer

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/foliobooks/folio/pkg/binder"
	"github.com/foliobooks/folio/pkg/config"
	"github.com/foliobooks/folio/pkg/convertcache"
	"github.com/foliobooks/folio/pkg/converter"
	"github.com/foliobooks/folio/pkg/delivery"
	"github.com/foliobooks/folio/pkg/discovery"
	"github.com/foliobooks/folio/pkg/errcodes"
	"github.com/foliobooks/folio/pkg/events"
	"github.com/foliobooks/folio/pkg/library"
	"github.com/foliobooks/folio/pkg/metadata"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/echo/v4/health"
	"github.com/robinjoseph08/golib/echo/v4/middleware/logger"
	"github.com/robinjoseph08/golib/echo/v4/middleware/recovery"
	golog "github.com/robinjoseph08/golib/logger"
)

// Server binds the first free port in the configured range and serves the
// catalog on all IPv4 interfaces.
type Server struct {
	cfg *config.Config
	e   *echo.Echo
	srv *http.Server
	hub *events.Hub
	log golog.Logger

	handler *handler

	mu        sync.Mutex
	listener  net.Listener
	port      int
	serverURL string
	peers     map[string]discovery.Peer
}

// New wires the catalog routes. Start binds and serves.
func New(
	cfg *config.Config,
	provider library.Provider,
	conv *converter.Converter,
	cache *convertcache.Cache,
	deliverySvc *delivery.Service,
	hub *events.Hub,
) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	b, err := binder.New()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	e.Binder = b

	e.Use(logger.Middleware())
	e.Use(recovery.Middleware())
	e.Use(middleware.CORS())

	health.RegisterRoutes(e)

	s := &Server{
		cfg:   cfg,
		e:     e,
		hub:   hub,
		log:   golog.New(),
		peers: map[string]discovery.Peer{},
	}

	s.handler = &handler{
		provider:  provider,
		converter: conv,
		cache:     cache,
		delivery:  deliverySvc,
		metadata:  metadata.NewAggregator(metadata.NewOpenLibrary(), metadata.NewGoogleBooks()),
		server:    s,
	}
	registerRoutes(e, s.handler)

	echo.NotFoundHandler = notFoundHandler
	e.HTTPErrorHandler = errcodes.NewHandler().Handle

	s.srv = &http.Server{
		Handler:           e,
		ReadHeaderTimeout: 3 * time.Second,
	}

	return s, nil
}

// Start binds the first free port in [PortRangeStart, PortRangeEnd] and
// serves until Shutdown. Returns ErrNoPortAvailable when the whole range is
// taken.
func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{}

	var listener net.Listener
	var port int
	for p := s.cfg.PortRangeStart; p <= s.cfg.PortRangeEnd; p++ {
		l, err := lc.Listen(ctx, "tcp4", fmt.Sprintf(":%d", p))
		if err != nil {
			continue
		}
		listener = l
		port = p
		break
	}
	if listener == nil {
		return errors.WithStack(ErrNoPortAvailable)
	}

	url := fmt.Sprintf("http://%s:%d", lanIP(), port)

	s.mu.Lock()
	s.listener = listener
	s.port = port
	s.serverURL = url
	s.mu.Unlock()

	s.log.Data(golog.Data{"port": port, "url": url}).Info("transfer server started")
	s.publishStatus(true)

	go func() {
		err := s.srv.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Err(err).Error("transfer server stopped")
		}
	}()

	return nil
}

// Shutdown drains in-flight requests and stops serving.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	s.publishStatus(false)
	return errors.WithStack(err)
}

// Port returns the bound port, or 0 before Start.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// URL returns the published server URL, or "" before Start.
func (s *Server) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverURL
}

// TrackPeers consumes discovery events until ctx is cancelled, keeping the
// peer list the API serves.
func (s *Server) TrackPeers(ctx context.Context, eventsCh <-chan discovery.PeerEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-eventsCh:
			if !ok {
				return
			}
			s.mu.Lock()
			if event.Added {
				s.peers[event.Peer.ID] = event.Peer
			} else {
				delete(s.peers, event.Peer.ID)
			}
			s.mu.Unlock()
		}
	}
}

// Peers returns a snapshot of the currently observed peers.
func (s *Server) Peers() []discovery.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()

	peers := make([]discovery.Peer, 0, len(s.peers))
	for _, peer := range s.peers {
		peers = append(peers, peer)
	}
	return peers
}

func (s *Server) publishStatus(running bool) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(events.TypeServerStatus, events.ServerStatus{
		Running:   running,
		ServerURL: s.URL(),
		Port:      s.Port(),
	})
}

// lanIP finds the host's primary LAN IPv4 address. macOS names its primary
// interfaces en0/en1, so those win; otherwise the first non-loopback IPv4
// interface is used. Falls back to localhost.
func lanIP() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "localhost"
	}

	var fallback string
	for _, preferred := range []string{"en0", "en1", ""} {
		for _, iface := range ifaces {
			if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
				continue
			}
			if preferred != "" && iface.Name != preferred {
				continue
			}

			addrs, err := iface.Addrs()
			if err != nil {
				continue
			}
			for _, addr := range addrs {
				ipNet, ok := addr.(*net.IPNet)
				if !ok || ipNet.IP.To4() == nil || ipNet.IP.IsLoopback() {
					continue
				}
				if preferred != "" {
					return ipNet.IP.String()
				}
				if fallback == "" {
					fallback = ipNet.IP.String()
				}
			}
		}
	}
	if fallback != "" {
		return fallback
	}
	return "localhost"
}

func notFoundHandler(c echo.Context) error {
	c.SetPath("/:path")
	return errcodes.NotFound("Page")
}

// humanSize renders a byte count for the catalog page.
func humanSize(size int64) string {
	const unit = 1024
	if size < unit {
		return strconv.FormatInt(size, 10) + " B"
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
