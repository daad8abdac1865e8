// Package tunnel provisions ephemeral WireGuard tunnels and exposes each
// peer's forwarded port under a public subdomain.
package tunnel

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"

	"github.com/cyclopcam/logs"
	"github.com/pyjam-as/tunnel/pkg/caddy"
	"github.com/pyjam-as/tunnel/pkg/wg"
)

// Service owns the provisioning engine: the WireGuard interface state, the
// key source, and the Caddy synchronizer. Construct it once with
// StartService, and inject it into the request handling layer.
type Service struct {
	log   logs.Log
	cfg   Config
	keys  wg.KeySource
	iface *wg.Interface
	caddy *caddy.Client

	httpServer        *http.Server
	adminPasswordHash []byte
}

// ProvisionResult is the outcome of one tunnel provisioning request.
type ProvisionResult struct {
	Peer       *wg.Peer
	ClientConf string // Config text the client uses to join; the server does not retain it

	// RouteWarning is set when the tunnel is live at the network layer, but
	// Caddy registration failed, so the service has no public route yet.
	RouteWarning error
}

// StartService generates the server's identity, brings the WireGuard
// interface up, and returns the ready-to-serve provisioning service.
// Any error here is unrecoverable and should abort the process.
func StartService(log logs.Log, cfg Config, keys wg.KeySource, cmd wg.Commander, caddyClient *caddy.Client) (*Service, error) {
	private, err := keys.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	iface, err := wg.NewInterface(log, wg.Config{
		Name:         cfg.InterfaceName,
		Network:      cfg.Network,
		ListenPort:   cfg.ListenPort,
		WANInterface: cfg.WANInterface,
		ConfDir:      cfg.ConfDir,
		PrivateKey:   private,
	}, cmd)
	if err != nil {
		return nil, err
	}
	if err := iface.Start(); err != nil {
		return nil, err
	}

	s := &Service{
		log:   log,
		cfg:   cfg,
		keys:  keys,
		iface: iface,
		caddy: caddyClient,
	}
	if cfg.AdminPassword != "" {
		h := sha256.Sum256([]byte(cfg.AdminPassword))
		s.adminPasswordHash = h[:]
	}
	return s, nil
}

// Provision creates a new peer whose local service on 'forwardPort' is
// exposed under a fresh subdomain, and returns the client's join config.
func (s *Service) Provision(forwardPort int) (*ProvisionResult, error) {
	if forwardPort < 1 || forwardPort > 65535 {
		return nil, fmt.Errorf("Invalid forward port %v", forwardPort)
	}

	// Key generation doesn't touch interface state, so we do it before
	// entering the interface's critical section.
	private, err := s.keys.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	public, err := s.keys.PublicKey(private)
	if err != nil {
		return nil, err
	}
	slug, err := s.newSlug()
	if err != nil {
		return nil, err
	}

	peer := &wg.Peer{
		Slug:        slug,
		ForwardPort: forwardPort,
		PrivateKey:  private,
		PublicKey:   public,
	}
	if err := s.iface.AddPeer(peer); err != nil {
		return nil, err
	}

	result := &ProvisionResult{
		Peer:       peer,
		ClientConf: wg.ClientConf(peer, s.cfg.Hostname, s.iface.Addr(), s.iface.ListenPort(), s.iface.PublicKey()),
	}
	if err := s.caddy.RegisterRoute(slug, s.cfg.Hostname, peer.Addr, forwardPort); err != nil {
		s.log.Warnf("Tunnel %v is up, but has no public route: %v", slug, err)
		result.RouteWarning = err
	}
	return result, nil
}

// Peers returns a snapshot of the provisioned peers, in provisioning order.
func (s *Service) Peers() []*wg.Peer {
	return s.iface.Peers()
}

// newSlug regenerates on the (tiny) chance of a collision with an existing
// peer's slug. Slugs are not reserved between the check and registration, so
// two concurrent requests can in principle still collide; at 41 bits of
// randomness we accept that risk.
func (s *Service) newSlug() (string, error) {
	for attempt := 0; attempt < 10; attempt++ {
		slug := makeSlug()
		if !s.slugTaken(slug) {
			return slug, nil
		}
	}
	return "", errors.New("Unable to generate a unique slug")
}

func (s *Service) slugTaken(slug string) bool {
	for _, p := range s.iface.Peers() {
		if p.Slug == slug {
			return true
		}
	}
	return false
}
