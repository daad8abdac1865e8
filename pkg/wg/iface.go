package wg

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/jpillora/backoff"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

var ErrInterfaceActivation = errors.New("Failed to bring WireGuard interface up")
var ErrInterfaceReload = errors.New("Failed to reload WireGuard interface")

const reloadAttempts = 3

// Config of the server-side tunnel interface.
type Config struct {
	Name         string       // OS interface name, also the persisted config filename
	Network      netip.Prefix // Address space for the server and all peers
	ListenPort   int          // UDP port that the WireGuard endpoint listens on
	WANInterface string       // Outbound interface for the NAT rules
	ConfDir      string       // Defaults to /etc/wireguard
	PrivateKey   wgtypes.Key  // Server identity, generated once at startup
}

// Peer is one provisioned tunnel client.
// A peer lives only in the interface's registry and in the persisted config;
// its client-side config text is handed to the caller and never retained.
type Peer struct {
	Slug        string      // Public subdomain label
	ForwardPort int         // Port on the peer's side that its service listens on
	Addr        netip.Addr  // Assigned VPN address, exclusively owned by this peer
	PrivateKey  wgtypes.Key
	PublicKey   wgtypes.Key
	CreatedAt   time.Time
}

type state int

const (
	stateCreated state = iota
	stateConfigWritten
	stateUp
	stateReloading
)

// Interface owns the server-side WireGuard interface: the address pool, the
// peer registry, the persisted config file, and the external up/reload
// operations that keep the kernel in sync with the registry.
type Interface struct {
	log logs.Log
	cfg Config
	cmd Commander

	addr      netip.Addr  // the server's own VPN address
	publicKey wgtypes.Key

	// lock guards the allocator, the peer list, the persisted config file and
	// the reload sequence. Allocation through reload must be atomic relative
	// to other provisioning attempts, otherwise two peers can end up with the
	// same address, or the reload can act on a half-written file.
	lock  sync.Mutex
	state state
	pool  *addrPool
	peers []*Peer
}

func NewInterface(log logs.Log, cfg Config, cmd Commander) (*Interface, error) {
	if cfg.ConfDir == "" {
		cfg.ConfDir = "/etc/wireguard"
	}
	pool := newAddrPool(cfg.Network)
	// The server takes the first host address in the block
	addr, err := pool.Next()
	if err != nil {
		return nil, err
	}
	return &Interface{
		log:       log,
		cfg:       cfg,
		cmd:       cmd,
		addr:      addr,
		publicKey: cfg.PrivateKey.PublicKey(),
		pool:      pool,
		state:     stateCreated,
	}, nil
}

func (f *Interface) Name() string { return f.cfg.Name }

func (f *Interface) Addr() netip.Addr { return f.addr }

func (f *Interface) ListenPort() int { return f.cfg.ListenPort }

func (f *Interface) PublicKey() wgtypes.Key { return f.publicKey }

func (f *Interface) ConfPath() string {
	return filepath.Join(f.cfg.ConfDir, f.cfg.Name+".conf")
}

// Start persists the initial configuration and brings the OS interface up.
// Failure here is fatal to process startup.
func (f *Interface) Start() error {
	f.lock.Lock()
	defer f.lock.Unlock()

	if f.state != stateCreated {
		return fmt.Errorf("Interface %v has already been started", f.cfg.Name)
	}
	if err := f.writeConf(); err != nil {
		return err
	}
	f.state = stateConfigWritten
	if err := f.cmd.Up(f.ConfPath()); err != nil {
		return fmt.Errorf("%w: %v", ErrInterfaceActivation, err)
	}
	f.state = stateUp
	f.log.Infof("WireGuard interface %v is up on %v, listening on port %v", f.cfg.Name, f.addr, f.cfg.ListenPort)
	return nil
}

// AddPeer assigns the peer an address, appends it to the registry, persists
// the config, and reloads the running interface. The whole sequence runs
// under the interface lock.
// If the reload fails, the peer remains registered and the persisted config
// retains it; the caller should treat provisioning as degraded.
func (f *Interface) AddPeer(p *Peer) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	if f.state != stateUp {
		return fmt.Errorf("Interface %v is not up", f.cfg.Name)
	}
	addr, err := f.pool.Next()
	if err != nil {
		return err
	}
	p.Addr = addr
	p.CreatedAt = time.Now().UTC()
	f.peers = append(f.peers, p)

	if err := f.writeConf(); err != nil {
		return fmt.Errorf("%w: %v", ErrInterfaceReload, err)
	}
	f.state = stateReloading
	err = f.reload()
	f.state = stateUp
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInterfaceReload, err)
	}
	f.log.Infof("Added peer %v with IP %v", p.PublicKey, p.Addr)
	return nil
}

// Peers returns a snapshot of the registry, in provisioning order.
func (f *Interface) Peers() []*Peer {
	f.lock.Lock()
	defer f.lock.Unlock()

	return append([]*Peer{}, f.peers...)
}

func (f *Interface) reload() error {
	b := &backoff.Backoff{Min: 100 * time.Millisecond, Max: 2 * time.Second}
	var err error
	for attempt := 0; attempt < reloadAttempts; attempt++ {
		if err = f.cmd.Reload(f.cfg.Name, f.ConfPath()); err == nil {
			return nil
		}
		f.log.Warnf("Reload of %v failed (attempt %v): %v", f.cfg.Name, attempt+1, err)
		time.Sleep(b.Duration())
	}
	return err
}

// writeConf persists the full interface config with a write-then-rename, so
// that the reload mechanism never sees a half-written file.
func (f *Interface) writeConf() error {
	raw := renderConf(f.cfg, f.addr, f.peers)
	tmp, err := os.CreateTemp(f.cfg.ConfDir, f.cfg.Name+".conf.tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.ConfPath())
}
