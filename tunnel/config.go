package tunnel

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
)

// Config is loaded once at process startup, from the environment.
type Config struct {
	Hostname      string       // Public hostname under which tunnels are exposed
	CaddyHostname string       // Host of the Caddy admin API
	Network       netip.Prefix // VPN address block for the server and all peers
	ListenPort    int          // WireGuard UDP listen port
	InterfaceName string       // OS name of the WireGuard interface
	WANInterface  string       // Outbound interface for the NAT rules
	ConfDir       string       // Directory holding the persisted interface config
	HTTPAddr      string       // Listen address of the provisioning API
	AdminPassword string       // Enables the admin API when set
}

func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Hostname:      envDefault("TUNNEL_HOSTNAME", "tunnel.pyjam.as"),
		CaddyHostname: envDefault("TUNNEL_CADDY_HOSTNAME", "localhost"),
		InterfaceName: envDefault("TUNNEL_WG_NAME", "tunnel0"),
		WANInterface:  envDefault("TUNNEL_WAN_INTERFACE", "ens12"),
		ConfDir:       envDefault("TUNNEL_CONF_DIR", "/etc/wireguard"),
		HTTPAddr:      envDefault("TUNNEL_HTTP_ADDR", ":8080"),
		AdminPassword: os.Getenv("TUNNEL_ADMIN_PASSWORD"),
	}
	network, err := netip.ParsePrefix(envDefault("TUNNEL_WG_NETWORK", "10.101.10.1/24"))
	if err != nil {
		return Config{}, fmt.Errorf("Invalid TUNNEL_WG_NETWORK: %w", err)
	}
	if !network.Addr().Is4() {
		return Config{}, fmt.Errorf("TUNNEL_WG_NETWORK must be an IPv4 block")
	}
	cfg.Network = network
	port, err := strconv.Atoi(envDefault("TUNNEL_WG_PORT", "54321"))
	if err != nil {
		return Config{}, fmt.Errorf("Invalid TUNNEL_WG_PORT: %w", err)
	}
	cfg.ListenPort = port
	return cfg, nil
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
