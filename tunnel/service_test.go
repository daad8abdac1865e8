package tunnel

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/pyjam-as/tunnel/pkg/caddy"
	"github.com/pyjam-as/tunnel/pkg/wg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// In-process key source, so that tests don't need the wg binary
type testKeys struct{}

func (testKeys) GeneratePrivateKey() (wgtypes.Key, error) {
	return wgtypes.GeneratePrivateKey()
}

func (testKeys) PublicKey(private wgtypes.Key) (wgtypes.Key, error) {
	return private.PublicKey(), nil
}

type fakeCommander struct{}

func (fakeCommander) Up(confPath string) error           { return nil }
func (fakeCommander) Reload(name, confPath string) error { return nil }

func testCaddyHost(t *testing.T, serverURL string) string {
	u, err := url.Parse(serverURL)
	require.NoError(t, err)
	return u.Host
}

func startTestService(t *testing.T, network, caddyHost, adminPassword string) *Service {
	log := logs.NewTestingLog(t)
	cfg := Config{
		Hostname:      "tunnel.example.com",
		CaddyHostname: caddyHost,
		Network:       netip.MustParsePrefix(network),
		ListenPort:    54321,
		InterfaceName: "tunnel0",
		WANInterface:  "eth0",
		ConfDir:       t.TempDir(),
		AdminPassword: adminPassword,
	}
	svc, err := StartService(log, cfg, testKeys{}, fakeCommander{}, caddy.NewClient(log, caddyHost))
	require.NoError(t, err)
	return svc
}

func okCaddy(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
}

func TestProvision(t *testing.T) {
	ts := okCaddy(t)
	defer ts.Close()
	svc := startTestService(t, "10.101.10.1/24", testCaddyHost(t, ts.URL), "")

	result, err := svc.Provision(8080)
	require.NoError(t, err)
	require.Nil(t, result.RouteWarning)

	assert.Equal(t, "10.101.10.2", result.Peer.Addr.String())
	assert.Equal(t, 8080, result.Peer.ForwardPort)
	assert.Len(t, result.Peer.Slug, slugLen)
	for _, c := range result.Peer.Slug {
		assert.Contains(t, slugChars, string(c))
	}

	assert.Contains(t, result.ClientConf, "Address = 10.101.10.2/32")
	assert.Contains(t, result.ClientConf, "PrivateKey = "+result.Peer.PrivateKey.String())
	assert.Contains(t, result.ClientConf, "AllowedIPs = 10.101.10.1/32")
	assert.Contains(t, result.ClientConf, "Endpoint = tunnel.example.com:54321")

	second, err := svc.Provision(9090)
	require.NoError(t, err)
	assert.Equal(t, "10.101.10.3", second.Peer.Addr.String())
	assert.NotEqual(t, result.Peer.Slug, second.Peer.Slug)
	require.Len(t, svc.Peers(), 2)
}

func TestProvisionBadPort(t *testing.T) {
	ts := okCaddy(t)
	defer ts.Close()
	svc := startTestService(t, "10.101.10.1/24", testCaddyHost(t, ts.URL), "")

	_, err := svc.Provision(0)
	require.Error(t, err)
	_, err = svc.Provision(65536)
	require.Error(t, err)
	require.Empty(t, svc.Peers())
}

func TestProvisionRouteWarning(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "admin endpoint down", http.StatusInternalServerError)
	}))
	defer ts.Close()
	svc := startTestService(t, "10.101.10.1/24", testCaddyHost(t, ts.URL), "")

	result, err := svc.Provision(8080)
	require.NoError(t, err)
	require.ErrorIs(t, result.RouteWarning, caddy.ErrRouteSync)

	// The tunnel itself is live: the peer is registered and has its config
	require.Len(t, svc.Peers(), 1)
	assert.Contains(t, result.ClientConf, "[Interface]")
}

func TestProvisionExhaustion(t *testing.T) {
	ts := okCaddy(t)
	defer ts.Close()
	// /30: the server takes 10.0.0.1, leaving a single peer address
	svc := startTestService(t, "10.0.0.0/30", testCaddyHost(t, ts.URL), "")

	_, err := svc.Provision(8080)
	require.NoError(t, err)
	_, err = svc.Provision(8081)
	require.ErrorIs(t, err, wg.ErrAddressSpaceExhausted)
	require.Len(t, svc.Peers(), 1)
}

func TestProvisionConcurrent(t *testing.T) {
	ts := okCaddy(t)
	defer ts.Close()
	svc := startTestService(t, "10.101.10.1/24", testCaddyHost(t, ts.URL), "")

	const n = 8
	wait := sync.WaitGroup{}
	for i := 0; i < n; i++ {
		wait.Add(1)
		go func(i int) {
			defer wait.Done()
			_, err := svc.Provision(8000 + i)
			require.NoError(t, err)
		}(i)
	}
	wait.Wait()

	peers := svc.Peers()
	require.Len(t, peers, n)
	seen := map[netip.Addr]bool{}
	for _, p := range peers {
		require.False(t, seen[p.Addr], "address %v assigned twice", p.Addr)
		seen[p.Addr] = true
	}
}

func TestMakeSlug(t *testing.T) {
	a := makeSlug()
	b := makeSlug()
	assert.Len(t, a, slugLen)
	assert.NotEqual(t, a, b)
	for _, c := range a + b {
		assert.True(t, strings.ContainsRune(slugChars, c))
	}
}
