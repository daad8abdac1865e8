package caddy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"net/url"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, serverURL string) *Client {
	u, err := url.Parse(serverURL)
	require.NoError(t, err)
	return NewClient(logs.NewTestingLog(t), u.Host)
}

func TestRegisterRoute(t *testing.T) {
	var gotPath string
	var got Route
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer ts.Close()

	c := testClient(t, ts.URL)
	err := c.RegisterRoute("ab3f9k2p", "tunnel.example.com", netip.MustParseAddr("10.101.10.2"), 8080)
	require.NoError(t, err)

	assert.Equal(t, "/config/apps/http/servers/srv0/routes/", gotPath)
	assert.True(t, got.Terminal)
	require.Len(t, got.Match, 1)
	assert.Equal(t, []string{"ab3f9k2p.tunnel.example.com"}, got.Match[0].Host)

	require.Len(t, got.Handle, 1)
	assert.Equal(t, "subroute", got.Handle[0].Handler)
	require.Len(t, got.Handle[0].Routes, 1)
	inner := got.Handle[0].Routes[0]
	require.Len(t, inner.Handle, 1)
	assert.Equal(t, "reverse_proxy", inner.Handle[0].Handler)
	require.Len(t, inner.Handle[0].Upstreams, 1)
	assert.Equal(t, "10.101.10.2:8080", inner.Handle[0].Upstreams[0].Dial)
}

func TestRegisterRouteFailure(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "route config invalid", http.StatusBadRequest)
	}))
	defer ts.Close()

	c := testClient(t, ts.URL)
	err := c.RegisterRoute("ab3f9k2p", "tunnel.example.com", netip.MustParseAddr("10.101.10.2"), 8080)
	require.ErrorIs(t, err, ErrRouteSync)
	assert.Contains(t, err.Error(), "route config invalid")

	// The registration is retried before giving up
	assert.Equal(t, syncAttempts, calls)
}
