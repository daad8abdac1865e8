// Package caddy keeps Caddy's routing table in sync with the peer registry,
// via Caddy's dynamic admin API.
package caddy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/jpillora/backoff"
)

var ErrRouteSync = errors.New("Failed to register route with Caddy")

// Caddy's default admin API port
const AdminPort = 2019

const routesPath = "/config/apps/http/servers/srv0/routes/"

const syncAttempts = 3

// The slice of Caddy's JSON config that we touch.
// A terminal route matches on the host header and hands the request to a
// subroute holding a single reverse_proxy handler.

type Route struct {
	Match    []Match   `json:"match,omitempty"`
	Handle   []Handler `json:"handle"`
	Terminal bool      `json:"terminal,omitempty"`
}

type Match struct {
	Host []string `json:"host"`
}

type Handler struct {
	Handler   string     `json:"handler"`
	Routes    []Route    `json:"routes,omitempty"`
	Upstreams []Upstream `json:"upstreams,omitempty"`
}

type Upstream struct {
	Dial string `json:"dial"`
}

type Client struct {
	log     logs.Log
	baseURL string
	client  *http.Client
}

// NewClient talks to the Caddy admin API on 'host'. If host carries no port,
// the default admin port is assumed.
func NewClient(log logs.Log, host string) *Client {
	if !strings.Contains(host, ":") {
		host = fmt.Sprintf("%v:%v", host, AdminPort)
	}
	return &Client{
		log:     log,
		baseURL: "http://" + host,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// RegisterRoute adds a terminal route so that requests for
// <slug>.<publicHostname> are reverse-proxied to <target>:<port> over the
// tunnel. The call is additive: existing routes are untouched.
func (c *Client) RegisterRoute(slug, publicHostname string, target netip.Addr, port int) error {
	route := Route{
		Match: []Match{{Host: []string{slug + "." + publicHostname}}},
		Handle: []Handler{{
			Handler: "subroute",
			Routes: []Route{{
				Handle: []Handler{{
					Handler:   "reverse_proxy",
					Upstreams: []Upstream{{Dial: fmt.Sprintf("%v:%v", target, port)}},
				}},
			}},
		}},
		Terminal: true,
	}

	b := &backoff.Backoff{Min: 200 * time.Millisecond, Max: 2 * time.Second}
	var err error
	for attempt := 0; attempt < syncAttempts; attempt++ {
		if err = c.post(routesPath, &route); err == nil {
			c.log.Infof("Registered route %v.%v -> %v:%v", slug, publicHostname, target, port)
			return nil
		}
		c.log.Warnf("Caddy route registration failed (attempt %v): %v", attempt+1, err)
		time.Sleep(b.Duration())
	}
	return fmt.Errorf("%w: %v", ErrRouteSync, err)
}

func (c *Client) post(path string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest("POST", c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%v. %v", resp.Status, strings.TrimSpace(string(msg)))
	}
	return nil
}
