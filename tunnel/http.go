package tunnel

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/httprate"
	"github.com/julienschmidt/httprouter"
	"github.com/pyjam-as/tunnel/pkg/wg"
	"github.com/pyjam-as/tunnel/pkg/www"
)

// ListenHTTP serves the provisioning API.
func (s *Service) ListenHTTP(addr string) error {
	s.log.Infof("Listening on %v", addr)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.httpHandler(),
	}
	return s.httpServer.ListenAndServe()
}

// Anything under /api/ goes to the router; every other path is treated as a
// provisioning request, because the tunnel-creation route is simply
// GET /<port>.
func (s *Service) httpHandler() http.Handler {
	router := httprouter.New()

	admin := func(method, route string, handle func(w http.ResponseWriter, r *http.Request), requestLimit int, windowLength time.Duration) {
		withAdmin := func(w http.ResponseWriter, r *http.Request) {
			username, password, _ := r.BasicAuth()
			h := sha256.Sum256([]byte(password))
			if username == "admin" && s.adminPasswordHash != nil && subtle.ConstantTimeCompare(s.adminPasswordHash, h[:]) == 1 {
				handle(w, r)
			} else {
				http.Error(w, "Forbidden", http.StatusForbidden)
			}
		}

		limited := httprate.Limit(requestLimit, windowLength, httprate.WithKeyFuncs(httprate.KeyByIP))

		www.Handle(s.log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			limited(http.HandlerFunc(withAdmin)).ServeHTTP(w, r)
		})
	}

	www.Handle(s.log, router, "GET", "/api/ping", func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
		www.SendOK(w)
	})
	admin("GET", "/api/peers", s.httpPeers, 5, time.Second)

	provisionLimit := httprate.Limit(5, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))
	provision := provisionLimit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		www.RunProtected(s.log, w, r, func() { s.httpProvision(w, r) })
	}))

	front := func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			router.ServeHTTP(w, r)
		} else {
			provision.ServeHTTP(w, r)
		}
	}
	return http.HandlerFunc(front)
}

// Create a new tunnel. The request path is the port that the client wants
// requests forwarded to, eg GET /8080. The response body is the client's
// WireGuard config.
func (s *Service) httpProvision(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		www.Panic(http.StatusMethodNotAllowed, "Method Not Allowed")
	}
	portStr := strings.Trim(r.URL.Path, "/")
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		www.PanicBadRequestf("Invalid forward port '%v'", portStr)
	}

	result, err := s.Provision(port)
	if errors.Is(err, wg.ErrAddressSpaceExhausted) {
		www.Panic(http.StatusServiceUnavailable, err.Error())
	} else if errors.Is(err, wg.ErrInterfaceReload) {
		www.Panic(http.StatusBadGateway, err.Error())
	}
	www.Check(err)

	text := result.ClientConf
	if result.RouteWarning != nil {
		text = fmt.Sprintf("# WARNING: the tunnel is up, but public routing failed: %v\n%v", result.RouteWarning, text)
	}
	www.SendText(w, text)
}

type peerJSON struct {
	Slug        string    `json:"slug"`
	VpnIP       string    `json:"vpnIP"`
	ForwardPort int       `json:"forwardPort"`
	PublicKey   string    `json:"publicKey"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (s *Service) httpPeers(w http.ResponseWriter, r *http.Request) {
	peers := []peerJSON{}
	for _, p := range s.iface.Peers() {
		peers = append(peers, peerJSON{
			Slug:        p.Slug,
			VpnIP:       p.Addr.String(),
			ForwardPort: p.ForwardPort,
			PublicKey:   p.PublicKey.String(),
			CreatedAt:   p.CreatedAt,
		})
	}
	www.SendJSON(w, peers)
}
