package wg

import (
	"bytes"
	"fmt"
	"net/netip"
	"strconv"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// Write-side model of a wg-quick config file.
// Rendering is deterministic: sections and keys appear in insertion order.

type confFile struct {
	sections []*confSection
}

type confSection struct {
	title string // eg Interface or Peer
	lines []confLine
}

type confLine struct {
	key   string
	value string
}

// Add a new section
func (f *confFile) addSection(title string) *confSection {
	section := &confSection{
		title: title,
	}
	f.sections = append(f.sections, section)
	return section
}

// Set a value in a section
func (s *confSection) set(key, value string) {
	for i := range s.lines {
		if s.lines[i].key == key {
			s.lines[i].value = value
			return
		}
	}
	s.lines = append(s.lines, confLine{
		key:   key,
		value: value,
	})
}

func (f *confFile) marshal() []byte {
	sb := bytes.Buffer{}
	for isection, section := range f.sections {
		if isection != 0 {
			fmt.Fprintf(&sb, "\n")
		}
		fmt.Fprintf(&sb, "[%v]\n", section.title)
		for _, line := range section.lines {
			fmt.Fprintf(&sb, "%v = %v\n", line.key, line.value)
		}
	}
	return sb.Bytes()
}

// renderConf produces the persisted form of the server interface, plus one
// Peer section per provisioned peer, so that the file on disk always
// describes the full peer set.
func renderConf(cfg Config, addr netip.Addr, peers []*Peer) []byte {
	f := &confFile{}
	iface := f.addSection("Interface")
	iface.set("Address", fmt.Sprintf("%v/%v", addr, cfg.Network.Bits()))
	iface.set("SaveConfig", "true")
	iface.set("ListenPort", strconv.Itoa(cfg.ListenPort))
	iface.set("PrivateKey", cfg.PrivateKey.String())
	iface.set("PostUp", fmt.Sprintf("iptables -A FORWARD -i %%i -j ACCEPT; iptables -t nat -A POSTROUTING -o %v -j MASQUERADE", cfg.WANInterface))
	iface.set("PostDown", fmt.Sprintf("iptables -D FORWARD -i %%i -j ACCEPT; iptables -t nat -D POSTROUTING -o %v -j MASQUERADE", cfg.WANInterface))
	for _, p := range peers {
		section := f.addSection("Peer")
		section.set("PublicKey", p.PublicKey.String())
		section.set("AllowedIPs", p.Addr.String()+"/32")
		section.set("PersistentKeepalive", strconv.Itoa(keepaliveSeconds))
	}
	return f.marshal()
}

// ClientConf renders the configuration text a client needs to join the tunnel.
// Pure function of its inputs: rendering twice yields identical bytes.
func ClientConf(peer *Peer, serverHostname string, serverAddr netip.Addr, serverPort int, serverPublicKey wgtypes.Key) string {
	f := &confFile{}
	iface := f.addSection("Interface")
	iface.set("Address", peer.Addr.String()+"/32")
	iface.set("PrivateKey", peer.PrivateKey.String())
	server := f.addSection("Peer")
	server.set("PublicKey", serverPublicKey.String())
	server.set("AllowedIPs", serverAddr.String()+"/32")
	server.set("Endpoint", fmt.Sprintf("%v:%v", serverHostname, serverPort))
	server.set("PersistentKeepalive", strconv.Itoa(keepaliveSeconds))
	return string(f.marshal())
}

// Chosen to traverse typical NAT timeout windows
const keepaliveSeconds = 21
