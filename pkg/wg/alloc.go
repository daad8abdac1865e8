package wg

import (
	"encoding/binary"
	"errors"
	"net/netip"
)

var ErrAddressSpaceExhausted = errors.New("VPN address space exhausted")

// addrPool hands out host addresses from an IPv4 block in ascending order.
// The cursor only ever moves forward: addresses are never handed out twice,
// even if a peer later disappears.
type addrPool struct {
	network netip.Prefix // masked form of the block
	cursor  netip.Addr   // next candidate address
	last    netip.Addr   // highest usable host address
}

func newAddrPool(network netip.Prefix) *addrPool {
	masked := network.Masked()
	return &addrPool{
		network: masked,
		cursor:  masked.Addr().Next(), // skip the network address itself
		last:    lastHost(masked),
	}
}

// Next returns the next unused host address in the block.
func (p *addrPool) Next() (netip.Addr, error) {
	if !p.last.IsValid() || p.last.Less(p.cursor) {
		return netip.Addr{}, ErrAddressSpaceExhausted
	}
	addr := p.cursor
	p.cursor = p.cursor.Next()
	return addr, nil
}

// lastHost returns the highest usable host address of an IPv4 block,
// i.e. one below the broadcast address. /31 and /32 blocks have no usable
// host range under this scheme, and yield an invalid address.
func lastHost(network netip.Prefix) netip.Addr {
	hostBits := 32 - network.Bits()
	if hostBits < 2 {
		return netip.Addr{}
	}
	a4 := network.Addr().As4()
	broadcast := binary.BigEndian.Uint32(a4[:]) | (1<<hostBits - 1)
	binary.BigEndian.PutUint32(a4[:], broadcast-1)
	return netip.AddrFrom4(a4)
}
