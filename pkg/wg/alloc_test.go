package wg

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextAddr(t *testing.T) {
	do := func(network string, expect []string) {
		pool := newAddrPool(netip.MustParsePrefix(network))
		for _, e := range expect {
			addr, err := pool.Next()
			require.NoError(t, err)
			assert.Equal(t, e, addr.String())
		}
		_, err := pool.Next()
		require.ErrorIs(t, err, ErrAddressSpaceExhausted)
		// exhaustion is permanent
		_, err = pool.Next()
		require.ErrorIs(t, err, ErrAddressSpaceExhausted)
	}

	do("10.101.10.1/30", []string{"10.101.10.1", "10.101.10.2"})
	do("10.0.0.0/29", []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4", "10.0.0.5", "10.0.0.6"})

	// /31 and /32 have no usable host range
	do("192.168.1.77/31", []string{})
	do("192.168.1.77/32", []string{})
}

func TestNextAddrAscending(t *testing.T) {
	pool := newAddrPool(netip.MustParsePrefix("10.101.10.1/24"))
	prev := netip.Addr{}
	seen := map[netip.Addr]bool{}
	for i := 0; i < 254; i++ {
		addr, err := pool.Next()
		require.NoError(t, err)
		require.False(t, seen[addr])
		require.True(t, prev.Less(addr))
		seen[addr] = true
		prev = addr
	}
	_, err := pool.Next()
	require.ErrorIs(t, err, ErrAddressSpaceExhausted)
}
