package resolve

import (
	"hash/fnv"
	"net"
)

// DeriveAddress deterministically maps a service name to a group in
// 239.0.0.0/8. The partner radio daemon computes the same mapping from the
// same name, so the algorithm is fixed: a 32-bit FNV-1 digest of the name
// supplies the low 24 bits under a fixed 239 top octet, then two collision
// rules steer the result away from the 239.0.0.0/24 and 239.128.0.0/24
// subranges, whose low 23 bits collide at the Ethernet MAC layer.
func DeriveAddress(name string) net.IP {
	h := fnv.New32()
	h.Write([]byte(name))
	addr := 0xEF000000 | (h.Sum32() & 0x00FFFFFF)

	if addr&0x007FFF00 == 0 {
		// Fold the last octet into the third to escape the reserved range.
		addr |= (addr & 0xFF) << 8
	}
	if addr&0x007FFF00 == 0 {
		// Name hashed to x.0.0.0 exactly; force a nonzero second octet.
		addr |= 0x00100000
	}

	return net.IPv4(byte(addr>>24), byte(addr>>16), byte(addr>>8), byte(addr))
}
