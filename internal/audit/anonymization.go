package audit

import (
	"net/netip"
)

// AnonymizeIP truncates an address before storage: IPv4 keeps the /24 and
// IPv6 keeps the /48. Invalid input yields "".
func AnonymizeIP(ipStr string) string {
	addr, err := netip.ParseAddr(ipStr)
	if err != nil {
		return ""
	}
	addr = addr.Unmap().WithZone("")

	bits := 48
	if addr.Is4() {
		bits = 24
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return ""
	}
	return prefix.Addr().String()
}
