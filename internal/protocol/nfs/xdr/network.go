package xdr

import (
	"net/netip"
)

// ExtractClientIP returns the host part of a remote address such as
// "10.1.2.3:871" or "[fe80::1]:2049". An empty address yields "unknown";
// anything that does not parse as addr:port is returned unchanged so log
// lines and rate-limit keys still carry something recognisable.
func ExtractClientIP(clientAddr string) string {
	if clientAddr == "" {
		return "unknown"
	}
	ap, err := netip.ParseAddrPort(clientAddr)
	if err != nil {
		return clientAddr
	}
	return ap.Addr().Unmap().String()
}
