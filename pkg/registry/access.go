package registry

import (
	"fmt"
	"net"
)

// Credentials are the caller identity carried by an RPC request.
// Anonymous is set for AUTH_NULL callers.
type Credentials struct {
	Anonymous bool
	UID       uint32
	GID       uint32
	GIDs      []uint32
}

// Identity is the effective identity the server acts as.
type Identity struct {
	UID  uint32
	GID  uint32
	GIDs []uint32
}

func (i Identity) String() string {
	return fmt.Sprintf("uid=%d gid=%d", i.UID, i.GID)
}

// InGroup reports whether gid is the primary or a supplementary group.
func (i Identity) InGroup(gid uint32) bool {
	if i.GID == gid {
		return true
	}
	for _, g := range i.GIDs {
		if g == gid {
			return true
		}
	}
	return false
}

// Allowed reports whether clientIP may access exp.
func (r *Registry) Allowed(exp *Export, clientIP string) bool {
	ip := net.ParseIP(clientIP)
	if ip == nil {
		return false
	}
	if len(exp.AllowedClients) == 0 {
		return ip.IsLoopback()
	}
	for _, pattern := range exp.AllowedClients {
		if matchesClient(ip, pattern) {
			return true
		}
	}
	return false
}

// matchesClient checks an IP against a CIDR, an exact address or a host
// name.
func matchesClient(ip net.IP, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if _, ipNet, err := net.ParseCIDR(pattern); err == nil {
		return ipNet.Contains(ip)
	}
	if p := net.ParseIP(pattern); p != nil {
		return p.Equal(ip)
	}
	addrs, err := lookupHost(pattern)
	if err != nil {
		return false
	}
	for _, a := range addrs {
		if p := net.ParseIP(a); p != nil && p.Equal(ip) {
			return true
		}
	}
	return false
}

var lookupHost = net.LookupHost

// MapIdentity applies the export's identity mapping to cred.
func (r *Registry) MapIdentity(exp *Export, cred Credentials) Identity {
	m := exp.Identity
	anon := Identity{UID: m.AnonymousUID, GID: m.AnonymousGID, GIDs: []uint32{m.AnonymousGID}}

	switch {
	case m.SingleUser:
		return r.daemon
	case cred.Anonymous, m.MapAllToAnonymous:
		return anon
	case m.MapPrivilegedToAnonymous && cred.UID == 0:
		return anon
	}
	return Identity{UID: cred.UID, GID: cred.GID, GIDs: append([]uint32(nil), cred.GIDs...)}
}
