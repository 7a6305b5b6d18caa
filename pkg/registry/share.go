package registry

import "strings"

// Default anonymous identity (nobody/nogroup).
const (
	DefaultAnonymousUID = 65534
	DefaultAnonymousGID = 65534
)

// IdentityMapping controls how client credentials are rewritten before the
// server acts on their behalf.
type IdentityMapping struct {
	// SingleUser maps every client to the identity the daemon runs as.
	SingleUser bool `mapstructure:"single_user" yaml:"single_user"`

	// MapAllToAnonymous maps every client to the anonymous identity
	// (all_squash).
	MapAllToAnonymous bool `mapstructure:"map_all_to_anonymous" yaml:"map_all_to_anonymous"`

	// MapPrivilegedToAnonymous maps uid 0 to the anonymous identity
	// (root_squash).
	MapPrivilegedToAnonymous bool `mapstructure:"map_privileged_to_anonymous" yaml:"map_privileged_to_anonymous"`

	AnonymousUID uint32 `mapstructure:"anonymous_uid" yaml:"anonymous_uid"`
	AnonymousGID uint32 `mapstructure:"anonymous_gid" yaml:"anonymous_gid"`
}

// Export is one exported directory tree.
type Export struct {
	Path     string
	ReadOnly bool

	// AllowedClients lists IP addresses, CIDR ranges or host names that may
	// mount the export. "*" admits everyone. Empty admits loopback only.
	AllowedClients []string

	Identity IdentityMapping
}

// Contains reports whether p lies inside the export.
func (e *Export) Contains(p string) bool {
	if e.Path == "/" {
		return strings.HasPrefix(p, "/")
	}
	return p == e.Path || strings.HasPrefix(p, e.Path+"/")
}

// Groups returns the client list shown by MOUNT EXPORT.
func (e *Export) Groups() []string {
	if len(e.AllowedClients) == 0 {
		return []string{"127.0.0.1"}
	}
	return append([]string(nil), e.AllowedClients...)
}
