package discovery

import (
	"cmp"
	"net"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// InstanceName builds a DNS-SD instance name for an endpoint of the named
// protocol: the protocol name followed by a random suffix, so several
// endpoints on one host stay distinct.
func InstanceName(protocolName string) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
	if protocolName == "" {
		return suffix
	}
	return protocolName + "-" + suffix
}

// Address ranks used when picking which resolved address to dial.
const (
	rankGlobal6 = iota
	rankIPv4
	rankULA
	rankLinkLocal
	rankOther
	rankLoopback
	rankUnusable
)

// SortIPsByPreference orders addresses by how likely they are to be
// reachable from another host: global IPv6, IPv4, unique-local IPv6,
// link-local IPv6 (needs a zone to dial), then loopback. The input slice is
// left untouched.
func SortIPsByPreference(ips []net.IP) []net.IP {
	if len(ips) <= 1 {
		return ips
	}
	sorted := slices.Clone(ips)
	slices.SortStableFunc(sorted, func(a, b net.IP) int {
		return cmp.Compare(rank(a), rank(b))
	})
	return sorted
}

func rank(ip net.IP) int {
	switch {
	case ip.To16() == nil, ip.IsMulticast(), ip.IsUnspecified():
		return rankUnusable
	case ip.IsLoopback():
		return rankLoopback
	case ip.To4() != nil:
		return rankIPv4
	case ip.IsPrivate():
		// fc00::/7
		return rankULA
	case ip.IsLinkLocalUnicast():
		return rankLinkLocal
	case ip.IsGlobalUnicast():
		return rankGlobal6
	}
	return rankOther
}
