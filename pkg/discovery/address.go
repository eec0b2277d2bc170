package discovery

import (
	"net"
	"sort"
)

// SortIPsByPreference orders addresses for dialing a bridge on the local
// network: private IPv4 first, then link-reachable IPv6, then the rest.
func SortIPsByPreference(ips []net.IP) []net.IP {
	if len(ips) <= 1 {
		return ips
	}
	sorted := make([]net.IP, len(ips))
	copy(sorted, ips)
	sort.SliceStable(sorted, func(i, j int) bool {
		return ipPriority(sorted[i]) < ipPriority(sorted[j])
	})
	return sorted
}

// ipPriority returns the priority of an IP address (lower is better).
func ipPriority(ip net.IP) int {
	if ip.To16() == nil {
		return 99
	}
	switch {
	case ip.IsLoopback():
		return 80
	case ip.To4() != nil && ip.IsPrivate():
		return 0
	case ip.To4() != nil:
		return 1
	case ip.IsPrivate():
		return 2
	case ip.IsGlobalUnicast():
		return 3
	case ip.IsLinkLocalUnicast():
		return 4
	}
	return 10
}
