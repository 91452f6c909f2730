package token

import "net/netip"

// IPAllowed checks a candidate address against an allow-list of exact
// addresses or CIDR blocks. A nil or empty whitelist allows any address.
// A candidate that does not parse as an IP is rejected (fail closed).
// Malformed whitelist entries are skipped rather than matched.
func IPAllowed(address string, whitelist []string) bool {
	if len(whitelist) == 0 {
		return true
	}

	addr, err := netip.ParseAddr(address)
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	for _, entry := range whitelist {
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			if prefix.Contains(addr) {
				return true
			}
			continue
		}
		if allowed, err := netip.ParseAddr(entry); err == nil {
			if allowed.Unmap() == addr {
				return true
			}
		}
	}
	return false
}
