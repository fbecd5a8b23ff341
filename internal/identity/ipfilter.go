package identity

import (
	"fmt"
	"net/netip"
	"strings"
)

// IPFilter holds the login blacklist and whitelist. Entries are single
// addresses or CIDR prefixes.
type IPFilter struct {
	blacklist []netip.Prefix
	whitelist []netip.Prefix
}

func NewIPFilter(blacklist, whitelist []string) (*IPFilter, error) {
	bl, err := parsePrefixes(blacklist)
	if err != nil {
		return nil, fmt.Errorf("ip blacklist: %w", err)
	}
	wl, err := parsePrefixes(whitelist)
	if err != nil {
		return nil, fmt.Errorf("ip whitelist: %w", err)
	}
	return &IPFilter{blacklist: bl, whitelist: wl}, nil
}

func parsePrefixes(entries []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, err
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, err
		}
		out = append(out, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
	}
	return out, nil
}

func contains(prefixes []netip.Prefix, addr netip.Addr) bool {
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Blacklisted reports whether ip matches the blacklist. Unparseable
// addresses never match.
func (f *IPFilter) Blacklisted(ip string) bool {
	if f == nil || len(f.blacklist) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(hostOnly(ip))
	if err != nil {
		return false
	}
	return contains(f.blacklist, addr.Unmap())
}

// Whitelisted reports whether ip passes the whitelist. An empty whitelist
// admits everything; a non-empty one rejects unparseable addresses.
func (f *IPFilter) Whitelisted(ip string) bool {
	if f == nil || len(f.whitelist) == 0 {
		return true
	}
	addr, err := netip.ParseAddr(hostOnly(ip))
	if err != nil {
		return false
	}
	return contains(f.whitelist, addr.Unmap())
}

// hostOnly strips a port from "host:port" or "[v6]:port" forms.
func hostOnly(ip string) string {
	if ap, err := netip.ParseAddrPort(ip); err == nil {
		return ap.Addr().String()
	}
	return ip
}
