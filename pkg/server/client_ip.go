package server

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/vango-dev/servermanager/pkg/dispatch"
)

// proxyMatcher holds the trusted proxy set.
type proxyMatcher struct {
	ips  map[string]struct{}
	nets []*net.IPNet
}

func newProxyMatcher(entries []string, logger *slog.Logger) *proxyMatcher {
	if len(entries) == 0 {
		return nil
	}

	m := &proxyMatcher{ips: make(map[string]struct{})}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			_, network, err := net.ParseCIDR(entry)
			if err != nil {
				logger.Warn("invalid trusted proxy CIDR", "entry", entry, "error", err)
				continue
			}
			m.nets = append(m.nets, network)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			logger.Warn("invalid trusted proxy IP", "entry", entry)
			continue
		}
		m.ips[ip.String()] = struct{}{}
	}
	if len(m.ips) == 0 && len(m.nets) == 0 {
		return nil
	}
	return m
}

func (m *proxyMatcher) trusts(ip net.IP) bool {
	if m == nil || ip == nil {
		return false
	}
	if _, ok := m.ips[ip.String()]; ok {
		return true
	}
	for _, n := range m.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// clientIP returns the client address. Forwarding headers are only honored
// when the peer is a trusted proxy; the right-most untrusted hop wins.
func (s *Server) clientIP(r *http.Request) string {
	remote := remoteIP(r)
	if remote == nil {
		return ""
	}
	if !s.proxies.trusts(remote) {
		return remote.String()
	}

	hops := parseForwardedFor(r.Header.Get("Forwarded"))
	if len(hops) == 0 {
		hops = parseXForwardedFor(r.Header.Get("X-Forwarded-For"))
	}
	for i := len(hops) - 1; i >= 0; i-- {
		if !s.proxies.trusts(hops[i]) {
			return hops[i].String()
		}
	}
	if len(hops) > 0 {
		return hops[0].String()
	}
	return remote.String()
}

// protocol reports "https" for TLS requests and for requests a trusted
// proxy marks as https.
func (s *Server) protocol(r *http.Request) string {
	if r.TLS != nil {
		return dispatch.ProtocolHTTPS
	}
	if s.proxies.trusts(remoteIP(r)) && strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return dispatch.ProtocolHTTPS
	}
	return dispatch.ProtocolHTTP
}

func remoteIP(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return net.ParseIP(host)
}

func parseForwardedFor(header string) []net.IP {
	if header == "" {
		return nil
	}

	var out []net.IP
	for _, part := range strings.Split(header, ",") {
		for _, param := range strings.Split(part, ";") {
			key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
			if !ok || !strings.EqualFold(strings.TrimSpace(key), "for") {
				continue
			}
			if ip := parseForwardedIP(value); ip != nil {
				out = append(out, ip)
			}
		}
	}
	return out
}

func parseXForwardedFor(header string) []net.IP {
	if header == "" {
		return nil
	}

	var out []net.IP
	for _, part := range strings.Split(header, ",") {
		if ip := parseForwardedIP(part); ip != nil {
			out = append(out, ip)
		}
	}
	return out
}

func parseForwardedIP(value string) net.IP {
	value = strings.Trim(strings.TrimSpace(value), "\"")
	if value == "" || strings.EqualFold(value, "unknown") {
		return nil
	}

	host := value
	if strings.HasPrefix(host, "[") {
		if end := strings.Index(host, "]"); end != -1 {
			host = host[1:end]
		}
	} else if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	if zone := strings.Index(host, "%"); zone != -1 {
		host = host[:zone]
	}
	return net.ParseIP(host)
}
