package service

import (
	"net/url"
	"strings"
)

var defaultPorts = map[string]string{
	"ws":    "80",
	"http":  "80",
	"wss":   "443",
	"https": "443",
}

// NormalizeURL maps equivalent relay URLs to one key: scheme and host are
// lowercased, default ports and trailing slashes dropped, fragments removed.
// Input that does not parse as an absolute URL is only trimmed and lowercased.
func NormalizeURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return strings.TrimRight(strings.ToLower(trimmed), "/")
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port := u.Port(); port != "" && port != defaultPorts[scheme] {
		host += ":" + port
	}

	out := scheme + "://" + host + strings.TrimRight(u.EscapedPath(), "/")
	if u.RawQuery != "" {
		out += "?" + u.RawQuery
	}
	return out
}
