package pool

import (
	"net/url"
	"strconv"

	"github.com/mailcore/engine/internal/apperr"
)

type socks5URL struct {
	hostport string
	user     string
	pass     string
}

// parseSocks5URL validates and parses a socks5://[user:pass@]host:port
// proxy URL, grounded on the original settings/proxy.rs validation: host
// and port required, port in [1,65535], credentials optional.
func parseSocks5URL(raw string) (*socks5URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, apperr.InvalidParam("invalid proxy url: %v", err)
	}
	if u.Scheme != "socks5" && u.Scheme != "socks5h" {
		return nil, apperr.InvalidParam("proxy url must use socks5:// scheme")
	}
	host := u.Hostname()
	if host == "" {
		return nil, apperr.InvalidParam("proxy url missing host")
	}
	portStr := u.Port()
	if portStr == "" {
		return nil, apperr.InvalidParam("proxy url missing port")
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return nil, apperr.InvalidParam("proxy url port out of range: %s", portStr)
	}
	out := &socks5URL{hostport: host + ":" + portStr}
	if u.User != nil {
		out.user = u.User.Username()
		out.pass, _ = u.User.Password()
	}
	return out, nil
}

// ValidateProxyURL is the exported validation entrypoint used when
// creating/updating a Proxy record.
func ValidateProxyURL(raw string) error {
	_, err := parseSocks5URL(raw)
	return err
}
