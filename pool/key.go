package pool

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// KeyFor builds the pool key for a destination: scheme, host and port, with
// the proxy appended when one is used. Default ports are filled in so
// "http://a" and "http://a:80" share handles.
func KeyFor(rawURL, proxy string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("pool: invalid url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if scheme == "" || host == "" {
		return "", fmt.Errorf("pool: url %q needs a scheme and host", rawURL)
	}

	port := u.Port()
	if port == "" {
		switch scheme {
		case "https":
			port = "443"
		default:
			port = "80"
		}
	}

	key := scheme + "://" + net.JoinHostPort(host, port)
	if proxy != "" {
		key += "|proxy=" + proxy
	}
	return key, nil
}
