// Package pool implements bounded connection pools for IMAP and SMTP,
// optionally tunneled through a SOCKS5 proxy. The capacity gate is a
// buffered-channel-as-semaphore, the same idiom internal/ratelimit uses
// for throttling API calls, applied here to connection establishment
// instead.
package pool

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/mailcore/engine/internal/apperr"
	"github.com/mailcore/engine/internal/model"
	"golang.org/x/net/proxy"
)

const (
	// DefaultCapacity bounds concurrent connections per pool.
	DefaultCapacity = 10
	// AcquireTimeout bounds how long a caller waits for a free slot.
	AcquireTimeout = 30 * time.Second
)

// Dialer resolves the net.Conn for an endpoint, optionally via a SOCKS5
// proxy.
type Dialer struct {
	ProxyURL string // socks5://[user:pass@]host:port, or ""
}

// Dial connects to addr, wrapped in TLS if enc == EncryptionSSL. Callers
// needing STARTTLS dial plain and upgrade after the protocol greeting.
func (d Dialer) Dial(ctx context.Context, addr string, enc model.Encryption) (net.Conn, error) {
	var dialer proxy.Dialer = &net.Dialer{Timeout: 30 * time.Second}
	if d.ProxyURL != "" {
		p, err := socks5Dialer(d.ProxyURL)
		if err != nil {
			return nil, err
		}
		dialer = p
	}
	type ctxDialer interface {
		DialContext(ctx context.Context, network, address string) (net.Conn, error)
	}
	var conn net.Conn
	var err error
	if cd, ok := dialer.(ctxDialer); ok {
		conn, err = cd.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.Dial("tcp", addr)
	}
	if err != nil {
		return nil, err
	}
	if enc == model.EncryptionSSL {
		host, _, _ := net.SplitHostPort(addr)
		tlsConn := tls.Client(conn, &tls.Config{ServerName: host})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		return tlsConn, nil
	}
	return conn, nil
}

func socks5Dialer(proxyURL string) (proxy.Dialer, error) {
	u, err := parseSocks5URL(proxyURL)
	if err != nil {
		return nil, err
	}
	var auth *proxy.Auth
	if u.user != "" {
		auth = &proxy.Auth{User: u.user, Password: u.pass}
	}
	return proxy.SOCKS5("tcp", u.hostport, auth, proxy.Direct)
}

// semaphore is a bounded capacity gate with a timeout-aware Acquire.
type semaphore chan struct{}

func newSemaphore(n int) semaphore { return make(semaphore, n) }

func (s semaphore) Acquire(ctx context.Context) error {
	select {
	case s <- struct{}{}:
		return nil
	case <-ctx.Done():
		return apperr.PoolTimeout(ctx.Err(), "timed out acquiring connection slot")
	}
}

func (s semaphore) Release() { <-s }

// acquireWithTimeout is a convenience wrapper binding AcquireTimeout.
func acquireWithTimeout(s semaphore) error {
	ctx, cancel := context.WithTimeout(context.Background(), AcquireTimeout)
	defer cancel()
	return s.Acquire(ctx)
}

func addrOf(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
