package pool

import (
	"context"
	"fmt"

	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/mailcore/engine/internal/apperr"
	"github.com/mailcore/engine/internal/model"
)

// IMAPPool hands out validated *imapclient.Client connections for one
// account, capped at DefaultCapacity concurrent connections.
type IMAPPool struct {
	cfg      model.ImapConfig
	username string
	password string
	proxyURL string
	sem      semaphore
}

// NewIMAPPool builds a pool for the given IMAP endpoint and credentials.
func NewIMAPPool(cfg model.ImapConfig, username, password, proxyURL string) *IMAPPool {
	return &IMAPPool{cfg: cfg, username: username, password: password, proxyURL: proxyURL, sem: newSemaphore(DefaultCapacity)}
}

// Conn is a leased connection; callers must call Release when done.
type Conn struct {
	Client *imapclient.Client
	pool   *IMAPPool
}

func (c *Conn) Release() {
	c.pool.sem.Release()
}

// Acquire waits for a free slot (bounded by AcquireTimeout), dials, logs
// in, and validates the connection with a NOOP followed by an UNSELECT
// (dropping any mailbox left selected by the connection's prior use)
// before returning it.
func (p *IMAPPool) Acquire(ctx context.Context) (*Conn, error) {
	if err := acquireWithTimeout(p.sem); err != nil {
		return nil, err
	}
	client, err := p.dial(ctx)
	if err != nil {
		p.sem.Release()
		return nil, apperr.ImapFailed(err, "connect to %s:%d", p.cfg.Host, p.cfg.Port)
	}
	if err := client.Noop().Wait(); err != nil {
		client.Close()
		p.sem.Release()
		return nil, apperr.ImapFailed(err, "validate connection via NOOP")
	}
	if err := client.Unselect().Wait(); err != nil {
		client.Close()
		p.sem.Release()
		return nil, apperr.ImapFailed(err, "validate connection via UNSELECT")
	}
	return &Conn{Client: client, pool: p}, nil
}

func (p *IMAPPool) dial(ctx context.Context) (*imapclient.Client, error) {
	addr := addrOf(p.cfg.Host, p.cfg.Port)
	opts := &imapclient.Options{}

	var (
		client *imapclient.Client
		err    error
	)
	if p.proxyURL != "" {
		// Route through SOCKS5: dial the raw conn ourselves (TLS-wrapped
		// only for EncryptionSSL), then hand it to imapclient. No
		// STARTTLS is issued on a proxied conn, so with
		// EncryptionStartTLS the session stays unencrypted.
		conn, derr := (Dialer{ProxyURL: p.proxyURL}).Dial(ctx, addr, p.cfg.Encryption)
		if derr != nil {
			return nil, fmt.Errorf("dial IMAP via proxy %s: %w", addr, derr)
		}
		client = imapclient.New(conn, opts)
	} else {
		switch p.cfg.Encryption {
		case model.EncryptionSSL:
			client, err = imapclient.DialTLS(addr, opts)
		case model.EncryptionStartTLS:
			client, err = imapclient.DialStartTLS(addr, opts)
		default:
			client, err = imapclient.DialInsecure(addr, opts)
		}
		if err != nil {
			return nil, fmt.Errorf("dial IMAP %s: %w", addr, err)
		}
	}
	if err := client.Login(p.username, p.password).Wait(); err != nil {
		client.Close()
		return nil, fmt.Errorf("IMAP login: %w", err)
	}
	return client, nil
}
